package document

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
)

// Metadata describes where a passage came from.
type Metadata struct {
	Source  string `json:"source"`
	Title   string `json:"title,omitempty"`
	Section string `json:"section,omitempty"`
	Domain  string `json:"domain,omitempty"`
	URL     string `json:"url,omitempty"`
}

// Document is a retrieved passage, either from the internal index or the web.
// Scores are nil until the corresponding stage has run.
type Document struct {
	ID             string   `json:"id,omitempty"`
	Content        string   `json:"content"`
	Metadata       Metadata `json:"metadata"`
	EmbeddingScore *float64 `json:"embedding_score,omitempty"`
	RelevanceScore *float64 `json:"relevance_score,omitempty"`
	// CombinedScore blends RelevanceScore with EmbeddingScore for ranking.
	CombinedScore *float64 `json:"combined_score,omitempty"`
}

// Score returns a pointer to a copy of v, for the optional score fields.
func Score(v float64) *float64 { return &v }

// Value dereferences an optional score, treating nil as 0.
func Value(s *float64) float64 {
	if s == nil {
		return 0
	}
	return *s
}

// Clone returns a deep copy of the document.
func (d Document) Clone() Document {
	out := d
	if d.EmbeddingScore != nil {
		out.EmbeddingScore = Score(*d.EmbeddingScore)
	}
	if d.RelevanceScore != nil {
		out.RelevanceScore = Score(*d.RelevanceScore)
	}
	if d.CombinedScore != nil {
		out.CombinedScore = Score(*d.CombinedScore)
	}
	return out
}

// CloneAll copies a slice of documents.
func CloneAll(docs []Document) []Document {
	if docs == nil {
		return nil
	}
	out := make([]Document, len(docs))
	for i, d := range docs {
		out[i] = d.Clone()
	}
	return out
}

// Fingerprint identifies a passage by source and normalised content.
func (d Document) Fingerprint() string {
	h := sha1.New()
	h.Write([]byte(d.Metadata.Source))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(strings.Fields(d.Content), " ")))
	return hex.EncodeToString(h.Sum(nil))
}

// Label renders "source - title" for prompts and citations.
func (d Document) Label() string {
	src := d.Metadata.Source
	if src == "" {
		src = d.Metadata.URL
	}
	if d.Metadata.Title == "" {
		return src
	}
	return src + " - " + d.Metadata.Title
}

// Sources returns the distinct non-empty sources of docs in order.
func Sources(docs ...[]Document) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, group := range docs {
		for _, d := range group {
			src := d.Metadata.Source
			if src == "" {
				src = d.Metadata.URL
			}
			if src == "" {
				continue
			}
			if _, ok := seen[src]; ok {
				continue
			}
			seen[src] = struct{}{}
			out = append(out, src)
		}
	}
	return out
}

// Merge concatenates groups, keeping the first occurrence of each fingerprint
// and the higher embedding score when duplicates collide.
func Merge(groups ...[]Document) []Document {
	index := make(map[string]int)
	var out []Document
	for _, group := range groups {
		for _, d := range group {
			fp := d.Fingerprint()
			if i, ok := index[fp]; ok {
				if Value(d.EmbeddingScore) > Value(out[i].EmbeddingScore) {
					out[i].EmbeddingScore = Score(Value(d.EmbeddingScore))
				}
				continue
			}
			index[fp] = len(out)
			out = append(out, d.Clone())
		}
	}
	return out
}

// Truncate cuts s to at most limit runes.
func Truncate(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
