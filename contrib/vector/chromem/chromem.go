// Package chromem is an embedded document index built on chromem-go. It
// backs development setups and tests; production corpora live in pgvector.
package chromem

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"slices"
	"strings"

	chromemgo "github.com/philippgille/chromem-go"

	errorskg "github.com/sweetpotato0/crag/errors"
	"github.com/sweetpotato0/crag/rag/document"
	"github.com/sweetpotato0/crag/vector"
)

const collectionName = "documents"

var (
	_ vector.Index  = (*Index)(nil)
	_ vector.Writer = (*Index)(nil)
)

// Index stores documents in a single in-process chromem collection.
type Index struct {
	collection *chromemgo.Collection
}

// New creates an empty index embedding with embedder.
func New(embedder vector.Embedder) (*Index, error) {
	db := chromemgo.NewDB()
	col, err := db.GetOrCreateCollection(collectionName, nil, embedFunc(embedder))
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	return &Index{collection: col}, nil
}

func embedFunc(e vector.Embedder) chromemgo.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		v, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		return vector.Normalize(v), nil
	}
}

// Add embeds and stores docs. Documents without an ID are keyed by their
// fingerprint.
func (ix *Index) Add(ctx context.Context, docs []document.Document) error {
	if len(docs) == 0 {
		return nil
	}
	out := make([]chromemgo.Document, len(docs))
	for i, d := range docs {
		id := d.ID
		if id == "" {
			id = d.Fingerprint()
		}
		out[i] = chromemgo.Document{
			ID:       id,
			Content:  d.Content,
			Metadata: toMap(d.Metadata),
		}
	}
	if err := ix.collection.AddDocuments(ctx, out, runtime.NumCPU()); err != nil {
		return errorskg.Wrap(errorskg.KindVectorStore, "chromem.Add", err)
	}
	return nil
}

// Count returns the number of stored documents.
func (ix *Index) Count() int { return ix.collection.Count() }

// Search returns up to q.K documents. With domains set, each domain is queried
// separately and the hits are merged by score.
func (ix *Index) Search(ctx context.Context, q vector.Query) ([]document.Document, error) {
	k := q.K
	if k <= 0 {
		k = 10
	}
	// chromem rejects nResults above the collection size.
	if count := ix.collection.Count(); count == 0 {
		return []document.Document{}, nil
	} else if k > count {
		k = count
	}

	wheres := []map[string]string{nil}
	if len(q.Domains) > 0 {
		wheres = wheres[:0]
		for _, d := range q.Domains {
			wheres = append(wheres, map[string]string{"domain": d})
		}
	}

	var groups [][]document.Document
	for _, where := range wheres {
		res, err := ix.collection.Query(ctx, q.Text, k, where, nil)
		if err != nil {
			return nil, errorskg.Wrap(errorskg.KindVectorStore, "chromem.Search", err)
		}
		group := make([]document.Document, 0, len(res))
		for _, r := range res {
			group = append(group, document.Document{
				ID:             r.ID,
				Content:        r.Content,
				Metadata:       fromMap(r.Metadata),
				EmbeddingScore: document.Score(vector.ScoreFromCosine(float64(r.Similarity))),
			})
		}
		groups = append(groups, group)
	}

	docs := document.Merge(groups...)
	slices.SortStableFunc(docs, func(a, b document.Document) int {
		switch x, y := document.Value(a.EmbeddingScore), document.Value(b.EmbeddingScore); {
		case x > y:
			return -1
		case x < y:
			return 1
		default:
			return 0
		}
	})
	if len(docs) > k {
		docs = docs[:k]
	}
	return docs, nil
}

type seedDocument struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Metadata document.Metadata `json:"metadata"`
}

// LoadFile seeds the index from a JSON array of
// {"id", "content", "metadata": {"source", "title", "section", "domain"}}.
func (ix *Index) LoadFile(ctx context.Context, path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, errorskg.Wrap(errorskg.KindConfiguration, "chromem.LoadFile", err)
	}
	var seed []seedDocument
	if err := json.Unmarshal(raw, &seed); err != nil {
		return 0, errorskg.Wrap(errorskg.KindConfiguration, "chromem.LoadFile", fmt.Errorf("decode %s: %w", path, err))
	}
	docs := make([]document.Document, 0, len(seed))
	for _, s := range seed {
		if strings.TrimSpace(s.Content) == "" {
			continue
		}
		docs = append(docs, document.Document{ID: s.ID, Content: s.Content, Metadata: s.Metadata})
	}
	return len(docs), ix.Add(ctx, docs)
}

func toMap(m document.Metadata) map[string]string {
	return map[string]string{
		"source":  m.Source,
		"title":   m.Title,
		"section": m.Section,
		"domain":  strings.ToLower(m.Domain),
		"url":     m.URL,
	}
}

func fromMap(m map[string]string) document.Metadata {
	return document.Metadata{
		Source:  m["source"],
		Title:   m["title"],
		Section: m["section"],
		Domain:  m["domain"],
		URL:     m["url"],
	}
}
