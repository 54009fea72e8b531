// Package tokenizer measures prompt text against token budgets.
package tokenizer

import (
	"strings"
	"unicode"
)

// Tokenizer counts the tokens a model would see for text.
type Tokenizer interface {
	CountTokens(text string) int
}

var _ Tokenizer = SimpleTokenizer{}

// SimpleTokenizer approximates model tokens without a vocabulary:
// letter and digit runs are one token, Han characters and punctuation are
// one token each.
type SimpleTokenizer struct{}

// NewSimpleTokenizer returns the approximate tokenizer.
func NewSimpleTokenizer() Tokenizer { return SimpleTokenizer{} }

// CountTokens implements Tokenizer.
func (SimpleTokenizer) CountTokens(text string) int {
	n := 0
	inWord := false
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			inWord = false
		case unicode.Is(unicode.Han, r):
			n++
			inWord = false
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if !inWord {
				n++
				inWord = true
			}
		default:
			n++
			inWord = false
		}
	}
	return n
}

// Fit returns the longest prefix of text whose token count is within budget.
// A prefix cut mid-text is trimmed to the last whitespace when one exists.
func Fit(t Tokenizer, text string, budget int) string {
	if budget <= 0 {
		return ""
	}
	if t.CountTokens(text) <= budget {
		return text
	}
	runes := []rune(text)
	lo, hi := 0, len(runes)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if t.CountTokens(string(runes[:mid])) <= budget {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	out := string(runes[:lo])
	if i := strings.LastIndexFunc(out, unicode.IsSpace); i > 0 {
		out = out[:i]
	}
	return strings.TrimSpace(out)
}

// Budget hands out a fixed number of tokens across several pieces of text.
type Budget struct {
	tok  Tokenizer
	left int
}

// NewBudget creates a budget of limit tokens.
func NewBudget(t Tokenizer, limit int) *Budget {
	if t == nil {
		t = SimpleTokenizer{}
	}
	return &Budget{tok: t, left: limit}
}

// Take consumes text from the budget, truncating it to what remains. ok is
// false once nothing of text fits.
func (b *Budget) Take(text string) (string, bool) {
	fitted := Fit(b.tok, text, b.left)
	if fitted == "" {
		return "", false
	}
	b.left -= b.tok.CountTokens(fitted)
	return fitted, true
}

// Remaining reports the unspent tokens.
func (b *Budget) Remaining() int { return b.left }
