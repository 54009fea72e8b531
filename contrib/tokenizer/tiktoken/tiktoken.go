// Package tiktoken counts tokens with the BPE encodings used by OpenAI models.
package tiktoken

import (
	"github.com/pkoukk/tiktoken-go"

	"github.com/sweetpotato0/crag/rag/tokenizer"
)

var _ tokenizer.Tokenizer = (*Tokenizer)(nil)

type Tokenizer struct {
	enc *tiktoken.Tiktoken
}

// New resolves name as a model first, then as an encoding such as
// "cl100k_base".
func New(name string) (*Tokenizer, error) {
	enc, err := tiktoken.EncodingForModel(name)
	if err != nil {
		enc, err = tiktoken.GetEncoding(name)
		if err != nil {
			return nil, err
		}
	}
	return &Tokenizer{enc: enc}, nil
}

func (t *Tokenizer) CountTokens(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}
