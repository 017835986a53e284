// Package tokens estimates token counts for savings accounting. It uses the
// tiktoken cl100k encoding when available and falls back to a configurable
// characters-per-token ratio.
package tokens

import (
	"github.com/tiktoken-go/tokenizer"
)

// Estimator counts tokens in text.
type Estimator struct {
	codec         tokenizer.Codec
	charsPerToken int
}

// NewEstimator builds an estimator. charsPerToken is the fallback ratio used
// when the encoder is unavailable or fails; values <= 0 mean 4.
func NewEstimator(charsPerToken int) *Estimator {
	if charsPerToken <= 0 {
		charsPerToken = 4
	}
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		codec = nil
	}
	return &Estimator{codec: codec, charsPerToken: charsPerToken}
}

// Count returns the estimated token count of text.
func (e *Estimator) Count(text string) int {
	if text == "" {
		return 0
	}
	if e.codec != nil {
		if _, toks, err := e.codec.Encode(text); err == nil {
			return len(toks)
		}
	}
	n := len(text) / e.charsPerToken
	if n == 0 {
		n = 1
	}
	return n
}
