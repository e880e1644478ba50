// Package tokenizer counts model tokens for sizing document chunks.
package tokenizer

import (
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is the BPE encoding used for chunk sizing.
const DefaultEncoding = "cl100k_base"

// Counter counts the tokens of a text.
type Counter interface {
	Count(text string) int
}

// Tiktoken counts tokens with a BPE encoding.
type Tiktoken struct {
	enc *tiktoken.Tiktoken
}

// NewTiktoken loads the named encoding.
func NewTiktoken(encoding string) (*Tiktoken, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load encoding %s: %w", encoding, err)
	}
	return &Tiktoken{enc: enc}, nil
}

// Count implements Counter.
func (t *Tiktoken) Count(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}

// Runes estimates tokens from the rune count. It needs no encoding data.
type Runes struct {
	RunesPerToken int
}

// Count implements Counter.
func (r Runes) Count(text string) int {
	per := r.RunesPerToken
	if per <= 0 {
		per = 4
	}
	n := utf8.RuneCountInString(text)
	return (n + per - 1) / per
}

// New returns a tiktoken counter, or the rune estimate when the encoding
// cannot be loaded (for example without network access on first use).
func New(encoding string, log *slog.Logger) Counter {
	t, err := NewTiktoken(encoding)
	if err != nil {
		if log != nil {
			log.Warn("falling back to rune based token estimate", slog.Any("error", err))
		}
		return Runes{}
	}
	return t
}
