package ai

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"propulse/internal/domain/ports/adapter"
)

var _ adapter.TokenCounter = (*TiktokenCounter)(nil)

const fallbackEncoding = "cl100k_base"

// TiktokenCounter counts prompt tokens with the model's BPE encoding. Non-OpenAI
// models use cl100k_base, which is close enough for a budget check. When no
// encoding can be loaded it estimates four bytes per token.
type TiktokenCounter struct {
	load func(model string) (*tiktoken.Tiktoken, error)

	mu   sync.Mutex
	encs map[string]*tiktoken.Tiktoken
	bad  map[string]bool
}

func NewTiktokenCounter() *TiktokenCounter {
	return &TiktokenCounter{load: loadEncoding, encs: map[string]*tiktoken.Tiktoken{}, bad: map[string]bool{}}
}

func loadEncoding(model string) (*tiktoken.Tiktoken, error) {
	if enc, err := tiktoken.EncodingForModel(model); err == nil {
		return enc, nil
	}
	return tiktoken.GetEncoding(fallbackEncoding)
}

func (c *TiktokenCounter) Count(model, text string) int {
	if text == "" {
		return 0
	}
	if enc := c.encoding(model); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return estimate(text)
}

func (c *TiktokenCounter) encoding(model string) *tiktoken.Tiktoken {
	c.mu.Lock()
	defer c.mu.Unlock()
	if enc, ok := c.encs[model]; ok {
		return enc
	}
	if c.bad[model] {
		return nil
	}
	enc, err := c.load(model)
	if err != nil || enc == nil {
		c.bad[model] = true
		return nil
	}
	c.encs[model] = enc
	return enc
}

func estimate(text string) int {
	n := (len(text) + 3) / 4
	if r := utf8.RuneCountInString(text); n < r/4 {
		n = r / 4
	}
	if n == 0 {
		n = 1
	}
	return n
}
