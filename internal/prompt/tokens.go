package prompt

import (
	"log/slog"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

const defaultEncoding = "cl100k_base"

// TokenCounter estimates how many model tokens a string occupies.
type TokenCounter interface {
	Count(text string) int
}

// TiktokenCounter counts with a tiktoken BPE encoding, loaded on first use.
// If the encoding can't be loaded (it's fetched on first use and may be
// unavailable offline) it falls back to EstimateCounter.
type TiktokenCounter struct {
	encoding string
	logger   *slog.Logger

	once sync.Once
	enc  *tiktoken.Tiktoken
}

func NewTiktokenCounter(encoding string, logger *slog.Logger) *TiktokenCounter {
	if encoding == "" {
		encoding = defaultEncoding
	}
	return &TiktokenCounter{encoding: encoding, logger: logger}
}

func (c *TiktokenCounter) Count(text string) int {
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding(c.encoding)
		if err != nil {
			c.logger.Warn("tokenizer unavailable, estimating token counts", "encoding", c.encoding, "err", err)
			return
		}
		c.enc = enc
	})
	if c.enc == nil {
		return EstimateCounter{}.Count(text)
	}
	return len(c.enc.Encode(text, nil, nil))
}

// EstimateCounter assumes roughly four characters per token.
type EstimateCounter struct{}

func (EstimateCounter) Count(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}
