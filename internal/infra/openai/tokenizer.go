package openai

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding は text-embedding-3 系モデルのトークナイザ
const DefaultEncoding = "cl100k_base"

// TokenCounter はトークン数の計算と切り詰めを行うインターフェース
type TokenCounter interface {
	Count(text string) int
	Truncate(text string, maxTokens int) string
}

// TiktokenCounter は tiktoken を利用した TokenCounter 実装
type TiktokenCounter struct {
	encoding *tiktoken.Tiktoken
}

// NewTiktokenCounter は指定エンコーディングの TiktokenCounter を作成する
func NewTiktokenCounter(encoding string) (*TiktokenCounter, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to load tiktoken encoding: %w", err)
	}
	return &TiktokenCounter{encoding: enc}, nil
}

func (c *TiktokenCounter) Count(text string) int {
	return len(c.encoding.Encode(text, nil, nil))
}

func (c *TiktokenCounter) Truncate(text string, maxTokens int) string {
	tokens := c.encoding.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text
	}
	return c.encoding.Decode(tokens[:maxTokens])
}
