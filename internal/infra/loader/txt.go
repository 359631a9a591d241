package loader

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/go-enry/go-enry/v2"

	"github.com/jinford/docqa/internal/core/document"
)

var (
	// ErrBinaryContent はテキストとして扱えない内容の場合のエラー
	ErrBinaryContent = fmt.Errorf("%w: content looks binary", document.ErrUnreadableDocument)
	// ErrInvalidEncoding は UTF-8 として解釈できない場合のエラー
	ErrInvalidEncoding = fmt.Errorf("%w: content is not valid UTF-8", document.ErrUnreadableDocument)
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// TextLoader はファイル全体を 1 件の Document として読み込む
type TextLoader struct{}

func NewTextLoader() *TextLoader {
	return &TextLoader{}
}

func (l *TextLoader) Load(_ context.Context, path string) ([]document.Document, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	content = bytes.TrimPrefix(content, utf8BOM)
	if enry.IsBinary(content) {
		return nil, ErrBinaryContent
	}
	if !utf8.Valid(content) {
		return nil, ErrInvalidEncoding
	}

	text := string(content)
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	return []document.Document{{
		Content:    text,
		SourceName: filepath.Base(path),
	}}, nil
}
