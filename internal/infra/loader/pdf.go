package loader

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/samber/mo"

	"github.com/jinford/docqa/internal/core/document"
)

// PDFLoader はページ単位で Document を生成する
type PDFLoader struct {
	logger *slog.Logger
}

func NewPDFLoader(logger *slog.Logger) *PDFLoader {
	return &PDFLoader{logger: logger}
}

// Load は PDF を読み込み、テキストを持つページごとに 1 件の Document を返す
func (l *PDFLoader) Load(ctx context.Context, path string) ([]document.Document, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("pdf open: %w", err)
	}
	defer f.Close()

	source := filepath.Base(path)
	total := r.NumPage()
	docs := make([]document.Document, 0, total)

	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			// 1 ページの失敗でファイル全体を落とさない
			l.logger.Warn("failed to extract pdf page", "source", source, "page", i, "error", err)
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}

		docs = append(docs, document.Document{
			Content:    text,
			SourceName: source,
			Page:       mo.Some(i),
		})
	}

	l.logger.Debug("pdf loaded", "source", source, "pages", total, "documents", len(docs))
	return docs, nil
}
