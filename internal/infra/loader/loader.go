// Package loader はファイル形式ごとの document.Loader 実装を提供する
package loader

import (
	"log/slog"

	"github.com/jinford/docqa/internal/core/document"
)

// NewDefaultRegistry は PDF / TXT / DOCX を登録済みの Registry を返す
func NewDefaultRegistry(logger *slog.Logger) *document.Registry {
	if logger == nil {
		logger = slog.Default()
	}

	r := document.NewRegistry()
	r.Register(".pdf", NewPDFLoader(logger))
	r.Register(".txt", NewTextLoader())
	r.Register(".docx", NewDOCXLoader())
	return r
}
