package document

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

var (
	// ErrUnsupportedFileType は対応していない拡張子の場合のエラー
	ErrUnsupportedFileType = errors.New("unsupported file type")
	// ErrUnreadableDocument は内容が壊れている、または形式に合わない場合のエラー。
	// 同じファイルを再度読み込んでも結果は変わらない。
	ErrUnreadableDocument = errors.New("unreadable document")
)

// Loader はファイルを Document 列に変換するインターフェース
type Loader interface {
	Load(ctx context.Context, path string) ([]Document, error)
}

// Registry は拡張子ごとに Loader を振り分ける
type Registry struct {
	loaders map[string]Loader
}

// NewRegistry は空の Registry を作成する
func NewRegistry() *Registry {
	return &Registry{loaders: make(map[string]Loader)}
}

// Register は拡張子（".pdf" 形式、大文字小文字は区別しない）に Loader を登録する
func (r *Registry) Register(ext string, loader Loader) {
	r.loaders[normalizeExt(ext)] = loader
}

// Supports はファイル名が登録済みの拡張子かどうかを返す
func (r *Registry) Supports(name string) bool {
	_, ok := r.loaders[normalizeExt(filepath.Ext(name))]
	return ok
}

// Extensions は登録済みの拡張子をソートして返す
func (r *Registry) Extensions() []string {
	exts := make([]string, 0, len(r.loaders))
	for ext := range r.loaders {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Load は拡張子に対応する Loader でファイルを読み込む
func (r *Registry) Load(ctx context.Context, path string) ([]Document, error) {
	ext := normalizeExt(filepath.Ext(path))
	loader, ok := r.loaders[ext]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFileType, filepath.Base(path))
	}

	docs, err := loader.Load(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", filepath.Base(path), err)
	}
	return docs, nil
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
