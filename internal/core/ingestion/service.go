package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/jinford/docqa/internal/core/document"
	"github.com/jinford/docqa/internal/core/search"
)

// ErrNoDocuments は取り込み対象のテキストが 1 件もない場合のエラー
var ErrNoDocuments = errors.New("no documents to ingest")

// DocumentLoader はファイルを Document 列に変換するインターフェース
type DocumentLoader interface {
	Load(ctx context.Context, path string) ([]document.Document, error)
	Supports(name string) bool
}

// IndexResult はインデックス化処理の結果を表す
type IndexResult struct {
	ProcessedFiles int
	FailedFiles    int
	Documents      int
	Segments       int
	Duration       time.Duration
}

// IndexService はファイルを読み込み、分割、Embedding してインデックスに追加する
type IndexService struct {
	loader   DocumentLoader
	splitter *document.Splitter
	index    search.Index
	embed    *embedStage
	logger   *slog.Logger
}

type indexServiceOptions struct {
	splitter  *document.Splitter
	batchSize int
	logger    *slog.Logger
}

// IndexServiceOption は IndexService のオプション設定
type IndexServiceOption func(*indexServiceOptions)

// WithIndexLogger は IndexService にロガーを設定する
func WithIndexLogger(logger *slog.Logger) IndexServiceOption {
	return func(o *indexServiceOptions) {
		o.logger = logger
	}
}

// WithIndexSplitter は分割設定を上書きする
func WithIndexSplitter(s *document.Splitter) IndexServiceOption {
	return func(o *indexServiceOptions) {
		o.splitter = s
	}
}

// WithEmbeddingBatchSize はEmbeddingバッチサイズを上書きする
func WithEmbeddingBatchSize(n int) IndexServiceOption {
	return func(o *indexServiceOptions) {
		o.batchSize = n
	}
}

// NewIndexService は新しいIndexServiceを作成する
func NewIndexService(loader DocumentLoader, embedder Embedder, index search.Index, opts ...IndexServiceOption) *IndexService {
	options := indexServiceOptions{
		batchSize: DefaultEmbeddingBatchSize,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}
	if options.splitter == nil {
		options.splitter = document.NewSplitter(document.DefaultChunkSize, document.DefaultChunkOverlap)
	}

	return &IndexService{
		loader:   loader,
		splitter: options.splitter,
		index:    index,
		embed:    newEmbedStage(embedder, options.batchSize, options.logger),
		logger:   options.logger,
	}
}

// IndexFile は 1 ファイルをインデックスに追加する
// ファイル内のセグメントは 1 回の Add でまとめて追加する
func (s *IndexService) IndexFile(ctx context.Context, path string) (*IndexResult, error) {
	startTime := time.Now()

	s.logger.Info("loading document", "file", filepath.Base(path))

	docs, err := s.loader.Load(ctx, path)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoDocuments, filepath.Base(path))
	}
	s.logger.Info("document loaded", "file", filepath.Base(path), "documents", len(docs))

	segments := s.splitter.Split(docs)
	if len(segments) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoDocuments, filepath.Base(path))
	}
	s.logger.Info("documents split", "segments", len(segments))

	indexed, err := s.embed.embed(ctx, segments)
	if err != nil {
		return nil, err
	}

	if err := s.index.Add(ctx, indexed); err != nil {
		return nil, fmt.Errorf("failed to add segments to index: %w", err)
	}

	result := &IndexResult{
		ProcessedFiles: 1,
		Documents:      len(docs),
		Segments:       len(segments),
		Duration:       time.Since(startTime),
	}

	s.logger.Info("document indexed",
		"file", filepath.Base(path),
		"segments", result.Segments,
		"duration", result.Duration,
	)

	return result, nil
}

// IndexDirectory はディレクトリ直下の対応ファイルをすべてインデックスに追加する
// 個別ファイルの失敗はログに残して続行する
func (s *IndexService) IndexDirectory(ctx context.Context, dir string) (*IndexResult, error) {
	startTime := time.Now()

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !s.loader.Supports(e.Name()) {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)

	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no supported files in %s", ErrNoDocuments, dir)
	}

	total := &IndexResult{}
	var lastErr error
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result, err := s.IndexFile(ctx, path)
		if err != nil {
			s.logger.Warn("failed to index file", "file", filepath.Base(path), "error", err)
			total.FailedFiles++
			lastErr = err
			continue
		}
		total.ProcessedFiles += result.ProcessedFiles
		total.Documents += result.Documents
		total.Segments += result.Segments
	}
	total.Duration = time.Since(startTime)

	if total.ProcessedFiles == 0 {
		return nil, fmt.Errorf("all files failed: %w", lastErr)
	}

	s.logger.Info("directory indexed",
		"processedFiles", total.ProcessedFiles,
		"failedFiles", total.FailedFiles,
		"segments", total.Segments,
		"duration", total.Duration,
	)

	return total, nil
}
