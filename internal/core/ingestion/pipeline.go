package ingestion

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jinford/docqa/internal/core/document"
	"github.com/jinford/docqa/internal/core/search"
)

const (
	// DefaultEmbeddingBatchSize はEmbedding APIのデフォルトバッチサイズ
	DefaultEmbeddingBatchSize = 100
	// MinBatchSize は最小バッチサイズ（MaxBatchSize()が0を返した場合のフォールバック）
	MinBatchSize = 1
)

// Embedder はバッチでEmbeddingを生成するインターフェース
type Embedder interface {
	BatchEmbed(ctx context.Context, texts []string) ([][]float32, error)
	MaxBatchSize() int
}

// embedStage はセグメントをバッチ単位でEmbeddingする
type embedStage struct {
	embedder  Embedder
	batchSize int
	logger    *slog.Logger
}

// newEmbedStage はバッチサイズをEmbedderの最大値でクリップして embedStage を作成する
func newEmbedStage(embedder Embedder, batchSize int, logger *slog.Logger) *embedStage {
	maxBatchSize := embedder.MaxBatchSize()

	// MaxBatchSize が0以下の場合はフォールバック
	if maxBatchSize <= 0 {
		logger.Warn("embedder returned invalid max batch size, using fallback",
			"returned", maxBatchSize,
			"fallback", MinBatchSize,
		)
		maxBatchSize = MinBatchSize
	}

	if batchSize > maxBatchSize {
		logger.Debug("clipping embedding batch size",
			"configured", batchSize,
			"max", maxBatchSize,
		)
		batchSize = maxBatchSize
	}
	if batchSize <= 0 {
		batchSize = MinBatchSize
	}

	return &embedStage{
		embedder:  embedder,
		batchSize: batchSize,
		logger:    logger,
	}
}

// embed はセグメント順にベクトルを付与して返す
func (s *embedStage) embed(ctx context.Context, segments []document.Segment) ([]search.IndexedSegment, error) {
	indexed := make([]search.IndexedSegment, 0, len(segments))

	for start := 0; start < len(segments); start += s.batchSize {
		end := min(start+s.batchSize, len(segments))
		batch := segments[start:end]

		texts := make([]string, len(batch))
		for i, seg := range batch {
			texts[i] = seg.Text
		}

		vectors, err := s.embedder.BatchEmbed(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("failed to embed batch %d-%d: %w", start, end, err)
		}
		if len(vectors) != len(batch) {
			return nil, fmt.Errorf("embedding count mismatch: expected %d, got %d", len(batch), len(vectors))
		}

		for i, seg := range batch {
			indexed = append(indexed, search.IndexedSegment{Segment: seg, Vector: vectors[i]})
		}

		s.logger.Debug("embedded batch", "from", start, "to", end, "total", len(segments))
	}

	return indexed, nil
}
