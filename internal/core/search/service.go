package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// DefaultTopK は 1 回の検索で取得するセグメント数
const DefaultTopK = 10

// Embedder はテキストのEmbedding生成インターフェース
type Embedder interface {
	// Embed は単一テキストのEmbeddingを生成する
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Retriever はクエリを埋め込み、インデックスから関連セグメントを取得する
type Retriever struct {
	index    Index
	embedder Embedder
	topK     int
	logger   *slog.Logger
}

type RetrieverOption func(*Retriever)

// WithRetrieverLogger は Retriever にロガーを設定する
func WithRetrieverLogger(logger *slog.Logger) RetrieverOption {
	return func(r *Retriever) {
		r.logger = logger
	}
}

// NewRetriever は新しいRetrieverを作成する
func NewRetriever(index Index, embedder Embedder, opts ...RetrieverOption) *Retriever {
	r := &Retriever{
		index:    index,
		embedder: embedder,
		topK:     DefaultTopK,
		logger:   slog.Default(),
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.logger == nil {
		r.logger = slog.Default()
	}

	return r
}

// Retrieve はクエリに基づいてベクトル検索を実行する
func (r *Retriever) Retrieve(ctx context.Context, query string) ([]*SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query is required")
	}

	// クエリをEmbeddingに変換
	queryVector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	results, err := r.index.Search(ctx, queryVector, r.topK)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	r.logger.Debug("retrieval completed", "results", len(results))
	return results, nil
}
