package ask

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jinford/docqa/internal/core/search"
)

// ErrEmptyQuery は質問文が空の場合のエラー
var ErrEmptyQuery = errors.New("query is required")

// LLMClient はLLM通信インターフェース
type LLMClient interface {
	GenerateCompletion(ctx context.Context, prompt string) (string, error)
}

// Retriever は質問に関連するセグメントを取得するインターフェース
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]*search.SearchResult, error)
}

// Pipeline は検索と回答生成をまとめた不変のスナップショット
// 公開後にフィールドを書き換えてはならない
type Pipeline struct {
	retriever Retriever
	llm       LLMClient
	logger    *slog.Logger
	version   uint64
	segments  int
}

type PipelineOption func(*Pipeline)

// WithPipelineLogger は Pipeline にロガーを設定する
func WithPipelineLogger(logger *slog.Logger) PipelineOption {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithSegmentCount は構築時点のインデックス件数を記録する
func WithSegmentCount(n int) PipelineOption {
	return func(p *Pipeline) {
		p.segments = n
	}
}

// NewPipeline は新しいPipelineを作成する
func NewPipeline(retriever Retriever, llm LLMClient, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		retriever: retriever,
		llm:       llm,
		logger:    slog.Default(),
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.logger == nil {
		p.logger = slog.Default()
	}

	return p
}

// Version は Holder に公開された際の世代番号を返す（未公開なら 0）
func (p *Pipeline) Version() uint64 {
	return p.version
}

// SegmentCount は構築時点のインデックス件数を返す
func (p *Pipeline) SegmentCount() int {
	return p.segments
}

// Answer は質問に対してRAGベースで回答を生成する
func (p *Pipeline) Answer(ctx context.Context, query string) (*AskResult, error) {
	// 1. バリデーション
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}

	// 2. 関連セグメントの検索
	results, err := p.retriever.Retrieve(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("retrieval failed: %w", err)
	}

	p.logger.Info("retrieval completed",
		"pipelineVersion", p.version,
		"segments", len(results),
	)

	// 3. プロンプト構築
	prompt := BuildAskPrompt(query, results)

	// 4. LLMで回答生成
	answer, err := p.llm.GenerateCompletion(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("failed to generate answer: %w", err)
	}

	// 5. SourceReferenceを検索順位順に整形
	sources := make([]SourceReference, 0, len(results))
	for _, r := range results {
		sources = append(sources, SourceReference{
			Text:       r.Segment.Text,
			SourceName: r.Segment.SourceName,
			Page:       r.Segment.Page,
			Score:      r.Score,
		})
	}

	p.logger.Info("ask completed successfully",
		"answerLength", len(answer),
		"sources", len(sources),
	)

	return &AskResult{
		Answer:  answer,
		Sources: sources,
	}, nil
}
