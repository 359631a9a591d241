package openai

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/openai/openai-go/v3"
	"golang.org/x/time/rate"

	"github.com/jinford/docqa/internal/core/ingestion"
	"github.com/jinford/docqa/internal/core/search"
)

const (
	// DefaultEmbeddingModel はモデル未指定時のデフォルトモデル
	DefaultEmbeddingModel = "text-embedding-3-small"
	// DefaultEmbeddingDimension はOpenAI推奨のデフォルト次元
	DefaultEmbeddingDimension = 1536
	// MaxInputsPerRequest は 1 リクエストあたりの最大入力数
	MaxInputsPerRequest = 100
	// MaxTokensPerRequest は 1 リクエストあたりの合計トークン上限
	MaxTokensPerRequest = 250_000
	// MaxTokensPerInput は 1 入力あたりのトークン上限（超過分は切り詰める）
	MaxTokensPerInput = 8191
)

// Embedder は OpenAI API を使用してテキストをベクトルに変換する
type Embedder struct {
	client    openai.Client
	model     string
	dimension int
	counter   TokenCounter
	limiter   *rate.Limiter
	retry     retryPolicy
	logger    *slog.Logger

	// create は 1 リクエスト分の Embedding を生成する
	create func(ctx context.Context, inputs []string) ([][]float32, error)
}

type embedderOptions struct {
	model             string
	dimension         int
	baseURL           string
	requestsPerSecond float64
	counter           TokenCounter
	logger            *slog.Logger
}

// EmbedderOption は Embedder のオプション設定
type EmbedderOption func(*embedderOptions)

// WithEmbeddingModel はモデル名を上書きする
func WithEmbeddingModel(model string) EmbedderOption {
	return func(o *embedderOptions) {
		o.model = model
	}
}

// WithEmbeddingDimension はベクトル次元を上書きする
func WithEmbeddingDimension(dimension int) EmbedderOption {
	return func(o *embedderOptions) {
		o.dimension = dimension
	}
}

// WithEmbeddingBaseURL は OpenAI 互換エンドポイントの URL を設定する
func WithEmbeddingBaseURL(url string) EmbedderOption {
	return func(o *embedderOptions) {
		o.baseURL = url
	}
}

// WithRequestsPerSecond はリクエスト頻度の上限を設定する（0 以下で無制限）
func WithRequestsPerSecond(rps float64) EmbedderOption {
	return func(o *embedderOptions) {
		o.requestsPerSecond = rps
	}
}

// WithTokenCounter はバッチ分割と切り詰めに使う TokenCounter を設定する
func WithTokenCounter(counter TokenCounter) EmbedderOption {
	return func(o *embedderOptions) {
		o.counter = counter
	}
}

// WithEmbedderLogger は Embedder にロガーを設定する
func WithEmbedderLogger(logger *slog.Logger) EmbedderOption {
	return func(o *embedderOptions) {
		o.logger = logger
	}
}

// NewEmbedder は新しい Embedder を作成する
func NewEmbedder(apiKey string, opts ...EmbedderOption) *Embedder {
	options := embedderOptions{
		model:     DefaultEmbeddingModel,
		dimension: DefaultEmbeddingDimension,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}

	limit := rate.Inf
	if options.requestsPerSecond > 0 {
		limit = rate.Limit(options.requestsPerSecond)
	}

	e := &Embedder{
		client:    openai.NewClient(requestOptions(apiKey, options.baseURL)...),
		model:     options.model,
		dimension: options.dimension,
		counter:   options.counter,
		limiter:   rate.NewLimiter(limit, 1),
		retry:     defaultRetryPolicy(),
		logger:    options.logger,
	}
	e.create = e.createEmbeddings
	return e
}

// Embed は単一テキストの Embedding を生成する
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := e.BatchEmbed(ctx, []string{text})
	if err != nil {
		return nil, err
	}

	if len(embeddings) == 0 {
		return nil, fmt.Errorf("no embeddings generated")
	}

	return embeddings[0], nil
}

// BatchEmbed は入力順に Embedding を生成する
// 入力数とトークン数の上限に合わせて複数リクエストに分割する
func (e *Embedder) BatchEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("no texts provided")
	}

	inputs := make([]string, len(texts))
	for i, text := range texts {
		inputs[i] = e.truncate(text)
	}

	embeddings := make([][]float32, 0, len(inputs))
	for _, batch := range e.splitBatches(inputs) {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		vectors, err := do(ctx, e.retry, e.logger, func(ctx context.Context) ([][]float32, error) {
			return e.create(ctx, batch)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to generate embeddings: %w", err)
		}
		if len(vectors) != len(batch) {
			return nil, fmt.Errorf("embedding count mismatch: expected %d, got %d", len(batch), len(vectors))
		}
		embeddings = append(embeddings, vectors...)
	}

	return embeddings, nil
}

// splitBatches は入力数とトークン数の上限を超えないようにバッチを分割する
func (e *Embedder) splitBatches(inputs []string) [][]string {
	var batches [][]string
	var current []string
	tokens := 0

	for _, input := range inputs {
		n := e.countTokens(input)
		if len(current) > 0 && (len(current) >= MaxInputsPerRequest || tokens+n > MaxTokensPerRequest) {
			batches = append(batches, current)
			current = nil
			tokens = 0
		}
		current = append(current, input)
		tokens += n
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}

func (e *Embedder) truncate(text string) string {
	if e.counter == nil {
		return text
	}
	return e.counter.Truncate(text, MaxTokensPerInput)
}

func (e *Embedder) countTokens(text string) int {
	if e.counter == nil {
		return 0
	}
	return e.counter.Count(text)
}

func (e *Embedder) createEmbeddings(ctx context.Context, inputs []string) ([][]float32, error) {
	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(e.model),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: inputs,
		},
	}

	if e.dimension > 0 {
		params.Dimensions = openai.Int(int64(e.dimension))
	}

	resp, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, err
	}

	embeddings := make([][]float32, len(inputs))
	for _, data := range resp.Data {
		if data.Index < 0 || int(data.Index) >= len(inputs) {
			return nil, fmt.Errorf("unexpected embedding index %d", data.Index)
		}
		vector := make([]float32, len(data.Embedding))
		for i, v := range data.Embedding {
			vector[i] = float32(v)
		}
		embeddings[data.Index] = vector
	}
	for i, v := range embeddings {
		if v == nil {
			return nil, fmt.Errorf("missing embedding for input %d", i)
		}
	}

	return embeddings, nil
}

// ModelName はモデル名を返す
func (e *Embedder) ModelName() string {
	return e.model
}

// Dimension はベクトル次元数を返す
func (e *Embedder) Dimension() int {
	return e.dimension
}

// MaxBatchSize はバッチ処理の最大サイズを返す（OpenAI APIは最大100件）
func (e *Embedder) MaxBatchSize() int {
	return MaxInputsPerRequest
}

// インターフェース実装の確認
var (
	_ ingestion.Embedder = (*Embedder)(nil)
	_ search.Embedder    = (*Embedder)(nil)
)
