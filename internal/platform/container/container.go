package container

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/jinford/docqa/internal/core/ask"
	"github.com/jinford/docqa/internal/core/document"
	"github.com/jinford/docqa/internal/core/ingestion"
	"github.com/jinford/docqa/internal/core/search"
	"github.com/jinford/docqa/internal/infra/loader"
	"github.com/jinford/docqa/internal/infra/openai"
	"github.com/jinford/docqa/internal/infra/postgres"
	"github.com/jinford/docqa/internal/infra/sqlite"
	"github.com/jinford/docqa/internal/platform/config"
	"github.com/jinford/docqa/internal/platform/database"
)

// Embedder は取り込みと検索の両方で使う Embedding プロバイダ
type Embedder interface {
	ingestion.Embedder
	search.Embedder
}

// ServiceContainer は設定から組み立てた依存関係を保持する。
// インデックスと Embedder は生成時に用意し、LLM やタスク関連は必要なコマンドだけが組み立てる。
type ServiceContainer struct {
	Config   *config.Config
	Index    search.Index
	Embedder Embedder

	llmClient  ask.LLMClient
	taskStore  ingestion.TaskStore
	executable string
	envFile    string

	injectedIndex bool

	logger   *slog.Logger
	database *database.Database
	closers  []func() error
}

type containerOptions struct {
	logger     *slog.Logger
	index      search.Index
	embedder   Embedder
	llmClient  ask.LLMClient
	taskStore  ingestion.TaskStore
	executable string
	envFile    string
}

// ContainerOption は ServiceContainer 構築時のオプション
type ContainerOption func(*containerOptions)

// WithContainerLogger はロガーを差し替える
func WithContainerLogger(logger *slog.Logger) ContainerOption {
	return func(opts *containerOptions) {
		opts.logger = logger
	}
}

// WithContainerIndex はベクトルインデックスを差し替える
func WithContainerIndex(index search.Index) ContainerOption {
	return func(opts *containerOptions) {
		opts.index = index
	}
}

// WithContainerEmbedder はカスタム Embedder を注入する
func WithContainerEmbedder(embedder Embedder) ContainerOption {
	return func(opts *containerOptions) {
		opts.embedder = embedder
	}
}

// WithContainerLLMClient は LLM クライアントを差し替える
func WithContainerLLMClient(client ask.LLMClient) ContainerOption {
	return func(opts *containerOptions) {
		opts.llmClient = client
	}
}

// WithContainerTaskStore はタスクストアを差し替える
func WithContainerTaskStore(store ingestion.TaskStore) ContainerOption {
	return func(opts *containerOptions) {
		opts.taskStore = store
	}
}

// WithExecutable は取り込みサブプロセスとして起動する実行ファイルを設定する
func WithExecutable(path string) ContainerOption {
	return func(opts *containerOptions) {
		opts.executable = path
	}
}

// WithEnvFile はサブプロセスに引き継ぐ .env ファイルを設定する
func WithEnvFile(path string) ContainerOption {
	return func(opts *containerOptions) {
		opts.envFile = path
	}
}

// NewContainer は設定からコンテナを生成する。
// VECTOR_STORE に応じて SQLite または pgvector のインデックスを開く。
func NewContainer(ctx context.Context, cfg *config.Config, opts ...ContainerOption) (*ServiceContainer, error) {
	options := containerOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}

	c := &ServiceContainer{
		Config:     cfg,
		llmClient:  options.llmClient,
		taskStore:  options.taskStore,
		executable: options.executable,
		envFile:    options.envFile,
		logger:     options.logger,
	}

	// Embedder (OpenAI)
	c.Embedder = options.embedder
	if c.Embedder == nil {
		if err := cfg.RequireOpenAI(); err != nil {
			return nil, err
		}
		c.Embedder = newEmbedder(cfg, options.logger)
	}

	// Vector Index
	c.Index = options.index
	c.injectedIndex = options.index != nil
	if c.Index == nil {
		index, err := c.openIndex(ctx)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.Index = index
		c.closers = append(c.closers, index.Close)
	}

	return c, nil
}

func (c *ServiceContainer) openIndex(ctx context.Context) (search.Index, error) {
	switch c.Config.VectorStore {
	case config.VectorStorePGVector:
		db, err := database.New(ctx, connectionParams(c.Config))
		if err != nil {
			return nil, fmt.Errorf("データベース初期化に失敗しました: %w", err)
		}
		c.database = db
		index, err := postgres.NewIndex(ctx, db, postgres.WithIndexLogger(c.logger))
		if err != nil {
			return nil, fmt.Errorf("pgvector インデックス初期化に失敗しました: %w", err)
		}
		return index, nil
	default:
		dir := c.Config.VectorIndexPath
		existed := sqlite.Exists(dir)
		index, err := sqlite.OpenIndex(ctx, dir, sqlite.WithIndexLogger(c.logger))
		if err != nil {
			return nil, fmt.Errorf("ベクトルインデックスのオープンに失敗しました: %w", err)
		}
		if existed {
			c.logger.Info("opened existing vector index", "path", index.Path())
		} else {
			c.logger.Info("created new vector index", "path", index.Path())
		}
		return index, nil
	}
}

func newEmbedder(cfg *config.Config, logger *slog.Logger) *openai.Embedder {
	opts := []openai.EmbedderOption{
		openai.WithEmbeddingModel(cfg.OpenAI.EmbeddingModel),
		openai.WithEmbeddingDimension(cfg.OpenAI.EmbeddingDimension),
		openai.WithEmbeddingBaseURL(cfg.OpenAI.BaseURL),
		openai.WithRequestsPerSecond(cfg.OpenAI.EmbeddingRequestsPerSec),
		openai.WithEmbedderLogger(logger),
	}

	// tiktoken のエンコーディングが取得できない環境では件数のみでバッチを区切る
	counter, err := openai.NewTiktokenCounter("")
	if err != nil {
		logger.Warn("token counter unavailable, batching by input count only", "error", err)
	} else {
		opts = append(opts, openai.WithTokenCounter(counter))
	}
	return openai.NewEmbedder(cfg.OpenAI.APIKey, opts...)
}

func connectionParams(cfg *config.Config) database.ConnectionParams {
	return database.ConnectionParams{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	}
}

// IndexService はファイル取り込み用の IndexService を返す
func (c *ServiceContainer) IndexService() *ingestion.IndexService {
	return ingestion.NewIndexService(
		loader.NewDefaultRegistry(c.logger),
		c.Embedder,
		c.Index,
		ingestion.WithIndexSplitter(document.NewSplitter(c.Config.Ingest.ChunkSize, c.Config.Ingest.ChunkOverlap)),
		ingestion.WithEmbeddingBatchSize(c.Embedder.MaxBatchSize()),
		ingestion.WithIndexLogger(c.logger),
	)
}

// LLMClient は回答生成用の LLM クライアントを返す
func (c *ServiceContainer) LLMClient() (ask.LLMClient, error) {
	if c.llmClient != nil {
		return c.llmClient, nil
	}
	if err := c.Config.RequireOpenAI(); err != nil {
		return nil, err
	}

	client, err := openai.NewClient(
		c.Config.OpenAI.APIKey,
		openai.WithModel(c.Config.OpenAI.LLMModel),
		openai.WithTemperature(c.Config.OpenAI.LLMTemperature),
		openai.WithTimeout(c.Config.OpenAI.Timeout),
		openai.WithBaseURL(c.Config.OpenAI.BaseURL),
		openai.WithClientLogger(c.logger),
	)
	if err != nil {
		return nil, fmt.Errorf("OpenAI LLMクライアント初期化に失敗しました: %w", err)
	}
	c.llmClient = client
	return client, nil
}

// QueryPipeline は回答パイプラインの Holder と Reloader を組み立てる。
// 初回ロードは呼び出し側が Reloader.Reload で行う。
func (c *ServiceContainer) QueryPipeline() (*ask.Holder, *ask.Reloader, error) {
	llm, err := c.LLMClient()
	if err != nil {
		return nil, nil, err
	}
	opts := []ask.ReloaderOption{ask.WithReloaderLogger(c.logger)}
	if opener := c.indexOpener(); opener != nil {
		opts = append(opts, ask.WithIndexOpener(opener))
	}

	holder := ask.NewHolder()
	reloader := ask.NewReloader(holder, c.Index, c.Embedder, llm, opts...)
	c.closers = append(c.closers, reloader.Close)
	return holder, reloader, nil
}

// indexOpener は Reload ごとに SQLite インデックスを開き直す関数を返す。
// clean でファイルが削除され、取り込みプロセスが作り直した場合も新しいファイルを読む。
// pgvector はコネクションプールを共有するため開き直さない。
func (c *ServiceContainer) indexOpener() ask.IndexOpener {
	if c.injectedIndex || c.Config.VectorStore == config.VectorStorePGVector {
		return nil
	}
	dir := c.Config.VectorIndexPath
	return func(ctx context.Context) (search.Index, error) {
		index, err := sqlite.OpenIndex(ctx, dir, sqlite.WithIndexLogger(c.logger))
		if err != nil {
			return nil, fmt.Errorf("ベクトルインデックスのオープンに失敗しました: %w", err)
		}
		return index, nil
	}
}

// TaskStore は設定に応じたタスクストアを返す。
// TASK_STORE_PATH が設定されていれば SQLite に永続化し、前回の中断タスクを failed にする。
func (c *ServiceContainer) TaskStore(ctx context.Context) (ingestion.TaskStore, error) {
	if c.taskStore != nil {
		return c.taskStore, nil
	}

	path := c.Config.Ingest.TaskStorePath
	if path == "" {
		c.taskStore = ingestion.NewMemoryStore(c.Config.Ingest.TaskStoreCapacity)
		return c.taskStore, nil
	}

	store, recovered, err := sqlite.OpenTaskStore(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("タスクストアのオープンに失敗しました: %w", err)
	}
	if recovered > 0 {
		c.logger.Warn("marked interrupted ingestion tasks as failed", "count", recovered)
	}
	c.closers = append(c.closers, store.Close)
	c.taskStore = store
	return store, nil
}

// Orchestrator は取り込みオーケストレータを組み立てる。
// ジョブは同じ実行ファイルを `ingest` サブコマンドで起動して処理する。
func (c *ServiceContainer) Orchestrator(ctx context.Context, reloader ingestion.Reloader) (*ingestion.Orchestrator, error) {
	store, err := c.TaskStore(ctx)
	if err != nil {
		return nil, err
	}

	exe := c.executable
	if exe == "" {
		exe, err = os.Executable()
		if err != nil {
			return nil, fmt.Errorf("実行ファイルのパス取得に失敗しました: %w", err)
		}
	}

	if err := os.MkdirAll(c.Config.DocumentsPath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create documents directory: %w", err)
	}

	queue := ingestion.NewQueue(
		c.Config.Ingest.QueueSize,
		c.Config.Ingest.Workers,
		ingestion.WithQueueLogger(c.logger),
	)
	runner := ingestion.NewProcessRunner(
		exe,
		ingestion.WithEnvFile(c.envFile),
		ingestion.WithRunnerLogger(c.logger),
	)

	opts := []ingestion.OrchestratorOption{
		ingestion.WithOrchestratorLogger(c.logger),
		ingestion.WithMaxAttempts(c.Config.Ingest.MaxAttempts),
		ingestion.WithRunTimeout(c.Config.Ingest.Timeout),
	}
	if reloader != nil {
		opts = append(opts, ingestion.WithReloader(reloader))
	}
	return ingestion.NewOrchestrator(store, queue, runner, c.Config.DocumentsPath, opts...), nil
}

// ResetIndex はベクトルインデックスを空にする。削除するセグメントがなかった場合は false を返す。
func ResetIndex(ctx context.Context, cfg *config.Config, logger *slog.Logger) (bool, error) {
	if cfg.VectorStore != config.VectorStorePGVector {
		return sqlite.ResetIndex(ctx, cfg.VectorIndexPath, sqlite.WithIndexLogger(logger))
	}

	db, err := database.New(ctx, connectionParams(cfg))
	if err != nil {
		return false, fmt.Errorf("データベース初期化に失敗しました: %w", err)
	}
	defer db.Close()

	index, err := postgres.NewIndex(ctx, db, postgres.WithIndexLogger(logger))
	if err != nil {
		return false, err
	}
	return index.Reset(ctx)
}

// Close は内部リソースを解放する。
func (c *ServiceContainer) Close() {
	if c == nil {
		return
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		errs = append(errs, c.closers[i]())
	}
	c.closers = nil
	if c.database != nil {
		c.database.Close()
		c.database = nil
	}
	if err := errors.Join(errs...); err != nil {
		c.Logger().Warn("failed to close resources", "error", err)
	}
}

// Logger はロガーを返す。
func (c *ServiceContainer) Logger() *slog.Logger {
	if c == nil || c.logger == nil {
		return slog.Default()
	}
	return c.logger
}
