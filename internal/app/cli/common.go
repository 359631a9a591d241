package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jinford/docqa/internal/core/ingestion"
	"github.com/jinford/docqa/internal/platform/config"
	"github.com/jinford/docqa/internal/platform/container"
	"github.com/jinford/docqa/internal/platform/logger"
)

// AppContext はコマンド実行に必要な共通コンテキストを保持する
type AppContext struct {
	Config    *config.Config
	Container *container.ServiceContainer
	logger    *slog.Logger
}

// LoadConfig は設定を読み込み、設定に従ってロガーを初期化する
func LoadConfig(envFile string) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, nil, fmt.Errorf("設定の読み込みに失敗: %w", err)
	}

	logCfg := logger.DefaultConfig()
	logCfg.Level = logger.ParseLevel(cfg.Log.Level)
	logCfg.Format = cfg.Log.Format
	return cfg, logger.New(logCfg), nil
}

// NewAppContext は設定ファイルを読み込み、コンテナを初期化して AppContext を作成する
func NewAppContext(ctx context.Context, envFile string, opts ...container.ContainerOption) (*AppContext, error) {
	cfg, appLogger, err := LoadConfig(envFile)
	if err != nil {
		return nil, err
	}

	opts = append([]container.ContainerOption{container.WithContainerLogger(appLogger)}, opts...)
	cont, err := container.NewContainer(ctx, cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("コンテナの初期化に失敗: %w", err)
	}

	return &AppContext{
		Config:    cfg,
		Container: cont,
		logger:    appLogger,
	}, nil
}

// Close はAppContextが保持するリソースをクリーンアップする
func (ac *AppContext) Close() {
	if ac.Container != nil {
		ac.Container.Close()
	}
}

// Logger はAppContextのロガーを返す
func (ac *AppContext) Logger() *slog.Logger {
	if ac.logger != nil {
		return ac.logger
	}
	return slog.Default()
}

// isPermanent は再試行しても結果が変わらないエラーかを返す
func isPermanent(err error) bool {
	return ingestion.IsPermanent(err) || errors.Is(err, config.ErrMissingRequired)
}
