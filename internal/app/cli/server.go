package cli

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/jinford/docqa/internal/core/ask"
	"github.com/jinford/docqa/internal/interface/api"
	"github.com/jinford/docqa/internal/platform/container"
)

// ServerStartAction はHTTPサーバと取り込みワーカーを起動するコマンドのアクション
func ServerStartAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")

	appCtx, err := NewAppContext(ctx, envFile, container.WithEnvFile(envFile))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	logger := appCtx.Logger()
	cfg := appCtx.Config

	holder, reloader, err := appCtx.Container.QueryPipeline()
	if err != nil {
		return err
	}

	// 起動時に一度だけロードを試みる。空の場合は最初の取り込み完了後に公開される
	if err := reloader.Reload(ctx); err != nil {
		if errors.Is(err, ask.ErrEmptyIndex) {
			logger.Info("vector index is empty, waiting for the first ingestion")
		} else {
			logger.Warn("failed to load query pipeline at startup", "error", err)
		}
	}

	orchestrator, err := appCtx.Container.Orchestrator(ctx, reloader)
	if err != nil {
		return err
	}

	port := cfg.HTTP.Port
	if cmd.IsSet("port") {
		port = int(cmd.Int("port"))
	}

	gin.SetMode(gin.ReleaseMode)
	server := api.NewServer(orchestrator, holder,
		api.WithPort(port),
		api.WithAllowOrigins(cfg.HTTP.AllowOrigins),
		api.WithServerLogger(logger),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return orchestrator.Run(gctx)
	})
	g.Go(func() error {
		return server.Run(gctx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped with error", "error", err)
		return err
	}
	logger.Info("server stopped")
	return nil
}
