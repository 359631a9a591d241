// Package api は取り込みと質問応答を提供する HTTP サービス
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultPort は待ち受けポートの既定値
	DefaultPort = 8000
	// DefaultShutdownTimeout は graceful shutdown の待ち時間
	DefaultShutdownTimeout = 10 * time.Second
)

// Server は gin ベースの HTTP サーバ
type Server struct {
	engine          *gin.Engine
	port            int
	shutdownTimeout time.Duration
	logger          *slog.Logger
}

type serverOptions struct {
	port            int
	allowOrigins    []string
	shutdownTimeout time.Duration
	logger          *slog.Logger
}

type ServerOption func(*serverOptions)

// WithPort は待ち受けポートを設定する
func WithPort(port int) ServerOption {
	return func(o *serverOptions) {
		o.port = port
	}
}

// WithAllowOrigins は CORS で許可するオリジンを設定する
func WithAllowOrigins(origins []string) ServerOption {
	return func(o *serverOptions) {
		o.allowOrigins = origins
	}
}

// WithShutdownTimeout は graceful shutdown の待ち時間を設定する
func WithShutdownTimeout(d time.Duration) ServerOption {
	return func(o *serverOptions) {
		o.shutdownTimeout = d
	}
}

// WithServerLogger はロガーを設定する
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(o *serverOptions) {
		o.logger = logger
	}
}

// NewServer はルーティングとミドルウェアを設定した Server を作成する
func NewServer(ingestor Ingestor, answerer Answerer, opts ...ServerOption) *Server {
	options := serverOptions{
		port:            DefaultPort,
		shutdownTimeout: DefaultShutdownTimeout,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}

	engine := gin.New()
	engine.Use(
		Recovery(options.logger),
		RequestLogger(options.logger),
		CORS(options.allowOrigins),
	)
	registerRoutes(engine, NewHandler(ingestor, answerer))

	return &Server{
		engine:          engine,
		port:            options.port,
		shutdownTimeout: options.shutdownTimeout,
		logger:          options.logger,
	}
}

func registerRoutes(r *gin.Engine, h *Handler) {
	r.GET("/", h.Root)
	r.POST("/uploadfile/", h.UploadFile)
	r.GET("/ingestion-status/", h.ListIngestions)
	r.GET("/ingestion-status/:task_id", h.IngestionStatus)
	r.POST("/ingestion-status/:task_id/cancel", h.CancelIngestion)
	r.POST("/chat/", h.Chat)
}

// Handler は http.Handler を返す（テスト用）
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run はサーバを起動し、ctx が終了したら graceful shutdown する
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("HTTP server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
		defer cancel()

		s.logger.Info("shutting down HTTP server")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTP server shutdown failed: %w", err)
		}
		return nil
	})
	return g.Wait()
}
