// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/yourusername/omni-embed-demo/internal/auth"
	"github.com/yourusername/omni-embed-demo/internal/config"
	"github.com/yourusername/omni-embed-demo/internal/logging"
	"github.com/yourusername/omni-embed-demo/internal/omni"
	"github.com/yourusername/omni-embed-demo/internal/server"
	"github.com/yourusername/omni-embed-demo/internal/storage"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "api",
		Short:        "Omni embed demo API server",
		SilenceUsage: true,
		RunE:         runServe,
	}
	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Start the HTTP server (default)",
			RunE:  runServe,
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply database migrations and exit",
			RunE:  runMigrate,
		},
		&cobra.Command{
			Use:   "worker",
			Short: "Run the asynchronous audit log worker",
			RunE:  runWorker,
		},
	)
	return root
}

// bootstrap は設定の読み込み・検証とロガー・DB の初期化を行います。
func bootstrap(ctx context.Context) (*config.Config, logging.Logger, *storage.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		// 署名鍵の不足などは起動を中止する
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := logging.New(os.Stdout, cfg.IsProduction())

	db, err := storage.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, nil, nil, err
	}
	return cfg, logger, db, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, logger, db, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	// Omni の設定不足は警告のみで起動は継続する
	for _, w := range cfg.OmniWarnings() {
		logger.Warn(ctx, "omni configuration incomplete; embed features will fail", "reason", w)
	}

	limiter, closeLimiter, err := setupRateLimiter(cfg, logger)
	if err != nil {
		return err
	}
	defer closeLimiter()

	recorder, closeRecorder, err := setupAudit(cfg, db, logger)
	if err != nil {
		return err
	}
	defer closeRecorder()

	authManager, err := auth.NewManager(cfg, db.Users(), recorder, logger)
	if err != nil {
		return err
	}

	router, err := server.New(server.Deps{
		Config:   cfg,
		Auth:     authManager,
		Limiter:  limiter,
		Omni:     omni.NewService(cfg, nil),
		Recorder: recorder,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "starting api server", "addr", srv.Addr, "env", cfg.AppEnv, "database", string(db.Dialect()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info(context.Background(), "shutting down api server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, logger, db, err := bootstrap(cmd.Context())
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info(cmd.Context(), "migrations applied", "database", string(db.Dialect()), "env", cfg.AppEnv)
	return nil
}

func runWorker(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, logger, db, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	manager, err := newAuditQueue(cfg, db, logger)
	if err != nil {
		return err
	}
	defer manager.Shutdown(context.Background())

	logger.Info(ctx, "starting audit worker")
	return manager.RunWorker(ctx)
}
