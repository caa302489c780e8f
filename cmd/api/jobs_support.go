package main

import (
	"context"
	"errors"
	"fmt"

	redis "github.com/redis/go-redis/v9"

	"github.com/yourusername/omni-embed-demo/internal/audit"
	"github.com/yourusername/omni-embed-demo/internal/config"
	"github.com/yourusername/omni-embed-demo/internal/jobs"
	"github.com/yourusername/omni-embed-demo/internal/logging"
	"github.com/yourusername/omni-embed-demo/internal/ratelimit"
	"github.com/yourusername/omni-embed-demo/internal/storage"
)

// setupRateLimiter は RATE_LIMIT_STORE に応じたレート制限を作成します。
// 戻り値の関数で後片付け（Redis 切断・掃除ジョブ停止）を行います。
func setupRateLimiter(cfg *config.Config, logger logging.Logger) (ratelimit.Limiter, func(), error) {
	switch cfg.RateLimitStore {
	case config.RateLimitStoreRedis:
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to parse redis url: %w", err)
		}
		redisClient := redis.NewClient(opt)
		return ratelimit.NewRedisLimiter(redisClient), func() { _ = redisClient.Close() }, nil
	case config.RateLimitStoreMemory:
		limiter := ratelimit.NewMemoryLimiter()
		sweeper, err := ratelimit.NewSweeper(cfg.RateLimitSweep, limiter, logger)
		if err != nil {
			return nil, nil, err
		}
		sweeper.Start()
		return limiter, func() { sweeper.Stop(context.Background()) }, nil
	default:
		return nil, nil, errors.New("unknown rate limit store: " + cfg.RateLimitStore)
	}
}

// setupAudit は監査ログの書き込み方法を決めます。AUDIT_ASYNC=true なら
// Asynq に積み、同じプロセス内でワーカーも動かします。
func setupAudit(cfg *config.Config, db *storage.DB, logger logging.Logger) (audit.Recorder, func(), error) {
	if !cfg.AuditAsync {
		return audit.NewDirectRecorder(db.AuditLogs()), func() {}, nil
	}
	manager, err := newAuditQueue(cfg, db, logger)
	if err != nil {
		return nil, nil, err
	}
	manager.StartWorkers()
	return manager, func() { _ = manager.Shutdown(context.Background()) }, nil
}

func newAuditQueue(cfg *config.Config, db *storage.DB, logger logging.Logger) (*jobs.Manager, error) {
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required for the audit queue")
	}
	return jobs.NewManager(cfg.RedisURL, db.AuditLogs(), logger.With("component", "audit-queue"))
}
