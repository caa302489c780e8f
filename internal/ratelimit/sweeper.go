package ratelimit

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/yourusername/omni-embed-demo/internal/logging"
)

// Sweeper は MemoryLimiter の空になったキーを定期的に削除します。
type Sweeper struct {
	cron *cron.Cron
}

// NewSweeper は spec（cron 式または "@every 5m"）で掃除を行う Sweeper を作成します。
func NewSweeper(spec string, limiter *MemoryLimiter, logger logging.Logger) (*Sweeper, error) {
	c := cron.New()
	if _, err := c.AddFunc(spec, func() {
		if removed := limiter.Sweep(); removed > 0 {
			logger.Info(context.Background(), "rate limiter keys evicted", "removed", removed, "remaining", limiter.Len())
		}
	}); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", spec, err)
	}
	return &Sweeper{cron: c}, nil
}

// Start はバックグラウンドで掃除を開始します。
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop は掃除を止め、実行中のジョブの終了を待ちます。
func (s *Sweeper) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}
