package jobs

import (
	"context"
	"errors"

	"github.com/hibiken/asynq"
)

// StartWorkers は Asynq サーバーをバックグラウンドで起動します。
func (m *Manager) StartWorkers() {
	go func() {
		if err := m.server.Run(m.mux); err != nil && !errors.Is(err, asynq.ErrServerClosed) {
			m.logger.Error(context.Background(), "asynq server stopped with error", "error", err)
		}
	}()
}

// RunWorker はワーカーのみをフォアグラウンドで動かします。ctx がキャンセルされると停止します。
func (m *Manager) RunWorker(ctx context.Context) error {
	if err := m.server.Start(m.mux); err != nil {
		return err
	}
	<-ctx.Done()
	m.server.Shutdown()
	return nil
}

// Shutdown はサーバーとクライアントを閉じます。
func (m *Manager) Shutdown(ctx context.Context) error {
	m.server.Shutdown()
	return m.client.Close()
}
