// Package jobs は監査ログの非同期書き込みキューを提供します。
//
// AUDIT_ASYNC=true のとき、リクエスト処理中は Redis（Asynq）にタスクを積むだけにし、
// 実際の書き込みはワーカーが行います。
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/yourusername/omni-embed-demo/internal/audit"
	"github.com/yourusername/omni-embed-demo/internal/logging"
	"github.com/yourusername/omni-embed-demo/internal/storage"
)

// Manager はタスクの投入とワーカーの管理を担います。audit.Recorder を実装します。
type Manager struct {
	client *asynq.Client
	server *asynq.Server
	mux    *asynq.ServeMux
	writer audit.Writer
	logger logging.Logger
}

var _ audit.Recorder = (*Manager)(nil)

// NewManager は Manager を初期化します。
func NewManager(redisURL string, writer audit.Writer, logger logging.Logger) (*Manager, error) {
	if redisURL == "" {
		return nil, errors.New("redis url is empty")
	}
	if writer == nil {
		return nil, errors.New("audit writer is nil")
	}
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	server := asynq.NewServer(
		opt,
		asynq.Config{
			Concurrency: 2,
			Queues: map[string]int{
				queueAudit: 1,
			},
			LogLevel: asynq.WarnLevel,
		},
	)

	manager := &Manager{
		client: asynq.NewClient(opt),
		server: server,
		mux:    asynq.NewServeMux(),
		writer: writer,
		logger: logger,
	}
	manager.mux.HandleFunc(TaskTypeAuditAppend, manager.handleAuditTask)
	return manager, nil
}

// Record は監査ログをキューに投入します。
func (m *Manager) Record(ctx context.Context, rec *storage.AuditRecord) error {
	if rec == nil {
		return fmt.Errorf("audit record is nil")
	}
	body, err := json.Marshal(AuditPayload{
		RequestID: uuid.NewString(),
		Record:    *rec,
	})
	if err != nil {
		return err
	}

	task := asynq.NewTask(TaskTypeAuditAppend, body, asynq.Queue(queueAudit))
	if _, err := m.client.EnqueueContext(ctx, task, asynq.MaxRetry(maxRetry)); err != nil {
		return fmt.Errorf("enqueue audit task: %w", err)
	}
	return nil
}

func (m *Manager) handleAuditTask(ctx context.Context, task *asynq.Task) error {
	var payload AuditPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		// 壊れたペイロードは再試行しても直らない
		return fmt.Errorf("decode audit payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.Record.Action == "" {
		return fmt.Errorf("missing action in payload: %w", asynq.SkipRetry)
	}

	rec := payload.Record
	if err := m.writer.Append(ctx, &rec); err != nil {
		m.logger.Warn(ctx, "audit task failed", "request_id", payload.RequestID, "action", rec.Action, "error", err)
		return err
	}
	return nil
}
