// Package audit は操作履歴（監査ログ）の記録を提供します。
package audit

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/omni-embed-demo/internal/logging"
	"github.com/yourusername/omni-embed-demo/internal/storage"
)

// 記録するアクション名
const (
	ActionRegister         = "register"
	ActionLogin            = "login"
	ActionLogout           = "logout"
	ActionGenerateEmbedURL = "generate_embed_url"
)

// Writer は監査ログの永続化先です。storage.AuditRepository が実装します。
type Writer interface {
	Append(ctx context.Context, rec *storage.AuditRecord) error
}

// Recorder は監査ログを受け付けます。同期書き込みと非同期キューの両方がこれを実装します。
type Recorder interface {
	Record(ctx context.Context, rec *storage.AuditRecord) error
}

// DirectRecorder はリクエスト処理中にそのまま書き込む Recorder です。
type DirectRecorder struct {
	writer Writer
}

// NewDirectRecorder は DirectRecorder を作成します。
func NewDirectRecorder(writer Writer) *DirectRecorder {
	return &DirectRecorder{writer: writer}
}

// Record は監査ログを書き込みます。
func (r *DirectRecorder) Record(ctx context.Context, rec *storage.AuditRecord) error {
	return r.writer.Append(ctx, rec)
}

// FromRequest はリクエスト元の情報（IP・User-Agent）を埋めた監査ログを作成します。
// userID が 0 の場合は匿名として扱います。
func FromRequest(c *gin.Context, action string, userID int64, resource string) *storage.AuditRecord {
	rec := &storage.AuditRecord{
		Action:    action,
		Resource:  resource,
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
	if userID > 0 {
		rec.UserID = &userID
	}
	return rec
}

// Log は監査ログを記録し、失敗してもリクエストは継続させます。失敗はログに残します。
func Log(c *gin.Context, recorder Recorder, logger logging.Logger, action string, userID int64, resource string) {
	if recorder == nil {
		return
	}
	rec := FromRequest(c, action, userID, resource)
	if err := recorder.Record(c.Request.Context(), rec); err != nil {
		logger.Error(c.Request.Context(), "failed to record audit log", "action", action, "user_id", userID, "error", err)
	}
}
