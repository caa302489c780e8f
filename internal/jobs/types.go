package jobs

import "github.com/yourusername/omni-embed-demo/internal/storage"

const (
	// TaskTypeAuditAppend は監査ログ書き込みタスクの種別です。
	TaskTypeAuditAppend = "audit:append"

	queueAudit = "audit"
	maxRetry   = 3
)

// AuditPayload は監査ログタスクのペイロードです。
type AuditPayload struct {
	RequestID string              `json:"requestId,omitempty"`
	Record    storage.AuditRecord `json:"record"`
}
