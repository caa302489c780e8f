package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// AuditRecord は追記専用の監査ログです。作成後に更新・削除されることはありません。
type AuditRecord struct {
	ID        int64     `json:"id"`
	UserID    *int64    `json:"userId,omitempty"`
	Action    string    `json:"action"`
	Resource  string    `json:"resource,omitempty"`
	IPAddress string    `json:"ipAddress,omitempty"`
	UserAgent string    `json:"userAgent,omitempty"`
	Details   string    `json:"details,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// AuditRepository は audit_logs テーブルへのアクセスを提供します。
type AuditRepository struct {
	db      DBTX
	dialect Dialect
}

// NewAuditRepository は AuditRepository を作成します。
func NewAuditRepository(db DBTX, dialect Dialect) *AuditRepository {
	return &AuditRepository{db: db, dialect: dialect}
}

// Append は監査ログを1件追加します。
func (r *AuditRepository) Append(ctx context.Context, rec *AuditRecord) error {
	if rec == nil {
		return fmt.Errorf("audit record is nil")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	query := rebind(r.dialect, `
INSERT INTO audit_logs (user_id, action, resource, ip_address, user_agent, details, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
RETURNING id`)

	err := r.db.QueryRowContext(ctx, query,
		nullInt64(rec.UserID),
		rec.Action,
		nullString(rec.Resource),
		nullString(rec.IPAddress),
		nullString(rec.UserAgent),
		nullString(rec.Details),
		timeArg(r.dialect, rec.CreatedAt),
	).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// ListByUser はユーザーの監査ログを新しい順に最大 limit 件返します。
func (r *AuditRepository) ListByUser(ctx context.Context, userID int64, limit int) ([]AuditRecord, error) {
	query := rebind(r.dialect, `
SELECT id, user_id, action, resource, ip_address, user_agent, details, created_at
FROM audit_logs
WHERE user_id = ?
ORDER BY created_at DESC, id DESC
LIMIT ?`)

	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var records []AuditRecord
	for rows.Next() {
		var (
			rec       AuditRecord
			uid       sql.NullInt64
			resource  sql.NullString
			ip        sql.NullString
			userAgent sql.NullString
			details   sql.NullString
		)
		if err := rows.Scan(&rec.ID, &uid, &rec.Action, &resource, &ip, &userAgent, &details, scanTime{&rec.CreatedAt}); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		if uid.Valid {
			v := uid.Int64
			rec.UserID = &v
		}
		rec.Resource = resource.String
		rec.IPAddress = ip.String
		rec.UserAgent = userAgent.String
		rec.Details = details.String
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return records, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
