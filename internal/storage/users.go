package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// User は会員のアカウント情報です。PasswordHash に平文が入ることはありません。
type User struct {
	ID           int64
	Email        string
	PasswordHash string
	CustomerID   string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// UserRepository は users テーブルへのアクセスを提供します。
// email と customer_id はそれぞれ一意です。
type UserRepository struct {
	db      DBTX
	dialect Dialect
}

// NewUserRepository は UserRepository を作成します。
func NewUserRepository(db DBTX, dialect Dialect) *UserRepository {
	return &UserRepository{db: db, dialect: dialect}
}

const userColumns = `id, email, password_hash, customer_id, created_at, updated_at`

// Create はユーザーを登録し、採番された ID を設定して返します。
// 一意制約に違反した場合は ErrDuplicate を返します。
func (r *UserRepository) Create(ctx context.Context, user *User) (*User, error) {
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = user.CreatedAt
	user.Email = NormalizeEmail(user.Email)

	query := rebind(r.dialect, `
INSERT INTO users (email, password_hash, customer_id, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)
RETURNING id`)

	err := r.db.QueryRowContext(ctx, query,
		user.Email,
		user.PasswordHash,
		user.CustomerID,
		timeArg(r.dialect, user.CreatedAt),
		timeArg(r.dialect, user.UpdatedAt),
	).Scan(&user.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return user, nil
}

// FindByID は ID でユーザーを取得します。
func (r *UserRepository) FindByID(ctx context.Context, id int64) (*User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

// FindByEmail はメールアドレスでユーザーを取得します。
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, NormalizeEmail(email))
}

// FindByCustomerID は外部顧客IDでユーザーを取得します。
func (r *UserRepository) FindByCustomerID(ctx context.Context, customerID string) (*User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE customer_id = ?`, customerID)
}

func (r *UserRepository) findOne(ctx context.Context, query string, arg any) (*User, error) {
	user := &User{}
	err := r.db.QueryRowContext(ctx, rebind(r.dialect, query), arg).Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.CustomerID,
		scanTime{&user.CreatedAt},
		scanTime{&user.UpdatedAt},
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return user, nil
}

// NormalizeEmail は比較用にメールアドレスを正規化します。
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
