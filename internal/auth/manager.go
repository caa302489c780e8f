package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/omni-embed-demo/internal/audit"
	"github.com/yourusername/omni-embed-demo/internal/config"
	"github.com/yourusername/omni-embed-demo/internal/logging"
	"github.com/yourusername/omni-embed-demo/internal/storage"
)

const (
	// ContextUserKey は、ハンドラー間でログイン済みユーザー（*storage.User）を共有するためのキーです。
	ContextUserKey = "auth.user"
	// contextSessionKey は検証済みセッショントークンを保持するキーです。
	contextSessionKey = "auth.session"
)

// UserStore は認証処理が必要とするユーザーの永続化操作です。
type UserStore interface {
	Create(ctx context.Context, user *storage.User) (*storage.User, error)
	FindByID(ctx context.Context, id int64) (*storage.User, error)
	FindByEmail(ctx context.Context, email string) (*storage.User, error)
}

// Manager は認証処理と状態をまとめた構造体です。
type Manager struct {
	users      UserStore
	hasher     *PasswordHasher
	sessions   *SessionCodec
	csrf       *CSRFCodec
	cookie     CookieOptions
	csrfMaxAge time.Duration
	recorder   audit.Recorder
	logger     logging.Logger

	dummyOnce   sync.Once
	dummyDigest string
}

// Option は Manager の生成時オプションです。
type Option func(*Manager)

// WithPasswordHasher はパスワードハッシュのコストを差し替えます。
func WithPasswordHasher(h *PasswordHasher) Option {
	return func(m *Manager) {
		m.hasher = h
	}
}

// NewManager は認証マネージャーを作成します。
func NewManager(cfg *config.Config, users UserStore, recorder audit.Recorder, logger logging.Logger, opts ...Option) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if users == nil {
		return nil, errors.New("user store is nil")
	}
	if len(cfg.SessionSecret) < config.MinSessionSecretLength {
		return nil, fmt.Errorf("SESSION_SECRET must be at least %d characters", config.MinSessionSecretLength)
	}

	secret := []byte(cfg.SessionSecret)
	sessions, err := NewSessionCodec(secret)
	if err != nil {
		return nil, err
	}
	csrf, err := NewCSRFCodec(secret)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		users:    users,
		hasher:   NewPasswordHasher(DefaultArgon2Params),
		sessions: sessions,
		csrf:     csrf,
		cookie: CookieOptions{
			Name:     cfg.SessionCookieName,
			MaxAge:   orDefault(cfg.SessionMaxAge, DefaultSessionMaxAge),
			Secure:   cfg.SessionCookieSecure,
			SameSite: ParseSameSite(cfg.SessionCookieSameSite),
			Path:     "/",
		},
		csrfMaxAge: orDefault(cfg.CSRFMaxAge, DefaultCSRFMaxAge),
		recorder:   recorder,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// CurrentUser はリクエストのセッションクッキーからユーザーを解決します。
// クッキーなし・署名不正・期限切れ・削除済みユーザーはいずれも (nil, nil) です。
// エラーはデータベース障害の場合のみ返します。
func (m *Manager) CurrentUser(c *gin.Context) (*storage.User, error) {
	if v, ok := c.Get(ContextUserKey); ok {
		if user, ok := v.(*storage.User); ok {
			return user, nil
		}
	}

	token, ok := m.sessionToken(c)
	if !ok {
		return nil, nil
	}
	userID, ok := m.sessions.Resolve(token, m.cookie.MaxAge)
	if !ok {
		return nil, nil
	}

	user, err := m.users.FindByID(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	c.Set(ContextUserKey, user)
	c.Set(contextSessionKey, token)
	return user, nil
}

// IssueCSRFToken は現在のセッションに紐づく CSRF トークンを発行します。
// 有効なセッションがない場合は ok=false です。
func (m *Manager) IssueCSRFToken(c *gin.Context) (string, bool) {
	token, ok := m.sessionToken(c)
	if !ok {
		return "", false
	}
	if _, ok := m.sessions.Resolve(token, m.cookie.MaxAge); !ok {
		return "", false
	}
	csrfToken, err := m.csrf.Issue(token)
	if err != nil {
		m.logger.Error(c.Request.Context(), "failed to issue csrf token", "error", err)
		return "", false
	}
	return csrfToken, true
}

// startSession はセッションクッキーを発行し、対応する CSRF トークンを返します。
func (m *Manager) startSession(c *gin.Context, userID int64) (string, error) {
	token, err := m.sessions.Issue(userID)
	if err != nil {
		return "", err
	}
	csrfToken, err := m.csrf.Issue(token)
	if err != nil {
		return "", err
	}
	setSessionCookie(c, m.cookie, token)
	return csrfToken, nil
}

func (m *Manager) sessionToken(c *gin.Context) (string, bool) {
	if v, ok := c.Get(contextSessionKey); ok {
		if token, ok := v.(string); ok && token != "" {
			return token, true
		}
	}
	token, err := c.Cookie(m.cookie.Name)
	if err != nil || token == "" {
		return "", false
	}
	return token, true
}

// verifyPasswordOrDummy はユーザーが存在しない場合もハッシュ計算を行い、応答時間から
// アカウントの有無を推測されないようにします。
func (m *Manager) verifyPasswordOrDummy(user *storage.User, password string) bool {
	if user != nil {
		return m.hasher.Verify(password, user.PasswordHash)
	}
	m.dummyOnce.Do(func() {
		m.dummyDigest, _ = m.hasher.Hash("dummy-password-for-timing")
	})
	m.hasher.Verify(password, m.dummyDigest)
	return false
}

func orDefault(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}
