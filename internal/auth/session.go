package auth

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	sessionNamespace = "session"
	csrfNamespace    = "csrf"
)

// DefaultSessionMaxAge はセッションの既定の有効期限です。
const DefaultSessionMaxAge = 24 * time.Hour

type sessionPayload struct {
	UserID    int64  `json:"user_id"`
	CreatedAt string `json:"created_at"`
}

// SessionCodec はユーザーIDを署名付きセッショントークンに変換します。
// サーバー側にセッションは保存しないため、ログアウトはクッキーの削除のみで、
// 複製されたトークンは有効期限まで有効なままです。
type SessionCodec struct {
	signer *Signer
	now    func() time.Time
}

// NewSessionCodec は SessionCodec を作成します。
func NewSessionCodec(secret []byte) (*SessionCodec, error) {
	signer, err := NewSigner(secret, sessionNamespace)
	if err != nil {
		return nil, err
	}
	return &SessionCodec{signer: signer, now: time.Now}, nil
}

// Issue はユーザーのセッショントークンを発行します。
func (s *SessionCodec) Issue(userID int64) (string, error) {
	return s.signer.Sign(sessionPayload{
		UserID:    userID,
		CreatedAt: s.now().UTC().Format(time.RFC3339),
	})
}

// Resolve はトークンを検証してユーザーIDを返します。
// 署名不正・改ざん・期限切れはいずれも ok=false です。
func (s *SessionCodec) Resolve(token string, maxAge time.Duration) (int64, bool) {
	var payload sessionPayload
	if !s.signer.Unsign(token, maxAge, &payload) {
		return 0, false
	}
	if payload.UserID <= 0 {
		return 0, false
	}
	return payload.UserID, true
}

// CookieOptions はセッションクッキーの属性です。
type CookieOptions struct {
	Name     string
	MaxAge   time.Duration
	Secure   bool
	SameSite http.SameSite
	Path     string
}

// ParseSameSite は設定値を http.SameSite に変換します。既定は Lax です。
func ParseSameSite(value string) http.SameSite {
	switch value {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

// setSessionCookie はセッショントークンをクッキーに書き込みます。HttpOnly は常に有効です。
func setSessionCookie(c *gin.Context, opts CookieOptions, token string) {
	c.SetSameSite(opts.SameSite)
	c.SetCookie(opts.Name, token, int(opts.MaxAge.Seconds()), cookiePath(opts), "", opts.Secure, true)
}

// clearSessionCookie はクライアント側のセッションクッキーを削除します。
func clearSessionCookie(c *gin.Context, opts CookieOptions) {
	c.SetSameSite(opts.SameSite)
	c.SetCookie(opts.Name, "", -1, cookiePath(opts), "", opts.Secure, true)
}

func cookiePath(opts CookieOptions) string {
	if opts.Path == "" {
		return "/"
	}
	return opts.Path
}
