package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/omni-embed-demo/internal/storage"
)

// LoadUser はログインしていればユーザーをコンテキストに載せるミドルウェアです。
// 未ログインでもリクエストは続行します。
func (m *Manager) LoadUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := m.CurrentUser(c); err != nil {
			m.logger.Error(c.Request.Context(), "failed to resolve session user", "error", err)
		}
		c.Next()
	}
}

// RequireLogin はセッションを検証するミドルウェアを返します。
// 原因（クッキーなし・改ざん・期限切れ）は区別せずに 401 を返します。
func (m *Manager) RequireLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := m.CurrentUser(c)
		if err != nil {
			m.logger.Error(c.Request.Context(), "failed to resolve session user", "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "サーバー内部でエラーが発生しました",
			})
			return
		}
		if user == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    "UNAUTHORIZED",
				"message": "ログインが必要です",
			})
			return
		}
		c.Next()
	}
}

// VerifyCSRF は状態を変更するリクエストの CSRF トークンを検証するミドルウェアです。
// トークンは X-CSRF-Token ヘッダー、なければフォームの csrf_token から読み取ります。
// どの検証に失敗したかはクライアントに返しません。
func (m *Manager) VerifyCSRF() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requiresCSRF(c.Request.Method) {
			c.Next()
			return
		}

		if !m.validCSRF(c) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"code":    "FORBIDDEN",
				"message": "リクエストを処理できませんでした",
			})
			return
		}
		c.Next()
	}
}

func (m *Manager) validCSRF(c *gin.Context) bool {
	session, ok := m.sessionToken(c)
	if !ok {
		return false
	}
	if _, ok := m.sessions.Resolve(session, m.cookie.MaxAge); !ok {
		return false
	}

	token := c.GetHeader(CSRFHeader)
	if token == "" {
		token = c.PostForm(CSRFFormField)
	}
	if token == "" {
		return false
	}
	return m.csrf.Verify(token, session, m.csrfMaxAge)
}

// UserFromContext は RequireLogin / LoadUser が載せたユーザーを取り出します。
func UserFromContext(c *gin.Context) (*storage.User, bool) {
	v, ok := c.Get(ContextUserKey)
	if !ok {
		return nil, false
	}
	user, ok := v.(*storage.User)
	return user, ok && user != nil
}
