// Package auth は認証・認可機能を提供します。
//
// パスワードは Argon2id でハッシュ化し、セッションはサーバー側に保存しない署名付きトークンを
// クッキーで受け渡します。状態を変更する API はセッションに紐づいた CSRF トークンで保護します。
package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"github.com/yourusername/omni-embed-demo/internal/audit"
	"github.com/yourusername/omni-embed-demo/internal/storage"
)

// MinPasswordLength は登録時に要求するパスワードの最小文字数です。
const MinPasswordLength = 8

type registerRequest struct {
	Email      string `json:"email" form:"email" binding:"required,email"`
	Password   string `json:"password" form:"password" binding:"required"`
	CustomerID string `json:"customer_id" form:"customer_id" binding:"required"`
}

type loginRequest struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

// Register は /api/register のハンドラーです。
// メールアドレス・顧客IDの重複は、どちらが重複したか分からない同一のエラーで返します。
func (m *Manager) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "メールアドレス・パスワード・顧客IDを正しく入力してください",
		})
		return
	}
	req.CustomerID = strings.TrimSpace(req.CustomerID)
	if req.CustomerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "メールアドレス・パスワード・顧客IDを正しく入力してください",
		})
		return
	}

	if utf8.RuneCountInString(req.Password) < MinPasswordLength {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "WEAK_PASSWORD",
			"message": "パスワードは8文字以上で入力してください",
		})
		return
	}

	digest, err := m.hasher.Hash(req.Password)
	if err != nil {
		m.logger.Error(c.Request.Context(), "failed to hash password", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "サーバー内部でエラーが発生しました",
		})
		return
	}

	user, err := m.users.Create(c.Request.Context(), &storage.User{
		Email:        req.Email,
		PasswordHash: digest,
		CustomerID:   req.CustomerID,
	})
	if err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "REGISTRATION_FAILED",
				"message": "登録に失敗しました",
			})
			return
		}
		m.logger.Error(c.Request.Context(), "failed to create user", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "サーバー内部でエラーが発生しました",
		})
		return
	}

	audit.Log(c, m.recorder, m.logger, audit.ActionRegister, user.ID, "")
	c.JSON(http.StatusOK, gin.H{
		"message": "登録が完了しました",
		"user_id": user.ID,
	})
}

// Login は /api/login のハンドラーです。
// JSON またはフォームの email / password を受け付け、どちらもなければ Basic 認証ヘッダーを使います。
func (m *Manager) Login(c *gin.Context) {
	email, password, ok := m.readCredentials(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_CREDENTIALS",
			"message": "メールアドレスまたはパスワードが正しくありません",
		})
		return
	}

	user, err := m.users.FindByEmail(c.Request.Context(), email)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		m.logger.Error(c.Request.Context(), "failed to find user", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "サーバー内部でエラーが発生しました",
		})
		return
	}

	if !m.verifyPasswordOrDummy(user, password) {
		c.JSON(http.StatusUnauthorized, gin.H{
			"code":    "INVALID_CREDENTIALS",
			"message": "メールアドレスまたはパスワードが正しくありません",
		})
		return
	}

	csrfToken, err := m.startSession(c, user.ID)
	if err != nil {
		m.logger.Error(c.Request.Context(), "failed to issue session", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "TOKEN_GENERATION_FAILED",
			"message": "セッションの発行に失敗しました",
		})
		return
	}

	audit.Log(c, m.recorder, m.logger, audit.ActionLogin, user.ID, "")
	c.Header(CSRFHeader, csrfToken)
	c.JSON(http.StatusOK, gin.H{
		"message":    "ログインしました",
		"user_id":    user.ID,
		"csrf_token": csrfToken,
	})
}

func (m *Manager) readCredentials(c *gin.Context) (string, string, bool) {
	var req loginRequest
	if c.Request.ContentLength != 0 {
		switch c.ContentType() {
		case binding.MIMEJSON:
			_ = c.ShouldBindJSON(&req)
		case binding.MIMEPOSTForm, binding.MIMEMultipartPOSTForm:
			_ = c.ShouldBind(&req)
		}
	}
	if req.Email == "" && req.Password == "" {
		if user, pass, ok := c.Request.BasicAuth(); ok {
			req.Email, req.Password = user, pass
		}
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		return "", "", false
	}
	return req.Email, req.Password, true
}

// Logout は /api/logout のハンドラーです。RequireLogin と VerifyCSRF の後ろに置きます。
// クッキーを削除するだけで、発行済みトークンの失効リストは持ちません。
func (m *Manager) Logout(c *gin.Context) {
	var userID int64
	if user, ok := UserFromContext(c); ok {
		userID = user.ID
	}
	audit.Log(c, m.recorder, m.logger, audit.ActionLogout, userID, "")

	clearSessionCookie(c, m.cookie)
	c.JSON(http.StatusOK, gin.H{
		"message": "ログアウトしました",
	})
}

// Me は /api/me のハンドラーです。
func (m *Manager) Me(c *gin.Context) {
	user, ok := UserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{
			"code":    "UNAUTHORIZED",
			"message": "ログインが必要です",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":          user.ID,
		"email":       user.Email,
		"customer_id": user.CustomerID,
		"created_at":  user.CreatedAt.Format(time.RFC3339),
	})
}

// CSRFToken は /api/csrf のハンドラーです。現在のセッション用の CSRF トークンを返します。
func (m *Manager) CSRFToken(c *gin.Context) {
	token, ok := m.IssueCSRFToken(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{
			"code":    "UNAUTHORIZED",
			"message": "ログインが必要です",
		})
		return
	}
	c.Header(CSRFHeader, token)
	c.JSON(http.StatusOK, gin.H{
		"csrf_token": token,
	})
}
