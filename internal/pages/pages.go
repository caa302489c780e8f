// Package pages は会員向けの HTML 画面を提供します。
//
// 画面は薄いシェルで、ログイン・登録・ログアウト・埋め込み URL の取得は
// すべてブラウザから /api を呼び出して行います。
package pages

import (
	"embed"
	"html/template"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/omni-embed-demo/internal/auth"
	"github.com/yourusername/omni-embed-demo/internal/config"
	"github.com/yourusername/omni-embed-demo/internal/logging"
	"github.com/yourusername/omni-embed-demo/internal/storage"
)

// FlashCookieName はフラッシュメッセージ用クッキーの名前です。
const FlashCookieName = "flash"

//go:embed templates/*.html
var templateFS embed.FS

// Templates は埋め込みのテンプレートを読み込みます。
func Templates() (*template.Template, error) {
	return template.ParseFS(templateFS, "templates/*.html")
}

// NewFlashStore はフラッシュメッセージ用の署名付きクッキーストアを作成します。
func NewFlashStore(cfg *config.Config) sessions.Store {
	store := cookie.NewStore([]byte(cfg.SessionSecret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   300,
		HttpOnly: true,
		Secure:   cfg.SessionCookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	return store
}

type pageData struct {
	Title        string
	User         *storage.User
	CSRFToken    string
	Flashes      []string
	ContentPath  string
	ContentPaths []string
}

// Handler は HTML 画面のハンドラーです。
type Handler struct {
	auth         *auth.Manager
	contentPaths []string
	logger       logging.Logger
}

// NewHandler は Handler を作成します。contentPaths はマイページに並べるレポートです。
func NewHandler(authManager *auth.Manager, contentPaths []string, logger logging.Logger) *Handler {
	return &Handler{auth: authManager, contentPaths: contentPaths, logger: logger}
}

// RegisterRoutes は画面のルートを登録します。
func (h *Handler) RegisterRoutes(r gin.IRouter, store sessions.Store) {
	g := r.Group("", sessions.Sessions(FlashCookieName, store), h.auth.LoadUser())
	g.GET("/", h.Index)
	g.GET("/login", h.Login)
	g.GET("/register", h.Register)
	g.GET("/me", h.requireUser, h.Me)
	g.GET("/embed", h.requireUser, h.Embed)
}

// Index はトップ画面です。ログイン済みならマイページを表示します。
func (h *Handler) Index(c *gin.Context) {
	if _, ok := auth.UserFromContext(c); ok {
		h.Me(c)
		return
	}
	h.render(c, "index.html", pageData{Title: "トップ"})
}

// Login はログイン画面です。
func (h *Handler) Login(c *gin.Context) {
	h.render(c, "login.html", pageData{Title: "ログイン"})
}

// Register は会員登録画面です。
func (h *Handler) Register(c *gin.Context) {
	h.render(c, "register.html", pageData{Title: "会員登録"})
}

// Me はマイページです。
func (h *Handler) Me(c *gin.Context) {
	h.render(c, "me.html", pageData{Title: "マイページ", ContentPaths: h.contentPaths})
}

// Embed はダッシュボード埋め込み画面です。
func (h *Handler) Embed(c *gin.Context) {
	h.render(c, "embed.html", pageData{Title: "レポート", ContentPath: c.Query("contentPath")})
}

// requireUser は未ログインならメッセージを残してログイン画面に戻します。
func (h *Handler) requireUser(c *gin.Context) {
	if _, ok := auth.UserFromContext(c); ok {
		c.Next()
		return
	}
	session := sessions.Default(c)
	session.AddFlash("ログインしてください")
	if err := session.Save(); err != nil {
		h.logger.Warn(c.Request.Context(), "failed to save flash", "error", err)
	}
	c.Redirect(http.StatusFound, "/login")
	c.Abort()
}

func (h *Handler) render(c *gin.Context, name string, data pageData) {
	if user, ok := auth.UserFromContext(c); ok {
		data.User = user
		if token, ok := h.auth.IssueCSRFToken(c); ok {
			data.CSRFToken = token
		}
	}

	session := sessions.Default(c)
	if flashes := session.Flashes(); len(flashes) > 0 {
		for _, f := range flashes {
			if s, ok := f.(string); ok {
				data.Flashes = append(data.Flashes, s)
			}
		}
		if err := session.Save(); err != nil {
			h.logger.Warn(c.Request.Context(), "failed to clear flash", "error", err)
		}
	}

	c.Header("Cache-Control", "no-store")
	c.HTML(http.StatusOK, name, data)
}
