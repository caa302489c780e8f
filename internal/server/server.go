// Package server は gin エンジンの組み立て（ミドルウェアとルーティング）を行います。
package server

import (
	"errors"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yourusername/omni-embed-demo/internal/audit"
	"github.com/yourusername/omni-embed-demo/internal/auth"
	"github.com/yourusername/omni-embed-demo/internal/config"
	"github.com/yourusername/omni-embed-demo/internal/logging"
	"github.com/yourusername/omni-embed-demo/internal/omni"
	"github.com/yourusername/omni-embed-demo/internal/pages"
	"github.com/yourusername/omni-embed-demo/internal/ratelimit"
)

// RequestIDHeader はリクエストIDを受け渡すヘッダーです。
const RequestIDHeader = "X-Request-ID"

// Deps はエンジンの組み立てに必要な依存です。
type Deps struct {
	Config   *config.Config
	Auth     *auth.Manager
	Limiter  ratelimit.Limiter
	Omni     *omni.Service
	Recorder audit.Recorder
	Logger   logging.Logger
}

// New は gin エンジンを作成します。
func New(deps Deps) (*gin.Engine, error) {
	if deps.Config == nil || deps.Auth == nil || deps.Limiter == nil || deps.Omni == nil || deps.Logger == nil {
		return nil, errors.New("server dependencies are incomplete")
	}
	cfg := deps.Config

	// デフォルトミドルウェア: Logger, Recovery
	router := gin.Default()
	if err := router.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, err
	}
	router.Use(requestID())

	tmpl, err := pages.Templates()
	if err != nil {
		return nil, err
	}
	router.SetHTMLTemplate(tmpl)

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.CORSAllowedOrigins
	if len(corsConfig.AllowOrigins) == 0 {
		corsConfig.AllowOrigins = []string{"http://localhost:" + cfg.Port}
	}
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Accept",
		"Authorization",
		auth.CSRFHeader,
	}
	// フロントエンドがレスポンスヘッダーから CSRF トークンを読み取れるように公開
	corsConfig.ExposeHeaders = []string{auth.CSRFHeader, RequestIDHeader}
	// プリフライト（OPTIONS）はルート未登録なのでグローバルに適用する
	router.Use(cors.New(corsConfig))

	router.GET("/healthz", handleHealth)

	rule := ratelimit.Rule{MaxAttempts: cfg.RateLimitAttempts, Window: cfg.RateLimitWindow}

	api := router.Group("/api")
	{
		// 登録・ログイン時はセッション未生成なので CSRF 検証は不要
		api.POST("/register", ratelimit.Middleware(deps.Limiter, "register", rule, deps.Logger), deps.Auth.Register)
		api.POST("/login", ratelimit.Middleware(deps.Limiter, "login", rule, deps.Logger), deps.Auth.Login)

		protected := api.Group("", deps.Auth.RequireLogin(), deps.Auth.VerifyCSRF())
		{
			protected.POST("/logout", deps.Auth.Logout)
			protected.GET("/me", deps.Auth.Me)
			protected.GET("/csrf", deps.Auth.CSRFToken)
			protected.GET("/embed/url", omni.EmbedURLHandler(deps.Omni, deps.Recorder, deps.Logger))
		}
	}

	pages.NewHandler(deps.Auth, cfg.OmniContentPathAllowlist, deps.Logger).
		RegisterRoutes(router, pages.NewFlashStore(cfg))

	return router, nil
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// requestID は受け取った、または新規採番したリクエストIDをレスポンスに付与します。
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}
