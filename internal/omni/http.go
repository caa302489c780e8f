package omni

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/omni-embed-demo/internal/audit"
	"github.com/yourusername/omni-embed-demo/internal/auth"
	"github.com/yourusername/omni-embed-demo/internal/logging"
)

// EmbedURLHandler は GET /api/embed/url のハンドラーを返します。RequireLogin の後ろに置きます。
func EmbedURLHandler(svc *Service, recorder audit.Recorder, logger logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := auth.UserFromContext(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{
				"code":    "UNAUTHORIZED",
				"message": "ログインが必要です",
			})
			return
		}

		contentPath := strings.TrimSpace(c.Query("content_path"))
		if contentPath == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "content_path を指定してください",
			})
			return
		}

		embedURL, err := svc.EmbedURLFor(c.Request.Context(), user, contentPath)
		if err != nil {
			switch {
			case errors.Is(err, ErrNotConfigured):
				logger.Error(c.Request.Context(), "omni is not configured", "error", err)
				c.JSON(http.StatusInternalServerError, gin.H{
					"code":    "OMNI_NOT_CONFIGURED",
					"message": "埋め込み機能が設定されていません",
				})
			case errors.Is(err, ErrContentPathNotAllowed):
				c.JSON(http.StatusBadRequest, gin.H{
					"code":    "CONTENT_PATH_NOT_ALLOWED",
					"message": "指定されたコンテンツは表示できません",
				})
			default:
				// Omni の応答内容はログにのみ残す
				logger.Error(c.Request.Context(), "failed to generate embed url", "user_id", user.ID, "content_path", contentPath, "error", err)
				c.JSON(http.StatusBadGateway, gin.H{
					"code":    "EMBED_URL_FAILED",
					"message": "埋め込みURLの生成に失敗しました",
				})
			}
			return
		}

		audit.Log(c, recorder, logger, audit.ActionGenerateEmbedURL, user.ID, contentPath)
		c.Header("Cache-Control", "no-store")
		c.JSON(http.StatusOK, gin.H{
			"url": embedURL,
		})
	}
}
