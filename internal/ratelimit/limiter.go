// Package ratelimit はクライアントアドレスとエンドポイント単位の
// スライディングウィンドウ方式のレート制限を提供します。
package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/omni-embed-demo/internal/logging"
)

// DefaultRule はログイン・登録で共有する既定値です（300秒に5回）。
var DefaultRule = Rule{MaxAttempts: 5, Window: 300 * time.Second}

// Rule はウィンドウ内で許可する試行回数です。
type Rule struct {
	MaxAttempts int
	Window      time.Duration
}

// Decision は判定結果です。拒否時の RetryAfter は最古の試行がウィンドウから外れるまでの時間です。
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Limiter は試行の判定と記録を1つの不可分な操作として行います。
// 上限に達している場合、今回の試行は記録されません。
type Limiter interface {
	Allow(ctx context.Context, clientID, endpoint string, rule Rule) (Decision, error)
}

// Middleware は c.ClientIP() をキーにレート制限をかける gin ミドルウェアを返します。
func Middleware(limiter Limiter, endpoint string, rule Rule, logger logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		decision, err := limiter.Allow(ctx, c.ClientIP(), endpoint, rule)
		if err != nil {
			logger.Error(ctx, "rate limiter failed", "endpoint", endpoint, "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "サーバー内部でエラーが発生しました。",
			})
			return
		}
		if !decision.Allowed {
			// Retry-After は秒数で返す（端数は切り上げ）
			retryAfter := int64((decision.RetryAfter + time.Second - 1) / time.Second)
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.FormatInt(retryAfter, 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code":    "TOO_MANY_REQUESTS",
				"message": "リクエストが多すぎます。しばらくしてから再度お試しください。",
			})
			return
		}
		c.Next()
	}
}
