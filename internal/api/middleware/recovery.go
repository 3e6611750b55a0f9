package middleware

import (
	"fmt"
	"net/http"

	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/d60-Lab/newsfeed/pkg/logger"
	"github.com/d60-Lab/newsfeed/pkg/response"
)

// Recovery 捕获 panic 返回 500，并上报 sentry（未初始化 sentry 时上报为空操作）
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		hub := sentry.CurrentHub().Clone()
		hub.Scope().SetRequest(c.Request)
		defer func() {
			if rec := recover(); rec != nil {
				hub.RecoverWithContext(c.Request.Context(), rec)
				logger.Error("panic recovered",
					zap.Any("panic", rec),
					zap.String("path", c.Request.URL.Path),
					zap.String("request_id", c.GetString("request_id")))
				response.Error(c, http.StatusInternalServerError, fmt.Sprintf("internal error: %v", rec))
				c.Abort()
			}
		}()
		c.Next()
	}
}
