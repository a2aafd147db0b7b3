package middleware

import (
	"time"

	"smallbiznis-academy/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func AccessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.FromContext(c.Request.Context()).Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("route", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.String("actor_role", ActorFrom(c.Request.Context()).Role),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
