package middleware

import (
	"net/http"
	"strings"

	"maro/pkg/config"
	"maro/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Auth guards the inspection API with a static bearer token. With no
// api_key configured every request passes.
func Auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		expected := config.GlobalConfig.Server.APIKey
		if expected == "" {
			c.Next()
			return
		}

		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if token != expected {
			logger.WarnCtx(c.Request.Context(), "rejected request to %s: bad API key", c.Request.URL.Path)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		c.Next()
	}
}
