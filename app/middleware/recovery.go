package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"maro/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Recovery turns handler panics into 500 responses instead of dropped
// connections. The stack is only echoed back in debug mode.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				stack := debug.Stack()
				logger.ErrorCtx(c.Request.Context(), "panic recovered: %v\nstack:\n%s", err, stack)

				resp := gin.H{"error": "internal server error"}
				if gin.Mode() == gin.DebugMode {
					resp["detail"] = fmt.Sprintf("%v", err)
					resp["stack"] = string(stack)
				}
				c.AbortWithStatusJSON(http.StatusInternalServerError, resp)
			}
		}()

		c.Next()
	}
}
