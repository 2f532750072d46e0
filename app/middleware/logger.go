package middleware

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"maro/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/pretty"
)

// maxLoggedBody bounds how much of a request body ends up in the log.
const maxLoggedBody = 1000

// RequestLogger logs one line per request. POST bodies are compacted
// with pretty.Ugly and truncated so job submissions stay greppable
// without flooding the log.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		var body string
		if c.Request.Method == http.MethodPost {
			body = requestBody(c)
		}

		c.Next()

		// Probes for routes that do not exist are just noise
		if c.Writer.Status() == http.StatusNotFound {
			return
		}

		if body != "" {
			logger.InfoCtx(c.Request.Context(), "%3d | %13v | %15s | %s %s | body: %s",
				c.Writer.Status(), time.Since(start), c.ClientIP(),
				c.Request.Method, c.Request.RequestURI, body)
			return
		}
		logger.InfoCtx(c.Request.Context(), "%3d | %13v | %15s | %s %s",
			c.Writer.Status(), time.Since(start), c.ClientIP(),
			c.Request.Method, c.Request.RequestURI)
	}
}

// requestBody reads the body and puts it back for the handler.
func requestBody(c *gin.Context) string {
	if c.Request.Body == nil {
		return ""
	}
	raw, _ := io.ReadAll(c.Request.Body)
	c.Request.Body = io.NopCloser(bytes.NewBuffer(raw))
	return CompactBody(string(raw))
}

// CompactBody strips JSON whitespace and truncates long payloads.
func CompactBody(body string) string {
	if len(body) == 0 {
		return ""
	}
	compacted := pretty.Ugly([]byte(body))
	if len(compacted) > maxLoggedBody {
		return string(compacted[:maxLoggedBody]) + "..."
	}
	return string(compacted)
}
