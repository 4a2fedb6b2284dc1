package middleware

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// DefaultBodyLimit 默认请求体大小限制
const DefaultBodyLimit = 1 * 1024 * 1024 // 1MB

// BodySizeLimit 限制请求体大小的中间件
func BodySizeLimit(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		// 检查 Content-Length 头
		if c.Request.ContentLength > maxBytes {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"error":   "Request body too large",
				"message": fmt.Sprintf("Request body exceeds maximum size of %d bytes", maxBytes),
				"limit":   maxBytes,
				"size":    c.Request.ContentLength,
			})
			c.Abort()
			return
		}

		// 限制请求体读取大小
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)

		// 设置响应头，告知客户端最大允许的请求体大小
		c.Header("X-Max-Body-Size", strconv.FormatInt(maxBytes, 10))

		c.Next()
	}
}
