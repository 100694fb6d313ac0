package middleware

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/shelfchain/v1/internal/core/infrastructure/metrics"
)

// Metrics 按路由模板统计请求，未匹配的路径记为 "unmatched"
func Metrics(m *metrics.Collectors) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.IncAPIRequest(c.Request.Method, path, strconv.Itoa(c.Writer.Status()))
	}
}
