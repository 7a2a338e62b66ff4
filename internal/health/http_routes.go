package health

import (
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
)

// statusCode 降级仍可服务，只有不健康返回 503
func statusCode(s Status) int {
	if s == StatusUnhealthy {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

// RegisterHTTPRoutes 挂载 /health 系列路由
func RegisterHTTPRoutes(r gin.IRoutes, aggregator *Aggregator) {
	r.GET("/health/live", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"alive": aggregator.Alive()})
	})

	// 未就绪时列出失败的检查项
	r.GET("/health/ready", func(c *gin.Context) {
		results := aggregator.CheckAll(c.Request.Context())
		status := Overall(results)
		failing := make([]string, 0)
		for name, res := range results {
			if res.Status == StatusUnhealthy {
				failing = append(failing, name)
			}
		}
		sort.Strings(failing)
		c.JSON(statusCode(status), gin.H{
			"status":  status,
			"ready":   status != StatusUnhealthy,
			"failing": failing,
		})
	})

	r.GET("/health", func(c *gin.Context) {
		report := aggregator.Report(c.Request.Context())
		c.JSON(statusCode(report.Status), report)
	})

	r.GET("/health/checks/:name", func(c *gin.Context) {
		res, ok := aggregator.Check(c.Request.Context(), c.Param("name"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown check"})
			return
		}
		c.JSON(statusCode(res.Status), res)
	})
}
