package app

import (
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/taoyao-code/ant-server/internal/config"
	"github.com/taoyao-code/ant-server/internal/httpserver"
)

// NewHTTPServer 指标关闭时不挂载 metrics 路由；GIN_MODE 未设置时使用 release 模式
func NewHTTPServer(cfg *config.Config, metricsHandler http.Handler, ready httpserver.Readiness, log *zap.Logger) *httpserver.Server {
	if os.Getenv(gin.EnvGinMode) == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	if !cfg.Metrics.Enable {
		metricsHandler = nil
	}
	return httpserver.New(cfg.HTTP, cfg.Metrics.Path, metricsHandler, ready, log.Named("http"))
}
