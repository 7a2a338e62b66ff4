package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/taoyao-code/ant-server/internal/api/middleware"
	"github.com/taoyao-code/ant-server/internal/config"
)

// RegisterRoutes 注册设备查询与命令路由
func RegisterRoutes(r *gin.Engine, h *Handler, cfg config.APIConfig, logger *zap.Logger) {
	if r == nil || h == nil {
		return
	}

	v1 := r.Group("/api/v1")
	v1.Use(middleware.CORS())
	if cfg.AuthEnabled {
		v1.Use(middleware.APIKeyAuth(cfg, logger))
		logger.Info("api authentication enabled",
			zap.Int("api_keys", len(cfg.APIKeys)),
			zap.Int("read_only_keys", len(cfg.ReadOnlyKeys)))
	} else {
		logger.Warn("api authentication disabled - only for development!")
	}

	v1.GET("/device", h.GetDevice)

	v1.GET("/channels", h.ListChannels)
	v1.GET("/channels/:channel", h.GetChannel)
	v1.POST("/channels/:channel/open", h.OpenChannel)
	v1.POST("/channels/:channel/close", h.CloseChannel)
	v1.POST("/channels/:channel/data", h.SendData)

	v1.GET("/data", h.ListData)
	v1.GET("/events", h.ListEvents)

	logger.Info("api routes registered", zap.Int("endpoints", 8))
}
