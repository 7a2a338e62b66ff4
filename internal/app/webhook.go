package app

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/taoyao-code/ant-server/internal/config"
	"github.com/taoyao-code/ant-server/internal/metrics"
	"github.com/taoyao-code/ant-server/internal/thirdparty"
)

// NewWebhookForwarder 创建第三方事件推送；未启用时返回 nil，需调用 Run 启动
func NewWebhookForwarder(cfg config.WebhookConfig, instanceID string, m *metrics.AppMetrics, logger *zap.Logger) *thirdparty.Forwarder {
	if !cfg.Enabled {
		logger.Info("webhook is disabled, skipping initialization")
		return nil
	}
	pusher := thirdparty.NewPusher(&http.Client{Timeout: cfg.Timeout}, cfg.APIKey, cfg.Secret)
	if cfg.Retries >= 0 {
		pusher.Retries = cfg.Retries
	}
	opts := []thirdparty.ForwarderOption{
		thirdparty.WithForwarderLogger(logger.Named("webhook")),
		thirdparty.WithQueueSize(cfg.QueueSize),
	}
	if m != nil {
		opts = append(opts, thirdparty.WithResultFunc(func(result string) {
			m.WebhookPushTotal.WithLabelValues(result).Inc()
		}))
	}
	logger.Info("webhook forwarder initialized", zap.String("url", cfg.URL))
	return thirdparty.NewForwarder(pusher, cfg.URL, instanceID, opts...)
}
