package app

import (
	"context"

	"go.uber.org/zap"

	"github.com/taoyao-code/ant-server/internal/config"
	"github.com/taoyao-code/ant-server/internal/health"
	"github.com/taoyao-code/ant-server/internal/session"
	redisstorage "github.com/taoyao-code/ant-server/internal/storage/redis"
)

// NewRedisClient 创建Redis客户端；未启用时返回 nil, nil
func NewRedisClient(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (*redisstorage.Client, error) {
	if !cfg.Enabled {
		logger.Info("redis is disabled, skipping initialization")
		return nil, nil
	}

	client, err := redisstorage.NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	logger.Info("redis client initialized",
		zap.String("addr", cfg.Addr),
		zap.Int("pool_size", cfg.PoolSize))

	return client, nil
}

// NewRedisMirror 创建设备状态镜像
func NewRedisMirror(client *redisstorage.Client, cfg config.RedisConfig, instanceID string, logger *zap.Logger) *session.RedisMirror {
	return session.NewRedisMirror(client.Client, instanceID, client.Prefix, cfg.StateTTL, logger.Named("mirror"))
}

// AddRedisChecker 添加Redis检查器到聚合器
func AddRedisChecker(aggregator *health.Aggregator, redisClient *redisstorage.Client) {
	if redisClient != nil {
		aggregator.AddChecker(health.NewRedisChecker(redisClient))
	}
}
