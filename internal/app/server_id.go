package app

import (
	"fmt"
	"os"

	"github.com/google/uuid"
)

// GenerateInstanceID 生成实例ID，用于 Redis 键与数据日志。
// 优先使用环境变量 ANT_INSTANCE_ID，否则生成 ant-{hostname}-{uuid前8位}
func GenerateInstanceID() string {
	if id := os.Getenv("ANT_INSTANCE_ID"); id != "" {
		return id
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	return fmt.Sprintf("ant-%s-%s", hostname, uuid.NewString()[:8])
}
