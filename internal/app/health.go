package app

import (
	"github.com/taoyao-code/ant-server/internal/health"
)

// NewHealthAggregator 创建健康检查聚合器，设备链路检查始终存在
func NewHealthAggregator(dev *Device) *health.Aggregator {
	return health.NewAggregator(health.NewDeviceChecker(dev))
}
