package health

import (
	"context"
	"fmt"
	"time"
)

// DeviceStatus ANT 设备链路的运行状态
type DeviceStatus struct {
	Connected    bool
	Transport    string
	Ready        bool // 已收到启动消息或能力应答
	Channels     int
	MaxChannels  int
	QueueLen     int
	QueueCap     int
	PendingWaits int
	Dropped      uint64
	Throttled    int64 // 因限速被延后发送的命令数
}

// DeviceStatusSource 提供设备链路状态
type DeviceStatusSource interface {
	DeviceStatus() DeviceStatus
}

// DeviceChecker ANT 设备链路健康检查器
type DeviceChecker struct {
	source DeviceStatusSource
}

// NewDeviceChecker 创建设备健康检查器
func NewDeviceChecker(source DeviceStatusSource) *DeviceChecker {
	return &DeviceChecker{source: source}
}

// Name 返回检查器名称
func (c *DeviceChecker) Name() string {
	return "device"
}

// Check 断线为不健康；未就绪或下行队列积压为降级
func (c *DeviceChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	st := c.source.DeviceStatus()

	details := map[string]any{
		"transport":     st.Transport,
		"connected":     st.Connected,
		"ready":         st.Ready,
		"channels":      st.Channels,
		"max_channels":  st.MaxChannels,
		"queue_len":     st.QueueLen,
		"pending_waits": st.PendingWaits,
		"dropped":       st.Dropped,
		"throttled":     st.Throttled,
	}

	if !st.Connected {
		return CheckResult{
			Status:  StatusUnhealthy,
			Message: "device transport disconnected",
			Details: details,
			Latency: time.Since(start),
		}
	}

	status := StatusHealthy
	message := "ok"

	if !st.Ready {
		status = StatusDegraded
		message = "device not initialised"
	}

	if st.QueueCap > 0 {
		utilization := float64(st.QueueLen) / float64(st.QueueCap)
		details["queue_utilization"] = fmt.Sprintf("%.1f%%", utilization*100)
		if utilization > 0.8 {
			status = StatusDegraded
			message = "outbound queue backlog"
		}
	}

	return CheckResult{
		Status:  status,
		Message: message,
		Details: details,
		Latency: time.Since(start),
	}
}
