package health

import (
	"context"
	"fmt"
	"time"
)

// Status 健康状态
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"  // 可服务，部分能力受损
	StatusUnhealthy Status = "unhealthy" // 无法服务
)

// CheckResult 单项检查结果
type CheckResult struct {
	Status  Status         `json:"status"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
	Latency time.Duration  `json:"latency"`
}

// Checker 依赖项检查：设备链路、Redis 镜像、数据库日志
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

// CheckerFunc 函数形式的检查器
type CheckerFunc struct {
	ID string
	Fn func(ctx context.Context) CheckResult
}

func (f CheckerFunc) Name() string                          { return f.ID }
func (f CheckerFunc) Check(ctx context.Context) CheckResult { return f.Fn(ctx) }

// 连接池占用阈值
const (
	poolDegradedAt  = 0.9
	poolExhaustedAt = 1.0
)

// poolResult 按连接池占用率给出状态；exhaustedStatus 为占满时的状态
func poolResult(used, total int, exhaustedStatus Status, details map[string]any, start time.Time) CheckResult {
	utilization := 0.0
	if total > 0 {
		utilization = float64(used) / float64(total)
	}
	res := CheckResult{Status: StatusHealthy, Message: "ok", Details: details}
	switch {
	case utilization >= poolExhaustedAt:
		res.Status, res.Message = exhaustedStatus, "connection pool exhausted"
	case utilization > poolDegradedAt:
		res.Status, res.Message = StatusDegraded, "connection pool near limit"
	}
	if res.Details == nil {
		res.Details = map[string]any{}
	}
	res.Details["utilization"] = fmt.Sprintf("%.1f%%", utilization*100)
	res.Latency = time.Since(start)
	return res
}
