package health

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// DatabaseChecker 接收数据日志库；gorm 通过 db.DB() 取得 *sql.DB
type DatabaseChecker struct {
	db *sql.DB
}

func NewDatabaseChecker(db *sql.DB) *DatabaseChecker {
	return &DatabaseChecker{db: db}
}

func (c *DatabaseChecker) Name() string { return "database" }

// Check 日志库不可达或连接池占满时不健康
func (c *DatabaseChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	if err := c.db.PingContext(ctx); err != nil {
		return CheckResult{
			Status:  StatusUnhealthy,
			Message: fmt.Sprintf("journal database unreachable: %v", err),
			Latency: time.Since(start),
		}
	}
	stats := c.db.Stats()
	return poolResult(stats.InUse, stats.MaxOpenConnections, StatusUnhealthy, map[string]any{
		"open_conns": stats.OpenConnections,
		"in_use":     stats.InUse,
		"max_conns":  stats.MaxOpenConnections,
		"wait_count": stats.WaitCount,
	}, start)
}
