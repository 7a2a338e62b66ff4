package health

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// 单项检查默认超时，避免一个依赖拖住整个 /health
const defaultCheckTimeout = 2 * time.Second

// Aggregator 并发执行全部检查并汇总状态
type Aggregator struct {
	mu       sync.RWMutex
	checkers []Checker
	timeout  time.Duration
	now      func() time.Time
}

func NewAggregator(checkers ...Checker) *Aggregator {
	return &Aggregator{
		checkers: checkers,
		timeout:  defaultCheckTimeout,
		now:      time.Now,
	}
}

// SetCheckTimeout 单项检查超时；<=0 不限制
func (a *Aggregator) SetCheckTimeout(d time.Duration) {
	a.mu.Lock()
	a.timeout = d
	a.mu.Unlock()
}

// AddChecker nil 忽略，便于按配置可选注册
func (a *Aggregator) AddChecker(checker Checker) {
	if checker == nil {
		return
	}
	a.mu.Lock()
	a.checkers = append(a.checkers, checker)
	a.mu.Unlock()
}

// CheckAll 并发执行；超时或 panic 的检查记为不健康
func (a *Aggregator) CheckAll(ctx context.Context) map[string]CheckResult {
	a.mu.RLock()
	checkers := append([]Checker(nil), a.checkers...)
	timeout := a.timeout
	a.mu.RUnlock()

	results := make(map[string]CheckResult, len(checkers))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, c := range checkers {
		wg.Add(1)
		go func(c Checker) {
			defer wg.Done()
			res := runCheck(ctx, c, timeout)
			mu.Lock()
			results[c.Name()] = res
			mu.Unlock()
		}(c)
	}
	wg.Wait()
	return results
}

// Check 只执行名为 name 的检查；不存在时 ok 为 false
func (a *Aggregator) Check(ctx context.Context, name string) (res CheckResult, ok bool) {
	a.mu.RLock()
	var target Checker
	for _, c := range a.checkers {
		if c.Name() == name {
			target = c
			break
		}
	}
	timeout := a.timeout
	a.mu.RUnlock()
	if target == nil {
		return CheckResult{}, false
	}
	return runCheck(ctx, target, timeout), true
}

func runCheck(ctx context.Context, c Checker, timeout time.Duration) CheckResult {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	start := time.Now()
	done := make(chan CheckResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- CheckResult{Status: StatusUnhealthy, Message: fmt.Sprintf("check panicked: %v", r)}
			}
		}()
		done <- c.Check(ctx)
	}()
	select {
	case res := <-done:
		return res
	case <-ctx.Done():
		return CheckResult{
			Status:  StatusUnhealthy,
			Message: fmt.Sprintf("check timed out: %v", ctx.Err()),
			Latency: time.Since(start),
		}
	}
}

// Overall 任一不健康即不健康，任一降级即降级
func Overall(results map[string]CheckResult) Status {
	status := StatusHealthy
	for _, r := range results {
		switch r.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			status = StatusDegraded
		}
	}
	return status
}

func (a *Aggregator) OverallStatus(ctx context.Context) Status {
	return Overall(a.CheckAll(ctx))
}

// Ready 降级仍视为就绪
func (a *Aggregator) Ready(ctx context.Context) bool {
	return a.OverallStatus(ctx) != StatusUnhealthy
}

// Alive 进程能响应即存活
func (a *Aggregator) Alive() bool { return true }

// HealthReport /health 的响应体
type HealthReport struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
}

// Report 只执行一轮检查
func (a *Aggregator) Report(ctx context.Context) HealthReport {
	results := a.CheckAll(ctx)
	return HealthReport{
		Status:    Overall(results),
		Timestamp: a.now(),
		Checks:    results,
	}
}
