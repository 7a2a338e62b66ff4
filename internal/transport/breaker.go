package transport

import (
	"errors"
	"sync"
	"time"
)

// BreakerState 拨号熔断状态
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // 正常拨号
	BreakerOpen                         // 冷却中，拒绝拨号
	BreakerHalfOpen                     // 冷却结束，放行一次试探
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrBreakerOpen 熔断冷却期内拒绝拨号
var ErrBreakerOpen = errors.New("dial breaker is open")

// Breaker 网桥拨号熔断：连续失败达到阈值后进入冷却，冷却结束放行一次试探，
// 试探成功恢复，失败重新冷却。
type Breaker struct {
	mu        sync.Mutex
	state     BreakerState
	failures  int
	openedAt  time.Time
	trips     int64
	threshold int
	cooldown  time.Duration
	now       func() time.Time
	onChange  func(from, to BreakerState)
}

// NewBreaker threshold 默认 5 次，cooldown 默认 30 秒
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{threshold: threshold, cooldown: cooldown, now: time.Now}
}

// OnStateChange 状态变化回调，在持锁外同步调用
func (b *Breaker) OnStateChange(fn func(from, to BreakerState)) {
	b.mu.Lock()
	b.onChange = fn
	b.mu.Unlock()
}

// Allow 是否可以拨号；冷却期内返回 ErrBreakerOpen
func (b *Breaker) Allow() error {
	b.mu.Lock()
	if b.state != BreakerOpen {
		b.mu.Unlock()
		return nil
	}
	if b.now().Sub(b.openedAt) < b.cooldown {
		b.mu.Unlock()
		return ErrBreakerOpen
	}
	notify := b.transitionLocked(BreakerHalfOpen)
	b.mu.Unlock()
	notify()
	return nil
}

// Remaining 距离冷却结束的时间，非冷却状态为 0
func (b *Breaker) Remaining() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != BreakerOpen {
		return 0
	}
	if left := b.cooldown - b.now().Sub(b.openedAt); left > 0 {
		return left
	}
	return 0
}

// Success 拨号成功
func (b *Breaker) Success() {
	b.mu.Lock()
	b.failures = 0
	notify := b.transitionLocked(BreakerClosed)
	b.mu.Unlock()
	notify()
}

// Failure 拨号失败
func (b *Breaker) Failure() {
	b.mu.Lock()
	b.failures++
	notify := func() {}
	if b.state == BreakerHalfOpen || (b.state == BreakerClosed && b.failures >= b.threshold) {
		b.openedAt = b.now()
		b.trips++
		notify = b.transitionLocked(BreakerOpen)
	}
	b.mu.Unlock()
	notify()
}

func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Trips 累计熔断次数
func (b *Breaker) Trips() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.trips
}

func (b *Breaker) transitionLocked(to BreakerState) func() {
	from := b.state
	if from == to {
		return func() {}
	}
	b.state = to
	fn := b.onChange
	if fn == nil {
		return func() {}
	}
	return func() { fn(from, to) }
}
