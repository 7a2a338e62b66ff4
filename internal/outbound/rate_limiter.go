package outbound

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter 串口命令令牌桶；记录被延后发送的命令数与累计等待时间
type RateLimiter struct {
	limiter *rate.Limiter
	sent    atomic.Int64
	delayed atomic.Int64
	waited  atomic.Int64 // 纳秒
}

// NewRateLimiter ratePerSec 默认 50，burst 默认等于 ratePerSec
func NewRateLimiter(ratePerSec, burst int) *RateLimiter {
	if ratePerSec <= 0 {
		ratePerSec = 50
	}
	if burst <= 0 {
		burst = ratePerSec
	}
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(ratePerSec), burst)}
}

// Wait 阻塞到可以发送下一条命令；ctx 结束时归还令牌
func (l *RateLimiter) Wait(ctx context.Context) error {
	r := l.limiter.Reserve()
	if !r.OK() {
		return errors.New("rate limiter: burst exceeded")
	}
	if d := r.Delay(); d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			r.Cancel()
			return ctx.Err()
		}
		l.delayed.Add(1)
		l.waited.Add(int64(d))
	}
	l.sent.Add(1)
	return nil
}

// ThrottleStats 限速统计
type ThrottleStats struct {
	RatePerSecond float64       `json:"rate_per_second"`
	Burst         int           `json:"burst"`
	Sent          int64         `json:"sent"`
	Delayed       int64         `json:"delayed"`
	Waited        time.Duration `json:"waited"`
}

func (l *RateLimiter) Stats() ThrottleStats {
	return ThrottleStats{
		RatePerSecond: float64(l.limiter.Limit()),
		Burst:         l.limiter.Burst(),
		Sent:          l.sent.Load(),
		Delayed:       l.delayed.Load(),
		Waited:        time.Duration(l.waited.Load()),
	}
}
