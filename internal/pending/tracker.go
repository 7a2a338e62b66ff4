package pending

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/taoyao-code/ant-server/internal/protocol/ant"
)

var (
	ErrNoResponse = errors.New("no response")
	ErrCanceled   = errors.New("pending request canceled")
)

type Observer interface {
	Record(operation, status string)
}

type ObserverFunc func(operation, status string)

func (f ObserverFunc) Record(operation, status string) {
	if f != nil {
		f(operation, status)
	}
}

func NopObserver() Observer {
	return ObserverFunc(func(string, string) {})
}

// Key 响应关联键：设备级请求使用通道 0。
// Request 为 true 时等待的是数据响应（请求消息的应答），否则是响应事件。
type Key struct {
	Channel   uint8
	MessageID ant.MessageID
	Request   bool
}

func (k Key) String() string {
	if k.Request {
		return fmt.Sprintf("%d/request:%s", k.Channel, k.MessageID)
	}
	return fmt.Sprintf("%d/%s", k.Channel, k.MessageID)
}

type outcome struct {
	code ant.ResponseCode
	err  error
}

type Waiter struct {
	ID        string
	Key       Key
	CreatedAt time.Time

	done chan outcome
}

func (w *Waiter) expired(ttl time.Duration, now time.Time) bool {
	if ttl <= 0 {
		return false
	}
	return now.Sub(w.CreatedAt) > ttl
}

type Tracker struct {
	mu      sync.Mutex
	waiters map[Key][]*Waiter

	timeout  time.Duration
	ttl      time.Duration
	observer Observer
	now      func() time.Time

	lastSweep int64
}

type Option func(*Tracker)

const (
	defaultTimeout = 2 * time.Second
	defaultTTL     = time.Minute
)

func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		waiters:  make(map[Key][]*Waiter),
		timeout:  defaultTimeout,
		ttl:      defaultTTL,
		observer: NopObserver(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func WithTimeout(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.timeout = d
		}
	}
}

func WithTTL(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.ttl = d
		}
	}
}

func WithObserver(observer Observer) Option {
	return func(t *Tracker) {
		if observer != nil {
			t.observer = observer
		}
	}
}

func WithNow(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

func (t *Tracker) Timeout() time.Duration { return t.timeout }

// Expect 必须在发送命令之前登记，避免响应先于登记到达
func (t *Tracker) Expect(ch uint8, id ant.MessageID) *Waiter {
	return t.ExpectKey(Key{Channel: ch, MessageID: id})
}

// ExpectRequest 等待请求消息对应的数据响应
func (t *Tracker) ExpectRequest(ch uint8, id ant.MessageID) *Waiter {
	return t.ExpectKey(Key{Channel: ch, MessageID: id, Request: true})
}

func (t *Tracker) ExpectKey(key Key) *Waiter {
	now := t.now()
	t.maybeSweep(now)

	w := &Waiter{
		ID:        uuid.NewString(),
		Key:       key,
		CreatedAt: now,
		done:      make(chan outcome, 1),
	}
	t.mu.Lock()
	t.waiters[w.Key] = append(t.waiters[w.Key], w)
	t.mu.Unlock()
	t.observer.Record("expect", "ok")
	return w
}

// Resolve 按 FIFO 交付给同键的第一个等待者
func (t *Tracker) Resolve(key Key, code ant.ResponseCode) bool {
	t.mu.Lock()
	list := t.waiters[key]
	if len(list) == 0 {
		t.mu.Unlock()
		t.observer.Record("resolve", "miss")
		return false
	}
	w := list[0]
	t.removeLocked(key, 0)
	t.mu.Unlock()

	w.done <- outcome{code: code}
	t.observer.Record("resolve", "hit")
	return true
}

// OnResponseEvent 作为响应路由的观察者
func (t *Tracker) OnResponseEvent(ev ant.ResponseEvent) {
	t.Resolve(Key{Channel: ev.Channel, MessageID: ev.MessageID}, ev.Code)
}

// Wait 阻塞到响应、ctx 取消或超时。非零状态返回 *ant.ProtocolError。
func (t *Tracker) Wait(ctx context.Context, w *Waiter) (ant.ResponseCode, error) {
	timer := time.NewTimer(t.timeout)
	defer timer.Stop()

	select {
	case out := <-w.done:
		if out.err != nil {
			t.observer.Record("wait", "error")
			return 0, out.err
		}
		if out.code != ant.ResponseNoError {
			t.observer.Record("wait", "error")
			return out.code, &ant.ProtocolError{
				Channel:   w.Key.Channel,
				MessageID: w.Key.MessageID,
				Op:        ant.Describe(w.Key.MessageID),
				Code:      out.code,
			}
		}
		t.observer.Record("wait", "ok")
		return out.code, nil
	case <-timer.C:
		t.Cancel(w)
		t.observer.Record("wait", "timeout")
		return 0, fmt.Errorf("%w: %s after %s", ErrNoResponse, w.Key, t.timeout)
	case <-ctx.Done():
		t.Cancel(w)
		t.observer.Record("wait", "canceled")
		return 0, ctx.Err()
	}
}

// Cancel 撤销登记（发送失败或放弃等待）
func (t *Tracker) Cancel(w *Waiter) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, x := range t.waiters[w.Key] {
		if x == w {
			t.removeLocked(w.Key, i)
			return
		}
	}
}

// FailAll 传输层关闭时唤醒全部等待者
func (t *Tracker) FailAll(err error) {
	if err == nil {
		err = ErrCanceled
	}
	t.mu.Lock()
	all := t.waiters
	t.waiters = make(map[Key][]*Waiter)
	t.mu.Unlock()

	for _, list := range all {
		for _, w := range list {
			w.done <- outcome{err: err}
		}
	}
	t.observer.Record("fail_all", "ok")
}

func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, list := range t.waiters {
		n += len(list)
	}
	return n
}

func (t *Tracker) removeLocked(key Key, i int) {
	list := t.waiters[key]
	list = append(list[:i], list[i+1:]...)
	if len(list) == 0 {
		delete(t.waiters, key)
		return
	}
	t.waiters[key] = list
}

// maybeSweep 清理登记后从未等待的过期条目
func (t *Tracker) maybeSweep(now time.Time) {
	if t.ttl <= 0 {
		return
	}
	last := time.Unix(0, atomic.LoadInt64(&t.lastSweep))
	if now.Sub(last) < t.ttl {
		return
	}
	t.mu.Lock()
	for key, list := range t.waiters {
		kept := list[:0]
		for _, w := range list {
			if w.expired(t.ttl, now) {
				t.observer.Record("expect", "expired_cleanup")
				continue
			}
			kept = append(kept, w)
		}
		if len(kept) == 0 {
			delete(t.waiters, key)
		} else {
			t.waiters[key] = kept
		}
	}
	t.mu.Unlock()
	atomic.StoreInt64(&t.lastSweep, now.UnixNano())
}
