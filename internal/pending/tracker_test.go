package pending

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/taoyao-code/ant-server/internal/protocol/ant"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(0, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestTrackerResolveSuccess(t *testing.T) {
	tracker := NewTracker(WithTimeout(time.Second))
	w := tracker.Expect(0, ant.MesgAssignChannel)

	tracker.OnResponseEvent(ant.ResponseEvent{Channel: 0, MessageID: ant.MesgAssignChannel})

	code, err := tracker.Wait(context.Background(), w)
	if err != nil || code != ant.ResponseNoError {
		t.Fatalf("wait: code=%v err=%v", code, err)
	}
	if tracker.Pending() != 0 {
		t.Fatalf("pending=%d", tracker.Pending())
	}
}

func TestTrackerProtocolError(t *testing.T) {
	tracker := NewTracker()
	w := tracker.Expect(1, ant.MesgOpenChannel)
	tracker.Resolve(w.Key, ant.ChannelInWrongState)

	code, err := tracker.Wait(context.Background(), w)
	var perr *ant.ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("expected protocol error, got %v", err)
	}
	if code != ant.ChannelInWrongState || perr.Channel != 1 {
		t.Fatalf("unexpected: code=%v perr=%+v", code, perr)
	}
	// 与路由日志使用相同的操作描述
	if perr.Op != "open channel" {
		t.Fatalf("op = %q, want %q", perr.Op, "open channel")
	}
}

func TestTrackerTimeout(t *testing.T) {
	tracker := NewTracker(WithTimeout(20 * time.Millisecond))
	w := tracker.Expect(0, ant.MesgCloseChannel)

	_, err := tracker.Wait(context.Background(), w)
	if !errors.Is(err, ErrNoResponse) {
		t.Fatalf("expected ErrNoResponse, got %v", err)
	}
	if tracker.Pending() != 0 {
		t.Fatalf("timed out waiter must be removed")
	}
	// 迟到的响应不再匹配
	if tracker.Resolve(w.Key, ant.ResponseNoError) {
		t.Fatalf("late response should miss")
	}
}

func TestTrackerContextCancel(t *testing.T) {
	tracker := NewTracker(WithTimeout(time.Minute))
	w := tracker.Expect(0, ant.MesgOpenChannel)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := tracker.Wait(ctx, w); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestTrackerFIFOPerKey(t *testing.T) {
	tracker := NewTracker()
	first := tracker.Expect(0, ant.MesgBroadcastData)
	second := tracker.Expect(0, ant.MesgBroadcastData)

	tracker.Resolve(Key{Channel: 0, MessageID: ant.MesgBroadcastData}, ant.TransferInProgress)
	tracker.Resolve(Key{Channel: 0, MessageID: ant.MesgBroadcastData}, ant.ResponseNoError)

	if _, err := tracker.Wait(context.Background(), first); err == nil {
		t.Fatalf("first waiter should get the error status")
	}
	if _, err := tracker.Wait(context.Background(), second); err != nil {
		t.Fatalf("second waiter: %v", err)
	}
}

func TestTrackerFailAll(t *testing.T) {
	tracker := NewTracker(WithTimeout(time.Minute))
	w := tracker.Expect(2, ant.MesgChannelID)
	closedErr := errors.New("transport closed")
	tracker.FailAll(closedErr)

	if _, err := tracker.Wait(context.Background(), w); !errors.Is(err, closedErr) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestTrackerSweepsAbandoned(t *testing.T) {
	clock := newFakeClock()
	var expired int
	obs := ObserverFunc(func(op, status string) {
		if status == "expired_cleanup" {
			expired++
		}
	})
	tracker := NewTracker(WithTTL(time.Minute), WithNow(clock.Now), WithObserver(obs))

	tracker.Expect(0, ant.MesgOpenChannel)
	clock.Advance(2 * time.Minute)
	tracker.Expect(1, ant.MesgOpenChannel)

	if expired != 1 || tracker.Pending() != 1 {
		t.Fatalf("expired=%d pending=%d", expired, tracker.Pending())
	}
}

func TestTrackerRequestKeySeparate(t *testing.T) {
	tracker := NewTracker(WithTimeout(20 * time.Millisecond))
	req := tracker.ExpectRequest(1, ant.MesgChannelID)
	set := tracker.Expect(1, ant.MesgChannelID)

	// 响应事件只匹配设置命令
	tracker.OnResponseEvent(ant.ResponseEvent{Channel: 1, MessageID: ant.MesgChannelID})
	if _, err := tracker.Wait(context.Background(), set); err != nil {
		t.Fatalf("set wait: %v", err)
	}
	if !tracker.Resolve(Key{Channel: 1, MessageID: ant.MesgChannelID, Request: true}, ant.ResponseNoError) {
		t.Fatalf("request waiter should still be pending")
	}
	if _, err := tracker.Wait(context.Background(), req); err != nil {
		t.Fatalf("request wait: %v", err)
	}
}
