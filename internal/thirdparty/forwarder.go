package thirdparty

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/ant-server/internal/protocol/ant"
)

// ResultFunc 每个事件的推送结果：ok | rejected | error | dropped
type ResultFunc func(result string)

// Forwarder 事件处理器：回调只入队，Run 中依次推送到 Webhook
type Forwarder struct {
	*ant.DefaultEventHandler

	pusher   *Pusher
	url      string
	instance string
	events   chan StandardEvent
	dropped  atomic.Int64
	onResult ResultFunc
	log      *zap.Logger
	now      func() time.Time
}

type ForwarderOption func(*Forwarder)

func WithForwarderLogger(log *zap.Logger) ForwarderOption {
	return func(f *Forwarder) {
		if log != nil {
			f.log = log
		}
	}
}

// WithQueueSize 待推送事件上限，默认 256
func WithQueueSize(n int) ForwarderOption {
	return func(f *Forwarder) {
		if n > 0 {
			f.events = make(chan StandardEvent, n)
		}
	}
}

// WithResultFunc 推送结果回调（指标）
func WithResultFunc(fn ResultFunc) ForwarderOption {
	return func(f *Forwarder) { f.onResult = fn }
}

// NewForwarder 创建转发器，需调用 Run 启动推送
func NewForwarder(p *Pusher, url, instance string, opts ...ForwarderOption) *Forwarder {
	f := &Forwarder{
		pusher:   p,
		url:      url,
		instance: instance,
		events:   make(chan StandardEvent, 256),
		log:      zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	f.DefaultEventHandler = ant.NewDefaultEventHandler(f.log)
	return f
}

// Dropped 因队列满而丢弃的事件数
func (f *Forwarder) Dropped() int64 { return f.dropped.Load() }

// Run 推送直到 ctx 结束；结束时不再推送剩余事件
func (f *Forwarder) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-f.events:
			f.push(ctx, ev)
		}
	}
}

func (f *Forwarder) push(ctx context.Context, ev StandardEvent) {
	code, err := f.pusher.SendJSON(ctx, f.url, ev)
	switch {
	case err == nil:
		f.result("ok")
	case errors.Is(err, ErrRejected):
		f.result("rejected")
		f.log.Warn("webhook rejected event",
			zap.String("event_id", ev.EventID),
			zap.String("event_type", string(ev.EventType)),
			zap.Int("status", code))
	default:
		f.result("error")
		f.log.Error("webhook push failed",
			zap.String("event_id", ev.EventID),
			zap.String("event_type", string(ev.EventType)),
			zap.Error(err))
	}
}

func (f *Forwarder) result(r string) {
	if f.onResult != nil {
		f.onResult(r)
	}
}

func (f *Forwarder) enqueue(ev StandardEvent) {
	select {
	case f.events <- ev:
	default:
		if f.dropped.Add(1)%100 == 1 {
			f.log.Warn("webhook queue full, dropping event",
				zap.String("event_type", string(ev.EventType)),
				zap.Int64("dropped", f.dropped.Load()))
		}
		f.result("dropped")
	}
}

func (f *Forwarder) data(typ EventType, ch uint8, data []byte, ext *ant.ExtendedInfo) {
	ev := newEvent(typ, f.instance, ch, f.now())
	ev.Data = dataPayload(data, ext)
	f.enqueue(ev)
}

func (f *Forwarder) event(typ EventType, ch uint8) {
	f.enqueue(newEvent(typ, f.instance, ch, f.now()))
}

func (f *Forwarder) OnBroadcast(_ context.Context, msg ant.DataMessage) {
	f.data(EventBroadcast, msg.Channel, msg.Data, msg.Ext)
}

func (f *Forwarder) OnAcknowledged(_ context.Context, msg ant.DataMessage) {
	f.data(EventAcknowledged, msg.Channel, msg.Data, msg.Ext)
}

func (f *Forwarder) OnBurstTransfer(_ context.Context, ch uint8, data []byte, ext *ant.ExtendedInfo) {
	f.data(EventBurst, ch, data, ext)
}

func (f *Forwarder) OnChannelClosed(_ context.Context, ch uint8) { f.event(EventChannelClosed, ch) }

func (f *Forwarder) OnRxSearchTimeout(_ context.Context, ch uint8) { f.event(EventSearchTimeout, ch) }

func (f *Forwarder) OnRxFailGoToSearch(_ context.Context, ch uint8) { f.event(EventRxFailSearch, ch) }

func (f *Forwarder) OnTransferRxFailed(_ context.Context, ch uint8) {
	f.event(EventTransferFailed, ch)
}

func (f *Forwarder) OnTransferTxFailed(_ context.Context, ch uint8) {
	f.event(EventTransferFailed, ch)
}

func (f *Forwarder) OnChannelCollision(_ context.Context, ch uint8) { f.event(EventCollision, ch) }

var _ ant.EventHandler = (*Forwarder)(nil)
