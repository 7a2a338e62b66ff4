package ant

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/taoyao-code/ant-server/internal/metrics"
)

// ChannelCloser 通道关闭事件需要的注册表能力
type ChannelCloser interface {
	// ChannelClosed 将通道置为 Closed 并移出注册表；通道不存在时返回 false
	ChannelClosed(ch uint8) bool
}

// EventFunc 事件处理函数
type EventFunc func(ctx context.Context, ch uint8, payload []byte) error

type eventEntry struct {
	name   string
	handle EventFunc // nil 表示已知但未单独处理
}

type burstState struct {
	active bool
	next   uint8
	data   []byte
}

// EventRouter 通道事件路由（event code -> handler）
type EventRouter struct {
	mu      sync.RWMutex
	table   map[EventCode]*eventEntry
	handler EventHandler
	closer  ChannelCloser
	log     *zap.Logger
	metrics *metrics.AppMetrics

	burstMu sync.Mutex
	bursts  map[uint8]*burstState
}

// NewEventRouter 创建事件路由并注册内置事件表
func NewEventRouter(handler EventHandler, closer ChannelCloser, log *zap.Logger, m *metrics.AppMetrics) *EventRouter {
	if log == nil {
		log = zap.NewNop()
	}
	if handler == nil {
		handler = NewDefaultEventHandler(log)
	}
	r := &EventRouter{
		table:   make(map[EventCode]*eventEntry),
		handler: handler,
		closer:  closer,
		log:     log,
		metrics: m,
		bursts:  make(map[uint8]*burstState),
	}
	r.registerDefaults()
	return r
}

func (r *EventRouter) registerDefaults() {
	simple := func(f func(EventHandler, context.Context, uint8)) EventFunc {
		return func(ctx context.Context, ch uint8, _ []byte) error {
			f(r.handler, ctx, ch)
			return nil
		}
	}

	r.Register(EventRxSearchTimeout, simple(EventHandler.OnRxSearchTimeout))
	r.Register(EventRxFail, simple(EventHandler.OnRxFail))
	r.Register(EventTx, simple(EventHandler.OnTx))
	r.Register(EventTransferRxFailed, r.transferRxFailed)
	r.Register(EventTransferTxCompleted, simple(EventHandler.OnTransferTxCompleted))
	r.Register(EventTransferTxFailed, simple(EventHandler.OnTransferTxFailed))
	r.Register(EventChannelClosed, r.channelClosed)
	r.Register(EventRxFailGoToSearch, simple(EventHandler.OnRxFailGoToSearch))
	r.Register(EventChannelCollision, simple(EventHandler.OnChannelCollision))
	r.Register(EventTransferTxStart, simple(EventHandler.OnTransferTxStart))

	r.Register(EventRxBroadcast, r.rxBroadcast)
	r.Register(EventRxAcknowledged, r.rxAcknowledged)
	r.Register(EventRxBurstPacket, r.rxBurst)
	r.Register(EventRxExtBroadcast, r.rxExtBroadcast)
	r.Register(EventRxExtAcknowledged, r.rxExtAcknowledged)
	r.Register(EventRxExtBurstPacket, r.rxExtBurst)
	r.Register(EventRxFlagBroadcast, r.rxFlagBroadcast)
	r.Register(EventRxFlagAcknowledged, r.rxFlagAcknowledged)
	r.Register(EventRxFlagBurstPacket, r.rxFlagBurst)

	for _, code := range []EventCode{
		EventTransferNextDataBlock,
		EventSerialQueOverflow,
		EventQueOverflow,
		EventClkError,
		EventStateOverrun,
		EventRxRSSIBroadcast,
		EventRxRSSIAcknowledged,
		EventRxRSSIBurstPacket,
	} {
		r.Register(code, nil)
	}
}

// Register 注册或覆盖事件处理器；h 为 nil 时事件走默认记录
func (r *EventRouter) Register(code EventCode, h EventFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.table[code] = &eventEntry{name: code.String(), handle: h}
}

// Known 事件码是否在表中
func (r *EventRouter) Known(code EventCode) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.table[code]
	return ok
}

// Dispatch 按事件码分发。表中不存在的事件码返回 ErrUnknownEvent。
func (r *EventRouter) Dispatch(ctx context.Context, ch uint8, code EventCode, payload []byte) error {
	r.mu.RLock()
	entry, ok := r.table[code]
	r.mu.RUnlock()

	if !ok {
		if r.metrics != nil {
			r.metrics.UnknownCodes.WithLabelValues("event").Inc()
		}
		r.log.Error("unknown channel event",
			zap.Uint8("channel", ch),
			zap.Uint8("code", uint8(code)),
			zap.String("hexdump", Hexdump(payload)))
		return fmt.Errorf("%w: 0x%02x on channel %d", ErrUnknownEvent, uint8(code), ch)
	}
	if r.metrics != nil {
		r.metrics.EventRoute.WithLabelValues(entry.name).Inc()
	}
	if entry.handle == nil {
		r.handler.OnUnhandledEvent(ctx, ch, code, payload)
		return nil
	}
	return entry.handle(ctx, ch, payload)
}

func (r *EventRouter) channelClosed(ctx context.Context, ch uint8, _ []byte) error {
	r.resetBurst(ch)
	if r.closer != nil && !r.closer.ChannelClosed(ch) {
		r.log.Debug("repeated channel closed event ignored", zap.Uint8("channel", ch))
		return nil
	}
	r.handler.OnChannelClosed(ctx, ch)
	return nil
}

func (r *EventRouter) transferRxFailed(ctx context.Context, ch uint8, _ []byte) error {
	r.resetBurst(ch)
	r.handler.OnTransferRxFailed(ctx, ch)
	return nil
}

func (r *EventRouter) rxBroadcast(ctx context.Context, _ uint8, p []byte) error {
	msg, err := DecodeDataMessage(p)
	if err != nil {
		return err
	}
	r.handler.OnBroadcast(ctx, msg)
	return nil
}

func (r *EventRouter) rxAcknowledged(ctx context.Context, _ uint8, p []byte) error {
	msg, err := DecodeDataMessage(p)
	if err != nil {
		return err
	}
	r.handler.OnAcknowledged(ctx, msg)
	return nil
}

func (r *EventRouter) rxBurst(ctx context.Context, _ uint8, p []byte) error {
	if len(p) < 1 {
		return ErrShortPayload
	}
	r.burstPacket(ctx, p[0], p[1:], nil)
	return nil
}

// 带标志字节的变体：先解出扩展字段，再交给对应的普通处理器

func (r *EventRouter) flagged(p []byte) ([]byte, *ExtendedInfo, error) {
	if len(p) < DataPayloadLen {
		return nil, nil, ErrShortPayload
	}
	ext, err := DecodeExtendedInfo(p, DataPayloadLen)
	if err != nil {
		return nil, nil, err
	}
	return p[:DataPayloadLen], ext, nil
}

func (r *EventRouter) rxFlagBroadcast(ctx context.Context, _ uint8, p []byte) error {
	base, ext, err := r.flagged(p)
	if err != nil {
		return err
	}
	msg, _ := DecodeDataMessage(base)
	msg.Ext = ext
	r.handler.OnBroadcast(ctx, msg)
	return nil
}

func (r *EventRouter) rxFlagAcknowledged(ctx context.Context, _ uint8, p []byte) error {
	base, ext, err := r.flagged(p)
	if err != nil {
		return err
	}
	msg, _ := DecodeDataMessage(base)
	msg.Ext = ext
	r.handler.OnAcknowledged(ctx, msg)
	return nil
}

func (r *EventRouter) rxFlagBurst(ctx context.Context, _ uint8, p []byte) error {
	base, ext, err := r.flagged(p)
	if err != nil {
		return err
	}
	r.burstPacket(ctx, base[0], base[1:], ext)
	return nil
}

// 旧式扩展变体：[通道, 设备ID 4 字节, 数据 8 字节]

const legacyExtLen = 1 + 4 + 8

func (r *EventRouter) legacyExt(p []byte) (DataMessage, error) {
	if len(p) < legacyExtLen {
		return DataMessage{}, ErrShortPayload
	}
	id, err := DecodeDeviceID(p[1:5])
	if err != nil {
		return DataMessage{}, err
	}
	data := make([]byte, 8)
	copy(data, p[5:legacyExtLen])
	return DataMessage{
		Channel: p[0],
		Data:    data,
		Ext:     &ExtendedInfo{Flags: ExtFlagDeviceID, DeviceID: &id},
	}, nil
}

func (r *EventRouter) rxExtBroadcast(ctx context.Context, _ uint8, p []byte) error {
	msg, err := r.legacyExt(p)
	if err != nil {
		return err
	}
	r.handler.OnBroadcast(ctx, msg)
	return nil
}

func (r *EventRouter) rxExtAcknowledged(ctx context.Context, _ uint8, p []byte) error {
	msg, err := r.legacyExt(p)
	if err != nil {
		return err
	}
	r.handler.OnAcknowledged(ctx, msg)
	return nil
}

func (r *EventRouter) rxExtBurst(ctx context.Context, _ uint8, p []byte) error {
	msg, err := r.legacyExt(p)
	if err != nil {
		return err
	}
	r.burstPacket(ctx, msg.Channel, msg.Data, msg.Ext)
	return nil
}

// burstPacket 按序号重组突发传输，序号错乱时丢弃整个传输
func (r *EventRouter) burstPacket(ctx context.Context, header byte, data []byte, ext *ExtendedInfo) {
	hdr := DecodeBurstHeader(header)
	body := make([]byte, len(data))
	copy(body, data)
	pkt := BurstPacket{Channel: hdr.Channel, Sequence: hdr.Sequence, Last: hdr.Last(), Data: body, Ext: ext}
	r.handler.OnBurstPacket(ctx, pkt)

	var complete []byte
	r.burstMu.Lock()
	st := r.bursts[hdr.Channel]
	if st == nil {
		st = &burstState{}
		r.bursts[hdr.Channel] = st
	}
	counter := hdr.Counter()
	switch {
	case counter == 0:
		st.active = true
		st.data = append(st.data[:0], body...)
	case st.active && counter == st.next:
		st.data = append(st.data, body...)
	default:
		expected := st.next
		active := st.active
		st.active = false
		st.data = nil
		r.burstMu.Unlock()
		r.log.Warn("burst sequence error, transfer dropped",
			zap.Uint8("channel", hdr.Channel),
			zap.Uint8("seq", counter),
			zap.Uint8("expected", expected),
			zap.Bool("in_transfer", active))
		return
	}
	st.next = nextBurstCounter(counter)
	if pkt.Last {
		complete = st.data
		st.active = false
		st.data = nil
	}
	r.burstMu.Unlock()

	if complete != nil {
		r.handler.OnBurstTransfer(ctx, hdr.Channel, complete, ext)
	}
}

func (r *EventRouter) resetBurst(ch uint8) {
	r.burstMu.Lock()
	delete(r.bursts, ch)
	r.burstMu.Unlock()
}

// Reset 丢弃所有未完成的突发传输（设备复位或传输层关闭时）
func (r *EventRouter) Reset() {
	r.burstMu.Lock()
	r.bursts = make(map[uint8]*burstState)
	r.burstMu.Unlock()
}
