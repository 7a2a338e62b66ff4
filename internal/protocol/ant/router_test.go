package ant

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/taoyao-code/ant-server/internal/metrics"
)

type confirmCall struct {
	ch uint8
	id MessageID
}

type fakeSession struct {
	mu        sync.Mutex
	confirmed []confirmCall
	rejected  []ResponseCode
	caps      *Capabilities
	serial    uint32
	version   string
	startups  []StartupReason
	closed    map[uint8]bool
	confirmFn func(ch uint8, id MessageID) error
}

func newFakeSession() *fakeSession { return &fakeSession{closed: map[uint8]bool{}} }

func (f *fakeSession) Confirm(ch uint8, id MessageID) error {
	f.mu.Lock()
	f.confirmed = append(f.confirmed, confirmCall{ch, id})
	f.mu.Unlock()
	if f.confirmFn != nil {
		return f.confirmFn(ch, id)
	}
	return nil
}
func (f *fakeSession) Reject(_ uint8, _ MessageID, code ResponseCode) {
	f.rejected = append(f.rejected, code)
}
func (f *fakeSession) SetCapabilities(c Capabilities)                         { f.caps = &c }
func (f *fakeSession) SetSerialNumber(n uint32)                               { f.serial = n }
func (f *fakeSession) SetVersion(v string)                                    { f.version = v }
func (f *fakeSession) SetAdvancedBurstCapabilities(AdvancedBurstCapabilities) {}
func (f *fakeSession) UpdateChannelStatus(ChannelStatus)                      {}
func (f *fakeSession) UpdateChannelID(uint8, DeviceID)                        {}
func (f *fakeSession) Startup(r StartupReason)                                { f.startups = append(f.startups, r) }

// ChannelClosed 第一次返回 true，重复关闭返回 false
func (f *fakeSession) ChannelClosed(ch uint8) bool {
	if f.closed[ch] {
		return false
	}
	f.closed[ch] = true
	return true
}

type recordingHandler struct {
	*DefaultEventHandler
	broadcasts []DataMessage
	acks       []DataMessage
	packets    []BurstPacket
	transfers  [][]byte
	closed     []uint8
	txs        []uint8
	unhandled  []EventCode
}

func (h *recordingHandler) OnBroadcast(_ context.Context, m DataMessage) {
	h.broadcasts = append(h.broadcasts, m)
}
func (h *recordingHandler) OnAcknowledged(_ context.Context, m DataMessage) {
	h.acks = append(h.acks, m)
}
func (h *recordingHandler) OnBurstPacket(_ context.Context, p BurstPacket) {
	h.packets = append(h.packets, p)
}
func (h *recordingHandler) OnBurstTransfer(_ context.Context, _ uint8, d []byte, _ *ExtendedInfo) {
	h.transfers = append(h.transfers, d)
}
func (h *recordingHandler) OnChannelClosed(_ context.Context, ch uint8) {
	h.closed = append(h.closed, ch)
}
func (h *recordingHandler) OnTx(_ context.Context, ch uint8) { h.txs = append(h.txs, ch) }
func (h *recordingHandler) OnUnhandledEvent(ctx context.Context, ch uint8, code EventCode, p []byte) {
	h.unhandled = append(h.unhandled, code)
	h.DefaultEventHandler.OnUnhandledEvent(ctx, ch, code, p)
}

type observerFunc func(ResponseEvent)

func (f observerFunc) OnResponseEvent(ev ResponseEvent) { f(ev) }

func newRouters(t *testing.T) (*ResponseRouter, *EventRouter, *fakeSession, *recordingHandler) {
	log := zaptest.NewLogger(t)
	sess := newFakeSession()
	h := &recordingHandler{DefaultEventHandler: NewDefaultEventHandler(log)}
	m := metrics.NewAppMetrics(metrics.NewRegistry())
	events := NewEventRouter(h, sess, log, m)
	responses := NewResponseRouter(sess, events, log, m)
	return responses, events, sess, h
}

func TestResponseEventSuccessConfirms(t *testing.T) {
	responses, _, sess, _ := newRouters(t)
	var seen []ResponseEvent
	responses.AddObserver(observerFunc(func(ev ResponseEvent) { seen = append(seen, ev) }))

	err := responses.Dispatch(context.Background(), 0, MesgResponseEvent, []byte{0, byte(MesgAssignChannel), 0})
	require.NoError(t, err)
	assert.Equal(t, []confirmCall{{0, MesgAssignChannel}}, sess.confirmed)
	assert.Empty(t, sess.rejected)
	require.Len(t, seen, 1)
	assert.True(t, seen[0].Success())
}

func TestResponseEventErrorIsLoggedNotRaised(t *testing.T) {
	responses, _, sess, _ := newRouters(t)
	err := responses.Dispatch(context.Background(), 1, MesgResponseEvent,
		[]byte{1, byte(MesgOpenChannel), byte(ChannelInWrongState)})
	require.NoError(t, err)
	assert.Empty(t, sess.confirmed)
	assert.Equal(t, []ResponseCode{ChannelInWrongState}, sess.rejected)
}

func TestTransitionRejectionIsNotFatal(t *testing.T) {
	responses, _, sess, _ := newRouters(t)
	sess.confirmFn = func(uint8, MessageID) error { return errors.New("wrong state") }
	err := responses.Dispatch(context.Background(), 0, MesgResponseEvent, []byte{0, byte(MesgOpenChannel), 0})
	assert.NoError(t, err)
}

func TestUnknownMessageIsFatal(t *testing.T) {
	responses, _, _, _ := newRouters(t)

	err := responses.Dispatch(context.Background(), 0, MessageID(0xEE), []byte{0})
	assert.ErrorIs(t, err, ErrUnknownMessage)
	assert.True(t, IsFatal(err))

	// 响应事件中未知的原消息 ID 同样是致命错误
	err = responses.Dispatch(context.Background(), 0, MesgResponseEvent, []byte{0, 0xEE, 0})
	assert.ErrorIs(t, err, ErrUnknownMessage)
}

func TestKnownButUnimplementedIsIgnored(t *testing.T) {
	responses, _, _, _ := newRouters(t)
	assert.True(t, responses.Known(MesgSetCryptoKey))
	assert.NoError(t, responses.Dispatch(context.Background(), 0, MesgSetCryptoKey, []byte{0}))
}

func TestProtocolTableSharedByBothTiers(t *testing.T) {
	responses, _, sess, _ := newRouters(t)
	ctx := context.Background()

	for _, id := range []MessageID{MesgStackLimit, MesgGetTempCal, MesgRadioConfigAlways, MesgScriptCmd, MesgCubeCmd} {
		t.Run(id.String(), func(t *testing.T) {
			assert.True(t, responses.Known(id))
			assert.NoError(t, responses.Dispatch(ctx, 0, id, []byte{0}))

			err := responses.Dispatch(ctx, 0, MesgResponseEvent, []byte{0, byte(id), 0})
			assert.NoError(t, err)
			assert.False(t, IsFatal(err))
		})
	}

	// 表中每个消息在响应事件里都不是未知码
	for id := range messageTable {
		err := responses.Dispatch(ctx, 1, MesgResponseEvent, []byte{1, byte(id), byte(ResponseNoError)})
		assert.NotErrorIs(t, err, ErrUnknownMessage, id.String())
	}
	assert.NotEmpty(t, sess.confirmed)
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "assign channel", Describe(MesgAssignChannel))
	assert.Equal(t, "stack limit", Describe(MesgStackLimit))
	assert.Equal(t, MessageID(0xEE).String(), Describe(MessageID(0xEE)))
}

func TestDataResponses(t *testing.T) {
	responses, _, sess, _ := newRouters(t)
	ctx := context.Background()

	require.NoError(t, responses.Dispatch(ctx, 8, MesgCapabilities, []byte{8, 3, CapabilitiesNoBurstTransfer, 0, CapabilitiesLEDEnabled, 0, 0, 0}))
	require.NotNil(t, sess.caps)
	assert.Equal(t, uint8(8), sess.caps.MaxChannels)
	assert.False(t, sess.caps.BurstTransferEnabled)
	assert.True(t, sess.caps.LEDEnabled)

	require.NoError(t, responses.Dispatch(ctx, 0, MesgGetSerialNum, []byte{1, 0, 0, 0}))
	assert.Equal(t, uint32(1), sess.serial)

	require.NoError(t, responses.Dispatch(ctx, 0, MesgVersion, []byte("AP2USB1.05\x00")))
	assert.Equal(t, "AP2USB1.05", sess.version)

	require.NoError(t, responses.Dispatch(ctx, 0, MesgStartup, []byte{byte(ResetPowerOn)}))
	assert.Equal(t, []StartupReason{ResetPowerOn}, sess.startups)

	err := responses.Dispatch(ctx, 0, MesgCapabilities, []byte{8})
	assert.ErrorIs(t, err, ErrShortPayload)
}

func TestChannelClosedEventIsIdempotent(t *testing.T) {
	responses, _, sess, h := newRouters(t)
	ctx := context.Background()
	closed := []byte{3, byte(MesgEvent), byte(EventChannelClosed)}

	require.NoError(t, responses.Dispatch(ctx, 3, MesgResponseEvent, closed))
	require.NoError(t, responses.Dispatch(ctx, 3, MesgResponseEvent, closed))
	assert.True(t, sess.closed[3])
	// 重复的关闭事件不再通知应用层
	assert.Equal(t, []uint8{3}, h.closed)
	// 通道事件不经过 Confirm
	assert.Empty(t, sess.confirmed)
}

func TestUnknownEventIsFatal(t *testing.T) {
	_, events, _, _ := newRouters(t)
	err := events.Dispatch(context.Background(), 0, EventCode(0xEE), nil)
	assert.ErrorIs(t, err, ErrUnknownEvent)
	assert.True(t, IsFatal(err))
}

func TestUnhandledEventFallsBackToDefault(t *testing.T) {
	_, events, _, h := newRouters(t)
	require.NoError(t, events.Dispatch(context.Background(), 0, EventClkError, []byte{1, 2, 3, 4, 5}))
	assert.Equal(t, []EventCode{EventClkError}, h.unhandled)
}

func TestFlaggedBroadcastDelegates(t *testing.T) {
	_, events, _, h := newRouters(t)
	p := []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, ExtFlagDeviceID, 0x39, 0x30, 0x78, 0x01}
	require.NoError(t, events.Dispatch(context.Background(), 0, EventRxFlagBroadcast, p))
	require.Len(t, h.broadcasts, 1)
	msg := h.broadcasts[0]
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, msg.Data)
	require.NotNil(t, msg.Ext)
	assert.Equal(t, DeviceID{Number: 12345, Type: 0x78, TransmissionType: 1}, *msg.Ext.DeviceID)
}

func TestLegacyExtAcknowledged(t *testing.T) {
	_, events, _, h := newRouters(t)
	p := []byte{2, 0x01, 0x00, 0x0B, 0x05, 9, 9, 9, 9, 9, 9, 9, 9}
	require.NoError(t, events.Dispatch(context.Background(), 2, EventRxExtAcknowledged, p))
	require.Len(t, h.acks, 1)
	assert.Equal(t, uint16(1), h.acks[0].Ext.DeviceID.Number)
	assert.Equal(t, uint8(0x0B), h.acks[0].Ext.DeviceID.Type)
}

func TestBurstReassembly(t *testing.T) {
	_, events, _, h := newRouters(t)
	ctx := context.Background()
	data := make([]byte, 24)
	for i := range data {
		data[i] = byte(i + 1)
	}
	for _, f := range BurstPackets(1, data) {
		require.NoError(t, events.Dispatch(ctx, 1, EventRxBurstPacket, f.Payload))
	}
	require.Len(t, h.packets, 3)
	require.Len(t, h.transfers, 1)
	assert.Equal(t, data, h.transfers[0])
}

func TestBurstOutOfOrderDropsTransfer(t *testing.T) {
	_, events, _, h := newRouters(t)
	ctx := context.Background()
	frames := BurstPackets(1, make([]byte, 24))

	require.NoError(t, events.Dispatch(ctx, 1, EventRxBurstPacket, frames[0].Payload))
	require.NoError(t, events.Dispatch(ctx, 1, EventRxBurstPacket, frames[2].Payload))
	assert.Empty(t, h.transfers)

	// 新的首包重新开始
	for _, f := range frames {
		require.NoError(t, events.Dispatch(ctx, 1, EventRxBurstPacket, f.Payload))
	}
	assert.Len(t, h.transfers, 1)
}

func TestAdapterRoutesFrames(t *testing.T) {
	responses, events, sess, h := newRouters(t)
	a := NewAdapter(responses, events)
	ctx := context.Background()

	stream := Frame{ID: MesgResponseEvent, Payload: []byte{0, byte(MesgAssignChannel), 0}}.Encode()
	stream = append(stream, BroadcastData(0, []byte{0xAA}).Encode()...)
	stream = append(stream, Frame{ID: MesgResponseEvent, Payload: []byte{0, byte(MesgEvent), byte(EventTx)}}.Encode()...)
	flagged := append(BroadcastData(0, []byte{0xBB}).Payload, ExtFlagDeviceID, 1, 0, 2, 3)
	stream = append(stream, Frame{ID: MesgBroadcastData, Payload: flagged}.Encode()...)

	require.NoError(t, a.ProcessBytes(ctx, stream))
	assert.Len(t, sess.confirmed, 1)
	require.Len(t, h.broadcasts, 2)
	assert.Nil(t, h.broadcasts[0].Ext)
	require.NotNil(t, h.broadcasts[1].Ext)
	assert.Equal(t, []uint8{0}, h.txs)

	err := a.Route(ctx, Frame{ID: MessageID(0xEE), Payload: []byte{0}})
	assert.True(t, IsFatal(err))
}
