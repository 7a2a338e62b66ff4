package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/taoyao-code/ant-server/internal/antsim"
	"github.com/taoyao-code/ant-server/internal/channel"
	"github.com/taoyao-code/ant-server/internal/outbound"
	"github.com/taoyao-code/ant-server/internal/pending"
	"github.com/taoyao-code/ant-server/internal/protocol/ant"
	"github.com/taoyao-code/ant-server/internal/transport"
)

type rig struct {
	session *DeviceSession
	radio   *antsim.Radio
}

// newRig 会话 + 路由 + 下行队列 + 模拟设备
func newRig(t *testing.T, timeout time.Duration) *rig {
	t.Helper()
	log := zaptest.NewLogger(t)
	pipe := transport.NewPipe(64)
	radio := antsim.New(pipe, antsim.WithLogger(log.Named("sim")))

	registry := channel.NewRegistry(8, channel.WithLogger(log))
	tracker := pending.NewTracker(pending.WithTimeout(timeout))
	queue := outbound.NewQueue(pipe, outbound.WithRate(1000, 100), outbound.WithLogger(log))
	s := New(registry, tracker, queue, WithLogger(log))

	events := ant.NewEventRouter(ant.NewDefaultEventHandler(log), registry, log, nil)
	responses := ant.NewResponseRouter(s, events, log, nil)
	responses.AddObserver(tracker)
	adapter := ant.NewAdapter(responses, events)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		queue.Close()
		_ = pipe.Close()
	})
	go radio.Run(ctx)
	go queue.Run(ctx)
	go func() {
		_ = pipe.Serve(ctx, func(b []byte) {
			if err := adapter.ProcessBytes(ctx, b); err != nil {
				log.Warn("process bytes", zap.Error(err))
			}
		})
	}()
	return &rig{session: s, radio: radio}
}

func TestBringUpAndWait(t *testing.T) {
	r := newRig(t, time.Second)
	s := r.session
	ctx := context.Background()

	key := []byte{0xB9, 0xA5, 0x21, 0xFB, 0xBD, 0x72, 0xC3, 0x45}
	require.NoError(t, s.SetNetworkKeyAndWait(ctx, 0, key))
	require.NoError(t, s.AssignChannelAndWait(ctx, 0, ant.ChannelTypeSlave, 0, 0))
	require.NoError(t, s.SetChannelIDAndWait(ctx, 0, 0, 120, 0, false))
	require.NoError(t, s.SetChannelPeriodAndWait(ctx, 0, 8070))
	require.NoError(t, s.SetChannelRFFreqAndWait(ctx, 0, 57))
	require.NoError(t, s.SetChannelSearchTimeoutAndWait(ctx, 0, 12))
	require.NoError(t, s.OpenChannelAndWait(ctx, 0))

	got, ok := s.NetworkKey(0)
	require.True(t, ok)
	assert.Equal(t, key, got)

	c, ok := s.Registry().Get(0)
	require.True(t, ok)
	snap := c.Snapshot()
	assert.Equal(t, channel.Opened, snap.State)
	require.NotNil(t, snap.DeviceID)
	assert.Equal(t, uint8(120), snap.DeviceID.Type)
	require.NotNil(t, snap.Period)
	assert.Equal(t, uint16(8070), *snap.Period)
	require.NotNil(t, snap.RFFrequency)
	assert.Equal(t, uint8(57), *snap.RFFrequency)
	assert.Equal(t, 0, s.Tracker().Pending())
}

func TestProtocolErrorLeavesState(t *testing.T) {
	r := newRig(t, time.Second)
	s := r.session
	ctx := context.Background()

	require.NoError(t, s.AssignChannelAndWait(ctx, 1, ant.ChannelTypeSlave, 0, 0))
	r.radio.FailNext(ant.MesgOpenChannel, ant.ChannelInWrongState)

	err := s.OpenChannelAndWait(ctx, 1)
	var perr *ant.ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, ant.ChannelInWrongState, perr.Code)
	assert.Equal(t, uint8(1), perr.Channel)

	c, ok := s.Registry().Get(1)
	require.True(t, ok)
	assert.Equal(t, channel.Assigned, c.State())
}

func TestAssignRejectedNotRegistered(t *testing.T) {
	r := newRig(t, time.Second)
	r.radio.FailNext(ant.MesgAssignChannel, ant.InvalidNetworkNumber)

	err := r.session.AssignChannelAndWait(context.Background(), 2, ant.ChannelTypeMaster, 0, 0)
	var perr *ant.ProtocolError
	require.ErrorAs(t, err, &perr)
	_, ok := r.session.Registry().Get(2)
	assert.False(t, ok)

	// 失败的分配不留下挂起状态，可以重试
	require.NoError(t, r.session.AssignChannelAndWait(context.Background(), 2, ant.ChannelTypeMaster, 0, 0))
}

func TestNoResponseTimeout(t *testing.T) {
	r := newRig(t, 50*time.Millisecond)
	s := r.session
	ctx := context.Background()

	require.NoError(t, s.AssignChannelAndWait(ctx, 0, ant.ChannelTypeSlave, 0, 0))
	r.radio.Silence(ant.MesgChannelMesgPeriod, true)

	err := s.SetChannelPeriodAndWait(ctx, 0, 4096)
	assert.ErrorIs(t, err, pending.ErrNoResponse)

	c, _ := s.Registry().Get(0)
	assert.Nil(t, c.Snapshot().Period, "period is committed only on success")
}

func TestRequestsStoreDeviceInfo(t *testing.T) {
	r := newRig(t, time.Second)
	s := r.session
	ctx := context.Background()

	caps, err := s.RequestCapabilities(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint8(8), caps.MaxChannels)
	assert.True(t, caps.AdvancedBurstEnabled)

	require.NoError(t, s.RequestMessageAndWait(ctx, 0, ant.MesgGetSerialNum))
	require.NoError(t, s.RequestMessageAndWait(ctx, 0, ant.MesgVersion))

	info := s.Info()
	require.NotNil(t, info.SerialNumber)
	assert.Equal(t, uint32(0x12345678), *info.SerialNumber)
	assert.Equal(t, "AP2-SIM1.00", info.Version)

	require.NoError(t, s.AssignChannelAndWait(ctx, 3, ant.ChannelTypeSlave, 0, 0))
	require.NoError(t, s.RequestMessageAndWait(ctx, 3, ant.MesgChannelStatus))
	st, ok := s.ChannelStatus(3)
	require.True(t, ok)
	assert.Equal(t, uint8(1), st.State)

	err = s.RequestMessage(0, ant.MesgOpenChannel)
	assert.ErrorIs(t, err, ant.ErrUnknownMessage)
}

func TestCloseIsIdempotent(t *testing.T) {
	r := newRig(t, time.Second)
	s := r.session
	ctx := context.Background()

	require.NoError(t, s.AssignChannelAndWait(ctx, 0, ant.ChannelTypeSlave, 0, 0))
	require.NoError(t, s.OpenChannelAndWait(ctx, 0))
	require.NoError(t, s.CloseChannelAndWait(ctx, 0))

	// 关闭响应与随后的通道关闭事件都不会报错
	require.Eventually(t, func() bool { return s.Registry().Len() == 0 }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, s.OpenChannel(0), channel.ErrChannelNotFound)
}

func TestCloseAfterDeviceClosed(t *testing.T) {
	r := newRig(t, time.Second)
	s := r.session
	ctx := context.Background()

	require.NoError(t, s.AssignChannelAndWait(ctx, 0, ant.ChannelTypeSlave, 0, 0))
	require.NoError(t, s.OpenChannelAndWait(ctx, 0))

	// 设备先发出通道关闭事件
	r.radio.InjectEvent(0, ant.EventChannelClosed)
	require.Eventually(t, func() bool { return s.Registry().Len() == 0 }, time.Second, 5*time.Millisecond)
	sent := len(r.radio.Received())

	assert.NoError(t, s.CloseChannel(0))
	assert.NoError(t, s.CloseChannelAndWait(ctx, 0))
	assert.Equal(t, 0, s.Tracker().Pending())
	assert.Len(t, r.radio.Received(), sent, "absent channel must not be closed on the wire")

	// 越界通道号仍然是校验错误
	var rerr *ant.RangeError
	assert.ErrorAs(t, s.CloseChannel(99), &rerr)
}

func TestDeviceConfigCommitsInOrder(t *testing.T) {
	r := newRig(t, time.Second)
	s := r.session
	r.radio.Silence(ant.MesgRadioTxPower, true)

	require.NoError(t, s.SetTransmitPower(1))
	require.NoError(t, s.SetTransmitPower(3))
	require.Eventually(t, func() bool {
		n := 0
		for _, f := range r.radio.Received() {
			if f.ID == ant.MesgRadioTxPower {
				n++
			}
		}
		return n == 2
	}, time.Second, 5*time.Millisecond)

	// 第一条成功、第二条失败：设备实际生效的是 1
	require.NoError(t, s.Confirm(0, ant.MesgRadioTxPower))
	s.Reject(0, ant.MesgRadioTxPower, ant.InvalidMessage)
	info := s.Info()
	require.NotNil(t, info.TransmitPower)
	assert.Equal(t, uint8(1), *info.TransmitPower)
}

func TestResetClearsRegistry(t *testing.T) {
	r := newRig(t, time.Second)
	s := r.session
	ctx := context.Background()

	require.NoError(t, s.AssignChannelAndWait(ctx, 0, ant.ChannelTypeSlave, 0, 0))
	require.NoError(t, s.EnableExtendedMessagesAndWait(ctx, true))
	assert.True(t, s.Info().ExtendedMessages)

	require.NoError(t, s.ResetSystemAndWait(ctx))
	assert.Equal(t, 0, s.Registry().Len())

	info := s.Info()
	require.NotNil(t, info.StartupReason)
	assert.Equal(t, ant.ResetCommand, *info.StartupReason)
	assert.False(t, info.ExtendedMessages)
}

func TestValidationErrors(t *testing.T) {
	r := newRig(t, time.Second)
	s := r.session

	var rerr *ant.RangeError
	assert.ErrorAs(t, s.AssignChannel(8, ant.ChannelTypeSlave, 0, 0), &rerr)
	assert.ErrorAs(t, s.SetNetworkKey(0, []byte{1, 2, 3}), &rerr)
	assert.ErrorAs(t, s.SetTransmitPower(5), &rerr)
	assert.ErrorAs(t, s.ConfigFrequencyAgility(0, 3, 39, 124), &rerr)
	assert.ErrorIs(t, s.SetChannelPeriod(0, 8070), channel.ErrChannelNotFound)
	assert.ErrorIs(t, s.SendBroadcast(0, []byte{1}), channel.ErrChannelNotFound)

	detached := New(nil, nil, nil)
	assert.ErrorIs(t, detached.SetTransmitPower(0), ErrNoSender)
}

func TestSendBurst(t *testing.T) {
	r := newRig(t, time.Second)
	s := r.session
	ctx := context.Background()

	require.NoError(t, s.AssignChannelAndWait(ctx, 0, ant.ChannelTypeMaster, 0, 0))
	require.NoError(t, s.OpenChannelAndWait(ctx, 0))
	require.NoError(t, s.SendBurst(0, make([]byte, 20)))

	require.Eventually(t, func() bool {
		n := 0
		for _, f := range r.radio.Received() {
			if f.ID == ant.MesgBurstData {
				n++
			}
		}
		return n == 3
	}, time.Second, 5*time.Millisecond)
}

type recordingListener struct {
	updates chan DeviceInfo
}

func (l *recordingListener) DeviceUpdated(info DeviceInfo) {
	select {
	case l.updates <- info:
	default:
	}
}

func TestListenerNotified(t *testing.T) {
	l := &recordingListener{updates: make(chan DeviceInfo, 4)}
	s := New(nil, nil, nil, WithListener(l))
	s.SetVersion("AP2USB1.05")

	select {
	case info := <-l.updates:
		assert.Equal(t, "AP2USB1.05", info.Version)
		assert.False(t, info.UpdatedAt.IsZero())
	case <-time.After(time.Second):
		t.Fatal("listener not called")
	}
	assert.True(t, errors.Is(s.Confirm(0, ant.MesgNetworkKey), channel.ErrNotPending))
}
