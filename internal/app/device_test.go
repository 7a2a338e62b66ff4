package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/taoyao-code/ant-server/internal/antsim"
	"github.com/taoyao-code/ant-server/internal/config"
	"github.com/taoyao-code/ant-server/internal/metrics"
	"github.com/taoyao-code/ant-server/internal/profile"
	"github.com/taoyao-code/ant-server/internal/protocol/ant"
	"github.com/taoyao-code/ant-server/internal/transport"
)

func testDeviceConfig(fatal bool) config.DeviceConfig {
	return config.DeviceConfig{
		Transport:       config.TransportConfig{Mode: "sim", WriteQueue: 64},
		Outbound:        config.OutboundConfig{RatePerSec: 1000, Burst: 100, QueueSize: 64},
		MaxChannels:     8,
		ResponseTimeout: time.Second,
		FatalOnUnknown:  fatal,
	}
}

func fastReset(t *testing.T) {
	t.Helper()
	old := resetSettle
	resetSettle = 10 * time.Millisecond
	t.Cleanup(func() { resetSettle = old })
}

func TestDeviceSimLifecycle(t *testing.T) {
	fastReset(t)
	hrm, ok := profile.Preset("heart_rate")
	require.True(t, ok)
	hrm.Name = "hrm"
	hrm.Channel = 0

	var (
		mu    sync.Mutex
		hooks []bool
	)
	_, m := NewMetrics()
	dev := NewDevice(testDeviceConfig(true), zaptest.NewLogger(t), m,
		WithProfiles([]profile.Profile{hrm}),
		WithReadyHook(func(v bool) {
			mu.Lock()
			hooks = append(hooks, v)
			mu.Unlock()
		}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- dev.Run(ctx) }()

	require.Eventually(t, dev.Ready, 5*time.Second, 10*time.Millisecond)

	st := dev.DeviceStatus()
	assert.True(t, st.Connected)
	assert.True(t, st.Ready)
	assert.Equal(t, "pipe", st.Transport)
	assert.Equal(t, 1, st.Channels)
	assert.Equal(t, 8, st.MaxChannels)
	assert.Zero(t, st.PendingWaits)

	info := dev.Session.Info()
	assert.Equal(t, "AP2-SIM1.00", info.Version)
	require.NotNil(t, info.SerialNumber)
	assert.Equal(t, uint32(0x12345678), *info.SerialNumber)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	assert.False(t, dev.Ready())
	assert.False(t, dev.DeviceStatus().Connected)
	assert.Zero(t, dev.Registry.Len(), "link down clears the registry")
	mu.Lock()
	assert.Equal(t, []bool{true, false}, hooks)
	mu.Unlock()
}

func TestDeviceServeUnknownMessage(t *testing.T) {
	tests := []struct {
		name      string
		fatal     bool
		wantFatal bool
	}{
		{"致命错误断开链路", true, true},
		{"关闭致命处理时忽略", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fastReset(t)
			dev := NewDevice(testDeviceConfig(tt.fatal), zaptest.NewLogger(t), nil)
			pipe := transport.NewPipe(64)
			defer pipe.Close()
			radio := antsim.New(pipe)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go dev.Queue.Run(ctx)
			go radio.Run(ctx)

			done := make(chan error, 1)
			go func() { done <- dev.Serve(ctx, pipe) }()
			require.Eventually(t, dev.Ready, 5*time.Second, 10*time.Millisecond)

			radio.InjectFrame(ant.Frame{ID: ant.MessageID(0xEE), Payload: []byte{0x00}})

			if !tt.wantFatal {
				select {
				case err := <-done:
					t.Fatalf("Serve returned early: %v", err)
				case <-time.After(100 * time.Millisecond):
				}
				assert.True(t, dev.Ready())
				cancel()
			}

			select {
			case err := <-done:
				if tt.wantFatal {
					assert.True(t, errors.Is(err, errFatal))
					assert.ErrorIs(t, err, ant.ErrUnknownMessage)
				} else {
					assert.NoError(t, err)
				}
			case <-time.After(3 * time.Second):
				t.Fatal("Serve did not return")
			}
			assert.False(t, dev.Ready())
		})
	}
}

func TestDeviceTeardownFailsWaits(t *testing.T) {
	fastReset(t)
	cfg := testDeviceConfig(true)
	cfg.ResponseTimeout = 5 * time.Second
	dev := NewDevice(cfg, zaptest.NewLogger(t), nil)
	pipe := transport.NewPipe(64)
	radio := antsim.New(pipe)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go dev.Queue.Run(ctx)
	go radio.Run(ctx)
	done := make(chan error, 1)
	go func() { done <- dev.Serve(ctx, pipe) }()
	require.Eventually(t, dev.Ready, 5*time.Second, 10*time.Millisecond)

	// 模拟设备不应答，链路断开时等待立即失败
	radio.Silence(ant.MesgAssignChannel, true)
	waitErr := make(chan error, 1)
	go func() {
		waitErr <- dev.Session.AssignChannelAndWait(ctx, 1, ant.ChannelTypeSlave, 0, 0)
	}()
	require.Eventually(t, func() bool { return dev.Tracker.Pending() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, pipe.Close())
	select {
	case err := <-waitErr:
		assert.ErrorIs(t, err, ErrLinkDown)
	case <-time.After(2 * time.Second):
		t.Fatal("wait not released by teardown")
	}
	<-done
}

func TestLinkWrite(t *testing.T) {
	var l link
	assert.ErrorIs(t, l.Write([]byte{1}), transport.ErrClosed)

	p1 := transport.NewPipe(4)
	p2 := transport.NewPipe(4)
	l.attach(p1)
	require.NoError(t, l.Write([]byte{1}))
	assert.Equal(t, []byte{1}, <-p1.Commands())

	// 重连后旧连接的 detach 不影响新连接
	l.attach(p2)
	l.detach(p1)
	assert.Same(t, p2, l.current())
	l.detach(p2)
	assert.Nil(t, l.current())
}

func TestMetricsRegistered(t *testing.T) {
	reg, m := NewMetrics()
	require.NotNil(t, m)
	m.DialBreakerTrips.Inc()
	dev := NewDevice(testDeviceConfig(false), zaptest.NewLogger(t), m)
	RegisterDeviceGauges(reg, dev)

	families, err := reg.Gather()
	require.NoError(t, err)
	values := map[string]float64{}
	for _, f := range families {
		for _, mt := range f.GetMetric() {
			if g := mt.GetGauge(); g != nil {
				values[f.GetName()] = g.GetValue()
			}
			if c := mt.GetCounter(); c != nil {
				values[f.GetName()] = c.GetValue()
			}
		}
	}
	assert.Equal(t, 1.0, values["ant_dial_breaker_trips_total"])
	assert.Equal(t, 0.0, values["ant_device_ready"])
	assert.Contains(t, values, "ant_outbound_queue_length")
	assert.Contains(t, values, "ant_pending_waits")
	assert.Contains(t, values, "ant_channels_registered")
	_ = metrics.Handler(reg)
}
