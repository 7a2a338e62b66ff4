package antsim

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/taoyao-code/ant-server/internal/protocol/ant"
	"github.com/taoyao-code/ant-server/internal/transport"
)

type host struct {
	mu      sync.Mutex
	frames  []ant.Frame
	decoder *ant.StreamDecoder
}

func startRadio(t *testing.T, opts ...Option) (*Radio, *transport.Pipe, *host) {
	t.Helper()
	pipe := transport.NewPipe(32)
	radio := New(pipe, append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)...)
	h := &host{decoder: ant.NewStreamDecoder()}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		_ = pipe.Close()
	})
	go radio.Run(ctx)
	go func() {
		_ = pipe.Serve(ctx, func(b []byte) {
			h.mu.Lock()
			h.frames = append(h.frames, h.decoder.Feed(b)...)
			h.mu.Unlock()
		})
	}()
	return radio, pipe, h
}

func (h *host) waitFrames(t *testing.T, n int) []ant.Frame {
	t.Helper()
	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.frames) >= n
	}, time.Second, 5*time.Millisecond)
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]ant.Frame(nil), h.frames...)
}

func TestRadioAnswersCommands(t *testing.T) {
	_, pipe, h := startRadio(t)

	require.NoError(t, pipe.Write(ant.AssignChannel(0, ant.ChannelTypeSlave, 0, 0).Encode()))
	require.NoError(t, pipe.Write(ant.OpenChannel(0).Encode()))
	require.NoError(t, pipe.Write(ant.OpenChannel(0).Encode()))

	frames := h.waitFrames(t, 3)
	ev0, err := ant.DecodeResponseEvent(frames[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, ant.MesgAssignChannel, ev0.MessageID)
	assert.True(t, ev0.Success())

	ev2, err := ant.DecodeResponseEvent(frames[2].Payload)
	require.NoError(t, err)
	assert.Equal(t, ant.MesgOpenChannel, ev2.MessageID)
	assert.Equal(t, ant.ChannelInWrongState, ev2.Code, "second open is rejected")
}

func TestRadioCloseEmitsChannelClosed(t *testing.T) {
	_, pipe, h := startRadio(t)
	for _, f := range []ant.Frame{
		ant.AssignChannel(1, ant.ChannelTypeSlave, 0, 0),
		ant.OpenChannel(1),
		ant.CloseChannel(1),
	} {
		require.NoError(t, pipe.Write(f.Encode()))
	}

	frames := h.waitFrames(t, 4)
	closed, err := ant.DecodeResponseEvent(frames[3].Payload)
	require.NoError(t, err)
	assert.True(t, closed.IsChannelEvent())
	assert.Equal(t, uint8(1), closed.Channel)
	assert.Equal(t, ant.ResponseCode(ant.EventChannelClosed), closed.Code)
}

func TestRadioRequests(t *testing.T) {
	_, pipe, h := startRadio(t, WithSerial(0xCAFEBABE), WithChannels(4, 2))
	require.NoError(t, pipe.Write(ant.RequestMessage(0, ant.MesgCapabilities).Encode()))
	require.NoError(t, pipe.Write(ant.RequestMessage(0, ant.MesgGetSerialNum).Encode()))
	require.NoError(t, pipe.Write(ant.RequestMessage(0, ant.MesgVersion).Encode()))

	frames := h.waitFrames(t, 3)
	caps, err := ant.DecodeCapabilities(frames[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, uint8(4), caps.MaxChannels)
	assert.Equal(t, uint8(2), caps.MaxNetworks)
	assert.True(t, caps.RxChannelsEnabled)
	assert.True(t, caps.ExtMessageEnabled)

	serial, err := ant.DecodeSerialNumber(frames[1].Payload)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xCAFEBABE), serial)
	assert.Equal(t, "AP2-SIM1.00", ant.DecodeVersion(frames[2].Payload))
}

func TestRadioFailNextAndReset(t *testing.T) {
	radio, pipe, h := startRadio(t)
	radio.FailNext(ant.MesgNetworkKey, ant.InvalidNetworkNumber)

	require.NoError(t, pipe.Write(ant.SetNetworkKey(0, make([]byte, 8)).Encode()))
	require.NoError(t, pipe.Write(ant.ResetSystem().Encode()))

	frames := h.waitFrames(t, 2)
	ev, err := ant.DecodeResponseEvent(frames[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, ant.InvalidNetworkNumber, ev.Code)

	assert.Equal(t, ant.MesgStartup, frames[1].ID)
	reason, err := ant.DecodeStartup(frames[1].Payload)
	require.NoError(t, err)
	assert.Equal(t, ant.ResetCommand, reason)
	assert.Len(t, radio.Received(), 2)
}
