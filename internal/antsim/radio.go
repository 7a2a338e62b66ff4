// Package antsim 进程内模拟 ANT 射频模块：应答命令、回送请求的数据、
// 并可注入接收数据与通道事件。
package antsim

import (
	"context"
	"encoding/binary"
	"sync"

	"go.uber.org/zap"

	"github.com/taoyao-code/ant-server/internal/protocol/ant"
	"github.com/taoyao-code/ant-server/internal/transport"
)

type simChannel struct {
	open bool
	id   ant.DeviceID
	typ  ant.ChannelType
	net  uint8
}

// Radio 模拟设备，挂在 transport.Pipe 的设备端
type Radio struct {
	mu       sync.Mutex
	channels map[uint8]*simChannel
	failNext map[ant.MessageID]ant.ResponseCode
	silent   map[ant.MessageID]bool
	received []ant.Frame

	pipe         *transport.Pipe
	decoder      *ant.StreamDecoder
	maxChannels  uint8
	maxNetworks  uint8
	capabilities []byte
	serial       uint32
	version      string
	log          *zap.Logger
}

type Option func(*Radio)

func WithLogger(log *zap.Logger) Option {
	return func(r *Radio) {
		if log != nil {
			r.log = log
		}
	}
}

// WithChannels 通道数与网络数
func WithChannels(channels, networks uint8) Option {
	return func(r *Radio) {
		r.maxChannels = channels
		r.maxNetworks = networks
	}
}

func WithSerial(n uint32) Option { return func(r *Radio) { r.serial = n } }

func WithVersion(v string) Option { return func(r *Radio) { r.version = v } }

// WithCapabilities 覆盖能力响应的选项字节（byte2 起）
func WithCapabilities(options []byte) Option {
	return func(r *Radio) { r.capabilities = append([]byte(nil), options...) }
}

// New 创建模拟设备
func New(pipe *transport.Pipe, opts ...Option) *Radio {
	r := &Radio{
		channels:    make(map[uint8]*simChannel),
		failNext:    make(map[ant.MessageID]ant.ResponseCode),
		silent:      make(map[ant.MessageID]bool),
		pipe:        pipe,
		decoder:     ant.NewStreamDecoder(),
		maxChannels: 8,
		maxNetworks: 3,
		// 全部标准能力可用；网络、序列号、低优先级搜索、扩展消息、高级突发
		capabilities: []byte{
			0x00,
			ant.CapabilitiesNetworkEnabled | ant.CapabilitiesSerialNumberEnabled |
				ant.CapabilitiesPerChannelTxPowerEnabled | ant.CapabilitiesLowPrioritySearchEnabled,
			ant.CapabilitiesExtMessageEnabled | ant.CapabilitiesExtAssignEnabled,
			0x00,
			ant.CapabilitiesAdvancedBurstEnabled,
			0x00,
		},
		serial:  0x12345678,
		version: "AP2-SIM1.00",
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// FailNext 下一条指定命令以 code 应答
func (r *Radio) FailNext(id ant.MessageID, code ant.ResponseCode) {
	r.mu.Lock()
	r.failNext[id] = code
	r.mu.Unlock()
}

// Silence 对指定命令不作应答（模拟超时）
func (r *Radio) Silence(id ant.MessageID, on bool) {
	r.mu.Lock()
	r.silent[id] = on
	r.mu.Unlock()
}

// Received 已收到的命令
func (r *Radio) Received() []ant.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ant.Frame(nil), r.received...)
}

// Run 处理主机写出的命令直到 ctx 结束或管道关闭
func (r *Radio) Run(ctx context.Context) {
	for {
		select {
		case b := <-r.pipe.Commands():
			for _, f := range r.decoder.Feed(b) {
				r.handle(f)
			}
		case <-ctx.Done():
			return
		case <-r.pipe.Done():
			return
		}
	}
}

// Startup 模拟上电，发送启动消息
func (r *Radio) Startup(reason ant.StartupReason) {
	r.mu.Lock()
	r.channels = make(map[uint8]*simChannel)
	r.mu.Unlock()
	r.emit(ant.Frame{ID: ant.MesgStartup, Payload: []byte{byte(reason)}})
}

// InjectBroadcast 注入一条广播接收数据
func (r *Radio) InjectBroadcast(ch uint8, data []byte) {
	r.emit(ant.Frame{ID: ant.MesgBroadcastData, Payload: append([]byte{ch}, pad8(data)...)})
}

// InjectFlaggedBroadcast 注入带设备 ID 与 RSSI 的广播接收数据
func (r *Radio) InjectFlaggedBroadcast(ch uint8, data []byte, id ant.DeviceID, rssi int8) {
	p := append([]byte{ch}, pad8(data)...)
	p = append(p, ant.ExtFlagDeviceID|ant.ExtFlagRSSI)
	p = append(p, id.Bytes()...)
	p = append(p, 0x20, byte(rssi), 0xB0)
	r.emit(ant.Frame{ID: ant.MesgBroadcastData, Payload: p})
}

// InjectAcknowledged 注入一条确认接收数据
func (r *Radio) InjectAcknowledged(ch uint8, data []byte) {
	r.emit(ant.Frame{ID: ant.MesgAcknowledgedData, Payload: append([]byte{ch}, pad8(data)...)})
}

// InjectBurst 注入一次完整突发接收
func (r *Radio) InjectBurst(ch uint8, data []byte) {
	for _, f := range ant.BurstPackets(ch, data) {
		r.emit(f)
	}
}

// InjectEvent 注入通道事件
func (r *Radio) InjectEvent(ch uint8, code ant.EventCode) {
	if code == ant.EventChannelClosed {
		r.mu.Lock()
		if c, ok := r.channels[ch]; ok {
			c.open = false
		}
		r.mu.Unlock()
	}
	r.emit(ant.Frame{ID: ant.MesgResponseEvent, Payload: []byte{ch, byte(ant.MesgEvent), byte(code)}})
}

// InjectFrame 注入任意帧
func (r *Radio) InjectFrame(f ant.Frame) { r.emit(f) }

func (r *Radio) emit(f ant.Frame) {
	if err := r.pipe.Inject(f.Encode()); err != nil {
		r.log.Debug("sim emit dropped", zap.Stringer("msg", f.ID), zap.Error(err))
	}
}

func (r *Radio) respond(ch uint8, id ant.MessageID, code ant.ResponseCode) {
	r.emit(ant.Frame{ID: ant.MesgResponseEvent, Payload: []byte{ch, byte(id), byte(code)}})
}

func (r *Radio) handle(f ant.Frame) {
	ch := f.Channel()
	r.mu.Lock()
	r.received = append(r.received, f)
	if r.silent[f.ID] {
		r.mu.Unlock()
		return
	}
	if code, ok := r.failNext[f.ID]; ok {
		delete(r.failNext, f.ID)
		r.mu.Unlock()
		r.respond(ch, f.ID, code)
		return
	}
	code, after := r.applyLocked(f)
	r.mu.Unlock()

	r.log.Debug("sim command", zap.Stringer("msg", f.ID), zap.Uint8("channel", ch), zap.Stringer("status", code))
	switch f.ID {
	case ant.MesgSystemReset:
		r.Startup(ant.ResetCommand)
		return
	case ant.MesgRequest:
		r.reply(f)
		return
	case ant.MesgBroadcastData:
		// 广播数据不应答，发送结果以 EVENT_TX 体现
		r.InjectEvent(ch, ant.EventTx)
		return
	case ant.MesgAcknowledgedData:
		r.InjectEvent(ch, ant.EventTransferTxCompleted)
		return
	case ant.MesgBurstData, ant.MesgAdvBurstData:
		h := ant.DecodeBurstHeader(ch)
		if h.Counter() == 0 {
			r.InjectEvent(h.Channel, ant.EventTransferTxStart)
		}
		if h.Last() {
			r.InjectEvent(h.Channel, ant.EventTransferTxCompleted)
		}
		return
	}
	r.respond(ch, f.ID, code)
	for _, fn := range after {
		fn()
	}
}

// applyLocked 按命令更新模拟状态，返回应答状态与应答之后要发出的事件
func (r *Radio) applyLocked(f ant.Frame) (ant.ResponseCode, []func()) {
	ch := f.Channel()
	c := r.channels[ch]
	switch f.ID {
	case ant.MesgAssignChannel:
		if ch >= r.maxChannels {
			return ant.InvalidMessage, nil
		}
		if c != nil {
			return ant.ChannelInWrongState, nil
		}
		sc := &simChannel{}
		if len(f.Payload) >= 3 {
			sc.typ = ant.ChannelType(f.Payload[1])
			sc.net = f.Payload[2]
		}
		r.channels[ch] = sc
	case ant.MesgUnassignChannel:
		if c == nil || c.open {
			return ant.ChannelInWrongState, nil
		}
		delete(r.channels, ch)
	case ant.MesgChannelID:
		if c == nil {
			return ant.ChannelInWrongState, nil
		}
		if id, err := ant.DecodeDeviceID(f.Payload[1:]); err == nil {
			c.id = id
		}
	case ant.MesgOpenChannel:
		if c == nil || c.open {
			return ant.ChannelInWrongState, nil
		}
		c.open = true
	case ant.MesgCloseChannel:
		if c == nil || !c.open {
			return ant.ChannelNotOpened, nil
		}
		c.open = false
		return ant.ResponseNoError, []func(){func() { r.InjectEvent(ch, ant.EventChannelClosed) }}
	case ant.MesgNetworkKey:
		if ch >= r.maxNetworks {
			return ant.InvalidNetworkNumber, nil
		}
	case ant.MesgChannelMesgPeriod, ant.MesgChannelSearchTimeout, ant.MesgSetLPSearchTimeout,
		ant.MesgChannelRadioFreq, ant.MesgAutoFreqConfig, ant.MesgChannelRadioTxPower:
		if c == nil {
			return ant.ChannelInWrongState, nil
		}
	}
	return ant.ResponseNoError, nil
}

// reply 请求消息的数据响应
func (r *Radio) reply(f ant.Frame) {
	if len(f.Payload) < 2 {
		r.respond(f.Channel(), ant.MesgRequest, ant.InvalidMessage)
		return
	}
	ch := f.Payload[0]
	switch id := ant.MessageID(f.Payload[1]); id {
	case ant.MesgCapabilities:
		r.mu.Lock()
		p := append([]byte{r.maxChannels, r.maxNetworks}, r.capabilities...)
		r.mu.Unlock()
		r.emit(ant.Frame{ID: ant.MesgCapabilities, Payload: p})
	case ant.MesgGetSerialNum:
		p := make([]byte, 4)
		binary.LittleEndian.PutUint32(p, r.serial)
		r.emit(ant.Frame{ID: ant.MesgGetSerialNum, Payload: p})
	case ant.MesgVersion:
		r.emit(ant.Frame{ID: ant.MesgVersion, Payload: append([]byte(r.version), 0)})
	case ant.MesgChannelStatus:
		r.mu.Lock()
		var state byte
		if c, ok := r.channels[ch]; ok {
			state = 1
			if c.open {
				state = 2
			}
			state |= (c.net&0x03)<<2 | byte(c.typ)&0xF0
		}
		r.mu.Unlock()
		r.emit(ant.Frame{ID: ant.MesgChannelStatus, Payload: []byte{ch, state}})
	case ant.MesgChannelID:
		r.mu.Lock()
		var id ant.DeviceID
		if c, ok := r.channels[ch]; ok {
			id = c.id
		}
		r.mu.Unlock()
		r.emit(ant.Frame{ID: ant.MesgChannelID, Payload: append([]byte{ch}, id.Bytes()...)})
	case ant.MesgConfigAdvBurst:
		r.emit(ant.Frame{ID: ant.MesgConfigAdvBurst, Payload: []byte{0, 24, 0x01, 0, 0}})
	default:
		r.respond(ch, ant.MesgRequest, ant.InvalidMessage)
	}
}

func pad8(data []byte) []byte {
	out := make([]byte, 8)
	copy(out, data)
	return out
}
