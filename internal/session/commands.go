package session

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/taoyao-code/ant-server/internal/channel"
	"github.com/taoyao-code/ant-server/internal/pending"
	"github.com/taoyao-code/ant-server/internal/protocol/ant"
)

// op 一次下行操作：先登记挂起配置，再发送，可选等待响应
type op struct {
	channel uint8
	expect  pending.Key
	frames  []ant.Frame
	prepare func() error
	err     error
	// done 无需下发，直接视为成功
	done bool
}

func failed(err error) op { return op{err: err} }

func (s *DeviceSession) do(ctx context.Context, o op, wait bool) error {
	if o.err != nil {
		return o.err
	}
	if o.done {
		return nil
	}
	s.mu.RLock()
	sender := s.sender
	s.mu.RUnlock()
	if sender == nil {
		return ErrNoSender
	}
	if o.prepare != nil {
		if err := o.prepare(); err != nil {
			return err
		}
	}

	// 先登记等待者再发送，响应不会早于登记到达
	var w *pending.Waiter
	if wait {
		w = s.tracker.ExpectKey(o.expect)
	}
	for _, f := range o.frames {
		id, err := sender.Send(f)
		if err != nil {
			if w != nil {
				s.tracker.Cancel(w)
			}
			if !o.expect.Request {
				s.withdraw(o.expect.Channel, o.expect.MessageID)
			}
			return fmt.Errorf("send %s: %w", f.ID, err)
		}
		s.log.Debug("command sent",
			zap.String("cmd_id", id),
			zap.Stringer("msg", f.ID),
			zap.Uint8("channel", o.channel))
	}
	if w == nil {
		return nil
	}
	_, err := s.tracker.Wait(ctx, w)
	return err
}

func (s *DeviceSession) channelNumber(n int) (uint8, error) {
	return ant.ValidateChannelNumber(n, s.registry.MaxChannels())
}

func (s *DeviceSession) lookup(n int) (*channel.Channel, error) {
	ch, err := s.channelNumber(n)
	if err != nil {
		return nil, err
	}
	c, ok := s.registry.Get(ch)
	if !ok {
		return nil, fmt.Errorf("%w: %d", channel.ErrChannelNotFound, ch)
	}
	return c, nil
}

// channelOp 作用于已分配通道的命令
func (s *DeviceSession) channelOp(n int, f func(c *channel.Channel) (ant.Frame, func() error, error)) op {
	c, err := s.lookup(n)
	if err != nil {
		return failed(err)
	}
	frame, prepare, err := f(c)
	if err != nil {
		return failed(err)
	}
	return op{
		channel: c.Number(),
		expect:  pending.Key{Channel: c.Number(), MessageID: frame.ID},
		frames:  []ant.Frame{frame},
		prepare: prepare,
	}
}

// --- 通道配置 ---

func (s *DeviceSession) assignOp(n int, t ant.ChannelType, network int, ext uint8) op {
	ch, err := s.channelNumber(n)
	if err != nil {
		return failed(err)
	}
	net, err := ant.ValidateNetworkNumber(network)
	if err != nil {
		return failed(err)
	}
	cfg := channel.Config{Type: t, Network: net, ExtendedOptions: ext}
	return op{
		channel: ch,
		expect:  pending.Key{Channel: ch, MessageID: ant.MesgAssignChannel},
		frames:  []ant.Frame{ant.AssignChannel(ch, t, net, ext)},
		prepare: func() error { return s.registry.ExpectAssign(ch, cfg) },
	}
}

// AssignChannel 分配通道；通道在成功响应后才进入注册表
func (s *DeviceSession) AssignChannel(n int, t ant.ChannelType, network int, ext uint8) error {
	return s.do(context.Background(), s.assignOp(n, t, network, ext), false)
}

func (s *DeviceSession) AssignChannelAndWait(ctx context.Context, n int, t ant.ChannelType, network int, ext uint8) error {
	return s.do(ctx, s.assignOp(n, t, network, ext), true)
}

func (s *DeviceSession) unassignOp(n int) op {
	return s.channelOp(n, func(c *channel.Channel) (ant.Frame, func() error, error) {
		return ant.UnassignChannel(c.Number()), nil, nil
	})
}

func (s *DeviceSession) UnassignChannel(n int) error {
	return s.do(context.Background(), s.unassignOp(n), false)
}

func (s *DeviceSession) UnassignChannelAndWait(ctx context.Context, n int) error {
	return s.do(ctx, s.unassignOp(n), true)
}

func (s *DeviceSession) channelIDOp(n, deviceNumber, deviceType, transmissionType int, pairing bool) op {
	num, err := ant.ValidateDeviceNumber(deviceNumber)
	if err != nil {
		return failed(err)
	}
	typ, err := ant.ValidateDeviceType(deviceType)
	if err != nil {
		return failed(err)
	}
	trans, err := ant.ValidateTransmissionType(transmissionType)
	if err != nil {
		return failed(err)
	}
	id := ant.DeviceID{Number: num, Type: typ, Pairing: pairing, TransmissionType: trans}
	return s.channelOp(n, func(c *channel.Channel) (ant.Frame, func() error, error) {
		return ant.SetChannelID(c.Number(), id), func() error { return c.ExpectChannelID(id) }, nil
	})
}

// SetChannelID 设置通道 ID；0 表示通配（从机搜索任意设备）
func (s *DeviceSession) SetChannelID(n, deviceNumber, deviceType, transmissionType int, pairing bool) error {
	return s.do(context.Background(), s.channelIDOp(n, deviceNumber, deviceType, transmissionType, pairing), false)
}

func (s *DeviceSession) SetChannelIDAndWait(ctx context.Context, n, deviceNumber, deviceType, transmissionType int, pairing bool) error {
	return s.do(ctx, s.channelIDOp(n, deviceNumber, deviceType, transmissionType, pairing), true)
}

func (s *DeviceSession) periodOp(n, period int) op {
	p, err := ant.ValidatePeriod(period)
	if err != nil {
		return failed(err)
	}
	return s.channelOp(n, func(c *channel.Channel) (ant.Frame, func() error, error) {
		return ant.SetChannelPeriod(c.Number(), p), func() error { return c.ExpectPeriod(p) }, nil
	})
}

// SetChannelPeriod 消息周期，单位 1/32768 秒
func (s *DeviceSession) SetChannelPeriod(n, period int) error {
	return s.do(context.Background(), s.periodOp(n, period), false)
}

func (s *DeviceSession) SetChannelPeriodAndWait(ctx context.Context, n, period int) error {
	return s.do(ctx, s.periodOp(n, period), true)
}

func (s *DeviceSession) searchTimeoutOp(n, timeout int) op {
	t, err := ant.ValidateSearchTimeout(timeout)
	if err != nil {
		return failed(err)
	}
	return s.channelOp(n, func(c *channel.Channel) (ant.Frame, func() error, error) {
		return ant.SetChannelSearchTimeout(c.Number(), t), func() error { return c.ExpectSearchTimeout(t) }, nil
	})
}

// SetChannelSearchTimeout 高优先级搜索超时，单位 2.5 秒，255 为不超时
func (s *DeviceSession) SetChannelSearchTimeout(n, timeout int) error {
	return s.do(context.Background(), s.searchTimeoutOp(n, timeout), false)
}

func (s *DeviceSession) SetChannelSearchTimeoutAndWait(ctx context.Context, n, timeout int) error {
	return s.do(ctx, s.searchTimeoutOp(n, timeout), true)
}

func (s *DeviceSession) lpSearchTimeoutOp(n, timeout int) op {
	t, err := ant.ValidateSearchTimeout(timeout)
	if err != nil {
		return failed(err)
	}
	return s.channelOp(n, func(c *channel.Channel) (ant.Frame, func() error, error) {
		return ant.SetLowPrioritySearchTimeout(c.Number(), t), func() error { return c.ExpectLowPrioritySearchTimeout(t) }, nil
	})
}

func (s *DeviceSession) SetLowPrioritySearchTimeout(n, timeout int) error {
	return s.do(context.Background(), s.lpSearchTimeoutOp(n, timeout), false)
}

func (s *DeviceSession) SetLowPrioritySearchTimeoutAndWait(ctx context.Context, n, timeout int) error {
	return s.do(ctx, s.lpSearchTimeoutOp(n, timeout), true)
}

func (s *DeviceSession) rfFreqOp(n, freq int) op {
	f, err := ant.ValidateRFFrequency(freq)
	if err != nil {
		return failed(err)
	}
	return s.channelOp(n, func(c *channel.Channel) (ant.Frame, func() error, error) {
		return ant.SetChannelRFFreq(c.Number(), f), func() error { return c.ExpectRFFrequency(f) }, nil
	})
}

// SetChannelRFFreq 射频偏移，实际频率 2400+freq MHz
func (s *DeviceSession) SetChannelRFFreq(n, freq int) error {
	return s.do(context.Background(), s.rfFreqOp(n, freq), false)
}

func (s *DeviceSession) SetChannelRFFreqAndWait(ctx context.Context, n, freq int) error {
	return s.do(ctx, s.rfFreqOp(n, freq), true)
}

func (s *DeviceSession) agilityOp(n, f1, f2, f3 int) op {
	var freqs [3]uint8
	for i, f := range []int{f1, f2, f3} {
		v, err := ant.ValidateRFFrequency(f)
		if err != nil {
			return failed(err)
		}
		freqs[i] = v
	}
	return s.channelOp(n, func(c *channel.Channel) (ant.Frame, func() error, error) {
		return ant.ConfigFrequencyAgility(c.Number(), freqs[0], freqs[1], freqs[2]),
			func() error { return c.ExpectFrequencyAgility(freqs[0], freqs[1], freqs[2]) }, nil
	})
}

func (s *DeviceSession) ConfigFrequencyAgility(n, f1, f2, f3 int) error {
	return s.do(context.Background(), s.agilityOp(n, f1, f2, f3), false)
}

func (s *DeviceSession) ConfigFrequencyAgilityAndWait(ctx context.Context, n, f1, f2, f3 int) error {
	return s.do(ctx, s.agilityOp(n, f1, f2, f3), true)
}

func (s *DeviceSession) channelTxPowerOp(n, power int) op {
	p, err := ant.ValidateTransmitPower(power)
	if err != nil {
		return failed(err)
	}
	return s.channelOp(n, func(c *channel.Channel) (ant.Frame, func() error, error) {
		return ant.SetChannelTxPower(c.Number(), p), func() error { return c.ExpectTxPower(p) }, nil
	})
}

func (s *DeviceSession) SetChannelTxPower(n, power int) error {
	return s.do(context.Background(), s.channelTxPowerOp(n, power), false)
}

func (s *DeviceSession) SetChannelTxPowerAndWait(ctx context.Context, n, power int) error {
	return s.do(ctx, s.channelTxPowerOp(n, power), true)
}

func (s *DeviceSession) openOp(n int) op {
	return s.channelOp(n, func(c *channel.Channel) (ant.Frame, func() error, error) {
		return ant.OpenChannel(c.Number()), nil, c.CheckUsable()
	})
}

// OpenChannel 打开通道；状态在成功响应后变为 opened
func (s *DeviceSession) OpenChannel(n int) error {
	return s.do(context.Background(), s.openOp(n), false)
}

func (s *DeviceSession) OpenChannelAndWait(ctx context.Context, n int) error {
	return s.do(ctx, s.openOp(n), true)
}

// closeOp 通道已不在注册表（设备先行关闭）时不再下发
func (s *DeviceSession) closeOp(n int) op {
	ch, err := s.channelNumber(n)
	if err != nil {
		return failed(err)
	}
	if _, ok := s.registry.Get(ch); !ok {
		s.log.Debug("close on absent channel ignored", zap.Uint8("channel", ch))
		return op{channel: ch, done: true}
	}
	return s.channelOp(n, func(c *channel.Channel) (ant.Frame, func() error, error) {
		return ant.CloseChannel(c.Number()), nil, nil
	})
}

// CloseChannel 关闭通道；成功响应或通道关闭事件都会将其移出注册表
func (s *DeviceSession) CloseChannel(n int) error {
	return s.do(context.Background(), s.closeOp(n), false)
}

func (s *DeviceSession) CloseChannelAndWait(ctx context.Context, n int) error {
	return s.do(ctx, s.closeOp(n), true)
}

// --- 设备级配置 ---

func (s *DeviceSession) networkKeyOp(network int, key []byte) op {
	net, err := ant.ValidateNetworkNumber(network)
	if err != nil {
		return failed(err)
	}
	k, err := ant.ValidateNetworkKey(key)
	if err != nil {
		return failed(err)
	}
	k = append([]byte(nil), k...)
	return op{
		channel: net,
		expect:  pending.Key{Channel: net, MessageID: ant.MesgNetworkKey},
		frames:  []ant.Frame{ant.SetNetworkKey(net, k)},
		prepare: func() error {
			s.mu.Lock()
			s.pendingKeys[net] = append(s.pendingKeys[net], k)
			s.mu.Unlock()
			return nil
		},
	}
}

// SetNetworkKey 设置 8 字节网络密钥
func (s *DeviceSession) SetNetworkKey(network int, key []byte) error {
	return s.do(context.Background(), s.networkKeyOp(network, key), false)
}

func (s *DeviceSession) SetNetworkKeyAndWait(ctx context.Context, network int, key []byte) error {
	return s.do(ctx, s.networkKeyOp(network, key), true)
}

func (s *DeviceSession) txPowerOp(power int) op {
	p, err := ant.ValidateTransmitPower(power)
	if err != nil {
		return failed(err)
	}
	return op{
		expect: pending.Key{Channel: 0, MessageID: ant.MesgRadioTxPower},
		frames: []ant.Frame{ant.SetTransmitPower(p)},
		prepare: func() error {
			s.mu.Lock()
			s.pendingPower = append(s.pendingPower, p)
			s.mu.Unlock()
			return nil
		},
	}
}

// SetTransmitPower 设备级发射功率 0..4
func (s *DeviceSession) SetTransmitPower(power int) error {
	return s.do(context.Background(), s.txPowerOp(power), false)
}

func (s *DeviceSession) SetTransmitPowerAndWait(ctx context.Context, power int) error {
	return s.do(ctx, s.txPowerOp(power), true)
}

func (s *DeviceSession) extMessagesOp(on bool) op {
	return op{
		expect: pending.Key{Channel: 0, MessageID: ant.MesgRxExtMesgsEnable},
		frames: []ant.Frame{ant.EnableExtendedMessages(on)},
		prepare: func() error {
			s.mu.Lock()
			s.pendingExtMesg = append(s.pendingExtMesg, on)
			s.mu.Unlock()
			return nil
		},
	}
}

// EnableExtendedMessages 接收消息附带设备 ID 等扩展字段
func (s *DeviceSession) EnableExtendedMessages(on bool) error {
	return s.do(context.Background(), s.extMessagesOp(on), false)
}

func (s *DeviceSession) EnableExtendedMessagesAndWait(ctx context.Context, on bool) error {
	return s.do(ctx, s.extMessagesOp(on), true)
}

func (s *DeviceSession) libConfigOp(flags uint8) op {
	return op{
		expect: pending.Key{Channel: 0, MessageID: ant.MesgANTLibConfig},
		frames: []ant.Frame{ant.LibConfig(flags)},
	}
}

// LibConfig 扩展输出标志（设备 ID 0x80、RSSI 0x40、时间戳 0x20）
func (s *DeviceSession) LibConfig(flags uint8) error {
	return s.do(context.Background(), s.libConfigOp(flags), false)
}

func (s *DeviceSession) LibConfigAndWait(ctx context.Context, flags uint8) error {
	return s.do(ctx, s.libConfigOp(flags), true)
}

func (s *DeviceSession) advBurstOp(enable bool, maxPackets int) op {
	if maxPackets < 1 || maxPackets > 3 {
		return failed(&ant.RangeError{Field: "max_packets", Value: maxPackets, Min: 1, Max: 4})
	}
	return op{
		expect: pending.Key{Channel: 0, MessageID: ant.MesgConfigAdvBurst},
		frames: []ant.Frame{ant.ConfigAdvancedBurst(enable, uint8(maxPackets))},
	}
}

func (s *DeviceSession) ConfigAdvancedBurst(enable bool, maxPackets int) error {
	return s.do(context.Background(), s.advBurstOp(enable, maxPackets), false)
}

func (s *DeviceSession) ConfigAdvancedBurstAndWait(ctx context.Context, enable bool, maxPackets int) error {
	return s.do(ctx, s.advBurstOp(enable, maxPackets), true)
}

func (s *DeviceSession) resetOp() op {
	return op{
		expect: requestKey(0, ant.MesgStartup),
		frames: []ant.Frame{ant.ResetSystem()},
		prepare: func() error {
			s.registry.Clear()
			return nil
		},
	}
}

// ResetSystem 复位设备，注册表立即清空
func (s *DeviceSession) ResetSystem() error {
	return s.do(context.Background(), s.resetOp(), false)
}

// ResetSystemAndWait 等待设备的启动消息
func (s *DeviceSession) ResetSystemAndWait(ctx context.Context) error {
	return s.do(ctx, s.resetOp(), true)
}

// --- 请求消息 ---

func (s *DeviceSession) requestOp(n int, id ant.MessageID) op {
	var ch uint8
	switch id {
	case ant.MesgChannelStatus, ant.MesgChannelID:
		c, err := s.channelNumber(n)
		if err != nil {
			return failed(err)
		}
		ch = c
	case ant.MesgCapabilities, ant.MesgGetSerialNum, ant.MesgVersion, ant.MesgConfigAdvBurst:
	default:
		return failed(fmt.Errorf("%w: request %s", ant.ErrUnknownMessage, id))
	}
	return op{
		channel: ch,
		expect:  requestKey(ch, id),
		frames:  []ant.Frame{ant.RequestMessage(ch, id)},
	}
}

// RequestMessage 请求数据响应（能力、序列号、版本、通道状态、通道 ID、高级突发能力）
func (s *DeviceSession) RequestMessage(n int, id ant.MessageID) error {
	return s.do(context.Background(), s.requestOp(n, id), false)
}

// RequestMessageAndWait 等待数据响应写入会话后返回
func (s *DeviceSession) RequestMessageAndWait(ctx context.Context, n int, id ant.MessageID) error {
	return s.do(ctx, s.requestOp(n, id), true)
}

// RequestCapabilities 请求并返回设备能力
func (s *DeviceSession) RequestCapabilities(ctx context.Context) (ant.Capabilities, error) {
	if err := s.RequestMessageAndWait(ctx, 0, ant.MesgCapabilities); err != nil {
		return ant.Capabilities{}, err
	}
	info := s.Info()
	if info.Capabilities == nil {
		return ant.Capabilities{}, fmt.Errorf("capabilities: %w", pending.ErrNoResponse)
	}
	return *info.Capabilities, nil
}

// --- 数据发送 ---
// 数据发送的结果以通道事件（TX/传输完成/失败）形式到达，不产生响应事件。

func (s *DeviceSession) dataOp(n int, build func(ch uint8) []ant.Frame) op {
	c, err := s.lookup(n)
	if err != nil {
		return failed(err)
	}
	if err := c.CheckUsable(); err != nil {
		return failed(err)
	}
	return op{channel: c.Number(), frames: build(c.Number())}
}

// SendBroadcast 广播数据（不足 8 字节补零）
func (s *DeviceSession) SendBroadcast(n int, data []byte) error {
	if err := ant.ValidatePayload(data); err != nil {
		return err
	}
	return s.do(context.Background(), s.dataOp(n, func(ch uint8) []ant.Frame {
		return []ant.Frame{ant.BroadcastData(ch, data)}
	}), false)
}

// SendAcknowledged 应答数据
func (s *DeviceSession) SendAcknowledged(n int, data []byte) error {
	if err := ant.ValidatePayload(data); err != nil {
		return err
	}
	return s.do(context.Background(), s.dataOp(n, func(ch uint8) []ant.Frame {
		return []ant.Frame{ant.AcknowledgedData(ch, data)}
	}), false)
}

// SendBurst 突发传输，按 8 字节拆包
func (s *DeviceSession) SendBurst(n int, data []byte) error {
	if len(data) == 0 {
		return &ant.RangeError{Field: "burst_length", Value: 0, Min: 1, Max: 1 << 16}
	}
	return s.do(context.Background(), s.dataOp(n, func(ch uint8) []ant.Frame {
		return ant.BurstPackets(ch, data)
	}), false)
}

// SendAdvancedBurst 高级突发，每条消息携带 packets 个 8 字节包
func (s *DeviceSession) SendAdvancedBurst(n int, data []byte, packets int) error {
	if packets < 1 || packets > 3 {
		return &ant.RangeError{Field: "packets", Value: packets, Min: 1, Max: 4}
	}
	if len(data) == 0 {
		return &ant.RangeError{Field: "burst_length", Value: 0, Min: 1, Max: 1 << 16}
	}
	return s.do(context.Background(), s.dataOp(n, func(ch uint8) []ant.Frame {
		return ant.AdvancedBurstPackets(ch, data, packets)
	}), false)
}
