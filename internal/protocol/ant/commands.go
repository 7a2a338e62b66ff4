package ant

// 下行命令帧构造。参数校验由调用方完成（见 validate.go）。

// AssignChannel 分配通道；ext 为 0 时不携带扩展分配字节
func AssignChannel(ch uint8, t ChannelType, network uint8, ext uint8) Frame {
	p := []byte{ch, byte(t), network}
	if ext != 0 {
		p = append(p, ext)
	}
	return Frame{ID: MesgAssignChannel, Payload: p}
}

func UnassignChannel(ch uint8) Frame {
	return Frame{ID: MesgUnassignChannel, Payload: []byte{ch}}
}

func SetChannelID(ch uint8, id DeviceID) Frame {
	return Frame{ID: MesgChannelID, Payload: append([]byte{ch}, id.Bytes()...)}
}

func SetChannelPeriod(ch uint8, period uint16) Frame {
	return Frame{ID: MesgChannelMesgPeriod, Payload: []byte{ch, byte(period), byte(period >> 8)}}
}

func SetChannelSearchTimeout(ch uint8, timeout uint8) Frame {
	return Frame{ID: MesgChannelSearchTimeout, Payload: []byte{ch, timeout}}
}

func SetLowPrioritySearchTimeout(ch uint8, timeout uint8) Frame {
	return Frame{ID: MesgSetLPSearchTimeout, Payload: []byte{ch, timeout}}
}

func SetChannelRFFreq(ch uint8, freq uint8) Frame {
	return Frame{ID: MesgChannelRadioFreq, Payload: []byte{ch, freq}}
}

// ConfigFrequencyAgility 配置频率捷变的三个频点
func ConfigFrequencyAgility(ch uint8, f1, f2, f3 uint8) Frame {
	return Frame{ID: MesgAutoFreqConfig, Payload: []byte{ch, f1, f2, f3}}
}

func SetNetworkKey(network uint8, key []byte) Frame {
	return Frame{ID: MesgNetworkKey, Payload: append([]byte{network}, key...)}
}

// SetTransmitPower 设备级发射功率
func SetTransmitPower(power uint8) Frame {
	return Frame{ID: MesgRadioTxPower, Payload: []byte{0, power}}
}

// SetChannelTxPower 单通道发射功率
func SetChannelTxPower(ch uint8, power uint8) Frame {
	return Frame{ID: MesgChannelRadioTxPower, Payload: []byte{ch, power}}
}

func OpenChannel(ch uint8) Frame {
	return Frame{ID: MesgOpenChannel, Payload: []byte{ch}}
}

func CloseChannel(ch uint8) Frame {
	return Frame{ID: MesgCloseChannel, Payload: []byte{ch}}
}

// RequestMessage 请求设备回送指定消息
func RequestMessage(ch uint8, id MessageID) Frame {
	return Frame{ID: MesgRequest, Payload: []byte{ch, byte(id)}}
}

// EnableExtendedMessages 打开/关闭旧式扩展接收消息
func EnableExtendedMessages(on bool) Frame {
	var v byte
	if on {
		v = 1
	}
	return Frame{ID: MesgRxExtMesgsEnable, Payload: []byte{0, v}}
}

// LibConfig 设置带标志字节的扩展输出（ExtFlag* 组合）
func LibConfig(flags uint8) Frame {
	return Frame{ID: MesgANTLibConfig, Payload: []byte{0, flags}}
}

// ConfigAdvancedBurst 开启高级突发并设置每条消息的最大包数
func ConfigAdvancedBurst(enable bool, maxPackets uint8) Frame {
	var v byte
	if enable {
		v = 1
	}
	return Frame{ID: MesgConfigAdvBurst, Payload: []byte{0, v, maxPackets, 0, 0, 0, 0, 0, 0}}
}

func ResetSystem() Frame {
	return Frame{ID: MesgSystemReset, Payload: []byte{0}}
}

func pad8(data []byte) []byte {
	out := make([]byte, 8)
	copy(out, data)
	return out
}

// BroadcastData 广播数据，不足 8 字节补零
func BroadcastData(ch uint8, data []byte) Frame {
	return Frame{ID: MesgBroadcastData, Payload: append([]byte{ch}, pad8(data)...)}
}

// AcknowledgedData 确认数据，不足 8 字节补零
func AcknowledgedData(ch uint8, data []byte) Frame {
	return Frame{ID: MesgAcknowledgedData, Payload: append([]byte{ch}, pad8(data)...)}
}

// BurstPackets 将数据切分为 8 字节突发包，序号 0,1,2,3,1,2,3...，末包带结束位
func BurstPackets(ch uint8, data []byte) []Frame {
	return burst(MesgBurstData, ch, data, 8)
}

// AdvancedBurstPackets 高级突发，每条消息携带 packets(1..3) 个 8 字节包
func AdvancedBurstPackets(ch uint8, data []byte, packets int) []Frame {
	if packets < 1 {
		packets = 1
	}
	if packets > 3 {
		packets = 3
	}
	return burst(MesgAdvBurstData, ch, data, 8*packets)
}

func burst(id MessageID, ch uint8, data []byte, chunk int) []Frame {
	if len(data) == 0 {
		data = make([]byte, chunk)
	}
	n := (len(data) + chunk - 1) / chunk
	frames := make([]Frame, 0, n)
	var seq uint8
	for i := 0; i < n; i++ {
		lo := i * chunk
		hi := lo + chunk
		if hi > len(data) {
			hi = len(data)
		}
		s := seq
		if i == n-1 {
			s |= 0x04
		}
		body := make([]byte, chunk)
		copy(body, data[lo:hi])
		hdr := BurstHeader{Channel: ch, Sequence: s}.Encode()
		frames = append(frames, Frame{ID: id, Payload: append([]byte{hdr}, body...)})
		seq = nextBurstCounter(seq)
	}
	return frames
}

// nextBurstCounter 首包后在 1..3 之间滚动
func nextBurstCounter(c uint8) uint8 {
	if c >= 3 {
		return 1
	}
	return c + 1
}
