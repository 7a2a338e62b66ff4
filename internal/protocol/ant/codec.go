package ant

import (
	"bytes"
	"encoding/binary"
)

// ResponseEvent 响应事件负载: [通道, 原消息ID, 状态]
type ResponseEvent struct {
	Channel   uint8
	MessageID MessageID
	Code      ResponseCode
}

// Success 状态为 0
func (r ResponseEvent) Success() bool { return r.Code == ResponseNoError }

// IsChannelEvent 原消息ID为事件标记时，第三字节是通道事件码
func (r ResponseEvent) IsChannelEvent() bool { return r.MessageID == MesgEvent }

// DecodeResponseEvent 解析响应事件负载
func DecodeResponseEvent(p []byte) (ResponseEvent, error) {
	if len(p) < 3 {
		return ResponseEvent{}, ErrShortPayload
	}
	return ResponseEvent{Channel: p[0], MessageID: MessageID(p[1]), Code: ResponseCode(p[2])}, nil
}

// BurstHeader 突发包首字节: 低 5 位通道号，高 3 位序号
type BurstHeader struct {
	Channel  uint8
	Sequence uint8
}

// DecodeBurstHeader 拆分突发包首字节
func DecodeBurstHeader(b byte) BurstHeader {
	return BurstHeader{
		Channel:  b & ChannelNumberMask,
		Sequence: (b & SequenceNumberMask) >> 5,
	}
}

// Encode 还原首字节
func (h BurstHeader) Encode() byte {
	return (h.Sequence << 5 & SequenceNumberMask) | (h.Channel & ChannelNumberMask)
}

// Counter 滚动计数 0..3，0 表示首包
func (h BurstHeader) Counter() uint8 { return h.Sequence & 0x03 }

// Last 是否为最后一包
func (h BurstHeader) Last() bool { return h.Sequence&0x04 != 0 }

// DeviceID 通道 ID 三元组
type DeviceID struct {
	Number           uint16 `json:"device_number"`
	Type             uint8  `json:"device_type"`
	Pairing          bool   `json:"pairing"`
	TransmissionType uint8  `json:"transmission_type"`
}

// DecodeDeviceID 解析 4 字节: 设备号(LE) | 类型(含配对位) | 传输类型
func DecodeDeviceID(b []byte) (DeviceID, error) {
	if len(b) < 4 {
		return DeviceID{}, ErrShortPayload
	}
	return DeviceID{
		Number:           binary.LittleEndian.Uint16(b[0:2]),
		Type:             b[2] &^ DeviceTypePairingFlag,
		Pairing:          b[2]&DeviceTypePairingFlag != 0,
		TransmissionType: b[3],
	}, nil
}

// Bytes 编码为 4 字节
func (d DeviceID) Bytes() []byte {
	t := d.Type &^ DeviceTypePairingFlag
	if d.Pairing {
		t |= DeviceTypePairingFlag
	}
	return []byte{byte(d.Number), byte(d.Number >> 8), t, d.TransmissionType}
}

// RSSI 信号强度扩展字段
type RSSI struct {
	MeasurementType uint8 `json:"measurement_type"`
	Value           int8  `json:"value"`
	Threshold       int8  `json:"threshold"`
}

// ExtendedInfo 带标志字节的扩展接收信息
type ExtendedInfo struct {
	Flags     uint8     `json:"flags"`
	DeviceID  *DeviceID `json:"device_id,omitempty"`
	RSSI      *RSSI     `json:"rssi,omitempty"`
	Timestamp *uint16   `json:"timestamp,omitempty"`
}

// DecodeExtendedInfo 从 base 偏移处读取标志字节及其后续字段。
// base 之后没有数据时返回 nil。
func DecodeExtendedInfo(p []byte, base int) (*ExtendedInfo, error) {
	if len(p) <= base {
		return nil, nil
	}
	info := &ExtendedInfo{Flags: p[base]}
	off := base + 1
	if info.Flags&ExtFlagDeviceID != 0 {
		id, err := DecodeDeviceID(p[off:])
		if err != nil {
			return nil, err
		}
		info.DeviceID = &id
		off += 4
	}
	if info.Flags&ExtFlagRSSI != 0 {
		if len(p) < off+3 {
			return nil, ErrShortPayload
		}
		info.RSSI = &RSSI{MeasurementType: p[off], Value: int8(p[off+1]), Threshold: int8(p[off+2])}
		off += 3
	}
	if info.Flags&ExtFlagTimestamp != 0 {
		if len(p) < off+2 {
			return nil, ErrShortPayload
		}
		ts := binary.LittleEndian.Uint16(p[off : off+2])
		info.Timestamp = &ts
	}
	return info, nil
}

// DataMessage 接收到的广播/确认/突发数据
type DataMessage struct {
	Channel uint8         `json:"channel"`
	Data    []byte        `json:"data"`
	Ext     *ExtendedInfo `json:"ext,omitempty"`
}

// DataPayloadLen 基础数据负载长度: 通道字节 + 8 字节数据
const DataPayloadLen = 9

// DecodeDataMessage 读取首字节和其后至多 8 字节数据
func DecodeDataMessage(p []byte) (DataMessage, error) {
	if len(p) < 1 {
		return DataMessage{}, ErrShortPayload
	}
	end := len(p)
	if end > DataPayloadLen {
		end = DataPayloadLen
	}
	data := make([]byte, end-1)
	copy(data, p[1:end])
	return DataMessage{Channel: p[0], Data: data}, nil
}

// ChannelStatus 通道状态响应
type ChannelStatus struct {
	Channel uint8       `json:"channel"`
	State   uint8       `json:"state"` // 0 未分配 1 已分配 2 搜索中 3 跟踪中
	Network uint8       `json:"network"`
	Type    ChannelType `json:"type"`
}

// DecodeChannelStatus 解析 [通道, 状态字节]
func DecodeChannelStatus(p []byte) (ChannelStatus, error) {
	if len(p) < 2 {
		return ChannelStatus{}, ErrShortPayload
	}
	b := p[1]
	return ChannelStatus{
		Channel: p[0],
		State:   b & 0x03,
		Network: (b >> 2) & 0x03,
		Type:    ChannelType(b & 0xF0),
	}, nil
}

// DecodeChannelIDResponse 解析 [通道, 设备ID 4 字节]
func DecodeChannelIDResponse(p []byte) (uint8, DeviceID, error) {
	if len(p) < 5 {
		return 0, DeviceID{}, ErrShortPayload
	}
	id, err := DecodeDeviceID(p[1:])
	return p[0], id, err
}

// DecodeSerialNumber 4 字节小端序列号
func DecodeSerialNumber(p []byte) (uint32, error) {
	if len(p) < 4 {
		return 0, ErrShortPayload
	}
	return binary.LittleEndian.Uint32(p[:4]), nil
}

// DecodeVersion 以 NUL 结尾的版本字符串
func DecodeVersion(p []byte) string {
	if i := bytes.IndexByte(p, 0); i >= 0 {
		p = p[:i]
	}
	return string(p)
}

// DecodeStartup 启动消息原因
func DecodeStartup(p []byte) (StartupReason, error) {
	if len(p) < 1 {
		return 0, ErrShortPayload
	}
	return StartupReason(p[0]), nil
}

// AdvancedBurstCapabilities 高级突发能力
type AdvancedBurstCapabilities struct {
	MaxPacketLength   uint8  `json:"max_packet_length"`
	SupportedFeatures uint32 `json:"supported_features"`
}

// DecodeAdvancedBurstCapabilities 解析 [填充, 最大包长, 特性 3 字节 LE]
func DecodeAdvancedBurstCapabilities(p []byte) (AdvancedBurstCapabilities, error) {
	if len(p) < 5 {
		return AdvancedBurstCapabilities{}, ErrShortPayload
	}
	return AdvancedBurstCapabilities{
		MaxPacketLength:   p[1],
		SupportedFeatures: uint32(p[2]) | uint32(p[3])<<8 | uint32(p[4])<<16,
	}, nil
}
