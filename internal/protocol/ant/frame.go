package ant

// SyncByte 串口帧同步字节
const SyncByte = 0xA4

// MaxPayloadLen 单帧最大负载（扩展突发 + 标志字段）
const MaxPayloadLen = 41

// Frame 与传输层交换的消息单元
type Frame struct {
	ID      MessageID
	Payload []byte
}

// Channel 负载首字节（多数消息为通道号）
func (f Frame) Channel() uint8 {
	if len(f.Payload) == 0 {
		return 0
	}
	return f.Payload[0]
}

// checksum 对所有前置字节做异或
func checksum(b []byte) byte {
	var x byte
	for _, v := range b {
		x ^= v
	}
	return x
}

// Encode 生成串口帧: A4 | len | id | payload | xor
func (f Frame) Encode() []byte {
	buf := make([]byte, 0, len(f.Payload)+4)
	buf = append(buf, SyncByte, byte(len(f.Payload)), byte(f.ID))
	buf = append(buf, f.Payload...)
	return append(buf, checksum(buf))
}

// Parse 严格解析一帧（sync、长度、校验）
func Parse(raw []byte) (Frame, error) {
	if len(raw) < 4 {
		return Frame{}, ErrShortPacket
	}
	if raw[0] != SyncByte {
		return Frame{}, ErrBadSync
	}
	n := int(raw[1])
	if n > MaxPayloadLen || n+4 != len(raw) {
		return Frame{}, ErrBadLength
	}
	if checksum(raw[:len(raw)-1]) != raw[len(raw)-1] {
		return Frame{}, ErrBadChecksum
	}
	payload := make([]byte, n)
	copy(payload, raw[3:3+n])
	return Frame{ID: MessageID(raw[2]), Payload: payload}, nil
}

// StreamDecoder 处理半包/粘包的流式解码器
type StreamDecoder struct {
	buf []byte
}

// NewStreamDecoder 创建流式解码器
func NewStreamDecoder() *StreamDecoder {
	return &StreamDecoder{}
}

// Feed 追加数据并尽可能解出多帧，无法同步的字节被丢弃
func (d *StreamDecoder) Feed(p []byte) []Frame {
	if len(p) == 0 {
		return nil
	}
	d.buf = append(d.buf, p...)
	var frames []Frame

	for {
		start := indexSync(d.buf)
		if start < 0 {
			d.buf = d.buf[:0]
			return frames
		}
		d.buf = d.buf[start:]
		if len(d.buf) < 2 {
			return frames
		}
		n := int(d.buf[1])
		if n > MaxPayloadLen {
			d.buf = d.buf[1:]
			continue
		}
		total := n + 4
		if len(d.buf) < total {
			// 半包，等待更多
			return frames
		}
		fr, err := Parse(d.buf[:total])
		if err != nil {
			d.buf = d.buf[1:]
			continue
		}
		frames = append(frames, fr)
		d.buf = d.buf[total:]
	}
}

// Buffered 尚未消费的字节数
func (d *StreamDecoder) Buffered() int { return len(d.buf) }

func indexSync(b []byte) int {
	for i, v := range b {
		if v == SyncByte {
			return i
		}
	}
	return -1
}
