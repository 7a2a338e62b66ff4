package ant

import (
	"errors"
	"fmt"
)

var (
	ErrBadSync        = errors.New("bad sync byte")
	ErrShortPacket    = errors.New("short packet")
	ErrBadLength      = errors.New("bad length")
	ErrBadChecksum    = errors.New("bad checksum")
	ErrShortPayload   = errors.New("short payload")
	ErrUnknownMessage = errors.New("unknown message id")
	ErrUnknownEvent   = errors.New("unknown event code")
)

// RangeError 配置参数越界，合法区间为 [Min, Max)
type RangeError struct {
	Field string
	Value int
	Min   int
	Max   int
}

func (e *RangeError) Error() string {
	if e.Max == e.Min+1 {
		return fmt.Sprintf("%s %d out of range: must be exactly %d", e.Field, e.Value, e.Min)
	}
	return fmt.Sprintf("%s %d out of range [%d, %d)", e.Field, e.Value, e.Min, e.Max)
}

// ProtocolError 响应事件携带非零状态码
type ProtocolError struct {
	Channel   uint8
	MessageID MessageID
	Op        string
	Code      ResponseCode
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s failed on channel %d: %s (0x%02x)", e.Op, e.Channel, e.Code, uint8(e.Code))
}
