package thirdparty

import (
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"github.com/taoyao-code/ant-server/internal/protocol/ant"
)

// EventType 推送事件类型
type EventType string

const (
	EventBroadcast      EventType = "ant.data.broadcast"
	EventAcknowledged   EventType = "ant.data.acknowledged"
	EventBurst          EventType = "ant.data.burst"
	EventChannelClosed  EventType = "ant.channel.closed"
	EventSearchTimeout  EventType = "ant.channel.search_timeout"
	EventRxFailSearch   EventType = "ant.channel.rx_fail_go_to_search"
	EventTransferFailed EventType = "ant.channel.transfer_failed"
	EventCollision      EventType = "ant.channel.collision"
)

// StandardEvent 推送给第三方的事件
type StandardEvent struct {
	EventID   string         `json:"event_id"` // 去重用
	EventType EventType      `json:"event_type"`
	Instance  string         `json:"instance"`
	Channel   uint8          `json:"channel"`
	Timestamp int64          `json:"timestamp"` // 毫秒
	Data      map[string]any `json:"data,omitempty"`
}

func newEvent(typ EventType, instance string, ch uint8, at time.Time) StandardEvent {
	return StandardEvent{
		EventID:   uuid.NewString(),
		EventType: typ,
		Instance:  instance,
		Channel:   ch,
		Timestamp: at.UnixMilli(),
	}
}

// dataPayload 接收数据事件的 data 字段：十六进制负载与扩展信息
func dataPayload(data []byte, ext *ant.ExtendedInfo) map[string]any {
	out := map[string]any{"payload": hex.EncodeToString(data)}
	if ext == nil {
		return out
	}
	if ext.DeviceID != nil {
		out["device_number"] = ext.DeviceID.Number
		out["device_type"] = ext.DeviceID.Type
		out["transmission_type"] = ext.DeviceID.TransmissionType
	}
	if ext.RSSI != nil {
		out["rssi"] = ext.RSSI.Value
	}
	if ext.Timestamp != nil {
		out["rx_timestamp"] = *ext.Timestamp
	}
	return out
}
