package models

import (
	"time"
)

// 注意：
// - 不使用 gorm.Model，显式声明每个字段，避免隐式 DeletedAt
// - instance 区分同一数据库下的多个进程/设备

// DataMessage 映射 ant_data_messages 表（广播/确认/突发接收数据）
type DataMessage struct {
	ID       int64  `gorm:"column:id;primaryKey;autoIncrement"`
	Instance string `gorm:"column:instance;type:varchar(64);not null;index:idx_data_inst_ch_time,priority:1"`
	Channel  int16  `gorm:"column:channel;not null;index:idx_data_inst_ch_time,priority:2"`
	// broadcast | acknowledged | burst
	Kind string `gorm:"column:kind;type:varchar(16);not null"`
	Data []byte `gorm:"column:data;not null"`
	// 扩展信息（设备开启扩展消息时才有）
	DeviceNumber     *int32    `gorm:"column:device_number"`
	DeviceType       *int16    `gorm:"column:device_type"`
	TransmissionType *int16    `gorm:"column:transmission_type"`
	RSSI             *int16    `gorm:"column:rssi"`
	RxTimestamp      *int32    `gorm:"column:rx_timestamp"`
	ReceivedAt       time.Time `gorm:"column:received_at;not null;index:idx_data_inst_ch_time,priority:3,sort:desc"`
}

func (DataMessage) TableName() string { return "ant_data_messages" }

// ChannelEvent 映射 ant_channel_events 表（通道事件与生命周期变更）
type ChannelEvent struct {
	ID       int64  `gorm:"column:id;primaryKey;autoIncrement"`
	Instance string `gorm:"column:instance;type:varchar(64);not null;index:idx_event_inst_ch_time,priority:1"`
	Channel  int16  `gorm:"column:channel;not null;index:idx_event_inst_ch_time,priority:2"`
	// 事件码名称（如 channel_closed）或生命周期状态（如 state:opened）
	Event string `gorm:"column:event;type:varchar(48);not null"`
	// 原始事件码，生命周期记录为空
	Code      *int16    `gorm:"column:code"`
	Detail    *string   `gorm:"column:detail;type:text"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime;index:idx_event_inst_ch_time,priority:3,sort:desc"`
}

func (ChannelEvent) TableName() string { return "ant_channel_events" }

// All 需要自动迁移的模型
func All() []any {
	return []any{&DataMessage{}, &ChannelEvent{}}
}
