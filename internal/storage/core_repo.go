package storage

import (
	"context"
	"time"

	"github.com/taoyao-code/ant-server/internal/storage/models"
)

// JournalRepo 接收数据与通道事件日志的存储抽象。
// 上层不直接写 SQL，统一通过本接口访问。
type JournalRepo interface {
	// AppendData 写入一条接收数据
	AppendData(ctx context.Context, rec *models.DataMessage) error
	// AppendEvent 写入一条通道事件或状态变更
	AppendEvent(ctx context.Context, rec *models.ChannelEvent) error

	// ListData 按时间倒序返回接收数据；channel 为 nil 时不过滤
	ListData(ctx context.Context, instance string, channel *uint8, limit int) ([]models.DataMessage, error)
	// ListEvents 按时间倒序返回通道事件
	ListEvents(ctx context.Context, instance string, channel *uint8, limit int) ([]models.ChannelEvent, error)

	// PurgeBefore 删除早于 before 的数据与事件，返回删除行数
	PurgeBefore(ctx context.Context, before time.Time) (int64, error)
}
