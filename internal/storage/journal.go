// Package storage 持久化接收数据与通道事件。
package storage

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/ant-server/internal/channel"
	"github.com/taoyao-code/ant-server/internal/protocol/ant"
	"github.com/taoyao-code/ant-server/internal/storage/models"
)

// DeviceChannel 设备级记录（如注册表清空）使用的通道号
const DeviceChannel int16 = -1

type record struct {
	data  *models.DataMessage
	event *models.ChannelEvent
}

// Journal 事件处理器：将接收数据与通道事件异步写入 JournalRepo。
// 回调只入队，不阻塞帧处理；队列满时丢弃并计数。
type Journal struct {
	*ant.DefaultEventHandler

	repo      JournalRepo
	instance  string
	records   chan record
	opTimeout time.Duration
	log       *zap.Logger
	now       func() time.Time
	dropped   atomic.Int64

	retention     time.Duration
	purgeInterval time.Duration
}

type JournalOption func(*Journal)

// WithJournalLogger 设置日志
func WithJournalLogger(log *zap.Logger) JournalOption {
	return func(j *Journal) {
		if log != nil {
			j.log = log
		}
	}
}

// WithBuffer 设置写入队列长度
func WithBuffer(n int) JournalOption {
	return func(j *Journal) {
		if n > 0 {
			j.records = make(chan record, n)
		}
	}
}

// WithRetention 定期删除早于 retention 的记录；retention <= 0 不清理。
// interval <= 0 时每小时清理一次。
func WithRetention(retention, interval time.Duration) JournalOption {
	return func(j *Journal) {
		j.retention = retention
		if interval > 0 {
			j.purgeInterval = interval
		}
	}
}

// WithJournalNow 注入时钟（测试用）
func WithJournalNow(now func() time.Time) JournalOption {
	return func(j *Journal) { j.now = now }
}

// NewJournal 创建日志处理器，需调用 Run 启动写入
func NewJournal(repo JournalRepo, instance string, opts ...JournalOption) *Journal {
	j := &Journal{
		repo:      repo,
		instance:  instance,
		records:   make(chan record, 1024),
		opTimeout: 3 * time.Second,
		log:       zap.NewNop(),
		now:       time.Now,

		purgeInterval: time.Hour,
	}
	for _, opt := range opts {
		opt(j)
	}
	j.DefaultEventHandler = ant.NewDefaultEventHandler(j.log)
	return j
}

// Instance 写入记录使用的实例标识
func (j *Journal) Instance() string { return j.instance }

// Dropped 因队列满丢弃的记录数
func (j *Journal) Dropped() int64 { return j.dropped.Load() }

// Run 消费写入队列直到 ctx 结束，退出前尽量写完已入队记录
func (j *Journal) Run(ctx context.Context) {
	var purgeC <-chan time.Time
	if j.retention > 0 {
		ticker := time.NewTicker(j.purgeInterval)
		defer ticker.Stop()
		purgeC = ticker.C
	}
	for {
		select {
		case <-ctx.Done():
			j.drain()
			return
		case rec := <-j.records:
			j.write(context.Background(), rec)
		case <-purgeC:
			j.purge(ctx)
		}
	}
}

func (j *Journal) purge(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, j.opTimeout)
	defer cancel()
	before := j.now().Add(-j.retention)
	n, err := j.repo.PurgeBefore(ctx, before)
	if err != nil {
		j.log.Warn("journal purge failed", zap.Error(err))
		return
	}
	if n > 0 {
		j.log.Info("journal purged", zap.Int64("rows", n), zap.Time("before", before))
	}
}

func (j *Journal) drain() {
	for {
		select {
		case rec := <-j.records:
			j.write(context.Background(), rec)
		default:
			return
		}
	}
}

func (j *Journal) write(parent context.Context, rec record) {
	ctx, cancel := context.WithTimeout(parent, j.opTimeout)
	defer cancel()
	var err error
	switch {
	case rec.data != nil:
		err = j.repo.AppendData(ctx, rec.data)
	case rec.event != nil:
		err = j.repo.AppendEvent(ctx, rec.event)
	}
	if err != nil {
		j.log.Warn("journal write failed", zap.Error(err))
	}
}

func (j *Journal) enqueue(rec record) {
	select {
	case j.records <- rec:
	default:
		if n := j.dropped.Add(1); n == 1 || n%100 == 0 {
			j.log.Warn("journal queue full, record dropped", zap.Int64("dropped", n))
		}
	}
}

func (j *Journal) appendData(ch uint8, kind string, data []byte, ext *ant.ExtendedInfo) {
	rec := &models.DataMessage{
		Instance:   j.instance,
		Channel:    int16(ch),
		Kind:       kind,
		Data:       append([]byte(nil), data...),
		ReceivedAt: j.now(),
	}
	if ext != nil {
		if ext.DeviceID != nil {
			num := int32(ext.DeviceID.Number)
			typ := int16(ext.DeviceID.Type)
			tt := int16(ext.DeviceID.TransmissionType)
			rec.DeviceNumber, rec.DeviceType, rec.TransmissionType = &num, &typ, &tt
		}
		if ext.RSSI != nil {
			v := int16(ext.RSSI.Value)
			rec.RSSI = &v
		}
		if ext.Timestamp != nil {
			ts := int32(*ext.Timestamp)
			rec.RxTimestamp = &ts
		}
	}
	j.enqueue(record{data: rec})
}

func (j *Journal) appendEvent(ch int16, event string, code *int16, detail string) {
	rec := &models.ChannelEvent{
		Instance:  j.instance,
		Channel:   ch,
		Event:     event,
		Code:      code,
		CreatedAt: j.now(),
	}
	if detail != "" {
		rec.Detail = &detail
	}
	j.enqueue(record{event: rec})
}

func (j *Journal) channelEvent(ch uint8, code ant.EventCode) {
	c := int16(code)
	j.appendEvent(int16(ch), code.String(), &c, "")
}

func (j *Journal) OnBroadcast(_ context.Context, msg ant.DataMessage) {
	j.appendData(msg.Channel, "broadcast", msg.Data, msg.Ext)
}

func (j *Journal) OnAcknowledged(_ context.Context, msg ant.DataMessage) {
	j.appendData(msg.Channel, "acknowledged", msg.Data, msg.Ext)
}

func (j *Journal) OnBurstTransfer(_ context.Context, ch uint8, data []byte, ext *ant.ExtendedInfo) {
	j.appendData(ch, "burst", data, ext)
}

func (j *Journal) OnRxSearchTimeout(ctx context.Context, ch uint8) {
	j.DefaultEventHandler.OnRxSearchTimeout(ctx, ch)
	j.channelEvent(ch, ant.EventRxSearchTimeout)
}

func (j *Journal) OnRxFailGoToSearch(ctx context.Context, ch uint8) {
	j.DefaultEventHandler.OnRxFailGoToSearch(ctx, ch)
	j.channelEvent(ch, ant.EventRxFailGoToSearch)
}

func (j *Journal) OnTransferRxFailed(ctx context.Context, ch uint8) {
	j.DefaultEventHandler.OnTransferRxFailed(ctx, ch)
	j.channelEvent(ch, ant.EventTransferRxFailed)
}

func (j *Journal) OnTransferTxFailed(ctx context.Context, ch uint8) {
	j.DefaultEventHandler.OnTransferTxFailed(ctx, ch)
	j.channelEvent(ch, ant.EventTransferTxFailed)
}

func (j *Journal) OnChannelCollision(ctx context.Context, ch uint8) {
	j.DefaultEventHandler.OnChannelCollision(ctx, ch)
	j.channelEvent(ch, ant.EventChannelCollision)
}

func (j *Journal) OnChannelClosed(ctx context.Context, ch uint8) {
	j.DefaultEventHandler.OnChannelClosed(ctx, ch)
	j.channelEvent(ch, ant.EventChannelClosed)
}

// ChannelUpdated 记录状态变化
func (j *Journal) ChannelUpdated(s channel.Snapshot) {
	detail := ""
	if s.DeviceID != nil {
		detail = fmt.Sprintf("device=%d type=%d tt=%d", s.DeviceID.Number, s.DeviceID.Type, s.DeviceID.TransmissionType)
	}
	j.appendEvent(int16(s.Number), "state:"+s.State.String(), nil, detail)
}

func (j *Journal) ChannelRemoved(number uint8) {
	j.appendEvent(int16(number), "state:"+channel.Closed.String(), nil, "")
}

func (j *Journal) Cleared() {
	j.appendEvent(DeviceChannel, "registry_cleared", nil, "")
}

var (
	_ ant.EventHandler = (*Journal)(nil)
	_ channel.Observer = (*Journal)(nil)
)
