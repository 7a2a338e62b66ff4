package channel

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/taoyao-code/ant-server/internal/metrics"
	"github.com/taoyao-code/ant-server/internal/protocol/ant"
)

// Observer 注册表变更通知，调用时不持有注册表锁
type Observer interface {
	ChannelUpdated(s Snapshot)
	ChannelRemoved(number uint8)
	Cleared()
}

// Registry 通道表：通道号 -> Channel，最多 max 个
type Registry struct {
	mu       sync.Mutex
	channels map[uint8]*Channel
	assigns  map[uint8]Config
	// closing 已由关闭响应移除、仍在等待设备关闭事件的通道
	closing map[uint8]struct{}
	max     int

	observers []Observer
	log       *zap.Logger
	metrics   *metrics.AppMetrics
}

type Option func(*Registry)

const defaultMaxChannels = 8

// WithLogger 设置日志
func WithLogger(log *zap.Logger) Option {
	return func(r *Registry) {
		if log != nil {
			r.log = log
		}
	}
}

// WithMetrics 维护在线通道数指标
func WithMetrics(m *metrics.AppMetrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithObserver 增加变更观察者
func WithObserver(o Observer) Option {
	return func(r *Registry) {
		if o != nil {
			r.observers = append(r.observers, o)
		}
	}
}

// NewRegistry 创建通道表；maxChannels<=0 时使用默认值 8
func NewRegistry(maxChannels int, opts ...Option) *Registry {
	if maxChannels <= 0 {
		maxChannels = defaultMaxChannels
	}
	r := &Registry{
		channels: make(map[uint8]*Channel),
		assigns:  make(map[uint8]Config),
		closing:  make(map[uint8]struct{}),
		max:      maxChannels,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AddObserver 增加变更观察者
func (r *Registry) AddObserver(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, o)
}

// SetMaxChannels 按设备能力更新通道上限
func (r *Registry) SetMaxChannels(n int) {
	if n <= 0 {
		return
	}
	r.mu.Lock()
	r.max = n
	r.mu.Unlock()
}

// MaxChannels 当前通道上限
func (r *Registry) MaxChannels() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.max
}

// Get 按通道号查找
func (r *Registry) Get(number uint8) (*Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.channels[number]
	return c, ok
}

// Len 在册通道数
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels)
}

// Snapshots 按通道号排序的全部通道副本
func (r *Registry) Snapshots() []Snapshot {
	r.mu.Lock()
	out := make([]Snapshot, 0, len(r.channels))
	for _, c := range r.channels {
		out = append(out, c.snapshotLocked())
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

// ExpectAssign 记录一次分配请求，成功响应到达后才创建通道
func (r *Registry) ExpectAssign(number uint8, cfg Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if int(number) >= r.max {
		return &ant.RangeError{Field: "channel_number", Value: int(number), Min: 0, Max: r.max}
	}
	if _, ok := r.channels[number]; ok {
		return fmt.Errorf("%w: %d", ErrChannelExists, number)
	}
	r.assigns[number] = cfg
	return nil
}

// Confirm 处理成功响应，推进状态或提交挂起配置。
// 对已移除通道的关闭/解除分配响应是无害的竞态，返回 nil。
func (r *Registry) Confirm(number uint8, id ant.MessageID) error {
	r.mu.Lock()
	snap, removed, err := r.confirmLocked(number, id)
	observers := r.observers
	count := len(r.channels)
	r.mu.Unlock()

	if err != nil {
		return err
	}
	r.notify(observers, snap, removed, number, count)
	return nil
}

func (r *Registry) confirmLocked(number uint8, id ant.MessageID) (*Snapshot, bool, error) {
	if id == ant.MesgAssignChannel {
		cfg, ok := r.assigns[number]
		if !ok {
			return nil, false, fmt.Errorf("%w: assign channel %d", ErrNotPending, number)
		}
		delete(r.assigns, number)
		delete(r.closing, number)
		if _, exists := r.channels[number]; exists {
			return nil, false, fmt.Errorf("%w: %d", ErrChannelExists, number)
		}
		c := newChannel(r, number, cfg)
		r.channels[number] = c
		s := c.snapshotLocked()
		return &s, false, nil
	}

	c, ok := r.channels[number]
	if !ok {
		if id == ant.MesgCloseChannel || id == ant.MesgUnassignChannel {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%w: %d (%s)", ErrChannelNotFound, number, id)
	}
	commit := c.popPendingLocked(id)

	switch id {
	case ant.MesgCloseChannel:
		r.evictLocked(c)
		r.closing[number] = struct{}{}
		return nil, true, nil
	case ant.MesgUnassignChannel:
		r.evictLocked(c)
		return nil, true, nil
	case ant.MesgChannelID:
		if c.state != Assigned && c.state != IDSet {
			return nil, false, fmt.Errorf("%w: set channel id in state %s", ErrInvalidTransition, c.state)
		}
		if commit == nil {
			return nil, false, fmt.Errorf("%w: set channel id on %d", ErrNotPending, number)
		}
		commit(c)
		c.state = IDSet
	case ant.MesgOpenChannel:
		switch c.state {
		case Assigned, IDSet:
			c.state = Opened
		case Opened:
		default:
			return nil, false, fmt.Errorf("%w: open in state %s", ErrInvalidTransition, c.state)
		}
	default:
		if commit == nil {
			// 没有需要提交的配置（如数据发送成功）
			return nil, false, nil
		}
		commit(c)
	}
	s := c.snapshotLocked()
	return &s, false, nil
}

// Reject 失败响应：丢弃挂起的请求，通道状态不变
func (r *Registry) Reject(number uint8, id ant.MessageID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id == ant.MesgAssignChannel {
		delete(r.assigns, number)
		return
	}
	if c, ok := r.channels[number]; ok {
		c.popPendingLocked(id)
	}
}

// Withdraw 命令未能发出：撤回最近登记的同类挂起请求
func (r *Registry) Withdraw(number uint8, id ant.MessageID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id == ant.MesgAssignChannel {
		delete(r.assigns, number)
		return
	}
	if c, ok := r.channels[number]; ok {
		c.dropLastPendingLocked(id)
	}
}

// ChannelClosed 设备上报通道关闭：置为 Closed 并移除。
// 返回 false 表示这是重复的关闭事件：通道不存在，且没有关闭响应在等待该事件。
func (r *Registry) ChannelClosed(number uint8) bool {
	r.mu.Lock()
	c, ok := r.channels[number]
	if ok {
		r.evictLocked(c)
	}
	_, awaited := r.closing[number]
	delete(r.closing, number)
	observers := r.observers
	count := len(r.channels)
	r.mu.Unlock()

	if ok {
		r.notify(observers, nil, true, number, count)
	}
	return ok || awaited
}

func (r *Registry) evictLocked(c *Channel) {
	c.state = Closed
	c.pending = make(map[ant.MessageID][]func(c *Channel))
	delete(r.channels, c.number)
	r.log.Debug("channel evicted", zap.Uint8("channel", c.number))
}

// Clear 传输层关闭或设备复位：直接清空，不逐个向设备发命令
func (r *Registry) Clear() {
	r.mu.Lock()
	for _, c := range r.channels {
		c.state = Closed
	}
	n := len(r.channels)
	r.channels = make(map[uint8]*Channel)
	r.assigns = make(map[uint8]Config)
	r.closing = make(map[uint8]struct{})
	observers := r.observers
	r.mu.Unlock()

	if n > 0 {
		r.log.Info("channel registry cleared", zap.Int("channels", n))
	}
	if r.metrics != nil {
		r.metrics.LiveChannels.Set(0)
	}
	for _, o := range observers {
		o.Cleared()
	}
}

func (r *Registry) notify(observers []Observer, snap *Snapshot, removed bool, number uint8, count int) {
	if r.metrics != nil {
		r.metrics.LiveChannels.Set(float64(count))
	}
	for _, o := range observers {
		switch {
		case removed:
			o.ChannelRemoved(number)
		case snap != nil:
			o.ChannelUpdated(*snap)
		}
	}
}
