// Package channel 维护 ANT 通道的配置与生命周期状态。
// 状态只随设备响应推进，发出命令本身不改变状态。
package channel

import (
	"errors"

	"github.com/taoyao-code/ant-server/internal/protocol/ant"
)

var (
	ErrChannelNotFound   = errors.New("channel not found")
	ErrChannelExists     = errors.New("channel already assigned")
	ErrChannelClosed     = errors.New("channel closed")
	ErrInvalidTransition = errors.New("invalid channel state transition")
	ErrNotPending        = errors.New("no pending request for response")
)

// State 通道生命周期状态
type State int

const (
	Unassigned State = iota
	Assigned
	IDSet
	Opened
	Closed
)

func (s State) String() string {
	switch s {
	case Unassigned:
		return "unassigned"
	case Assigned:
		return "assigned"
	case IDSet:
		return "id_set"
	case Opened:
		return "opened"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// MarshalText 以名字序列化
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Config 分配通道时的参数
type Config struct {
	Type            ant.ChannelType
	Network         uint8
	ExtendedOptions uint8
}

// Snapshot 通道的只读副本
type Snapshot struct {
	Number                   uint8           `json:"number"`
	Type                     ant.ChannelType `json:"type"`
	TypeName                 string          `json:"type_name"`
	Network                  uint8           `json:"network"`
	ExtendedOptions          uint8           `json:"extended_options"`
	DeviceID                 *ant.DeviceID   `json:"device_id,omitempty"`
	RFFrequency              *uint8          `json:"rf_frequency,omitempty"`
	Period                   *uint16         `json:"period,omitempty"`
	SearchTimeout            *uint8          `json:"search_timeout,omitempty"`
	LowPrioritySearchTimeout *uint8          `json:"low_priority_search_timeout,omitempty"`
	TxPower                  *uint8          `json:"tx_power,omitempty"`
	FrequencyAgility         []uint8         `json:"frequency_agility,omitempty"`
	State                    State           `json:"state"`
}

// Channel 单个硬件通道，归 Registry 所有，可变字段受 Registry 锁保护
type Channel struct {
	reg    *Registry
	number uint8

	cfg      Config
	state    State
	deviceID *ant.DeviceID
	rf       *uint8
	period   *uint16
	search   *uint8
	lpSearch *uint8
	txPower  *uint8
	agility  []uint8

	// 已发出、等待成功响应后提交的配置；同类命令按发送顺序排队
	pending map[ant.MessageID][]func(c *Channel)
}

func newChannel(reg *Registry, number uint8, cfg Config) *Channel {
	return &Channel{
		reg:     reg,
		number:  number,
		cfg:     cfg,
		state:   Assigned,
		pending: make(map[ant.MessageID][]func(c *Channel)),
	}
}

// Number 通道号
func (c *Channel) Number() uint8 { return c.number }

// State 当前状态
func (c *Channel) State() State {
	c.reg.mu.Lock()
	defer c.reg.mu.Unlock()
	return c.state
}

// DeviceID 已生效的通道 ID，未设置时返回 false
func (c *Channel) DeviceID() (ant.DeviceID, bool) {
	c.reg.mu.Lock()
	defer c.reg.mu.Unlock()
	if c.deviceID == nil {
		return ant.DeviceID{}, false
	}
	return *c.deviceID, true
}

// Snapshot 返回只读副本
func (c *Channel) Snapshot() Snapshot {
	c.reg.mu.Lock()
	defer c.reg.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Channel) snapshotLocked() Snapshot {
	s := Snapshot{
		Number:          c.number,
		Type:            c.cfg.Type,
		TypeName:        c.cfg.Type.String(),
		Network:         c.cfg.Network,
		ExtendedOptions: c.cfg.ExtendedOptions,
		State:           c.state,
	}
	if c.deviceID != nil {
		id := *c.deviceID
		s.DeviceID = &id
	}
	s.RFFrequency = copyU8(c.rf)
	s.SearchTimeout = copyU8(c.search)
	s.LowPrioritySearchTimeout = copyU8(c.lpSearch)
	s.TxPower = copyU8(c.txPower)
	if c.period != nil {
		p := *c.period
		s.Period = &p
	}
	if c.agility != nil {
		s.FrequencyAgility = append([]uint8(nil), c.agility...)
	}
	return s
}

func copyU8(p *uint8) *uint8 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func (c *Channel) expect(id ant.MessageID, commit func(c *Channel)) error {
	c.reg.mu.Lock()
	defer c.reg.mu.Unlock()
	if c.state == Closed {
		return ErrChannelClosed
	}
	c.pending[id] = append(c.pending[id], commit)
	return nil
}

// popPendingLocked 取出最早发出的同类配置；响应与命令一一对应且按序到达
func (c *Channel) popPendingLocked(id ant.MessageID) func(c *Channel) {
	queue := c.pending[id]
	if len(queue) == 0 {
		return nil
	}
	head := queue[0]
	if len(queue) == 1 {
		delete(c.pending, id)
	} else {
		c.pending[id] = queue[1:]
	}
	return head
}

func (c *Channel) dropLastPendingLocked(id ant.MessageID) {
	queue := c.pending[id]
	if len(queue) <= 1 {
		delete(c.pending, id)
		return
	}
	c.pending[id] = queue[:len(queue)-1]
}

// ExpectChannelID 记录待生效的通道 ID
func (c *Channel) ExpectChannelID(id ant.DeviceID) error {
	return c.expect(ant.MesgChannelID, func(c *Channel) { c.deviceID = &id })
}

// ExpectPeriod 记录待生效的消息周期
func (c *Channel) ExpectPeriod(period uint16) error {
	return c.expect(ant.MesgChannelMesgPeriod, func(c *Channel) { c.period = &period })
}

// ExpectRFFrequency 记录待生效的射频偏移
func (c *Channel) ExpectRFFrequency(freq uint8) error {
	return c.expect(ant.MesgChannelRadioFreq, func(c *Channel) { c.rf = &freq })
}

// ExpectSearchTimeout 记录待生效的搜索超时
func (c *Channel) ExpectSearchTimeout(timeout uint8) error {
	return c.expect(ant.MesgChannelSearchTimeout, func(c *Channel) { c.search = &timeout })
}

// ExpectLowPrioritySearchTimeout 记录待生效的低优先级搜索超时
func (c *Channel) ExpectLowPrioritySearchTimeout(timeout uint8) error {
	return c.expect(ant.MesgSetLPSearchTimeout, func(c *Channel) { c.lpSearch = &timeout })
}

// ExpectTxPower 记录待生效的通道发射功率
func (c *Channel) ExpectTxPower(power uint8) error {
	return c.expect(ant.MesgChannelRadioTxPower, func(c *Channel) { c.txPower = &power })
}

// ExpectFrequencyAgility 记录待生效的频率捷变频点
func (c *Channel) ExpectFrequencyAgility(f1, f2, f3 uint8) error {
	return c.expect(ant.MesgAutoFreqConfig, func(c *Channel) { c.agility = []uint8{f1, f2, f3} })
}

// CheckUsable 通道仍在注册表中
func (c *Channel) CheckUsable() error {
	c.reg.mu.Lock()
	defer c.reg.mu.Unlock()
	if c.state == Closed {
		return ErrChannelClosed
	}
	return nil
}
