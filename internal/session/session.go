// Package session 维护单个 ANT 设备的会话：设备级信息、通道注册表、
// 下行命令与同步等待。
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/ant-server/internal/channel"
	"github.com/taoyao-code/ant-server/internal/pending"
	"github.com/taoyao-code/ant-server/internal/protocol/ant"
)

var ErrNoSender = errors.New("session has no outbound sender")

// Sender 下行命令出口
type Sender interface {
	Send(f ant.Frame) (string, error)
}

// Listener 设备级信息变更通知
type Listener interface {
	DeviceUpdated(info DeviceInfo)
}

// DeviceInfo 设备级信息只读副本
type DeviceInfo struct {
	Capabilities     *ant.Capabilities              `json:"capabilities,omitempty"`
	SerialNumber     *uint32                        `json:"serial_number,omitempty"`
	Version          string                         `json:"version,omitempty"`
	AdvancedBurst    *ant.AdvancedBurstCapabilities `json:"advanced_burst,omitempty"`
	StartupReason    *ant.StartupReason             `json:"startup_reason,omitempty"`
	ExtendedMessages bool                           `json:"extended_messages"`
	TransmitPower    *uint8                         `json:"transmit_power,omitempty"`
	Networks         []uint8                        `json:"networks,omitempty"` // 已设置密钥的网络号
	UpdatedAt        time.Time                      `json:"updated_at"`
}

// DeviceSession 实现响应路由需要的 ant.SessionAPI
type DeviceSession struct {
	mu       sync.RWMutex
	info     DeviceInfo
	keys     map[uint8][]byte
	statuses map[uint8]ant.ChannelStatus
	reported map[uint8]ant.DeviceID

	// 设备级挂起配置，成功响应后提交
	pendingKeys    map[uint8][][]byte
	pendingPower   []uint8
	pendingExtMesg []bool

	registry  *channel.Registry
	tracker   *pending.Tracker
	sender    Sender
	log       *zap.Logger
	listeners []Listener
	now       func() time.Time
}

type Option func(*DeviceSession)

func WithLogger(log *zap.Logger) Option {
	return func(s *DeviceSession) {
		if log != nil {
			s.log = log
		}
	}
}

func WithListener(l Listener) Option {
	return func(s *DeviceSession) {
		if l != nil {
			s.listeners = append(s.listeners, l)
		}
	}
}

// New 创建设备会话。registry 与 tracker 为 nil 时使用默认实例。
func New(registry *channel.Registry, tracker *pending.Tracker, sender Sender, opts ...Option) *DeviceSession {
	if registry == nil {
		registry = channel.NewRegistry(0)
	}
	if tracker == nil {
		tracker = pending.NewTracker()
	}
	s := &DeviceSession{
		keys:        make(map[uint8][]byte),
		statuses:    make(map[uint8]ant.ChannelStatus),
		reported:    make(map[uint8]ant.DeviceID),
		pendingKeys: make(map[uint8][][]byte),
		registry:    registry,
		tracker:     tracker,
		sender:      sender,
		log:         zap.NewNop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ ant.SessionAPI = (*DeviceSession)(nil)

func (s *DeviceSession) Registry() *channel.Registry { return s.registry }
func (s *DeviceSession) Tracker() *pending.Tracker   { return s.tracker }

// Info 设备级信息副本
func (s *DeviceSession) Info() DeviceInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.infoLocked()
}

func (s *DeviceSession) infoLocked() DeviceInfo {
	info := s.info
	if info.Capabilities != nil {
		c := *info.Capabilities
		info.Capabilities = &c
	}
	info.Networks = make([]uint8, 0, len(s.keys))
	for n := uint8(0); len(info.Networks) < len(s.keys); n++ {
		if _, ok := s.keys[n]; ok {
			info.Networks = append(info.Networks, n)
		}
	}
	return info
}

// NetworkKey 已生效的网络密钥
func (s *DeviceSession) NetworkKey(network uint8) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.keys[network]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), k...), true
}

// ChannelStatus 最近一次请求到的通道状态
func (s *DeviceSession) ChannelStatus(ch uint8) (ant.ChannelStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.statuses[ch]
	return st, ok
}

// ReportedChannelID 最近一次请求到的通道 ID（配对后的实际设备）
func (s *DeviceSession) ReportedChannelID(ch uint8) (ant.DeviceID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.reported[ch]
	return id, ok
}

// --- ant.SessionAPI ---

// Confirm 设备级配置在此提交，其余交给通道注册表
func (s *DeviceSession) Confirm(ch uint8, id ant.MessageID) error {
	switch id {
	case ant.MesgNetworkKey:
		s.mu.Lock()
		key, rest, ok := popFront(s.pendingKeys[ch])
		s.setPendingKeysLocked(ch, rest)
		if ok {
			s.keys[ch] = key
		}
		s.mu.Unlock()
		if !ok {
			return fmt.Errorf("%w: network key %d", channel.ErrNotPending, ch)
		}
		s.publish()
		return nil
	case ant.MesgRadioTxPower:
		s.mu.Lock()
		p, rest, ok := popFront(s.pendingPower)
		s.pendingPower = rest
		if ok {
			s.info.TransmitPower = &p
		}
		s.mu.Unlock()
		s.publish()
		return nil
	case ant.MesgRxExtMesgsEnable:
		s.mu.Lock()
		on, rest, ok := popFront(s.pendingExtMesg)
		s.pendingExtMesg = rest
		if ok {
			s.info.ExtendedMessages = on
		}
		s.mu.Unlock()
		s.publish()
		return nil
	case ant.MesgConfigAdvBurst, ant.MesgSystemReset, ant.MesgRequest, ant.MesgANTLibConfig:
		return nil
	}
	return s.registry.Confirm(ch, id)
}

// Reject 失败响应对应最早发出的同类请求，丢弃其挂起配置
func (s *DeviceSession) Reject(ch uint8, id ant.MessageID, code ant.ResponseCode) {
	s.log.Debug("pending request rejected",
		zap.Uint8("channel", ch),
		zap.Stringer("msg", id),
		zap.Stringer("status", code))
	s.mu.Lock()
	switch id {
	case ant.MesgNetworkKey:
		_, rest, _ := popFront(s.pendingKeys[ch])
		s.setPendingKeysLocked(ch, rest)
	case ant.MesgRadioTxPower:
		_, s.pendingPower, _ = popFront(s.pendingPower)
	case ant.MesgRxExtMesgsEnable:
		_, s.pendingExtMesg, _ = popFront(s.pendingExtMesg)
	default:
		s.mu.Unlock()
		s.registry.Reject(ch, id)
		return
	}
	s.mu.Unlock()
}

// withdraw 发送失败：撤回刚登记的挂起配置
func (s *DeviceSession) withdraw(ch uint8, id ant.MessageID) {
	s.mu.Lock()
	switch id {
	case ant.MesgNetworkKey:
		s.setPendingKeysLocked(ch, dropBack(s.pendingKeys[ch]))
	case ant.MesgRadioTxPower:
		s.pendingPower = dropBack(s.pendingPower)
	case ant.MesgRxExtMesgsEnable:
		s.pendingExtMesg = dropBack(s.pendingExtMesg)
	default:
		s.mu.Unlock()
		s.registry.Withdraw(ch, id)
		return
	}
	s.mu.Unlock()
}

func (s *DeviceSession) setPendingKeysLocked(net uint8, q [][]byte) {
	if len(q) == 0 {
		delete(s.pendingKeys, net)
		return
	}
	s.pendingKeys[net] = q
}

func (s *DeviceSession) SetCapabilities(c ant.Capabilities) {
	s.mu.Lock()
	s.info.Capabilities = &c
	s.mu.Unlock()
	if c.MaxChannels > 0 {
		s.registry.SetMaxChannels(int(c.MaxChannels))
	}
	s.publish()
	s.tracker.Resolve(requestKey(0, ant.MesgCapabilities), ant.ResponseNoError)
}

func (s *DeviceSession) SetSerialNumber(n uint32) {
	s.mu.Lock()
	s.info.SerialNumber = &n
	s.mu.Unlock()
	s.publish()
	s.tracker.Resolve(requestKey(0, ant.MesgGetSerialNum), ant.ResponseNoError)
}

func (s *DeviceSession) SetVersion(v string) {
	s.mu.Lock()
	s.info.Version = v
	s.mu.Unlock()
	s.publish()
	s.tracker.Resolve(requestKey(0, ant.MesgVersion), ant.ResponseNoError)
}

func (s *DeviceSession) SetAdvancedBurstCapabilities(c ant.AdvancedBurstCapabilities) {
	s.mu.Lock()
	s.info.AdvancedBurst = &c
	s.mu.Unlock()
	s.publish()
	s.tracker.Resolve(requestKey(0, ant.MesgConfigAdvBurst), ant.ResponseNoError)
}

func (s *DeviceSession) UpdateChannelStatus(st ant.ChannelStatus) {
	s.mu.Lock()
	s.statuses[st.Channel] = st
	s.mu.Unlock()
	s.tracker.Resolve(requestKey(st.Channel, ant.MesgChannelStatus), ant.ResponseNoError)
}

func (s *DeviceSession) UpdateChannelID(ch uint8, id ant.DeviceID) {
	s.mu.Lock()
	s.reported[ch] = id
	s.mu.Unlock()
	s.tracker.Resolve(requestKey(ch, ant.MesgChannelID), ant.ResponseNoError)
}

// Startup 设备复位后所有通道与设备级配置失效
func (s *DeviceSession) Startup(reason ant.StartupReason) {
	s.mu.Lock()
	s.info.StartupReason = &reason
	s.info.ExtendedMessages = false
	s.info.TransmitPower = nil
	s.keys = make(map[uint8][]byte)
	s.statuses = make(map[uint8]ant.ChannelStatus)
	s.reported = make(map[uint8]ant.DeviceID)
	s.pendingKeys = make(map[uint8][][]byte)
	s.pendingPower = nil
	s.pendingExtMesg = nil
	s.mu.Unlock()

	s.registry.Clear()
	s.publish()
	s.tracker.Resolve(requestKey(0, ant.MesgStartup), ant.ResponseNoError)
}

// Teardown 传输层断开：清空注册表并唤醒所有等待者
func (s *DeviceSession) Teardown(err error) {
	s.registry.Clear()
	s.tracker.FailAll(err)
}

func (s *DeviceSession) publish() {
	s.mu.Lock()
	s.info.UpdatedAt = s.now()
	info := s.infoLocked()
	listeners := s.listeners
	s.mu.Unlock()
	for _, l := range listeners {
		l.DeviceUpdated(info)
	}
}

func requestKey(ch uint8, id ant.MessageID) pending.Key {
	return pending.Key{Channel: ch, MessageID: id, Request: true}
}
