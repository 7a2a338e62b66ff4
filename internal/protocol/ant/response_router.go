package ant

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/taoyao-code/ant-server/internal/metrics"
)

// SessionAPI 响应路由需要的设备会话能力
type SessionAPI interface {
	// Confirm 成功响应：推进通道状态或提交设备级配置
	Confirm(ch uint8, id MessageID) error
	// Reject 失败响应：丢弃挂起的配置
	Reject(ch uint8, id MessageID, code ResponseCode)

	SetCapabilities(c Capabilities)
	SetSerialNumber(n uint32)
	SetVersion(v string)
	SetAdvancedBurstCapabilities(c AdvancedBurstCapabilities)
	UpdateChannelStatus(s ChannelStatus)
	UpdateChannelID(ch uint8, id DeviceID)
	Startup(reason StartupReason)
}

// ResponseObserver 观察每一个响应事件（同步等待层使用）
type ResponseObserver interface {
	OnResponseEvent(ev ResponseEvent)
}

// ResponseFunc 响应处理函数
type ResponseFunc func(ctx context.Context, ch uint8, payload []byte) error

type responseEntry struct {
	name   string
	handle ResponseFunc // nil 表示已知但未实现
}

// ResponseRouter 响应路由（message id -> handler），响应事件再按原消息 ID 二次分发
type ResponseRouter struct {
	mu        sync.RWMutex
	table     map[MessageID]*responseEntry
	observers []ResponseObserver

	session SessionAPI
	events  *EventRouter
	log     *zap.Logger
	metrics *metrics.AppMetrics
}

// NewResponseRouter 创建响应路由并注册内置处理器。
// events 用于转发嵌在响应事件中的通道事件。
func NewResponseRouter(session SessionAPI, events *EventRouter, log *zap.Logger, m *metrics.AppMetrics) *ResponseRouter {
	if log == nil {
		log = zap.NewNop()
	}
	r := &ResponseRouter{
		table:   make(map[MessageID]*responseEntry, len(messageTable)),
		session: session,
		events:  events,
		log:     log,
		metrics: m,
	}
	// 协议表中的每个消息都已知；没有处理器的只记录调试日志
	for id := range messageTable {
		r.table[id] = &responseEntry{name: id.String()}
	}
	r.registerDefaults()
	return r
}

// messageTable 协议定义的全部消息及其操作描述。
// 顶层分发与响应事件二级分发共用此表判断“未知”。
var messageTable = map[MessageID]string{
	MesgVersion:               "version",
	MesgResponseEvent:         "response event",
	MesgUnassignChannel:       "unassign channel",
	MesgAssignChannel:         "assign channel",
	MesgChannelMesgPeriod:     "set channel period",
	MesgChannelSearchTimeout:  "set channel search timeout",
	MesgChannelRadioFreq:      "set channel rf frequency",
	MesgNetworkKey:            "set network key",
	MesgRadioTxPower:          "set transmit power",
	MesgRadioCWMode:           "set cw test mode",
	MesgSystemReset:           "reset system",
	MesgOpenChannel:           "open channel",
	MesgCloseChannel:          "close channel",
	MesgRequest:               "request message",
	MesgBroadcastData:         "send broadcast data",
	MesgAcknowledgedData:      "send acknowledged data",
	MesgBurstData:             "send burst transfer packet",
	MesgChannelID:             "set channel id",
	MesgChannelStatus:         "channel status",
	MesgRadioCWInit:           "init cw test mode",
	MesgCapabilities:          "capabilities",
	MesgStackLimit:            "stack limit",
	MesgScriptData:            "script data",
	MesgScriptCmd:             "script command",
	MesgIDListAdd:             "add channel id to list",
	MesgIDListConfig:          "config inclusion/exclusion list",
	MesgOpenRxScan:            "open rx scan mode",
	MesgExtChannelRadioFreq:   "set extended channel rf frequency",
	MesgExtBroadcastData:      "send extended broadcast data",
	MesgExtAcknowledgedData:   "send extended acknowledged data",
	MesgExtBurstData:          "send extended burst data",
	MesgChannelRadioTxPower:   "set channel transmit power",
	MesgGetSerialNum:          "get serial number",
	MesgGetTempCal:            "get temperature calibration",
	MesgSetLPSearchTimeout:    "set low priority search timeout",
	MesgSetTxSearchOnNext:     "set tx search on next",
	MesgSerialNumSetChannelID: "set channel id from serial number",
	MesgRxExtMesgsEnable:      "enable extended rx messages",
	MesgRadioConfigAlways:     "set radio config always",
	MesgEnableLEDFlash:        "enable led flash",
	MesgXtalEnable:            "enable crystal",
	MesgANTLibConfig:          "configure lib extended output",
	MesgStartup:               "startup message",
	MesgAutoFreqConfig:        "configure frequency agility",
	MesgProxSearchConfig:      "configure proximity search",
	MesgAdvBurstData:          "send advanced burst data",
	MesgEventBufferingConfig:  "configure event buffering",
	MesgSetSearchChPriority:   "set search channel priority",
	MesgHighDutySearchMode:    "set high duty search mode",
	MesgConfigAdvBurst:        "configure advanced burst",
	MesgEventFilterConfig:     "configure event filter",
	MesgSDUConfig:             "configure selective data updates",
	MesgSDUSetMask:            "set selective data update mask",
	MesgUserConfigPage:        "set user config page",
	MesgEncryptEnable:         "enable channel encryption",
	MesgSetCryptoKey:          "set encryption key",
	MesgSetCryptoInfo:         "set encryption info",
	MesgCubeCmd:               "cube command",
	MesgActiveSearchSharing:   "configure active search sharing",
	MesgNVMCryptoKeyOps:       "encryption key nvm operation",
	MesgSerialError:           "serial error",
}

// Describe 消息的操作描述，协议表外的 ID 返回其名称
func Describe(id MessageID) string {
	if op, ok := messageTable[id]; ok {
		return op
	}
	return id.String()
}

func (r *ResponseRouter) registerDefaults() {
	r.Register(MesgResponseEvent, r.responseEvent)
	r.Register(MesgVersion, r.version)
	r.Register(MesgCapabilities, r.capabilities)
	r.Register(MesgGetSerialNum, r.serialNumber)
	r.Register(MesgChannelStatus, r.channelStatus)
	r.Register(MesgChannelID, r.channelID)
	r.Register(MesgStartup, r.startup)
	r.Register(MesgConfigAdvBurst, r.advancedBurstCapabilities)
	r.Register(MesgSerialError, r.serialError)
}

// Register 注册或覆盖消息处理器；h 为 nil 时只记录调试日志。
// 表外的 ID 注册后同样视为已知。
func (r *ResponseRouter) Register(id MessageID, h ResponseFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.table[id] = &responseEntry{name: id.String(), handle: h}
}

// AddObserver 增加响应事件观察者
func (r *ResponseRouter) AddObserver(o ResponseObserver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, o)
}

// Known 消息 ID 是否在表中
func (r *ResponseRouter) Known(id MessageID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.table[id]
	return ok
}

// Dispatch 按消息 ID 分发。表中不存在的 ID 返回 ErrUnknownMessage。
func (r *ResponseRouter) Dispatch(ctx context.Context, ch uint8, id MessageID, payload []byte) error {
	r.mu.RLock()
	entry, ok := r.table[id]
	r.mu.RUnlock()

	if !ok {
		return r.unknown(ch, id, payload)
	}
	if r.metrics != nil {
		r.metrics.ResponseRoute.WithLabelValues(entry.name).Inc()
	}
	if entry.handle == nil {
		r.log.Debug("unimplemented response",
			zap.Uint8("channel", ch),
			zap.Stringer("msg", id),
			zap.Int("len", len(payload)))
		return nil
	}
	return entry.handle(ctx, ch, payload)
}

func (r *ResponseRouter) unknown(ch uint8, id MessageID, payload []byte) error {
	if r.metrics != nil {
		r.metrics.UnknownCodes.WithLabelValues("message").Inc()
	}
	r.log.Error("unknown message id",
		zap.Uint8("channel", ch),
		zap.Uint8("msg_id", uint8(id)),
		zap.String("hexdump", Hexdump(payload)))
	return fmt.Errorf("%w: 0x%02x on channel %d", ErrUnknownMessage, uint8(id), ch)
}

// responseEvent 二级分发：[通道, 原消息ID, 状态]
func (r *ResponseRouter) responseEvent(ctx context.Context, _ uint8, payload []byte) error {
	ev, err := DecodeResponseEvent(payload)
	if err != nil {
		return err
	}
	if ev.IsChannelEvent() {
		if r.events == nil {
			return fmt.Errorf("%w: channel event 0x%02x without event router", ErrUnknownEvent, uint8(ev.Code))
		}
		return r.events.Dispatch(ctx, ev.Channel, EventCode(ev.Code), payload)
	}

	if !r.Known(ev.MessageID) {
		return r.unknown(ev.Channel, ev.MessageID, payload)
	}
	op := Describe(ev.MessageID)

	if ev.Success() {
		r.log.Debug("response ok", zap.Uint8("channel", ev.Channel), zap.String("op", op))
		if r.session != nil {
			if err := r.session.Confirm(ev.Channel, ev.MessageID); err != nil {
				// 状态机拒绝（乱序或竞态），不影响设备可用性
				r.log.Warn("state transition rejected",
					zap.Uint8("channel", ev.Channel),
					zap.String("op", op),
					zap.Error(err))
			}
		}
	} else {
		perr := &ProtocolError{Channel: ev.Channel, MessageID: ev.MessageID, Op: op, Code: ev.Code}
		if r.metrics != nil {
			r.metrics.ProtocolErrors.WithLabelValues(op).Inc()
		}
		r.log.Warn("response error",
			zap.Uint8("channel", ev.Channel),
			zap.String("op", op),
			zap.Stringer("status", ev.Code),
			zap.Uint8("code", uint8(ev.Code)),
			zap.Error(perr))
		if r.session != nil {
			r.session.Reject(ev.Channel, ev.MessageID, ev.Code)
		}
	}

	r.mu.RLock()
	observers := r.observers
	r.mu.RUnlock()
	for _, o := range observers {
		o.OnResponseEvent(ev)
	}
	return nil
}

func (r *ResponseRouter) version(_ context.Context, _ uint8, payload []byte) error {
	v := DecodeVersion(payload)
	r.log.Info("device version", zap.String("version", v))
	if r.session != nil {
		r.session.SetVersion(v)
	}
	return nil
}

func (r *ResponseRouter) capabilities(_ context.Context, _ uint8, payload []byte) error {
	c, err := DecodeCapabilities(payload)
	if err != nil {
		return fmt.Errorf("decode capabilities: %w", err)
	}
	r.log.Info("device capabilities",
		zap.Uint8("max_channels", c.MaxChannels),
		zap.Uint8("max_networks", c.MaxNetworks),
		zap.Bool("ext_message", c.ExtMessageEnabled))
	if r.session != nil {
		r.session.SetCapabilities(c)
	}
	return nil
}

func (r *ResponseRouter) serialNumber(_ context.Context, _ uint8, payload []byte) error {
	n, err := DecodeSerialNumber(payload)
	if err != nil {
		return fmt.Errorf("decode serial number: %w", err)
	}
	r.log.Info("device serial number", zap.Uint32("serial", n))
	if r.session != nil {
		r.session.SetSerialNumber(n)
	}
	return nil
}

func (r *ResponseRouter) channelStatus(_ context.Context, _ uint8, payload []byte) error {
	s, err := DecodeChannelStatus(payload)
	if err != nil {
		return fmt.Errorf("decode channel status: %w", err)
	}
	if r.session != nil {
		r.session.UpdateChannelStatus(s)
	}
	return nil
}

func (r *ResponseRouter) channelID(_ context.Context, _ uint8, payload []byte) error {
	ch, id, err := DecodeChannelIDResponse(payload)
	if err != nil {
		return fmt.Errorf("decode channel id: %w", err)
	}
	if r.session != nil {
		r.session.UpdateChannelID(ch, id)
	}
	return nil
}

func (r *ResponseRouter) startup(_ context.Context, _ uint8, payload []byte) error {
	reason, err := DecodeStartup(payload)
	if err != nil {
		return fmt.Errorf("decode startup: %w", err)
	}
	r.log.Info("device startup", zap.Stringer("reason", reason))
	if r.events != nil {
		r.events.Reset()
	}
	if r.session != nil {
		r.session.Startup(reason)
	}
	return nil
}

func (r *ResponseRouter) advancedBurstCapabilities(_ context.Context, _ uint8, payload []byte) error {
	c, err := DecodeAdvancedBurstCapabilities(payload)
	if err != nil {
		return fmt.Errorf("decode advanced burst capabilities: %w", err)
	}
	if r.session != nil {
		r.session.SetAdvancedBurstCapabilities(c)
	}
	return nil
}

func (r *ResponseRouter) serialError(_ context.Context, _ uint8, payload []byte) error {
	r.log.Error("device reported serial error", zap.String("hexdump", Hexdump(payload)))
	return nil
}
