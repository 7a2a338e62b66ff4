package app

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/ant-server/internal/channel"
	"github.com/taoyao-code/ant-server/internal/config"
	"github.com/taoyao-code/ant-server/internal/health"
	"github.com/taoyao-code/ant-server/internal/metrics"
	"github.com/taoyao-code/ant-server/internal/outbound"
	"github.com/taoyao-code/ant-server/internal/pending"
	"github.com/taoyao-code/ant-server/internal/profile"
	"github.com/taoyao-code/ant-server/internal/protocol/ant"
	"github.com/taoyao-code/ant-server/internal/session"
	"github.com/taoyao-code/ant-server/internal/transport"
)

var (
	// ErrLinkDown 设备链路断开时等待中的命令以此失败
	ErrLinkDown = errors.New("device link down")

	errFatal = errors.New("fatal protocol error")
)

// Device 单个 ANT 设备的运行时：注册表、等待表、下行队列、会话与路由
type Device struct {
	cfg     config.DeviceConfig
	log     *zap.Logger
	metrics *metrics.AppMetrics

	Registry  *channel.Registry
	Tracker   *pending.Tracker
	Queue     *outbound.Queue
	Session   *session.DeviceSession
	Events    *ant.EventRouter
	Responses *ant.ResponseRouter

	link      link
	profiles  []profile.Profile
	ready     atomic.Bool
	connected atomic.Bool
	onReady   func(bool)
}

// DeviceOption 设备运行时选项
type DeviceOption func(*deviceOptions)

type deviceOptions struct {
	handler   ant.EventHandler
	listeners []session.Listener
	observers []channel.Observer
	profiles  []profile.Profile
	onReady   func(bool)
}

// WithEventHandler 应用层事件处理器，默认只记日志
func WithEventHandler(h ant.EventHandler) DeviceOption {
	return func(o *deviceOptions) { o.handler = h }
}

// WithSessionListener 订阅设备信息变化
func WithSessionListener(l session.Listener) DeviceOption {
	return func(o *deviceOptions) { o.listeners = append(o.listeners, l) }
}

// WithChannelObserver 订阅注册表变化
func WithChannelObserver(ob channel.Observer) DeviceOption {
	return func(o *deviceOptions) { o.observers = append(o.observers, ob) }
}

// WithProfiles 初始化完成后依次应用的通道模板
func WithProfiles(ps []profile.Profile) DeviceOption {
	return func(o *deviceOptions) { o.profiles = ps }
}

// WithReadyHook 就绪状态变化回调
func WithReadyHook(fn func(bool)) DeviceOption {
	return func(o *deviceOptions) { o.onReady = fn }
}

// NewDevice 组装设备运行时
func NewDevice(cfg config.DeviceConfig, log *zap.Logger, m *metrics.AppMetrics, opts ...DeviceOption) *Device {
	if log == nil {
		log = zap.NewNop()
	}
	o := deviceOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.handler == nil {
		o.handler = ant.NewDefaultEventHandler(log.Named("events"))
	}

	d := &Device{
		cfg:      cfg,
		log:      log,
		metrics:  m,
		profiles: o.profiles,
		onReady:  o.onReady,
	}

	regOpts := []channel.Option{channel.WithLogger(log.Named("registry")), channel.WithMetrics(m)}
	for _, ob := range o.observers {
		regOpts = append(regOpts, channel.WithObserver(ob))
	}
	d.Registry = channel.NewRegistry(cfg.MaxChannels, regOpts...)

	trackerOpts := []pending.Option{pending.WithTimeout(cfg.ResponseTimeout)}
	if m != nil {
		trackerOpts = append(trackerOpts, pending.WithObserver(pending.ObserverFunc(func(op, status string) {
			if op == "wait" {
				m.ResponseWaitTotal.WithLabelValues(status).Inc()
			}
		})))
	}
	d.Tracker = pending.NewTracker(trackerOpts...)

	d.Queue = outbound.NewQueue(&d.link,
		outbound.WithRate(cfg.Outbound.RatePerSec, cfg.Outbound.Burst),
		outbound.WithCapacity(cfg.Outbound.QueueSize),
		outbound.WithLogger(log.Named("outbound")),
		outbound.WithMetrics(m))

	sessOpts := []session.Option{session.WithLogger(log.Named("session"))}
	for _, l := range o.listeners {
		sessOpts = append(sessOpts, session.WithListener(l))
	}
	d.Session = session.New(d.Registry, d.Tracker, d.Queue, sessOpts...)

	d.Events = ant.NewEventRouter(o.handler, d.Registry, log.Named("events"), m)
	d.Responses = ant.NewResponseRouter(d.Session, d.Events, log.Named("responses"), m)
	d.Responses.AddObserver(d.Tracker)
	return d
}

// Ready 设备已完成初始化
func (d *Device) Ready() bool { return d.ready.Load() }

func (d *Device) setReady(v bool) {
	if d.ready.Swap(v) != v && d.onReady != nil {
		d.onReady(v)
	}
}

// DeviceStatus 实现 health.DeviceStatusSource
func (d *Device) DeviceStatus() health.DeviceStatus {
	st := health.DeviceStatus{
		Connected:    d.connected.Load(),
		Ready:        d.Ready(),
		Channels:     d.Registry.Len(),
		MaxChannels:  d.Registry.MaxChannels(),
		QueueLen:     d.Queue.Len(),
		QueueCap:     d.Queue.Capacity(),
		PendingWaits: d.Tracker.Pending(),
		Dropped:      d.Queue.Dropped(),
		Throttled:    d.Queue.Stats().Delayed,
	}
	if tr := d.link.current(); tr != nil {
		st.Transport = tr.Name()
	}
	return st
}

// Serve 在一条已建立的连接上运行，直到连接断开、ctx 结束或遇到致命协议错误。
// 返回前清空通道表并让所有等待失败。
func (d *Device) Serve(ctx context.Context, tr transport.Transport) error {
	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	d.Events.Reset()
	adapter := ant.NewAdapter(d.Responses, d.Events)
	d.link.attach(tr)
	d.connected.Store(true)
	d.log.Info("device link up", zap.String("transport", tr.Name()))

	fatalC := make(chan error, 1)
	go func() {
		if err := d.Initialise(serveCtx); err != nil && serveCtx.Err() == nil {
			d.log.Error("device initialisation failed", zap.Error(err))
		}
	}()

	err := tr.Serve(serveCtx, func(b []byte) {
		if d.metrics != nil {
			d.metrics.BytesReceived.Add(float64(len(b)))
		}
		if perr := adapter.ProcessBytes(serveCtx, b); perr != nil {
			if ant.IsFatal(perr) && d.cfg.FatalOnUnknown {
				select {
				case fatalC <- perr:
				default:
				}
				cancel()
				return
			}
			d.log.Warn("inbound frame rejected", zap.Error(perr))
		}
	})

	d.connected.Store(false)
	d.link.detach(tr)
	d.setReady(false)
	if n := d.Queue.Discard(); n > 0 {
		d.log.Warn("pending commands discarded", zap.Int("count", n))
	}
	d.Session.Teardown(ErrLinkDown)
	d.log.Info("device link down", zap.String("transport", tr.Name()), zap.Error(err))

	select {
	case ferr := <-fatalC:
		return fmt.Errorf("%w: %w", errFatal, ferr)
	default:
	}
	return err
}

// Initialise 复位设备、读取能力/序列号/版本、按配置开启扩展消息并应用通道模板
func (d *Device) Initialise(ctx context.Context) error {
	s := d.Session
	if err := s.ResetSystemAndWait(ctx); err != nil {
		// 部分网桥不转发启动消息，继续初始化
		d.log.Warn("reset not acknowledged", zap.Error(err))
	}
	// 复位后设备需要短暂时间才接受命令
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(resetSettle):
	}

	caps, err := s.RequestCapabilities(ctx)
	if err != nil {
		return fmt.Errorf("request capabilities: %w", err)
	}
	d.log.Info("device capabilities",
		zap.Uint8("max_channels", caps.MaxChannels),
		zap.Uint8("max_networks", caps.MaxNetworks))

	if caps.SerialNumberEnabled {
		if err := s.RequestMessageAndWait(ctx, 0, ant.MesgGetSerialNum); err != nil {
			d.log.Warn("request serial number failed", zap.Error(err))
		}
	}
	if err := s.RequestMessageAndWait(ctx, 0, ant.MesgVersion); err != nil {
		d.log.Warn("request version failed", zap.Error(err))
	}

	if d.cfg.ExtendedMessages {
		if err := s.EnableExtendedMessagesAndWait(ctx, true); err != nil {
			return fmt.Errorf("enable extended messages: %w", err)
		}
	}
	if d.cfg.LibConfigFlags != 0 {
		if err := s.LibConfigAndWait(ctx, d.cfg.LibConfigFlags); err != nil {
			return fmt.Errorf("lib config: %w", err)
		}
	}
	if err := profile.ApplyAll(ctx, s, d.profiles, d.log.Named("profile")); err != nil {
		return err
	}

	info := s.Info()
	d.log.Info("device ready",
		zap.String("version", info.Version),
		zap.Uint32p("serial", info.SerialNumber),
		zap.Int("profiles", len(d.profiles)))
	d.setReady(true)
	return nil
}

var resetSettle = 500 * time.Millisecond
