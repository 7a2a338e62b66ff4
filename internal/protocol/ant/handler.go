package ant

import (
	"context"
	"encoding/hex"

	"go.uber.org/zap"
)

// BurstPacket 单个突发包
type BurstPacket struct {
	Channel  uint8         `json:"channel"`
	Sequence uint8         `json:"sequence"`
	Last     bool          `json:"last"`
	Data     []byte        `json:"data"`
	Ext      *ExtendedInfo `json:"ext,omitempty"`
}

// EventHandler 应用层通道事件回调，每种事件一个方法。
// 应用类型嵌入 *DefaultEventHandler 后只覆盖关心的方法。
type EventHandler interface {
	OnBroadcast(ctx context.Context, msg DataMessage)
	OnAcknowledged(ctx context.Context, msg DataMessage)
	OnBurstPacket(ctx context.Context, pkt BurstPacket)
	OnBurstTransfer(ctx context.Context, ch uint8, data []byte, ext *ExtendedInfo)

	OnTx(ctx context.Context, ch uint8)
	OnRxFail(ctx context.Context, ch uint8)
	OnRxFailGoToSearch(ctx context.Context, ch uint8)
	OnRxSearchTimeout(ctx context.Context, ch uint8)
	OnTransferRxFailed(ctx context.Context, ch uint8)
	OnTransferTxStart(ctx context.Context, ch uint8)
	OnTransferTxCompleted(ctx context.Context, ch uint8)
	OnTransferTxFailed(ctx context.Context, ch uint8)
	OnChannelCollision(ctx context.Context, ch uint8)
	OnChannelClosed(ctx context.Context, ch uint8)

	// OnUnhandledEvent 已知事件码但没有专门处理器
	OnUnhandledEvent(ctx context.Context, ch uint8, code EventCode, payload []byte)
}

// DefaultEventHandler 记录日志的默认实现
type DefaultEventHandler struct {
	Log *zap.Logger
}

// NewDefaultEventHandler 创建默认事件处理器
func NewDefaultEventHandler(log *zap.Logger) *DefaultEventHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &DefaultEventHandler{Log: log}
}

func (h *DefaultEventHandler) logger() *zap.Logger {
	if h == nil || h.Log == nil {
		return zap.NewNop()
	}
	return h.Log
}

func (h *DefaultEventHandler) simple(ch uint8, code EventCode) {
	h.logger().Debug("channel event", zap.Uint8("channel", ch), zap.Stringer("event", code))
}

func (h *DefaultEventHandler) OnBroadcast(_ context.Context, msg DataMessage) {
	h.logger().Debug("broadcast data", zap.Uint8("channel", msg.Channel), zap.String("data", hex.EncodeToString(msg.Data)))
}

func (h *DefaultEventHandler) OnAcknowledged(_ context.Context, msg DataMessage) {
	h.logger().Debug("acknowledged data", zap.Uint8("channel", msg.Channel), zap.String("data", hex.EncodeToString(msg.Data)))
}

func (h *DefaultEventHandler) OnBurstPacket(_ context.Context, pkt BurstPacket) {
	h.logger().Debug("burst packet",
		zap.Uint8("channel", pkt.Channel),
		zap.Uint8("seq", pkt.Sequence),
		zap.Bool("last", pkt.Last))
}

func (h *DefaultEventHandler) OnBurstTransfer(_ context.Context, ch uint8, data []byte, _ *ExtendedInfo) {
	h.logger().Info("burst transfer complete", zap.Uint8("channel", ch), zap.Int("bytes", len(data)))
}

func (h *DefaultEventHandler) OnTx(_ context.Context, ch uint8) { h.simple(ch, EventTx) }
func (h *DefaultEventHandler) OnRxFail(_ context.Context, ch uint8) {
	h.simple(ch, EventRxFail)
}
func (h *DefaultEventHandler) OnRxFailGoToSearch(_ context.Context, ch uint8) {
	h.simple(ch, EventRxFailGoToSearch)
}
func (h *DefaultEventHandler) OnRxSearchTimeout(_ context.Context, ch uint8) {
	h.logger().Info("channel search timeout", zap.Uint8("channel", ch))
}
func (h *DefaultEventHandler) OnTransferRxFailed(_ context.Context, ch uint8) {
	h.logger().Warn("transfer rx failed", zap.Uint8("channel", ch))
}
func (h *DefaultEventHandler) OnTransferTxStart(_ context.Context, ch uint8) {
	h.simple(ch, EventTransferTxStart)
}
func (h *DefaultEventHandler) OnTransferTxCompleted(_ context.Context, ch uint8) {
	h.simple(ch, EventTransferTxCompleted)
}
func (h *DefaultEventHandler) OnTransferTxFailed(_ context.Context, ch uint8) {
	h.logger().Warn("transfer tx failed", zap.Uint8("channel", ch))
}
func (h *DefaultEventHandler) OnChannelCollision(_ context.Context, ch uint8) {
	h.logger().Warn("channel collision", zap.Uint8("channel", ch))
}
func (h *DefaultEventHandler) OnChannelClosed(_ context.Context, ch uint8) {
	h.logger().Info("channel closed", zap.Uint8("channel", ch))
}

// OnUnhandledEvent 记录事件码、通道与负载前 4 字节
func (h *DefaultEventHandler) OnUnhandledEvent(_ context.Context, ch uint8, code EventCode, payload []byte) {
	head := payload
	if len(head) > 4 {
		head = head[:4]
	}
	h.logger().Debug("unhandled channel event",
		zap.Uint8("channel", ch),
		zap.Stringer("event", code),
		zap.Uint8("code", uint8(code)),
		zap.String("payload_head", hex.EncodeToString(head)))
}

// MultiEventHandler 依次分发给多个处理器
type MultiEventHandler []EventHandler

func (m MultiEventHandler) OnBroadcast(ctx context.Context, msg DataMessage) {
	for _, h := range m {
		h.OnBroadcast(ctx, msg)
	}
}
func (m MultiEventHandler) OnAcknowledged(ctx context.Context, msg DataMessage) {
	for _, h := range m {
		h.OnAcknowledged(ctx, msg)
	}
}
func (m MultiEventHandler) OnBurstPacket(ctx context.Context, pkt BurstPacket) {
	for _, h := range m {
		h.OnBurstPacket(ctx, pkt)
	}
}
func (m MultiEventHandler) OnBurstTransfer(ctx context.Context, ch uint8, data []byte, ext *ExtendedInfo) {
	for _, h := range m {
		h.OnBurstTransfer(ctx, ch, data, ext)
	}
}
func (m MultiEventHandler) OnTx(ctx context.Context, ch uint8) {
	for _, h := range m {
		h.OnTx(ctx, ch)
	}
}
func (m MultiEventHandler) OnRxFail(ctx context.Context, ch uint8) {
	for _, h := range m {
		h.OnRxFail(ctx, ch)
	}
}
func (m MultiEventHandler) OnRxFailGoToSearch(ctx context.Context, ch uint8) {
	for _, h := range m {
		h.OnRxFailGoToSearch(ctx, ch)
	}
}
func (m MultiEventHandler) OnRxSearchTimeout(ctx context.Context, ch uint8) {
	for _, h := range m {
		h.OnRxSearchTimeout(ctx, ch)
	}
}
func (m MultiEventHandler) OnTransferRxFailed(ctx context.Context, ch uint8) {
	for _, h := range m {
		h.OnTransferRxFailed(ctx, ch)
	}
}
func (m MultiEventHandler) OnTransferTxStart(ctx context.Context, ch uint8) {
	for _, h := range m {
		h.OnTransferTxStart(ctx, ch)
	}
}
func (m MultiEventHandler) OnTransferTxCompleted(ctx context.Context, ch uint8) {
	for _, h := range m {
		h.OnTransferTxCompleted(ctx, ch)
	}
}
func (m MultiEventHandler) OnTransferTxFailed(ctx context.Context, ch uint8) {
	for _, h := range m {
		h.OnTransferTxFailed(ctx, ch)
	}
}
func (m MultiEventHandler) OnChannelCollision(ctx context.Context, ch uint8) {
	for _, h := range m {
		h.OnChannelCollision(ctx, ch)
	}
}
func (m MultiEventHandler) OnChannelClosed(ctx context.Context, ch uint8) {
	for _, h := range m {
		h.OnChannelClosed(ctx, ch)
	}
}
func (m MultiEventHandler) OnUnhandledEvent(ctx context.Context, ch uint8, code EventCode, payload []byte) {
	for _, h := range m {
		h.OnUnhandledEvent(ctx, ch, code, payload)
	}
}

var (
	_ EventHandler = (*DefaultEventHandler)(nil)
	_ EventHandler = MultiEventHandler(nil)
)
