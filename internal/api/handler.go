// Package api 设备查询与命令 HTTP 接口
package api

import (
	"context"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/taoyao-code/ant-server/internal/api/middleware"
	"github.com/taoyao-code/ant-server/internal/channel"
	"github.com/taoyao-code/ant-server/internal/outbound"
	"github.com/taoyao-code/ant-server/internal/pending"
	"github.com/taoyao-code/ant-server/internal/protocol/ant"
	"github.com/taoyao-code/ant-server/internal/session"
	"github.com/taoyao-code/ant-server/internal/storage"
	"github.com/taoyao-code/ant-server/internal/transport"
)

// Device 接口需要的会话能力，*session.DeviceSession 满足
type Device interface {
	Info() session.DeviceInfo
	Registry() *channel.Registry
	ChannelStatus(ch uint8) (ant.ChannelStatus, bool)
	RequestMessageAndWait(ctx context.Context, n int, id ant.MessageID) error
	OpenChannelAndWait(ctx context.Context, n int) error
	CloseChannelAndWait(ctx context.Context, n int) error
	SendBroadcast(n int, data []byte) error
	SendAcknowledged(n int, data []byte) error
}

// StandardResponse 统一响应结构
type StandardResponse struct {
	Code      int    `json:"code"`           // 0=成功, >0=错误码
	Message   string `json:"message"`        // 消息
	Data      any    `json:"data,omitempty"` // 业务数据
	RequestID string `json:"request_id"`     // 请求追踪ID
	Timestamp int64  `json:"timestamp"`      // 时间戳
}

// SendDataRequest 下发数据请求
type SendDataRequest struct {
	Data         string `json:"data" binding:"required"` // 十六进制，最多 8 字节
	Acknowledged bool   `json:"acknowledged"`
}

// ChannelView 通道详情：注册表快照 + 设备上报的状态
type ChannelView struct {
	channel.Snapshot
	Reported *ant.ChannelStatus `json:"reported,omitempty"`
}

// Handler 设备 API 处理器
type Handler struct {
	dev      Device
	journal  storage.JournalRepo // 可为 nil
	instance string
	timeout  time.Duration
	logger   *zap.Logger
}

// NewHandler 创建处理器；journal 为 nil 时数据/事件查询返回 503
func NewHandler(dev Device, journal storage.JournalRepo, instance string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		dev:      dev,
		journal:  journal,
		instance: instance,
		timeout:  5 * time.Second,
		logger:   logger,
	}
}

// GetDevice 设备能力、序列号、版本等信息
func (h *Handler) GetDevice(c *gin.Context) {
	h.ok(c, "ok", h.dev.Info())
}

// ListChannels 全部在册通道
func (h *Handler) ListChannels(c *gin.Context) {
	h.ok(c, "ok", h.dev.Registry().Snapshots())
}

// GetChannel 单个通道；refresh=true 时先向设备请求通道状态
func (h *Handler) GetChannel(c *gin.Context) {
	n, ok := h.channelParam(c)
	if !ok {
		return
	}
	if c.Query("refresh") == "true" {
		ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
		defer cancel()
		if err := h.dev.RequestMessageAndWait(ctx, n, ant.MesgChannelStatus); err != nil {
			h.fail(c, err)
			return
		}
	}
	ch, found := h.dev.Registry().Get(uint8(n))
	if !found {
		h.fail(c, channel.ErrChannelNotFound)
		return
	}
	view := ChannelView{Snapshot: ch.Snapshot()}
	if st, ok := h.dev.ChannelStatus(uint8(n)); ok {
		view.Reported = &st
	}
	h.ok(c, "ok", view)
}

// OpenChannel 打开通道并等待设备确认
func (h *Handler) OpenChannel(c *gin.Context) {
	h.command(c, "channel opened", h.dev.OpenChannelAndWait)
}

// CloseChannel 关闭通道并等待设备确认
func (h *Handler) CloseChannel(c *gin.Context) {
	h.command(c, "channel closed", h.dev.CloseChannelAndWait)
}

func (h *Handler) command(c *gin.Context, msg string, fn func(ctx context.Context, n int) error) {
	n, ok := h.channelParam(c)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()
	if err := fn(ctx, n); err != nil {
		h.fail(c, err)
		return
	}
	h.logger.Info("api channel command", zap.String("result", msg), zap.Int("channel", n))
	h.ok(c, msg, gin.H{"channel": n})
}

// SendData 下发广播或确认数据；结果以通道事件返回，接口只确认入队
func (h *Handler) SendData(c *gin.Context) {
	n, ok := h.channelParam(c)
	if !ok {
		return
	}
	var req SendDataRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respond(c, http.StatusBadRequest, "invalid request: "+err.Error(), nil)
		return
	}
	data, err := hex.DecodeString(strings.ReplaceAll(req.Data, " ", ""))
	if err != nil {
		h.respond(c, http.StatusBadRequest, "data must be hex", nil)
		return
	}
	send := h.dev.SendBroadcast
	kind := "broadcast"
	if req.Acknowledged {
		send = h.dev.SendAcknowledged
		kind = "acknowledged"
	}
	if err := send(n, data); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, StandardResponse{
		Code:      0,
		Message:   "queued",
		Data:      gin.H{"channel": n, "kind": kind, "bytes": len(data)},
		RequestID: c.GetString(middleware.RequestIDKey),
		Timestamp: time.Now().Unix(),
	})
}

// ListData 最近接收数据
func (h *Handler) ListData(c *gin.Context) {
	if h.journal == nil {
		h.respond(c, http.StatusServiceUnavailable, "journal disabled", nil)
		return
	}
	ch, limit, ok := h.listParams(c)
	if !ok {
		return
	}
	list, err := h.journal.ListData(c.Request.Context(), h.instance, ch, limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.ok(c, "ok", list)
}

// ListEvents 最近通道事件
func (h *Handler) ListEvents(c *gin.Context) {
	if h.journal == nil {
		h.respond(c, http.StatusServiceUnavailable, "journal disabled", nil)
		return
	}
	ch, limit, ok := h.listParams(c)
	if !ok {
		return
	}
	list, err := h.journal.ListEvents(c.Request.Context(), h.instance, ch, limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.ok(c, "ok", list)
}

func (h *Handler) channelParam(c *gin.Context) (int, bool) {
	n, err := strconv.Atoi(c.Param("channel"))
	if err != nil || n < 0 || n > 255 {
		h.respond(c, http.StatusBadRequest, "invalid channel number", nil)
		return 0, false
	}
	return n, true
}

func (h *Handler) listParams(c *gin.Context) (*uint8, int, bool) {
	var ch *uint8
	if v := c.Query("channel"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > 255 {
			h.respond(c, http.StatusBadRequest, "invalid channel number", nil)
			return nil, 0, false
		}
		u := uint8(n)
		ch = &u
	}
	limit := 100
	if v := c.Query("limit"); v != "" {
		if vv, err := strconv.Atoi(v); err == nil {
			limit = vv
		}
	}
	return ch, limit, true
}

func (h *Handler) ok(c *gin.Context, msg string, data any) {
	c.JSON(http.StatusOK, StandardResponse{
		Code:      0,
		Message:   msg,
		Data:      data,
		RequestID: c.GetString(middleware.RequestIDKey),
		Timestamp: time.Now().Unix(),
	})
}

func (h *Handler) respond(c *gin.Context, status int, msg string, data any) {
	c.JSON(status, StandardResponse{
		Code:      status,
		Message:   msg,
		Data:      data,
		RequestID: c.GetString(middleware.RequestIDKey),
		Timestamp: time.Now().Unix(),
	})
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := statusFor(err)
	data := map[string]any(nil)
	var perr *ant.ProtocolError
	if errors.As(err, &perr) {
		data = map[string]any{"response_code": perr.Code.String()}
	}
	if status >= http.StatusInternalServerError {
		h.logger.Warn("api command failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	h.respond(c, status, err.Error(), data)
}

// statusFor 错误到 HTTP 状态码
func statusFor(err error) int {
	var rerr *ant.RangeError
	var perr *ant.ProtocolError
	switch {
	case errors.As(err, &rerr), errors.Is(err, ant.ErrUnknownMessage):
		return http.StatusBadRequest
	case errors.Is(err, channel.ErrChannelNotFound):
		return http.StatusNotFound
	case errors.As(err, &perr), errors.Is(err, channel.ErrChannelClosed), errors.Is(err, channel.ErrChannelExists):
		return http.StatusConflict
	case errors.Is(err, pending.ErrNoResponse), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, session.ErrNoSender), errors.Is(err, transport.ErrClosed),
		errors.Is(err, outbound.ErrQueueFull), errors.Is(err, outbound.ErrQueueClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
