package ant

import (
	"context"
	"errors"
)

// Adapter ANT 协议适配器：流式解码 + 响应/事件分流
type Adapter struct {
	decoder   *StreamDecoder
	responses *ResponseRouter
	events    *EventRouter
}

// NewAdapter 创建适配器
func NewAdapter(responses *ResponseRouter, events *EventRouter) *Adapter {
	return &Adapter{decoder: NewStreamDecoder(), responses: responses, events: events}
}

// ProcessBytes 处理上行字节流；单帧的解码错误不影响后续帧，未知码错误立即返回
func (a *Adapter) ProcessBytes(ctx context.Context, p []byte) error {
	var errs []error
	for _, fr := range a.decoder.Feed(p) {
		if err := a.Route(ctx, fr); err != nil {
			if IsFatal(err) {
				return err
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Route 将一帧分派到响应路由或事件路由
func (a *Adapter) Route(ctx context.Context, f Frame) error {
	code, ok := rxEventCode(f)
	if !ok || a.events == nil {
		return a.responses.Dispatch(ctx, f.Channel(), f.ID, f.Payload)
	}
	ch := f.Channel()
	if code == EventRxBurstPacket || code == EventRxFlagBurstPacket || code == EventRxExtBurstPacket {
		ch &= ChannelNumberMask
	}
	return a.events.Dispatch(ctx, ch, code, f.Payload)
}

// rxEventCode 数据消息映射为接收事件；负载超过基础长度时为带标志字节的变体
func rxEventCode(f Frame) (EventCode, bool) {
	flagged := len(f.Payload) > DataPayloadLen
	switch f.ID {
	case MesgBroadcastData:
		if flagged {
			return EventRxFlagBroadcast, true
		}
		return EventRxBroadcast, true
	case MesgAcknowledgedData:
		if flagged {
			return EventRxFlagAcknowledged, true
		}
		return EventRxAcknowledged, true
	case MesgBurstData:
		if flagged {
			return EventRxFlagBurstPacket, true
		}
		return EventRxBurstPacket, true
	case MesgAdvBurstData:
		return EventRxBurstPacket, true
	case MesgExtBroadcastData:
		return EventRxExtBroadcast, true
	case MesgExtAcknowledgedData:
		return EventRxExtAcknowledged, true
	case MesgExtBurstData:
		return EventRxExtBurstPacket, true
	}
	return 0, false
}

// IsFatal 未知消息/事件码表示协议版本不匹配或分帧错误
func IsFatal(err error) bool {
	return errors.Is(err, ErrUnknownMessage) || errors.Is(err, ErrUnknownEvent)
}
