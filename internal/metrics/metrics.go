package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry 创建自定义 Prometheus Registry，并注册常用采集器
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler 返回 Prometheus 指标 HTTP 处理器
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// AppMetrics 自定义业务指标
type AppMetrics struct {
	BytesReceived     prometheus.Counter
	FrameParseTotal   *prometheus.CounterVec // labels: result=ok|error
	ResponseRoute     *prometheus.CounterVec // labels: msg
	EventRoute        *prometheus.CounterVec // labels: event
	ProtocolErrors    *prometheus.CounterVec // labels: op
	UnknownCodes      *prometheus.CounterVec // labels: kind=message|event
	OutboundSent      *prometheus.CounterVec // labels: msg
	OutboundDropped   *prometheus.CounterVec // labels: reason
	ResponseWaitTotal *prometheus.CounterVec // labels: result=ok|error|timeout
	LiveChannels      prometheus.Gauge       // 当前注册表中的通道数
	WebhookPushTotal  *prometheus.CounterVec // labels: result=ok|rejected|error|dropped
	DialBreakerTrips  prometheus.Counter
}

// NewAppMetrics 注册并返回业务指标
func NewAppMetrics(reg *prometheus.Registry) *AppMetrics {
	m := &AppMetrics{
		BytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ant_bytes_received_total",
			Help: "Total bytes received from the radio transport.",
		}),
		FrameParseTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ant_frame_parse_total",
			Help: "ANT serial frames decoded.",
		}, []string{"result"}),
		ResponseRoute: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ant_response_route_total",
			Help: "Responses routed by message id.",
		}, []string{"msg"}),
		EventRoute: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ant_event_route_total",
			Help: "Channel events routed by event code.",
		}, []string{"event"}),
		ProtocolErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ant_protocol_errors_total",
			Help: "Responses carrying a non-zero status, by operation.",
		}, []string{"op"}),
		UnknownCodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ant_unknown_codes_total",
			Help: "Message ids or event codes absent from the dispatch tables.",
		}, []string{"kind"}),
		OutboundSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ant_outbound_sent_total",
			Help: "Commands written to the radio, by message id.",
		}, []string{"msg"}),
		OutboundDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ant_outbound_dropped_total",
			Help: "Commands dropped before being written.",
		}, []string{"reason"}),
		ResponseWaitTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ant_response_wait_total",
			Help: "Synchronous waits for command responses, by result.",
		}, []string{"result"}),
		LiveChannels: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ant_live_channels",
			Help: "Channels currently present in the registry.",
		}),
		WebhookPushTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ant_webhook_push_total",
			Help: "Events forwarded to the webhook endpoint, by result.",
		}, []string{"result"}),
		DialBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ant_dial_breaker_trips_total",
			Help: "Times the bridge dial breaker opened after repeated failures.",
		}),
	}
	reg.MustRegister(m.BytesReceived, m.FrameParseTotal, m.ResponseRoute, m.EventRoute, m.ProtocolErrors,
		m.UnknownCodes, m.OutboundSent, m.OutboundDropped, m.ResponseWaitTotal, m.LiveChannels,
		m.WebhookPushTotal, m.DialBreakerTrips)
	return m
}
