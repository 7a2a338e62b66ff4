package app

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/taoyao-code/ant-server/internal/metrics"
)

// NewMetrics 初始化注册表与应用指标
func NewMetrics() (*prometheus.Registry, *metrics.AppMetrics) {
	reg := metrics.NewRegistry()
	return reg, metrics.NewAppMetrics(reg)
}

// RegisterDeviceGauges 以采样方式暴露设备运行时状态，抓取时读取当前值
func RegisterDeviceGauges(reg prometheus.Registerer, d *Device) {
	gauge := func(name, help string, fn func() float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, fn)
	}
	reg.MustRegister(
		gauge("ant_device_ready", "1 when the device finished initialisation", func() float64 {
			if d.Ready() {
				return 1
			}
			return 0
		}),
		gauge("ant_outbound_queue_length", "Commands waiting in the outbound queue", func() float64 {
			return float64(d.Queue.Len())
		}),
		gauge("ant_pending_waits", "Callers waiting for a device response", func() float64 {
			return float64(d.Tracker.Pending())
		}),
		gauge("ant_channels_registered", "Channels currently held in the registry", func() float64 {
			return float64(d.Registry.Len())
		}),
	)
}
