package health

import "sync/atomic"

// Readiness 就绪状态：设备链路已初始化，且启用的存储已连接
type Readiness struct {
	deviceReady  atomic.Bool
	storageReady atomic.Bool
}

// New storageRequired 为 false 时视为存储已就绪
func New(storageRequired bool) *Readiness {
	r := &Readiness{}
	r.storageReady.Store(!storageRequired)
	return r
}

func (r *Readiness) SetDeviceReady(v bool)  { r.deviceReady.Store(v) }
func (r *Readiness) SetStorageReady(v bool) { r.storageReady.Store(v) }

func (r *Readiness) Ready() bool {
	return r.deviceReady.Load() && r.storageReady.Load()
}

// Reason 未就绪的原因，就绪时为空
func (r *Readiness) Reason() string {
	switch {
	case !r.deviceReady.Load():
		return "device not initialised"
	case !r.storageReady.Load():
		return "storage not connected"
	}
	return ""
}
