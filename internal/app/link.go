package app

import (
	"sync"

	"github.com/taoyao-code/ant-server/internal/transport"
)

// link 下行队列的写出端，指向当前连接；断线期间写入返回 transport.ErrClosed
type link struct {
	mu sync.RWMutex
	tr transport.Transport
}

func (l *link) attach(tr transport.Transport) {
	l.mu.Lock()
	l.tr = tr
	l.mu.Unlock()
}

// detach 仅当仍指向 tr 时断开，避免覆盖重连后的新连接
func (l *link) detach(tr transport.Transport) {
	l.mu.Lock()
	if l.tr == tr {
		l.tr = nil
	}
	l.mu.Unlock()
}

func (l *link) current() transport.Transport {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.tr
}

func (l *link) Write(b []byte) error {
	tr := l.current()
	if tr == nil {
		return transport.ErrClosed
	}
	return tr.Write(b)
}
