package transport

import (
	"context"
	"sync/atomic"
)

// Pipe 进程内管道：主机端实现 Transport，设备端用 Inject/Commands
type Pipe struct {
	inbound  chan []byte // 设备 -> 主机
	outbound chan []byte // 主机 -> 设备
	closed   int32
	doneC    chan struct{}
}

// NewPipe buffer 为两个方向的缓冲条数
func NewPipe(buffer int) *Pipe {
	if buffer <= 0 {
		buffer = 64
	}
	return &Pipe{
		inbound:  make(chan []byte, buffer),
		outbound: make(chan []byte, buffer),
		doneC:    make(chan struct{}),
	}
}

func (p *Pipe) Name() string { return "pipe" }

func (p *Pipe) Write(b []byte) error {
	return p.send(p.outbound, b)
}

// Inject 设备端写入上行数据
func (p *Pipe) Inject(b []byte) error {
	return p.send(p.inbound, b)
}

func (p *Pipe) send(ch chan []byte, b []byte) error {
	if atomic.LoadInt32(&p.closed) == 1 {
		return ErrClosed
	}
	dup := make([]byte, len(b))
	copy(dup, b)
	select {
	case ch <- dup:
		return nil
	case <-p.doneC:
		return ErrClosed
	}
}

// Commands 设备端读取主机写出的数据
func (p *Pipe) Commands() <-chan []byte { return p.outbound }

func (p *Pipe) Serve(ctx context.Context, onRead func([]byte)) error {
	for {
		select {
		case b := <-p.inbound:
			if onRead != nil {
				onRead(b)
			}
		case <-ctx.Done():
			return nil
		case <-p.doneC:
			return nil
		}
	}
}

func (p *Pipe) Close() error {
	if atomic.CompareAndSwapInt32(&p.closed, 0, 1) {
		close(p.doneC)
	}
	return nil
}

func (p *Pipe) Done() <-chan struct{} { return p.doneC }

var (
	_ Transport = (*Pipe)(nil)
	_ Transport = (*Conn)(nil)
)
