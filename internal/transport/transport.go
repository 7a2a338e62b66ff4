// Package transport 提供与 ANT 设备之间的字节通道：
// 串口转 TCP 网桥连接，以及进程内的内存管道。
package transport

import (
	"context"
	"errors"
)

var (
	ErrClosed       = errors.New("transport closed")
	ErrWriteTimeout = errors.New("write queue timeout")
)

// Transport 双向字节流。Serve 阻塞读取直到连接结束或 ctx 取消。
type Transport interface {
	Write(p []byte) error
	Serve(ctx context.Context, onRead func([]byte)) error
	Close() error
	Done() <-chan struct{}
	Name() string
}
