package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/ant-server/internal/config"
)

// Conn 到串口网桥的 TCP 连接，读/写各一个循环
type Conn struct {
	cfg    cfgpkg.TransportConfig
	c      net.Conn
	writeC chan []byte
	closed int32
	doneC  chan struct{}
	log    *zap.Logger

	onRecvBytes func(n int)
}

// Dial 连接网桥
func Dial(ctx context.Context, cfg cfgpkg.TransportConfig, log *zap.Logger) (*Conn, error) {
	if log == nil {
		log = zap.NewNop()
	}
	d := net.Dialer{Timeout: cfg.DialTimeout}
	c, err := d.DialContext(ctx, "tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.Addr, err)
	}
	return newConn(c, cfg, log), nil
}

func newConn(c net.Conn, cfg cfgpkg.TransportConfig, log *zap.Logger) *Conn {
	size := cfg.WriteQueue
	if size <= 0 {
		size = 128
	}
	return &Conn{
		cfg:    cfg,
		c:      c,
		writeC: make(chan []byte, size),
		doneC:  make(chan struct{}),
		log:    log,
	}
}

// SetRecvCallback 每次读到数据时回调字节数（指标）
func (cc *Conn) SetRecvCallback(fn func(n int)) { cc.onRecvBytes = fn }

func (cc *Conn) Name() string { return "tcp:" + cc.c.RemoteAddr().String() }

// Write 异步写入，受写队列与写超时影响
func (cc *Conn) Write(b []byte) error {
	if atomic.LoadInt32(&cc.closed) == 1 {
		return ErrClosed
	}
	// 复制一份，避免调用方复用底层切片
	dup := make([]byte, len(b))
	copy(dup, b)
	to := cc.cfg.WriteTimeout
	if to <= 0 {
		to = 5 * time.Second
	}
	timer := time.NewTimer(to)
	defer timer.Stop()
	select {
	case cc.writeC <- dup:
		return nil
	case <-cc.doneC:
		return ErrClosed
	case <-timer.C:
		return ErrWriteTimeout
	}
}

// Close 关闭连接；写循环随 doneC 退出
func (cc *Conn) Close() error {
	if !atomic.CompareAndSwapInt32(&cc.closed, 0, 1) {
		return nil
	}
	close(cc.doneC)
	return cc.c.Close()
}

// Done 连接关闭通知
func (cc *Conn) Done() <-chan struct{} { return cc.doneC }

// Serve 启动读/写循环，阻塞直至连接结束。主动关闭或 ctx 取消时返回 nil。
func (cc *Conn) Serve(ctx context.Context, onRead func([]byte)) error {
	defer cc.Close()

	go func() {
		select {
		case <-ctx.Done():
			_ = cc.Close()
		case <-cc.doneC:
		}
	}()

	doneW := make(chan struct{})
	go func() {
		defer close(doneW)
		for {
			select {
			case msg := <-cc.writeC:
				if cc.cfg.WriteTimeout > 0 {
					_ = cc.c.SetWriteDeadline(time.Now().Add(cc.cfg.WriteTimeout))
				}
				if _, err := cc.c.Write(msg); err != nil {
					cc.log.Warn("transport write failed", zap.Error(err))
					_ = cc.Close()
					return
				}
			case <-cc.doneC:
				return
			}
		}
	}()

	buf := make([]byte, 4096)
	var readErr error
	for {
		if cc.cfg.ReadTimeout > 0 {
			_ = cc.c.SetReadDeadline(time.Now().Add(cc.cfg.ReadTimeout))
		}
		n, err := cc.c.Read(buf)
		if n > 0 {
			if cc.onRecvBytes != nil {
				cc.onRecvBytes(n)
			}
			if onRead != nil {
				onRead(buf[:n])
			}
		}
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				// 设备空闲，刷新 deadline 继续
				continue
			}
			if atomic.LoadInt32(&cc.closed) == 0 {
				readErr = err
			}
			break
		}
	}
	_ = cc.Close()
	<-doneW
	return readErr
}
