package outbound

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/taoyao-code/ant-server/internal/metrics"
	"github.com/taoyao-code/ant-server/internal/protocol/ant"
)

var (
	ErrQueueFull   = errors.New("outbound queue full")
	ErrQueueClosed = errors.New("outbound queue closed")
)

// Writer 下行字节的写出端（传输层）
type Writer interface {
	Write(p []byte) error
}

// Command 排队中的一条下行命令
type Command struct {
	ID         string
	Frame      ant.Frame
	Priority   int
	EnqueuedAt time.Time

	seq uint64
}

type commandHeap []*Command

func (h commandHeap) Len() int { return len(h) }
func (h commandHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].seq < h[j].seq
}
func (h commandHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *commandHeap) Push(x any)   { *h = append(*h, x.(*Command)) }
func (h *commandHeap) Pop() any {
	old := *h
	n := len(old)
	c := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return c
}

// Queue 带优先级与限速的下行队列，单个 goroutine 负责写出
type Queue struct {
	mu     sync.Mutex
	items  commandHeap
	seq    uint64
	closed bool
	notify chan struct{}

	writer   Writer
	limiter  *RateLimiter
	capacity int
	drops    atomic.Uint64
	logger   *zap.Logger
	metrics  *metrics.AppMetrics
}

type Option func(*Queue)

const defaultCapacity = 256

// WithRate 设置每秒命令数与突发容量
func WithRate(ratePerSec, burst int) Option {
	return func(q *Queue) { q.limiter = NewRateLimiter(ratePerSec, burst) }
}

// WithCapacity 队列上限，超过时 Send 返回 ErrQueueFull
func WithCapacity(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.capacity = n
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(q *Queue) {
		if logger != nil {
			q.logger = logger
		}
	}
}

func WithMetrics(m *metrics.AppMetrics) Option {
	return func(q *Queue) { q.metrics = m }
}

// NewQueue 创建下行队列
func NewQueue(w Writer, opts ...Option) *Queue {
	q := &Queue{
		notify:   make(chan struct{}, 1),
		writer:   w,
		limiter:  NewRateLimiter(0, 0),
		capacity: defaultCapacity,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Send 入队一帧，返回命令 ID
func (q *Queue) Send(f ant.Frame) (string, error) {
	return q.SendWithPriority(f, GetCommandPriority(f.ID))
}

// SendWithPriority 按指定优先级入队
func (q *Queue) SendWithPriority(f ant.Frame, priority int) (string, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.dropped("closed")
		return "", ErrQueueClosed
	}
	if len(q.items) >= q.capacity {
		q.mu.Unlock()
		q.dropped("full")
		return "", fmt.Errorf("%w: %d pending", ErrQueueFull, q.capacity)
	}
	q.seq++
	cmd := &Command{
		ID:         uuid.NewString(),
		Frame:      f,
		Priority:   priority,
		EnqueuedAt: time.Now(),
		seq:        q.seq,
	}
	heap.Push(&q.items, cmd)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	q.logger.Debug("command queued",
		zap.String("cmd_id", cmd.ID),
		zap.String("msg", f.ID.String()),
		zap.Uint8("channel", f.Channel()),
		zap.Int("priority", priority))
	return cmd.ID, nil
}

// Len 队列中待发送的命令数
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Capacity 队列上限
func (q *Queue) Capacity() int { return q.capacity }

// Dropped 累计丢弃的命令数
func (q *Queue) Dropped() uint64 { return q.drops.Load() }

// Discard 丢弃全部待发送命令但不关闭队列，链路断开时使用
func (q *Queue) Discard() int {
	q.mu.Lock()
	n := len(q.items)
	q.items = nil
	q.mu.Unlock()
	for i := 0; i < n; i++ {
		q.dropped("discarded")
	}
	return n
}

// Stats 限速统计
func (q *Queue) Stats() ThrottleStats {
	return q.limiter.Stats()
}

// Run 持续写出直到 ctx 结束或队列关闭
func (q *Queue) Run(ctx context.Context) {
	q.logger.Info("outbound queue started")
	defer q.logger.Info("outbound queue stopped")

	for {
		cmd, ok := q.pop()
		if !ok {
			q.mu.Lock()
			closed := q.closed
			q.mu.Unlock()
			if closed {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-q.notify:
			}
			continue
		}
		if err := q.limiter.Wait(ctx); err != nil {
			q.dropped("canceled")
			return
		}
		q.write(cmd)
	}
}

// Close 拒绝新命令并丢弃未发送的命令
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	n := len(q.items)
	q.items = nil
	q.mu.Unlock()

	for i := 0; i < n; i++ {
		q.dropped("closed")
	}
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *Queue) pop() (*Command, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	return heap.Pop(&q.items).(*Command), true
}

func (q *Queue) write(cmd *Command) {
	if err := q.writer.Write(cmd.Frame.Encode()); err != nil {
		q.logger.Warn("command write failed",
			zap.String("cmd_id", cmd.ID),
			zap.String("msg", cmd.Frame.ID.String()),
			zap.Error(err))
		q.dropped("write_error")
		return
	}
	if q.metrics != nil {
		q.metrics.OutboundSent.WithLabelValues(cmd.Frame.ID.String()).Inc()
	}
	q.logger.Debug("command sent",
		zap.String("cmd_id", cmd.ID),
		zap.String("msg", cmd.Frame.ID.String()),
		zap.Duration("queued", time.Since(cmd.EnqueuedAt)))
}

func (q *Queue) dropped(reason string) {
	q.drops.Add(1)
	if q.metrics != nil {
		q.metrics.OutboundDropped.WithLabelValues(reason).Inc()
	}
}
