// Package httpserver 承载 API、健康检查与指标的 gin 服务。
package httpserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/taoyao-code/ant-server/internal/api/middleware"
	"github.com/taoyao-code/ant-server/internal/config"
)

// Readiness /readyz 的判定；Reason 在未就绪时说明原因
type Readiness interface {
	Ready() bool
	Reason() string
}

// Server gin 引擎与 http.Server
type Server struct {
	srv    *http.Server
	engine *gin.Engine
	log    *zap.Logger

	mu   sync.Mutex
	addr net.Addr
}

// New ready 为 nil 时 /readyz 恒为就绪；metricsHandler 为 nil 时不暴露指标
func New(cfg config.HTTPConfig, metricsPath string, metricsHandler http.Handler, ready Readiness, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestTracing(), middleware.AccessLog(log))

	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	r.GET("/readyz", func(c *gin.Context) {
		if ready == nil || ready.Ready() {
			c.String(http.StatusOK, "ready")
			return
		}
		c.String(http.StatusServiceUnavailable, "not-ready: "+ready.Reason())
	})
	if metricsHandler != nil {
		if metricsPath == "" {
			metricsPath = "/metrics"
		}
		r.GET(metricsPath, gin.WrapH(metricsHandler))
	}

	return &Server{
		srv: &http.Server{
			Addr:              cfg.Addr,
			Handler:           r,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
		},
		engine: r,
		log:    log,
	}
}

// Register 在 Start 之前挂载路由
func (s *Server) Register(fn func(r *gin.Engine)) {
	fn(s.engine)
}

func (s *Server) Handler() http.Handler { return s.engine }

// Addr 实际监听地址，Start 之前为 nil
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Start 监听并阻塞服务；Shutdown 触发的关闭返回 nil
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()
	s.log.Info("http listening", zap.String("addr", ln.Addr().String()))

	if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
