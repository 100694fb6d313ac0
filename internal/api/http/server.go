// Package http 本地网关的 HTTP 服务
//
// 网关持有进程内唯一的会话，对外提供 JSON API、websocket 事件流和 /metrics。
package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shelfchain/v1/internal/api/http/handlers"
	"github.com/shelfchain/v1/internal/api/http/middleware"
	"github.com/shelfchain/v1/internal/api/websocket"
	logmod "github.com/shelfchain/v1/internal/core/infrastructure/log"
	"github.com/shelfchain/v1/internal/core/infrastructure/metrics"
	"github.com/shelfchain/v1/pkg/interfaces/infrastructure/log"
)

// DefaultListen 默认只监听本机
const DefaultListen = "127.0.0.1:8645"

// Server HTTP 服务
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	listen     string
	logger     log.Logger
}

// NewServer 创建服务并注册路由
func NewServer(listen string, lib *handlers.LibraryHandlers, hub *websocket.Hub, m *metrics.Collectors, logger log.Logger) *Server {
	if listen == "" {
		listen = DefaultListen
	}
	logger = logmod.NewModuleLogger(logger, "http")

	gin.SetMode(gin.ReleaseMode)
	gin.DefaultWriter = io.Discard
	gin.DefaultErrorWriter = io.Discard

	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID(), middleware.Logger(logger), middleware.Metrics(m))

	s := &Server{router: router, listen: listen, logger: logger}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if m != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{})))
	}

	v1 := router.Group("/api/v1")
	lib.RegisterRoutes(v1)
	if hub != nil {
		v1.GET("/events", hub.Handle)
	}
	return s
}

// Handler 路由，供测试直接使用
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start 开始监听，立即返回
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.listen, err)
	}
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorf("HTTP 服务异常退出: %v", err)
		}
	}()
	s.logger.Infof("本地网关已启动 http://%s", ln.Addr())
	return nil
}

// Stop 优雅关闭
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("正在关闭本地网关")
	return s.httpServer.Shutdown(ctx)
}
