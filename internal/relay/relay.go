// Package relay 实现云端中继服务端
//
// 中继对设备提供两组能力：配对短码的生命周期（签发、认领、
// 挑战/确认信箱）与 WebSocket 信封转发。两组能力共用同一个
// HTTP 监听端口，配对走 REST 端点，转发走 /ws 升级。
//
// 中继不持有任何共享密钥：信封密文原样转发，配对信箱只暂存
// 双方已经加密的挑战与确认。攻击者拿下中继也读不到剪贴板。
package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/syncboard/go-syncboard/config"
	"github.com/syncboard/go-syncboard/internal/core/envelope"
	"github.com/syncboard/go-syncboard/internal/core/wsproto"
	"github.com/syncboard/go-syncboard/pkg/lib/log"
)

var logger = log.Logger("relay")

// ErrServerClosed 服务端已停止，不能再次启动
var ErrServerClosed = errors.New("relay server closed")

// Server 中继服务端
//
// 生命周期与节点侧组件一致：New 之后 Start 一次，Stop 之后
// 不可复用。HTTP 服务循环与会话清理循环挂在同一个 errgroup
// 下，Stop 时一并收束。
type Server struct {
	cfg   config.RelayConfig
	clk   clock.Clock
	reg   *registry
	ws    *wsproto.Server
	codec *envelope.Codec

	httpServer *http.Server
	listener   net.Listener

	cancel context.CancelFunc
	group  *errgroup.Group

	forwarded atomic.Uint64
	dropped   atomic.Uint64

	running atomic.Bool
	closed  atomic.Bool
}

// New 创建中继服务端
//
// WebSocket 升级复用节点侧的协议引擎，转发回调在这里挂好，
// 连接一建立就开始接收信封。
func New(cfg *config.Config, clk clock.Clock) *Server {
	s := &Server{
		cfg:   cfg.Relay,
		clk:   clk,
		reg:   newRegistry(cfg.Relay, clk),
		ws:    wsproto.NewServer(cfg.WebSocket),
		codec: envelope.NewCodec(cfg.Frame.MaxFrameSize),
	}
	s.ws.OnMessage(s.handleFrame)
	s.ws.OnDisconnect(func(conn *wsproto.Conn, err error) {
		if err != nil {
			logger.Debug("设备连接中断", "device", conn.Device().Short(), "err", err)
		}
	})
	return s
}

// Start 启动中继服务端
func (s *Server) Start(_ context.Context) error {
	if s.closed.Load() {
		return ErrServerClosed
	}
	if !s.running.CompareAndSwap(false, true) {
		return nil
	}

	listener, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		s.running.Store(false)
		return fmt.Errorf("listen %s: %w", s.cfg.ListenAddr, err)
	}
	s.listener = listener
	s.httpServer = &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: s.cfg.RequestTimeout.Duration(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	group, groupCtx := errgroup.WithContext(ctx)
	s.group = group

	group.Go(func() error {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve relay http: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		s.cleanupLoop(groupCtx)
		return nil
	})

	logger.Info("中继服务端已启动",
		"addr", listener.Addr().String(),
		"codeTTL", s.cfg.CodeTTL.Duration().String(),
		"mailboxTTL", s.cfg.MailboxTTL.Duration().String())
	return nil
}

// Stop 停止中继服务端并关闭全部设备连接
func (s *Server) Stop(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if !s.running.Load() {
		return nil
	}
	s.cancel()

	var errs error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("shutdown relay http: %w", err))
	}
	if err := s.ws.Stop(ctx); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("stop websocket server: %w", err))
	}
	if err := s.group.Wait(); err != nil {
		errs = multierr.Append(errs, err)
	}

	logger.Info("中继服务端已停止",
		"forwarded", s.forwarded.Load(),
		"dropped", s.dropped.Load())
	return errs
}

// Addr 返回实际监听地址
//
// 配置端口为 0 时返回系统分配的地址，测试据此拨号。
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.cfg.ListenAddr
	}
	return s.listener.Addr().String()
}

// Sessions 返回存活的配对会话数
func (s *Server) Sessions() int {
	return s.reg.size()
}

// Devices 返回当前在线的设备连接数
func (s *Server) Devices() int {
	return len(s.ws.Conns())
}

// cleanupLoop 周期清理过期会话
func (s *Server) cleanupLoop(ctx context.Context) {
	ticker := s.clk.Ticker(s.cfg.CleanupInterval.Duration())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.reg.sweep(); n > 0 {
				logger.Debug("清理过期配对会话", "count", n)
			}
		}
	}
}
