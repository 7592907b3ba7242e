// Package wsproto 提供最小化的 WebSocket 协议引擎
package wsproto

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/syncboard/go-syncboard/config"
	"github.com/syncboard/go-syncboard/pkg/lib/log"
	"github.com/syncboard/go-syncboard/pkg/types"
)

// ============================================================================
//                              Server - WebSocket 服务端
// ============================================================================

// ConnectHandler 新连接回调
type ConnectHandler func(conn *Conn)

// ServerMessageHandler 服务端消息回调
type ServerMessageHandler func(conn *Conn, data []byte)

// DisconnectHandler 连接断开回调
type DisconnectHandler func(conn *Conn, err error)

// Server WebSocket 服务端
//
// 监听升级请求并按设备标识维护连接注册表。同一设备重复
// 连接时旧连接被替换关闭，每台设备始终只保留一条连接。
type Server struct {
	cfg config.WebSocketConfig

	httpServer *http.Server
	listener   net.Listener

	connsMu sync.RWMutex
	conns   map[types.DeviceID]*Conn

	handlerMu    sync.RWMutex
	onConnect    ConnectHandler
	onMessage    ServerMessageHandler
	onDisconnect DisconnectHandler

	running int32
	closed  int32
}

// NewServer 创建 WebSocket 服务端
func NewServer(cfg config.WebSocketConfig) *Server {
	return &Server{
		cfg:   cfg,
		conns: make(map[types.DeviceID]*Conn),
	}
}

// OnConnect 注册新连接回调，须在 Start 之前调用
func (s *Server) OnConnect(h ConnectHandler) {
	s.handlerMu.Lock()
	s.onConnect = h
	s.handlerMu.Unlock()
}

// OnMessage 注册消息回调，须在 Start 之前调用
func (s *Server) OnMessage(h ServerMessageHandler) {
	s.handlerMu.Lock()
	s.onMessage = h
	s.handlerMu.Unlock()
}

// OnDisconnect 注册断开回调，须在 Start 之前调用
func (s *Server) OnDisconnect(h DisconnectHandler) {
	s.handlerMu.Lock()
	s.onDisconnect = h
	s.handlerMu.Unlock()
}

// Handler 返回可挂载到任意 mux 的升级处理器
//
// 中继服务端把它挂到 /ws 路径复用同一实现。
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handleUpgrade)
}

// ============================================================================
//                              生命周期
// ============================================================================

// Start 启动监听
func (s *Server) Start(_ context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		return nil
	}
	if atomic.LoadInt32(&s.closed) == 1 {
		return ErrConnClosed
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.ListenHost, s.cfg.ListenPort)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		atomic.StoreInt32(&s.running, 0)
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)
	s.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: s.cfg.HandshakeTimeout.Duration(),
	}

	logger.Info("WebSocket 服务端已启动", "addr", listener.Addr().String())

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("WebSocket 服务端退出", "err", err)
		}
	}()
	return nil
}

// Stop 停止监听并关闭全部连接
func (s *Server) Stop(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return nil
	}

	s.connsMu.Lock()
	conns := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.conns = make(map[types.DeviceID]*Conn)
	s.connsMu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown websocket server: %w", err)
		}
	}
	logger.Info("WebSocket 服务端已停止")
	return nil
}

// Port 返回实际监听端口
//
// 配置端口为 0 时返回系统分配的端口，发现服务据此通告。
func (s *Server) Port() int {
	if s.listener == nil {
		return s.cfg.ListenPort
	}
	if addr, ok := s.listener.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return s.cfg.ListenPort
}

// ============================================================================
//                              连接注册表
// ============================================================================

// handleUpgrade 处理升级请求
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := Upgrade(w, r, s.cfg)
	if err != nil {
		logger.Debug("拒绝升级请求", "remote", r.RemoteAddr, "err", err)
		return
	}

	device := conn.Device()

	s.connsMu.Lock()
	if old, ok := s.conns[device]; ok {
		// 同一设备的旧连接让位
		go old.Close()
	}
	s.conns[device] = conn
	s.connsMu.Unlock()

	conn.OnMessage(func(data []byte) {
		s.handlerMu.RLock()
		onMessage := s.onMessage
		s.handlerMu.RUnlock()
		if onMessage != nil {
			onMessage(conn, data)
		}
	})
	conn.OnClose(func(err error) {
		s.removeConn(device, conn)
		s.handlerMu.RLock()
		onDisconnect := s.onDisconnect
		s.handlerMu.RUnlock()
		if onDisconnect != nil {
			onDisconnect(conn, err)
		}
	})

	if err := conn.Start(r.Context()); err != nil {
		logger.Warn("启动连接失败", "device", device.Short(), "err", err)
		return
	}

	logger.Info("设备已连接",
		"device", device.Short(),
		"conn", log.TruncateID(conn.ID(), 8),
		"remote", conn.RemoteAddr().String())

	s.handlerMu.RLock()
	onConnect := s.onConnect
	s.handlerMu.RUnlock()
	if onConnect != nil {
		onConnect(conn)
	}
}

// removeConn 从注册表摘除连接
//
// 仅当注册表中仍是这条连接时才摘除，防止误删接替的新连接。
func (s *Server) removeConn(device types.DeviceID, conn *Conn) {
	s.connsMu.Lock()
	if current, ok := s.conns[device]; ok && current == conn {
		delete(s.conns, device)
	}
	s.connsMu.Unlock()
}

// Conn 查找设备的当前连接
func (s *Server) Conn(device types.DeviceID) (*Conn, bool) {
	s.connsMu.RLock()
	defer s.connsMu.RUnlock()
	c, ok := s.conns[device]
	return c, ok
}

// Conns 返回全部在线连接
func (s *Server) Conns() []*Conn {
	s.connsMu.RLock()
	defer s.connsMu.RUnlock()
	out := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		out = append(out, c)
	}
	return out
}

// Send 向指定设备发送一条二进制消息
func (s *Server) Send(device types.DeviceID, data []byte) error {
	conn, ok := s.Conn(device)
	if !ok {
		return fmt.Errorf("%w: device %s not connected", ErrConnClosed, device.Short())
	}
	return conn.WriteMessage(data)
}
