// Package transport 实现双路径传输层
package transport

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/syncboard/go-syncboard/config"
	"github.com/syncboard/go-syncboard/internal/core/envelope"
	"github.com/syncboard/go-syncboard/internal/core/wsproto"
	"github.com/syncboard/go-syncboard/pkg/types"
)

// ============================================================================
//                              LAN - 局域网直连路径
// ============================================================================

// LAN 局域网直连传输
//
// 同时充当服务端与客户端：监听对端的入站升级请求，也按发现
// 服务登记的地址主动拨号。入站与出站连接统一按设备标识索引，
// 每台设备同时只保留一条可用连接。
type LAN struct {
	device types.DeviceID
	cfg    config.TransportConfig
	wsCfg  config.WebSocketConfig
	codec  *envelope.Codec

	server *wsproto.Server

	mu     sync.RWMutex
	dialed map[types.DeviceID]*wsproto.Conn
	addrs  map[types.DeviceID]string

	handlerMu  sync.RWMutex
	onEnvelope EnvelopeHandler
	onPeerDown PeerDownHandler

	running atomic.Bool
	closed  atomic.Bool
}

// NewLAN 创建局域网传输
func NewLAN(device types.DeviceID, cfg config.TransportConfig, wsCfg config.WebSocketConfig, codec *envelope.Codec) *LAN {
	return &LAN{
		device: device,
		cfg:    cfg,
		wsCfg:  wsCfg,
		codec:  codec,
		server: wsproto.NewServer(wsCfg),
		dialed: make(map[types.DeviceID]*wsproto.Conn),
		addrs:  make(map[types.DeviceID]string),
	}
}

// Route 实现 PathSender
func (l *LAN) Route() types.Route {
	return types.RouteLAN
}

// OnEnvelope 注册入站信封回调，须在 Start 之前调用
func (l *LAN) OnEnvelope(h EnvelopeHandler) {
	l.handlerMu.Lock()
	l.onEnvelope = h
	l.handlerMu.Unlock()
}

// OnPeerDown 注册对端断开回调，须在 Start 之前调用
func (l *LAN) OnPeerDown(h PeerDownHandler) {
	l.handlerMu.Lock()
	l.onPeerDown = h
	l.handlerMu.Unlock()
}

// Start 启动入站监听
func (l *LAN) Start(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return nil
	}
	if l.closed.Load() {
		return ErrClosed
	}

	l.server.OnMessage(func(conn *wsproto.Conn, data []byte) {
		l.dispatch(conn.Device(), data)
	})
	l.server.OnDisconnect(func(conn *wsproto.Conn, err error) {
		l.notifyPeerDown(conn.Device(), err)
	})

	if err := l.server.Start(ctx); err != nil {
		return fmt.Errorf("start lan listener: %w", err)
	}
	logger.Info("LAN 传输已启动", "device", l.device.Short(), "port", l.server.Port())
	return nil
}

// Stop 停止监听并关闭全部连接
func (l *LAN) Stop(ctx context.Context) error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}

	l.mu.Lock()
	conns := make([]*wsproto.Conn, 0, len(l.dialed))
	for _, conn := range l.dialed {
		conns = append(conns, conn)
	}
	l.dialed = make(map[types.DeviceID]*wsproto.Conn)
	l.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
	return l.server.Stop(ctx)
}

// Port 返回实际监听端口
func (l *LAN) Port() int {
	return l.server.Port()
}

// ============================================================================
//                              地址登记
// ============================================================================

// SetPeerAddr 登记对端的局域网地址
//
// 地址来自发现服务，host:port 形式。
func (l *LAN) SetPeerAddr(peer types.DeviceID, host string, port int) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	l.mu.Lock()
	l.addrs[peer] = addr
	l.mu.Unlock()
	logger.Debug("登记对端地址", "peer", peer.Short(), "addr", addr)
}

// PeerAddr 返回对端登记的地址
func (l *LAN) PeerAddr(peer types.DeviceID) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	addr, ok := l.addrs[peer]
	return addr, ok
}

// ForgetPeer 移除对端地址登记
func (l *LAN) ForgetPeer(peer types.DeviceID) {
	l.mu.Lock()
	delete(l.addrs, peer)
	l.mu.Unlock()
}

// ============================================================================
//                              连接管理
// ============================================================================

// Connect 确保到对端的连接可用
//
// 已有入站或出站连接时直接复用；否则按登记地址拨号。
func (l *LAN) Connect(ctx context.Context, peer types.DeviceID) error {
	if l.closed.Load() {
		return ErrClosed
	}
	if l.Connected(peer) {
		return nil
	}

	addr, ok := l.PeerAddr(peer)
	if !ok {
		return fmt.Errorf("%w: no known address for %s", ErrNoConnection, peer.Short())
	}

	dialCtx := ctx
	if timeout := l.cfg.DialTimeout.Duration(); timeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	conn, err := wsproto.DialContext(dialCtx, "ws://"+addr+"/ws", l.device, l.wsCfg)
	if err != nil {
		return fmt.Errorf("dial lan peer %s: %w", peer.Short(), err)
	}

	conn.OnMessage(func(data []byte) {
		l.dispatch(peer, data)
	})
	conn.OnClose(func(err error) {
		l.removeDialed(peer, conn)
		l.notifyPeerDown(peer, err)
	})
	if err := conn.Start(ctx); err != nil {
		_ = conn.Close()
		return err
	}

	l.mu.Lock()
	if old, ok := l.dialed[peer]; ok && old != conn {
		go old.Close()
	}
	l.dialed[peer] = conn
	l.mu.Unlock()

	logger.Info("LAN 连接已建立", "peer", peer.Short(), "addr", addr)
	return nil
}

// Connected 报告到对端是否有可用连接
func (l *LAN) Connected(peer types.DeviceID) bool {
	if conn, ok := l.conn(peer); ok {
		return conn.State() == types.ConnOpen
	}
	return false
}

// Disconnect 主动断开到对端的出站连接
func (l *LAN) Disconnect(peer types.DeviceID) error {
	l.mu.Lock()
	conn, ok := l.dialed[peer]
	delete(l.dialed, peer)
	l.mu.Unlock()
	if !ok {
		return nil
	}
	return conn.Close()
}

// Peers 返回当前有连接的设备列表
func (l *LAN) Peers() []types.DeviceID {
	seen := make(map[types.DeviceID]struct{})

	l.mu.RLock()
	for peer := range l.dialed {
		seen[peer] = struct{}{}
	}
	l.mu.RUnlock()

	for _, conn := range l.server.Conns() {
		seen[conn.Device()] = struct{}{}
	}

	peers := make([]types.DeviceID, 0, len(seen))
	for peer := range seen {
		peers = append(peers, peer)
	}
	return peers
}

// conn 按出站优先的顺序查找对端连接
func (l *LAN) conn(peer types.DeviceID) (*wsproto.Conn, bool) {
	l.mu.RLock()
	conn, ok := l.dialed[peer]
	l.mu.RUnlock()
	if ok {
		return conn, true
	}
	return l.server.Conn(peer)
}

func (l *LAN) removeDialed(peer types.DeviceID, conn *wsproto.Conn) {
	l.mu.Lock()
	if cur, ok := l.dialed[peer]; ok && cur == conn {
		delete(l.dialed, peer)
	}
	l.mu.Unlock()
}

// ============================================================================
//                              收发
// ============================================================================

// Send 实现 PathSender
func (l *LAN) Send(ctx context.Context, env *envelope.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if l.closed.Load() {
		return ErrClosed
	}

	target := env.Payload.Target
	if target.Empty() {
		return ErrNoTarget
	}
	conn, ok := l.conn(target)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoConnection, target.Short())
	}

	frame, err := l.codec.Encode(env)
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(frame); err != nil {
		return fmt.Errorf("lan send to %s: %w", target.Short(), err)
	}
	return nil
}

// dispatch 解码入站帧并投递信封
//
// 残帧与畸形帧只记录日志后丢弃，不影响连接本身。
func (l *LAN) dispatch(from types.DeviceID, data []byte) {
	env, err := l.codec.Decode(data)
	if err != nil {
		logger.Warn("丢弃无法解码的入站帧",
			"peer", from.Short(),
			"size", len(data),
			"err", err)
		return
	}

	l.handlerMu.RLock()
	handler := l.onEnvelope
	l.handlerMu.RUnlock()
	if handler != nil {
		handler(from, env)
	}
}

func (l *LAN) notifyPeerDown(peer types.DeviceID, err error) {
	l.handlerMu.RLock()
	handler := l.onPeerDown
	l.handlerMu.RUnlock()
	if handler != nil {
		handler(peer, err)
	}
}
