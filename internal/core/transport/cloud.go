// Package transport 实现双路径传输层
package transport

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/syncboard/go-syncboard/config"
	"github.com/syncboard/go-syncboard/internal/core/envelope"
	"github.com/syncboard/go-syncboard/internal/core/wsproto"
	"github.com/syncboard/go-syncboard/pkg/types"
)

// ============================================================================
//                              Cloud - 云中继路径
// ============================================================================

// Cloud 云中继传输
//
// 维护到配置端点的单条 WebSocket 连接，所有对端共用。信封
// 必须携带目标设备，由中继按 target 转发；入站信封的来源取
// 自信封内声明的发送方设备标识。
type Cloud struct {
	device types.DeviceID
	cfg    config.TransportConfig
	wsCfg  config.WebSocketConfig
	codec  *envelope.Codec

	mu   sync.RWMutex
	conn *wsproto.Conn

	handlerMu  sync.RWMutex
	onEnvelope EnvelopeHandler
	onDown     PeerDownHandler

	closed atomic.Bool
}

// NewCloud 创建云中继传输
func NewCloud(device types.DeviceID, cfg config.TransportConfig, wsCfg config.WebSocketConfig, codec *envelope.Codec) *Cloud {
	return &Cloud{
		device: device,
		cfg:    cfg,
		wsCfg:  wsCfg,
		codec:  codec,
	}
}

// Route 实现 PathSender
func (c *Cloud) Route() types.Route {
	return types.RouteCloud
}

// OnEnvelope 注册入站信封回调，须在 Connect 之前调用
func (c *Cloud) OnEnvelope(h EnvelopeHandler) {
	c.handlerMu.Lock()
	c.onEnvelope = h
	c.handlerMu.Unlock()
}

// OnDown 注册中继连接断开回调，须在 Connect 之前调用
func (c *Cloud) OnDown(h PeerDownHandler) {
	c.handlerMu.Lock()
	c.onDown = h
	c.handlerMu.Unlock()
}

// Connect 建立到中继端点的连接
//
// 已有可用连接时直接返回。端点形如 ws://host:port 或
// wss://host:port，路径缺省补 /ws。
func (c *Cloud) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if c.Connected() {
		return nil
	}

	endpoint := strings.TrimSpace(c.cfg.CloudEndpoint)
	if endpoint == "" {
		return ErrNoEndpoint
	}
	if i := strings.Index(endpoint, "://"); i >= 0 && !strings.Contains(endpoint[i+3:], "/") {
		endpoint += "/ws"
	}

	dialCtx := ctx
	if timeout := c.cfg.DialTimeout.Duration(); timeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	conn, err := wsproto.DialContext(dialCtx, endpoint, c.device, c.wsCfg)
	if err != nil {
		return fmt.Errorf("dial relay %s: %w", endpoint, err)
	}

	conn.OnMessage(c.dispatch)
	conn.OnClose(func(err error) {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()

		c.handlerMu.RLock()
		handler := c.onDown
		c.handlerMu.RUnlock()
		if handler != nil {
			handler(c.device, err)
		}
	})
	if err := conn.Start(ctx); err != nil {
		_ = conn.Close()
		return err
	}

	c.mu.Lock()
	old := c.conn
	c.conn = conn
	c.mu.Unlock()
	if old != nil && old != conn {
		go old.Close()
	}

	logger.Info("中继连接已建立", "device", c.device.Short(), "endpoint", endpoint)
	return nil
}

// Connected 报告中继连接是否可用
func (c *Cloud) Connected() bool {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	return conn != nil && conn.State() == types.ConnOpen
}

// Disconnect 断开中继连接
func (c *Cloud) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// Close 永久停止云传输
func (c *Cloud) Close() error {
	c.closed.Store(true)
	return c.Disconnect()
}

// ============================================================================
//                              收发
// ============================================================================

// Send 实现 PathSender
func (c *Cloud) Send(ctx context.Context, env *envelope.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.closed.Load() {
		return ErrClosed
	}
	if env.Payload.Target.Empty() {
		return ErrNoTarget
	}

	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("%w: relay not connected", ErrNoConnection)
	}

	frame, err := c.codec.Encode(env)
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(frame); err != nil {
		return fmt.Errorf("cloud send to %s: %w", env.Payload.Target.Short(), err)
	}
	return nil
}

// dispatch 解码中继下行帧并投递信封
func (c *Cloud) dispatch(data []byte) {
	env, err := c.codec.Decode(data)
	if err != nil {
		logger.Warn("丢弃无法解码的中继帧", "size", len(data), "err", err)
		return
	}

	c.handlerMu.RLock()
	handler := c.onEnvelope
	c.handlerMu.RUnlock()
	if handler != nil {
		handler(env.Payload.DeviceID, env)
	}
}
