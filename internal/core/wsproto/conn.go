// Package wsproto 提供最小化的 WebSocket 协议引擎
//
// 实现 RFC 6455 的一个受控子集：升级握手、FIN 帧的文本/二进制
// 消息、ping/pong 心跳与 close 握手。不支持扩展、子协议与
// 消息分片，分片帧按策略静默丢弃。
package wsproto

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/syncboard/go-syncboard/config"
	"github.com/syncboard/go-syncboard/pkg/lib/log"
	"github.com/syncboard/go-syncboard/pkg/types"
)

var logger = log.Logger("core/wsproto")

// closeGrace 发送 close 帧后等待对端回应的时长
const closeGrace = 3 * time.Second

// MessageHandler 完整消息回调
type MessageHandler func(data []byte)

// CloseHandler 连接关闭回调
//
// err 为 nil 表示完成了正常的 close 握手。
type CloseHandler func(err error)

// ============================================================================
//                              Conn - WebSocket 连接
// ============================================================================

// Conn 一条已完成握手的 WebSocket 连接
//
// 网络读取与帧解析共享同一接收缓冲区，追加与消费都在
// 缓冲区锁内进行。写入由独立的写锁串行化。
type Conn struct {
	id     string
	device types.DeviceID
	nc     net.Conn
	cfg    config.WebSocketConfig

	// isClient 客户端侧发出的帧必须掩码（RFC 6455 §5.3）
	isClient bool

	// 接收缓冲区
	bufMu sync.Mutex
	buf   []byte

	writeMu sync.Mutex

	state     atomic.Int32
	running   atomic.Bool
	closed    atomic.Bool
	closeSent atomic.Bool

	lastPong     atomic.Int64
	lastActivity atomic.Int64

	handlerMu sync.RWMutex
	onMessage MessageHandler
	onClose   CloseHandler

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// newConn 构造已握手完成的连接
//
// initial 为握手读取时一并到达的帧字节，作为接收缓冲区的
// 初始内容。
func newConn(nc net.Conn, device types.DeviceID, isClient bool, cfg config.WebSocketConfig, initial []byte) *Conn {
	c := &Conn{
		id:       uuid.NewString(),
		device:   device,
		nc:       nc,
		cfg:      cfg,
		isClient: isClient,
		buf:      initial,
		done:     make(chan struct{}),
	}
	c.state.Store(int32(types.ConnOpen))
	now := time.Now().UnixNano()
	c.lastPong.Store(now)
	c.lastActivity.Store(now)
	return c
}

// ID 返回连接标识
func (c *Conn) ID() string {
	return c.id
}

// Device 返回握手时声明的对端设备标识
func (c *Conn) Device() types.DeviceID {
	return c.device
}

// State 返回连接生命周期状态
func (c *Conn) State() types.ConnState {
	return types.ConnState(c.state.Load())
}

// RemoteAddr 返回对端网络地址
func (c *Conn) RemoteAddr() net.Addr {
	return c.nc.RemoteAddr()
}

// LastPong 返回最近一次收到 pong 的时间
func (c *Conn) LastPong() time.Time {
	return time.Unix(0, c.lastPong.Load())
}

// LastActivity 返回最近一次收到任意帧的时间
func (c *Conn) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

// OnMessage 注册消息回调，须在 Start 之前调用
func (c *Conn) OnMessage(h MessageHandler) {
	c.handlerMu.Lock()
	c.onMessage = h
	c.handlerMu.Unlock()
}

// OnClose 注册关闭回调，须在 Start 之前调用
func (c *Conn) OnClose(h CloseHandler) {
	c.handlerMu.Lock()
	c.onClose = h
	c.handlerMu.Unlock()
}

// Done 返回连接终止信号通道
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// ============================================================================
//                              生命周期
// ============================================================================

// Start 启动读循环与空闲心跳
func (c *Conn) Start(_ context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return nil
	}
	if c.closed.Load() {
		return ErrConnClosed
	}

	// 连接的生命周期由 Close/teardown 决定，不跟随调用方 ctx
	c.ctx, c.cancel = context.WithCancel(context.Background())

	go c.readLoop()
	if c.cfg.EnableIdleHeartbeat {
		go c.heartbeatLoop()
	}
	return nil
}

// Close 发起正常关闭握手
//
// 发送 close 帧后等待对端回应；宽限期内未等到回应则直接
// 断开底层连接。重复调用无副作用。
func (c *Conn) Close() error {
	return c.CloseWithCode(CloseNormal, "")
}

// CloseWithCode 以指定状态码发起关闭握手
func (c *Conn) CloseWithCode(code uint16, reason string) error {
	if c.closed.Load() {
		return nil
	}
	if !c.closeSent.CompareAndSwap(false, true) {
		return nil
	}

	if err := c.writeControl(opClose, buildClosePayload(code, reason)); err != nil {
		c.teardown(err)
		return err
	}

	if !c.running.Load() {
		// 读循环未启动时没有人消费对端的回应帧
		c.teardown(nil)
		return nil
	}

	// 读循环收到对端的 close 回应后完成 teardown；
	// 宽限期兜底，防止对端不回应
	time.AfterFunc(closeGrace, func() {
		c.teardown(nil)
	})
	return nil
}

// teardown 终止连接，只执行一次
func (c *Conn) teardown(err error) {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}

	c.state.Store(int32(types.ConnClosed))
	if c.cancel != nil {
		c.cancel()
	}
	c.nc.Close()

	c.bufMu.Lock()
	c.buf = nil
	c.bufMu.Unlock()

	c.handlerMu.RLock()
	onClose := c.onClose
	c.handlerMu.RUnlock()
	if onClose != nil {
		onClose(err)
	}
	close(c.done)
}

// ============================================================================
//                              读路径
// ============================================================================

// readLoop 网络读循环
//
// 每次读取的字节追加进接收缓冲区，随后尽可能多地解析完整帧。
// 协议违规与超限按 close 码区分后断开。
func (c *Conn) readLoop() {
	chunk := make([]byte, c.cfg.ReadBufferSize)
	for {
		n, err := c.nc.Read(chunk)
		if n > 0 {
			if perr := c.ingest(chunk[:n]); perr != nil {
				code := CloseProtocolError
				if errors.Is(perr, ErrMessageTooLarge) {
					code = CloseTooBig
				}
				logger.Warn("帧解析失败，断开连接",
					"conn", log.TruncateID(c.id, 8),
					"device", c.device.Short(),
					"err", perr)
				c.abort(code, perr)
				return
			}
		}
		if err != nil {
			if c.closed.Load() || errors.Is(err, net.ErrClosed) {
				c.teardown(nil)
			} else if errors.Is(err, io.EOF) && c.closeSent.Load() {
				// 本端已发起关闭，对端直接断开也算完成
				c.teardown(nil)
			} else {
				c.teardown(fmt.Errorf("%w: %v", ErrConnClosed, err))
			}
			return
		}
	}
}

// ingest 将网络字节并入接收缓冲区并解析完整帧
//
// 追加与消费都持有缓冲区锁；帧回调在锁外执行，避免回调中
// 的写操作与解析互相阻塞。
func (c *Conn) ingest(data []byte) error {
	c.bufMu.Lock()
	c.buf = append(c.buf, data...)

	var frames []frame
	offset := 0
	for {
		f, consumed, err := parseFrame(c.buf[offset:], c.cfg.MaxMessageSize)
		if err != nil {
			c.buf = c.buf[:0]
			c.bufMu.Unlock()
			return err
		}
		if consumed == 0 {
			break
		}
		offset += consumed
		frames = append(frames, f)
	}
	if offset > 0 {
		// 压缩缓冲区，保留未完成的半帧
		c.buf = append(c.buf[:0], c.buf[offset:]...)
	}
	c.bufMu.Unlock()

	for _, f := range frames {
		c.handleFrame(f)
	}
	return nil
}

// handleFrame 分发单个帧
func (c *Conn) handleFrame(f frame) {
	if c.closed.Load() {
		return
	}
	c.lastActivity.Store(time.Now().UnixNano())

	switch f.opcode {
	case opPing:
		// 原样回送负载
		if err := c.writeControl(opPong, f.payload); err != nil {
			logger.Debug("回应 pong 失败", "conn", log.TruncateID(c.id, 8), "err", err)
		}

	case opPong:
		c.lastPong.Store(time.Now().UnixNano())

	case opClose:
		code, reason := parseClosePayload(f.payload)
		if c.closeSent.CompareAndSwap(false, true) {
			// 对端发起关闭：回送 close 后断开
			_ = c.writeControl(opClose, buildClosePayload(code, ""))
		}
		logger.Debug("关闭握手完成",
			"conn", log.TruncateID(c.id, 8),
			"code", code,
			"reason", reason)
		c.teardown(nil)

	case opText, opBinary:
		if !f.fin {
			// 分片消息按策略丢弃
			logger.Debug("丢弃分片帧", "conn", log.TruncateID(c.id, 8), "opcode", f.opcode)
			return
		}
		c.handlerMu.RLock()
		onMessage := c.onMessage
		c.handlerMu.RUnlock()
		if onMessage != nil {
			onMessage(f.payload)
		}

	case opContinuation:
		// 前序分片已被丢弃，延续帧同样丢弃
		logger.Debug("丢弃延续帧", "conn", log.TruncateID(c.id, 8))
	}
}

// abort 发出协议错误关闭帧后断开
func (c *Conn) abort(code uint16, cause error) {
	if c.closeSent.CompareAndSwap(false, true) {
		_ = c.writeControl(opClose, buildClosePayload(code, ""))
	}
	c.teardown(cause)
}

// ============================================================================
//                              写路径
// ============================================================================

// WriteMessage 发送一条二进制消息
func (c *Conn) WriteMessage(data []byte) error {
	if c.State() != types.ConnOpen {
		return ErrConnClosed
	}
	if int64(len(data)) > c.cfg.MaxMessageSize {
		return fmt.Errorf("%w: %d bytes exceeds limit %d", ErrMessageTooLarge, len(data), c.cfg.MaxMessageSize)
	}
	return c.writeFrame(opBinary, data)
}

// Ping 主动发送 ping 帧
func (c *Conn) Ping(payload []byte) error {
	return c.writeControl(opPing, payload)
}

// writeControl 发送控制帧
func (c *Conn) writeControl(opcode byte, payload []byte) error {
	if c.closed.Load() {
		return ErrConnClosed
	}
	return c.writeFrame(opcode, payload)
}

// writeFrame 序列化并写出一个帧
func (c *Conn) writeFrame(opcode byte, payload []byte) error {
	raw, err := buildFrame(opcode, c.isClient, payload)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if timeout := c.cfg.WriteTimeout.Duration(); timeout > 0 {
		_ = c.nc.SetWriteDeadline(time.Now().Add(timeout))
		defer c.nc.SetWriteDeadline(time.Time{})
	}
	if _, err := c.nc.Write(raw); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ============================================================================
//                              空闲心跳
// ============================================================================

// heartbeatLoop 空闲心跳循环
//
// 周期发送 ping；对端超过 PongTimeout 未回应任何 pong 时
// 判定失联并断开连接。
func (c *Conn) heartbeatLoop() {
	ticker := time.NewTicker(c.cfg.PingInterval.Duration())
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			silence := time.Since(c.LastPong())
			if silence > c.cfg.PongTimeout.Duration() {
				logger.Warn("心跳超时，断开连接",
					"conn", log.TruncateID(c.id, 8),
					"device", c.device.Short(),
					"silence", silence)
				c.abort(CloseProtocolError, fmt.Errorf("%w: pong timeout after %v", ErrConnClosed, silence))
				return
			}
			if err := c.Ping(nil); err != nil {
				logger.Debug("发送心跳 ping 失败", "conn", log.TruncateID(c.id, 8), "err", err)
			}
		}
	}
}
