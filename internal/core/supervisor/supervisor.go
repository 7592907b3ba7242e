// Package supervisor 实现按设备的连接监督
//
// 每台受监督设备由一个独立的协调 goroutine 驱动状态机：
// Disconnected → ConnectingLAN → ConnectedLAN，LAN 失败或超时
// 则 → ConnectingCloud → ConnectedCloud，两条路径都失败则
// → Failed 并按指数退避重试。连接期间周期发送心跳并在超时
// 窗口内等待确认，连续丢失触发重连。
package supervisor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/syncboard/go-syncboard/config"
	"github.com/syncboard/go-syncboard/pkg/lib/log"
	"github.com/syncboard/go-syncboard/pkg/types"
)

var logger = log.Logger("core/supervisor")

// ============================================================================
//                              错误定义
// ============================================================================

var (
	// ErrSupervisorClosed 监督器已停止
	ErrSupervisorClosed = errors.New("supervisor closed")

	// ErrNotStarted 监督器尚未启动
	ErrNotStarted = errors.New("supervisor not started")

	// ErrNotSupervised 设备不在监督范围内
	ErrNotSupervised = errors.New("device not supervised")
)

// ============================================================================
//                              协作方接口
// ============================================================================

// Dialer 建立两条路径连接的拨号面
//
// DialLAN 由监督器用回退超时约束；DialCloud 负责确保中继
// 连接可用。两者都必须响应 ctx 取消。
type Dialer interface {
	DialLAN(ctx context.Context, peer types.DeviceID) error
	DialCloud(ctx context.Context, peer types.DeviceID) error
}

// HeartbeatSender 在当前路径上发出一次心跳探测
//
// 确认通过 Supervisor.NotifyAck 异步送回。
type HeartbeatSender interface {
	SendHeartbeat(ctx context.Context, peer types.DeviceID, route types.Route) error
}

// StateChangeHandler 链路状态变更回调
//
// 在监督循环的 goroutine 内同步执行，不要做阻塞操作。
type StateChangeHandler func(peer types.DeviceID, old, next types.LinkState)

// FallbackHandler 路径回退回调
type FallbackHandler func(peer types.DeviceID, reason types.FallbackReason)

// HeartbeatMissHandler 心跳丢失回调
//
// missed 是本条连接上连续未确认的次数。
type HeartbeatMissHandler func(peer types.DeviceID, missed int)

// ============================================================================
//                              Supervisor
// ============================================================================

// Supervisor 按设备的连接监督器
type Supervisor struct {
	cfg      config.SupervisorConfig
	fallback time.Duration
	clk      clock.Clock
	dialer   Dialer
	hb       HeartbeatSender

	mu    sync.RWMutex
	peers map[types.DeviceID]*peerLoop

	cbMu       sync.RWMutex
	onState    []StateChangeHandler
	onFallback []FallbackHandler
	onMiss     []HeartbeatMissHandler

	running int32
	closed  int32
	ctx     context.Context
	cancel  context.CancelFunc
}

// New 创建监督器
//
// fallbackTimeout 是 LAN 拨号让位给云路径前的等待；clk 注入
// 时钟，测试传入 clock.NewMock() 驱动虚拟时间。
func New(cfg config.SupervisorConfig, fallbackTimeout time.Duration, dialer Dialer, hb HeartbeatSender, clk clock.Clock) *Supervisor {
	if clk == nil {
		clk = clock.New()
	}
	return &Supervisor{
		cfg:      cfg,
		fallback: fallbackTimeout,
		clk:      clk,
		dialer:   dialer,
		hb:       hb,
		peers:    make(map[types.DeviceID]*peerLoop),
	}
}

// OnStateChange 注册链路状态变更回调
func (s *Supervisor) OnStateChange(h StateChangeHandler) {
	s.cbMu.Lock()
	s.onState = append(s.onState, h)
	s.cbMu.Unlock()
}

// OnFallback 注册路径回退回调
func (s *Supervisor) OnFallback(h FallbackHandler) {
	s.cbMu.Lock()
	s.onFallback = append(s.onFallback, h)
	s.cbMu.Unlock()
}

// OnHeartbeatMiss 注册心跳丢失回调
func (s *Supervisor) OnHeartbeatMiss(h HeartbeatMissHandler) {
	s.cbMu.Lock()
	s.onMiss = append(s.onMiss, h)
	s.cbMu.Unlock()
}

// ============================================================================
//                              生命周期
// ============================================================================

// Start 启动监督器
func (s *Supervisor) Start(_ context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		return nil
	}

	// 监督循环的生命周期由 Stop 决定，不跟随调用方 ctx
	s.ctx, s.cancel = context.WithCancel(context.Background())

	logger.Info("连接监督器已启动",
		"heartbeatInterval", s.cfg.HeartbeatInterval.Duration(),
		"maxAttempts", s.cfg.MaxAttempts)
	return nil
}

// Stop 停止监督器并确定性回收所有定时器
func (s *Supervisor) Stop() error {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	s.mu.Lock()
	loops := make([]*peerLoop, 0, len(s.peers))
	for _, loop := range s.peers {
		loops = append(loops, loop)
	}
	s.peers = make(map[types.DeviceID]*peerLoop)
	s.mu.Unlock()

	for _, loop := range loops {
		loop.cancel()
		<-loop.done
	}

	atomic.StoreInt32(&s.running, 0)
	logger.Info("连接监督器已停止")
	return nil
}

// ============================================================================
//                              监督管理
// ============================================================================

// Supervise 开始监督一台设备
//
// 幂等：同一设备只存在一个协调 goroutine。
func (s *Supervisor) Supervise(peer types.DeviceID) error {
	if atomic.LoadInt32(&s.closed) == 1 {
		return ErrSupervisorClosed
	}
	if atomic.LoadInt32(&s.running) == 0 {
		return ErrNotStarted
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.peers[peer]; exists {
		return nil
	}

	loop := newPeerLoop(s, peer)
	s.peers[peer] = loop
	go loop.run()

	logger.Info("开始监督设备", "peer", peer.Short())
	return nil
}

// Unsupervise 停止监督一台设备
func (s *Supervisor) Unsupervise(peer types.DeviceID) error {
	s.mu.Lock()
	loop, exists := s.peers[peer]
	delete(s.peers, peer)
	s.mu.Unlock()

	if !exists {
		return ErrNotSupervised
	}

	loop.cancel()
	<-loop.done
	logger.Info("停止监督设备", "peer", peer.Short())
	return nil
}

// Supervised 返回受监督的设备列表
func (s *Supervisor) Supervised() []types.DeviceID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	peers := make([]types.DeviceID, 0, len(s.peers))
	for peer := range s.peers {
		peers = append(peers, peer)
	}
	return peers
}

// ============================================================================
//                              信号入口
// ============================================================================

// RequestReconnect 手动触发重连，绕过当前退避等待
func (s *Supervisor) RequestReconnect(peer types.DeviceID) error {
	loop, ok := s.loop(peer)
	if !ok {
		return ErrNotSupervised
	}
	loop.kick()
	return nil
}

// NotifyAck 送达一次心跳确认
func (s *Supervisor) NotifyAck(peer types.DeviceID) {
	if loop, ok := s.loop(peer); ok {
		loop.notifyAck()
	}
}

// NotifyDown 通告设备连接已断开
//
// 传输层的断开回调接到这里，触发受影响设备立即重连。
func (s *Supervisor) NotifyDown(peer types.DeviceID, err error) {
	if loop, ok := s.loop(peer); ok {
		loop.notifyDown(err)
	}
}

// ============================================================================
//                              状态查询
// ============================================================================

// State 返回设备当前链路状态
func (s *Supervisor) State(peer types.DeviceID) types.LinkState {
	if loop, ok := s.loop(peer); ok {
		return loop.currentState()
	}
	return types.LinkDisconnected
}

// Route 返回设备当前连接路径
func (s *Supervisor) Route(peer types.DeviceID) types.Route {
	return s.State(peer).Route()
}

// States 返回所有受监督设备的链路状态
func (s *Supervisor) States() map[types.DeviceID]types.LinkState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	states := make(map[types.DeviceID]types.LinkState, len(s.peers))
	for peer, loop := range s.peers {
		states[peer] = loop.currentState()
	}
	return states
}

func (s *Supervisor) loop(peer types.DeviceID) (*peerLoop, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	loop, ok := s.peers[peer]
	return loop, ok
}

// ============================================================================
//                              回调分发
// ============================================================================

func (s *Supervisor) notifyState(peer types.DeviceID, old, next types.LinkState) {
	s.cbMu.RLock()
	handlers := make([]StateChangeHandler, len(s.onState))
	copy(handlers, s.onState)
	s.cbMu.RUnlock()

	logger.Debug("链路状态变更",
		"peer", peer.Short(),
		"from", old,
		"to", next)
	for _, h := range handlers {
		h(peer, old, next)
	}
}

func (s *Supervisor) notifyFallback(peer types.DeviceID, reason types.FallbackReason) {
	s.cbMu.RLock()
	handlers := make([]FallbackHandler, len(s.onFallback))
	copy(handlers, s.onFallback)
	s.cbMu.RUnlock()

	logger.Info("LAN 路径让位", "peer", peer.Short(), "reason", reason)
	for _, h := range handlers {
		h(peer, reason)
	}
}

func (s *Supervisor) notifyMiss(peer types.DeviceID, missed int) {
	s.cbMu.RLock()
	handlers := make([]HeartbeatMissHandler, len(s.onMiss))
	copy(handlers, s.onMiss)
	s.cbMu.RUnlock()

	for _, h := range handlers {
		h(peer, missed)
	}
}
