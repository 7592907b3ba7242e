// Package supervisor 实现按设备的连接监督
package supervisor

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/syncboard/go-syncboard/pkg/types"
)

// errLANTimeout LAN 拨号被回退超时截断
var errLANTimeout = errors.New("lan dial timed out")

// monitorOutcome 连接期监控退出的原因
type monitorOutcome int

const (
	// monitorStopped 监督器被停止
	monitorStopped monitorOutcome = iota
	// monitorReconnect 需要重新建立连接
	monitorReconnect
)

// ============================================================================
//                              peerLoop - 单设备协调循环
// ============================================================================

// peerLoop 一台设备的协调循环
//
// 状态转换只发生在 run 这一个 goroutine 内，外部通过带缓冲
// 的信号通道注入事件，保证同一设备绝不并发推进两次重连。
type peerLoop struct {
	sup  *Supervisor
	peer types.DeviceID

	state atomic.Int32

	ackCh  chan struct{}
	downCh chan error
	kickCh chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func newPeerLoop(sup *Supervisor, peer types.DeviceID) *peerLoop {
	ctx, cancel := context.WithCancel(sup.ctx)
	p := &peerLoop{
		sup:    sup,
		peer:   peer,
		ackCh:  make(chan struct{}, 1),
		downCh: make(chan error, 1),
		kickCh: make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	p.state.Store(int32(types.LinkDisconnected))
	return p
}

func (p *peerLoop) currentState() types.LinkState {
	return types.LinkState(p.state.Load())
}

func (p *peerLoop) setState(next types.LinkState) {
	old := types.LinkState(p.state.Swap(int32(next)))
	if old != next {
		p.sup.notifyState(p.peer, old, next)
	}
}

func (p *peerLoop) notifyAck() {
	select {
	case p.ackCh <- struct{}{}:
	default:
	}
}

func (p *peerLoop) notifyDown(err error) {
	select {
	case p.downCh <- err:
	default:
	}
}

func (p *peerLoop) kick() {
	select {
	case p.kickCh <- struct{}{}:
	default:
	}
}

// ============================================================================
//                              主循环
// ============================================================================

// run 设备协调主循环
func (p *peerLoop) run() {
	defer close(p.done)

	cfg := p.sup.cfg
	bo := newBackoff(cfg.InitialBackoff.Duration(), cfg.MaxBackoff.Duration(), cfg.Jitter.Duration())
	attempts := 0

	for {
		if p.ctx.Err() != nil {
			return
		}

		route, ok := p.connectOnce()
		if ok {
			attempts = 0
			bo.reset()
			if p.monitor(route) == monitorStopped {
				return
			}
			// 连接中断后立即开启下一轮重连
			p.setState(types.LinkDisconnected)
			continue
		}

		attempts++
		p.setState(types.LinkFailed)

		if attempts >= p.sup.cfg.MaxAttempts {
			logger.Warn("重连尝试次数耗尽，等待手动重连",
				"peer", p.peer.Short(),
				"attempts", attempts)
			select {
			case <-p.ctx.Done():
				return
			case <-p.kickCh:
				attempts = 0
				bo.reset()
			}
			continue
		}

		wait := bo.next()
		logger.Debug("退避后重试",
			"peer", p.peer.Short(),
			"attempt", attempts,
			"wait", wait)

		timer := p.sup.clk.Timer(wait)
		select {
		case <-p.ctx.Done():
			timer.Stop()
			return
		case <-p.kickCh:
			// 手动重连绕过退避等待
			timer.Stop()
		case <-timer.C:
		}
	}
}

// connectOnce 执行一轮 LAN 优先、云兜底的连接尝试
func (p *peerLoop) connectOnce() (types.Route, bool) {
	p.setState(types.LinkConnectingLAN)

	lanErr := p.dialLAN()
	if lanErr == nil {
		return types.RouteLAN, true
	}
	if p.ctx.Err() != nil {
		return types.RouteUnknown, false
	}

	reason := types.FallbackLANFailure
	if errors.Is(lanErr, errLANTimeout) {
		reason = types.FallbackLANTimeout
	}
	p.sup.notifyFallback(p.peer, reason)

	p.setState(types.LinkConnectingCloud)
	if err := p.sup.dialer.DialCloud(p.ctx, p.peer); err != nil {
		logger.Warn("云路径连接失败",
			"peer", p.peer.Short(),
			"lanErr", lanErr,
			"cloudErr", err)
		return types.RouteUnknown, false
	}
	return types.RouteCloud, true
}

// dialLAN LAN 拨号与回退超时赛跑
func (p *peerLoop) dialLAN() error {
	dctx, cancel := context.WithCancel(p.ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- p.sup.dialer.DialLAN(dctx, p.peer) }()

	if p.sup.fallback <= 0 {
		select {
		case err := <-done:
			return err
		case <-p.ctx.Done():
			return p.ctx.Err()
		}
	}

	timer := p.sup.clk.Timer(p.sup.fallback)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
		cancel()
		return errLANTimeout
	case <-p.ctx.Done():
		return p.ctx.Err()
	}
}

// ============================================================================
//                              连接期监控
// ============================================================================

// monitor 心跳保活，返回退出原因
//
// 心跳按间隔发出，每次在确认超时窗口内等待 NotifyAck 送回
// 的确认；连续丢失 MaxMissedAcks 次或连接断开都触发重连。
func (p *peerLoop) monitor(route types.Route) monitorOutcome {
	if route == types.RouteLAN {
		p.setState(types.LinkConnectedLAN)
	} else {
		p.setState(types.LinkConnectedCloud)
	}
	logger.Info("设备链路就绪", "peer", p.peer.Short(), "route", route)

	// 丢弃上一条连接残留的信号
	select {
	case <-p.ackCh:
	default:
	}
	select {
	case <-p.downCh:
	default:
	}

	cfg := p.sup.cfg
	missed := 0
	ticker := p.sup.clk.Ticker(cfg.HeartbeatInterval.Duration())
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return monitorStopped

		case err := <-p.downCh:
			logger.Warn("连接断开，准备重连", "peer", p.peer.Short(), "err", err)
			return monitorReconnect

		case <-p.kickCh:
			logger.Info("收到手动重连请求", "peer", p.peer.Short())
			return monitorReconnect

		case <-ticker.C:
			if err := p.sup.hb.SendHeartbeat(p.ctx, p.peer, route); err != nil {
				missed++
				logger.Debug("心跳发送失败",
					"peer", p.peer.Short(),
					"missed", missed,
					"err", err)
				p.sup.notifyMiss(p.peer, missed)
			} else if p.awaitAck() {
				missed = 0
			} else {
				missed++
				logger.Debug("心跳确认超时",
					"peer", p.peer.Short(),
					"missed", missed)
				p.sup.notifyMiss(p.peer, missed)
			}

			if missed >= cfg.MaxMissedAcks {
				logger.Warn("连续心跳未确认，触发重连",
					"peer", p.peer.Short(),
					"missed", missed)
				return monitorReconnect
			}
		}
	}
}

// awaitAck 在确认超时窗口内等待心跳确认
func (p *peerLoop) awaitAck() bool {
	timer := p.sup.clk.Timer(p.sup.cfg.AckTimeout.Duration())
	defer timer.Stop()

	select {
	case <-p.ackCh:
		return true
	case <-timer.C:
		return false
	case <-p.ctx.Done():
		return false
	}
}
