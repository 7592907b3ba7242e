// Package manager 把传输、监督、配对与同步引擎聚合为统一入口
package manager

import (
	"fmt"

	"go.uber.org/multierr"

	"github.com/syncboard/go-syncboard/internal/core/eventbus"
	"github.com/syncboard/go-syncboard/internal/core/pairing"
	"github.com/syncboard/go-syncboard/internal/core/syncengine"
	"github.com/syncboard/go-syncboard/pkg/types"
)

// ============================================================================
//                              事件发射器
// ============================================================================

// emitters 管理器向事件总线发布的全部事件类型
type emitters struct {
	online     *eventbus.Emitter
	offline    *eventbus.Emitter
	routed     *eventbus.Emitter
	fallback   *eventbus.Emitter
	discovered *eventbus.Emitter
	lost       *eventbus.Emitter
	applied    *eventbus.Emitter
	paired     *eventbus.Emitter
	pairFailed *eventbus.Emitter
}

func newEmitters(bus *eventbus.Bus) (*emitters, error) {
	em := &emitters{}
	for _, e := range []struct {
		dst **eventbus.Emitter
		typ interface{}
	}{
		{&em.online, new(types.EvtDeviceOnline)},
		{&em.offline, new(types.EvtDeviceOffline)},
		{&em.routed, new(types.EvtRouteChanged)},
		{&em.fallback, new(types.EvtTransportFallback)},
		{&em.discovered, new(types.EvtPeerDiscovered)},
		{&em.lost, new(types.EvtPeerLost)},
		{&em.applied, new(types.EvtSyncApplied)},
		{&em.paired, new(types.EvtPairingCompleted)},
		{&em.pairFailed, new(types.EvtPairingFailed)},
	} {
		emitter, err := bus.Emitter(e.typ)
		if err != nil {
			_ = em.Close()
			return nil, fmt.Errorf("注册事件类型 %T: %w", e.typ, err)
		}
		*e.dst = emitter
	}
	return em, nil
}

func (em *emitters) Close() error {
	var errs error
	for _, e := range []*eventbus.Emitter{
		em.online, em.offline, em.routed, em.fallback,
		em.discovered, em.lost, em.applied, em.paired, em.pairFailed,
	} {
		if e != nil {
			errs = multierr.Append(errs, e.Close())
		}
	}
	return errs
}

func (em *emitters) emitSyncApplied(res *syncengine.Result) {
	_ = em.applied.Emit(types.EvtSyncApplied{
		BaseEvent:   types.NewBaseEvent(types.EventTypeSyncApplied),
		MessageID:   res.MessageID,
		From:        res.From.ID,
		ContentType: res.Snapshot.ContentType,
		Size:        len(res.Snapshot.Data),
	})
}

// ============================================================================
//                              监督器回调
// ============================================================================

// handleStateChange 把链路状态变更转译为上线、离线与路径切换事件
//
// 在监督循环 goroutine 内执行，落盘动作放到独立 goroutine。
func (m *Manager) handleStateChange(peer types.DeviceID, old, next types.LinkState) {
	switch {
	case next.Connected() && !old.Connected():
		_ = m.em.online.Emit(types.EvtDeviceOnline{
			BaseEvent: types.NewBaseEvent(types.EventTypeDeviceOnline),
			DeviceID:  peer,
			Route:     next.Route(),
		})
	case !next.Connected() && old.Connected():
		_ = m.em.offline.Emit(types.EvtDeviceOffline{
			BaseEvent: types.NewBaseEvent(types.EventTypeDeviceOffline),
			DeviceID:  peer,
			Reason:    next.String(),
		})
	case next.Connected() && old.Connected() && next.Route() != old.Route():
		_ = m.em.routed.Emit(types.EvtRouteChanged{
			BaseEvent: types.NewBaseEvent(types.EventTypeRouteChanged),
			DeviceID:  peer,
			Old:       old.Route(),
			New:       next.Route(),
		})
	}

	if next.Connected() {
		route := next.Route()
		go m.touchRoute(peer, route)
	}
}

// handleFallback 记录一次局域网到云端的回退
func (m *Manager) handleFallback(peer types.DeviceID, reason types.FallbackReason) {
	m.rec.Fallback(reason)
	_ = m.em.fallback.Emit(types.EvtTransportFallback{
		BaseEvent: types.NewBaseEvent(types.EventTypeTransportFallback),
		DeviceID:  peer,
		Reason:    reason,
	})
}

// handleHeartbeatMiss 记录一次未确认的心跳
func (m *Manager) handleHeartbeatMiss(peer types.DeviceID, missed int) {
	m.rec.HeartbeatMiss()
	logger.Debug("心跳未确认", "peer", peer.Short(), "missed", missed)
}

// ============================================================================
//                              配对回调
// ============================================================================

// handlePhaseChange 配对会话到达终态时记录指标、发事件并接管新设备
func (m *Manager) handlePhaseChange(st pairing.Status) {
	switch st.Phase {
	case pairing.PhaseCompleted:
		m.rec.PairingOutcome(st.Mode.String(), true)
		_ = m.em.paired.Emit(types.EvtPairingCompleted{
			BaseEvent: types.NewBaseEvent(types.EventTypePairingCompleted),
			Device:    st.Peer,
		})
		if err := m.sup.Supervise(st.Peer.ID); err != nil {
			logger.Warn("接管新配对设备失败",
				"peer", st.Peer.ID.Short(), "err", err)
		}
	case pairing.PhaseFailed:
		m.rec.PairingOutcome(st.Mode.String(), false)
		_ = m.em.pairFailed.Emit(types.EvtPairingFailed{
			BaseEvent: types.NewBaseEvent(types.EventTypePairingFailed),
			Reason:    st.Reason,
		})
	}
}

// ============================================================================
//                              发现消费
// ============================================================================

// discoveryLoop 消费局域网发现事件直到管理器停止
func (m *Manager) discoveryLoop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		case ev, ok := <-m.disc.Events():
			if !ok {
				return
			}
			m.handleDiscovery(ev)
		}
	}
}

// handleDiscovery 处理一条发现事件
//
// 目击登记到服务表并把地址交给局域网传输；已配对设备的目击
// 还会触发监督与路径升级。移除只撤销地址登记，云路径可能仍然
// 可用，不打断监督。
func (m *Manager) handleDiscovery(ev types.DiscoveryEvent) {
	switch ev.Kind {
	case types.DiscoveryPeerAdded:
		peer := ev.Peer
		m.mu.Lock()
		m.byService[peer.ServiceName] = peer
		m.mu.Unlock()

		m.lan.SetPeerAddr(peer.Device.ID, peer.Host, peer.Port)
		_ = m.em.discovered.Emit(types.EvtPeerDiscovered{
			BaseEvent: types.NewBaseEvent(types.EventTypePeerDiscovered),
			Peer:      peer,
		})

		if m.isPaired(peer.Device.ID) {
			m.reconnectSighted(peer.Device.ID)
		}

	case types.DiscoveryPeerRemoved:
		m.mu.Lock()
		peer, ok := m.byService[ev.ServiceName]
		delete(m.byService, ev.ServiceName)
		m.mu.Unlock()

		if ok {
			m.lan.ForgetPeer(peer.Device.ID)
		}
		_ = m.em.lost.Emit(types.EvtPeerLost{
			BaseEvent:   types.NewBaseEvent(types.EventTypePeerLost),
			ServiceName: ev.ServiceName,
		})
	}
}

// reconnectSighted 已配对设备出现在局域网时确保其被监督
//
// 设备正走云路径或处于退避等待时立即踢一次重连，好让它抢回
// 局域网直连。
func (m *Manager) reconnectSighted(peer types.DeviceID) {
	if err := m.sup.Supervise(peer); err != nil {
		logger.Debug("监督目击设备失败", "peer", peer.Short(), "err", err)
		return
	}

	st := m.sup.State(peer)
	if st == types.LinkFailed || st == types.LinkConnectedCloud {
		_ = m.sup.RequestReconnect(peer)
	}
}

func (m *Manager) isPaired(peer types.DeviceID) bool {
	_, err := m.store.PairedDevice(peer)
	return err == nil
}
