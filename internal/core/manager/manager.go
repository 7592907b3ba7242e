// Package manager 把传输、监督、配对与同步引擎聚合为统一入口
//
// 管理器是核心组件之间唯一的粘合层：入站信封按类型与动作分发，
// 监督器回调转译为事件总线事件与指标，局域网发现目击驱动地址
// 登记与已配对设备的监督，出站快照经同步引擎加密后交由双路径
// 冗余发送。各协作方互不引用，全部经由管理器编排。
package manager

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"

	"github.com/syncboard/go-syncboard/config"
	"github.com/syncboard/go-syncboard/internal/core/envelope"
	"github.com/syncboard/go-syncboard/internal/core/eventbus"
	"github.com/syncboard/go-syncboard/internal/core/keystore"
	"github.com/syncboard/go-syncboard/internal/core/metrics"
	"github.com/syncboard/go-syncboard/internal/core/pairing"
	"github.com/syncboard/go-syncboard/internal/core/supervisor"
	"github.com/syncboard/go-syncboard/internal/core/syncengine"
	"github.com/syncboard/go-syncboard/internal/core/transport"
	"github.com/syncboard/go-syncboard/pkg/lib/log"
	"github.com/syncboard/go-syncboard/pkg/types"
)

var logger = log.Logger("core/manager")

// ============================================================================
//                              协作方接口
// ============================================================================

// LANPath 管理器所需的局域网传输能力
type LANPath interface {
	OnEnvelope(h transport.EnvelopeHandler)
	OnPeerDown(h transport.PeerDownHandler)
	Port() int
	SetPeerAddr(peer types.DeviceID, host string, port int)
	ForgetPeer(peer types.DeviceID)
	Connect(ctx context.Context, peer types.DeviceID) error
	Disconnect(peer types.DeviceID) error
	Send(ctx context.Context, env *envelope.Envelope) error
}

// CloudPath 管理器所需的云中继传输能力
type CloudPath interface {
	OnEnvelope(h transport.EnvelopeHandler)
	OnDown(h transport.PeerDownHandler)
	Connect(ctx context.Context) error
	Send(ctx context.Context, env *envelope.Envelope) error
}

// SnapshotSender 把已加密信封冗余发往两条路径
type SnapshotSender interface {
	Send(ctx context.Context, env *envelope.Envelope) error
}

var (
	_ LANPath        = (*transport.LAN)(nil)
	_ CloudPath      = (*transport.Cloud)(nil)
	_ SnapshotSender = (*transport.Dual)(nil)
)

// ============================================================================
//                              Deps - 依赖集合
// ============================================================================

// Deps 管理器的协作方集合
//
// Clipboard 与 Discovery 可以为 nil：无剪贴板协作方时入站内容
// 只发事件不落地，无发现协作方时跳过局域网目击消费。
type Deps struct {
	Config     *config.Config
	LAN        LANPath
	Cloud      CloudPath
	Dual       SnapshotSender
	Supervisor *supervisor.Supervisor
	Pairing    *pairing.Engine
	Sync       *syncengine.Engine
	Store      keystore.Store
	Clipboard  types.ClipboardIO
	Discovery  types.DiscoveryService
	Bus        *eventbus.Bus
	Metrics    *metrics.Recorder
}

// ============================================================================
//                              Manager
// ============================================================================

// Manager 设备同步的编排中枢
type Manager struct {
	cfg     *config.Config
	device  types.DeviceInfo
	version int

	lan   LANPath
	cloud CloudPath
	dual  SnapshotSender
	sup   *supervisor.Supervisor
	pair  *pairing.Engine
	sync  *syncengine.Engine
	store keystore.Store
	clip  types.ClipboardIO
	disc  types.DiscoveryService
	rec   *metrics.Recorder
	em    *emitters

	// byService 以服务实例名为键的发现目击，配对载荷解析与
	// 移除事件都以它定位设备
	mu        sync.RWMutex
	byService map[string]types.DiscoveredPeer

	running atomic.Bool
	closed  atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewManager 创建管理器并向各协作方注册回调
//
// 回调注册必须发生在传输层 Start 之前，因此放在构造期而不是
// Start 里。
func NewManager(deps Deps) (*Manager, error) {
	if deps.Config == nil {
		return nil, fmt.Errorf("manager: 缺少配置")
	}
	if deps.LAN == nil || deps.Cloud == nil || deps.Dual == nil {
		return nil, fmt.Errorf("manager: 缺少传输协作方")
	}
	if deps.Supervisor == nil || deps.Pairing == nil || deps.Sync == nil || deps.Store == nil {
		return nil, fmt.Errorf("manager: 缺少核心协作方")
	}

	rec := deps.Metrics
	if rec == nil {
		rec = metrics.NewRecorder("syncboard")
	}
	bus := deps.Bus
	if bus == nil {
		bus = eventbus.NewBus()
	}

	em, err := newEmitters(bus)
	if err != nil {
		return nil, fmt.Errorf("manager: 创建事件发射器: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg: deps.Config,
		device: types.DeviceInfo{
			ID:       types.DeviceID(deps.Config.Identity.DeviceID),
			Name:     deps.Config.Identity.DeviceName,
			Platform: types.Platform(deps.Config.Identity.DevicePlatform),
		},
		version:   deps.Config.Frame.Version,
		lan:       deps.LAN,
		cloud:     deps.Cloud,
		dual:      deps.Dual,
		sup:       deps.Supervisor,
		pair:      deps.Pairing,
		sync:      deps.Sync,
		store:     deps.Store,
		clip:      deps.Clipboard,
		disc:      deps.Discovery,
		rec:       rec,
		em:        em,
		byService: make(map[string]types.DiscoveredPeer),
		ctx:       ctx,
		cancel:    cancel,
	}

	m.lan.OnEnvelope(func(from types.DeviceID, env *envelope.Envelope) {
		m.inbound(from, env, types.RouteLAN)
	})
	m.lan.OnPeerDown(func(peer types.DeviceID, err error) {
		m.sup.NotifyDown(peer, err)
	})
	m.cloud.OnEnvelope(func(from types.DeviceID, env *envelope.Envelope) {
		m.inbound(from, env, types.RouteCloud)
	})
	m.cloud.OnDown(m.cloudDown)

	m.sup.OnStateChange(m.handleStateChange)
	m.sup.OnFallback(m.handleFallback)
	m.sup.OnHeartbeatMiss(m.handleHeartbeatMiss)
	m.pair.OnPhaseChange(m.handlePhaseChange)

	return m, nil
}

// ============================================================================
//                              生命周期
// ============================================================================

// Start 启动管理器
//
// 把配对端点告知配对引擎、恢复对已配对设备的监督并开始消费
// 发现事件。依赖的传输层与监督器须已先行启动。
func (m *Manager) Start(_ context.Context) error {
	if m.closed.Load() {
		return ErrManagerClosed
	}
	if !m.running.CompareAndSwap(false, true) {
		return nil
	}

	// 载荷通告的实例名须与对端发现目击同形，优先取发现服务
	// 自己报告的名字，没有通告语义时退回配置值
	service := m.cfg.Pairing.ServiceName
	if m.disc != nil {
		if name := m.disc.InstanceName(); name != "" {
			service = name
		}
	}
	m.pair.SetEndpoint(service, m.lan.Port(), m.cfg.Transport.CloudEndpoint)

	devices, err := m.store.ListPaired()
	if err != nil {
		return fmt.Errorf("恢复配对设备: %w", err)
	}
	for _, d := range devices {
		if err := m.sup.Supervise(d.Device.ID); err != nil {
			return fmt.Errorf("监督设备 %s: %w", d.Device.ID.Short(), err)
		}
	}

	if m.disc != nil {
		m.wg.Add(1)
		go m.discoveryLoop()
	}

	logger.Info("管理器已启动",
		"device", m.device.ID.Short(),
		"pairedDevices", len(devices),
		"discovery", m.disc != nil)
	return nil
}

// Stop 停止管理器，幂等
func (m *Manager) Stop() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	m.cancel()
	m.wg.Wait()

	err := m.em.Close()
	logger.Info("管理器已停止")
	return err
}

// ============================================================================
//                              出站同步
// ============================================================================

// SendSnapshot 把快照加密后冗余发往指定设备
//
// 发送成功后刷新该设备的最近成功路径记录。
func (m *Manager) SendSnapshot(ctx context.Context, target types.DeviceID, snap types.Snapshot) error {
	if m.closed.Load() {
		return ErrManagerClosed
	}

	env, err := m.sync.Build(target, snap)
	if err != nil {
		return fmt.Errorf("构造同步信封: %w", err)
	}
	if err := m.dual.Send(ctx, env); err != nil {
		return err
	}

	if route := m.sup.Route(target); route != types.RouteUnknown {
		m.touchRoute(target, route)
	}
	return nil
}

// Broadcast 把快照发往全部已配对设备
//
// 逐台发送，失败不中断其余设备；返回聚合后的逐台错误，
// 全部成功时为 nil。
func (m *Manager) Broadcast(ctx context.Context, snap types.Snapshot) error {
	devices, err := m.store.ListPaired()
	if err != nil {
		return fmt.Errorf("列出配对设备: %w", err)
	}

	var errs error
	for _, d := range devices {
		if d.Device.ID == m.device.ID {
			continue
		}
		if err := m.SendSnapshot(ctx, d.Device.ID, snap); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("发送到 %s: %w", d.Device.ID.Short(), err))
		}
	}
	return errs
}

// SyncClipboard 读取本机剪贴板并广播给全部已配对设备
func (m *Manager) SyncClipboard(ctx context.Context) error {
	if m.clip == nil {
		return ErrNoClipboard
	}

	snap, err := m.clip.Read()
	if err != nil {
		return fmt.Errorf("读取剪贴板: %w", err)
	}
	return m.Broadcast(ctx, snap)
}

// ============================================================================
//                              配对编排
// ============================================================================

// PairLocal 以发起方身份开始本地配对，返回供带外展示的载荷
func (m *Manager) PairLocal() (*pairing.LocalPayload, error) {
	return m.pair.StartLocal()
}

// PairWithPayload 以响应方身份消费带外载荷完成本地配对
//
// 载荷中的服务实例名须已出现在局域网发现目击里，否则无法定位
// 发起方。定位成功后拨号发起方并投递挑战，确认由入站路径送回
// 引擎，完成经由阶段回调通告。投递失败时会话被重置。
func (m *Manager) PairWithPayload(ctx context.Context, encoded string) error {
	payload, err := pairing.DecodePayload(encoded)
	if err != nil {
		return err
	}

	peer, ok := m.peerByService(payload.Service)
	if !ok {
		return fmt.Errorf("%w: %s", ErrInitiatorNotFound, payload.Service)
	}

	challenge, err := m.pair.AcceptPayload(encoded)
	if err != nil {
		return err
	}

	// 载荷里的端口由发起方签名，优先于发现通告的端口
	m.lan.SetPeerAddr(peer.Device.ID, peer.Host, payload.Port)
	if err := m.lan.Connect(ctx, peer.Device.ID); err != nil {
		m.pair.Reset()
		return fmt.Errorf("拨号配对发起方: %w", err)
	}

	env, err := controlEnvelope(m.version, m.device.ID, peer.Device.ID, envelope.ActionPairingChallenge, challenge)
	if err != nil {
		m.pair.Reset()
		return err
	}
	if err := m.lan.Send(ctx, env); err != nil {
		m.pair.Reset()
		return fmt.Errorf("投递配对挑战: %w", err)
	}

	logger.Info("配对挑战已投递",
		"peer", peer.Device.ID.Short(), "service", payload.Service)
	return nil
}

// PairRemote 以发起方身份开始中继短码配对
func (m *Manager) PairRemote(ctx context.Context) (pairing.CodeGrant, error) {
	return m.pair.StartRemote(ctx)
}

// ClaimRemote 以响应方身份认领中继短码完成配对
func (m *Manager) ClaimRemote(ctx context.Context, code string) error {
	return m.pair.ClaimRemote(ctx, code)
}

// PairingStatus 返回当前配对会话状态
func (m *Manager) PairingStatus() pairing.Status {
	return m.pair.Status()
}

// ResetPairing 放弃进行中的配对会话
func (m *Manager) ResetPairing() {
	m.pair.Reset()
}

// Unpair 解除与设备的配对
//
// 停止监督、删除密钥与配对记录并断开既有连接，幂等。
func (m *Manager) Unpair(peer types.DeviceID) error {
	if err := m.sup.Unsupervise(peer); err != nil && err != supervisor.ErrNotSupervised {
		return err
	}
	if err := m.store.Unpair(peer); err != nil {
		return fmt.Errorf("删除配对记录: %w", err)
	}
	_ = m.lan.Disconnect(peer)

	logger.Info("已解除配对", "peer", peer.Short())
	return nil
}

// ============================================================================
//                              状态查询
// ============================================================================

// Routes 返回全部受监督设备的当前连接路径
func (m *Manager) Routes() map[types.DeviceID]types.Route {
	states := m.sup.States()
	routes := make(map[types.DeviceID]types.Route, len(states))
	for peer, st := range states {
		routes[peer] = st.Route()
	}
	return routes
}

// PairedDevices 返回全部配对设备记录
func (m *Manager) PairedDevices() ([]types.PairedDevice, error) {
	return m.store.ListPaired()
}

// DiscoveredPeers 返回当前仍在目击表里的局域网设备
func (m *Manager) DiscoveredPeers() []types.DiscoveredPeer {
	m.mu.RLock()
	defer m.mu.RUnlock()

	peers := make([]types.DiscoveredPeer, 0, len(m.byService))
	for _, p := range m.byService {
		peers = append(peers, p)
	}
	return peers
}

// ============================================================================
//                              内部工具
// ============================================================================

// cloudDown 云连接断开时通告所有走云路径的设备
func (m *Manager) cloudDown(_ types.DeviceID, err error) {
	for peer, st := range m.sup.States() {
		if st == types.LinkConnectedCloud || st == types.LinkConnectingCloud {
			m.sup.NotifyDown(peer, err)
		}
	}
}

func (m *Manager) peerByService(service string) (types.DiscoveredPeer, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	peer, ok := m.byService[service]
	return peer, ok
}

func (m *Manager) touchRoute(peer types.DeviceID, route types.Route) {
	if err := m.store.TouchRoute(peer, route, time.Now()); err != nil {
		logger.Debug("刷新路径记录失败", "peer", peer.Short(), "err", err)
	}
}
