package syncboard

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/fx"

	"github.com/syncboard/go-syncboard/config"
	"github.com/syncboard/go-syncboard/internal/core/eventbus"
	"github.com/syncboard/go-syncboard/internal/core/manager"
	"github.com/syncboard/go-syncboard/internal/core/pairing"
	"github.com/syncboard/go-syncboard/internal/core/transport"
	"github.com/syncboard/go-syncboard/pkg/lib/log"
	"github.com/syncboard/go-syncboard/pkg/types"
)

var logger = log.Logger("syncboard")

// 启动超时配置
const (
	// initializeTimeout 初始化超时（Fx App Start）
	initializeTimeout = 30 * time.Second

	// closeTimeout Close 的兜底停机超时
	closeTimeout = 10 * time.Second
)

// Node 同步节点
//
// Node 是用户与 SyncBoard 交互的主入口。它是一个门面
// （Facade），聚合了传输、监督、配对与同步等内部组件。
//
// 架构层次：
//   - API Layer: Node（本层，用户直接交互）
//   - 协调层: Manager, Pairing Engine, Sync Engine
//   - 传输层: LAN, Cloud, Dual, Supervisor
//   - 基础层: Envelope, CryptoBox, WSProto, Keystore
//
// 使用示例：
//
//	// 创建并启动节点
//	node, err := syncboard.New(ctx,
//	    syncboard.WithDeviceName("工作机"),
//	    syncboard.WithListenPort(8540),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer node.Close()
//
//	if err := node.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	// 本地配对：展示票据，对端扫码
//	ticket, _ := node.StartLocalPairing()
//	fmt.Println("扫码配对:", ticket.Encoded)
//
//	// 同步剪贴板到所有已配对设备
//	node.SyncClipboard(ctx)
type Node struct {
	// config 节点配置
	config *config.Config

	// opts 构造时折叠的选项
	opts *options

	// app Fx 应用
	app *fx.App

	// ────────────────────────────────────────────────────────────────────────
	// 核心组件（由 Fx 注入）
	// ────────────────────────────────────────────────────────────────────────

	// manager 协调管理器
	manager *manager.Manager

	// bus 事件总线
	bus *eventbus.Bus

	// lan 局域网传输（查询实际监听端口）
	lan *transport.LAN

	// ────────────────────────────────────────────────────────────────────────
	// 生命周期状态
	// ────────────────────────────────────────────────────────────────────────

	mu      sync.RWMutex
	state   NodeState
	started bool
	closed  bool
}

// ════════════════════════════════════════════════════════════════════════════
//                              构造函数
// ════════════════════════════════════════════════════════════════════════════

// New 创建新节点
//
// 创建节点但不启动，需要调用 Start() 启动。
// 通过 Option 函数配置节点。
//
// 示例：
//
//	node, err := syncboard.New(ctx,
//	    syncboard.WithDeviceName("工作机"),
//	    syncboard.WithRelayEndpoint("https://relay.example.com"),
//	)
func New(_ context.Context, opts ...Option) (*Node, error) {
	o := newOptions()
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	cfg := o.toConfig()

	// 日志文件配置（必须在最早期应用）
	if o.logFile != "" {
		file, err := os.OpenFile(o.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		log.SetOutput(file)
	}

	if err := ensureIdentity(cfg); err != nil {
		return nil, fmt.Errorf("ensure identity: %w", err)
	}

	node := &Node{
		config: cfg,
		opts:   o,
		state:  StateIdle,
	}

	app, err := buildFxApp(o, cfg, node)
	if err != nil {
		return nil, fmt.Errorf("build fx app: %w", err)
	}
	node.app = app
	return node, nil
}

// Start 快捷启动函数
//
// 创建节点并立即启动，等价于 New() + Start()。
//
// 示例：
//
//	node, err := syncboard.Start(ctx,
//	    syncboard.WithDeviceName("笔记本"),
//	)
func Start(ctx context.Context, opts ...Option) (*Node, error) {
	node, err := New(ctx, opts...)
	if err != nil {
		return nil, err
	}
	if err := node.Start(ctx); err != nil {
		return nil, fmt.Errorf("start node: %w", err)
	}
	return node, nil
}

// ensureIdentity 补全设备身份
//
// 设备标识为空时优先读取数据目录中持久化的标识，没有则生成
// 随机标识并落盘；内存模式只生成不落盘。平台按运行时推断。
func ensureIdentity(cfg *config.Config) error {
	if cfg.Identity.DevicePlatform == "" {
		cfg.Identity.DevicePlatform = inferPlatform()
	}
	if cfg.Identity.DeviceID != "" {
		return nil
	}
	if cfg.Keystore.InMemory {
		cfg.Identity.DeviceID = uuid.NewString()
		return nil
	}

	dir := cfg.Keystore.Path
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolve data dir: %w", err)
		}
		dir = filepath.Join(home, ".syncboard", "keystore")
	}
	base := filepath.Dir(dir)
	idPath := filepath.Join(base, "device_id")

	if data, err := os.ReadFile(idPath); err == nil {
		if id := string(bytes.TrimSpace(data)); id != "" {
			cfg.Identity.DeviceID = id
			return nil
		}
	}

	id := uuid.NewString()
	if err := os.MkdirAll(base, 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	if err := os.WriteFile(idPath, []byte(id+"\n"), 0o600); err != nil {
		return fmt.Errorf("persist device id: %w", err)
	}
	cfg.Identity.DeviceID = id
	return nil
}

// inferPlatform 按运行时推断设备平台
func inferPlatform() string {
	switch runtime.GOOS {
	case "darwin":
		return "macos"
	case "windows", "linux", "ios", "android":
		return runtime.GOOS
	default:
		return runtime.GOOS
	}
}

// ════════════════════════════════════════════════════════════════════════════
//                              基本信息
// ════════════════════════════════════════════════════════════════════════════

// DeviceID 返回本机设备标识
func (n *Node) DeviceID() types.DeviceID {
	return types.DeviceID(n.config.Identity.DeviceID)
}

// DeviceName 返回本机设备名称
func (n *Node) DeviceName() string {
	return n.config.Identity.DeviceName
}

// ListenPort 返回 WebSocket 服务的实际监听端口
//
// 配置端口为 0 时启动后返回系统分配的端口。
func (n *Node) ListenPort() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.started && n.lan != nil {
		return n.lan.Port()
	}
	return n.config.WebSocket.ListenPort
}

// State 返回节点当前状态
func (n *Node) State() NodeState {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.state
}

// IsRunning 判断节点是否处于运行状态
func (n *Node) IsRunning() bool {
	return n.State() == StateRunning
}

// ════════════════════════════════════════════════════════════════════════════
//                              生命周期
// ════════════════════════════════════════════════════════════════════════════

// Start 启动节点
//
// 按依赖顺序启动全部内部组件：密钥存储、传输层、监督器、
// 配对引擎与管理器。任一组件启动失败时整体回滚并报错。
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return ErrNodeClosed
	}
	if n.started {
		return ErrAlreadyStarted
	}

	n.state = StateInitializing
	logger.Info("正在启动节点",
		"device", n.DeviceID().Short(),
		"name", n.config.Identity.DeviceName)

	initCtx, cancel := context.WithTimeout(ctx, initializeTimeout)
	defer cancel()

	if err := n.app.Start(initCtx); err != nil {
		n.state = StateIdle
		logger.Error("节点启动失败", "err", err)
		return fmt.Errorf("initialize failed: %w", err)
	}

	n.state = StateRunning
	n.started = true
	logger.Info("节点已启动",
		"device", n.DeviceID().Short(),
		"port", n.lan.Port(),
		"cloud", n.config.Transport.CloudEndpoint != "",
		"relay", n.config.Relay.Endpoint != "")
	return nil
}

// Stop 停止节点
//
// 按反向顺序停止全部内部组件。内部组件是单次使用的，
// 停止后节点不可重新启动；需要新节点请重新 New。
func (n *Node) Stop(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return ErrNodeClosed
	}
	if !n.started {
		return ErrNotStarted
	}

	n.state = StateStopping
	logger.Info("正在停止节点")

	err := n.app.Stop(ctx)
	n.state = StateStopped
	n.started = false
	n.closed = true
	if err != nil {
		logger.Error("停止节点失败", "err", err)
		return fmt.Errorf("stop fx app: %w", err)
	}

	logger.Info("节点已停止")
	return nil
}

// Close 关闭节点并释放所有资源
//
// 幂等；未启动时直接标记关闭。适合 defer 收尾。
func (n *Node) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil
	}

	if n.started {
		n.state = StateStopping
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := n.app.Stop(ctx); err != nil {
			logger.Warn("关闭节点时停止组件失败", "err", err)
		}
	}

	n.state = StateStopped
	n.started = false
	n.closed = true
	logger.Info("节点已关闭")
	return nil
}

// runningManager 返回运行中的管理器
//
// 节点未启动或已关闭时返回对应的哨兵错误。
func (n *Node) runningManager() (*manager.Manager, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return nil, ErrNodeClosed
	}
	if !n.started {
		return nil, ErrNotStarted
	}
	return n.manager, nil
}

// ════════════════════════════════════════════════════════════════════════════
//                              剪贴板同步
// ════════════════════════════════════════════════════════════════════════════

// SyncClipboard 读取本机剪贴板并同步到所有已配对设备
//
// 需要通过 WithClipboard 接入剪贴板实现，否则返回
// ErrNoClipboard。
func (n *Node) SyncClipboard(ctx context.Context) error {
	m, err := n.runningManager()
	if err != nil {
		return err
	}
	return m.SyncClipboard(ctx)
}

// SendSnapshot 把剪贴板快照加密后发送到指定设备
func (n *Node) SendSnapshot(ctx context.Context, target types.DeviceID, snap types.Snapshot) error {
	m, err := n.runningManager()
	if err != nil {
		return err
	}
	return m.SendSnapshot(ctx, target, snap)
}

// Broadcast 把剪贴板快照发送到所有已配对设备
//
// 逐设备独立加密，部分失败不影响其余设备。
func (n *Node) Broadcast(ctx context.Context, snap types.Snapshot) error {
	m, err := n.runningManager()
	if err != nil {
		return err
	}
	return m.Broadcast(ctx, snap)
}

// ════════════════════════════════════════════════════════════════════════════
//                              设备配对
// ════════════════════════════════════════════════════════════════════════════

// StartLocalPairing 发起本地配对并返回待展示的票据
//
// 票据含本机临时公钥与可达信息，适合渲染为二维码。
// 对端在有效期内调用 PairWithTicket 完成认领。
func (n *Node) StartLocalPairing() (PairingTicket, error) {
	m, err := n.runningManager()
	if err != nil {
		return PairingTicket{}, err
	}
	payload, err := m.PairLocal()
	if err != nil {
		return PairingTicket{}, err
	}
	encoded, err := payload.Encode()
	if err != nil {
		return PairingTicket{}, fmt.Errorf("encode pairing ticket: %w", err)
	}
	return PairingTicket{
		Encoded: encoded,
		Service: payload.Service,
		Port:    payload.Port,
		ExpiresAt: time.UnixMilli(payload.IssuedAt).
			Add(n.config.Pairing.PayloadValidity.Duration()),
	}, nil
}

// PairWithTicket 认领对端展示的本地配对票据
//
// 解析票据、定位对端并完成挑战/应答交换；返回 nil 仅表示
// 交换已发起，最终结果经 PairingState 或事件总线观察。
func (n *Node) PairWithTicket(ctx context.Context, encoded string) error {
	m, err := n.runningManager()
	if err != nil {
		return err
	}
	return m.PairWithPayload(ctx, encoded)
}

// StartRemotePairing 发起远程配对并返回中继短码
//
// 需要配置中继端点（WithRelayEndpoint）。对端在有效期内
// 调用 ClaimRemotePairing 认领短码。
func (n *Node) StartRemotePairing(ctx context.Context) (PairingCode, error) {
	m, err := n.runningManager()
	if err != nil {
		return PairingCode{}, err
	}
	grant, err := m.PairRemote(ctx)
	if err != nil {
		return PairingCode{}, err
	}
	return PairingCode{
		Code:      grant.Code,
		ExpiresAt: time.UnixMilli(grant.ExpiresAt),
	}, nil
}

// ClaimRemotePairing 凭短码认领远程配对
func (n *Node) ClaimRemotePairing(ctx context.Context, code string) error {
	m, err := n.runningManager()
	if err != nil {
		return err
	}
	return m.ClaimRemote(ctx, code)
}

// PairingState 返回配对会话的只读快照
//
// 未启动时返回空闲状态。
func (n *Node) PairingState() PairingState {
	m, err := n.runningManager()
	if err != nil {
		return PairingState{
			Phase: pairing.PhaseIdle.String(),
			Mode:  pairing.ModeNone.String(),
		}
	}
	return toPairingState(m.PairingStatus())
}

// ResetPairing 放弃进行中的配对会话
func (n *Node) ResetPairing() {
	m, err := n.runningManager()
	if err != nil {
		return
	}
	m.ResetPairing()
}

// Unpair 解除与指定设备的配对
//
// 删除共享密钥与设备记录并停止监督；对端不会收到通知。
func (n *Node) Unpair(device types.DeviceID) error {
	m, err := n.runningManager()
	if err != nil {
		return err
	}
	return m.Unpair(device)
}

// toPairingState 把内部会话快照转换为公共类型
func toPairingState(st pairing.Status) PairingState {
	return PairingState{
		Phase:  st.Phase.String(),
		Mode:   st.Mode.String(),
		Reason: st.Reason,
		Code:   st.Code,
		Peer:   st.Peer,
	}
}

// ════════════════════════════════════════════════════════════════════════════
//                              状态查询
// ════════════════════════════════════════════════════════════════════════════

// PairedDevices 返回所有已配对设备
func (n *Node) PairedDevices() ([]types.PairedDevice, error) {
	m, err := n.runningManager()
	if err != nil {
		return nil, err
	}
	return m.PairedDevices()
}

// DiscoveredPeers 返回局域网发现当前可见的设备
//
// 未启动或未启用发现时返回空。
func (n *Node) DiscoveredPeers() []types.DiscoveredPeer {
	m, err := n.runningManager()
	if err != nil {
		return nil
	}
	return m.DiscoveredPeers()
}

// Routes 返回各已配对设备当前的活跃路径
func (n *Node) Routes() map[types.DeviceID]types.Route {
	m, err := n.runningManager()
	if err != nil {
		return nil
	}
	return m.Routes()
}

// ════════════════════════════════════════════════════════════════════════════
//                              事件订阅
// ════════════════════════════════════════════════════════════════════════════

// Subscribe 订阅节点事件
//
// eventType 传事件结构指针，例如 new(types.EvtSyncApplied)。
// 返回的订阅不再消费时必须 Close。
//
// 示例：
//
//	sub, _ := node.Subscribe(new(types.EvtDeviceOnline))
//	defer sub.Close()
//	for ev := range sub.Out() {
//	    online := ev.(types.EvtDeviceOnline)
//	    fmt.Println("设备上线:", online.Device.Short())
//	}
func (n *Node) Subscribe(eventType interface{}) (*Subscription, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return nil, ErrNodeClosed
	}
	if !n.started {
		return nil, ErrNotStarted
	}
	sub, err := n.bus.Subscribe(eventType, eventbus.BufSize(16))
	if err != nil {
		return nil, fmt.Errorf("subscribe events: %w", err)
	}
	return &Subscription{inner: sub}, nil
}
