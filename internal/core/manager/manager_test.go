package manager

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
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
	"github.com/syncboard/go-syncboard/pkg/types"
)

// ============================================================================
//                              假协作方
// ============================================================================

type fakeLAN struct {
	mu          sync.Mutex
	onEnvelope  transport.EnvelopeHandler
	onPeerDown  transport.PeerDownHandler
	addrs       map[types.DeviceID]string
	connects    []types.DeviceID
	disconnects []types.DeviceID
	forgotten   []types.DeviceID
	sent        []*envelope.Envelope
	connectErr  error
	sendErr     error
	port        int
}

func newFakeLAN() *fakeLAN {
	return &fakeLAN{addrs: make(map[types.DeviceID]string), port: 8540}
}

func (l *fakeLAN) OnEnvelope(h transport.EnvelopeHandler) { l.onEnvelope = h }
func (l *fakeLAN) OnPeerDown(h transport.PeerDownHandler) { l.onPeerDown = h }
func (l *fakeLAN) Port() int                              { return l.port }

func (l *fakeLAN) SetPeerAddr(peer types.DeviceID, host string, port int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.addrs[peer] = fmt.Sprintf("%s:%d", host, port)
}

func (l *fakeLAN) ForgetPeer(peer types.DeviceID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.addrs, peer)
	l.forgotten = append(l.forgotten, peer)
}

func (l *fakeLAN) Connect(_ context.Context, peer types.DeviceID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connects = append(l.connects, peer)
	return l.connectErr
}

func (l *fakeLAN) Disconnect(peer types.DeviceID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.disconnects = append(l.disconnects, peer)
	return nil
}

func (l *fakeLAN) Send(_ context.Context, env *envelope.Envelope) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sendErr != nil {
		return l.sendErr
	}
	l.sent = append(l.sent, env)
	return nil
}

func (l *fakeLAN) addr(peer types.DeviceID) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.addrs[peer]
	return a, ok
}

func (l *fakeLAN) sentEnvelopes() []*envelope.Envelope {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*envelope.Envelope(nil), l.sent...)
}

// deliver 模拟一条入站信封到达局域网路径
func (l *fakeLAN) deliver(from types.DeviceID, env *envelope.Envelope) {
	l.onEnvelope(from, env)
}

type fakeCloud struct {
	mu         sync.Mutex
	onEnvelope transport.EnvelopeHandler
	onDown     transport.PeerDownHandler
	connects   int
	sent       []*envelope.Envelope
	connectErr error
}

func (c *fakeCloud) OnEnvelope(h transport.EnvelopeHandler) { c.onEnvelope = h }
func (c *fakeCloud) OnDown(h transport.PeerDownHandler)     { c.onDown = h }

func (c *fakeCloud) Connect(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
	return c.connectErr
}

func (c *fakeCloud) Send(_ context.Context, env *envelope.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, env)
	return nil
}

func (c *fakeCloud) sentEnvelopes() []*envelope.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*envelope.Envelope(nil), c.sent...)
}

func (c *fakeCloud) deliver(from types.DeviceID, env *envelope.Envelope) {
	c.onEnvelope(from, env)
}

type fakeDual struct {
	mu     sync.Mutex
	sent   []*envelope.Envelope
	errFor map[types.DeviceID]error
}

func (d *fakeDual) Send(_ context.Context, env *envelope.Envelope) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, env)
	if err, ok := d.errFor[env.Payload.Target]; ok {
		return err
	}
	return nil
}

func (d *fakeDual) sentEnvelopes() []*envelope.Envelope {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*envelope.Envelope(nil), d.sent...)
}

type fakeClipboard struct {
	mu      sync.Mutex
	current types.Snapshot
	written []types.Snapshot
	readErr error
}

func (c *fakeClipboard) Read() (types.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current, c.readErr
}

func (c *fakeClipboard) Write(snap types.Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, snap)
	return nil
}

func (c *fakeClipboard) writes() []types.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.Snapshot(nil), c.written...)
}

type fakeDiscovery struct {
	ch   chan types.DiscoveryEvent
	name string
}

func newFakeDiscovery() *fakeDiscovery {
	return &fakeDiscovery{ch: make(chan types.DiscoveryEvent, 16)}
}

func (d *fakeDiscovery) Start(_ context.Context) error       { return nil }
func (d *fakeDiscovery) Stop() error                         { return nil }
func (d *fakeDiscovery) Events() <-chan types.DiscoveryEvent { return d.ch }
func (d *fakeDiscovery) InstanceName() string                { return d.name }
func (d *fakeDiscovery) push(ev types.DiscoveryEvent)        { d.ch <- ev }

// stubDialer 监督器用的总是成功的拨号桩
type stubDialer struct {
	mu       sync.Mutex
	lanCalls int
}

func (d *stubDialer) DialLAN(_ context.Context, _ types.DeviceID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lanCalls++
	return nil
}

func (d *stubDialer) DialCloud(_ context.Context, _ types.DeviceID) error { return nil }

type stubHeartbeat struct{}

func (stubHeartbeat) SendHeartbeat(_ context.Context, _ types.DeviceID, _ types.Route) error {
	return nil
}

// ============================================================================
//                              测试装置
// ============================================================================

type harness struct {
	m     *Manager
	cfg   *config.Config
	dev   types.DeviceInfo
	lan   *fakeLAN
	cloud *fakeCloud
	dual  *fakeDual
	sup   *supervisor.Supervisor
	pair  *pairing.Engine
	store *keystore.Memory
	clip  *fakeClipboard
	disc  *fakeDiscovery
	bus   *eventbus.Bus
}

type harnessOption func(*harness)

func withoutClipboard() harnessOption {
	return func(h *harness) { h.clip = nil }
}

func withDiscoveryName(name string) harnessOption {
	return func(h *harness) { h.disc.name = name }
}

// newHarness 搭一套以假传输为底的完整管理器
//
// 监督器与配对引擎用真实实现，传输、剪贴板与发现用假协作方。
func newHarness(t *testing.T, deviceID string, opts ...harnessOption) *harness {
	t.Helper()

	cfg := config.NewConfig()
	cfg.Identity.DeviceID = deviceID
	cfg.Identity.DeviceName = "测试机-" + deviceID
	cfg.Identity.DevicePlatform = string(types.PlatformLinux)
	cfg.Pairing.ServiceName = "syncboard-" + deviceID + "._syncboard._tcp.local"
	cfg.Supervisor.Jitter = 0

	h := &harness{
		cfg:   cfg,
		lan:   newFakeLAN(),
		cloud: &fakeCloud{},
		dual:  &fakeDual{},
		store: keystore.NewMemory(),
		clip:  &fakeClipboard{},
		disc:  newFakeDiscovery(),
		bus:   eventbus.NewBus(),
	}
	for _, opt := range opts {
		opt(h)
	}

	h.dev = types.DeviceInfo{
		ID:       types.DeviceID(cfg.Identity.DeviceID),
		Name:     cfg.Identity.DeviceName,
		Platform: types.Platform(cfg.Identity.DevicePlatform),
	}

	h.sup = supervisor.New(cfg.Supervisor, time.Second, &stubDialer{}, stubHeartbeat{}, clock.NewMock())
	require.NoError(t, h.sup.Start(context.Background()))

	h.pair = pairing.NewEngine(h.dev, cfg.Pairing, h.store, nil, clock.New())
	require.NoError(t, h.pair.Start(context.Background()))

	syncEng := syncengine.NewEngine(h.dev, cfg.Sync, cfg.Frame.Version, h.store)

	var clip types.ClipboardIO
	if h.clip != nil {
		clip = h.clip
	}

	m, err := NewManager(Deps{
		Config:     cfg,
		LAN:        h.lan,
		Cloud:      h.cloud,
		Dual:       h.dual,
		Supervisor: h.sup,
		Pairing:    h.pair,
		Sync:       syncEng,
		Store:      h.store,
		Clipboard:  clip,
		Discovery:  h.disc,
		Bus:        h.bus,
		Metrics:    metrics.NewRecorder("test"),
	})
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background()))
	h.m = m

	t.Cleanup(func() {
		_ = m.Stop()
		_ = h.pair.Stop()
		_ = h.sup.Stop()
	})
	return h
}

// peerFixture 一台用于对向通信的假设备
type peerFixture struct {
	dev types.DeviceInfo
	eng *syncengine.Engine
}

// newPeer 创建配对好的对端：双方密钥互存并写入配对记录
func (h *harness) newPeer(t *testing.T, id string) *peerFixture {
	t.Helper()

	dev := types.DeviceInfo{
		ID:       types.DeviceID(id),
		Name:     "对端-" + id,
		Platform: types.PlatformMacOS,
	}
	key := bytes.Repeat([]byte{0x5a}, 32)

	require.NoError(t, h.store.PutSharedKey(dev.ID, key))
	require.NoError(t, h.store.SavePairedDevice(types.PairedDevice{
		Device:   dev,
		PairedAt: time.Now(),
	}))

	peerStore := keystore.NewMemory()
	require.NoError(t, peerStore.PutSharedKey(h.dev.ID, key))

	return &peerFixture{
		dev: dev,
		eng: syncengine.NewEngine(dev, h.cfg.Sync, h.cfg.Frame.Version, peerStore),
	}
}

func subscribe(t *testing.T, bus *eventbus.Bus, typ interface{}) *eventbus.Subscription {
	t.Helper()
	sub, err := bus.Subscribe(typ)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Close() })
	return sub
}

func waitEvent(t *testing.T, sub *eventbus.Subscription) interface{} {
	t.Helper()
	select {
	case ev := <-sub.Out():
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("等待事件超时")
		return nil
	}
}

func requireNoEvent(t *testing.T, sub *eventbus.Subscription) {
	t.Helper()
	select {
	case ev := <-sub.Out():
		t.Fatalf("不应有事件，收到 %T", ev)
	default:
	}
}

func testSnapshot(text string) types.Snapshot {
	return types.Snapshot{
		ContentType: "text/plain",
		Data:        []byte(text),
		CapturedAt:  time.Now(),
	}
}

// ============================================================================
//                              构造与校验
// ============================================================================

func TestNewManagerRequiresCollaborators(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Identity.DeviceID = "lonely-device"

	_, err := NewManager(Deps{Config: cfg})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "传输协作方")

	_, err = NewManager(Deps{
		Config: cfg,
		LAN:    newFakeLAN(),
		Cloud:  &fakeCloud{},
		Dual:   &fakeDual{},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "核心协作方")
}

// ============================================================================
//                              入站剪贴板
// ============================================================================

func TestInboundClipboardApplied(t *testing.T) {
	h := newHarness(t, "local-device-aaaa")
	peer := h.newPeer(t, "peer-device-bbbb")
	sub := subscribe(t, h.bus, new(types.EvtSyncApplied))

	env, err := peer.eng.Build(h.dev.ID, testSnapshot("来自对端的剪贴板"))
	require.NoError(t, err)
	h.lan.deliver(peer.dev.ID, env)

	writes := h.clip.writes()
	require.Len(t, writes, 1, "快照应写入剪贴板")
	assert.Equal(t, []byte("来自对端的剪贴板"), writes[0].Data)
	assert.Equal(t, "text/plain", writes[0].ContentType)

	ev := waitEvent(t, sub).(types.EvtSyncApplied)
	assert.Equal(t, env.ID, ev.MessageID)
	assert.Equal(t, peer.dev.ID, ev.From)
	assert.Equal(t, len(writes[0].Data), ev.Size)

	// 成功应用后最近路径被刷新
	rec, err := h.store.PairedDevice(peer.dev.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RouteLAN, rec.LastRoute)
}

func TestInboundDuplicateSuppressed(t *testing.T) {
	h := newHarness(t, "local-device-aaaa")
	peer := h.newPeer(t, "peer-device-bbbb")

	env, err := peer.eng.Build(h.dev.ID, testSnapshot("只应落地一次"))
	require.NoError(t, err)

	h.lan.deliver(peer.dev.ID, env)
	h.cloud.deliver(peer.dev.ID, env)

	assert.Len(t, h.clip.writes(), 1, "第二条路径的副本应被抑制")
}

func TestInboundUnknownSenderIgnored(t *testing.T) {
	h := newHarness(t, "local-device-aaaa")
	sub := subscribe(t, h.bus, new(types.EvtSyncApplied))

	// 对端密钥不在本机密钥库里
	stranger := types.DeviceInfo{ID: "stranger-device", Platform: types.PlatformWindows}
	strangerStore := keystore.NewMemory()
	require.NoError(t, strangerStore.PutSharedKey(h.dev.ID, bytes.Repeat([]byte{1}, 32)))
	eng := syncengine.NewEngine(stranger, h.cfg.Sync, h.cfg.Frame.Version, strangerStore)

	env, err := eng.Build(h.dev.ID, testSnapshot("陌生设备的内容"))
	require.NoError(t, err)
	h.lan.deliver(stranger.ID, env)

	assert.Empty(t, h.clip.writes())
	requireNoEvent(t, sub)
}

// ============================================================================
//                              控制动作
// ============================================================================

func TestHeartbeatEchoedOnSameRoute(t *testing.T) {
	h := newHarness(t, "local-device-aaaa")
	peer := types.DeviceID("peer-device-bbbb")
	ping := json.RawMessage(`{"at":1724400000000}`)

	t.Run("局域网路径", func(t *testing.T) {
		hb := envelope.NewControl(1, peer, envelope.ActionHeartbeat, ping).WithTarget(h.dev.ID)
		h.lan.deliver(peer, hb)

		sent := h.lan.sentEnvelopes()
		require.Len(t, sent, 1)
		assert.Equal(t, envelope.ActionHeartbeatAck, sent[0].Payload.Action)
		assert.Equal(t, peer, sent[0].Payload.Target)
		assert.JSONEq(t, string(ping), string(sent[0].Payload.Data), "探测数据应原样回送")
		assert.Empty(t, h.cloud.sentEnvelopes())
	})

	t.Run("云端路径", func(t *testing.T) {
		hb := envelope.NewControl(1, peer, envelope.ActionHeartbeat, ping).WithTarget(h.dev.ID)
		h.cloud.deliver(peer, hb)

		sent := h.cloud.sentEnvelopes()
		require.Len(t, sent, 1)
		assert.Equal(t, envelope.ActionHeartbeatAck, sent[0].Payload.Action)
		assert.Equal(t, peer, sent[0].Payload.Target)
	})
}

func TestUnknownControlActionIgnored(t *testing.T) {
	h := newHarness(t, "local-device-aaaa")

	env := envelope.NewControl(1, "peer-device-bbbb", "selfDestruct", nil).WithTarget(h.dev.ID)
	h.lan.deliver("peer-device-bbbb", env)

	assert.Empty(t, h.lan.sentEnvelopes())
	assert.Empty(t, h.cloud.sentEnvelopes())
}

// ============================================================================
//                              本地配对全流程
// ============================================================================

// TestLocalPairingEndToEnd 两台管理器走完整个带外载荷配对：
// 发起方生成载荷 → 响应方经发现解析并投递挑战 → 发起方确认 →
// 双方持久化密钥并开始监督对方。
func TestLocalPairingEndToEnd(t *testing.T) {
	a := newHarness(t, "device-a-1111")
	b := newHarness(t, "device-b-2222")

	pairedA := subscribe(t, a.bus, new(types.EvtPairingCompleted))
	pairedB := subscribe(t, b.bus, new(types.EvtPairingCompleted))

	// 发起方生成带外载荷
	payload, err := a.m.PairLocal()
	require.NoError(t, err)
	assert.Equal(t, a.cfg.Pairing.ServiceName, payload.Service)
	assert.Equal(t, a.lan.Port(), payload.Port)
	encoded, err := payload.Encode()
	require.NoError(t, err)

	// 响应方先在局域网里目击到发起方
	b.disc.push(types.DiscoveryEvent{
		Kind: types.DiscoveryPeerAdded,
		Peer: types.DiscoveredPeer{
			Device:      a.dev,
			Host:        "192.168.1.10",
			Port:        a.lan.Port(),
			ServiceName: payload.Service,
		},
	})
	require.Eventually(t, func() bool {
		return len(b.m.DiscoveredPeers()) == 1
	}, 3*time.Second, 10*time.Millisecond, "发现事件应被消费")

	// 扫码：响应方消费载荷并投递挑战
	require.NoError(t, b.m.PairWithPayload(context.Background(), encoded))
	assert.Equal(t, []types.DeviceID{a.dev.ID}, b.lan.connects)

	bSent := b.lan.sentEnvelopes()
	require.Len(t, bSent, 1)
	challenge := bSent[0]
	assert.Equal(t, envelope.ActionPairingChallenge, challenge.Payload.Action)
	assert.Equal(t, a.dev.ID, challenge.Payload.Target)

	// 挑战送达发起方，发起方回送确认并完成
	a.lan.deliver(b.dev.ID, challenge)

	aSent := a.lan.sentEnvelopes()
	require.Len(t, aSent, 1)
	ack := aSent[0]
	assert.Equal(t, envelope.ActionPairingAck, ack.Payload.Action)
	assert.Equal(t, b.dev.ID, ack.Payload.Target)

	evA := waitEvent(t, pairedA).(types.EvtPairingCompleted)
	assert.Equal(t, b.dev.ID, evA.Device.ID)

	// 确认送达响应方，响应方完成
	b.lan.deliver(a.dev.ID, ack)
	evB := waitEvent(t, pairedB).(types.EvtPairingCompleted)
	assert.Equal(t, a.dev.ID, evB.Device.ID)

	// 双方持久化同一把共享密钥
	keyA, err := a.store.SharedKey(b.dev.ID)
	require.NoError(t, err)
	keyB, err := b.store.SharedKey(a.dev.ID)
	require.NoError(t, err)
	assert.Equal(t, keyA, keyB)
	assert.Len(t, keyA, 32)

	recA, err := a.store.PairedDevice(b.dev.ID)
	require.NoError(t, err)
	assert.Equal(t, b.dev.Name, recA.Device.Name)

	// 完成后双方都开始监督对方
	assert.Eventually(t, func() bool {
		return len(a.sup.Supervised()) == 1 && len(b.sup.Supervised()) == 1
	}, 3*time.Second, 10*time.Millisecond)
}

func TestPairLocalAdvertisesDiscoveryInstanceName(t *testing.T) {
	name := "syncboard-override._syncboard._tcp.local"
	h := newHarness(t, "device-a-1111", withDiscoveryName(name))

	// 发现服务报告的实例名优先于配置值，保证响应方能按
	// 目击表键定位发起方
	payload, err := h.m.PairLocal()
	require.NoError(t, err)
	assert.Equal(t, name, payload.Service)
}

func TestPairWithPayloadUndiscoveredService(t *testing.T) {
	a := newHarness(t, "device-a-1111")
	b := newHarness(t, "device-b-2222")

	payload, err := a.m.PairLocal()
	require.NoError(t, err)
	encoded, err := payload.Encode()
	require.NoError(t, err)

	err = b.m.PairWithPayload(context.Background(), encoded)
	require.ErrorIs(t, err, ErrInitiatorNotFound)
	assert.Empty(t, b.lan.connects)
}

func TestPairWithPayloadDialFailureResetsSession(t *testing.T) {
	a := newHarness(t, "device-a-1111")
	b := newHarness(t, "device-b-2222")
	b.lan.connectErr = errors.New("connection refused")

	payload, err := a.m.PairLocal()
	require.NoError(t, err)
	encoded, err := payload.Encode()
	require.NoError(t, err)

	b.disc.push(types.DiscoveryEvent{
		Kind: types.DiscoveryPeerAdded,
		Peer: types.DiscoveredPeer{
			Device:      a.dev,
			Host:        "192.168.1.10",
			Port:        a.lan.Port(),
			ServiceName: payload.Service,
		},
	})
	require.Eventually(t, func() bool {
		return len(b.m.DiscoveredPeers()) == 1
	}, 3*time.Second, 10*time.Millisecond)

	err = b.m.PairWithPayload(context.Background(), encoded)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "拨号配对发起方")
	assert.Equal(t, pairing.PhaseIdle, b.m.PairingStatus().Phase, "失败后会话应被重置")
}

func TestPairWithPayloadRejectsGarbage(t *testing.T) {
	h := newHarness(t, "local-device-aaaa")

	err := h.m.PairWithPayload(context.Background(), "这不是载荷")
	require.ErrorIs(t, err, pairing.ErrInvalidPayload)
}

// ============================================================================
//                              发现消费
// ============================================================================

func TestDiscoveryAddedRegistersPeer(t *testing.T) {
	h := newHarness(t, "local-device-aaaa")
	sub := subscribe(t, h.bus, new(types.EvtPeerDiscovered))

	peer := types.DiscoveredPeer{
		Device:      types.DeviceInfo{ID: "peer-device-bbbb", Name: "客厅工作站"},
		Host:        "192.168.1.23",
		Port:        8541,
		ServiceName: "syncboard-peer-dev._syncboard._tcp.local",
	}
	h.disc.push(types.DiscoveryEvent{Kind: types.DiscoveryPeerAdded, Peer: peer})

	ev := waitEvent(t, sub).(types.EvtPeerDiscovered)
	assert.Equal(t, peer, ev.Peer)

	addr, ok := h.lan.addr(peer.Device.ID)
	require.True(t, ok, "目击应登记局域网地址")
	assert.Equal(t, "192.168.1.23:8541", addr)

	// 未配对的目击不触发监督
	assert.Empty(t, h.sup.Supervised())
}

func TestDiscoveryRemovedForgetsPeer(t *testing.T) {
	h := newHarness(t, "local-device-aaaa")
	lost := subscribe(t, h.bus, new(types.EvtPeerLost))

	peer := types.DiscoveredPeer{
		Device:      types.DeviceInfo{ID: "peer-device-bbbb"},
		Host:        "192.168.1.23",
		Port:        8541,
		ServiceName: "syncboard-peer-dev._syncboard._tcp.local",
	}
	h.disc.push(types.DiscoveryEvent{Kind: types.DiscoveryPeerAdded, Peer: peer})
	h.disc.push(types.DiscoveryEvent{Kind: types.DiscoveryPeerRemoved, ServiceName: peer.ServiceName})

	ev := waitEvent(t, lost).(types.EvtPeerLost)
	assert.Equal(t, peer.ServiceName, ev.ServiceName)

	assert.Eventually(t, func() bool {
		return len(h.m.DiscoveredPeers()) == 0
	}, 3*time.Second, 10*time.Millisecond)
	_, ok := h.lan.addr(peer.Device.ID)
	assert.False(t, ok, "移除后地址登记应撤销")
}

func TestDiscoverySightingSupervisesPairedPeer(t *testing.T) {
	h := newHarness(t, "local-device-aaaa")
	peer := h.newPeer(t, "peer-device-bbbb")

	h.disc.push(types.DiscoveryEvent{
		Kind: types.DiscoveryPeerAdded,
		Peer: types.DiscoveredPeer{
			Device:      peer.dev,
			Host:        "192.168.1.23",
			Port:        8541,
			ServiceName: "syncboard-peer-dev._syncboard._tcp.local",
		},
	})

	assert.Eventually(t, func() bool {
		states := h.sup.Supervised()
		return len(states) == 1 && states[0] == peer.dev.ID
	}, 3*time.Second, 10*time.Millisecond, "已配对设备的目击应触发监督")
}

// ============================================================================
//                              出站同步
// ============================================================================

func TestSendSnapshotEncryptsAndSends(t *testing.T) {
	h := newHarness(t, "local-device-aaaa")
	peer := h.newPeer(t, "peer-device-bbbb")

	err := h.m.SendSnapshot(context.Background(), peer.dev.ID, testSnapshot("外发内容"))
	require.NoError(t, err)

	sent := h.dual.sentEnvelopes()
	require.Len(t, sent, 1)
	env := sent[0]
	assert.Equal(t, envelope.TypeClipboard, env.Type)
	assert.Equal(t, peer.dev.ID, env.Payload.Target)
	assert.Equal(t, h.dev.ID, env.Payload.DeviceID)
	assert.NotEmpty(t, env.Payload.Ciphertext)
	assert.NotContains(t, string(env.Payload.Ciphertext), "外发内容", "内容不应以明文出现")
}

func TestSendSnapshotUnpairedTarget(t *testing.T) {
	h := newHarness(t, "local-device-aaaa")

	err := h.m.SendSnapshot(context.Background(), "unknown-device", testSnapshot("内容"))
	require.Error(t, err)
	assert.Empty(t, h.dual.sentEnvelopes())
}

func TestBroadcastAggregatesPartialFailures(t *testing.T) {
	h := newHarness(t, "local-device-aaaa")
	good := h.newPeer(t, "peer-device-bbbb")
	bad := h.newPeer(t, "peer-device-cccc")
	h.dual.errFor = map[types.DeviceID]error{bad.dev.ID: transport.ErrNoConnection}

	err := h.m.Broadcast(context.Background(), testSnapshot("广播内容"))
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 1, "只有失败设备贡献错误")
	assert.Contains(t, err.Error(), bad.dev.ID.Short())

	sent := h.dual.sentEnvelopes()
	require.Len(t, sent, 2, "失败不应阻止其余设备")
	targets := []types.DeviceID{sent[0].Payload.Target, sent[1].Payload.Target}
	assert.Contains(t, targets, good.dev.ID)
	assert.Contains(t, targets, bad.dev.ID)
}

func TestSyncClipboardBroadcastsCurrentContent(t *testing.T) {
	h := newHarness(t, "local-device-aaaa")
	peer := h.newPeer(t, "peer-device-bbbb")
	h.clip.current = testSnapshot("本机剪贴板内容")

	require.NoError(t, h.m.SyncClipboard(context.Background()))

	sent := h.dual.sentEnvelopes()
	require.Len(t, sent, 1)
	assert.Equal(t, peer.dev.ID, sent[0].Payload.Target)
}

func TestSyncClipboardWithoutCollaborator(t *testing.T) {
	h := newHarness(t, "local-device-aaaa", withoutClipboard())

	err := h.m.SyncClipboard(context.Background())
	require.ErrorIs(t, err, ErrNoClipboard)
}

// ============================================================================
//                              解除配对与查询
// ============================================================================

func TestUnpairRemovesDeviceCompletely(t *testing.T) {
	h := newHarness(t, "local-device-aaaa")
	peer := h.newPeer(t, "peer-device-bbbb")
	require.NoError(t, h.sup.Supervise(peer.dev.ID))

	require.NoError(t, h.m.Unpair(peer.dev.ID))

	assert.Empty(t, h.sup.Supervised())
	_, err := h.store.PairedDevice(peer.dev.ID)
	assert.ErrorIs(t, err, keystore.ErrNotPaired)
	assert.Contains(t, h.lan.disconnects, peer.dev.ID)

	// 幂等
	require.NoError(t, h.m.Unpair(peer.dev.ID))
}

func TestRoutesReflectsSupervisedStates(t *testing.T) {
	h := newHarness(t, "local-device-aaaa")
	peer := h.newPeer(t, "peer-device-bbbb")
	require.NoError(t, h.sup.Supervise(peer.dev.ID))

	assert.Eventually(t, func() bool {
		return h.m.Routes()[peer.dev.ID] == types.RouteLAN
	}, 3*time.Second, 10*time.Millisecond, "拨号桩直连成功后路径应为 lan")
}

// ============================================================================
//                              监督器回调
// ============================================================================

func TestStateChangeEmitsLifecycleEvents(t *testing.T) {
	h := newHarness(t, "local-device-aaaa")
	peer := h.newPeer(t, "peer-device-bbbb")
	online := subscribe(t, h.bus, new(types.EvtDeviceOnline))
	offline := subscribe(t, h.bus, new(types.EvtDeviceOffline))
	routed := subscribe(t, h.bus, new(types.EvtRouteChanged))

	h.m.handleStateChange(peer.dev.ID, types.LinkConnectingLAN, types.LinkConnectedLAN)
	ev := waitEvent(t, online).(types.EvtDeviceOnline)
	assert.Equal(t, peer.dev.ID, ev.DeviceID)
	assert.Equal(t, types.RouteLAN, ev.Route)

	// 连上后最近路径异步落盘
	assert.Eventually(t, func() bool {
		rec, err := h.store.PairedDevice(peer.dev.ID)
		return err == nil && rec.LastRoute == types.RouteLAN
	}, 3*time.Second, 10*time.Millisecond)

	h.m.handleStateChange(peer.dev.ID, types.LinkConnectedLAN, types.LinkConnectedCloud)
	rc := waitEvent(t, routed).(types.EvtRouteChanged)
	assert.Equal(t, types.RouteLAN, rc.Old)
	assert.Equal(t, types.RouteCloud, rc.New)

	h.m.handleStateChange(peer.dev.ID, types.LinkConnectedCloud, types.LinkConnectingLAN)
	off := waitEvent(t, offline).(types.EvtDeviceOffline)
	assert.Equal(t, peer.dev.ID, off.DeviceID)
	assert.Equal(t, "connecting_lan", off.Reason)
}

func TestFallbackEmitsEvent(t *testing.T) {
	h := newHarness(t, "local-device-aaaa")
	sub := subscribe(t, h.bus, new(types.EvtTransportFallback))

	h.m.handleFallback("peer-device-bbbb", types.FallbackLANTimeout)

	ev := waitEvent(t, sub).(types.EvtTransportFallback)
	assert.Equal(t, types.DeviceID("peer-device-bbbb"), ev.DeviceID)
	assert.Equal(t, types.FallbackLANTimeout, ev.Reason)
}

// ============================================================================
//                              生命周期
// ============================================================================

func TestStopIsIdempotent(t *testing.T) {
	h := newHarness(t, "local-device-aaaa")

	require.NoError(t, h.m.Stop())
	require.NoError(t, h.m.Stop())

	err := h.m.SendSnapshot(context.Background(), "peer", testSnapshot("内容"))
	assert.ErrorIs(t, err, ErrManagerClosed)
}
