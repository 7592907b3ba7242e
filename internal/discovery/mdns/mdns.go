// Package mdns 基于组播 DNS 在局域网内发现运行中的同步节点。
//
// 每个节点以 "_syncboard._tcp" 服务实例的形式广播自身, TXT 记录携带
// 设备标识、名称与平台。浏览循环周期性查询同一服务类型, 维护一张
// 按 TTL 过期的目击表, 并将新增/离线变化以 DiscoveryEvent 推送给
// 订阅方。浏览函数可注入, 便于在无组播环境下测试目击表逻辑。
package mdns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/mdns"

	"github.com/syncboard/go-syncboard/config"
	"github.com/syncboard/go-syncboard/pkg/lib/log"
	"github.com/syncboard/go-syncboard/pkg/types"
)

var logger = log.Logger("discovery/mdns")

// ============================================================================
// 错误定义
// ============================================================================

var (
	// ErrAlreadyStarted 服务已启动
	ErrAlreadyStarted = errors.New("mdns service already started")
)

const (
	// instancePrefix 服务实例名前缀
	instancePrefix = "syncboard-"

	// browseTimeout 单次组播查询的等待时长
	browseTimeout = 10 * time.Second

	// eventBuffer 事件通道缓冲大小
	eventBuffer = 32

	// entryBuffer 单次浏览接收条目的缓冲大小
	entryBuffer = 64
)

// ServiceInstanceName 返回设备在局域网发现中的完整服务实例名
//
// 与浏览结果的 ServiceName 同形，配对载荷用它通告本机、
// 响应方用它在发现结果中定位发起方。
func ServiceInstanceName(device types.DeviceID, cfg config.DiscoveryConfig) string {
	name := instancePrefix + device.Short() + "." + cfg.ServiceType + "." + cfg.Domain
	return strings.TrimSuffix(name, ".")
}

// browseFunc 执行一次服务浏览, 把发现的条目写入 params.Entries。
// 生产实现是 mdns.Query; 测试可注入假实现。
type browseFunc func(params *mdns.QueryParam) error

// ============================================================================
// 目击表
// ============================================================================

// sighting 一次目击到的对端及其最后出现时间
type sighting struct {
	peer     types.DiscoveredPeer
	lastSeen time.Time
}

// ============================================================================
// 服务实现
// ============================================================================

// Service 局域网 mDNS 发现服务
type Service struct {
	cfg      config.DiscoveryConfig
	device   types.DeviceInfo
	port     int
	clock    clock.Clock
	browse   browseFunc
	announce func() error

	server *mdns.Server

	mu        sync.Mutex
	started   bool
	stopped   bool
	sightings map[types.DeviceID]*sighting

	events chan types.DiscoveryEvent
	cancel context.CancelFunc
	done   chan struct{}
}

// NewService 创建 mDNS 发现服务
//
// device 为本机设备信息, port 为对外通告的传输监听端口。
func NewService(cfg config.DiscoveryConfig, device types.DeviceInfo, port int) *Service {
	s := &Service{
		cfg:       cfg,
		device:    device,
		port:      port,
		clock:     clock.New(),
		browse:    mdns.Query,
		sightings: make(map[types.DeviceID]*sighting),
		events:    make(chan types.DiscoveryEvent, eventBuffer),
	}
	s.announce = s.startServer
	return s
}

// Start 启动广播与浏览循环
//
// 服务生命周期由 Stop 结束, 与传入 ctx 无关。
func (s *Service) Start(_ context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	if err := s.announce(); err != nil {
		// 广播失败不阻止浏览: 仍可发现其他节点
		logger.Warn("mDNS 广播启动失败", "error", err)
	}

	go s.browseLoop(runCtx)

	logger.Info("mDNS 发现服务已启动",
		"service", s.cfg.ServiceType,
		"device", s.device.ID,
		"port", s.port)
	return nil
}

// Stop 停止服务并关闭事件通道
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()
	<-done

	if s.server != nil {
		if err := s.server.Shutdown(); err != nil {
			logger.Warn("mDNS 广播关闭失败", "error", err)
		}
	}

	close(s.events)
	logger.Info("mDNS 发现服务已停止")
	return nil
}

// Events 返回发现事件通道
//
// 通道在 Stop 后关闭。消费方处理过慢时事件会被丢弃而非阻塞浏览循环。
func (s *Service) Events() <-chan types.DiscoveryEvent {
	return s.events
}

// InstanceName 返回本机通告的完整服务实例名
func (s *Service) InstanceName() string {
	return ServiceInstanceName(s.device.ID, s.cfg)
}

// ============================================================================
// 广播
// ============================================================================

// startServer 以服务实例形式广播本机
func (s *Service) startServer() error {
	ips, err := localIPs()
	if err != nil {
		return fmt.Errorf("enumerate local addresses: %w", err)
	}

	txt := []string{
		"id=" + s.device.ID.String(),
		"name=" + s.device.Name,
		"platform=" + string(s.device.Platform),
	}

	instance := instancePrefix + s.device.ID.Short()
	service, err := mdns.NewMDNSService(instance, s.cfg.ServiceType, s.cfg.Domain, "", s.port, ips, txt)
	if err != nil {
		return fmt.Errorf("build mdns service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("start mdns server: %w", err)
	}
	s.server = server
	return nil
}

// localIPs 枚举可通告的本机单播地址, 优先私网 IPv4
func localIPs() ([]net.IP, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, err
	}

	var ips []net.IP
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		ip := ipNet.IP
		if ip.To4() == nil || !ip.IsPrivate() {
			continue
		}
		ips = append(ips, ip)
	}
	if len(ips) == 0 {
		return nil, errors.New("no private ipv4 address available")
	}

	// 192.168.x 通常是真实局域网段, 排在容器网段之前
	sort.SliceStable(ips, func(i, j int) bool {
		return ipScore(ips[i]) > ipScore(ips[j])
	})
	return ips, nil
}

func ipScore(ip net.IP) int {
	v4 := ip.To4()
	switch {
	case v4[0] == 192 && v4[1] == 168:
		return 2
	case v4[0] == 10:
		return 1
	default:
		return 0
	}
}

// ============================================================================
// 浏览循环
// ============================================================================

// browseLoop 周期性浏览服务并维护目击表
func (s *Service) browseLoop(ctx context.Context) {
	defer close(s.done)

	// 启动后立即浏览一次, 不等第一个周期
	s.browseOnce(ctx)
	s.expirePeers()

	ticker := s.clock.Ticker(s.cfg.BrowseInterval.Duration())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.browseOnce(ctx)
			s.expirePeers()
		}
	}
}

// browseOnce 执行一次服务浏览, 处理返回的全部条目
func (s *Service) browseOnce(ctx context.Context) {
	entries := make(chan *mdns.ServiceEntry, entryBuffer)
	collected := make(chan struct{})

	go func() {
		defer close(collected)
		for entry := range entries {
			select {
			case <-ctx.Done():
				return
			default:
			}
			s.handleEntry(entry)
		}
	}()

	params := &mdns.QueryParam{
		Service:             s.cfg.ServiceType,
		Domain:              s.cfg.Domain,
		Timeout:             browseTimeout,
		Entries:             entries,
		WantUnicastResponse: true,
		DisableIPv6:         true,
	}
	if err := s.browse(params); err != nil {
		logger.Warn("mDNS 浏览失败", "error", err)
	}
	close(entries)
	<-collected
}

// handleEntry 处理一条浏览结果
func (s *Service) handleEntry(entry *mdns.ServiceEntry) {
	peer, ok := parseEntry(entry)
	if !ok {
		return
	}
	if peer.Device.ID == s.device.ID {
		// 自身广播
		return
	}

	now := s.clock.Now()

	s.mu.Lock()
	prev, known := s.sightings[peer.Device.ID]
	if known {
		prev.lastSeen = now
		if prev.peer.Host == peer.Host && prev.peer.Port == peer.Port {
			// 重复目击, 仅刷新时间
			s.mu.Unlock()
			return
		}
		// 端点变化: 以新地址重新通告
		prev.peer = peer
		s.mu.Unlock()
		logger.Info("对端地址变化",
			"device", peer.Device.ID,
			"host", peer.Host,
			"port", peer.Port)
		s.emit(types.DiscoveryEvent{Kind: types.DiscoveryPeerAdded, Peer: peer})
		return
	}

	s.sightings[peer.Device.ID] = &sighting{peer: peer, lastSeen: now}
	s.mu.Unlock()

	logger.Info("发现对端",
		"device", peer.Device.ID,
		"name", peer.Device.Name,
		"host", peer.Host,
		"port", peer.Port)
	s.emit(types.DiscoveryEvent{Kind: types.DiscoveryPeerAdded, Peer: peer})
}

// expirePeers 移除超过 TTL 未再目击的对端
func (s *Service) expirePeers() {
	cutoff := s.clock.Now().Add(-s.cfg.PeerTTL.Duration())

	s.mu.Lock()
	var removed []types.DiscoveredPeer
	for id, sight := range s.sightings {
		if sight.lastSeen.Before(cutoff) {
			removed = append(removed, sight.peer)
			delete(s.sightings, id)
		}
	}
	s.mu.Unlock()

	for _, peer := range removed {
		logger.Info("对端目击过期", "device", peer.Device.ID, "service", peer.ServiceName)
		s.emit(types.DiscoveryEvent{Kind: types.DiscoveryPeerRemoved, ServiceName: peer.ServiceName})
	}
}

// emit 非阻塞投递事件, 通道满时丢弃
func (s *Service) emit(ev types.DiscoveryEvent) {
	select {
	case s.events <- ev:
	default:
		logger.Warn("发现事件通道已满, 丢弃事件",
			"kind", ev.Kind,
			"device", ev.Peer.Device.ID)
	}
}

// ============================================================================
// 条目解析
// ============================================================================

// parseEntry 把浏览条目转换为 DiscoveredPeer
//
// 条目必须携带 id= TXT 字段; name/platform 缺失时保留零值。
func parseEntry(entry *mdns.ServiceEntry) (types.DiscoveredPeer, bool) {
	if entry == nil {
		return types.DiscoveredPeer{}, false
	}

	var device types.DeviceInfo
	for _, field := range entry.InfoFields {
		key, value, found := strings.Cut(field, "=")
		if !found {
			continue
		}
		switch key {
		case "id":
			device.ID = types.DeviceID(value)
		case "name":
			device.Name = value
		case "platform":
			device.Platform = types.Platform(value)
		}
	}
	if device.ID.Empty() {
		return types.DiscoveredPeer{}, false
	}

	host := ""
	if entry.AddrV4 != nil {
		host = entry.AddrV4.String()
	} else if entry.AddrV6 != nil {
		host = entry.AddrV6.String()
	} else if entry.Host != "" {
		host = strings.TrimSuffix(entry.Host, ".")
	}
	if host == "" {
		return types.DiscoveredPeer{}, false
	}

	return types.DiscoveredPeer{
		Device:      device,
		Host:        host,
		Port:        entry.Port,
		ServiceName: strings.TrimSuffix(entry.Name, "."),
	}, true
}

var _ types.DiscoveryService = (*Service)(nil)
