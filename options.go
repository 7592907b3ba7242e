package syncboard

import (
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/fx"

	"github.com/syncboard/go-syncboard/config"
	"github.com/syncboard/go-syncboard/pkg/types"
)

// Option 用户配置选项函数
type Option func(*options) error

// options 内部选项结构
type options struct {
	// 完整配置（WithConfig / WithConfigFile）
	config *config.Config

	// 身份覆盖
	deviceID   string
	deviceName string

	// 监听端口覆盖
	listenPort    *int
	listenPortSet bool

	// 端点覆盖
	cloudEndpoint string
	relayEndpoint string

	// 发现配置
	mdns *bool

	// 存储配置
	dataDir          string
	inMemoryKeystore bool

	// 指标配置
	metricsAddr string

	// 同步配置
	dedupTTL *time.Duration

	// 协作方注入
	clipboard types.ClipboardIO
	discovery types.DiscoveryService

	// 日志配置
	logFile string

	// 用户自定义 Fx 选项
	userFxOptions []fx.Option
}

// newOptions 创建默认选项
func newOptions() *options {
	return &options{}
}

// toConfig 把选项折叠为最终配置
//
// 覆盖顺序：默认配置 → WithConfig/WithConfigFile → 单项 WithXxx。
func (o *options) toConfig() *config.Config {
	cfg := o.config
	if cfg == nil {
		cfg = config.NewConfig()
	}

	if o.deviceID != "" {
		cfg.Identity.DeviceID = o.deviceID
	}
	if o.deviceName != "" {
		cfg.Identity.DeviceName = o.deviceName
	}
	if o.listenPortSet {
		cfg.WebSocket.ListenPort = *o.listenPort
	}
	if o.cloudEndpoint != "" {
		cfg.Transport.CloudEndpoint = o.cloudEndpoint
	}
	if o.relayEndpoint != "" {
		cfg.Relay.Endpoint = o.relayEndpoint
	}
	if o.mdns != nil {
		cfg.Discovery.EnableMDNS = *o.mdns
	}
	if o.dataDir != "" {
		cfg.Keystore.Path = filepath.Join(o.dataDir, "keystore")
	}
	if o.inMemoryKeystore {
		cfg.Keystore.InMemory = true
	}
	if o.metricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.ListenAddr = o.metricsAddr
	}
	if o.dedupTTL != nil {
		cfg.Sync.DedupTTL = config.Duration(*o.dedupTTL)
	}
	return cfg
}

// ============================================================================
//                              配置选项
// ============================================================================

// WithConfig 使用完整配置
//
// 配置会被单项 WithXxx 选项进一步覆盖。
func WithConfig(cfg *config.Config) Option {
	return func(o *options) error {
		if cfg == nil {
			return fmt.Errorf("配置不能为空")
		}
		o.config = cfg
		return nil
	}
}

// WithConfigFile 从 JSON 文件加载配置
func WithConfigFile(path string) Option {
	return func(o *options) error {
		if path == "" {
			return fmt.Errorf("配置文件路径不能为空")
		}
		cfg, err := config.FromFile(path)
		if err != nil {
			return fmt.Errorf("加载配置文件: %w", err)
		}
		o.config = cfg
		return nil
	}
}

// ============================================================================
//                              身份选项
// ============================================================================

// WithDeviceID 使用指定的设备标识
//
// 不设置时首次启动生成随机标识并持久化到数据目录。
func WithDeviceID(id string) Option {
	return func(o *options) error {
		if id == "" {
			return fmt.Errorf("设备标识不能为空")
		}
		o.deviceID = id
		return nil
	}
}

// WithDeviceName 设置用户可读的设备名称
//
//	syncboard.New(ctx, syncboard.WithDeviceName("工作机"))
func WithDeviceName(name string) Option {
	return func(o *options) error {
		if name == "" {
			return fmt.Errorf("设备名称不能为空")
		}
		o.deviceName = name
		return nil
	}
}

// ============================================================================
//                              监听与端点选项
// ============================================================================

// WithListenPort 设置 WebSocket 服务监听端口
//
// port=0 表示使用系统分配的随机端口，实际端口经
// Node.ListenPort() 查询，局域网发现会通告实际端口。
func WithListenPort(port int) Option {
	return func(o *options) error {
		if port < 0 || port > 65535 {
			return fmt.Errorf("无效的端口号: %d", port)
		}
		o.listenPort = &port
		o.listenPortSet = true
		return nil
	}
}

// WithCloudEndpoint 设置云端中继的 WebSocket 转发端点
//
// 例如 "wss://relay.example.com/ws"。为空时云路径禁用，
// 仅局域网直连可用。
func WithCloudEndpoint(endpoint string) Option {
	return func(o *options) error {
		if endpoint == "" {
			return fmt.Errorf("云端点不能为空")
		}
		o.cloudEndpoint = endpoint
		return nil
	}
}

// WithRelayEndpoint 设置云端中继的 HTTP API 端点
//
// 例如 "https://relay.example.com"。为空时远程配对禁用，
// 仅本地扫码配对可用。
func WithRelayEndpoint(endpoint string) Option {
	return func(o *options) error {
		if endpoint == "" {
			return fmt.Errorf("中继端点不能为空")
		}
		o.relayEndpoint = endpoint
		return nil
	}
}

// ============================================================================
//                              发现选项
// ============================================================================

// WithMDNS 开关局域网 mDNS 发现
func WithMDNS(enable bool) Option {
	return func(o *options) error {
		o.mdns = &enable
		return nil
	}
}

// WithDiscovery 使用自定义发现服务
//
// 替代内建 mDNS。服务的生命周期由节点托管：节点启动时
// Start、停止时 Stop。
func WithDiscovery(svc types.DiscoveryService) Option {
	return func(o *options) error {
		if svc == nil {
			return fmt.Errorf("发现服务不能为空")
		}
		o.discovery = svc
		return nil
	}
}

// ============================================================================
//                              存储选项
// ============================================================================

// WithDataDir 设置数据目录
//
// 密钥存储与设备标识等持久化状态都落在该目录下。
func WithDataDir(dir string) Option {
	return func(o *options) error {
		if dir == "" {
			return fmt.Errorf("数据目录不能为空")
		}
		o.dataDir = dir
		return nil
	}
}

// WithInMemoryKeystore 使用内存密钥存储
//
// 进程退出即丢失全部配对，仅用于测试与一次性会话。
func WithInMemoryKeystore() Option {
	return func(o *options) error {
		o.inMemoryKeystore = true
		return nil
	}
}

// ============================================================================
//                              协作方选项
// ============================================================================

// WithClipboard 接入系统剪贴板实现
//
// 不接入时 SyncClipboard 不可用，入站内容只派发事件，
// 适合把节点当纯传输引擎嵌入的场景。
func WithClipboard(clip types.ClipboardIO) Option {
	return func(o *options) error {
		if clip == nil {
			return fmt.Errorf("剪贴板实现不能为空")
		}
		o.clipboard = clip
		return nil
	}
}

// ============================================================================
//                              观测选项
// ============================================================================

// WithMetrics 在指定地址暴露 Prometheus 指标端点
//
//	syncboard.New(ctx, syncboard.WithMetrics("127.0.0.1:9090"))
func WithMetrics(addr string) Option {
	return func(o *options) error {
		if addr == "" {
			return fmt.Errorf("指标监听地址不能为空")
		}
		o.metricsAddr = addr
		return nil
	}
}

// WithLogFile 把日志写入指定文件
func WithLogFile(path string) Option {
	return func(o *options) error {
		if path == "" {
			return fmt.Errorf("日志文件路径不能为空")
		}
		o.logFile = path
		return nil
	}
}

// ============================================================================
//                              同步选项
// ============================================================================

// WithDedupTTL 设置去重窗口时长
//
// 双路径冗余送达的第二份拷贝在窗口内被丢弃。
func WithDedupTTL(ttl time.Duration) Option {
	return func(o *options) error {
		if ttl <= 0 {
			return fmt.Errorf("去重窗口必须为正: %v", ttl)
		}
		o.dedupTTL = &ttl
		return nil
	}
}

// ============================================================================
//                              扩展选项
// ============================================================================

// WithFxOption 追加自定义 Fx 选项
//
// 留给测试与高级用户注入替身组件，常规使用不需要。
func WithFxOption(opts ...fx.Option) Option {
	return func(o *options) error {
		o.userFxOptions = append(o.userFxOptions, opts...)
		return nil
	}
}
