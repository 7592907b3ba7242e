// Package config 提供统一的配置管理
//
// 本包采用混合配置模式：
//   - 主 Config 结构体嵌入所有子配置
//   - 每个子配置在独立文件中定义
//   - 支持从 JSON 加载和保存配置
//
// 使用示例：
//
//	// 创建默认配置
//	cfg := config.NewConfig()
//	cfg.Identity.DeviceName = "工作台"
//	cfg.Transport.FallbackTimeout = config.Duration(5 * time.Second)
//
//	// 从 JSON 加载
//	cfg, err := config.FromJSON(data)
package config

// Config 是 SyncBoard 的完整配置结构
//
// 该结构体嵌入了所有组件的子配置，提供统一的配置接口。
// 配置按照功能模块组织：
//   - Identity: 本机设备身份
//   - Frame: 消息信封编解码
//   - WebSocket: WebSocket 协议引擎
//   - Transport: 双路径传输
//   - Supervisor: 连接监督与重连
//   - Pairing: 设备配对
//   - Sync: 同步引擎与去重
//   - Relay: 云端中继
//   - Discovery: 局域网发现
//   - Keystore: 密钥存储
//   - Metrics: 指标采集
type Config struct {
	// Identity 本机设备身份配置
	Identity IdentityConfig `json:"identity"`

	// Frame 消息信封编解码配置
	Frame FrameConfig `json:"frame"`

	// WebSocket WebSocket 协议引擎配置
	WebSocket WebSocketConfig `json:"websocket"`

	// Transport 双路径传输配置
	Transport TransportConfig `json:"transport"`

	// Supervisor 连接监督配置
	Supervisor SupervisorConfig `json:"supervisor"`

	// Pairing 设备配对配置
	Pairing PairingConfig `json:"pairing"`

	// Sync 同步引擎配置
	Sync SyncConfig `json:"sync"`

	// Relay 云端中继配置
	Relay RelayConfig `json:"relay"`

	// Discovery 局域网发现配置
	Discovery DiscoveryConfig `json:"discovery"`

	// Keystore 密钥存储配置
	Keystore KeystoreConfig `json:"keystore"`

	// Metrics 指标采集配置
	Metrics MetricsConfig `json:"metrics"`
}

// NewConfig 创建默认配置
//
// 返回的配置使用所有组件的默认值，适用于大多数场景。
// 可以通过修改字段或使用 Option 函数来定制配置。
func NewConfig() *Config {
	return &Config{
		Identity:   DefaultIdentityConfig(),
		Frame:      DefaultFrameConfig(),
		WebSocket:  DefaultWebSocketConfig(),
		Transport:  DefaultTransportConfig(),
		Supervisor: DefaultSupervisorConfig(),
		Pairing:    DefaultPairingConfig(),
		Sync:       DefaultSyncConfig(),
		Relay:      DefaultRelayConfig(),
		Discovery:  DefaultDiscoveryConfig(),
		Keystore:   DefaultKeystoreConfig(),
		Metrics:    DefaultMetricsConfig(),
	}
}

// Validate 验证配置的有效性
//
// 检查所有子配置是否有效，如果发现无效配置则返回错误。
// 建议在使用配置前调用此方法。
func (c *Config) Validate() error {
	if err := c.Identity.Validate(); err != nil {
		return err
	}
	if err := c.Frame.Validate(); err != nil {
		return err
	}
	if err := c.WebSocket.Validate(); err != nil {
		return err
	}
	if err := c.Transport.Validate(); err != nil {
		return err
	}
	if err := c.Supervisor.Validate(); err != nil {
		return err
	}
	if err := c.Pairing.Validate(); err != nil {
		return err
	}
	if err := c.Sync.Validate(); err != nil {
		return err
	}
	if err := c.Relay.Validate(); err != nil {
		return err
	}
	if err := c.Discovery.Validate(); err != nil {
		return err
	}
	if err := c.Keystore.Validate(); err != nil {
		return err
	}
	if err := c.Metrics.Validate(); err != nil {
		return err
	}
	return nil
}
