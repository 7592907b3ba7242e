package config

// ============================================================================
//                              环境变量（供 CLI 使用）
// ============================================================================

// 环境变量前缀和名称常量（供 cmd 层使用）
const (
	// EnvPrefix 环境变量前缀
	EnvPrefix = "SYNCBOARD_"

	// EnvListenPort 监听端口
	EnvListenPort = "LISTEN_PORT"

	// EnvDeviceID 设备标识
	EnvDeviceID = "DEVICE_ID"

	// EnvDeviceName 设备名称
	EnvDeviceName = "DEVICE_NAME"

	// EnvDataDir 数据目录
	EnvDataDir = "DATA_DIR"

	// EnvRelayEndpoint 中继 HTTP API 端点
	EnvRelayEndpoint = "RELAY_ENDPOINT"

	// EnvCloudEndpoint 云中继 WebSocket 端点
	EnvCloudEndpoint = "CLOUD_ENDPOINT"

	// EnvEnableMDNS 启用 mDNS 发现
	EnvEnableMDNS = "ENABLE_MDNS"

	// EnvLogFile 日志文件路径
	EnvLogFile = "LOG_FILE"
)
