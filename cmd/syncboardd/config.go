package main

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/syncboard/go-syncboard/config"
)

// ============================================================================
//                              配置加载（CLI 专用）
// ============================================================================

// loadConfig 加载配置
//
// 未指定配置文件时返回内置默认配置。
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.NewConfig(), nil
	}
	return config.FromFile(path)
}

// applyEnvOverrides 应用环境变量覆盖配置
//
// 环境变量优先级高于配置文件，但低于命令行参数。
// 支持的环境变量（均使用 SYNCBOARD_ 前缀）：
//   - SYNCBOARD_LISTEN_PORT: 监听端口
//   - SYNCBOARD_DEVICE_ID: 设备标识
//   - SYNCBOARD_DEVICE_NAME: 设备名称
//   - SYNCBOARD_DATA_DIR: 数据目录
//   - SYNCBOARD_RELAY_ENDPOINT: 中继 HTTP API 端点
//   - SYNCBOARD_CLOUD_ENDPOINT: 云中继 WebSocket 端点
//   - SYNCBOARD_ENABLE_MDNS: 启用 mDNS 发现
//   - SYNCBOARD_LOG_FILE: 日志文件路径
func applyEnvOverrides(cfg *config.Config) {
	// SYNCBOARD_LISTEN_PORT
	if v := os.Getenv(config.EnvPrefix + config.EnvListenPort); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.WebSocket.ListenPort = port
		}
	}

	// SYNCBOARD_DEVICE_ID
	if v := os.Getenv(config.EnvPrefix + config.EnvDeviceID); v != "" {
		cfg.Identity.DeviceID = v
	}

	// SYNCBOARD_DEVICE_NAME
	if v := os.Getenv(config.EnvPrefix + config.EnvDeviceName); v != "" {
		cfg.Identity.DeviceName = v
	}

	// SYNCBOARD_DATA_DIR（密钥库随数据目录走）
	if v := os.Getenv(config.EnvPrefix + config.EnvDataDir); v != "" {
		cfg.Keystore.Path = filepath.Join(v, "keystore")
	}

	// SYNCBOARD_RELAY_ENDPOINT
	if v := os.Getenv(config.EnvPrefix + config.EnvRelayEndpoint); v != "" {
		cfg.Relay.Endpoint = v
	}

	// SYNCBOARD_CLOUD_ENDPOINT
	if v := os.Getenv(config.EnvPrefix + config.EnvCloudEndpoint); v != "" {
		cfg.Transport.CloudEndpoint = v
	}

	// SYNCBOARD_ENABLE_MDNS
	if v := os.Getenv(config.EnvPrefix + config.EnvEnableMDNS); v != "" {
		cfg.Discovery.EnableMDNS = parseBool(v)
	}
}

// getLogFileFromEnv 从环境变量获取日志文件路径
func getLogFileFromEnv() string {
	return os.Getenv(config.EnvPrefix + config.EnvLogFile)
}

// ============================================================================
//                              辅助函数
// ============================================================================

// parseBool 解析布尔值字符串
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}
