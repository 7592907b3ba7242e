// Package config 提供统一的配置管理
package config

import (
	"fmt"
	"os"
)

// IdentityConfig 本机设备身份配置
//
// 设备标识是整个协议的信任锚点：它既是 WebSocket 握手中
// 声明的身份，也是信封加密的附加认证数据。
type IdentityConfig struct {
	// DeviceID 设备唯一标识
	// 为空时在首次启动生成随机标识并持久化
	DeviceID string `json:"device_id"`

	// DeviceName 用户可读的设备名称
	// 默认值: 主机名
	DeviceName string `json:"device_name"`

	// DevicePlatform 设备平台（macos/windows/linux/ios/android）
	// 默认值: 按运行平台推断
	DevicePlatform string `json:"device_platform,omitempty"`
}

// DefaultIdentityConfig 返回默认身份配置
func DefaultIdentityConfig() IdentityConfig {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "syncboard"
	}
	return IdentityConfig{
		DeviceID:   "",
		DeviceName: hostname,
	}
}

// Validate 验证身份配置的有效性
func (c *IdentityConfig) Validate() error {
	if len(c.DeviceID) > 128 {
		return fmt.Errorf("identity: device_id too long (%d > 128)", len(c.DeviceID))
	}
	return nil
}
