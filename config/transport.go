// Package config 提供统一的配置管理
package config

import (
	"fmt"
	"time"
)

// TransportConfig 双路径传输配置
//
// 每条消息同时经局域网直连和云端中继两条路径发送，
// 局域网路径受显式超时约束，云端路径跟随请求上下文。
type TransportConfig struct {
	// FallbackTimeout 局域网路径的发送超时
	// 超时即判定局域网路径失败（回退原因 lanTimeout）
	// 默认值: 3s
	FallbackTimeout Duration `json:"fallback_timeout"`

	// DialTimeout 建立对端连接的拨号超时
	// 默认值: 10s
	DialTimeout Duration `json:"dial_timeout"`

	// CloudEndpoint 云端中继的 WebSocket 端点
	// 例如 "wss://relay.example.com/ws"，为空时禁用云端路径
	CloudEndpoint string `json:"cloud_endpoint"`

	// WriteTimeout 单帧写入超时
	// 默认值: 10s
	WriteTimeout Duration `json:"write_timeout"`
}

// DefaultTransportConfig 返回默认传输配置
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		FallbackTimeout: Duration(3 * time.Second),
		DialTimeout:     Duration(10 * time.Second),
		CloudEndpoint:   "",
		WriteTimeout:    Duration(10 * time.Second),
	}
}

// Validate 验证传输配置的有效性
func (c *TransportConfig) Validate() error {
	if c.FallbackTimeout.Duration() <= 0 {
		return fmt.Errorf("transport: fallback_timeout must be positive")
	}
	if c.DialTimeout.Duration() <= 0 {
		return fmt.Errorf("transport: dial_timeout must be positive")
	}
	return nil
}
