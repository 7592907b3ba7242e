// Package config 提供统一的配置管理
package config

import (
	"fmt"
	"time"
)

// RelayConfig 云端中继配置
//
// 客户端与中继服务端共用本配置：客户端读取 Endpoint，
// 服务端读取监听地址与各类生命周期参数。
type RelayConfig struct {
	// Endpoint 中继 HTTP API 的基地址
	// 例如 "https://relay.example.com"，为空时禁用远程配对
	Endpoint string `json:"endpoint"`

	// RequestTimeout 单次中继 HTTP 请求超时
	// 默认值: 10s
	RequestTimeout Duration `json:"request_timeout"`

	// ListenAddr 中继服务端监听地址（仅服务端使用）
	// 默认值: :8541
	ListenAddr string `json:"listen_addr"`

	// CodeLength 配对短码位数
	// 默认值: 6
	CodeLength int `json:"code_length"`

	// CodeTTL 配对短码的有效期
	// 默认值: 5m
	CodeTTL Duration `json:"code_ttl"`

	// MailboxTTL 挑战/应答信箱的有效期
	// 默认值: 10m
	MailboxTTL Duration `json:"mailbox_ttl"`

	// CleanupInterval 过期短码与信箱的清理周期（仅服务端使用）
	// 默认值: 1m
	CleanupInterval Duration `json:"cleanup_interval"`
}

// DefaultRelayConfig 返回默认中继配置
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		Endpoint:        "",
		RequestTimeout:  Duration(10 * time.Second),
		ListenAddr:      ":8541",
		CodeLength:      6,
		CodeTTL:         Duration(5 * time.Minute),
		MailboxTTL:      Duration(10 * time.Minute),
		CleanupInterval: Duration(1 * time.Minute),
	}
}

// Validate 验证中继配置的有效性
func (c *RelayConfig) Validate() error {
	if c.CodeLength < 4 || c.CodeLength > 12 {
		return fmt.Errorf("relay: code_length must be in [4, 12], got %d", c.CodeLength)
	}
	if c.CodeTTL.Duration() <= 0 {
		return fmt.Errorf("relay: code_ttl must be positive")
	}
	if c.MailboxTTL.Duration() < c.CodeTTL.Duration() {
		return fmt.Errorf("relay: mailbox_ttl must be >= code_ttl")
	}
	if c.RequestTimeout.Duration() <= 0 {
		return fmt.Errorf("relay: request_timeout must be positive")
	}
	return nil
}
