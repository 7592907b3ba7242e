// Package config 提供统一的配置管理
package config

import (
	"fmt"
	"time"
)

// PairingConfig 设备配对配置
//
// 本地配对通过带外展示的载荷（扫码/复制）交换公钥，
// 远程配对通过中继短码协调双方。两种模式共用同一套
// 挑战/应答验证参数。
type PairingConfig struct {
	// PayloadValidity 配对载荷的有效期
	// 超过 expiresAt 的载荷直接拒绝
	// 默认值: 5m
	PayloadValidity Duration `json:"payload_validity"`

	// ChallengeTolerance 挑战时间戳相对本机时钟允许的最大偏差
	// 默认值: 2m
	ChallengeTolerance Duration `json:"challenge_tolerance"`

	// PollInterval 远程配对轮询中继的固定间隔
	// 默认值: 2s
	PollInterval Duration `json:"poll_interval"`

	// ServiceName 本地配对载荷中通告的服务名
	// 发现服务报告自己的实例名时以后者为准，本值仅作兜底
	// 默认值: syncboard
	ServiceName string `json:"service_name"`
}

// DefaultPairingConfig 返回默认配对配置
func DefaultPairingConfig() PairingConfig {
	return PairingConfig{
		PayloadValidity:    Duration(5 * time.Minute),
		ChallengeTolerance: Duration(2 * time.Minute),
		PollInterval:       Duration(2 * time.Second),
		ServiceName:        "syncboard",
	}
}

// Validate 验证配对配置的有效性
func (c *PairingConfig) Validate() error {
	if c.PayloadValidity.Duration() <= 0 {
		return fmt.Errorf("pairing: payload_validity must be positive")
	}
	if c.ChallengeTolerance.Duration() <= 0 {
		return fmt.Errorf("pairing: challenge_tolerance must be positive")
	}
	if c.PollInterval.Duration() < 100*time.Millisecond {
		return fmt.Errorf("pairing: poll_interval must be >= 100ms")
	}
	return nil
}
