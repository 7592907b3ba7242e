// Package config 提供统一的配置管理
package config

import (
	"fmt"
	"time"
)

// SupervisorConfig 连接监督配置
//
// 监督器为每台已配对设备维护链路状态机：
// 心跳保活、失败检测与指数退避重连。
type SupervisorConfig struct {
	// HeartbeatInterval 心跳发送间隔
	// 默认值: 15s
	HeartbeatInterval Duration `json:"heartbeat_interval"`

	// AckTimeout 单次心跳等待确认的超时
	// 默认值: 5s
	AckTimeout Duration `json:"ack_timeout"`

	// MaxMissedAcks 触发重连的连续心跳丢失次数
	// 默认值: 3
	MaxMissedAcks int `json:"max_missed_acks"`

	// InitialBackoff 重连退避的初始间隔
	// 默认值: 1s
	InitialBackoff Duration `json:"initial_backoff"`

	// MaxBackoff 重连退避的上限
	// 默认值: 60s
	MaxBackoff Duration `json:"max_backoff"`

	// Jitter 退避抖动上限，实际等待加入 [0, Jitter) 的均匀随机量
	// 默认值: 500ms
	Jitter Duration `json:"jitter"`

	// MaxAttempts 单轮重连的最大尝试次数，超过即放弃并标记 Failed
	// 默认值: 10
	MaxAttempts int `json:"max_attempts"`
}

// DefaultSupervisorConfig 返回默认监督配置
func DefaultSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		HeartbeatInterval: Duration(15 * time.Second),
		AckTimeout:        Duration(5 * time.Second),
		MaxMissedAcks:     3,
		InitialBackoff:    Duration(1 * time.Second),
		MaxBackoff:        Duration(60 * time.Second),
		Jitter:            Duration(500 * time.Millisecond),
		MaxAttempts:       10,
	}
}

// Validate 验证监督配置的有效性
func (c *SupervisorConfig) Validate() error {
	if c.HeartbeatInterval.Duration() <= 0 {
		return fmt.Errorf("supervisor: heartbeat_interval must be positive")
	}
	if c.AckTimeout.Duration() <= 0 {
		return fmt.Errorf("supervisor: ack_timeout must be positive")
	}
	if c.MaxMissedAcks < 1 {
		return fmt.Errorf("supervisor: max_missed_acks must be >= 1, got %d", c.MaxMissedAcks)
	}
	if c.InitialBackoff.Duration() <= 0 {
		return fmt.Errorf("supervisor: initial_backoff must be positive")
	}
	if c.MaxBackoff.Duration() < c.InitialBackoff.Duration() {
		return fmt.Errorf("supervisor: max_backoff must be >= initial_backoff")
	}
	if c.Jitter.Duration() < 0 {
		return fmt.Errorf("supervisor: jitter must not be negative")
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("supervisor: max_attempts must be >= 1, got %d", c.MaxAttempts)
	}
	return nil
}
