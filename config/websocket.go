// Package config 提供统一的配置管理
package config

import (
	"fmt"
	"time"
)

// WebSocketConfig WebSocket 协议引擎配置
//
// 协议引擎自带最小化的 RFC 6455 实现：
// 握手、分帧、ping/pong 心跳与 close 握手，不含扩展与子协议。
type WebSocketConfig struct {
	// ListenHost 服务端监听地址
	// 默认值: 0.0.0.0
	ListenHost string `json:"listen_host"`

	// ListenPort 服务端监听端口，0 表示随机端口
	// 默认值: 8540
	ListenPort int `json:"listen_port"`

	// HandshakeTimeout 升级握手超时
	// 默认值: 10s
	HandshakeTimeout Duration `json:"handshake_timeout"`

	// EnableIdleHeartbeat 是否启用空闲心跳
	// 启用后连接定期发送 ping，超时未收到 pong 即断开
	// 默认值: true
	EnableIdleHeartbeat bool `json:"enable_idle_heartbeat"`

	// PingInterval 空闲心跳的 ping 发送间隔
	// 默认值: 30s
	PingInterval Duration `json:"ping_interval"`

	// PongTimeout 自上次 pong 起允许的最大静默时长
	// 超过即认为对端失联并断开连接
	// 默认值: 75s
	PongTimeout Duration `json:"pong_timeout"`

	// WriteTimeout 单帧写入的网络超时
	// 默认值: 10s
	WriteTimeout Duration `json:"write_timeout"`

	// ReadBufferSize 单次网络读取的缓冲区大小
	// 默认值: 32 KiB
	ReadBufferSize int `json:"read_buffer_size"`

	// MaxMessageSize 单条 WebSocket 消息的最大字节数
	// 默认值: 8 MiB（需大于 FrameConfig.MaxFrameSize 加上帧头）
	MaxMessageSize int64 `json:"max_message_size"`
}

// DefaultWebSocketConfig 返回默认 WebSocket 配置
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		ListenHost:          "0.0.0.0",
		ListenPort:          8540,
		HandshakeTimeout:    Duration(10 * time.Second),
		EnableIdleHeartbeat: true,
		PingInterval:        Duration(30 * time.Second),
		PongTimeout:         Duration(75 * time.Second),
		WriteTimeout:        Duration(10 * time.Second),
		ReadBufferSize:      32 * 1024,
		MaxMessageSize:      8 * 1024 * 1024,
	}
}

// Validate 验证 WebSocket 配置的有效性
func (c *WebSocketConfig) Validate() error {
	if c.ListenPort < 0 || c.ListenPort > 65535 {
		return fmt.Errorf("websocket: listen_port out of range: %d", c.ListenPort)
	}
	if c.EnableIdleHeartbeat {
		if c.PingInterval.Duration() <= 0 {
			return fmt.Errorf("websocket: ping_interval must be positive")
		}
		if c.PongTimeout.Duration() <= c.PingInterval.Duration() {
			return fmt.Errorf("websocket: pong_timeout must be greater than ping_interval")
		}
	}
	if c.ReadBufferSize < 512 {
		return fmt.Errorf("websocket: read_buffer_size must be >= 512, got %d", c.ReadBufferSize)
	}
	if c.MaxMessageSize < 1024 {
		return fmt.Errorf("websocket: max_message_size must be >= 1024, got %d", c.MaxMessageSize)
	}
	return nil
}
