// Package config 提供统一的配置管理
package config

import (
	"fmt"
)

// FrameConfig 消息信封编解码配置
type FrameConfig struct {
	// MaxFrameSize 信封体（JSON 序列化后）的最大字节数
	// 编码与解码两侧都会检查，超出即拒绝
	// 默认值: 4 MiB
	MaxFrameSize int `json:"max_frame_size"`

	// Version 信封协议版本号
	// 默认值: 1
	Version int `json:"version"`
}

// DefaultFrameConfig 返回默认信封配置
func DefaultFrameConfig() FrameConfig {
	return FrameConfig{
		MaxFrameSize: 4 * 1024 * 1024,
		Version:      1,
	}
}

// Validate 验证信封配置的有效性
func (c *FrameConfig) Validate() error {
	if c.MaxFrameSize < 1024 {
		return fmt.Errorf("frame: max_frame_size must be >= 1024, got %d", c.MaxFrameSize)
	}
	if c.Version < 1 {
		return fmt.Errorf("frame: version must be >= 1, got %d", c.Version)
	}
	return nil
}
