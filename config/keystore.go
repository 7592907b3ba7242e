// Package config 提供统一的配置管理
package config

import (
	"fmt"
	"time"
)

// KeystoreConfig 密钥存储配置
//
// 配对得到的共享密钥与已配对设备注册表落盘到 Badger，
// 密钥条目在写入前用本机主密钥二次封装。
type KeystoreConfig struct {
	// Path 存储目录，为空时使用纯内存存储（测试用）
	// 默认值: ~/.syncboard/keystore
	Path string `json:"path"`

	// InMemory 是否使用内存模式
	// 默认值: false
	InMemory bool `json:"in_memory"`

	// GCInterval Badger 值日志垃圾回收周期
	// 默认值: 10m
	GCInterval Duration `json:"gc_interval"`
}

// DefaultKeystoreConfig 返回默认密钥存储配置
func DefaultKeystoreConfig() KeystoreConfig {
	return KeystoreConfig{
		Path:       "",
		InMemory:   false,
		GCInterval: Duration(10 * time.Minute),
	}
}

// Validate 验证密钥存储配置的有效性
func (c *KeystoreConfig) Validate() error {
	if !c.InMemory && c.Path == "" {
		// 允许为空：运行时回退到用户目录
		return nil
	}
	if c.GCInterval.Duration() < time.Minute {
		return fmt.Errorf("keystore: gc_interval must be >= 1m")
	}
	return nil
}
