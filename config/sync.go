// Package config 提供统一的配置管理
package config

import (
	"fmt"
	"time"
)

// SyncConfig 同步引擎配置
//
// 双路径发送意味着每条消息可能到达两次，去重缓存
// 以消息 ID 和 (设备, nonce) 两个维度抑制重复应用。
type SyncConfig struct {
	// DedupTTL 消息 ID 去重缓存的条目存活时间
	// 默认值: 5m
	DedupTTL Duration `json:"dedup_ttl"`

	// DedupCapacity 消息 ID 去重缓存的最大条目数
	// 默认值: 1000
	DedupCapacity int `json:"dedup_capacity"`

	// PayloadCacheTTL 解密结果缓存的条目存活时间
	// 第二条路径的重复送达在此窗口内直接命中缓存，无需再次解密
	// 默认值: 30s
	PayloadCacheTTL Duration `json:"payload_cache_ttl"`

	// NonceCacheTTL (设备, nonce) 重放抑制缓存的条目存活时间
	// 默认值: 5m
	NonceCacheTTL Duration `json:"nonce_cache_ttl"`

	// NonceCacheCapacity (设备, nonce) 缓存的最大条目数
	// 默认值: 1000
	NonceCacheCapacity int `json:"nonce_cache_capacity"`
}

// DefaultSyncConfig 返回默认同步配置
func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		DedupTTL:           Duration(5 * time.Minute),
		DedupCapacity:      1000,
		PayloadCacheTTL:    Duration(30 * time.Second),
		NonceCacheTTL:      Duration(5 * time.Minute),
		NonceCacheCapacity: 1000,
	}
}

// Validate 验证同步配置的有效性
func (c *SyncConfig) Validate() error {
	if c.DedupTTL.Duration() <= 0 {
		return fmt.Errorf("sync: dedup_ttl must be positive")
	}
	if c.DedupCapacity < 1 {
		return fmt.Errorf("sync: dedup_capacity must be >= 1, got %d", c.DedupCapacity)
	}
	if c.PayloadCacheTTL.Duration() <= 0 {
		return fmt.Errorf("sync: payload_cache_ttl must be positive")
	}
	if c.NonceCacheTTL.Duration() <= 0 {
		return fmt.Errorf("sync: nonce_cache_ttl must be positive")
	}
	if c.NonceCacheCapacity < 1 {
		return fmt.Errorf("sync: nonce_cache_capacity must be >= 1, got %d", c.NonceCacheCapacity)
	}
	return nil
}
