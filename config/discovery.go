// Package config 提供统一的配置管理
package config

import (
	"fmt"
	"strings"
	"time"
)

// DiscoveryConfig 局域网发现配置
type DiscoveryConfig struct {
	// EnableMDNS 是否启用 mDNS 发现
	// 默认值: true
	EnableMDNS bool `json:"enable_mdns"`

	// ServiceType mDNS 服务类型
	// 默认值: _syncboard._tcp
	ServiceType string `json:"service_type"`

	// Domain mDNS 域
	// 默认值: local.
	Domain string `json:"domain"`

	// BrowseInterval 主动浏览周期
	// 默认值: 30s
	BrowseInterval Duration `json:"browse_interval"`

	// PeerTTL 未再次出现的设备被判定消失的时长
	// 默认值: 90s
	PeerTTL Duration `json:"peer_ttl"`
}

// DefaultDiscoveryConfig 返回默认发现配置
func DefaultDiscoveryConfig() DiscoveryConfig {
	return DiscoveryConfig{
		EnableMDNS:     true,
		ServiceType:    "_syncboard._tcp",
		Domain:         "local.",
		BrowseInterval: Duration(30 * time.Second),
		PeerTTL:        Duration(90 * time.Second),
	}
}

// Validate 验证发现配置的有效性
func (c *DiscoveryConfig) Validate() error {
	if !c.EnableMDNS {
		return nil
	}
	if !strings.HasPrefix(c.ServiceType, "_") {
		return fmt.Errorf("discovery: service_type must start with underscore, got %q", c.ServiceType)
	}
	if c.BrowseInterval.Duration() <= 0 {
		return fmt.Errorf("discovery: browse_interval must be positive")
	}
	if c.PeerTTL.Duration() <= c.BrowseInterval.Duration() {
		return fmt.Errorf("discovery: peer_ttl must be greater than browse_interval")
	}
	return nil
}
