// Package config 提供统一的配置管理
package config

import (
	"fmt"
)

// MetricsConfig 指标采集配置
//
// 双路径发送结果、回退事件、重连与配对结果都会上报
// Prometheus 指标，供观测侧拉取。
type MetricsConfig struct {
	// Enabled 是否启用指标采集
	// 默认值: true
	Enabled bool `json:"enabled"`

	// ListenAddr /metrics 端点监听地址，为空时不暴露 HTTP 端点
	// 默认值: ""（仅注册指标，不开端口）
	ListenAddr string `json:"listen_addr"`

	// Namespace 指标命名空间前缀
	// 默认值: syncboard
	Namespace string `json:"namespace"`
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:    true,
		ListenAddr: "",
		Namespace:  "syncboard",
	}
}

// Validate 验证指标配置的有效性
func (c *MetricsConfig) Validate() error {
	if c.Enabled && c.Namespace == "" {
		return fmt.Errorf("metrics: namespace must not be empty when enabled")
	}
	return nil
}
