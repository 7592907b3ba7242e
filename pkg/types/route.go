// Package types 定义 SyncBoard 公共类型
//
// 本文件定义传输路径与回退原因。
package types

import (
	"encoding/json"
	"fmt"
)

// ============================================================================
//                              Route - 传输路径
// ============================================================================

// Route 消息送达路径
//
// 每台对端设备同时维护局域网直连和云端中继两条路径，
// 发送器按路径独立加密并发送，送达结果按路径记录。
type Route int

const (
	// RouteUnknown 未知路径
	RouteUnknown Route = iota
	// RouteLAN 局域网直连
	RouteLAN
	// RouteCloud 云端中继
	RouteCloud
)

// String 返回路径的字符串表示
func (r Route) String() string {
	switch r {
	case RouteLAN:
		return "lan"
	case RouteCloud:
		return "cloud"
	default:
		return "unknown"
	}
}

// MarshalJSON 实现 json.Marshaler 接口，序列化为字符串形式
func (r Route) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// UnmarshalJSON 实现 json.Unmarshaler 接口
func (r *Route) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "lan":
		*r = RouteLAN
	case "cloud":
		*r = RouteCloud
	case "unknown", "":
		*r = RouteUnknown
	default:
		return fmt.Errorf("unknown route %q", s)
	}
	return nil
}

// ============================================================================
//                              FallbackReason - 回退原因
// ============================================================================

// FallbackReason 局域网路径失败、改走云端路径的原因
type FallbackReason string

const (
	// FallbackLANTimeout 局域网发送超时
	FallbackLANTimeout FallbackReason = "lanTimeout"
	// FallbackLANFailure 局域网发送失败（非超时）
	FallbackLANFailure FallbackReason = "lanFailure"
)
