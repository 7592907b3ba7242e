// Package types 定义 SyncBoard 公共类型
//
// 本文件定义设备标识与设备信息。
package types

import (
	"time"
)

// ============================================================================
//                              DeviceID - 设备标识
// ============================================================================

// DeviceID 设备唯一标识
//
// 由各端在首次启动时生成并持久化，全局唯一。
// 同时用作消息信封的 deviceId 字段和 AEAD 附加认证数据。
type DeviceID string

// String 返回设备标识的字符串表示
func (id DeviceID) String() string {
	return string(id)
}

// Empty 判断设备标识是否为空
func (id DeviceID) Empty() bool {
	return id == ""
}

// Short 返回截断后的设备标识，用于日志展示
func (id DeviceID) Short() string {
	if len(id) <= 8 {
		return string(id)
	}
	return string(id[:8])
}

// ============================================================================
//                              Platform - 设备平台
// ============================================================================

// Platform 设备所在平台
type Platform string

const (
	// PlatformUnknown 未知平台
	PlatformUnknown Platform = ""
	// PlatformMacOS macOS 桌面端
	PlatformMacOS Platform = "macos"
	// PlatformWindows Windows 桌面端
	PlatformWindows Platform = "windows"
	// PlatformLinux Linux 桌面端
	PlatformLinux Platform = "linux"
	// PlatformIOS iOS 移动端
	PlatformIOS Platform = "ios"
	// PlatformAndroid Android 移动端
	PlatformAndroid Platform = "android"
)

// ============================================================================
//                              DeviceInfo - 设备信息
// ============================================================================

// DeviceInfo 设备基本信息
//
// 本机设备信息来自配置；对端设备信息在配对或发现阶段获得。
type DeviceInfo struct {
	// ID 设备唯一标识
	ID DeviceID `json:"id"`

	// Name 用户可读的设备名称
	Name string `json:"name"`

	// Platform 设备平台
	Platform Platform `json:"platform,omitempty"`
}

// ============================================================================
//                              PairedDevice - 已配对设备
// ============================================================================

// PairedDevice 已配对设备的注册表记录
//
// 配对完成后写入注册表，记录配对时间与最近一次成功的传输路径。
type PairedDevice struct {
	// Device 设备信息
	Device DeviceInfo `json:"device"`

	// PairedAt 配对完成时间
	PairedAt time.Time `json:"paired_at"`

	// LastRoute 最近一次成功送达使用的路径
	LastRoute Route `json:"last_route,omitempty"`

	// LastSeen 最近一次通信时间
	LastSeen time.Time `json:"last_seen,omitempty"`
}
