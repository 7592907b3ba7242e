// Package types 定义 SyncBoard 公共类型
//
// 本文件定义事件相关类型。
package types

import (
	"time"
)

// ============================================================================
//                              Event - 事件接口
// ============================================================================

// Event 基础事件接口
type Event interface {
	// Type 返回事件类型
	Type() string

	// Timestamp 返回事件时间戳
	Timestamp() time.Time
}

// BaseEvent 基础事件实现
type BaseEvent struct {
	EventType string
	Time      time.Time
}

// Type 返回事件类型
func (e BaseEvent) Type() string {
	return e.EventType
}

// Timestamp 返回事件时间戳
func (e BaseEvent) Timestamp() time.Time {
	return e.Time
}

// NewBaseEvent 创建基础事件
func NewBaseEvent(eventType string) BaseEvent {
	return BaseEvent{
		EventType: eventType,
		Time:      time.Now(),
	}
}

// ============================================================================
//                              链路事件
// ============================================================================

// EvtDeviceOnline 对端设备上线事件
type EvtDeviceOnline struct {
	BaseEvent
	DeviceID DeviceID
	Route    Route
}

// EvtDeviceOffline 对端设备离线事件
type EvtDeviceOffline struct {
	BaseEvent
	DeviceID DeviceID
	Reason   string
}

// EvtRouteChanged 对端路径切换事件
//
// 监督器在局域网与云端之间切换成功路径时发射。
type EvtRouteChanged struct {
	BaseEvent
	DeviceID DeviceID
	Old      Route
	New      Route
}

// EvtTransportFallback 传输回退事件
//
// 双路径发送时局域网路径失败、云端路径成功时发射。
type EvtTransportFallback struct {
	BaseEvent
	DeviceID DeviceID
	Reason   FallbackReason
}

// ============================================================================
//                              发现事件
// ============================================================================

// EvtPeerDiscovered 局域网发现到设备事件
type EvtPeerDiscovered struct {
	BaseEvent
	Peer DiscoveredPeer
}

// EvtPeerLost 设备服务消失事件
type EvtPeerLost struct {
	BaseEvent
	ServiceName string
}

// ============================================================================
//                              同步事件
// ============================================================================

// EvtSyncApplied 剪贴板内容应用事件
//
// 收到的信封解密、去重并写入剪贴板后发射。
type EvtSyncApplied struct {
	BaseEvent
	MessageID   string
	From        DeviceID
	ContentType string
	Size        int
}

// ============================================================================
//                              配对事件
// ============================================================================

// EvtPairingCompleted 配对完成事件
type EvtPairingCompleted struct {
	BaseEvent
	Device DeviceInfo
}

// EvtPairingFailed 配对失败事件
type EvtPairingFailed struct {
	BaseEvent
	Reason string
}

// ============================================================================
//                              事件类型常量
// ============================================================================

// 事件类型常量
const (
	EventTypeDeviceOnline      = "device_online"
	EventTypeDeviceOffline     = "device_offline"
	EventTypeRouteChanged      = "route_changed"
	EventTypeTransportFallback = "transport_fallback"
	EventTypePeerDiscovered    = "peer_discovered"
	EventTypePeerLost          = "peer_lost"
	EventTypeSyncApplied       = "sync_applied"
	EventTypePairingCompleted  = "pairing_completed"
	EventTypePairingFailed     = "pairing_failed"
)
