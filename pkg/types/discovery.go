// Package types 定义 SyncBoard 公共类型
//
// 本文件定义局域网发现相关类型。
package types

import (
	"context"
)

// ============================================================================
//                              DiscoveredPeer - 发现的设备
// ============================================================================

// DiscoveredPeer 局域网发现到的设备
type DiscoveredPeer struct {
	// Device 设备信息（来自服务通告的 TXT 记录）
	Device DeviceInfo

	// Host 设备主机地址
	Host string

	// Port 设备 WebSocket 服务端口
	Port int

	// ServiceName 服务实例名，移除事件以此为键
	ServiceName string
}

// ============================================================================
//                              DiscoveryEvent - 发现事件
// ============================================================================

// DiscoveryEventKind 发现事件类别
type DiscoveryEventKind int

const (
	// DiscoveryPeerAdded 发现新设备
	DiscoveryPeerAdded DiscoveryEventKind = iota
	// DiscoveryPeerRemoved 设备服务消失
	DiscoveryPeerRemoved
)

// String 返回事件类别的字符串表示
func (k DiscoveryEventKind) String() string {
	switch k {
	case DiscoveryPeerAdded:
		return "added"
	case DiscoveryPeerRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// DiscoveryEvent 发现服务发出的事件
//
// Added 事件携带完整的 Peer 信息；
// Removed 事件只携带 ServiceName。
type DiscoveryEvent struct {
	Kind DiscoveryEventKind

	// Peer 发现的设备，仅 Added 事件有效
	Peer DiscoveredPeer

	// ServiceName 消失的服务实例名，仅 Removed 事件有效
	ServiceName string
}

// ============================================================================
//                              DiscoveryService - 发现服务接口
// ============================================================================

// DiscoveryService 局域网设备发现接口
//
// 由 mDNS 等具体机制实现。核心引擎只消费 Events 通道，
// 不关心底层通告与浏览细节。
type DiscoveryService interface {
	// Start 启动发现服务
	Start(ctx context.Context) error

	// Stop 停止发现服务并关闭事件通道
	Stop() error

	// Events 返回发现事件通道
	Events() <-chan DiscoveryEvent

	// InstanceName 返回本机通告的服务实例名
	//
	// 配对载荷以此向响应方标识本机，必须与对端浏览
	// 结果中的 ServiceName 同形。无通告语义的实现返回空串。
	InstanceName() string
}
