// Package types 定义 SyncBoard 公共类型
//
// 本文件定义对端链路状态与连接生命周期状态。
package types

// ============================================================================
//                              LinkState - 对端链路状态
// ============================================================================

// LinkState 连接监督器维护的单台对端链路状态
//
// 状态机转换由监督器独占驱动：
//
//	Disconnected → ConnectingLAN → ConnectedLAN
//	ConnectingLAN →(失败/超时)→ ConnectingCloud → ConnectedCloud
//	两者皆失败 → Failed →(退避后)→ ConnectingLAN
type LinkState int

const (
	// LinkDisconnected 未连接
	LinkDisconnected LinkState = iota
	// LinkConnectingLAN 正在尝试局域网直连
	LinkConnectingLAN
	// LinkConnectedLAN 局域网直连已建立
	LinkConnectedLAN
	// LinkConnectingCloud 正在尝试云端中继连接
	LinkConnectingCloud
	// LinkConnectedCloud 云端中继连接已建立
	LinkConnectedCloud
	// LinkFailed 两条路径均失败，等待退避重连
	LinkFailed
)

// String 返回链路状态的字符串表示
func (s LinkState) String() string {
	switch s {
	case LinkDisconnected:
		return "disconnected"
	case LinkConnectingLAN:
		return "connecting_lan"
	case LinkConnectedLAN:
		return "connected_lan"
	case LinkConnectingCloud:
		return "connecting_cloud"
	case LinkConnectedCloud:
		return "connected_cloud"
	case LinkFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Connected 判断当前状态是否为已连接（任一路径）
func (s LinkState) Connected() bool {
	return s == LinkConnectedLAN || s == LinkConnectedCloud
}

// Route 返回当前状态对应的传输路径
//
// 仅在已连接状态下有意义，其余状态返回 RouteUnknown。
func (s LinkState) Route() Route {
	switch s {
	case LinkConnectedLAN:
		return RouteLAN
	case LinkConnectedCloud:
		return RouteCloud
	default:
		return RouteUnknown
	}
}

// ============================================================================
//                              ConnState - 连接生命周期
// ============================================================================

// ConnState WebSocket 连接的生命周期状态
type ConnState int

const (
	// ConnHandshaking 握手进行中
	ConnHandshaking ConnState = iota
	// ConnOpen 握手完成，可收发数据
	ConnOpen
	// ConnClosed 已关闭
	ConnClosed
)

// String 返回连接状态的字符串表示
func (s ConnState) String() string {
	switch s {
	case ConnHandshaking:
		return "handshaking"
	case ConnOpen:
		return "open"
	case ConnClosed:
		return "closed"
	default:
		return "unknown"
	}
}
