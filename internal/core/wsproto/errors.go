// Package wsproto 提供最小化的 WebSocket 协议引擎
package wsproto

import "errors"

// ============================================================================
//                              错误定义
// ============================================================================

var (
	// ErrNotWebSocket 升级请求缺少必需的 WebSocket 头
	ErrNotWebSocket = errors.New("not a websocket upgrade request")

	// ErrMissingDeviceID 升级请求未携带设备标识
	ErrMissingDeviceID = errors.New("missing device identity")

	// ErrHandshakeFailed 客户端握手失败
	ErrHandshakeFailed = errors.New("websocket handshake failed")

	// ErrConnClosed 连接已关闭
	ErrConnClosed = errors.New("websocket connection closed")

	// ErrMessageTooLarge 消息超过最大长度
	ErrMessageTooLarge = errors.New("websocket message too large")

	// ErrControlTooLong 控制帧负载超过 125 字节
	ErrControlTooLong = errors.New("control frame payload too long")

	// ErrProtocol 帧结构违反协议（保留位、非法操作码）
	ErrProtocol = errors.New("websocket protocol violation")
)
