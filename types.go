package syncboard

import (
	"time"

	"github.com/syncboard/go-syncboard/internal/core/eventbus"
	"github.com/syncboard/go-syncboard/pkg/types"
)

// ════════════════════════════════════════════════════════════════════════════
//                              节点状态
// ════════════════════════════════════════════════════════════════════════════

// NodeState 节点状态
//
// 表示节点在生命周期中的当前阶段。
type NodeState int

const (
	// StateIdle 空闲状态（已创建，未启动）
	StateIdle NodeState = iota

	// StateInitializing 初始化中（Fx App 启动中）
	StateInitializing

	// StateRunning 运行中（正常工作状态）
	StateRunning

	// StateStopping 停止中（正在关闭组件）
	StateStopping

	// StateStopped 已停止（可重新启动）
	StateStopped
)

// String 返回状态的字符串表示
func (s NodeState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ════════════════════════════════════════════════════════════════════════════
//                              配对结果
// ════════════════════════════════════════════════════════════════════════════

// PairingTicket 本地配对的带外票据
//
// Encoded 是自包含的 base58 封装，适合渲染为二维码或
// 手工粘贴；对端调用 Node.PairWithTicket 完成认领。
type PairingTicket struct {
	// Encoded 票据的 base58 编码
	Encoded string `json:"encoded"`

	// Service 本机在局域网发现中通告的服务实例名
	Service string `json:"service"`

	// Port 本机 WebSocket 服务端口
	Port int `json:"port"`

	// ExpiresAt 票据失效时刻
	ExpiresAt time.Time `json:"expiresAt"`
}

// PairingCode 远程配对的中继短码
//
// 短码由中继签发，对端调用 Node.ClaimRemotePairing 认领。
type PairingCode struct {
	// Code 数字短码
	Code string `json:"code"`

	// ExpiresAt 短码失效时刻
	ExpiresAt time.Time `json:"expiresAt"`
}

// PairingState 配对会话的只读快照
type PairingState struct {
	// Phase 当前阶段（idle/displayingPayload/awaitingChallenge/...）
	Phase string `json:"phase"`

	// Mode 发起模式（none/local/remote）
	Mode string `json:"mode"`

	// Reason 失败原因，仅失败阶段非空
	Reason string `json:"reason,omitempty"`

	// Code 中继配对码，仅远程模式非空
	Code string `json:"code,omitempty"`

	// Peer 交换过程中获知的对端设备，完成前可能为零值
	Peer types.DeviceInfo `json:"peer,omitempty"`
}

// ════════════════════════════════════════════════════════════════════════════
//                              事件订阅
// ════════════════════════════════════════════════════════════════════════════

// Subscription 节点事件订阅
//
// Out 通道按发生顺序投递 pkg/types 中定义的事件结构
// （EvtDeviceOnline、EvtSyncApplied 等）。不再消费时必须
// Close，否则总线侧的投递槽位不会释放。
type Subscription struct {
	inner *eventbus.Subscription
}

// Out 返回事件通道
func (s *Subscription) Out() <-chan interface{} {
	return s.inner.Out()
}

// Close 取消订阅并关闭事件通道
func (s *Subscription) Close() error {
	return s.inner.Close()
}
