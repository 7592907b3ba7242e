// Package pairing 实现设备配对引擎
//
// 两种发起模式共用一套密码学内核（X25519 ECDH + HKDF-SHA256 +
// AES-256-GCM 挑战/应答）：
//
// 本地模式：发起方生成临时密钥对，将公钥与服务端点打包为带外
// 载荷（base58，适合扫码）；响应方扫码后派生共享密钥，回送
// AEAD 加密的挑战，发起方验证后回送确认，双方各自持久化共享
// 密钥完成配对。
//
// 远程模式：发起方向中继申请 6 位数字短码，响应方凭码认领获得
// 发起方公钥，随后的挑战/应答经中继异步投递，双方按固定间隔
// 轮询，"尚未就绪"是正常的非终止条件。
//
// 同一时刻引擎至多持有一个活跃会话；会话状态只由引擎串行推进，
// 被取代会话的迟到结果不会污染新会话。
package pairing

import (
	"errors"

	"github.com/syncboard/go-syncboard/pkg/lib/log"
	"github.com/syncboard/go-syncboard/pkg/types"
)

var logger = log.Logger("core/pairing")

// ============================================================================
//                              错误定义
// ============================================================================

var (
	// ErrPayloadExpired 配对载荷已过有效期
	ErrPayloadExpired = errors.New("payload expired")

	// ErrCryptoFailure 密钥错误或密文被篡改
	//
	// AEAD 解密失败统一报告，不区分错误密钥与篡改。
	ErrCryptoFailure = errors.New("cryptographic operation failed")

	// ErrChallengeDecode 解密成功但挑战结构无法解析
	ErrChallengeDecode = errors.New("unable to decode challenge")

	// ErrOutsideTolerance 挑战时间戳超出允许的时钟偏差
	ErrOutsideTolerance = errors.New("timestamp outside allowed window")

	// ErrExpired 会话在等待期间到期
	ErrExpired = errors.New("expired")

	// ErrInvalidPayload 带外载荷无法解码或签名不符
	ErrInvalidPayload = errors.New("invalid pairing payload")

	// ErrNoSession 没有处于预期阶段的活跃会话
	ErrNoSession = errors.New("no active pairing session")

	// ErrEngineClosed 引擎已停止
	ErrEngineClosed = errors.New("pairing engine closed")

	// ErrNotStarted 引擎尚未启动
	ErrNotStarted = errors.New("pairing engine not started")

	// ErrNoCoordinator 未配置中继协调器，无法使用远程模式
	ErrNoCoordinator = errors.New("no relay coordinator configured")
)

// 中继协调的哨兵错误，由 Coordinator 实现返回。
var (
	// ErrNotReady 对端尚未投递，非终止，按轮询间隔重试
	ErrNotReady = errors.New("not ready")

	// ErrCodeNotFound 配对码不存在
	ErrCodeNotFound = errors.New("pairing code not found")

	// ErrCodeExpired 配对码已过期
	ErrCodeExpired = errors.New("pairing code expired")

	// ErrCodeClaimed 配对码已被认领
	ErrCodeClaimed = errors.New("pairing code already claimed")

	// ErrRelayUnavailable 中继调用失败（网络或服务端错误）
	ErrRelayUnavailable = errors.New("relay unavailable")
)

// ============================================================================
//                              Mode - 发起模式
// ============================================================================

// Mode 配对会话的发起模式
type Mode int

const (
	// ModeNone 无活跃会话
	ModeNone Mode = iota
	// ModeLocal 带外载荷（扫码）模式
	ModeLocal
	// ModeRemote 中继短码模式
	ModeRemote
)

// String 返回模式的字符串表示
func (m Mode) String() string {
	switch m {
	case ModeLocal:
		return "local"
	case ModeRemote:
		return "remote"
	default:
		return "none"
	}
}

// ============================================================================
//                              Phase - 会话阶段
// ============================================================================

// Phase 配对会话对外暴露的阶段
//
// 本地与远程模式共用同一套词汇：本地走
// DisplayingPayload→AwaitingChallenge，远程走
// GeneratingCode→WaitingForClaim，之后汇合于
// Completing→Completed|Failed。
type Phase int

const (
	// PhaseIdle 空闲，无活跃会话
	PhaseIdle Phase = iota
	// PhaseGeneratingCode 正在向中继申请配对码
	PhaseGeneratingCode
	// PhaseDisplayingPayload 带外载荷已生成待展示
	PhaseDisplayingPayload
	// PhaseAwaitingChallenge 等待响应方的挑战
	PhaseAwaitingChallenge
	// PhaseWaitingForClaim 等待响应方认领配对码
	PhaseWaitingForClaim
	// PhaseCompleting 挑战/应答交换进行中
	PhaseCompleting
	// PhaseCompleted 配对成功，共享密钥已持久化
	PhaseCompleted
	// PhaseFailed 配对终止失败
	PhaseFailed
)

// String 返回阶段的字符串表示
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseGeneratingCode:
		return "generatingCode"
	case PhaseDisplayingPayload:
		return "displayingPayload"
	case PhaseAwaitingChallenge:
		return "awaitingChallenge"
	case PhaseWaitingForClaim:
		return "waitingForClaim"
	case PhaseCompleting:
		return "completing"
	case PhaseCompleted:
		return "completed"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalJSON 实现 json.Marshaler 接口
func (p Phase) MarshalJSON() ([]byte, error) {
	return []byte(`"` + p.String() + `"`), nil
}

// Terminal 判断阶段是否为终态
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// ============================================================================
//                              Status - 会话快照
// ============================================================================

// Status 配对会话的只读快照
type Status struct {
	// Phase 当前阶段
	Phase Phase `json:"phase"`

	// Mode 发起模式
	Mode Mode `json:"-"`

	// Reason 失败原因，仅 PhaseFailed 时非空
	Reason string `json:"reason,omitempty"`

	// Code 中继配对码，仅远程模式非空
	Code string `json:"code,omitempty"`

	// Peer 交换过程中获知的对端设备，完成前可能为零值
	Peer types.DeviceInfo `json:"peer,omitempty"`

	// ExpiresAt 会话到期时刻的毫秒时间戳，0 表示无会话
	ExpiresAt int64 `json:"expiresAt,omitempty"`
}

// PhaseChangeHandler 阶段变更回调
//
// 在引擎内部串行调用，不要做阻塞操作。
type PhaseChangeHandler func(st Status)
