// Package pairing 实现设备配对引擎
package pairing

import (
	"context"

	"github.com/syncboard/go-syncboard/pkg/types"
)

// ============================================================================
//                              Coordinator - 中继协调器
// ============================================================================

// CodeRequest 申请配对码的参数
type CodeRequest struct {
	// DeviceID 发起方设备标识
	DeviceID types.DeviceID `json:"deviceId"`

	// DeviceName 发起方设备名称
	DeviceName string `json:"deviceName,omitempty"`

	// PublicKey 发起方临时公钥
	PublicKey []byte `json:"publicKey"`
}

// CodeGrant 中继签发的配对码
type CodeGrant struct {
	// Code 6 位数字短码
	Code string `json:"code"`

	// ExpiresAt 中继侧的过期时刻（毫秒时间戳）
	ExpiresAt int64 `json:"expiresAt"`
}

// ClaimRequest 认领配对码的参数
type ClaimRequest struct {
	// DeviceID 响应方设备标识
	DeviceID types.DeviceID `json:"deviceId"`

	// DeviceName 响应方设备名称
	DeviceName string `json:"deviceName,omitempty"`
}

// ClaimGrant 认领成功后获得的发起方信息
type ClaimGrant struct {
	// InitiatorDeviceID 发起方设备标识
	InitiatorDeviceID types.DeviceID `json:"initiatorDeviceId"`

	// InitiatorDeviceName 发起方设备名称
	InitiatorDeviceName string `json:"initiatorDeviceName,omitempty"`

	// InitiatorPublicKey 发起方临时公钥
	InitiatorPublicKey []byte `json:"initiatorPublicKey"`

	// ExpiresAt 配对码的过期时刻（毫秒时间戳）
	ExpiresAt int64 `json:"expiresAt"`
}

// Coordinator 远程配对的中继协调面
//
// Poll 方法在对端尚未投递时返回 ErrNotReady，调用方按固定
// 间隔重试；ErrCodeNotFound、ErrCodeExpired、ErrCodeClaimed
// 是终止条件。约定与 io.EOF 相同：由实现方返回本包的哨兵。
type Coordinator interface {
	// CreatePairingCode 申请一个新的配对码
	CreatePairingCode(ctx context.Context, req CodeRequest) (CodeGrant, error)

	// ClaimPairingCode 凭码认领，换取发起方公钥
	ClaimPairingCode(ctx context.Context, code string, req ClaimRequest) (ClaimGrant, error)

	// SubmitChallenge 响应方投递挑战
	SubmitChallenge(ctx context.Context, code string, msg *ChallengeMessage) error

	// PollChallenge 发起方拉取挑战
	PollChallenge(ctx context.Context, code string) (*ChallengeMessage, error)

	// SubmitAck 发起方投递确认
	SubmitAck(ctx context.Context, code string, msg *AckMessage) error

	// PollAck 响应方拉取确认
	PollAck(ctx context.Context, code string) (*AckMessage, error)
}

// ============================================================================
//                              KeyStore - 信任持久化
// ============================================================================

// KeyStore 配对产物的持久化面
//
// 配对完成时共享密钥按对端设备标识落盘，同时登记已配对设备。
type KeyStore interface {
	// PutSharedKey 保存与对端的共享密钥
	PutSharedKey(peer types.DeviceID, key []byte) error

	// SavePairedDevice 登记已配对设备
	SavePairedDevice(rec types.PairedDevice) error
}
