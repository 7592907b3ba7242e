// Package envelope 提供消息信封模型与帧编解码
//
// 信封是所有跨设备消息的统一载体：剪贴板内容和控制消息
// 都以 JSON 信封的形式在 WebSocket 连接上传输。帧格式为
// 4 字节大端长度前缀加 JSON 信封体，编解码两侧都强制
// 最大长度检查。
package envelope

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/syncboard/go-syncboard/pkg/types"
)

// ============================================================================
//                              Type - 信封类型
// ============================================================================

// Type 信封类型
type Type string

const (
	// TypeClipboard 剪贴板内容消息
	TypeClipboard Type = "clipboard"
	// TypeControl 控制消息（心跳、配对协调）
	TypeControl Type = "control"
)

// Valid 判断信封类型是否合法
func (t Type) Valid() bool {
	return t == TypeClipboard || t == TypeControl
}

// ============================================================================
//                              控制动作
// ============================================================================

// 控制信封的动作常量
const (
	// ActionHeartbeat 心跳探测
	ActionHeartbeat = "heartbeat"
	// ActionHeartbeatAck 心跳确认
	ActionHeartbeatAck = "heartbeatAck"
	// ActionPairingChallenge 配对挑战
	ActionPairingChallenge = "pairingChallenge"
	// ActionPairingAck 配对确认
	ActionPairingAck = "pairingAck"
)

// ============================================================================
//                              Envelope - 消息信封
// ============================================================================

// EncryptionMeta 信封加密元数据
//
// nonce 每次加密随机生成，绝不复用；tag 为 AEAD 认证标签。
// 两者为空表示明文信封（仅允许控制消息）。
type EncryptionMeta struct {
	// Nonce AEAD 随机数
	Nonce []byte `json:"nonce,omitempty"`

	// Tag AEAD 认证标签
	Tag []byte `json:"tag,omitempty"`
}

// Payload 信封负载
type Payload struct {
	// ContentType 剪贴板内容的 MIME 类型
	ContentType string `json:"contentType,omitempty"`

	// Ciphertext 加密后的内容字节
	Ciphertext []byte `json:"ciphertext,omitempty"`

	// DeviceID 发送方设备标识，同时是 AEAD 的附加认证数据
	DeviceID types.DeviceID `json:"deviceId"`

	// DevicePlatform 发送方平台，可选
	DevicePlatform string `json:"devicePlatform,omitempty"`

	// DeviceName 发送方名称，可选
	DeviceName string `json:"deviceName,omitempty"`

	// Target 目标设备标识，经中继转发时使用
	Target types.DeviceID `json:"target,omitempty"`

	// Action 控制信封的动作，仅控制消息使用
	Action string `json:"action,omitempty"`

	// Data 控制信封的附加数据，仅控制消息使用
	Data json.RawMessage `json:"data,omitempty"`

	// Encryption 加密元数据
	Encryption EncryptionMeta `json:"encryption,omitempty"`
}

// Envelope 消息信封
//
// 构造后不可变：为第二条传输路径重新加密时创建共享同一
// ID 的新信封（去重标识不变，nonce 与密文不同）。
type Envelope struct {
	// ID 消息唯一标识，双路径送达的去重键
	ID string `json:"id"`

	// Timestamp 构造时间，Unix 毫秒
	Timestamp int64 `json:"timestamp"`

	// Version 协议版本
	Version int `json:"version"`

	// Type 信封类型
	Type Type `json:"type"`

	// Payload 负载
	Payload Payload `json:"payload"`
}

// New 创建新信封
//
// 自动分配 UUID 与当前时间戳。
func New(version int, typ Type, p Payload) *Envelope {
	return &Envelope{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UnixMilli(),
		Version:   version,
		Type:      typ,
		Payload:   p,
	}
}

// NewControl 创建控制信封
func NewControl(version int, device types.DeviceID, action string, data json.RawMessage) *Envelope {
	return New(version, TypeControl, Payload{
		DeviceID: device,
		Action:   action,
		Data:     data,
	})
}

// Encrypted 判断信封是否携带加密负载
func (e *Envelope) Encrypted() bool {
	return len(e.Payload.Encryption.Nonce) > 0 && len(e.Payload.Encryption.Tag) > 0
}

// Reencrypted 返回更换密文后的新信封
//
// 新信封共享原信封的 ID 与时间戳，仅替换密文与加密元数据。
// 用于双路径发送时按路径独立加密。
func (e *Envelope) Reencrypted(ciphertext, nonce, tag []byte) *Envelope {
	clone := *e
	clone.Payload.Ciphertext = ciphertext
	clone.Payload.Encryption = EncryptionMeta{
		Nonce: nonce,
		Tag:   tag,
	}
	return &clone
}

// WithTarget 返回指定转发目标后的新信封
func (e *Envelope) WithTarget(target types.DeviceID) *Envelope {
	clone := *e
	clone.Payload.Target = target
	return &clone
}
