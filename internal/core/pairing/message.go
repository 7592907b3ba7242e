// Package pairing 实现设备配对引擎
package pairing

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/json"
	"fmt"

	"github.com/syncboard/go-syncboard/internal/core/cryptobox"
	"github.com/syncboard/go-syncboard/pkg/types"
)

// challengeSize 挑战随机数长度
const challengeSize = 32

// challengeBody 挑战的明文结构
type challengeBody struct {
	// Challenge 随机挑战字节
	Challenge []byte `json:"challenge"`

	// Timestamp 构造时刻（毫秒时间戳），验证方据此做时钟偏差检查
	Timestamp int64 `json:"timestamp"`
}

// ChallengeMessage 响应方发给发起方的加密挑战
//
// 密文在双方派生的共享密钥下加密，响应方设备标识作为附加
// 认证数据，防止挑战被转移给其它设备使用。
type ChallengeMessage struct {
	// ChallengeID 挑战唯一标识
	ChallengeID string `json:"challengeId"`

	// ResponderDeviceID 响应方设备标识
	ResponderDeviceID types.DeviceID `json:"responderDeviceId"`

	// ResponderDeviceName 响应方设备名称
	ResponderDeviceName string `json:"responderDeviceName,omitempty"`

	// ResponderPublicKey 响应方的临时 X25519 公钥
	ResponderPublicKey []byte `json:"responderPublicKey"`

	// Nonce AEAD 随机数
	Nonce []byte `json:"nonce"`

	// Ciphertext 挑战密文
	Ciphertext []byte `json:"ciphertext"`

	// Tag AEAD 认证标签
	Tag []byte `json:"tag"`
}

// AckMessage 发起方回送的配对确认
//
// 密文是挑战字节在共享密钥下的加密回显，发起方设备标识作为
// 附加认证数据。响应方解密并比对回显，确认发起方确实持有
// 共享密钥。
type AckMessage struct {
	// ChallengeID 对应挑战的标识
	ChallengeID string `json:"challengeId"`

	// InitiatorDeviceID 发起方设备标识
	InitiatorDeviceID types.DeviceID `json:"initiatorDeviceId"`

	// InitiatorDeviceName 发起方设备名称
	InitiatorDeviceName string `json:"initiatorDeviceName,omitempty"`

	// Nonce AEAD 随机数
	Nonce []byte `json:"nonce"`

	// Ciphertext 挑战回显密文
	Ciphertext []byte `json:"ciphertext"`

	// Tag AEAD 认证标签
	Tag []byte `json:"tag"`
}

// newChallengeBody 生成随机挑战
func newChallengeBody(now int64) (*challengeBody, error) {
	challenge := make([]byte, challengeSize)
	if _, err := rand.Read(challenge); err != nil {
		return nil, fmt.Errorf("generate challenge: %w", err)
	}
	return &challengeBody{Challenge: challenge, Timestamp: now}, nil
}

// sealChallenge 在共享密钥下加密挑战
func sealChallenge(key []byte, responder types.DeviceID, body *challengeBody) (cryptobox.SealedBox, error) {
	plaintext, err := json.Marshal(body)
	if err != nil {
		return cryptobox.SealedBox{}, fmt.Errorf("encode challenge: %w", err)
	}
	return cryptobox.Seal(key, plaintext, []byte(responder))
}

// openChallenge 解密并解析挑战
//
// AEAD 失败返回 ErrCryptoFailure，解析失败返回 ErrChallengeDecode，
// 与验证顺序的 (b)(c) 两步一一对应。
func openChallenge(key []byte, msg *ChallengeMessage) (*challengeBody, error) {
	plaintext, err := cryptobox.Open(key, msg.Ciphertext, msg.Nonce, msg.Tag, []byte(msg.ResponderDeviceID))
	if err != nil {
		return nil, ErrCryptoFailure
	}

	var body challengeBody
	if err := json.Unmarshal(plaintext, &body); err != nil {
		return nil, ErrChallengeDecode
	}
	if len(body.Challenge) == 0 {
		return nil, ErrChallengeDecode
	}
	return &body, nil
}

// sealAck 构造挑战回显确认
func sealAck(key []byte, initiator types.DeviceID, challenge []byte) (cryptobox.SealedBox, error) {
	return cryptobox.Seal(key, challenge, []byte(initiator))
}

// openAck 解密确认并比对挑战回显
func openAck(key []byte, msg *AckMessage, wantChallenge []byte) error {
	echo, err := cryptobox.Open(key, msg.Ciphertext, msg.Nonce, msg.Tag, []byte(msg.InitiatorDeviceID))
	if err != nil {
		return ErrCryptoFailure
	}
	if subtle.ConstantTimeCompare(echo, wantChallenge) != 1 {
		return ErrCryptoFailure
	}
	return nil
}
