// Package pairing 实现设备配对引擎
package pairing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/mr-tron/base58"

	"github.com/syncboard/go-syncboard/internal/core/cryptobox"
)

// payloadSigLabel 载荷签名密钥派生的域分隔标签
const payloadSigLabel = "syncboard/payload-sig/v1"

// LocalPayload 本地配对的带外载荷
//
// 由发起方生成、经扫码等带外通道传给响应方。签名是派生自
// 临时公钥的 HMAC，只提供防篡改完整性；信任来自随后的挑战
// /应答交换，而不是这个签名。
type LocalPayload struct {
	// PeerPublicKey 发起方的临时 X25519 公钥
	PeerPublicKey []byte `json:"peerPublicKey"`

	// Service 发起方通告的服务实例名，响应方用它在局域网发现中定位发起方
	Service string `json:"service"`

	// Port 发起方 WebSocket 服务端口
	Port int `json:"port"`

	// RelayHint 发起方可达的中继端点，局域网不可达时使用
	RelayHint string `json:"relayHint,omitempty"`

	// IssuedAt 签发时刻（毫秒时间戳）
	IssuedAt int64 `json:"issuedAt"`

	// ExpiresAt 过期时刻（毫秒时间戳）
	ExpiresAt int64 `json:"expiresAt"`

	// Signature 对以上字段的 HMAC-SHA256 签名
	Signature []byte `json:"signature"`
}

// Encode 序列化为 base58 字符串
func (p *LocalPayload) Encode() (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode pairing payload: %w", err)
	}
	return base58.Encode(data), nil
}

// DecodePayload 解析 base58 载荷并校验签名
//
// 解码失败、结构不符或签名不匹配都返回 ErrInvalidPayload，
// 不向调用方泄露具体哪一步出错。
func DecodePayload(encoded string) (*LocalPayload, error) {
	data, err := base58.Decode(encoded)
	if err != nil {
		return nil, ErrInvalidPayload
	}

	var p LocalPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, ErrInvalidPayload
	}
	if len(p.PeerPublicKey) == 0 || p.ExpiresAt == 0 {
		return nil, ErrInvalidPayload
	}

	want, err := p.sign()
	if err != nil {
		return nil, ErrInvalidPayload
	}
	if !hmac.Equal(want, p.Signature) {
		return nil, ErrInvalidPayload
	}
	return &p, nil
}

// sign 计算载荷签名
func (p *LocalPayload) sign() ([]byte, error) {
	key, err := cryptobox.DeriveKey(p.PeerPublicKey, []byte(payloadSigLabel))
	if err != nil {
		return nil, err
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(p.signingBytes())
	return mac.Sum(nil), nil
}

// signingBytes 构造签名输入的规范序列化
//
// 变长字段带长度前缀，避免字段边界歧义。
func (p *LocalPayload) signingBytes() []byte {
	buf := make([]byte, 0, 128)
	buf = appendField(buf, p.PeerPublicKey)
	buf = appendField(buf, []byte(p.Service))
	buf = binary.BigEndian.AppendUint32(buf, uint32(p.Port))
	buf = appendField(buf, []byte(p.RelayHint))
	buf = binary.BigEndian.AppendUint64(buf, uint64(p.IssuedAt))
	buf = binary.BigEndian.AppendUint64(buf, uint64(p.ExpiresAt))
	return buf
}

func appendField(buf, field []byte) []byte {
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(field)))
	return append(buf, field...)
}
