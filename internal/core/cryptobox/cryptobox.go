// Package cryptobox 提供信封加密与配对密钥协商的密码学原语
//
// 信封加密使用 AES-256-GCM：每次加密生成新的随机 nonce，
// 发送方设备标识作为附加认证数据，防止密文跨设备重放。
// 配对密钥协商使用 X25519 ECDH，共享密钥经 HKDF-SHA256 派生。
package cryptobox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

// 密码学参数
const (
	// KeySize AES-256 密钥长度
	KeySize = 32
	// NonceSize GCM 随机数长度
	NonceSize = 12
	// TagSize GCM 认证标签长度
	TagSize = 16
)

// ============================================================================
//                              错误定义
// ============================================================================

var (
	// ErrInvalidKey 密钥长度不是 32 字节
	ErrInvalidKey = errors.New("invalid key size")

	// ErrAuthentication 解密认证失败
	//
	// 密钥、nonce、密文、标签或附加认证数据任一不匹配都返回
	// 本错误，不区分具体原因。
	ErrAuthentication = errors.New("authentication failed")

	// ErrInvalidNonce nonce 长度不是 12 字节
	ErrInvalidNonce = errors.New("invalid nonce size")

	// ErrMissingKey 没有与对端协商过的共享密钥
	//
	// 与认证失败严格区分：调用方应提示重新配对而不是重试。
	ErrMissingKey = errors.New("missing key for device")
)

// ============================================================================
//                              SealedBox - 加密结果
// ============================================================================

// SealedBox 一次 AEAD 加密的完整输出
type SealedBox struct {
	// Nonce 本次加密使用的随机数
	Nonce []byte

	// Ciphertext 密文（不含认证标签）
	Ciphertext []byte

	// Tag 认证标签
	Tag []byte
}

// ============================================================================
//                              AEAD 加解密
// ============================================================================

// Seal 加密明文
//
// 每次调用生成新的随机 nonce，同一密钥下两次加密相同明文
// 必然产生不同的密文。aad 参与认证但不加密，解密侧必须
// 提供逐字节一致的 aad。
func Seal(key, plaintext, aad []byte) (SealedBox, error) {
	aead, err := newGCM(key)
	if err != nil {
		return SealedBox{}, err
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return SealedBox{}, fmt.Errorf("generate nonce: %w", err)
	}

	sealed := aead.Seal(nil, nonce, plaintext, aad)

	// GCM 输出为密文+标签，按协议拆开
	split := len(sealed) - TagSize
	return SealedBox{
		Nonce:      nonce,
		Ciphertext: sealed[:split],
		Tag:        sealed[split:],
	}, nil
}

// Open 解密密文
//
// 密钥、nonce、密文、标签、aad 任一不一致都返回 ErrAuthentication。
func Open(key, ciphertext, nonce, tag, aad []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidNonce, len(nonce))
	}
	if len(tag) != TagSize {
		return nil, ErrAuthentication
	}

	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := aead.Open(nil, nonce, sealed, aad)
	if err != nil {
		return nil, ErrAuthentication
	}
	return plaintext, nil
}

// OpenBox 解密 SealedBox
func OpenBox(key []byte, box SealedBox, aad []byte) ([]byte, error) {
	return Open(key, box.Ciphertext, box.Nonce, box.Tag, aad)
}

// newGCM 构造 AES-256-GCM 实例
func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: %d bytes, want %d", ErrInvalidKey, len(key), KeySize)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	return aead, nil
}
