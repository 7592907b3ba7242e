// Package cryptobox 提供信封加密与配对密钥协商的密码学原语
package cryptobox

import (
	"bytes"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// hkdfLabel 共享密钥派生的域分隔标签
const hkdfLabel = "syncboard/pairing/v1"

// ============================================================================
//                              KeyPair - 临时密钥对
// ============================================================================

// KeyPair X25519 临时密钥对
//
// 每个配对会话生成一对，会话结束即丢弃，私钥不落盘。
type KeyPair struct {
	private *ecdh.PrivateKey

	// Public 公钥字节（32 字节）
	Public []byte
}

// GenerateKeyPair 生成 X25519 临时密钥对
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key pair: %w", err)
	}
	return &KeyPair{
		private: priv,
		Public:  priv.PublicKey().Bytes(),
	}, nil
}

// SharedKey 计算与对端公钥的共享密钥
//
// X25519 ECDH 原始共享值经 HKDF-SHA256 派生为 32 字节会话密钥。
// 派生信息绑定双方公钥（按字典序排列），双方独立计算得到相同密钥。
func (kp *KeyPair) SharedKey(peerPublic []byte) ([]byte, error) {
	peer, err := ecdh.X25519().NewPublicKey(peerPublic)
	if err != nil {
		return nil, fmt.Errorf("parse peer public key: %w", err)
	}

	secret, err := kp.private.ECDH(peer)
	if err != nil {
		return nil, fmt.Errorf("compute shared secret: %w", err)
	}

	return DeriveKey(secret, keyDerivationInfo(kp.Public, peerPublic))
}

// keyDerivationInfo 构造密钥派生信息
//
// 公钥按字典序排列，保证发起方与响应方得到相同的 info。
func keyDerivationInfo(pubA, pubB []byte) []byte {
	lo, hi := pubA, pubB
	if bytes.Compare(lo, hi) > 0 {
		lo, hi = hi, lo
	}
	info := make([]byte, 0, len(hkdfLabel)+len(lo)+len(hi))
	info = append(info, hkdfLabel...)
	info = append(info, lo...)
	info = append(info, hi...)
	return info
}

// DeriveKey 从原始密钥材料派生 32 字节密钥
func DeriveKey(secret, info []byte) ([]byte, error) {
	reader := hkdf.New(sha256.New, secret, nil, info)
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}
