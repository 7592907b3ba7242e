package envelope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewEnvelope 测试信封构造
func TestNewEnvelope(t *testing.T) {
	env := New(1, TypeClipboard, Payload{DeviceID: "deviceA"})

	require.NotEmpty(t, env.ID)
	assert.Greater(t, env.Timestamp, int64(0))
	assert.Equal(t, 1, env.Version)
	assert.Equal(t, TypeClipboard, env.Type)

	// 两次构造的 ID 必须不同
	other := New(1, TypeClipboard, Payload{DeviceID: "deviceA"})
	assert.NotEqual(t, env.ID, other.ID)
}

// TestEnvelopeEncrypted 测试加密判定
func TestEnvelopeEncrypted(t *testing.T) {
	env := New(1, TypeControl, Payload{DeviceID: "deviceA", Action: ActionHeartbeat})
	assert.False(t, env.Encrypted())

	enc := env.Reencrypted([]byte{1}, []byte{2}, []byte{3})
	assert.True(t, enc.Encrypted())
}

// TestReencrypted 测试按路径重新加密的信封克隆
func TestReencrypted(t *testing.T) {
	env := New(1, TypeClipboard, Payload{
		DeviceID:   "deviceA",
		Ciphertext: []byte("lan-ciphertext"),
	})
	env.Payload.Encryption = EncryptionMeta{Nonce: []byte("n1"), Tag: []byte("t1")}

	clone := env.Reencrypted([]byte("cloud-ciphertext"), []byte("n2"), []byte("t2"))

	// ID 与时间戳共享，密文与 nonce 独立
	assert.Equal(t, env.ID, clone.ID)
	assert.Equal(t, env.Timestamp, clone.Timestamp)
	assert.NotEqual(t, env.Payload.Ciphertext, clone.Payload.Ciphertext)
	assert.NotEqual(t, env.Payload.Encryption.Nonce, clone.Payload.Encryption.Nonce)

	// 原信封不被改动
	assert.Equal(t, []byte("lan-ciphertext"), []byte(env.Payload.Ciphertext))
	assert.Equal(t, []byte("n1"), env.Payload.Encryption.Nonce)
}

// TestTypeValid 测试信封类型判定
func TestTypeValid(t *testing.T) {
	assert.True(t, TypeClipboard.Valid())
	assert.True(t, TypeControl.Valid())
	assert.False(t, Type("gossip").Valid())
	assert.False(t, Type("").Valid())
}
