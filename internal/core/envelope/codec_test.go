package envelope

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncboard/go-syncboard/pkg/types"
)

func testEnvelope() *Envelope {
	return New(1, TypeClipboard, Payload{
		ContentType: types.ContentTypeText,
		Ciphertext:  []byte{0xde, 0xad, 0xbe, 0xef},
		DeviceID:    "deviceA",
		DeviceName:  "工作台",
		Encryption: EncryptionMeta{
			Nonce: bytes.Repeat([]byte{0x01}, 12),
			Tag:   bytes.Repeat([]byte{0x02}, 16),
		},
	})
}

// TestCodecRoundTrip 测试编码解码往返
func TestCodecRoundTrip(t *testing.T) {
	codec := NewCodec(64 * 1024)
	env := testEnvelope()

	frame, err := codec.Encode(env)
	require.NoError(t, err)

	// 前缀声明长度与实际信封体一致
	declared := binary.BigEndian.Uint32(frame[:4])
	assert.Equal(t, int(declared), len(frame)-4)

	decoded, err := codec.Decode(frame)
	require.NoError(t, err)

	assert.Equal(t, env.ID, decoded.ID)
	assert.Equal(t, env.Timestamp, decoded.Timestamp)
	assert.Equal(t, env.Version, decoded.Version)
	assert.Equal(t, env.Type, decoded.Type)
	assert.Equal(t, env.Payload.ContentType, decoded.Payload.ContentType)
	assert.Equal(t, env.Payload.Ciphertext, decoded.Payload.Ciphertext)
	assert.Equal(t, env.Payload.DeviceID, decoded.Payload.DeviceID)
	assert.Equal(t, env.Payload.Encryption.Nonce, decoded.Payload.Encryption.Nonce)
	assert.Equal(t, env.Payload.Encryption.Tag, decoded.Payload.Encryption.Tag)
}

// TestCodecTruncated 测试截断帧的拒绝
func TestCodecTruncated(t *testing.T) {
	codec := NewCodec(64 * 1024)
	frame, err := codec.Encode(testEnvelope())
	require.NoError(t, err)

	tests := []struct {
		name  string
		frame []byte
	}{
		{"空帧", nil},
		{"前缀不完整", frame[:3]},
		{"信封体缺前半", frame[:4]},
		{"信封体缺尾部", frame[:len(frame)-1]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := codec.Decode(tt.frame)
			assert.ErrorIs(t, err, ErrTruncated)
		})
	}
}

// TestCodecPayloadTooLarge 测试超长信封在两个方向上都被拒绝
func TestCodecPayloadTooLarge(t *testing.T) {
	codec := NewCodec(256)

	t.Run("编码侧", func(t *testing.T) {
		env := testEnvelope()
		env.Payload.Ciphertext = bytes.Repeat([]byte{0xab}, 512)
		_, err := codec.Encode(env)
		assert.ErrorIs(t, err, ErrPayloadTooLarge)
	})

	t.Run("解码侧", func(t *testing.T) {
		big := NewCodec(64 * 1024)
		env := testEnvelope()
		env.Payload.Ciphertext = bytes.Repeat([]byte{0xab}, 512)
		frame, err := big.Encode(env)
		require.NoError(t, err)

		_, err = codec.Decode(frame)
		assert.ErrorIs(t, err, ErrPayloadTooLarge)
	})

	t.Run("声明长度超限时不读信封体", func(t *testing.T) {
		// 前缀声明超大长度但没有任何信封体，应报超长而非截断
		frame := make([]byte, 4)
		binary.BigEndian.PutUint32(frame, 1<<30)
		_, err := codec.Decode(frame)
		assert.ErrorIs(t, err, ErrPayloadTooLarge)
		assert.False(t, errors.Is(err, ErrTruncated))
	})
}

// TestCodecMalformed 测试非法 JSON 的拒绝
func TestCodecMalformed(t *testing.T) {
	codec := NewCodec(64 * 1024)

	body := []byte(`{"id": "x", "type": `)
	frame := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(frame[:4], uint32(len(body)))
	copy(frame[4:], body)

	_, err := codec.Decode(frame)
	assert.ErrorIs(t, err, ErrMalformed)
}

// TestCodecIgnoresTrailingBytes 测试只解析声明长度内的信封体
func TestCodecIgnoresTrailingBytes(t *testing.T) {
	codec := NewCodec(64 * 1024)
	frame, err := codec.Encode(testEnvelope())
	require.NoError(t, err)

	// 帧后拼接垃圾字节不影响解码
	withTrailer := append(append([]byte{}, frame...), 0xff, 0xfe)
	decoded, err := codec.Decode(withTrailer)
	require.NoError(t, err)
	assert.Equal(t, TypeClipboard, decoded.Type)
}
