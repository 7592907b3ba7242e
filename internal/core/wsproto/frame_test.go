package wsproto

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMaxSize = 16 * 1024 * 1024

// TestBuildParseRoundTrip 测试帧构造与解析往返
func TestBuildParseRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		mask    bool
		headLen int // 期望的头部长度（含掩码键）
	}{
		{"7位长度未掩码", 125, false, 2},
		{"7位长度掩码", 125, true, 6},
		{"2字节扩展边界下", 126, false, 4},
		{"2字节扩展上界", 65535, false, 4},
		{"8字节扩展", 65536, false, 10},
		{"8字节扩展掩码", 70000, true, 14},
		{"空负载", 0, false, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := bytes.Repeat([]byte{0x5a}, tt.size)

			raw, err := buildFrame(opBinary, tt.mask, payload)
			require.NoError(t, err)
			assert.Equal(t, tt.headLen+tt.size, len(raw))

			f, consumed, err := parseFrame(raw, testMaxSize)
			require.NoError(t, err)
			assert.Equal(t, len(raw), consumed)
			assert.True(t, f.fin)
			assert.Equal(t, opBinary, f.opcode)
			assert.Equal(t, payload, f.payload)
		})
	}
}

// TestExtendedLengthEncoding 测试 70000 字节负载使用 8 字节扩展长度并逐字节还原
func TestExtendedLengthEncoding(t *testing.T) {
	payload := make([]byte, 70000)
	for i := range payload {
		payload[i] = byte(i % 251)
	}

	raw, err := buildFrame(opBinary, false, payload)
	require.NoError(t, err)

	// 70000 超过 16 位上限，必须选择 8 字节扩展形式
	assert.Equal(t, byte(127), raw[1]&0x7F)
	assert.Equal(t, uint64(70000), binary.BigEndian.Uint64(raw[2:10]))

	f, consumed, err := parseFrame(raw, testMaxSize)
	require.NoError(t, err)
	assert.Equal(t, len(raw), consumed)
	assert.True(t, bytes.Equal(payload, f.payload))
}

// TestParseIncomplete 测试数据不足时等待更多字节
func TestParseIncomplete(t *testing.T) {
	raw, err := buildFrame(opBinary, true, bytes.Repeat([]byte{1}, 300))
	require.NoError(t, err)

	// 任意前缀都解析不出完整帧，且不报错
	for _, cut := range []int{0, 1, 2, 3, 5, 7, len(raw) - 1} {
		f, consumed, err := parseFrame(raw[:cut], testMaxSize)
		require.NoError(t, err, "cut=%d", cut)
		assert.Zero(t, consumed, "cut=%d", cut)
		assert.Nil(t, f.payload)
	}
}

// TestParseProtocolViolations 测试协议违规帧
func TestParseProtocolViolations(t *testing.T) {
	t.Run("保留位置位", func(t *testing.T) {
		raw, _ := buildFrame(opBinary, false, []byte("x"))
		raw[0] |= 0x40
		_, _, err := parseFrame(raw, testMaxSize)
		assert.ErrorIs(t, err, ErrProtocol)
	})

	t.Run("未知操作码", func(t *testing.T) {
		raw, _ := buildFrame(opBinary, false, []byte("x"))
		raw[0] = 0x80 | 0x3
		_, _, err := parseFrame(raw, testMaxSize)
		assert.ErrorIs(t, err, ErrProtocol)
	})

	t.Run("分片控制帧", func(t *testing.T) {
		raw, _ := buildFrame(opPing, false, []byte("x"))
		raw[0] &^= 0x80 // 清除 FIN
		_, _, err := parseFrame(raw, testMaxSize)
		assert.ErrorIs(t, err, ErrProtocol)
	})

	t.Run("超限消息", func(t *testing.T) {
		raw, _ := buildFrame(opBinary, false, bytes.Repeat([]byte{1}, 2048))
		_, _, err := parseFrame(raw, 1024)
		assert.ErrorIs(t, err, ErrMessageTooLarge)
	})
}

// TestMaskRoundTrip 测试掩码的自逆性
func TestMaskRoundTrip(t *testing.T) {
	payload := []byte("masked payload 掩码负载")
	original := append([]byte{}, payload...)
	key := [4]byte{0xde, 0xad, 0xbe, 0xef}

	maskBytes(payload, key)
	assert.NotEqual(t, original, payload)
	maskBytes(payload, key)
	assert.Equal(t, original, payload)
}

// TestControlPayloadLimit 测试控制帧负载上限
func TestControlPayloadLimit(t *testing.T) {
	_, err := buildFrame(opPing, false, bytes.Repeat([]byte{1}, 126))
	assert.ErrorIs(t, err, ErrControlTooLong)

	raw, err := buildFrame(opPing, false, bytes.Repeat([]byte{1}, 125))
	require.NoError(t, err)
	_, consumed, err := parseFrame(raw, testMaxSize)
	require.NoError(t, err)
	assert.Equal(t, len(raw), consumed)
}

// TestClosePayload 测试关闭负载编解码
func TestClosePayload(t *testing.T) {
	p := buildClosePayload(CloseTooBig, "message too large")
	code, reason := parseClosePayload(p)
	assert.Equal(t, CloseTooBig, code)
	assert.Equal(t, "message too large", reason)

	// 空负载按正常关闭处理
	code, reason = parseClosePayload(nil)
	assert.Equal(t, CloseNormal, code)
	assert.Empty(t, reason)
}

// TestParseSequentialFrames 测试缓冲区内多帧顺序解析
func TestParseSequentialFrames(t *testing.T) {
	a, _ := buildFrame(opBinary, false, []byte("first"))
	b, _ := buildFrame(opText, false, []byte("second"))
	buf := append(append([]byte{}, a...), b...)

	f1, n1, err := parseFrame(buf, testMaxSize)
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), f1.payload)

	f2, n2, err := parseFrame(buf[n1:], testMaxSize)
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), f2.payload)
	assert.Equal(t, len(buf), n1+n2)
}
