// Package wsproto 提供最小化的 WebSocket 协议引擎
package wsproto

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

// 操作码（RFC 6455 §5.2）
const (
	opContinuation byte = 0x0
	opText         byte = 0x1
	opBinary       byte = 0x2
	opClose        byte = 0x8
	opPing         byte = 0x9
	opPong         byte = 0xA
)

// 关闭状态码
const (
	// CloseNormal 正常关闭
	CloseNormal uint16 = 1000
	// CloseProtocolError 协议错误
	CloseProtocolError uint16 = 1002
	// CloseTooBig 消息过大
	CloseTooBig uint16 = 1009
)

// maxControlPayload 控制帧负载上限（RFC 6455 §5.5）
const maxControlPayload = 125

// ============================================================================
//                              帧解析
// ============================================================================

// frame 一个完整的 WebSocket 帧
type frame struct {
	fin     bool
	opcode  byte
	payload []byte
}

// isControl 判断是否为控制帧
func (f frame) isControl() bool {
	return f.opcode >= opClose
}

// parseFrame 从接收缓冲区解析一个完整帧
//
// 字节布局：
//
//	byte 0: FIN(1) RSV(3) opcode(4)
//	byte 1: MASK(1) length(7)
//	length==126: 后续 2 字节大端扩展长度
//	length==127: 后续 8 字节大端扩展长度
//	MASK 置位: 后续 4 字节掩码键，负载逐字节异或还原
//
// 返回解析出的帧和消耗的字节数。数据不足一个完整帧时
// 返回 consumed==0，调用方等待更多字节后重试。
func parseFrame(buf []byte, maxSize int64) (frame, int, error) {
	if len(buf) < 2 {
		return frame{}, 0, nil
	}

	b0, b1 := buf[0], buf[1]

	fin := b0&0x80 != 0
	if b0&0x70 != 0 {
		// 未协商任何扩展，保留位必须为零
		return frame{}, 0, fmt.Errorf("%w: reserved bits set", ErrProtocol)
	}

	opcode := b0 & 0x0F
	switch opcode {
	case opContinuation, opText, opBinary, opClose, opPing, opPong:
	default:
		return frame{}, 0, fmt.Errorf("%w: unknown opcode 0x%x", ErrProtocol, opcode)
	}

	masked := b1&0x80 != 0
	length := int64(b1 & 0x7F)
	offset := 2

	switch length {
	case 126:
		if len(buf) < offset+2 {
			return frame{}, 0, nil
		}
		length = int64(binary.BigEndian.Uint16(buf[offset : offset+2]))
		offset += 2
	case 127:
		if len(buf) < offset+8 {
			return frame{}, 0, nil
		}
		raw := binary.BigEndian.Uint64(buf[offset : offset+8])
		if raw&(1<<63) != 0 {
			return frame{}, 0, fmt.Errorf("%w: length high bit set", ErrProtocol)
		}
		length = int64(raw)
		offset += 8
	}

	if opcode >= opClose {
		if !fin {
			return frame{}, 0, fmt.Errorf("%w: fragmented control frame", ErrProtocol)
		}
		if length > maxControlPayload {
			return frame{}, 0, fmt.Errorf("%w: control payload %d bytes", ErrProtocol, length)
		}
	}

	if length > maxSize {
		return frame{}, 0, fmt.Errorf("%w: %d bytes exceeds limit %d", ErrMessageTooLarge, length, maxSize)
	}

	var maskKey [4]byte
	if masked {
		if len(buf) < offset+4 {
			return frame{}, 0, nil
		}
		copy(maskKey[:], buf[offset:offset+4])
		offset += 4
	}

	if int64(len(buf)-offset) < length {
		return frame{}, 0, nil
	}

	// 负载必须拷贝：接收缓冲区随后会被压缩复用
	payload := make([]byte, length)
	copy(payload, buf[offset:offset+int(length)])
	if masked {
		maskBytes(payload, maskKey)
	}

	return frame{fin: fin, opcode: opcode, payload: payload}, offset + int(length), nil
}

// maskBytes 用 4 字节掩码键对负载做循环异或
//
// 掩码与还原是同一操作。
func maskBytes(payload []byte, key [4]byte) {
	for i := range payload {
		payload[i] ^= key[i&3]
	}
}

// ============================================================================
//                              帧构造
// ============================================================================

// buildFrame 序列化一个 FIN 帧
//
// mask 为真时（客户端侧）生成随机掩码键并掩码负载。
// 长度编码选择最短形式：<126 直接编码，<=65535 用 2 字节
// 扩展，否则用 8 字节扩展。
func buildFrame(opcode byte, mask bool, payload []byte) ([]byte, error) {
	if opcode >= opClose && len(payload) > maxControlPayload {
		return nil, fmt.Errorf("%w: %d bytes", ErrControlTooLong, len(payload))
	}

	header := make([]byte, 2, 14)
	header[0] = 0x80 | opcode

	length := len(payload)
	switch {
	case length < 126:
		header[1] = byte(length)
	case length <= 0xFFFF:
		header[1] = 126
		header = binary.BigEndian.AppendUint16(header, uint16(length))
	default:
		header[1] = 127
		header = binary.BigEndian.AppendUint64(header, uint64(length))
	}

	body := payload
	if mask {
		header[1] |= 0x80
		var key [4]byte
		if _, err := rand.Read(key[:]); err != nil {
			return nil, fmt.Errorf("generate mask key: %w", err)
		}
		header = append(header, key[:]...)

		body = make([]byte, length)
		copy(body, payload)
		maskBytes(body, key)
	}

	return append(header, body...), nil
}

// ============================================================================
//                              关闭负载
// ============================================================================

// buildClosePayload 构造关闭帧负载（2 字节状态码 + 原因）
func buildClosePayload(code uint16, reason string) []byte {
	p := make([]byte, 2+len(reason))
	binary.BigEndian.PutUint16(p[:2], code)
	copy(p[2:], reason)
	if len(p) > maxControlPayload {
		p = p[:maxControlPayload]
	}
	return p
}

// parseClosePayload 解析关闭帧负载
func parseClosePayload(p []byte) (uint16, string) {
	if len(p) < 2 {
		return CloseNormal, ""
	}
	return binary.BigEndian.Uint16(p[:2]), string(p[2:])
}
