// Package envelope 提供消息信封模型与帧编解码
package envelope

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// headerSize 长度前缀的字节数
const headerSize = 4

// ============================================================================
//                              Codec - 帧编解码器
// ============================================================================

// Codec 帧编解码器
//
// 编码：JSON 序列化信封并加 4 字节大端长度前缀；
// 解码：按前缀还原信封。最大长度在两个方向上都强制检查。
type Codec struct {
	maxFrameSize int
}

// NewCodec 创建帧编解码器
//
// maxFrameSize 限制 JSON 信封体（不含前缀）的最大字节数。
func NewCodec(maxFrameSize int) *Codec {
	return &Codec{maxFrameSize: maxFrameSize}
}

// MaxFrameSize 返回配置的最大信封体长度
func (c *Codec) MaxFrameSize() int {
	return c.maxFrameSize
}

// Encode 将信封编码为帧字节
//
// 序列化后的信封体超过最大长度时返回 ErrPayloadTooLarge，
// 不产生任何输出。
func (c *Codec) Encode(env *Envelope) ([]byte, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if len(body) > c.maxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit %d", ErrPayloadTooLarge, len(body), c.maxFrameSize)
	}

	frame := make([]byte, headerSize+len(body))
	binary.BigEndian.PutUint32(frame[:headerSize], uint32(len(body)))
	copy(frame[headerSize:], body)
	return frame, nil
}

// Decode 将帧字节解码为信封
//
// 检查顺序：
//  1. 前缀不完整或实际字节少于声明长度 → ErrTruncated
//  2. 声明长度超过最大长度 → ErrPayloadTooLarge（在读取信封体之前判定）
//  3. JSON 解析失败 → ErrMalformed
func (c *Codec) Decode(frame []byte) (*Envelope, error) {
	if len(frame) < headerSize {
		return nil, fmt.Errorf("%w: %d bytes, need at least %d", ErrTruncated, len(frame), headerSize)
	}

	declared := binary.BigEndian.Uint32(frame[:headerSize])
	if declared > uint32(c.maxFrameSize) {
		return nil, fmt.Errorf("%w: declared %d bytes exceeds limit %d", ErrPayloadTooLarge, declared, c.maxFrameSize)
	}

	body := frame[headerSize:]
	if uint32(len(body)) < declared {
		return nil, fmt.Errorf("%w: declared %d bytes, got %d", ErrTruncated, declared, len(body))
	}

	var env Envelope
	if err := json.Unmarshal(body[:declared], &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &env, nil
}
