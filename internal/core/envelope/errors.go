// Package envelope 提供消息信封模型与帧编解码
package envelope

import "errors"

// ============================================================================
//                              错误定义
// ============================================================================

var (
	// ErrTruncated 帧字节数少于长度前缀声明的长度
	ErrTruncated = errors.New("frame truncated")

	// ErrPayloadTooLarge 信封体超过配置的最大长度
	ErrPayloadTooLarge = errors.New("frame payload too large")

	// ErrMalformed 信封体不是合法的 JSON
	ErrMalformed = errors.New("frame malformed")
)
