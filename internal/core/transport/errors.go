// Package transport 实现双路径传输层
package transport

import "errors"

var (
	// ErrNoConnection 目标设备没有可用连接
	ErrNoConnection = errors.New("no connection to device")

	// ErrNoTarget 信封缺少目标设备
	ErrNoTarget = errors.New("envelope has no target device")

	// ErrTimeout 路径发送或拨号超时
	ErrTimeout = errors.New("transport timeout")

	// ErrClosed 传输已停止
	ErrClosed = errors.New("transport closed")

	// ErrNoEndpoint 未配置云中继端点
	ErrNoEndpoint = errors.New("no cloud endpoint configured")
)
