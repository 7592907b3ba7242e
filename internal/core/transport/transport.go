// Package transport 实现双路径传输层
//
// LAN 与云中继两条路径共用同一套 WebSocket 引擎与帧编解码，
// Dual 将两条路径组合为冗余发送：两条腿总是并发发出，LAN 腿
// 受回退超时约束，至少一条成功即视为发送成功。
package transport

import (
	"context"
	"time"

	"github.com/syncboard/go-syncboard/internal/core/envelope"
	"github.com/syncboard/go-syncboard/pkg/lib/log"
	"github.com/syncboard/go-syncboard/pkg/types"
)

var logger = log.Logger("core/transport")

// PathSender 一条冗余路径上的发送端
type PathSender interface {
	// Route 返回路径类别
	Route() types.Route

	// Send 在本路径上发出一个信封
	Send(ctx context.Context, env *envelope.Envelope) error
}

// KeySource 提供与对端协商出的共享对称密钥
//
// 未配对的设备返回 cryptobox.ErrMissingKey。
type KeySource interface {
	SharedKey(peer types.DeviceID) ([]byte, error)
}

// EnvelopeHandler 入站信封回调
type EnvelopeHandler func(from types.DeviceID, env *envelope.Envelope)

// PeerDownHandler 对端连接断开回调
type PeerDownHandler func(peer types.DeviceID, err error)

// ============================================================================
//                              Reporter - 发送结果上报
// ============================================================================

// Reporter 把每条路径的发送结果上报给可观测性协作方
//
// 无论整体成败，双路径发送的两条腿都会各上报一次。
type Reporter interface {
	SendOutcome(route types.Route, ok bool, elapsed time.Duration)
}

// NopReporter 丢弃所有上报
type NopReporter struct{}

// SendOutcome 实现 Reporter
func (NopReporter) SendOutcome(types.Route, bool, time.Duration) {}
