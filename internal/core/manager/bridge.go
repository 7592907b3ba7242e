// Package manager 把传输、监督、配对与同步引擎聚合为统一入口
package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/syncboard/go-syncboard/config"
	"github.com/syncboard/go-syncboard/internal/core/envelope"
	"github.com/syncboard/go-syncboard/internal/core/metrics"
	"github.com/syncboard/go-syncboard/internal/core/supervisor"
	"github.com/syncboard/go-syncboard/pkg/types"
)

// ============================================================================
//                              Bridge - 监督器协作方
// ============================================================================

// Bridge 把两条传输路径适配成监督器的拨号与心跳协作方
//
// 监督器只认识 Dialer 与 HeartbeatSender 两个小接口，桥接放在
// 管理器包里以免监督器反向依赖传输层。
type Bridge struct {
	device  types.DeviceID
	version int
	lan     LANPath
	cloud   CloudPath
	rec     *metrics.Recorder
}

var (
	_ supervisor.Dialer          = (*Bridge)(nil)
	_ supervisor.HeartbeatSender = (*Bridge)(nil)
)

// NewBridge 创建监督器桥接
func NewBridge(cfg *config.Config, lan LANPath, cloud CloudPath, rec *metrics.Recorder) *Bridge {
	if rec == nil {
		rec = metrics.NewRecorder("syncboard")
	}
	return &Bridge{
		device:  types.DeviceID(cfg.Identity.DeviceID),
		version: cfg.Frame.Version,
		lan:     lan,
		cloud:   cloud,
		rec:     rec,
	}
}

// DialLAN 实现 supervisor.Dialer
func (b *Bridge) DialLAN(ctx context.Context, peer types.DeviceID) error {
	b.rec.ReconnectAttempt()
	return b.lan.Connect(ctx, peer)
}

// DialCloud 实现 supervisor.Dialer
//
// 云连接是共享的，多台设备的拨号收敛到同一条 WebSocket 上。
func (b *Bridge) DialCloud(ctx context.Context, _ types.DeviceID) error {
	b.rec.ReconnectAttempt()
	return b.cloud.Connect(ctx)
}

// heartbeatPing 心跳探测数据，确认方原样回送
type heartbeatPing struct {
	At int64 `json:"at"`
}

// SendHeartbeat 实现 supervisor.HeartbeatSender
func (b *Bridge) SendHeartbeat(ctx context.Context, peer types.DeviceID, route types.Route) error {
	data, err := json.Marshal(heartbeatPing{At: time.Now().UnixMilli()})
	if err != nil {
		return fmt.Errorf("序列化心跳: %w", err)
	}
	env := envelope.NewControl(b.version, b.device, envelope.ActionHeartbeat, data).WithTarget(peer)

	switch route {
	case types.RouteLAN:
		return b.lan.Send(ctx, env)
	case types.RouteCloud:
		return b.cloud.Send(ctx, env)
	default:
		return fmt.Errorf("心跳无法走路径 %q", route)
	}
}
