// Package manager 把传输、监督、配对与同步引擎聚合为统一入口
package manager

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/syncboard/go-syncboard/internal/core/cryptobox"
	"github.com/syncboard/go-syncboard/internal/core/envelope"
	"github.com/syncboard/go-syncboard/internal/core/pairing"
	"github.com/syncboard/go-syncboard/pkg/types"
)

// ============================================================================
//                              入站分发
// ============================================================================

// inbound 两条路径的入站信封都汇到这里
//
// 在传输层的读 goroutine 内执行，处理须保持轻量。
func (m *Manager) inbound(from types.DeviceID, env *envelope.Envelope, route types.Route) {
	if m.closed.Load() || env == nil {
		return
	}
	if from.Empty() {
		from = env.Payload.DeviceID
	}

	switch env.Type {
	case envelope.TypeClipboard:
		m.applyClipboard(from, env, route)
	case envelope.TypeControl:
		m.handleControl(from, env, route)
	default:
		logger.Debug("忽略未知信封类型",
			"type", env.Type, "from", from.Short())
	}
}

// applyClipboard 解密、去重并落地一条剪贴板消息
func (m *Manager) applyClipboard(from types.DeviceID, env *envelope.Envelope, route types.Route) {
	res, err := m.sync.Apply(env)
	if err != nil {
		if errors.Is(err, cryptobox.ErrMissingKey) {
			logger.Warn("收到未配对设备的剪贴板消息", "from", from.Short())
		} else {
			logger.Warn("入站剪贴板消息处理失败",
				"from", from.Short(), "route", route, "err", err)
		}
		return
	}

	if res.Duplicate {
		m.rec.DedupHit(res.DupKind)
		logger.Debug("重复消息已抑制",
			"messageId", res.MessageID, "kind", res.DupKind, "route", route)
		return
	}

	if m.clip != nil {
		if err := m.clip.Write(res.Snapshot); err != nil {
			logger.Warn("剪贴板写入失败", "from", from.Short(), "err", err)
		}
	}

	m.rec.SyncApplied(len(res.Snapshot.Data))
	m.touchRoute(from, route)
	m.em.emitSyncApplied(res)

	logger.Debug("剪贴板内容已应用",
		"messageId", res.MessageID,
		"from", from.Short(),
		"route", route,
		"size", len(res.Snapshot.Data))
}

// ============================================================================
//                              控制动作
// ============================================================================

// handleControl 按动作分发控制信封
func (m *Manager) handleControl(from types.DeviceID, env *envelope.Envelope, route types.Route) {
	switch env.Payload.Action {
	case envelope.ActionHeartbeat:
		// 原样回送对方的探测数据
		m.replyControl(from, route, envelope.ActionHeartbeatAck, env.Payload.Data)

	case envelope.ActionHeartbeatAck:
		m.sup.NotifyAck(from)

	case envelope.ActionPairingChallenge:
		m.handlePairingChallenge(from, env, route)

	case envelope.ActionPairingAck:
		m.handlePairingAck(from, env)

	default:
		logger.Debug("忽略未知控制动作",
			"action", env.Payload.Action, "from", from.Short())
	}
}

// handlePairingChallenge 发起方收到响应方的配对挑战
func (m *Manager) handlePairingChallenge(from types.DeviceID, env *envelope.Envelope, route types.Route) {
	var msg pairing.ChallengeMessage
	if err := json.Unmarshal(env.Payload.Data, &msg); err != nil {
		logger.Warn("配对挑战解析失败", "from", from.Short(), "err", err)
		return
	}

	ack, err := m.pair.HandleChallenge(&msg)
	if err != nil {
		logger.Warn("配对挑战被拒绝", "from", from.Short(), "err", err)
		return
	}

	data, err := json.Marshal(ack)
	if err != nil {
		logger.Warn("配对确认序列化失败", "err", err)
		return
	}
	m.replyControl(from, route, envelope.ActionPairingAck, data)
}

// handlePairingAck 响应方收到发起方的配对确认
func (m *Manager) handlePairingAck(from types.DeviceID, env *envelope.Envelope) {
	var msg pairing.AckMessage
	if err := json.Unmarshal(env.Payload.Data, &msg); err != nil {
		logger.Warn("配对确认解析失败", "from", from.Short(), "err", err)
		return
	}
	if err := m.pair.HandleAck(&msg); err != nil {
		logger.Warn("配对确认被拒绝", "from", from.Short(), "err", err)
	}
}

// replyControl 沿收到消息的路径把控制信封回送给对端
func (m *Manager) replyControl(target types.DeviceID, route types.Route, action string, data json.RawMessage) {
	env := envelope.NewControl(m.version, m.device.ID, action, data).WithTarget(target)

	var err error
	switch route {
	case types.RouteLAN:
		err = m.lan.Send(m.ctx, env)
	case types.RouteCloud:
		err = m.cloud.Send(m.ctx, env)
	default:
		err = fmt.Errorf("无法按路径 %q 回送", route)
	}
	if err != nil {
		logger.Debug("控制信封回送失败",
			"action", action, "target", target.Short(), "route", route, "err", err)
	}
}

// controlEnvelope 构造一个带目标的控制信封
func controlEnvelope(version int, device, target types.DeviceID, action string, payload interface{}) (*envelope.Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("序列化控制载荷: %w", err)
	}
	return envelope.NewControl(version, device, action, data).WithTarget(target), nil
}
