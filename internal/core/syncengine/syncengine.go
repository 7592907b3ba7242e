// Package syncengine 实现剪贴板同步引擎
//
// 同步引擎负责剪贴板内容在信封层的封装与还原：出站时用
// 对端共享密钥加密并构造剪贴板信封，入站时解密、去重并
// 还原为剪贴板快照。双路径传输意味着同一消息可能送达两次，
// 引擎以消息 ID 和 (设备, nonce) 两个维度抑制重复应用：
// 第二份副本在明文缓存窗口内直接取缓存结果，不再解密。
//
// 引擎不直接读写剪贴板，应用与事件发布由上层协调完成。
package syncengine

import (
	"errors"
	"fmt"
	"time"

	"github.com/syncboard/go-syncboard/config"
	"github.com/syncboard/go-syncboard/internal/core/cryptobox"
	"github.com/syncboard/go-syncboard/internal/core/envelope"
	"github.com/syncboard/go-syncboard/pkg/lib/log"
	"github.com/syncboard/go-syncboard/pkg/types"
)

var logger = log.Logger("core/syncengine")

// ============================================================================
//                              错误定义
// ============================================================================

var (
	// ErrNotClipboard 信封不是剪贴板消息
	ErrNotClipboard = errors.New("not a clipboard envelope")

	// ErrNotEncrypted 剪贴板信封缺少加密元数据
	//
	// 剪贴板内容必须加密传输，明文信封仅允许控制消息。
	ErrNotEncrypted = errors.New("clipboard envelope is not encrypted")

	// ErrEmptyContent 剪贴板快照为空
	ErrEmptyContent = errors.New("empty clipboard content")
)

// ============================================================================
//                              协作接口
// ============================================================================

// KeySource 提供与对端协商出的共享对称密钥
//
// 未配对的设备返回 cryptobox.ErrMissingKey。
type KeySource interface {
	SharedKey(peer types.DeviceID) ([]byte, error)
}

// ============================================================================
//                              Result - 应用结果
// ============================================================================

// Result 一次入站信封的处理结果
type Result struct {
	// MessageID 信封的消息 ID
	MessageID string

	// From 发送方设备信息，取自信封声明
	From types.DeviceInfo

	// Snapshot 解密出的剪贴板快照
	//
	// 重复消息若明文缓存已过期则为零值快照。
	Snapshot types.Snapshot

	// Duplicate 是否为被抑制的重复消息
	//
	// 为 true 时快照未被重新解密，调用方不应再次应用。
	Duplicate bool

	// DupKind 重复的判定维度，仅 Duplicate 为 true 时非空
	//
	// "messageId" 表示同一消息 ID 的第二份副本；"nonce" 表示
	// 已知 (设备, nonce) 组合换了消息 ID 重放。
	DupKind string
}

// 重复判定维度
const (
	// DupByMessageID 按消息 ID 判定的重复
	DupByMessageID = "messageId"
	// DupByNonce 按 (设备, nonce) 组合判定的重复
	DupByNonce = "nonce"
)

// ============================================================================
//                              Engine - 同步引擎
// ============================================================================

// Engine 剪贴板同步引擎
//
// 所有方法并发安全。
type Engine struct {
	device  types.DeviceInfo
	version int
	keys    KeySource
	dedup   *deduper
}

// NewEngine 创建同步引擎
func NewEngine(device types.DeviceInfo, cfg config.SyncConfig, version int, keys KeySource) *Engine {
	return &Engine{
		device:  device,
		version: version,
		keys:    keys,
		dedup:   newDeduper(cfg),
	}
}

// Build 为目标设备构造加密的剪贴板信封
//
// 明文用与目标设备的共享密钥加密，AEAD 附加认证数据为本机
// 设备 ID，防止密文被换名重放到其他设备。每次调用生成新的
// 消息 ID 与随机 nonce。
func (e *Engine) Build(target types.DeviceID, snap types.Snapshot) (*envelope.Envelope, error) {
	if snap.Empty() {
		return nil, ErrEmptyContent
	}

	key, err := e.keys.SharedKey(target)
	if err != nil {
		return nil, fmt.Errorf("load key for %s: %w", target.Short(), err)
	}

	box, err := cryptobox.Seal(key, snap.Data, []byte(e.device.ID))
	if err != nil {
		return nil, fmt.Errorf("encrypt clipboard for %s: %w", target.Short(), err)
	}

	contentType := snap.ContentType
	if contentType == "" {
		contentType = types.ContentTypeText
	}

	env := envelope.New(e.version, envelope.TypeClipboard, envelope.Payload{
		ContentType:    contentType,
		Ciphertext:     box.Ciphertext,
		DeviceID:       e.device.ID,
		DeviceName:     e.device.Name,
		DevicePlatform: string(e.device.Platform),
		Target:         target,
		Encryption: envelope.EncryptionMeta{
			Nonce: box.Nonce,
			Tag:   box.Tag,
		},
	})
	return env, nil
}

// Apply 处理一个入站剪贴板信封
//
// 去重、解密并还原为剪贴板快照。重复消息返回 Duplicate 标记
// 且不重新解密：同一消息 ID 的第二份副本在缓存窗口内直接取
// 缓存明文，已出现过的 (设备, nonce) 组合换了消息 ID 也会被
// 抑制。解密失败的信封不占用去重条目。
func (e *Engine) Apply(env *envelope.Envelope) (*Result, error) {
	if env == nil || env.Type != envelope.TypeClipboard {
		return nil, ErrNotClipboard
	}
	if !env.Encrypted() {
		return nil, ErrNotEncrypted
	}

	from := types.DeviceInfo{
		ID:       env.Payload.DeviceID,
		Name:     env.Payload.DeviceName,
		Platform: types.Platform(env.Payload.DevicePlatform),
	}

	if e.dedup.seenID(env.ID) {
		snap, hit := e.dedup.cached(env.ID)
		logger.Debug("重复消息已抑制",
			"id", env.ID, "from", from.ID.Short(), "cacheHit", hit)
		return &Result{MessageID: env.ID, From: from, Snapshot: snap, Duplicate: true, DupKind: DupByMessageID}, nil
	}

	nonce := env.Payload.Encryption.Nonce
	if e.dedup.seenNonce(from.ID, nonce) {
		logger.Warn("已知 nonce 以新消息 ID 重放，已抑制",
			"from", from.ID.Short(), "id", env.ID)
		return &Result{MessageID: env.ID, From: from, Duplicate: true, DupKind: DupByNonce}, nil
	}

	key, err := e.keys.SharedKey(from.ID)
	if err != nil {
		return nil, fmt.Errorf("load key for %s: %w", from.ID.Short(), err)
	}

	plain, err := cryptobox.Open(key, env.Payload.Ciphertext, nonce, env.Payload.Encryption.Tag, []byte(from.ID))
	if err != nil {
		return nil, fmt.Errorf("decrypt clipboard from %s: %w", from.ID.Short(), err)
	}

	contentType := env.Payload.ContentType
	if contentType == "" {
		contentType = types.ContentTypeText
	}

	snap := types.Snapshot{
		ContentType: contentType,
		Data:        plain,
		CapturedAt:  time.UnixMilli(env.Timestamp),
	}
	e.dedup.remember(env.ID, from.ID, nonce, snap)

	logger.Debug("剪贴板消息已解密",
		"from", from.ID.Short(), "id", env.ID,
		"contentType", contentType, "bytes", len(plain))
	return &Result{MessageID: env.ID, From: from, Snapshot: snap}, nil
}
