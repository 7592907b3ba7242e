package syncboard

import (
	"errors"

	"github.com/syncboard/go-syncboard/internal/core/keystore"
	"github.com/syncboard/go-syncboard/internal/core/manager"
)

// 公共错误定义
var (
	// ────────────────────────────────────────────────────────────────────────
	// 节点生命周期错误
	// ────────────────────────────────────────────────────────────────────────

	// ErrNotStarted 节点未启动
	ErrNotStarted = errors.New("node not started")

	// ErrAlreadyStarted 节点已启动
	ErrAlreadyStarted = errors.New("node already started")

	// ErrNodeClosed 节点已关闭
	ErrNodeClosed = errors.New("node closed")

	// ────────────────────────────────────────────────────────────────────────
	// 同步与配对错误（与内部哨兵同源，errors.Is 跨层可用）
	// ────────────────────────────────────────────────────────────────────────

	// ErrNotPaired 目标设备未配对
	ErrNotPaired = keystore.ErrNotPaired

	// ErrNoClipboard 未接入剪贴板实现
	ErrNoClipboard = manager.ErrNoClipboard

	// ErrPeerNotDiscovered 配对票据指向的设备尚未在局域网中发现
	//
	// 对端可能尚未被浏览循环看到，稍后重试即可。
	ErrPeerNotDiscovered = manager.ErrInitiatorNotFound
)
