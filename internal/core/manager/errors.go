// Package manager 把传输、监督、配对与同步引擎聚合为统一入口
package manager

import "errors"

var (
	// ErrManagerClosed 管理器已停止
	ErrManagerClosed = errors.New("manager closed")

	// ErrNoClipboard 未配置剪贴板协作方
	ErrNoClipboard = errors.New("no clipboard collaborator configured")

	// ErrInitiatorNotFound 配对载荷里的服务实例尚未出现在局域网发现中
	ErrInitiatorNotFound = errors.New("pairing initiator not discovered on lan")
)
