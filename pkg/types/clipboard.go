// Package types 定义 SyncBoard 公共类型
//
// 本文件定义剪贴板快照。
package types

import (
	"time"
)

// ============================================================================
//                              ContentType - 内容类型
// ============================================================================

// 剪贴板内容类型常量
const (
	// ContentTypeText 纯文本
	ContentTypeText = "text/plain"
	// ContentTypePNG PNG 图片
	ContentTypePNG = "image/png"
	// ContentTypeFileList 文件路径列表
	ContentTypeFileList = "text/uri-list"
)

// ============================================================================
//                              Snapshot - 剪贴板快照
// ============================================================================

// Snapshot 某一时刻的剪贴板内容
//
// 由 ClipboardIO 采集器读出或写回。Data 为原始字节，
// 加密在同步引擎中进行，快照本身始终是明文。
type Snapshot struct {
	// ContentType 内容 MIME 类型
	ContentType string

	// Data 内容字节
	Data []byte

	// CapturedAt 采集时间
	CapturedAt time.Time
}

// Empty 判断快照是否为空
func (s Snapshot) Empty() bool {
	return len(s.Data) == 0
}

// ============================================================================
//                              ClipboardIO - 剪贴板访问接口
// ============================================================================

// ClipboardIO 本机剪贴板访问接口
//
// 由平台适配层实现，核心引擎只通过该接口读写剪贴板。
type ClipboardIO interface {
	// Read 读取当前剪贴板内容
	Read() (Snapshot, error)

	// Write 将内容写入剪贴板
	Write(Snapshot) error
}
