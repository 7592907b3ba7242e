package main

import (
	"sync"

	"github.com/syncboard/go-syncboard/pkg/types"
)

// memClipboard 内存剪贴板
//
// 守护进程不接平台剪贴板（X11/Wayland/Windows 各不相同，由
// 上层适配器提供），用内存实现承接同步下来的内容，保证
// SyncClipboard 与入站写回有处可落。
type memClipboard struct {
	mu      sync.Mutex
	current types.Snapshot
}

func newMemClipboard() *memClipboard {
	return &memClipboard{}
}

// Read 读取当前剪贴板内容
func (c *memClipboard) Read() (types.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current, nil
}

// Write 将内容写入剪贴板
func (c *memClipboard) Write(snap types.Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = snap
	return nil
}
