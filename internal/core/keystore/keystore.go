// Package keystore 实现共享密钥与配对设备的持久化存储
//
// 配对引擎协商出的每设备共享密钥和配对设备注册表都保存在
// 这里。持久化实现基于 Badger，密钥条目在落盘前用本机主
// 密钥做 AEAD 二次封装；内存实现供测试和无盘场景使用。
//
// Store 同时满足配对引擎的密钥写入接口和传输层、同步引擎
// 的密钥读取接口，未配对设备统一返回 cryptobox.ErrMissingKey。
package keystore

import (
	"errors"
	"time"

	"github.com/syncboard/go-syncboard/pkg/types"
)

// ============================================================================
//                              错误定义
// ============================================================================

var (
	// ErrClosed 存储已关闭
	ErrClosed = errors.New("keystore is closed")

	// ErrNotPaired 设备不在配对注册表中
	ErrNotPaired = errors.New("device not paired")

	// ErrInvalidKey 共享密钥长度不合法
	ErrInvalidKey = errors.New("invalid shared key size")

	// ErrInvalidDevice 配对设备记录缺少设备 ID
	ErrInvalidDevice = errors.New("paired device record missing device id")
)

// ============================================================================
//                              Store - 存储接口
// ============================================================================

// Store 密钥与配对设备存储
//
// 所有方法并发安全。SharedKey 在密钥缺失时返回
// cryptobox.ErrMissingKey，调用方据此区分"未配对"
// 与传输失败。
type Store interface {
	// SharedKey 返回与对端协商出的共享对称密钥
	SharedKey(peer types.DeviceID) ([]byte, error)

	// PutSharedKey 保存与对端的共享密钥
	PutSharedKey(peer types.DeviceID, key []byte) error

	// SavePairedDevice 保存或更新配对设备记录
	SavePairedDevice(rec types.PairedDevice) error

	// PairedDevice 返回指定设备的配对记录
	PairedDevice(peer types.DeviceID) (types.PairedDevice, error)

	// ListPaired 返回全部配对设备，按设备 ID 排序
	ListPaired() ([]types.PairedDevice, error)

	// TouchRoute 更新设备最近一次成功通信的路径与时间
	TouchRoute(peer types.DeviceID, route types.Route, at time.Time) error

	// Unpair 删除设备的共享密钥与配对记录，幂等
	Unpair(peer types.DeviceID) error

	// Close 关闭存储
	Close() error
}
