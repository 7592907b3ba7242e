package syncengine

import (
	"fmt"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/syncboard/go-syncboard/config"
	"github.com/syncboard/go-syncboard/pkg/types"
)

// ============================================================================
//                              deduper - 去重缓存
// ============================================================================

// deduper 入站消息的去重缓存
//
// 维护三个带 TTL 且限容的 LRU：
//   - ids: 已处理的消息 ID，识别双路径送达的第二份副本
//   - payloads: 消息 ID 到解密明文的短时缓存，副本直接取结果
//   - nonces: 已出现的 (设备, nonce) 组合，抑制换 ID 的密文重放
//
// expirable.LRU 自带互斥保护，deduper 可被多个接收协程并发使用。
type deduper struct {
	ids      *expirable.LRU[string, struct{}]
	payloads *expirable.LRU[string, types.Snapshot]
	nonces   *expirable.LRU[string, struct{}]
}

// newDeduper 按同步配置创建去重缓存
func newDeduper(cfg config.SyncConfig) *deduper {
	return &deduper{
		ids:      expirable.NewLRU[string, struct{}](cfg.DedupCapacity, nil, cfg.DedupTTL.Duration()),
		payloads: expirable.NewLRU[string, types.Snapshot](cfg.DedupCapacity, nil, cfg.PayloadCacheTTL.Duration()),
		nonces:   expirable.NewLRU[string, struct{}](cfg.NonceCacheCapacity, nil, cfg.NonceCacheTTL.Duration()),
	}
}

// seenID 判断消息 ID 是否已被处理过
//
// 通过 Get 读取以便在访问时惰性剔除过期条目，
// Contains 不检查 TTL。
func (d *deduper) seenID(id string) bool {
	_, ok := d.ids.Get(id)
	return ok
}

// cached 返回已处理消息的解密快照
//
// 明文缓存的 TTL 短于 ID 缓存，副本到达太晚时 ID 仍命中
// 而明文已淘汰，此时返回零值快照。
func (d *deduper) cached(id string) (types.Snapshot, bool) {
	return d.payloads.Get(id)
}

// seenNonce 判断 (设备, nonce) 组合是否已出现过
func (d *deduper) seenNonce(device types.DeviceID, nonce []byte) bool {
	_, ok := d.nonces.Get(nonceKey(device, nonce))
	return ok
}

// remember 记录一次成功的解密应用
//
// 只有真正解密成功的消息才会进入缓存，解密失败的信封
// 不占用去重条目，重发修复后的消息不受影响。
func (d *deduper) remember(id string, device types.DeviceID, nonce []byte, snap types.Snapshot) {
	d.ids.Add(id, struct{}{})
	d.payloads.Add(id, snap)
	d.nonces.Add(nonceKey(device, nonce), struct{}{})
}

// nonceKey 构造 (设备, nonce) 缓存键
func nonceKey(device types.DeviceID, nonce []byte) string {
	return fmt.Sprintf("%s:%x", device, nonce)
}
