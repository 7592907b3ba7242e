package keystore

import (
	"sort"
	"sync"
	"time"

	"github.com/syncboard/go-syncboard/internal/core/cryptobox"
	"github.com/syncboard/go-syncboard/pkg/types"
)

// ============================================================================
//                              Memory - 内存存储
// ============================================================================

// Memory 纯内存实现
//
// 进程退出即丢失，供测试与显式配置的无盘模式使用。
type Memory struct {
	mu      sync.RWMutex
	closed  bool
	keys    map[types.DeviceID][]byte
	devices map[types.DeviceID]types.PairedDevice
}

// NewMemory 创建内存存储
func NewMemory() *Memory {
	return &Memory{
		keys:    make(map[types.DeviceID][]byte),
		devices: make(map[types.DeviceID]types.PairedDevice),
	}
}

// SharedKey 实现 Store
func (m *Memory) SharedKey(peer types.DeviceID) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	key, ok := m.keys[peer]
	if !ok {
		return nil, cryptobox.ErrMissingKey
	}
	out := make([]byte, len(key))
	copy(out, key)
	return out, nil
}

// PutSharedKey 实现 Store
func (m *Memory) PutSharedKey(peer types.DeviceID, key []byte) error {
	if len(key) != cryptobox.KeySize {
		return ErrInvalidKey
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	stored := make([]byte, len(key))
	copy(stored, key)
	m.keys[peer] = stored
	return nil
}

// SavePairedDevice 实现 Store
func (m *Memory) SavePairedDevice(rec types.PairedDevice) error {
	if rec.Device.ID.Empty() {
		return ErrInvalidDevice
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.devices[rec.Device.ID] = rec
	return nil
}

// PairedDevice 实现 Store
func (m *Memory) PairedDevice(peer types.DeviceID) (types.PairedDevice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return types.PairedDevice{}, ErrClosed
	}
	rec, ok := m.devices[peer]
	if !ok {
		return types.PairedDevice{}, ErrNotPaired
	}
	return rec, nil
}

// ListPaired 实现 Store
func (m *Memory) ListPaired() ([]types.PairedDevice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make([]types.PairedDevice, 0, len(m.devices))
	for _, rec := range m.devices {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Device.ID < out[j].Device.ID
	})
	return out, nil
}

// TouchRoute 实现 Store
func (m *Memory) TouchRoute(peer types.DeviceID, route types.Route, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	rec, ok := m.devices[peer]
	if !ok {
		return ErrNotPaired
	}
	rec.LastRoute = route
	rec.LastSeen = at
	m.devices[peer] = rec
	return nil
}

// Unpair 实现 Store
func (m *Memory) Unpair(peer types.DeviceID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.keys, peer)
	delete(m.devices, peer)
	return nil
}

// Close 实现 Store
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.keys = nil
	m.devices = nil
	return nil
}

var _ Store = (*Memory)(nil)
