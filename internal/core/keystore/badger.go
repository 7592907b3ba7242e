package keystore

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/syncboard/go-syncboard/internal/core/cryptobox"
	"github.com/syncboard/go-syncboard/pkg/lib/log"
	"github.com/syncboard/go-syncboard/pkg/types"
)

var logger = log.Logger("core/keystore")

// 键前缀与主密钥文件名
const (
	keyPrefix    = "sk/"
	devicePrefix = "pd/"
	masterFile   = "master.key"

	// gcDiscardRatio 值日志垃圾回收的空间回收阈值
	gcDiscardRatio = 0.5
)

// ============================================================================
//                              sealedKey - 落盘密钥记录
// ============================================================================

// sealedKey 共享密钥的落盘形态
//
// 密钥明文绝不直接写入 Badger，先用主密钥做 AEAD 封装，
// AAD 绑定对端设备 ID，条目被整体挪到其他设备名下时解封失败。
type sealedKey struct {
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
	Tag        []byte `json:"tag"`
}

// ============================================================================
//                              Badger - 持久化存储
// ============================================================================

// Badger 基于 Badger 的持久化实现
type Badger struct {
	db     *badger.DB
	master []byte
	closed atomic.Bool

	gcCancel context.CancelFunc
	gcWg     sync.WaitGroup
}

// OpenBadger 打开或创建持久化密钥存储
//
// path 下包含 Badger 数据目录和主密钥文件，主密钥在首次
// 打开时随机生成。gcInterval 为值日志垃圾回收周期，
// 传 0 关闭后台回收。
func OpenBadger(path string, gcInterval time.Duration) (*Badger, error) {
	if path == "" {
		return nil, fmt.Errorf("keystore: empty path")
	}
	if err := os.MkdirAll(path, 0o700); err != nil {
		return nil, fmt.Errorf("create keystore dir: %w", err)
	}

	master, err := loadOrCreateMaster(filepath.Join(path, masterFile))
	if err != nil {
		return nil, err
	}

	opts := badger.DefaultOptions(filepath.Join(path, "db")).
		WithLogger(nil).
		WithSyncWrites(true)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open keystore db: %w", err)
	}

	s := &Badger{db: db, master: master}

	ctx, cancel := context.WithCancel(context.Background())
	s.gcCancel = cancel
	if gcInterval > 0 {
		s.gcWg.Add(1)
		go s.gcLoop(ctx, gcInterval)
	}

	logger.Info("密钥存储已打开", "path", path)
	return s, nil
}

// loadOrCreateMaster 读取或生成主密钥
func loadOrCreateMaster(file string) ([]byte, error) {
	master, err := os.ReadFile(file)
	switch {
	case err == nil:
		if len(master) != cryptobox.KeySize {
			return nil, fmt.Errorf("keystore: corrupt master key (%d bytes)", len(master))
		}
		return master, nil
	case os.IsNotExist(err):
		master = make([]byte, cryptobox.KeySize)
		if _, err := rand.Read(master); err != nil {
			return nil, fmt.Errorf("generate master key: %w", err)
		}
		if err := os.WriteFile(file, master, 0o600); err != nil {
			return nil, fmt.Errorf("write master key: %w", err)
		}
		logger.Info("已生成新的主密钥", "file", file)
		return master, nil
	default:
		return nil, fmt.Errorf("read master key: %w", err)
	}
}

// gcLoop 周期性回收值日志空间
func (s *Badger) gcLoop(ctx context.Context, interval time.Duration) {
	defer s.gcWg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// 反复回收直到没有可回收空间
			for s.db.RunValueLogGC(gcDiscardRatio) == nil {
			}
		}
	}
}

// SharedKey 实现 Store
func (s *Badger) SharedKey(peer types.DeviceID) ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	var sealed sealedKey
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + string(peer)))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &sealed)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, cryptobox.ErrMissingKey
	}
	if err != nil {
		return nil, fmt.Errorf("load key for %s: %w", peer.Short(), err)
	}

	key, err := cryptobox.Open(s.master, sealed.Ciphertext, sealed.Nonce, sealed.Tag, keyAAD(peer))
	if err != nil {
		return nil, fmt.Errorf("unseal key for %s: %w", peer.Short(), err)
	}
	return key, nil
}

// PutSharedKey 实现 Store
func (s *Badger) PutSharedKey(peer types.DeviceID, key []byte) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if len(key) != cryptobox.KeySize {
		return ErrInvalidKey
	}

	box, err := cryptobox.Seal(s.master, key, keyAAD(peer))
	if err != nil {
		return fmt.Errorf("seal key for %s: %w", peer.Short(), err)
	}
	val, err := json.Marshal(sealedKey{
		Nonce:      box.Nonce,
		Ciphertext: box.Ciphertext,
		Tag:        box.Tag,
	})
	if err != nil {
		return fmt.Errorf("encode sealed key: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyPrefix+string(peer)), val)
	})
	if err != nil {
		return fmt.Errorf("store key for %s: %w", peer.Short(), err)
	}
	return nil
}

// SavePairedDevice 实现 Store
func (s *Badger) SavePairedDevice(rec types.PairedDevice) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if rec.Device.ID.Empty() {
		return ErrInvalidDevice
	}

	val, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode paired device: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(devicePrefix+string(rec.Device.ID)), val)
	})
	if err != nil {
		return fmt.Errorf("store paired device %s: %w", rec.Device.ID.Short(), err)
	}
	return nil
}

// PairedDevice 实现 Store
func (s *Badger) PairedDevice(peer types.DeviceID) (types.PairedDevice, error) {
	if s.closed.Load() {
		return types.PairedDevice{}, ErrClosed
	}

	var rec types.PairedDevice
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(devicePrefix + string(peer)))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return types.PairedDevice{}, ErrNotPaired
	}
	if err != nil {
		return types.PairedDevice{}, fmt.Errorf("load paired device %s: %w", peer.Short(), err)
	}
	return rec, nil
}

// ListPaired 实现 Store
func (s *Badger) ListPaired() ([]types.PairedDevice, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	var out []types.PairedDevice
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(devicePrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var rec types.PairedDevice
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list paired devices: %w", err)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Device.ID < out[j].Device.ID
	})
	return out, nil
}

// TouchRoute 实现 Store
func (s *Badger) TouchRoute(peer types.DeviceID, route types.Route, at time.Time) error {
	if s.closed.Load() {
		return ErrClosed
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		key := []byte(devicePrefix + string(peer))
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		var rec types.PairedDevice
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		}); err != nil {
			return err
		}
		rec.LastRoute = route
		rec.LastSeen = at
		val, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return txn.Set(key, val)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotPaired
	}
	if err != nil {
		return fmt.Errorf("touch route for %s: %w", peer.Short(), err)
	}
	return nil
}

// Unpair 实现 Store
func (s *Badger) Unpair(peer types.DeviceID) error {
	if s.closed.Load() {
		return ErrClosed
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete([]byte(keyPrefix + string(peer))); err != nil {
			return err
		}
		return txn.Delete([]byte(devicePrefix + string(peer)))
	})
	if err != nil {
		return fmt.Errorf("unpair %s: %w", peer.Short(), err)
	}
	return nil
}

// Close 实现 Store
func (s *Badger) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.gcCancel()
	s.gcWg.Wait()
	return s.db.Close()
}

// keyAAD 构造密钥封装的附加认证数据
func keyAAD(peer types.DeviceID) []byte {
	return []byte("keystore:" + string(peer))
}

var _ Store = (*Badger)(nil)
