package keystore

import (
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncboard/go-syncboard/internal/core/cryptobox"
	"github.com/syncboard/go-syncboard/pkg/types"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, cryptobox.KeySize)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func pairedRec(id, name string) types.PairedDevice {
	return types.PairedDevice{
		Device: types.DeviceInfo{
			ID:       types.DeviceID(id),
			Name:     name,
			Platform: types.PlatformLinux,
		},
		PairedAt: time.Now().Truncate(time.Second),
	}
}

// withStores 对每种实现运行同一组断言
func withStores(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("内存", func(t *testing.T) {
		s := NewMemory()
		t.Cleanup(func() { _ = s.Close() })
		fn(t, s)
	})
	t.Run("Badger", func(t *testing.T) {
		s, err := OpenBadger(t.TempDir(), 0)
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		fn(t, s)
	})
}

func TestStoreSharedKeyRoundTrip(t *testing.T) {
	withStores(t, func(t *testing.T, s Store) {
		peer := types.DeviceID("device-a")

		_, err := s.SharedKey(peer)
		require.ErrorIs(t, err, cryptobox.ErrMissingKey)

		key := testKey(t)
		require.NoError(t, s.PutSharedKey(peer, key))

		got, err := s.SharedKey(peer)
		require.NoError(t, err)
		assert.Equal(t, key, got)

		// 返回值是副本，调用方改动不影响存储内容
		got[0] ^= 0xFF
		again, err := s.SharedKey(peer)
		require.NoError(t, err)
		assert.Equal(t, key, again)

		// 覆盖写入
		next := testKey(t)
		require.NoError(t, s.PutSharedKey(peer, next))
		got, err = s.SharedKey(peer)
		require.NoError(t, err)
		assert.Equal(t, next, got)
	})
}

func TestStoreRejectsBadKeySize(t *testing.T) {
	withStores(t, func(t *testing.T, s Store) {
		err := s.PutSharedKey("device-a", []byte("too short"))
		require.ErrorIs(t, err, ErrInvalidKey)
	})
}

func TestStorePairedDeviceRegistry(t *testing.T) {
	withStores(t, func(t *testing.T, s Store) {
		_, err := s.PairedDevice("device-a")
		require.ErrorIs(t, err, ErrNotPaired)

		require.NoError(t, s.SavePairedDevice(pairedRec("device-b", "Phone")))
		require.NoError(t, s.SavePairedDevice(pairedRec("device-a", "Laptop")))

		rec, err := s.PairedDevice("device-a")
		require.NoError(t, err)
		assert.Equal(t, "Laptop", rec.Device.Name)

		list, err := s.ListPaired()
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, types.DeviceID("device-a"), list[0].Device.ID)
		assert.Equal(t, types.DeviceID("device-b"), list[1].Device.ID)

		err = s.SavePairedDevice(types.PairedDevice{})
		require.ErrorIs(t, err, ErrInvalidDevice)
	})
}

func TestStoreTouchRoute(t *testing.T) {
	withStores(t, func(t *testing.T, s Store) {
		require.ErrorIs(t, s.TouchRoute("device-a", types.RouteLAN, time.Now()), ErrNotPaired)

		require.NoError(t, s.SavePairedDevice(pairedRec("device-a", "Laptop")))
		at := time.Now().Truncate(time.Second)
		require.NoError(t, s.TouchRoute("device-a", types.RouteCloud, at))

		rec, err := s.PairedDevice("device-a")
		require.NoError(t, err)
		assert.Equal(t, types.RouteCloud, rec.LastRoute)
		assert.True(t, rec.LastSeen.Equal(at))
	})
}

func TestStoreUnpair(t *testing.T) {
	withStores(t, func(t *testing.T, s Store) {
		peer := types.DeviceID("device-a")
		require.NoError(t, s.PutSharedKey(peer, testKey(t)))
		require.NoError(t, s.SavePairedDevice(pairedRec(string(peer), "Laptop")))

		require.NoError(t, s.Unpair(peer))

		_, err := s.SharedKey(peer)
		assert.ErrorIs(t, err, cryptobox.ErrMissingKey)
		_, err = s.PairedDevice(peer)
		assert.ErrorIs(t, err, ErrNotPaired)

		// 幂等
		require.NoError(t, s.Unpair(peer))
	})
}

func TestStoreClosedRejects(t *testing.T) {
	withStores(t, func(t *testing.T, s Store) {
		require.NoError(t, s.Close())

		_, err := s.SharedKey("device-a")
		assert.ErrorIs(t, err, ErrClosed)
		assert.ErrorIs(t, s.PutSharedKey("device-a", testKey(t)), ErrClosed)
		_, err = s.ListPaired()
		assert.ErrorIs(t, err, ErrClosed)

		// 重复关闭无害
		require.NoError(t, s.Close())
	})
}

// ============================================================================
//                              Badger 专属行为
// ============================================================================

func TestBadgerPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	peer := types.DeviceID("device-a")
	key := testKey(t)

	s, err := OpenBadger(dir, 0)
	require.NoError(t, err)
	require.NoError(t, s.PutSharedKey(peer, key))
	require.NoError(t, s.SavePairedDevice(pairedRec(string(peer), "Laptop")))
	require.NoError(t, s.Close())

	reopened, err := OpenBadger(dir, 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	got, err := reopened.SharedKey(peer)
	require.NoError(t, err)
	assert.Equal(t, key, got)

	rec, err := reopened.PairedDevice(peer)
	require.NoError(t, err)
	assert.Equal(t, "Laptop", rec.Device.Name)
}

func TestBadgerSealsKeysUnderMasterKey(t *testing.T) {
	dir := t.TempDir()
	peer := types.DeviceID("device-a")

	s, err := OpenBadger(dir, 0)
	require.NoError(t, err)
	require.NoError(t, s.PutSharedKey(peer, testKey(t)))
	require.NoError(t, s.Close())

	// 主密钥文件以 0600 权限生成
	info, err := os.Stat(filepath.Join(dir, masterFile))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	// 换掉主密钥后旧条目解封失败，证明密钥并非明文落盘
	tampered := make([]byte, cryptobox.KeySize)
	_, err = rand.Read(tampered)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, masterFile), tampered, 0o600))

	reopened, err := OpenBadger(dir, 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	_, err = reopened.SharedKey(peer)
	require.ErrorIs(t, err, cryptobox.ErrAuthentication)
}
