package transport

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncboard/go-syncboard/config"
	"github.com/syncboard/go-syncboard/internal/core/envelope"
	"github.com/syncboard/go-syncboard/internal/core/wsproto"
	"github.com/syncboard/go-syncboard/pkg/types"
)

// startForwardingRelay 启动按 target 转发帧的中继替身
func startForwardingRelay(t *testing.T, codec *envelope.Codec) (endpoint string) {
	t.Helper()
	srv := wsproto.NewServer(testWSListenConfig())
	srv.OnMessage(func(_ *wsproto.Conn, data []byte) {
		env, err := codec.Decode(data)
		if err != nil {
			return
		}
		_ = srv.Send(env.Payload.Target, data)
	})
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { _ = srv.Stop(context.Background()) })
	return fmt.Sprintf("ws://127.0.0.1:%d", srv.Port())
}

func newCloudClient(t *testing.T, device types.DeviceID, endpoint string, codec *envelope.Codec) (*Cloud, chan received) {
	t.Helper()
	cfg := testTransportConfig()
	cfg.CloudEndpoint = endpoint

	c := NewCloud(device, cfg, testWSListenConfig(), codec)
	recv := make(chan received, 4)
	c.OnEnvelope(func(from types.DeviceID, env *envelope.Envelope) {
		recv <- received{from, env}
	})
	t.Cleanup(func() { _ = c.Close() })
	return c, recv
}

// TestCloudRelayExchange 测试经中继的设备间收发
func TestCloudRelayExchange(t *testing.T) {
	codec := envelope.NewCodec(1024 * 1024)
	endpoint := startForwardingRelay(t, codec)

	cloudA, _ := newCloudClient(t, "deviceA", endpoint, codec)
	cloudB, bRecv := newCloudClient(t, "deviceB", endpoint, codec)

	require.NoError(t, cloudA.Connect(context.Background()))
	require.NoError(t, cloudB.Connect(context.Background()))
	assert.True(t, cloudA.Connected())

	env := plainEnvelope("deviceA", "deviceB")
	require.NoError(t, cloudA.Send(context.Background(), env))

	select {
	case got := <-bRecv:
		// 中继多路复用，来源取信封内声明的发送方
		assert.Equal(t, types.DeviceID("deviceA"), got.from)
		assert.Equal(t, env.ID, got.env.ID)
	case <-time.After(3 * time.Second):
		t.Fatal("B 未收到中继转发的信封")
	}
}

// TestCloudConnectIdempotent 测试重复连接直接复用
func TestCloudConnectIdempotent(t *testing.T) {
	codec := envelope.NewCodec(1024 * 1024)
	endpoint := startForwardingRelay(t, codec)

	cloud, _ := newCloudClient(t, "deviceA", endpoint, codec)
	require.NoError(t, cloud.Connect(context.Background()))
	first := cloud.Connected()
	require.NoError(t, cloud.Connect(context.Background()))

	assert.True(t, first)
	assert.True(t, cloud.Connected())
}

// TestCloudNoEndpoint 测试未配置端点的错误
func TestCloudNoEndpoint(t *testing.T) {
	codec := envelope.NewCodec(1024 * 1024)
	cloud := NewCloud("deviceA", testTransportConfig(), testWSListenConfig(), codec)

	err := cloud.Connect(context.Background())
	assert.ErrorIs(t, err, ErrNoEndpoint)
}

// TestCloudSendPreconditions 测试发送前置条件
func TestCloudSendPreconditions(t *testing.T) {
	codec := envelope.NewCodec(1024 * 1024)
	cfg := testTransportConfig()
	cfg.CloudEndpoint = "ws://127.0.0.1:1"
	cloud := NewCloud("deviceA", cfg, testWSListenConfig(), codec)

	err := cloud.Send(context.Background(), plainEnvelope("deviceA", ""))
	assert.ErrorIs(t, err, ErrNoTarget)

	err = cloud.Send(context.Background(), plainEnvelope("deviceA", "deviceB"))
	assert.ErrorIs(t, err, ErrNoConnection)
}

// TestCloudDownNotification 测试中继侧关闭触发断开回调
func TestCloudDownNotification(t *testing.T) {
	codec := envelope.NewCodec(1024 * 1024)

	srv := wsproto.NewServer(testWSListenConfig())
	require.NoError(t, srv.Start(context.Background()))
	endpoint := fmt.Sprintf("ws://127.0.0.1:%d", srv.Port())

	cloud, _ := newCloudClient(t, "deviceA", endpoint, codec)
	down := make(chan struct{}, 1)
	cloud.OnDown(func(types.DeviceID, error) { down <- struct{}{} })

	require.NoError(t, cloud.Connect(context.Background()))
	require.NoError(t, srv.Stop(context.Background()))

	select {
	case <-down:
	case <-time.After(3 * time.Second):
		t.Fatal("中继关闭未触发断开回调")
	}
	require.Eventually(t, func() bool { return !cloud.Connected() },
		3*time.Second, 20*time.Millisecond)
}
