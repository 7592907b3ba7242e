package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncboard/go-syncboard/config"
	"github.com/syncboard/go-syncboard/internal/core/envelope"
	"github.com/syncboard/go-syncboard/internal/core/pairing"
	"github.com/syncboard/go-syncboard/internal/core/wsproto"
	relayclient "github.com/syncboard/go-syncboard/internal/relay/client"
	"github.com/syncboard/go-syncboard/pkg/types"
)

func testConfig() *config.Config {
	cfg := config.NewConfig()
	cfg.Relay.ListenAddr = "127.0.0.1:0"
	cfg.Relay.CodeTTL = config.Duration(time.Minute)
	cfg.Relay.MailboxTTL = config.Duration(2 * time.Minute)
	cfg.Relay.CleanupInterval = config.Duration(time.Second)
	return cfg
}

func testRegistry(clk clock.Clock) *registry {
	cfg := config.DefaultRelayConfig()
	cfg.CodeTTL = config.Duration(time.Minute)
	cfg.MailboxTTL = config.Duration(2 * time.Minute)
	return newRegistry(cfg, clk)
}

// ============================================================================
//                              注册表
// ============================================================================

// TestRegistryCreateAndClaim 验证短码签发、认领与单次认领约束
func TestRegistryCreateAndClaim(t *testing.T) {
	mock := clock.NewMock()
	reg := testRegistry(mock)

	grant, err := reg.create(pairing.CodeRequest{
		DeviceID:   "device-a",
		DeviceName: "工作机",
		PublicKey:  []byte{0xAA, 0xBB},
	})
	require.NoError(t, err)
	assert.Len(t, grant.Code, config.DefaultRelayConfig().CodeLength)
	assert.Equal(t, mock.Now().Add(time.Minute).UnixMilli(), grant.ExpiresAt)
	assert.Equal(t, 1, reg.size())

	// 认领换取发起方公钥
	claim, err := reg.claim(grant.Code, pairing.ClaimRequest{DeviceID: "device-b"})
	require.NoError(t, err)
	assert.Equal(t, types.DeviceID("device-a"), claim.InitiatorDeviceID)
	assert.Equal(t, "工作机", claim.InitiatorDeviceName)
	assert.Equal(t, []byte{0xAA, 0xBB}, claim.InitiatorPublicKey)

	// 每个短码只能认领一次
	_, err = reg.claim(grant.Code, pairing.ClaimRequest{DeviceID: "device-c"})
	assert.ErrorIs(t, err, pairing.ErrCodeClaimed)

	// 未知短码
	_, err = reg.claim("999999", pairing.ClaimRequest{DeviceID: "device-c"})
	assert.ErrorIs(t, err, pairing.ErrCodeNotFound)
}

// TestRegistryCodeExpiry 验证认领截止后短码作废而信箱仍然可用
func TestRegistryCodeExpiry(t *testing.T) {
	mock := clock.NewMock()
	reg := testRegistry(mock)

	grant, err := reg.create(pairing.CodeRequest{DeviceID: "device-a"})
	require.NoError(t, err)

	// 越过认领截止：短码不可再认领
	mock.Add(time.Minute + time.Second)
	_, err = reg.claim(grant.Code, pairing.ClaimRequest{DeviceID: "device-b"})
	assert.ErrorIs(t, err, pairing.ErrCodeExpired)

	// 信箱在自己的截止前仍可读写，已认领的双方能完成交换
	require.NoError(t, reg.putChallenge(grant.Code, &pairing.ChallengeMessage{ChallengeID: "ch-1"}))
	msg, err := reg.takeChallenge(grant.Code)
	require.NoError(t, err)
	assert.Equal(t, "ch-1", msg.ChallengeID)

	// 越过信箱截止：一切操作报过期
	mock.Add(time.Minute)
	_, err = reg.takeChallenge(grant.Code)
	assert.ErrorIs(t, err, pairing.ErrCodeExpired)
	err = reg.putAck(grant.Code, &pairing.AckMessage{ChallengeID: "ch-1"})
	assert.ErrorIs(t, err, pairing.ErrCodeExpired)
}

// TestRegistryMailbox 验证信箱的空读、重复拉取与覆盖语义
func TestRegistryMailbox(t *testing.T) {
	mock := clock.NewMock()
	reg := testRegistry(mock)

	grant, err := reg.create(pairing.CodeRequest{DeviceID: "device-a"})
	require.NoError(t, err)

	// 空信箱
	_, err = reg.takeChallenge(grant.Code)
	assert.ErrorIs(t, err, pairing.ErrNotReady)
	_, err = reg.takeAck(grant.Code)
	assert.ErrorIs(t, err, pairing.ErrNotReady)

	// 读取不清空
	require.NoError(t, reg.putChallenge(grant.Code, &pairing.ChallengeMessage{ChallengeID: "ch-1"}))
	for i := 0; i < 2; i++ {
		msg, err := reg.takeChallenge(grant.Code)
		require.NoError(t, err)
		assert.Equal(t, "ch-1", msg.ChallengeID)
	}

	// 重投覆盖，以最新一份为准
	require.NoError(t, reg.putChallenge(grant.Code, &pairing.ChallengeMessage{ChallengeID: "ch-2"}))
	msg, err := reg.takeChallenge(grant.Code)
	require.NoError(t, err)
	assert.Equal(t, "ch-2", msg.ChallengeID)

	require.NoError(t, reg.putAck(grant.Code, &pairing.AckMessage{ChallengeID: "ch-2"}))
	ack, err := reg.takeAck(grant.Code)
	require.NoError(t, err)
	assert.Equal(t, "ch-2", ack.ChallengeID)
}

// TestRegistrySweep 验证过期会话的周期清理
func TestRegistrySweep(t *testing.T) {
	mock := clock.NewMock()
	reg := testRegistry(mock)

	_, err := reg.create(pairing.CodeRequest{DeviceID: "device-a"})
	require.NoError(t, err)

	mock.Add(time.Minute)
	later, err := reg.create(pairing.CodeRequest{DeviceID: "device-b"})
	require.NoError(t, err)
	assert.Equal(t, 2, reg.size())

	// 只有第一个会话的信箱到期
	mock.Add(time.Minute + time.Second)
	assert.Equal(t, 1, reg.sweep())
	assert.Equal(t, 1, reg.size())

	_, err = reg.takeChallenge(later.Code)
	assert.ErrorIs(t, err, pairing.ErrNotReady)
}

// TestGenerateCode 验证短码只含数字且长度正确
func TestGenerateCode(t *testing.T) {
	for _, length := range []int{4, 6, 12} {
		code, err := generateCode(length)
		require.NoError(t, err)
		assert.Len(t, code, length)
		for _, r := range code {
			assert.True(t, r >= '0' && r <= '9', "短码应只含数字: %q", code)
		}
	}
}

// ============================================================================
//                              HTTP 端点
// ============================================================================

// TestServerPairingFlow 用真实客户端走完一次完整的远程配对协调
func TestServerPairingFlow(t *testing.T) {
	srv := New(testConfig(), clock.New())
	require.NoError(t, srv.Start(context.Background()))
	defer srv.Stop(context.Background())

	relayCfg := config.DefaultRelayConfig()
	relayCfg.Endpoint = "http://" + srv.Addr()
	c := relayclient.New(relayCfg)
	ctx := context.Background()

	// 发起方申请短码
	grant, err := c.CreatePairingCode(ctx, pairing.CodeRequest{
		DeviceID:   "device-a",
		DeviceName: "工作机",
		PublicKey:  []byte{0x01, 0x02, 0x03},
	})
	require.NoError(t, err)
	require.Len(t, grant.Code, 6)
	assert.Equal(t, 1, srv.Sessions())

	// 挑战信箱尚空
	_, err = c.PollChallenge(ctx, grant.Code)
	assert.ErrorIs(t, err, pairing.ErrNotReady)

	// 响应方认领
	claim, err := c.ClaimPairingCode(ctx, grant.Code, pairing.ClaimRequest{
		DeviceID:   "device-b",
		DeviceName: "笔记本",
	})
	require.NoError(t, err)
	assert.Equal(t, types.DeviceID("device-a"), claim.InitiatorDeviceID)
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, claim.InitiatorPublicKey)

	// 双方经信箱交换挑战与确认
	require.NoError(t, c.SubmitChallenge(ctx, grant.Code, &pairing.ChallengeMessage{
		ChallengeID:       "ch-1",
		ResponderDeviceID: "device-b",
		Nonce:             []byte{1},
		Ciphertext:        []byte{2},
		Tag:               []byte{3},
	}))
	challenge, err := c.PollChallenge(ctx, grant.Code)
	require.NoError(t, err)
	assert.Equal(t, types.DeviceID("device-b"), challenge.ResponderDeviceID)

	require.NoError(t, c.SubmitAck(ctx, grant.Code, &pairing.AckMessage{
		ChallengeID:       "ch-1",
		InitiatorDeviceID: "device-a",
		Nonce:             []byte{4},
		Ciphertext:        []byte{5},
		Tag:               []byte{6},
	}))
	ack, err := c.PollAck(ctx, grant.Code)
	require.NoError(t, err)
	assert.Equal(t, "ch-1", ack.ChallengeID)

	// 终止条件经 HTTP 往返后保持哨兵语义
	_, err = c.ClaimPairingCode(ctx, grant.Code, pairing.ClaimRequest{DeviceID: "device-c"})
	assert.ErrorIs(t, err, pairing.ErrCodeClaimed)
	_, err = c.PollChallenge(ctx, "000000")
	assert.ErrorIs(t, err, pairing.ErrCodeNotFound)
}

// TestServerHealth 验证健康端点报告会话与转发统计
func TestServerHealth(t *testing.T) {
	srv := New(testConfig(), clock.New())
	require.NoError(t, srv.Start(context.Background()))
	defer srv.Stop(context.Background())

	resp, err := http.Get(fmt.Sprintf("http://%s/healthz", srv.Addr()))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health struct {
		Status   string `json:"status"`
		Sessions int    `json:"sessions"`
		Devices  int    `json:"devices"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 0, health.Sessions)
	assert.Equal(t, 0, health.Devices)
}

// TestServerRejectsBadBody 验证非法请求体返回 400
func TestServerRejectsBadBody(t *testing.T) {
	srv := New(testConfig(), clock.New())
	require.NoError(t, srv.Start(context.Background()))
	defer srv.Stop(context.Background())

	resp, err := http.Post(
		fmt.Sprintf("http://%s/pairing/codes", srv.Addr()),
		"application/json",
		nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// ============================================================================
//                              信封转发
// ============================================================================

// dialRelay 以指定设备身份连上中继并收集收到的帧
func dialRelay(t *testing.T, addr string, device types.DeviceID) (*wsproto.Conn, <-chan []byte) {
	t.Helper()
	wsCfg := config.DefaultWebSocketConfig()

	conn, err := wsproto.DialContext(context.Background(),
		fmt.Sprintf("ws://%s/ws", addr), device, wsCfg)
	require.NoError(t, err)

	frames := make(chan []byte, 8)
	conn.OnMessage(func(_ *wsproto.Conn, data []byte) {
		frames <- data
	})
	require.NoError(t, conn.Start(context.Background()))
	t.Cleanup(func() { _ = conn.Close() })
	return conn, frames
}

// TestServerForwarding 验证按目标转发、丢弃规则与计数
func TestServerForwarding(t *testing.T) {
	cfg := testConfig()
	srv := New(cfg, clock.New())
	require.NoError(t, srv.Start(context.Background()))
	defer srv.Stop(context.Background())

	connA, _ := dialRelay(t, srv.Addr(), "device-a")
	_, framesB := dialRelay(t, srv.Addr(), "device-b")

	codec := envelope.NewCodec(cfg.Frame.MaxFrameSize)
	encode := func(target types.DeviceID) []byte {
		env := envelope.New(cfg.Frame.Version, envelope.TypeClipboard, envelope.Payload{
			ContentType: "text/plain",
			Ciphertext:  []byte{0xDE, 0xAD},
			DeviceID:    "device-a",
			Target:      target,
			Encryption:  envelope.EncryptionMeta{Nonce: []byte{1}, Tag: []byte{2}},
		})
		frame, err := codec.Encode(env)
		require.NoError(t, err)
		return frame
	}

	// 指向 device-b 的信封原样送达
	frame := encode("device-b")
	require.NoError(t, connA.WriteMessage(frame))
	select {
	case got := <-framesB:
		assert.Equal(t, frame, got, "帧字节应原样转发")
	case <-time.After(3 * time.Second):
		t.Fatal("目标设备未收到转发帧")
	}

	// 缺目标、指向自身、目标离线：全部丢弃
	require.NoError(t, connA.WriteMessage(encode("")))
	require.NoError(t, connA.WriteMessage(encode("device-a")))
	require.NoError(t, connA.WriteMessage(encode("device-offline")))

	require.Eventually(t, func() bool {
		return srv.dropped.Load() == 3
	}, 3*time.Second, 20*time.Millisecond, "三类无效信封都应计入丢弃")
	assert.EqualValues(t, 1, srv.forwarded.Load())

	select {
	case <-framesB:
		t.Fatal("无效信封不应被转发")
	case <-time.After(100 * time.Millisecond):
	}
}

// ============================================================================
//                              生命周期
// ============================================================================

// TestServerLifecycle 验证重复启动、停止与停止后拒绝重启
func TestServerLifecycle(t *testing.T) {
	srv := New(testConfig(), clock.New())
	require.NoError(t, srv.Start(context.Background()))

	// 重复启动是无害的空操作
	require.NoError(t, srv.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(ctx))
	require.NoError(t, srv.Stop(ctx))

	assert.ErrorIs(t, srv.Start(context.Background()), ErrServerClosed)
}
