package pairing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncboard/go-syncboard/config"
	"github.com/syncboard/go-syncboard/internal/core/cryptobox"
	"github.com/syncboard/go-syncboard/pkg/types"
)

// ============================================================================
//                              测试辅助
// ============================================================================

var (
	deviceA = types.DeviceInfo{ID: "device-a", Name: "Laptop"}
	deviceB = types.DeviceInfo{ID: "device-b", Name: "Phone"}
)

func testPairingConfig() config.PairingConfig {
	return config.PairingConfig{
		PayloadValidity:    config.Duration(300 * time.Second),
		ChallengeTolerance: config.Duration(2 * time.Minute),
		PollInterval:       config.Duration(2 * time.Second),
		ServiceName:        "syncboard-test",
	}
}

// memKeyStore 内存密钥存储
type memKeyStore struct {
	mu      sync.Mutex
	keys    map[types.DeviceID][]byte
	devices map[types.DeviceID]types.PairedDevice
}

func newMemKeyStore() *memKeyStore {
	return &memKeyStore{
		keys:    make(map[types.DeviceID][]byte),
		devices: make(map[types.DeviceID]types.PairedDevice),
	}
}

func (m *memKeyStore) PutSharedKey(peer types.DeviceID, key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[peer] = append([]byte(nil), key...)
	return nil
}

func (m *memKeyStore) SavePairedDevice(rec types.PairedDevice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices[rec.Device.ID] = rec
	return nil
}

func (m *memKeyStore) sharedKey(peer types.DeviceID) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.keys[peer]
}

func (m *memKeyStore) pairedDevice(peer types.DeviceID) (types.PairedDevice, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.devices[peer]
	return rec, ok
}

// phaseRecorder 记录阶段变更序列
type phaseRecorder struct {
	mu       sync.Mutex
	statuses []Status
}

func (r *phaseRecorder) record(st Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, st)
}

func (r *phaseRecorder) phases() []Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Phase, len(r.statuses))
	for i, st := range r.statuses {
		out[i] = st.Phase
	}
	return out
}

func newTestEngine(t *testing.T, device types.DeviceInfo, cfg config.PairingConfig, ks KeyStore, relay Coordinator, clk clock.Clock) (*Engine, *phaseRecorder) {
	t.Helper()

	e := NewEngine(device, cfg, ks, relay, clk)
	rec := &phaseRecorder{}
	e.OnPhaseChange(rec.record)
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() { _ = e.Stop() })
	return e, rec
}

// advanceClock 分步推进虚拟时钟，让轮询循环有机会跟上
func advanceClock(mock *clock.Mock, total, step time.Duration) {
	for elapsed := time.Duration(0); elapsed < total; elapsed += step {
		mock.Add(step)
		time.Sleep(2 * time.Millisecond)
	}
}

// ============================================================================
//                              本地模式
// ============================================================================

// TestLocalPairingExchange 测试完整的本地配对交换
func TestLocalPairingExchange(t *testing.T) {
	mock := clock.NewMock()
	ksA, ksB := newMemKeyStore(), newMemKeyStore()
	engA, recA := newTestEngine(t, deviceA, testPairingConfig(), ksA, nil, mock)
	engB, recB := newTestEngine(t, deviceB, testPairingConfig(), ksB, nil, mock)

	engA.SetEndpoint("laptop._syncboard._tcp", 45211, "")
	payload, err := engA.StartLocal()
	require.NoError(t, err)
	assert.Equal(t, "laptop._syncboard._tcp", payload.Service)
	assert.Equal(t, 45211, payload.Port)
	assert.NotNil(t, engA.CurrentPayload())

	encoded, err := payload.Encode()
	require.NoError(t, err)

	challenge, err := engB.AcceptPayload(encoded)
	require.NoError(t, err)
	assert.Equal(t, deviceB.ID, challenge.ResponderDeviceID)
	assert.Equal(t, PhaseCompleting, engB.Status().Phase)

	ack, err := engA.HandleChallenge(challenge)
	require.NoError(t, err)
	require.NotNil(t, ack)
	assert.Equal(t, challenge.ChallengeID, ack.ChallengeID)
	assert.Equal(t, PhaseCompleted, engA.Status().Phase)

	require.NoError(t, engB.HandleAck(ack))
	assert.Equal(t, PhaseCompleted, engB.Status().Phase)

	// 双方持久化了相同的共享密钥
	keyAtA := ksA.sharedKey(deviceB.ID)
	keyAtB := ksB.sharedKey(deviceA.ID)
	require.Len(t, keyAtA, cryptobox.KeySize)
	assert.Equal(t, keyAtA, keyAtB)

	rec, ok := ksA.pairedDevice(deviceB.ID)
	require.True(t, ok)
	assert.Equal(t, "Phone", rec.Device.Name)

	assert.Equal(t, []Phase{
		PhaseDisplayingPayload, PhaseAwaitingChallenge, PhaseCompleting, PhaseCompleted,
	}, recA.phases())
	assert.Equal(t, []Phase{PhaseCompleting, PhaseCompleted}, recB.phases())
}

// TestLocalExpiredPayloadRejected 测试过期后到达的挑战被拒绝
//
// 有效期 300 秒的会话在 t=310 收到挑战：不产生确认，会话
// 进入 failed("payload expired")。
func TestLocalExpiredPayloadRejected(t *testing.T) {
	mock := clock.NewMock()
	engA, _ := newTestEngine(t, deviceA, testPairingConfig(), newMemKeyStore(), nil, mock)
	engB, _ := newTestEngine(t, deviceB, testPairingConfig(), newMemKeyStore(), nil, mock)

	payload, err := engA.StartLocal()
	require.NoError(t, err)
	encoded, err := payload.Encode()
	require.NoError(t, err)

	challenge, err := engB.AcceptPayload(encoded)
	require.NoError(t, err)

	mock.Add(310 * time.Second)

	ack, err := engA.HandleChallenge(challenge)
	assert.Nil(t, ack)
	require.EqualError(t, err, "payload expired")

	st := engA.Status()
	assert.Equal(t, PhaseFailed, st.Phase)
	assert.Equal(t, "payload expired", st.Reason)
}

// TestLocalChallengeValidationOrder 测试有效期检查先于解密
func TestLocalChallengeValidationOrder(t *testing.T) {
	mock := clock.NewMock()
	engA, _ := newTestEngine(t, deviceA, testPairingConfig(), newMemKeyStore(), nil, mock)
	engB, _ := newTestEngine(t, deviceB, testPairingConfig(), newMemKeyStore(), nil, mock)

	payload, err := engA.StartLocal()
	require.NoError(t, err)
	encoded, err := payload.Encode()
	require.NoError(t, err)
	challenge, err := engB.AcceptPayload(encoded)
	require.NoError(t, err)

	// 既过期又被篡改：报告的必须是过期
	challenge.Ciphertext[0] ^= 0xFF
	mock.Add(310 * time.Second)

	_, err = engA.HandleChallenge(challenge)
	require.EqualError(t, err, "payload expired")
}

// TestLocalChallengeTampered 测试密文篡改导致统一的密码学失败
func TestLocalChallengeTampered(t *testing.T) {
	mock := clock.NewMock()
	engA, _ := newTestEngine(t, deviceA, testPairingConfig(), newMemKeyStore(), nil, mock)
	engB, _ := newTestEngine(t, deviceB, testPairingConfig(), newMemKeyStore(), nil, mock)

	payload, err := engA.StartLocal()
	require.NoError(t, err)
	encoded, err := payload.Encode()
	require.NoError(t, err)
	challenge, err := engB.AcceptPayload(encoded)
	require.NoError(t, err)

	challenge.Ciphertext[0] ^= 0x01

	ack, err := engA.HandleChallenge(challenge)
	assert.Nil(t, ack)
	require.EqualError(t, err, "cryptographic operation failed")
	assert.Equal(t, PhaseFailed, engA.Status().Phase)
}

// TestLocalChallengeUndecodable 测试解密成功但结构不符
func TestLocalChallengeUndecodable(t *testing.T) {
	mock := clock.NewMock()
	engA, _ := newTestEngine(t, deviceA, testPairingConfig(), newMemKeyStore(), nil, mock)

	payload, err := engA.StartLocal()
	require.NoError(t, err)

	// 用正确派生的共享密钥加密一段非挑战结构的明文
	kp, err := cryptobox.GenerateKeyPair()
	require.NoError(t, err)
	shared, err := kp.SharedKey(payload.PeerPublicKey)
	require.NoError(t, err)
	box, err := cryptobox.Seal(shared, []byte("definitely not json"), []byte(deviceB.ID))
	require.NoError(t, err)

	_, err = engA.HandleChallenge(&ChallengeMessage{
		ChallengeID:        "c1",
		ResponderDeviceID:  deviceB.ID,
		ResponderPublicKey: kp.Public,
		Nonce:              box.Nonce,
		Ciphertext:         box.Ciphertext,
		Tag:                box.Tag,
	})
	require.EqualError(t, err, "unable to decode challenge")
}

// TestLocalChallengeOutsideTolerance 测试时间戳超出允许偏差
func TestLocalChallengeOutsideTolerance(t *testing.T) {
	mock := clock.NewMock()
	engA, _ := newTestEngine(t, deviceA, testPairingConfig(), newMemKeyStore(), nil, mock)
	engB, _ := newTestEngine(t, deviceB, testPairingConfig(), newMemKeyStore(), nil, mock)

	payload, err := engA.StartLocal()
	require.NoError(t, err)
	encoded, err := payload.Encode()
	require.NoError(t, err)
	challenge, err := engB.AcceptPayload(encoded)
	require.NoError(t, err)

	// 3 分钟后载荷仍有效（5 分钟），但挑战时间戳超出 2 分钟容差
	mock.Add(3 * time.Minute)

	ack, err := engA.HandleChallenge(challenge)
	assert.Nil(t, ack)
	require.EqualError(t, err, "timestamp outside allowed window")

	st := engA.Status()
	assert.Equal(t, PhaseFailed, st.Phase)
	assert.Equal(t, "timestamp outside allowed window", st.Reason)
}

// TestLocalAckTampered 测试确认回显被篡改
func TestLocalAckTampered(t *testing.T) {
	mock := clock.NewMock()
	engA, _ := newTestEngine(t, deviceA, testPairingConfig(), newMemKeyStore(), nil, mock)
	engB, _ := newTestEngine(t, deviceB, testPairingConfig(), newMemKeyStore(), nil, mock)

	payload, err := engA.StartLocal()
	require.NoError(t, err)
	encoded, err := payload.Encode()
	require.NoError(t, err)
	challenge, err := engB.AcceptPayload(encoded)
	require.NoError(t, err)
	ack, err := engA.HandleChallenge(challenge)
	require.NoError(t, err)

	ack.Ciphertext[0] ^= 0x01

	require.EqualError(t, engB.HandleAck(ack), "cryptographic operation failed")
	assert.Equal(t, PhaseFailed, engB.Status().Phase)
}

// TestAcceptPayloadEdgeCases 测试响应方对载荷的边界处理
func TestAcceptPayloadEdgeCases(t *testing.T) {
	mock := clock.NewMock()
	engA, _ := newTestEngine(t, deviceA, testPairingConfig(), newMemKeyStore(), nil, mock)
	engB, _ := newTestEngine(t, deviceB, testPairingConfig(), newMemKeyStore(), nil, mock)

	t.Run("无法解码的载荷不创建会话", func(t *testing.T) {
		_, err := engB.AcceptPayload("garbage!!!")
		require.ErrorIs(t, err, ErrInvalidPayload)
		assert.Equal(t, PhaseIdle, engB.Status().Phase)
	})

	t.Run("过期载荷标记会话失败", func(t *testing.T) {
		payload, err := engA.StartLocal()
		require.NoError(t, err)
		encoded, err := payload.Encode()
		require.NoError(t, err)

		mock.Add(301 * time.Second)

		_, err = engB.AcceptPayload(encoded)
		require.EqualError(t, err, "payload expired")

		st := engB.Status()
		assert.Equal(t, PhaseFailed, st.Phase)
		assert.Equal(t, "payload expired", st.Reason)
	})
}

// TestHandleChallengeWithoutSession 测试无会话时拒绝处理
func TestHandleChallengeWithoutSession(t *testing.T) {
	eng, _ := newTestEngine(t, deviceA, testPairingConfig(), newMemKeyStore(), nil, clock.NewMock())

	_, err := eng.HandleChallenge(&ChallengeMessage{})
	require.ErrorIs(t, err, ErrNoSession)
	require.ErrorIs(t, eng.HandleAck(&AckMessage{}), ErrNoSession)
}

// TestResetClearsSession 测试重置后迟到消息不再生效
func TestResetClearsSession(t *testing.T) {
	mock := clock.NewMock()
	engA, _ := newTestEngine(t, deviceA, testPairingConfig(), newMemKeyStore(), nil, mock)
	engB, _ := newTestEngine(t, deviceB, testPairingConfig(), newMemKeyStore(), nil, mock)

	payload, err := engA.StartLocal()
	require.NoError(t, err)
	encoded, err := payload.Encode()
	require.NoError(t, err)
	challenge, err := engB.AcceptPayload(encoded)
	require.NoError(t, err)

	engA.Reset()
	assert.Equal(t, PhaseIdle, engA.Status().Phase)
	assert.Nil(t, engA.CurrentPayload())

	_, err = engA.HandleChallenge(challenge)
	require.ErrorIs(t, err, ErrNoSession)
}

// ============================================================================
//                              远程模式
// ============================================================================

// mailboxCoordinator 连接两台引擎的内存中继
type mailboxCoordinator struct {
	mu             sync.Mutex
	code           string
	initiator      CodeRequest
	created        bool
	claimErr       error
	challengeErr   error
	ackErr         error
	challenge      *ChallengeMessage
	ack            *AckMessage
	challengePolls int
	ackPolls       int
	notReady       int
}

func newMailbox(code string) *mailboxCoordinator {
	return &mailboxCoordinator{code: code}
}

func (c *mailboxCoordinator) CreatePairingCode(_ context.Context, req CodeRequest) (CodeGrant, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.initiator = req
	c.created = true
	return CodeGrant{Code: c.code}, nil
}

func (c *mailboxCoordinator) ClaimPairingCode(_ context.Context, code string, _ ClaimRequest) (ClaimGrant, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.claimErr != nil {
		return ClaimGrant{}, c.claimErr
	}
	if !c.created || code != c.code {
		return ClaimGrant{}, ErrCodeNotFound
	}
	return ClaimGrant{
		InitiatorDeviceID:   c.initiator.DeviceID,
		InitiatorDeviceName: c.initiator.DeviceName,
		InitiatorPublicKey:  c.initiator.PublicKey,
	}, nil
}

func (c *mailboxCoordinator) SubmitChallenge(_ context.Context, _ string, msg *ChallengeMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.challenge = msg
	return nil
}

func (c *mailboxCoordinator) PollChallenge(_ context.Context, _ string) (*ChallengeMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.challengePolls++
	if c.challengeErr != nil {
		return nil, c.challengeErr
	}
	if c.challenge == nil {
		c.notReady++
		return nil, ErrNotReady
	}
	return c.challenge, nil
}

func (c *mailboxCoordinator) SubmitAck(_ context.Context, _ string, msg *AckMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ack = msg
	return nil
}

func (c *mailboxCoordinator) PollAck(_ context.Context, _ string) (*AckMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ackPolls++
	if c.ackErr != nil {
		return nil, c.ackErr
	}
	if c.ack == nil {
		return nil, ErrNotReady
	}
	return c.ack, nil
}

func (c *mailboxCoordinator) counts() (challengePolls, ackPolls, notReady int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.challengePolls, c.ackPolls, c.notReady
}

// TestRemotePairingExchange 测试完整的远程配对交换
func TestRemotePairingExchange(t *testing.T) {
	mock := clock.NewMock()
	relay := newMailbox("482913")
	ksA, ksB := newMemKeyStore(), newMemKeyStore()
	engA, _ := newTestEngine(t, deviceA, testPairingConfig(), ksA, relay, mock)
	engB, _ := newTestEngine(t, deviceB, testPairingConfig(), ksB, relay, mock)

	grant, err := engA.StartRemote(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "482913", grant.Code)

	st := engA.Status()
	assert.Equal(t, PhaseWaitingForClaim, st.Phase)
	assert.Equal(t, "482913", st.Code)

	// 响应方尚未认领，轮询得到"尚未就绪"且不终止会话
	advanceClock(mock, 4*time.Second, 500*time.Millisecond)
	require.Eventually(t, func() bool {
		polls, _, notReady := relay.counts()
		return polls >= 1 && notReady >= 1
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, PhaseWaitingForClaim, engA.Status().Phase)

	require.NoError(t, engB.ClaimRemote(context.Background(), "482913"))
	assert.Equal(t, PhaseCompleting, engB.Status().Phase)

	// 继续推进：发起方取到挑战并投递确认，响应方取到确认
	advanceClock(mock, 10*time.Second, 500*time.Millisecond)
	require.Eventually(t, func() bool {
		return engA.Status().Phase == PhaseCompleted && engB.Status().Phase == PhaseCompleted
	}, 3*time.Second, 10*time.Millisecond)

	keyAtA := ksA.sharedKey(deviceB.ID)
	keyAtB := ksB.sharedKey(deviceA.ID)
	require.Len(t, keyAtA, cryptobox.KeySize)
	assert.Equal(t, keyAtA, keyAtB)
}

// TestRemoteClaimTerminalErrors 测试认领阶段的终止错误
func TestRemoteClaimTerminalErrors(t *testing.T) {
	tests := []struct {
		name     string
		claimErr error
		reason   string
	}{
		{"配对码不存在", ErrCodeNotFound, "pairing code not found"},
		{"配对码已过期", ErrCodeExpired, "pairing code expired"},
		{"配对码已被认领", ErrCodeClaimed, "pairing code already claimed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := clock.NewMock()
			relay := newMailbox("111111")
			relay.claimErr = tt.claimErr
			eng, _ := newTestEngine(t, deviceB, testPairingConfig(), newMemKeyStore(), relay, mock)

			err := eng.ClaimRemote(context.Background(), "111111")
			require.ErrorIs(t, err, tt.claimErr)

			st := eng.Status()
			assert.Equal(t, PhaseFailed, st.Phase)
			assert.Equal(t, tt.reason, st.Reason)
		})
	}
}

// TestRemoteExpiryHaltsPolling 测试等待期间到期停止轮询
func TestRemoteExpiryHaltsPolling(t *testing.T) {
	mock := clock.NewMock()
	relay := newMailbox("654321")
	cfg := testPairingConfig()
	cfg.PayloadValidity = config.Duration(60 * time.Second)
	eng, _ := newTestEngine(t, deviceA, cfg, newMemKeyStore(), relay, mock)

	_, err := eng.StartRemote(context.Background())
	require.NoError(t, err)

	// 无人认领，60 秒后到期
	advanceClock(mock, 70*time.Second, time.Second)
	require.Eventually(t, func() bool {
		return eng.Status().Phase == PhaseFailed
	}, 3*time.Second, 10*time.Millisecond)

	st := eng.Status()
	assert.Equal(t, "expired", st.Reason)

	// 到期后轮询已停止
	time.Sleep(50 * time.Millisecond)
	polls, _, _ := relay.counts()
	advanceClock(mock, 10*time.Second, time.Second)
	after, _, _ := relay.counts()
	assert.Equal(t, polls, after, "到期后不应继续轮询")
}

// TestRemotePollTerminalError 测试轮询中继报终止错误
func TestRemotePollTerminalError(t *testing.T) {
	mock := clock.NewMock()
	relay := newMailbox("222222")
	relay.challengeErr = ErrCodeExpired
	eng, _ := newTestEngine(t, deviceA, testPairingConfig(), newMemKeyStore(), relay, mock)

	_, err := eng.StartRemote(context.Background())
	require.NoError(t, err)

	advanceClock(mock, 4*time.Second, 500*time.Millisecond)
	require.Eventually(t, func() bool {
		return eng.Status().Phase == PhaseFailed
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, "pairing code expired", eng.Status().Reason)
}

// TestRemoteStaleResultIgnored 测试被重置会话的迟到结果被丢弃
func TestRemoteStaleResultIgnored(t *testing.T) {
	mock := clock.NewMock()
	relay := newMailbox("333333")
	ksA := newMemKeyStore()
	engA, _ := newTestEngine(t, deviceA, testPairingConfig(), ksA, relay, mock)
	engB, _ := newTestEngine(t, deviceB, testPairingConfig(), newMemKeyStore(), relay, mock)

	_, err := engA.StartRemote(context.Background())
	require.NoError(t, err)

	engA.Reset()
	assert.Equal(t, PhaseIdle, engA.Status().Phase)

	// 挑战此后才到达中继，推进时钟也不应再影响发起方
	require.NoError(t, engB.ClaimRemote(context.Background(), "333333"))
	advanceClock(mock, 10*time.Second, 500*time.Millisecond)

	assert.Equal(t, PhaseIdle, engA.Status().Phase)
	assert.Empty(t, ksA.sharedKey(deviceB.ID))
}

// TestStartRemoteWithoutCoordinator 测试未配置中继时远程模式不可用
func TestStartRemoteWithoutCoordinator(t *testing.T) {
	eng, _ := newTestEngine(t, deviceA, testPairingConfig(), newMemKeyStore(), nil, clock.NewMock())

	_, err := eng.StartRemote(context.Background())
	require.ErrorIs(t, err, ErrNoCoordinator)
	require.ErrorIs(t, eng.ClaimRemote(context.Background(), "000000"), ErrNoCoordinator)
}
