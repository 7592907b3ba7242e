// Package pairing 实现设备配对引擎
package pairing

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/syncboard/go-syncboard/config"
	"github.com/syncboard/go-syncboard/internal/core/cryptobox"
	"github.com/syncboard/go-syncboard/pkg/types"
)

// role 会话中本机扮演的角色
type role int

const (
	// roleInitiator 发起方：展示载荷/申请配对码的一侧
	roleInitiator role = iota
	// roleResponder 响应方：扫码/认领配对码的一侧
	roleResponder
)

// session 一次配对交换的全部状态
//
// 只在持有引擎锁时读写；引擎被新会话取代或重置后，旧会话的
// 迟到结果经指针比对被丢弃。
type session struct {
	mode Mode
	role role

	keys          *cryptobox.KeyPair
	shared        []byte
	payload       *LocalPayload
	code          string
	peer          types.DeviceInfo
	sentChallenge []byte
	challengeID   string
	expiresAt     time.Time

	phase  Phase
	reason string

	ctx    context.Context
	cancel context.CancelFunc
}

// ============================================================================
//                              Engine - 配对引擎
// ============================================================================

// Engine 配对引擎
//
// 同一时刻至多一个活跃会话，所有状态推进经引擎互斥锁串行化。
type Engine struct {
	device types.DeviceInfo
	cfg    config.PairingConfig
	keys   KeyStore
	relay  Coordinator
	clk    clock.Clock

	mu        sync.Mutex
	session   *session
	service   string
	port      int
	relayHint string

	cbMu    sync.RWMutex
	onPhase []PhaseChangeHandler

	running int32
	closed  int32
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewEngine 创建配对引擎
//
// relay 为 nil 时远程模式不可用；clk 注入时钟，测试传入
// clock.NewMock() 驱动虚拟时间。
func NewEngine(device types.DeviceInfo, cfg config.PairingConfig, keys KeyStore, relay Coordinator, clk clock.Clock) *Engine {
	if clk == nil {
		clk = clock.New()
	}
	return &Engine{
		device:  device,
		cfg:     cfg,
		keys:    keys,
		relay:   relay,
		clk:     clk,
		service: cfg.ServiceName,
	}
}

// SetEndpoint 设置本地配对载荷通告的端点信息
//
// service 是本机在局域网发现中的服务实例名，响应方用它定位
// 发起方；port 是 WebSocket 监听端口。
func (e *Engine) SetEndpoint(service string, port int, relayHint string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if service != "" {
		e.service = service
	}
	e.port = port
	e.relayHint = relayHint
}

// OnPhaseChange 注册阶段变更回调
func (e *Engine) OnPhaseChange(h PhaseChangeHandler) {
	e.cbMu.Lock()
	e.onPhase = append(e.onPhase, h)
	e.cbMu.Unlock()
}

// ============================================================================
//                              生命周期
// ============================================================================

// Start 启动配对引擎
func (e *Engine) Start(_ context.Context) error {
	if !atomic.CompareAndSwapInt32(&e.running, 0, 1) {
		return nil
	}

	// 会话生命周期由引擎自身管理，不跟随调用方 ctx
	e.ctx, e.cancel = context.WithCancel(context.Background())

	logger.Info("配对引擎已启动",
		"device", e.device.ID.Short(),
		"payloadValidity", e.cfg.PayloadValidity.Duration())
	return nil
}

// Stop 停止引擎并取消活跃会话
func (e *Engine) Stop() error {
	if !atomic.CompareAndSwapInt32(&e.closed, 0, 1) {
		return nil
	}

	if e.cancel != nil {
		e.cancel()
	}

	e.mu.Lock()
	if e.session != nil {
		e.session.cancel()
		e.session = nil
	}
	e.mu.Unlock()

	logger.Info("配对引擎已停止")
	return nil
}

func (e *Engine) usable() error {
	if atomic.LoadInt32(&e.closed) == 1 {
		return ErrEngineClosed
	}
	if atomic.LoadInt32(&e.running) == 0 {
		return ErrNotStarted
	}
	return nil
}

// Status 返回当前会话快照
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return statusOf(e.session)
}

// CurrentPayload 返回活跃本地会话的带外载荷，供界面重新展示
func (e *Engine) CurrentPayload() *LocalPayload {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil || e.session.mode != ModeLocal {
		return nil
	}
	return e.session.payload
}

// Reset 取消活跃会话并回到空闲
//
// 被取消会话的轮询与到期定时器一并终止，其迟到结果不再
// 影响引擎状态。
func (e *Engine) Reset() {
	e.mu.Lock()
	s := e.session
	e.session = nil
	e.mu.Unlock()

	if s != nil {
		s.cancel()
		logger.Info("配对会话已重置", "phase", s.phase)
		e.notifyAll([]Status{{Phase: PhaseIdle}})
	}
}

// ============================================================================
//                              本地模式
// ============================================================================

// StartLocal 开始本地配对（发起方）
//
// 生成临时密钥对并构造带外载荷。载荷展示与挑战等待同时进行，
// 会话依次经过 DisplayingPayload、AwaitingChallenge 两个阶段。
// 载荷过期不会自动终止会话，而是在收到挑战时按验证规则拒绝。
func (e *Engine) StartLocal() (*LocalPayload, error) {
	if err := e.usable(); err != nil {
		return nil, err
	}

	kp, err := cryptobox.GenerateKeyPair()
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	now := e.clk.Now()
	payload := &LocalPayload{
		PeerPublicKey: kp.Public,
		Service:       e.service,
		Port:          e.port,
		RelayHint:     e.relayHint,
		IssuedAt:      now.UnixMilli(),
		ExpiresAt:     now.Add(e.cfg.PayloadValidity.Duration()).UnixMilli(),
	}
	payload.Signature, err = payload.sign()
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}

	var pending []Status
	s := e.newSessionLocked(ModeLocal, roleInitiator)
	s.keys = kp
	s.payload = payload
	s.expiresAt = time.UnixMilli(payload.ExpiresAt)
	e.toLocked(s, PhaseDisplayingPayload, "", &pending)
	e.toLocked(s, PhaseAwaitingChallenge, "", &pending)
	e.mu.Unlock()

	logger.Info("本地配对会话已创建",
		"service", payload.Service,
		"port", payload.Port,
		"expiresAt", payload.ExpiresAt)
	e.notifyAll(pending)
	return payload, nil
}

// AcceptPayload 接受扫描到的带外载荷（响应方）
//
// 校验载荷签名与有效期，派生共享密钥并构造加密挑战。返回的
// 挑战由调用方投递给发起方，会话随即进入 Completing 等待确认。
func (e *Engine) AcceptPayload(encoded string) (*ChallengeMessage, error) {
	if err := e.usable(); err != nil {
		return nil, err
	}

	payload, err := DecodePayload(encoded)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	now := e.clk.Now()

	var pending []Status
	if !now.Before(time.UnixMilli(payload.ExpiresAt)) {
		s := e.newSessionLocked(ModeLocal, roleResponder)
		s.expiresAt = time.UnixMilli(payload.ExpiresAt)
		e.failLocked(s, ErrPayloadExpired.Error(), &pending)
		e.mu.Unlock()
		e.notifyAll(pending)
		return nil, ErrPayloadExpired
	}

	kp, err := cryptobox.GenerateKeyPair()
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	shared, err := kp.SharedKey(payload.PeerPublicKey)
	if err != nil {
		e.mu.Unlock()
		return nil, ErrCryptoFailure
	}

	body, err := newChallengeBody(now.UnixMilli())
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	box, err := sealChallenge(shared, e.device.ID, body)
	if err != nil {
		e.mu.Unlock()
		return nil, ErrCryptoFailure
	}

	msg := &ChallengeMessage{
		ChallengeID:         uuid.NewString(),
		ResponderDeviceID:   e.device.ID,
		ResponderDeviceName: e.device.Name,
		ResponderPublicKey:  kp.Public,
		Nonce:               box.Nonce,
		Ciphertext:          box.Ciphertext,
		Tag:                 box.Tag,
	}

	s := e.newSessionLocked(ModeLocal, roleResponder)
	s.keys = kp
	s.shared = shared
	s.sentChallenge = body.Challenge
	s.challengeID = msg.ChallengeID
	s.expiresAt = time.UnixMilli(payload.ExpiresAt)
	e.toLocked(s, PhaseCompleting, "", &pending)
	e.mu.Unlock()

	logger.Info("已接受配对载荷并生成挑战", "challengeId", msg.ChallengeID)
	e.notifyAll(pending)
	return msg, nil
}

// HandleChallenge 处理收到的挑战（本地模式发起方）
//
// 按固定顺序验证：载荷有效期、AEAD 解密、挑战结构、时间戳
// 偏差。任一步失败即终止会话，不产生确认。成功时共享密钥
// 已持久化，返回的确认由调用方送回响应方。
func (e *Engine) HandleChallenge(msg *ChallengeMessage) (*AckMessage, error) {
	if err := e.usable(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	s := e.session
	if s == nil || s.mode != ModeLocal || s.role != roleInitiator || s.phase != PhaseAwaitingChallenge {
		e.mu.Unlock()
		return nil, ErrNoSession
	}

	var pending []Status
	ack, err := e.processChallengeLocked(s, msg, &pending)
	if err == nil {
		e.completeLocked(s, &pending)
	}
	e.mu.Unlock()

	e.notifyAll(pending)
	return ack, err
}

// HandleAck 处理收到的确认（本地模式响应方）
func (e *Engine) HandleAck(msg *AckMessage) error {
	if err := e.usable(); err != nil {
		return err
	}

	e.mu.Lock()
	s := e.session
	if s == nil || s.mode != ModeLocal || s.role != roleResponder || s.phase != PhaseCompleting {
		e.mu.Unlock()
		return ErrNoSession
	}

	var pending []Status
	err := e.processAckLocked(s, msg, &pending)
	e.mu.Unlock()

	e.notifyAll(pending)
	return err
}

// ============================================================================
//                              远程模式
// ============================================================================

// StartRemote 开始远程配对（发起方）
//
// 向中继申请 6 位配对码，之后按 PollInterval 轮询挑战。
// 会话到期时停止轮询并进入 Failed("expired")。
func (e *Engine) StartRemote(ctx context.Context) (CodeGrant, error) {
	if err := e.usable(); err != nil {
		return CodeGrant{}, err
	}
	if e.relay == nil {
		return CodeGrant{}, ErrNoCoordinator
	}

	kp, err := cryptobox.GenerateKeyPair()
	if err != nil {
		return CodeGrant{}, err
	}

	e.mu.Lock()
	var pending []Status
	s := e.newSessionLocked(ModeRemote, roleInitiator)
	s.keys = kp
	s.expiresAt = e.clk.Now().Add(e.cfg.PayloadValidity.Duration())
	e.toLocked(s, PhaseGeneratingCode, "", &pending)
	e.mu.Unlock()
	e.notifyAll(pending)

	grant, err := e.relay.CreatePairingCode(ctx, CodeRequest{
		DeviceID:   e.device.ID,
		DeviceName: e.device.Name,
		PublicKey:  kp.Public,
	})

	e.mu.Lock()
	if e.session != s || s.phase.Terminal() {
		e.mu.Unlock()
		return CodeGrant{}, ErrNoSession
	}

	pending = pending[:0]
	if err != nil {
		failure := relayFailure(err)
		e.failLocked(s, failure.Error(), &pending)
		e.mu.Unlock()
		e.notifyAll(pending)
		return CodeGrant{}, failure
	}

	s.code = grant.Code
	clampExpiry(s, grant.ExpiresAt)
	e.toLocked(s, PhaseWaitingForClaim, "", &pending)
	go e.watchExpiry(s)
	go e.pollChallengeLoop(s)
	e.mu.Unlock()

	logger.Info("远程配对码已生成", "code", grant.Code)
	e.notifyAll(pending)
	return grant, nil
}

// ClaimRemote 凭配对码认领远程配对（响应方）
//
// 认领换取发起方公钥后派生共享密钥，经中继投递挑战，随后
// 按 PollInterval 轮询确认。
func (e *Engine) ClaimRemote(ctx context.Context, code string) error {
	if err := e.usable(); err != nil {
		return err
	}
	if e.relay == nil {
		return ErrNoCoordinator
	}

	kp, err := cryptobox.GenerateKeyPair()
	if err != nil {
		return err
	}

	e.mu.Lock()
	var pending []Status
	s := e.newSessionLocked(ModeRemote, roleResponder)
	s.keys = kp
	s.code = code
	s.expiresAt = e.clk.Now().Add(e.cfg.PayloadValidity.Duration())
	e.toLocked(s, PhaseCompleting, "", &pending)
	e.mu.Unlock()
	e.notifyAll(pending)

	grant, err := e.relay.ClaimPairingCode(ctx, code, ClaimRequest{
		DeviceID:   e.device.ID,
		DeviceName: e.device.Name,
	})

	e.mu.Lock()
	if e.session != s || s.phase.Terminal() {
		e.mu.Unlock()
		return ErrNoSession
	}

	pending = pending[:0]
	if err != nil {
		failure := relayFailure(err)
		e.failLocked(s, failure.Error(), &pending)
		e.mu.Unlock()
		e.notifyAll(pending)
		return failure
	}

	shared, err := kp.SharedKey(grant.InitiatorPublicKey)
	if err != nil {
		e.failLocked(s, ErrCryptoFailure.Error(), &pending)
		e.mu.Unlock()
		e.notifyAll(pending)
		return ErrCryptoFailure
	}

	now := e.clk.Now()
	body, err := newChallengeBody(now.UnixMilli())
	if err != nil {
		e.failLocked(s, ErrCryptoFailure.Error(), &pending)
		e.mu.Unlock()
		e.notifyAll(pending)
		return err
	}
	box, err := sealChallenge(shared, e.device.ID, body)
	if err != nil {
		e.failLocked(s, ErrCryptoFailure.Error(), &pending)
		e.mu.Unlock()
		e.notifyAll(pending)
		return ErrCryptoFailure
	}

	msg := &ChallengeMessage{
		ChallengeID:         uuid.NewString(),
		ResponderDeviceID:   e.device.ID,
		ResponderDeviceName: e.device.Name,
		ResponderPublicKey:  kp.Public,
		Nonce:               box.Nonce,
		Ciphertext:          box.Ciphertext,
		Tag:                 box.Tag,
	}

	s.shared = shared
	s.sentChallenge = body.Challenge
	s.challengeID = msg.ChallengeID
	s.peer = types.DeviceInfo{ID: grant.InitiatorDeviceID, Name: grant.InitiatorDeviceName}
	clampExpiry(s, grant.ExpiresAt)
	e.mu.Unlock()

	if err := e.relay.SubmitChallenge(ctx, code, msg); err != nil {
		failure := relayFailure(err)
		e.failSession(s, failure.Error())
		return failure
	}

	e.mu.Lock()
	if e.session != s || s.phase.Terminal() {
		e.mu.Unlock()
		return ErrNoSession
	}
	go e.watchExpiry(s)
	go e.pollAckLoop(s)
	e.mu.Unlock()

	logger.Info("已认领远程配对码并投递挑战", "code", code)
	return nil
}

// ============================================================================
//                              轮询与到期
// ============================================================================

// pollChallengeLoop 发起方轮询中继上的挑战
func (e *Engine) pollChallengeLoop(s *session) {
	ticker := e.clk.Ticker(e.cfg.PollInterval.Duration())
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}

		msg, err := e.relay.PollChallenge(s.ctx, s.code)
		if errors.Is(err, ErrNotReady) {
			continue
		}
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			e.failSession(s, relayFailure(err).Error())
			return
		}

		e.finishRemoteInitiator(s, msg)
		return
	}
}

// finishRemoteInitiator 处理轮询到的挑战并投递确认
func (e *Engine) finishRemoteInitiator(s *session, msg *ChallengeMessage) {
	e.mu.Lock()
	if e.session != s || s.phase != PhaseWaitingForClaim {
		e.mu.Unlock()
		return
	}

	var pending []Status
	ack, err := e.processChallengeLocked(s, msg, &pending)
	e.mu.Unlock()
	e.notifyAll(pending)
	if err != nil {
		return
	}

	submitErr := e.relay.SubmitAck(s.ctx, s.code, ack)

	e.mu.Lock()
	if e.session != s || s.phase.Terminal() {
		e.mu.Unlock()
		return
	}
	pending = pending[:0]
	if submitErr != nil {
		e.failLocked(s, relayFailure(submitErr).Error(), &pending)
	} else {
		e.completeLocked(s, &pending)
	}
	e.mu.Unlock()
	e.notifyAll(pending)
}

// pollAckLoop 响应方轮询中继上的确认
func (e *Engine) pollAckLoop(s *session) {
	ticker := e.clk.Ticker(e.cfg.PollInterval.Duration())
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}

		msg, err := e.relay.PollAck(s.ctx, s.code)
		if errors.Is(err, ErrNotReady) {
			continue
		}
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			e.failSession(s, relayFailure(err).Error())
			return
		}

		e.mu.Lock()
		if e.session != s || s.phase != PhaseCompleting {
			e.mu.Unlock()
			return
		}
		var pending []Status
		_ = e.processAckLocked(s, msg, &pending)
		e.mu.Unlock()
		e.notifyAll(pending)
		return
	}
}

// watchExpiry 会话到期看门狗
//
// 仅远程模式使用：到期时停止轮询并将会话置为 Failed("expired")。
func (e *Engine) watchExpiry(s *session) {
	d := s.expiresAt.Sub(e.clk.Now())
	if d <= 0 {
		e.failSession(s, ErrExpired.Error())
		return
	}

	timer := e.clk.Timer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		e.failSession(s, ErrExpired.Error())
	case <-s.ctx.Done():
	}
}

// ============================================================================
//                              交换内核
// ============================================================================

// processChallengeLocked 按固定顺序验证挑战并持久化共享密钥
//
// 验证顺序携带语义：有效期先于解密，解密先于结构解析，解析
// 先于时钟偏差。失败即终止会话并返回对应错误；成功时密钥已
// 落盘、确认已构造，会话停在 Completing 由调用方收尾。
func (e *Engine) processChallengeLocked(s *session, msg *ChallengeMessage, pending *[]Status) (*AckMessage, error) {
	now := e.clk.Now()

	if !now.Before(s.expiresAt) {
		e.failLocked(s, ErrPayloadExpired.Error(), pending)
		return nil, ErrPayloadExpired
	}

	shared, err := s.keys.SharedKey(msg.ResponderPublicKey)
	if err != nil {
		e.failLocked(s, ErrCryptoFailure.Error(), pending)
		return nil, ErrCryptoFailure
	}

	body, err := openChallenge(shared, msg)
	if err != nil {
		e.failLocked(s, err.Error(), pending)
		return nil, err
	}

	skew := now.Sub(time.UnixMilli(body.Timestamp))
	if skew < 0 {
		skew = -skew
	}
	if skew > e.cfg.ChallengeTolerance.Duration() {
		e.failLocked(s, ErrOutsideTolerance.Error(), pending)
		return nil, ErrOutsideTolerance
	}

	s.shared = shared
	s.peer = types.DeviceInfo{ID: msg.ResponderDeviceID, Name: msg.ResponderDeviceName}
	e.toLocked(s, PhaseCompleting, "", pending)

	if err := e.persistLocked(s); err != nil {
		e.failLocked(s, "key persistence failed", pending)
		return nil, err
	}

	box, err := sealAck(shared, e.device.ID, body.Challenge)
	if err != nil {
		e.failLocked(s, ErrCryptoFailure.Error(), pending)
		return nil, ErrCryptoFailure
	}

	return &AckMessage{
		ChallengeID:         msg.ChallengeID,
		InitiatorDeviceID:   e.device.ID,
		InitiatorDeviceName: e.device.Name,
		Nonce:               box.Nonce,
		Ciphertext:          box.Ciphertext,
		Tag:                 box.Tag,
	}, nil
}

// processAckLocked 验证确认回显并持久化共享密钥
func (e *Engine) processAckLocked(s *session, msg *AckMessage, pending *[]Status) error {
	if msg.ChallengeID != s.challengeID {
		e.failLocked(s, ErrCryptoFailure.Error(), pending)
		return ErrCryptoFailure
	}
	if err := openAck(s.shared, msg, s.sentChallenge); err != nil {
		e.failLocked(s, err.Error(), pending)
		return err
	}

	s.peer = types.DeviceInfo{ID: msg.InitiatorDeviceID, Name: msg.InitiatorDeviceName}
	if err := e.persistLocked(s); err != nil {
		e.failLocked(s, "key persistence failed", pending)
		return err
	}

	e.completeLocked(s, pending)
	return nil
}

// persistLocked 落盘共享密钥并登记已配对设备
func (e *Engine) persistLocked(s *session) error {
	if err := e.keys.PutSharedKey(s.peer.ID, s.shared); err != nil {
		return err
	}
	return e.keys.SavePairedDevice(types.PairedDevice{
		Device:   s.peer,
		PairedAt: e.clk.Now(),
	})
}

// ============================================================================
//                              状态推进
// ============================================================================

func (e *Engine) newSessionLocked(mode Mode, r role) *session {
	if old := e.session; old != nil {
		old.cancel()
	}
	ctx, cancel := context.WithCancel(e.ctx)
	s := &session{
		mode:   mode,
		role:   r,
		phase:  PhaseIdle,
		ctx:    ctx,
		cancel: cancel,
	}
	e.session = s
	return s
}

// toLocked 推进阶段并暂存待发的快照
func (e *Engine) toLocked(s *session, phase Phase, reason string, pending *[]Status) {
	s.phase = phase
	s.reason = reason
	*pending = append(*pending, statusOf(s))
}

func (e *Engine) completeLocked(s *session, pending *[]Status) {
	s.cancel()
	e.toLocked(s, PhaseCompleted, "", pending)
	logger.Info("配对完成", "peer", s.peer.ID.Short(), "mode", s.mode)
}

func (e *Engine) failLocked(s *session, reason string, pending *[]Status) {
	s.cancel()
	e.toLocked(s, PhaseFailed, reason, pending)
	logger.Warn("配对失败", "reason", reason, "mode", s.mode)
}

// failSession 锁外入口：校验会话仍然活跃后终止它
func (e *Engine) failSession(s *session, reason string) {
	e.mu.Lock()
	if e.session != s || s.phase.Terminal() {
		e.mu.Unlock()
		return
	}
	var pending []Status
	e.failLocked(s, reason, &pending)
	e.mu.Unlock()
	e.notifyAll(pending)
}

func (e *Engine) notifyAll(pending []Status) {
	if len(pending) == 0 {
		return
	}
	e.cbMu.RLock()
	handlers := make([]PhaseChangeHandler, len(e.onPhase))
	copy(handlers, e.onPhase)
	e.cbMu.RUnlock()

	for _, st := range pending {
		for _, h := range handlers {
			h(st)
		}
	}
}

func statusOf(s *session) Status {
	if s == nil {
		return Status{Phase: PhaseIdle}
	}
	st := Status{
		Phase:  s.phase,
		Mode:   s.mode,
		Reason: s.reason,
		Code:   s.code,
		Peer:   s.peer,
	}
	if !s.expiresAt.IsZero() {
		st.ExpiresAt = s.expiresAt.UnixMilli()
	}
	return st
}

// clampExpiry 采用本地有效期与中继有效期中较早的一个
func clampExpiry(s *session, relayExpiresAt int64) {
	if relayExpiresAt <= 0 {
		return
	}
	relay := time.UnixMilli(relayExpiresAt)
	if relay.Before(s.expiresAt) {
		s.expiresAt = relay
	}
}

// relayFailure 将中继错误折叠为本包哨兵
func relayFailure(err error) error {
	switch {
	case errors.Is(err, ErrCodeNotFound):
		return ErrCodeNotFound
	case errors.Is(err, ErrCodeExpired):
		return ErrCodeExpired
	case errors.Is(err, ErrCodeClaimed):
		return ErrCodeClaimed
	default:
		return ErrRelayUnavailable
	}
}
