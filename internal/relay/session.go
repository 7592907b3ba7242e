package relay

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/syncboard/go-syncboard/config"
	"github.com/syncboard/go-syncboard/internal/core/pairing"
)

// maxCodeAttempts 签发短码时的最大重试次数
//
// 短码空间有限，注册表接近饱和时随机生成可能反复撞码。
// 超过该次数仍未找到空位视为容量耗尽，直接拒绝签发。
const maxCodeAttempts = 16

// ============================================================================
//                              会话
// ============================================================================

// session 一次远程配对在中继侧的全部状态
//
// 短码签发即创建，双方的身份与信箱内容都挂在会话上。
// 认领截止后短码作废，但信箱在自己的截止时刻前继续可用，
// 让已经认领的双方完成挑战与确认的交换。
type session struct {
	code string

	initiator pairing.CodeRequest
	responder pairing.ClaimRequest
	claimed   bool

	challenge *pairing.ChallengeMessage
	ack       *pairing.AckMessage

	// codeExpiry 认领截止
	codeExpiry time.Time

	// boxExpiry 信箱截止，始终不早于认领截止
	boxExpiry time.Time
}

// ============================================================================
//                              注册表
// ============================================================================

// registry 配对会话注册表
//
// 所有操作以短码寻址。查找、认领与信箱读写共用一套哨兵：
// 返回 pairing 包的 ErrCodeNotFound、ErrCodeExpired、
// ErrCodeClaimed 与 ErrNotReady，HTTP 层据此映射状态码。
type registry struct {
	mu       sync.Mutex
	clk      clock.Clock
	sessions map[string]*session

	codeLength int
	codeTTL    time.Duration
	boxTTL     time.Duration
}

func newRegistry(cfg config.RelayConfig, clk clock.Clock) *registry {
	return &registry{
		clk:        clk,
		sessions:   make(map[string]*session),
		codeLength: cfg.CodeLength,
		codeTTL:    cfg.CodeTTL.Duration(),
		boxTTL:     cfg.MailboxTTL.Duration(),
	}
}

// create 为发起方签发一个新短码
func (r *registry) create(req pairing.CodeRequest) (pairing.CodeGrant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clk.Now()
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := generateCode(r.codeLength)
		if err != nil {
			return pairing.CodeGrant{}, err
		}
		if _, taken := r.sessions[code]; taken {
			continue
		}
		r.sessions[code] = &session{
			code:       code,
			initiator:  req,
			codeExpiry: now.Add(r.codeTTL),
			boxExpiry:  now.Add(r.boxTTL),
		}
		return pairing.CodeGrant{
			Code:      code,
			ExpiresAt: now.Add(r.codeTTL).UnixMilli(),
		}, nil
	}
	return pairing.CodeGrant{}, fmt.Errorf("pairing code space exhausted after %d attempts", maxCodeAttempts)
}

// claim 响应方凭码认领，换取发起方的身份与公钥
//
// 每个短码只能认领一次，重复认领返回 ErrCodeClaimed。
func (r *registry) claim(code string, req pairing.ClaimRequest) (pairing.ClaimGrant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, err := r.lookup(code)
	if err != nil {
		return pairing.ClaimGrant{}, err
	}
	if sess.claimed {
		return pairing.ClaimGrant{}, pairing.ErrCodeClaimed
	}
	if r.clk.Now().After(sess.codeExpiry) {
		return pairing.ClaimGrant{}, pairing.ErrCodeExpired
	}

	sess.claimed = true
	sess.responder = req
	return pairing.ClaimGrant{
		InitiatorDeviceID:   sess.initiator.DeviceID,
		InitiatorDeviceName: sess.initiator.DeviceName,
		InitiatorPublicKey:  sess.initiator.PublicKey,
		ExpiresAt:           sess.codeExpiry.UnixMilli(),
	}, nil
}

// putChallenge 响应方投递挑战
//
// 允许覆盖：响应方超时重投时以最新一份为准。
func (r *registry) putChallenge(code string, msg *pairing.ChallengeMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, err := r.lookup(code)
	if err != nil {
		return err
	}
	sess.challenge = msg
	return nil
}

// takeChallenge 发起方拉取挑战
//
// 读取不清空信箱，发起方丢应答后重新拉取拿到同一份。
func (r *registry) takeChallenge(code string) (*pairing.ChallengeMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, err := r.lookup(code)
	if err != nil {
		return nil, err
	}
	if sess.challenge == nil {
		return nil, pairing.ErrNotReady
	}
	return sess.challenge, nil
}

// putAck 发起方投递确认
func (r *registry) putAck(code string, msg *pairing.AckMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, err := r.lookup(code)
	if err != nil {
		return err
	}
	sess.ack = msg
	return nil
}

// takeAck 响应方拉取确认
func (r *registry) takeAck(code string) (*pairing.AckMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, err := r.lookup(code)
	if err != nil {
		return nil, err
	}
	if sess.ack == nil {
		return nil, pairing.ErrNotReady
	}
	return sess.ack, nil
}

// sweep 移除信箱已过期的会话，返回移除数量
func (r *registry) sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clk.Now()
	removed := 0
	for code, sess := range r.sessions {
		if now.After(sess.boxExpiry) {
			delete(r.sessions, code)
			removed++
		}
	}
	return removed
}

// size 返回存活会话数
func (r *registry) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// lookup 按短码取会话，信箱过期视同不存在前的最后状态
//
// 调用方必须持有 r.mu。
func (r *registry) lookup(code string) (*session, error) {
	sess, ok := r.sessions[code]
	if !ok {
		return nil, pairing.ErrCodeNotFound
	}
	if r.clk.Now().After(sess.boxExpiry) {
		return nil, pairing.ErrCodeExpired
	}
	return sess, nil
}

// generateCode 生成指定位数的数字短码
func generateCode(length int) (string, error) {
	buf := make([]byte, length)
	for i := range buf {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", fmt.Errorf("generate pairing code: %w", err)
		}
		buf[i] = '0' + byte(n.Int64())
	}
	return string(buf), nil
}
