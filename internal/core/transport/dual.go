// Package transport 实现双路径传输层
package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/syncboard/go-syncboard/config"
	"github.com/syncboard/go-syncboard/internal/core/cryptobox"
	"github.com/syncboard/go-syncboard/internal/core/envelope"
	"github.com/syncboard/go-syncboard/pkg/types"
)

// ============================================================================
//                              Dual - 冗余双路径发送
// ============================================================================

// Dual 组合 LAN 与云中继两条路径做冗余发送
//
// 两条腿总是并发发出，互不短路；LAN 腿与回退超时赛跑，超时
// 按 LAN 失败处理。至少一条成功即为成功；两条都失败时返回云
// 路径的错误。两条腿的结果无论成败都上报 Reporter。
type Dual struct {
	lan      PathSender
	cloud    PathSender
	keys     KeySource
	reporter Reporter

	fallbackTimeout time.Duration
}

// NewDual 创建双路径发送器
func NewDual(lan, cloud PathSender, keys KeySource, reporter Reporter, cfg config.TransportConfig) *Dual {
	if reporter == nil {
		reporter = NopReporter{}
	}
	return &Dual{
		lan:             lan,
		cloud:           cloud,
		keys:            keys,
		reporter:        reporter,
		fallbackTimeout: cfg.FallbackTimeout.Duration(),
	}
}

// legResult 单条腿的发送结果
type legResult struct {
	route   types.Route
	err     error
	elapsed time.Duration
}

// Send 在两条路径上冗余发出信封
//
// 已加密的信封先解密一次，再为每条路径用新随机 nonce 独立
// 重加密，消息 id 保持不变供接收端去重；同一密钥下的 nonce
// 绝不复用。未加密信封原样走两条路径。
func (d *Dual) Send(ctx context.Context, env *envelope.Envelope) error {
	lanEnv, cloudEnv, err := d.prepare(env)
	if err != nil {
		return err
	}

	results := make(chan legResult, 2)

	go d.sendLAN(ctx, lanEnv, results)
	go func() {
		start := time.Now()
		err := d.cloud.Send(ctx, cloudEnv)
		results <- legResult{route: types.RouteCloud, err: err, elapsed: time.Since(start)}
	}()

	var lanErr, cloudErr error
	for i := 0; i < 2; i++ {
		r := <-results
		d.reporter.SendOutcome(r.route, r.err == nil, r.elapsed)
		switch r.route {
		case types.RouteLAN:
			lanErr = r.err
		case types.RouteCloud:
			cloudErr = r.err
		}
		if r.err != nil {
			logger.Debug("路径发送失败",
				"route", r.route,
				"id", env.ID,
				"elapsed", r.elapsed,
				"err", r.err)
		}
	}

	if lanErr == nil || cloudErr == nil {
		return nil
	}
	// 云路径的错误信息量更大，整体失败时向上传播它
	return fmt.Errorf("all transport paths failed (lan: %v): %w", lanErr, cloudErr)
}

// sendLAN LAN 腿与回退超时赛跑
func (d *Dual) sendLAN(ctx context.Context, env *envelope.Envelope, results chan<- legResult) {
	start := time.Now()

	legCtx := ctx
	cancel := context.CancelFunc(func() {})
	if d.fallbackTimeout > 0 {
		legCtx, cancel = context.WithTimeout(ctx, d.fallbackTimeout)
	}
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- d.lan.Send(legCtx, env) }()

	select {
	case err := <-done:
		results <- legResult{route: types.RouteLAN, err: err, elapsed: time.Since(start)}
	case <-legCtx.Done():
		results <- legResult{
			route:   types.RouteLAN,
			err:     fmt.Errorf("%w: lan leg abandoned after %v", ErrTimeout, d.fallbackTimeout),
			elapsed: time.Since(start),
		}
	}
}

// prepare 为两条路径准备各自的信封
func (d *Dual) prepare(env *envelope.Envelope) (lanEnv, cloudEnv *envelope.Envelope, err error) {
	if !env.Encrypted() {
		return env, env, nil
	}

	target := env.Payload.Target
	if target.Empty() {
		return nil, nil, ErrNoTarget
	}
	key, err := d.keys.SharedKey(target)
	if err != nil {
		return nil, nil, fmt.Errorf("load shared key for %s: %w", target.Short(), err)
	}

	aad := []byte(env.Payload.DeviceID)
	plain, err := cryptobox.Open(key, env.Payload.Ciphertext, env.Payload.Encryption.Nonce, env.Payload.Encryption.Tag, aad)
	if err != nil {
		return nil, nil, fmt.Errorf("recover plaintext for re-encryption: %w", err)
	}

	lanBox, err := cryptobox.Seal(key, plain, aad)
	if err != nil {
		return nil, nil, err
	}
	cloudBox, err := cryptobox.Seal(key, plain, aad)
	if err != nil {
		return nil, nil, err
	}

	return env.Reencrypted(lanBox.Ciphertext, lanBox.Nonce, lanBox.Tag),
		env.Reencrypted(cloudBox.Ciphertext, cloudBox.Nonce, cloudBox.Tag),
		nil
}
