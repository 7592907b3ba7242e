// Package supervisor 实现按设备的连接监督
package supervisor

import (
	"context"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"github.com/syncboard/go-syncboard/config"
)

// Module 返回 Fx 模块
func Module() fx.Option {
	return fx.Module("supervisor",
		fx.Provide(ProvideSupervisor),
		fx.Invoke(registerLifecycle),
	)
}

// ProvideSupervisor 提供连接监督器
func ProvideSupervisor(cfg *config.Config, dialer Dialer, hb HeartbeatSender) *Supervisor {
	return New(cfg.Supervisor, cfg.Transport.FallbackTimeout.Duration(), dialer, hb, clock.New())
}

// registerLifecycle 注册生命周期钩子
func registerLifecycle(lc fx.Lifecycle, s *Supervisor) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return s.Start(ctx)
		},
		OnStop: func(_ context.Context) error {
			return s.Stop()
		},
	})
}
