// Package pairing 实现设备配对引擎
package pairing

import (
	"context"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"github.com/syncboard/go-syncboard/config"
	"github.com/syncboard/go-syncboard/pkg/types"
)

// Module 返回 Fx 模块
func Module() fx.Option {
	return fx.Module("pairing",
		fx.Provide(ProvideEngine),
		fx.Invoke(registerLifecycle),
	)
}

// EngineParams 配对引擎的依赖
type EngineParams struct {
	fx.In

	Config *config.Config
	Keys   KeyStore
	Relay  Coordinator `optional:"true"`
}

// ProvideEngine 提供配对引擎
func ProvideEngine(p EngineParams) *Engine {
	device := types.DeviceInfo{
		ID:       types.DeviceID(p.Config.Identity.DeviceID),
		Name:     p.Config.Identity.DeviceName,
		Platform: types.Platform(p.Config.Identity.DevicePlatform),
	}
	return NewEngine(device, p.Config.Pairing, p.Keys, p.Relay, clock.New())
}

// registerLifecycle 注册生命周期钩子
func registerLifecycle(lc fx.Lifecycle, e *Engine) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return e.Start(ctx)
		},
		OnStop: func(_ context.Context) error {
			return e.Stop()
		},
	})
}
