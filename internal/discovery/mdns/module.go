package mdns

import (
	"context"

	"go.uber.org/fx"

	"github.com/syncboard/go-syncboard/config"
	"github.com/syncboard/go-syncboard/pkg/types"
)

// Module 返回 Fx 模块
func Module() fx.Option {
	return fx.Module("discovery/mdns",
		fx.Provide(ProvideService),
		fx.Invoke(registerLifecycle),
	)
}

// ProvideService 提供发现服务
//
// 禁用 mDNS 时返回 nil 实现, 上层消费方需对 nil 容忍。
func ProvideService(cfg *config.Config) types.DiscoveryService {
	if !cfg.Discovery.EnableMDNS {
		return nil
	}
	device := types.DeviceInfo{
		ID:       types.DeviceID(cfg.Identity.DeviceID),
		Name:     cfg.Identity.DeviceName,
		Platform: types.Platform(cfg.Identity.DevicePlatform),
	}
	return NewService(cfg.Discovery, device, cfg.WebSocket.ListenPort)
}

// registerLifecycle 注册生命周期钩子
func registerLifecycle(lc fx.Lifecycle, svc types.DiscoveryService) {
	if svc == nil {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return svc.Start(ctx)
		},
		OnStop: func(_ context.Context) error {
			return svc.Stop()
		},
	})
}
