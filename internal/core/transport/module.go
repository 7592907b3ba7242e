// Package transport 实现双路径传输层
package transport

import (
	"context"

	"go.uber.org/fx"

	"github.com/syncboard/go-syncboard/config"
	"github.com/syncboard/go-syncboard/internal/core/envelope"
	"github.com/syncboard/go-syncboard/pkg/types"
)

// Module 返回 Fx 模块
func Module() fx.Option {
	return fx.Module("transport",
		fx.Provide(
			ProvideCodec,
			ProvideLAN,
			ProvideCloud,
			ProvideDual,
		),
		fx.Invoke(registerLifecycle),
	)
}

// ProvideCodec 从统一配置提供帧编解码器
func ProvideCodec(cfg *config.Config) *envelope.Codec {
	return envelope.NewCodec(cfg.Frame.MaxFrameSize)
}

// ProvideLAN 提供局域网传输
func ProvideLAN(cfg *config.Config, codec *envelope.Codec) *LAN {
	return NewLAN(types.DeviceID(cfg.Identity.DeviceID), cfg.Transport, cfg.WebSocket, codec)
}

// ProvideCloud 提供云中继传输
func ProvideCloud(cfg *config.Config, codec *envelope.Codec) *Cloud {
	return NewCloud(types.DeviceID(cfg.Identity.DeviceID), cfg.Transport, cfg.WebSocket, codec)
}

// ProvideDual 提供双路径发送器
func ProvideDual(cfg *config.Config, lan *LAN, cloud *Cloud, keys KeySource, reporter Reporter) *Dual {
	return NewDual(lan, cloud, keys, reporter, cfg.Transport)
}

// registerLifecycle 注册生命周期钩子
func registerLifecycle(lc fx.Lifecycle, lan *LAN, cloud *Cloud) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return lan.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			_ = cloud.Close()
			return lan.Stop(ctx)
		},
	})
}
