package syncengine

import (
	"go.uber.org/fx"

	"github.com/syncboard/go-syncboard/config"
	"github.com/syncboard/go-syncboard/pkg/types"
)

// Module 返回 Fx 模块
func Module() fx.Option {
	return fx.Module("syncengine",
		fx.Provide(ProvideEngine),
	)
}

// EngineParams 同步引擎的依赖
type EngineParams struct {
	fx.In

	Config *config.Config
	Keys   KeySource
}

// ProvideEngine 提供同步引擎
func ProvideEngine(p EngineParams) *Engine {
	device := types.DeviceInfo{
		ID:       types.DeviceID(p.Config.Identity.DeviceID),
		Name:     p.Config.Identity.DeviceName,
		Platform: types.Platform(p.Config.Identity.DevicePlatform),
	}
	return NewEngine(device, p.Config.Sync, p.Config.Frame.Version, p.Keys)
}
