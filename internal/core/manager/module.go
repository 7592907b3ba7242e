package manager

import (
	"context"

	"go.uber.org/fx"

	"github.com/syncboard/go-syncboard/config"
	"github.com/syncboard/go-syncboard/internal/core/eventbus"
	"github.com/syncboard/go-syncboard/internal/core/keystore"
	"github.com/syncboard/go-syncboard/internal/core/metrics"
	"github.com/syncboard/go-syncboard/internal/core/pairing"
	"github.com/syncboard/go-syncboard/internal/core/supervisor"
	"github.com/syncboard/go-syncboard/internal/core/syncengine"
	"github.com/syncboard/go-syncboard/internal/core/transport"
	"github.com/syncboard/go-syncboard/pkg/types"
)

// Module 返回 Fx 模块
//
// 除管理器本身外还提供监督器的拨号与心跳协作方，监督器模块
// 依赖这两个接口注入。
func Module() fx.Option {
	return fx.Module("manager",
		fx.Provide(
			ProvideBridge,
			AsDialer,
			AsHeartbeatSender,
			ProvideManager,
		),
		fx.Invoke(registerLifecycle),
	)
}

// ProvideBridge 提供监督器桥接
func ProvideBridge(cfg *config.Config, lan *transport.LAN, cloud *transport.Cloud, rec *metrics.Recorder) *Bridge {
	return NewBridge(cfg, lan, cloud, rec)
}

// AsDialer 把桥接绑定为监督器的拨号协作方
func AsDialer(b *Bridge) supervisor.Dialer { return b }

// AsHeartbeatSender 把桥接绑定为监督器的心跳协作方
func AsHeartbeatSender(b *Bridge) supervisor.HeartbeatSender { return b }

// ManagerParams 管理器的依赖
type ManagerParams struct {
	fx.In

	Config     *config.Config
	LAN        *transport.LAN
	Cloud      *transport.Cloud
	Dual       *transport.Dual
	Supervisor *supervisor.Supervisor
	Pairing    *pairing.Engine
	Sync       *syncengine.Engine
	Store      keystore.Store
	Clipboard  types.ClipboardIO      `optional:"true"`
	Discovery  types.DiscoveryService `optional:"true"`
	Bus        *eventbus.Bus
	Metrics    *metrics.Recorder
}

// ProvideManager 提供管理器
func ProvideManager(p ManagerParams) (*Manager, error) {
	return NewManager(Deps{
		Config:     p.Config,
		LAN:        p.LAN,
		Cloud:      p.Cloud,
		Dual:       p.Dual,
		Supervisor: p.Supervisor,
		Pairing:    p.Pairing,
		Sync:       p.Sync,
		Store:      p.Store,
		Clipboard:  p.Clipboard,
		Discovery:  p.Discovery,
		Bus:        p.Bus,
		Metrics:    p.Metrics,
	})
}

// registerLifecycle 注册生命周期钩子
//
// 管理器须在传输层与监督器之后启动，根模块的注册顺序保证这点。
func registerLifecycle(lc fx.Lifecycle, m *Manager) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return m.Start(ctx)
		},
		OnStop: func(_ context.Context) error {
			return m.Stop()
		},
	})
}
