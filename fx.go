package syncboard

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/syncboard/go-syncboard/config"

	// Core Layer
	"github.com/syncboard/go-syncboard/internal/core/eventbus"
	"github.com/syncboard/go-syncboard/internal/core/keystore"
	"github.com/syncboard/go-syncboard/internal/core/manager"
	"github.com/syncboard/go-syncboard/internal/core/metrics"
	"github.com/syncboard/go-syncboard/internal/core/pairing"
	"github.com/syncboard/go-syncboard/internal/core/supervisor"
	"github.com/syncboard/go-syncboard/internal/core/syncengine"
	"github.com/syncboard/go-syncboard/internal/core/transport"

	// Discovery Layer
	"github.com/syncboard/go-syncboard/internal/discovery/mdns"

	// Relay Layer
	relayclient "github.com/syncboard/go-syncboard/internal/relay/client"

	"github.com/syncboard/go-syncboard/pkg/types"
)

// buildFxApp 构建 Fx 应用
//
// 组装所有内部模块，采用条件加载策略：
//   - 核心模块：必须加载（EventBus, Metrics, Keystore, Transport,
//     Supervisor, Pairing, SyncEngine, Manager）
//   - 条件模块：根据配置加载（中继协调器、mDNS 发现）
//   - 扩展模块：用户自定义 Fx 选项
//
// 加载顺序（按依赖）：
//  1. 基础层: EventBus → Metrics → Keystore
//  2. 传输层: Envelope Codec → LAN/Cloud/Dual → Supervisor
//  3. 协调层: Pairing → SyncEngine → Manager
//  4. 发现层: mDNS（或用户自定义发现服务）
func buildFxApp(o *options, cfg *config.Config, node *Node) (*fx.App, error) {
	// ════════════════════════════════════════════════════════════════════════
	// 1. 配置验证（前置）
	// ════════════════════════════════════════════════════════════════════════
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	// ════════════════════════════════════════════════════════════════════════
	// 2. 基础模块（必须加载）
	// ════════════════════════════════════════════════════════════════════════
	modules := []fx.Option{
		// 配置注入
		fx.Supply(cfg),

		// 基础组件（必须）
		eventbus.Module(), // 事件总线
		metrics.Module(),  // 指标记录器（端点按配置开启）
		keystore.Module(), // 密钥存储（Badger 或内存）

		// 密钥存储与指标绑定到各消费接口
		fx.Provide(
			asPairingKeyStore,
			asTransportKeySource,
			asSyncKeySource,
			asTransportReporter,
		),
	}

	// ════════════════════════════════════════════════════════════════════════
	// 3. 中继协调器（条件加载）
	// ════════════════════════════════════════════════════════════════════════
	// 未配置中继端点时不提供 Coordinator，配对引擎的远程模式
	// 返回 ErrNoCoordinator，本地扫码配对不受影响。
	if cfg.Relay.Endpoint != "" {
		modules = append(modules, fx.Provide(provideCoordinator))
	}

	// ════════════════════════════════════════════════════════════════════════
	// 4. 传输与协调层（必须加载）
	// ════════════════════════════════════════════════════════════════════════
	modules = append(modules,
		transport.Module(),  // LAN/Cloud/Dual 双路径传输
		supervisor.Module(), // 按设备连接监督
		pairing.Module(),    // 配对引擎
		syncengine.Module(), // 同步引擎
		manager.Module(),    // 协调管理器
	)

	// ════════════════════════════════════════════════════════════════════════
	// 5. 发现层（条件加载）
	// ════════════════════════════════════════════════════════════════════════
	// 用户自定义发现服务优先；否则加载内建 mDNS（按配置自禁用）。
	if o.discovery != nil {
		svc := o.discovery
		modules = append(modules,
			fx.Provide(func() types.DiscoveryService { return svc }),
			fx.Invoke(registerDiscoveryLifecycle),
		)
	} else {
		modules = append(modules, mdns.Module())
	}

	// ════════════════════════════════════════════════════════════════════════
	// 6. 剪贴板协作方（可选）
	// ════════════════════════════════════════════════════════════════════════
	if o.clipboard != nil {
		clip := o.clipboard
		modules = append(modules,
			fx.Provide(func() types.ClipboardIO { return clip }),
		)
	}

	// ════════════════════════════════════════════════════════════════════════
	// 7. 用户扩展（Fx Options）
	// ════════════════════════════════════════════════════════════════════════
	if len(o.userFxOptions) > 0 {
		modules = append(modules, o.userFxOptions...)
	}

	// ════════════════════════════════════════════════════════════════════════
	// 8. Node 组件注入
	// ════════════════════════════════════════════════════════════════════════
	modules = append(modules, fx.Invoke(injectNodeComponents(node)))

	// ════════════════════════════════════════════════════════════════════════
	// 9. Fx 配置
	// ════════════════════════════════════════════════════════════════════════
	modules = append(modules,
		// 禁用 Fx 日志输出（避免干扰用户日志）
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: zap.NewNop()}
		}),
		fx.NopLogger,
	)

	return fx.New(modules...), nil
}

// ════════════════════════════════════════════════════════════════════════════
// 接口绑定辅助函数
// ════════════════════════════════════════════════════════════════════════════

// asPairingKeyStore 把密钥存储绑定为配对引擎的持久化面
func asPairingKeyStore(s keystore.Store) pairing.KeyStore { return s }

// asTransportKeySource 把密钥存储绑定为传输层的密钥源
func asTransportKeySource(s keystore.Store) transport.KeySource { return s }

// asSyncKeySource 把密钥存储绑定为同步引擎的密钥源
func asSyncKeySource(s keystore.Store) syncengine.KeySource { return s }

// asTransportReporter 把指标记录器绑定为传输层的结果上报面
func asTransportReporter(r *metrics.Recorder) transport.Reporter { return r }

// provideCoordinator 提供中继 HTTP 客户端作为远程配对协调器
func provideCoordinator(cfg *config.Config) pairing.Coordinator {
	return relayclient.New(cfg.Relay)
}

// registerDiscoveryLifecycle 托管用户自定义发现服务的生命周期
func registerDiscoveryLifecycle(lc fx.Lifecycle, svc types.DiscoveryService) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return svc.Start(ctx)
		},
		OnStop: func(_ context.Context) error {
			return svc.Stop()
		},
	})
}

// ════════════════════════════════════════════════════════════════════════════
// 组件注入辅助函数
// ════════════════════════════════════════════════════════════════════════════

// nodeInjectParams Node 组件注入参数
type nodeInjectParams struct {
	fx.In

	Manager *manager.Manager // 协调管理器
	Bus     *eventbus.Bus    // 事件总线
	LAN     *transport.LAN   // 局域网传输（查询实际监听端口）
}

// injectNodeComponents 创建 Node 组件注入函数
func injectNodeComponents(node *Node) interface{} {
	return func(params nodeInjectParams) {
		node.manager = params.Manager
		node.bus = params.Bus
		node.lan = params.LAN
	}
}
