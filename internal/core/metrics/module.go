package metrics

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"go.uber.org/fx"

	"github.com/syncboard/go-syncboard/config"
	"github.com/syncboard/go-syncboard/pkg/lib/log"
)

var logger = log.Logger("core/metrics")

// Module 返回 Fx 模块
func Module() fx.Option {
	return fx.Module("metrics",
		fx.Provide(ProvideRecorder),
		fx.Invoke(registerEndpoint),
	)
}

// ProvideRecorder 提供指标记录器
func ProvideRecorder(cfg *config.Config) *Recorder {
	return NewRecorder(cfg.Metrics.Namespace)
}

// registerEndpoint 按配置暴露 /metrics 端点
func registerEndpoint(lc fx.Lifecycle, cfg *config.Config, r *Recorder) {
	mc := cfg.Metrics
	if !mc.Enabled || mc.ListenAddr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	srv := &http.Server{Handler: mux}

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			ln, err := net.Listen("tcp", mc.ListenAddr)
			if err != nil {
				return fmt.Errorf("metrics listen on %s: %w", mc.ListenAddr, err)
			}
			logger.Info("指标端点已开启", "addr", ln.Addr().String())
			go func() {
				if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
					logger.Error("指标端点异常退出", "error", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
