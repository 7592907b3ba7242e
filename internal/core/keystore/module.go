package keystore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/fx"

	"github.com/syncboard/go-syncboard/config"
)

// Module 返回 Fx 模块
func Module() fx.Option {
	return fx.Module("keystore",
		fx.Provide(ProvideStore),
		fx.Invoke(registerLifecycle),
	)
}

// ProvideStore 按配置提供密钥存储
//
// InMemory 时使用内存实现；路径为空时回退到用户目录。
func ProvideStore(cfg *config.Config) (Store, error) {
	kc := cfg.Keystore
	if kc.InMemory {
		return NewMemory(), nil
	}

	path := kc.Path
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve keystore path: %w", err)
		}
		path = filepath.Join(home, ".syncboard", "keystore")
	}
	return OpenBadger(path, kc.GCInterval.Duration())
}

// registerLifecycle 注册生命周期钩子
func registerLifecycle(lc fx.Lifecycle, s Store) {
	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			return s.Close()
		},
	})
}
