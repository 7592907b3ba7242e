// Package main 提供独立的中继服务器
//
// 中继服务器为不在同一局域网的设备提供远程配对与云端转发：
// HTTP API 承载配对短码与挑战信箱，WebSocket 端点转发已配对
// 设备间的加密信封。服务器只见密文，不持有任何设备密钥。
//
// 使用方法:
//
//	go run . -addr :8541
//
// 或使用 Docker:
//
//	docker build -t syncboard-relay .
//	docker run -p 8541:8541 syncboard-relay
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/syncboard/go-syncboard"
	"github.com/syncboard/go-syncboard/config"
	"github.com/syncboard/go-syncboard/internal/relay"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// 解析命令行参数
	addr := flag.String("addr", "", "监听地址（默认 :8541）")
	configFile := flag.String("config", "", "配置文件路径")
	codeTTL := flag.Duration("code-ttl", 0, "配对短码有效期（默认 5m）")
	boxTTL := flag.Duration("box-ttl", 0, "挑战信箱有效期（默认 10m）")
	cleanup := flag.Duration("cleanup", 0, "过期会话清理周期（默认 1m）")
	showVersion := flag.Bool("version", false, "显示版本信息")
	flag.Parse()

	if *showVersion {
		fmt.Printf("syncboard-relay %s\n", syncboard.Version)
		return nil
	}

	// 加载配置并应用命令行覆盖
	cfg := config.NewConfig()
	if *configFile != "" {
		loaded, err := config.FromFile(*configFile)
		if err != nil {
			return fmt.Errorf("加载配置文件失败: %w", err)
		}
		cfg = loaded
	}
	if *addr != "" {
		cfg.Relay.ListenAddr = *addr
	}
	if *codeTTL > 0 {
		cfg.Relay.CodeTTL = config.Duration(*codeTTL)
	}
	if *boxTTL > 0 {
		cfg.Relay.MailboxTTL = config.Duration(*boxTTL)
	}
	if *cleanup > 0 {
		cfg.Relay.CleanupInterval = config.Duration(*cleanup)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 捕获中断信号
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-signalCh
		fmt.Printf("\n收到信号 %v，正在关闭...\n", sig)
		cancel()
	}()

	// 创建并启动服务器
	server := relay.New(cfg, clock.New())
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("启动中继服务器失败: %w", err)
	}

	// 打印服务器信息
	printServerInfo(server, cfg)

	// 启动统计报告
	go reportStats(ctx, server)

	// 等待关闭
	<-ctx.Done()

	fmt.Println("\n正在关闭中继服务器...")
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	return server.Stop(stopCtx)
}

// printServerInfo 打印服务器信息
func printServerInfo(server *relay.Server, cfg *config.Config) {
	fmt.Println()
	fmt.Println("╔══════════════════════════════════════════════════════╗")
	fmt.Println("║            SyncBoard Relay Server                    ║")
	fmt.Println("╠══════════════════════════════════════════════════════╣")
	fmt.Printf("║ 监听地址: %s\n", server.Addr())
	fmt.Println("║")
	fmt.Printf("║ 配对 API:      http://%s/pairing/codes\n", server.Addr())
	fmt.Printf("║ 转发端点:      ws://%s/ws\n", server.Addr())
	fmt.Printf("║ 配对码有效期:  %s\n", cfg.Relay.CodeTTL.Duration())
	fmt.Printf("║ 信箱有效期:    %s\n", cfg.Relay.MailboxTTL.Duration())
	fmt.Println("╚══════════════════════════════════════════════════════╝")
	fmt.Println()

	fmt.Println("设备侧连接参数:")
	fmt.Printf("  syncboardd -relay http://%s -cloud ws://%s/ws\n", server.Addr(), server.Addr())
	fmt.Println()

	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println("中继服务器已启动，等待设备接入...")
	fmt.Println("按 Ctrl+C 停止服务器")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
}

// reportStats 定期报告统计信息
func reportStats(ctx context.Context, server *relay.Server) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fmt.Printf("[Stats] 在线设备: %d，配对会话: %d\n", server.Devices(), server.Sessions())
		}
	}
}
