// Package main 提供 syncboardd 守护进程入口
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/syncboard/go-syncboard"
	"github.com/syncboard/go-syncboard/pkg/lib/log"
	"github.com/syncboard/go-syncboard/pkg/types"
)

var logger = log.Logger("syncboard/cmd")

// ═══════════════════════════════════════════════════════════════════════════
// 命令行参数
// ═══════════════════════════════════════════════════════════════════════════
//
// 设计原则：
//
//   命令行参数：运行时覆盖 / 快速测试（「这次运行」想怎么跑）
//   JSON 配置文件：持久化配置 / 长期运行（「这台设备」的固定配置）
//
// ═══════════════════════════════════════════════════════════════════════════
var (
	// ─────────────────────────────────────────────────────────────────────
	// 运行时参数（快速指定）
	// ─────────────────────────────────────────────────────────────────────
	port       = flag.Int("port", 0, "WebSocket 监听端口（0 = 随机端口）")
	configFile = flag.String("config", "", "配置文件路径")
	deviceName = flag.String("name", "", "设备名称")
	dataDir    = flag.String("data", "", "数据目录（默认: ~/.syncboard）")

	// ─────────────────────────────────────────────────────────────────────
	// 端点参数
	// ─────────────────────────────────────────────────────────────────────
	relayEndpoint = flag.String("relay", "", "中继 HTTP API 端点（远程配对用）")
	cloudEndpoint = flag.String("cloud", "", "云中继 WebSocket 端点（跨网段同步用）")

	// ─────────────────────────────────────────────────────────────────────
	// 发现与指标
	// ─────────────────────────────────────────────────────────────────────
	noMDNS      = flag.Bool("no-mdns", false, "关闭 mDNS 局域网发现")
	metricsAddr = flag.String("metrics", "", "Prometheus 指标监听地址（如 :9090）")

	// ─────────────────────────────────────────────────────────────────────
	// 配对动作（启动后执行一次）
	// ─────────────────────────────────────────────────────────────────────
	pairLocal   = flag.Bool("pair", false, "启动后发起本地配对并打印票据")
	claimTicket = flag.String("claim", "", "启动后认领对端展示的配对票据")
	pairRemote  = flag.Bool("pair-remote", false, "启动后发起远程配对并打印短码")
	claimCode   = flag.String("claim-code", "", "启动后凭短码认领远程配对")

	// ─────────────────────────────────────────────────────────────────────
	// 日志参数
	// ─────────────────────────────────────────────────────────────────────
	logFile = flag.String("log", "", "日志文件路径")
	logDir  = flag.String("log-dir", "logs", "日志目录")
	autoLog = flag.Bool("auto-log", true, "自动生成日志文件")

	// ─────────────────────────────────────────────────────────────────────
	// 信息显示
	// ─────────────────────────────────────────────────────────────────────
	showVersion = flag.Bool("version", false, "显示版本信息")
	showHelp    = flag.Bool("help", false, "显示帮助信息")
)

// actualLogPath 实际使用的日志文件路径（用于输出显示）
var actualLogPath string

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flag.Parse()

	// 显示版本
	if *showVersion {
		printVersion()
		return nil
	}

	// 显示帮助
	if *showHelp {
		printHelp()
		return nil
	}

	// 设置日志
	var logFileHandle *os.File
	var err error
	actualLogPath, logFileHandle, err = setupLogging()
	if err != nil {
		fmt.Fprintf(os.Stderr, "警告: %v\n", err)
		fmt.Fprintln(os.Stderr, "将继续使用控制台输出日志")
	}
	if logFileHandle != nil {
		defer func() { _ = logFileHandle.Close() }()
	}

	// 构建选项
	opts, err := buildOptions()
	if err != nil {
		return fmt.Errorf("配置错误: %w", err)
	}

	// 创建上下文
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fmt.Printf("📦 %s\n", syncboard.VersionInfo())
	logger.Info("启动 syncboard 守护进程",
		"version", syncboard.Version,
		"commit", syncboard.GitCommit,
		"buildDate", syncboard.BuildDate)

	// 启动节点
	fmt.Println("正在启动 syncboard 节点...")
	node, err := syncboard.Start(ctx, opts...)
	if err != nil {
		return fmt.Errorf("启动失败: %w", err)
	}
	defer func() { _ = node.Close() }()

	// 显示节点信息
	printNodeInfo(node)

	// 事件打印循环
	if err := watchEvents(node); err != nil {
		return fmt.Errorf("订阅事件失败: %w", err)
	}

	// 启动后的一次性配对动作
	if err := runPairingAction(ctx, node); err != nil {
		return err
	}

	// 等待退出信号
	fmt.Println("节点已启动，按 Ctrl+C 退出")
	waitForSignal()

	fmt.Println("\n正在关闭节点...")
	return nil
}

// buildOptions 构建选项
//
// 配置优先级（从高到低）：
//  1. 命令行参数（运行时覆盖）
//  2. 环境变量（SYNCBOARD_* 前缀）
//  3. 配置文件（持久化配置）
//  4. 内置默认值
func buildOptions() ([]syncboard.Option, error) {
	var opts []syncboard.Option

	// ═══════════════════════════════════════════════════════════════════
	// 1. 加载配置文件（持久化配置）
	// ═══════════════════════════════════════════════════════════════════
	cfg, err := loadConfig(*configFile)
	if err != nil {
		return nil, fmt.Errorf("加载配置文件失败: %w", err)
	}

	// ═══════════════════════════════════════════════════════════════════
	// 2. 应用环境变量覆盖
	// ═══════════════════════════════════════════════════════════════════
	applyEnvOverrides(cfg)
	opts = append(opts, syncboard.WithConfig(cfg))

	// ═══════════════════════════════════════════════════════════════════
	// 3. 应用命令行参数覆盖（最高优先级）
	// ═══════════════════════════════════════════════════════════════════
	if isFlagSet("port") {
		opts = append(opts, syncboard.WithListenPort(*port))
	}
	if *deviceName != "" {
		opts = append(opts, syncboard.WithDeviceName(*deviceName))
	}
	if *dataDir != "" {
		opts = append(opts, syncboard.WithDataDir(*dataDir))
	}
	if *relayEndpoint != "" {
		opts = append(opts, syncboard.WithRelayEndpoint(*relayEndpoint))
	}
	if *cloudEndpoint != "" {
		opts = append(opts, syncboard.WithCloudEndpoint(*cloudEndpoint))
	}
	if *noMDNS {
		opts = append(opts, syncboard.WithMDNS(false))
	}
	if *metricsAddr != "" {
		opts = append(opts, syncboard.WithMetrics(*metricsAddr))
	}

	// 守护进程不接平台剪贴板，用内存桩承接同步内容
	opts = append(opts, syncboard.WithClipboard(newMemClipboard()))

	return opts, nil
}

// isFlagSet 检查命令行参数是否被显式设置
func isFlagSet(name string) bool {
	found := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

// waitForSignal 等待退出信号
func waitForSignal() {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	<-signals
}

// setupLogging 设置日志输出
//
// 根据配置自动创建日志文件，返回实际使用的日志路径。
// 如果禁用自动日志且未指定日志文件，返回空字符串（日志输出到 stderr）。
func setupLogging() (string, *os.File, error) {
	if !*autoLog && *logFile == "" {
		return "", nil, nil
	}

	logPath := *logFile
	if logPath == "" {
		logPath = getLogFileFromEnv()
	}
	if logPath == "" {
		timestamp := time.Now().Format("20060102-150405")
		logPath = filepath.Join(*logDir, fmt.Sprintf("syncboardd-%s-%d.log", timestamp, os.Getpid()))
	}

	if err := os.MkdirAll(filepath.Dir(logPath), 0o750); err != nil {
		return "", nil, fmt.Errorf("创建日志目录失败: %w", err)
	}

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return "", nil, fmt.Errorf("打开日志文件失败: %w", err)
	}

	log.SetOutput(file)
	return logPath, file, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// 事件打印
// ═══════════════════════════════════════════════════════════════════════════

// watchEvents 订阅关键事件并打印到控制台
//
// 事件通道随节点停止关闭，打印 goroutine 自行退出。
func watchEvents(node *syncboard.Node) error {
	watchers := []struct {
		typ    interface{}
		format func(ev interface{}) string
	}{
		{new(types.EvtDeviceOnline), func(ev interface{}) string {
			e := ev.(types.EvtDeviceOnline)
			return fmt.Sprintf("设备上线: %s（路径: %s）", e.DeviceID.Short(), e.Route)
		}},
		{new(types.EvtDeviceOffline), func(ev interface{}) string {
			e := ev.(types.EvtDeviceOffline)
			return fmt.Sprintf("设备离线: %s（%s）", e.DeviceID.Short(), e.Reason)
		}},
		{new(types.EvtRouteChanged), func(ev interface{}) string {
			e := ev.(types.EvtRouteChanged)
			return fmt.Sprintf("路径切换: %s %s → %s", e.DeviceID.Short(), e.Old, e.New)
		}},
		{new(types.EvtPeerDiscovered), func(ev interface{}) string {
			e := ev.(types.EvtPeerDiscovered)
			return fmt.Sprintf("发现设备: %s（%s:%d）", e.Peer.Device.Name, e.Peer.Host, e.Peer.Port)
		}},
		{new(types.EvtPairingCompleted), func(ev interface{}) string {
			e := ev.(types.EvtPairingCompleted)
			return fmt.Sprintf("配对完成: %s（%s）", e.Device.Name, e.Device.ID.Short())
		}},
		{new(types.EvtPairingFailed), func(ev interface{}) string {
			e := ev.(types.EvtPairingFailed)
			return fmt.Sprintf("配对失败: %s", e.Reason)
		}},
		{new(types.EvtSyncApplied), func(ev interface{}) string {
			e := ev.(types.EvtSyncApplied)
			return fmt.Sprintf("剪贴板已同步: 来自 %s，%s %d 字节", e.From.Short(), e.ContentType, e.Size)
		}},
	}

	for _, w := range watchers {
		sub, err := node.Subscribe(w.typ)
		if err != nil {
			return err
		}
		go func(sub *syncboard.Subscription, format func(interface{}) string) {
			for ev := range sub.Out() {
				fmt.Printf("[事件] %s\n", format(ev))
			}
		}(sub, w.format)
	}
	return nil
}

// ═══════════════════════════════════════════════════════════════════════════
// 配对动作
// ═══════════════════════════════════════════════════════════════════════════

// runPairingAction 执行启动参数指定的一次性配对动作
func runPairingAction(ctx context.Context, node *syncboard.Node) error {
	switch {
	case *pairLocal:
		ticket, err := node.StartLocalPairing()
		if err != nil {
			return fmt.Errorf("发起本地配对: %w", err)
		}
		fmt.Println()
		fmt.Println("本地配对票据（复制到对端执行 -claim，或渲染为二维码）:")
		fmt.Println()
		fmt.Printf("  %s\n", ticket.Encoded)
		fmt.Println()
		fmt.Printf("有效期至 %s\n", ticket.ExpiresAt.Format("15:04:05"))

	case *claimTicket != "":
		if err := claimWithRetry(ctx, node, *claimTicket); err != nil {
			return fmt.Errorf("认领配对票据: %w", err)
		}
		fmt.Println("配对挑战已投递，等待对端确认...")

	case *pairRemote:
		code, err := node.StartRemotePairing(ctx)
		if err != nil {
			return fmt.Errorf("发起远程配对: %w", err)
		}
		fmt.Println()
		fmt.Printf("远程配对码: %s（有效期至 %s）\n", code.Code, code.ExpiresAt.Format("15:04:05"))
		fmt.Println("对端执行 -claim-code 认领")

	case *claimCode != "":
		if err := node.ClaimRemotePairing(ctx, *claimCode); err != nil {
			return fmt.Errorf("认领配对码: %w", err)
		}
		fmt.Println("远程配对进行中，等待双方确认...")
	}
	return nil
}

// claimWithRetry 认领本地配对票据，容忍对端尚未被发现
//
// 刚启动时浏览循环可能还没看到发起方，在发现之前按固定间隔
// 重试；其余错误立即终止。
func claimWithRetry(ctx context.Context, node *syncboard.Node, ticket string) error {
	const wait = 30 * time.Second

	deadline := time.NewTimer(wait)
	defer deadline.Stop()

	waiting := false
	for {
		err := node.PairWithTicket(ctx, ticket)
		if err == nil {
			return nil
		}
		if !errors.Is(err, syncboard.ErrPeerNotDiscovered) {
			return err
		}

		if !waiting {
			fmt.Println("尚未在局域网中发现对端，等待发现...")
			waiting = true
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return err
		case <-time.After(2 * time.Second):
		}
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// 信息输出
// ═══════════════════════════════════════════════════════════════════════════

// printNodeInfo 打印节点信息（美化输出）
func printNodeInfo(node *syncboard.Node) {
	fmt.Println()
	fmt.Println("╔════════════════════════════════════════════════════════════════════════╗")
	fmt.Printf("║                SyncBoard Node Started (%s)                         ║\n", syncboard.Version)
	fmt.Println("╠════════════════════════════════════════════════════════════════════════╣")
	printBoxLabel("Device ID:", string(node.DeviceID()))
	printBoxLabel("Name:", node.DeviceName())
	printBoxLabel("Listen:", fmt.Sprintf("ws://0.0.0.0:%d/ws", node.ListenPort()))
	fmt.Println("║                                                                        ║")

	if *cloudEndpoint != "" {
		printBoxLabel("Cloud:", *cloudEndpoint)
	}
	if *relayEndpoint != "" {
		printBoxLabel("Relay:", *relayEndpoint)
	}
	if *noMDNS {
		printBoxLabel("mDNS:", "off")
	} else {
		printBoxLabel("mDNS:", "on")
	}
	if *metricsAddr != "" {
		printBoxLabel("Metrics:", *metricsAddr)
	}

	if actualLogPath != "" {
		fmt.Println("║                                                                        ║")
		printBoxLabel("Log file:", actualLogPath)
	}

	fmt.Println("╚════════════════════════════════════════════════════════════════════════╝")
	fmt.Println()
}

// printBoxLabel 打印带标签的盒内行（超长内容折行，不截断）
func printBoxLabel(label, text string) {
	const width = 58
	prefix := fmt.Sprintf("║  %-10s ", label)
	for len(text) > width {
		fmt.Printf("%s%-*s  ║\n", prefix, width, text[:width])
		text = text[width:]
		prefix = "║             "
	}
	fmt.Printf("%s%-*s  ║\n", prefix, width, text)
}

// printVersion 打印版本信息
func printVersion() {
	fmt.Printf("syncboardd %s\n", syncboard.Version)
	if syncboard.GitCommit != "" {
		fmt.Printf("  commit: %s\n", syncboard.GitCommit)
	}
	if syncboard.BuildDate != "" {
		fmt.Printf("  built:  %s\n", syncboard.BuildDate)
	}
}

// printHelp 打印帮助信息
func printHelp() {
	fmt.Println("syncboardd - 跨设备剪贴板同步守护进程")
	fmt.Println()
	fmt.Println("用法:")
	fmt.Println("  syncboardd [选项]")
	fmt.Println()
	fmt.Println("选项:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("═══════════════════════════════════════════════════════════════════════════")
	fmt.Println("配置边界说明")
	fmt.Println("═══════════════════════════════════════════════════════════════════════════")
	fmt.Println()
	fmt.Println("命令行参数（运行时覆盖）：")
	fmt.Println("  -port, -name, -data, -relay, -cloud       # 运行时参数")
	fmt.Println("  -no-mdns, -metrics                        # 发现与指标")
	fmt.Println("  -pair, -claim, -pair-remote, -claim-code  # 配对动作")
	fmt.Println("  -log, -log-dir, -auto-log                 # 日志参数")
	fmt.Println()
	fmt.Println("配置文件（持久化配置）：")
	fmt.Println("  websocket.listen_port      # 监听端口")
	fmt.Println("  transport.cloud_endpoint   # 云中继 WebSocket 端点")
	fmt.Println("  relay.endpoint             # 中继 HTTP API 端点")
	fmt.Println("  discovery.enable_mdns      # 是否启用 mDNS 发现")
	fmt.Println("  sync.dedup_ttl             # 去重窗口")
	fmt.Println("  keystore.path              # 密钥库路径")
	fmt.Println()
	fmt.Println("环境变量:")
	fmt.Println("  SYNCBOARD_LISTEN_PORT     监听端口")
	fmt.Println("  SYNCBOARD_DEVICE_ID       设备标识")
	fmt.Println("  SYNCBOARD_DEVICE_NAME     设备名称")
	fmt.Println("  SYNCBOARD_DATA_DIR        数据目录")
	fmt.Println("  SYNCBOARD_RELAY_ENDPOINT  中继 HTTP API 端点")
	fmt.Println("  SYNCBOARD_CLOUD_ENDPOINT  云中继 WebSocket 端点")
	fmt.Println("  SYNCBOARD_ENABLE_MDNS     启用 mDNS 发现 (true/false)")
	fmt.Println("  SYNCBOARD_LOG_FILE        日志文件路径")
	fmt.Println()
	fmt.Println("═══════════════════════════════════════════════════════════════════════════")
	fmt.Println("使用示例")
	fmt.Println("═══════════════════════════════════════════════════════════════════════════")
	fmt.Println()
	fmt.Println("同一局域网的两台设备（mDNS 自动发现）:")
	fmt.Println()
	fmt.Println("  # 设备 A：发起配对并展示票据")
	fmt.Println("  syncboardd -name 台式机 -pair")
	fmt.Println()
	fmt.Println("  # 设备 B：认领票据")
	fmt.Println("  syncboardd -name 笔记本 -claim <票据>")
	fmt.Println()
	fmt.Println("不在同一网段的设备（经中继配对与同步）:")
	fmt.Println()
	fmt.Println("  # 设备 A：凭中继发起远程配对")
	fmt.Println("  syncboardd -relay https://relay.example.com -cloud wss://relay.example.com/ws -pair-remote")
	fmt.Println()
	fmt.Println("  # 设备 B：凭短码认领")
	fmt.Println("  syncboardd -relay https://relay.example.com -cloud wss://relay.example.com/ws -claim-code 483920")
	fmt.Println()
	fmt.Println("长期运行（配置文件 + 指标）:")
	fmt.Println()
	fmt.Println("  syncboardd -config ~/.syncboard/config.json -metrics :9090")
	fmt.Println()
	fmt.Println("═══════════════════════════════════════════════════════════════════════════")
	fmt.Println("配置文件示例 (config.json)")
	fmt.Println("═══════════════════════════════════════════════════════════════════════════")
	fmt.Println()
	fmt.Println(`  {`)
	fmt.Println(`    "identity": {`)
	fmt.Println(`      "device_name": "工作机"`)
	fmt.Println(`    },`)
	fmt.Println(`    "websocket": {`)
	fmt.Println(`      "listen_port": 8540`)
	fmt.Println(`    },`)
	fmt.Println(`    "transport": {`)
	fmt.Println(`      "cloud_endpoint": "wss://relay.example.com/ws"`)
	fmt.Println(`    },`)
	fmt.Println(`    "relay": {`)
	fmt.Println(`      "endpoint": "https://relay.example.com"`)
	fmt.Println(`    },`)
	fmt.Println(`    "discovery": {`)
	fmt.Println(`      "enable_mdns": true`)
	fmt.Println(`    }`)
	fmt.Println(`  }`)
}
