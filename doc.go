// Package syncboard 提供跨设备剪贴板同步的安全传输与配对引擎
//
// SyncBoard 让同一用户的多台设备通过端到端加密通道同步剪贴板：
// 局域网内设备直连，跨网络时经云端中继转发，两条路径自动冗余
// 与回退。所有内容在离开设备前完成 AES-256-GCM 加密，中继与
// 网络中间人都无法读取明文。
//
// # 核心概念
//
// SyncBoard 围绕三个核心概念构建：
//
//   - Node: 同步节点，用户交互的主入口
//   - Pairing: 设备配对，扫码（局域网）或短码（中继）建立信任
//   - Sync: 剪贴板同步，加密信封经双路径送达并去重
//
// # 快速开始
//
//	import "github.com/syncboard/go-syncboard"
//
//	// 1. 创建并启动节点
//	node, err := syncboard.Start(ctx,
//	    syncboard.WithDeviceName("工作机"),
//	    syncboard.WithListenPort(8540),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer node.Close()
//
//	// 2. 配对新设备（本机展示票据，对端扫码认领）
//	ticket, _ := node.StartLocalPairing()
//	fmt.Println("扫码配对:", ticket.Encoded)
//
//	// 3. 同步剪贴板
//	node.SyncClipboard(ctx)
//
// # API 层次结构
//
//	┌─────────────────────────────────────────────────────────────────┐
//	│  入口层                                                          │
//	│  ┌─────────┐                                                     │
//	│  │  Node   │  syncboard.New() / syncboard.Start()               │
//	│  └─────────┘                                                     │
//	├─────────────────────────────────────────────────────────────────┤
//	│  协调层                                                          │
//	│  ┌─────────┐ ┌─────────┐ ┌────────────┐                         │
//	│  │ Manager │ │ Pairing │ │ SyncEngine │                         │
//	│  └─────────┘ └─────────┘ └────────────┘                         │
//	├─────────────────────────────────────────────────────────────────┤
//	│  传输层                                                          │
//	│  ┌──────┐ ┌───────┐ ┌──────┐ ┌────────────┐                     │
//	│  │ LAN  │ │ Cloud │ │ Dual │ │ Supervisor │                     │
//	│  └──────┘ └───────┘ └──────┘ └────────────┘                     │
//	├─────────────────────────────────────────────────────────────────┤
//	│  基础层                                                          │
//	│  ┌─────────┐ ┌──────────┐ ┌─────────┐ ┌──────────┐              │
//	│  │ Envelope│ │ CryptoBox│ │ WSProto │ │ Keystore │              │
//	│  └─────────┘ └──────────┘ └─────────┘ └──────────┘              │
//	└─────────────────────────────────────────────────────────────────┘
//
// # 文件组织
//
// 本包按功能领域组织代码：
//
//	syncboard/
//	├── syncboard.go          # 版本信息
//	├── doc.go                # 包文档
//	├── node.go               # Node 结构、生命周期、同步与配对门面
//	├── types.go              # 公共类型（NodeState、PairingTicket 等）
//	├── options.go            # WithXxx 配置选项
//	├── fx.go                 # Fx 应用组装
//	└── errors.go             # 错误定义
//
// # 版本
//
// 当前版本: v0.3.0
//
// 更多信息请访问: https://github.com/syncboard/go-syncboard
package syncboard
