// Package types 定义 SyncBoard 公共类型
//
// 包含设备标识、传输路径、连接状态、剪贴板快照和事件等
// 跨组件共享的基础类型。仅依赖标准库，任何层都可以引用。
package types
