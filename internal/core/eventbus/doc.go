// Package eventbus 实现进程内事件总线
//
// 提供类型安全的事件发布/订阅机制，承载 pkg/types 中定义的
// 节点事件（设备上线/下线、路径切换、同步应用、配对结果等），
// 支持多订阅者、缓冲区配置、发射器引用计数和有状态模式。
//
// # 快速开始
//
//	bus := eventbus.NewBus()
//
//	sub, _ := bus.Subscribe(new(types.EvtRouteChanged))
//	defer sub.Close()
//
//	go func() {
//	    for evt := range sub.Out() {
//	        e := evt.(types.EvtRouteChanged)
//	        // 处理事件
//	    }
//	}()
//
//	em, _ := bus.Emitter(new(types.EvtRouteChanged))
//	defer em.Close()
//	em.Emit(types.EvtRouteChanged{...})
//
// # 慢消费者
//
// 订阅者缓冲区满时事件被丢弃而不是阻塞发射方，丢弃计数
// 周期性输出警告。需要完整事件流的订阅者应加大缓冲区。
//
// # 有状态模式
//
// 以 Stateful 选项创建的发射器会保留最近一次事件，新订阅者
// 订阅时立即收到该事件，适合路径状态这类"当前值"语义。
package eventbus
