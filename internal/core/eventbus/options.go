package eventbus

// defaultBuffer 订阅通道的默认缓冲区大小
const defaultBuffer = 16

// subscriptionSettings 订阅设置
type subscriptionSettings struct {
	buffer int
}

// emitterSettings 发射器设置
type emitterSettings struct {
	stateful bool
}

// SubscriptionOpt 订阅选项
type SubscriptionOpt func(*subscriptionSettings)

// EmitterOpt 发射器选项
type EmitterOpt func(*emitterSettings)

// BufSize 设置订阅缓冲区大小
func BufSize(size int) SubscriptionOpt {
	return func(s *subscriptionSettings) {
		if size > 0 {
			s.buffer = size
		}
	}
}

// Stateful 让发射器保留最近一次事件
//
// 新订阅者订阅时立即收到该事件。
func Stateful() EmitterOpt {
	return func(s *emitterSettings) {
		s.stateful = true
	}
}
