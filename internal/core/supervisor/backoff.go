// Package supervisor 实现按设备的连接监督
package supervisor

import (
	"math/rand"
	"time"
)

// backoff 指数退避计算器
//
// 间隔从 initial 逐次翻倍到 max 封顶，每次附加 [0, jitter)
// 的均匀随机量避免重试风暴。单个监督循环独占使用，无需加锁。
type backoff struct {
	initial time.Duration
	max     time.Duration
	jitter  time.Duration

	attempt int
	rng     *rand.Rand
}

func newBackoff(initial, max, jitter time.Duration) *backoff {
	return &backoff{
		initial: initial,
		max:     max,
		jitter:  jitter,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// next 返回下一次的等待间隔并推进指数
func (b *backoff) next() time.Duration {
	d := b.initial
	for i := 0; i < b.attempt; i++ {
		d *= 2
		if d >= b.max {
			d = b.max
			break
		}
	}
	b.attempt++

	if b.jitter > 0 {
		d += time.Duration(b.rng.Int63n(int64(b.jitter)))
	}
	return d
}

// reset 回到初始间隔
func (b *backoff) reset() {
	b.attempt = 0
}
