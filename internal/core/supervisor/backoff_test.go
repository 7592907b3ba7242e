package supervisor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestBackoffProgression 测试指数推进与封顶
func TestBackoffProgression(t *testing.T) {
	b := newBackoff(time.Second, 8*time.Second, 0)

	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		8 * time.Second,
	}
	for i, w := range want {
		assert.Equal(t, w, b.next(), "第 %d 次间隔", i+1)
	}

	b.reset()
	assert.Equal(t, time.Second, b.next(), "reset 后回到初始间隔")
}

// TestBackoffJitterRange 测试抖动落在配置区间内
func TestBackoffJitterRange(t *testing.T) {
	jitter := 500 * time.Millisecond
	b := newBackoff(time.Second, 8*time.Second, jitter)

	for i := 0; i < 100; i++ {
		b.reset()
		d := b.next()
		assert.GreaterOrEqual(t, d, time.Second)
		assert.Less(t, d, time.Second+jitter)
	}
}

// TestBackoffNeverExceedsCapPlusJitter 测试长序列的上界
func TestBackoffNeverExceedsCapPlusJitter(t *testing.T) {
	jitter := 200 * time.Millisecond
	max := 4 * time.Second
	b := newBackoff(time.Second, max, jitter)

	for i := 0; i < 20; i++ {
		d := b.next()
		assert.Less(t, d, max+jitter)
	}
}
