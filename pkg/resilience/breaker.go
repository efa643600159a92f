package resilience

import (
	"context"
	"sync"
	"time"
)

// Breaker 批处理熔断器：连续失败达到阈值后整体暂停 Cooldown，然后计数归零继续。
// 与请求级熔断不同，它不拒绝调用，只在下一项开始前阻塞。
type Breaker struct {
	threshold int
	cooldown  time.Duration

	mu          sync.Mutex
	consecutive int
	open        bool
	trips       int

	// OnTrip 在进入暂停前回调
	OnTrip func(consecutive int, cooldown time.Duration)

	sleep func(ctx context.Context, d time.Duration) error
}

// NewBreaker 创建熔断器；threshold <= 0 表示不熔断
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	return &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
		sleep:     Sleep,
	}
}

// WithSleep 替换暂停使用的等待函数
func (b *Breaker) WithSleep(sleep func(ctx context.Context, d time.Duration) error) *Breaker {
	if sleep != nil {
		b.sleep = sleep
	}
	return b
}

// RecordSuccess 记录一次成功，重置连续失败计数
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	b.consecutive = 0
	b.mu.Unlock()
}

// RecordFailure 记录一次失败，返回是否因此进入暂停状态
func (b *Breaker) RecordFailure() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutive++
	if b.threshold > 0 && b.consecutive >= b.threshold {
		b.open = true
	}
	return b.open
}

// Wait 若熔断器处于打开状态则暂停 cooldown，结束后计数归零
func (b *Breaker) Wait(ctx context.Context) error {
	b.mu.Lock()
	if !b.open {
		b.mu.Unlock()
		return nil
	}
	consecutive := b.consecutive
	b.trips++
	b.mu.Unlock()

	if b.OnTrip != nil {
		b.OnTrip(consecutive, b.cooldown)
	}
	if err := b.sleep(ctx, b.cooldown); err != nil {
		return err
	}

	b.mu.Lock()
	b.open = false
	b.consecutive = 0
	b.mu.Unlock()
	return nil
}

// Open 当前是否处于打开状态
func (b *Breaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}

// Consecutive 当前连续失败次数
func (b *Breaker) Consecutive() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutive
}

// Trips 累计暂停次数
func (b *Breaker) Trips() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.trips
}
