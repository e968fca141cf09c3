// Subscription arbiter for rsgo
// 跨越串行内层订阅传递需求的仲裁器，供concat与retry类操作符使用
package rsgo

import (
	"sync"
	"sync/atomic"
)

// subscriptionArbiter 在依次替换的内层订阅之间结转下游需求。
// 内层完成时先调用produced扣除已发射数量，再用setSubscription安装
// 下一个内层，剩余需求会自动转交给新内层。
type subscriptionArbiter struct {
	mu        sync.Mutex
	current   Subscription
	requested int64
	cancelled int32
}

// Request 记录需求并转发给当前内层订阅
func (a *subscriptionArbiter) Request(n int64) {
	if !validateRequest(n) {
		return
	}
	a.mu.Lock()
	if a.isCancelled() {
		a.mu.Unlock()
		return
	}
	a.requested = AddCap(a.requested, n)
	current := a.current
	a.mu.Unlock()

	if current != nil {
		current.Request(n)
	}
}

// Cancel 取消当前内层订阅，幂等；之后安装的订阅会被立即取消
func (a *subscriptionArbiter) Cancel() {
	if !atomic.CompareAndSwapInt32(&a.cancelled, 0, 1) {
		return
	}
	a.mu.Lock()
	current := a.current
	a.current = nil
	a.mu.Unlock()

	if current != nil {
		current.Cancel()
	}
}

// isCancelled 检查仲裁器是否已取消
func (a *subscriptionArbiter) isCancelled() bool {
	return atomic.LoadInt32(&a.cancelled) == 1
}

// setSubscription 安装新的内层订阅并转交剩余需求
func (a *subscriptionArbiter) setSubscription(s Subscription) {
	if a.isCancelled() {
		s.Cancel()
		return
	}
	a.mu.Lock()
	if a.isCancelled() {
		a.mu.Unlock()
		s.Cancel()
		return
	}
	a.current = s
	remaining := a.requested
	a.mu.Unlock()

	if remaining > 0 {
		s.Request(remaining)
	}
}

// produced 扣除当前内层已发射的数量，无界需求不扣除
func (a *subscriptionArbiter) produced(n int64) {
	if n == 0 {
		return
	}
	a.mu.Lock()
	if a.requested != RequestMax {
		a.requested -= n
		if a.requested < 0 {
			a.requested = 0
		}
	}
	a.mu.Unlock()
}
