// Multicast processor for rsgo
// 单上游多下游的中继：订阅者数组写时复制，终止后用哨兵快照挡住迟到者
package rsgo

import (
	"sync"
	"sync/atomic"
)

// 空快照与终止快照哨兵。快照比较用指针身份，内容都是空数组。
var (
	multicastEmpty      = make([]*multicastSubscription, 0)
	multicastTerminated = make([]*multicastSubscription, 0)
)

// MulticastProcessor 既是Subscriber又是Publisher的多播中继。
// 它向上游请求无界需求，自身不施加背压；跟不上的下游会被单独移除
// 并收到请求不足错误。上游句柄被记录但从不被取消：需要与上游解耦
// 的调用方应当包装本处理器。
type MulticastProcessor struct {
	mu          sync.Mutex
	subscribers atomic.Value // []*multicastSubscription
	err         error
	upstream    Subscription
}

// NewMulticastProcessor 创建多播处理器
func NewMulticastProcessor() *MulticastProcessor {
	p := &MulticastProcessor{}
	p.subscribers.Store(&multicastEmpty)
	return p
}

func (p *MulticastProcessor) load() []*multicastSubscription {
	return *p.subscribers.Load().(*[]*multicastSubscription)
}

func (p *MulticastProcessor) isTerminated() bool {
	return p.subscribers.Load().(*[]*multicastSubscription) == &multicastTerminated
}

// ============================================================================
// Subscriber侧
// ============================================================================

// OnSubscribe 向上游请求无界需求；终止后到达的句柄被取消
func (p *MulticastProcessor) OnSubscribe(s Subscription) {
	if s == nil {
		onErrorDropped(ErrNilValue)
		return
	}
	if !p.isTerminated() {
		p.upstream = s
		s.Request(RequestMax)
	} else {
		s.Cancel()
	}
}

// OnNext 同步扇出到当前快照中的每个下游
func (p *MulticastProcessor) OnNext(value interface{}) {
	if value == nil {
		p.OnError(ErrNilValue)
		return
	}

	for _, ms := range p.load() {
		ms.onNext(value)
	}
}

// OnError 终止全部下游并存储错误供迟到者读取
func (p *MulticastProcessor) OnError(err error) {
	if err == nil {
		err = ErrNilValue
	}
	if p.isTerminated() {
		onErrorDropped(err)
		return
	}

	p.mu.Lock()
	if p.isTerminated() {
		p.mu.Unlock()
		onErrorDropped(err)
		return
	}
	p.err = err
	current := p.load()
	p.subscribers.Store(&multicastTerminated)
	p.mu.Unlock()

	for _, ms := range current {
		ms.onError(err)
	}
}

// OnComplete 终止全部下游
func (p *MulticastProcessor) OnComplete() {
	if p.isTerminated() {
		return
	}

	p.mu.Lock()
	if p.isTerminated() {
		p.mu.Unlock()
		return
	}
	current := p.load()
	p.subscribers.Store(&multicastTerminated)
	p.mu.Unlock()

	for _, ms := range current {
		ms.onComplete()
	}
}

// ============================================================================
// Publisher侧
// ============================================================================

// Subscribe 挂接新的下游；终止后的迟到者立即收到存储的终止信号
func (p *MulticastProcessor) Subscribe(subscriber Subscriber) {
	ms := &multicastSubscription{
		downstream: subscriber,
		parent:     p,
	}
	subscriber.OnSubscribe(ms)

	if p.add(ms) {
		if ms.isCancelled() {
			p.remove(ms)
		}
		return
	}

	if err := p.err; err != nil {
		subscriber.OnError(err)
	} else {
		subscriber.OnComplete()
	}
}

// HasSubscribers 检查当前是否有挂接的下游
func (p *MulticastProcessor) HasSubscribers() bool {
	current := p.subscribers.Load().(*[]*multicastSubscription)
	return current != &multicastEmpty && current != &multicastTerminated && len(*current) > 0
}

// Error 终止后返回存储的错误
func (p *MulticastProcessor) Error() error {
	if p.isTerminated() {
		return p.err
	}
	return nil
}

// add 写时复制追加，终止后返回false
func (p *MulticastProcessor) add(ms *multicastSubscription) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.isTerminated() {
		return false
	}

	current := p.load()
	next := make([]*multicastSubscription, len(current)+1)
	copy(next, current)
	next[len(current)] = ms
	p.subscribers.Store(&next)
	return true
}

// remove 写时复制移除，对不存在的成员是空操作
func (p *MulticastProcessor) remove(ms *multicastSubscription) {
	p.mu.Lock()
	defer p.mu.Unlock()

	snapshot := p.subscribers.Load().(*[]*multicastSubscription)
	if snapshot == &multicastTerminated || snapshot == &multicastEmpty {
		return
	}
	current := *snapshot

	for i, candidate := range current {
		if candidate == ms {
			if len(current) == 1 {
				p.subscribers.Store(&multicastEmpty)
				return
			}
			next := make([]*multicastSubscription, 0, len(current)-1)
			next = append(next, current[:i]...)
			next = append(next, current[i+1:]...)
			p.subscribers.Store(&next)
			return
		}
	}
}

// ============================================================================
// 每下游记录
// ============================================================================

// multicastSubscription 单个下游的订阅记录
type multicastSubscription struct {
	downstream Subscriber
	parent     *MulticastProcessor
	requested  int64
	cancelled  int32
}

func (ms *multicastSubscription) Request(n int64) {
	if validateRequest(n) {
		AddAndGetCap(&ms.requested, n)
	}
}

func (ms *multicastSubscription) Cancel() {
	if atomic.CompareAndSwapInt32(&ms.cancelled, 0, 1) {
		ms.parent.remove(ms)
	}
}

func (ms *multicastSubscription) isCancelled() bool {
	return atomic.LoadInt32(&ms.cancelled) == 1
}

// onNext 需求充足时交付并扣减；需求为0的下游被移除并单独报错
func (ms *multicastSubscription) onNext(value interface{}) {
	r := atomic.LoadInt64(&ms.requested)
	if r != 0 {
		ms.downstream.OnNext(value)
		if r != RequestMax {
			atomic.AddInt64(&ms.requested, -1)
		}
		return
	}
	ms.parent.remove(ms)
	ms.downstream.OnError(ErrLackOfRequests)
}

func (ms *multicastSubscription) onError(err error) {
	ms.downstream.OnError(err)
}

func (ms *multicastSubscription) onComplete() {
	ms.downstream.OnComplete()
}
