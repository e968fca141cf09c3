// Buffer operator for rsgo
// 定长缓冲聚合：精确、跳跃、重叠三种模式；重叠模式在上游完成后
// 借助完成后重放状态机补发余下的缓冲
package rsgo

import (
	"sync/atomic"
)

func flowableBuffer(source Flowable, size, skip int, options ...Option) Flowable {
	if size <= 0 || skip <= 0 {
		return FlowableError(ErrNilValue)
	}
	config := configure(options)
	supplier := config.BufferSupplier

	return newFlowable(func(subscriber Subscriber) {
		switch {
		case size == skip:
			source.Subscribe(&bufferExactSubscriber{
				downstream: subscriber,
				size:       size,
				supplier:   supplier,
			})
		case skip > size:
			source.Subscribe(&bufferSkipSubscriber{
				downstream: subscriber,
				size:       size,
				skip:       skip,
				supplier:   supplier,
			})
		default:
			source.Subscribe(&bufferOverlapSubscriber{
				downstream: subscriber,
				size:       size,
				skip:       skip,
				supplier:   supplier,
				buffers:    newRingQueue(4),
			})
		}
	})
}

// newBuffer 调用缓冲区工厂并校验nil违例
func newBuffer(supplier BufferSupplier) ([]interface{}, bool) {
	buffer := supplier()
	return buffer, buffer != nil
}

// ============================================================================
// 精确模式 skip == size
// ============================================================================

// bufferExactSubscriber 不重叠不跳跃的缓冲订阅者
type bufferExactSubscriber struct {
	downstream Subscriber
	size       int
	supplier   BufferSupplier

	upstream Subscription
	buffer   []interface{}
	filling  bool
	done     bool
}

func (bs *bufferExactSubscriber) OnSubscribe(s Subscription) {
	if validateSubscription(bs.upstream, s) {
		bs.upstream = s
		bs.downstream.OnSubscribe(bs)
	}
}

func (bs *bufferExactSubscriber) OnNext(value interface{}) {
	if bs.done {
		onNextDropped(value)
		return
	}

	if !bs.filling {
		buffer, ok := newBuffer(bs.supplier)
		if !ok {
			bs.upstream.Cancel()
			bs.OnError(ErrNilValue)
			return
		}
		bs.buffer = buffer
		bs.filling = true
	}

	bs.buffer = append(bs.buffer, value)

	if len(bs.buffer) == bs.size {
		full := bs.buffer
		bs.buffer = nil
		bs.filling = false
		bs.downstream.OnNext(full)
	}
}

func (bs *bufferExactSubscriber) OnError(err error) {
	if bs.done {
		onErrorDropped(err)
		return
	}
	bs.done = true
	bs.buffer = nil
	bs.downstream.OnError(err)
}

func (bs *bufferExactSubscriber) OnComplete() {
	if bs.done {
		return
	}
	bs.done = true

	if bs.filling && len(bs.buffer) > 0 {
		bs.downstream.OnNext(bs.buffer)
	}
	bs.buffer = nil
	bs.downstream.OnComplete()
}

// Request 每个缓冲消耗size个上游数据项
func (bs *bufferExactSubscriber) Request(n int64) {
	if !validateRequest(n) {
		return
	}
	bs.upstream.Request(MultiplyCap(n, int64(bs.size)))
}

func (bs *bufferExactSubscriber) Cancel() {
	bs.upstream.Cancel()
}

// ============================================================================
// 跳跃模式 skip > size
// ============================================================================

// bufferSkipSubscriber 缓冲之间丢弃间隙数据的订阅者
type bufferSkipSubscriber struct {
	downstream Subscriber
	size       int
	skip       int
	supplier   BufferSupplier

	upstream Subscription
	buffer   []interface{}
	filling  bool
	index    int64
	first    int32
	done     bool
}

func (bs *bufferSkipSubscriber) OnSubscribe(s Subscription) {
	if validateSubscription(bs.upstream, s) {
		bs.upstream = s
		bs.downstream.OnSubscribe(bs)
	}
}

func (bs *bufferSkipSubscriber) OnNext(value interface{}) {
	if bs.done {
		onNextDropped(value)
		return
	}

	i := bs.index
	bs.index = i + 1

	if i%int64(bs.skip) == 0 {
		buffer, ok := newBuffer(bs.supplier)
		if !ok {
			bs.upstream.Cancel()
			bs.OnError(ErrNilValue)
			return
		}
		bs.buffer = buffer
		bs.filling = true
	}

	if !bs.filling {
		// 间隙数据不占用下游需求
		return
	}

	bs.buffer = append(bs.buffer, value)
	if len(bs.buffer) == bs.size {
		full := bs.buffer
		bs.buffer = nil
		bs.filling = false
		bs.downstream.OnNext(full)
	}
}

func (bs *bufferSkipSubscriber) OnError(err error) {
	if bs.done {
		onErrorDropped(err)
		return
	}
	bs.done = true
	bs.buffer = nil
	bs.downstream.OnError(err)
}

func (bs *bufferSkipSubscriber) OnComplete() {
	if bs.done {
		return
	}
	bs.done = true

	if bs.filling && len(bs.buffer) > 0 {
		bs.downstream.OnNext(bs.buffer)
	}
	bs.buffer = nil
	bs.downstream.OnComplete()
}

// Request 首个请求只为第一个缓冲预留完整窗口，其后按skip步进
func (bs *bufferSkipSubscriber) Request(n int64) {
	if !validateRequest(n) {
		return
	}
	if atomic.CompareAndSwapInt32(&bs.first, 0, 1) {
		u := AddCap(MultiplyCap(n, int64(bs.size)), MultiplyCap(int64(bs.skip-bs.size), n-1))
		bs.upstream.Request(u)
		return
	}
	bs.upstream.Request(MultiplyCap(n, int64(bs.skip)))
}

func (bs *bufferSkipSubscriber) Cancel() {
	bs.upstream.Cancel()
}

// ============================================================================
// 重叠模式 skip < size
// ============================================================================

// bufferOverlapSubscriber 重叠窗口的订阅者。上游完成时可能还有未满的
// 缓冲排队待发，依靠需求字段最高位的完成标志在后续request时补发。
type bufferOverlapSubscriber struct {
	downstream Subscriber
	size       int
	skip       int
	supplier   BufferSupplier

	upstream  Subscription
	buffers   *ringQueue // 尚未发射的开放缓冲，队首最老
	index     int64
	produced  int64
	requested int64
	first     int32
	cancelled int32
	done      bool
}

func (bo *bufferOverlapSubscriber) OnSubscribe(s Subscription) {
	if validateSubscription(bo.upstream, s) {
		bo.upstream = s
		bo.downstream.OnSubscribe(bo)
	}
}

func (bo *bufferOverlapSubscriber) OnNext(value interface{}) {
	if bo.done {
		onNextDropped(value)
		return
	}

	i := bo.index
	bo.index = i + 1

	if i%int64(bo.skip) == 0 {
		buffer, ok := newBuffer(bo.supplier)
		if !ok {
			bo.upstream.Cancel()
			bo.OnError(ErrNilValue)
			return
		}
		bo.buffers.Offer(buffer)
	}

	// 把数据项追加到所有开放缓冲
	for j := 0; j < bo.buffers.Size(); j++ {
		buffer, _ := bo.buffers.Poll()
		bo.buffers.Offer(append(buffer.([]interface{}), value))
	}

	if front, ok := bo.buffers.Peek(); ok {
		if len(front.([]interface{})) == bo.size {
			full, _ := bo.buffers.Poll()
			bo.produced++
			bo.downstream.OnNext(full)
		}
	}
}

func (bo *bufferOverlapSubscriber) OnError(err error) {
	if bo.done {
		onErrorDropped(err)
		return
	}
	bo.done = true
	bo.buffers.Clear()
	bo.downstream.OnError(err)
}

func (bo *bufferOverlapSubscriber) OnComplete() {
	if bo.done {
		return
	}
	bo.done = true

	// 已发射的缓冲先从需求中扣除，剩余开放缓冲进入完成后重放
	if p := bo.produced; p != 0 {
		bo.produced = 0
		atomic.AddInt64(&bo.requested, -p)
	}
	postComplete(&bo.requested, bo.downstream, bo.buffers, bo.isCancelled)
}

// Request 完成后重放接管时不再向上游传播请求
func (bo *bufferOverlapSubscriber) Request(n int64) {
	if !validateRequest(n) {
		return
	}

	if postCompleteRequest(&bo.requested, n, bo.downstream, bo.buffers, bo.isCancelled) {
		return
	}

	if atomic.CompareAndSwapInt32(&bo.first, 0, 1) {
		// 第一个缓冲需要完整的size，其后每个只再需要skip
		u := AddCap(int64(bo.size), MultiplyCap(int64(bo.skip), n-1))
		bo.upstream.Request(u)
		return
	}
	bo.upstream.Request(MultiplyCap(int64(bo.skip), n))
}

func (bo *bufferOverlapSubscriber) Cancel() {
	atomic.StoreInt32(&bo.cancelled, 1)
	bo.upstream.Cancel()
}

func (bo *bufferOverlapSubscriber) isCancelled() bool {
	return atomic.LoadInt32(&bo.cancelled) == 1
}
