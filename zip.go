// Zip operator for rsgo
// 按行对齐：每个内层持有预取队列，所有内层各有一项时发射一行元组
package rsgo

import (
	"sync/atomic"
)

// ============================================================================
// 协调者
// ============================================================================

// zipCoordinator Zip的协调者兼下游订阅句柄
type zipCoordinator struct {
	downstream Subscriber
	zipper     Zipper
	inners     []*zipInner

	wip       int32
	requested int64
	cancelled int32
	errored   int32
	finished  int32
	err       error

	// row 行暂存，只被排水循环访问
	row []interface{}
}

func zipSources(zipper Zipper, sources []Flowable, options []Option) Flowable {
	if len(sources) == 0 {
		return FlowableEmpty()
	}
	config := configure(options)

	return newFlowable(func(subscriber Subscriber) {
		zc := &zipCoordinator{
			downstream: subscriber,
			zipper:     zipper,
			inners:     make([]*zipInner, len(sources)),
			row:        make([]interface{}, len(sources)),
		}
		for i := range sources {
			zc.inners[i] = &zipInner{
				parent:   zc,
				queue:    config.QueueSupplier(config.Prefetch),
				prefetch: int64(config.Prefetch),
				limit:    int64(config.Prefetch - config.Prefetch/4),
			}
		}

		subscriber.OnSubscribe(zc)

		for i, source := range sources {
			if atomic.LoadInt32(&zc.cancelled) == 1 || atomic.LoadInt32(&zc.errored) == 1 {
				return
			}
			if source == nil {
				zc.error(ErrNilValue)
				return
			}
			source.Subscribe(zc.inners[i])
		}
	})
}

// FlowableZip 把多个源按下标组合为行，行内字段顺序即源声明顺序
func FlowableZip(zipper Zipper, sources ...Flowable) Flowable {
	return zipSources(zipper, sources, nil)
}

// FlowableZipWithOptions 携带预取等选项的Zip
func FlowableZipWithOptions(zipper Zipper, sources []Flowable, options ...Option) Flowable {
	return zipSources(zipper, sources, options)
}

func (zc *zipCoordinator) Request(n int64) {
	if !validateRequest(n) {
		return
	}
	AddAndGetCap(&zc.requested, n)
	zc.drain()
}

func (zc *zipCoordinator) Cancel() {
	if !atomic.CompareAndSwapInt32(&zc.cancelled, 0, 1) {
		return
	}
	zc.cancelInners()
	zc.drain()
}

// error 记录首个错误并触发终止
func (zc *zipCoordinator) error(err error) {
	if atomic.CompareAndSwapInt32(&zc.errored, 0, 1) {
		zc.err = err
	}
	zc.drain()
}

func (zc *zipCoordinator) cancelInners() {
	for _, inner := range zc.inners {
		inner.cancel()
	}
}

func (zc *zipCoordinator) clearAll() {
	for _, inner := range zc.inners {
		inner.cached = nil
		inner.hasCached = false
		inner.queue.Clear()
	}
}

// complete 行无法再凑齐时的正常终止
func (zc *zipCoordinator) complete() {
	zc.cancelInners()
	zc.clearAll()
	if atomic.CompareAndSwapInt32(&zc.finished, 0, 1) {
		zc.downstream.OnComplete()
	}
}

// ============================================================================
// 排水循环
// ============================================================================

func (zc *zipCoordinator) drain() {
	if atomic.AddInt32(&zc.wip, 1) != 1 {
		return
	}
	zc.drainLoop()
}

func (zc *zipCoordinator) drainLoop() {
	missed := int32(1)

	for {
		if zc.checkTerminate() {
			return
		}

		r := atomic.LoadInt64(&zc.requested)
		var emitted int64

	emitting:
		for emitted != r {
			if zc.checkTerminate() {
				return
			}

			// 凑一整行；任何内层枯竭则停止
			for i, inner := range zc.inners {
				value, ok := inner.peek()
				if !ok {
					if inner.isDone() {
						zc.complete()
						return
					}
					break emitting
				}
				zc.row[i] = value
			}

			row := make([]interface{}, len(zc.row))
			copy(row, zc.row)
			for _, inner := range zc.inners {
				inner.pop()
			}

			result := zc.zipper(row)
			if result == nil {
				zc.cancelInners()
				zc.clearAll()
				if atomic.CompareAndSwapInt32(&zc.finished, 0, 1) {
					zc.downstream.OnError(ErrNilValue)
				}
				return
			}

			zc.downstream.OnNext(result)
			emitted++
		}

		// 需求耗尽时仍要探测无法凑行的终止条件
		if emitted == r {
			for _, inner := range zc.inners {
				if inner.isDone() && inner.isEmpty() {
					zc.complete()
					return
				}
			}
		}

		if emitted != 0 && r != RequestMax {
			atomic.AddInt64(&zc.requested, -emitted)
		}

		missed = atomic.AddInt32(&zc.wip, -missed)
		if missed == 0 {
			return
		}
	}
}

func (zc *zipCoordinator) checkTerminate() bool {
	if atomic.LoadInt32(&zc.cancelled) == 1 {
		zc.clearAll()
		return true
	}

	if atomic.LoadInt32(&zc.errored) == 1 {
		zc.cancelInners()
		zc.clearAll()
		if atomic.CompareAndSwapInt32(&zc.finished, 0, 1) {
			zc.downstream.OnError(zc.err)
		}
		return true
	}

	return false
}

// ============================================================================
// 内层订阅者
// ============================================================================

// zipInner 单个参与源的订阅者
type zipInner struct {
	parent   *zipCoordinator
	queue    Queue
	prefetch int64
	limit    int64

	upstream  Subscription
	done      int32
	cancelled int32

	// 以下字段只被排水循环访问
	cached    interface{}
	hasCached bool
	consumed  int64
}

func (zi *zipInner) OnSubscribe(s Subscription) {
	if validateSubscription(zi.upstream, s) {
		zi.upstream = s
		if atomic.LoadInt32(&zi.cancelled) == 1 {
			s.Cancel()
			return
		}
		s.Request(zi.prefetch)
	}
}

func (zi *zipInner) OnNext(value interface{}) {
	if atomic.LoadInt32(&zi.done) == 1 {
		onNextDropped(value)
		return
	}
	if !zi.queue.Offer(value) {
		zi.cancel()
		zi.parent.error(ErrOverflow)
		return
	}
	zi.parent.drain()
}

func (zi *zipInner) OnError(err error) {
	if atomic.LoadInt32(&zi.done) == 1 {
		onErrorDropped(err)
		return
	}
	atomic.StoreInt32(&zi.done, 1)
	zi.parent.error(err)
}

func (zi *zipInner) OnComplete() {
	if atomic.LoadInt32(&zi.done) == 1 {
		return
	}
	atomic.StoreInt32(&zi.done, 1)
	zi.parent.drain()
}

// peek 查看行首元素，必要时从队列补位
func (zi *zipInner) peek() (interface{}, bool) {
	if zi.hasCached {
		return zi.cached, true
	}
	value, ok := zi.queue.Poll()
	if !ok {
		return nil, false
	}
	zi.cached = value
	zi.hasCached = true
	return value, true
}

// pop 消费行首元素并按阈值向上游补货
func (zi *zipInner) pop() {
	zi.cached = nil
	zi.hasCached = false

	zi.consumed++
	if zi.consumed == zi.limit {
		replenish := zi.consumed
		zi.consumed = 0
		if atomic.LoadInt32(&zi.cancelled) == 0 && zi.upstream != nil {
			zi.upstream.Request(replenish)
		}
	}
}

func (zi *zipInner) isDone() bool {
	return atomic.LoadInt32(&zi.done) == 1
}

func (zi *zipInner) isEmpty() bool {
	return !zi.hasCached && zi.queue.IsEmpty()
}

func (zi *zipInner) cancel() {
	if !atomic.CompareAndSwapInt32(&zi.cancelled, 0, 1) {
		return
	}
	if zi.upstream != nil {
		zi.upstream.Cancel()
	}
}
