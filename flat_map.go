// FlatMap operator for rsgo
// 动态扇入：把每个上游值映射为内层流，按并发上限合并，
// 内层各自持有SPSC队列与独立需求计数，排水循环在内层间轮转保证公平
package rsgo

import (
	"errors"
	"sync"
	"sync/atomic"
)

// UnboundedConcurrency FlatMap不限制并发内层数量的哨兵
const UnboundedConcurrency = 0

// ============================================================================
// 外层协调者
// ============================================================================

// flatMapCoordinator FlatMap的外层订阅者兼下游订阅句柄
type flatMapCoordinator struct {
	downstream     Subscriber
	mapper         FlowableMapper
	maxConcurrency int
	prefetch       int
	delayErrors    bool
	queueSupplier  QueueSupplier

	upstream  Subscription
	requested int64
	wip       int32
	cancelled int32
	done      int32
	errored   int32
	finished  int32

	// scalarQueue 标量短路值的队列：生产方是串行的外层OnNext，
	// 消费方是排水持有者
	scalarQueue Queue

	errsMu sync.Mutex
	errs   []error

	innersMu sync.Mutex
	inners   atomic.Value // []*flatMapInner

	upstreamCancelled int32

	// lastIndex 轮转起点，只被排水循环访问
	lastIndex int
}

func flowableFlatMap(source Flowable, mapper FlowableMapper, maxConcurrency int, options ...Option) Flowable {
	config := configure(options)
	return newFlowable(func(subscriber Subscriber) {
		fm := &flatMapCoordinator{
			downstream:     subscriber,
			mapper:         mapper,
			maxConcurrency: maxConcurrency,
			prefetch:       config.Prefetch,
			delayErrors:    config.DelayErrors,
			queueSupplier:  config.QueueSupplier,
		}
		fm.inners.Store(make([]*flatMapInner, 0))

		scalarCapacity := config.Prefetch
		if maxConcurrency > scalarCapacity {
			scalarCapacity = maxConcurrency
		}
		fm.scalarQueue = config.QueueSupplier(scalarCapacity)

		source.Subscribe(fm)
	})
}

func (fm *flatMapCoordinator) OnSubscribe(s Subscription) {
	if validateSubscription(fm.upstream, s) {
		fm.upstream = s
		fm.downstream.OnSubscribe(fm)
		if fm.maxConcurrency <= UnboundedConcurrency {
			s.Request(RequestMax)
		} else {
			s.Request(int64(fm.maxConcurrency))
		}
	}
}

func (fm *flatMapCoordinator) OnNext(value interface{}) {
	if atomic.LoadInt32(&fm.done) == 1 {
		onNextDropped(value)
		return
	}

	mapped, err := fm.mapper(value)
	if err != nil {
		fm.cancelUpstream()
		fm.OnError(err)
		return
	}
	if mapped == nil {
		fm.cancelUpstream()
		fm.OnError(ErrNilValue)
		return
	}

	// 已知最多一个值的源免订阅消费
	if scalar, has, isScalar := flowableScalar(mapped); isScalar {
		fm.emitScalar(scalar, has)
		return
	}

	inner := &flatMapInner{
		parent: fm,
		queue:  fm.queueSupplier(fm.prefetch),
		limit:  int64(fm.prefetch - fm.prefetch/4),
	}
	fm.addInner(inner)
	mapped.Subscribe(inner)
}

// emitScalar 标量值进入专用队列；空标量直接向上游补位
func (fm *flatMapCoordinator) emitScalar(value interface{}, has bool) {
	if !has {
		fm.upstream.Request(1)
		return
	}
	if !fm.scalarQueue.Offer(value) {
		fm.addError(ErrOverflow)
		atomic.StoreInt32(&fm.errored, 1)
	}
	fm.drain()
}

func (fm *flatMapCoordinator) OnError(err error) {
	if atomic.LoadInt32(&fm.done) == 1 {
		onErrorDropped(err)
		return
	}
	fm.addError(err)
	atomic.StoreInt32(&fm.errored, 1)
	atomic.StoreInt32(&fm.done, 1)
	fm.drain()
}

func (fm *flatMapCoordinator) OnComplete() {
	if atomic.LoadInt32(&fm.done) == 1 {
		return
	}
	atomic.StoreInt32(&fm.done, 1)
	fm.drain()
}

func (fm *flatMapCoordinator) Request(n int64) {
	if !validateRequest(n) {
		return
	}
	AddAndGetCap(&fm.requested, n)
	fm.drain()
}

func (fm *flatMapCoordinator) Cancel() {
	if !atomic.CompareAndSwapInt32(&fm.cancelled, 0, 1) {
		return
	}
	fm.cancelUpstream()
	// 队列清理与内层取消由排水持有者完成
	fm.drain()
}

// cancelUpstream 保证向上游恰好传播一次取消
func (fm *flatMapCoordinator) cancelUpstream() {
	if atomic.CompareAndSwapInt32(&fm.upstreamCancelled, 0, 1) {
		fm.upstream.Cancel()
	}
}

// ============================================================================
// 内层登记
// ============================================================================

func (fm *flatMapCoordinator) loadInners() []*flatMapInner {
	return fm.inners.Load().([]*flatMapInner)
}

func (fm *flatMapCoordinator) addInner(inner *flatMapInner) {
	fm.innersMu.Lock()
	current := fm.loadInners()
	next := make([]*flatMapInner, len(current)+1)
	copy(next, current)
	next[len(current)] = inner
	fm.inners.Store(next)
	fm.innersMu.Unlock()

	if atomic.LoadInt32(&fm.cancelled) == 1 {
		inner.cancel()
	}
}

func (fm *flatMapCoordinator) removeInner(inner *flatMapInner) {
	fm.innersMu.Lock()
	defer fm.innersMu.Unlock()

	current := fm.loadInners()
	for i, candidate := range current {
		if candidate == inner {
			next := make([]*flatMapInner, 0, len(current)-1)
			next = append(next, current[:i]...)
			next = append(next, current[i+1:]...)
			fm.inners.Store(next)
			return
		}
	}
}

// ============================================================================
// 错误聚合
// ============================================================================

func (fm *flatMapCoordinator) addError(err error) {
	fm.errsMu.Lock()
	fm.errs = append(fm.errs, err)
	fm.errsMu.Unlock()
}

func (fm *flatMapCoordinator) firstError() error {
	fm.errsMu.Lock()
	defer fm.errsMu.Unlock()
	if len(fm.errs) == 0 {
		return nil
	}
	return fm.errs[0]
}

func (fm *flatMapCoordinator) joinedError() error {
	fm.errsMu.Lock()
	defer fm.errsMu.Unlock()
	switch len(fm.errs) {
	case 0:
		return nil
	case 1:
		return fm.errs[0]
	default:
		return errors.Join(fm.errs...)
	}
}

// innerError 内层错误汇入；不延迟错误时立即触发终止
func (fm *flatMapCoordinator) innerError(inner *flatMapInner, err error) {
	fm.addError(err)
	atomic.StoreInt32(&inner.done, 1)
	if !fm.delayErrors {
		atomic.StoreInt32(&fm.errored, 1)
	}
	fm.drain()
}

// ============================================================================
// 排水循环
// ============================================================================

func (fm *flatMapCoordinator) drain() {
	if atomic.AddInt32(&fm.wip, 1) != 1 {
		return
	}
	fm.drainLoop()
}

func (fm *flatMapCoordinator) drainLoop() {
	missed := int32(1)

	for {
		if fm.checkTerminate() {
			return
		}

		r := atomic.LoadInt64(&fm.requested)
		var emitted int64

		// 标量队列优先
		for emitted != r {
			if fm.checkTerminate() {
				return
			}
			value, ok := fm.scalarQueue.Poll()
			if !ok {
				break
			}
			fm.downstream.OnNext(value)
			emitted++
			fm.upstream.Request(1)
		}

		// 内层队列轮转
		inners := fm.loadInners()
		if len(inners) > 0 {
			n := len(inners)
			idx := fm.lastIndex
			if idx >= n {
				idx = 0
			}

			for visited := 0; visited < n; visited++ {
				if fm.checkTerminate() {
					return
				}

				inner := inners[idx]
				var innerEmitted int64

				for emitted != r {
					if fm.checkTerminate() {
						return
					}
					value, ok := inner.queue.Poll()
					if !ok {
						break
					}
					fm.downstream.OnNext(value)
					emitted++
					innerEmitted++
				}

				if innerEmitted > 0 {
					inner.consumed += innerEmitted
					if inner.consumed >= inner.limit {
						replenish := inner.consumed
						inner.consumed = 0
						inner.requestMore(replenish)
					}
				}

				// 完成的内层释放槽位并向外层补位
				if atomic.LoadInt32(&inner.done) == 1 && inner.queue.IsEmpty() {
					fm.removeInner(inner)
					fm.upstream.Request(1)
				}

				idx++
				if idx >= n {
					idx = 0
				}
			}
			fm.lastIndex = idx
		}

		// 全部来源枯竭时发出终止信号
		if atomic.LoadInt32(&fm.done) == 1 &&
			fm.scalarQueue.IsEmpty() &&
			len(fm.loadInners()) == 0 {
			if atomic.CompareAndSwapInt32(&fm.finished, 0, 1) {
				if err := fm.joinedError(); err != nil {
					fm.downstream.OnError(err)
				} else {
					fm.downstream.OnComplete()
				}
			}
			return
		}

		if emitted != 0 && r != RequestMax {
			atomic.AddInt64(&fm.requested, -emitted)
		}

		missed = atomic.AddInt32(&fm.wip, -missed)
		if missed == 0 {
			return
		}
	}
}

// checkTerminate 取消与短路错误的统一出口
func (fm *flatMapCoordinator) checkTerminate() bool {
	if atomic.LoadInt32(&fm.cancelled) == 1 {
		fm.clearAll()
		return true
	}

	if !fm.delayErrors && atomic.LoadInt32(&fm.errored) == 1 {
		fm.cancelUpstream()
		fm.clearAll()
		if atomic.CompareAndSwapInt32(&fm.finished, 0, 1) {
			fm.downstream.OnError(fm.firstError())
		}
		return true
	}

	return false
}

// clearAll 取消全部内层并释放所有队列引用
func (fm *flatMapCoordinator) clearAll() {
	fm.scalarQueue.Clear()

	fm.innersMu.Lock()
	inners := fm.loadInners()
	fm.inners.Store(make([]*flatMapInner, 0))
	fm.innersMu.Unlock()

	for _, inner := range inners {
		inner.cancel()
		inner.queue.Clear()
	}
}

// ============================================================================
// 内层订阅者
// ============================================================================

// flatMapInner 单个内层流的订阅者
type flatMapInner struct {
	parent    *flatMapCoordinator
	queue     Queue
	limit     int64
	upstream  Subscription
	done      int32
	cancelled int32

	// consumed 只被排水循环访问
	consumed int64
}

func (in *flatMapInner) OnSubscribe(s Subscription) {
	if validateSubscription(in.upstream, s) {
		in.upstream = s
		if atomic.LoadInt32(&in.cancelled) == 1 {
			s.Cancel()
			return
		}
		s.Request(int64(in.parent.prefetch))
	}
}

func (in *flatMapInner) OnNext(value interface{}) {
	if atomic.LoadInt32(&in.done) == 1 {
		onNextDropped(value)
		return
	}
	if !in.queue.Offer(value) {
		in.cancel()
		in.parent.innerError(in, ErrOverflow)
		return
	}
	in.parent.drain()
}

func (in *flatMapInner) OnError(err error) {
	if atomic.LoadInt32(&in.done) == 1 {
		onErrorDropped(err)
		return
	}
	in.parent.innerError(in, err)
}

func (in *flatMapInner) OnComplete() {
	if atomic.LoadInt32(&in.done) == 1 {
		return
	}
	atomic.StoreInt32(&in.done, 1)
	in.parent.drain()
}

func (in *flatMapInner) requestMore(n int64) {
	if atomic.LoadInt32(&in.cancelled) == 1 {
		return
	}
	if in.upstream != nil {
		in.upstream.Request(n)
	}
}

func (in *flatMapInner) cancel() {
	if !atomic.CompareAndSwapInt32(&in.cancelled, 0, 1) {
		return
	}
	if in.upstream != nil {
		in.upstream.Cancel()
	}
}
