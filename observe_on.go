// ObserveOn operator for rsgo
// 异步边界：上游发射与下游交付解耦，经由调度器工作者上的串行排水循环
package rsgo

import (
	"sync/atomic"
)

// observeOnSubscriber ObserveOn操作符的订阅者兼下游订阅句柄
type observeOnSubscriber struct {
	downstream Subscriber
	scheduler  Scheduler
	queue      Queue
	prefetch   int64
	limit      int64
	delayError bool

	upstream  Subscription
	requested int64
	wip       int32
	cancelled int32
	done      int32
	err       error

	// consumed 只被排水循环访问
	consumed int64
}

func flowableObserveOn(source Flowable, scheduler Scheduler, options ...Option) Flowable {
	config := configure(options)
	return newFlowable(func(subscriber Subscriber) {
		source.Subscribe(&observeOnSubscriber{
			downstream: subscriber,
			scheduler:  scheduler,
			queue:      config.QueueSupplier(config.Prefetch),
			prefetch:   int64(config.Prefetch),
			limit:      int64(config.Prefetch - config.Prefetch/4),
			delayError: config.DelayErrors,
		})
	})
}

func (o *observeOnSubscriber) OnSubscribe(s Subscription) {
	if validateSubscription(o.upstream, s) {
		o.upstream = s
		o.downstream.OnSubscribe(o)
		s.Request(o.prefetch)
	}
}

func (o *observeOnSubscriber) OnNext(value interface{}) {
	if atomic.LoadInt32(&o.done) == 1 || o.isCancelled() {
		onNextDropped(value)
		return
	}

	if !o.queue.Offer(value) {
		o.upstream.Cancel()
		o.err = ErrOverflow
		atomic.StoreInt32(&o.done, 1)
	}
	o.trigger()
}

func (o *observeOnSubscriber) OnError(err error) {
	if atomic.LoadInt32(&o.done) == 1 {
		onErrorDropped(err)
		return
	}
	o.err = err
	atomic.StoreInt32(&o.done, 1)
	o.trigger()
}

func (o *observeOnSubscriber) OnComplete() {
	if atomic.LoadInt32(&o.done) == 1 {
		return
	}
	atomic.StoreInt32(&o.done, 1)
	o.trigger()
}

func (o *observeOnSubscriber) Request(n int64) {
	if !validateRequest(n) {
		return
	}
	AddAndGetCap(&o.requested, n)
	o.trigger()
}

func (o *observeOnSubscriber) Cancel() {
	if !atomic.CompareAndSwapInt32(&o.cancelled, 0, 1) {
		return
	}
	o.upstream.Cancel()
	// 让排水循环负责清空队列，保持对下游区段的串行访问
	o.trigger()
}

func (o *observeOnSubscriber) isCancelled() bool {
	return atomic.LoadInt32(&o.cancelled) == 1
}

// trigger 把排水工作交给调度器；wip从0到1的贡献者负责调度
func (o *observeOnSubscriber) trigger() {
	if atomic.AddInt32(&o.wip, 1) != 1 {
		return
	}
	if o.scheduler.Schedule(o.drain) == Rejected {
		// 调度器拒绝工作，流只能就地以错误终止
		o.upstream.Cancel()
		o.queue.Clear()
		if atomic.CompareAndSwapInt32(&o.done, 0, 1) {
			o.downstream.OnError(ErrSchedulerRejected)
		}
	}
}

// drain 工作者上的排水循环，同一时刻只有一个goroutine在此执行
func (o *observeOnSubscriber) drain() {
	missed := int32(1)

	for {
		r := atomic.LoadInt64(&o.requested)
		var emitted int64

		for emitted != r {
			done := atomic.LoadInt32(&o.done) == 1
			value, ok := o.queue.Poll()

			if o.checkTerminated(done, !ok) {
				return
			}
			if !ok {
				break
			}

			o.downstream.OnNext(value)
			emitted++

			o.consumed++
			if o.consumed == o.limit {
				o.consumed = 0
				o.upstream.Request(o.limit)
			}
		}

		if emitted == r {
			if o.checkTerminated(atomic.LoadInt32(&o.done) == 1, o.queue.IsEmpty()) {
				return
			}
		}

		if emitted != 0 && r != RequestMax {
			atomic.AddInt64(&o.requested, -emitted)
		}

		missed = atomic.AddInt32(&o.wip, -missed)
		if missed == 0 {
			return
		}
	}
}

// checkTerminated 取消与终止信号的统一出口
func (o *observeOnSubscriber) checkTerminated(done, empty bool) bool {
	if o.isCancelled() {
		o.queue.Clear()
		return true
	}

	if !done {
		return false
	}

	if o.delayError {
		if empty {
			if o.err != nil {
				o.downstream.OnError(o.err)
			} else {
				o.downstream.OnComplete()
			}
			return true
		}
		return false
	}

	if o.err != nil {
		o.queue.Clear()
		o.downstream.OnError(o.err)
		return true
	}
	if empty {
		o.downstream.OnComplete()
		return true
	}
	return false
}
