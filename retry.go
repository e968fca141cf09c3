// Retry operators for rsgo
// 错误后重新订阅：计数重试立即重订，退避重试按策略延迟后重订；
// 未耗尽的下游需求经仲裁器结转到新一轮订阅
package rsgo

import (
	"sync/atomic"

	"github.com/cenkalti/backoff/v5"
)

// retrySubscriber 重试订阅者，同时是交给下游的订阅句柄
type retrySubscriber struct {
	subscriptionArbiter

	downstream Subscriber
	source     Flowable
	scheduler  Scheduler

	// remaining 剩余重试次数；退避模式下由策略决定何时停止
	remaining int
	policy    backoff.BackOff

	wip   int32
	done  bool
	timer serialDisposable

	// produced 本轮订阅已发射数量，由串行信号维护
	produced int64
}

func flowableRetry(source Flowable, times int) Flowable {
	if times <= 0 {
		return source
	}
	return newFlowable(func(subscriber Subscriber) {
		rs := &retrySubscriber{
			downstream: subscriber,
			source:     source,
			remaining:  times,
		}
		subscriber.OnSubscribe(rs)
		rs.resubscribe()
	})
}

func flowableRetryWithBackoff(source Flowable, newBackOff func() backoff.BackOff, scheduler Scheduler) Flowable {
	return newFlowable(func(subscriber Subscriber) {
		rs := &retrySubscriber{
			downstream: subscriber,
			source:     source,
			scheduler:  scheduler,
			policy:     newBackOff(),
		}
		subscriber.OnSubscribe(rs)
		rs.resubscribe()
	})
}

// resubscribe 重新订阅源。蹦床结构：同步失败的源在本循环内继续重试。
func (rs *retrySubscriber) resubscribe() {
	if atomic.AddInt32(&rs.wip, 1) != 1 {
		return
	}

	for {
		if rs.isCancelled() {
			return
		}

		rs.source.Subscribe(rs)

		if atomic.AddInt32(&rs.wip, -1) == 0 {
			return
		}
	}
}

func (rs *retrySubscriber) OnSubscribe(s Subscription) {
	rs.setSubscription(s)
}

func (rs *retrySubscriber) OnNext(value interface{}) {
	if rs.done {
		onNextDropped(value)
		return
	}
	rs.produced++
	rs.downstream.OnNext(value)
}

func (rs *retrySubscriber) OnError(err error) {
	if rs.done {
		onErrorDropped(err)
		return
	}

	// 结转本轮已发射数量，剩余需求带入下一轮
	if p := rs.produced; p != 0 {
		rs.produced = 0
		rs.subscriptionArbiter.produced(p)
	}

	if rs.policy != nil {
		delay := rs.policy.NextBackOff()
		if delay == backoff.Stop {
			rs.done = true
			rs.downstream.OnError(err)
			return
		}

		handle := rs.scheduler.ScheduleWithDelay(rs.resubscribe, delay)
		if handle == Rejected {
			rs.done = true
			rs.downstream.OnError(ErrSchedulerRejected)
			return
		}
		rs.timer.set(handle)
		return
	}

	if rs.remaining == 0 {
		rs.done = true
		rs.downstream.OnError(err)
		return
	}
	rs.remaining--
	rs.resubscribe()
}

func (rs *retrySubscriber) OnComplete() {
	if rs.done {
		return
	}
	rs.done = true
	rs.downstream.OnComplete()
}

// Cancel 取消当前订阅与未触发的退避定时器
func (rs *retrySubscriber) Cancel() {
	rs.subscriptionArbiter.Cancel()
	rs.timer.Dispose()
}
