// Timer and interval sources for rsgo
// 调度器与数据流的桥接：取消与已调度任务的竞争用CAS槽位裁决，
// 保证取消句柄至多运行一次
package rsgo

import (
	"sync/atomic"
	"time"
)

// ============================================================================
// Timer - 延迟后发射一个0然后完成
// ============================================================================

// 取消槽位状态
const (
	timerSlotEmpty     int32 = iota // 句柄尚未安装
	timerSlotInstalled              // 句柄已安装
	timerSlotCancelled              // 已取消哨兵
)

// timerSubscription Timer的订阅句柄
type timerSubscription struct {
	downstream Subscriber
	requested  int32
	slot       int32
	handle     Disposable
}

// FlowableTimer 延迟delay后发射0并完成；触发时无需求则报请求不足错误
func FlowableTimer(delay time.Duration, scheduler Scheduler) Flowable {
	return newFlowable(func(subscriber Subscriber) {
		ts := &timerSubscription{downstream: subscriber}
		subscriber.OnSubscribe(ts)

		handle := scheduler.ScheduleWithDelay(ts.run, delay)
		if handle == Rejected {
			if atomic.LoadInt32(&ts.slot) != timerSlotCancelled {
				subscriber.OnError(ErrSchedulerRejected)
			}
			return
		}
		ts.install(handle)
	})
}

// install 安装取消句柄；与Cancel竞争失败时立即释放句柄
func (ts *timerSubscription) install(handle Disposable) {
	ts.handle = handle
	if !atomic.CompareAndSwapInt32(&ts.slot, timerSlotEmpty, timerSlotInstalled) {
		handle.Dispose()
	}
}

// run 定时触发
func (ts *timerSubscription) run() {
	if atomic.LoadInt32(&ts.slot) == timerSlotCancelled {
		return
	}

	if atomic.LoadInt32(&ts.requested) == 1 {
		ts.downstream.OnNext(int64(0))
		if atomic.LoadInt32(&ts.slot) != timerSlotCancelled {
			ts.downstream.OnComplete()
		}
	} else {
		ts.downstream.OnError(ErrLackOfRequests)
	}
}

func (ts *timerSubscription) Request(n int64) {
	if validateRequest(n) {
		atomic.StoreInt32(&ts.requested, 1)
	}
}

// Cancel 置取消哨兵；已安装的句柄在此被释放，保证至多释放一次
func (ts *timerSubscription) Cancel() {
	old := atomic.SwapInt32(&ts.slot, timerSlotCancelled)
	if old == timerSlotInstalled {
		ts.handle.Dispose()
	}
}

// ============================================================================
// Interval - 周期发射递增的tick
// ============================================================================

// intervalSubscription Interval的订阅句柄
type intervalSubscription struct {
	downstream Subscriber
	scheduler  Scheduler
	period     time.Duration

	requested int64
	count     int64
	cancelled int32
	task      serialDisposable
}

// FlowableInterval 每period发射一个递增tick；需求跟不上节奏时以
// 请求不足错误终止
func FlowableInterval(period time.Duration, scheduler Scheduler) Flowable {
	return newFlowable(func(subscriber Subscriber) {
		is := &intervalSubscription{
			downstream: subscriber,
			scheduler:  scheduler,
			period:     period,
		}
		subscriber.OnSubscribe(is)
		is.schedule()
	})
}

// schedule 安排下一次触发，替换上一次的取消句柄
func (is *intervalSubscription) schedule() {
	if atomic.LoadInt32(&is.cancelled) == 1 {
		return
	}

	handle := is.scheduler.ScheduleWithDelay(is.run, is.period)
	if handle == Rejected {
		if atomic.CompareAndSwapInt32(&is.cancelled, 0, 1) {
			is.downstream.OnError(ErrSchedulerRejected)
		}
		return
	}
	is.task.set(handle)
}

// run 周期触发
func (is *intervalSubscription) run() {
	if atomic.LoadInt32(&is.cancelled) == 1 {
		return
	}

	r := atomic.LoadInt64(&is.requested)
	if r == 0 {
		// 下游的需求没有跟上节拍
		if atomic.CompareAndSwapInt32(&is.cancelled, 0, 1) {
			is.task.Dispose()
			is.downstream.OnError(ErrLackOfRequests)
		}
		return
	}

	tick := is.count
	is.count++
	is.downstream.OnNext(tick)

	if r != RequestMax {
		atomic.AddInt64(&is.requested, -1)
	}

	is.schedule()
}

func (is *intervalSubscription) Request(n int64) {
	if !validateRequest(n) {
		return
	}
	AddAndGetCap(&is.requested, n)
}

// Cancel 取消订阅并与已调度任务竞争
func (is *intervalSubscription) Cancel() {
	if atomic.CompareAndSwapInt32(&is.cancelled, 0, 1) {
		is.task.Dispose()
	}
}
