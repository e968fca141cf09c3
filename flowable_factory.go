// Flowable factory functions for rsgo
// 数据源工厂：范围、常量、空流、错误流、切片、延迟构造
package rsgo

import (
	"sync/atomic"
)

// ============================================================================
// 严格源的订阅实现
// ============================================================================

// emptySubscription 无数据可供请求的空订阅
type emptySubscription struct{}

func (emptySubscription) Request(n int64) {
	validateRequest(n)
}

func (emptySubscription) Cancel() {}

// scalarSubscription 恰好一个值的订阅，首个有效请求发射后完成
type scalarSubscription struct {
	downstream Subscriber
	value      interface{}
	state      int32 // 0未请求 1已发射 2已取消
}

func (ss *scalarSubscription) Request(n int64) {
	if !validateRequest(n) {
		return
	}
	if atomic.CompareAndSwapInt32(&ss.state, 0, 1) {
		ss.downstream.OnNext(ss.value)
		if atomic.LoadInt32(&ss.state) != 2 {
			ss.downstream.OnComplete()
		}
	}
}

func (ss *scalarSubscription) Cancel() {
	atomic.StoreInt32(&ss.state, 2)
}

// rangeSubscription 整数区间源的订阅，按需求分批发射
type rangeSubscription struct {
	downstream Subscriber
	index      int64
	end        int64
	requested  int64
	cancelled  int32
}

func (rs *rangeSubscription) Request(n int64) {
	if !validateRequest(n) {
		return
	}
	if AddAndGetCap(&rs.requested, n) == 0 {
		rs.drain(n)
	}
}

func (rs *rangeSubscription) Cancel() {
	atomic.StoreInt32(&rs.cancelled, 1)
}

func (rs *rangeSubscription) isCancelled() bool {
	return atomic.LoadInt32(&rs.cancelled) == 1
}

// drain 发射循环，由把需求从0抬升的请求方驱动
func (rs *rangeSubscription) drain(n int64) {
	var emitted int64

	for {
		for emitted != n && rs.index != rs.end {
			if rs.isCancelled() {
				return
			}
			rs.downstream.OnNext(int(rs.index))
			rs.index++
			emitted++
		}

		if rs.index == rs.end {
			if !rs.isCancelled() {
				rs.downstream.OnComplete()
			}
			return
		}

		n = atomic.LoadInt64(&rs.requested)
		if n == emitted {
			n = atomic.AddInt64(&rs.requested, -emitted)
			if n == 0 {
				return
			}
			emitted = 0
		}
	}
}

// sliceSubscription 切片源的订阅
type sliceSubscription struct {
	downstream Subscriber
	values     []interface{}
	index      int64
	requested  int64
	cancelled  int32
}

func (as *sliceSubscription) Request(n int64) {
	if !validateRequest(n) {
		return
	}
	if AddAndGetCap(&as.requested, n) == 0 {
		as.drain(n)
	}
}

func (as *sliceSubscription) Cancel() {
	atomic.StoreInt32(&as.cancelled, 1)
}

func (as *sliceSubscription) isCancelled() bool {
	return atomic.LoadInt32(&as.cancelled) == 1
}

func (as *sliceSubscription) drain(n int64) {
	var emitted int64
	length := int64(len(as.values))

	for {
		for emitted != n && as.index != length {
			if as.isCancelled() {
				return
			}
			value := as.values[as.index]
			if value == nil {
				as.Cancel()
				as.downstream.OnError(ErrNilValue)
				return
			}
			as.downstream.OnNext(value)
			as.index++
			emitted++
		}

		if as.index == length {
			if !as.isCancelled() {
				as.downstream.OnComplete()
			}
			return
		}

		n = atomic.LoadInt64(&as.requested)
		if n == emitted {
			n = atomic.AddInt64(&as.requested, -emitted)
			if n == 0 {
				return
			}
			emitted = 0
		}
	}
}

// ============================================================================
// 工厂函数
// ============================================================================

// FlowableRange 发射[start, start+count)区间的整数
func FlowableRange(start, count int) Flowable {
	if count <= 0 {
		return FlowableEmpty()
	}
	return newFlowable(func(subscriber Subscriber) {
		subscriber.OnSubscribe(&rangeSubscription{
			downstream: subscriber,
			index:      int64(start),
			end:        int64(start) + int64(count),
		})
	})
}

// FlowableJust 发射给定的常量序列；单个值时走标量短路
func FlowableJust(values ...interface{}) Flowable {
	switch len(values) {
	case 0:
		return FlowableEmpty()
	case 1:
		value := values[0]
		f := newFlowable(nil)
		f.kind = scalarValue
		f.value = value
		f.onSubscribe = func(subscriber Subscriber) {
			subscriber.OnSubscribe(&scalarSubscription{
				downstream: subscriber,
				value:      value,
			})
		}
		return f
	default:
		return FlowableFromSlice(values)
	}
}

// FlowableFromSlice 发射切片中的全部数据项
func FlowableFromSlice(values []interface{}) Flowable {
	return newFlowable(func(subscriber Subscriber) {
		subscriber.OnSubscribe(&sliceSubscription{
			downstream: subscriber,
			values:     values,
		})
	})
}

// FlowableEmpty 立即完成的空流
func FlowableEmpty() Flowable {
	f := newFlowable(nil)
	f.kind = scalarEmpty
	f.onSubscribe = func(subscriber Subscriber) {
		subscriber.OnSubscribe(emptySubscription{})
		subscriber.OnComplete()
	}
	return f
}

// FlowableNever 永不发射任何信号的流
func FlowableNever() Flowable {
	return newFlowable(func(subscriber Subscriber) {
		subscriber.OnSubscribe(emptySubscription{})
	})
}

// FlowableError 立即以指定错误终止的流
func FlowableError(err error) Flowable {
	return newFlowable(func(subscriber Subscriber) {
		subscriber.OnSubscribe(emptySubscription{})
		subscriber.OnError(err)
	})
}

// FlowableDefer 每次订阅时重新构造实际的源
func FlowableDefer(factory func() Flowable) Flowable {
	return newFlowable(func(subscriber Subscriber) {
		source := factory()
		if source == nil {
			subscriber.OnSubscribe(emptySubscription{})
			subscriber.OnError(ErrNilValue)
			return
		}
		source.Subscribe(subscriber)
	})
}
