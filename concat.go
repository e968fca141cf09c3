// Concat assembler for rsgo
// 顺序组合：内层订阅严格串行互不重叠，剩余需求经仲裁器结转给下一个源
package rsgo

import (
	"errors"
	"sync/atomic"
)

// concatSubscriber Concat的订阅者，同时是交给下游的订阅句柄。
// 仲裁器负责把未耗尽的需求转交给依次安装的内层订阅。
type concatSubscriber struct {
	subscriptionArbiter

	downstream  Subscriber
	sources     []Flowable
	delayErrors bool

	index int
	wip   int32
	done  bool
	errs  []error

	// produced 当前内层已发射数量，由串行的内层信号维护
	produced int64
}

func concatSources(sources []Flowable, delayErrors bool) Flowable {
	switch len(sources) {
	case 0:
		return FlowableEmpty()
	case 1:
		if sources[0] != nil {
			return sources[0]
		}
	}

	return newFlowable(func(subscriber Subscriber) {
		cs := &concatSubscriber{
			downstream:  subscriber,
			sources:     sources,
			delayErrors: delayErrors,
		}
		subscriber.OnSubscribe(cs)
		cs.next()
	})
}

// FlowableConcat 依次连接各源：前一个完成后才订阅下一个
func FlowableConcat(sources ...Flowable) Flowable {
	return concatSources(sources, false)
}

// FlowableConcatDelayError 顺序连接并把错误延迟到全部源走完
func FlowableConcatDelayError(sources ...Flowable) Flowable {
	return concatSources(sources, true)
}

// FlowableConcatSlice 从切片顺序连接各源
func FlowableConcatSlice(sources []Flowable) Flowable {
	return concatSources(sources, false)
}

// next 推进到下一个源。蹦床结构：空源同步完成时在本循环内继续推进，
// 避免递归加深调用栈。
func (cs *concatSubscriber) next() {
	if atomic.AddInt32(&cs.wip, 1) != 1 {
		return
	}

	for {
		if cs.isCancelled() {
			return
		}

		i := cs.index
		if i == len(cs.sources) {
			cs.terminate()
			return
		}
		cs.index = i + 1

		source := cs.sources[i]
		if source == nil {
			cs.done = true
			cs.downstream.OnError(ErrNilValue)
			return
		}

		source.Subscribe(cs)

		if atomic.AddInt32(&cs.wip, -1) == 0 {
			return
		}
	}
}

// terminate 所有源走完后的终止信号
func (cs *concatSubscriber) terminate() {
	if cs.done {
		return
	}
	cs.done = true

	switch len(cs.errs) {
	case 0:
		cs.downstream.OnComplete()
	case 1:
		cs.downstream.OnError(cs.errs[0])
	default:
		cs.downstream.OnError(errors.Join(cs.errs...))
	}
}

// OnSubscribe 安装新的内层订阅，剩余需求由仲裁器转交
func (cs *concatSubscriber) OnSubscribe(s Subscription) {
	cs.setSubscription(s)
}

func (cs *concatSubscriber) OnNext(value interface{}) {
	if cs.done {
		onNextDropped(value)
		return
	}
	cs.produced++
	cs.downstream.OnNext(value)
}

func (cs *concatSubscriber) OnError(err error) {
	if cs.done {
		onErrorDropped(err)
		return
	}

	if cs.delayErrors {
		cs.errs = append(cs.errs, err)
		cs.advance()
		return
	}

	cs.done = true
	cs.downstream.OnError(err)
}

func (cs *concatSubscriber) OnComplete() {
	if cs.done {
		return
	}
	cs.advance()
}

// advance 结转当前内层的发射量后推进到下一个源
func (cs *concatSubscriber) advance() {
	produced := cs.produced
	cs.produced = 0
	if produced != 0 {
		cs.subscriptionArbiter.produced(produced)
	}
	cs.next()
}
