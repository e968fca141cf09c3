// Stateless operator subscribers for rsgo
// 无状态与轻状态操作符：遵循订阅协议但不引入新的并发风险
package rsgo

import (
	"reflect"
	"sync/atomic"
)

// ============================================================================
// Map操作符
// ============================================================================

// mapSubscriber Map操作符的订阅者
type mapSubscriber struct {
	downstream  Subscriber
	transformer Transformer
	upstream    Subscription
	done        bool
}

func flowableMap(source Flowable, transformer Transformer) Flowable {
	return newFlowable(func(subscriber Subscriber) {
		source.Subscribe(&mapSubscriber{
			downstream:  subscriber,
			transformer: transformer,
		})
	})
}

func (ms *mapSubscriber) OnSubscribe(s Subscription) {
	if validateSubscription(ms.upstream, s) {
		ms.upstream = s
		ms.downstream.OnSubscribe(ms)
	}
}

func (ms *mapSubscriber) OnNext(value interface{}) {
	if ms.done {
		onNextDropped(value)
		return
	}

	result, err := ms.transformer(value)
	if err != nil {
		ms.upstream.Cancel()
		ms.OnError(err)
		return
	}
	if result == nil {
		ms.upstream.Cancel()
		ms.OnError(ErrNilValue)
		return
	}

	ms.downstream.OnNext(result)
}

func (ms *mapSubscriber) OnError(err error) {
	if ms.done {
		onErrorDropped(err)
		return
	}
	ms.done = true
	ms.downstream.OnError(err)
}

func (ms *mapSubscriber) OnComplete() {
	if ms.done {
		return
	}
	ms.done = true
	ms.downstream.OnComplete()
}

func (ms *mapSubscriber) Request(n int64) {
	ms.upstream.Request(n)
}

func (ms *mapSubscriber) Cancel() {
	ms.upstream.Cancel()
}

// ============================================================================
// Filter操作符
// ============================================================================

// filterSubscriber Filter操作符的订阅者
type filterSubscriber struct {
	downstream Subscriber
	predicate  Predicate
	upstream   Subscription
	done       bool
}

func flowableFilter(source Flowable, predicate Predicate) Flowable {
	return newFlowable(func(subscriber Subscriber) {
		source.Subscribe(&filterSubscriber{
			downstream: subscriber,
			predicate:  predicate,
		})
	})
}

func (fs *filterSubscriber) OnSubscribe(s Subscription) {
	if validateSubscription(fs.upstream, s) {
		fs.upstream = s
		fs.downstream.OnSubscribe(fs)
	}
}

func (fs *filterSubscriber) OnNext(value interface{}) {
	if fs.done {
		onNextDropped(value)
		return
	}

	if fs.predicate(value) {
		fs.downstream.OnNext(value)
	} else {
		// 被过滤的项不消耗下游需求，向上游补偿一个
		fs.upstream.Request(1)
	}
}

func (fs *filterSubscriber) OnError(err error) {
	if fs.done {
		onErrorDropped(err)
		return
	}
	fs.done = true
	fs.downstream.OnError(err)
}

func (fs *filterSubscriber) OnComplete() {
	if fs.done {
		return
	}
	fs.done = true
	fs.downstream.OnComplete()
}

func (fs *filterSubscriber) Request(n int64) {
	fs.upstream.Request(n)
}

func (fs *filterSubscriber) Cancel() {
	fs.upstream.Cancel()
}

// ============================================================================
// Take操作符
// ============================================================================

// takeSubscriber Take操作符的订阅者
type takeSubscriber struct {
	downstream Subscriber
	remaining  int64
	upstream   Subscription
	done       bool
}

func flowableTake(source Flowable, count int64) Flowable {
	if count <= 0 {
		return FlowableEmpty()
	}
	return newFlowable(func(subscriber Subscriber) {
		source.Subscribe(&takeSubscriber{
			downstream: subscriber,
			remaining:  count,
		})
	})
}

func (ts *takeSubscriber) OnSubscribe(s Subscription) {
	if validateSubscription(ts.upstream, s) {
		ts.upstream = s
		ts.downstream.OnSubscribe(ts)
	}
}

func (ts *takeSubscriber) OnNext(value interface{}) {
	if ts.done {
		onNextDropped(value)
		return
	}

	ts.remaining--
	ts.downstream.OnNext(value)

	if ts.remaining == 0 {
		ts.done = true
		ts.upstream.Cancel()
		ts.downstream.OnComplete()
	}
}

func (ts *takeSubscriber) OnError(err error) {
	if ts.done {
		onErrorDropped(err)
		return
	}
	ts.done = true
	ts.downstream.OnError(err)
}

func (ts *takeSubscriber) OnComplete() {
	if ts.done {
		return
	}
	ts.done = true
	ts.downstream.OnComplete()
}

func (ts *takeSubscriber) Request(n int64) {
	ts.upstream.Request(n)
}

func (ts *takeSubscriber) Cancel() {
	ts.upstream.Cancel()
}

// ============================================================================
// Skip操作符
// ============================================================================

// skipSubscriber Skip操作符的订阅者
type skipSubscriber struct {
	downstream Subscriber
	toSkip     int64
	skipped    int64
	upstream   Subscription
	first      int32
	done       bool
}

func flowableSkip(source Flowable, count int64) Flowable {
	if count <= 0 {
		return source
	}
	return newFlowable(func(subscriber Subscriber) {
		source.Subscribe(&skipSubscriber{
			downstream: subscriber,
			toSkip:     count,
		})
	})
}

func (ss *skipSubscriber) OnSubscribe(s Subscription) {
	if validateSubscription(ss.upstream, s) {
		ss.upstream = s
		ss.downstream.OnSubscribe(ss)
	}
}

func (ss *skipSubscriber) OnNext(value interface{}) {
	if ss.done {
		onNextDropped(value)
		return
	}
	if ss.skipped != ss.toSkip {
		ss.skipped++
		return
	}
	ss.downstream.OnNext(value)
}

func (ss *skipSubscriber) OnError(err error) {
	if ss.done {
		onErrorDropped(err)
		return
	}
	ss.done = true
	ss.downstream.OnError(err)
}

func (ss *skipSubscriber) OnComplete() {
	if ss.done {
		return
	}
	ss.done = true
	ss.downstream.OnComplete()
}

// Request 首个请求叠加需要跳过的数量
func (ss *skipSubscriber) Request(n int64) {
	if atomic.CompareAndSwapInt32(&ss.first, 0, 1) {
		ss.upstream.Request(AddCap(n, ss.toSkip))
		return
	}
	ss.upstream.Request(n)
}

func (ss *skipSubscriber) Cancel() {
	ss.upstream.Cancel()
}

// ============================================================================
// TakeWhile操作符
// ============================================================================

// takeWhileSubscriber TakeWhile操作符的订阅者
type takeWhileSubscriber struct {
	downstream Subscriber
	predicate  Predicate
	upstream   Subscription
	done       bool
}

func flowableTakeWhile(source Flowable, predicate Predicate) Flowable {
	return newFlowable(func(subscriber Subscriber) {
		source.Subscribe(&takeWhileSubscriber{
			downstream: subscriber,
			predicate:  predicate,
		})
	})
}

func (tw *takeWhileSubscriber) OnSubscribe(s Subscription) {
	if validateSubscription(tw.upstream, s) {
		tw.upstream = s
		tw.downstream.OnSubscribe(tw)
	}
}

func (tw *takeWhileSubscriber) OnNext(value interface{}) {
	if tw.done {
		onNextDropped(value)
		return
	}

	if !tw.predicate(value) {
		tw.done = true
		tw.upstream.Cancel()
		tw.downstream.OnComplete()
		return
	}

	tw.downstream.OnNext(value)
}

func (tw *takeWhileSubscriber) OnError(err error) {
	if tw.done {
		onErrorDropped(err)
		return
	}
	tw.done = true
	tw.downstream.OnError(err)
}

func (tw *takeWhileSubscriber) OnComplete() {
	if tw.done {
		return
	}
	tw.done = true
	tw.downstream.OnComplete()
}

func (tw *takeWhileSubscriber) Request(n int64) {
	tw.upstream.Request(n)
}

func (tw *takeWhileSubscriber) Cancel() {
	tw.upstream.Cancel()
}

// ============================================================================
// SkipWhile操作符
// ============================================================================

// skipWhileSubscriber SkipWhile操作符的订阅者
type skipWhileSubscriber struct {
	downstream Subscriber
	predicate  Predicate
	upstream   Subscription
	skipping   bool
	done       bool
}

func flowableSkipWhile(source Flowable, predicate Predicate) Flowable {
	return newFlowable(func(subscriber Subscriber) {
		source.Subscribe(&skipWhileSubscriber{
			downstream: subscriber,
			predicate:  predicate,
			skipping:   true,
		})
	})
}

func (sw *skipWhileSubscriber) OnSubscribe(s Subscription) {
	if validateSubscription(sw.upstream, s) {
		sw.upstream = s
		sw.downstream.OnSubscribe(sw)
	}
}

func (sw *skipWhileSubscriber) OnNext(value interface{}) {
	if sw.done {
		onNextDropped(value)
		return
	}

	if sw.skipping {
		if sw.predicate(value) {
			sw.upstream.Request(1)
			return
		}
		sw.skipping = false
	}

	sw.downstream.OnNext(value)
}

func (sw *skipWhileSubscriber) OnError(err error) {
	if sw.done {
		onErrorDropped(err)
		return
	}
	sw.done = true
	sw.downstream.OnError(err)
}

func (sw *skipWhileSubscriber) OnComplete() {
	if sw.done {
		return
	}
	sw.done = true
	sw.downstream.OnComplete()
}

func (sw *skipWhileSubscriber) Request(n int64) {
	sw.upstream.Request(n)
}

func (sw *skipWhileSubscriber) Cancel() {
	sw.upstream.Cancel()
}

// ============================================================================
// DistinctUntilChanged操作符
// ============================================================================

// distinctUntilChangedSubscriber 抑制连续重复项的订阅者
type distinctUntilChangedSubscriber struct {
	downstream Subscriber
	upstream   Subscription
	last       interface{}
	hasLast    bool
	done       bool
}

func flowableDistinctUntilChanged(source Flowable) Flowable {
	return newFlowable(func(subscriber Subscriber) {
		source.Subscribe(&distinctUntilChangedSubscriber{
			downstream: subscriber,
		})
	})
}

func (ds *distinctUntilChangedSubscriber) OnSubscribe(s Subscription) {
	if validateSubscription(ds.upstream, s) {
		ds.upstream = s
		ds.downstream.OnSubscribe(ds)
	}
}

func (ds *distinctUntilChangedSubscriber) OnNext(value interface{}) {
	if ds.done {
		onNextDropped(value)
		return
	}

	if ds.hasLast && reflect.DeepEqual(ds.last, value) {
		ds.last = value
		ds.upstream.Request(1)
		return
	}

	ds.last = value
	ds.hasLast = true
	ds.downstream.OnNext(value)
}

func (ds *distinctUntilChangedSubscriber) OnError(err error) {
	if ds.done {
		onErrorDropped(err)
		return
	}
	ds.done = true
	ds.downstream.OnError(err)
}

func (ds *distinctUntilChangedSubscriber) OnComplete() {
	if ds.done {
		return
	}
	ds.done = true
	ds.downstream.OnComplete()
}

func (ds *distinctUntilChangedSubscriber) Request(n int64) {
	ds.upstream.Request(n)
}

func (ds *distinctUntilChangedSubscriber) Cancel() {
	ds.upstream.Cancel()
}

// ============================================================================
// Scan操作符
// 发射初始值与每一步累积结果；最终累积值在完成时按需求延迟发射，
// 需求计数的最高位用作「已完成持有终值」标志
// ============================================================================

// scanSubscriber Scan操作符的订阅者
type scanSubscriber struct {
	downstream Subscriber
	reducer    Reducer
	value      interface{}
	upstream   Subscription
	requested  int64
	done       bool
}

func flowableScan(source Flowable, initial interface{}, reducer Reducer) Flowable {
	return newFlowable(func(subscriber Subscriber) {
		source.Subscribe(&scanSubscriber{
			downstream: subscriber,
			reducer:    reducer,
			value:      initial,
		})
	})
}

func (sc *scanSubscriber) OnSubscribe(s Subscription) {
	if validateSubscription(sc.upstream, s) {
		sc.upstream = s
		sc.downstream.OnSubscribe(sc)
	}
}

func (sc *scanSubscriber) OnNext(value interface{}) {
	if sc.done {
		onNextDropped(value)
		return
	}

	current := sc.value
	sc.downstream.OnNext(current)

	if atomic.LoadInt64(&sc.requested) != RequestMax {
		atomic.AddInt64(&sc.requested, -1)
	}

	next, err := sc.reducer(current, value)
	if err != nil {
		sc.upstream.Cancel()
		sc.OnError(err)
		return
	}
	if next == nil {
		sc.upstream.Cancel()
		sc.OnError(ErrNilValue)
		return
	}
	sc.value = next
}

func (sc *scanSubscriber) OnError(err error) {
	if sc.done {
		onErrorDropped(err)
		return
	}
	sc.done = true
	sc.downstream.OnError(err)
}

func (sc *scanSubscriber) OnComplete() {
	if sc.done {
		return
	}
	sc.done = true

	final := sc.value
	for {
		r := atomic.LoadInt64(&sc.requested)
		if (r & requestedMask) != 0 {
			sc.downstream.OnNext(final)
			sc.downstream.OnComplete()
			return
		}
		// (无需求, 无终值) -> (无需求, 持有终值)
		if atomic.CompareAndSwapInt64(&sc.requested, 0, completedMask) {
			return
		}
	}
}

func (sc *scanSubscriber) Request(n int64) {
	if !validateRequest(n) {
		return
	}
	for {
		r := atomic.LoadInt64(&sc.requested)

		// (无需求, 持有终值)：任意正请求都触发终值发射
		if r == completedMask {
			if atomic.CompareAndSwapInt64(&sc.requested, completedMask, completedMask|1) {
				sc.downstream.OnNext(sc.value)
				sc.downstream.OnComplete()
			}
			return
		}

		// 终值已发射
		if r < 0 {
			return
		}

		u := AddCap(r, n)
		if atomic.CompareAndSwapInt64(&sc.requested, r, u) {
			sc.upstream.Request(n)
			return
		}
	}
}

func (sc *scanSubscriber) Cancel() {
	sc.upstream.Cancel()
}

// ============================================================================
// 延迟标量发射
// Reduce与ElementAt共用：上游走完后才产出单个值，受下游需求门控
// ============================================================================

// deferredScalar 完成时按需求发射单个值的状态机
type deferredScalar struct {
	downstream Subscriber
	state      int64
	value      interface{}
}

// request 记录需求；终值已就绪时由请求方发射。返回true表示状态机已
// 接管（终值已发射或已在发射中）。
func (d *deferredScalar) request(n int64) bool {
	for {
		r := atomic.LoadInt64(&d.state)

		if r == completedMask {
			if atomic.CompareAndSwapInt64(&d.state, completedMask, completedMask|1) {
				d.downstream.OnNext(d.value)
				d.downstream.OnComplete()
			}
			return true
		}

		if r < 0 {
			return true
		}

		u := AddCap(r, n)
		if atomic.CompareAndSwapInt64(&d.state, r, u) {
			return false
		}
	}
}

// complete 终值就绪；需求已存在时立即发射，否则挂起等待request
func (d *deferredScalar) complete(value interface{}) {
	d.value = value
	for {
		r := atomic.LoadInt64(&d.state)
		if (r & requestedMask) != 0 {
			d.downstream.OnNext(value)
			d.downstream.OnComplete()
			return
		}
		if atomic.CompareAndSwapInt64(&d.state, 0, completedMask) {
			return
		}
	}
}

// ============================================================================
// Reduce操作符
// ============================================================================

// reduceSubscriber Reduce操作符的订阅者，上游以无界需求消费
type reduceSubscriber struct {
	deferredScalar
	reducer  Reducer
	acc      interface{}
	upstream Subscription
	done     bool
}

func flowableReduce(source Flowable, initial interface{}, reducer Reducer) Flowable {
	return newFlowable(func(subscriber Subscriber) {
		rs := &reduceSubscriber{
			reducer: reducer,
			acc:     initial,
		}
		rs.downstream = subscriber
		source.Subscribe(rs)
	})
}

func (rs *reduceSubscriber) OnSubscribe(s Subscription) {
	if validateSubscription(rs.upstream, s) {
		rs.upstream = s
		rs.downstream.OnSubscribe(rs)
		s.Request(RequestMax)
	}
}

func (rs *reduceSubscriber) OnNext(value interface{}) {
	if rs.done {
		onNextDropped(value)
		return
	}

	next, err := rs.reducer(rs.acc, value)
	if err != nil {
		rs.upstream.Cancel()
		rs.OnError(err)
		return
	}
	if next == nil {
		rs.upstream.Cancel()
		rs.OnError(ErrNilValue)
		return
	}
	rs.acc = next
}

func (rs *reduceSubscriber) OnError(err error) {
	if rs.done {
		onErrorDropped(err)
		return
	}
	rs.done = true
	rs.downstream.OnError(err)
}

func (rs *reduceSubscriber) OnComplete() {
	if rs.done {
		return
	}
	rs.done = true
	rs.complete(rs.acc)
}

func (rs *reduceSubscriber) Request(n int64) {
	if !validateRequest(n) {
		return
	}
	rs.request(n)
}

func (rs *reduceSubscriber) Cancel() {
	rs.upstream.Cancel()
}

// ============================================================================
// ElementAt操作符
// ============================================================================

// elementAtSubscriber ElementAt操作符的订阅者
type elementAtSubscriber struct {
	deferredScalar
	index    int64
	count    int64
	upstream Subscription
	done     bool
}

func flowableElementAt(source Flowable, index int64) Flowable {
	if index < 0 {
		return FlowableError(ErrIndexOutOfRange)
	}
	return newFlowable(func(subscriber Subscriber) {
		es := &elementAtSubscriber{index: index}
		es.downstream = subscriber
		source.Subscribe(es)
	})
}

func (es *elementAtSubscriber) OnSubscribe(s Subscription) {
	if validateSubscription(es.upstream, s) {
		es.upstream = s
		es.downstream.OnSubscribe(es)
		s.Request(es.index + 1)
	}
}

func (es *elementAtSubscriber) OnNext(value interface{}) {
	if es.done {
		onNextDropped(value)
		return
	}

	if es.count == es.index {
		es.done = true
		es.upstream.Cancel()
		es.complete(value)
		return
	}
	es.count++
}

func (es *elementAtSubscriber) OnError(err error) {
	if es.done {
		onErrorDropped(err)
		return
	}
	es.done = true
	es.downstream.OnError(err)
}

func (es *elementAtSubscriber) OnComplete() {
	if es.done {
		return
	}
	es.done = true
	es.downstream.OnError(ErrIndexOutOfRange)
}

func (es *elementAtSubscriber) Request(n int64) {
	if !validateRequest(n) {
		return
	}
	es.request(n)
}

func (es *elementAtSubscriber) Cancel() {
	es.upstream.Cancel()
}
