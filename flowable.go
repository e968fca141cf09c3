// Flowable interface and core implementation for rsgo
// 支持背压的响应式数据流，遵循四信号订阅协议
package rsgo

import (
	"errors"
	"sync"

	"github.com/cenkalti/backoff/v5"
)

// ============================================================================
// Flowable 接口定义
// ============================================================================

// Flowable 支持背压的响应式数据流接口
type Flowable interface {
	Publisher

	// ============================================================================
	// 转换操作符
	// ============================================================================

	// Map 转换每个数据项
	Map(transformer Transformer) Flowable

	// Filter 过滤数据项
	Filter(predicate Predicate) Flowable

	// Take 取前N个数据项
	Take(count int64) Flowable

	// Skip 跳过前N个数据项
	Skip(count int64) Flowable

	// TakeWhile 持续取数据直到谓词首次为假
	TakeWhile(predicate Predicate) Flowable

	// SkipWhile 跳过数据直到谓词首次为假
	SkipWhile(predicate Predicate) Flowable

	// Scan 发射初始值与每一步的累积结果
	Scan(initial interface{}, reducer Reducer) Flowable

	// Reduce 归约为单个值，完成时发射
	Reduce(initial interface{}, reducer Reducer) Flowable

	// DistinctUntilChanged 抑制连续重复的数据项
	DistinctUntilChanged() Flowable

	// ElementAt 取指定下标的数据项
	ElementAt(index int64) Flowable

	// Buffer 聚合为定长缓冲：skip==size精确、skip>size跳跃、skip<size重叠
	Buffer(size, skip int, options ...Option) Flowable

	// ============================================================================
	// 并发核心操作符
	// ============================================================================

	// ObserveOn 把下游信号交接到调度器工作者上
	ObserveOn(scheduler Scheduler, options ...Option) Flowable

	// FlatMap 把每个数据项映射为内层流并按上限并发合并
	FlatMap(mapper FlowableMapper, maxConcurrency int, options ...Option) Flowable

	// ConcatWith 顺序连接其他流
	ConcatWith(others ...Flowable) Flowable

	// MergeWith 并发合并其他流
	MergeWith(others ...Flowable) Flowable

	// ZipWith 与另一个流按行组合
	ZipWith(other Flowable, zipper func(a, b interface{}) interface{}) Flowable

	// ============================================================================
	// 错误恢复操作符
	// ============================================================================

	// Retry 出错时重新订阅，最多times次
	Retry(times int) Flowable

	// RetryWithBackoff 按退避策略延迟后重新订阅
	RetryWithBackoff(newBackOff func() backoff.BackOff, scheduler Scheduler) Flowable

	// ============================================================================
	// 订阅与阻塞辅助
	// ============================================================================

	// SubscribeWithCallbacks 使用回调函数订阅，返回订阅句柄
	SubscribeWithCallbacks(onNext OnNextFunc, onError OnErrorFunc, onComplete OnCompleteFunc) Subscription

	// BlockingSlice 阻塞收集全部数据项
	BlockingSlice() ([]interface{}, error)

	// BlockingFirst 阻塞获取第一个数据项
	BlockingFirst() (interface{}, error)
}

// ============================================================================
// 核心实现
// ============================================================================

// scalarKind 标量短路标记：已知最多发射一个值的源可以免队列消费
type scalarKind int

const (
	scalarNone  scalarKind = iota // 普通源
	scalarValue                   // 恰好一个值
	scalarEmpty                   // 空完成
)

// flowable Flowable的唯一实现，围绕订阅函数构建
type flowable struct {
	onSubscribe func(subscriber Subscriber)

	// 标量短路元数据，仅工厂函数设置
	kind  scalarKind
	value interface{}
}

// newFlowable 创建普通Flowable
func newFlowable(onSubscribe func(subscriber Subscriber)) *flowable {
	return &flowable{onSubscribe: onSubscribe}
}

// Subscribe 订阅Subscriber
func (f *flowable) Subscribe(subscriber Subscriber) {
	f.onSubscribe(subscriber)
}

// flowableScalar 提取标量短路元数据：(值, 是否有值, 是否标量)
func flowableScalar(source Flowable) (interface{}, bool, bool) {
	impl, ok := source.(*flowable)
	if !ok {
		return nil, false, false
	}
	switch impl.kind {
	case scalarValue:
		return impl.value, true, true
	case scalarEmpty:
		return nil, false, true
	default:
		return nil, false, false
	}
}

// ============================================================================
// 操作符的构造委托
// ============================================================================

func (f *flowable) Map(transformer Transformer) Flowable {
	return flowableMap(f, transformer)
}

func (f *flowable) Filter(predicate Predicate) Flowable {
	return flowableFilter(f, predicate)
}

func (f *flowable) Take(count int64) Flowable {
	return flowableTake(f, count)
}

func (f *flowable) Skip(count int64) Flowable {
	return flowableSkip(f, count)
}

func (f *flowable) TakeWhile(predicate Predicate) Flowable {
	return flowableTakeWhile(f, predicate)
}

func (f *flowable) SkipWhile(predicate Predicate) Flowable {
	return flowableSkipWhile(f, predicate)
}

func (f *flowable) Scan(initial interface{}, reducer Reducer) Flowable {
	return flowableScan(f, initial, reducer)
}

func (f *flowable) Reduce(initial interface{}, reducer Reducer) Flowable {
	return flowableReduce(f, initial, reducer)
}

func (f *flowable) DistinctUntilChanged() Flowable {
	return flowableDistinctUntilChanged(f)
}

func (f *flowable) ElementAt(index int64) Flowable {
	return flowableElementAt(f, index)
}

func (f *flowable) Buffer(size, skip int, options ...Option) Flowable {
	return flowableBuffer(f, size, skip, options...)
}

func (f *flowable) ObserveOn(scheduler Scheduler, options ...Option) Flowable {
	return flowableObserveOn(f, scheduler, options...)
}

func (f *flowable) FlatMap(mapper FlowableMapper, maxConcurrency int, options ...Option) Flowable {
	return flowableFlatMap(f, mapper, maxConcurrency, options...)
}

func (f *flowable) ConcatWith(others ...Flowable) Flowable {
	sources := append([]Flowable{f}, others...)
	return FlowableConcat(sources...)
}

func (f *flowable) MergeWith(others ...Flowable) Flowable {
	sources := append([]Flowable{f}, others...)
	return FlowableMerge(sources...)
}

func (f *flowable) ZipWith(other Flowable, zipper func(a, b interface{}) interface{}) Flowable {
	return FlowableZip(func(row []interface{}) interface{} {
		return zipper(row[0], row[1])
	}, f, other)
}

func (f *flowable) Retry(times int) Flowable {
	return flowableRetry(f, times)
}

func (f *flowable) RetryWithBackoff(newBackOff func() backoff.BackOff, scheduler Scheduler) Flowable {
	return flowableRetryWithBackoff(f, newBackOff, scheduler)
}

// ============================================================================
// 订阅与阻塞辅助
// ============================================================================

// callbackSubscriber 回调订阅者，OnSubscribe时不自动请求
type callbackSubscriber struct {
	mu         sync.Mutex
	upstream   Subscription
	pending    int64
	cancelled  bool
	done       bool
	onNext     OnNextFunc
	onError    OnErrorFunc
	onComplete OnCompleteFunc
}

// Request 请求数据；句柄尚未到达时暂存需求
func (cs *callbackSubscriber) Request(n int64) {
	cs.mu.Lock()
	upstream := cs.upstream
	if upstream == nil {
		cs.pending = AddCap(cs.pending, n)
		cs.mu.Unlock()
		return
	}
	cs.mu.Unlock()
	upstream.Request(n)
}

// Cancel 取消订阅
func (cs *callbackSubscriber) Cancel() {
	cs.mu.Lock()
	cs.cancelled = true
	upstream := cs.upstream
	cs.mu.Unlock()
	if upstream != nil {
		upstream.Cancel()
	}
}

func (cs *callbackSubscriber) OnSubscribe(s Subscription) {
	cs.mu.Lock()
	if cs.upstream != nil {
		cs.mu.Unlock()
		s.Cancel()
		onErrorDropped(errDoubleSubscribe)
		return
	}
	cs.upstream = s
	pending := cs.pending
	cs.pending = 0
	cancelled := cs.cancelled
	cs.mu.Unlock()

	if cancelled {
		s.Cancel()
		return
	}
	if pending > 0 {
		s.Request(pending)
	}
}

func (cs *callbackSubscriber) OnNext(value interface{}) {
	if cs.done {
		onNextDropped(value)
		return
	}
	if cs.onNext != nil {
		cs.onNext(value)
	}
}

func (cs *callbackSubscriber) OnError(err error) {
	if cs.done {
		onErrorDropped(err)
		return
	}
	cs.done = true
	if cs.onError != nil {
		cs.onError(err)
	}
}

func (cs *callbackSubscriber) OnComplete() {
	if cs.done {
		return
	}
	cs.done = true
	if cs.onComplete != nil {
		cs.onComplete()
	}
}

// SubscribeWithCallbacks 使用回调函数订阅
func (f *flowable) SubscribeWithCallbacks(onNext OnNextFunc, onError OnErrorFunc, onComplete OnCompleteFunc) Subscription {
	subscriber := &callbackSubscriber{
		onNext:     onNext,
		onError:    onError,
		onComplete: onComplete,
	}
	f.Subscribe(subscriber)
	return subscriber
}

// BlockingSlice 阻塞收集全部数据项
func (f *flowable) BlockingSlice() ([]interface{}, error) {
	var mu sync.Mutex
	items := make([]interface{}, 0)
	var resultErr error
	done := make(chan struct{})

	subscription := f.SubscribeWithCallbacks(
		func(value interface{}) {
			mu.Lock()
			items = append(items, value)
			mu.Unlock()
		},
		func(err error) {
			mu.Lock()
			resultErr = err
			mu.Unlock()
			close(done)
		},
		func() {
			close(done)
		},
	)

	subscription.Request(RequestMax)
	<-done

	mu.Lock()
	defer mu.Unlock()
	return items, resultErr
}

// BlockingFirst 阻塞获取第一个数据项
func (f *flowable) BlockingFirst() (interface{}, error) {
	var once sync.Once
	var result interface{}
	var resultErr error
	done := make(chan struct{})

	subscription := f.SubscribeWithCallbacks(
		func(value interface{}) {
			once.Do(func() {
				result = value
				close(done)
			})
		},
		func(err error) {
			once.Do(func() {
				resultErr = err
				close(done)
			})
		},
		func() {
			once.Do(func() {
				resultErr = errors.New("流为空，没有数据项")
				close(done)
			})
		},
	)

	subscription.Request(1)
	<-done
	subscription.Cancel()

	return result, resultErr
}
