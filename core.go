// Core types for rsgo
// 基于Reactive Streams规范的响应式数据流核心类型定义
package rsgo

import (
	"errors"
	"log"
	"math"
	"sync/atomic"
)

// ============================================================================
// 信号契约 - 四信号订阅协议
// ============================================================================

// Subscription 订阅句柄，管理请求与取消
type Subscription interface {
	// Request 请求指定数量的数据项，n必须大于0
	Request(n int64)
	// Cancel 取消订阅，幂等
	Cancel()
}

// Subscriber 订阅者接口，四个下游信号必须被串行观察
type Subscriber interface {
	// OnSubscribe 订阅建立时调用，传递订阅句柄
	OnSubscribe(s Subscription)
	// OnNext 接收到新数据时调用
	OnNext(value interface{})
	// OnError 发生错误时调用，终止信号
	OnError(err error)
	// OnComplete 数据流正常结束时调用，终止信号
	OnComplete()
}

// Publisher 发布者接口
type Publisher interface {
	// Subscribe 订阅Subscriber
	Subscribe(subscriber Subscriber)
}

// RequestMax 无界需求哨兵值，发射时不再递减需求计数
const RequestMax = int64(math.MaxInt64)

// ============================================================================
// 函数类型定义
// ============================================================================

// OnNextFunc 处理下一个值的回调
type OnNextFunc func(value interface{})

// OnErrorFunc 处理错误的回调
type OnErrorFunc func(err error)

// OnCompleteFunc 处理完成的回调
type OnCompleteFunc func()

// Predicate 谓词函数，用于过滤
type Predicate func(value interface{}) bool

// Transformer 转换函数，用于映射
type Transformer func(value interface{}) (interface{}, error)

// Reducer 归约函数，用于聚合
type Reducer func(accumulator, current interface{}) (interface{}, error)

// FlowableMapper 将数据项映射为内层Flowable
type FlowableMapper func(value interface{}) (Flowable, error)

// Zipper 按行组合函数，row按源声明顺序排列
type Zipper func(row []interface{}) interface{}

// BufferSupplier 缓冲区工厂，返回新的空缓冲
type BufferSupplier func() []interface{}

// ============================================================================
// 协议错误
// ============================================================================

var (
	// ErrOverflow 有界队列offer失败时的缓冲区溢出错误
	ErrOverflow = errors.New("队列已满，无法继续缓冲数据")

	// ErrLackOfRequests 下游需求不足时无法发射数据
	ErrLackOfRequests = errors.New("下游请求不足，无法发射数据")

	// ErrSchedulerRejected 调度器拒绝接受任务
	ErrSchedulerRejected = errors.New("调度器已拒绝任务")

	// ErrNilValue 用户函数返回了nil，违反协议
	ErrNilValue = errors.New("用户函数返回了nil值")

	// ErrIndexOutOfRange 流在到达目标下标前已结束
	ErrIndexOutOfRange = errors.New("流长度不足，下标越界")

	// errDoubleSubscribe 同一订阅者收到第二个订阅句柄
	errDoubleSubscribe = errors.New("重复订阅：OnSubscribe被调用了多次")
)

// ============================================================================
// 进程级丢弃信号汇聚点
// 终止信号之后到达的错误和数据不再向下游重放，统一交给这里
// ============================================================================

var droppedErrorHandler atomic.Value // func(error)
var droppedValueHandler atomic.Value // func(interface{})

func init() {
	droppedErrorHandler.Store(func(err error) {
		log.Printf("rsgo: 信号被丢弃: %v", err)
	})
	droppedValueHandler.Store(func(value interface{}) {
		log.Printf("rsgo: 数据项被丢弃: %v", value)
	})
}

// SetDroppedErrorHandler 设置丢弃错误的处理回调
func SetDroppedErrorHandler(handler func(err error)) {
	if handler == nil {
		return
	}
	droppedErrorHandler.Store(handler)
}

// SetDroppedValueHandler 设置丢弃数据项的处理回调
func SetDroppedValueHandler(handler func(value interface{})) {
	if handler == nil {
		return
	}
	droppedValueHandler.Store(handler)
}

// onErrorDropped 上报被丢弃的错误
func onErrorDropped(err error) {
	droppedErrorHandler.Load().(func(error))(err)
}

// onNextDropped 上报被丢弃的数据项
func onNextDropped(value interface{}) {
	droppedValueHandler.Load().(func(interface{}))(value)
}

// ============================================================================
// 生命周期管理
// ============================================================================

// Disposable 可释放资源的接口
type Disposable interface {
	// Dispose 释放资源，幂等
	Dispose()
	// IsDisposed 检查是否已释放
	IsDisposed() bool
}

// baseDisposable 基础可释放资源实现
type baseDisposable struct {
	disposed int32
	action   func()
}

// NewBaseDisposable 创建基础可释放资源
func NewBaseDisposable(action func()) Disposable {
	return &baseDisposable{action: action}
}

// Dispose 释放资源
func (d *baseDisposable) Dispose() {
	if atomic.CompareAndSwapInt32(&d.disposed, 0, 1) {
		if d.action != nil {
			d.action()
		}
	}
}

// IsDisposed 检查是否已释放
func (d *baseDisposable) IsDisposed() bool {
	return atomic.LoadInt32(&d.disposed) == 1
}

// ============================================================================
// 配置选项
// ============================================================================

// DefaultPrefetch 异步边界操作符的默认预取量
const DefaultPrefetch = 256

// Option 配置选项接口
type Option interface {
	Apply(config *Config)
}

// Config 操作符配置
type Config struct {
	Prefetch       int
	DelayErrors    bool
	QueueSupplier  QueueSupplier
	BufferSupplier BufferSupplier
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		Prefetch:      DefaultPrefetch,
		QueueSupplier: NewSPSCQueue,
		BufferSupplier: func() []interface{} {
			return make([]interface{}, 0)
		},
	}
}

// configure 应用全部选项并返回配置
func configure(options []Option) *Config {
	config := DefaultConfig()
	for _, opt := range options {
		opt.Apply(config)
	}
	return config
}

// prefetchOption 预取量选项
type prefetchOption struct {
	prefetch int
}

// WithPrefetch 设置预取量，必须为正数
func WithPrefetch(prefetch int) Option {
	return &prefetchOption{prefetch: prefetch}
}

// Apply 应用预取量选项
func (o *prefetchOption) Apply(config *Config) {
	if o.prefetch > 0 {
		config.Prefetch = o.prefetch
	}
}

// delayErrorsOption 延迟错误选项
type delayErrorsOption struct {
	delay bool
}

// WithDelayErrors 设置是否延迟错误到全部数据消费完毕
func WithDelayErrors(delay bool) Option {
	return &delayErrorsOption{delay: delay}
}

// Apply 应用延迟错误选项
func (o *delayErrorsOption) Apply(config *Config) {
	config.DelayErrors = o.delay
}

// queueSupplierOption 队列工厂选项
type queueSupplierOption struct {
	supplier QueueSupplier
}

// WithQueueSupplier 设置有界队列工厂
func WithQueueSupplier(supplier QueueSupplier) Option {
	return &queueSupplierOption{supplier: supplier}
}

// Apply 应用队列工厂选项
func (o *queueSupplierOption) Apply(config *Config) {
	if o.supplier != nil {
		config.QueueSupplier = o.supplier
	}
}

// bufferSupplierOption 缓冲区工厂选项
type bufferSupplierOption struct {
	supplier BufferSupplier
}

// WithBufferSupplier 设置缓冲区工厂
func WithBufferSupplier(supplier BufferSupplier) Option {
	return &bufferSupplierOption{supplier: supplier}
}

// Apply 应用缓冲区工厂选项
func (o *bufferSupplierOption) Apply(config *Config) {
	if o.supplier != nil {
		config.BufferSupplier = o.supplier
	}
}
