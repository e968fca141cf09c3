// Scheduler implementations for rsgo
// 调度器抽象与实现：立即执行、独立goroutine、单工作者、有界池
package rsgo

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/pool"
	"github.com/zoobzio/clockz"
)

// ============================================================================
// 时钟抽象
// 延迟调度统一走时钟接口，测试中可替换为假时钟
// ============================================================================

// Clock 时间操作接口
type Clock = clockz.Clock

// ClockTimer 单次定时器
type ClockTimer = clockz.Timer

// ClockTicker 周期定时器
type ClockTicker = clockz.Ticker

// RealClock 默认真实时钟
var RealClock Clock = clockz.RealClock

// ============================================================================
// 调度器接口
// ============================================================================

// Scheduler 调度器接口，接受工作单元并返回取消句柄
type Scheduler interface {
	// Schedule 调度一个任务；调度器拒绝工作时返回Rejected哨兵，
	// 调用方必须让自己的流以错误终止
	Schedule(task func()) Disposable
	// ScheduleWithDelay 延迟调度一个任务
	ScheduleWithDelay(task func(), delay time.Duration) Disposable
}

// rejectedDisposable 拒绝哨兵的实现
type rejectedDisposable struct{}

func (rejectedDisposable) Dispose()         {}
func (rejectedDisposable) IsDisposed() bool { return true }

// Rejected 调度器拒绝工作时返回的哨兵句柄
var Rejected Disposable = rejectedDisposable{}

// ============================================================================
// 立即调度器
// ============================================================================

// immediateScheduler 在调用者goroutine中立即执行任务
type immediateScheduler struct {
	clock Clock
}

// NewImmediateScheduler 创建立即调度器
func NewImmediateScheduler() Scheduler {
	return &immediateScheduler{clock: RealClock}
}

// Schedule 立即执行任务
func (s *immediateScheduler) Schedule(task func()) Disposable {
	task()
	return NewBaseDisposable(nil)
}

// ScheduleWithDelay 延迟执行任务
func (s *immediateScheduler) ScheduleWithDelay(task func(), delay time.Duration) Disposable {
	timer := s.clock.AfterFunc(delay, task)
	return NewBaseDisposable(func() {
		timer.Stop()
	})
}

// ============================================================================
// goroutine调度器 - 每个任务一个goroutine
// ============================================================================

// GoroutineScheduler 为每个任务启动独立goroutine
type GoroutineScheduler struct {
	wg       conc.WaitGroup
	clock    Clock
	disposed int32
}

// NewGoroutineScheduler 创建goroutine调度器
func NewGoroutineScheduler() *GoroutineScheduler {
	return &GoroutineScheduler{clock: RealClock}
}

// Schedule 在新goroutine中执行任务
func (s *GoroutineScheduler) Schedule(task func()) Disposable {
	if atomic.LoadInt32(&s.disposed) == 1 {
		return Rejected
	}

	var skipped int32
	s.wg.Go(func() {
		if atomic.LoadInt32(&skipped) == 0 {
			task()
		}
	})

	return NewBaseDisposable(func() {
		atomic.StoreInt32(&skipped, 1)
	})
}

// ScheduleWithDelay 延迟在新goroutine中执行任务
func (s *GoroutineScheduler) ScheduleWithDelay(task func(), delay time.Duration) Disposable {
	if atomic.LoadInt32(&s.disposed) == 1 {
		return Rejected
	}

	timer := s.clock.AfterFunc(delay, func() {
		s.Schedule(task)
	})
	return NewBaseDisposable(func() {
		timer.Stop()
	})
}

// Dispose 停止接收新任务并等待已提交任务结束
func (s *GoroutineScheduler) Dispose() {
	if atomic.CompareAndSwapInt32(&s.disposed, 0, 1) {
		s.wg.Wait()
	}
}

// IsDisposed 检查是否已释放
func (s *GoroutineScheduler) IsDisposed() bool {
	return atomic.LoadInt32(&s.disposed) == 1
}

// ============================================================================
// 单工作者调度器
// 一个常驻goroutine顺序消费任务队列，是异步边界操作符的标准宿主
// ============================================================================

// singleWorkerCapacity 单工作者邮箱容量，满载时拒绝任务
const singleWorkerCapacity = 1024

// SingleScheduler 单工作者调度器
type SingleScheduler struct {
	tasks    chan func()
	quit     chan struct{}
	clock    Clock
	disposed int32
	once     sync.Once
}

// NewSingleScheduler 创建单工作者调度器
func NewSingleScheduler() *SingleScheduler {
	return NewSingleSchedulerWithClock(RealClock)
}

// NewSingleSchedulerWithClock 创建使用指定时钟的单工作者调度器
func NewSingleSchedulerWithClock(clock Clock) *SingleScheduler {
	s := &SingleScheduler{
		tasks: make(chan func(), singleWorkerCapacity),
		quit:  make(chan struct{}),
		clock: clock,
	}
	go s.worker()
	return s
}

// Schedule 把任务投递到工作者队列
func (s *SingleScheduler) Schedule(task func()) Disposable {
	if atomic.LoadInt32(&s.disposed) == 1 {
		return Rejected
	}

	var skipped int32
	select {
	case s.tasks <- func() {
		if atomic.LoadInt32(&skipped) == 0 {
			task()
		}
	}:
		return NewBaseDisposable(func() {
			atomic.StoreInt32(&skipped, 1)
		})
	default:
		return Rejected
	}
}

// ScheduleWithDelay 延迟投递任务
func (s *SingleScheduler) ScheduleWithDelay(task func(), delay time.Duration) Disposable {
	if atomic.LoadInt32(&s.disposed) == 1 {
		return Rejected
	}

	timer := s.clock.AfterFunc(delay, func() {
		s.Schedule(task)
	})
	return NewBaseDisposable(func() {
		timer.Stop()
	})
}

// Dispose 停止工作者，幂等
func (s *SingleScheduler) Dispose() {
	if atomic.CompareAndSwapInt32(&s.disposed, 0, 1) {
		s.once.Do(func() {
			close(s.quit)
		})
	}
}

// IsDisposed 检查是否已释放
func (s *SingleScheduler) IsDisposed() bool {
	return atomic.LoadInt32(&s.disposed) == 1
}

// worker 工作者主循环
func (s *SingleScheduler) worker() {
	for {
		select {
		case task := <-s.tasks:
			task()
		case <-s.quit:
			// 排空剩余任务后退出
			for {
				select {
				case task := <-s.tasks:
					task()
				default:
					return
				}
			}
		}
	}
}

// ============================================================================
// 有界池调度器
// 固定上限的goroutine池，满载时对提交方施加准入控制
// ============================================================================

// PoolScheduler 有界池调度器
type PoolScheduler struct {
	pool     *pool.Pool
	clock    Clock
	disposed int32
}

// NewPoolScheduler 创建有界池调度器
func NewPoolScheduler(workers int) *PoolScheduler {
	if workers <= 0 {
		workers = 1
	}
	return &PoolScheduler{
		pool:  pool.New().WithMaxGoroutines(workers),
		clock: RealClock,
	}
}

// Schedule 把任务提交到池中
func (s *PoolScheduler) Schedule(task func()) Disposable {
	if atomic.LoadInt32(&s.disposed) == 1 {
		return Rejected
	}

	var skipped int32
	s.pool.Go(func() {
		if atomic.LoadInt32(&skipped) == 0 {
			task()
		}
	})

	return NewBaseDisposable(func() {
		atomic.StoreInt32(&skipped, 1)
	})
}

// ScheduleWithDelay 延迟提交任务
func (s *PoolScheduler) ScheduleWithDelay(task func(), delay time.Duration) Disposable {
	if atomic.LoadInt32(&s.disposed) == 1 {
		return Rejected
	}

	timer := s.clock.AfterFunc(delay, func() {
		s.Schedule(task)
	})
	return NewBaseDisposable(func() {
		timer.Stop()
	})
}

// Dispose 停止接收新任务并等待池中任务结束
func (s *PoolScheduler) Dispose() {
	if atomic.CompareAndSwapInt32(&s.disposed, 0, 1) {
		s.pool.Wait()
	}
}

// IsDisposed 检查是否已释放
func (s *PoolScheduler) IsDisposed() bool {
	return atomic.LoadInt32(&s.disposed) == 1
}

// ============================================================================
// 串行可替换句柄
// 周期任务每次重新调度时替换上一次的取消句柄
// ============================================================================

// serialDisposable 可替换的取消句柄容器，替换与释放互斥
type serialDisposable struct {
	mu       sync.Mutex
	current  Disposable
	disposed bool
}

// set 安装新句柄；容器已释放时立即释放新句柄
func (d *serialDisposable) set(next Disposable) {
	d.mu.Lock()
	if d.disposed {
		d.mu.Unlock()
		next.Dispose()
		return
	}
	d.current = next
	d.mu.Unlock()
}

// Dispose 释放当前句柄并拒绝后续安装
func (d *serialDisposable) Dispose() {
	d.mu.Lock()
	if d.disposed {
		d.mu.Unlock()
		return
	}
	d.disposed = true
	current := d.current
	d.current = nil
	d.mu.Unlock()

	if current != nil {
		current.Dispose()
	}
}

// IsDisposed 检查是否已释放
func (d *serialDisposable) IsDisposed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.disposed
}
