// ObserveOn tests for rsgo
// 异步边界操作符测试：顺序保证、背压、错误策略与取消
package rsgo

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// pacedSubscriber 每收满一批就再请求一批的订阅者
type pacedSubscriber struct {
	mu        sync.Mutex
	sub       Subscription
	values    []interface{}
	batch     int64
	inBatch   int64
	completed bool
	errs      []error
	terminal  chan struct{}
	once      sync.Once
}

func newPacedSubscriber(batch int64) *pacedSubscriber {
	return &pacedSubscriber{
		batch:    batch,
		terminal: make(chan struct{}),
	}
}

func (ps *pacedSubscriber) OnSubscribe(s Subscription) {
	ps.sub = s
	s.Request(ps.batch)
}

func (ps *pacedSubscriber) OnNext(value interface{}) {
	ps.mu.Lock()
	ps.values = append(ps.values, value)
	ps.inBatch++
	request := ps.inBatch == ps.batch
	if request {
		ps.inBatch = 0
	}
	ps.mu.Unlock()

	if request {
		ps.sub.Request(ps.batch)
	}
}

func (ps *pacedSubscriber) OnError(err error) {
	ps.mu.Lock()
	ps.errs = append(ps.errs, err)
	ps.mu.Unlock()
	ps.once.Do(func() { close(ps.terminal) })
}

func (ps *pacedSubscriber) OnComplete() {
	ps.mu.Lock()
	ps.completed = true
	ps.mu.Unlock()
	ps.once.Do(func() { close(ps.terminal) })
}

func (ps *pacedSubscriber) Values() []interface{} {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	snapshot := make([]interface{}, len(ps.values))
	copy(snapshot, ps.values)
	return snapshot
}

func TestObserveOnDeliversAllInOrder(t *testing.T) {
	// 1000个值、预取32、每次请求10：下游应按序收到每个值恰好一次
	scheduler := NewSingleScheduler()
	defer scheduler.Dispose()

	ps := newPacedSubscriber(10)
	FlowableRange(1, 1000).ObserveOn(scheduler, WithPrefetch(32)).Subscribe(ps)

	select {
	case <-ps.terminal:
	case <-time.After(5 * time.Second):
		t.Fatal("等待终止超时")
	}

	values := ps.Values()
	if len(values) != 1000 {
		t.Fatalf("期望1000个值，实际%d个", len(values))
	}
	for i, v := range values {
		if v.(int) != i+1 {
			t.Fatalf("下标%d处乱序: %v", i, v)
		}
	}
	if !ps.completed {
		t.Error("期望完成信号")
	}
}

func TestObserveOnUnboundedDemand(t *testing.T) {
	scheduler := NewSingleScheduler()
	defer scheduler.Dispose()

	ts := newTestSubscriber(RequestMax)
	FlowableRange(1, 500).ObserveOn(scheduler, WithPrefetch(16)).Subscribe(ts)

	if !ts.AwaitTerminal(5 * time.Second) {
		t.Fatal("等待终止超时")
	}

	expected := make([]int, 500)
	for i := range expected {
		expected[i] = i + 1
	}
	if !assertInts(ts.Values(), expected) {
		t.Errorf("跨边界后序列不正确，收到%d个", len(ts.Values()))
	}
}

func TestObserveOnErrorShortCircuits(t *testing.T) {
	scheduler := NewSingleScheduler()
	defer scheduler.Dispose()

	cause := errors.New("上游错误")
	ts := newTestSubscriber(RequestMax)
	FlowableConcat(FlowableRange(1, 3), FlowableError(cause)).
		ObserveOn(scheduler).
		Subscribe(ts)

	if !ts.AwaitTerminal(5 * time.Second) {
		t.Fatal("等待终止超时")
	}
	errs := ts.Errors()
	if len(errs) != 1 || !errors.Is(errs[0], cause) {
		t.Errorf("期望上游错误: %v", errs)
	}
}

func TestObserveOnDelayErrorDrainsFirst(t *testing.T) {
	scheduler := NewSingleScheduler()
	defer scheduler.Dispose()

	cause := errors.New("延迟错误")
	ts := newTestSubscriber(RequestMax)
	FlowableConcat(FlowableRange(1, 3), FlowableError(cause)).
		ObserveOn(scheduler, WithDelayErrors(true)).
		Subscribe(ts)

	if !ts.AwaitTerminal(5 * time.Second) {
		t.Fatal("等待终止超时")
	}

	if !assertInts(ts.Values(), []int{1, 2, 3}) {
		t.Errorf("延迟错误模式应先交付全部缓冲数据: %v", ts.Values())
	}
	errs := ts.Errors()
	if len(errs) != 1 || !errors.Is(errs[0], cause) {
		t.Errorf("期望最终收到错误: %v", errs)
	}
}

func TestObserveOnCancelStopsDelivery(t *testing.T) {
	scheduler := NewSingleScheduler()
	defer scheduler.Dispose()

	ts := newTestSubscriber(1)
	FlowableRange(1, 100000).ObserveOn(scheduler).Subscribe(ts)

	time.Sleep(20 * time.Millisecond)
	ts.Cancel()
	time.Sleep(50 * time.Millisecond)

	countAfterCancel := len(ts.Values())
	time.Sleep(50 * time.Millisecond)

	if len(ts.Values()) != countAfterCancel {
		t.Error("取消后不应继续交付")
	}
	if ts.Completions() != 0 {
		t.Error("取消后不应有完成信号")
	}
}

// rejectingScheduler 永远拒绝任务的调度器
type rejectingScheduler struct{}

func (rejectingScheduler) Schedule(task func()) Disposable { return Rejected }
func (rejectingScheduler) ScheduleWithDelay(task func(), delay time.Duration) Disposable {
	return Rejected
}

func TestObserveOnSchedulerRejection(t *testing.T) {
	ts := newTestSubscriber(RequestMax)
	FlowableRange(1, 10).ObserveOn(rejectingScheduler{}).Subscribe(ts)

	if !ts.AwaitTerminal(time.Second) {
		t.Fatal("拒绝调度应以错误终止")
	}
	errs := ts.Errors()
	if len(errs) != 1 || !errors.Is(errs[0], ErrSchedulerRejected) {
		t.Errorf("期望调度器拒绝错误: %v", errs)
	}
}
