// Retry tests for rsgo
// 重订阅测试：计数重试、退避重试与需求结转
package rsgo

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// flakySource 前failures次订阅失败、之后成功发射values的源
func flakySource(failures int, cause error, values ...interface{}) (Flowable, *int32) {
	var attempts int32
	f := newFlowable(func(subscriber Subscriber) {
		n := atomic.AddInt32(&attempts, 1)
		if int(n) <= failures {
			subscriber.OnSubscribe(emptySubscription{})
			subscriber.OnError(cause)
			return
		}
		FlowableFromSlice(values).Subscribe(subscriber)
	})
	return f, &attempts
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	cause := errors.New("暂时失败")
	source, attempts := flakySource(2, cause, 1, 2, 3)

	values, err := source.Retry(3).BlockingSlice()
	if err != nil {
		t.Fatalf("重试后不应出错: %v", err)
	}
	if !assertInts(values, []int{1, 2, 3}) {
		t.Errorf("期望[1 2 3]，实际: %v", values)
	}
	if atomic.LoadInt32(attempts) != 3 {
		t.Errorf("期望3次订阅，实际%d次", atomic.LoadInt32(attempts))
	}
}

func TestRetryExhaustedSurfacesError(t *testing.T) {
	cause := errors.New("持续失败")
	source, attempts := flakySource(100, cause)

	_, err := source.Retry(2).BlockingSlice()
	if !errors.Is(err, cause) {
		t.Errorf("重试耗尽应返回原错误: %v", err)
	}
	if atomic.LoadInt32(attempts) != 3 {
		t.Errorf("初次订阅加两次重试应为3次，实际%d次", atomic.LoadInt32(attempts))
	}
}

func TestRetryCarriesDemandAcrossAttempts(t *testing.T) {
	cause := errors.New("先发两个再失败")
	var attempts int32
	source := newFlowable(func(subscriber Subscriber) {
		n := atomic.AddInt32(&attempts, 1)
		if n == 1 {
			// 第一轮：发两个值后失败
			newFlowable(func(inner Subscriber) {
				inner.OnSubscribe(emptySubscription{})
				inner.OnNext(1)
				inner.OnNext(2)
				inner.OnError(cause)
			}).Subscribe(subscriber)
			return
		}
		FlowableRange(10, 3).Subscribe(subscriber)
	})

	ts := newTestSubscriber(4)
	source.Retry(1).Subscribe(ts)

	// 第一轮消耗2个需求，第二轮只剩2个可用
	if !assertInts(ts.Values(), []int{1, 2, 10, 11}) {
		t.Errorf("需求结转不正确: %v", ts.Values())
	}
	if ts.Completions() != 0 {
		t.Error("第二轮还有值未发，流不应完成")
	}

	ts.Request(1)
	if !ts.AwaitTerminal(time.Second) {
		t.Fatal("期望流已终止")
	}
	if !assertInts(ts.Values(), []int{1, 2, 10, 11, 12}) {
		t.Errorf("补足需求后应收到第二轮剩余值: %v", ts.Values())
	}
}

func TestRetryWithBackoffResubscribesAfterDelay(t *testing.T) {
	scheduler := NewSingleScheduler()
	defer scheduler.Dispose()

	cause := errors.New("需要退避")
	source, attempts := flakySource(2, cause, 7)

	newPolicy := func() backoff.BackOff {
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = time.Millisecond
		bo.MaxInterval = 5 * time.Millisecond
		return bo
	}

	ts := newTestSubscriber(RequestMax)
	source.RetryWithBackoff(newPolicy, scheduler).Subscribe(ts)

	if !ts.AwaitTerminal(3 * time.Second) {
		t.Fatal("退避重试应最终成功")
	}
	if !assertInts(ts.Values(), []int{7}) {
		t.Errorf("期望[7]，实际: %v", ts.Values())
	}
	if atomic.LoadInt32(attempts) != 3 {
		t.Errorf("期望3次订阅，实际%d次", atomic.LoadInt32(attempts))
	}
}

// stopPolicy 立即要求停止重试的策略
type stopPolicy struct{}

func (stopPolicy) NextBackOff() time.Duration { return backoff.Stop }
func (stopPolicy) Reset()                     {}

func TestRetryWithBackoffStopSurfacesError(t *testing.T) {
	scheduler := NewSingleScheduler()
	defer scheduler.Dispose()

	cause := errors.New("不再重试")
	source, attempts := flakySource(100, cause)

	ts := newTestSubscriber(RequestMax)
	source.RetryWithBackoff(func() backoff.BackOff {
		return stopPolicy{}
	}, scheduler).Subscribe(ts)

	if !ts.AwaitTerminal(time.Second) {
		t.Fatal("期望以错误终止")
	}
	errs := ts.Errors()
	if len(errs) != 1 || !errors.Is(errs[0], cause) {
		t.Errorf("停止策略应浮出原错误: %v", errs)
	}
	if atomic.LoadInt32(attempts) != 1 {
		t.Errorf("停止策略下只应订阅一次，实际%d次", atomic.LoadInt32(attempts))
	}
}
