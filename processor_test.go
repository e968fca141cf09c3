// Multicast processor tests for rsgo
// 多播中继测试：扇出、慢下游移除、终止快照与迟到订阅者
package rsgo

import (
	"errors"
	"testing"
)

func TestProcessorFanOutWithSlowSubscriberRemoval(t *testing.T) {
	p := NewMulticastProcessor()

	slow := newTestSubscriber(2)
	fast := newTestSubscriber(RequestMax)
	p.Subscribe(slow)
	p.Subscribe(fast)

	p.OnNext("a")
	p.OnNext("b")
	p.OnNext("c")
	p.OnComplete()

	// 慢下游在第三个值处因请求不足被单独移除并报错
	slowValues := slow.Values()
	if len(slowValues) != 2 || slowValues[0] != "a" || slowValues[1] != "b" {
		t.Errorf("慢下游应只收到[a b]: %v", slowValues)
	}
	slowErrs := slow.Errors()
	if len(slowErrs) != 1 || !errors.Is(slowErrs[0], ErrLackOfRequests) {
		t.Errorf("慢下游应收到请求不足错误: %v", slowErrs)
	}
	if slow.Completions() != 0 {
		t.Error("被移除的下游不应再收到完成信号")
	}

	// 无界需求的下游收到全部值与完成
	fastValues := fast.Values()
	if len(fastValues) != 3 || fastValues[0] != "a" || fastValues[1] != "b" || fastValues[2] != "c" {
		t.Errorf("快下游应收到[a b c]: %v", fastValues)
	}
	if fast.Completions() != 1 {
		t.Error("快下游应收到完成信号")
	}
}

func TestProcessorLateSubscriberGetsStoredTerminal(t *testing.T) {
	p := NewMulticastProcessor()
	p.OnComplete()

	late := newTestSubscriber(RequestMax)
	p.Subscribe(late)
	if late.Completions() != 1 {
		t.Error("终止后的迟到订阅者应立即收到完成信号")
	}

	cause := errors.New("上游错误")
	p2 := NewMulticastProcessor()
	p2.OnError(cause)

	late2 := newTestSubscriber(RequestMax)
	p2.Subscribe(late2)
	errs := late2.Errors()
	if len(errs) != 1 || !errors.Is(errs[0], cause) {
		t.Errorf("迟到订阅者应收到存储的错误: %v", errs)
	}
}

func TestProcessorRequestsUnboundedFromUpstream(t *testing.T) {
	p := NewMulticastProcessor()
	probe := &cancelProbe{}
	p.OnSubscribe(probe)

	if probe.requested != RequestMax {
		t.Errorf("处理器应向上游请求无界需求，实际%d", probe.requested)
	}

	// 终止后到达的第二个上游句柄被取消；原句柄从不被取消
	p.OnComplete()
	second := &cancelProbe{}
	p.OnSubscribe(second)
	if second.cancelled != 1 {
		t.Error("终止后的上游句柄应被取消")
	}
	if probe.cancelled != 0 {
		t.Error("处理器不应取消最初的上游句柄")
	}
}

func TestProcessorSubscriberCancelDetaches(t *testing.T) {
	p := NewMulticastProcessor()
	ts := newTestSubscriber(RequestMax)
	p.Subscribe(ts)

	if !p.HasSubscribers() {
		t.Fatal("应存在挂接的下游")
	}
	ts.Cancel()
	if p.HasSubscribers() {
		t.Error("取消后下游应被移除")
	}

	p.OnNext("x")
	if len(ts.Values()) != 0 {
		t.Errorf("已取消的下游不应再收到值: %v", ts.Values())
	}
}

func TestProcessorDropsSignalsAfterTerminal(t *testing.T) {
	var dropped []error
	SetDroppedErrorHandler(func(err error) {
		dropped = append(dropped, err)
	})
	defer SetDroppedErrorHandler(func(error) {})

	p := NewMulticastProcessor()
	ts := newTestSubscriber(RequestMax)
	p.Subscribe(ts)

	p.OnComplete()
	p.OnError(errors.New("迟到错误"))

	if ts.Completions() != 1 || len(ts.Errors()) != 0 {
		t.Error("终止后的错误不应到达下游")
	}
	if len(dropped) != 1 {
		t.Errorf("迟到错误应进入丢弃汇聚点: %v", dropped)
	}
}

func TestProcessorNilValueIsProtocolViolation(t *testing.T) {
	p := NewMulticastProcessor()
	ts := newTestSubscriber(RequestMax)
	p.Subscribe(ts)

	p.OnNext(nil)

	errs := ts.Errors()
	if len(errs) != 1 || !errors.Is(errs[0], ErrNilValue) {
		t.Errorf("nil值应触发协议违例: %v", errs)
	}
}
