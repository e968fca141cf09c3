// Test subscriber helper for rsgo
// 测试用订阅者：记录全部信号，支持手动控制请求节奏
package rsgo

import (
	"sync"
	"time"
)

// testSubscriber 记录型订阅者
type testSubscriber struct {
	mu           sync.Mutex
	subscription Subscription
	values       []interface{}
	errs         []error
	completions  int
	autoRequest  int64
	terminal     chan struct{}
	once         sync.Once
}

// newTestSubscriber 创建测试订阅者；autoRequest非0时在订阅建立后
// 自动请求该数量
func newTestSubscriber(autoRequest int64) *testSubscriber {
	return &testSubscriber{
		autoRequest: autoRequest,
		terminal:    make(chan struct{}),
	}
}

func (ts *testSubscriber) OnSubscribe(s Subscription) {
	ts.mu.Lock()
	ts.subscription = s
	ts.mu.Unlock()

	if ts.autoRequest != 0 {
		s.Request(ts.autoRequest)
	}
}

func (ts *testSubscriber) OnNext(value interface{}) {
	ts.mu.Lock()
	ts.values = append(ts.values, value)
	ts.mu.Unlock()
}

func (ts *testSubscriber) OnError(err error) {
	ts.mu.Lock()
	ts.errs = append(ts.errs, err)
	ts.mu.Unlock()
	ts.once.Do(func() { close(ts.terminal) })
}

func (ts *testSubscriber) OnComplete() {
	ts.mu.Lock()
	ts.completions++
	ts.mu.Unlock()
	ts.once.Do(func() { close(ts.terminal) })
}

// Request 通过持有的句柄请求数据
func (ts *testSubscriber) Request(n int64) {
	ts.mu.Lock()
	s := ts.subscription
	ts.mu.Unlock()
	if s != nil {
		s.Request(n)
	}
}

// Cancel 取消订阅
func (ts *testSubscriber) Cancel() {
	ts.mu.Lock()
	s := ts.subscription
	ts.mu.Unlock()
	if s != nil {
		s.Cancel()
	}
}

// Values 当前已接收数据项的快照
func (ts *testSubscriber) Values() []interface{} {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	snapshot := make([]interface{}, len(ts.values))
	copy(snapshot, ts.values)
	return snapshot
}

// Errors 当前已接收错误的快照
func (ts *testSubscriber) Errors() []error {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	snapshot := make([]error, len(ts.errs))
	copy(snapshot, ts.errs)
	return snapshot
}

// Completions 收到OnComplete的次数
func (ts *testSubscriber) Completions() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.completions
}

// AwaitTerminal 等待终止信号，超时返回false
func (ts *testSubscriber) AwaitTerminal(timeout time.Duration) bool {
	select {
	case <-ts.terminal:
		return true
	case <-time.After(timeout):
		return false
	}
}

// assertInts 把接收的值与期望的整数序列比对
func assertInts(values []interface{}, expected []int) bool {
	if len(values) != len(expected) {
		return false
	}
	for i, v := range values {
		got, ok := v.(int)
		if !ok || got != expected[i] {
			return false
		}
	}
	return true
}
