// Serialization property tests for rsgo
// 串行观察保证：并发生产下下游发射区段永不重叠
package rsgo

import (
	"sync/atomic"
	"testing"
	"time"
)

// contentionDetector 检测下游信号是否被并发进入的订阅者
type contentionDetector struct {
	inSection int32
	overlaps  int32
	count     int32
	sub       Subscription
	terminal  chan struct{}
}

func newContentionDetector() *contentionDetector {
	return &contentionDetector{terminal: make(chan struct{})}
}

func (cd *contentionDetector) enter() {
	if atomic.AddInt32(&cd.inSection, 1) != 1 {
		atomic.AddInt32(&cd.overlaps, 1)
	}
}

func (cd *contentionDetector) leave() {
	atomic.AddInt32(&cd.inSection, -1)
}

func (cd *contentionDetector) OnSubscribe(s Subscription) {
	cd.sub = s
	s.Request(RequestMax)
}

func (cd *contentionDetector) OnNext(value interface{}) {
	cd.enter()
	atomic.AddInt32(&cd.count, 1)
	cd.leave()
}

func (cd *contentionDetector) OnError(err error) {
	cd.enter()
	cd.leave()
	close(cd.terminal)
}

func (cd *contentionDetector) OnComplete() {
	cd.enter()
	cd.leave()
	close(cd.terminal)
}

func TestMergeSerializesConcurrentSources(t *testing.T) {
	s1 := NewSingleScheduler()
	s2 := NewSingleScheduler()
	defer s1.Dispose()
	defer s2.Dispose()

	cd := newContentionDetector()
	FlowableMerge(
		FlowableRange(1, 2000).ObserveOn(s1),
		FlowableRange(10000, 2000).ObserveOn(s2),
	).Subscribe(cd)

	select {
	case <-cd.terminal:
	case <-time.After(10 * time.Second):
		t.Fatal("等待终止超时")
	}

	if atomic.LoadInt32(&cd.overlaps) != 0 {
		t.Errorf("下游发射区段被并发进入%d次", cd.overlaps)
	}
	if atomic.LoadInt32(&cd.count) != 4000 {
		t.Errorf("期望4000个值，实际%d个", cd.count)
	}
}

func TestZipSerializesConcurrentSources(t *testing.T) {
	s1 := NewSingleScheduler()
	s2 := NewSingleScheduler()
	defer s1.Dispose()
	defer s2.Dispose()

	cd := newContentionDetector()
	FlowableZip(func(row []interface{}) interface{} {
		return row[0].(int) + row[1].(int)
	},
		FlowableRange(1, 1000).ObserveOn(s1),
		FlowableRange(1, 1000).ObserveOn(s2),
	).Subscribe(cd)

	select {
	case <-cd.terminal:
	case <-time.After(10 * time.Second):
		t.Fatal("等待终止超时")
	}

	if atomic.LoadInt32(&cd.overlaps) != 0 {
		t.Errorf("下游发射区段被并发进入%d次", cd.overlaps)
	}
	if atomic.LoadInt32(&cd.count) != 1000 {
		t.Errorf("期望1000行，实际%d行", cd.count)
	}
}
