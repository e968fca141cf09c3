// Merge tests for rsgo
// 静态扇入测试：值集合完整、单源顺序保持、错误策略
package rsgo

import (
	"errors"
	"sort"
	"testing"
	"time"
)

func TestMergeCollectsAllValues(t *testing.T) {
	values, err := FlowableMerge(
		FlowableRange(1, 3),
		FlowableRange(100, 3),
		FlowableRange(1000, 3),
	).BlockingSlice()

	if err != nil {
		t.Fatalf("不应出错: %v", err)
	}
	if len(values) != 9 {
		t.Fatalf("期望9个值，实际%d个", len(values))
	}

	got := make([]int, len(values))
	for i, v := range values {
		got[i] = v.(int)
	}
	sort.Ints(got)
	expected := []int{1, 2, 3, 100, 101, 102, 1000, 1001, 1002}
	for i := range expected {
		if got[i] != expected[i] {
			t.Fatalf("值集合不匹配: %v", got)
		}
	}
}

func TestMergePreservesPerSourceOrder(t *testing.T) {
	values, err := FlowableMerge(
		FlowableRange(1, 5),
		FlowableRange(100, 5),
	).BlockingSlice()

	if err != nil {
		t.Fatalf("不应出错: %v", err)
	}

	// 各源内部的相对顺序必须保持
	var small, large []int
	for _, v := range values {
		n := v.(int)
		if n < 100 {
			small = append(small, n)
		} else {
			large = append(large, n)
		}
	}
	for i := 1; i < len(small); i++ {
		if small[i] <= small[i-1] {
			t.Errorf("源1内部乱序: %v", small)
		}
	}
	for i := 1; i < len(large); i++ {
		if large[i] <= large[i-1] {
			t.Errorf("源2内部乱序: %v", large)
		}
	}
}

func TestMergeSingleSourcePassThrough(t *testing.T) {
	values, err := FlowableMerge(FlowableRange(1, 4)).BlockingSlice()
	if err != nil {
		t.Fatalf("不应出错: %v", err)
	}
	if !assertInts(values, []int{1, 2, 3, 4}) {
		t.Errorf("单源合并应为恒等: %v", values)
	}
}

func TestMergeEmpty(t *testing.T) {
	ts := newTestSubscriber(RequestMax)
	FlowableMerge().Subscribe(ts)
	if ts.Completions() != 1 {
		t.Error("无源合并应立即完成")
	}
}

func TestMergeErrorShortCircuits(t *testing.T) {
	cause := errors.New("参与源错误")
	ts := newTestSubscriber(RequestMax)
	FlowableMerge(FlowableRange(1, 3), FlowableError(cause)).Subscribe(ts)

	if !ts.AwaitTerminal(time.Second) {
		t.Fatal("期望以错误终止")
	}
	errs := ts.Errors()
	if len(errs) != 1 || !errors.Is(errs[0], cause) {
		t.Errorf("期望参与源错误: %v", errs)
	}
}

func TestMergeDelayErrorDeliversDataFirst(t *testing.T) {
	cause := errors.New("被延迟的源错误")
	ts := newTestSubscriber(RequestMax)
	FlowableMergeDelayError(FlowableError(cause), FlowableRange(1, 3)).Subscribe(ts)

	if !ts.AwaitTerminal(time.Second) {
		t.Fatal("期望以错误终止")
	}
	if !assertInts(ts.Values(), []int{1, 2, 3}) {
		t.Errorf("延迟错误模式应先交付数据: %v", ts.Values())
	}
	errs := ts.Errors()
	if len(errs) != 1 || !errors.Is(errs[0], cause) {
		t.Errorf("期望最终错误: %v", errs)
	}
}
