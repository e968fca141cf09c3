// Post-complete drain tests for rsgo
// 完成后重放状态机测试
package rsgo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func never() bool { return false }

func TestPostCompleteEmptyQueueCompletesImmediately(t *testing.T) {
	ts := newTestSubscriber(0)
	var state int64
	q := newRingQueue(4)

	postComplete(&state, ts, q, never)

	assert.Equal(t, 1, ts.Completions())
	assert.Empty(t, ts.Values())
}

func TestPostCompleteDrainsExistingDemand(t *testing.T) {
	ts := newTestSubscriber(0)
	var state int64
	q := newRingQueue(4)
	q.Offer("a")
	q.Offer("b")

	// 完成前已有的需求在postComplete时就地排水
	postCompleteRequest(&state, 2, ts, q, never)
	postComplete(&state, ts, q, never)

	require.Equal(t, []interface{}{"a", "b"}, ts.Values())
	assert.Equal(t, 1, ts.Completions())
}

func TestPostCompleteThenLateRequestReplays(t *testing.T) {
	ts := newTestSubscriber(0)
	var state int64
	q := newRingQueue(4)
	q.Offer(1)
	q.Offer(2)
	q.Offer(3)

	// 无需求时完成：置完成位，不发任何信号
	postComplete(&state, ts, q, never)
	assert.Empty(t, ts.Values())
	assert.Equal(t, 0, ts.Completions())

	// 迟到的请求驱动重放，且不再向上游传播
	took := postCompleteRequest(&state, 2, ts, q, never)
	assert.True(t, took)
	assert.True(t, assertInts(ts.Values(), []int{1, 2}))
	assert.Equal(t, 0, ts.Completions())

	took = postCompleteRequest(&state, 5, ts, q, never)
	assert.True(t, took)
	assert.True(t, assertInts(ts.Values(), []int{1, 2, 3}))
	assert.Equal(t, 1, ts.Completions())
}

func TestPostCompleteRequestBeforeCompleteReturnsFalse(t *testing.T) {
	ts := newTestSubscriber(0)
	var state int64
	q := newRingQueue(4)

	// 完成位未设置时，request应继续向上游传播
	took := postCompleteRequest(&state, 3, ts, q, never)
	assert.False(t, took)
	assert.Equal(t, int64(3), state)
}

func TestPostCompleteDrainStopsWhenCancelled(t *testing.T) {
	ts := newTestSubscriber(0)
	var state int64
	q := newRingQueue(4)
	q.Offer(1)
	q.Offer(2)

	cancelled := false
	isCancelled := func() bool { return cancelled }

	postComplete(&state, ts, q, isCancelled)
	cancelled = true

	postCompleteRequest(&state, 10, ts, q, isCancelled)
	assert.Empty(t, ts.Values())
	assert.Equal(t, 0, ts.Completions())
}
