package executor

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskQueue_FIFO(t *testing.T) {
	q := newTaskQueue()
	var got []int
	for i := 1; i <= 3; i++ {
		require.True(t, q.push(func() error { got = append(got, i); return nil }))
	}
	assert.Equal(t, 3, q.len())

	for range 3 {
		task, ok := q.pop()
		require.True(t, ok)
		require.NoError(t, task())
	}
	assert.Equal(t, []int{1, 2, 3}, got)

	_, ok := q.pop()
	assert.False(t, ok, "pop from empty queue should return false")
}

func TestTaskQueue_SignalCoalesces(t *testing.T) {
	q := newTaskQueue()
	q.push(func() error { return nil })
	q.push(func() error { return nil })

	select {
	case <-q.wait():
	default:
		t.Fatal("expected a pending signal")
	}
	select {
	case <-q.wait():
		t.Fatal("signals should coalesce into one")
	default:
	}
}

func TestTaskQueue_Close(t *testing.T) {
	q := newTaskQueue()
	q.push(func() error { return nil })
	q.close()
	q.close()

	assert.True(t, q.isClosed())
	assert.False(t, q.push(func() error { return nil }), "push after close should fail")

	_, ok := q.pop()
	assert.True(t, ok, "queued tasks survive close")

	select {
	case <-q.wait():
	default:
		t.Fatal("wait should be ready once closed")
	}
}

func TestTaskQueue_ConcurrentPush(t *testing.T) {
	q := newTaskQueue()
	const producers, each = 10, 100

	var wg sync.WaitGroup
	for range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range each {
				q.push(func() error { return nil })
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, producers*each, q.len())
}
