package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var epoch = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

func TestDeterministicClock_Now(t *testing.T) {
	clock := NewDeterministicClock(epoch, time.Second)

	assert.Equal(t, epoch, clock.Now())
	assert.Equal(t, epoch.Add(time.Second), clock.Now())
	assert.Equal(t, epoch.Add(2*time.Second), clock.Now())
	assert.Equal(t, int64(3), clock.Calls())
}

func TestDeterministicClock_DefaultStep(t *testing.T) {
	clock := NewDeterministicClock(epoch, 0)
	clock.Now()
	assert.Equal(t, epoch.Add(time.Millisecond), clock.Now())
}

func TestDeterministicClock_Reset(t *testing.T) {
	clock := NewDeterministicClock(epoch, time.Second)
	clock.Now()
	clock.Now()

	clock.Reset()
	assert.Zero(t, clock.Calls())
	assert.Equal(t, epoch, clock.Now())
}

func TestDeterministicClock_ThreadSafe(t *testing.T) {
	clock := NewDeterministicClock(epoch, time.Millisecond)
	const goroutines, calls = 50, 100

	var wg sync.WaitGroup
	seen := make([][]time.Time, goroutines)
	for i := range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range calls {
				seen[i] = append(seen[i], clock.Now())
			}
		}()
	}
	wg.Wait()

	unique := make(map[time.Time]bool)
	for _, ts := range seen {
		for _, v := range ts {
			assert.False(t, unique[v], "duplicate timestamp %v", v)
			unique[v] = true
		}
	}
	assert.Len(t, unique, goroutines*calls)
}
