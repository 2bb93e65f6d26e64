package sros_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chucktilbury/sros"
)

func runWithTimeout(t *testing.T, k *sros.Kernel) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return k.Run(ctx)
}

func TestTaskCreateRejectsOrdinaryPriorityBelowFloor(t *testing.T) {
	region := make([]byte, 1<<16)
	noop := func(k *sros.Kernel, arg any) uint32 { return 0 }

	k, err := sros.Boot(region, nil, nil)
	require.NoError(t, err)
	_, err = k.TaskCreate(noop, nil, 3172, 4096, sros.PriorityBroker)
	require.Error(t, err)
	var rangeErr *sros.RangeError
	require.ErrorAs(t, err, &rangeErr)
}

// TestRoundRobinAlternatesEqualPriorityTasks is §8 scenario 1: two tasks at
// the same priority take turns, strictly alternating.
func TestRoundRobinAlternatesEqualPriorityTasks(t *testing.T) {
	region := make([]byte, 1<<16)
	k, err := sros.Boot(region, nil, nil)
	require.NoError(t, err)

	var mu sync.Mutex
	var order []int
	const iterations = 6

	makeEntry := func(id int) sros.TaskEntry {
		return func(k *sros.Kernel, arg any) uint32 {
			for i := 0; i < iterations; i++ {
				mu.Lock()
				order = append(order, id)
				mu.Unlock()
				k.Yield()
			}
			return 0
		}
	}

	_, err = k.TaskCreate(makeEntry(1), nil, 3172, 4096, 51)
	require.NoError(t, err)
	_, err = k.TaskCreate(makeEntry(2), nil, 3172, 4096, 51)
	require.NoError(t, err)

	err = runWithTimeout(t, k)
	require.ErrorIs(t, err, sros.ErrNoRunnableTask)

	want := make([]int, 0, iterations*2)
	for i := 0; i < iterations; i++ {
		want = append(want, 1, 2)
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, want, order)
}

// TestHigherPriorityTaskStarvesLowerUntilItExits is §8 scenario 2: a task at
// a numerically lower (higher) priority runs to completion before a lower
// priority task is ever dispatched.
func TestHigherPriorityTaskStarvesLowerUntilItExits(t *testing.T) {
	region := make([]byte, 1<<16)
	k, err := sros.Boot(region, nil, nil)
	require.NoError(t, err)

	var mu sync.Mutex
	var order []string

	highEntry := func(k *sros.Kernel, arg any) uint32 {
		for i := 0; i < 3; i++ {
			mu.Lock()
			order = append(order, "high")
			mu.Unlock()
			k.Yield()
		}
		return 0
	}
	lowEntry := func(k *sros.Kernel, arg any) uint32 {
		for i := 0; i < 2; i++ {
			mu.Lock()
			order = append(order, "low")
			mu.Unlock()
			k.Yield()
		}
		return 0
	}

	_, err = k.TaskCreate(highEntry, nil, 3172, 4096, 50)
	require.NoError(t, err)
	_, err = k.TaskCreate(lowEntry, nil, 3172, 4096, 100)
	require.NoError(t, err)

	err = runWithTimeout(t, k)
	require.ErrorIs(t, err, sros.ErrNoRunnableTask)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"high", "high", "high", "low", "low"}, order)
}

// TestKillWhileWaitingNeverResumes is §8 scenario 5: killing a task parked
// in WaitEvent must prevent it from ever resuming, and must not wedge the
// scheduler.
func TestKillWhileWaitingNeverResumes(t *testing.T) {
	region := make([]byte, 1<<16)
	k, err := sros.Boot(region, nil, nil)
	require.NoError(t, err)

	resumed := false

	waiterEntry := func(k *sros.Kernel, arg any) uint32 {
		_, _, _ = k.WaitEvent()
		resumed = true
		return 0
	}
	waiter, err := k.TaskCreate(waiterEntry, nil, 3172, 4096, 60)
	require.NoError(t, err)

	killerEntry := func(k *sros.Kernel, arg any) uint32 {
		k.Yield()
		k.TaskKill(waiter)
		return 0
	}
	_, err = k.TaskCreate(killerEntry, nil, 3172, 4096, 60)
	require.NoError(t, err)

	err = runWithTimeout(t, k)
	require.ErrorIs(t, err, sros.ErrNoRunnableTask)
	assert.False(t, resumed)
}

func TestIdlePolicyBlockWaitsForContextCancellation(t *testing.T) {
	region := make([]byte, 1<<16)
	k, err := sros.Boot(region, nil, nil, sros.WithIdlePolicy(sros.IdlePolicyBlock))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err = k.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
