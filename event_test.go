package sros_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chucktilbury/sros"
)

// TestEventPing is §8 scenario 3: a producer sends one event to a task
// already parked in WaitEvent, which must resume with the exact
// type/subtype/sender triple.
func TestEventPing(t *testing.T) {
	region := make([]byte, 1<<16)
	k, err := sros.Boot(region, nil, nil)
	require.NoError(t, err)

	var gotType, gotSubtype uint32
	var gotSender *sros.TCB

	receiverEntry := func(k *sros.Kernel, arg any) uint32 {
		typ, sub, sender := k.WaitEvent()
		gotType, gotSubtype, gotSender = typ, sub, sender
		return 0
	}
	receiver, err := k.TaskCreate(receiverEntry, nil, 3172, 4096, 60)
	require.NoError(t, err)

	var senderTCB *sros.TCB
	senderEntry := func(k *sros.Kernel, arg any) uint32 {
		err := k.GenerateEvent(receiver, 7, 42)
		assert.NoError(t, err)
		return 0
	}
	senderTCB, err = k.TaskCreate(senderEntry, nil, 3172, 4096, 60)
	require.NoError(t, err)

	err = runWithTimeout(t, k)
	require.ErrorIs(t, err, sros.ErrNoRunnableTask)

	assert.Equal(t, uint32(7), gotType)
	assert.Equal(t, uint32(42), gotSubtype)
	assert.Same(t, senderTCB, gotSender)
}

// TestBrokerCoalescesBurstOfEvents is §8 scenario 4: a producer enqueues
// three events inside a critical section (so none of generate_event's
// internal yields actually hand off control) before yielding for real; the
// receiver's single wait_event loop must drain all three in issue order.
func TestBrokerCoalescesBurstOfEvents(t *testing.T) {
	region := make([]byte, 1<<16)
	k, err := sros.Boot(region, nil, nil)
	require.NoError(t, err)

	var received []uint32

	receiverEntry := func(k *sros.Kernel, arg any) uint32 {
		for i := 0; i < 3; i++ {
			typ, _, _ := k.WaitEvent()
			received = append(received, typ)
		}
		return 0
	}
	receiver, err := k.TaskCreate(receiverEntry, nil, 3172, 4096, 60)
	require.NoError(t, err)

	senderEntry := func(k *sros.Kernel, arg any) uint32 {
		k.CriticalEnter()
		_ = k.GenerateEvent(receiver, 1, 0)
		_ = k.GenerateEvent(receiver, 2, 0)
		_ = k.GenerateEvent(receiver, 3, 0)
		k.CriticalLeave()
		k.Yield()
		return 0
	}
	_, err = k.TaskCreate(senderEntry, nil, 3172, 4096, 60)
	require.NoError(t, err)

	err = runWithTimeout(t, k)
	require.ErrorIs(t, err, sros.ErrNoRunnableTask)

	assert.Equal(t, []uint32{1, 2, 3}, received)
}

func TestCheckEventIsNonBlockingOnEmptyInbox(t *testing.T) {
	region := make([]byte, 1<<16)
	k, err := sros.Boot(region, nil, nil)
	require.NoError(t, err)

	var sawEmpty, sawSelf bool

	entry := func(k *sros.Kernel, arg any) uint32 {
		typ, _, sender := k.CheckEvent()
		sawEmpty = typ == 0 && sender == nil

		self := k.CurrentTCB()
		require.NoError(t, k.GenerateEvent(self, 9, 0))
		k.Yield() // let the broker route the self-addressed event

		typ2, _, sender2 := k.CheckEvent()
		sawSelf = typ2 == 9 && sender2 == self
		return 0
	}
	_, err = k.TaskCreate(entry, nil, 3172, 4096, 60)
	require.NoError(t, err)

	err = runWithTimeout(t, k)
	require.ErrorIs(t, err, sros.ErrNoRunnableTask)

	assert.True(t, sawEmpty)
	assert.True(t, sawSelf)
}
