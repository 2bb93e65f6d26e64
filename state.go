package sros

import (
	"strconv"
	"sync/atomic"
)

// TaskStatus mirrors the original kernel's status field: zero is runnable,
// a positive value is a block count (incremented once per WaitEvent spin),
// and Killed is a terminal sentinel distinct from any legitimate block
// count. Unlike the C original (an unsigned char holding 0xFF), Killed is
// modeled as a distinct negative value so it can never collide with a very
// deeply nested block count.
type TaskStatus int32

const (
	StatusRunnable  TaskStatus = 0
	StatusSuspended TaskStatus = 1
	StatusKilled    TaskStatus = -1
)

func (s TaskStatus) String() string {
	switch {
	case s == StatusKilled:
		return "Killed"
	case s == StatusRunnable:
		return "Runnable"
	case s > 0:
		return "Blocked"
	default:
		return "Unknown"
	}
}

// atomicStatus is a lock-free status cell, used because a TCB's status is
// read by the scheduler goroutine and written by both the scheduler and the
// owning task's own goroutine (e.g. WaitEvent incrementing its own block
// count just before yielding).
type atomicStatus struct {
	v atomic.Int32
}

func newAtomicStatus(s TaskStatus) *atomicStatus {
	a := &atomicStatus{}
	a.v.Store(int32(s))
	return a
}

func (a *atomicStatus) Load() TaskStatus { return TaskStatus(a.v.Load()) }

func (a *atomicStatus) Store(s TaskStatus) { a.v.Store(int32(s)) }

func (a *atomicStatus) Add(delta int32) TaskStatus { return TaskStatus(a.v.Add(delta)) }

func (a *atomicStatus) CompareAndSwap(old, newVal TaskStatus) bool {
	return a.v.CompareAndSwap(int32(old), int32(newVal))
}

// Priority inverts the usual convention: lower numeric value runs first.
// 255 is reserved by the priority scan as "no runnable task found".
type Priority uint8

const (
	// PriorityBroker is the literal priority the broker task is created
	// at: strictly above (numerically below) any priority TaskCreate
	// accepts from ordinary callers.
	PriorityBroker Priority = 0
	// PriorityHighestTask is the highest (numerically lowest) priority an
	// ordinary task may request via TaskCreate.
	PriorityHighestTask Priority = 10
	// PriorityUserMain is the reference priority for the embedding host's
	// user_main task.
	PriorityUserMain Priority = 250
	// PriorityNone is the sentinel the priority scan returns when no task
	// in the list is runnable.
	PriorityNone Priority = 255
)

func (p Priority) String() string {
	if p == PriorityNone {
		return "None"
	}
	return "Priority(" + strconv.Itoa(int(p)) + ")"
}

// taskFlags is the small flag word alongside status; WaitingForEvent is the
// only flag bit the kernel defines today.
type taskFlags uint32

const flagWaitingForEvent taskFlags = 0x01

type atomicFlags struct {
	v atomic.Uint32
}

func (a *atomicFlags) set(f taskFlags) {
	for {
		old := a.v.Load()
		if old&uint32(f) != 0 {
			return
		}
		if a.v.CompareAndSwap(old, old|uint32(f)) {
			return
		}
	}
}

func (a *atomicFlags) clear(f taskFlags) {
	for {
		old := a.v.Load()
		if old&uint32(f) == 0 {
			return
		}
		if a.v.CompareAndSwap(old, old&^uint32(f)) {
			return
		}
	}
}

func (a *atomicFlags) has(f taskFlags) bool {
	return a.v.Load()&uint32(f) != 0
}
