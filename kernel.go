package sros

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Kernel wraps the global mutable state the reference kernel keeps as
// process globals — the global heap, the task list, the scheduler's
// current-task cursor, the critical-section flag, and the task-number
// counter — in a single value, per spec.md's design notes for languages
// that discourage global state. A Kernel is not safe for use by more than
// one concurrently Run-ing goroutine; it is itself the single coarse lock
// spec.md calls for when porting the cooperative model onto real threads.
type Kernel struct {
	mu          sync.Mutex
	globalHeap  *Heap
	tasks       taskList
	current     *TCB
	critical    atomic.Bool
	nextTaskNum atomic.Uint64
	schedCtx    *Context
	broker      *TCB
	log         Logger
	cfg         *kernelConfig
}

// GlobalHeap returns the kernel's single global heap, from which every
// TCB, task heap, and event is allocated.
func (k *Kernel) GlobalHeap() *Heap { return k.globalHeap }

// Broker returns the kernel's broker TCB.
func (k *Kernel) Broker() *TCB { return k.broker }

// Boot brings a kernel up in the reference order: global heap, then the
// event broker task, then (if userMain is non-nil) the user_main task. It
// does not start the scheduler loop; call Run to do that.
func Boot(region []byte, userMain TaskEntry, userArg any, opts ...KernelOption) (*Kernel, error) {
	cfg, err := resolveKernelOptions(opts)
	if err != nil {
		return nil, err
	}
	gh, err := NewHeap(region)
	if err != nil {
		return nil, err
	}

	k := &Kernel{
		globalHeap: gh,
		schedCtx:   NewContext(),
		log:        cfg.logger,
		cfg:        cfg,
	}

	broker, err := k.taskCreate(brokerEntry, nil, cfg.defaultStackBytes, cfg.defaultHeapBytes, cfg.brokerPriority)
	if err != nil {
		return nil, WrapError("boot: broker", err)
	}
	k.broker = broker

	if userMain != nil {
		if _, err := k.TaskCreate(userMain, userArg, cfg.defaultStackBytes, cfg.defaultHeapBytes, cfg.defaultPriority); err != nil {
			return nil, WrapError("boot: user_main", err)
		}
	}

	return k, nil
}

// Run is the scheduler loop: priority scan, reap, select, dispatch,
// repeated until ctx is cancelled or no task is runnable under
// IdlePolicyExit. It blocks the calling goroutine; run it in its own
// goroutine (go k.Run(ctx)) to keep a handle on the Kernel available to the
// host.
func (k *Kernel) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		k.mu.Lock()
		pstar, runnable := k.scanLocked()
		if !runnable {
			k.mu.Unlock()
			k.logIdle()
			if k.cfg.idlePolicy == IdlePolicyExit {
				return ErrNoRunnableTask
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Millisecond):
			}
			continue
		}

		chosen := k.selectLocked(pstar)
		k.current = chosen
		k.mu.Unlock()

		k.logDispatch(chosen)
		chosen.ctx.Restore(1)
		k.schedCtx.Save()
	}
}

// scanLocked traverses the task list once, reaping every Killed task it
// finds (continuing with that task's former successor) and tracking the
// minimum priority among runnable tasks. Callers must hold k.mu.
func (k *Kernel) scanLocked() (pstar Priority, runnable bool) {
	pstar = PriorityNone
	t := k.tasks.head
	for t != nil {
		next := t.next
		switch t.Status() {
		case StatusKilled:
			k.reap(t)
		case StatusRunnable:
			if t.Priority() < pstar {
				pstar = t.Priority()
			}
			runnable = true
		}
		t = next
	}
	return pstar, runnable
}

// selectLocked starts from current.next (wrapping to the head) and advances
// until it finds a runnable task at priority pstar. scanLocked having
// reported runnable guarantees this terminates. Callers must hold k.mu.
func (k *Kernel) selectLocked(pstar Priority) *TCB {
	start := k.tasks.rotateNext(k.current)
	t := start
	for {
		if t.Status() == StatusRunnable && t.Priority() <= pstar {
			return t
		}
		next := k.tasks.rotateNext(t)
		if next == start {
			return start
		}
		t = next
	}
}
