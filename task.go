package sros

import "sync/atomic"

// TaskEntry is a task's entry function. It receives the Kernel it runs
// under and its single opaque argument, and returns an exit code that the
// trampoline records but otherwise ignores (mirroring the reference
// kernel's task_entry_address, which drops the return value on the floor
// after setting status to Killed).
type TaskEntry func(k *Kernel, arg any) uint32

// tcbChargeBytes is the nominal size a TCB is accounted for against the
// global heap. The TCB itself lives as an ordinary Go-managed struct (see
// DESIGN.md); this charge exists so TaskCreate/reap still exercise the real
// allocator path for kernel-object bookkeeping, not just task stacks.
const tcbChargeBytes = 64

// TCB is a Task Control Block: the per-task record holding scheduling,
// memory, and event state.
type TCB struct {
	Number uint64

	tcbCharge  []byte
	heapRegion []byte
	heap       *Heap
	stack      []byte
	inbox      *eventQueue

	ctx   *Context
	entry TaskEntry
	arg   any

	status      *atomicStatus
	flags       *atomicFlags
	priorityVal atomic.Uint32
	ExitCode    uint32

	next, prev *TCB
}

// Status returns the task's current status.
func (t *TCB) Status() TaskStatus { return t.status.Load() }

// Priority returns the task's current priority.
func (t *TCB) Priority() Priority { return Priority(t.priorityVal.Load()) }

func (t *TCB) setPriority(p Priority) { t.priorityVal.Store(uint32(p)) }

// Heap returns the task's private heap, carved from the global heap at
// TaskCreate time.
func (t *TCB) Heap() *Heap { return t.heap }

// Stack returns the task's stack buffer, sentinel-filled at creation.
func (t *TCB) Stack() []byte { return t.stack }

// taskList is a doubly-linked list of TCBs with tail insertion; the
// scheduler's rotation cursor is tracked separately (Kernel.current), since
// it is a non-owning reference into this list rather than part of it.
type taskList struct {
	head, tail *TCB
}

func (l *taskList) add(t *TCB) {
	t.prev = l.tail
	t.next = nil
	if l.tail != nil {
		l.tail.next = t
	} else {
		l.head = t
	}
	l.tail = t
}

func (l *taskList) remove(t *TCB) {
	if t.prev != nil {
		t.prev.next = t.next
	} else {
		l.head = t.next
	}
	if t.next != nil {
		t.next.prev = t.prev
	} else {
		l.tail = t.prev
	}
	t.next, t.prev = nil, nil
}

// rotateNext returns the task following t in dispatch order, wrapping to
// the head of the list.
func (l *taskList) rotateNext(t *TCB) *TCB {
	if t == nil || t.next == nil {
		return l.head
	}
	return t.next
}

// TaskCreate allocates a TCB, a task-private heap, a stack carved from that
// heap, and an event inbox, then links the new task at the tail of the task
// list. It does not yield. On any allocation failure, every prior
// allocation in this call is unwound and an error is returned.
func (k *Kernel) TaskCreate(entry TaskEntry, arg any, stackBytes, heapBytes uint32, priority Priority) (*TCB, error) {
	if priority < PriorityHighestTask {
		return nil, &RangeError{Field: "Priority", Value: int(priority)}
	}
	return k.taskCreate(entry, arg, stackBytes, heapBytes, priority)
}

// taskCreate is TaskCreate without the "ordinary tasks may not request
// priorities above the broker" range check, so Boot can create the broker
// task itself (which always runs at a priority below PriorityHighestTask).
func (k *Kernel) taskCreate(entry TaskEntry, arg any, stackBytes, heapBytes uint32, priority Priority) (*TCB, error) {
	if entry == nil {
		return nil, WrapError("task_create", ErrNoRunnableTask)
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	tcbCharge, err := k.globalHeap.Alloc(tcbChargeBytes)
	if err != nil {
		return nil, WrapError("task_create: tcb", err)
	}
	heapRegion, err := k.globalHeap.Alloc(heapBytes)
	if err != nil {
		_ = k.globalHeap.Free(tcbCharge)
		return nil, WrapError("task_create: task heap", err)
	}
	taskHeap, err := NewHeap(heapRegion)
	if err != nil {
		_ = k.globalHeap.Free(heapRegion)
		_ = k.globalHeap.Free(tcbCharge)
		return nil, WrapError("task_create: task heap init", err)
	}
	stack, err := taskHeap.Alloc(stackBytes)
	if err != nil {
		_ = k.globalHeap.Free(heapRegion)
		_ = k.globalHeap.Free(tcbCharge)
		return nil, WrapError("task_create: stack", err)
	}
	for i := range stack {
		stack[i] = StackSentinel
	}

	t := &TCB{
		Number:     k.nextTaskNum.Add(1),
		tcbCharge:  tcbCharge,
		heapRegion: heapRegion,
		heap:       taskHeap,
		stack:      stack,
		inbox:      newEventQueue(),
		ctx:        NewContext(),
		entry:      entry,
		arg:        arg,
		status:     newAtomicStatus(StatusRunnable),
		flags:      &atomicFlags{},
	}
	t.priorityVal.Store(uint32(priority))

	k.tasks.add(t)
	go k.taskTrampoline(t)
	return t, nil
}

// taskTrampoline is the shared entry point every task goroutine starts at:
// it parks immediately (mirroring the reference kernel's build_initial_frame
// preparing a context that
// only begins running entry_fn on its first Restore), then on first
// dispatch invokes the task's entry function, records its exit code, marks
// the task Killed, and yields into the scheduler's reap pass.
func (k *Kernel) taskTrampoline(t *TCB) {
	t.ctx.Save()
	rc := t.entry(k, t.arg)
	t.ExitCode = rc
	t.status.Store(StatusKilled)
	k.Yield()
}

const codeYield uint32 = 1

// Yield hands control back to the scheduler unless the kernel-wide critical
// flag is set, in which case it is a no-op. Every mutating system call in
// this package calls Yield internally; CurrentTCB, CriticalEnter,
// CriticalLeave, and TaskCreate do not.
func (k *Kernel) Yield() {
	if k.critical.Load() {
		return
	}
	t := k.CurrentTCB()
	if t == nil {
		return
	}
	k.schedCtx.Restore(codeYield)
	t.ctx.Save()
}

// CurrentTCB returns the running task's TCB. Does not yield.
func (k *Kernel) CurrentTCB() *TCB {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.current
}

// CriticalEnter sets the kernel-wide critical flag, suppressing Yield's
// effect. Nesting is not supported: a second call while already in a
// critical section is a no-op, and a single CriticalLeave clears it. Does
// not yield.
func (k *Kernel) CriticalEnter() { k.critical.Store(true) }

// CriticalLeave clears the kernel-wide critical flag. Does not yield.
func (k *Kernel) CriticalLeave() { k.critical.Store(false) }

// TaskKill sets t's status to Killed (targeting the caller if t is nil) and
// yields. The actual reap — unlinking, freeing the task heap, releasing the
// task's goroutine — happens on the scheduler's next priority scan.
func (k *Kernel) TaskKill(t *TCB) {
	if t == nil {
		t = k.CurrentTCB()
	}
	t.status.Store(StatusKilled)
	k.Yield()
}

// TaskGetStatus returns t's status (the caller's, if t is nil) and yields.
func (k *Kernel) TaskGetStatus(t *TCB) TaskStatus {
	if t == nil {
		t = k.CurrentTCB()
	}
	s := t.status.Load()
	k.Yield()
	return s
}

// TaskSetStatus sets t's status (the caller's, if t is nil) and yields.
func (k *Kernel) TaskSetStatus(t *TCB, s TaskStatus) {
	if t == nil {
		t = k.CurrentTCB()
	}
	t.status.Store(s)
	k.Yield()
}

// TaskGetPriority returns t's priority (the caller's, if t is nil) and
// yields. This trailing yield is preserved from the reference kernel's
// get_sched_priority and applied here uniformly across all four accessor
// operations; see DESIGN.md for the open-question resolution.
func (k *Kernel) TaskGetPriority(t *TCB) Priority {
	if t == nil {
		t = k.CurrentTCB()
	}
	p := t.Priority()
	k.Yield()
	return p
}

// TaskSetPriority sets t's priority (the caller's, if t is nil) and yields.
func (k *Kernel) TaskSetPriority(t *TCB, p Priority) error {
	if p < PriorityHighestTask {
		return &RangeError{Field: "Priority", Value: int(p)}
	}
	if t == nil {
		t = k.CurrentTCB()
	}
	t.setPriority(p)
	k.Yield()
	return nil
}

// reap unlinks a Killed task, advancing the scheduler cursor first if it
// pointed at t, frees the task's heap (transitively releasing its stack),
// the charge of every event still queued in its inbox, and its TCB charge
// back to the global heap, and releases its parked goroutine. Callers must
// hold k.mu.
func (k *Kernel) reap(t *TCB) {
	if k.current == t {
		k.current = k.tasks.rotateNext(t)
	}
	k.tasks.remove(t)
	for e := t.inbox.dequeue(); e != nil; e = t.inbox.dequeue() {
		if err := k.globalHeap.Free(e.charge); err != nil {
			k.logCorruption(err)
		}
	}
	if err := k.globalHeap.Free(t.heapRegion); err != nil {
		k.logCorruption(err)
	}
	if err := k.globalHeap.Free(t.tcbCharge); err != nil {
		k.logCorruption(err)
	}
	t.ctx.Kill()
	k.logReap(t)
}
