// Package sros implements the core of a small cooperative multitasking
// kernel: a priority-based task scheduler with explicit context switching, a
// first-fit heap allocator carving task memory and kernel objects from
// contiguous byte regions, and an event delivery subsystem built on top of
// both, routed through a dedicated broker task.
//
// # Architecture
//
// A Kernel owns one global Heap and a task list; its scheduler loop runs on
// whichever goroutine calls Run.
// Tasks are themselves goroutines, parked on a Context's resume channel
// whenever they are not the single logically-running task; Yield and every
// mutating system call hand control back to the scheduler by blocking on
// that channel until the scheduler chooses to restore them.
//
// There is no preemption, no SMP, and no memory protection between tasks:
// this is a cooperative, single-execution-context design, ported from a
// freestanding embedded kernel rather than invented as a general-purpose Go
// scheduler.
package sros
