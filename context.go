package sros

import (
	"runtime"
	"sync"
)

// Context is the Go-native stand-in for the reference kernel's opaque
// CPU-register snapshot and its setjmp/longjmp-shaped save/restore pair.
//
// A C context can "return twice" from a single save call because the whole
// process shares one physical stack that save/restore slide underneath. Go
// goroutines each keep an independent, real stack, so the same observable
// contract — one logical transfer of control per save/restore pair — falls
// out of a plain unbuffered-channel rendezvous: Save blocks the goroutine
// that owns this Context until some other goroutine calls Restore (or
// Kill), and Restore/Kill are only ever called by whichever goroutine is
// currently "holding the CPU".
type Context struct {
	resume chan uint32
	done   chan struct{}
	once   sync.Once
}

// NewContext returns a Context with no pending resume; the owning goroutine
// must call Save to park on it.
func NewContext() *Context {
	return &Context{
		resume: make(chan uint32),
		done:   make(chan struct{}),
	}
}

// Save parks the calling goroutine until a matching Restore or Kill. It
// returns the code passed to Restore, or never returns (the goroutine exits
// via runtime.Goexit, unwinding deferred cleanup as it goes) if Kill fires
// first.
func (c *Context) Save() uint32 {
	select {
	case v := <-c.resume:
		return v
	case <-c.done:
		runtime.Goexit()
		panic("sros: unreachable")
	}
}

// Restore transfers control to the goroutine parked in Save, with the given
// resume code. It must only be called by the single goroutine currently
// running (the cooperative scheduling invariant the whole kernel rests on).
func (c *Context) Restore(code uint32) {
	c.resume <- code
}

// Kill releases a goroutine currently or eventually blocked in Save without
// a Restore ever arriving, so a killed-and-reaped task's goroutine does not
// leak forever. Idempotent and safe to call even if the goroutine has
// already exited on its own.
func (c *Context) Kill() {
	c.once.Do(func() { close(c.done) })
}
