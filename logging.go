package sros

import (
	"io"
	"os"
	"strconv"

	"github.com/davecgh/go-spew/spew"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Logger is the structured logger type the kernel accepts. A nil Logger is
// valid everywhere and simply disables logging, matching the kernel's
// general rule that optional collaborators are nil-safe rather than
// defaulted to a no-op implementation.
type Logger = *logiface.Logger[*stumpy.Event]

// NewJSONLogger returns a Logger writing newline-delimited JSON to w, using
// stumpy as the logiface backend. A nil w defaults to os.Stderr.
func NewJSONLogger(w io.Writer) Logger {
	if w == nil {
		w = os.Stderr
	}
	return stumpy.L.New(stumpy.L.WithStumpy(stumpy.WithWriter(w)))
}

func (k *Kernel) logDispatch(t *TCB) {
	if k.log == nil {
		return
	}
	k.log.Debug().
		Uint64("task", t.Number).
		Uint64("priority", uint64(t.Priority())).
		Log("dispatch")
}

func (k *Kernel) logReap(t *TCB) {
	if k.log == nil {
		return
	}
	k.log.Debug().
		Uint64("task", t.Number).
		Log("reap")
}

func (k *Kernel) logCorruption(err error) {
	if k.log == nil {
		return
	}
	k.log.Err().Err(err).Log("heap corruption detected")
}

func (k *Kernel) logIdle() {
	if k.log == nil {
		return
	}
	k.log.Debug().Log("no runnable task")
}

// DumpHeap writes a human-readable chunk-by-chunk dump of h to w, using
// go-spew to format each chunk header. Intended for operator diagnostics, not
// for the hot path.
func DumpHeap(w io.Writer, h *Heap) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	cfg := spew.ConfigState{Indent: "  ", DisableMethods: true}
	off := heapHeaderSize
	for off < len(h.buf) {
		hdr, err := h.readChunkLocked(uint32(off))
		if err != nil {
			return err
		}
		if _, err := io.WriteString(w, "chunk @"+strconv.FormatUint(uint64(off), 10)+" "); err != nil {
			return err
		}
		cfg.Fdump(w, hdr)
		off += int(hdr.Size)
	}
	return nil
}

// DumpTasks writes a human-readable listing of the kernel's task list to w.
func (k *Kernel) DumpTasks(w io.Writer) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	cfg := spew.ConfigState{Indent: "  ", DisableMethods: true}
	for t := k.tasks.head; t != nil; t = t.next {
		cfg.Fdump(w, struct {
			Number   uint64
			Priority Priority
			Status   TaskStatus
		}{t.Number, t.Priority(), t.Status()})
	}
	return nil
}
