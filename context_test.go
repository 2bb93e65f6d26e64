package sros_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chucktilbury/sros"
)

func TestContextSaveRestoreRoundTrip(t *testing.T) {
	ctx := sros.NewContext()
	got := make(chan uint32, 1)

	go func() {
		got <- ctx.Save()
	}()

	// give Save a moment to actually park before Restore fires, so this
	// exercises the rendezvous rather than racing it.
	time.Sleep(10 * time.Millisecond)
	ctx.Restore(42)

	select {
	case v := <-got:
		assert.Equal(t, uint32(42), v)
	case <-time.After(time.Second):
		t.Fatal("Save never returned")
	}
}

func TestContextKillReleasesParkedGoroutine(t *testing.T) {
	ctx := sros.NewContext()
	exited := make(chan struct{})

	go func() {
		defer close(exited)
		ctx.Save()
		t.Error("Save must not return after Kill")
	}()

	time.Sleep(10 * time.Millisecond)
	ctx.Kill()

	select {
	case <-exited:
	case <-time.After(time.Second):
		t.Fatal("goroutine parked in Save was never released by Kill")
	}

	// Kill must be idempotent and safe after the goroutine already exited.
	require.NotPanics(t, func() { ctx.Kill() })
}
