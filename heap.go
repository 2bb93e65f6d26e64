package sros

import (
	"encoding/binary"
	"sync"
	"unsafe"
)

const (
	// HeapMagic marks both the heap region header and every live chunk
	// header within it.
	HeapMagic uint32 = 0xABADFADE
	// HeapMinBytes is the smallest region NewHeap will accept.
	HeapMinBytes = 1024
	// HeapMinSplit is the minimum remainder, beyond the requested size plus
	// one header, that justifies splitting a chunk rather than using it
	// whole.
	HeapMinSplit = 24
	// StackSentinel is the fill byte task stacks are initialized with.
	StackSentinel byte = 0x5A

	// ChunkFree and ChunkUsed are the two legal chunk status values; any
	// other byte found in a status field is corruption.
	ChunkFree byte = 0x01
	ChunkUsed byte = 0x02

	heapHeaderSize  = 8
	chunkHeaderSize = 16
)

// Heap is a singly-threaded first-fit free list with in-band metadata,
// carved out of a single contiguous []byte region supplied by the caller.
// One Heap backs the kernel's global allocations (TCBs' task heaps,
// events); a second Heap, carved as a chunk of the global heap, backs each
// task's own stack and task-local allocations.
type Heap struct {
	mu  sync.Mutex
	buf []byte
}

// chunkHeader is the in-memory view of a chunk's 16-byte on-disk header:
// magic(4) + status(1) + pad(3) + start(4) + size(4).
type chunkHeader struct {
	Magic  uint32
	Status byte
	Start  uint32
	Size   uint32
}

// NewHeap initializes region as a heap: a small header (magic + total size)
// followed by a single FREE chunk spanning the rest of the region.
func NewHeap(region []byte) (*Heap, error) {
	if len(region) < HeapMinBytes {
		return nil, &RangeError{Field: "HeapBytes", Value: len(region), Cause: ErrHeapTooSmall}
	}
	h := &Heap{buf: region}
	binary.LittleEndian.PutUint32(h.buf[0:4], HeapMagic)
	binary.LittleEndian.PutUint32(h.buf[4:8], uint32(len(region)))
	first := chunkHeader{
		Magic:  HeapMagic,
		Status: ChunkFree,
		Start:  heapHeaderSize,
		Size:   uint32(len(region)) - heapHeaderSize,
	}
	h.writeChunkLocked(heapHeaderSize, first)
	return h, nil
}

// Size returns the total size of the underlying region, including its own
// header.
func (h *Heap) Size() uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return binary.LittleEndian.Uint32(h.buf[4:8])
}

func (h *Heap) readChunkLocked(off uint32) (chunkHeader, error) {
	if off < heapHeaderSize || uint64(off)+chunkHeaderSize > uint64(len(h.buf)) {
		return chunkHeader{}, WrapError("chunk header out of bounds", ErrHeapCorrupt)
	}
	b := h.buf[off : off+chunkHeaderSize]
	hdr := chunkHeader{
		Magic:  binary.LittleEndian.Uint32(b[0:4]),
		Status: b[4],
		Start:  binary.LittleEndian.Uint32(b[8:12]),
		Size:   binary.LittleEndian.Uint32(b[12:16]),
	}
	if hdr.Magic != HeapMagic {
		return hdr, WrapError("bad chunk magic", ErrHeapCorrupt)
	}
	if hdr.Start != off {
		return hdr, WrapError("bad chunk start offset", ErrHeapCorrupt)
	}
	if hdr.Size == 0 || (hdr.Status != ChunkFree && hdr.Status != ChunkUsed) {
		return hdr, WrapError("zero size or invalid chunk status", ErrHeapCorrupt)
	}
	return hdr, nil
}

func (h *Heap) writeChunkLocked(off uint32, hdr chunkHeader) {
	b := h.buf[off : off+chunkHeaderSize]
	binary.LittleEndian.PutUint32(b[0:4], hdr.Magic)
	b[4], b[5], b[6], b[7] = hdr.Status, 0, 0, 0
	binary.LittleEndian.PutUint32(b[8:12], hdr.Start)
	binary.LittleEndian.PutUint32(b[12:16], hdr.Size)
}

// offsetOf maps a payload slice, previously returned by Alloc, back to its
// byte offset within buf. It never dereferences p's contents, only its
// address, so it is safe even for a zero-length allocation.
func (h *Heap) offsetOf(p []byte) (uint32, bool) {
	if p == nil || len(h.buf) == 0 {
		return 0, false
	}
	base := uintptr(unsafe.Pointer(unsafe.SliceData(h.buf)))
	ptr := uintptr(unsafe.Pointer(unsafe.SliceData(p)))
	if ptr < base || ptr >= base+uintptr(len(h.buf)) {
		return 0, false
	}
	return uint32(ptr - base), true
}

// Alloc returns a zero-filled payload of at least n bytes, first-fit from
// the lowest offset. If the chosen chunk has more than n+header+HeapMinSplit
// bytes spare, it is split; otherwise it is used whole.
func (h *Heap) Alloc(n uint32) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	need := n + chunkHeaderSize
	off := uint32(heapHeaderSize)
	for off < uint32(len(h.buf)) {
		hdr, err := h.readChunkLocked(off)
		if err != nil {
			return nil, &AllocError{Op: "Alloc", Size: n, Cause: err}
		}
		if hdr.Status == ChunkFree && hdr.Size >= need {
			break
		}
		off += hdr.Size
	}
	if off >= uint32(len(h.buf)) {
		return nil, &AllocError{Op: "Alloc", Size: n, Cause: ErrHeapExhausted}
	}
	hdr, err := h.readChunkLocked(off)
	if err != nil {
		return nil, &AllocError{Op: "Alloc", Size: n, Cause: err}
	}
	if hdr.Size > need+HeapMinSplit {
		tailOff := off + need
		tail := chunkHeader{Magic: HeapMagic, Status: ChunkFree, Start: tailOff, Size: hdr.Size - need}
		h.writeChunkLocked(tailOff, tail)
		hdr.Size = need
	}
	hdr.Status = ChunkUsed
	h.writeChunkLocked(off, hdr)
	payloadOff := off + chunkHeaderSize
	payload := h.buf[payloadOff : payloadOff+n : payloadOff+n]
	clearBytes(payload)
	return payload, nil
}

// Realloc is intentionally unimplemented: the reference kernel's realloc is
// a stub that always fails, and nothing in this kernel's own usage (stack
// and task-heap sizes are fixed at TaskCreate time) ever needs it to grow in
// place. See DESIGN.md for the open-question resolution.
func (h *Heap) Realloc(p []byte, n uint32) ([]byte, error) {
	return nil, ErrReallocUnsupported
}

// Free marks p's chunk FREE, then performs a single forward coalescing pass
// over the whole heap, merging every run of consecutive FREE chunks.
func (h *Heap) Free(p []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	off, ok := h.offsetOf(p)
	if !ok || off < heapHeaderSize+chunkHeaderSize {
		return ErrInvalidPointer
	}
	chunkOff := off - chunkHeaderSize
	hdr, err := h.readChunkLocked(chunkOff)
	if err != nil {
		return &AllocError{Op: "Free", Cause: err}
	}
	hdr.Status = ChunkFree
	h.writeChunkLocked(chunkOff, hdr)
	return h.coalesceLocked()
}

func (h *Heap) coalesceLocked() error {
	off := uint32(heapHeaderSize)
	for off < uint32(len(h.buf)) {
		hdr, err := h.readChunkLocked(off)
		if err != nil {
			return err
		}
		if hdr.Status == ChunkFree {
			next := off + hdr.Size
			for next < uint32(len(h.buf)) {
				nhdr, err := h.readChunkLocked(next)
				if err != nil {
					return err
				}
				if nhdr.Status != ChunkFree {
					break
				}
				hdr.Size += nhdr.Size
				next += nhdr.Size
			}
			h.writeChunkLocked(off, hdr)
		}
		off += hdr.Size
	}
	return nil
}

// Walk traverses the chunk chain and fails if any header's magic or start
// offset is wrong, any chunk has zero size or an invalid status, or the
// chunk sizes fail to sum to the length of the heap's region (I-H1).
func (h *Heap) Walk() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.walkLocked()
}

func (h *Heap) walkLocked() error {
	total := uint32(heapHeaderSize)
	off := uint32(heapHeaderSize)
	for off < uint32(len(h.buf)) {
		hdr, err := h.readChunkLocked(off)
		if err != nil {
			return err
		}
		total += hdr.Size
		off += hdr.Size
	}
	if total != uint32(len(h.buf)) {
		return WrapError("chunk sizes do not sum to heap size", ErrHeapCorrupt)
	}
	return nil
}

// Verify checks the header immediately preceding p.
func (h *Heap) Verify(p []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	off, ok := h.offsetOf(p)
	if !ok || off < heapHeaderSize+chunkHeaderSize {
		return ErrInvalidPointer
	}
	_, err := h.readChunkLocked(off - chunkHeaderSize)
	return err
}
