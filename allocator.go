// Copyright 2026 The ApfMalloc-Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package apfmalloc implements a memory allocator whose per-size-class
// caches are sized online by an allocation-free-period tuner.
//
// Blocks are served from intrusive per-class cache bins backed by a
// central reserve of mmapped superblocks. Every malloc and free event
// feeds the class's tuner, which estimates demand from a liveness and a
// reuse estimator and prefetches or returns blocks so that consecutive
// refills stay a target number of allocations apart.
package apfmalloc

import (
	"fmt"
	"os"
	"sync"
	"unsafe"
)

const trace = false

// Allocator allocates and frees memory. Its zero value is ready for use.
// All methods are safe for concurrent use.
type Allocator struct {
	mu     sync.Mutex
	allocs int // # of live allocs.
	mmaps  int // Asked from OS.
	bytes  int // Asked from OS.

	bins    [numSizeClasses]threadCacheBin
	tuners  [numSizeClasses]*apfTuner
	central [numSizeClasses]centralBin
	pagemap pageRangeMapping
	regs    map[*descriptor]struct{}

	bootstrap      bool
	bootstrapBytes int
	cacheBytes     int
}

func (a *Allocator) tunerFor(c int) *apfTuner {
	if a.tuners[c] == nil {
		a.tuners[c] = newApfTuner(c, a, false)
	}
	return a.tuners[c]
}

// doMalloc serves size bytes from the matching size class, or from a
// dedicated mapping above maxSz. Zero asks for a minimum sized block.
func (a *Allocator) doMalloc(size int) (uintptr, error) {
	if size < 0 {
		panic("invalid malloc size")
	}
	a.ensureInit()
	if size > maxSz {
		return a.mallocLarge(size, 0)
	}
	if size == 0 {
		size = 1
	}
	return a.mallocClass(classForSize(size))
}

func (a *Allocator) mallocClass(c int) (uintptr, error) {
	bin := &a.bins[c]
	if bin.blockNum() == 0 {
		if err := a.fill(c, 1); err != nil {
			return 0, err
		}
	}
	p := bin.popBlock()
	a.tunerFor(c).malloc(p)
	a.allocs++
	a.bootstrap = false
	return p, nil
}

func (a *Allocator) doAlignedAlloc(align, size int) (uintptr, error) {
	if !isPow2(align) {
		return 0, fmt.Errorf("alignment %d is not a power of two", align)
	}
	a.ensureInit()
	if align <= minAlign {
		if size > maxSz {
			return a.mallocLarge(size, 0)
		}
		if size == 0 {
			size = 1
		}
		return a.mallocClass(classForSize(size))
	}
	want := size
	if align > want {
		want = align
	}
	if align <= osPageSize {
		if c := pow2ClassFor(want); c != 0 {
			return a.mallocClass(c)
		}
		return a.mallocLarge(size, 0)
	}
	return a.mallocLarge(size, align)
}

func (a *Allocator) doFree(p uintptr) error {
	if p == 0 {
		return nil
	}
	a.ensureInit()
	info, ok := a.pagemap.getPageInfo(p)
	if !ok {
		return fmt.Errorf("free of unknown pointer %#x", p)
	}
	if info.sizeClassIndex == 0 {
		return a.freeLarge(info.desc)
	}
	c := info.sizeClassIndex
	bin := &a.bins[c]
	bin.pushBlock(p)
	a.allocs--
	if !a.tunerFor(c).free(p) && bin.blockNum() > flushThreshold {
		a.drain(c, bin.blockNum()/2)
	}
	return nil
}

func (a *Allocator) doRealloc(p uintptr, size int) (uintptr, error) {
	if p == 0 {
		return a.doMalloc(size)
	}
	if size == 0 {
		q, err := a.doMalloc(0)
		if err != nil {
			return 0, err
		}
		return q, a.doFree(p)
	}
	us := a.usableSize(p)
	if us == 0 {
		return 0, fmt.Errorf("realloc of unknown pointer %#x", p)
	}
	if size <= us {
		return p, nil
	}
	q, err := a.doMalloc(size)
	if err != nil {
		return 0, err
	}
	copy(unsafe.Slice((*byte)(unsafe.Pointer(q)), us), unsafe.Slice((*byte)(unsafe.Pointer(p)), us))
	return q, a.doFree(p)
}

func (a *Allocator) usableSize(p uintptr) int {
	info, ok := a.pagemap.getPageInfo(p)
	if !ok {
		return 0
	}
	if info.sizeClassIndex == 0 {
		if info.desc == nil || info.desc.freed {
			return 0
		}
		return info.desc.userSize
	}
	return classSizes[info.sizeClassIndex]
}

// UnsafeMalloc allocates size bytes and returns an unsafe.Pointer to the
// uninitialized memory. A zero size yields a minimum sized block.
func (a *Allocator) UnsafeMalloc(size int) (r unsafe.Pointer, err error) {
	if trace {
		defer func() {
			fmt.Fprintf(os.Stderr, "Malloc(%#x) %p, %v\n", size, r, err)
		}()
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	p, err := a.doMalloc(size)
	if err != nil {
		return nil, err
	}
	return unsafe.Pointer(p), nil
}

// UnsafeCalloc is like UnsafeMalloc except the allocated memory is
// zeroed.
func (a *Allocator) UnsafeCalloc(size int) (r unsafe.Pointer, err error) {
	if trace {
		defer func() {
			fmt.Fprintf(os.Stderr, "Calloc(%#x) %p, %v\n", size, r, err)
		}()
	}
	if r, err = a.UnsafeMalloc(size); r == nil || err != nil {
		return nil, err
	}
	b := unsafe.Slice((*byte)(r), size)
	for i := range b {
		b[i] = 0
	}
	return r, nil
}

// UnsafeFree deallocates memory acquired from UnsafeMalloc, UnsafeCalloc
// or UnsafeRealloc. Freeing nil is a no-op.
func (a *Allocator) UnsafeFree(p unsafe.Pointer) (err error) {
	if trace {
		defer func() {
			fmt.Fprintf(os.Stderr, "Free(%#x) %v\n", p, err)
		}()
	}
	if p == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.doFree(uintptr(p))
}

// UnsafeRealloc resizes the block at p, preserving contents up to the
// smaller of the old and new usable sizes. On failure the old block is
// left untouched.
func (a *Allocator) UnsafeRealloc(p unsafe.Pointer, size int) (r unsafe.Pointer, err error) {
	if trace {
		defer func() {
			fmt.Fprintf(os.Stderr, "Realloc(%p, %#x) %p, %v\n", p, size, r, err)
		}()
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	q, err := a.doRealloc(uintptr(p), size)
	if err != nil {
		return nil, err
	}
	return unsafe.Pointer(q), nil
}

// UnsafeUsableSize reports the usable size of the block at p, which can
// exceed the size originally requested.
func (a *Allocator) UnsafeUsableSize(p unsafe.Pointer) int {
	if p == nil {
		return 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ensureInit()
	return a.usableSize(uintptr(p))
}

// Malloc allocates size bytes and returns a byte slice of the allocated
// memory. The memory is not initialized. Malloc panics for size < 0 and
// returns (nil, nil) for zero size.
//
// It's ok to reslice the returned slice but the result of appending to it
// cannot be passed to Free or Realloc as it may refer to a different
// backing array afterwards.
func (a *Allocator) Malloc(size int) (r []byte, err error) {
	if size == 0 {
		return nil, nil
	}
	p, err := a.UnsafeMalloc(size)
	if err != nil {
		return nil, err
	}
	us := a.UnsafeUsableSize(p)
	return unsafe.Slice((*byte)(p), us)[:size], nil
}

// Calloc is like Malloc except the allocated memory is zeroed.
func (a *Allocator) Calloc(size int) (r []byte, err error) {
	b, err := a.Malloc(size)
	if err != nil {
		return nil, err
	}
	for i := range b {
		b[i] = 0
	}
	return b, nil
}

// Free deallocates memory (as in C.free). The argument of Free must have
// been acquired from Calloc or Malloc or Realloc.
func (a *Allocator) Free(b []byte) error {
	b = b[:cap(b)]
	if len(b) == 0 {
		return nil
	}
	return a.UnsafeFree(unsafe.Pointer(&b[0]))
}

// Realloc changes the size of the backing array of b to size bytes. The
// contents are preserved up to the smaller of the old and new sizes. If
// b's backing array is of zero size the call is equivalent to
// Malloc(size); if size is zero and b's backing array is not of zero
// size, the call is equivalent to Free(b).
func (a *Allocator) Realloc(b []byte, size int) (r []byte, err error) {
	switch {
	case cap(b) == 0:
		return a.Malloc(size)
	case size == 0:
		return nil, a.Free(b)
	case size <= cap(b):
		return b[:size], nil
	}
	p, err := a.UnsafeRealloc(unsafe.Pointer(&b[0]), size)
	if err != nil {
		return nil, err
	}
	us := a.UnsafeUsableSize(p)
	return unsafe.Slice((*byte)(p), us)[:size], nil
}

// Flush returns every cached block to the central reserve. Callers that
// retire a worker owning this allocator should flush before dropping it.
func (a *Allocator) Flush() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for c := 1; c < numSizeClasses; c++ {
		a.drain(c, a.bins[c].blockNum())
	}
}

// Close releases all OS resources used by a and sets it to its zero
// value.
//
// It's not necessary to Close the Allocator when exiting a process.
func (a *Allocator) Close() (err error) {
	a.mu.Lock()
	for d := range a.regs {
		if e := unmap(d.mem); e != nil && err == nil {
			err = e
		}
	}
	// The zero value assignment also replaces the held mutex with a
	// fresh unlocked one.
	*a = Allocator{}
	return err
}
