// Copyright 2026 The ApfMalloc-Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package apfmalloc

import (
	"math/bits"
	"sync/atomic"
	"syscall"
	"unsafe"
)

// Default is the process-wide allocator behind the package-level entry
// points.
var Default = &Allocator{}

// Override flags record that the corresponding entry point has been
// reached at least once. They exist for test harnesses that verify the
// library is actually the one serving allocations.
var (
	OverrideMalloc       atomic.Bool
	OverrideCalloc       atomic.Bool
	OverrideRealloc      atomic.Bool
	OverrideFree         atomic.Bool
	OverrideAlignedAlloc atomic.Bool
)

var (
	errEINVAL = int(syscall.EINVAL)
	errENOMEM = int(syscall.ENOMEM)
)

// Malloc allocates size bytes of uninitialized storage. A zero size
// yields a pointer to a minimum sized block. Returns nil only when the
// OS refuses more memory.
func Malloc(size int) unsafe.Pointer {
	OverrideMalloc.Store(true)
	p, err := Default.UnsafeMalloc(size)
	if err != nil {
		return nil
	}
	return p
}

// Calloc allocates zeroed storage for an array of num objects of size
// bytes each. Returns nil when num*size overflows or on exhaustion.
func Calloc(num, size int) unsafe.Pointer {
	OverrideCalloc.Store(true)
	hi, total := bits.Mul64(uint64(num), uint64(size))
	if hi != 0 || total > uint64(^uintptr(0)>>1) {
		return nil
	}
	p, err := Default.UnsafeCalloc(int(total))
	if err != nil {
		return nil
	}
	return p
}

// Realloc resizes the block at ptr to size bytes, preserving contents up
// to the smaller of the old and new sizes. A nil ptr behaves like
// Malloc(size); a zero size yields a minimum sized block and releases the
// old one. On failure the old block is untouched and nil is returned.
func Realloc(ptr unsafe.Pointer, size int) unsafe.Pointer {
	OverrideRealloc.Store(true)
	p, err := Default.UnsafeRealloc(ptr, size)
	if err != nil {
		return nil
	}
	return p
}

// Free deallocates the block at ptr. Freeing nil is a no-op. The
// behavior is undefined unless ptr came from Malloc, Calloc, Realloc,
// AlignedAlloc or PosixMemalign and has not been freed since.
func Free(ptr unsafe.Pointer) {
	OverrideFree.Store(true)
	_ = Default.UnsafeFree(ptr)
}

// AlignedAlloc behaves like Malloc but the returned pointer is aligned
// to align bytes. Returns nil when size is not a multiple of align.
func AlignedAlloc(align, size int) unsafe.Pointer {
	OverrideAlignedAlloc.Store(true)
	if align == 0 || size%align != 0 {
		return nil
	}
	Default.mu.Lock()
	p, err := Default.doAlignedAlloc(align, size)
	Default.mu.Unlock()
	if err != nil {
		return nil
	}
	return unsafe.Pointer(p)
}

// PosixMemalign places a size-byte block aligned to align bytes in *out.
// It returns EINVAL when align is not a multiple of the pointer size and
// ENOMEM when out is nil; otherwise the result of the allocation is
// written through out and 0 is returned. Alignment is raised to the
// platform minimum before delegating.
func PosixMemalign(out *unsafe.Pointer, align, size int) int {
	OverrideAlignedAlloc.Store(true)
	if align%ptrSize != 0 {
		return errEINVAL
	}
	if out == nil {
		return errENOMEM
	}
	if align < minAlign {
		align = minAlign
	}
	*out = AlignedAlloc(align, size)
	return 0
}

// CheckOverride exercises every entry point and reports 1 iff all five
// override flags were observed set, 0 otherwise.
func CheckOverride() uint8 {
	p := Malloc(8)
	if !OverrideMalloc.Load() {
		return 0
	}
	np := Realloc(p, 64)
	if !OverrideRealloc.Load() {
		return 0
	}
	c := Calloc(8, 8)
	if !OverrideCalloc.Load() {
		return 0
	}
	al := AlignedAlloc(16, 64)
	if !OverrideAlignedAlloc.Load() {
		return 0
	}
	Free(np)
	Free(c)
	Free(al)
	if !OverrideFree.Load() {
		return 0
	}
	return 1
}

// UsableSize reports the usable size of the block at p allocated from
// the Default allocator.
func UsableSize(p unsafe.Pointer) int { return Default.UnsafeUsableSize(p) }
