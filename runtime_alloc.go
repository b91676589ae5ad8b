// Copyright 2026 The ApfMalloc-Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !apfmalloc_noadapter

package apfmalloc

import "unsafe"

// RuntimeAllocator adapts the allocator to the alloc/dealloc shape a
// language runtime expects. Every operation goes through the aligned
// path so alignment information is never lost the way it would be
// through a plain malloc.
//
// Build with the apfmalloc_noadapter tag to drop the adapter entirely,
// or apfmalloc_nodefault to keep the type but omit the package-level
// Runtime instance.
type RuntimeAllocator struct {
	// A is the backing allocator; nil means the package Default.
	A *Allocator
}

func (r RuntimeAllocator) backing() *Allocator {
	if r.A != nil {
		return r.A
	}
	return Default
}

// Alloc returns size bytes aligned to align, or nil on exhaustion.
func (r RuntimeAllocator) Alloc(size, align int) unsafe.Pointer {
	OverrideAlignedAlloc.Store(true)
	a := r.backing()
	a.mu.Lock()
	p, err := a.doAlignedAlloc(align, size)
	a.mu.Unlock()
	if err != nil {
		return nil
	}
	return unsafe.Pointer(p)
}

// AllocZeroed returns size bytes aligned to align with every byte zero.
func (r RuntimeAllocator) AllocZeroed(size, align int) unsafe.Pointer {
	p := r.Alloc(alignVal(size, align), align)
	if p == nil {
		return nil
	}
	b := unsafe.Slice((*byte)(p), size)
	for i := range b {
		b[i] = 0
	}
	return p
}

// Dealloc releases a block obtained from Alloc, AllocZeroed or Realloc.
// The size and align of the original layout are accepted for interface
// parity and not needed to locate the block.
func (r RuntimeAllocator) Dealloc(ptr unsafe.Pointer, size, align int) {
	_, _ = size, align
	OverrideFree.Store(true)
	_ = r.backing().UnsafeFree(ptr)
}

// Realloc resizes ptr from its old layout to newSize bytes, keeping the
// layout's alignment.
func (r RuntimeAllocator) Realloc(ptr unsafe.Pointer, oldSize, align, newSize int) unsafe.Pointer {
	_ = oldSize
	OverrideRealloc.Store(true)
	a := r.backing()
	a.mu.Lock()
	defer a.mu.Unlock()
	size, us := alignVal(newSize, align), a.usableSize(uintptr(ptr))
	if ptr != nil && us == 0 {
		return nil
	}
	if ptr != nil && size != 0 && size <= us {
		return ptr
	}
	q, err := a.doAlignedAlloc(align, size)
	if err != nil {
		return nil
	}
	n := min(us, size)
	copy(unsafe.Slice((*byte)(unsafe.Pointer(q)), n), unsafe.Slice((*byte)(ptr), n))
	_ = a.doFree(uintptr(ptr))
	return unsafe.Pointer(q)
}
