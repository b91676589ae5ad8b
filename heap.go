// Copyright 2026 The ApfMalloc-Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package apfmalloc

import (
	"github.com/cznic/mathutil"
	"github.com/pkg/errors"
)

// descriptor records one mapping obtained from the OS: either a
// superblock carved into size-class blocks or a single large allocation.
type descriptor struct {
	mem      []byte
	base     uintptr
	classIdx int     // 0 for large allocations
	userPtr  uintptr // large: the (possibly aligned) pointer handed out
	userSize int     // large: requested size
	freed    bool
}

// centralBin is the central reserve's free list for one size class,
// linked through the blocks with the same low-bit-marked convention the
// cache bins use, so lists move between the two without relinking.
type centralBin struct {
	head uintptr
	num  int
}

const (
	blocksPerSuperblock = 32

	// A cache bin is drained back to half once it grows past this while
	// no demand estimate is available.
	flushThreshold = 2 * targetApf
)

func (a *Allocator) ensureInit() {
	if a.regs == nil {
		a.regs = map[*descriptor]struct{}{}
		a.bootstrap = true
	}
}

// newSuperblock maps a fresh superblock for class c, registers it in the
// page range mapping and threads its blocks onto the central free list.
func (a *Allocator) newSuperblock(c int) error {
	size := classSizes[c]
	sbSize := roundup(size*blocksPerSuperblock, osPageSize)
	mem, err := mmap(sbSize)
	if err != nil {
		return errors.Wrap(err, "superblock mmap")
	}
	a.mmaps++
	a.bytes += len(mem)
	if a.bootstrap {
		a.bootstrapBytes += len(mem)
	} else {
		a.cacheBytes += len(mem)
	}

	desc := &descriptor{mem: mem, base: addrOf(mem), classIdx: c}
	a.regs[desc] = struct{}{}
	a.pagemap.updatePageMap(sbSize, desc.base, desc, c)

	cb := &a.central[c]
	for i := sbSize/size - 1; i >= 0; i-- {
		block := desc.base + uintptr(i*size)
		setNext(block, tagged(cb.head))
		cb.head = block
		cb.num++
	}
	return nil
}

// fill moves n blocks from the central reserve into the cache bin for
// class c, mapping new superblocks as needed.
func (a *Allocator) fill(c, n int) error {
	if n < 1 {
		n = 1
	}
	cb := &a.central[c]
	for cb.num < n {
		if err := a.newSuperblock(c); err != nil {
			return err
		}
	}

	bin := &a.bins[c]
	if bin.blockNum() > 0 {
		for i := 0; i < n; i++ {
			p := cb.head
			cb.head = untagged(nextOf(p))
			cb.num--
			bin.pushBlock(p)
		}
		return nil
	}

	// Empty bin: cut a ready-linked chain off the central list and hand
	// it over wholesale.
	head := cb.head
	tail := head
	for i := 1; i < n; i++ {
		tail = untagged(nextOf(tail))
	}
	cb.head = untagged(nextOf(tail))
	cb.num -= n
	setNext(tail, tagged(0))
	bin.pushList(head, uint32(n))
	return nil
}

// drain walks n blocks off the cache bin for class c and splices them
// onto the central free list.
func (a *Allocator) drain(c int, n uint32) {
	bin := &a.bins[c]
	if n > bin.blockNum() {
		n = bin.blockNum()
	}
	if n == 0 {
		return
	}
	head := bin.peekBlock()
	tail := head
	for i := uint32(1); i < n; i++ {
		tail = untagged(nextOf(tail))
	}
	bin.popList(untagged(nextOf(tail)), n)

	cb := &a.central[c]
	setNext(tail, tagged(cb.head))
	cb.head = head
	cb.num += int(n)
}

// check, get and ret give the per-class tuners their view of the cache
// bins. The allocator mutex is already held when a tuner runs.
func (a *Allocator) check(id int) uint32 { return a.bins[id].blockNum() }

func (a *Allocator) get(id, count int) bool { return a.fill(id, count) == nil }

func (a *Allocator) ret(id int, count uint32) bool {
	a.drain(id, count)
	return true
}

// mallocLarge serves an allocation too big for any size class, or one
// whose alignment no class can honor, from a dedicated mapping.
func (a *Allocator) mallocLarge(size, align int) (uintptr, error) {
	if size == 0 {
		size = 1
	}
	mapSize := roundup(size, osPageSize)
	if align > osPageSize {
		mapSize = roundup(size+align-1, osPageSize)
	}
	mem, err := mmap(mapSize)
	if err != nil {
		return 0, errors.Wrap(err, "large alloc mmap")
	}
	a.mmaps++
	a.bytes += len(mem)

	base := addrOf(mem)
	user := base
	if align > minAlign {
		user = (base + uintptr(align) - 1) &^ uintptr(align-1)
	}
	desc := &descriptor{mem: mem, base: base, userPtr: user, userSize: size}
	a.regs[desc] = struct{}{}
	a.pagemap.updatePageMap(0, user, desc, 0)
	a.allocs++
	return user, nil
}

func (a *Allocator) freeLarge(desc *descriptor) error {
	if desc.freed {
		return errors.Errorf("double free of large allocation %#x", desc.userPtr)
	}
	desc.freed = true
	a.pagemap.clearRange(desc.userPtr, desc.userPtr)
	delete(a.regs, desc)
	a.mmaps--
	a.bytes -= len(desc.mem)
	a.allocs--
	return unmap(desc.mem)
}

// pow2ClassFor picks the smallest power-of-two size class that is at
// least want bytes, or 0 when no class qualifies.
func pow2ClassFor(want int) int {
	if want < minAlign {
		want = minAlign
	}
	psz := 1 << uint(mathutil.BitLen(want-1))
	if psz > 8192 {
		return 0
	}
	return classForSize(psz)
}
