// Copyright 2026 The ApfMalloc-Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package apfmalloc

// threadCacheBin is an intrusive LIFO of free blocks for one size class.
// The link to the next free block lives in the first word of each block,
// stored with the low bit set; popBlock strips the mark with a one-byte
// decrement. An empty bin has head 0, and the marked form of 0 stored in
// the last block of a list makes popping the final block restore exactly
// that, so count == 0 always coincides with head == 0.
type threadCacheBin struct {
	head uintptr
	num  uint32
}

// pushBlock prepends a single block.
func (b *threadCacheBin) pushBlock(block uintptr) {
	setNext(block, tagged(b.head))
	b.head = block
	b.num++
}

// pushList installs an already linked list of length blocks. Panics if
// the bin is not empty.
func (b *threadCacheBin) pushList(block uintptr, length uint32) {
	if b.num > 0 {
		panic("apfmalloc: pushing a block list into a non-empty cache bin")
	}
	b.head = block
	b.num = length
}

// popBlock removes and returns the head block. Panics if the bin is
// empty.
func (b *threadCacheBin) popBlock() uintptr {
	if b.num == 0 {
		panic("apfmalloc: popping a block from an empty cache bin")
	}
	ret := b.head
	b.head = nextOf(b.head) - 1
	b.num--
	return ret
}

// popList accounts for length blocks that the caller already walked off
// the list; block is the new head. Panics if the bin holds fewer blocks.
func (b *threadCacheBin) popList(block uintptr, length uint32) {
	if b.num < length {
		panic("apfmalloc: popping more blocks than the cache bin holds")
	}
	b.head = block
	b.num -= length
}

func (b *threadCacheBin) peekBlock() uintptr { return b.head }

func (b *threadCacheBin) blockNum() uint32 { return b.num }
