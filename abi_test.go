// Copyright 2026 The ApfMalloc-Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package apfmalloc

import (
	"math"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallocFailsOnOverflow(t *testing.T) {
	require.Nil(t, Calloc(math.MaxInt, 2))
	require.Nil(t, Calloc(math.MaxInt/2+1, 4))
}

func TestZeroBytesMallocNoFail(t *testing.T) {
	p := Malloc(0)
	require.NotNil(t, p)
	Free(p)

	q := Malloc(0)
	require.NotNil(t, q)
	Free(q)
}

func TestCallocZeroes(t *testing.T) {
	// Dirty a block first so a recycled one is not zero by accident.
	p := Malloc(64)
	require.NotNil(t, p)
	b := unsafe.Slice((*byte)(p), 64)
	for i := range b {
		b[i] = 0xa5
	}
	Free(p)

	c := Calloc(4, 16)
	require.NotNil(t, c)
	cb := unsafe.Slice((*byte)(c), 64)
	for i, v := range cb {
		require.Zerof(t, v, "byte %d", i)
	}
	Free(c)

	z := Calloc(0, 16)
	assert.NotNil(t, z, "zero count still yields a minimum sized block")
	Free(z)
}

func TestReallocMovesData(t *testing.T) {
	p1 := Malloc(8)
	require.NotNil(t, p1)
	*(*uintptr)(p1) = 0x10

	p2 := Realloc(p1, 32)
	require.NotNil(t, p2)
	assert.NotEqual(t, uintptr(p1), uintptr(p2), "growing out of the size class must move")
	assert.Equal(t, uintptr(0x10), *(*uintptr)(p2))
	Free(p2)
}

func TestReallocWithinClassStays(t *testing.T) {
	p := Malloc(20)
	require.NotNil(t, p)
	q := Realloc(p, 30)
	assert.Equal(t, uintptr(p), uintptr(q), "both sizes round to the 32 byte class")
	Free(q)
}

func TestReallocOnNull(t *testing.T) {
	p := Realloc(nil, 16)
	require.NotNil(t, p)
	Free(p)
}

func TestReallocToZero(t *testing.T) {
	p := Malloc(40)
	require.NotNil(t, p)
	q := Realloc(p, 0)
	require.NotNil(t, q, "realloc to zero yields a minimum sized block")
	Free(q)
}

func TestFreeNullIsNoop(t *testing.T) {
	Free(nil)
}

func TestAlignedAllocChecksConsistency(t *testing.T) {
	require.Nil(t, AlignedAlloc(int(unsafe.Sizeof(uintptr(0)))+1, 8),
		"alignment required to be power of 2")
	require.Nil(t, AlignedAlloc(int(unsafe.Sizeof(uintptr(0))), int(unsafe.Sizeof(uintptr(0)))*3/2),
		"size must be a multiple of alignment")
}

func TestAlignedAllocAlignment(t *testing.T) {
	for align := 16; align <= 4*pageSize; align <<= 1 {
		p := AlignedAlloc(align, 2*align)
		require.NotNilf(t, p, "align %d", align)
		assert.Zerof(t, uintptr(p)%uintptr(align), "align %d", align)
		b := unsafe.Slice((*byte)(p), 2*align)
		b[0], b[len(b)-1] = 1, 2
		Free(p)
	}
}

func TestPosixMemalign(t *testing.T) {
	var out unsafe.Pointer

	rc := PosixMemalign(&out, ptrSize+1, 64)
	require.Equal(t, errEINVAL, rc)
	require.Nil(t, out, "EINVAL must not write through out")

	require.Equal(t, errENOMEM, PosixMemalign(nil, ptrSize, 64))

	require.Zero(t, PosixMemalign(&out, ptrSize, 64))
	require.NotNil(t, out)
	assert.Zero(t, uintptr(out)%minAlign, "alignment is raised to the platform minimum")
	Free(out)

	require.Zero(t, PosixMemalign(&out, 128, 256))
	require.NotNil(t, out)
	assert.Zero(t, uintptr(out)%128)
	Free(out)
}

func TestLargeAllocation(t *testing.T) {
	const size = maxSz + 1
	p := Malloc(size)
	require.NotNil(t, p)
	require.GreaterOrEqual(t, UsableSize(p), size)

	b := unsafe.Slice((*byte)(p), size)
	b[0], b[size-1] = 0x5a, 0xa5
	require.EqualValues(t, 0x5a, b[0])
	require.EqualValues(t, 0xa5, b[size-1])

	q := Realloc(p, 2*size)
	require.NotNil(t, q)
	qb := unsafe.Slice((*byte)(q), 2*size)
	assert.EqualValues(t, 0x5a, qb[0])
	assert.EqualValues(t, 0xa5, qb[size-1])
	Free(q)
}

func TestUsableSizeMatchesClass(t *testing.T) {
	p := Malloc(50)
	require.NotNil(t, p)
	assert.Equal(t, 64, UsableSize(p))
	Free(p)

	assert.Zero(t, UsableSize(nil))
}

func TestCheckOverride(t *testing.T) {
	p := Malloc(8)
	require.NotNil(t, p)
	Free(p)
	require.EqualValues(t, 1, CheckOverride())
}

func TestOverrideFlagsSetPerEntryPoint(t *testing.T) {
	OverrideMalloc.Store(false)
	OverrideCalloc.Store(false)
	OverrideRealloc.Store(false)
	OverrideFree.Store(false)
	OverrideAlignedAlloc.Store(false)

	p := Malloc(8)
	assert.True(t, OverrideMalloc.Load())
	c := Calloc(1, 8)
	assert.True(t, OverrideCalloc.Load())
	p = Realloc(p, 64)
	assert.True(t, OverrideRealloc.Load())
	al := AlignedAlloc(32, 32)
	assert.True(t, OverrideAlignedAlloc.Load())
	Free(p)
	Free(c)
	Free(al)
	assert.True(t, OverrideFree.Load())
}

func TestRuntimeAllocatorAdapter(t *testing.T) {
	p := Runtime.Alloc(24, 8)
	require.NotNil(t, p)
	Runtime.Dealloc(p, 24, 8)

	z := Runtime.AllocZeroed(100, 32)
	require.NotNil(t, z)
	assert.Zero(t, uintptr(z)%32)
	zb := unsafe.Slice((*byte)(z), 100)
	for i, v := range zb {
		require.Zerof(t, v, "byte %d", i)
	}
	zb[0] = 7

	q := Runtime.Realloc(z, 100, 32, 5000)
	require.NotNil(t, q)
	assert.EqualValues(t, 7, *(*byte)(q))
	Runtime.Dealloc(q, 5000, 32)
}
