// Copyright 2026 The ApfMalloc-Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build unix

package apfmalloc

import (
	"golang.org/x/sys/unix"
)

func mmap(size int) ([]byte, error) {
	size = roundup(size, osPageSize)
	b, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, err
	}

	if addrOf(b)&uintptr(osPageMask) != 0 {
		panic("internal error")
	}

	return b, nil
}

func unmap(b []byte) error { return unix.Munmap(b) }
