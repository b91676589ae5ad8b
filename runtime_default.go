// Copyright 2026 The ApfMalloc-Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !apfmalloc_noadapter && !apfmalloc_nodefault

package apfmalloc

// Runtime is the self-registered adapter instance over the Default
// allocator.
var Runtime = RuntimeAllocator{}
