// Copyright 2026 The ApfMalloc-Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package apfmalloc

// histogram is a sparse running counter keyed by timestep. The liveness
// counter uses it as a prefix sum: on every timer tick the value at the
// previous step is re-added at the new step, so get(n) reflects the
// accumulated count at n. Keys are never removed.
type histogram map[int]int

func newHistogram() histogram { return histogram{} }

func (h histogram) increment(t int) { h[t]++ }

func (h histogram) add(t, v int) { h[t] += v }

func (h histogram) get(t int) int { return h[t] }
