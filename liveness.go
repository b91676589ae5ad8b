// Copyright 2026 The ApfMalloc-Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package apfmalloc

// livenessCounter estimates the average number of live objects over a
// window of k timesteps, maintained online from alloc/free observations.
// The four histograms are prefix sums over the logical clock n: at any
// point allocCounts.get(n) is the number of allocations ever seen, and
// each *Sum histogram holds the sum of the times its events occurred.
type livenessCounter struct {
	n int // logical clock, starts at 1
	m int // allocations ever observed

	allocSum    histogram
	allocCounts histogram
	freeSum     histogram
	freeCounts  histogram
}

func newLivenessCounter() *livenessCounter {
	return &livenessCounter{
		n:           1,
		allocSum:    newHistogram(),
		allocCounts: newHistogram(),
		freeSum:     newHistogram(),
		freeCounts:  newHistogram(),
	}
}

func (lc *livenessCounter) alloc() {
	lc.allocSum.add(lc.n, lc.n)
	lc.allocCounts.increment(lc.n)
	lc.m++
}

func (lc *livenessCounter) free() {
	lc.freeSum.add(lc.n, lc.n)
	lc.freeCounts.increment(lc.n)
}

// incTimer advances the clock and carries the accumulated values forward
// so lookups at the new step see the running totals.
func (lc *livenessCounter) incTimer() {
	lc.n++
	lc.allocCounts.add(lc.n, lc.allocCounts.get(lc.n-1))
	lc.allocSum.add(lc.n, lc.allocSum.get(lc.n-1))
	lc.freeCounts.add(lc.n, lc.freeCounts.get(lc.n-1))
	lc.freeSum.add(lc.n, lc.freeSum.get(lc.n-1))
}

// liveness evaluates the average object liveness over windows of size k.
// Callers must guarantee k <= n.
func (lc *livenessCounter) liveness(k int) float64 {
	i := lc.n - k + 1
	tmp1 := (lc.m-lc.freeCounts.get(i))*i + lc.freeSum.get(i)
	tmp2 := lc.allocCounts.get(k)*k + lc.allocSum.get(lc.n) - lc.allocSum.get(k)
	return float64(tmp1-tmp2+lc.m*k) / float64(i)
}
