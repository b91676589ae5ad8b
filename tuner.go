// Copyright 2026 The ApfMalloc-Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package apfmalloc

import "math"

// binSource is the tuner's view of the cache bin it drives: how many free
// blocks the bin holds, pulling blocks into it from the central reserve,
// and returning blocks from it.
type binSource interface {
	check(id int) uint32
	get(id, count int) bool
	ret(id int, count uint32) bool
}

// apfTuner adjusts how many blocks one size class keeps cached, driving
// the bin toward targetApf allocations between refills. One tuner exists
// per size class; it consumes every malloc and free event of its class.
type apfTuner struct {
	id         int
	lCounter   *livenessCounter
	rCounter   *reuseCounter
	time       int
	fetchCount int
	allocClock bool
	src        binSource

	// (time, dapf) pairs captured at each fetch, for offline analysis.
	record [][2]int
	keep   bool
}

func newApfTuner(id int, src binSource, keepRecord bool) *apfTuner {
	return &apfTuner{
		id:         id,
		lCounter:   newLivenessCounter(),
		rCounter:   newReuseCounter(reuseBurstLength, reuseHibernationPeriod),
		allocClock: useAllocationClock,
		src:        src,
		keep:       keepRecord,
	}
}

func (t *apfTuner) setID(id int) { t.id = id }

// malloc processes an allocation event. It reports false when the bin ran
// dry but no demand estimate exists yet (no completed burst), in which
// case nothing was fetched.
func (t *apfTuner) malloc(ptr uintptr) bool {
	t.time++

	if !t.allocClock {
		t.lCounter.incTimer()
		t.lCounter.alloc()
	}

	t.rCounter.alloc(ptr)
	t.rCounter.incTimer()

	// Out of free blocks: prefetch enough to cover the next window.
	if t.src.check(t.id) == 0 {
		dapf := t.calculateDapf()
		d, ok := t.demand(dapf)
		if !ok {
			return false
		}
		if t.keep {
			t.record = append(t.record, [2]int{t.time, dapf})
		}
		t.src.get(t.id, int(math.Ceil(d)))
		t.fetchCount++
	}
	return true
}

// free processes a free event, returning surplus blocks to the central
// reserve once the bin holds more than twice the estimated demand. It
// reports false while no demand estimate is available.
func (t *apfTuner) free(ptr uintptr) bool {
	t.rCounter.free(ptr)
	if !t.allocClock {
		t.rCounter.incTimer()
		t.time++
		t.lCounter.incTimer()
		t.lCounter.free()
	}

	d, ok := t.demand(t.calculateDapf())
	if !ok || d < 0 {
		return false
	}

	if float64(t.src.check(t.id)) >= 2*d+1 {
		t.src.ret(t.id, uint32(math.Ceil(d))+1)
	}
	return true
}

// calculateDapf yields the distance-to-target window: how many further
// allocations the current fetch should cover. Always in [0, targetApf].
func (t *apfTuner) calculateDapf() int {
	threshold := targetApf * (t.fetchCount + 1)
	if t.time >= threshold {
		return targetApf
	}
	return min(threshold-t.time, targetApf)
}

// demand estimates the number of fresh allocations over the next k events.
// It reports false until the reuse counter has completed a burst, or when
// k exceeds the events seen so far.
func (t *apfTuner) demand(k int) (float64, bool) {
	if k > t.time {
		return 0, false
	}
	r, ok := t.rCounter.reuseAt(k)
	if !ok {
		return 0, false
	}
	if t.allocClock {
		return float64(k) - r, true
	}
	return t.lCounter.liveness(k) - t.lCounter.liveness(0) - r, true
}
