// Copyright 2026 The ApfMalloc-Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package apfmalloc

// traceEvent is one allocation or free observed during a sampling burst.
// The slot is opaque, typically the block address; it is matched only by
// equality.
type traceEvent struct {
	slot uintptr
	free bool
}

// burstTrace is the ordered event sequence captured over one sampling
// burst of the reuse counter.
type burstTrace struct {
	events []traceEvent
}

func newBurstTrace() *burstTrace { return &burstTrace{} }

func (t *burstTrace) add(e traceEvent) { t.events = append(t.events, e) }

// allocLength reports the number of allocation events in the trace.
func (t *burstTrace) allocLength() int {
	n := 0
	for _, e := range t.events {
		if !e.free {
			n++
		}
	}
	return n
}

// freeInterval is the window during which a slot sat free: s is the
// number of allocations seen when the slot was freed, e is the index of
// the allocation that reused it. Both count positions in the allocation
// subsequence only.
type freeInterval struct {
	s, e int
}

// freeIntervals extracts, for every slot freed and later re-allocated
// within the burst, the interval between the free and the re-allocation.
// Slots freed but never reused before the burst ended are excluded; a
// slot may recur, each free opening a fresh interval candidate. A free
// with no live allocation to match is ignored.
func (t *burstTrace) freeIntervals() []freeInterval {
	var intervals []freeInterval
	live := make(map[uintptr]int)
	pending := make(map[uintptr]int)
	allocs := 0
	for _, e := range t.events {
		if e.free {
			if live[e.slot] > 0 {
				live[e.slot]--
				pending[e.slot] = allocs
			}
			continue
		}
		if s, ok := pending[e.slot]; ok {
			intervals = append(intervals, freeInterval{s: s, e: allocs})
			delete(pending, e.slot)
		}
		live[e.slot]++
		allocs++
	}
	return intervals
}
