package mir

import "sort"

// Segment is a closed range of program slots [Start, End] during which a
// Register is live. Slots are assigned by Function.NextSlot and are
// monotonic within a function but not contiguous per block.
type Segment struct {
	Start int
	End   int
}

// LiveInterval is the existing codegen metadata spec.md §3 says this
// pipeline extends: a register's live range as a set of segments, plus
// the pseudo-segments PERSISTENT_DEF/EXTEND insertion adds.
type LiveInterval struct {
	Reg      *Register
	Segments []Segment
}

// Extend grows the interval to cover [start, end], merging with any
// existing segment that overlaps or touches it. Mirrors the "extend the
// live interval of Rg to cover the closed range" language of spec.md §4.6.
func (li *LiveInterval) Extend(start, end int) {
	if start > end {
		start, end = end, start
	}
	merged := false
	for i := range li.Segments {
		s := &li.Segments[i]
		if start <= s.End+1 && end >= s.Start-1 {
			if start < s.Start {
				s.Start = start
			}
			if end > s.End {
				s.End = end
			}
			merged = true
			break
		}
	}
	if !merged {
		li.Segments = append(li.Segments, Segment{Start: start, End: end})
	}
	li.normalize()
}

// Covers reports whether [start, end] lies entirely within one segment of
// the interval (used by the coverage invariant, spec.md §8 property 8).
func (li *LiveInterval) Covers(start, end int) bool {
	if start > end {
		start, end = end, start
	}
	for _, s := range li.Segments {
		if s.Start <= start && end <= s.End {
			return true
		}
	}
	return false
}

// normalize sorts and coalesces overlapping/adjacent segments.
func (li *LiveInterval) normalize() {
	if len(li.Segments) < 2 {
		return
	}
	sort.Slice(li.Segments, func(i, j int) bool { return li.Segments[i].Start < li.Segments[j].Start })
	out := li.Segments[:1]
	for _, s := range li.Segments[1:] {
		last := &out[len(out)-1]
		if s.Start <= last.End+1 {
			if s.End > last.End {
				last.End = s.End
			}
			continue
		}
		out = append(out, s)
	}
	li.Segments = out
}

// LiveIntervals is the per-function table of live intervals keyed by
// register ID, the table ConstraintInsertion (spec.md §4.6) mutates.
type LiveIntervals struct {
	byReg map[int]*LiveInterval
}

func NewLiveIntervals() *LiveIntervals {
	return &LiveIntervals{byReg: make(map[int]*LiveInterval)}
}

func (li *LiveIntervals) Get(r *Register) *LiveInterval {
	iv, ok := li.byReg[r.ID]
	if !ok {
		iv = &LiveInterval{Reg: r}
		li.byReg[r.ID] = iv
	}
	return iv
}

func (li *LiveIntervals) Lookup(r *Register) (*LiveInterval, bool) {
	iv, ok := li.byReg[r.ID]
	return iv, ok
}
