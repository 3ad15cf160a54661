// Package region builds the SESE region tree (RegionInfo in spec.md §1
// and §3) that the SESE linearization strategy (spec.md §4.4) and
// persistency analysis (spec.md §4.5) consume. Computing region trees
// from control-flow structurization is explicitly out of scope for the
// hardening core (spec.md §1), but the pipeline needs a concrete
// provider to run end to end; this one is grounded on internal/ir's
// Loop/ControlFlowGraph.Dominance shape, generalized to single-entry
// single-exit subgraphs per spec.md §3's Region definition.
package region

import (
	"sort"

	"ctharden/internal/dom"
	"ctharden/internal/mir"
)

// Region is a single-entry, single-exit subgraph (spec.md §3). Exit is
// nil only for the synthetic top-level region covering the whole
// function.
type Region struct {
	Entry    *mir.Block
	Exit     *mir.Block
	Blocks   map[int]bool // block Index -> member (includes Entry, excludes Exit)
	Parent   *Region
	Children []*Region
}

// Tree is the RegionInfo collaborator: a tree of Regions rooted at a
// synthetic top-level region, plus a lookup from entry block to its
// innermost Region.
type Tree struct {
	Root    *Region
	byEntry map[int]*Region
}

// Build computes the region tree for fn given its forward and post
// dominator trees.
func Build(fn *mir.Function, forward, post *dom.Tree) *Tree {
	root := &Region{Entry: fn.Entry, Blocks: map[int]bool{}}
	for _, b := range fn.Blocks {
		if forward.Reachable(b) {
			root.Blocks[b.Index] = true
		}
	}

	t := &Tree{Root: root, byEntry: map[int]*Region{fn.Entry.Index: root}}

	var candidates []*Region
	for _, b := range fn.Blocks {
		if !forward.Reachable(b) || b == fn.Entry {
			continue
		}
		exit := post.ImmediateDominator(b)
		r := &Region{Entry: b, Exit: exit, Blocks: map[int]bool{}}
		for _, m := range fn.Blocks {
			if !forward.Reachable(m) {
				continue
			}
			if forward.Dominates(b, m) && (exit == nil || !forward.Dominates(exit, m)) {
				r.Blocks[m.Index] = true
			}
		}
		t.byEntry[b.Index] = r
		candidates = append(candidates, r)
	}

	// Nest: each region's parent is the smallest other region whose
	// block set strictly contains it. O(n^2) over candidates, fine for
	// the function sizes this pipeline targets.
	all := append([]*Region{root}, candidates...)
	for _, r := range candidates {
		var best *Region
		for _, other := range all {
			if other == r {
				continue
			}
			if strictSuperset(other.Blocks, r.Blocks) {
				if best == nil || len(other.Blocks) < len(best.Blocks) {
					best = other
				}
			}
		}
		if best == nil {
			best = root
		}
		r.Parent = best
		best.Children = append(best.Children, r)
	}
	for _, r := range all {
		sort.Slice(r.Children, func(i, j int) bool { return r.Children[i].Entry.Index < r.Children[j].Entry.Index })
	}
	return t
}

func strictSuperset(a, b map[int]bool) bool {
	if len(a) <= len(b) {
		return false
	}
	for k := range b {
		if !a[k] {
			return false
		}
	}
	return true
}

// RegionOf returns the innermost Region whose Entry is b, or nil.
func (t *Tree) RegionOf(b *mir.Block) *Region {
	return t.byEntry[b.Index]
}

// Exits returns the blocks inside r with at least one successor outside
// r.Blocks — spec.md §4.4's "exiting blocks" of a region.
func (r *Region) ExitingBlocks() []*mir.Block {
	var out []*mir.Block
	seenExit := map[int]bool{}
	var members []*mir.Block
	// r.Blocks only stores indices; recover pointers through successor
	// edges reachable from Entry (every region is connected by
	// construction since Blocks = dominated-by-Entry-minus-dominated-by-Exit).
	visited := map[int]bool{r.Entry.Index: true}
	stack := []*mir.Block{r.Entry}
	for len(stack) > 0 {
		b := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		members = append(members, b)
		for _, s := range b.Successors {
			if r.Blocks[s.Index] && !visited[s.Index] {
				visited[s.Index] = true
				stack = append(stack, s)
			}
		}
	}
	for _, b := range members {
		for _, s := range b.Successors {
			if !r.Blocks[s.Index] {
				if !seenExit[b.Index] {
					seenExit[b.Index] = true
					out = append(out, b)
				}
			}
		}
	}
	return out
}
