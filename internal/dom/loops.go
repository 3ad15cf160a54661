package dom

import (
	"sort"

	"ctharden/internal/mir"
)

// PostDominates reports whether a post-dominates b in a Tree built with
// BuildPost. Calling it on a forward Tree is a programmer error (it will
// simply answer using whatever graph the Tree was built over).
func (t *Tree) PostDominates(a, b *mir.Block) bool {
	return t.Dominates(a, b)
}

// Loop is a natural loop: Header dominates every block in Body, and at
// least one Latch has an edge back to Header. Grounded on
// fkuehnel-golang-cfg/go-code/scc.go's back-edge/SCC framing, simplified
// to the single-entry natural-loop case CompactOrder needs (spec.md §4.1
// explicitly assumes "the loop analysis is assumed to yield natural
// loops only" — irreducible CFGs are not supported).
type Loop struct {
	Header  *mir.Block
	Latches []*mir.Block
	Body    map[int]bool // block Index -> member
	Exits   []*mir.Block // blocks outside Body reached from inside Body
}

// NaturalLoops finds every natural loop in fn using the forward
// dominator Tree d. A back edge is any edge (latch, header) where header
// dominates latch.
func NaturalLoops(fn *mir.Function, d *Tree) []*Loop {
	var loops []*Loop
	headerLoop := map[int]*Loop{}

	for _, latch := range fn.Blocks {
		if !d.Reachable(latch) {
			continue
		}
		for _, header := range latch.Successors {
			if !d.Dominates(header, latch) {
				continue
			}
			loop, ok := headerLoop[header.Index]
			if !ok {
				loop = &Loop{Header: header, Body: map[int]bool{header.Index: true}}
				headerLoop[header.Index] = loop
				loops = append(loops, loop)
			}
			loop.Latches = append(loop.Latches, latch)
			addLoopBody(loop, latch)
		}
	}

	for _, loop := range loops {
		loop.Exits = computeExits(loop)
		sort.Slice(loop.Latches, func(i, j int) bool { return loop.Latches[i].Index < loop.Latches[j].Index })
		sort.Slice(loop.Exits, func(i, j int) bool { return loop.Exits[i].Index < loop.Exits[j].Index })
	}
	return loops
}

// addLoopBody walks predecessors backward from latch, adding every block
// that can reach latch without going back through header, per the
// standard natural-loop construction.
func addLoopBody(loop *Loop, latch *mir.Block) {
	if loop.Body[latch.Index] {
		return
	}
	var stack []*mir.Block
	loop.Body[latch.Index] = true
	stack = append(stack, latch)
	for len(stack) > 0 {
		b := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, p := range b.Predecessors {
			if !loop.Body[p.Index] {
				loop.Body[p.Index] = true
				stack = append(stack, p)
			}
		}
	}
}

func computeExits(loop *Loop) []*mir.Block {
	var exits []*mir.Block
	seen := map[int]bool{}
	for _, headerOrMember := range collectBlocks(loop) {
		for _, s := range headerOrMember.Successors {
			if !loop.Body[s.Index] && !seen[s.Index] {
				seen[s.Index] = true
				exits = append(exits, s)
			}
		}
	}
	return exits
}

// collectBlocks returns loop.Body's members as *mir.Block, found by
// walking successor edges from Header that stay inside Body.
func collectBlocks(loop *Loop) []*mir.Block {
	blocks := make([]*mir.Block, 0, len(loop.Body))
	visited := map[int]bool{}
	var stack []*mir.Block
	stack = append(stack, loop.Header)
	visited[loop.Header.Index] = true
	for len(stack) > 0 {
		b := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		blocks = append(blocks, b)
		for _, s := range b.Successors {
			if loop.Body[s.Index] && !visited[s.Index] {
				visited[s.Index] = true
				stack = append(stack, s)
			}
		}
	}
	return blocks
}
