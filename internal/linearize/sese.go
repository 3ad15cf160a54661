package linearize

import (
	"ctharden/internal/compactorder"
	"ctharden/internal/dom"
	hardeningerrors "ctharden/internal/errors"
	"ctharden/internal/mir"
	"ctharden/internal/region"
	"ctharden/internal/target"
)

// SESE is spec.md §4.4's region-tree-driven linearization strategy: it
// walks the function depth-first from its entry, and at every sensitive
// branch picks one successor U ("the unconditional successor") using a
// fixed priority order grounded on the SESE region each candidate
// belongs to. U itself stays the plain continuation; every OTHER
// candidate T becomes the Activating edge (M,T), each entering its own
// ActivatingRegion whose Entry is U. The strategy then recurses
// structurally into U before visiting the other candidates, so the
// plain (unconditional) path is always walked first. Grounded on
// internal/region's RegionOf, itself grounded on internal/ir/types.go's
// Loop/ControlFlowGraph dominance pairing.
type SESE struct{}

func (SESE) Name() string { return "SESE" }

func (s SESE) Linearize(fn *mir.Function, order *compactorder.Order, sensitive map[int]bool, hooks target.Hooks, regions *region.Tree, post *dom.Tree) (*Result, error) {
	result := newResult(order)
	visited := map[int]bool{}
	if err := s.walk(fn.Entry, regions, sensitive, post, visited, result); err != nil {
		return nil, err
	}
	return result, nil
}

func (s SESE) walk(b *mir.Block, regions *region.Tree, sensitive map[int]bool, post *dom.Tree, visited map[int]bool, result *Result) error {
	if b == nil || visited[b.Index] {
		return nil
	}
	visited[b.Index] = true

	switch term := b.Terminator.(type) {
	case nil:
		return nil
	case *mir.ReturnTerminator:
		return nil
	case *mir.JumpTerminator:
		result.record(Edge{Kind: Ghost, From: b, To: term.Target})
		return s.walk(term.Target, regions, sensitive, post, visited, result)
	case *mir.BranchTerminator:
		candidates := []*mir.Block{term.TrueBlock, term.FalseBlock}
		if !sensitive[b.Index] {
			for _, c := range candidates {
				result.record(Edge{Kind: Ghost, From: b, To: c})
			}
			return s.walkAll(candidates, regions, sensitive, post, visited, result)
		}
		return s.linearizeBranch(b, candidates, regions, post, sensitive, visited, result)
	case *mir.IndirectBranchTerminator:
		if !sensitive[b.Index] {
			for _, c := range term.Targets {
				result.record(Edge{Kind: Ghost, From: b, To: c})
			}
			return s.walkAll(term.Targets, regions, sensitive, post, visited, result)
		}
		return s.linearizeBranch(b, term.Targets, regions, post, sensitive, visited, result)
	default:
		return hardeningerrors.NewHardeningError(hardeningerrors.KindMalformedTerminator, "", []int{b.Index}, "SESE: block has no recognized terminator")
	}
}

func (s SESE) walkAll(blocks []*mir.Block, regions *region.Tree, sensitive map[int]bool, post *dom.Tree, visited map[int]bool, result *Result) error {
	for _, b := range blocks {
		if err := s.walk(b, regions, sensitive, post, visited, result); err != nil {
			return err
		}
	}
	return nil
}

// linearizeBranch implements spec.md §4.4's recursive per-branch step:
// pick U, the unconditional successor, then for every other candidate T
// record (b,T) as Activating and open an ActivatingRegion whose Entry
// is U (the sensitive region U is the entry of), recursing depth-first
// into U before the other candidates so the plain path is always
// visited first.
func (s SESE) linearizeBranch(b *mir.Block, candidates []*mir.Block, regions *region.Tree, post *dom.Tree, sensitive map[int]bool, visited map[int]bool, result *Result) error {
	if len(candidates) == 0 {
		return hardeningerrors.NewHardeningError(hardeningerrors.KindUnsupportedExitingBlk, "", []int{b.Index}, "SESE: sensitive branch has no successors to linearize")
	}

	var reg *region.Region
	if regions != nil {
		reg = regions.RegionOf(b)
	}
	u, err := pickUnconditionalSuccessor(b, candidates, reg, regions, post)
	if err != nil {
		return err
	}
	result.record(Edge{Kind: Ghost, From: b, To: u})

	var others []*mir.Block
	for _, c := range candidates {
		if c == u {
			continue
		}
		others = append(others, c)
		result.record(Edge{Kind: Activating, From: b, To: c})

		ar := &ActivatingRegion{Entry: u, Edge: Edge{Kind: Activating, From: b, To: c}}
		if regions != nil {
			if r := regions.RegionOf(u); r != nil {
				ar.Blocks = r.Blocks
			}
		}
		if ar.Blocks == nil {
			ar.Blocks = map[int]bool{u.Index: true}
		}
		result.Regions = append(result.Regions, ar)
	}

	if err := s.walk(u, regions, sensitive, post, visited, result); err != nil {
		return err
	}
	return s.walkAll(others, regions, sensitive, post, visited, result)
}

// pickUnconditionalSuccessor applies spec.md §4.4's priority order:
//  1. if the branch's own region has an Exit and exactly one candidate
//     is not that Exit, prefer descending into that non-exit arm first;
//  2. otherwise prefer the candidate whose own SESE region contains the
//     most blocks, to fold as much structure as possible into one
//     ActivatingRegion;
//  3. otherwise fall back to the first candidate (true-before-false for
//     a BranchTerminator).
// If post is available and every candidate post-dominates b, none of
// them can serve as an unconditional successor (there is no path past b
// that doesn't already pass through all of them) and the branch cannot
// be linearized by this strategy (KindNoUnconditionalSucc).
func pickUnconditionalSuccessor(b *mir.Block, candidates []*mir.Block, ownRegion *region.Region, regions *region.Tree, post *dom.Tree) (*mir.Block, error) {
	if post != nil {
		allPostDominate := true
		for _, c := range candidates {
			if !post.Dominates(c, b) {
				allPostDominate = false
				break
			}
		}
		if allPostDominate {
			return nil, hardeningerrors.NewHardeningError(hardeningerrors.KindNoUnconditionalSucc, "", []int{b.Index}, "SESE: every successor of sensitive branch post-dominates it; no unconditional successor exists")
		}
	}

	if ownRegion != nil && ownRegion.Exit != nil {
		var nonExit []*mir.Block
		for _, c := range candidates {
			if c != ownRegion.Exit {
				nonExit = append(nonExit, c)
			}
		}
		if len(nonExit) == 1 {
			return nonExit[0], nil
		}
	}

	if regions != nil {
		var best *mir.Block
		bestSize := -1
		for _, c := range candidates {
			size := 0
			if r := regions.RegionOf(c); r != nil {
				size = len(r.Blocks)
			}
			if size > bestSize {
				best, bestSize = c, size
			}
		}
		if best != nil {
			return best, nil
		}
	}

	return candidates[0], nil
}
