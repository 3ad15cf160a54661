package linearize

import (
	"sort"

	"ctharden/internal/compactorder"
	"ctharden/internal/dom"
	hardeningerrors "ctharden/internal/errors"
	"ctharden/internal/mir"
	"ctharden/internal/region"
	"ctharden/internal/target"
)

// PCFL is spec.md §4.3's Predicated Compact Flow Linearization: it
// sweeps CompactOrder once, and at every block picks Next := the
// forward successor CompactOrder places nearest (never a backedge).
// Next itself stays the plain, un-reclassified continuation; every
// OTHER forward successor S becomes an Activating edge, and a pending
// DeferralEdge (Next, S) records that Next still owes the sweep a path
// to S. A later block's own Next may be overridden by the nearest
// deferral it owns, in which case a Ghost edge carries control there
// first and the block's own natural successor is demoted to Activating
// in turn. Pending deferrals are forwarded from a block onto its own
// Next as the sweep proceeds; DeferralEdges must be fully drained by
// the time the sweep finishes, or the function cannot be linearized by
// this strategy (KindUnresolvableDeferral).
type PCFL struct{}

func (PCFL) Name() string { return "PCFL" }

func (p PCFL) Linearize(fn *mir.Function, order *compactorder.Order, sensitive map[int]bool, hooks target.Hooks, regions *region.Tree, post *dom.Tree) (*Result, error) {
	result := newResult(order)
	pending := newDeferralState()
	if err := p.sweep(fn, order, sensitive, regions, result, pending); err != nil {
		return nil, err
	}
	if leftover := pending.pendingBlocks(); len(leftover) > 0 {
		return nil, hardeningerrors.NewHardeningError(hardeningerrors.KindUnresolvableDeferral, fn.Name, leftover, "PCFL: deferral edges were never realized by sweep termination")
	}
	return result, nil
}

func (p PCFL) sweep(fn *mir.Function, order *compactorder.Order, sensitive map[int]bool, regions *region.Tree, result *Result, pending *deferralState) error {
	for _, node := range order.Nodes {
		switch node.Kind {
		case compactorder.NodeBlock:
			if err := p.classifyBlock(node.Block, order, sensitive, regions, result, pending); err != nil {
				return err
			}
		case compactorder.NodeLoop:
			inner := order.Inner[node.Header.Index]
			if inner == nil {
				continue
			}
			innerPending := newDeferralState()
			if err := p.sweep(fn, inner, sensitive, regions, result, innerPending); err != nil {
				return err
			}
			if leftover := innerPending.pendingBlocks(); len(leftover) > 0 {
				return hardeningerrors.NewHardeningError(hardeningerrors.KindUnresolvableDeferral, fn.Name, leftover, "PCFL: loop body deferral edges were never realized by loop termination")
			}
		}
	}
	return nil
}

func (p PCFL) classifyBlock(b *mir.Block, order *compactorder.Order, sensitive map[int]bool, regions *region.Tree, result *Result, pending *deferralState) error {
	pos, _ := order.PositionOf(b)
	switch term := b.Terminator.(type) {
	case nil:
		pending.close(b)
		return nil
	case *mir.ReturnTerminator:
		pending.close(b)
		return nil
	case *mir.JumpTerminator:
		p.classifyNonSensitive(b, pos, []*mir.Block{term.Target}, order, result, pending)
		return nil
	case *mir.BranchTerminator:
		candidates := []*mir.Block{term.TrueBlock, term.FalseBlock}
		if !sensitive[b.Index] {
			p.classifyNonSensitive(b, pos, candidates, order, result, pending)
			return nil
		}
		p.classifySensitive(b, pos, candidates, order, regions, result, pending)
		return nil
	case *mir.IndirectBranchTerminator:
		if !sensitive[b.Index] {
			p.classifyNonSensitive(b, pos, term.Targets, order, result, pending)
			return nil
		}
		p.classifySensitive(b, pos, term.Targets, order, regions, result, pending)
		return nil
	default:
		return hardeningerrors.NewHardeningError(hardeningerrors.KindMalformedTerminator, "", []int{b.Index}, "PCFL: block has no recognized terminator")
	}
}

// classifyNonSensitive is spec.md §4.3's per-block step for a block
// that is NOT a sensitive branch: each of b's own forward successors S
// keeps its plain edge unless a pending deferral owned by b names an
// earlier target, in which case that target is visited first (via a
// Ghost edge) and S is demoted to Activating until the sweep reaches it
// on its own. Any of b's remaining pending deferrals are forwarded onto
// whichever block b actually visits next.
func (p PCFL) classifyNonSensitive(b *mir.Block, pos int, candidates []*mir.Block, order *compactorder.Order, result *Result, pending *deferralState) {
	for _, s := range candidates {
		next := s
		overridden := false
		if dt, ok := pending.nearest(order, b); ok {
			spos, sok := order.PositionOf(s)
			if dpos, dok := order.PositionOf(dt); dok && (!sok || dpos < spos) {
				next = dt
				overridden = true
				result.record(Edge{Kind: Ghost, From: b, To: next})
				result.record(Edge{Kind: Activating, From: b, To: s})
			}
		}
		if !overridden {
			result.record(Edge{Kind: Ghost, From: b, To: s})
		}
		// next only owes the sweep a delivery if it is itself a member
		// of this order: a next outside the current scope (e.g. a
		// loop's own exit, seen from inside the loop body's own
		// sub-order) will never be visited again at this sweep level,
		// so there is nothing here to forward the obligation onto.
		if _, inScope := order.PositionOf(next); inScope {
			if s != next {
				pending.add(next, s)
			}
			for _, z := range pending.pending[b.Index] {
				if z != next {
					pending.add(next, z)
				}
			}
		}
	}
	pending.close(b)
}

// classifySensitive is spec.md §4.3's per-block step for a sensitive
// branch: Next is the nearest forward successor (or a pending deferral
// owned by b, if it is nearer still); every OTHER forward successor
// becomes Activating, each opening its own ActivatingRegion entered via
// Next, and is recorded as a deferral Next must itself carry forward.
func (p PCFL) classifySensitive(b *mir.Block, pos int, candidates []*mir.Block, order *compactorder.Order, regions *region.Tree, result *Result, pending *deferralState) {
	next := nearestSuccessor(order, pos, candidates)
	overridden := false
	if dt, ok := pending.nearest(order, b); ok {
		npos, nok := order.PositionOf(next)
		dpos, dok := order.PositionOf(dt)
		if dok && (!nok || dpos < npos) {
			next = dt
			overridden = true
			result.record(Edge{Kind: Ghost, From: b, To: next})
		}
	}
	if !overridden && next != nil {
		result.record(Edge{Kind: Ghost, From: b, To: next})
	}

	for _, s := range candidates {
		if s == next {
			continue
		}
		result.record(Edge{Kind: Activating, From: b, To: s})

		r := &ActivatingRegion{Entry: next, Edge: Edge{Kind: Activating, From: b, To: s}}
		if regions != nil && next != nil {
			if reg := regions.RegionOf(next); reg != nil {
				r.Blocks = reg.Blocks
			}
		}
		if r.Blocks == nil && next != nil {
			r.Blocks = map[int]bool{next.Index: true}
		}
		result.Regions = append(result.Regions, r)

		// Same scope guard as classifyNonSensitive: only track the
		// obligation to reach s if next is itself still part of this
		// sweep and can carry it forward.
		if next != nil {
			if _, inScope := order.PositionOf(next); inScope {
				pending.add(next, s)
			}
		}
	}

	if next != nil {
		if _, inScope := order.PositionOf(next); inScope {
			for _, z := range pending.pending[b.Index] {
				if z != next {
					pending.add(next, z)
				}
			}
		}
	}
	pending.close(b)
}

// nearestSuccessor picks, among candidates, the forward successor
// (position strictly greater than pos — a backedge is never chosen)
// CompactOrder places earliest. A candidate with no position in order
// (out of this sub-order's scope, e.g. a loop's own exit reached from
// inside its collapsed body) is still eligible as a fallback but can
// never be "nearest", since its distance from b is unknown.
func nearestSuccessor(order *compactorder.Order, pos int, candidates []*mir.Block) *mir.Block {
	var best *mir.Block
	bestPos := -1
	for _, c := range candidates {
		cpos, ok := order.PositionOf(c)
		if !ok || cpos <= pos {
			continue
		}
		if best == nil || cpos < bestPos {
			best, bestPos = c, cpos
		}
	}
	if best != nil {
		return best
	}
	for _, c := range candidates {
		if cpos, ok := order.PositionOf(c); ok && cpos <= pos {
			continue // genuine backedge: never a fallback candidate either
		}
		return c
	}
	return nil
}

// deferralState is PCFL's private per-sweep bookkeeping for spec.md
// §4.3's DeferralEdges: pending (owner, target) pairs meaning "owner
// still owes the sweep a path to target". It is intentionally never
// exposed on Result — per spec the set must be empty once the sweep
// finishes, so only Result.Deferral's always-empty zero value is
// visible to callers.
type deferralState struct {
	pending map[int][]*mir.Block // keyed by owning block's Index
}

func newDeferralState() *deferralState {
	return &deferralState{pending: map[int][]*mir.Block{}}
}

// nearest returns the pending target owned by b with the smallest
// CompactOrder position, or (nil, false) if b owns none with a
// resolvable position.
func (d *deferralState) nearest(order *compactorder.Order, b *mir.Block) (*mir.Block, bool) {
	var best *mir.Block
	bestPos := -1
	for _, t := range d.pending[b.Index] {
		pos, ok := order.PositionOf(t)
		if !ok {
			continue
		}
		if best == nil || pos < bestPos {
			best, bestPos = t, pos
		}
	}
	return best, best != nil
}

func (d *deferralState) add(owner, target *mir.Block) {
	d.pending[owner.Index] = append(d.pending[owner.Index], target)
}

func (d *deferralState) close(b *mir.Block) {
	delete(d.pending, b.Index)
}

// pendingBlocks returns the sorted indices of every block that still
// owns at least one undelivered deferral — non-empty only on a
// malformed or irreducible sweep.
func (d *deferralState) pendingBlocks() []int {
	var out []int
	for idx, targets := range d.pending {
		if len(targets) > 0 {
			out = append(out, idx)
		}
	}
	sort.Ints(out)
	return out
}
