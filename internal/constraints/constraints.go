// Package constraints implements spec.md §4.6's ConstraintInsertion and
// §4.7's PseudoCleanup: turning LinearizationAnalysis's edge
// classification and PersistencyAnalysis's region results into concrete
// pseudo-instructions the register allocator must respect, then
// stripping the bookkeeping-only ones once allocation is done.
// Grounded on internal/ir/optimizations.go's pass-over-every-block
// shape, generalized to pseudo-instruction insertion instead of
// rewriting real ones.
package constraints

import (
	"sort"

	"ctharden/internal/linearize"
	"ctharden/internal/mir"
	"ctharden/internal/persistency"
	"ctharden/internal/secret"
	"ctharden/internal/target"
)

// Config selects between spec.md §4.6's two variants.
type Config struct {
	// SplitBlocks: insert a dedicated constraint block on every
	// ActivatingRegion's own activating edge to carry the BRANCH_TARGET
	// pseudo. When false, it is inserted directly at the start of the
	// edge's existing target block instead, and the only other effect is
	// a live-interval extension.
	SplitBlocks bool
}

// Insert runs ConstraintInsertion over fn, mutating it in place: new
// pseudo-instructions are appended to blocks (and, in the SplitBlocks
// variant, new constraint blocks are spliced onto activating edges), and
// every persisted register's LiveInterval is extended to cover its
// owning ActivatingRegion.
func Insert(fn *mir.Function, sources *secret.TaintSet, lin *linearize.Result, pers *persistency.Result, hooks target.Hooks, cfg Config, intervals *mir.LiveIntervals) {
	insertSecretMarkers(fn, sources)
	insertSecretDepBranches(fn, lin)

	marked := map[int]bool{} // landing block.Index -> already carries a BRANCH_TARGET, for idempotence

	for _, r := range pers.Order {
		rr := pers.ByRegion[r]
		insertPersistentDefs(r, rr)
		extendRegionInputs(r, rr, intervals)
		insertBranchTargets(fn, r, cfg, marked)
		insertGhostLoads(fn, rr, hooks)
		insertExtends(r, rr, cfg, intervals)
	}
}

// insertSecretMarkers tags every secret source register with a SECRET
// pseudo at the top of the function's entry block, for diagnostics and
// for PseudoCleanup's erasure pass to have something concrete to erase.
func insertSecretMarkers(fn *mir.Function, sources *secret.TaintSet) {
	if fn.Entry == nil || sources == nil {
		return
	}
	var marked []*mir.Register
	for _, b := range fn.Blocks {
		for _, inst := range b.Instructions {
			for _, d := range inst.Defs() {
				if sources.IsSecret(d) {
					marked = append(marked, d)
				}
			}
		}
	}
	sort.Slice(marked, func(i, j int) bool { return marked[i].ID < marked[j].ID })
	prefix := make([]mir.Instruction, 0, len(marked))
	for _, reg := range marked {
		prefix = append(prefix, &mir.PseudoInst{ID: fn.NextInstID(), Kind: mir.Secret, UseList: []*mir.Register{reg}})
	}
	fn.Entry.Instructions = append(prefix, fn.Entry.Instructions...)
}

// insertSecretDepBranches tags every sensitive branch's own block with
// a SECRET_DEP_BR pseudo referencing its condition, so target lowering
// (out of this pipeline's scope) knows to emit the constant-time branch
// pattern rather than a plain conditional jump.
func insertSecretDepBranches(fn *mir.Function, lin *linearize.Result) {
	seen := map[int]bool{}
	for _, e := range lin.Activating.Sorted() {
		if seen[e.From.Index] {
			continue
		}
		seen[e.From.Index] = true
		cond := branchCondition(e.From)
		if cond == nil {
			continue
		}
		e.From.Instructions = append(e.From.Instructions, &mir.PseudoInst{
			ID: fn.NextInstID(), Kind: mir.SecretDepBr, UseList: []*mir.Register{cond},
		})
	}
}

func branchCondition(b *mir.Block) *mir.Register {
	switch term := b.Terminator.(type) {
	case *mir.BranchTerminator:
		return term.Cond
	case *mir.IndirectBranchTerminator:
		return term.Cond
	default:
		return nil
	}
}

// insertPersistentDefs prepends a PERSISTENT_DEF pseudo to the region's
// entry block for every register PersistencyAnalysis found crossing the
// region boundary, asserting it live again from the region's start.
func insertPersistentDefs(r *linearize.ActivatingRegion, rr *persistency.RegionResult) {
	var regs []*mir.Register
	for _, reg := range rr.RegionInputs {
		regs = append(regs, reg)
	}
	sort.Slice(regs, func(i, j int) bool { return regs[i].ID < regs[j].ID })

	fn := ownerFunction(r)
	if fn == nil {
		return
	}
	prefix := make([]mir.Instruction, 0, len(regs))
	for _, reg := range regs {
		prefix = append(prefix, &mir.PseudoInst{ID: fn.NextInstID(), Kind: mir.PersistentDef, Def: reg, UseList: []*mir.Register{reg}})
	}
	r.Entry.Instructions = append(prefix, r.Entry.Instructions...)
}

// extendRegionInputs extends every region-input register's live
// interval across the whole region (entry's slot through the maximum
// slot among the region's members), regardless of which ConstraintInsertion
// variant is configured — both need the allocator to see the register
// alive that long.
func extendRegionInputs(r *linearize.ActivatingRegion, rr *persistency.RegionResult, intervals *mir.LiveIntervals) {
	if intervals == nil {
		return
	}
	start, end := regionSlotRange(r)
	for _, reg := range rr.RegionInputs {
		intervals.Get(reg).Extend(start, end)
	}
}

func regionSlotRange(r *linearize.ActivatingRegion) (start, end int) {
	start, end = -1, -1
	for _, b := range allBlocksOf(r) {
		for _, inst := range b.Instructions {
			if start == -1 || inst.Slot() < start {
				start = inst.Slot()
			}
			if inst.Slot() > end {
				end = inst.Slot()
			}
		}
		if b.Terminator != nil {
			if start == -1 || b.Terminator.Slot() < start {
				start = b.Terminator.Slot()
			}
			if b.Terminator.Slot() > end {
				end = b.Terminator.Slot()
			}
		}
	}
	if start == -1 {
		start, end = 0, 0
	}
	return
}

// insertBranchTargets marks, on the region's own activating edge
// (Branch -> Exit), where the forced-unconditional path resumes with a
// BRANCH_TARGET pseudo. In the SplitBlocks variant it lands on a freshly
// spliced constraint block instead of the real edge target.
func insertBranchTargets(fn *mir.Function, r *linearize.ActivatingRegion, cfg Config, marked map[int]bool) {
	landing := landingBlock(fn, r.Edge.From, r.Edge.To, cfg)
	if landing == nil || marked[landing.Index] {
		return
	}
	marked[landing.Index] = true
	landing.Instructions = append([]mir.Instruction{
		&mir.PseudoInst{ID: fn.NextInstID(), Kind: mir.BranchTarget},
	}, landing.Instructions...)
}

// insertGhostLoads implements spec.md §4.6's per-store constraint: for
// every persistent store S found on the region's taken path, a GHOST_LOAD
// reading S's own source value is inserted immediately before S,
// producing a fresh virtual register, and S's source operand is rewritten
// to that register — so the store's operand live range, and the load
// preceding it, look identical regardless of which path reached S.
// Idempotent: a rerun detects the GHOST_LOAD it already spliced in by
// comparing the preceding pseudo's Def (S's rewritten source after the
// first pass) against the source it would insert again.
func insertGhostLoads(fn *mir.Function, rr *persistency.RegionResult, hooks target.Hooks) {
	var stores []mir.Instruction
	for _, s := range rr.PersistentStores {
		stores = append(stores, s)
	}
	sort.Slice(stores, func(i, j int) bool { return stores[i].GetID() < stores[j].GetID() })

	for _, s := range stores {
		gi, ok := s.(*mir.GenericInst)
		if !ok || len(gi.UseList) == 0 {
			continue
		}
		src := gi.UseList[len(gi.UseList)-1]

		block, idx := findInstruction(fn, s.GetID())
		if block == nil {
			continue
		}
		if idx > 0 {
			if prev, ok := block.Instructions[idx-1].(*mir.PseudoInst); ok && prev.Kind == mir.GhostLoad && prev.Def == src {
				continue // already ghost-loaded by an earlier pass.
			}
		}

		fresh := hooks.CreateVirtualRegister(fn, src.Class)
		ghost := &mir.PseudoInst{ID: fn.NextInstID(), Kind: mir.GhostLoad, Def: fresh, UseList: []*mir.Register{src}}

		block.Instructions = append(block.Instructions, nil)
		copy(block.Instructions[idx+1:], block.Instructions[idx:])
		block.Instructions[idx] = ghost

		gi.UseList[len(gi.UseList)-1] = fresh
	}
}

// findInstruction locates id's owning block and its index within that
// block's instruction list.
func findInstruction(fn *mir.Function, id int) (*mir.Block, int) {
	for _, b := range fn.Blocks {
		for i, inst := range b.Instructions {
			if inst.GetID() == id {
				return b, i
			}
		}
	}
	return nil, -1
}

// landingBlock picks where the BRANCH_TARGET pseudo for an activating
// edge (from -> to) lands: a new constraint block spliced onto that edge
// (SplitBlocks), or the edge's target itself otherwise.
func landingBlock(fn *mir.Function, from, to *mir.Block, cfg Config) *mir.Block {
	if !cfg.SplitBlocks {
		return to
	}
	cb := fn.NewBlock("constraint")
	cb.Terminator = &mir.JumpTerminator{ID: fn.NextInstID(), Block: cb, Target: to}
	cb.AddSuccessor(to)
	spliceBetween(from, to, cb)
	return cb
}

// spliceBetween rewrites from's terminator so any edge that used to
// target `to` now targets `via` instead, and fixes up the Predecessors
// both blocks expose.
func spliceBetween(from, to, via *mir.Block) {
	switch term := from.Terminator.(type) {
	case *mir.JumpTerminator:
		if term.Target == to {
			term.Target = via
		}
	case *mir.BranchTerminator:
		if term.TrueBlock == to {
			term.TrueBlock = via
		}
		if term.FalseBlock == to {
			term.FalseBlock = via
		}
	case *mir.IndirectBranchTerminator:
		for i, t := range term.Targets {
			if t == to {
				term.Targets[i] = via
			}
		}
	}
	from.RemoveSuccessor(to)
	from.AddSuccessor(via)
}

// insertExtends appends an EXTEND pseudo referencing every region input
// at each of the region's exiting blocks in the SplitBlocks variant,
// making the extension visible as a real pseudo-instruction rather than
// purely a LiveInterval fact (spec.md §4.6's two variants differ
// exactly here).
func insertExtends(r *linearize.ActivatingRegion, rr *persistency.RegionResult, cfg Config, intervals *mir.LiveIntervals) {
	if !cfg.SplitBlocks || len(rr.RegionInputs) == 0 {
		return
	}
	fn := ownerFunction(r)
	if fn == nil {
		return
	}
	var regs []*mir.Register
	for _, reg := range rr.RegionInputs {
		regs = append(regs, reg)
	}
	sort.Slice(regs, func(i, j int) bool { return regs[i].ID < regs[j].ID })

	for _, b := range allBlocksOf(r) {
		if len(exitingSuccessorsOutside(b, r)) == 0 {
			continue
		}
		for _, reg := range regs {
			b.Instructions = append(b.Instructions, &mir.PseudoInst{ID: fn.NextInstID(), Kind: mir.Extend, UseList: []*mir.Register{reg}})
		}
	}
}

func exitingSuccessorsOutside(b *mir.Block, r *linearize.ActivatingRegion) []*mir.Block {
	var out []*mir.Block
	for _, s := range b.Successors {
		if !r.Blocks[s.Index] {
			out = append(out, s)
		}
	}
	return out
}

func allBlocksOf(r *linearize.ActivatingRegion) []*mir.Block {
	// r.Blocks only stores indices; recover pointers by walking from
	// Entry through successor edges that stay inside the region.
	var out []*mir.Block
	visited := map[int]bool{r.Entry.Index: true}
	stack := []*mir.Block{r.Entry}
	for len(stack) > 0 {
		b := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		out = append(out, b)
		for _, s := range b.Successors {
			if r.Blocks[s.Index] && !visited[s.Index] {
				visited[s.Index] = true
				stack = append(stack, s)
			}
		}
	}
	return out
}

// ownerFunction recovers r's owning Function through its Entry block's
// own bookkeeping. ActivatingRegion itself carries no Function pointer
// (it is pure data per spec.md §4.4), so callers that need one thread
// it through explicitly; this helper exists only for the two call
// sites above that mint new instruction IDs off of a block they
// already have in hand.
func ownerFunction(r *linearize.ActivatingRegion) *mir.Function {
	return r.Entry.Owner
}
