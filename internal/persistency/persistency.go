// Package persistency implements spec.md §4.5's PersistencyAnalysis:
// for every ActivatingRegion a linearization strategy produced, find the
// values and stores that must survive past their natural live range so
// a deferred path can still observe them once the linear sweep reaches
// it. Grounded on internal/semantic/flow_analyzer.go's backward
// worklist-over-def-use-chains idiom, generalized from dataflow facts
// to individual registers.
package persistency

import (
	"sort"

	"ctharden/internal/linearize"
	"ctharden/internal/mir"
	"ctharden/internal/region"
	"ctharden/internal/target"
)

// RegionResult is spec.md §4.5's per-region output: the keyed
// "persistent_instrs", "persistent_stores" and "region_inputs" sets.
type RegionResult struct {
	Region *linearize.ActivatingRegion

	// PersistentInstrs: instructions defined outside the region whose
	// live interval must be extended to cover it, keyed by instruction ID.
	PersistentInstrs map[int]mir.Instruction

	// PersistentStores: observable stores inside the region that must
	// execute on every linearized path, keyed by instruction ID.
	PersistentStores map[int]mir.Instruction

	// RegionInputs: registers used inside the region but defined outside
	// it — the region's live-in boundary, keyed by register ID.
	RegionInputs map[int]*mir.Register
}

// Result is the whole-function output, with regions in the processing
// order PersistencyAnalysis actually walked them: deepest (most nested)
// region first, since an outer region's persistence requirements can
// depend on what an inner one already forced to survive.
type Result struct {
	Order    []*linearize.ActivatingRegion
	ByRegion map[*linearize.ActivatingRegion]*RegionResult
}

type defSite struct {
	inst  mir.Instruction
	block *mir.Block
}

// Analyze runs PersistencyAnalysis over fn given a completed
// LinearizationAnalysis result, fn's SESE region tree (used only to
// order regions deepest-first) and the target's leakage/persistent-store
// classification.
func Analyze(fn *mir.Function, lin *linearize.Result, regions *region.Tree, hooks target.Hooks) *Result {
	defs := buildDefSites(fn)
	ordered := orderDeepestFirst(lin.Regions, regions)

	result := &Result{Order: ordered, ByRegion: map[*linearize.ActivatingRegion]*RegionResult{}}
	for _, r := range ordered {
		result.ByRegion[r] = analyzeRegion(fn, r, defs, hooks)
	}
	return result
}

func buildDefSites(fn *mir.Function) map[int]defSite {
	defs := map[int]defSite{}
	for _, b := range fn.Blocks {
		for _, inst := range b.Instructions {
			for _, d := range inst.Defs() {
				defs[d.ID] = defSite{inst: inst, block: b}
			}
		}
		if b.Terminator != nil {
			for _, d := range b.Terminator.Defs() {
				defs[d.ID] = defSite{inst: b.Terminator, block: b}
			}
		}
	}
	return defs
}

func analyzeRegion(fn *mir.Function, r *linearize.ActivatingRegion, defs map[int]defSite, hooks target.Hooks) *RegionResult {
	rr := &RegionResult{
		Region:           r,
		PersistentInstrs: map[int]mir.Instruction{},
		PersistentStores: map[int]mir.Instruction{},
		RegionInputs:     map[int]*mir.Register{},
	}

	var members []*mir.Block
	for _, b := range fn.Blocks {
		if r.Blocks[b.Index] {
			members = append(members, b)
		}
	}
	sort.Slice(members, func(i, j int) bool { return members[i].Index < members[j].Index })

	// Step 1: persistent stores, and every operand the target's
	// constant-time model says leaks (spec.md §4.5 steps 1+3) — the
	// backward worklist below starts from these, not from every operand
	// the region happens to use.
	var instructions []mir.Instruction
	for _, b := range members {
		instructions = append(instructions, b.Instructions...)
		if b.Terminator != nil {
			instructions = append(instructions, b.Terminator)
		}
	}
	var leaking []*mir.Register
	for _, inst := range instructions {
		leaking = append(leaking, hooks.ConstantTimeLeakage(inst)...)
		if hooks.IsPersistentStore(inst) {
			rr.PersistentStores[inst.GetID()] = inst
		}
	}

	// Step 2: backward worklist over def-use chains, seeded from the
	// leaking operands and bounded by the region — an external
	// definition is added to RegionInputs and PersistentInstrs, then its
	// own uses are chased the same way, stopping once a use's definition
	// also lies inside the region.
	seen := map[int]bool{}
	var worklist []*mir.Register
	for _, reg := range leaking {
		if reg == nil || seen[reg.ID] {
			continue
		}
		site, ok := defs[reg.ID]
		if !ok || r.Blocks[site.block.Index] {
			continue // defined inside the region (or has no known def): not a boundary crossing.
		}
		seen[reg.ID] = true
		rr.RegionInputs[reg.ID] = reg
		worklist = append(worklist, reg)
	}
	for len(worklist) > 0 {
		reg := worklist[0]
		worklist = worklist[1:]
		site, ok := defs[reg.ID]
		if !ok {
			continue
		}
		rr.PersistentInstrs[site.inst.GetID()] = site.inst
		for _, use := range site.inst.Uses() {
			useSite, ok := defs[use.ID]
			if !ok || r.Blocks[useSite.block.Index] {
				continue
			}
			if !seen[use.ID] {
				seen[use.ID] = true
				worklist = append(worklist, use)
			}
		}
	}

	return rr
}

// orderDeepestFirst sorts regions by their SESE nesting depth,
// descending, so PersistencyAnalysis processes the most nested
// ActivatingRegion first (spec.md §4.5's "deepest sensitive-branch
// region first" requirement). Regions of equal depth keep a
// deterministic order by entry-block index.
func orderDeepestFirst(regions []*linearize.ActivatingRegion, tree *region.Tree) []*linearize.ActivatingRegion {
	out := make([]*linearize.ActivatingRegion, len(regions))
	copy(out, regions)
	depth := func(r *linearize.ActivatingRegion) int {
		if tree == nil {
			return 0
		}
		d := 0
		cur := tree.RegionOf(r.Entry)
		for cur != nil && cur.Parent != nil {
			d++
			cur = cur.Parent
		}
		return d
	}
	sort.SliceStable(out, func(i, j int) bool {
		di, dj := depth(out[i]), depth(out[j])
		if di != dj {
			return di > dj
		}
		return out[i].Entry.Index < out[j].Entry.Index
	})
	return out
}
