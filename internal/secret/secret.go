// Package secret is the concrete SecretTracker / SensitiveBranchFinder
// collaborator (spec.md §1, §2). Identifying secret annotations at IR
// level and propagating taint through machine instructions are both
// named out of scope for the hardening core, but the pipeline needs a
// real source of taint to run against; this implementation uses a
// simple, documented convention (register name prefix) as the
// SecretSource and a straightforward forward worklist as the
// SecretTracker.
package secret

import "ctharden/internal/mir"

// TaintSet is the per-function set of registers considered secret-
// derived, keyed by register ID.
type TaintSet struct {
	regs map[int]bool
}

func NewTaintSet() *TaintSet { return &TaintSet{regs: map[int]bool{}} }

func (t *TaintSet) Mark(r *mir.Register) {
	if r != nil {
		t.regs[r.ID] = true
	}
}

func (t *TaintSet) IsSecret(r *mir.Register) bool {
	return r != nil && t.regs[r.ID]
}

// Len reports how many registers are marked, for diagnostics (the REPL's
// `order` step summary).
func (t *TaintSet) Len() int { return len(t.regs) }

// SourcesByNameConvention is the concrete SecretSource: any register
// whose Name starts with "secret" (case-sensitive, matching the
// lowering convention documented in internal/ir/lower.go) is a taint
// source.
func SourcesByNameConvention(fn *mir.Function) *TaintSet {
	sources := NewTaintSet()
	for _, b := range fn.Blocks {
		for _, inst := range b.Instructions {
			for _, d := range inst.Defs() {
				if isSecretName(d.Name) {
					sources.Mark(d)
				}
			}
			for _, u := range inst.Uses() {
				if isSecretName(u.Name) {
					sources.Mark(u)
				}
			}
		}
		if b.Terminator != nil {
			for _, u := range b.Terminator.Uses() {
				if isSecretName(u.Name) {
					sources.Mark(u)
				}
			}
		}
	}
	return sources
}

func isSecretName(name string) bool {
	return len(name) >= 6 && name[:6] == "secret"
}

// PropagateTaint runs the forward worklist: starting from sources, a
// register is secret if it is a source, or if it is defined by an
// instruction that uses at least one secret register. Runs to a fixed
// point so taint flows correctly around loop back edges. It also stamps
// each instruction's SecretMask, the bitmask over Uses() positions
// spec.md §3 describes.
func PropagateTaint(fn *mir.Function, sources *TaintSet) *TaintSet {
	taint := NewTaintSet()
	for id := range sources.regs {
		taint.regs[id] = true
	}

	changed := true
	for changed {
		changed = false
		for _, b := range fn.Blocks {
			for _, inst := range b.Instructions {
				mask := uint64(0)
				for i, u := range inst.Uses() {
					if taint.IsSecret(u) {
						if i < 64 {
							mask |= 1 << uint(i)
						}
					}
				}
				if mask != 0 {
					inst.SetSecretMask(mask)
					for _, d := range inst.Defs() {
						if !taint.IsSecret(d) {
							taint.Mark(d)
							changed = true
						}
					}
				}
			}
			if b.Terminator != nil {
				mask := uint64(0)
				for i, u := range b.Terminator.Uses() {
					if taint.IsSecret(u) && i < 64 {
						mask |= 1 << uint(i)
					}
				}
				if mask != 0 {
					b.Terminator.SetSecretMask(mask)
				}
			}
		}
	}
	return taint
}

// FindSensitiveBranches returns the bitset (keyed by block Index) of
// sensitive-branch blocks: blocks whose terminator is a conditional or
// indirect branch whose condition operand is secret (spec.md §3).
func FindSensitiveBranches(fn *mir.Function, taint *TaintSet) map[int]bool {
	sensitive := map[int]bool{}
	for _, b := range fn.Blocks {
		switch term := b.Terminator.(type) {
		case *mir.BranchTerminator:
			if taint.IsSecret(term.Cond) {
				sensitive[b.Index] = true
			}
		case *mir.IndirectBranchTerminator:
			if taint.IsSecret(term.Cond) {
				sensitive[b.Index] = true
			}
		}
	}
	return sensitive
}
