// Package target defines TargetHooks (spec.md §6), the one interface the
// hardening pipeline is allowed to cross the target-lowering boundary
// through, plus genisa, a single concrete target-independent
// implementation good enough to exercise the pipeline end to end.
// Grounded on internal/ir/types.go's Terminator/BranchTerminator/
// JumpTerminator split, generalized one level down to mir.
package target

import "ctharden/internal/mir"

// Hooks is spec.md §6's TargetHooks table as a Go interface.
type Hooks interface {
	// AnalyzeBranch decodes b's terminator: true-target, false-target
	// (nil for an unconditional branch) and the condition register (nil
	// for an unconditional branch). Returns an error the caller should
	// surface as MalformedTerminator if b's terminator cannot be
	// classified at all.
	AnalyzeBranch(b *mir.Block) (trueBlock, falseBlock *mir.Block, cond *mir.Register, err error)

	// RemoveBranch strips b's terminator, returning how many branch
	// instructions were removed (0 or 1 in this single-terminator model).
	RemoveBranch(b *mir.Block) int

	// InsertBranch emits a new terminator on b. falseBlock == nil means
	// unconditional. fn mints the terminator's instruction ID.
	InsertBranch(fn *mir.Function, b *mir.Block, trueBlock, falseBlock *mir.Block, cond *mir.Register)

	// ReverseBranchCondition inverts term's sense in place.
	ReverseBranchCondition(term *mir.BranchTerminator)

	IsUnconditionalBranch(i mir.Instruction) bool
	IsConditionalBranch(i mir.Instruction) bool
	IsIndirectBranch(i mir.Instruction) bool

	// CanFallThrough/GetFallThrough expose the target's layout-dependent
	// notion of "falls through to the next block".
	CanFallThrough(fn *mir.Function, b *mir.Block) bool
	GetFallThrough(fn *mir.Function, b *mir.Block) *mir.Block

	// ConstantTimeLeakage returns the operands of i whose value or
	// timing must be hidden (spec.md §4.5 step 1).
	ConstantTimeLeakage(i mir.Instruction) []*mir.Register

	// IsPersistentStore reports whether i is an observable store that
	// must appear on every linearized path (spec.md §4.5 step 2).
	IsPersistentStore(i mir.Instruction) bool

	CreateVirtualRegister(fn *mir.Function, class string) *mir.Register
}
