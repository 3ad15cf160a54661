package target

import (
	"fmt"

	"ctharden/internal/mir"
)

// GenISA is a minimal, target-independent instruction set used to
// exercise the hardening pipeline: a generic load/store/arithmetic
// register machine with two-way conditional branches, unconditional
// jumps and returns. It is not modeled on any real ISA; it exists only
// to give TargetHooks a concrete body.
type GenISA struct{}

func NewGenISA() *GenISA { return &GenISA{} }

func (g *GenISA) AnalyzeBranch(b *mir.Block) (trueBlock, falseBlock *mir.Block, cond *mir.Register, err error) {
	switch term := b.Terminator.(type) {
	case *mir.BranchTerminator:
		return term.TrueBlock, term.FalseBlock, term.Cond, nil
	case *mir.JumpTerminator:
		return term.Target, nil, nil, nil
	case *mir.ReturnTerminator:
		return nil, nil, nil, nil
	case *mir.IndirectBranchTerminator:
		// Indirect branches have no single (true, false) pair; callers
		// that need a binary decode should check IsIndirectBranch first.
		return nil, nil, term.Cond, nil
	default:
		return nil, nil, nil, fmt.Errorf("genisa: block %q has no analyzable terminator", b.Label)
	}
}

func (g *GenISA) RemoveBranch(b *mir.Block) int {
	if b.Terminator == nil {
		return 0
	}
	b.Terminator = nil
	return 1
}

func (g *GenISA) InsertBranch(fn *mir.Function, b *mir.Block, trueBlock, falseBlock *mir.Block, cond *mir.Register) {
	id := fn.NextInstID()
	if falseBlock == nil {
		b.Terminator = &mir.JumpTerminator{ID: id, Block: b, Target: trueBlock}
		return
	}
	b.Terminator = &mir.BranchTerminator{ID: id, Block: b, Cond: cond, TrueBlock: trueBlock, FalseBlock: falseBlock}
}

func (g *GenISA) ReverseBranchCondition(term *mir.BranchTerminator) {
	term.TrueBlock, term.FalseBlock = term.FalseBlock, term.TrueBlock
}

func (g *GenISA) IsUnconditionalBranch(i mir.Instruction) bool {
	_, ok := i.(*mir.JumpTerminator)
	return ok
}

func (g *GenISA) IsConditionalBranch(i mir.Instruction) bool {
	_, ok := i.(*mir.BranchTerminator)
	return ok
}

func (g *GenISA) IsIndirectBranch(i mir.Instruction) bool {
	_, ok := i.(*mir.IndirectBranchTerminator)
	return ok
}

// CanFallThrough/GetFallThrough model layout as Function.Blocks order:
// b falls through iff it has exactly one successor and that successor
// is the very next block in layout order.
func (g *GenISA) CanFallThrough(fn *mir.Function, b *mir.Block) bool {
	return g.GetFallThrough(fn, b) != nil
}

func (g *GenISA) GetFallThrough(fn *mir.Function, b *mir.Block) *mir.Block {
	if len(b.Successors) != 1 {
		return nil
	}
	pos := -1
	for i, blk := range fn.Blocks {
		if blk == b {
			pos = i
			break
		}
	}
	if pos < 0 || pos+1 >= len(fn.Blocks) {
		return nil
	}
	next := fn.Blocks[pos+1]
	if b.Successors[0] == next {
		return next
	}
	return nil
}

// ConstantTimeLeakage: every load/store address operand and every
// branch condition leaks; everything else is assumed to be handled by
// register-level mimicry already (spec.md explicitly keeps this
// analysis simple — real classification is target-specific and out of
// scope).
func (g *GenISA) ConstantTimeLeakage(i mir.Instruction) []*mir.Register {
	switch term := i.(type) {
	case *mir.BranchTerminator:
		return []*mir.Register{term.Cond}
	case *mir.IndirectBranchTerminator:
		return []*mir.Register{term.Cond}
	}
	gi, ok := i.(*mir.GenericInst)
	if !ok {
		return nil
	}
	switch gi.OpName {
	case "LOAD", "STORE":
		if len(gi.UseList) > 0 {
			return []*mir.Register{gi.UseList[0]}
		}
	}
	return nil
}

func (g *GenISA) IsPersistentStore(i mir.Instruction) bool {
	gi, ok := i.(*mir.GenericInst)
	return ok && gi.IsStore
}

func (g *GenISA) CreateVirtualRegister(fn *mir.Function, class string) *mir.Register {
	return fn.NewRegister(class)
}
