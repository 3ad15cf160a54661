package constraints

import "ctharden/internal/mir"

// PseudoCleanup implements spec.md §4.7: once register allocation has
// run, SECRET, PERSISTENT_DEF and EXTEND pseudos have done their job
// (keeping the allocator from recycling a register too early) and are
// erased. GHOST_LOAD, BRANCH_TARGET and SECRET_DEP_BR stay — they carry
// real runtime effect (an actual memory read, a real jump target, the
// marker the target's codegen needs to emit the constant-time branch
// pattern) and are target lowering's responsibility to consume, not
// this pipeline's.
//
// Once erased pseudos leave a constraint block with nothing but a
// JumpTerminator, the block is spliced out: its predecessor's
// terminator is rewritten to target the block's own successor
// directly, and the block is dropped from fn.Blocks.
func PseudoCleanup(fn *mir.Function) {
	for _, b := range fn.Blocks {
		b.Instructions = eraseBookkeepingPseudos(b.Instructions)
	}
	collapseTrivialBlocks(fn)
}

func eraseBookkeepingPseudos(instrs []mir.Instruction) []mir.Instruction {
	out := instrs[:0]
	for _, inst := range instrs {
		if p, ok := inst.(*mir.PseudoInst); ok {
			switch p.Kind {
			case mir.Secret, mir.PersistentDef, mir.Extend:
				continue
			}
		}
		out = append(out, inst)
	}
	return out
}

// collapseTrivialBlocks removes every block that has no instructions,
// a JumpTerminator, and exactly one predecessor. A constraint block from
// ConstraintInsertion's SplitBlocks variant keeps its BRANCH_TARGET
// pseudo, so it does not have this shape and is not removed here.
func collapseTrivialBlocks(fn *mir.Function) {
	changed := true
	for changed {
		changed = false
		for _, b := range fn.Blocks {
			if b == fn.Entry || len(b.Instructions) != 0 {
				continue
			}
			jmp, ok := b.Terminator.(*mir.JumpTerminator)
			if !ok || len(b.Predecessors) != 1 {
				continue
			}
			pred := b.Predecessors[0]
			retarget(pred, b, jmp.Target)
			removeFunctionBlock(fn, b)
			changed = true
			break
		}
	}
}

func retarget(pred, from, to *mir.Block) {
	switch term := pred.Terminator.(type) {
	case *mir.JumpTerminator:
		if term.Target == from {
			term.Target = to
		}
	case *mir.BranchTerminator:
		if term.TrueBlock == from {
			term.TrueBlock = to
		}
		if term.FalseBlock == from {
			term.FalseBlock = to
		}
	case *mir.IndirectBranchTerminator:
		for i, t := range term.Targets {
			if t == from {
				term.Targets[i] = to
			}
		}
	}
	pred.RemoveSuccessor(from)
	pred.AddSuccessor(to)
}

func removeFunctionBlock(fn *mir.Function, dead *mir.Block) {
	out := fn.Blocks[:0]
	for _, b := range fn.Blocks {
		if b != dead {
			out = append(out, b)
		}
	}
	fn.Blocks = out
	for _, s := range dead.Successors {
		s.Predecessors = removePredecessor(s.Predecessors, dead)
	}
}

func removePredecessor(list []*mir.Block, target *mir.Block) []*mir.Block {
	out := list[:0]
	for _, b := range list {
		if b != target {
			out = append(out, b)
		}
	}
	return out
}
