package ir

import (
	"fmt"

	"ctharden/internal/mir"
)

// LowerToMIR is the bridge between this package's EVM-oriented SSA form
// and the hardening pipeline's target-independent mir.Function. It is a
// structural translation: every BasicBlock becomes a mir.Block at the
// same position, every CFG edge is preserved exactly, and every SSA
// Value becomes a mir.Register. Each instruction becomes one or two
// mir.GenericInst (EVM ops with two results split into a primary
// instruction plus a synthetic follow-on reading the primary's result),
// and every Terminator becomes the matching mir terminator; RevertInstruction
// lowers to a valueless mir.ReturnTerminator since mir has no distinct
// abnormal-exit terminator of its own.
//
// Secret-source identification (spec.md §1's SecretSource) piggybacks on
// source-level naming: a Value keeps whatever name the front end gave it
// (a parameter name, a named local), so a contract author who names a
// parameter "secret_nonce" gets a mir.Register named "secret_nonce" and
// is picked up by internal/secret.SourcesByNameConvention without any
// extra bookkeeping here.
func LowerToMIR(fn *Function) (*mir.Function, error) {
	if fn == nil || fn.Entry == nil {
		return nil, fmt.Errorf("lower: function %q has no entry block", fn.Name)
	}

	l := &lowerer{
		src:    fn,
		dst:    mir.NewFunction(fn.Name),
		blocks: map[*BasicBlock]*mir.Block{},
		regs:   map[int]*mir.Register{},
	}
	return l.run()
}

type lowerer struct {
	src    *Function
	dst    *mir.Function
	blocks map[*BasicBlock]*mir.Block
	regs   map[int]*mir.Register
}

func (l *lowerer) run() (*mir.Function, error) {
	for _, b := range l.src.Blocks {
		l.blocks[b] = l.dst.NewBlock(b.Label)
	}
	l.dst.Entry = l.blocks[l.src.Entry]

	for _, b := range l.src.Blocks {
		mb := l.blocks[b]
		for _, s := range b.Successors {
			ms, ok := l.blocks[s]
			if !ok {
				return nil, fmt.Errorf("lower: block %q has a successor outside the function", b.Label)
			}
			mb.AddSuccessor(ms)
		}
	}

	for _, b := range l.src.Blocks {
		mb := l.blocks[b]
		for _, inst := range b.Instructions {
			if err := l.lowerInstruction(mb, inst); err != nil {
				return nil, err
			}
		}
		if b.Terminator == nil {
			return nil, fmt.Errorf("lower: block %q has no terminator", b.Label)
		}
		term, err := l.lowerTerminator(mb, b.Terminator)
		if err != nil {
			return nil, err
		}
		mb.Terminator = term
	}
	return l.dst, nil
}

// regFor returns v's mir.Register, minting one (and preserving v's source
// name, if any) on first reference.
func (l *lowerer) regFor(v *Value) *mir.Register {
	if v == nil {
		return nil
	}
	if r, ok := l.regs[v.ID]; ok {
		return r
	}
	r := l.dst.NewRegister(classFor(v.Type))
	if v.Name != "" {
		r.Name = v.Name
	}
	l.regs[v.ID] = r
	return r
}

func classFor(t Type) string {
	if _, ok := t.(*BoolType); ok {
		return "pred"
	}
	return "gpr"
}

func (l *lowerer) regsFor(vs []*Value) []*mir.Register {
	var out []*mir.Register
	for _, v := range vs {
		if v == nil {
			continue
		}
		out = append(out, l.regFor(v))
	}
	return out
}

func (l *lowerer) emit(mb *mir.Block, op string, def *Value, uses []*Value, isStore bool) *mir.GenericInst {
	gi := &mir.GenericInst{
		ID:      l.dst.NextInstID(),
		OpName:  op,
		Def:     l.regFor(def),
		UseList: l.regsFor(uses),
		IsStore: isStore,
	}
	gi.SetSlot(l.dst.NextSlot())
	mb.AddInstruction(gi)
	return gi
}

// derived emits a synthetic GenericInst reading primary's own result,
// for the EVM instructions that produce two SSA values (a checked-arith
// op's overflow flag, an ABI encoder's length alongside its data
// pointer) against mir's one-Def-per-instruction shape.
func (l *lowerer) derived(mb *mir.Block, op string, def *Value, primary *Value) {
	if def == nil {
		return
	}
	l.emit(mb, op, def, []*Value{primary}, false)
}

func (l *lowerer) lowerInstruction(mb *mir.Block, inst Instruction) error {
	switch ins := inst.(type) {
	case *PhiInstruction:
		var uses []*Value
		for _, pred := range l.predOrder(ins.Block, ins.Inputs) {
			uses = append(uses, ins.Inputs[pred])
		}
		l.emit(mb, "PHI", ins.Result, uses, false)

	case *LoadInstruction:
		l.emit(mb, "LOAD", ins.Result, []*Value{ins.Address}, false)
	case *StoreInstruction:
		l.emit(mb, "STORE", nil, []*Value{ins.Address, ins.Value}, true)

	case *StorageLoadInstruction:
		l.emit(mb, "SLOAD", ins.Result, []*Value{ins.Slot}, false)
	case *StorageStoreInstruction:
		l.emit(mb, "SSTORE", nil, []*Value{ins.Slot, ins.Value}, true)

	case *KeyedStorageLoadInstruction:
		l.emit(mb, "SLOADK", ins.Result, []*Value{ins.Key}, false)
	case *KeyedStorageStoreInstruction:
		l.emit(mb, "SSTOREK", nil, []*Value{ins.Key, ins.Value}, true)

	case *BinaryInstruction:
		l.emit(mb, ins.Op, ins.Result, []*Value{ins.Left, ins.Right}, false)

	case *CallInstruction:
		l.emit(mb, "CALL:"+ins.Function, ins.Result, ins.Args, false)

	case *ConstantInstruction:
		l.emit(mb, "CONST", ins.Result, nil, false)

	case *SenderInstruction:
		l.emit(mb, "SENDER", ins.Result, nil, false)

	case *EmitInstruction:
		l.emit(mb, "EMIT:"+ins.Event, nil, ins.Args, false)

	case *RequireInstruction:
		l.emit(mb, "REQUIRE", nil, []*Value{ins.Condition, ins.Error}, false)

	case *StorageAddrInstruction:
		l.emit(mb, "SADDR", ins.Result, ins.Keys, false)

	case *CheckedArithInstruction:
		l.emit(mb, ins.Op, ins.ResultVal, []*Value{ins.Left, ins.Right}, false)
		l.derived(mb, ins.Op+"_OK", ins.ResultOk, ins.ResultVal)

	case *AssumeInstruction:
		l.emit(mb, "ASSUME", nil, []*Value{ins.Predicate}, false)

	case *LogInstruction:
		uses := append([]*Value{ins.Signature, ins.DataPtr, ins.DataLen}, ins.TopicArgs...)
		l.emit(mb, fmt.Sprintf("LOG%d:%s", ins.Topics, ins.Event), nil, uses, false)

	case *TopicAddrInstruction:
		l.emit(mb, "TOPICADDR", ins.Result, []*Value{ins.Address}, false)

	case *ABIEncU256Instruction:
		l.emit(mb, "ABIENC", ins.ResultData, []*Value{ins.Value}, false)
		l.derived(mb, "ABILEN", ins.ResultLen, ins.ResultData)

	case *EventSignatureInstruction:
		l.emit(mb, "EVENTSIG", ins.Result, nil, false)

	default:
		return fmt.Errorf("lower: unrecognized instruction %T in block %q", inst, mb.Label)
	}
	return nil
}

// predOrder returns inputs' predecessor blocks in ir.Block.Predecessors
// order, so a phi's synthesized uses are emitted deterministically
// rather than in Go's unordered map-iteration order.
func (l *lowerer) predOrder(b *BasicBlock, inputs map[*BasicBlock]*Value) []*BasicBlock {
	var preds []*BasicBlock
	for _, p := range b.Predecessors {
		if _, ok := inputs[p]; ok {
			preds = append(preds, p)
		}
	}
	return preds
}

func (l *lowerer) lowerTerminator(mb *mir.Block, term Terminator) (mir.Terminator, error) {
	id := l.dst.NextInstID()
	var out mir.Terminator
	switch t := term.(type) {
	case *ReturnTerminator:
		rt := &mir.ReturnTerminator{ID: id, Block: mb, Value: l.regFor(t.Value)}
		out = rt
	case *RevertInstruction:
		out = &mir.ReturnTerminator{ID: id, Block: mb}
	case *BranchTerminator:
		trueB, ok1 := l.blocks[t.TrueBlock]
		falseB, ok2 := l.blocks[t.FalseBlock]
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("lower: branch in block %q targets an unknown block", mb.Label)
		}
		out = &mir.BranchTerminator{ID: id, Block: mb, Cond: l.regFor(t.Condition), TrueBlock: trueB, FalseBlock: falseB}
	case *JumpTerminator:
		target, ok := l.blocks[t.Target]
		if !ok {
			return nil, fmt.Errorf("lower: jump in block %q targets an unknown block", mb.Label)
		}
		out = &mir.JumpTerminator{ID: id, Block: mb, Target: target}
	default:
		return nil, fmt.Errorf("lower: unrecognized terminator %T in block %q", term, mb.Label)
	}
	out.SetSlot(l.dst.NextSlot())
	return out, nil
}
