// Package mir is the machine-level intermediate representation the
// hardening pipeline operates on: basic blocks, generic register-transfer
// instructions and a small set of pseudo-instructions used by the
// persistency and constraint-insertion stages.
//
// It generalizes internal/ir's SSA BasicBlock/Terminator shape down to a
// target-independent machine level, per spec.md §3 (Block, Instruction,
// Region, Secret taint).
package mir

import "fmt"

// RegisterKind distinguishes virtual registers (still subject to
// allocation) from physical ones (already assigned to a machine port).
type RegisterKind int

const (
	Virtual RegisterKind = iota
	Physical
)

// Register is a single SSA-ish value slot. Class is a target-independent
// register-file tag (e.g. "gpr", "pred") that TargetHooks implementations
// may use to pick encodings; this package never interprets it.
type Register struct {
	ID    int
	Name  string
	Kind  RegisterKind
	Class string
}

func (r *Register) String() string {
	if r == nil {
		return "<nil>"
	}
	if r.Name != "" {
		return r.Name
	}
	return fmt.Sprintf("v%d", r.ID)
}

// Instruction is any non-terminator operation in a Block. Operands are
// split into Defs (registers written) and Uses (registers read) per
// spec.md §3; SecretMask is a bitmask over Uses() positions indicating
// which operand is secret-derived (set by internal/secret).
type Instruction interface {
	GetID() int
	Slot() int
	SetSlot(int)
	Op() string
	Defs() []*Register
	Uses() []*Register
	IsTerminator() bool
	SecretMask() uint64
	SetSecretMask(uint64)
	String() string
}

// GenericInst covers ordinary arithmetic, load/store and move operations.
// IsStore marks instructions TargetHooks.isPersistentStore may classify
// as persistent (spec.md §4.5); it carries no semantics of its own here.
type GenericInst struct {
	ID      int
	slot    int
	OpName  string
	Def     *Register
	UseList []*Register
	IsStore bool
	taint   uint64
	Block   *Block
}

func (g *GenericInst) GetID() int           { return g.ID }
func (g *GenericInst) Slot() int            { return g.slot }
func (g *GenericInst) SetSlot(s int)        { g.slot = s }
func (g *GenericInst) Op() string           { return g.OpName }
func (g *GenericInst) IsTerminator() bool   { return false }
func (g *GenericInst) SecretMask() uint64   { return g.taint }
func (g *GenericInst) SetSecretMask(m uint64) { g.taint = m }

func (g *GenericInst) Defs() []*Register {
	if g.Def == nil {
		return nil
	}
	return []*Register{g.Def}
}

func (g *GenericInst) Uses() []*Register { return g.UseList }

func (g *GenericInst) String() string {
	if g.Def != nil {
		return fmt.Sprintf("%s = %s %v", g.Def, g.OpName, g.UseList)
	}
	return fmt.Sprintf("%s %v", g.OpName, g.UseList)
}

// PseudoOp names the target-independent pseudo-instructions inserted by
// constraint insertion (spec.md §4.6) and erased by PseudoCleanup
// (spec.md §4.7).
type PseudoOp string

const (
	PersistentDef PseudoOp = "PERSISTENT_DEF"
	Extend        PseudoOp = "EXTEND"
	GhostLoad     PseudoOp = "GHOST_LOAD"
	BranchTarget  PseudoOp = "BRANCH_TARGET"
	SecretDepBr   PseudoOp = "SECRET_DEP_BR"
	Secret        PseudoOp = "SECRET"
)

// PseudoInst is a single target-independent pseudo-instruction.
type PseudoInst struct {
	ID      int
	slot    int
	Kind    PseudoOp
	Def     *Register   // GHOST_LOAD's fresh destination
	UseList []*Register // PERSISTENT_DEF/EXTEND operands, GHOST_LOAD source
}

func (p *PseudoInst) GetID() int             { return p.ID }
func (p *PseudoInst) Slot() int              { return p.slot }
func (p *PseudoInst) SetSlot(s int)          { p.slot = s }
func (p *PseudoInst) Op() string             { return string(p.Kind) }
func (p *PseudoInst) IsTerminator() bool     { return false }
func (p *PseudoInst) SecretMask() uint64     { return 0 }
func (p *PseudoInst) SetSecretMask(uint64)   {}

func (p *PseudoInst) Defs() []*Register {
	if p.Def == nil {
		return nil
	}
	return []*Register{p.Def}
}

func (p *PseudoInst) Uses() []*Register { return p.UseList }

func (p *PseudoInst) String() string {
	switch p.Kind {
	case GhostLoad:
		return fmt.Sprintf("%s %s, %v", p.Kind, p.Def, p.UseList)
	default:
		return fmt.Sprintf("%s %v", p.Kind, p.UseList)
	}
}

// Terminator ends a Block. Successors() must reflect the live CFG edges,
// not the instruction's encoded targets, once linearization has mutated
// the block graph (see Block.Successors).
type Terminator interface {
	Instruction
	Successors() []*Block
}

// JumpTerminator is an unconditional branch.
type JumpTerminator struct {
	ID     int
	slot   int
	Block  *Block
	Target *Block
}

func (j *JumpTerminator) GetID() int             { return j.ID }
func (j *JumpTerminator) Slot() int              { return j.slot }
func (j *JumpTerminator) SetSlot(s int)          { j.slot = s }
func (j *JumpTerminator) Op() string             { return "JMP" }
func (j *JumpTerminator) IsTerminator() bool     { return true }
func (j *JumpTerminator) SecretMask() uint64     { return 0 }
func (j *JumpTerminator) SetSecretMask(uint64)   {}
func (j *JumpTerminator) Defs() []*Register      { return nil }
func (j *JumpTerminator) Uses() []*Register      { return nil }
func (j *JumpTerminator) Successors() []*Block    { return []*Block{j.Target} }
func (j *JumpTerminator) String() string         { return fmt.Sprintf("jmp %s", j.Target.Label) }

// BranchTerminator is a conditional two-way branch. Cond is the condition
// register; it is the one operand §3's "sensitive branch block" checks.
type BranchTerminator struct {
	ID         int
	slot       int
	Block      *Block
	Cond       *Register
	TrueBlock  *Block
	FalseBlock *Block
	taint      uint64
}

func (b *BranchTerminator) GetID() int           { return b.ID }
func (b *BranchTerminator) Slot() int            { return b.slot }
func (b *BranchTerminator) SetSlot(s int)        { b.slot = s }
func (b *BranchTerminator) Op() string           { return "BR" }
func (b *BranchTerminator) IsTerminator() bool   { return true }
func (b *BranchTerminator) SecretMask() uint64   { return b.taint }
func (b *BranchTerminator) SetSecretMask(m uint64) { b.taint = m }
func (b *BranchTerminator) Defs() []*Register    { return nil }
func (b *BranchTerminator) Uses() []*Register    { return []*Register{b.Cond} }
func (b *BranchTerminator) Successors() []*Block {
	return []*Block{b.TrueBlock, b.FalseBlock}
}
func (b *BranchTerminator) String() string {
	return fmt.Sprintf("br %s, %s, %s", b.Cond, b.TrueBlock.Label, b.FalseBlock.Label)
}

// IndirectBranchTerminator is a multi-way indirect branch (spec.md §3
// allows sensitive branches to be conditional OR indirect).
type IndirectBranchTerminator struct {
	ID      int
	slot    int
	Block   *Block
	Cond    *Register
	Targets []*Block
	taint   uint64
}

func (i *IndirectBranchTerminator) GetID() int           { return i.ID }
func (i *IndirectBranchTerminator) Slot() int            { return i.slot }
func (i *IndirectBranchTerminator) SetSlot(s int)        { i.slot = s }
func (i *IndirectBranchTerminator) Op() string           { return "IBR" }
func (i *IndirectBranchTerminator) IsTerminator() bool   { return true }
func (i *IndirectBranchTerminator) SecretMask() uint64   { return i.taint }
func (i *IndirectBranchTerminator) SetSecretMask(m uint64) { i.taint = m }
func (i *IndirectBranchTerminator) Defs() []*Register    { return nil }
func (i *IndirectBranchTerminator) Uses() []*Register    { return []*Register{i.Cond} }
func (i *IndirectBranchTerminator) Successors() []*Block { return i.Targets }
func (i *IndirectBranchTerminator) String() string       { return fmt.Sprintf("ibr %s", i.Cond) }

// ReturnTerminator exits the function.
type ReturnTerminator struct {
	ID    int
	slot  int
	Block *Block
	Value *Register
}

func (r *ReturnTerminator) GetID() int           { return r.ID }
func (r *ReturnTerminator) Slot() int            { return r.slot }
func (r *ReturnTerminator) SetSlot(s int)        { r.slot = s }
func (r *ReturnTerminator) Op() string           { return "RET" }
func (r *ReturnTerminator) IsTerminator() bool   { return true }
func (r *ReturnTerminator) SecretMask() uint64   { return 0 }
func (r *ReturnTerminator) SetSecretMask(uint64) {}
func (r *ReturnTerminator) Defs() []*Register    { return nil }
func (r *ReturnTerminator) Uses() []*Register {
	if r.Value == nil {
		return nil
	}
	return []*Register{r.Value}
}
func (r *ReturnTerminator) Successors() []*Block { return nil }
func (r *ReturnTerminator) String() string       { return "ret" }

// Block is a CFG node. Index is the stable integer index required by
// spec.md §3 ("indices are unique and dense within a function") and is
// assigned once, at creation time; it never changes even if the block is
// later spliced (a constraint block created mid-pipeline gets the next
// free index, it is never renumbered).
type Block struct {
	Index        int
	Label        string
	Instructions []Instruction
	Terminator   Terminator
	Predecessors []*Block
	Successors   []*Block
	Owner        *Function // the Function that minted this block via NewBlock
}

func (b *Block) AddInstruction(i Instruction) {
	b.Instructions = append(b.Instructions, i)
}

// RemoveSuccessor deletes s from b.Successors and b from s.Predecessors.
// It does not touch the terminator; callers that change control flow
// must keep the terminator's encoded targets and Successors() in sync
// with this edge bookkeeping themselves.
func (b *Block) RemoveSuccessor(s *Block) {
	b.Successors = removeBlock(b.Successors, s)
	s.Predecessors = removeBlock(s.Predecessors, b)
}

func (b *Block) AddSuccessor(s *Block) {
	if !containsBlock(b.Successors, s) {
		b.Successors = append(b.Successors, s)
	}
	if !containsBlock(s.Predecessors, b) {
		s.Predecessors = append(s.Predecessors, b)
	}
}

func removeBlock(list []*Block, target *Block) []*Block {
	out := list[:0]
	for _, b := range list {
		if b != target {
			out = append(out, b)
		}
	}
	return out
}

func containsBlock(list []*Block, target *Block) bool {
	for _, b := range list {
		if b == target {
			return true
		}
	}
	return false
}

// Function is one machine function: a CFG of Blocks plus the register
// and instruction-slot counters used to mint fresh names during
// constraint insertion.
type Function struct {
	Name      string
	Entry     *Block
	Blocks    []*Block // creation order; not the CompactOrder
	nextBlock int
	nextReg   int
	nextInst  int
	nextSlot  int
}

func NewFunction(name string) *Function {
	return &Function{Name: name}
}

// NewBlock creates and registers a Block with the next free stable index.
func (f *Function) NewBlock(label string) *Block {
	b := &Block{Index: f.nextBlock, Label: label, Owner: f}
	f.nextBlock++
	f.Blocks = append(f.Blocks, b)
	return b
}

// NewRegister allocates a fresh virtual register (TargetHooks's
// createVirtualRegister, spec.md §6).
func (f *Function) NewRegister(class string) *Register {
	r := &Register{ID: f.nextReg, Name: fmt.Sprintf("v%d", f.nextReg), Kind: Virtual, Class: class}
	f.nextReg++
	return r
}

func (f *Function) NextInstID() int {
	id := f.nextInst
	f.nextInst++
	return id
}

// NextSlot returns a fresh, monotonically increasing program point used
// to order instructions for live-interval extension (spec.md §4.6).
func (f *Function) NextSlot() int {
	s := f.nextSlot
	f.nextSlot++
	return s
}

// BlockByIndex is a linear lookup helper; functions in this pipeline are
// small enough that an index map is not worth the bookkeeping.
func (f *Function) BlockByIndex(idx int) *Block {
	for _, b := range f.Blocks {
		if b.Index == idx {
			return b
		}
	}
	return nil
}
