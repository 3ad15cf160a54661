package secret

import (
	"testing"

	"ctharden/internal/mir"
)

func TestPropagateTaintFlowsThroughDefUseChain(t *testing.T) {
	f := mir.NewFunction("f")
	entry := f.NewBlock("entry")
	f.Entry = entry

	secretReg := &mir.Register{ID: 0, Name: "secret_x"}
	mid := &mir.Register{ID: 1, Name: "v1"}
	cond := &mir.Register{ID: 2, Name: "v2"}

	entry.AddInstruction(&mir.GenericInst{ID: 0, OpName: "AND", Def: mid, UseList: []*mir.Register{secretReg}})
	entry.AddInstruction(&mir.GenericInst{ID: 1, OpName: "EQ", Def: cond, UseList: []*mir.Register{mid}})

	t1 := f.NewBlock("t")
	f2 := f.NewBlock("f")
	entry.Terminator = &mir.BranchTerminator{ID: 2, Block: entry, Cond: cond, TrueBlock: t1, FalseBlock: f2}
	entry.AddSuccessor(t1)
	entry.AddSuccessor(f2)

	sources := SourcesByNameConvention(f)
	taint := PropagateTaint(f, sources)

	if !taint.IsSecret(mid) {
		t.Fatalf("expected taint to flow from secret_x into mid")
	}
	if !taint.IsSecret(cond) {
		t.Fatalf("expected taint to flow transitively into cond")
	}

	sensitive := FindSensitiveBranches(f, taint)
	if !sensitive[entry.Index] {
		t.Fatalf("expected entry to be classified as a sensitive-branch block")
	}
}

func TestNonSecretBranchIsNotSensitive(t *testing.T) {
	f := mir.NewFunction("f")
	entry := f.NewBlock("entry")
	f.Entry = entry
	cond := &mir.Register{ID: 0, Name: "v0"}
	t1 := f.NewBlock("t")
	f2 := f.NewBlock("f")
	entry.Terminator = &mir.BranchTerminator{ID: 0, Block: entry, Cond: cond, TrueBlock: t1, FalseBlock: f2}
	entry.AddSuccessor(t1)
	entry.AddSuccessor(f2)

	sources := SourcesByNameConvention(f)
	taint := PropagateTaint(f, sources)
	sensitive := FindSensitiveBranches(f, taint)

	if sensitive[entry.Index] {
		t.Fatalf("did not expect a branch on a non-secret condition to be sensitive")
	}
}
