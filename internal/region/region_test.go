package region

import (
	"testing"

	"ctharden/internal/dom"
	"ctharden/internal/mir"
)

// diamond builds entry -> a -> {b, c} -> d.
func diamond(f *mir.Function) (entry, a, b, c, d *mir.Block) {
	entry = f.NewBlock("entry")
	a = f.NewBlock("a")
	b = f.NewBlock("b")
	c = f.NewBlock("c")
	d = f.NewBlock("d")
	entry.AddSuccessor(a)
	a.AddSuccessor(b)
	a.AddSuccessor(c)
	b.AddSuccessor(d)
	c.AddSuccessor(d)
	f.Entry = entry
	return
}

func TestRegionOfBranchArmHasCorrectExitAndBlocks(t *testing.T) {
	f := mir.NewFunction("f")
	_, a, b, _, d := diamond(f)
	fwd := dom.Build(f)
	post := dom.BuildPost(f)
	tree := Build(f, fwd, post)

	r := tree.RegionOf(b)
	if r == nil {
		t.Fatalf("expected a region entering at b")
	}
	if r.Exit != d {
		t.Fatalf("expected region exit to be d, got %v", r.Exit)
	}
	if !r.Blocks[b.Index] || r.Blocks[d.Index] {
		t.Fatalf("expected blocks={b}, exit d excluded; got %v", r.Blocks)
	}
	_ = a
}

func TestRootRegionCoversWholeFunction(t *testing.T) {
	f := mir.NewFunction("f")
	entry, a, b, c, d := diamond(f)
	fwd := dom.Build(f)
	post := dom.BuildPost(f)
	tree := Build(f, fwd, post)

	for _, blk := range []*mir.Block{entry, a, b, c, d} {
		if !tree.Root.Blocks[blk.Index] {
			t.Fatalf("expected root region to contain block %s", blk.Label)
		}
	}
}

func TestExitingBlocksSingleSuccessorArm(t *testing.T) {
	f := mir.NewFunction("f")
	_, _, b, _, d := diamond(f)
	fwd := dom.Build(f)
	post := dom.BuildPost(f)
	tree := Build(f, fwd, post)

	r := tree.RegionOf(b)
	exits := r.ExitingBlocks()
	if len(exits) != 1 || exits[0] != b {
		t.Fatalf("expected b to be the sole exiting block of its own single-block region, got %v", exits)
	}
	_ = d
}
