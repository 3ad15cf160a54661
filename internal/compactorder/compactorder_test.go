package compactorder

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
	f.Entry = entry
	entry.AddSuccessor(a)
	a.AddSuccessor(b)
	a.AddSuccessor(c)
	b.AddSuccessor(d)
	c.AddSuccessor(d)
	return
}

func TestDiamondOrderIsPlainReversePostorder(t *testing.T) {
	f := mir.NewFunction("f")
	entry, a, b, c, d := diamond(f)

	forward := dom.Build(f)
	loops := dom.NaturalLoops(f, forward)
	if len(loops) != 0 {
		t.Fatalf("expected no loops in a diamond, got %d", len(loops))
	}

	o := Build(f, forward, loops)
	if len(o.Nodes) != 5 {
		t.Fatalf("expected 5 nodes, got %d", len(o.Nodes))
	}
	for _, n := range o.Nodes {
		if n.Kind != NodeBlock {
			t.Fatalf("did not expect any Loop node in a diamond")
		}
	}

	posEntry, _ := o.PositionOf(entry)
	posA, _ := o.PositionOf(a)
	posB, _ := o.PositionOf(b)
	posC, _ := o.PositionOf(c)
	posD, _ := o.PositionOf(d)

	if posEntry != 0 || posA != 1 {
		t.Fatalf("expected entry then a at positions 0,1; got %d,%d", posEntry, posA)
	}
	if posD != 4 {
		t.Fatalf("expected d last at position 4, got %d", posD)
	}
	if !(posB == 2 || posB == 3) || !(posC == 2 || posC == 3) || posB == posC {
		t.Fatalf("expected b and c at positions 2 and 3 in some order, got %d %d", posB, posC)
	}
}

// loopCFG builds entry -> header -> body -> {header (back edge), exit1, exit2}.
func loopCFG(f *mir.Function) (entry, header, body, exit1, exit2 *mir.Block) {
	entry = f.NewBlock("entry")
	header = f.NewBlock("header")
	body = f.NewBlock("body")
	exit1 = f.NewBlock("exit1")
	exit2 = f.NewBlock("exit2")
	f.Entry = entry
	entry.AddSuccessor(header)
	header.AddSuccessor(body)
	body.AddSuccessor(header)
	body.AddSuccessor(exit1)
	body.AddSuccessor(exit2)
	return
}

func TestLoopCollapsesToSingleNode(t *testing.T) {
	f := mir.NewFunction("f")
	entry, header, body, exit1, exit2 := loopCFG(f)

	forward := dom.Build(f)
	loops := dom.NaturalLoops(f, forward)
	if len(loops) != 1 {
		t.Fatalf("expected exactly one natural loop, got %d", len(loops))
	}

	o := Build(f, forward, loops)

	var loopNodes int
	for _, n := range o.Nodes {
		if n.Kind == NodeLoop {
			loopNodes++
			if n.Header != header {
				t.Fatalf("expected loop node's header to be %v, got %v", header, n.Header)
			}
		}
	}
	if loopNodes != 1 {
		t.Fatalf("expected the loop to collapse into exactly one CompactNode, got %d", loopNodes)
	}

	posHeader, _ := o.PositionOf(header)
	posBody, _ := o.PositionOf(body)
	if posHeader != posBody {
		t.Fatalf("expected header and body to share the loop's position, got %d and %d", posHeader, posBody)
	}

	posEntry, _ := o.PositionOf(entry)
	posExit1, _ := o.PositionOf(exit1)
	posExit2, _ := o.PositionOf(exit2)
	if posEntry >= posHeader {
		t.Fatalf("expected entry before the loop")
	}
	if posExit1 <= posHeader || posExit2 <= posHeader {
		t.Fatalf("expected both exits after the loop")
	}

	inner, ok := o.Inner[header.Index]
	if !ok {
		t.Fatalf("expected an Inner order recorded for the loop header")
	}
	if len(inner.Nodes) != 2 {
		t.Fatalf("expected the loop's inner order to contain header and body only, got %d nodes", len(inner.Nodes))
	}
	innerPosHeader, _ := inner.PositionOf(header)
	innerPosBody, _ := inner.PositionOf(body)
	if innerPosHeader != 0 || innerPosBody != 1 {
		t.Fatalf("expected inner order [header, body], got positions %d, %d", innerPosHeader, innerPosBody)
	}
}
