// Package compactorder builds spec.md §4.1's CompactOrder: a linear,
// loop-respecting reverse-postorder of a function's blocks in which
// every natural loop collapses to a single node. LinearizationAnalysis
// sweeps this order rather than the raw CFG so that PCFL and SESE never
// have to special-case back edges themselves.
//
// Grounded on fkuehnel-golang-cfg/go-code/dom.go's postorder/reverse
// postorder traversal style, composed with internal/dom's natural-loop
// detection.
package compactorder

import (
	"ctharden/internal/dom"
	"ctharden/internal/mir"
)

// NodeKind distinguishes a plain-block CompactNode from one that stands
// in for an entire natural loop.
type NodeKind int

const (
	NodeBlock NodeKind = iota
	NodeLoop
)

// Node is spec.md §4.1's CompactNode: either a single Block or a Loop
// (identified by its header).
type Node struct {
	Kind   NodeKind
	Block  *mir.Block // set when Kind == NodeBlock
	Header *mir.Block // set when Kind == NodeLoop: the loop's header
	Loop   *dom.Loop  // set when Kind == NodeLoop
}

// Order is the result of Build: a stable vector of Nodes in collapsed
// reverse-postorder, plus an auxiliary index from every block (whether
// or not it belongs to a collapsed loop) to its position in Nodes.
//
// Blocks that belong to a loop share the loop's own position — the
// Loop Node occupies one slot in Nodes, and every block inside that
// loop's body maps to that same slot via BlockIndex. A loop's own
// internal structure is available via Inner, keyed by the loop
// header's block Index: a recursively built Order over just that
// loop's body, with the header as entry. This lets LinearizationAnalysis
// run once over the function-level Order (treating loops as opaque)
// and, separately, once per loop body when a loop itself contains a
// sensitive branch (spec.md §8 scenario S4).
type Order struct {
	Nodes      []Node
	BlockIndex map[int]int
	Inner      map[int]*Order
}

// PositionOf returns b's position in Nodes (shared with every other
// block of the same collapsed loop), and false if b is unreachable and
// was never assigned a position.
func (o *Order) PositionOf(b *mir.Block) (int, bool) {
	pos, ok := o.BlockIndex[b.Index]
	return pos, ok
}

// Build computes the CompactOrder for fn given its forward dominator
// tree and its natural loops (both from package dom).
func Build(fn *mir.Function, forward *dom.Tree, loops []*dom.Loop) *Order {
	loopByHeader := make(map[int]*dom.Loop, len(loops))
	for _, l := range loops {
		loopByHeader[l.Header.Index] = l
	}

	scope := make(map[int]bool, len(fn.Blocks))
	for _, b := range fn.Blocks {
		if forward.Reachable(b) {
			scope[b.Index] = true
		}
	}

	o := &Order{BlockIndex: map[int]int{}, Inner: map[int]*Order{}}
	o.Nodes = buildScoped(fn.Entry, scope, loopByHeader, nil)
	assignPositions(o, o.Nodes)

	for _, l := range loops {
		o.Inner[l.Header.Index] = buildLoopBody(l, loopByHeader)
	}
	return o
}

// buildLoopBody recursively builds the CompactOrder of a single loop's
// body, with the header as entry and the loop itself as the
// "currently expanding" context (so its own header is never collapsed
// a second time).
func buildLoopBody(l *dom.Loop, loopByHeader map[int]*dom.Loop) *Order {
	inner := &Order{BlockIndex: map[int]int{}, Inner: map[int]*Order{}}
	inner.Nodes = buildScopedInLoop(l.Header, l.Body, loopByHeader, l)
	assignPositions(inner, inner.Nodes)
	for _, nested := range loopByHeader {
		if nested == l {
			continue
		}
		if nested.Header.Index == l.Header.Index {
			continue
		}
		if subsetOf(nested.Body, l.Body) {
			inner.Inner[nested.Header.Index] = buildLoopBody(nested, loopByHeader)
		}
	}
	return inner
}

func subsetOf(a, b map[int]bool) bool {
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}

func assignPositions(o *Order, nodes []Node) {
	for i, n := range nodes {
		switch n.Kind {
		case NodeBlock:
			o.BlockIndex[n.Block.Index] = i
		case NodeLoop:
			o.BlockIndex[n.Header.Index] = i
			for idx := range n.Loop.Body {
				o.BlockIndex[idx] = i
			}
		}
	}
}

// buildScoped computes the collapsed reverse-postorder of the
// top-level (non-loop) graph: whenever DFS reaches a loop header whose
// entire body lies within scope, it is collapsed to a single Loop
// node and the traversal continues only through the loop's exits.
func buildScoped(entry *mir.Block, scope map[int]bool, loopByHeader map[int]*dom.Loop, currentlyExpanding *dom.Loop) []Node {
	visited := map[int]bool{}
	var postorder []Node

	var dfs func(b *mir.Block)
	dfs = func(b *mir.Block) {
		if visited[b.Index] {
			return
		}
		visited[b.Index] = true

		if loop, ok := loopByHeader[b.Index]; ok && loop != currentlyExpanding && subsetOf(loop.Body, scope) {
			for _, exit := range loop.Exits {
				if scope[exit.Index] {
					dfs(exit)
				}
			}
			postorder = append(postorder, Node{Kind: NodeLoop, Header: b, Loop: loop})
			return
		}

		for _, s := range b.Successors {
			if scope[s.Index] {
				dfs(s)
			}
		}
		postorder = append(postorder, Node{Kind: NodeBlock, Block: b})
	}
	dfs(entry)

	return reverseNodes(postorder)
}

// buildScopedInLoop is buildScoped specialized for recursing into a
// loop's own body: the loop's own header is never re-collapsed, but
// any other loop fully nested inside this one's body still is.
func buildScopedInLoop(entry *mir.Block, scope map[int]bool, loopByHeader map[int]*dom.Loop, self *dom.Loop) []Node {
	return buildScoped(entry, scope, loopByHeader, self)
}

func reverseNodes(po []Node) []Node {
	n := len(po)
	rev := make([]Node, n)
	for i, node := range po {
		rev[n-1-i] = node
	}
	return rev
}

// Blocks flattens a (non-recursive) Order into its plain-block
// members in Nodes order, skipping Loop nodes — useful for callers
// that just want "every ordinary top-level block" (e.g. pretty
// printers). Loop members are available via Inner.
func Blocks(o *Order) []*mir.Block {
	var out []*mir.Block
	for _, n := range o.Nodes {
		if n.Kind == NodeBlock {
			out = append(out, n.Block)
		}
	}
	return out
}
