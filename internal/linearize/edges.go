// Package linearize implements spec.md §4.2-4.4's LinearizationAnalysis:
// given a function's CompactOrder and its sensitive-branch set, classify
// every control-flow edge as Ghost, Activating or Deferral and group
// Activating edges into ActivatingRegions. Two interchangeable
// strategies are provided, PCFL and SESE, behind the common Strategy
// interface (spec.md §9's flat capability set, grounded on
// internal/ir/optimizations.go's OptimizationPass pattern: one
// interface, several drop-in implementations selected by the pipeline's
// configured method).
package linearize

import (
	"sort"

	"ctharden/internal/compactorder"
	"ctharden/internal/mir"
)

// EdgeKind classifies a control-flow edge once a linearization strategy
// has run.
type EdgeKind int

const (
	// Ghost: the edge needs no transformation; control already flows
	// along it safely (e.g. the sole successor of a non-sensitive block).
	Ghost EdgeKind = iota
	// Activating: the edge PCFL/SESE makes the real, unconditional
	// successor in linear order — the branch that "activates" it.
	Activating
	// Deferral: the edge is not taken in linear order; reaching its
	// target is deferred until the linear sweep arrives there on its
	// own, and PersistencyAnalysis/ConstraintInsertion must keep the
	// values it depends on alive until then.
	Deferral
)

func (k EdgeKind) String() string {
	switch k {
	case Ghost:
		return "ghost"
	case Activating:
		return "activating"
	case Deferral:
		return "deferral"
	default:
		return "unknown"
	}
}

// Edge is one classified control-flow edge.
type Edge struct {
	Kind EdgeKind
	From *mir.Block
	To   *mir.Block
}

// EdgeSet holds a function's edges of one kind, in deterministic
// (From.Index, To.Index) order regardless of insertion order — spec.md
// requires the analysis to be deterministic for a fixed input.
type EdgeSet struct {
	edges []Edge
}

func (s *EdgeSet) Add(e Edge) { s.edges = append(s.edges, e) }

func (s *EdgeSet) Sorted() []Edge {
	out := make([]Edge, len(s.edges))
	copy(out, s.edges)
	sort.Slice(out, func(i, j int) bool {
		if out[i].From.Index != out[j].From.Index {
			return out[i].From.Index < out[j].From.Index
		}
		return out[i].To.Index < out[j].To.Index
	})
	return out
}

func (s *EdgeSet) Len() int { return len(s.edges) }

// ActivatingRegion is spec.md §4.4's unit of grouped activating control
// flow: the set of blocks reachable from an activating edge's target
// before control rejoins the block that created the edge's deferral
// counterpart, or the end of the function.
type ActivatingRegion struct {
	Entry  *mir.Block
	Blocks map[int]bool
	Edge   Edge
}

// Result is LinearizationAnalysis's pure-data output: three edge
// classifications plus the activating regions they imply, along with
// reverse indices keyed by block so later passes don't have to scan
// EdgeSets linearly.
type Result struct {
	Order      *compactorder.Order
	Ghost      EdgeSet
	Activating EdgeSet
	Deferral   EdgeSet
	Regions    []*ActivatingRegion

	byBlockGhost      map[int][]Edge
	byBlockActivating map[int][]Edge
	byBlockDeferral   map[int][]Edge
}

func newResult(order *compactorder.Order) *Result {
	return &Result{
		Order:             order,
		byBlockGhost:      map[int][]Edge{},
		byBlockActivating: map[int][]Edge{},
		byBlockDeferral:   map[int][]Edge{},
	}
}

func (r *Result) record(e Edge) {
	switch e.Kind {
	case Ghost:
		r.Ghost.Add(e)
		r.byBlockGhost[e.From.Index] = append(r.byBlockGhost[e.From.Index], e)
	case Activating:
		r.Activating.Add(e)
		r.byBlockActivating[e.From.Index] = append(r.byBlockActivating[e.From.Index], e)
	case Deferral:
		r.Deferral.Add(e)
		r.byBlockDeferral[e.From.Index] = append(r.byBlockDeferral[e.From.Index], e)
	}
}

// EdgesFrom returns every classified edge leaving b, regardless of kind.
func (r *Result) EdgesFrom(b *mir.Block) []Edge {
	all := append([]Edge{}, r.byBlockGhost[b.Index]...)
	all = append(all, r.byBlockActivating[b.Index]...)
	all = append(all, r.byBlockDeferral[b.Index]...)
	return all
}

// DeferralsFrom returns only the deferral edges leaving b.
func (r *Result) DeferralsFrom(b *mir.Block) []Edge {
	return r.byBlockDeferral[b.Index]
}
