// Package pipeline wires spec.md §2's stages together: SecretTracker,
// RegionInfo/CompactOrder, LinearizationAnalysis, PersistencyAnalysis,
// ConstraintInsertion and (after an external register allocator has
// run) PseudoCleanup. Grounded on internal/ir/optimizations.go's
// pipeline-of-passes pattern (a fixed, ordered list of named stages run
// over one function, each reporting what it did).
package pipeline

import (
	"fmt"

	"ctharden/internal/compactorder"
	"ctharden/internal/constraints"
	"ctharden/internal/dom"
	"ctharden/internal/linearize"
	"ctharden/internal/mir"
	"ctharden/internal/persistency"
	"ctharden/internal/region"
	"ctharden/internal/secret"
	"ctharden/internal/target"
)

// Method selects which LinearizationAnalysis strategy to run.
type Method int

const (
	MethodPCFL Method = iota
	MethodSESE
)

func (m Method) String() string {
	if m == MethodSESE {
		return "SESE"
	}
	return "PCFL"
}

// Config is the hardening pipeline's top-level configuration.
type Config struct {
	Method       Method
	AnalysisOnly bool // stop after LinearizationAnalysis; do not run ConstraintInsertion
	SplitBlocks  bool // ConstraintInsertion variant (spec.md §4.6)
}

// Report is a structured per-function summary, intended for both the
// CLI's colorized printer and the REPL's step debugger.
type Report struct {
	Function           string
	Method             Method
	SensitiveBranches  int
	GhostEdges         int
	ActivatingEdges    int
	DeferralEdges      int
	ActivatingRegions  int
	PersistentInstrs   int
	PersistentStores   int
	ConstraintBlocks   int
	AnalysisOnly       bool
}

func (r Report) String() string {
	if r.AnalysisOnly {
		return fmt.Sprintf(
			"%s [%s, analysis-only]: %d sensitive branch(es), %d ghost / %d activating / %d deferral edge(s), %d region(s)",
			r.Function, r.Method, r.SensitiveBranches, r.GhostEdges, r.ActivatingEdges, r.DeferralEdges, r.ActivatingRegions,
		)
	}
	return fmt.Sprintf(
		"%s [%s]: %d sensitive branch(es), %d ghost / %d activating / %d deferral edge(s), %d region(s), %d persistent instr(s), %d persistent store(s), %d constraint block(s)",
		r.Function, r.Method, r.SensitiveBranches, r.GhostEdges, r.ActivatingEdges, r.DeferralEdges, r.ActivatingRegions,
		r.PersistentInstrs, r.PersistentStores, r.ConstraintBlocks,
	)
}

// Artifacts is everything Run computed, exposed for callers (the CLI,
// the REPL, tests) that want to inspect a stage's output directly
// rather than just Report's summary.
type Artifacts struct {
	Forward      *dom.Tree
	Post         *dom.Tree
	Loops        []*dom.Loop
	Order        *compactorder.Order
	Regions      *region.Tree
	Sources      *secret.TaintSet
	Taint        *secret.TaintSet
	Sensitive    map[int]bool
	Linearized   *linearize.Result
	Persistency  *persistency.Result
	Intervals    *mir.LiveIntervals
}

// Run executes the full pipeline over fn using hooks as the target
// boundary (spec.md §6). If cfg.AnalysisOnly is set, ConstraintInsertion
// is skipped and fn is left unmodified; otherwise fn is mutated in
// place with PERSISTENT_DEF/EXTEND/GHOST_LOAD/BRANCH_TARGET/SECRET_DEP_BR
// pseudos, ready for register allocation. PseudoCleanup is a separate,
// explicit call (Cleanup) since it must run after an external
// allocator, not as part of this pipeline.
func Run(fn *mir.Function, hooks target.Hooks, cfg Config) (*Artifacts, Report, error) {
	a := &Artifacts{}

	a.Sources = secret.SourcesByNameConvention(fn)
	a.Taint = secret.PropagateTaint(fn, a.Sources)
	a.Sensitive = secret.FindSensitiveBranches(fn, a.Taint)

	a.Forward = dom.Build(fn)
	a.Post = dom.BuildPost(fn)
	a.Loops = dom.NaturalLoops(fn, a.Forward)
	a.Order = compactorder.Build(fn, a.Forward, a.Loops)
	a.Regions = region.Build(fn, a.Forward, a.Post)

	strategy := strategyFor(cfg.Method)
	linCfg := linearize.Config{Forward: a.Forward, Post: a.Post}
	linResult, err := linearize.Analyze(fn, a.Order, a.Sensitive, hooks, a.Regions, linCfg, strategy)
	if err != nil {
		return a, Report{}, err
	}
	a.Linearized = linResult

	report := Report{
		Function:          fn.Name,
		Method:            cfg.Method,
		SensitiveBranches: len(a.Sensitive),
		GhostEdges:        a.Linearized.Ghost.Len(),
		ActivatingEdges:   a.Linearized.Activating.Len(),
		DeferralEdges:     a.Linearized.Deferral.Len(),
		ActivatingRegions: len(a.Linearized.Regions),
		AnalysisOnly:      cfg.AnalysisOnly,
	}
	if cfg.AnalysisOnly {
		return a, report, nil
	}

	a.Persistency = persistency.Analyze(fn, a.Linearized, a.Regions, hooks)
	a.Intervals = mir.NewLiveIntervals()

	blocksBefore := len(fn.Blocks)
	constraints.Insert(fn, a.Sources, a.Linearized, a.Persistency, hooks, constraints.Config{SplitBlocks: cfg.SplitBlocks}, a.Intervals)
	report.ConstraintBlocks = len(fn.Blocks) - blocksBefore

	for _, rr := range a.Persistency.ByRegion {
		report.PersistentInstrs += len(rr.PersistentInstrs)
		report.PersistentStores += len(rr.PersistentStores)
	}

	return a, report, nil
}

// Cleanup runs PseudoCleanup (spec.md §4.7) over fn. Call this after
// register allocation has consumed the pseudos Run inserted.
func Cleanup(fn *mir.Function) {
	constraints.PseudoCleanup(fn)
}

func strategyFor(m Method) linearize.Strategy {
	if m == MethodSESE {
		return linearize.SESE{}
	}
	return linearize.PCFL{}
}
