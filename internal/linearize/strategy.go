package linearize

import (
	"fmt"

	"ctharden/internal/compactorder"
	"ctharden/internal/dom"
	"ctharden/internal/mir"
	"ctharden/internal/region"
	"ctharden/internal/target"
	hardeningerrors "ctharden/internal/errors"
)

// Strategy is spec.md §4.2's common LinearizationAnalysis contract: a
// method picks an order to sweep and a rule for deciding, at each
// sensitive branch, which successor stays plain and which becomes
// Activating. Grounded on internal/ir/optimizations.go's
// OptimizationPass interface — one Name()/Apply() shape, several
// concrete passes selected by the pipeline's configuration.
type Strategy interface {
	Name() string
	// Linearize classifies every edge of fn reachable from order's
	// top-level blocks (recursing into nested loop bodies on its own)
	// and groups Activating edges into ActivatingRegions. post is fn's
	// post-dominator tree, used by strategies whose structural check
	// needs it (SESE's KindNoUnconditionalSucc); PCFL ignores it.
	Linearize(fn *mir.Function, order *compactorder.Order, sensitive map[int]bool, hooks target.Hooks, regions *region.Tree, post *dom.Tree) (*Result, error)
}

// Config bundles the dominator trees LinearizationAnalysis needs for its
// Post step (spec.md §4.2): validating every ActivatingRegion against
// the SESE invariant once a strategy has produced them.
type Config struct {
	Forward *dom.Tree
	Post    *dom.Tree
}

// Analyze runs strategy over fn and returns its classified edges. It is
// the Pre/Core/Post pipeline spec.md §4.2 describes: Pre validates the
// inputs, Core delegates to strategy, Post checks every resulting
// ActivatingRegion against the SESE structural invariant (Exit
// post-dominates Entry, Exit is not itself a region member), aborting
// with KindNonStructurableRegion if either strategy produced a region
// that can't actually be entered/exited the way it claims.
func Analyze(fn *mir.Function, order *compactorder.Order, sensitive map[int]bool, hooks target.Hooks, regions *region.Tree, cfg Config, strategy Strategy) (*Result, error) {
	if fn.Entry == nil {
		return nil, fmt.Errorf("linearize: function %q has no entry block", fn.Name)
	}
	result, err := strategy.Linearize(fn, order, sensitive, hooks, regions, cfg.Post)
	if err != nil {
		return nil, fmt.Errorf("linearize: %s: %w", strategy.Name(), err)
	}
	if err := checkStructurable(fn, result, cfg.Post); err != nil {
		return nil, err
	}
	return result, nil
}

// checkStructurable is spec.md §8's Testable Property #3: for every
// ActivatingRegion, Exit (the region's own activating edge target)
// post-dominates Entry and is not itself one of the region's members.
func checkStructurable(fn *mir.Function, result *Result, post *dom.Tree) error {
	if post == nil {
		return nil
	}
	for _, r := range result.Regions {
		if r.Entry == nil {
			continue
		}
		exit := r.Edge.To
		if exit == nil {
			continue
		}
		if r.Blocks[exit.Index] {
			return hardeningerrors.NewHardeningError(hardeningerrors.KindNonStructurableRegion, fn.Name, []int{r.Entry.Index, exit.Index}, "activating region's exit is also one of its own members")
		}
		if !post.Dominates(exit, r.Entry) {
			return hardeningerrors.NewHardeningError(hardeningerrors.KindNonStructurableRegion, fn.Name, []int{r.Entry.Index, exit.Index}, "activating region's exit does not post-dominate its entry")
		}
	}
	return nil
}
