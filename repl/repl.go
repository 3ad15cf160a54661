// Package repl SPDX-License-Identifier: Apache-2.0
//
// repl is a pipeline step debugger: it loads a .ka file, lowers its
// functions to mir.Function, and lets the operator step through one
// pipeline stage at a time against a chosen function, printing
// intermediate state instead of running the whole pipeline blind.
package repl

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"ctharden/internal/compactorder"
	"ctharden/internal/constraints"
	"ctharden/internal/dom"
	"ctharden/internal/ir"
	"ctharden/internal/linearize"
	"ctharden/internal/mir"
	"ctharden/internal/parser"
	"ctharden/internal/persistency"
	"ctharden/internal/region"
	"ctharden/internal/secret"
	"ctharden/internal/semantic"
	"ctharden/internal/target"
)

const PROMPT = ">> "

// session holds everything stepped so far for the function under
// inspection; each stage's output feeds the next, mirroring pipeline.Run
// but one step at a time and with each intermediate printed.
type session struct {
	fn        *mir.Function
	hooks     target.Hooks
	sources   *secret.TaintSet
	taint     *secret.TaintSet
	sensitive map[int]bool
	forward   *dom.Tree
	post      *dom.Tree
	loops     []*dom.Loop
	order     *compactorder.Order
	regions   *region.Tree
	lin       *linearize.Result
	pers      *persistency.Result
}

// Start runs the REPL loop against in, printing prompts and output to
// stdout. Commands: load <file.ka> [function], order, linearize [pcfl|sese],
// persistency, constraints, quit.
func Start(in io.Reader) {
	scanner := bufio.NewScanner(in)
	var s *session

	for {
		fmt.Print(PROMPT)
		if !scanner.Scan() {
			return
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "quit", "exit":
			return
		case "load":
			if len(fields) < 2 {
				fmt.Println("usage: load <file.ka> [function]")
				continue
			}
			var fnName string
			if len(fields) > 2 {
				fnName = fields[2]
			}
			next, err := loadFunction(fields[1], fnName)
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			s = next
			fmt.Printf("loaded %s: %d block(s)\n", s.fn.Name, len(s.fn.Blocks))
		case "order":
			if !requireLoaded(s) {
				continue
			}
			stepOrder(s)
		case "linearize":
			if !requireLoaded(s) {
				continue
			}
			method := "pcfl"
			if len(fields) > 1 {
				method = fields[1]
			}
			stepLinearize(s, method)
		case "persistency":
			if !requireLoaded(s) {
				continue
			}
			stepPersistency(s)
		case "constraints":
			if !requireLoaded(s) {
				continue
			}
			stepConstraints(s)
		default:
			fmt.Println("unknown command:", fields[0])
		}
	}
}

func requireLoaded(s *session) bool {
	if s == nil {
		fmt.Println("no function loaded; run `load <file.ka> [function]` first")
		return false
	}
	return true
}

func loadFunction(path, fnName string) (*session, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	contract, parseErrors, scanErrors := parser.ParseSource(path, string(source))
	if len(scanErrors) > 0 {
		return nil, fmt.Errorf("scan error: %s", scanErrors[0].Message)
	}
	if len(parseErrors) > 0 {
		return nil, fmt.Errorf("parse error: %s", parseErrors[0].Message)
	}

	analyzer := semantic.NewAnalyzer()
	if errs := analyzer.Analyze(contract); len(errs) > 0 {
		return nil, fmt.Errorf("semantic error: %s", errs[0].Message)
	}

	program := ir.BuildProgram(contract, analyzer.GetContext())
	if len(program.Functions) == 0 {
		return nil, fmt.Errorf("%s declares no functions", path)
	}
	picked := program.Functions[0]
	if fnName != "" {
		picked = nil
		for _, fn := range program.Functions {
			if fn.Name == fnName {
				picked = fn
				break
			}
		}
		if picked == nil {
			return nil, fmt.Errorf("no function named %q", fnName)
		}
	}

	mfn, err := ir.LowerToMIR(picked)
	if err != nil {
		return nil, err
	}
	return &session{fn: mfn, hooks: target.NewGenISA()}, nil
}

func stepOrder(s *session) {
	s.sources = secret.SourcesByNameConvention(s.fn)
	s.taint = secret.PropagateTaint(s.fn, s.sources)
	s.sensitive = secret.FindSensitiveBranches(s.fn, s.taint)
	s.forward = dom.Build(s.fn)
	s.post = dom.BuildPost(s.fn)
	s.loops = dom.NaturalLoops(s.fn, s.forward)
	s.order = compactorder.Build(s.fn, s.forward, s.loops)
	s.regions = region.Build(s.fn, s.forward, s.post)

	fmt.Printf("%d secret source(s), %d sensitive branch(es), %d loop(s)\n", s.sources.Len(), len(s.sensitive), len(s.loops))
	for i, n := range s.order.Nodes {
		switch n.Kind {
		case compactorder.NodeBlock:
			fmt.Printf("  [%d] block %s\n", i, n.Block.Label)
		case compactorder.NodeLoop:
			fmt.Printf("  [%d] loop header=%s (%d block(s) collapsed)\n", i, n.Header.Label, len(n.Loop.Body))
		}
	}
}

func stepLinearize(s *session, method string) {
	if s.order == nil {
		stepOrder(s)
	}
	var strategy linearize.Strategy = linearize.PCFL{}
	if method == "sese" {
		strategy = linearize.SESE{}
	}
	linCfg := linearize.Config{Forward: s.forward, Post: s.post}
	lin, err := linearize.Analyze(s.fn, s.order, s.sensitive, s.hooks, s.regions, linCfg, strategy)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	s.lin = lin
	fmt.Printf("%s: %d ghost / %d activating / %d deferral edge(s), %d region(s)\n",
		strategy.Name(), lin.Ghost.Len(), lin.Activating.Len(), lin.Deferral.Len(), len(lin.Regions))
	for _, e := range lin.Activating.Sorted() {
		fmt.Printf("  activating: %s -> %s\n", e.From.Label, e.To.Label)
	}
	for _, e := range lin.Deferral.Sorted() {
		fmt.Printf("  deferral:   %s -> %s\n", e.From.Label, e.To.Label)
	}
}

func stepPersistency(s *session) {
	if s.lin == nil {
		stepLinearize(s, "pcfl")
	}
	s.pers = persistency.Analyze(s.fn, s.lin, s.regions, s.hooks)
	for _, r := range s.pers.Order {
		rr := s.pers.ByRegion[r]
		fmt.Printf("region@%s: %d region input(s), %d persistent instr(s), %d persistent store(s)\n",
			r.Entry.Label, len(rr.RegionInputs), len(rr.PersistentInstrs), len(rr.PersistentStores))
	}
}

func stepConstraints(s *session) {
	if s.pers == nil {
		stepPersistency(s)
	}
	blocksBefore := len(s.fn.Blocks)
	intervals := mir.NewLiveIntervals()
	constraints.Insert(s.fn, s.sources, s.lin, s.pers, s.hooks, constraints.Config{SplitBlocks: true}, intervals)
	fmt.Printf("inserted constraints: %d new block(s)\n", len(s.fn.Blocks)-blocksBefore)
}
