// SPDX-License-Identifier: Apache-2.0
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"

	"ctharden/internal/ir"
	"ctharden/internal/parser"
	"ctharden/internal/pipeline"
	"ctharden/internal/semantic"
	"ctharden/internal/target"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: ctharden <file.ka> [--method=pcfl|sese] [--analysis-only] [--split-blocks]")
		os.Exit(1)
	}

	path := os.Args[1]
	cfg := pipeline.Config{Method: pipeline.MethodPCFL}
	for _, arg := range os.Args[2:] {
		switch {
		case arg == "--analysis-only":
			cfg.AnalysisOnly = true
		case arg == "--split-blocks":
			cfg.SplitBlocks = true
		case arg == "--method=sese":
			cfg.Method = pipeline.MethodSESE
		case arg == "--method=pcfl":
			cfg.Method = pipeline.MethodPCFL
		default:
			color.Red("unrecognized flag: %s", arg)
			os.Exit(1)
		}
	}

	source, err := os.ReadFile(path)
	if err != nil {
		color.Red("failed to read file: %s", err)
		os.Exit(1)
	}

	contract, parseErrors, scanErrors := parser.ParseSource(path, string(source))
	if len(scanErrors) > 0 || len(parseErrors) > 0 {
		reportFrontendErrors(string(source), scanErrors, parseErrors)
		os.Exit(1)
	}

	analyzer := semantic.NewAnalyzer()
	if errs := analyzer.Analyze(contract); len(errs) > 0 {
		for _, e := range errs {
			color.Red("semantic error: %s (line %d, column %d)", e.Message, e.Position.Line, e.Position.Column)
		}
		os.Exit(1)
	}

	program := ir.BuildProgram(contract, analyzer.GetContext())
	if len(program.Functions) == 0 {
		color.Yellow("%s declares no functions; nothing to harden", path)
		return
	}

	hooks := target.NewGenISA()
	failed := false
	for _, fn := range program.Functions {
		mfn, err := ir.LowerToMIR(fn)
		if err != nil {
			color.Red("%s: %s", fn.Name, err)
			failed = true
			continue
		}

		_, report, err := pipeline.Run(mfn, hooks, cfg)
		if err != nil {
			color.Red("%s: %s", fn.Name, err)
			failed = true
			continue
		}
		if !cfg.AnalysisOnly {
			pipeline.Cleanup(mfn)
		}
		color.Cyan(report.String())
	}

	if failed {
		os.Exit(1)
	}
	color.Green("✅ hardened %s", path)
}

// reportFrontendErrors prints scan and parse errors caret-pointed at
// their source position.
func reportFrontendErrors(src string, scanErrors []parser.ScanError, parseErrors []parser.ParseError) {
	lines := strings.Split(src, "\n")
	caret := func(msg string, pos parser.Position) {
		if pos.Line <= 0 || pos.Line > len(lines) {
			color.Red("❌ %s", msg)
			return
		}
		color.Red("❌ %s at line %d, column %d:", msg, pos.Line, pos.Column)
		fmt.Println(lines[pos.Line-1])
		if pos.Column > 0 {
			color.HiRed(strings.Repeat(" ", pos.Column-1) + "^")
		}
	}
	for _, e := range scanErrors {
		caret(e.Message, e.Position)
	}
	for _, e := range parseErrors {
		caret(e.Message, e.Position)
	}
}
