package flow

import (
	"github.com/xzero/flow/diag"
	"github.com/xzero/flow/internal/ast"
	"github.com/xzero/flow/internal/codegen"
	"github.com/xzero/flow/internal/irgen"
	"github.com/xzero/flow/internal/parser"
	"github.com/xzero/flow/internal/sem"
	"github.com/xzero/flow/ir"
	"github.com/xzero/flow/ir/transform"
	"github.com/xzero/flow/vm"
)

// Version is the flow toolchain version string.
const Version = "0.1.0"

// Unit is a parsed FlowLang source file, opaque to the host.
type Unit struct {
	unit *ast.Unit
}

// Handlers returns the names of the handlers declared in the unit.
func (u *Unit) Handlers() []string {
	names := make([]string, 0, len(u.unit.Handlers))
	for _, h := range u.unit.Handlers {
		names = append(names, h.Name)
	}
	return names
}

// Parse turns source text into a unit. Lexical and syntactic errors
// accumulate into report; the unit is returned regardless so callers
// can inspect partial results.
func Parse(src []byte, filename string, report *diag.Report) *Unit {
	return &Unit{unit: parser.Parse(src, filename, report)}
}

// Lower runs semantic analysis and lowers the unit to IR: context
// validation for each configured entry point, AST-to-SSA generation,
// and the registered IR-time native verifiers.
func Lower(u *Unit, runtime *vm.Runtime, opts *Options, report *diag.Report) *ir.Program {
	if opts == nil {
		opts = &Options{}
	}
	opts.applyDefaults()

	isBuiltin := func(name string) bool { return runtime.ContainsName(name) }
	for _, entry := range opts.EntryPoints {
		h := u.unit.FindHandler(entry)
		if h == nil {
			continue
		}
		names, restricted := opts.APISets[entry]
		if !restricted {
			continue
		}
		allowed := make(map[string]bool, len(names))
		for _, n := range names {
			allowed[n] = true
		}
		sem.ValidateContext(u.unit, h, allowed, isBuiltin, report)
	}

	prog := irgen.Generate(u.unit, runtime, report)

	b := ir.NewBuilder(prog)
	runtime.VerifyNativeCalls(prog, b, report)

	return prog
}

// Optimize runs the pass pipeline for the given level (0..2) over the
// program, in place.
func Optimize(prog *ir.Program, level int) {
	pm := transform.NewPassManager()
	pm.Register(transform.UnusedBlockPass{})
	if level >= 1 {
		pm.Register(transform.MergeBlockPass{})
		pm.Register(transform.EmptyBlockElimination{})
	}
	if level >= 2 {
		pm.Register(transform.InstructionElimination{})
	}
	pm.Run(prog)
}

// Codegen lowers the IR to a bytecode program. The returned program
// must be linked against a runtime before it can run.
func Codegen(prog *ir.Program) (*vm.Program, error) {
	return codegen.Generate(prog)
}

// Compile runs the whole pipeline: parse, lower, optimize, codegen,
// link. Returns ok=false when any stage reported errors; the report
// carries the diagnostics. The pipeline short-circuits between
// stages but collects as many errors as possible within each.
func Compile(src []byte, filename string, runtime *vm.Runtime, opts *Options, report *diag.Report) (*vm.Program, bool) {
	if opts == nil {
		opts = &Options{}
	}
	opts.applyDefaults()

	unit := Parse(src, filename, report)
	if report.HasErrors() {
		return nil, false
	}

	irProg := Lower(unit, runtime, opts, report)
	if report.HasErrors() {
		return nil, false
	}

	Optimize(irProg, opts.OptimizationLevel)

	prog, err := Codegen(irProg)
	if err != nil {
		report.TypeError(diag.SourceLocation{}, "code generation failed: %s", err)
		return nil, false
	}

	if !prog.Link(runtime, report) {
		return nil, false
	}
	return prog, true
}
