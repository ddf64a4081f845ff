package irgen

import (
	"errors"
	"strings"
	"testing"

	"github.com/xzero/flow/diag"
	"github.com/xzero/flow/internal/parser"
	"github.com/xzero/flow/ir"
	"github.com/xzero/flow/types"
	"github.com/xzero/flow/vm"
)

// testRuntime registers the natives the lowering tests compile
// against.
func testRuntime() *vm.Runtime {
	rt := vm.NewRuntime()
	rt.RegisterFunction("sum", types.Number).
		NumberParam("x").
		NumberParam("y").
		Bind(func(p *vm.Params) { p.SetNumber(p.Int(1) + p.Int(2)) })
	rt.RegisterFunction("assert", types.Void).
		BoolParam("condition").
		StringParam("description", "").
		Bind(func(p *vm.Params) {})
	rt.RegisterFunction("echo", types.Void).
		StringParam("text").
		Bind(func(p *vm.Params) {})
	rt.RegisterFunction("listen", types.Void).
		NumberParam("port").
		Bind(func(p *vm.Params) {})
	rt.RegisterFunction("req.path", types.String).
		Bind(func(p *vm.Params) { p.SetString("/") })
	rt.RegisterHandler("handler.true").
		Bind(func(p *vm.Params) { p.SetBool(true) })
	return rt
}

func lower(t *testing.T, src string) (*ir.Program, *diag.Report) {
	t.Helper()
	report := diag.NewReport()
	unit := parser.Parse([]byte(src), "test.flow", report)
	if report.HasErrors() {
		t.Fatalf("parse diagnostics:\n%s", report)
	}
	prog := Generate(unit, testRuntime(), report)
	return prog, report
}

func lowerOK(t *testing.T, src string) *ir.Program {
	t.Helper()
	prog, report := lower(t, src)
	if report.HasErrors() {
		t.Fatalf("unexpected diagnostics:\n%s", report)
	}
	if err := prog.Verify(); err != nil {
		t.Fatalf("IR verification: %s", err)
	}
	return prog
}

func TestLowerEmptyHandler(t *testing.T) {
	prog := lowerOK(t, "handler main { }")
	h := prog.Handler("main")
	if h == nil {
		t.Fatal("handler not lowered")
	}
	term := h.Entry().Terminator()
	if term.Op != ir.Ret {
		t.Fatalf("terminator: got %s, want ret", term.Op)
	}
	if c, ok := term.Operand(0).(*ir.ConstBool); !ok || c.Value {
		t.Error("empty handler must return false")
	}
}

func TestLowerVarAndArithmetic(t *testing.T) {
	prog := lowerOK(t, "handler main { var x = 2 + 3; x = x * 2; }")
	h := prog.Handler("main")

	var sawAlloca, sawAdd, sawMul, sawStore bool
	for _, in := range h.Entry().Instrs {
		switch in.Op {
		case ir.Alloca:
			sawAlloca = true
		case ir.IAdd:
			sawAdd = true
		case ir.IMul:
			sawMul = true
		case ir.Store:
			sawStore = true
		}
	}
	if !sawAlloca || !sawAdd || !sawMul || !sawStore {
		t.Errorf("missing instructions:\n%s", h)
	}
}

func TestLowerIfControlFlow(t *testing.T) {
	prog := lowerOK(t, `handler main { if 1 == 1 { echo "y"; } else { echo "n"; } }`)
	h := prog.Handler("main")
	if len(h.Blocks) != 4 { // entry, then, end, else
		t.Fatalf("got %d blocks:\n%s", len(h.Blocks), h)
	}
	if h.Entry().Terminator().Op != ir.CondBr {
		t.Errorf("entry terminator: %s", h.Entry().Terminator().Op)
	}
}

func TestLowerMatch(t *testing.T) {
	src := `handler main {
  match req.path {
    on "/a" { echo "a"; }
    on "/b" { echo "b"; }
    else { echo "?"; }
  }
}`
	prog := lowerOK(t, src)
	h := prog.Handler("main")

	m := h.Entry().Terminator()
	if m.Op != ir.Match {
		t.Fatalf("entry terminator: got %s, want match", m.Op)
	}
	if len(m.Cases) != 2 {
		t.Fatalf("cases: got %d, want 2", len(m.Cases))
	}
	if m.MatchOp != ir.MatchSame {
		t.Errorf("class: got %s", m.MatchOp)
	}
	if m.ElseBlock == nil {
		t.Error("else block missing")
	}
}

func TestLowerMatchRegexLabels(t *testing.T) {
	src := `handler main {
  match req.path {
    on =~ /^\/user\// { echo "user"; }
  }
}`
	prog := lowerOK(t, src)
	m := prog.Handler("main").Entry().Terminator()
	if m.MatchOp != ir.MatchRegex {
		t.Fatalf("class: got %s", m.MatchOp)
	}
	if _, ok := m.Cases[0].Label.(*ir.ConstRegExp); !ok {
		t.Errorf("label: got %T, want *ir.ConstRegExp", m.Cases[0].Label)
	}
}

func TestLowerMatchWrongLabelType(t *testing.T) {
	_, report := lower(t, `handler main { match req.path { on 42 { echo "x"; } } }`)
	if !report.HasErrors() {
		t.Fatal("expected a TypeError for a number label in a string match")
	}
}

func TestLowerCallWithDefaults(t *testing.T) {
	// assert's description parameter defaults to "".
	prog := lowerOK(t, "handler main { assert(true); }")
	h := prog.Handler("main")

	var call *ir.Instr
	for _, in := range h.Entry().Instrs {
		if in.Op == ir.Call {
			call = in
		}
	}
	if call == nil {
		t.Fatal("call not lowered")
	}
	if len(call.Operands) != 2 {
		t.Fatalf("operands: got %d, want 2 (default filled)", len(call.Operands))
	}
	if c, ok := call.Operands[1].(*ir.ConstString); !ok || c.Value != "" {
		t.Errorf("default: got %v", call.Operands[1])
	}
}

func TestLowerNamedArguments(t *testing.T) {
	prog := lowerOK(t, "handler main { listen port: 8080; }")
	h := prog.Handler("main")
	var call *ir.Instr
	for _, in := range h.Entry().Instrs {
		if in.Op == ir.Call {
			call = in
		}
	}
	if call == nil {
		t.Fatal("call not lowered")
	}
	if c, ok := call.Operands[0].(*ir.ConstInt); !ok || c.Value != 8080 {
		t.Errorf("port argument: got %v", call.Operands[0])
	}
}

func TestLowerMissingArgument(t *testing.T) {
	_, report := lower(t, "handler main { listen; }")
	if !report.HasErrors() {
		t.Fatal("expected a TypeError for the missing port argument")
	}
	if !strings.Contains(report.String(), "port") {
		t.Errorf("diagnostic should name the parameter:\n%s", report)
	}
}

func TestLowerArgumentCoercion(t *testing.T) {
	// echo takes a string; a number argument goes through a Cast.
	prog := lowerOK(t, "handler main { echo 42; }")
	h := prog.Handler("main")
	var sawCast bool
	for _, in := range h.Entry().Instrs {
		if in.Op == ir.Cast && in.Type() == types.String {
			sawCast = true
		}
	}
	if !sawCast {
		t.Errorf("expected an explicit number-to-string cast:\n%s", h)
	}
}

func TestLowerTypeErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"bool-plus-number", `handler main { var x = true + 1; }`},
		{"string-minus", `handler main { var x = "a" - "b"; }`},
		{"if-non-bool", `handler main { if 1 { echo "x"; } }`},
		{"unknown-variable", `handler main { var x = nope; }`},
		{"assign-undeclared", `handler main { x = 1; }`},
		{"assign-type-mismatch", `handler main { var x = 1; x = true; }`},
		{"regex-rhs", `handler main { var x = "a" =~ "b"; }`},
		{"unknown-expr-call", `handler main { var x = frob(); }`},
		{"handler-in-expr", `handler main { var x = handler.true(); }`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, report := lower(t, tt.src)
			if !report.HasErrors() {
				t.Fatalf("expected a TypeError for %q", tt.src)
			}
			for _, m := range report.Messages() {
				if m.Kind != diag.TypeError {
					t.Errorf("kind: got %s, want TypeError (%s)", m.Kind, m.Text)
				}
			}
		})
	}
}

func TestLowerStringConcatCoercion(t *testing.T) {
	prog := lowerOK(t, `handler main { var x = "n=" + 42; }`)
	h := prog.Handler("main")
	var sawSAdd bool
	for _, in := range h.Entry().Instrs {
		if in.Op == ir.SAdd {
			sawSAdd = true
		}
	}
	if !sawSAdd {
		t.Errorf("mixed + must lower to string concat:\n%s", h)
	}
}

func TestLowerIPAndCidr(t *testing.T) {
	prog := lowerOK(t, `handler main { var hit = 10.0.0.1 in 10.0.0.0/8; }`)
	h := prog.Handler("main")
	var sawInCidr bool
	for _, in := range h.Entry().Instrs {
		if in.Op == ir.PInCidr {
			sawInCidr = true
		}
	}
	if !sawInCidr {
		t.Errorf("ip in cidr must lower to PInCidr:\n%s", h)
	}
}

func TestLowerRegexMatch(t *testing.T) {
	prog := lowerOK(t, `handler main { if req.path =~ /^\/u\// { echo "u"; } }`)
	h := prog.Handler("main")
	var sawRE bool
	for _, bb := range h.Blocks {
		for _, in := range bb.Instrs {
			if in.Op == ir.SCmpRE {
				sawRE = true
			}
		}
	}
	if !sawRE {
		t.Errorf("=~ must lower to SCmpRE:\n%s", h)
	}
}

func TestLowerUserHandlerInlining(t *testing.T) {
	src := `handler helper { echo "from helper"; }
handler main { helper; }`
	prog := lowerOK(t, src)
	h := prog.Handler("main")

	var sawEcho bool
	for _, in := range h.Entry().Instrs {
		if in.Op == ir.Call && in.Callee.Sig.Name == "echo" {
			sawEcho = true
		}
	}
	if !sawEcho {
		t.Errorf("user handler call must inline the callee body:\n%s", h)
	}
}

func TestLowerRecursiveHandlerRejected(t *testing.T) {
	src := `handler a { b; }
handler b { a; }
handler main { a; }`
	_, report := lower(t, src)
	if !report.HasErrors() {
		t.Fatal("expected a TypeError for recursive handler calls")
	}
}

func TestLowerUnknownStatementCallDefersToLink(t *testing.T) {
	// Unknown names in statement position lower to native refs so the
	// linker reports them (LinkError, not TypeError).
	prog, report := lower(t, "handler main { frobnicate(); }")
	if report.HasErrors() {
		t.Fatalf("unexpected diagnostics:\n%s", report)
	}
	var found *ir.Instr
	for _, bb := range prog.Handler("main").Blocks {
		for _, in := range bb.Instrs {
			if in.Op == ir.HandlerCall {
				found = in
			}
		}
	}
	if found == nil {
		t.Fatal("unresolved call must still be lowered")
	}
	if found.Callee.Sig.Name != "frobnicate" {
		t.Errorf("callee: got %q", found.Callee.Sig.Name)
	}
}

func TestLowerUnitVariables(t *testing.T) {
	src := `var limit = 100;
handler main { if limit == 100 { echo "hit"; } }`
	prog := lowerOK(t, src)
	h := prog.Handler("main")
	var sawAlloca bool
	for _, in := range h.Entry().Instrs {
		if in.Op == ir.Alloca {
			sawAlloca = true
		}
	}
	if !sawAlloca {
		t.Errorf("unit variable must materialize in the handler:\n%s", h)
	}
}

func TestVerifierRuns(t *testing.T) {
	report := diag.NewReport()
	unit := parser.Parse([]byte(`handler main { echo "x"; }`), "t.flow", report)

	rt := vm.NewRuntime()
	verifierErr := errors.New("echo is disabled here")
	rt.RegisterFunction("echo", types.Void).
		StringParam("text").
		Bind(func(p *vm.Params) {}).
		SetVerifier(func(call *ir.Instr, b *ir.Builder) error {
			return verifierErr
		})

	prog := Generate(unit, rt, report)
	b := ir.NewBuilder(prog)
	if rt.VerifyNativeCalls(prog, b, report) {
		t.Fatal("verifier rejection must fail verification")
	}
	if !report.HasErrors() {
		t.Fatal("verifier rejection must be reported")
	}
}

func TestVerifierCanFoldCall(t *testing.T) {
	report := diag.NewReport()
	unit := parser.Parse([]byte(`handler main { var x = sys.env("HOME"); }`), "t.flow", report)

	rt := vm.NewRuntime()
	rt.RegisterFunction("sys.env", types.String).
		StringParam("name").
		Bind(func(p *vm.Params) { p.SetString("") }).
		SetVerifier(func(call *ir.Instr, b *ir.Builder) error {
			// Rewrite the call into a compile-time constant.
			folded := b.ConstString("/home/test")
			for _, bb := range b.Handler().Blocks {
				for _, in := range bb.Instrs {
					in.ReplaceOperand(call, folded)
				}
			}
			call.Op = ir.Nop
			call.Operands = nil
			call.Callee = nil
			return nil
		})

	prog := Generate(unit, rt, report)
	mainIR := prog.Handler("main")
	b := ir.NewBuilder(prog)
	if !rt.VerifyNativeCalls(prog, b, report) {
		t.Fatalf("verifier failed:\n%s", report)
	}

	for _, bb := range mainIR.Blocks {
		for _, in := range bb.Instrs {
			if in.Op == ir.Call {
				t.Error("folded call must be gone")
			}
		}
	}
}
