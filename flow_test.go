package flow_test

import (
	"bytes"
	"strings"
	"testing"

	flow "github.com/xzero/flow"
	"github.com/xzero/flow/diag"
	"github.com/xzero/flow/flowtest"
	"github.com/xzero/flow/vm"
)

func compile(t *testing.T, src string, opts *flow.Options) (*vm.Program, *flowtest.Tester, *diag.Report, bool) {
	t.Helper()
	tester := flowtest.NewTester(nil)
	report := diag.NewReport()
	prog, ok := flow.Compile([]byte(src), "test.flow", tester.Runtime, opts, report)
	return prog, tester, report, ok
}

func compileOK(t *testing.T, src string) (*vm.Program, *flowtest.Tester) {
	t.Helper()
	prog, tester, report, ok := compile(t, src, nil)
	if !ok {
		t.Fatalf("compile failed:\n%s", report)
	}
	return prog, tester
}

func run(t *testing.T, prog *vm.Program, handler string, ctx *flowtest.Context) vm.RunResult {
	t.Helper()
	h := prog.Handler(handler)
	if h == nil {
		t.Fatalf("handler %q missing", handler)
	}
	return h.Run(ctx)
}

// Scenario 1: arithmetic + assert. main runs to completion without
// handling the request and without tripping the assertion.
func TestArithmeticAssert(t *testing.T) {
	prog, tester := compileOK(t, `handler main {
  assert(sum(2, 3) == 5);
}`)
	res := run(t, prog, "main", &flowtest.Context{})
	if res.State != vm.StateSuccess || res.Handled {
		t.Errorf("run: %+v", res)
	}
	if tester.ErrorCount() != 0 {
		t.Errorf("assert fired %d times", tester.ErrorCount())
	}
}

func TestAssertFailureReported(t *testing.T) {
	var sink bytes.Buffer
	tester := flowtest.NewTester(&sink)
	report := diag.NewReport()
	prog, ok := flow.Compile([]byte(`handler main { assert(sum(2, 2) == 5, "math"); }`),
		"test.flow", tester.Runtime, nil, report)
	if !ok {
		t.Fatalf("compile failed:\n%s", report)
	}
	run(t, prog, "main", &flowtest.Context{})
	if tester.ErrorCount() != 1 {
		t.Fatalf("assert fired %d times, want 1", tester.ErrorCount())
	}
	if !strings.Contains(sink.String(), "Assertion failed (math).") {
		t.Errorf("sink: %q", sink.String())
	}
}

// Scenario 2: a setup-only builtin called from main produces exactly
// one TypeError at the offending call.
func TestSetupOnlyAPIInMain(t *testing.T) {
	src := `handler setup { listen port: 8080; }
handler main  { listen port: 9090; }`
	opts := &flow.Options{
		APISets: map[string][]string{
			"setup": {"listen"},
			"main":  {},
		},
	}
	_, _, report, ok := compile(t, src, opts)
	if ok {
		t.Fatal("compile must fail")
	}
	msgs := report.Messages()
	if len(msgs) != 1 {
		t.Fatalf("got %d diagnostics, want 1:\n%s", len(msgs), report)
	}
	m := msgs[0]
	if m.Kind != diag.TypeError {
		t.Errorf("kind: got %s, want TypeError", m.Kind)
	}
	if m.Loc.Begin.Line != 2 {
		t.Errorf("location: got %s, want line 2", m.Loc)
	}
	if !strings.Contains(m.Text, "listen") || !strings.Contains(m.Text, "main") {
		t.Errorf("text: %q", m.Text)
	}
}

// Scenario 3: regex match with captures.
func TestRegexCaptures(t *testing.T) {
	src := `handler main {
  if req.path =~ /^\/user\/(\d+)$/ {
    echo regex.group(1);
  }
}`
	prog, _ := compileOK(t, src)

	var out bytes.Buffer
	res := run(t, prog, "main", &flowtest.Context{Path: "/user/42", Out: &out})
	if res.State != vm.StateSuccess {
		t.Fatalf("run: %+v", res)
	}
	if out.String() != "42\n" {
		t.Errorf("output: got %q, want %q", out.String(), "42\n")
	}

	out.Reset()
	res = run(t, prog, "main", &flowtest.Context{Path: "/x", Out: &out})
	if res.State != vm.StateSuccess || res.Handled {
		t.Fatalf("run: %+v", res)
	}
	if out.String() != "" {
		t.Errorf("output: got %q, want empty", out.String())
	}
}

// Scenario 5: a call to an unregistered native fails at link time
// with exactly one LinkError at the call site.
func TestLinkErrorForUnknownNative(t *testing.T) {
	_, _, report, ok := compile(t, "handler main { frobnicate(); }", nil)
	if ok {
		t.Fatal("link must fail")
	}
	msgs := report.Messages()
	if len(msgs) != 1 {
		t.Fatalf("got %d diagnostics, want 1:\n%s", len(msgs), report)
	}
	if msgs[0].Kind != diag.LinkError {
		t.Errorf("kind: got %s, want LinkError", msgs[0].Kind)
	}
	if !strings.Contains(msgs[0].Text, "frobnicate") {
		t.Errorf("text: %q", msgs[0].Text)
	}
	if msgs[0].Loc.Begin.Line != 1 {
		t.Errorf("location: got %s", msgs[0].Loc)
	}
}

// A regex literal that does not compile surfaces as a LinkError at
// the literal's own span, not an unlocated diagnostic.
func TestLinkErrorForInvalidRegex(t *testing.T) {
	_, _, report, ok := compile(t, `handler main { if req.path =~ /(/ { echo "x"; } }`, nil)
	if ok {
		t.Fatal("link must fail")
	}
	msgs := report.Messages()
	if len(msgs) != 1 {
		t.Fatalf("got %d diagnostics, want 1:\n%s", len(msgs), report)
	}
	if msgs[0].Kind != diag.LinkError {
		t.Errorf("kind: got %s, want LinkError", msgs[0].Kind)
	}
	if msgs[0].Loc.Begin.Line != 1 || msgs[0].Loc.Begin.Column != 31 {
		t.Errorf("location: got %s, want [1:31..]", msgs[0].Loc)
	}
}

// Scenario 6: sleep suspends before echo; resuming finishes the
// handler and flushes the output.
func TestSuspension(t *testing.T) {
	src := `handler main { sleep 1; echo "done"; }`
	prog, _ := compileOK(t, src)

	var out bytes.Buffer
	res := run(t, prog, "main", &flowtest.Context{Out: &out})
	if res.State != vm.StateSuspended {
		t.Fatalf("expected suspension, got %+v", res)
	}
	if out.Len() != 0 {
		t.Errorf("echo ran before resume: %q", out.String())
	}

	res = res.Runner.Resume()
	if res.State != vm.StateSuccess || res.Handled {
		t.Fatalf("after resume: %+v", res)
	}
	if out.String() != "done\n" {
		t.Errorf("output: got %q, want %q", out.String(), "done\n")
	}
}

func TestMatchStatementEndToEnd(t *testing.T) {
	src := `handler main {
  match req.path {
    on "/a" { echo "alpha"; }
    on "/b" { echo "beta"; }
    else { echo "other"; }
  }
}`
	prog, _ := compileOK(t, src)

	tests := []struct {
		path string
		want string
	}{
		{"/a", "alpha\n"},
		{"/b", "beta\n"},
		{"/zzz", "other\n"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			var out bytes.Buffer
			res := run(t, prog, "main", &flowtest.Context{Path: tt.path, Out: &out})
			if res.State != vm.StateSuccess {
				t.Fatalf("run: %+v", res)
			}
			if out.String() != tt.want {
				t.Errorf("output: got %q, want %q", out.String(), tt.want)
			}
		})
	}
}

func TestMatchPrefixClass(t *testing.T) {
	src := `handler main {
  match req.path {
    on =^ "/static/" { echo "static"; }
    else { echo "dynamic"; }
  }
}`
	prog, _ := compileOK(t, src)

	var out bytes.Buffer
	run(t, prog, "main", &flowtest.Context{Path: "/static/css/site.css", Out: &out})
	if out.String() != "static\n" {
		t.Errorf("prefix hit: got %q", out.String())
	}
	out.Reset()
	run(t, prog, "main", &flowtest.Context{Path: "/api/x", Out: &out})
	if out.String() != "dynamic\n" {
		t.Errorf("prefix miss: got %q", out.String())
	}
}

func TestHandlerTrueShortCircuits(t *testing.T) {
	src := `handler main { handler.true; echo "unreachable"; }`
	prog, _ := compileOK(t, src)

	var out bytes.Buffer
	res := run(t, prog, "main", &flowtest.Context{Out: &out})
	if res.State != vm.StateSuccess || !res.Handled {
		t.Fatalf("run: %+v", res)
	}
	if out.Len() != 0 {
		t.Errorf("code after an accepting handler ran: %q", out.String())
	}
}

func TestUserHandlerInlining(t *testing.T) {
	src := `handler accept { handler.true; }
handler main {
  if req.path == "/stop" {
    accept;
  }
  echo "fell through";
}`
	prog, _ := compileOK(t, src)

	var out bytes.Buffer
	res := run(t, prog, "main", &flowtest.Context{Path: "/stop", Out: &out})
	if !res.Handled {
		t.Errorf("inlined handler result must propagate: %+v", res)
	}
	if out.Len() != 0 {
		t.Errorf("output: %q", out.String())
	}

	out.Reset()
	res = run(t, prog, "main", &flowtest.Context{Path: "/other", Out: &out})
	if res.Handled {
		t.Errorf("run: %+v", res)
	}
	if out.String() != "fell through\n" {
		t.Errorf("output: got %q", out.String())
	}
}

func TestDivisionByZeroAtRuntime(t *testing.T) {
	src := `handler main { var zero = sum(0, 0); var x = 1 / zero; echo "" + x; }`
	prog, _ := compileOK(t, src)
	res := run(t, prog, "main", &flowtest.Context{})
	if res.State != vm.StateError {
		t.Fatalf("expected a runtime error, got %+v", res)
	}
}

func TestOptimizationLevelsProduceSameBehavior(t *testing.T) {
	src := `handler main {
  var x = 2 + 3;
  if x == 5 { echo "five"; } else { echo "not five"; }
}`
	for level := 0; level <= 2; level++ {
		tester := flowtest.NewTester(nil)
		report := diag.NewReport()
		prog, ok := flow.Compile([]byte(src), "test.flow", tester.Runtime,
			&flow.Options{OptimizationLevel: level}, report)
		if !ok {
			t.Fatalf("level %d: compile failed:\n%s", level, report)
		}
		var out bytes.Buffer
		res := run(t, prog, "main", &flowtest.Context{Out: &out})
		if res.State != vm.StateSuccess {
			t.Fatalf("level %d: %+v", level, res)
		}
		if out.String() != "five\n" {
			t.Errorf("level %d: output %q", level, out.String())
		}
	}
}

func TestIPAndCidrEndToEnd(t *testing.T) {
	src := `handler main {
  var client = 10.1.2.3;
  if client in 10.0.0.0/8 {
    echo "internal";
  }
}`
	prog, _ := compileOK(t, src)
	var out bytes.Buffer
	res := run(t, prog, "main", &flowtest.Context{Out: &out})
	if res.State != vm.StateSuccess {
		t.Fatalf("run: %+v", res)
	}
	if out.String() != "internal\n" {
		t.Errorf("output: got %q", out.String())
	}
}

func TestParseAPI(t *testing.T) {
	report := diag.NewReport()
	unit := flow.Parse([]byte("handler main { }\nhandler fallback { }"), "t.flow", report)
	if report.HasErrors() {
		t.Fatalf("diagnostics:\n%s", report)
	}
	names := unit.Handlers()
	if len(names) != 2 || names[0] != "main" || names[1] != "fallback" {
		t.Errorf("handlers: %v", names)
	}
}

func TestCompileCollectsMultipleErrors(t *testing.T) {
	src := `handler main {
  var a = true + 1;
  var b = "x" - "y";
}`
	_, _, report, ok := compile(t, src, nil)
	if ok {
		t.Fatal("compile must fail")
	}
	if report.Len() < 2 {
		t.Errorf("expected both type errors to be collected:\n%s", report)
	}
}
