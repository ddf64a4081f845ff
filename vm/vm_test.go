package vm

import (
	"net/netip"
	"testing"

	"github.com/xzero/flow/diag"
	"github.com/xzero/flow/types"
)

func TestInstructionEncoding(t *testing.T) {
	tests := []struct {
		op       Opcode
		operands []Operand
	}{
		{NOP, nil},
		{ILOAD, []Operand{42}},
		{JMP, []Operand{0xffff}},
		{CALL, []Operand{3, 2, 1}},
		{HANDLER, []Operand{7, 0}},
	}
	for _, tt := range tests {
		in := MakeInstruction(tt.op, tt.operands...)
		if in.Opcode() != tt.op {
			t.Errorf("opcode: got %s, want %s", in.Opcode(), tt.op)
		}
		got := []Operand{in.A(), in.B(), in.C()}
		for i, want := range tt.operands {
			if got[i] != want {
				t.Errorf("%s operand %d: got %d, want %d", tt.op, i, got[i], want)
			}
		}
	}
}

func TestConstantPoolDeduplication(t *testing.T) {
	var cp ConstantPool
	if cp.MakeNumber(7) != cp.MakeNumber(7) {
		t.Error("numbers must deduplicate")
	}
	if cp.MakeString("x") != cp.MakeString("x") {
		t.Error("strings must deduplicate")
	}
	if cp.MakeString("x") == cp.MakeString("y") {
		t.Error("distinct strings must get distinct indices")
	}
	reLoc := diag.SourceLocation{Begin: diag.Pos{Line: 1, Column: 1}}
	if cp.MakeRegexp("a+", reLoc) != cp.MakeRegexp("a+", diag.SourceLocation{}) {
		t.Error("regexps must deduplicate by pattern")
	}
	if cp.Regexps[0].Loc != reLoc {
		t.Error("the first literal's location must be kept")
	}
	a := netip.MustParseAddr("10.0.0.1")
	if cp.MakeIP(a) != cp.MakeIP(a) {
		t.Error("addresses must deduplicate")
	}
	p := netip.MustParsePrefix("10.0.0.0/8")
	if cp.MakeCidr(p) != cp.MakeCidr(p) {
		t.Error("prefixes must deduplicate")
	}
	if cp.MakeStringArray([]string{"a", "b"}) != cp.MakeStringArray([]string{"a", "b"}) {
		t.Error("string arrays must deduplicate")
	}
}

func TestNativeRefDeduplication(t *testing.T) {
	var cp ConstantPool
	sig := types.NewSignature("sum", types.Number, types.Number, types.Number)
	i1 := cp.MakeNativeRef(NativeRef{Sig: sig})
	i2 := cp.MakeNativeRef(NativeRef{Sig: sig})
	if i1 != i2 {
		t.Error("native refs must deduplicate by signature")
	}
	i3 := cp.MakeNativeRef(NativeRef{Sig: sig, IsHandler: true})
	if i1 == i3 {
		t.Error("handler and function refs must stay distinct")
	}
}

func TestRuntimeRegistration(t *testing.T) {
	rt := NewRuntime()
	rt.RegisterFunction("sum", types.Number).
		NumberParam("x").
		NumberParam("y")
	rt.RegisterHandler("deny")

	if !rt.Contains("sum(int, int): int") {
		t.Errorf("canonical signature lookup failed; have %q",
			rt.Builtins()[0].Signature().String())
	}
	if rt.FindName("deny") == nil || !rt.FindName("deny").IsHandler() {
		t.Error("handler registration")
	}
	if rt.FindName("deny").Signature().Ret != types.Boolean {
		t.Error("handlers must return bool")
	}
	if rt.FindName("nope") != nil {
		t.Error("unknown name must not resolve")
	}
}

func TestNativeDefaults(t *testing.T) {
	rt := NewRuntime()
	nc := rt.RegisterFunction("assert", types.Void).
		BoolParam("condition").
		StringParam("description", "")

	if _, has := nc.Default(0); has {
		t.Error("condition has no default")
	}
	def, has := nc.Default(1)
	if !has || def.String() != "" {
		t.Errorf("description default: %v %v", def, has)
	}
}

func TestParamsView(t *testing.T) {
	argv := []Value{{}, NumberValue(2), NumberValue(3)}
	p := NewParams(nil, argv)
	if p.Count() != 2 {
		t.Errorf("count: got %d", p.Count())
	}
	p.SetNumber(p.Int(1) + p.Int(2))
	if p.Result().Number() != 5 {
		t.Errorf("result: got %d", p.Result().Number())
	}
}

func TestLinkUnknownNative(t *testing.T) {
	var cp ConstantPool
	id := cp.MakeHandler("main")
	loc := diag.SourceLocation{
		Begin: diag.Pos{Line: 3, Column: 5},
		End:   diag.Pos{Line: 3, Column: 15},
	}
	nat := cp.MakeNativeRef(NativeRef{
		Sig:       types.Signature{Name: "frobnicate", Ret: types.Boolean},
		IsHandler: true,
		Loc:       loc,
	})
	cp.SetHandlerCode(id, []Instruction{
		MakeInstruction(HANDLER, nat, 0),
		MakeInstruction(EXIT, 0),
	})

	prog := NewProgram(cp)
	report := diag.NewReport()
	if prog.Link(NewRuntime(), report) {
		t.Fatal("link must fail for an unknown native")
	}
	msgs := report.Messages()
	if len(msgs) != 1 {
		t.Fatalf("got %d diagnostics, want 1:\n%s", len(msgs), report)
	}
	if msgs[0].Kind != diag.LinkError {
		t.Errorf("kind: got %s, want LinkError", msgs[0].Kind)
	}
	if msgs[0].Loc != loc {
		t.Errorf("location: got %s, want %s", msgs[0].Loc, loc)
	}
}

func TestLinkInvalidRegex(t *testing.T) {
	var cp ConstantPool
	id := cp.MakeHandler("main")
	loc := diag.SourceLocation{
		Begin: diag.Pos{Line: 2, Column: 7},
		End:   diag.Pos{Line: 2, Column: 12},
	}
	reIdx := cp.MakeRegexp("(", loc)
	cp.SetHandlerCode(id, []Instruction{
		MakeInstruction(SLOAD, cp.MakeString("x")),
		MakeInstruction(RLOAD, reIdx),
		MakeInstruction(SREGMATCH),
		MakeInstruction(EXIT, 0),
	})

	prog := NewProgram(cp)
	report := diag.NewReport()
	if prog.Link(NewRuntime(), report) {
		t.Fatal("link must fail for an invalid regex pattern")
	}
	msgs := report.Messages()
	if len(msgs) != 1 {
		t.Fatalf("got %d diagnostics, want 1:\n%s", len(msgs), report)
	}
	if msgs[0].Kind != diag.LinkError {
		t.Errorf("kind: got %s, want LinkError", msgs[0].Kind)
	}
	if msgs[0].Loc != loc {
		t.Errorf("location: got %s, want %s", msgs[0].Loc, loc)
	}
}

func TestLinkKindMismatch(t *testing.T) {
	var cp ConstantPool
	id := cp.MakeHandler("main")
	nat := cp.MakeNativeRef(NativeRef{
		Sig: types.NewSignature("f", types.Void),
		// The call site expects a function, but "f" is registered as
		// a handler: signatures differ (handlers return bool), so the
		// link must fail.
	})
	cp.SetHandlerCode(id, []Instruction{
		MakeInstruction(CALL, nat, 0, 0),
		MakeInstruction(EXIT, 0),
	})

	rt := NewRuntime()
	rt.RegisterHandler("f")

	prog := NewProgram(cp)
	report := diag.NewReport()
	if prog.Link(rt, report) {
		t.Fatal("link must fail on kind/signature mismatch")
	}
}

func TestLinkSuccessAndRun(t *testing.T) {
	var cp ConstantPool
	id := cp.MakeHandler("main")
	sig := types.NewSignature("sum", types.Number, types.Number, types.Number)
	nat := cp.MakeNativeRef(NativeRef{Sig: sig})
	cp.SetHandlerCode(id, []Instruction{
		MakeInstruction(ILOAD, 2),
		MakeInstruction(ILOAD, 3),
		MakeInstruction(CALL, nat, 2, 1),
		MakeInstruction(ILOAD, 5),
		MakeInstruction(NCMPEQ),
		MakeInstruction(JZ, 7),
		MakeInstruction(EXIT, 1),
		MakeInstruction(EXIT, 0),
	})

	rt := NewRuntime()
	rt.RegisterFunction("sum", types.Number).
		NumberParam("x").
		NumberParam("y").
		Bind(func(p *Params) { p.SetNumber(p.Int(1) + p.Int(2)) })

	prog := NewProgram(cp)
	report := diag.NewReport()
	if !prog.Link(rt, report) {
		t.Fatalf("link failed:\n%s", report)
	}

	res := prog.Handler("main").Run(nil)
	if res.State != StateSuccess || !res.Handled {
		t.Errorf("run: %+v", res)
	}
}

func TestRunnerDivisionByZero(t *testing.T) {
	var cp ConstantPool
	id := cp.MakeHandler("main")
	cp.SetHandlerCode(id, []Instruction{
		MakeInstruction(ILOAD, 1),
		MakeInstruction(ILOAD, 0),
		MakeInstruction(NDIV),
		MakeInstruction(EXIT, 0),
	})
	prog := NewProgram(cp)
	report := diag.NewReport()
	if !prog.Link(NewRuntime(), report) {
		t.Fatalf("link failed:\n%s", report)
	}
	res := prog.Handler("main").Run(nil)
	if res.State != StateError {
		t.Fatalf("expected a runtime error, got %+v", res)
	}
	if _, ok := res.Err.(*RuntimeError); !ok {
		t.Errorf("error type: %T", res.Err)
	}
}

func TestRunnerSuspendResume(t *testing.T) {
	var cp ConstantPool
	id := cp.MakeHandler("main")
	sig := types.NewSignature("pause", types.Void)
	nat := cp.MakeNativeRef(NativeRef{Sig: sig})
	cp.SetHandlerCode(id, []Instruction{
		MakeInstruction(CALL, nat, 0, 0),
		MakeInstruction(EXIT, 1),
	})

	rt := NewRuntime()
	rt.RegisterFunction("pause", types.Void).
		Bind(func(p *Params) { p.Caller().Suspend() })

	prog := NewProgram(cp)
	report := diag.NewReport()
	if !prog.Link(rt, report) {
		t.Fatalf("link failed:\n%s", report)
	}

	res := prog.Handler("main").Run(nil)
	if res.State != StateSuspended {
		t.Fatalf("expected suspension, got %+v", res)
	}

	hookRan := false
	res.Runner.SetResumeHook(func() { hookRan = true })
	res = res.Runner.Resume()
	if !hookRan {
		t.Error("resume hook did not run")
	}
	if res.State != StateSuccess || !res.Handled {
		t.Errorf("after resume: %+v", res)
	}
}

func TestRunnerRewind(t *testing.T) {
	var cp ConstantPool
	id := cp.MakeHandler("main")
	sig := types.NewSignature("pause", types.Void)
	nat := cp.MakeNativeRef(NativeRef{Sig: sig})
	cp.SetHandlerCode(id, []Instruction{
		MakeInstruction(CALL, nat, 0, 0),
		MakeInstruction(EXIT, 1),
	})
	rt := NewRuntime()
	rt.RegisterFunction("pause", types.Void).
		Bind(func(p *Params) { p.Caller().Suspend() })

	prog := NewProgram(cp)
	report := diag.NewReport()
	prog.Link(rt, report)

	res := prog.Handler("main").Run(nil)
	if res.State != StateSuspended {
		t.Fatalf("expected suspension, got %+v", res)
	}
	res.Runner.Rewind()
	if res.Runner.StackDepth() != 0 {
		t.Error("rewind must release the stack")
	}
	after := res.Runner.Resume()
	if after.State != StateError {
		t.Errorf("resume after rewind: %+v", after)
	}
}

func TestRunnerHandlerTrueHalts(t *testing.T) {
	var cp ConstantPool
	id := cp.MakeHandler("main")
	sigTrue := types.Signature{Name: "accept", Ret: types.Boolean}
	sigEcho := types.NewSignature("echo", types.Void, types.String)
	natTrue := cp.MakeNativeRef(NativeRef{Sig: sigTrue, IsHandler: true})
	natEcho := cp.MakeNativeRef(NativeRef{Sig: sigEcho})
	strIdx := cp.MakeString("unreachable")
	cp.SetHandlerCode(id, []Instruction{
		MakeInstruction(HANDLER, natTrue, 0),
		MakeInstruction(SLOAD, strIdx),
		MakeInstruction(CALL, natEcho, 1, 0),
		MakeInstruction(EXIT, 0),
	})

	echoed := false
	rt := NewRuntime()
	rt.RegisterHandler("accept").
		Bind(func(p *Params) { p.SetBool(true) })
	rt.RegisterFunction("echo", types.Void).
		StringParam("text").
		Bind(func(p *Params) { echoed = true })

	prog := NewProgram(cp)
	report := diag.NewReport()
	if !prog.Link(rt, report) {
		t.Fatalf("link failed:\n%s", report)
	}

	res := prog.Handler("main").Run(nil)
	if res.State != StateSuccess || !res.Handled {
		t.Errorf("run: %+v", res)
	}
	if echoed {
		t.Error("execution must halt at the accepting handler")
	}
}

func TestMatchDispatch(t *testing.T) {
	// match table: "/a" -> EXIT 1 at pc 2, else EXIT 0 at pc 3.
	var cp ConstantPool
	id := cp.MakeHandler("main")
	sIn := cp.MakeString("/a")
	matchID := cp.MakeMatch(MatchDef{
		HandlerID: id,
		Class:     MatchSame,
		Cases:     []MatchCaseDef{{ValueIndex: sIn, PC: 2}},
		ElsePC:    3,
	})
	condIdx := cp.MakeString("/a")
	cp.SetHandlerCode(id, []Instruction{
		MakeInstruction(SLOAD, condIdx),
		MakeInstruction(SMATCHEQ, matchID),
		MakeInstruction(EXIT, 1),
		MakeInstruction(EXIT, 0),
	})
	prog := NewProgram(cp)
	report := diag.NewReport()
	prog.Link(NewRuntime(), report)

	res := prog.Handler("main").Run(nil)
	if res.State != StateSuccess || !res.Handled {
		t.Errorf("match hit: %+v", res)
	}
}

func TestUnlinkedProgramRefusesToRun(t *testing.T) {
	var cp ConstantPool
	id := cp.MakeHandler("main")
	cp.SetHandlerCode(id, []Instruction{MakeInstruction(EXIT, 0)})
	prog := NewProgram(cp)

	res := prog.Handler("main").Run(nil)
	if res.State != StateError {
		t.Errorf("unlinked run: %+v", res)
	}
}

func TestValueKinds(t *testing.T) {
	if !BoolValue(true).Bool() || BoolValue(false).Bool() {
		t.Error("bool values")
	}
	if NumberValue(42).Number() != 42 {
		t.Error("number values")
	}
	if StringValue("x").String() != "x" {
		t.Error("string values")
	}
	if NumberValue(42).String() != "42" {
		t.Error("number rendering")
	}
	a := netip.MustParseAddr("10.0.0.1")
	if IPValue(a).IP() != a {
		t.Error("ip values")
	}
	if IPValue(a).Kind() != types.IPAddress {
		t.Error("ip kind")
	}
}
