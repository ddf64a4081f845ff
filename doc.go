// Package flow implements the FlowLang toolchain: the compiler
// front-end (lexer, parser, semantic analysis), a typed SSA
// intermediate representation with an optimizing pass manager, a
// stack-machine bytecode back-end, and the runtime registry natives
// are linked against.
//
// The host builds a program once per configuration load:
//
//	runtime := vm.NewRuntime()
//	runtime.RegisterFunction("sum", types.Number).
//		NumberParam("x").
//		NumberParam("y").
//		Bind(func(p *vm.Params) { p.SetNumber(p.Int(1) + p.Int(2)) })
//
//	report := diag.NewReport()
//	prog, ok := flow.Compile([]byte(source), "main.flow", runtime, nil, report)
//	if !ok {
//		log.Fatal(report)
//	}
//
// and then runs the compiled "main" handler once per request:
//
//	switch res := prog.Handler("main").Run(ctx); res.State {
//	case vm.StateSuccess: ...
//	case vm.StateSuspended: ... // park, resume via res.Runner.Resume()
//	case vm.StateError: ...
//	}
package flow
