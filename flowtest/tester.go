package flowtest

import (
	"fmt"
	"io"
	"time"

	"github.com/xzero/flow/types"
	"github.com/xzero/flow/vm"
)

// Context is the per-request context the tester hands to runners; the
// request natives read from it and echo writes into it.
type Context struct {
	Path   string
	Method string
	Out    io.Writer
}

// Tester is the harness runtime: the natives the test corpus is
// compiled and linked against, plus an error hook for assertion
// failures.
type Tester struct {
	*vm.Runtime

	errorCount int
	errorSink  io.Writer
}

// NewTester builds the harness runtime. Assertion failures and other
// native-reported errors are written to errorSink (may be nil).
func NewTester(errorSink io.Writer) *Tester {
	t := &Tester{
		Runtime:   vm.NewRuntime(),
		errorSink: errorSink,
	}

	t.RegisterHandler("handler.true").
		Bind(func(p *vm.Params) { p.SetBool(true) })

	t.RegisterHandler("handler").
		BoolParam("result").
		Bind(func(p *vm.Params) { p.SetBool(p.Bool(1)) })

	t.RegisterFunction("sum", types.Number).
		NumberParam("x").
		NumberParam("y").
		Bind(func(p *vm.Params) { p.SetNumber(p.Int(1) + p.Int(2)) })

	t.RegisterFunction("assert", types.Void).
		BoolParam("condition").
		StringParam("description", "").
		Bind(func(p *vm.Params) {
			if p.Bool(1) {
				return
			}
			if desc := p.String(2); desc != "" {
				t.reportError(fmt.Sprintf("Assertion failed (%s).", desc))
			} else {
				t.reportError("Assertion failed.")
			}
		})

	t.RegisterFunction("echo", types.Void).
		StringParam("text").
		Bind(func(p *vm.Params) {
			if ctx, ok := p.Caller().Context().(*Context); ok && ctx.Out != nil {
				fmt.Fprintln(ctx.Out, p.String(1))
			}
		})

	t.RegisterFunction("sleep", types.Void).
		NumberParam("seconds").
		Bind(func(p *vm.Params) {
			p.Caller().SuspendFor(time.Duration(p.Int(1)) * time.Second)
		})

	t.RegisterFunction("listen", types.Void).
		NumberParam("port").
		Bind(func(p *vm.Params) {})

	t.RegisterFunction("req.path", types.String).
		SetReadOnly().
		Bind(func(p *vm.Params) {
			if ctx, ok := p.Caller().Context().(*Context); ok {
				p.SetString(ctx.Path)
			} else {
				p.SetString("")
			}
		})

	t.RegisterFunction("req.method", types.String).
		SetReadOnly().
		Bind(func(p *vm.Params) {
			if ctx, ok := p.Caller().Context().(*Context); ok && ctx.Method != "" {
				p.SetString(ctx.Method)
			} else {
				p.SetString("GET")
			}
		})

	t.RegisterFunction("regex.group", types.String).
		NumberParam("position").
		SetReadOnly().
		Bind(func(p *vm.Params) {
			p.SetString(p.Caller().RegexContext().Group(int(p.Int(1))))
		})

	return t
}

// ErrorCount returns the number of native-reported errors so far.
func (t *Tester) ErrorCount() int { return t.errorCount }

// ResetErrors clears the native error counter.
func (t *Tester) ResetErrors() { t.errorCount = 0 }

func (t *Tester) reportError(msg string) {
	t.errorCount++
	if t.errorSink != nil {
		fmt.Fprintf(t.errorSink, "Error. %s\n", msg)
	}
}
