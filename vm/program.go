package vm

import (
	"fmt"
	"strings"

	"github.com/xzero/flow/diag"
	"github.com/xzero/flow/internal/rt"
)

// Program is a linked or linkable bytecode program: the constant pool
// plus per-handler instruction streams. Programs are immutable after
// linking and freely shared across runners.
type Program struct {
	cp      ConstantPool
	runtime *Runtime

	// natives is aligned with cp.NativeRefs after a successful link.
	natives []*NativeCallback

	// regexps holds the compiled pool patterns, aligned with
	// cp.Regexps.
	regexps []*rt.Regex

	linked bool
}

// NewProgram wraps a constant pool produced by the code generator.
func NewProgram(cp ConstantPool) *Program {
	return &Program{cp: cp}
}

// ConstantPool returns the program's pool.
func (p *Program) ConstantPool() *ConstantPool { return &p.cp }

// Runtime returns the linked runtime, or nil before linking.
func (p *Program) Runtime() *Runtime { return p.runtime }

// IsLinked reports whether Link succeeded.
func (p *Program) IsLinked() bool { return p.linked }

// Handler returns the named handler, or nil.
func (p *Program) Handler(name string) *Handler {
	for id := range p.cp.Handlers {
		if p.cp.Handlers[id].Name == name {
			return &Handler{program: p, id: id}
		}
	}
	return nil
}

// HandlerByID returns the handler with the given table id, or nil.
func (p *Program) HandlerByID(id int) *Handler {
	if id < 0 || id >= len(p.cp.Handlers) {
		return nil
	}
	return &Handler{program: p, id: id}
}

// HandlerNames returns the handler table names in id order.
func (p *Program) HandlerNames() []string {
	names := make([]string, len(p.cp.Handlers))
	for i, h := range p.cp.Handlers {
		names[i] = h.Name
	}
	return names
}

// Link resolves every native reference against the runtime and
// compiles the pool's regex patterns. All failures are reported as
// LinkError diagnostics; returns true when the program is runnable.
func (p *Program) Link(runtime *Runtime, report *diag.Report) bool {
	ok := true

	p.natives = make([]*NativeCallback, len(p.cp.NativeRefs))
	for i, ref := range p.cp.NativeRefs {
		nc := runtime.FindSignature(ref.Sig)
		if nc == nil {
			report.LinkError(ref.Loc, "unknown native %q", ref.Sig.String())
			ok = false
			continue
		}
		if nc.IsHandler() != ref.IsHandler {
			kind := "function"
			if ref.IsHandler {
				kind = "handler"
			}
			report.LinkError(ref.Loc, "native %q is not a %s", ref.Sig.Name, kind)
			ok = false
			continue
		}
		p.natives[i] = nc
	}

	p.regexps = make([]*rt.Regex, len(p.cp.Regexps))
	for i, ref := range p.cp.Regexps {
		re, err := rt.Compile(ref.Pattern)
		if err != nil {
			report.LinkError(ref.Loc,
				"invalid regular expression /%s/: %s", ref.Pattern, err)
			ok = false
			continue
		}
		p.regexps[i] = re
	}

	if ok {
		p.runtime = runtime
		p.linked = true
	}
	return ok
}

// Disassemble returns a human-readable rendering of the pool and all
// handler code.
func (p *Program) Disassemble() string {
	var sb strings.Builder
	sb.WriteString(p.cp.Dump())
	for _, h := range p.cp.Handlers {
		fmt.Fprintf(&sb, "=== Handler %s ===\n", h.Name)
		for pc, in := range h.Code {
			fmt.Fprintf(&sb, "  %4d  %s\n", pc, in)
		}
	}
	return sb.String()
}

// Handler is one runnable entry of a linked program.
type Handler struct {
	program *Program
	id      int
}

// Name returns the handler's name.
func (h *Handler) Name() string { return h.program.cp.Handlers[h.id].Name }

// ID returns the handler's table id.
func (h *Handler) ID() int { return h.id }

// Code returns the handler's instruction stream.
func (h *Handler) Code() []Instruction { return h.program.cp.Handlers[h.id].Code }

// NewRunner creates a fresh runner for one invocation. The context is
// opaque to the VM and surfaced to natives via Params.Caller.
func (h *Handler) NewRunner(ctx any) *Runner {
	return newRunner(h.program, h.id, ctx)
}

// Run executes the handler to completion or first suspension.
func (h *Handler) Run(ctx any) RunResult {
	return h.NewRunner(ctx).Run()
}

// RunState classifies the outcome of a Run or Resume.
type RunState uint8

const (
	// StateSuccess: the handler ran to completion; Handled carries
	// the boolean outcome.
	StateSuccess RunState = iota
	// StateSuspended: a native suspended the runner; resume it via
	// RunResult.Runner.
	StateSuspended
	// StateError: execution failed; Err carries the cause.
	StateError
)

// RunResult is the outcome of running a handler.
type RunResult struct {
	State   RunState
	Handled bool    // valid in StateSuccess
	Runner  *Runner // valid in StateSuspended
	Err     error   // valid in StateError
}
