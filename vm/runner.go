package vm

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xzero/flow/internal/rt"
	"github.com/xzero/flow/types"
)

// RuntimeError is an execution failure of one runner. It halts the
// runner only; the program itself stays valid.
type RuntimeError struct {
	Message string
}

func (e *RuntimeError) Error() string {
	return "runtime error: " + e.Message
}

// ErrAborted is returned when a rewound runner is resumed.
var ErrAborted = errors.New("runner aborted")

// defaultStackSize is the initial stack capacity of a runner.
const defaultStackSize = 64

// Runner executes one handler invocation. A runner is single-threaded:
// it must never be touched by more than one goroutine at a time,
// though many runners may execute the same program in parallel.
type Runner struct {
	program *Program
	id      int // handler table id
	code    []Instruction

	pc    int
	stack []Value

	ctx any // host request context, opaque to the VM

	regexCtx rt.MatchContext

	suspended   bool
	aborted     bool
	resumeAfter time.Duration
	resumeHook  func()
}

func newRunner(program *Program, id int, ctx any) *Runner {
	return &Runner{
		program: program,
		id:      id,
		code:    program.cp.Handlers[id].Code,
		stack:   make([]Value, 0, defaultStackSize),
		ctx:     ctx,
	}
}

// Context returns the opaque host context the runner was created with.
func (r *Runner) Context() any { return r.ctx }

// Program returns the program the runner executes.
func (r *Runner) Program() *Program { return r.program }

// StackDepth returns the current value stack depth.
func (r *Runner) StackDepth() int { return len(r.stack) }

// RegexContext returns the runner's regex match context.
func (r *Runner) RegexContext() *rt.MatchContext { return &r.regexCtx }

// Suspend marks the runner suspended; the dispatch loop returns
// control to the host after the current native returns.
func (r *Runner) Suspend() { r.suspended = true }

// SuspendFor suspends and records the delay after which the host
// should resume (e.g. sleep).
func (r *Runner) SuspendFor(d time.Duration) {
	r.resumeAfter = d
	r.Suspend()
}

// ResumeAfter returns the delay recorded by SuspendFor.
func (r *Runner) ResumeAfter() time.Duration { return r.resumeAfter }

// IsSuspended reports whether the runner is parked at a suspension
// point.
func (r *Runner) IsSuspended() bool { return r.suspended }

// SetResumeHook registers a function invoked when the host resumes
// the runner.
func (r *Runner) SetResumeHook(hook func()) { r.resumeHook = hook }

// Rewind aborts an in-flight handler: the stack is released and any
// later Resume returns failure.
func (r *Runner) Rewind() {
	r.aborted = true
	r.suspended = false
	r.stack = nil
	r.pc = 0
}

// Run starts execution from the entry point.
func (r *Runner) Run() RunResult {
	if r.aborted {
		return RunResult{State: StateError, Err: ErrAborted}
	}
	if !r.program.linked {
		return RunResult{State: StateError,
			Err: &RuntimeError{Message: "program is not linked"}}
	}
	return r.loop()
}

// Resume re-enters the dispatch loop at the saved program counter.
func (r *Runner) Resume() RunResult {
	if r.aborted {
		return RunResult{State: StateError, Err: ErrAborted}
	}
	r.suspended = false
	r.resumeAfter = 0
	if r.resumeHook != nil {
		hook := r.resumeHook
		r.resumeHook = nil
		hook()
	}
	return r.loop()
}

func (r *Runner) push(v Value) { r.stack = append(r.stack, v) }

func (r *Runner) pop() Value {
	v := r.stack[len(r.stack)-1]
	r.stack = r.stack[:len(r.stack)-1]
	return v
}

func (r *Runner) fail(format string, args ...any) RunResult {
	return RunResult{State: StateError,
		Err: &RuntimeError{Message: fmt.Sprintf(format, args...)}}
}

// loop is the fetch-decode-execute dispatch loop. The VM is fully
// synchronous between suspension points.
func (r *Runner) loop() RunResult {
	cp := &r.program.cp

	for r.pc < len(r.code) {
		in := r.code[r.pc]
		r.pc++

		switch in.Opcode() {
		case NOP:

		// ------------------------------------------------- stack
		case ILOAD:
			r.push(NumberValue(int64(in.A())))
		case NLOAD:
			r.push(NumberValue(cp.Numbers[in.A()]))
		case SLOAD:
			r.push(StringValue(cp.Strings[in.A()]))
		case PLOAD:
			r.push(IPValue(cp.IPAddrs[in.A()]))
		case CLOAD:
			r.push(CidrValue(cp.Cidrs[in.A()]))
		case RLOAD:
			r.push(RegexValue(r.program.regexps[in.A()]))
		case TLOADI:
			r.push(ArrayValue(types.NumberArray, cp.NumberArrays[in.A()]))
		case TLOADS:
			r.push(ArrayValue(types.StringArray, cp.StringArrays[in.A()]))
		case TLOADP:
			r.push(ArrayValue(types.IPAddressArray, cp.IPArrays[in.A()]))
		case TLOADC:
			r.push(ArrayValue(types.CidrArray, cp.CidrArrays[in.A()]))
		case LOAD:
			r.push(r.stack[in.A()])
		case STORE:
			r.stack[in.A()] = r.stack[len(r.stack)-1]
		case ALLOCA:
			for i := 0; i < int(in.A()); i++ {
				r.push(Value{})
			}
		case DISCARD:
			r.stack = r.stack[:len(r.stack)-int(in.A())]

		// ----------------------------------------------- numeric
		case NNEG:
			r.push(NumberValue(-r.pop().Number()))
		case NNOT:
			r.push(NumberValue(^r.pop().Number()))
		case NADD:
			b, a := r.pop().Number(), r.pop().Number()
			r.push(NumberValue(a + b))
		case NSUB:
			b, a := r.pop().Number(), r.pop().Number()
			r.push(NumberValue(a - b))
		case NMUL:
			b, a := r.pop().Number(), r.pop().Number()
			r.push(NumberValue(a * b))
		case NDIV:
			b, a := r.pop().Number(), r.pop().Number()
			if b == 0 {
				return r.fail("division by zero")
			}
			r.push(NumberValue(a / b))
		case NREM:
			b, a := r.pop().Number(), r.pop().Number()
			if b == 0 {
				return r.fail("remainder by zero")
			}
			r.push(NumberValue(a % b))
		case NPOW:
			b, a := r.pop().Number(), r.pop().Number()
			r.push(NumberValue(ipow(a, b)))
		case NAND:
			b, a := r.pop().Number(), r.pop().Number()
			r.push(NumberValue(a & b))
		case NOR:
			b, a := r.pop().Number(), r.pop().Number()
			r.push(NumberValue(a | b))
		case NXOR:
			b, a := r.pop().Number(), r.pop().Number()
			r.push(NumberValue(a ^ b))
		case NSHL:
			b, a := r.pop().Number(), r.pop().Number()
			r.push(NumberValue(a << uint64(b&63)))
		case NSHR:
			b, a := r.pop().Number(), r.pop().Number()
			r.push(NumberValue(int64(uint64(a) >> uint64(b&63))))
		case NCMPEQ:
			b, a := r.pop().Number(), r.pop().Number()
			r.push(BoolValue(a == b))
		case NCMPNE:
			b, a := r.pop().Number(), r.pop().Number()
			r.push(BoolValue(a != b))
		case NCMPLE:
			b, a := r.pop().Number(), r.pop().Number()
			r.push(BoolValue(a <= b))
		case NCMPGE:
			b, a := r.pop().Number(), r.pop().Number()
			r.push(BoolValue(a >= b))
		case NCMPLT:
			b, a := r.pop().Number(), r.pop().Number()
			r.push(BoolValue(a < b))
		case NCMPGT:
			b, a := r.pop().Number(), r.pop().Number()
			r.push(BoolValue(a > b))

		// ----------------------------------------------- boolean
		case BNOT:
			r.push(BoolValue(!r.pop().Bool()))
		case BAND:
			b, a := r.pop().Bool(), r.pop().Bool()
			r.push(BoolValue(a && b))
		case BOR:
			b, a := r.pop().Bool(), r.pop().Bool()
			r.push(BoolValue(a || b))
		case BXOR:
			b, a := r.pop().Bool(), r.pop().Bool()
			r.push(BoolValue(a != b))

		// ------------------------------------------------ string
		case SADD:
			b, a := r.pop().String(), r.pop().String()
			r.push(StringValue(a + b))
		case SLEN:
			r.push(NumberValue(int64(len(r.pop().String()))))
		case SISEMPTY:
			r.push(BoolValue(r.pop().String() == ""))
		case SCMPEQ:
			b, a := r.pop().String(), r.pop().String()
			r.push(BoolValue(a == b))
		case SCMPNE:
			b, a := r.pop().String(), r.pop().String()
			r.push(BoolValue(a != b))
		case SCMPLE:
			b, a := r.pop().String(), r.pop().String()
			r.push(BoolValue(a <= b))
		case SCMPGE:
			b, a := r.pop().String(), r.pop().String()
			r.push(BoolValue(a >= b))
		case SCMPLT:
			b, a := r.pop().String(), r.pop().String()
			r.push(BoolValue(a < b))
		case SCMPGT:
			b, a := r.pop().String(), r.pop().String()
			r.push(BoolValue(a > b))
		case SREGMATCH:
			re := r.pop().Regex()
			s := r.pop().String()
			groups := re.Submatch(s)
			if groups == nil {
				r.regexCtx.Clear()
				r.push(BoolValue(false))
			} else {
				r.regexCtx.Set(groups)
				r.push(BoolValue(true))
			}
		case SCONTAINS:
			b, a := r.pop().String(), r.pop().String()
			r.push(BoolValue(strings.Contains(b, a)))
		case SCMPBEG:
			b, a := r.pop().String(), r.pop().String()
			r.push(BoolValue(strings.HasPrefix(a, b)))
		case SCMPEND:
			b, a := r.pop().String(), r.pop().String()
			r.push(BoolValue(strings.HasSuffix(a, b)))
		case SSUBSTR:
			n, off := r.pop().Number(), r.pop().Number()
			s := r.pop().String()
			r.push(StringValue(substr(s, off, n)))

		// ---------------------------------------------- ip/cidr
		case PCMPEQ:
			b, a := r.pop().IP(), r.pop().IP()
			r.push(BoolValue(a == b))
		case PCMPNE:
			b, a := r.pop().IP(), r.pop().IP()
			r.push(BoolValue(a != b))
		case PINCIDR:
			cidr := r.pop().Cidr()
			ip := r.pop().IP()
			r.push(BoolValue(cidr.Contains(ip)))

		// ------------------------------------------- conversion
		case N2S:
			r.push(StringValue(strconv.FormatInt(r.pop().Number(), 10)))
		case P2S:
			r.push(StringValue(r.pop().IP().String()))
		case C2S:
			r.push(StringValue(r.pop().Cidr().String()))
		case R2S:
			r.push(StringValue(r.pop().Regex().Pattern()))
		case S2N:
			s := strings.TrimSpace(r.pop().String())
			n, err := strconv.ParseInt(s, 0, 64)
			if err != nil {
				n = 0
			}
			r.push(NumberValue(n))

		// ---------------------------------------------- control
		case JMP:
			r.pc = int(in.A())
		case JZ:
			if !r.pop().Bool() {
				r.pc = int(in.A())
			}
		case JN:
			if r.pop().Bool() {
				r.pc = int(in.A())
			}
		case EXIT:
			return RunResult{State: StateSuccess, Handled: in.A() != 0}

		// ------------------------------------------------ match
		case SMATCHEQ, SMATCHBEG, SMATCHEND, SMATCHR:
			def := &cp.Matches[in.A()]
			cond := r.pop().String()
			r.pc = int(r.dispatchMatch(in.Opcode(), def, cond))

		// ----------------------------------------- native calls
		case CALL:
			id, argc, retflag := int(in.A()), int(in.B()), in.C()
			result, err := r.invokeNative(id, argc)
			if err != nil {
				return RunResult{State: StateError, Err: err}
			}
			if retflag != 0 {
				// The result was set by the native before any
				// suspension, so pushing first keeps the stack
				// balanced across suspend/resume.
				r.push(result)
			}
			if r.suspended {
				return RunResult{State: StateSuspended, Runner: r}
			}
		case HANDLER:
			id, argc := int(in.A()), int(in.B())
			result, err := r.invokeNative(id, argc)
			if err != nil {
				return RunResult{State: StateError, Err: err}
			}
			if r.suspended {
				return RunResult{State: StateSuspended, Runner: r}
			}
			if result.Bool() {
				// The native handled the request; the whole handler
				// finishes successfully.
				return RunResult{State: StateSuccess, Handled: true}
			}

		default:
			return r.fail("invalid opcode %s at pc %d", in.Opcode(), r.pc-1)
		}
	}

	return RunResult{State: StateSuccess, Handled: false}
}

// invokeNative dispatches one CALL/HANDLER site: pops argc operands,
// builds the Params view with a result slot at index 0, and invokes
// the callback synchronously.
func (r *Runner) invokeNative(id, argc int) (Value, error) {
	nc := r.program.natives[id]
	if nc == nil {
		return Value{}, &RuntimeError{Message: fmt.Sprintf("unresolved native #%d", id)}
	}

	argv := make([]Value, argc+1)
	copy(argv[1:], r.stack[len(r.stack)-argc:])
	r.stack = r.stack[:len(r.stack)-argc]

	params := &Params{caller: r, argv: argv}
	nc.Invoke(params)

	if r.aborted {
		return Value{}, ErrAborted
	}
	return argv[0], nil
}

// dispatchMatch evaluates a match table and returns the target PC.
func (r *Runner) dispatchMatch(op Opcode, def *MatchDef, cond string) uint64 {
	cp := &r.program.cp
	for _, c := range def.Cases {
		var hit bool
		switch op {
		case SMATCHEQ:
			hit = cond == cp.Strings[c.ValueIndex]
		case SMATCHBEG:
			hit = strings.HasPrefix(cond, cp.Strings[c.ValueIndex])
		case SMATCHEND:
			hit = strings.HasSuffix(cond, cp.Strings[c.ValueIndex])
		case SMATCHR:
			re := r.program.regexps[c.ValueIndex]
			groups := re.Submatch(cond)
			if groups == nil {
				r.regexCtx.Clear()
			} else {
				r.regexCtx.Set(groups)
				hit = true
			}
		}
		if hit {
			return c.PC
		}
	}
	return def.ElsePC
}

// ipow computes a**b with negative exponents yielding zero.
func ipow(a, b int64) int64 {
	if b < 0 {
		return 0
	}
	var r int64 = 1
	for ; b > 0; b-- {
		r *= a
	}
	return r
}

// substr clamps offset and length into s.
func substr(s string, off, n int64) string {
	if off < 0 {
		off = 0
	}
	if off > int64(len(s)) {
		off = int64(len(s))
	}
	end := off + n
	if n < 0 || end > int64(len(s)) {
		end = int64(len(s))
	}
	if end < off {
		end = off
	}
	return s[off:end]
}
