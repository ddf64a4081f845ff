package vm

import (
	"net/netip"

	"github.com/xzero/flow/internal/rt"
)

// Params is a native callback's view into the runner's stack frame:
// argv[0] is the result slot, argv[1..argc] are the arguments.
type Params struct {
	caller *Runner
	argv   []Value
}

// NewParams builds a params view over a prepared argv slice. Exposed
// for host-side tests of native bodies.
func NewParams(caller *Runner, argv []Value) *Params {
	return &Params{caller: caller, argv: argv}
}

// Caller returns the runner invoking the native, or nil when the
// native is called outside VM execution.
func (p *Params) Caller() *Runner { return p.caller }

// Count returns the number of arguments (excluding the result slot).
func (p *Params) Count() int { return len(p.argv) - 1 }

// Arg returns argument i (1-based).
func (p *Params) Arg(i int) Value { return p.argv[i] }

// Bool returns argument i as a boolean.
func (p *Params) Bool(i int) bool { return p.argv[i].Bool() }

// Int returns argument i as a number.
func (p *Params) Int(i int) int64 { return p.argv[i].Number() }

// String returns argument i as a string.
func (p *Params) String(i int) string { return p.argv[i].String() }

// IP returns argument i as an IP address.
func (p *Params) IP(i int) netip.Addr { return p.argv[i].IP() }

// Cidr returns argument i as a CIDR.
func (p *Params) Cidr(i int) netip.Prefix { return p.argv[i].Cidr() }

// Regex returns argument i as a compiled pattern.
func (p *Params) Regex(i int) *rt.Regex { return p.argv[i].Regex() }

// SetResult stores the result value.
func (p *Params) SetResult(v Value) { p.argv[0] = v }

// SetBool stores a boolean result; for handlers this is the handled
// flag.
func (p *Params) SetBool(b bool) { p.argv[0] = BoolValue(b) }

// SetNumber stores a numeric result.
func (p *Params) SetNumber(n int64) { p.argv[0] = NumberValue(n) }

// SetString stores a string result.
func (p *Params) SetString(s string) { p.argv[0] = StringValue(s) }

// Result returns the current result slot.
func (p *Params) Result() Value { return p.argv[0] }
