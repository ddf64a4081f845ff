package vm

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/xzero/flow/diag"
	"github.com/xzero/flow/types"
)

// MatchClass is the matching operator kind of a match table.
type MatchClass uint8

const (
	MatchSame MatchClass = iota
	MatchHead
	MatchTail
	MatchRegex
)

// String returns the operator spelling of the class.
func (c MatchClass) String() string {
	switch c {
	case MatchSame:
		return "=="
	case MatchHead:
		return "=^"
	case MatchTail:
		return "=$"
	case MatchRegex:
		return "=~"
	default:
		return "<invalid>"
	}
}

// MatchCaseDef is one case of a match table: the index of the label
// in the class-specific constant table, and the target PC.
type MatchCaseDef struct {
	ValueIndex Operand
	PC         uint64
}

// MatchDef is one lowered match table.
type MatchDef struct {
	HandlerID int
	Class     MatchClass
	Cases     []MatchCaseDef
	ElsePC    uint64
}

// NativeRef is one entry of the native-reference table: the typed
// signature a CALL/HANDLER site expects, plus the source location of
// the call for link diagnostics.
type NativeRef struct {
	Sig       types.Signature
	IsHandler bool
	Loc       diag.SourceLocation
}

// RegexRef is one pooled regex pattern plus the source location of
// the literal that introduced it, reported when the pattern fails to
// compile at link time.
type RegexRef struct {
	Pattern string
	Loc     diag.SourceLocation
}

// HandlerCode is one compiled handler: its name and instruction
// stream.
type HandlerCode struct {
	Name string
	Code []Instruction
}

// ConstantPool is the immutable table set referenced by bytecode
// operands. The value tables are deduplicated by value, handlers by
// name and native references by signature and kind; match definitions
// are appended one per MakeMatch call. Insertion order is
// deterministic.
type ConstantPool struct {
	Numbers      []int64
	Strings      []string
	Regexps      []RegexRef
	IPAddrs      []netip.Addr
	Cidrs        []netip.Prefix
	NumberArrays [][]int64
	StringArrays [][]string
	IPArrays     [][]netip.Addr
	CidrArrays   [][]netip.Prefix
	Matches      []MatchDef
	Handlers     []HandlerCode
	NativeRefs   []NativeRef
	Modules      []string
}

// MakeNumber interns a number and returns its index.
func (cp *ConstantPool) MakeNumber(v int64) Operand {
	for i, x := range cp.Numbers {
		if x == v {
			return Operand(i)
		}
	}
	cp.Numbers = append(cp.Numbers, v)
	return Operand(len(cp.Numbers) - 1)
}

// MakeString interns a string and returns its index.
func (cp *ConstantPool) MakeString(v string) Operand {
	for i, x := range cp.Strings {
		if x == v {
			return Operand(i)
		}
	}
	cp.Strings = append(cp.Strings, v)
	return Operand(len(cp.Strings) - 1)
}

// MakeRegexp interns a regex pattern and returns its index. Patterns
// are uniqued by text; the first literal's location is kept.
func (cp *ConstantPool) MakeRegexp(pattern string, loc diag.SourceLocation) Operand {
	for i, x := range cp.Regexps {
		if x.Pattern == pattern {
			return Operand(i)
		}
	}
	cp.Regexps = append(cp.Regexps, RegexRef{Pattern: pattern, Loc: loc})
	return Operand(len(cp.Regexps) - 1)
}

// MakeIP interns an address and returns its index.
func (cp *ConstantPool) MakeIP(v netip.Addr) Operand {
	for i, x := range cp.IPAddrs {
		if x == v {
			return Operand(i)
		}
	}
	cp.IPAddrs = append(cp.IPAddrs, v)
	return Operand(len(cp.IPAddrs) - 1)
}

// MakeCidr interns a prefix and returns its index.
func (cp *ConstantPool) MakeCidr(v netip.Prefix) Operand {
	for i, x := range cp.Cidrs {
		if x == v {
			return Operand(i)
		}
	}
	cp.Cidrs = append(cp.Cidrs, v)
	return Operand(len(cp.Cidrs) - 1)
}

// MakeNumberArray interns a number array and returns its index.
func (cp *ConstantPool) MakeNumberArray(v []int64) Operand {
	for i, x := range cp.NumberArrays {
		if int64SlicesEqual(x, v) {
			return Operand(i)
		}
	}
	cp.NumberArrays = append(cp.NumberArrays, v)
	return Operand(len(cp.NumberArrays) - 1)
}

// MakeStringArray interns a string array and returns its index.
func (cp *ConstantPool) MakeStringArray(v []string) Operand {
	for i, x := range cp.StringArrays {
		if stringSlicesEqual(x, v) {
			return Operand(i)
		}
	}
	cp.StringArrays = append(cp.StringArrays, v)
	return Operand(len(cp.StringArrays) - 1)
}

// MakeIPArray interns an address array and returns its index.
func (cp *ConstantPool) MakeIPArray(v []netip.Addr) Operand {
	for i, x := range cp.IPArrays {
		if addrSlicesEqual(x, v) {
			return Operand(i)
		}
	}
	cp.IPArrays = append(cp.IPArrays, v)
	return Operand(len(cp.IPArrays) - 1)
}

// MakeCidrArray interns a prefix array and returns its index.
func (cp *ConstantPool) MakeCidrArray(v []netip.Prefix) Operand {
	for i, x := range cp.CidrArrays {
		if prefixSlicesEqual(x, v) {
			return Operand(i)
		}
	}
	cp.CidrArrays = append(cp.CidrArrays, v)
	return Operand(len(cp.CidrArrays) - 1)
}

// MakeMatch reserves a match definition and returns its id.
func (cp *ConstantPool) MakeMatch(def MatchDef) Operand {
	cp.Matches = append(cp.Matches, def)
	return Operand(len(cp.Matches) - 1)
}

// MakeHandler reserves the named handler's slot, returning its id.
// The code is attached later via SetHandlerCode.
func (cp *ConstantPool) MakeHandler(name string) int {
	for i, h := range cp.Handlers {
		if h.Name == name {
			return i
		}
	}
	cp.Handlers = append(cp.Handlers, HandlerCode{Name: name})
	return len(cp.Handlers) - 1
}

// SetHandlerCode attaches the emitted instruction stream to a handler.
func (cp *ConstantPool) SetHandlerCode(id int, code []Instruction) {
	cp.Handlers[id].Code = code
}

// MakeNativeRef interns a native reference and returns its index.
// References are uniqued by signature and kind; the first call site's
// location is kept.
func (cp *ConstantPool) MakeNativeRef(ref NativeRef) Operand {
	for i, x := range cp.NativeRefs {
		if x.IsHandler == ref.IsHandler && x.Sig.Equal(ref.Sig) {
			return Operand(i)
		}
	}
	cp.NativeRefs = append(cp.NativeRefs, ref)
	return Operand(len(cp.NativeRefs) - 1)
}

// Dump renders the pool for disassembly.
func (cp *ConstantPool) Dump() string {
	var sb strings.Builder
	section := func(name string, n int, f func(i int) string) {
		if n == 0 {
			return
		}
		fmt.Fprintf(&sb, "=== %s ===\n", name)
		for i := 0; i < n; i++ {
			fmt.Fprintf(&sb, "  [%d] %s\n", i, f(i))
		}
	}
	section("Numbers", len(cp.Numbers), func(i int) string {
		return fmt.Sprintf("%d", cp.Numbers[i])
	})
	section("Strings", len(cp.Strings), func(i int) string {
		return fmt.Sprintf("%q", cp.Strings[i])
	})
	section("Regexps", len(cp.Regexps), func(i int) string {
		return "/" + cp.Regexps[i].Pattern + "/"
	})
	section("IPAddrs", len(cp.IPAddrs), func(i int) string {
		return cp.IPAddrs[i].String()
	})
	section("Cidrs", len(cp.Cidrs), func(i int) string {
		return cp.Cidrs[i].String()
	})
	section("Natives", len(cp.NativeRefs), func(i int) string {
		return cp.NativeRefs[i].Sig.String()
	})
	return sb.String()
}

func int64SlicesEqual(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func stringSlicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func addrSlicesEqual(a, b []netip.Addr) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func prefixSlicesEqual(a, b []netip.Prefix) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
