package vm

import (
	"fmt"
	"net/netip"
	"strconv"

	"github.com/xzero/flow/internal/rt"
	"github.com/xzero/flow/types"
)

// Value is one VM stack slot: a tagged union over the FlowLang value
// kinds.
type Value struct {
	kind types.LiteralType

	num    int64 // Number and Boolean (0/1); handler ids for Handler
	str    string
	addr   netip.Addr
	prefix netip.Prefix
	re     *rt.Regex
	arr    any // []int64, []string, []netip.Addr, []netip.Prefix
}

// Kind returns the value's type.
func (v Value) Kind() types.LiteralType { return v.kind }

// NumberValue creates a Number value.
func NumberValue(n int64) Value { return Value{kind: types.Number, num: n} }

// BoolValue creates a Boolean value.
func BoolValue(b bool) Value {
	n := int64(0)
	if b {
		n = 1
	}
	return Value{kind: types.Boolean, num: n}
}

// StringValue creates a String value.
func StringValue(s string) Value { return Value{kind: types.String, str: s} }

// IPValue creates an IPAddress value.
func IPValue(a netip.Addr) Value { return Value{kind: types.IPAddress, addr: a} }

// CidrValue creates a Cidr value.
func CidrValue(p netip.Prefix) Value { return Value{kind: types.Cidr, prefix: p} }

// RegexValue creates a RegExp value.
func RegexValue(re *rt.Regex) Value { return Value{kind: types.RegExp, re: re} }

// HandlerValue creates a handler reference by handler table id.
func HandlerValue(id int) Value { return Value{kind: types.Handler, num: int64(id)} }

// ArrayValue creates an array value over a typed slice.
func ArrayValue(kind types.LiteralType, elems any) Value {
	return Value{kind: kind, arr: elems}
}

// Number returns the numeric payload.
func (v Value) Number() int64 { return v.num }

// Bool returns the boolean payload.
func (v Value) Bool() bool { return v.num != 0 }

// String returns the string payload for String values, else a
// rendering of the value.
func (v Value) String() string {
	switch v.kind {
	case types.String:
		return v.str
	case types.Number:
		return strconv.FormatInt(v.num, 10)
	case types.Boolean:
		if v.num != 0 {
			return "true"
		}
		return "false"
	case types.IPAddress:
		return v.addr.String()
	case types.Cidr:
		return v.prefix.String()
	case types.RegExp:
		if v.re != nil {
			return "/" + v.re.Pattern() + "/"
		}
		return "//"
	case types.Handler:
		return fmt.Sprintf("handler#%d", v.num)
	case types.Void:
		return "<void>"
	default:
		return fmt.Sprintf("%v", v.arr)
	}
}

// IP returns the address payload.
func (v Value) IP() netip.Addr { return v.addr }

// Cidr returns the prefix payload.
func (v Value) Cidr() netip.Prefix { return v.prefix }

// Regex returns the compiled pattern payload.
func (v Value) Regex() *rt.Regex { return v.re }

// Array returns the typed slice payload.
func (v Value) Array() any { return v.arr }
