package ir

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"github.com/xzero/flow/diag"
	"github.com/xzero/flow/types"
)

// Constant is a typed literal leaf. Constants are program-level and
// uniqued by value where practical (see Builder).
type Constant interface {
	Value
	constValue()
}

type constBase struct{ valueBase }

func (*constBase) constValue() {}

// ConstInt is a 64-bit signed integer constant.
type ConstInt struct {
	constBase
	Value int64
}

// NewConstInt creates an integer constant.
func NewConstInt(v int64) *ConstInt {
	c := &ConstInt{Value: v}
	c.name = strconv.FormatInt(v, 10)
	c.typ = types.Number
	return c
}

// ConstBool is a boolean constant.
type ConstBool struct {
	constBase
	Value bool
}

// NewConstBool creates a boolean constant.
func NewConstBool(v bool) *ConstBool {
	c := &ConstBool{Value: v}
	c.name = strconv.FormatBool(v)
	c.typ = types.Boolean
	return c
}

// ConstString is a string constant.
type ConstString struct {
	constBase
	Value string
}

// NewConstString creates a string constant.
func NewConstString(v string) *ConstString {
	c := &ConstString{Value: v}
	c.name = strconv.Quote(v)
	c.typ = types.String
	return c
}

// ConstIP is an IP address constant.
type ConstIP struct {
	constBase
	Value netip.Addr
}

// NewConstIP creates an IP address constant.
func NewConstIP(v netip.Addr) *ConstIP {
	c := &ConstIP{Value: v}
	c.name = v.String()
	c.typ = types.IPAddress
	return c
}

// ConstCidr is a CIDR constant.
type ConstCidr struct {
	constBase
	Value netip.Prefix
}

// NewConstCidr creates a CIDR constant.
func NewConstCidr(v netip.Prefix) *ConstCidr {
	c := &ConstCidr{Value: v}
	c.name = v.String()
	c.typ = types.Cidr
	return c
}

// ConstRegExp is a regular expression constant; Pattern carries any
// flags folded into a (?...) prefix. Loc is the span of the first
// literal that produced the constant, kept for link-time diagnostics
// when the pattern fails to compile.
type ConstRegExp struct {
	constBase
	Pattern string
	Loc     diag.SourceLocation
}

// NewConstRegExp creates a regexp constant.
func NewConstRegExp(pattern string) *ConstRegExp {
	c := &ConstRegExp{Pattern: pattern}
	c.name = "/" + pattern + "/"
	c.typ = types.RegExp
	return c
}

// ConstArray is a homogeneous array constant.
type ConstArray struct {
	constBase
	Elems []Constant
}

// NewConstArray creates an array constant of the given array type.
func NewConstArray(typ types.LiteralType, elems []Constant) *ConstArray {
	c := &ConstArray{Elems: elems}
	names := make([]string, len(elems))
	for i, e := range elems {
		names[i] = e.Name()
	}
	c.name = "[" + strings.Join(names, ", ") + "]"
	c.typ = typ
	return c
}

// constKey returns the uniquing key of a constant.
func constKey(c Constant) string {
	return fmt.Sprintf("%s|%s", c.Type(), c.Name())
}
