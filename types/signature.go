package types

import "strings"

// Signature is the typed interface of a native callback or builtin:
// its name, return type, and ordered parameter types. Parameter names
// are optional and not part of signature identity.
type Signature struct {
	Name       string
	Ret        LiteralType
	Params     []LiteralType
	ParamNames []string
}

// NewSignature creates a signature with the given name, return type
// and parameter types.
func NewSignature(name string, ret LiteralType, params ...LiteralType) Signature {
	return Signature{Name: name, Ret: ret, Params: params}
}

// Equal reports structural equality: same name, return type and
// parameter types. Parameter names do not participate.
func (s Signature) Equal(other Signature) bool {
	if s.Name != other.Name || s.Ret != other.Ret || len(s.Params) != len(other.Params) {
		return false
	}
	for i, p := range s.Params {
		if p != other.Params[i] {
			return false
		}
	}
	return true
}

// String returns the canonical text form used as the registry key,
// e.g. "sum(int, int): int".
func (s Signature) String() string {
	var sb strings.Builder
	sb.WriteString(s.Name)
	sb.WriteByte('(')
	for i, p := range s.Params {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(p.String())
	}
	sb.WriteByte(')')
	if s.Ret != Void {
		sb.WriteString(": ")
		sb.WriteString(s.Ret.String())
	}
	return sb.String()
}

// ParamName returns the declared name of parameter i, or "".
func (s Signature) ParamName(i int) string {
	if i < len(s.ParamNames) {
		return s.ParamNames[i]
	}
	return ""
}

// ParamIndex returns the index of the named parameter, or -1.
func (s Signature) ParamIndex(name string) int {
	for i, n := range s.ParamNames {
		if n == name {
			return i
		}
	}
	return -1
}
