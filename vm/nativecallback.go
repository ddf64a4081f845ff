package vm

import (
	"net/netip"

	"github.com/xzero/flow/ir"
	"github.com/xzero/flow/types"
)

// Body is the native implementation bound to a callback. It reads its
// arguments from and writes its result into the Params view.
type Body func(*Params)

// Verifier is an IR-time hook invoked for every call to its native.
// It may mutate or replace the call through the builder (e.g. fold a
// compile-time-constant environment lookup), or reject the call by
// returning an error, which is reported as a TypeError at the call
// site.
type Verifier func(call *ir.Instr, b *ir.Builder) error

// NativeCallback is one host-provided native: a typed signature, an
// optional per-parameter default set, the bound body, and an optional
// IR-time verifier.
type NativeCallback struct {
	runtime   *Runtime
	isHandler bool
	sig       types.Signature

	defaults   []Value
	hasDefault []bool

	body     Body
	verifier Verifier

	readOnly bool
	noReturn bool
}

// IsHandler reports whether the native is a handler rather than a
// function.
func (nc *NativeCallback) IsHandler() bool { return nc.isHandler }

// Name returns the native's name.
func (nc *NativeCallback) Name() string { return nc.sig.Name }

// Signature returns the native's typed signature.
func (nc *NativeCallback) Signature() types.Signature { return nc.sig }

// Invoke runs the bound body over the given params.
func (nc *NativeCallback) Invoke(p *Params) {
	if nc.body != nil {
		nc.body(p)
	}
}

// Bind attaches the native body.
func (nc *NativeCallback) Bind(body Body) *NativeCallback {
	nc.body = body
	return nc
}

// SetVerifier attaches an IR-time verifier.
func (nc *NativeCallback) SetVerifier(v Verifier) *NativeCallback {
	nc.verifier = v
	return nc
}

// Verify runs the verifier for one call site, if any.
func (nc *NativeCallback) Verify(call *ir.Instr, b *ir.Builder) error {
	if nc.verifier == nil {
		return nil
	}
	return nc.verifier(call, b)
}

// SetReadOnly marks the native as side-effect free.
func (nc *NativeCallback) SetReadOnly() *NativeCallback {
	nc.readOnly = true
	return nc
}

// IsReadOnly reports whether the native was marked side-effect free.
func (nc *NativeCallback) IsReadOnly() bool { return nc.readOnly }

// SetNoReturn marks the native as never returning control (e.g. an
// abort primitive).
func (nc *NativeCallback) SetNoReturn() *NativeCallback {
	nc.noReturn = true
	return nc
}

// IsNoReturn reports whether the native was marked no-return.
func (nc *NativeCallback) IsNoReturn() bool { return nc.noReturn }

// addParam appends one parameter with an optional default.
func (nc *NativeCallback) addParam(name string, typ types.LiteralType, def *Value) *NativeCallback {
	nc.sig.Params = append(nc.sig.Params, typ)
	nc.sig.ParamNames = append(nc.sig.ParamNames, name)
	if def != nil {
		nc.defaults = append(nc.defaults, *def)
		nc.hasDefault = append(nc.hasDefault, true)
	} else {
		nc.defaults = append(nc.defaults, Value{})
		nc.hasDefault = append(nc.hasDefault, false)
	}
	return nc
}

// Param appends a parameter of the given type without a default.
func (nc *NativeCallback) Param(name string, typ types.LiteralType) *NativeCallback {
	return nc.addParam(name, typ, nil)
}

// NumberParam appends a number parameter; at most one default.
func (nc *NativeCallback) NumberParam(name string, def ...int64) *NativeCallback {
	if len(def) > 0 {
		v := NumberValue(def[0])
		return nc.addParam(name, types.Number, &v)
	}
	return nc.addParam(name, types.Number, nil)
}

// BoolParam appends a boolean parameter; at most one default.
func (nc *NativeCallback) BoolParam(name string, def ...bool) *NativeCallback {
	if len(def) > 0 {
		v := BoolValue(def[0])
		return nc.addParam(name, types.Boolean, &v)
	}
	return nc.addParam(name, types.Boolean, nil)
}

// StringParam appends a string parameter; at most one default.
func (nc *NativeCallback) StringParam(name string, def ...string) *NativeCallback {
	if len(def) > 0 {
		v := StringValue(def[0])
		return nc.addParam(name, types.String, &v)
	}
	return nc.addParam(name, types.String, nil)
}

// IPParam appends an IP address parameter; at most one default.
func (nc *NativeCallback) IPParam(name string, def ...netip.Addr) *NativeCallback {
	if len(def) > 0 {
		v := IPValue(def[0])
		return nc.addParam(name, types.IPAddress, &v)
	}
	return nc.addParam(name, types.IPAddress, nil)
}

// CidrParam appends a CIDR parameter; at most one default.
func (nc *NativeCallback) CidrParam(name string, def ...netip.Prefix) *NativeCallback {
	if len(def) > 0 {
		v := CidrValue(def[0])
		return nc.addParam(name, types.Cidr, &v)
	}
	return nc.addParam(name, types.Cidr, nil)
}

// Default returns the default value of parameter i, if declared.
func (nc *NativeCallback) Default(i int) (Value, bool) {
	if i < len(nc.defaults) && nc.hasDefault[i] {
		return nc.defaults[i], true
	}
	return Value{}, false
}
