package vm

import (
	"github.com/xzero/flow/diag"
	"github.com/xzero/flow/ir"
	"github.com/xzero/flow/types"
)

// Runtime is the registry of native callbacks a host exposes to
// FlowLang programs. It is the authority for name resolution during
// linking. After linking, the runtime is shared read-only across
// runners.
type Runtime struct {
	builtins []*NativeCallback
}

// NewRuntime returns an empty registry.
func NewRuntime() *Runtime {
	return &Runtime{}
}

// RegisterHandler registers a native handler; handlers implicitly
// return the boolean handled flag.
func (r *Runtime) RegisterHandler(name string) *NativeCallback {
	nc := &NativeCallback{
		runtime:   r,
		isHandler: true,
		sig:       types.Signature{Name: name, Ret: types.Boolean},
	}
	r.builtins = append(r.builtins, nc)
	return nc
}

// RegisterFunction registers a native function with the given return
// type.
func (r *Runtime) RegisterFunction(name string, ret types.LiteralType) *NativeCallback {
	nc := &NativeCallback{
		runtime: r,
		sig:     types.Signature{Name: name, Ret: ret},
	}
	r.builtins = append(r.builtins, nc)
	return nc
}

// Builtins returns the registered natives in registration order.
func (r *Runtime) Builtins() []*NativeCallback { return r.builtins }

// Find returns the native whose canonical signature text equals
// signature, or nil.
func (r *Runtime) Find(signature string) *NativeCallback {
	for _, nc := range r.builtins {
		if nc.sig.String() == signature {
			return nc
		}
	}
	return nil
}

// FindSignature returns the native with a structurally equal
// signature, or nil.
func (r *Runtime) FindSignature(sig types.Signature) *NativeCallback {
	for _, nc := range r.builtins {
		if nc.sig.Equal(sig) {
			return nc
		}
	}
	return nil
}

// FindName returns the first native with the given name, or nil.
// FlowLang natives are not overloaded; names are unique in practice.
func (r *Runtime) FindName(name string) *NativeCallback {
	for _, nc := range r.builtins {
		if nc.sig.Name == name {
			return nc
		}
	}
	return nil
}

// Contains reports whether a native with the canonical signature text
// is registered.
func (r *Runtime) Contains(signature string) bool {
	return r.Find(signature) != nil
}

// ContainsName reports whether any native has the given name.
func (r *Runtime) ContainsName(name string) bool {
	return r.FindName(name) != nil
}

// VerifyNativeCalls applies every registered verifier to every call
// instruction of the program. Verifier rejections are reported as
// TypeError diagnostics; returns false when any call was rejected.
func (r *Runtime) VerifyNativeCalls(prog *ir.Program, b *ir.Builder, report *diag.Report) bool {
	ok := true
	for _, h := range prog.Handlers {
		b.EnterHandler(h)
		for _, bb := range h.Blocks {
			for _, in := range bb.Instrs {
				if in.Op != ir.Call && in.Op != ir.HandlerCall {
					continue
				}
				nc := r.FindSignature(in.Callee.Sig)
				if nc == nil {
					continue // linking reports unresolved natives
				}
				b.SetInsertPoint(bb)
				b.SetLocation(in.Loc)
				if err := nc.Verify(in, b); err != nil {
					report.TypeError(in.Loc, "%s", err.Error())
					ok = false
				}
			}
		}
	}
	return ok
}
