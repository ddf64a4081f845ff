package ir

import "strings"

// Program owns handlers, the module list, and the builtin descriptors
// referenced by call instructions.
type Program struct {
	Modules  []string
	Handlers []*Handler

	Functions    []*Builtin // builtin function descriptors
	HandlerRefs  []*Builtin // builtin handler descriptors
	constants    map[string]Constant
	constantList []Constant
}

// NewProgram creates an empty program.
func NewProgram() *Program {
	return &Program{constants: make(map[string]Constant)}
}

// Handler returns the named handler, or nil.
func (p *Program) Handler(name string) *Handler {
	for _, h := range p.Handlers {
		if h.Name == name {
			return h
		}
	}
	return nil
}

// AppendHandler adds a handler to the program.
func (p *Program) AppendHandler(h *Handler) {
	p.Handlers = append(p.Handlers, h)
}

// Intern returns the program-level uniqued copy of the constant.
func (p *Program) Intern(c Constant) Constant {
	key := constKey(c)
	if existing, ok := p.constants[key]; ok {
		return existing
	}
	p.constants[key] = c
	p.constantList = append(p.constantList, c)
	return c
}

// Constants returns the interned constants in insertion order.
func (p *Program) Constants() []Constant { return p.constantList }

// FindOrAddFunction returns the function descriptor with the given
// signature, adding it on first reference. Descriptors are uniqued by
// canonical signature text so registration order is deterministic by
// first call site.
func (p *Program) FindOrAddFunction(b *Builtin) *Builtin {
	for _, f := range p.Functions {
		if f.Sig.Equal(b.Sig) {
			return f
		}
	}
	p.Functions = append(p.Functions, b)
	return b
}

// FindOrAddHandlerRef returns the builtin handler descriptor with the
// given signature, adding it on first reference.
func (p *Program) FindOrAddHandlerRef(b *Builtin) *Builtin {
	for _, h := range p.HandlerRefs {
		if h.Sig.Equal(b.Sig) {
			return h
		}
	}
	p.HandlerRefs = append(p.HandlerRefs, b)
	return b
}

// Verify checks the structural invariants of every handler.
func (p *Program) Verify() error {
	for _, h := range p.Handlers {
		if err := h.Verify(); err != nil {
			return err
		}
	}
	return nil
}

// String renders the whole program in list form; used by pass
// idempotence tests to compare IR before and after.
func (p *Program) String() string {
	var sb strings.Builder
	for _, h := range p.Handlers {
		sb.WriteString(h.String())
	}
	return sb.String()
}
