package ir

import (
	"fmt"
	"net/netip"

	"github.com/xzero/flow/diag"
	"github.com/xzero/flow/types"
)

// Builder constructs IR: it tracks the insertion point, generates
// deduplicated value names, and interns constants at program level.
type Builder struct {
	program *Program
	handler *Handler
	insert  *BasicBlock

	nameCounts map[string]int
	loc        diag.SourceLocation
}

// NewBuilder creates a builder over the given program.
func NewBuilder(program *Program) *Builder {
	return &Builder{
		program:    program,
		nameCounts: make(map[string]int),
	}
}

// Program returns the program under construction.
func (b *Builder) Program() *Program { return b.program }

// Handler returns the handler under construction, or nil.
func (b *Builder) Handler() *Handler { return b.handler }

// InsertPoint returns the current insertion block.
func (b *Builder) InsertPoint() *BasicBlock { return b.insert }

// SetInsertPoint moves insertion to the given block.
func (b *Builder) SetInsertPoint(bb *BasicBlock) { b.insert = bb }

// SetLocation records the source location attached to subsequently
// created instructions.
func (b *Builder) SetLocation(loc diag.SourceLocation) { b.loc = loc }

// Location returns the current source location.
func (b *Builder) Location() diag.SourceLocation { return b.loc }

// makeName returns base, or base.N when base was already issued.
func (b *Builder) makeName(base string) string {
	if base == "" {
		base = "t"
	}
	n := b.nameCounts[base]
	b.nameCounts[base] = n + 1
	if n == 0 {
		return base
	}
	return fmt.Sprintf("%s.%d", base, n)
}

// EnterHandler points the builder at an existing handler without
// creating any blocks. IR-time verifiers use this to rewrite calls
// in place.
func (b *Builder) EnterHandler(h *Handler) {
	b.handler = h
	b.insert = h.Entry()
}

// SetHandler starts building the named handler with a fresh entry
// block and moves insertion there.
func (b *Builder) SetHandler(name string) *Handler {
	h := NewHandler(name)
	b.program.AppendHandler(h)
	b.handler = h
	entry := b.CreateBlock("entry")
	b.SetInsertPoint(entry)
	return h
}

// CreateBlock appends a new named block to the current handler.
func (b *Builder) CreateBlock(name string) *BasicBlock {
	bb := NewBasicBlock(b.makeName(name))
	b.handler.Append(bb)
	return bb
}

// insertInstr appends the instruction at the insertion point.
func (b *Builder) insertInstr(in *Instr) *Instr {
	in.Loc = b.loc
	b.insert.Append(in)
	return in
}

// -----------------------------------------------------------------------------
// Constant factories
// -----------------------------------------------------------------------------

// ConstInt returns the interned integer constant.
func (b *Builder) ConstInt(v int64) Constant { return b.program.Intern(NewConstInt(v)) }

// ConstBool returns the interned boolean constant.
func (b *Builder) ConstBool(v bool) Constant { return b.program.Intern(NewConstBool(v)) }

// ConstString returns the interned string constant.
func (b *Builder) ConstString(v string) Constant { return b.program.Intern(NewConstString(v)) }

// ConstIP returns the interned IP constant.
func (b *Builder) ConstIP(v netip.Addr) Constant { return b.program.Intern(NewConstIP(v)) }

// ConstCidr returns the interned CIDR constant.
func (b *Builder) ConstCidr(v netip.Prefix) Constant { return b.program.Intern(NewConstCidr(v)) }

// ConstRegExp returns the interned regexp constant. The builder's
// current source location is recorded on first intern so linking can
// point at the literal when the pattern does not compile.
func (b *Builder) ConstRegExp(pattern string) Constant {
	c := NewConstRegExp(pattern)
	c.Loc = b.loc
	return b.program.Intern(c)
}

// ConstArray returns the interned array constant.
func (b *Builder) ConstArray(typ types.LiteralType, elems []Constant) Constant {
	return b.program.Intern(NewConstArray(typ, elems))
}

// -----------------------------------------------------------------------------
// Instruction creators
// -----------------------------------------------------------------------------

// CreateAlloca reserves a stack slot for a variable of the given type.
func (b *Builder) CreateAlloca(typ types.LiteralType, name string) *Instr {
	return b.insertInstr(NewInstr(Alloca, typ, b.makeName(name)))
}

// CreateStore writes value into the slot.
func (b *Builder) CreateStore(slot, value Value) *Instr {
	return b.insertInstr(NewInstr(Store, types.Void, "", slot, value))
}

// CreateLoad reads the slot's current value.
func (b *Builder) CreateLoad(slot Value, name string) *Instr {
	return b.insertInstr(NewInstr(Load, slot.Type(), b.makeName(name), slot))
}

// CreatePhi merges values from predecessor blocks. Phi nodes never
// survive into bytecode; codegen rejects them.
func (b *Builder) CreatePhi(typ types.LiteralType, name string, incoming ...Value) *Instr {
	return b.insertInstr(NewInstr(Phi, typ, b.makeName(name), incoming...))
}

// CreateUnary builds a typed unary instruction.
func (b *Builder) CreateUnary(op Op, typ types.LiteralType, x Value, name string) *Instr {
	return b.insertInstr(NewInstr(op, typ, b.makeName(name), x))
}

// CreateBinary builds a typed binary instruction.
func (b *Builder) CreateBinary(op Op, typ types.LiteralType, x, y Value, name string) *Instr {
	return b.insertInstr(NewInstr(op, typ, b.makeName(name), x, y))
}

// CreateCast converts x to the target type.
func (b *Builder) CreateCast(target types.LiteralType, x Value, name string) *Instr {
	return b.insertInstr(NewInstr(Cast, target, b.makeName(name), x))
}

// CreateNop inserts a no-op.
func (b *Builder) CreateNop() *Instr {
	return b.insertInstr(NewInstr(Nop, types.Void, ""))
}

// CreateCall invokes a builtin function.
func (b *Builder) CreateCall(callee *Builtin, args []Value, name string) *Instr {
	in := NewInstr(Call, callee.Sig.Ret, "", args...)
	if callee.Sig.Ret != types.Void {
		in.setName(b.makeName(name))
	}
	in.Callee = callee
	return b.insertInstr(in)
}

// CreateHandlerCall invokes a builtin handler; the result is the
// handled flag.
func (b *Builder) CreateHandlerCall(callee *Builtin, args []Value, name string) *Instr {
	in := NewInstr(HandlerCall, types.Boolean, b.makeName(name), args...)
	in.Callee = callee
	return b.insertInstr(in)
}

// CreateBr seals the insertion block with an unconditional branch.
func (b *Builder) CreateBr(target *BasicBlock) *Instr {
	in := NewInstr(Br, types.Void, "")
	in.Targets = []*BasicBlock{target}
	return b.insertInstr(in)
}

// CreateCondBr seals the insertion block with a conditional branch.
func (b *Builder) CreateCondBr(cond Value, then, els *BasicBlock) *Instr {
	in := NewInstr(CondBr, types.Void, "", cond)
	in.Targets = []*BasicBlock{then, els}
	return b.insertInstr(in)
}

// CreateRet seals the insertion block with a return of the handled
// flag.
func (b *Builder) CreateRet(result Value) *Instr {
	return b.insertInstr(NewInstr(Ret, types.Void, "", result))
}

// CreateMatch seals the insertion block with a match terminator; the
// case blocks are patched in by the caller via AddMatchCase.
func (b *Builder) CreateMatch(class MatchClass, cond Value) *Instr {
	in := NewInstr(Match, types.Void, "", cond)
	in.MatchOp = class
	return b.insertInstr(in)
}
