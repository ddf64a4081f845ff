package ir

import (
	"fmt"
	"strings"

	"github.com/xzero/flow/diag"
	"github.com/xzero/flow/types"
)

// Op identifies an IR instruction variant.
type Op uint8

const (
	// storage
	Alloca Op = iota
	Store
	Load
	Phi

	// numeric
	INeg
	INot
	IAdd
	ISub
	IMul
	IDiv
	IRem
	IPow
	IAnd
	IOr
	IXor
	IShl
	IShr
	ICmpEQ
	ICmpNE
	ICmpLE
	ICmpGE
	ICmpLT
	ICmpGT

	// boolean
	BNot
	BAnd
	BOr
	BXor

	// string
	SLen
	SIsEmpty
	SAdd
	SSubStr
	SCmpEQ
	SCmpNE
	SCmpLE
	SCmpGE
	SCmpLT
	SCmpGT
	SCmpRE
	SCmpBeg
	SCmpEnd
	SIn

	// ip/cidr
	PCmpEQ
	PCmpNE
	PInCidr

	// conversion
	Cast

	// calls
	Call
	HandlerCall

	Nop

	// terminators
	Br
	CondBr
	Ret
	Match
)

var opNames = [...]string{
	Alloca: "alloca", Store: "store", Load: "load", Phi: "phi",
	INeg: "ineg", INot: "inot", IAdd: "iadd", ISub: "isub", IMul: "imul",
	IDiv: "idiv", IRem: "irem", IPow: "ipow", IAnd: "iand", IOr: "ior",
	IXor: "ixor", IShl: "ishl", IShr: "ishr",
	ICmpEQ: "icmpeq", ICmpNE: "icmpne", ICmpLE: "icmple",
	ICmpGE: "icmpge", ICmpLT: "icmplt", ICmpGT: "icmpgt",
	BNot: "bnot", BAnd: "band", BOr: "bor", BXor: "bxor",
	SLen: "slen", SIsEmpty: "sisempty", SAdd: "sadd", SSubStr: "ssubstr",
	SCmpEQ: "scmpeq", SCmpNE: "scmpne", SCmpLE: "scmple",
	SCmpGE: "scmpge", SCmpLT: "scmplt", SCmpGT: "scmpgt",
	SCmpRE: "scmpre", SCmpBeg: "scmpbeg", SCmpEnd: "scmpend", SIn: "sin",
	PCmpEQ: "pcmpeq", PCmpNE: "pcmpne", PInCidr: "pincidr",
	Cast: "cast", Call: "call", HandlerCall: "handlercall", Nop: "nop",
	Br: "br", CondBr: "condbr", Ret: "ret", Match: "match",
}

// String returns the mnemonic of the op.
func (o Op) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return "<invalid>"
}

// IsTerminator reports whether the op ends a basic block.
func (o Op) IsTerminator() bool {
	switch o {
	case Br, CondBr, Ret, Match:
		return true
	default:
		return false
	}
}

// IsPure reports whether the instruction has no side effects and its
// result depends only on its operands. Pure instructions with no uses
// are dead code.
func (o Op) IsPure() bool {
	switch o {
	case Alloca, Store, Load, Phi, Call, HandlerCall, Br, CondBr, Ret, Match, Nop:
		return false
	case SCmpRE:
		// Updates the regex match context.
		return false
	default:
		return true
	}
}

// MatchClass is the operator kind of a match terminator.
type MatchClass uint8

const (
	MatchSame MatchClass = iota
	MatchHead
	MatchTail
	MatchRegex
)

// String returns the class operator spelling.
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

// MatchCase is one labeled branch of a Match terminator.
type MatchCase struct {
	Label Constant
	Block *BasicBlock
}

// Instr is one IR instruction. Each non-void instruction is its own
// SSA value; dispatch is by Op tag.
type Instr struct {
	valueBase
	Op       Op
	Operands []Value

	// Terminator targets: Br uses Targets[0]; CondBr uses
	// Targets[0] (then) and Targets[1] (else).
	Targets []*BasicBlock

	// Match terminator payload.
	MatchOp   MatchClass
	Cases     []MatchCase
	ElseBlock *BasicBlock

	// Callee descriptor for Call/HandlerCall.
	Callee *Builtin

	// Loc is the source location that produced the instruction; kept
	// for link-time and verifier diagnostics.
	Loc diag.SourceLocation
}

// NewInstr builds an instruction. The result type of void instructions
// is types.Void.
func NewInstr(op Op, typ types.LiteralType, name string, operands ...Value) *Instr {
	in := &Instr{Op: op, Operands: operands}
	in.name = name
	in.typ = typ
	return in
}

// Operand returns operand i, or nil.
func (in *Instr) Operand(i int) Value {
	if i < len(in.Operands) {
		return in.Operands[i]
	}
	return nil
}

// ReplaceOperand substitutes every use of old with new.
func (in *Instr) ReplaceOperand(old, new Value) {
	for i, op := range in.Operands {
		if op == old {
			in.Operands[i] = new
		}
	}
}

// Successors returns the blocks this instruction can transfer to.
// Empty for non-terminators and Ret.
func (in *Instr) Successors() []*BasicBlock {
	switch in.Op {
	case Br, CondBr:
		return in.Targets
	case Match:
		succ := make([]*BasicBlock, 0, len(in.Cases)+1)
		for _, c := range in.Cases {
			succ = append(succ, c.Block)
		}
		if in.ElseBlock != nil {
			succ = append(succ, in.ElseBlock)
		}
		return succ
	default:
		return nil
	}
}

// ReplaceTarget rewrites every successor edge pointing at old to new.
func (in *Instr) ReplaceTarget(old, new *BasicBlock) {
	for i, t := range in.Targets {
		if t == old {
			in.Targets[i] = new
		}
	}
	for i := range in.Cases {
		if in.Cases[i].Block == old {
			in.Cases[i].Block = new
		}
	}
	if in.ElseBlock == old {
		in.ElseBlock = new
	}
}

// String renders the instruction in list form for dumps and tests.
func (in *Instr) String() string {
	var sb strings.Builder
	if in.typ != types.Void {
		fmt.Fprintf(&sb, "%%%s = ", in.name)
	}
	sb.WriteString(in.Op.String())
	if in.Callee != nil {
		sb.WriteByte(' ')
		sb.WriteString(in.Callee.Sig.Name)
	}
	for i, op := range in.Operands {
		if i > 0 || in.Callee != nil {
			sb.WriteByte(',')
		}
		sb.WriteByte(' ')
		sb.WriteString(operandName(op))
	}
	switch in.Op {
	case Br:
		fmt.Fprintf(&sb, " %%%s", in.Targets[0].Name)
	case CondBr:
		fmt.Fprintf(&sb, ", %%%s, %%%s", in.Targets[0].Name, in.Targets[1].Name)
	case Match:
		fmt.Fprintf(&sb, " %s", in.MatchOp)
		for _, c := range in.Cases {
			fmt.Fprintf(&sb, ", [%s -> %%%s]", c.Label.Name(), c.Block.Name)
		}
		if in.ElseBlock != nil {
			fmt.Fprintf(&sb, ", [else -> %%%s]", in.ElseBlock.Name)
		}
	}
	return sb.String()
}

func operandName(v Value) string {
	switch v.(type) {
	case Constant:
		return v.Name()
	case *Builtin:
		return "@" + v.Name()
	default:
		return "%" + v.Name()
	}
}

// Builtin describes a host-provided native function or handler as
// referenced from the IR. It is a program-level descriptor; the
// concrete body lives in the runtime registry.
type Builtin struct {
	valueBase
	Sig       types.Signature
	IsHandler bool
}

// NewBuiltin creates a builtin descriptor from a signature.
func NewBuiltin(sig types.Signature, isHandler bool) *Builtin {
	b := &Builtin{Sig: sig, IsHandler: isHandler}
	b.name = sig.Name
	if isHandler {
		b.typ = types.Boolean
	} else {
		b.typ = sig.Ret
	}
	return b
}
