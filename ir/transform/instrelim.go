package transform

import (
	"strconv"
	"strings"

	"github.com/xzero/flow/ir"
	"github.com/xzero/flow/types"
)

// InstructionElimination folds pure instructions whose operands are
// all constants, removes pure instructions without uses, rewrites
// constant-condition branches, and canonicalizes commutative
// operations so that a constant operand sits on the right.
type InstructionElimination struct{}

// Name implements Pass.
func (InstructionElimination) Name() string { return "instruction-elimination" }

// Run implements Pass.
func (InstructionElimination) Run(h *ir.Handler) bool {
	changed := false

	// Canonicalize: constant to the right of commutative binaries.
	for _, bb := range h.Blocks {
		for _, in := range bb.Instrs {
			if !isCommutative(in.Op) || len(in.Operands) != 2 {
				continue
			}
			_, lc := in.Operands[0].(ir.Constant)
			_, rc := in.Operands[1].(ir.Constant)
			if lc && !rc {
				in.Operands[0], in.Operands[1] = in.Operands[1], in.Operands[0]
				changed = true
			}
		}
	}

	// Constant folding.
	for _, bb := range h.Blocks {
		var folded []*ir.Instr
		for _, in := range bb.Instrs {
			if c := foldInstr(in); c != nil {
				replaceUses(h, in, c)
				folded = append(folded, in)
				changed = true
			}
		}
		for _, in := range folded {
			bb.Remove(in)
		}
	}

	// Branch folding: CondBr on a constant condition becomes Br.
	for _, bb := range h.Blocks {
		t := bb.Terminator()
		if t == nil || t.Op != ir.CondBr {
			continue
		}
		cond, ok := t.Operand(0).(*ir.ConstBool)
		if !ok {
			continue
		}
		target := t.Targets[0]
		if !cond.Value {
			target = t.Targets[1]
		}
		br := ir.NewInstr(ir.Br, types.Void, "")
		br.Targets = []*ir.BasicBlock{target}
		br.Loc = t.Loc
		bb.Remove(t)
		bb.Append(br)
		changed = true
	}

	// Dead code: pure instructions whose result has no uses.
	for {
		uses := h.Uses()
		removed := false
		for _, bb := range h.Blocks {
			for _, in := range bb.Instrs {
				if in.Op.IsPure() && uses[in] == 0 {
					bb.Remove(in)
					removed = true
					changed = true
					break
				}
			}
			if removed {
				break
			}
		}
		if !removed {
			break
		}
	}

	return changed
}

func isCommutative(op ir.Op) bool {
	switch op {
	case ir.IAdd, ir.IMul, ir.IAnd, ir.IOr, ir.IXor,
		ir.BAnd, ir.BOr, ir.BXor,
		ir.ICmpEQ, ir.ICmpNE, ir.SCmpEQ, ir.SCmpNE, ir.PCmpEQ, ir.PCmpNE:
		return true
	default:
		return false
	}
}

func replaceUses(h *ir.Handler, old ir.Value, new ir.Value) {
	for _, bb := range h.Blocks {
		for _, in := range bb.Instrs {
			in.ReplaceOperand(old, new)
		}
	}
}

// foldInstr evaluates a pure instruction over constant operands.
// Returns nil when the instruction cannot be folded.
func foldInstr(in *ir.Instr) ir.Constant {
	if !in.Op.IsPure() {
		return nil
	}
	for _, op := range in.Operands {
		if _, ok := op.(ir.Constant); !ok {
			return nil
		}
	}

	intOp := func(i int) (int64, bool) {
		c, ok := in.Operand(i).(*ir.ConstInt)
		if !ok {
			return 0, false
		}
		return c.Value, true
	}
	boolOp := func(i int) (bool, bool) {
		c, ok := in.Operand(i).(*ir.ConstBool)
		if !ok {
			return false, false
		}
		return c.Value, true
	}
	strOp := func(i int) (string, bool) {
		c, ok := in.Operand(i).(*ir.ConstString)
		if !ok {
			return "", false
		}
		return c.Value, true
	}

	switch in.Op {
	case ir.INeg:
		if x, ok := intOp(0); ok {
			return ir.NewConstInt(-x)
		}
	case ir.INot:
		if x, ok := intOp(0); ok {
			return ir.NewConstInt(^x)
		}
	case ir.IAdd, ir.ISub, ir.IMul, ir.IDiv, ir.IRem, ir.IPow,
		ir.IAnd, ir.IOr, ir.IXor, ir.IShl, ir.IShr:
		x, okx := intOp(0)
		y, oky := intOp(1)
		if !okx || !oky {
			return nil
		}
		switch in.Op {
		case ir.IAdd:
			return ir.NewConstInt(x + y)
		case ir.ISub:
			return ir.NewConstInt(x - y)
		case ir.IMul:
			return ir.NewConstInt(x * y)
		case ir.IDiv:
			if y == 0 {
				return nil // keep the runtime error
			}
			return ir.NewConstInt(x / y)
		case ir.IRem:
			if y == 0 {
				return nil
			}
			return ir.NewConstInt(x % y)
		case ir.IPow:
			return ir.NewConstInt(ipow(x, y))
		case ir.IAnd:
			return ir.NewConstInt(x & y)
		case ir.IOr:
			return ir.NewConstInt(x | y)
		case ir.IXor:
			return ir.NewConstInt(x ^ y)
		case ir.IShl:
			return ir.NewConstInt(x << uint64(y&63))
		case ir.IShr:
			return ir.NewConstInt(int64(uint64(x) >> uint64(y&63)))
		}
	case ir.ICmpEQ, ir.ICmpNE, ir.ICmpLE, ir.ICmpGE, ir.ICmpLT, ir.ICmpGT:
		x, okx := intOp(0)
		y, oky := intOp(1)
		if !okx || !oky {
			return nil
		}
		switch in.Op {
		case ir.ICmpEQ:
			return ir.NewConstBool(x == y)
		case ir.ICmpNE:
			return ir.NewConstBool(x != y)
		case ir.ICmpLE:
			return ir.NewConstBool(x <= y)
		case ir.ICmpGE:
			return ir.NewConstBool(x >= y)
		case ir.ICmpLT:
			return ir.NewConstBool(x < y)
		case ir.ICmpGT:
			return ir.NewConstBool(x > y)
		}
	case ir.BNot:
		if x, ok := boolOp(0); ok {
			return ir.NewConstBool(!x)
		}
	case ir.BAnd, ir.BOr, ir.BXor:
		x, okx := boolOp(0)
		y, oky := boolOp(1)
		if !okx || !oky {
			return nil
		}
		switch in.Op {
		case ir.BAnd:
			return ir.NewConstBool(x && y)
		case ir.BOr:
			return ir.NewConstBool(x || y)
		case ir.BXor:
			return ir.NewConstBool(x != y)
		}
	case ir.SLen:
		if x, ok := strOp(0); ok {
			return ir.NewConstInt(int64(len(x)))
		}
	case ir.SIsEmpty:
		if x, ok := strOp(0); ok {
			return ir.NewConstBool(x == "")
		}
	case ir.SAdd:
		x, okx := strOp(0)
		y, oky := strOp(1)
		if okx && oky {
			return ir.NewConstString(x + y)
		}
	case ir.SCmpEQ, ir.SCmpNE, ir.SCmpLE, ir.SCmpGE, ir.SCmpLT, ir.SCmpGT,
		ir.SCmpBeg, ir.SCmpEnd, ir.SIn:
		x, okx := strOp(0)
		y, oky := strOp(1)
		if !okx || !oky {
			return nil
		}
		switch in.Op {
		case ir.SCmpEQ:
			return ir.NewConstBool(x == y)
		case ir.SCmpNE:
			return ir.NewConstBool(x != y)
		case ir.SCmpLE:
			return ir.NewConstBool(x <= y)
		case ir.SCmpGE:
			return ir.NewConstBool(x >= y)
		case ir.SCmpLT:
			return ir.NewConstBool(x < y)
		case ir.SCmpGT:
			return ir.NewConstBool(x > y)
		case ir.SCmpBeg:
			return ir.NewConstBool(strings.HasPrefix(x, y))
		case ir.SCmpEnd:
			return ir.NewConstBool(strings.HasSuffix(x, y))
		case ir.SIn:
			return ir.NewConstBool(strings.Contains(y, x))
		}
	case ir.SSubStr:
		s, oks := strOp(0)
		off, oko := intOp(1)
		n, okn := intOp(2)
		if !oks || !oko || !okn {
			return nil
		}
		return ir.NewConstString(substr(s, off, n))
	case ir.Cast:
		return foldCast(in)
	}
	return nil
}

func foldCast(in *ir.Instr) ir.Constant {
	switch in.Type() {
	case types.String:
		switch c := in.Operand(0).(type) {
		case *ir.ConstInt:
			return ir.NewConstString(strconv.FormatInt(c.Value, 10))
		case *ir.ConstIP:
			return ir.NewConstString(c.Value.String())
		case *ir.ConstCidr:
			return ir.NewConstString(c.Value.String())
		case *ir.ConstRegExp:
			return ir.NewConstString(c.Pattern)
		}
	case types.Number:
		if c, ok := in.Operand(0).(*ir.ConstString); ok {
			if v, err := strconv.ParseInt(strings.TrimSpace(c.Value), 0, 64); err == nil {
				return ir.NewConstInt(v)
			}
		}
	}
	return nil
}

// ipow computes x**y over int64 with the VM's semantics: negative
// exponents yield zero, overflow wraps.
func ipow(x, y int64) int64 {
	if y < 0 {
		return 0
	}
	var r int64 = 1
	for ; y > 0; y-- {
		r *= x
	}
	return r
}

// substr mirrors the VM's SSUBSTR clamping semantics.
func substr(s string, off, n int64) string {
	if off < 0 {
		off = 0
	}
	if off > int64(len(s)) {
		off = int64(len(s))
	}
	end := off + n
	if n < 0 || end > int64(len(s)) {
		end = int64(len(s))
	}
	if end < off {
		end = off
	}
	return s[off:end]
}
