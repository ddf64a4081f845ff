// Package codegen lowers the IR to stack-machine bytecode: one pass
// per handler in basic-block order, with back-patched forward jumps,
// match-table hints, and a symbolic stack that keeps the runtime
// stack layout statically deterministic.
//
// Stack discipline: every handler reserves one slot per Alloca at
// entry. Within a block, instruction results occupy slots above the
// allocas in emission order. Before every terminator the generator
// discards the block's temporaries, so each basic block is entered
// with exactly the alloca slots on the stack; EXIT always sees an
// empty stack.
package codegen

import (
	"fmt"
	"net/netip"

	"github.com/xzero/flow/ir"
	"github.com/xzero/flow/types"
	"github.com/xzero/flow/vm"
)

// Generate lowers an IR program to a bytecode program.
func Generate(prog *ir.Program) (*vm.Program, error) {
	g := &generator{}
	g.cp.Modules = append(g.cp.Modules, prog.Modules...)

	for _, h := range prog.Handlers {
		if err := g.genHandler(h); err != nil {
			return nil, err
		}
	}
	return vm.NewProgram(g.cp), nil
}

type jumpSite struct {
	pc     int
	opcode vm.Opcode
}

type matchHint struct {
	instr   *ir.Instr
	matchID vm.Operand
}

type generator struct {
	cp vm.ConstantPool

	// Per-handler state:
	handlerID int
	code      []vm.Instruction

	condJumps   map[*ir.BasicBlock][]jumpSite
	uncondJumps map[*ir.BasicBlock][]jumpSite
	matchHints  []matchHint

	// Symbolic stack: the value occupying each runtime slot; nil for
	// slots whose value is dead.
	stack   []ir.Value
	pos     map[ir.Value]int
	uses    map[ir.Value]int
	allocas []*ir.Instr
	base    int // number of alloca slots
}

func (g *generator) emit(in vm.Instruction) int {
	g.code = append(g.code, in)
	return len(g.code) - 1
}

func (g *generator) pc() int { return len(g.code) }

func (g *generator) genHandler(h *ir.Handler) error {
	g.handlerID = g.cp.MakeHandler(h.Name)
	g.code = nil
	g.condJumps = map[*ir.BasicBlock][]jumpSite{}
	g.uncondJumps = map[*ir.BasicBlock][]jumpSite{}
	g.matchHints = nil
	g.stack = nil
	g.pos = map[ir.Value]int{}
	g.uses = h.Uses()

	// All allocas are handler-scoped; reserve their slots up front so
	// every block sees the same base layout.
	g.allocas = nil
	for _, bb := range h.Blocks {
		for _, in := range bb.Instrs {
			if in.Op == ir.Alloca {
				g.allocas = append(g.allocas, in)
			}
		}
	}
	g.base = len(g.allocas)
	if g.base > 0 {
		g.emit(vm.MakeInstruction(vm.ALLOCA, vm.Operand(g.base)))
	}

	entryPC := make(map[*ir.BasicBlock]int, len(h.Blocks))

	for i, bb := range h.Blocks {
		entryPC[bb] = g.pc()
		var next *ir.BasicBlock
		if i+1 < len(h.Blocks) {
			next = h.Blocks[i+1]
		}
		if err := g.genBlock(h, bb, next); err != nil {
			return err
		}
	}

	// Back-patch conditional jumps.
	for target, sites := range g.condJumps {
		pc, ok := entryPC[target]
		if !ok {
			return fmt.Errorf("handler %q: conditional jump to unknown block %q",
				h.Name, target.Name)
		}
		for _, site := range sites {
			g.code[site.pc] = vm.MakeInstruction(site.opcode, vm.Operand(pc))
		}
	}
	// Back-patch unconditional jumps.
	for target, sites := range g.uncondJumps {
		pc, ok := entryPC[target]
		if !ok {
			return fmt.Errorf("handler %q: jump to unknown block %q",
				h.Name, target.Name)
		}
		for _, site := range sites {
			g.code[site.pc] = vm.MakeInstruction(site.opcode, vm.Operand(pc))
		}
	}
	// Fill in match-table target PCs.
	for _, hint := range g.matchHints {
		def := &g.cp.Matches[hint.matchID]
		for i, c := range hint.instr.Cases {
			def.Cases[i].PC = uint64(entryPC[c.Block])
		}
		def.ElsePC = uint64(entryPC[hint.instr.ElseBlock])
	}

	g.cp.SetHandlerCode(g.handlerID, g.code)
	return nil
}

func (g *generator) genBlock(h *ir.Handler, bb *ir.BasicBlock, next *ir.BasicBlock) error {
	// Reset to the canonical entry layout: the alloca slots only.
	g.stack = g.stack[:0]
	for _, a := range g.allocas {
		g.pos[a] = len(g.stack)
		g.stack = append(g.stack, a)
	}

	for _, in := range bb.Instrs {
		if err := g.genInstr(h, in, next); err != nil {
			return fmt.Errorf("handler %q, block %q: %w", h.Name, bb.Name, err)
		}
	}
	return nil
}

func (g *generator) genInstr(h *ir.Handler, in *ir.Instr, next *ir.BasicBlock) error {
	switch in.Op {
	case ir.Nop:
		g.emit(vm.MakeInstruction(vm.NOP))

	case ir.Alloca:
		// Reserved at handler entry.

	case ir.Store:
		g.genStore(in)

	case ir.Load:
		slot, ok := g.pos[in.Operand(0)]
		if !ok {
			return fmt.Errorf("load from unallocated slot")
		}
		g.emit(vm.MakeInstruction(vm.LOAD, vm.Operand(slot)))
		g.pushResult(in)

	case ir.Phi:
		return fmt.Errorf("phi must not survive into bytecode")

	case ir.Cast:
		return g.genCast(in)

	case ir.Call:
		g.genCall(in)

	case ir.HandlerCall:
		g.genHandlerCall(in)

	case ir.Br:
		g.discardTemps()
		target := in.Targets[0]
		if target != next {
			pc := g.emit(vm.MakeInstruction(vm.JMP))
			g.uncondJumps[target] = append(g.uncondJumps[target], jumpSite{pc, vm.JMP})
		}

	case ir.CondBr:
		g.isolateCondition(in.Operand(0))
		then, els := in.Targets[0], in.Targets[1]
		// JZ pops the condition on both outcomes.
		pc := g.emit(vm.MakeInstruction(vm.JZ))
		g.condJumps[els] = append(g.condJumps[els], jumpSite{pc, vm.JZ})
		if then != next {
			jpc := g.emit(vm.MakeInstruction(vm.JMP))
			g.uncondJumps[then] = append(g.uncondJumps[then], jumpSite{jpc, vm.JMP})
		}

	case ir.Ret:
		g.discardAll()
		imm := vm.Operand(0)
		if c, ok := in.Operand(0).(*ir.ConstBool); ok && c.Value {
			imm = 1
		}
		g.emit(vm.MakeInstruction(vm.EXIT, imm))

	case ir.Match:
		return g.genMatch(in)

	default:
		return g.genSimple(in)
	}
	return nil
}

// genSimple lowers the unary/binary value instructions that map 1:1
// onto an opcode.
func (g *generator) genSimple(in *ir.Instr) error {
	opc, ok := simpleOpcodes[in.Op]
	if !ok {
		return fmt.Errorf("cannot lower %s", in.Op)
	}
	g.emitOperands(in.Operands)
	g.emit(vm.MakeInstruction(opc))
	g.consume(len(in.Operands))
	g.pushResult(in)
	return nil
}

var simpleOpcodes = map[ir.Op]vm.Opcode{
	ir.INeg: vm.NNEG, ir.INot: vm.NNOT,
	ir.IAdd: vm.NADD, ir.ISub: vm.NSUB, ir.IMul: vm.NMUL,
	ir.IDiv: vm.NDIV, ir.IRem: vm.NREM, ir.IPow: vm.NPOW,
	ir.IAnd: vm.NAND, ir.IOr: vm.NOR, ir.IXor: vm.NXOR,
	ir.IShl: vm.NSHL, ir.IShr: vm.NSHR,
	ir.ICmpEQ: vm.NCMPEQ, ir.ICmpNE: vm.NCMPNE, ir.ICmpLE: vm.NCMPLE,
	ir.ICmpGE: vm.NCMPGE, ir.ICmpLT: vm.NCMPLT, ir.ICmpGT: vm.NCMPGT,
	ir.BNot: vm.BNOT, ir.BAnd: vm.BAND, ir.BOr: vm.BOR, ir.BXor: vm.BXOR,
	ir.SLen: vm.SLEN, ir.SIsEmpty: vm.SISEMPTY, ir.SAdd: vm.SADD,
	ir.SSubStr: vm.SSUBSTR,
	ir.SCmpEQ:  vm.SCMPEQ, ir.SCmpNE: vm.SCMPNE, ir.SCmpLE: vm.SCMPLE,
	ir.SCmpGE: vm.SCMPGE, ir.SCmpLT: vm.SCMPLT, ir.SCmpGT: vm.SCMPGT,
	ir.SCmpRE: vm.SREGMATCH, ir.SCmpBeg: vm.SCMPBEG, ir.SCmpEnd: vm.SCMPEND,
	ir.SIn:    vm.SCONTAINS,
	ir.PCmpEQ: vm.PCMPEQ, ir.PCmpNE: vm.PCMPNE, ir.PInCidr: vm.PINCIDR,
}

func (g *generator) genStore(in *ir.Instr) {
	slotVal, value := in.Operand(0), in.Operand(1)
	slot, ok := g.pos[slotVal]
	if !ok {
		return
	}
	// Last-use heuristic: when the source is already on top of the
	// stack and this is its only use, skip the redundant LOAD.
	if !g.onTopLastUse(value) {
		g.emitLoad(value)
	}
	g.emit(vm.MakeInstruction(vm.STORE, vm.Operand(slot)))
	g.emit(vm.MakeInstruction(vm.DISCARD, 1))
	g.popSlot()
}

func (g *generator) genCast(in *ir.Instr) error {
	from := in.Operand(0).Type()
	to := in.Type()
	var opc vm.Opcode
	switch {
	case from == types.Number && to == types.String:
		opc = vm.N2S
	case from == types.IPAddress && to == types.String:
		opc = vm.P2S
	case from == types.Cidr && to == types.String:
		opc = vm.C2S
	case from == types.RegExp && to == types.String:
		opc = vm.R2S
	case from == types.String && to == types.Number:
		opc = vm.S2N
	default:
		return fmt.Errorf("cannot lower cast %s -> %s", from, to)
	}
	g.emitOperands(in.Operands)
	g.emit(vm.MakeInstruction(opc))
	g.consume(1)
	g.pushResult(in)
	return nil
}

func (g *generator) genCall(in *ir.Instr) {
	natID := g.cp.MakeNativeRef(vm.NativeRef{
		Sig: in.Callee.Sig,
		Loc: in.Loc,
	})
	g.emitOperands(in.Operands)
	argc := len(in.Operands)

	retflag := vm.Operand(0)
	if in.Callee.Sig.Ret != types.Void {
		retflag = 1
	}
	g.emit(vm.MakeInstruction(vm.CALL, natID, vm.Operand(argc), retflag))
	g.consume(argc)

	if retflag == 1 {
		if g.uses[in] == 0 {
			// Unused function result.
			g.emit(vm.MakeInstruction(vm.DISCARD, 1))
		} else {
			g.pushResult(in)
		}
	}
}

func (g *generator) genHandlerCall(in *ir.Instr) {
	natID := g.cp.MakeNativeRef(vm.NativeRef{
		Sig:       in.Callee.Sig,
		IsHandler: true,
		Loc:       in.Loc,
	})
	g.emitOperands(in.Operands)
	argc := len(in.Operands)
	g.emit(vm.MakeInstruction(vm.HANDLER, natID, vm.Operand(argc)))
	g.consume(argc)
}

func (g *generator) genMatch(in *ir.Instr) error {
	def := vm.MatchDef{HandlerID: g.handlerID}
	var opc vm.Opcode
	switch in.MatchOp {
	case ir.MatchSame:
		opc, def.Class = vm.SMATCHEQ, vm.MatchSame
	case ir.MatchHead:
		opc, def.Class = vm.SMATCHBEG, vm.MatchHead
	case ir.MatchTail:
		opc, def.Class = vm.SMATCHEND, vm.MatchTail
	case ir.MatchRegex:
		opc, def.Class = vm.SMATCHR, vm.MatchRegex
	}

	for _, c := range in.Cases {
		var idx vm.Operand
		switch label := c.Label.(type) {
		case *ir.ConstString:
			idx = g.cp.MakeString(label.Value)
		case *ir.ConstRegExp:
			idx = g.cp.MakeRegexp(label.Pattern, label.Loc)
		default:
			return fmt.Errorf("unsupported match label %s", c.Label.Name())
		}
		def.Cases = append(def.Cases, vm.MatchCaseDef{ValueIndex: idx})
	}

	matchID := g.cp.MakeMatch(def)
	g.matchHints = append(g.matchHints, matchHint{instr: in, matchID: matchID})

	g.isolateCondition(in.Operand(0))
	g.emit(vm.MakeInstruction(opc, matchID))
	return nil
}

// -----------------------------------------------------------------------------
// Symbolic stack
// -----------------------------------------------------------------------------

// pushResult records the freshly pushed value in the top slot.
func (g *generator) pushResult(in *ir.Instr) {
	g.pos[in] = len(g.stack)
	g.stack = append(g.stack, in)
}

// popSlot drops the top symbolic slot.
func (g *generator) popSlot() {
	top := g.stack[len(g.stack)-1]
	if top != nil {
		delete(g.pos, top)
	}
	g.stack = g.stack[:len(g.stack)-1]
}

// consume pops n symbolic slots after an operation consumed them.
func (g *generator) consume(n int) {
	for i := 0; i < n; i++ {
		g.popSlot()
	}
}

// onTopLastUse reports whether v is an instruction result sitting on
// top of the stack with no further uses.
func (g *generator) onTopLastUse(v ir.Value) bool {
	if _, isConst := v.(ir.Constant); isConst {
		return false
	}
	slot, ok := g.pos[v]
	if !ok || slot != len(g.stack)-1 || slot < g.base {
		return false
	}
	return g.uses[v] == 1
}

// emitOperands materializes the operand list as the stack tail. When
// the operands already form the stack tail in order (each its last
// use), they are consumed in place without any loads.
func (g *generator) emitOperands(operands []ir.Value) {
	if g.operandsInPlace(operands) {
		return
	}
	for _, op := range operands {
		g.emitLoad(op)
	}
}

// operandsInPlace reports whether the operands are exactly the top
// len(operands) temporaries in order, each used only here.
func (g *generator) operandsInPlace(operands []ir.Value) bool {
	k := len(operands)
	if k == 0 || len(g.stack)-k < g.base {
		return false
	}
	for i, op := range operands {
		slot := len(g.stack) - k + i
		if g.stack[slot] != op {
			return false
		}
		if _, isConst := op.(ir.Constant); isConst {
			return false
		}
		if g.uses[op] != 1 {
			return false
		}
	}
	return true
}

// emitLoad pushes a copy of the value: a constant load for constants,
// a LOAD for stack-resident values.
func (g *generator) emitLoad(v ir.Value) {
	if c, isConst := v.(ir.Constant); isConst {
		g.emitConstLoad(c)
		g.stack = append(g.stack, nil) // anonymous copy
		return
	}
	slot, ok := g.pos[v]
	if !ok {
		// Defensive: a value that never landed on the stack.
		g.emit(vm.MakeInstruction(vm.ILOAD, 0))
		g.stack = append(g.stack, nil)
		return
	}
	g.emit(vm.MakeInstruction(vm.LOAD, vm.Operand(slot)))
	g.stack = append(g.stack, nil) // anonymous copy
}

func (g *generator) emitConstLoad(c ir.Constant) {
	switch x := c.(type) {
	case *ir.ConstInt:
		if x.Value >= 0 && x.Value <= vm.MaxOperand {
			g.emit(vm.MakeInstruction(vm.ILOAD, vm.Operand(x.Value)))
		} else {
			g.emit(vm.MakeInstruction(vm.NLOAD, g.cp.MakeNumber(x.Value)))
		}
	case *ir.ConstBool:
		imm := vm.Operand(0)
		if x.Value {
			imm = 1
		}
		g.emit(vm.MakeInstruction(vm.ILOAD, imm))
	case *ir.ConstString:
		g.emit(vm.MakeInstruction(vm.SLOAD, g.cp.MakeString(x.Value)))
	case *ir.ConstIP:
		g.emit(vm.MakeInstruction(vm.PLOAD, g.cp.MakeIP(x.Value)))
	case *ir.ConstCidr:
		g.emit(vm.MakeInstruction(vm.CLOAD, g.cp.MakeCidr(x.Value)))
	case *ir.ConstRegExp:
		g.emit(vm.MakeInstruction(vm.RLOAD, g.cp.MakeRegexp(x.Pattern, x.Loc)))
	case *ir.ConstArray:
		g.emitArrayLoad(x)
	}
}

func (g *generator) emitArrayLoad(arr *ir.ConstArray) {
	switch arr.Type() {
	case types.NumberArray:
		elems := make([]int64, len(arr.Elems))
		for i, e := range arr.Elems {
			elems[i] = e.(*ir.ConstInt).Value
		}
		g.emit(vm.MakeInstruction(vm.TLOADI, g.cp.MakeNumberArray(elems)))
	case types.StringArray:
		elems := make([]string, len(arr.Elems))
		for i, e := range arr.Elems {
			elems[i] = e.(*ir.ConstString).Value
		}
		g.emit(vm.MakeInstruction(vm.TLOADS, g.cp.MakeStringArray(elems)))
	case types.IPAddressArray:
		elems := make([]netip.Addr, len(arr.Elems))
		for i, e := range arr.Elems {
			elems[i] = e.(*ir.ConstIP).Value
		}
		g.emit(vm.MakeInstruction(vm.TLOADP, g.cp.MakeIPArray(elems)))
	case types.CidrArray:
		elems := make([]netip.Prefix, len(arr.Elems))
		for i, e := range arr.Elems {
			elems[i] = e.(*ir.ConstCidr).Value
		}
		g.emit(vm.MakeInstruction(vm.TLOADC, g.cp.MakeCidrArray(elems)))
	}
}

// discardTemps drops every slot above the alloca base.
func (g *generator) discardTemps() {
	n := len(g.stack) - g.base
	if n > 0 {
		g.emit(vm.MakeInstruction(vm.DISCARD, vm.Operand(n)))
		for i := 0; i < n; i++ {
			g.popSlot()
		}
	}
}

// discardAll empties the stack entirely (before EXIT).
func (g *generator) discardAll() {
	n := len(g.stack)
	if n > 0 {
		g.emit(vm.MakeInstruction(vm.DISCARD, vm.Operand(n)))
		for i := 0; i < n; i++ {
			g.popSlot()
		}
	}
}

// isolateCondition arranges the stack as [allocas..., cond]: the
// condition value ends up as the only temporary, ready to be popped
// by a conditional jump or match dispatch.
func (g *generator) isolateCondition(cond ir.Value) {
	// Fast path: the condition already is the only temporary on top.
	if len(g.stack) == g.base+1 && g.stack[g.base] == cond && g.uses[cond] == 1 {
		g.popSlot()
		return
	}
	g.emitLoad(cond)
	if len(g.stack) == g.base+1 {
		// The copy is the only temporary.
		g.popSlot()
		return
	}
	// Park the condition in the first temp slot, then discard the
	// rest of the temporaries above it.
	g.emit(vm.MakeInstruction(vm.STORE, vm.Operand(g.base)))
	n := len(g.stack) - g.base - 1
	g.emit(vm.MakeInstruction(vm.DISCARD, vm.Operand(n)))
	for len(g.stack) > g.base {
		g.popSlot()
	}
}
