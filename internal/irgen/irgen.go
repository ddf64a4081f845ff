// Package irgen lowers the FlowLang AST to the SSA IR: control-flow
// construction, bottom-up type inference, explicit Cast insertion,
// builtin resolution against the runtime registry, and inline
// expansion of user-defined handler calls.
package irgen

import (
	"net/netip"

	"github.com/xzero/flow/diag"
	"github.com/xzero/flow/internal/ast"
	"github.com/xzero/flow/internal/token"
	"github.com/xzero/flow/ir"
	"github.com/xzero/flow/types"
	"github.com/xzero/flow/vm"
)

// Generate lowers a unit into a new IR program. All type errors
// accumulate into report; the returned program contains every handler
// that lowered without fatal errors.
func Generate(unit *ast.Unit, runtime *vm.Runtime, report *diag.Report) *ir.Program {
	prog := ir.NewProgram()
	g := &generator{
		unit:    unit,
		runtime: runtime,
		report:  report,
		prog:    prog,
		b:       ir.NewBuilder(prog),
	}

	for _, im := range unit.Imports {
		prog.Modules = append(prog.Modules, im.Module)
	}
	for _, h := range unit.Handlers {
		g.genHandler(h)
	}
	return prog
}

// slot is one resolved variable: its alloca and declared type.
type slot struct {
	alloca *ir.Instr
	typ    types.LiteralType
}

type generator struct {
	unit    *ast.Unit
	runtime *vm.Runtime
	report  *diag.Report
	prog    *ir.Program
	b       *ir.Builder

	// scopes is the lexical scope stack of the handler being lowered.
	scopes []map[string]*slot

	// inlining tracks the user-handler inline expansion stack for
	// recursion detection.
	inlining []*ast.Handler
}

func (g *generator) errorf(n ast.Node, format string, args ...any) {
	g.report.TypeError(ast.SpanOf(n).Location(), format, args...)
}

func (g *generator) pushScope() {
	g.scopes = append(g.scopes, map[string]*slot{})
}

func (g *generator) popScope() {
	g.scopes = g.scopes[:len(g.scopes)-1]
}

func (g *generator) define(name string, s *slot) {
	g.scopes[len(g.scopes)-1][name] = s
}

func (g *generator) lookup(name string) *slot {
	for i := len(g.scopes) - 1; i >= 0; i-- {
		if s, ok := g.scopes[i][name]; ok {
			return s
		}
	}
	return nil
}

func (g *generator) setLoc(n ast.Node) {
	g.b.SetLocation(ast.SpanOf(n).Location())
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

func (g *generator) genHandler(h *ast.Handler) {
	g.b.SetHandler(h.Name)
	g.scopes = nil
	g.pushScope()

	// Unit-scoped variables materialize as entry allocas in every
	// handler that can see them.
	for _, v := range g.unit.Vars {
		g.genVarDecl(v)
	}

	g.genStmt(h.Body)

	// Implicit "not handled" at the end of the body.
	if !g.b.InsertPoint().IsSealed() {
		g.setLoc(h)
		g.b.CreateRet(g.b.ConstBool(false))
	}
	g.popScope()

	// Seal any dangling merge blocks created by nested control flow.
	for _, bb := range g.b.Handler().Blocks {
		if !bb.IsSealed() {
			g.b.SetInsertPoint(bb)
			g.b.CreateRet(g.b.ConstBool(false))
		}
	}
}

// -----------------------------------------------------------------------------
// Statements
// -----------------------------------------------------------------------------

func (g *generator) genStmt(s ast.Stmt) {
	if s == nil {
		return
	}
	switch x := s.(type) {
	case *ast.CompoundStmt:
		g.pushScope()
		for _, inner := range x.Stmts {
			if g.b.InsertPoint().IsSealed() {
				break // unreachable code after a terminator
			}
			g.genStmt(inner)
		}
		g.popScope()

	case *ast.VarDeclStmt:
		g.genVarDecl(x.Var)

	case *ast.AssignStmt:
		g.genAssign(x)

	case *ast.ExprStmt:
		g.genExprStmt(x)

	case *ast.CondStmt:
		g.genCond(x)

	case *ast.MatchStmt:
		g.genMatch(x)
	}
}

func (g *generator) genVarDecl(v *ast.Variable) {
	init, ok := g.genExpr(v.Init)
	if !ok {
		return
	}
	if init.Type() == types.Void {
		g.errorf(v, "cannot initialize variable %q from a void expression", v.Name)
		return
	}
	g.setLoc(v)
	a := g.b.CreateAlloca(init.Type(), v.Name)
	g.b.CreateStore(a, init)
	g.define(v.Name, &slot{alloca: a, typ: init.Type()})
}

func (g *generator) genAssign(x *ast.AssignStmt) {
	s := g.lookup(x.Name)
	if s == nil {
		g.errorf(x, "assignment to undeclared variable %q", x.Name)
		return
	}
	val, ok := g.genExpr(x.X)
	if !ok {
		return
	}
	g.setLoc(x)
	val = g.coerce(val, s.typ, x.X)
	if val == nil {
		return
	}
	g.b.CreateStore(s.alloca, val)
}

func (g *generator) genExprStmt(x *ast.ExprStmt) {
	call, ok := x.X.(*ast.CallExpr)
	if !ok {
		g.genExpr(x.X)
		return
	}

	// Statement calls may target user handlers (inlined) and builtin
	// handlers, in addition to builtin functions.
	if target := g.unit.FindHandler(call.Callee); target != nil {
		if len(call.Args) > 0 {
			g.errorf(call, "handler %q does not take arguments", call.Callee)
			return
		}
		g.inlineHandler(call, target)
		return
	}
	g.genCall(call, true)
}

// inlineHandler expands a user-defined handler call in place. The
// callee's terminating "handled" results propagate to the caller,
// while falling off its end continues with the next statement.
func (g *generator) inlineHandler(call *ast.CallExpr, target *ast.Handler) {
	for _, active := range g.inlining {
		if active == target {
			g.errorf(call, "recursive call to handler %q", target.Name)
			return
		}
	}
	g.inlining = append(g.inlining, target)
	g.pushScope()
	g.genStmt(target.Body)
	g.popScope()
	g.inlining = g.inlining[:len(g.inlining)-1]
}

func (g *generator) genCond(x *ast.CondStmt) {
	cond, ok := g.genExpr(x.Cond)
	if !ok {
		return
	}
	if cond.Type() != types.Boolean {
		g.errorf(x.Cond, "if condition must be bool, got %s", cond.Type())
		return
	}

	then := g.b.CreateBlock("if.then")
	var els *ir.BasicBlock
	merge := g.b.CreateBlock("if.end")
	if x.Else != nil {
		els = g.b.CreateBlock("if.else")
	} else {
		els = merge
	}

	g.setLoc(x)
	g.b.CreateCondBr(cond, then, els)

	g.b.SetInsertPoint(then)
	g.genStmt(x.Then)
	if !g.b.InsertPoint().IsSealed() {
		g.b.CreateBr(merge)
	}

	if x.Else != nil {
		g.b.SetInsertPoint(els)
		g.genStmt(x.Else)
		if !g.b.InsertPoint().IsSealed() {
			g.b.CreateBr(merge)
		}
	}

	g.b.SetInsertPoint(merge)
}

func (g *generator) genMatch(x *ast.MatchStmt) {
	cond, ok := g.genExpr(x.Cond)
	if !ok {
		return
	}
	if cond.Type() != types.String {
		g.errorf(x.Cond, "match value must be string, got %s", cond.Type())
		return
	}

	g.setLoc(x)
	m := g.b.CreateMatch(matchClass(x.Class), cond)
	merge := g.b.CreateBlock("match.end")

	for _, arm := range x.Arms {
		label := g.matchLabel(arm, x.Class)
		if label == nil {
			continue
		}
		armBB := g.b.CreateBlock("match.on")
		m.Cases = append(m.Cases, ir.MatchCase{Label: label, Block: armBB})

		g.b.SetInsertPoint(armBB)
		g.genStmt(arm.Body)
		if !g.b.InsertPoint().IsSealed() {
			g.b.CreateBr(merge)
		}
	}

	if x.Else != nil {
		elseBB := g.b.CreateBlock("match.else")
		m.ElseBlock = elseBB
		g.b.SetInsertPoint(elseBB)
		g.genStmt(x.Else)
		if !g.b.InsertPoint().IsSealed() {
			g.b.CreateBr(merge)
		}
	} else {
		m.ElseBlock = merge
	}

	g.b.SetInsertPoint(merge)
}

// matchLabel checks and interns one arm label against the match class.
func (g *generator) matchLabel(arm *ast.MatchArm, class ast.MatchClass) ir.Constant {
	if class == ast.MatchRegex {
		lit, ok := arm.Label.(*ast.RegexLit)
		if !ok {
			g.errorf(arm.Label, "match arm of class %s requires a regex label", class)
			return nil
		}
		g.setLoc(lit)
		return g.b.ConstRegExp(lit.Pattern)
	}
	lit, ok := arm.Label.(*ast.StringLit)
	if !ok {
		g.errorf(arm.Label, "match arm of class %s requires a string label", class)
		return nil
	}
	return g.b.ConstString(lit.Value)
}

func matchClass(c ast.MatchClass) ir.MatchClass {
	switch c {
	case ast.MatchHead:
		return ir.MatchHead
	case ast.MatchTail:
		return ir.MatchTail
	case ast.MatchRegex:
		return ir.MatchRegex
	default:
		return ir.MatchSame
	}
}

// -----------------------------------------------------------------------------
// Expressions
// -----------------------------------------------------------------------------

func (g *generator) genExpr(e ast.Expr) (ir.Value, bool) {
	switch x := e.(type) {
	case *ast.BoolLit:
		return g.b.ConstBool(x.Value), true
	case *ast.NumberLit:
		return g.b.ConstInt(x.Value), true
	case *ast.StringLit:
		return g.b.ConstString(x.Value), true
	case *ast.RegexLit:
		g.setLoc(x)
		return g.b.ConstRegExp(x.Pattern), true
	case *ast.IPLit:
		addr, err := netip.ParseAddr(x.Value)
		if err != nil {
			g.errorf(x, "invalid IP address literal %q", x.Value)
			return nil, false
		}
		return g.b.ConstIP(addr), true
	case *ast.CidrLit:
		prefix, err := netip.ParsePrefix(x.Value)
		if err != nil {
			g.errorf(x, "invalid CIDR literal %q", x.Value)
			return nil, false
		}
		return g.b.ConstCidr(prefix), true
	case *ast.ArrayLit:
		return g.genArrayLit(x)
	case *ast.VariableRef:
		return g.genVariableRef(x)
	case *ast.UnaryExpr:
		return g.genUnary(x)
	case *ast.BinaryExpr:
		return g.genBinary(x)
	case *ast.CallExpr:
		return g.genCall(x, false)
	default:
		g.errorf(e, "unsupported expression")
		return nil, false
	}
}

func (g *generator) genArrayLit(x *ast.ArrayLit) (ir.Value, bool) {
	if len(x.Elems) == 0 {
		g.errorf(x, "array literal must not be empty")
		return nil, false
	}
	elems := make([]ir.Constant, 0, len(x.Elems))
	var elemType types.LiteralType
	for i, e := range x.Elems {
		v, ok := g.genExpr(e)
		if !ok {
			return nil, false
		}
		c, ok := v.(ir.Constant)
		if !ok {
			g.errorf(e, "array elements must be literals")
			return nil, false
		}
		if i == 0 {
			elemType = c.Type()
		} else if c.Type() != elemType {
			g.errorf(e, "array element type %s differs from %s", c.Type(), elemType)
			return nil, false
		}
		elems = append(elems, c)
	}
	arrType := types.ArrayOf(elemType)
	if arrType == types.Void {
		g.errorf(x, "arrays of %s are not supported", elemType)
		return nil, false
	}
	return g.b.ConstArray(arrType, elems), true
}

func (g *generator) genVariableRef(x *ast.VariableRef) (ir.Value, bool) {
	if s := g.lookup(x.Name); s != nil {
		g.setLoc(x)
		return g.b.CreateLoad(s.alloca, x.Name), true
	}

	// A bare name can be a zero-argument builtin function
	// (req.path, req.method, ...).
	if nc := g.runtime.FindName(x.Name); nc != nil && !nc.IsHandler() {
		call := &ast.CallExpr{Callee: x.Name}
		call.BaseNode = ast.MakeBase(x.Pos(), x.End())
		return g.genCall(call, false)
	}

	if g.unit.FindHandler(x.Name) != nil {
		g.errorf(x, "handler %q cannot be used as a value", x.Name)
		return nil, false
	}
	g.errorf(x, "unknown variable %q", x.Name)
	return nil, false
}

func (g *generator) genUnary(x *ast.UnaryExpr) (ir.Value, bool) {
	v, ok := g.genExpr(x.X)
	if !ok {
		return nil, false
	}
	g.setLoc(x)
	switch x.Op {
	case token.MINUS:
		if v.Type() != types.Number {
			g.errorf(x, "operator - requires a number, got %s", v.Type())
			return nil, false
		}
		return g.b.CreateUnary(ir.INeg, types.Number, v, "neg"), true
	case token.NOT:
		if v.Type() != types.Boolean {
			g.errorf(x, "operator ! requires a bool, got %s", v.Type())
			return nil, false
		}
		return g.b.CreateUnary(ir.BNot, types.Boolean, v, "not"), true
	default:
		g.errorf(x, "unsupported unary operator %s", x.Op)
		return nil, false
	}
}

// numericBinOps maps numeric operator tokens to their IR op and
// result type.
var numericBinOps = map[token.Token]struct {
	op  ir.Op
	ret types.LiteralType
}{
	token.PLUS:  {ir.IAdd, types.Number},
	token.MINUS: {ir.ISub, types.Number},
	token.MUL:   {ir.IMul, types.Number},
	token.DIV:   {ir.IDiv, types.Number},
	token.MOD:   {ir.IRem, types.Number},
	token.POW:   {ir.IPow, types.Number},
	token.SHL:   {ir.IShl, types.Number},
	token.SHR:   {ir.IShr, types.Number},
	token.EQ:    {ir.ICmpEQ, types.Boolean},
	token.NE:    {ir.ICmpNE, types.Boolean},
	token.LE:    {ir.ICmpLE, types.Boolean},
	token.GE:    {ir.ICmpGE, types.Boolean},
	token.LT:    {ir.ICmpLT, types.Boolean},
	token.GT:    {ir.ICmpGT, types.Boolean},
}

// stringBinOps maps string operator tokens to their IR op and result
// type.
var stringBinOps = map[token.Token]struct {
	op  ir.Op
	ret types.LiteralType
}{
	token.PLUS:         {ir.SAdd, types.String},
	token.EQ:           {ir.SCmpEQ, types.Boolean},
	token.NE:           {ir.SCmpNE, types.Boolean},
	token.LE:           {ir.SCmpLE, types.Boolean},
	token.GE:           {ir.SCmpGE, types.Boolean},
	token.LT:           {ir.SCmpLT, types.Boolean},
	token.GT:           {ir.SCmpGT, types.Boolean},
	token.PREFIX_MATCH: {ir.SCmpBeg, types.Boolean},
	token.SUFFIX_MATCH: {ir.SCmpEnd, types.Boolean},
	token.IN:           {ir.SIn, types.Boolean},
}

// boolBinOps maps boolean operator tokens to their IR op.
var boolBinOps = map[token.Token]ir.Op{
	token.AND: ir.BAnd,
	token.OR:  ir.BOr,
	token.XOR: ir.BXor,
}

func (g *generator) genBinary(x *ast.BinaryExpr) (ir.Value, bool) {
	lhs, ok := g.genExpr(x.X)
	if !ok {
		return nil, false
	}
	rhs, ok := g.genExpr(x.Y)
	if !ok {
		return nil, false
	}
	g.setLoc(x)

	lt, rt := lhs.Type(), rhs.Type()

	// string =~ regex
	if x.Op == token.REGEX_MATCH {
		if lt != types.String || rt != types.RegExp {
			g.errorf(x, "operator =~ requires string =~ regex, got %s =~ %s", lt, rt)
			return nil, false
		}
		return g.b.CreateBinary(ir.SCmpRE, types.Boolean, lhs, rhs, "rematch"), true
	}

	// ip in cidr
	if x.Op == token.IN && lt == types.IPAddress && rt == types.Cidr {
		return g.b.CreateBinary(ir.PInCidr, types.Boolean, lhs, rhs, "incidr"), true
	}

	// ip comparisons
	if lt == types.IPAddress && rt == types.IPAddress {
		switch x.Op {
		case token.EQ:
			return g.b.CreateBinary(ir.PCmpEQ, types.Boolean, lhs, rhs, "ipeq"), true
		case token.NE:
			return g.b.CreateBinary(ir.PCmpNE, types.Boolean, lhs, rhs, "ipne"), true
		}
		g.errorf(x, "operator %s is not defined on ip addresses", x.Op)
		return nil, false
	}

	// boolean logic
	if bop, ok := boolBinOps[x.Op]; ok {
		if lt != types.Boolean || rt != types.Boolean {
			g.errorf(x, "operator %s requires bool operands, got %s and %s",
				x.Op, lt, rt)
			return nil, false
		}
		return g.b.CreateBinary(bop, types.Boolean, lhs, rhs, "log"), true
	}

	// Mixed number/string '+' coerces the number side to string.
	if x.Op == token.PLUS && (lt == types.String || rt == types.String) && lt != rt {
		if lt == types.Number {
			lhs = g.b.CreateCast(types.String, lhs, "cast")
			lt = types.String
		}
		if rt == types.Number {
			rhs = g.b.CreateCast(types.String, rhs, "cast")
			rt = types.String
		}
	}

	if lt == types.Number && rt == types.Number {
		if e, ok := numericBinOps[x.Op]; ok {
			return g.b.CreateBinary(e.op, e.ret, lhs, rhs, "num"), true
		}
		g.errorf(x, "operator %s is not defined on numbers", x.Op)
		return nil, false
	}

	if lt == types.String && rt == types.String {
		if e, ok := stringBinOps[x.Op]; ok {
			return g.b.CreateBinary(e.op, e.ret, lhs, rhs, "str"), true
		}
		g.errorf(x, "operator %s is not defined on strings", x.Op)
		return nil, false
	}

	g.errorf(x, "operator %s is not defined on %s and %s", x.Op, lt, rt)
	return nil, false
}

// -----------------------------------------------------------------------------
// Calls
// -----------------------------------------------------------------------------

// genCall lowers a builtin call. Statement-context calls may target
// builtin handlers; expression-context calls must be functions.
func (g *generator) genCall(call *ast.CallExpr, stmtContext bool) (ir.Value, bool) {
	nc := g.runtime.FindName(call.Callee)
	if nc == nil {
		// Statement calls to unregistered names lower against an
		// inferred signature; resolution is deferred to link time,
		// which reports the LinkError at this location.
		if stmtContext {
			return g.genUnresolvedCall(call)
		}
		g.errorf(call, "unknown function %q", call.Callee)
		return nil, false
	}
	if nc.IsHandler() && !stmtContext {
		g.errorf(call, "handler %q cannot be called in an expression", call.Callee)
		return nil, false
	}

	args, ok := g.resolveArgs(call, nc)
	if !ok {
		return nil, false
	}

	sig := nc.Signature()
	call.Builtin = &sig
	g.setLoc(call)

	if nc.IsHandler() {
		callee := g.prog.FindOrAddHandlerRef(ir.NewBuiltin(sig, true))
		return g.b.CreateHandlerCall(callee, args, call.Callee), true
	}
	callee := g.prog.FindOrAddFunction(ir.NewBuiltin(sig, false))
	return g.b.CreateCall(callee, args, sanitizeName(call.Callee)), true
}

// genUnresolvedCall lowers a statement call to a name the runtime
// does not know. The signature is inferred from the arguments so the
// linker can report the missing native at the call site.
func (g *generator) genUnresolvedCall(call *ast.CallExpr) (ir.Value, bool) {
	sig := types.Signature{Name: call.Callee, Ret: types.Void}
	args := make([]ir.Value, 0, len(call.Args))
	for _, arg := range call.Args {
		if arg.Name != "" {
			g.errorf(arg.Value, "unknown function or handler %q", call.Callee)
			return nil, false
		}
		v, ok := g.genExpr(arg.Value)
		if !ok {
			return nil, false
		}
		sig.Params = append(sig.Params, v.Type())
		args = append(args, v)
	}
	g.setLoc(call)
	if len(args) == 0 {
		sig.Ret = types.Boolean
		callee := g.prog.FindOrAddHandlerRef(ir.NewBuiltin(sig, true))
		return g.b.CreateHandlerCall(callee, args, call.Callee), true
	}
	callee := g.prog.FindOrAddFunction(ir.NewBuiltin(sig, false))
	return g.b.CreateCall(callee, args, sanitizeName(call.Callee)), true
}

// resolveArgs maps positional and named arguments onto the signature,
// fills declared defaults, inserts coercion casts, and reports every
// mismatch.
func (g *generator) resolveArgs(call *ast.CallExpr, nc *vm.NativeCallback) ([]ir.Value, bool) {
	sig := nc.Signature()
	resolved := make([]ir.Value, len(sig.Params))

	pos := 0
	ok := true
	for _, arg := range call.Args {
		idx := -1
		if arg.Name != "" {
			idx = sig.ParamIndex(arg.Name)
			if idx < 0 {
				g.errorf(arg.Value, "%q has no parameter named %q", call.Callee, arg.Name)
				ok = false
				continue
			}
		} else {
			if pos >= len(sig.Params) {
				g.errorf(arg.Value, "too many arguments in call to %q", call.Callee)
				ok = false
				continue
			}
			idx = pos
			pos++
		}
		if resolved[idx] != nil {
			g.errorf(arg.Value, "parameter %q given twice", sig.ParamName(idx))
			ok = false
			continue
		}
		v, vok := g.genExpr(arg.Value)
		if !vok {
			ok = false
			continue
		}
		g.setLoc(arg.Value)
		v = g.coerce(v, sig.Params[idx], arg.Value)
		if v == nil {
			ok = false
			continue
		}
		resolved[idx] = v
	}

	for i, v := range resolved {
		if v != nil {
			continue
		}
		def, has := nc.Default(i)
		if !has {
			g.errorf(call, "missing argument %q in call to %q",
				sig.ParamName(i), call.Callee)
			ok = false
			continue
		}
		resolved[i] = g.defaultConstant(def)
	}

	return resolved, ok
}

// defaultConstant converts a registered default value into an IR
// constant.
func (g *generator) defaultConstant(v vm.Value) ir.Constant {
	switch v.Kind() {
	case types.Boolean:
		return g.b.ConstBool(v.Bool())
	case types.Number:
		return g.b.ConstInt(v.Number())
	case types.String:
		return g.b.ConstString(v.String())
	case types.IPAddress:
		return g.b.ConstIP(v.IP())
	case types.Cidr:
		return g.b.ConstCidr(v.Cidr())
	default:
		return g.b.ConstString(v.String())
	}
}

// coerce adapts v to the wanted type, inserting an explicit Cast for
// the legal conversions. Returns nil (after reporting) on a type
// mismatch.
func (g *generator) coerce(v ir.Value, want types.LiteralType, at ast.Node) ir.Value {
	have := v.Type()
	if have == want {
		return v
	}
	switch {
	case want == types.String &&
		(have == types.Number || have == types.IPAddress ||
			have == types.Cidr || have == types.RegExp):
		return g.b.CreateCast(types.String, v, "cast")
	case want == types.Number && have == types.String:
		return g.b.CreateCast(types.Number, v, "cast")
	default:
		g.errorf(at, "type mismatch: expected %s, got %s", want, have)
		return nil
	}
}

// sanitizeName turns a dotted builtin name into an SSA name stem.
func sanitizeName(name string) string {
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c == '.' {
			c = '_'
		}
		out[i] = c
	}
	return string(out)
}
