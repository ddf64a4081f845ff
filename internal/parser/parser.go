// Package parser implements the recursive-descent FlowLang parser.
//
// Grammar sketch:
//
//	Unit        := (Import | VarDecl | HandlerDecl)*
//	Import      := 'import' IDENT STRING? ';'
//	VarDecl     := 'var' IDENT '=' Expr ';'
//	HandlerDecl := 'handler' IDENT Block
//	Block       := '{' Stmt* '}'
//	Stmt        := VarDecl | If | Match | Assign | CallStmt | Block | ';'
//	If          := 'if' Expr Stmt ('else' Stmt)?
//	Match       := 'match' Expr '{' ('on' MatchOp? Literal Stmt)+ ('else' Stmt)? '}'
//
// Expressions use the standard precedence ladder: unary binds tighter
// than '**', then '* / % shl shr', '+ -', comparisons (including
// '=~', '=^', '=$', 'in'), '&&', 'xor', '||'.
//
// Statement-level calls may omit parentheses and may pass named
// arguments: `listen port: 8080;`.
package parser

import (
	"strconv"

	"github.com/xzero/flow/diag"
	"github.com/xzero/flow/internal/ast"
	"github.com/xzero/flow/internal/lexer"
	"github.com/xzero/flow/internal/token"
)

// Parser parses a token stream into an AST unit.
type Parser struct {
	lex    *lexer.Lexer
	report *diag.Report

	tok     lexer.Token // current token
	peekTok lexer.Token // one-token lookahead
	prevEnd token.Position
}

// Parse parses the given source into a unit. Diagnostics accumulate
// into report; the returned unit is non-nil even when errors occurred.
func Parse(src []byte, filename string, report *diag.Report) *ast.Unit {
	p := &Parser{
		lex:    lexer.New(src, filename, report),
		report: report,
	}
	p.next()
	p.next()
	return p.parseUnit(filename)
}

func (p *Parser) next() {
	p.prevEnd = p.tok.Span.End
	p.tok = p.peekTok
	p.peekTok = p.lex.Scan()
}

func (p *Parser) at(t token.Token) bool { return p.tok.Type == t }

// expect consumes the current token if it has the wanted type, else
// reports a syntax error. Returns the consumed token and success.
func (p *Parser) expect(t token.Token) (lexer.Token, bool) {
	if p.tok.Type != t {
		p.errorf("expected %q, got %s", t.String(), p.describe(p.tok))
		return p.tok, false
	}
	tok := p.tok
	p.next()
	return tok, true
}

// expectSemi consumes the statement terminator, resynchronizing on
// failure so one missing semicolon yields one diagnostic.
func (p *Parser) expectSemi() {
	if _, ok := p.expect(token.SEMICOLON); !ok {
		p.sync()
	}
}

func (p *Parser) describe(t lexer.Token) string {
	switch t.Type {
	case token.EOF:
		return "end of file"
	case token.IDENT:
		return "identifier " + strconv.Quote(t.Value)
	case token.NUMBER, token.STRING, token.IP, token.CIDR:
		return t.Type.String() + " " + strconv.Quote(t.Value)
	default:
		return strconv.Quote(t.Type.String())
	}
}

func (p *Parser) errorf(format string, args ...any) {
	p.report.SyntaxError(p.tok.Span.Location(), format, args...)
}

// sync skips tokens until a likely statement boundary.
func (p *Parser) sync() {
	for !p.at(token.EOF) {
		switch p.tok.Type {
		case token.SEMICOLON:
			p.next()
			return
		case token.RBRACE, token.HANDLER, token.VAR, token.IF, token.MATCH, token.IMPORT:
			return
		}
		p.next()
	}
}

// -----------------------------------------------------------------------------
// Top level
// -----------------------------------------------------------------------------

func (p *Parser) parseUnit(filename string) *ast.Unit {
	unit := &ast.Unit{Name: filename}
	unit.StartPos = p.tok.Span.Start

	for !p.at(token.EOF) {
		switch p.tok.Type {
		case token.IMPORT:
			if im := p.parseImport(); im != nil {
				unit.Imports = append(unit.Imports, im)
			}
		case token.VAR:
			if v := p.parseVarDecl(); v != nil {
				unit.Vars = append(unit.Vars, v)
			}
		case token.HANDLER:
			if h := p.parseHandler(); h != nil {
				unit.Handlers = append(unit.Handlers, h)
			}
		case token.SEMICOLON:
			p.next()
		default:
			p.errorf("expected handler, var, or import declaration, got %s",
				p.describe(p.tok))
			// Consume the offending token first: sync stops without
			// consuming at tokens such as '}' or 'if', which would
			// otherwise be reported here again forever.
			p.next()
			p.sync()
		}
	}

	unit.EndPos = p.prevEnd
	return unit
}

func (p *Parser) parseImport() *ast.Import {
	start := p.tok.Span.Start
	p.next() // import

	name, ok := p.expect(token.IDENT)
	if !ok {
		p.sync()
		return nil
	}
	im := &ast.Import{Module: name.Value}
	im.StartPos = start

	if p.at(token.STRING) {
		im.Path = p.tok.Value
		p.next()
	}
	p.expectSemi()
	im.EndPos = p.prevEnd
	return im
}

func (p *Parser) parseVarDecl() *ast.Variable {
	start := p.tok.Span.Start
	p.next() // var

	name, ok := p.expect(token.IDENT)
	if !ok {
		p.sync()
		return nil
	}
	if _, ok := p.expect(token.ASSIGN); !ok {
		p.sync()
		return nil
	}
	init := p.parseExpr()
	p.expectSemi()

	v := &ast.Variable{Name: name.Value, Init: init}
	v.StartPos = start
	v.EndPos = p.prevEnd
	return v
}

func (p *Parser) parseHandler() *ast.Handler {
	start := p.tok.Span.Start
	p.next() // handler

	name, ok := p.expect(token.IDENT)
	if !ok {
		p.sync()
		return nil
	}
	if !p.at(token.LBRACE) {
		p.errorf("expected '{' to open handler body, got %s", p.describe(p.tok))
		p.sync()
		return nil
	}
	body := p.parseBlock()

	h := &ast.Handler{Name: name.Value, Body: body}
	h.StartPos = start
	h.EndPos = p.prevEnd
	return h
}

// -----------------------------------------------------------------------------
// Statements
// -----------------------------------------------------------------------------

func (p *Parser) parseBlock() *ast.CompoundStmt {
	blk := &ast.CompoundStmt{}
	blk.StartPos = p.tok.Span.Start
	p.next() // {

	for !p.at(token.RBRACE) && !p.at(token.EOF) {
		if s := p.parseStmt(); s != nil {
			blk.Stmts = append(blk.Stmts, s)
		}
	}
	p.expect(token.RBRACE)
	blk.EndPos = p.prevEnd
	return blk
}

func (p *Parser) parseStmt() ast.Stmt {
	switch p.tok.Type {
	case token.LBRACE:
		return p.parseBlock()
	case token.VAR:
		start := p.tok.Span.Start
		v := p.parseVarDecl()
		if v == nil {
			return nil
		}
		s := &ast.VarDeclStmt{Var: v}
		s.StartPos = start
		s.EndPos = p.prevEnd
		return s
	case token.IF:
		return p.parseIf()
	case token.MATCH:
		return p.parseMatch()
	case token.SEMICOLON:
		p.next()
		return nil
	case token.IDENT:
		if p.peekTok.Type == token.ASSIGN {
			return p.parseAssign()
		}
		return p.parseCallStmt()
	default:
		p.errorf("expected statement, got %s", p.describe(p.tok))
		p.sync()
		return nil
	}
}

func (p *Parser) parseIf() ast.Stmt {
	start := p.tok.Span.Start
	p.next() // if

	cond := p.parseExpr()
	then := p.parseStmt()

	s := &ast.CondStmt{Cond: cond, Then: then}
	s.StartPos = start

	if p.at(token.ELSE) {
		p.next()
		s.Else = p.parseStmt()
	}
	s.EndPos = p.prevEnd
	return s
}

// matchOps maps arm operators to their match class.
var matchOps = map[token.Token]ast.MatchClass{
	token.EQ:           ast.MatchSame,
	token.PREFIX_MATCH: ast.MatchHead,
	token.SUFFIX_MATCH: ast.MatchTail,
	token.REGEX_MATCH:  ast.MatchRegex,
}

func (p *Parser) parseMatch() ast.Stmt {
	start := p.tok.Span.Start
	p.next() // match

	cond := p.parseExpr()

	s := &ast.MatchStmt{Cond: cond, Class: ast.MatchSame}
	s.StartPos = start

	if !p.at(token.LBRACE) {
		p.errorf("expected '{' to open match body, got %s", p.describe(p.tok))
		p.sync()
		return nil
	}
	p.next() // {

	classSet := false
	for p.at(token.ON) {
		armStart := p.tok.Span.Start
		p.next() // on

		class := ast.MatchSame
		hasOp := false
		if c, ok := matchOps[p.tok.Type]; ok {
			class = c
			hasOp = true
			p.next()
		}
		if !classSet {
			s.Class = class
			classSet = true
		} else if hasOp && class != s.Class {
			p.report.TypeError(p.tok.Span.Location(),
				"match arm operator %s conflicts with match class %s",
				class, s.Class)
		}

		label := p.parsePrimary()
		body := p.parseStmt()

		arm := &ast.MatchArm{Label: label, Body: body}
		arm.StartPos = armStart
		arm.EndPos = p.prevEnd
		s.Arms = append(s.Arms, arm)
	}

	if p.at(token.ELSE) {
		p.next()
		s.Else = p.parseStmt()
	}
	p.expect(token.RBRACE)

	if len(s.Arms) == 0 {
		p.report.SyntaxError(token.MakeSpan(start, p.prevEnd).Location(),
			"match statement requires at least one 'on' arm")
	}

	s.EndPos = p.prevEnd
	return s
}

func (p *Parser) parseAssign() ast.Stmt {
	start := p.tok.Span.Start
	name := p.tok.Value
	p.next() // ident
	p.next() // =

	x := p.parseExpr()
	p.expectSemi()

	s := &ast.AssignStmt{Name: name, X: x}
	s.StartPos = start
	s.EndPos = p.prevEnd
	return s
}

// parseCallStmt parses a statement-level call. Both the parenthesized
// and the bare argument form are accepted:
//
//	listen(port: 8080);
//	listen port: 8080;
//	foo;
func (p *Parser) parseCallStmt() ast.Stmt {
	start := p.tok.Span.Start
	callee := p.tok
	p.next() // ident

	call := &ast.CallExpr{Callee: callee.Value}
	call.StartPos = start

	switch {
	case p.at(token.LPAREN):
		p.next()
		if !p.at(token.RPAREN) {
			call.Args = p.parseArgs()
		}
		p.expect(token.RPAREN)
	case startsExpr(p.tok.Type):
		call.Args = p.parseArgs()
	}
	call.EndPos = p.prevEnd
	p.expectSemi()

	s := &ast.ExprStmt{X: call}
	s.StartPos = start
	s.EndPos = p.prevEnd
	return s
}

// startsExpr reports whether a token can begin an expression.
func startsExpr(t token.Token) bool {
	switch t {
	case token.IDENT, token.NUMBER, token.STRING, token.REGEX, token.IP,
		token.CIDR, token.TRUE, token.FALSE, token.LPAREN, token.LBRACKET,
		token.NOT, token.MINUS:
		return true
	default:
		return false
	}
}

// parseArgs parses a comma-separated argument list; each argument may
// be named (`name: value`) or positional.
func (p *Parser) parseArgs() []ast.Arg {
	var args []ast.Arg
	for {
		var arg ast.Arg
		if p.at(token.IDENT) && p.peekTok.Type == token.COLON {
			arg.Name = p.tok.Value
			arg.NamePos = p.tok.Span.Start
			p.next() // name
			p.next() // :
		}
		arg.Value = p.parseExpr()
		args = append(args, arg)
		if !p.at(token.COMMA) {
			return args
		}
		p.next()
	}
}

// -----------------------------------------------------------------------------
// Expressions
// -----------------------------------------------------------------------------

func (p *Parser) parseExpr() ast.Expr { return p.parseOr() }

func (p *Parser) binary(parseOperand func() ast.Expr, ops ...token.Token) ast.Expr {
	x := parseOperand()
	for {
		matched := false
		for _, op := range ops {
			if p.at(op) {
				matched = true
				break
			}
		}
		if !matched {
			return x
		}
		op := p.tok.Type
		p.next()
		y := parseOperand()
		bin := &ast.BinaryExpr{Op: op, X: x, Y: y}
		bin.StartPos = x.Pos()
		bin.EndPos = y.End()
		x = bin
	}
}

func (p *Parser) parseOr() ast.Expr {
	return p.binary(p.parseXor, token.OR)
}

func (p *Parser) parseXor() ast.Expr {
	return p.binary(p.parseAnd, token.XOR)
}

func (p *Parser) parseAnd() ast.Expr {
	return p.binary(p.parseComparison, token.AND)
}

func (p *Parser) parseComparison() ast.Expr {
	return p.binary(p.parseAdditive,
		token.EQ, token.NE, token.LT, token.LE, token.GT, token.GE,
		token.REGEX_MATCH, token.PREFIX_MATCH, token.SUFFIX_MATCH, token.IN)
}

func (p *Parser) parseAdditive() ast.Expr {
	return p.binary(p.parseMultiplicative, token.PLUS, token.MINUS)
}

func (p *Parser) parseMultiplicative() ast.Expr {
	return p.binary(p.parsePower, token.MUL, token.DIV, token.MOD, token.SHL, token.SHR)
}

// parsePower handles '**' with right associativity.
func (p *Parser) parsePower() ast.Expr {
	x := p.parseUnary()
	if !p.at(token.POW) {
		return x
	}
	p.next()
	y := p.parsePower()
	bin := &ast.BinaryExpr{Op: token.POW, X: x, Y: y}
	bin.StartPos = x.Pos()
	bin.EndPos = y.End()
	return bin
}

func (p *Parser) parseUnary() ast.Expr {
	switch p.tok.Type {
	case token.NOT, token.MINUS:
		start := p.tok.Span.Start
		op := p.tok.Type
		p.next()
		x := p.parseUnary()
		u := &ast.UnaryExpr{Op: op, X: x}
		u.StartPos = start
		u.EndPos = x.End()
		return u
	default:
		return p.parsePrimary()
	}
}

func (p *Parser) parsePrimary() ast.Expr {
	tok := p.tok
	start := tok.Span.Start
	end := tok.Span.End

	switch tok.Type {
	case token.NUMBER:
		p.next()
		v, err := strconv.ParseInt(tok.Value, 0, 64)
		if err != nil {
			p.report.SyntaxError(tok.Span.Location(),
				"number literal %q out of range", tok.Value)
		}
		lit := &ast.NumberLit{Value: v}
		lit.BaseNode = ast.MakeBase(start, end)
		return lit

	case token.TRUE, token.FALSE:
		p.next()
		lit := &ast.BoolLit{Value: tok.Type == token.TRUE}
		lit.BaseNode = ast.MakeBase(start, end)
		return lit

	case token.STRING:
		p.next()
		lit := &ast.StringLit{Value: tok.Value}
		lit.BaseNode = ast.MakeBase(start, end)
		return lit

	case token.REGEX:
		p.next()
		lit := &ast.RegexLit{Pattern: tok.Value}
		lit.BaseNode = ast.MakeBase(start, end)
		return lit

	case token.IP:
		p.next()
		lit := &ast.IPLit{Value: tok.Value}
		lit.BaseNode = ast.MakeBase(start, end)
		return lit

	case token.CIDR:
		p.next()
		lit := &ast.CidrLit{Value: tok.Value}
		lit.BaseNode = ast.MakeBase(start, end)
		return lit

	case token.LBRACKET:
		return p.parseArrayLit()

	case token.LPAREN:
		p.next()
		x := p.parseExpr()
		p.expect(token.RPAREN)
		return x

	case token.IDENT:
		p.next()
		if p.at(token.LPAREN) {
			call := &ast.CallExpr{Callee: tok.Value}
			call.StartPos = start
			p.next()
			if !p.at(token.RPAREN) {
				call.Args = p.parseArgs()
			}
			p.expect(token.RPAREN)
			call.EndPos = p.prevEnd
			return call
		}
		ref := &ast.VariableRef{Name: tok.Value}
		ref.BaseNode = ast.MakeBase(start, end)
		return ref

	default:
		p.errorf("expected expression, got %s", p.describe(tok))
		p.next()
		// Error placeholder; keeps downstream lowering total.
		lit := &ast.BoolLit{Value: false}
		lit.BaseNode = ast.MakeBase(start, end)
		return lit
	}
}

func (p *Parser) parseArrayLit() ast.Expr {
	start := p.tok.Span.Start
	p.next() // [

	lit := &ast.ArrayLit{}
	lit.StartPos = start
	for !p.at(token.RBRACKET) && !p.at(token.EOF) {
		lit.Elems = append(lit.Elems, p.parseExpr())
		if !p.at(token.COMMA) {
			break
		}
		p.next()
	}
	p.expect(token.RBRACKET)
	lit.EndPos = p.prevEnd
	return lit
}
