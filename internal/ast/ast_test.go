package ast

import (
	"testing"

	"github.com/xzero/flow/internal/token"
)

func pos(line, col int) token.Position {
	return token.Position{Line: line, Column: col}
}

func TestFindHandler(t *testing.T) {
	u := &Unit{
		Handlers: []*Handler{
			{Name: "setup"},
			{Name: "main"},
		},
	}
	if u.FindHandler("main") != u.Handlers[1] {
		t.Error("FindHandler")
	}
	if u.FindHandler("nope") != nil {
		t.Error("unknown handler must be nil")
	}
}

func TestFindVariable(t *testing.T) {
	u := &Unit{Vars: []*Variable{{Name: "limit"}}}
	if u.FindVariable("limit") == nil || u.FindVariable("x") != nil {
		t.Error("FindVariable")
	}
}

func TestMatchClassString(t *testing.T) {
	tests := []struct {
		class MatchClass
		want  string
	}{
		{MatchSame, "=="},
		{MatchHead, "=^"},
		{MatchTail, "=$"},
		{MatchRegex, "=~"},
	}
	for _, tt := range tests {
		if got := tt.class.String(); got != tt.want {
			t.Errorf("%d: got %q, want %q", tt.class, got, tt.want)
		}
	}
}

func TestWalkOrderAndPruning(t *testing.T) {
	inner := &NumberLit{Value: 1}
	inner.BaseNode = MakeBase(pos(1, 9), pos(1, 9))
	v := &Variable{Name: "x", Init: inner}
	v.BaseNode = MakeBase(pos(1, 1), pos(1, 10))
	decl := &VarDeclStmt{Var: v}
	decl.BaseNode = MakeBase(pos(1, 1), pos(1, 10))
	body := &CompoundStmt{Stmts: []Stmt{decl}}
	h := &Handler{Name: "main", Body: body}
	u := &Unit{Handlers: []*Handler{h}}

	var visited []Node
	Walk(u, func(n Node) bool {
		visited = append(visited, n)
		return true
	})
	if len(visited) != 6 { // unit, handler, body, decl, var, literal
		t.Errorf("visited %d nodes, want 6", len(visited))
	}

	// Pruning: refusing the handler must hide everything below it.
	visited = nil
	Walk(u, func(n Node) bool {
		visited = append(visited, n)
		_, isHandler := n.(*Handler)
		return !isHandler
	})
	if len(visited) != 2 {
		t.Errorf("visited %d nodes, want 2", len(visited))
	}
}

func TestSpanOf(t *testing.T) {
	lit := &NumberLit{Value: 7}
	lit.BaseNode = MakeBase(pos(2, 3), pos(2, 4))
	span := SpanOf(lit)
	if span.Start != pos(2, 3) || span.End != pos(2, 4) {
		t.Errorf("span: %v", span)
	}
}
