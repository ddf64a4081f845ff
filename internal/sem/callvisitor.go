// Package sem provides semantic analysis for FlowLang units: call-site
// collection and per-entry-point API context validation.
package sem

import (
	"github.com/xzero/flow/internal/ast"
)

// CallVisitor collects all call expressions under a root node.
type CallVisitor struct {
	calls []*ast.CallExpr
}

// NewCallVisitor collects calls under root (which may be nil).
func NewCallVisitor(root ast.Node) *CallVisitor {
	v := &CallVisitor{}
	v.Visit(root)
	return v
}

// Visit walks root and appends every call expression found.
func (v *CallVisitor) Visit(root ast.Node) {
	ast.Walk(root, func(n ast.Node) bool {
		if call, ok := n.(*ast.CallExpr); ok {
			v.calls = append(v.calls, call)
		}
		return true
	})
}

// Clear drops the collected calls.
func (v *CallVisitor) Clear() { v.calls = nil }

// Calls returns the collected call expressions in visit order.
func (v *CallVisitor) Calls() []*ast.CallExpr { return v.calls }
