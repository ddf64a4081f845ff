package sem

import (
	"github.com/xzero/flow/diag"
	"github.com/xzero/flow/internal/ast"
)

// ValidateContext checks that every builtin called from the given
// entry handler is in the allow-list for that entry point. Calls to
// user-defined handlers are themselves skipped, but their bodies are
// walked so setup-only builtins cannot hide behind a helper handler.
//
// isBuiltin decides whether a name refers to a host builtin; names
// that resolve to user handlers in the unit are never builtins.
func ValidateContext(unit *ast.Unit, entry *ast.Handler, allowed map[string]bool,
	isBuiltin func(string) bool, report *diag.Report) {

	visited := map[*ast.Handler]bool{}
	validateHandler(unit, entry, allowed, isBuiltin, report, visited)
}

func validateHandler(unit *ast.Unit, h *ast.Handler, allowed map[string]bool,
	isBuiltin func(string) bool, report *diag.Report, visited map[*ast.Handler]bool) {

	if h == nil || visited[h] {
		return
	}
	visited[h] = true

	v := NewCallVisitor(h.Body)
	for _, call := range v.Calls() {
		if target := unit.FindHandler(call.Callee); target != nil {
			validateHandler(unit, target, allowed, isBuiltin, report, visited)
			continue
		}
		if !isBuiltin(call.Callee) {
			continue // unknown names are reported during lowering
		}
		if !allowed[call.Callee] {
			report.TypeError(ast.SpanOf(call).Location(),
				"%q is not available in handler %q", call.Callee, h.Name)
		}
	}

	// Handler references can also smuggle phase-restricted builtins;
	// follow them the same way.
	ast.Walk(h.Body, func(n ast.Node) bool {
		if ref, ok := n.(*ast.VariableRef); ok {
			if target := unit.FindHandler(ref.Name); target != nil {
				validateHandler(unit, target, allowed, isBuiltin, report, visited)
			}
		}
		return true
	})
}
