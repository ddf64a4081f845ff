// Package transform implements the IR optimizer: a PassManager
// running a pipeline of passes to a fixpoint, and the concrete
// passes (unused-block removal, block merging, empty-block
// elimination, instruction folding).
package transform

import "github.com/xzero/flow/ir"

// Pass is one rewrite over a handler. Run returns whether the
// handler was changed.
type Pass interface {
	Name() string
	Run(h *ir.Handler) bool
}

// DefaultMaxIterations bounds the fixpoint loop of the manager.
const DefaultMaxIterations = 32

// PassManager runs a pass pipeline over a program until no pass
// reports a change, or the iteration bound is hit.
type PassManager struct {
	passes []Pass

	// MaxIterations overrides DefaultMaxIterations when positive.
	MaxIterations int
}

// NewPassManager returns an empty manager.
func NewPassManager() *PassManager {
	return &PassManager{}
}

// Register appends a pass to the pipeline.
func (pm *PassManager) Register(p Pass) {
	pm.passes = append(pm.passes, p)
}

// Run executes the pipeline until fixpoint.
func (pm *PassManager) Run(prog *ir.Program) {
	max := pm.MaxIterations
	if max <= 0 {
		max = DefaultMaxIterations
	}
	for _, h := range prog.Handlers {
		for i := 0; i < max; i++ {
			changed := false
			for _, p := range pm.passes {
				if p.Run(h) {
					changed = true
				}
			}
			if !changed {
				break
			}
		}
	}
}
