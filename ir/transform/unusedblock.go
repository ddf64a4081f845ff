package transform

import "github.com/xzero/flow/ir"

// UnusedBlockPass removes basic blocks that have no predecessors and
// are not the entry block. This pass is mandatory: codegen assumes
// every remaining block is reachable.
type UnusedBlockPass struct{}

// Name implements Pass.
func (UnusedBlockPass) Name() string { return "unused-block" }

// Run implements Pass.
func (UnusedBlockPass) Run(h *ir.Handler) bool {
	changed := false
	for {
		preds := h.Predecessors()
		removed := false
		for _, bb := range h.Blocks {
			if bb == h.Entry() {
				continue
			}
			if len(preds[bb]) == 0 {
				h.Remove(bb)
				removed = true
				changed = true
				break // block list mutated; recompute predecessors
			}
		}
		if !removed {
			return changed
		}
	}
}
