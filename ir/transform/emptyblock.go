package transform

import "github.com/xzero/flow/ir"

// EmptyBlockElimination short-circuits blocks that contain only an
// unconditional branch: predecessors jumping to such a block are
// retargeted at its successor. The dead block itself is left to the
// UnusedBlockPass.
type EmptyBlockElimination struct{}

// Name implements Pass.
func (EmptyBlockElimination) Name() string { return "empty-block-elimination" }

// Run implements Pass.
func (EmptyBlockElimination) Run(h *ir.Handler) bool {
	changed := false
	for _, bb := range h.Blocks {
		if bb == h.Entry() || !bb.IsEmptyJump() {
			continue
		}
		target := bb.Terminator().Targets[0]
		if target == bb {
			continue
		}
		preds := h.Predecessors()
		if len(preds[bb]) == 0 {
			continue
		}
		for _, pred := range preds[bb] {
			pred.Terminator().ReplaceTarget(bb, target)
		}
		changed = true
	}
	return changed
}
