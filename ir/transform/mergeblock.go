package transform

import "github.com/xzero/flow/ir"

// MergeBlockPass merges a block into its unconditional-branch
// predecessor when it is that predecessor's only successor and has no
// other predecessors: A ends in Br(B), B has exactly one predecessor.
type MergeBlockPass struct{}

// Name implements Pass.
func (MergeBlockPass) Name() string { return "merge-block" }

// Run implements Pass.
func (MergeBlockPass) Run(h *ir.Handler) bool {
	changed := false
	for {
		merged := false
		preds := h.Predecessors()
		for _, a := range h.Blocks {
			t := a.Terminator()
			if t == nil || t.Op != ir.Br {
				continue
			}
			b := t.Targets[0]
			if b == a || b == h.Entry() || len(preds[b]) != 1 {
				continue
			}
			// Splice B into A, replacing A's terminator.
			a.Remove(t)
			a.Instrs = append(a.Instrs, b.Instrs...)
			h.Remove(b)
			h.ReplaceTarget(b, a)
			merged = true
			changed = true
			break // block list mutated; restart scan
		}
		if !merged {
			return changed
		}
	}
}
