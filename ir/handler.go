package ir

import (
	"fmt"
	"strings"
)

// Handler owns an ordered list of basic blocks; the first block is
// the entry.
type Handler struct {
	Name   string
	Blocks []*BasicBlock
}

// NewHandler creates an empty handler.
func NewHandler(name string) *Handler {
	return &Handler{Name: name}
}

// Entry returns the entry block, or nil.
func (h *Handler) Entry() *BasicBlock {
	if len(h.Blocks) > 0 {
		return h.Blocks[0]
	}
	return nil
}

// Append adds a block at the end of the block list.
func (h *Handler) Append(bb *BasicBlock) {
	h.Blocks = append(h.Blocks, bb)
}

// Remove deletes a block from the handler.
func (h *Handler) Remove(bb *BasicBlock) {
	for i, x := range h.Blocks {
		if x == bb {
			h.Blocks = append(h.Blocks[:i], h.Blocks[i+1:]...)
			return
		}
	}
}

// Predecessors derives the predecessor map: for each block, the list
// of blocks whose terminator targets it. A block whose terminator has
// several edges to the same target is listed once.
func (h *Handler) Predecessors() map[*BasicBlock][]*BasicBlock {
	preds := make(map[*BasicBlock][]*BasicBlock, len(h.Blocks))
	for _, bb := range h.Blocks {
		for _, succ := range bb.Successors() {
			if n := len(preds[succ]); n > 0 && preds[succ][n-1] == bb {
				continue // another edge of the same terminator
			}
			preds[succ] = append(preds[succ], bb)
		}
	}
	return preds
}

// Uses derives the use-count map over all instruction results in the
// handler.
func (h *Handler) Uses() map[Value]int {
	uses := make(map[Value]int)
	for _, bb := range h.Blocks {
		for _, in := range bb.Instrs {
			for _, op := range in.Operands {
				uses[op]++
			}
			if in.Op == Match {
				for _, c := range in.Cases {
					uses[c.Label]++
				}
			}
		}
	}
	return uses
}

// ReplaceTarget rewrites every edge pointing at old to new, across
// all terminators of the handler.
func (h *Handler) ReplaceTarget(old, new *BasicBlock) {
	for _, bb := range h.Blocks {
		if t := bb.Terminator(); t != nil {
			t.ReplaceTarget(old, new)
		}
	}
}

// Verify checks the structural invariants: every block sealed with
// exactly one terminator, nothing after the terminator, and all
// branch targets owned by this handler.
func (h *Handler) Verify() error {
	owned := make(map[*BasicBlock]bool, len(h.Blocks))
	for _, bb := range h.Blocks {
		owned[bb] = true
	}
	for _, bb := range h.Blocks {
		if !bb.IsSealed() {
			return fmt.Errorf("handler %q: block %q has no terminator", h.Name, bb.Name)
		}
		for i, in := range bb.Instrs {
			if in.Op.IsTerminator() && i != len(bb.Instrs)-1 {
				return fmt.Errorf("handler %q: block %q has instructions after terminator",
					h.Name, bb.Name)
			}
		}
		for _, succ := range bb.Successors() {
			if !owned[succ] {
				return fmt.Errorf("handler %q: block %q branches to foreign block %q",
					h.Name, bb.Name, succ.Name)
			}
		}
	}
	return nil
}

// String renders the handler in list form.
func (h *Handler) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "handler %s {\n", h.Name)
	for _, bb := range h.Blocks {
		sb.WriteString(bb.String())
	}
	sb.WriteString("}\n")
	return sb.String()
}
