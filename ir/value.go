// Package ir defines the SSA-style intermediate representation of
// compiled FlowLang programs: a Program owning Handlers, each a list
// of BasicBlocks holding typed instructions ending in one terminator.
//
// Nodes are owned by their containers; predecessor/successor and
// def/use relations are derived, never stored as back-pointers.
package ir

import "github.com/xzero/flow/types"

// Value is anything an instruction can use as an operand: constants,
// instruction results, and builtin descriptors.
type Value interface {
	// Name returns the bare SSA name ("t", "x.1"), the builtin name, or
	// the constant rendering. List-form dumps add the "%" and "@"
	// sigils.
	Name() string

	// Type returns the value's FlowLang type.
	Type() types.LiteralType
}

// valueBase carries name and type for concrete values.
type valueBase struct {
	name string
	typ  types.LiteralType
}

func (v *valueBase) Name() string            { return v.name }
func (v *valueBase) Type() types.LiteralType { return v.typ }

// setName renames the value. Used by the builder's deduplicated
// name generation.
func (v *valueBase) setName(name string) { v.name = name }
