package flow

// Options holds build configuration for the compile pipeline.
type Options struct {
	// EntryPoints names the handlers the host invokes directly
	// (default: "setup", "main"). Context validation runs for each
	// entry point that exists in the unit.
	EntryPoints []string

	// APISets maps an entry-point name to the builtin names that may
	// be called from it. Entry points without an entry here accept
	// every registered builtin.
	APISets map[string][]string

	// OptimizationLevel selects the pass pipeline: 0 runs only the
	// mandatory unused-block removal, 1 adds block merging and
	// empty-block elimination, 2 adds instruction folding.
	OptimizationLevel int
}

// applyDefaults fills in default values for unset fields.
func (o *Options) applyDefaults() {
	if len(o.EntryPoints) == 0 {
		o.EntryPoints = []string{"setup", "main"}
	}
	if o.OptimizationLevel < 0 {
		o.OptimizationLevel = 0
	}
	if o.OptimizationLevel > 2 {
		o.OptimizationLevel = 2
	}
}
