package flowtest

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	flow "github.com/xzero/flow"
	"github.com/xzero/flow/diag"
)

// SuiteConfig is the optional per-directory manifest (suite.yaml)
// declaring the entry points and API allow-lists the directory's test
// files are validated against.
type SuiteConfig struct {
	EntryPoints       []string            `yaml:"entry_points"`
	APIs              map[string][]string `yaml:"apis"`
	OptimizationLevel int                 `yaml:"optimization_level"`
}

// suiteFile is the manifest file name looked up per directory.
const suiteFile = "suite.yaml"

// LoadSuiteConfig reads the manifest of a test directory; a missing
// manifest yields the zero config.
func LoadSuiteConfig(dir string) (SuiteConfig, error) {
	var cfg SuiteConfig
	data, err := os.ReadFile(filepath.Join(dir, suiteFile))
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", suiteFile, err)
	}
	return cfg, nil
}

// options converts the manifest into compile options.
func (c SuiteConfig) options() *flow.Options {
	return &flow.Options{
		EntryPoints:       c.EntryPoints,
		APISets:           c.APIs,
		OptimizationLevel: c.OptimizationLevel,
	}
}

// Harness compiles test files against the tester runtime and diffs
// expected vs actual diagnostics.
type Harness struct {
	tester *Tester
	out    io.Writer
}

// NewHarness creates a harness writing its findings to out.
func NewHarness(out io.Writer) *Harness {
	if out == nil {
		out = io.Discard
	}
	return &Harness{
		tester: NewTester(out),
		out:    out,
	}
}

// Tester returns the harness runtime.
func (h *Harness) Tester() *Tester { return h.tester }

// TestSource compiles one source text and returns the diff between
// its embedded expectations and the actual diagnostics.
func (h *Harness) TestSource(source, filename string, cfg SuiteConfig) (missing, superfluous []diag.Message, err error) {
	expected, err := ParseExpectations(source)
	if err != nil {
		return nil, nil, err
	}

	actual := diag.NewReport()
	flow.Compile([]byte(source), filename, h.tester.Runtime, cfg.options(), actual)

	missing, superfluous = expected.Difference(actual)
	return missing, superfluous, nil
}

// TestFile runs one .flow file; returns true when the diagnostics
// match the expectations.
func (h *Harness) TestFile(path string, cfg SuiteConfig) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}
	missing, superfluous, err := h.TestSource(string(data), filepath.Base(path), cfg)
	if err != nil {
		return false, fmt.Errorf("%s: %w", path, err)
	}
	if len(missing) == 0 && len(superfluous) == 0 {
		return true, nil
	}
	for _, m := range missing {
		fmt.Fprintf(h.out, "%s: missing diagnostic: %s\n", path, m)
	}
	for _, m := range superfluous {
		fmt.Fprintf(h.out, "%s: superfluous diagnostic: %s\n", path, m)
	}
	return false, nil
}

// TestDirectory recursively runs every .flow file under root; returns
// true when all of them pass.
func (h *Harness) TestDirectory(root string) (bool, error) {
	ok := true
	configs := map[string]SuiteConfig{}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".flow") {
			return nil
		}
		dir := filepath.Dir(path)
		cfg, have := configs[dir]
		if !have {
			cfg, err = LoadSuiteConfig(dir)
			if err != nil {
				return err
			}
			configs[dir] = cfg
		}
		fmt.Fprintf(h.out, "testing: %s\n", path)
		pass, err := h.TestFile(path, cfg)
		if err != nil {
			return err
		}
		if !pass {
			ok = false
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return ok, nil
}
