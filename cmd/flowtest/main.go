// flowtest - FlowLang diagnostics test runner
//
// Recursively compiles every .flow file under the given directories
// against the harness runtime and compares the produced diagnostics
// with the expectations embedded in each file.
package main

import (
	"fmt"
	"os"

	"github.com/xzero/flow/flowtest"
)

const usage = "usage: flowtest [-q] <directory>..."

func main() {
	quiet := false
	var dirs []string

	for _, arg := range os.Args[1:] {
		switch arg {
		case "-q":
			quiet = true
		case "-h", "--help":
			fmt.Println(usage)
			return
		default:
			dirs = append(dirs, arg)
		}
	}
	if len(dirs) == 0 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	out := os.Stdout
	if quiet {
		devnull, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
		if err == nil {
			defer devnull.Close()
			out = devnull
		}
	}

	h := flowtest.NewHarness(out)
	ok := true
	for _, dir := range dirs {
		pass, err := h.TestDirectory(dir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "flowtest: %s\n", err)
			os.Exit(1)
		}
		if !pass {
			ok = false
		}
	}
	if !ok {
		os.Exit(1)
	}
}
