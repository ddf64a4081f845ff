// Package flowtest implements the diagnostics test harness: FlowLang
// source files carry their expected compiler diagnostics in a
// trailing comment section, and the harness compares them against the
// diagnostics the pipeline actually produced.
//
// The expectation grammar:
//
//	TestProgram     ::= FlowProgram [Initializer Message*]
//	FlowProgram     ::= <flow program code until Initializer>
//
//	Initializer     ::= '#' '----' LF
//	Message         ::= '#' DiagnosticsType ':' Location? MessageText LF
//	DiagnosticsType ::= 'TokenError' | 'SyntaxError' | 'TypeError'
//	                  | 'Warning' | 'LinkError'
//
//	Location        ::= '[' FilePos ['..' FilePos] ']'
//	FilePos         ::= Line ':' Column
//
//	MessageText     ::= TEXT (LF INDENT TEXT)*
package flowtest

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xzero/flow/diag"
)

// initializerPrefix separates the program from its expectations.
const initializerPrefix = "# ----"

// ParseExpectations extracts the expected diagnostics from a test
// source. Sources without an initializer line expect a clean compile.
func ParseExpectations(source string) (*diag.Report, error) {
	report := diag.NewReport()

	lines := strings.Split(source, "\n")
	start := -1
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimRight(line, " \t\r"), initializerPrefix) {
			start = i + 1
			break
		}
	}
	if start < 0 {
		return report, nil
	}

	var pending *diag.Message
	flush := func() {
		if pending != nil {
			report.Append(*pending)
			pending = nil
		}
	}

	for n := start; n < len(lines); n++ {
		line := strings.TrimRight(lines[n], " \r")
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "#") {
			return nil, fmt.Errorf("line %d: expected '#' comment in expectation section", n+1)
		}
		body := strings.TrimPrefix(line, "#")

		// Indented lines continue the previous message text.
		if pending != nil && (strings.HasPrefix(body, " ") || strings.HasPrefix(body, "\t")) {
			if !strings.Contains(body, ":") || !isMessageHead(strings.TrimSpace(body)) {
				pending.Text += "\n" + strings.TrimSpace(body)
				continue
			}
		}
		flush()

		msg, err := parseMessageLine(strings.TrimSpace(body), n+1)
		if err != nil {
			return nil, err
		}
		pending = msg
	}
	flush()

	return report, nil
}

// isMessageHead reports whether the text begins with a known
// diagnostics type followed by a colon.
func isMessageHead(s string) bool {
	head, _, ok := strings.Cut(s, ":")
	if !ok {
		return false
	}
	_, known := diag.KindFromString(strings.TrimSpace(head))
	return known
}

func parseMessageLine(body string, lineno int) (*diag.Message, error) {
	head, rest, ok := strings.Cut(body, ":")
	if !ok {
		return nil, fmt.Errorf("line %d: expected '<Kind>: <text>'", lineno)
	}
	kind, known := diag.KindFromString(strings.TrimSpace(head))
	if !known {
		return nil, fmt.Errorf("line %d: unknown diagnostics type %q", lineno, strings.TrimSpace(head))
	}

	rest = strings.TrimSpace(rest)
	msg := &diag.Message{Kind: kind}

	if strings.HasPrefix(rest, "[") {
		end := strings.Index(rest, "]")
		if end < 0 {
			return nil, fmt.Errorf("line %d: unterminated location", lineno)
		}
		loc, err := parseLocation(rest[1:end])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineno, err)
		}
		msg.Loc = loc
		rest = strings.TrimSpace(rest[end+1:])
	}

	msg.Text = rest
	return msg, nil
}

func parseLocation(s string) (diag.SourceLocation, error) {
	var loc diag.SourceLocation

	beginText, endText, hasEnd := strings.Cut(s, "..")
	begin, err := parsePos(beginText)
	if err != nil {
		return loc, err
	}
	loc.Begin = begin
	loc.End = begin
	if hasEnd {
		end, err := parsePos(endText)
		if err != nil {
			return loc, err
		}
		loc.End = end
	}
	return loc, nil
}

func parsePos(s string) (diag.Pos, error) {
	lineText, colText, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return diag.Pos{}, fmt.Errorf("malformed position %q", s)
	}
	line, err := strconv.Atoi(lineText)
	if err != nil {
		return diag.Pos{}, fmt.Errorf("malformed line number %q", lineText)
	}
	col, err := strconv.Atoi(colText)
	if err != nil {
		return diag.Pos{}, fmt.Errorf("malformed column number %q", colText)
	}
	return diag.Pos{Line: line, Column: col}, nil
}
