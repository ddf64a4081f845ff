// Package diag provides compile-time diagnostics: source locations,
// message kinds, and an accumulating report with set semantics.
//
// All pipeline stages append into one Report; equality and diffing of
// reports is what the flowtest harness is built on.
package diag

import (
	"fmt"
	"strings"
)

// Kind classifies a diagnostic message.
type Kind uint8

const (
	TokenError Kind = iota
	SyntaxError
	TypeError
	Warning
	LinkError
)

var kindNames = [...]string{
	TokenError:  "TokenError",
	SyntaxError: "SyntaxError",
	TypeError:   "TypeError",
	Warning:     "Warning",
	LinkError:   "LinkError",
}

// String returns the kind name as spelled in test expectation sections.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "<invalid>"
}

// KindFromString parses a kind name. Returns ok=false for unknown names.
func KindFromString(s string) (Kind, bool) {
	for k, name := range kindNames {
		if name == s {
			return Kind(k), true
		}
	}
	return 0, false
}

// Pos is a line/column pair, both 1-based.
type Pos struct {
	Line   int
	Column int
}

// String returns "line:column".
func (p Pos) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// IsValid reports whether the position carries real data.
func (p Pos) IsValid() bool { return p.Line > 0 }

// Before reports whether p comes before other in the source.
func (p Pos) Before(other Pos) bool {
	if p.Line != other.Line {
		return p.Line < other.Line
	}
	return p.Column < other.Column
}

// SourceLocation is a file plus a begin/end range.
type SourceLocation struct {
	File  string
	Begin Pos
	End   Pos
}

// String returns "[begin..end]" with the file name omitted, matching
// the expectation-section syntax.
func (l SourceLocation) String() string {
	if !l.Begin.IsValid() {
		return "[]"
	}
	if l.End == l.Begin || !l.End.IsValid() {
		return fmt.Sprintf("[%s]", l.Begin)
	}
	return fmt.Sprintf("[%s..%s]", l.Begin, l.End)
}

// Covers reports whether l fully contains other.
func (l SourceLocation) Covers(other SourceLocation) bool {
	return !other.Begin.Before(l.Begin) && !l.End.Before(other.End)
}

// Message is one diagnostic.
type Message struct {
	Kind Kind
	Loc  SourceLocation
	Text string
}

// String renders the message in the harness line format,
// "Kind: [loc] text".
func (m Message) String() string {
	if m.Loc.Begin.IsValid() {
		return fmt.Sprintf("%s: %s %s", m.Kind, m.Loc, m.Text)
	}
	return fmt.Sprintf("%s: %s", m.Kind, m.Text)
}

// key is the identity of a message for set comparison: the file part
// of the location is ignored, since expectations never carry one.
func (m Message) key() string {
	loc := m.Loc
	loc.File = ""
	return fmt.Sprintf("%d|%s|%s", m.Kind, loc, m.Text)
}

// Report is an append-only collection of messages.
type Report struct {
	messages []Message
}

// NewReport returns an empty report.
func NewReport() *Report { return &Report{} }

// Append adds a message.
func (r *Report) Append(m Message) {
	r.messages = append(r.messages, m)
}

// Add formats and appends a message of the given kind.
func (r *Report) Add(kind Kind, loc SourceLocation, format string, args ...any) {
	r.Append(Message{Kind: kind, Loc: loc, Text: fmt.Sprintf(format, args...)})
}

// TokenError appends a TokenError message.
func (r *Report) TokenError(loc SourceLocation, format string, args ...any) {
	r.Add(TokenError, loc, format, args...)
}

// SyntaxError appends a SyntaxError message.
func (r *Report) SyntaxError(loc SourceLocation, format string, args ...any) {
	r.Add(SyntaxError, loc, format, args...)
}

// TypeError appends a TypeError message.
func (r *Report) TypeError(loc SourceLocation, format string, args ...any) {
	r.Add(TypeError, loc, format, args...)
}

// Warning appends a Warning message.
func (r *Report) Warning(loc SourceLocation, format string, args ...any) {
	r.Add(Warning, loc, format, args...)
}

// LinkError appends a LinkError message.
func (r *Report) LinkError(loc SourceLocation, format string, args ...any) {
	r.Add(LinkError, loc, format, args...)
}

// Messages returns the messages in append order.
func (r *Report) Messages() []Message { return r.messages }

// Len returns the number of messages.
func (r *Report) Len() int { return len(r.messages) }

// HasErrors reports whether any non-Warning message was appended.
func (r *Report) HasErrors() bool {
	for _, m := range r.messages {
		if m.Kind != Warning {
			return true
		}
	}
	return false
}

// Clear drops all messages.
func (r *Report) Clear() { r.messages = r.messages[:0] }

// Equal compares two reports as sets of (kind, location, text).
func (r *Report) Equal(other *Report) bool {
	missing, superfluous := r.Difference(other)
	return len(missing) == 0 && len(superfluous) == 0
}

// Difference compares r (expected) against other (actual) and returns
// the messages missing from other and those superfluous in other.
func (r *Report) Difference(other *Report) (missing, superfluous []Message) {
	have := make(map[string]int, len(other.messages))
	for _, m := range other.messages {
		have[m.key()]++
	}
	for _, m := range r.messages {
		if have[m.key()] > 0 {
			have[m.key()]--
		} else {
			missing = append(missing, m)
		}
	}
	want := make(map[string]int, len(r.messages))
	for _, m := range r.messages {
		want[m.key()]++
	}
	for _, m := range other.messages {
		if want[m.key()] > 0 {
			want[m.key()]--
		} else {
			superfluous = append(superfluous, m)
		}
	}
	return missing, superfluous
}

// String renders all messages, one per line.
func (r *Report) String() string {
	var sb strings.Builder
	for _, m := range r.messages {
		sb.WriteString(m.String())
		sb.WriteByte('\n')
	}
	return sb.String()
}
