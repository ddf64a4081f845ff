package diag

import "testing"

func loc(line, col int) SourceLocation {
	return SourceLocation{Begin: Pos{line, col}, End: Pos{line, col}}
}

func TestKindRoundTrip(t *testing.T) {
	for _, k := range []Kind{TokenError, SyntaxError, TypeError, Warning, LinkError} {
		got, ok := KindFromString(k.String())
		if !ok || got != k {
			t.Errorf("round trip failed for %s", k)
		}
	}
	if _, ok := KindFromString("Bogus"); ok {
		t.Error("unknown kind must not parse")
	}
}

func TestMessageString(t *testing.T) {
	m := Message{
		Kind: TypeError,
		Loc: SourceLocation{
			Begin: Pos{Line: 2, Column: 17},
			End:   Pos{Line: 2, Column: 22},
		},
		Text: "boom",
	}
	if got := m.String(); got != "TypeError: [2:17..2:22] boom" {
		t.Errorf("got %q", got)
	}

	m.Loc.End = m.Loc.Begin
	if got := m.String(); got != "TypeError: [2:17] boom" {
		t.Errorf("got %q", got)
	}

	m.Loc = SourceLocation{}
	if got := m.String(); got != "TypeError: boom" {
		t.Errorf("got %q", got)
	}
}

func TestReportAppendAndHasErrors(t *testing.T) {
	r := NewReport()
	if r.HasErrors() {
		t.Error("empty report must have no errors")
	}
	r.Warning(loc(1, 1), "just advice")
	if r.HasErrors() {
		t.Error("warnings are not errors")
	}
	r.TypeError(loc(2, 1), "bad type")
	if !r.HasErrors() {
		t.Error("type errors are errors")
	}
	if r.Len() != 2 {
		t.Errorf("len: got %d", r.Len())
	}
}

func TestReportEqualIsSetBased(t *testing.T) {
	a := NewReport()
	a.TypeError(loc(1, 1), "x")
	a.TokenError(loc(2, 2), "y")

	b := NewReport()
	b.TokenError(loc(2, 2), "y")
	b.TypeError(loc(1, 1), "x")

	if !a.Equal(b) {
		t.Error("order must not matter")
	}
}

func TestDifference(t *testing.T) {
	expected := NewReport()
	expected.TypeError(loc(1, 1), "wanted")
	expected.Warning(loc(2, 2), "also wanted")

	actual := NewReport()
	actual.TypeError(loc(1, 1), "wanted")
	actual.LinkError(loc(3, 3), "surprise")

	missing, superfluous := expected.Difference(actual)
	if len(missing) != 1 || missing[0].Text != "also wanted" {
		t.Errorf("missing: %v", missing)
	}
	if len(superfluous) != 1 || superfluous[0].Text != "surprise" {
		t.Errorf("superfluous: %v", superfluous)
	}
}

func TestDifferenceCountsDuplicates(t *testing.T) {
	expected := NewReport()
	expected.TypeError(loc(1, 1), "dup")
	expected.TypeError(loc(1, 1), "dup")

	actual := NewReport()
	actual.TypeError(loc(1, 1), "dup")

	missing, superfluous := expected.Difference(actual)
	if len(missing) != 1 || len(superfluous) != 0 {
		t.Errorf("missing %d, superfluous %d", len(missing), len(superfluous))
	}
}

func TestDifferenceIgnoresFilename(t *testing.T) {
	expected := NewReport()
	expected.TypeError(loc(1, 1), "x")

	actual := NewReport()
	withFile := loc(1, 1)
	withFile.File = "test.flow"
	actual.TypeError(withFile, "x")

	if !expected.Equal(actual) {
		t.Error("the file name must not participate in message identity")
	}
}

func TestLocationCovers(t *testing.T) {
	outer := SourceLocation{Begin: Pos{1, 1}, End: Pos{5, 10}}
	inner := SourceLocation{Begin: Pos{2, 3}, End: Pos{2, 9}}
	if !outer.Covers(inner) {
		t.Error("outer must cover inner")
	}
	if inner.Covers(outer) {
		t.Error("inner must not cover outer")
	}
}
