package rt

import "testing"

func TestCompileAndMatch(t *testing.T) {
	re, err := Compile(`^/user/\d+$`)
	if err != nil {
		t.Fatalf("Compile: %s", err)
	}
	if !re.MatchString("/user/42") {
		t.Error("expected a match")
	}
	if re.MatchString("/other") {
		t.Error("unexpected match")
	}
}

func TestCompileError(t *testing.T) {
	if _, err := Compile("("); err == nil {
		t.Error("invalid pattern must not compile")
	}
}

func TestSubmatch(t *testing.T) {
	re, err := Compile(`^/user/(\d+)$`)
	if err != nil {
		t.Fatalf("Compile: %s", err)
	}
	groups := re.Submatch("/user/42")
	if len(groups) != 2 || groups[0] != "/user/42" || groups[1] != "42" {
		t.Errorf("groups: %v", groups)
	}
	if re.Submatch("/x") != nil {
		t.Error("non-match must return nil groups")
	}
}

// TestSubmatchAgreesWithMatchString: MatchString is the gate; Submatch
// must report groups exactly when MatchString reports a match.
func TestSubmatchAgreesWithMatchString(t *testing.T) {
	re, err := Compile(`^(a+)(b*)$`)
	if err != nil {
		t.Fatalf("Compile: %s", err)
	}
	for _, s := range []string{"aab", "a", "b", "", "aabb", "xaab"} {
		matched := re.MatchString(s)
		groups := re.Submatch(s)
		if matched != (groups != nil) {
			t.Errorf("%q: MatchString=%v but Submatch=%v", s, matched, groups)
		}
	}
}

func TestCache(t *testing.T) {
	c := NewCache()
	r1, err := c.Get("a+")
	if err != nil {
		t.Fatalf("Get: %s", err)
	}
	r2, _ := c.Get("a+")
	if r1 != r2 {
		t.Error("cache must return the same compiled pattern")
	}
	if _, err := c.Get("("); err == nil {
		t.Error("invalid pattern must propagate the error")
	}
}

func TestMatchContext(t *testing.T) {
	var mc MatchContext
	if mc.Group(0) != "" || mc.Count() != 0 {
		t.Error("empty context")
	}
	mc.Set([]string{"/user/42", "42"})
	if mc.Group(1) != "42" {
		t.Errorf("group 1: %q", mc.Group(1))
	}
	if mc.Group(5) != "" || mc.Group(-1) != "" {
		t.Error("out-of-range groups must be empty")
	}
	mc.Clear()
	if mc.Count() != 0 {
		t.Error("clear")
	}
}
