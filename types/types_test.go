package types

import "testing"

func TestTypeStrings(t *testing.T) {
	tests := []struct {
		typ  LiteralType
		want string
	}{
		{Void, "void"},
		{Boolean, "bool"},
		{Number, "int"},
		{String, "string"},
		{RegExp, "regex"},
		{IPAddress, "ip"},
		{Cidr, "cidr"},
		{Handler, "handler"},
		{NumberArray, "int[]"},
		{StringArray, "string[]"},
	}
	for _, tt := range tests {
		if got := tt.typ.String(); got != tt.want {
			t.Errorf("%d: got %q, want %q", tt.typ, got, tt.want)
		}
	}
}

func TestArrayTypes(t *testing.T) {
	if !NumberArray.IsArray() || Number.IsArray() {
		t.Error("IsArray")
	}
	if NumberArray.ElemType() != Number {
		t.Error("ElemType")
	}
	if ArrayOf(String) != StringArray {
		t.Error("ArrayOf")
	}
	if ArrayOf(Boolean) != Void {
		t.Error("bool arrays are not a thing")
	}
}

func TestSignatureString(t *testing.T) {
	sig := NewSignature("sum", Number, Number, Number)
	if got := sig.String(); got != "sum(int, int): int" {
		t.Errorf("got %q", got)
	}

	h := NewSignature("handler.true", Boolean)
	if got := h.String(); got != "handler.true(): bool" {
		t.Errorf("got %q", got)
	}

	v := NewSignature("echo", Void, String)
	if got := v.String(); got != "echo(string)" {
		t.Errorf("got %q", got)
	}
}

func TestSignatureEquality(t *testing.T) {
	a := NewSignature("f", Number, String)
	b := NewSignature("f", Number, String)
	b.ParamNames = []string{"text"} // names do not participate
	if !a.Equal(b) {
		t.Error("structurally equal signatures must compare equal")
	}

	c := NewSignature("f", Number, Number)
	if a.Equal(c) {
		t.Error("different parameter types must not compare equal")
	}
	d := NewSignature("g", Number, String)
	if a.Equal(d) {
		t.Error("different names must not compare equal")
	}
}

func TestParamNameLookup(t *testing.T) {
	sig := Signature{
		Name:       "listen",
		Ret:        Void,
		Params:     []LiteralType{Number, Boolean},
		ParamNames: []string{"port", "reuse"},
	}
	if sig.ParamIndex("reuse") != 1 {
		t.Error("ParamIndex")
	}
	if sig.ParamIndex("nope") != -1 {
		t.Error("unknown name must return -1")
	}
	if sig.ParamName(0) != "port" || sig.ParamName(5) != "" {
		t.Error("ParamName")
	}
}
