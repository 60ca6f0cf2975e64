package value

import "testing"

func TestTruthy(t *testing.T) {
	tests := []struct {
		name string
		v    Value
		want bool
	}{
		{"none", None(), false},
		{"false", NewBool(false), false},
		{"true", NewBool(true), true},
		{"zero int", NewInt(0), false},
		{"nonzero int", NewInt(1), true},
		{"zero float", NewFloat(0), false},
		{"empty string", NewString(""), false},
		{"nonempty string", NewString("x"), true},
		{"empty list", NewList(nil), false},
		{"nonempty list", NewList([]Value{NewInt(1)}), true},
	}
	for _, tt := range tests {
		if got := tt.v.Truthy(); got != tt.want {
			t.Errorf("%s: Truthy() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestEqualNumericCrossType(t *testing.T) {
	if !Equal(NewInt(1), NewFloat(1.0)) {
		t.Error("Int(1) should equal Float(1.0)")
	}
	if Equal(NewInt(1), NewFloat(1.5)) {
		t.Error("Int(1) should not equal Float(1.5)")
	}
}

func TestEqualStrings(t *testing.T) {
	if !Equal(NewString("a"), NewString("a")) {
		t.Error("equal strings should compare equal")
	}
	if Equal(NewString("a"), NewString("b")) {
		t.Error("different strings should not compare equal")
	}
}

func TestEqualLists(t *testing.T) {
	a := NewList([]Value{NewInt(1), NewInt(2)})
	b := NewList([]Value{NewInt(1), NewInt(2)})
	c := NewList([]Value{NewInt(1), NewInt(3)})
	if !Equal(a, b) {
		t.Error("structurally identical lists should compare equal")
	}
	if Equal(a, c) {
		t.Error("structurally different lists should not compare equal")
	}
}

// Function values compare by identity, never structurally: two
// distinct compiled functions must never be considered equal even if
// they happen to share shape.
func TestFunctionIdentityEquality(t *testing.T) {
	f1 := NewFunction(&ObjFunction{Name: "f", Arity: 0})
	f2 := NewFunction(&ObjFunction{Name: "f", Arity: 0})
	if Equal(f1, f2) {
		t.Error("distinct function objects should not compare equal")
	}
	if !Equal(f1, f1) {
		t.Error("a function should equal itself")
	}
}

func TestRangeEquality(t *testing.T) {
	a := NewRange(0, 5, 1)
	b := NewRange(0, 5, 1)
	c := NewRange(0, 5, 2)
	if !Equal(a, b) {
		t.Error("ranges with identical fields should compare equal")
	}
	if Equal(a, c) {
		t.Error("ranges with different steps should not compare equal")
	}
}

func TestIteratorSeedsFromRangeStart(t *testing.T) {
	r := NewRange(3, 8, 1)
	it := NewIterator(r)
	if it.AsIterator().Index != 3 {
		t.Errorf("iterator over a range should seed Index from Start, got %d", it.AsIterator().Index)
	}
}

func TestTypeName(t *testing.T) {
	tests := []struct {
		v    Value
		want string
	}{
		{NewInt(1), "int"},
		{NewFloat(1), "float"},
		{NewBool(true), "bool"},
		{NewString("x"), "string"},
		{None(), "none"},
		{NewList(nil), "list"},
	}
	for _, tt := range tests {
		if got := tt.v.TypeName(); got != tt.want {
			t.Errorf("TypeName() = %q, want %q", got, tt.want)
		}
	}
}
