package chunk

import (
	"testing"

	"lumen/internal/value"
)

func TestAddConstantDedupesStrictlyByType(t *testing.T) {
	c := New()
	i1 := c.AddConstant(value.NewInt(1))
	i2 := c.AddConstant(value.NewInt(1))
	if i1 != i2 {
		t.Errorf("identical int constants should dedup to the same slot, got %d and %d", i1, i2)
	}

	// Int(1) and Float(1.0) must never share a slot even though
	// value.Equal treats them as the same language-level number.
	fi := c.AddConstant(value.NewFloat(1))
	if fi == i1 {
		t.Error("Int(1) and Float(1.0) must not dedup to the same constant slot")
	}
}

func TestAddConstantNeverDedupesFunctionsOrIterators(t *testing.T) {
	c := New()
	f1 := value.NewFunction(&value.ObjFunction{Name: "f", Arity: 0})
	f2 := value.NewFunction(&value.ObjFunction{Name: "f", Arity: 0})
	i1 := c.AddConstant(f1)
	i2 := c.AddConstant(f2)
	if i1 == i2 {
		t.Error("two distinct function constants must get distinct slots even with identical shape")
	}

	it1 := c.AddConstant(value.NewIterator(value.NewList(nil)))
	it2 := c.AddConstant(value.NewIterator(value.NewList(nil)))
	if it1 == it2 {
		t.Error("two distinct iterator constants must get distinct slots even with identical shape")
	}
}

func TestWriteUint16RoundTrips(t *testing.T) {
	c := New()
	c.WriteUint16(0x1234, 1)
	if len(c.Code) != 2 {
		t.Fatalf("expected 2 bytes written, got %d", len(c.Code))
	}
	got := uint16(c.Code[0])<<8 | uint16(c.Code[1])
	if got != 0x1234 {
		t.Errorf("got %#x, want %#x", got, 0x1234)
	}
}

// A jump operand must decode to the literal absolute destination, not
// a delta relative to the jump instruction's own offset.
func TestJumpOperandIsAbsoluteNotRelative(t *testing.T) {
	c := New()
	c.Write(byte(OP_JUMP), 1)
	jumpOperandOffset := len(c.Code)
	c.WriteUint16(42, 1) // pretend the resolved destination is IP 42
	c.Write(byte(OP_RETURN), 1)

	dest := uint16(c.Code[jumpOperandOffset])<<8 | uint16(c.Code[jumpOperandOffset+1])
	if dest != 42 {
		t.Errorf("expected the operand to be the literal destination 42, got %d", dest)
	}
}

func TestOpCodeStringKnown(t *testing.T) {
	if OP_ADD.String() != "OP_ADD" {
		t.Errorf("got %q, want OP_ADD", OP_ADD.String())
	}
}

func TestOpCodeStringUnknownFallback(t *testing.T) {
	unknown := OpCode(255)
	got := unknown.String()
	if got == "" {
		t.Error("unknown opcode should still produce a non-empty name")
	}
}
