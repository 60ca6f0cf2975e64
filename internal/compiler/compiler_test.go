package compiler

import (
	"lumen/internal/chunk"
	"lumen/internal/lexer"
	"lumen/internal/parser"
	"testing"
)

func parse(t *testing.T, input string) *parser.Parser {
	t.Helper()
	l := lexer.New(input)
	p := parser.New(l)
	return p
}

func TestCompileSmoke(t *testing.T) {
	inputs := []string{
		"1 + 2;",
		"let x = 1; x = x + 1;",
		"if true { 1; } else { 2; }",
		"let i = 0; while i < 3 { i = i + 1; }",
		"for v in 0:3 { v; }",
		"fn add(a, b) { return a + b; } add(1, 2);",
		"[1, 2, 3][0];",
		"1:10:2;",
	}
	for _, input := range inputs {
		p := parse(t, input)
		program := p.ParseProgram()
		if len(p.Errors()) > 0 {
			t.Fatalf("parse error for %q: %v", input, p.Errors())
		}
		if _, errs := Compile(program, "test"); len(errs) > 0 {
			t.Fatalf("compile error for %q: %v", input, errs)
		}
	}
}

func TestCompileRejectsBreakOutsideLoop(t *testing.T) {
	p := parse(t, "break;")
	program := p.ParseProgram()
	if len(p.Errors()) > 0 {
		t.Fatalf("unexpected parse errors: %v", p.Errors())
	}
	_, errs := Compile(program, "test")
	if len(errs) == 0 {
		t.Fatal("expected a compile error for break outside a loop")
	}
}

func TestCompileRejectsContinueOutsideLoop(t *testing.T) {
	p := parse(t, "continue;")
	program := p.ParseProgram()
	if len(p.Errors()) > 0 {
		t.Fatalf("unexpected parse errors: %v", p.Errors())
	}
	_, errs := Compile(program, "test")
	if len(errs) == 0 {
		t.Fatal("expected a compile error for continue outside a loop")
	}
}

// A global declared at the top level must resolve as a global even
// after being referenced inside a later nested block, never as a
// local — the bug this guards against would have leaked the name into
// the root compiler's scope set and emitted GET_LOCAL for it.
func TestGlobalDeclarationStaysGlobal(t *testing.T) {
	p := parse(t, "let x = 1; if true { x = x + 1; }")
	program := p.ParseProgram()
	if len(p.Errors()) > 0 {
		t.Fatalf("unexpected parse errors: %v", p.Errors())
	}
	c, errs := Compile(program, "test")
	if len(errs) > 0 {
		t.Fatalf("unexpected compile errors: %v", errs)
	}
	foundDefGlobal := false
	foundLocalAccess := false
	for offset := 0; offset < len(c.Code); {
		if chunk.OpCode(c.Code[offset]) == chunk.OP_DEF_GLOBAL {
			foundDefGlobal = true
		}
		if op := chunk.OpCode(c.Code[offset]); op == chunk.OP_GET_LOCAL || op == chunk.OP_SET_LOCAL {
			foundLocalAccess = true
		}
		offset = c.DisassembleInstruction(offset)
	}
	if !foundDefGlobal {
		t.Fatal("expected a DEF_GLOBAL in the compiled chunk for a top-level let")
	}
	if foundLocalAccess {
		t.Fatal("expected x to be read and assigned as a global inside the nested block, found a GET_LOCAL/SET_LOCAL")
	}
}
