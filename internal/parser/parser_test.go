package parser

import (
	"testing"

	"lumen/internal/ast"
	"lumen/internal/lexer"
)

func parseProgram(t *testing.T, input string) *ast.Block {
	t.Helper()
	l := lexer.New(input)
	p := New(l)
	program := p.ParseProgram()
	if len(p.Errors()) > 0 {
		t.Fatalf("parser errors for %q: %v", input, p.Errors())
	}
	return program
}

func TestParseVarDeclare(t *testing.T) {
	program := parseProgram(t, "let x = 1 + 2;")
	if len(program.Statements) != 1 {
		t.Fatalf("expected 1 statement, got %d", len(program.Statements))
	}
	stmt, ok := program.Statements[0].(*ast.VarDeclareStmt)
	if !ok {
		t.Fatalf("expected *ast.VarDeclareStmt, got %T", program.Statements[0])
	}
	if stmt.Name != "x" || stmt.IsConst {
		t.Errorf("got Name=%q IsConst=%v", stmt.Name, stmt.IsConst)
	}
	if _, ok := stmt.Value.(*ast.BinaryOp); !ok {
		t.Errorf("expected a BinaryOp value, got %T", stmt.Value)
	}
}

func TestParseConstDeclare(t *testing.T) {
	program := parseProgram(t, "const pi = 3;")
	stmt, ok := program.Statements[0].(*ast.VarDeclareStmt)
	if !ok || !stmt.IsConst {
		t.Fatalf("expected a const VarDeclareStmt, got %#v", program.Statements[0])
	}
}

func TestParseAssign(t *testing.T) {
	program := parseProgram(t, "x = 5;")
	stmt, ok := program.Statements[0].(*ast.AssignStmt)
	if !ok {
		t.Fatalf("expected *ast.AssignStmt, got %T", program.Statements[0])
	}
	if stmt.Name != "x" {
		t.Errorf("got Name=%q", stmt.Name)
	}
}

func TestParseAssignIndex(t *testing.T) {
	program := parseProgram(t, "items[0] = 5;")
	stmt, ok := program.Statements[0].(*ast.AssignIndexStmt)
	if !ok {
		t.Fatalf("expected *ast.AssignIndexStmt, got %T", program.Statements[0])
	}
	if _, ok := stmt.Collection.(*ast.VariableExpr); !ok {
		t.Errorf("expected Collection to be a VariableExpr, got %T", stmt.Collection)
	}
}

func TestParseIfElseIf(t *testing.T) {
	program := parseProgram(t, "if a { 1; } else if b { 2; } else { 3; }")
	stmt, ok := program.Statements[0].(*ast.IfStmt)
	if !ok {
		t.Fatalf("expected *ast.IfStmt, got %T", program.Statements[0])
	}
	if stmt.Alternative == nil {
		t.Fatal("expected an else branch for the else-if chain")
	}
}

func TestParseWhile(t *testing.T) {
	program := parseProgram(t, "while x < 10 { x = x + 1; }")
	if _, ok := program.Statements[0].(*ast.WhileStmt); !ok {
		t.Fatalf("expected *ast.WhileStmt, got %T", program.Statements[0])
	}
}

func TestParseForInRange(t *testing.T) {
	program := parseProgram(t, "for v in 0:10 { v; }")
	stmt, ok := program.Statements[0].(*ast.ForInStmt)
	if !ok {
		t.Fatalf("expected *ast.ForInStmt, got %T", program.Statements[0])
	}
	if _, ok := stmt.Iterable.(*ast.RangeSpecifier); !ok {
		t.Errorf("expected the iterable to be a RangeSpecifier, got %T", stmt.Iterable)
	}
}

func TestParseRangeWithStep(t *testing.T) {
	program := parseProgram(t, "let r = 0:10:2;")
	stmt := program.Statements[0].(*ast.VarDeclareStmt)
	rng, ok := stmt.Value.(*ast.RangeSpecifier)
	if !ok {
		t.Fatalf("expected a RangeSpecifier, got %T", stmt.Value)
	}
	if rng.Step == nil {
		t.Error("expected an explicit Step")
	}
}

func TestParseFunctionDef(t *testing.T) {
	program := parseProgram(t, "fn add(a, b) { return a + b; }")
	stmt, ok := program.Statements[0].(*ast.FunctionDefStmt)
	if !ok {
		t.Fatalf("expected *ast.FunctionDefStmt, got %T", program.Statements[0])
	}
	if stmt.Name != "add" || len(stmt.Params) != 2 {
		t.Errorf("got Name=%q Params=%v", stmt.Name, stmt.Params)
	}
}

func TestParseCallPositionalAndKeywordArgs(t *testing.T) {
	program := parseProgram(t, "f(1, 2, region = \"us-east-1\");")
	stmt := program.Statements[0].(*ast.ExpressionStmt)
	call, ok := stmt.Expression.(*ast.CallExpr)
	if !ok {
		t.Fatalf("expected *ast.CallExpr, got %T", stmt.Expression)
	}
	if len(call.Args) != 2 {
		t.Errorf("expected 2 positional args, got %d", len(call.Args))
	}
	if len(call.KeywordArgs) != 1 || call.KeywordArgs[0].Name != "region" {
		t.Errorf("expected one keyword arg named region, got %v", call.KeywordArgs)
	}
}

func TestParseArrayLiteralAndIndex(t *testing.T) {
	program := parseProgram(t, "let xs = [1, 2, 3]; xs[0];")
	if len(program.Statements) != 2 {
		t.Fatalf("expected 2 statements, got %d", len(program.Statements))
	}
	exprStmt := program.Statements[1].(*ast.ExpressionStmt)
	if _, ok := exprStmt.Expression.(*ast.IndexExpr); !ok {
		t.Errorf("expected an IndexExpr, got %T", exprStmt.Expression)
	}
}

func TestParseBreakContinue(t *testing.T) {
	program := parseProgram(t, "while true { break; continue; }")
	body := program.Statements[0].(*ast.WhileStmt).Body
	if _, ok := body.Statements[0].(*ast.BreakStmt); !ok {
		t.Errorf("expected a BreakStmt, got %T", body.Statements[0])
	}
	if _, ok := body.Statements[1].(*ast.ContinueStmt); !ok {
		t.Errorf("expected a ContinueStmt, got %T", body.Statements[1])
	}
}

func TestParseReturnImplicitNone(t *testing.T) {
	program := parseProgram(t, "fn f() { return; }")
	fn := program.Statements[0].(*ast.FunctionDefStmt)
	ret := fn.Body.Statements[0].(*ast.ReturnStmt)
	if ret.ReturnValue != nil {
		t.Errorf("expected a nil ReturnValue for a bare return, got %v", ret.ReturnValue)
	}
}

func TestParseLogicalOperators(t *testing.T) {
	program := parseProgram(t, "a and b or c;")
	stmt := program.Statements[0].(*ast.ExpressionStmt)
	if _, ok := stmt.Expression.(*ast.LogicalOp); !ok {
		t.Errorf("expected a LogicalOp, got %T", stmt.Expression)
	}
}

func TestParseErrorReporting(t *testing.T) {
	l := lexer.New("let = ;")
	p := New(l)
	p.ParseProgram()
	if len(p.Errors()) == 0 {
		t.Fatal("expected parse errors for a malformed let statement")
	}
}
