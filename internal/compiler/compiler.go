// Package compiler walks a parsed program and emits bytecode into a
// chunk.Chunk. It knows nothing about lexing or parsing; it consumes
// ast.Node values only.
//
// Scope is tracked at compile time only to decide whether a name
// resolves to OP_GET_LOCAL or OP_GET_GLOBAL: each Compiler instance
// starts with an empty scope stack, so a nested function's compiler
// never sees an enclosing function's locals. That absence is what
// keeps functions from capturing upvalues; any name a function body
// doesn't declare itself resolves as a global lookup, not a closure
// over the definition site.
package compiler

import (
	"fmt"

	"lumen/internal/ast"
	"lumen/internal/chunk"
	"lumen/internal/value"
)

// Error is a compile-time diagnostic. The compiler sets only Message;
// Line and Column are left at 0.
type Error struct {
	Message string
	Line    int
	Column  int
}

func (e *Error) Error() string {
	return fmt.Sprintf("[%d:%d] CompileError: %s", e.Line, e.Column, e.Message)
}

// scope is one lexical block's set of declared names.
type scope struct {
	names map[string]bool
}

func newScope() *scope { return &scope{names: map[string]bool{}} }

// loopContext tracks the bytecode offsets a break/continue inside the
// current loop needs: continueTarget is already known (the loop's
// condition re-check point), breakJumps accumulates patch sites
// resolved once the loop's exit address is known.
type loopContext struct {
	continueTarget int
	breakJumps     []int
}

type Compiler struct {
	chunk  *chunk.Chunk
	scopes []*scope
	loops  []*loopContext
	errors []*Error
	// fn is true for a function-body compiler. It is what makes
	// isGlobalScope false throughout a function even at its outermost
	// scope level, and it is never inherited by a nested function
	// compiler (there is no enclosing pointer), which is what keeps a
	// function body from resolving another function's locals.
	fn bool
}

// New creates a toplevel compiler. fileName is attached to the chunk
// for error messages and disassembly headers.
func New(fileName string) *Compiler {
	c := &Compiler{chunk: chunk.New()}
	c.chunk.FileName = fileName
	return c
}

// newFunctionCompiler creates the compiler for a function body: a
// fresh chunk, a fresh (empty) scope stack, and no inherited loop
// context, since break/continue never cross a function boundary.
func newFunctionCompiler(fileName string) *Compiler {
	c := &Compiler{chunk: chunk.New()}
	c.chunk.FileName = fileName
	return c
}

func (c *Compiler) Errors() []*Error { return c.errors }

// Compile compiles a full program into its toplevel chunk.
func Compile(program *ast.Block, fileName string) (*chunk.Chunk, []*Error) {
	c := New(fileName)
	c.beginScope(false)
	for _, stmt := range program.Statements {
		c.compileStatement(stmt)
	}
	c.endScope(false)
	c.emitByte(byte(chunk.OP_NONE), 0)
	c.emitByte(byte(chunk.OP_RETURN), 0)
	return c.chunk, c.errors
}

// --- scope bookkeeping ---

// beginScope pushes a compile-time scope. emit controls whether the
// matching runtime ENTER_SCOPE/EXIT_SCOPE pair is written: the
// program root and a function's parameter scope are compile-time-only
// (the VM opens their environment frame itself), while an ordinary
// `{ }` block needs the real opcodes.
func (c *Compiler) beginScope(emit bool) {
	if emit {
		c.emitByte(byte(chunk.OP_ENTER_SCOPE), 0)
	}
	c.scopes = append(c.scopes, newScope())
}

func (c *Compiler) endScope(emit bool) {
	c.scopes = c.scopes[:len(c.scopes)-1]
	if emit {
		c.emitByte(byte(chunk.OP_EXIT_SCOPE), 0)
	}
}

func (c *Compiler) declareLocal(name string) {
	if len(c.scopes) == 0 {
		return
	}
	c.scopes[len(c.scopes)-1].names[name] = true
}

// resolveLocal reports whether name is visible in this compiler's own
// scope stack (innermost first). It never looks at an enclosing
// compiler: that is the deliberate boundary that prevents closures.
func (c *Compiler) resolveLocal(name string) bool {
	for i := len(c.scopes) - 1; i >= 0; i-- {
		if c.scopes[i].names[name] {
			return true
		}
	}
	return false
}

// --- emission helpers ---

func (c *Compiler) emitByte(b byte, line int) {
	c.chunk.Write(b, line)
}

func (c *Compiler) emitBytes(b1, b2 byte, line int) {
	c.chunk.Write(b1, line)
	c.chunk.Write(b2, line)
}

func (c *Compiler) emitConstant(v value.Value, line int) {
	idx := c.chunk.AddConstant(v)
	if idx < 256 {
		c.emitBytes(byte(chunk.OP_CONSTANT), byte(idx), line)
	} else {
		c.emitByte(byte(chunk.OP_CONSTANT_LONG), line)
		c.chunk.WriteUint16(uint16(idx), line)
	}
}

func (c *Compiler) nameConstant(name string) int {
	return c.chunk.AddConstant(value.NewString(name))
}

// emitJump writes the opcode plus a two-byte sentinel and returns the
// offset of the sentinel's first byte, to be resolved by patchJump.
func (c *Compiler) emitJump(op chunk.OpCode, line int) int {
	c.emitByte(byte(op), line)
	offset := len(c.chunk.Code)
	c.chunk.WriteUint16(0xffff, line)
	return offset
}

// patchJump overwrites the sentinel at offset with the current
// instruction pointer: the absolute address execution resumes at.
func (c *Compiler) patchJump(offset int) {
	target := uint16(len(c.chunk.Code))
	c.chunk.Code[offset] = byte(target >> 8)
	c.chunk.Code[offset+1] = byte(target)
}

// emitJumpTo emits an unconditional jump to a known absolute address,
// used for continue and for a loop's backward re-check jump.
func (c *Compiler) emitJumpTo(op chunk.OpCode, target int, line int) {
	c.emitByte(byte(op), line)
	c.chunk.WriteUint16(uint16(target), line)
}

// patchJumpTo resolves the sentinel at offset to an already-known
// absolute address, for jumps whose target isn't simply "here".
func (c *Compiler) patchJumpTo(offset int, target int) {
	c.chunk.Code[offset] = byte(uint16(target) >> 8)
	c.chunk.Code[offset+1] = byte(uint16(target))
}

func (c *Compiler) here() int { return len(c.chunk.Code) }

// --- statements ---

func (c *Compiler) compileStatement(stmt ast.Statement) {
	switch s := stmt.(type) {
	case *ast.VarDeclareStmt:
		c.compileVarDeclare(s)
	case *ast.AssignStmt:
		c.compileAssign(s)
	case *ast.AssignIndexStmt:
		c.compileAssignIndex(s)
	case *ast.ExpressionStmt:
		c.compileExpression(s.Expression)
		c.emitByte(byte(chunk.OP_POP), 0)
	case *ast.Block:
		c.compileBlock(s)
	case *ast.IfStmt:
		c.compileIf(s)
	case *ast.WhileStmt:
		c.compileWhile(s)
	case *ast.ForInStmt:
		c.compileForIn(s)
	case *ast.BreakStmt:
		c.compileBreak(s)
	case *ast.ContinueStmt:
		c.compileContinue(s)
	case *ast.ReturnStmt:
		c.compileReturn(s)
	case *ast.FunctionDefStmt:
		c.compileFunctionDef(s)
	default:
		c.errors = append(c.errors, &Error{Message: fmt.Sprintf("unsupported statement %T", stmt)})
	}
}

// compileBlock compiles a nested block. Per ast.Block's HasToken
// contract, only a block that actually opens a new scope (HasToken
// true) emits ENTER_SCOPE/EXIT_SCOPE; a HasToken == false block (the
// wrapper the parser builds around an `else if`) compiles its
// statements directly into the enclosing scope. The program root and
// function bodies never come through here: Compile and
// compileFunctionBody compile their statements directly.
func (c *Compiler) compileBlock(b *ast.Block) {
	if b.HasToken {
		c.beginScope(true)
	}
	for _, stmt := range b.Statements {
		c.compileStatement(stmt)
	}
	if b.HasToken {
		c.endScope(true)
	}
}

func (c *Compiler) isGlobalScope() bool {
	return !c.fn && len(c.scopes) <= 1
}

func (c *Compiler) compileVarDeclare(s *ast.VarDeclareStmt) {
	if s.Value != nil {
		c.compileExpression(s.Value)
	} else {
		c.emitByte(byte(chunk.OP_NONE), 0)
	}
	idx := c.nameConstant(s.Name)
	if c.isGlobalScope() {
		c.emitBytes(byte(chunk.OP_DEF_GLOBAL), byte(idx), 0)
	} else {
		c.declareLocal(s.Name)
		c.emitBytes(byte(chunk.OP_DEF_LOCAL), byte(idx), 0)
	}
}

func (c *Compiler) compileAssign(s *ast.AssignStmt) {
	c.compileExpression(s.Value)
	idx := c.nameConstant(s.Name)
	if c.resolveLocal(s.Name) {
		c.emitBytes(byte(chunk.OP_SET_LOCAL), byte(idx), 0)
	} else {
		c.emitBytes(byte(chunk.OP_SET_GLOBAL), byte(idx), 0)
	}
	// SET_LOCAL/SET_GLOBAL leave the assigned value on the stack; an
	// assignment statement discards it.
	c.emitByte(byte(chunk.OP_POP), 0)
}

func (c *Compiler) compileAssignIndex(s *ast.AssignIndexStmt) {
	c.compileExpression(s.Collection)
	c.compileExpression(s.Index)
	c.compileExpression(s.Value)
	c.emitByte(byte(chunk.OP_SET_INDEX), 0)
}

func (c *Compiler) compileIf(s *ast.IfStmt) {
	c.compileExpression(s.Condition)
	elseJump := c.emitJump(chunk.OP_JUMP_IF_FALSE, 0)
	c.compileBlock(s.Consequence)

	if s.Alternative != nil {
		endJump := c.emitJump(chunk.OP_JUMP, 0)
		c.patchJump(elseJump)
		c.compileBlock(s.Alternative)
		c.patchJump(endJump)
	} else {
		c.patchJump(elseJump)
	}
}

func (c *Compiler) compileWhile(s *ast.WhileStmt) {
	loopStart := c.here()
	c.compileExpression(s.Condition)
	exitJump := c.emitJump(chunk.OP_JUMP_IF_FALSE, 0)

	c.loops = append(c.loops, &loopContext{continueTarget: loopStart})
	c.compileBlock(s.Body)
	c.emitJumpTo(chunk.OP_JUMP, loopStart, 0)

	c.patchJump(exitJump)
	lp := c.loops[len(c.loops)-1]
	c.loops = c.loops[:len(c.loops)-1]
	for _, j := range lp.breakJumps {
		c.patchJump(j)
	}
}

// compileForIn lowers `for x in iterable { body }` onto the iterator
// protocol: ITER_NEW once, then ITER_NEXT_OR_JUMP at the loop head on
// every iteration, binding x to the pushed value.
func (c *Compiler) compileForIn(s *ast.ForInStmt) {
	c.compileExpression(s.Iterable)
	c.emitByte(byte(chunk.OP_ITER_NEW), 0)

	c.beginScope(true)
	loopStart := c.here()
	exitJump := c.emitJump(chunk.OP_ITER_NEXT_OR_JUMP, 0)

	varIdx := c.nameConstant(s.VarName)
	c.declareLocal(s.VarName)
	c.emitBytes(byte(chunk.OP_DEF_LOCAL), byte(varIdx), 0)

	c.loops = append(c.loops, &loopContext{continueTarget: loopStart})
	c.compileBlock(s.Body)
	c.emitJumpTo(chunk.OP_JUMP, loopStart, 0)

	// ITER_NEXT_OR_JUMP pops the iterator itself on exhaustion, so the
	// natural exit path lands here with the stack already clean and
	// jumps straight past the break handler below.
	c.patchJump(exitJump)
	doneJump := c.emitJump(chunk.OP_JUMP, 0)

	// break still has the iterator live on the stack (ITER_NEXT_OR_JUMP
	// never ran to pop it), so break jumps land here instead and pop it
	// explicitly before falling through to the same exit point.
	breakHandler := c.here()
	c.emitByte(byte(chunk.OP_POP), 0)

	c.patchJump(doneJump)

	lp := c.loops[len(c.loops)-1]
	c.loops = c.loops[:len(c.loops)-1]
	for _, j := range lp.breakJumps {
		c.patchJumpTo(j, breakHandler)
	}
	c.endScope(true)
}

func (c *Compiler) compileBreak(s *ast.BreakStmt) {
	if len(c.loops) == 0 {
		c.errors = append(c.errors, &Error{Message: "break outside of loop"})
		return
	}
	j := c.emitJump(chunk.OP_JUMP, 0)
	lp := c.loops[len(c.loops)-1]
	lp.breakJumps = append(lp.breakJumps, j)
}

func (c *Compiler) compileContinue(s *ast.ContinueStmt) {
	if len(c.loops) == 0 {
		c.errors = append(c.errors, &Error{Message: "continue outside of loop"})
		return
	}
	lp := c.loops[len(c.loops)-1]
	c.emitJumpTo(chunk.OP_JUMP, lp.continueTarget, 0)
}

func (c *Compiler) compileReturn(s *ast.ReturnStmt) {
	if s.ReturnValue != nil {
		c.compileExpression(s.ReturnValue)
	} else {
		c.emitByte(byte(chunk.OP_NONE), 0)
	}
	c.emitByte(byte(chunk.OP_RETURN), 0)
}

// compileFunctionDef compiles the function body into its own chunk,
// wraps it as a constant, and binds it with a single DEF_GLOBAL or
// DEF_LOCAL — never both, unlike a design that re-declares a function
// at every enclosing scope it is visible from.
func (c *Compiler) compileFunctionDef(s *ast.FunctionDefStmt) {
	fn := c.compileFunctionBody(s.Name, s.Params, s.Body)
	c.emitConstant(value.NewFunction(fn), 0)

	idx := c.nameConstant(s.Name)
	if c.isGlobalScope() {
		c.emitBytes(byte(chunk.OP_DEF_GLOBAL), byte(idx), 0)
	} else {
		c.declareLocal(s.Name)
		c.emitBytes(byte(chunk.OP_DEF_LOCAL), byte(idx), 0)
	}
}

func (c *Compiler) compileFunctionBody(name string, params []*ast.Parameter, body *ast.Block) *value.ObjFunction {
	sub := newFunctionCompiler(c.chunk.FileName)
	sub.fn = true
	sub.beginScope(false)
	names := make([]string, len(params))
	for i, p := range params {
		names[i] = p.Name
		sub.declareLocal(p.Name)
	}
	for _, stmt := range body.Statements {
		sub.compileStatement(stmt)
	}
	sub.endScope(false)
	sub.emitByte(byte(chunk.OP_NONE), 0)
	sub.emitByte(byte(chunk.OP_RETURN), 0)
	c.errors = append(c.errors, sub.errors...)

	return &value.ObjFunction{
		Name:   name,
		Arity:  len(params),
		Params: names,
		Chunk:  sub.chunk,
	}
}

// --- expressions ---

func (c *Compiler) compileExpression(expr ast.Expression) {
	switch e := expr.(type) {
	case *ast.Number:
		if e.IsFloat {
			c.emitConstant(value.NewFloat(e.FltVal), 0)
		} else {
			c.emitConstant(value.NewInt(e.IntVal), 0)
		}
	case *ast.String:
		c.emitConstant(value.NewString(e.Value), 0)
	case *ast.Boolean:
		if e.Value {
			c.emitByte(byte(chunk.OP_TRUE), 0)
		} else {
			c.emitByte(byte(chunk.OP_FALSE), 0)
		}
	case *ast.NoneLiteral:
		c.emitByte(byte(chunk.OP_NONE), 0)
	case *ast.VariableExpr:
		c.compileVariableExpr(e)
	case *ast.UnaryOp:
		c.compileUnaryOp(e)
	case *ast.BinaryOp:
		c.compileBinaryOp(e)
	case *ast.ComparisonOp:
		c.compileComparisonOp(e)
	case *ast.LogicalOp:
		c.compileLogicalOp(e)
	case *ast.ArrayLiteral:
		c.compileArrayLiteral(e)
	case *ast.IndexExpr:
		c.compileExpression(e.Collection)
		c.compileExpression(e.Index)
		c.emitByte(byte(chunk.OP_GET_INDEX), 0)
	case *ast.DotExpr:
		c.compileExpression(e.Object)
		idx := c.nameConstant(e.Name)
		c.emitBytes(byte(chunk.OP_GET_ATTR), byte(idx), 0)
	case *ast.RangeSpecifier:
		c.compileRangeSpecifier(e)
	case *ast.FunctionExpr:
		fn := c.compileFunctionBody("<anonymous>", e.Params, e.Body)
		c.emitConstant(value.NewFunction(fn), 0)
	case *ast.CallExpr:
		c.compileCallExpr(e)
	default:
		c.errors = append(c.errors, &Error{Message: fmt.Sprintf("unsupported expression %T", expr)})
	}
}

func (c *Compiler) compileVariableExpr(e *ast.VariableExpr) {
	idx := c.nameConstant(e.Name)
	if c.resolveLocal(e.Name) {
		c.emitBytes(byte(chunk.OP_GET_LOCAL), byte(idx), 0)
	} else {
		c.emitBytes(byte(chunk.OP_GET_GLOBAL), byte(idx), 0)
	}
}

func (c *Compiler) compileUnaryOp(e *ast.UnaryOp) {
	c.compileExpression(e.Right)
	if e.Operator == "not" {
		c.emitByte(byte(chunk.OP_NOT), 0)
	} else {
		c.emitByte(byte(chunk.OP_NEGATE), 0)
	}
}

func (c *Compiler) compileBinaryOp(e *ast.BinaryOp) {
	c.compileExpression(e.Left)
	c.compileExpression(e.Right)
	switch e.Operator {
	case "+":
		c.emitByte(byte(chunk.OP_ADD), 0)
	case "-":
		c.emitByte(byte(chunk.OP_SUBTRACT), 0)
	case "*":
		c.emitByte(byte(chunk.OP_MULTIPLY), 0)
	case "/":
		c.emitByte(byte(chunk.OP_DIVIDE), 0)
	case "%":
		c.emitByte(byte(chunk.OP_MODULO), 0)
	default:
		c.errors = append(c.errors, &Error{Message: fmt.Sprintf("unknown binary operator %q", e.Operator)})
	}
}

func (c *Compiler) compileComparisonOp(e *ast.ComparisonOp) {
	c.compileExpression(e.Left)
	c.compileExpression(e.Right)
	switch e.Operator {
	case "==":
		c.emitByte(byte(chunk.OP_EQUAL), 0)
	case "!=":
		c.emitByte(byte(chunk.OP_NOT_EQUAL), 0)
	case ">":
		c.emitByte(byte(chunk.OP_GREATER), 0)
	case ">=":
		c.emitByte(byte(chunk.OP_GREATER_EQUAL), 0)
	case "<":
		c.emitByte(byte(chunk.OP_LESS), 0)
	case "<=":
		c.emitByte(byte(chunk.OP_LESS_EQUAL), 0)
	default:
		c.errors = append(c.errors, &Error{Message: fmt.Sprintf("unknown comparison operator %q", e.Operator)})
	}
}

// compileLogicalOp always evaluates both operands: `and`/`or` are not
// short-circuiting in this language, so no jump is emitted here.
func (c *Compiler) compileLogicalOp(e *ast.LogicalOp) {
	c.compileExpression(e.Left)
	c.compileExpression(e.Right)
	if e.Operator == "and" {
		c.emitByte(byte(chunk.OP_AND), 0)
	} else {
		c.emitByte(byte(chunk.OP_OR), 0)
	}
}

func (c *Compiler) compileArrayLiteral(e *ast.ArrayLiteral) {
	for _, el := range e.Elements {
		c.compileExpression(el)
	}
	c.emitByte(byte(chunk.OP_BUILD_LIST), 0)
	c.chunk.WriteUint16(uint16(len(e.Elements)), 0)
}

func (c *Compiler) compileRangeSpecifier(e *ast.RangeSpecifier) {
	c.compileExpression(e.Start)
	c.compileExpression(e.End)
	if e.Step != nil {
		c.compileExpression(e.Step)
	} else {
		c.emitConstant(value.NewInt(1), 0)
	}
	c.emitByte(byte(chunk.OP_MAKE_RANGE), 0)
}

func (c *Compiler) compileCallExpr(e *ast.CallExpr) {
	c.compileExpression(e.Callee)
	for _, arg := range e.Args {
		c.compileExpression(arg)
	}

	if len(e.KeywordArgs) == 0 {
		c.emitBytes(byte(chunk.OP_CALL), byte(len(e.Args)), 0)
		return
	}

	for _, kw := range e.KeywordArgs {
		c.emitConstant(value.NewString(kw.Name), 0)
		c.compileExpression(kw.Value)
	}
	c.emitBytes(byte(chunk.OP_BUILD_KWARGS), byte(len(e.KeywordArgs)), 0)
	c.emitByte(byte(chunk.OP_CALL_KW), 0)
	c.emitBytes(byte(len(e.Args)), byte(len(e.KeywordArgs)), 0)
}
