// Package chunk defines the bytecode container the compiler emits into
// and the VM executes: a flat instruction stream, a deduplicated
// constant pool, and a line table for error reporting.
//
// Jump operands are absolute instruction offsets, not relative deltas:
// a jump's two operand bytes are the big-endian IP to resume at, never
// a delta to add to the current IP. This makes patchJump a single
// write-back with no sign arithmetic and makes disassembly print the
// real destination directly.
package chunk

import (
	"fmt"

	"lumen/internal/value"
)

type OpCode byte

const (
	OP_CONSTANT OpCode = iota
	OP_CONSTANT_LONG
	OP_NONE
	OP_TRUE
	OP_FALSE
	OP_POP
	OP_DUP

	OP_ADD
	OP_SUBTRACT
	OP_MULTIPLY
	OP_DIVIDE
	OP_MODULO
	OP_NEGATE
	OP_NOT

	OP_EQUAL
	OP_NOT_EQUAL
	OP_GREATER
	OP_GREATER_EQUAL
	OP_LESS
	OP_LESS_EQUAL

	OP_AND
	OP_OR

	OP_JUMP          // [ip_hi ip_lo] unconditional absolute jump
	OP_JUMP_IF_FALSE // [ip_hi ip_lo] pops condition

	OP_ENTER_SCOPE
	OP_EXIT_SCOPE

	OP_DEF_GLOBAL
	OP_GET_GLOBAL
	OP_SET_GLOBAL
	OP_DEF_LOCAL
	OP_GET_LOCAL
	OP_SET_LOCAL

	OP_BUILD_LIST // [count_hi count_lo]
	OP_GET_INDEX
	OP_SET_INDEX
	OP_GET_ATTR

	OP_MAKE_RANGE
	OP_ITER_NEW
	OP_ITER_NEXT_OR_JUMP // [ip_hi ip_lo] jump target on exhaustion

	OP_CALL // [argc]
	OP_BUILD_KWARGS
	OP_CALL_KW // [n_pos] [n_kw]
	OP_RETURN
)

var opNames = map[OpCode]string{
	OP_CONSTANT:          "OP_CONSTANT",
	OP_CONSTANT_LONG:     "OP_CONSTANT_LONG",
	OP_NONE:              "OP_NONE",
	OP_TRUE:              "OP_TRUE",
	OP_FALSE:             "OP_FALSE",
	OP_POP:               "OP_POP",
	OP_DUP:               "OP_DUP",
	OP_ADD:               "OP_ADD",
	OP_SUBTRACT:          "OP_SUBTRACT",
	OP_MULTIPLY:          "OP_MULTIPLY",
	OP_DIVIDE:            "OP_DIVIDE",
	OP_MODULO:            "OP_MODULO",
	OP_NEGATE:            "OP_NEGATE",
	OP_NOT:               "OP_NOT",
	OP_EQUAL:             "OP_EQUAL",
	OP_NOT_EQUAL:         "OP_NOT_EQUAL",
	OP_GREATER:           "OP_GREATER",
	OP_GREATER_EQUAL:     "OP_GREATER_EQUAL",
	OP_LESS:              "OP_LESS",
	OP_LESS_EQUAL:        "OP_LESS_EQUAL",
	OP_AND:               "OP_AND",
	OP_OR:                "OP_OR",
	OP_JUMP:              "OP_JUMP",
	OP_JUMP_IF_FALSE:     "OP_JUMP_IF_FALSE",
	OP_ENTER_SCOPE:       "OP_ENTER_SCOPE",
	OP_EXIT_SCOPE:        "OP_EXIT_SCOPE",
	OP_DEF_GLOBAL:        "OP_DEF_GLOBAL",
	OP_GET_GLOBAL:        "OP_GET_GLOBAL",
	OP_SET_GLOBAL:        "OP_SET_GLOBAL",
	OP_DEF_LOCAL:         "OP_DEF_LOCAL",
	OP_GET_LOCAL:         "OP_GET_LOCAL",
	OP_SET_LOCAL:         "OP_SET_LOCAL",
	OP_BUILD_LIST:        "OP_BUILD_LIST",
	OP_GET_INDEX:         "OP_GET_INDEX",
	OP_SET_INDEX:         "OP_SET_INDEX",
	OP_GET_ATTR:          "OP_GET_ATTR",
	OP_MAKE_RANGE:        "OP_MAKE_RANGE",
	OP_ITER_NEW:          "OP_ITER_NEW",
	OP_ITER_NEXT_OR_JUMP: "OP_ITER_NEXT_OR_JUMP",
	OP_CALL:              "OP_CALL",
	OP_BUILD_KWARGS:      "OP_BUILD_KWARGS",
	OP_CALL_KW:           "OP_CALL_KW",
	OP_RETURN:            "OP_RETURN",
}

func (op OpCode) String() string {
	if s, ok := opNames[op]; ok {
		return s
	}
	return fmt.Sprintf("OP_%d", byte(op))
}

// Chunk is the unit of compiled code: one per toplevel program and one
// per user-defined function body.
type Chunk struct {
	Code      []byte
	Constants []value.Value
	Lines     []int
	FileName  string
}

func New() *Chunk {
	return &Chunk{
		Code:      []byte{},
		Constants: []value.Value{},
		Lines:     []int{},
	}
}

func (c *Chunk) Write(b byte, line int) {
	c.Code = append(c.Code, b)
	c.Lines = append(c.Lines, line)
}

func (c *Chunk) WriteUint16(v uint16, line int) {
	c.Write(byte(v>>8), line)
	c.Write(byte(v), line)
}

// AddConstant interns v into the constant pool: an existing entry with
// the same type and value is reused rather than duplicated. Function
// and iterator constants are never deduplicated since they carry
// reference identity.
func (c *Chunk) AddConstant(v value.Value) int {
	if v.Type != value.VAL_FUNCTION && v.Type != value.VAL_ITERATOR {
		for i, existing := range c.Constants {
			if sameConstant(existing, v) {
				return i
			}
		}
	}
	c.Constants = append(c.Constants, v)
	return len(c.Constants) - 1
}

// sameConstant is stricter than value.Equal: it never treats an Int
// and a Float as interchangeable, since the ABI encodes their types
// differently even when the numeric value matches.
func sameConstant(a, b value.Value) bool {
	if a.Type != b.Type {
		return false
	}
	switch a.Type {
	case value.VAL_NONE:
		return true
	case value.VAL_BOOL:
		return a.AsBool == b.AsBool
	case value.VAL_INT:
		return a.AsInt == b.AsInt
	case value.VAL_FLOAT:
		return a.AsFloat == b.AsFloat
	case value.VAL_STRING:
		return a.AsString() == b.AsString()
	default:
		return false
	}
}

func (c *Chunk) Disassemble(name string) {
	fmt.Printf("== %s ==\n", name)
	for offset := 0; offset < len(c.Code); {
		offset = c.DisassembleInstruction(offset)
	}
}

// DisassembleAll disassembles this chunk and every function-valued
// constant's chunk, recursively.
func (c *Chunk) DisassembleAll(name string) {
	c.Disassemble(name)
	for _, constant := range c.Constants {
		if constant.Type != value.VAL_FUNCTION {
			continue
		}
		fn := constant.AsFunction()
		if fn.Native != nil {
			continue
		}
		if fnChunk, ok := fn.Chunk.(*Chunk); ok {
			fmt.Println()
			fnChunk.DisassembleAll(fn.Name)
		}
	}
}

func (c *Chunk) DisassembleInstruction(offset int) int {
	fmt.Printf("%04d ", offset)
	if offset > 0 && c.Lines[offset] == c.Lines[offset-1] {
		fmt.Printf("   | ")
	} else {
		fmt.Printf("%4d ", c.Lines[offset])
	}

	op := OpCode(c.Code[offset])
	switch op {
	case OP_CONSTANT:
		return c.constantInstruction(op.String(), offset)
	case OP_CONSTANT_LONG:
		return c.constantLongInstruction(op.String(), offset)
	case OP_NONE, OP_TRUE, OP_FALSE, OP_POP, OP_DUP,
		OP_ADD, OP_SUBTRACT, OP_MULTIPLY, OP_DIVIDE, OP_MODULO, OP_NEGATE, OP_NOT,
		OP_EQUAL, OP_NOT_EQUAL, OP_GREATER, OP_GREATER_EQUAL, OP_LESS, OP_LESS_EQUAL,
		OP_AND, OP_OR, OP_ENTER_SCOPE, OP_EXIT_SCOPE,
		OP_GET_INDEX, OP_SET_INDEX, OP_MAKE_RANGE, OP_ITER_NEW, OP_RETURN:
		return c.simpleInstruction(op.String(), offset)
	case OP_JUMP, OP_JUMP_IF_FALSE, OP_ITER_NEXT_OR_JUMP:
		return c.absoluteJumpInstruction(op.String(), offset)
	case OP_DEF_GLOBAL, OP_GET_GLOBAL, OP_SET_GLOBAL, OP_DEF_LOCAL, OP_GET_LOCAL, OP_SET_LOCAL, OP_GET_ATTR:
		return c.constantInstruction(op.String(), offset)
	case OP_BUILD_LIST:
		return c.shortInstruction(op.String(), offset)
	case OP_CALL, OP_BUILD_KWARGS:
		return c.byteInstruction(op.String(), offset)
	case OP_CALL_KW:
		return c.twoByteInstruction(op.String(), offset)
	default:
		fmt.Printf("unknown opcode %d\n", op)
		return offset + 1
	}
}

func (c *Chunk) simpleInstruction(name string, offset int) int {
	fmt.Printf("%s\n", name)
	return offset + 1
}

func (c *Chunk) constantInstruction(name string, offset int) int {
	idx := c.Code[offset+1]
	fmt.Printf("%-20s %4d '%s'\n", name, idx, c.Constants[idx])
	return offset + 2
}

func (c *Chunk) constantLongInstruction(name string, offset int) int {
	idx := uint16(c.Code[offset+1])<<8 | uint16(c.Code[offset+2])
	fmt.Printf("%-20s %4d '%s'\n", name, idx, c.Constants[idx])
	return offset + 3
}

func (c *Chunk) byteInstruction(name string, offset int) int {
	operand := c.Code[offset+1]
	fmt.Printf("%-20s %4d\n", name, operand)
	return offset + 2
}

func (c *Chunk) shortInstruction(name string, offset int) int {
	operand := uint16(c.Code[offset+1])<<8 | uint16(c.Code[offset+2])
	fmt.Printf("%-20s %4d\n", name, operand)
	return offset + 3
}

func (c *Chunk) twoByteInstruction(name string, offset int) int {
	a := c.Code[offset+1]
	b := c.Code[offset+2]
	fmt.Printf("%-20s %4d %4d\n", name, a, b)
	return offset + 3
}

// absoluteJumpInstruction prints the jump's literal destination IP,
// not a delta, matching the ABI.
func (c *Chunk) absoluteJumpInstruction(name string, offset int) int {
	target := uint16(c.Code[offset+1])<<8 | uint16(c.Code[offset+2])
	fmt.Printf("%-20s -> %04d\n", name, target)
	return offset + 3
}
