// Package vm executes compiled bytecode: a stack machine with a
// per-call-frame named-environment scope chain instead of indexed
// stack slots, since the language has no upvalue-capturing closures
// to make slot indices worth the bookkeeping.
package vm

import (
	"fmt"
	"io"
	"math"
	"os"

	"lumen/internal/chunk"
	"lumen/internal/value"
)

const StackMax = 2048
const FramesMax = 256

// RuntimeError is a VM-level failure, optionally tied to a source line.
type RuntimeError struct {
	Message string
	Line    int
}

func (e *RuntimeError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[line %d] RuntimeError: %s", e.Line, e.Message)
	}
	return fmt.Sprintf("RuntimeError: %s", e.Message)
}

// frame is one call's execution context: its chunk, instruction
// pointer, and its own scope chain. A frame never sees another
// frame's scope chain, which is the runtime half of the no-closures
// guarantee the compiler enforces statically.
type frame struct {
	chunk    *chunk.Chunk
	ip       int
	envStack []map[string]value.Value
}

func (f *frame) pushScope() {
	f.envStack = append(f.envStack, map[string]value.Value{})
}

func (f *frame) popScope() {
	f.envStack = f.envStack[:len(f.envStack)-1]
}

func (f *frame) define(name string, v value.Value) {
	f.envStack[len(f.envStack)-1][name] = v
}

// resolveSet finds the innermost scope that already holds name and
// updates it there. It returns false if name is not a local in this
// frame; OP_SET_LOCAL then reports an undefined-local runtime error
// rather than falling back to globals.
func (f *frame) resolveSet(name string, v value.Value) bool {
	for i := len(f.envStack) - 1; i >= 0; i-- {
		if _, ok := f.envStack[i][name]; ok {
			f.envStack[i][name] = v
			return true
		}
	}
	return false
}

func (f *frame) resolveGet(name string) (value.Value, bool) {
	for i := len(f.envStack) - 1; i >= 0; i-- {
		if v, ok := f.envStack[i][name]; ok {
			return v, true
		}
	}
	return value.Value{}, false
}

type VM struct {
	frames  []*frame
	stack   []value.Value
	globals map[string]value.Value
	Stdout  io.Writer
	Stdin   io.Reader
}

func New() *VM {
	return &VM{
		globals: map[string]value.Value{},
		Stdout:  os.Stdout,
		Stdin:   os.Stdin,
	}
}

// DefineGlobal preloads a global binding before Interpret runs — this
// is how the native function registry installs host callables.
func (vm *VM) DefineGlobal(name string, v value.Value) {
	vm.globals[name] = v
}

// Globals exposes the global bindings map for inspection, e.g. so the
// native registry's own tests can look up an installed native by name
// without driving it through a full compile-and-run round trip.
func (vm *VM) Globals() map[string]value.Value {
	return vm.globals
}

func (vm *VM) push(v value.Value) {
	vm.stack = append(vm.stack, v)
}

func (vm *VM) pop() value.Value {
	n := len(vm.stack)
	v := vm.stack[n-1]
	vm.stack = vm.stack[:n-1]
	return v
}

func (vm *VM) peek(distance int) value.Value {
	return vm.stack[len(vm.stack)-1-distance]
}

func (vm *VM) runtimeError(f *frame, format string, args ...interface{}) *RuntimeError {
	line := 0
	if f != nil && f.ip-1 >= 0 && f.ip-1 < len(f.chunk.Lines) {
		line = f.chunk.Lines[f.ip-1]
	}
	return &RuntimeError{Message: fmt.Sprintf(format, args...), Line: line}
}

// Interpret runs a toplevel chunk to completion and returns its final
// popped value (the program's last expression statement result is
// discarded by OP_POP like any other, so this is ordinarily None).
func (vm *VM) Interpret(c *chunk.Chunk) (value.Value, error) {
	f := &frame{chunk: c}
	f.pushScope()
	vm.frames = append(vm.frames, f)
	return vm.run()
}

func (vm *VM) run() (value.Value, error) {
	for {
		f := vm.frames[len(vm.frames)-1]
		if f.ip >= len(f.chunk.Code) {
			return value.None(), vm.runtimeError(f, "fell off the end of the chunk without a return")
		}

		op := chunk.OpCode(f.chunk.Code[f.ip])
		f.ip++

		switch op {
		case chunk.OP_CONSTANT:
			idx := vm.readByte(f)
			vm.push(f.chunk.Constants[idx])

		case chunk.OP_CONSTANT_LONG:
			idx := vm.readUint16(f)
			vm.push(f.chunk.Constants[idx])

		case chunk.OP_NONE:
			vm.push(value.None())

		case chunk.OP_TRUE:
			vm.push(value.NewBool(true))

		case chunk.OP_FALSE:
			vm.push(value.NewBool(false))

		case chunk.OP_POP:
			vm.pop()

		case chunk.OP_DUP:
			vm.push(vm.peek(0))

		case chunk.OP_ADD, chunk.OP_SUBTRACT, chunk.OP_MULTIPLY, chunk.OP_DIVIDE, chunk.OP_MODULO:
			if err := vm.binaryArith(f, op); err != nil {
				return value.None(), err
			}

		case chunk.OP_NEGATE:
			v := vm.pop()
			switch v.Type {
			case value.VAL_INT:
				vm.push(value.NewInt(-v.AsInt))
			case value.VAL_FLOAT:
				vm.push(value.NewFloat(-v.AsFloat))
			default:
				return value.None(), vm.runtimeError(f, "cannot negate a %s", v.TypeName())
			}

		case chunk.OP_NOT:
			vm.push(value.NewBool(!vm.pop().Truthy()))

		case chunk.OP_EQUAL:
			b, a := vm.pop(), vm.pop()
			vm.push(value.NewBool(value.Equal(a, b)))

		case chunk.OP_NOT_EQUAL:
			b, a := vm.pop(), vm.pop()
			vm.push(value.NewBool(!value.Equal(a, b)))

		case chunk.OP_GREATER, chunk.OP_GREATER_EQUAL, chunk.OP_LESS, chunk.OP_LESS_EQUAL:
			if err := vm.comparison(f, op); err != nil {
				return value.None(), err
			}

		case chunk.OP_AND:
			b, a := vm.pop(), vm.pop()
			vm.push(value.NewBool(a.Truthy() && b.Truthy()))

		case chunk.OP_OR:
			b, a := vm.pop(), vm.pop()
			vm.push(value.NewBool(a.Truthy() || b.Truthy()))

		case chunk.OP_JUMP:
			target := vm.readUint16(f)
			f.ip = int(target)

		case chunk.OP_JUMP_IF_FALSE:
			target := vm.readUint16(f)
			if !vm.pop().Truthy() {
				f.ip = int(target)
			}

		case chunk.OP_ENTER_SCOPE:
			f.pushScope()

		case chunk.OP_EXIT_SCOPE:
			f.popScope()

		case chunk.OP_DEF_GLOBAL:
			name := f.chunk.Constants[vm.readByte(f)].AsString()
			vm.globals[name] = vm.pop()

		case chunk.OP_GET_GLOBAL:
			name := f.chunk.Constants[vm.readByte(f)].AsString()
			v, ok := vm.globals[name]
			if !ok {
				return value.None(), vm.runtimeError(f, "undefined name %q", name)
			}
			vm.push(v)

		case chunk.OP_SET_GLOBAL:
			name := f.chunk.Constants[vm.readByte(f)].AsString()
			if _, ok := vm.globals[name]; !ok {
				return value.None(), vm.runtimeError(f, "undefined name %q", name)
			}
			vm.globals[name] = vm.peek(0)

		case chunk.OP_DEF_LOCAL:
			name := f.chunk.Constants[vm.readByte(f)].AsString()
			f.define(name, vm.pop())

		case chunk.OP_GET_LOCAL:
			name := f.chunk.Constants[vm.readByte(f)].AsString()
			v, ok := f.resolveGet(name)
			if !ok {
				return value.None(), vm.runtimeError(f, "undefined local %q", name)
			}
			vm.push(v)

		case chunk.OP_SET_LOCAL:
			name := f.chunk.Constants[vm.readByte(f)].AsString()
			if !f.resolveSet(name, vm.peek(0)) {
				return value.None(), vm.runtimeError(f, "undefined local %q", name)
			}

		case chunk.OP_BUILD_LIST:
			count := int(vm.readUint16(f))
			elems := make([]value.Value, count)
			for i := count - 1; i >= 0; i-- {
				elems[i] = vm.pop()
			}
			vm.push(value.NewList(elems))

		case chunk.OP_GET_INDEX:
			idx, coll := vm.pop(), vm.pop()
			v, err := vm.getIndex(f, coll, idx)
			if err != nil {
				return value.None(), err
			}
			vm.push(v)

		case chunk.OP_SET_INDEX:
			val, idx, coll := vm.pop(), vm.pop(), vm.pop()
			if err := vm.setIndex(f, coll, idx, val); err != nil {
				return value.None(), err
			}

		case chunk.OP_GET_ATTR:
			name := f.chunk.Constants[vm.readByte(f)].AsString()
			obj := vm.pop()
			if obj.Type != value.VAL_KWARGS {
				return value.None(), vm.runtimeError(f, "%s has no attribute %q", obj.TypeName(), name)
			}
			v, ok := obj.AsKwArgs().Pairs[name]
			if !ok {
				return value.None(), vm.runtimeError(f, "no attribute %q", name)
			}
			vm.push(v)

		case chunk.OP_MAKE_RANGE:
			step, end, start := vm.pop(), vm.pop(), vm.pop()
			if start.Type != value.VAL_INT || end.Type != value.VAL_INT || step.Type != value.VAL_INT {
				return value.None(), vm.runtimeError(f, "range bounds must be int")
			}
			vm.push(value.NewRange(start.AsInt, end.AsInt, step.AsInt))

		case chunk.OP_ITER_NEW:
			v := vm.pop()
			if v.Type != value.VAL_LIST && v.Type != value.VAL_RANGE {
				return value.None(), vm.runtimeError(f, "cannot iterate over a %s", v.TypeName())
			}
			vm.push(value.NewIterator(v))

		case chunk.OP_ITER_NEXT_OR_JUMP:
			target := vm.readUint16(f)
			it := vm.peek(0).AsIterator()
			val, more := advanceIterator(it)
			if !more {
				vm.pop()
				f.ip = int(target)
			} else {
				vm.push(val)
			}

		case chunk.OP_CALL:
			argc := int(vm.readByte(f))
			if err := vm.call(f, argc, nil); err != nil {
				return value.None(), err
			}

		case chunk.OP_BUILD_KWARGS:
			count := int(vm.readByte(f))
			pairs := map[string]value.Value{}
			for i := 0; i < count; i++ {
				v := vm.pop()
				name := vm.pop().AsString()
				pairs[name] = v
			}
			vm.push(value.NewKwArgs(pairs))

		case chunk.OP_CALL_KW:
			nPos := int(vm.readByte(f))
			_ = int(vm.readByte(f)) // n_kw: informational, kwargs object already built
			kwobj := vm.pop()
			if err := vm.call(f, nPos, kwobj.AsKwArgs().Pairs); err != nil {
				return value.None(), err
			}

		case chunk.OP_RETURN:
			result := vm.pop()
			vm.frames = vm.frames[:len(vm.frames)-1]
			if len(vm.frames) == 0 {
				return result, nil
			}
			vm.push(result)

		default:
			return value.None(), vm.runtimeError(f, "unknown opcode %d", op)
		}
	}
}

func (vm *VM) readByte(f *frame) byte {
	b := f.chunk.Code[f.ip]
	f.ip++
	return b
}

func (vm *VM) readUint16(f *frame) uint16 {
	hi, lo := f.chunk.Code[f.ip], f.chunk.Code[f.ip+1]
	f.ip += 2
	return uint16(hi)<<8 | uint16(lo)
}

// advanceIterator is the iterator protocol state machine: Fresh and
// Yielding both attempt to produce the next value; Exhausted always
// reports no more values without touching Index again.
func advanceIterator(it *value.ObjIterator) (value.Value, bool) {
	if it.State == value.IterExhausted {
		return value.Value{}, false
	}
	switch it.Source.Type {
	case value.VAL_LIST:
		elems := it.Source.AsList().Elements
		if it.Index >= int64(len(elems)) {
			it.State = value.IterExhausted
			return value.Value{}, false
		}
		v := elems[it.Index]
		it.Index++
		it.State = value.IterYielding
		return v, true
	case value.VAL_RANGE:
		r := it.Source.AsRange()
		if r.Step > 0 && it.Index >= r.End {
			it.State = value.IterExhausted
			return value.Value{}, false
		}
		if r.Step < 0 && it.Index <= r.End {
			it.State = value.IterExhausted
			return value.Value{}, false
		}
		if r.Step == 0 {
			it.State = value.IterExhausted
			return value.Value{}, false
		}
		v := value.NewInt(it.Index)
		it.Index += r.Step
		it.State = value.IterYielding
		return v, true
	default:
		it.State = value.IterExhausted
		return value.Value{}, false
	}
}

func (vm *VM) binaryArith(f *frame, op chunk.OpCode) error {
	b, a := vm.pop(), vm.pop()

	if op == chunk.OP_ADD && a.Type == value.VAL_STRING && b.Type == value.VAL_STRING {
		vm.push(value.NewString(a.AsString() + b.AsString()))
		return nil
	}
	if op == chunk.OP_ADD && a.Type == value.VAL_LIST && b.Type == value.VAL_LIST {
		combined := append(append([]value.Value{}, a.AsList().Elements...), b.AsList().Elements...)
		vm.push(value.NewList(combined))
		return nil
	}

	if !isNumeric(a) || !isNumeric(b) {
		return vm.runtimeError(f, "unsupported operand types for arithmetic: %s and %s", a.TypeName(), b.TypeName())
	}

	// Division always yields a float, regardless of operand types: 7 / 2
	// is 3.5, never the truncated 3.
	if op == chunk.OP_DIVIDE {
		bf := asFloat(b)
		if bf == 0 {
			return vm.runtimeError(f, "division by zero")
		}
		vm.push(value.NewFloat(asFloat(a) / bf))
		return nil
	}

	if a.Type == value.VAL_INT && b.Type == value.VAL_INT {
		ai, bi := a.AsInt, b.AsInt
		switch op {
		case chunk.OP_ADD:
			vm.push(value.NewInt(ai + bi))
		case chunk.OP_SUBTRACT:
			vm.push(value.NewInt(ai - bi))
		case chunk.OP_MULTIPLY:
			vm.push(value.NewInt(ai * bi))
		case chunk.OP_MODULO:
			if bi == 0 {
				return vm.runtimeError(f, "division by zero")
			}
			vm.push(value.NewInt(ai % bi))
		}
		return nil
	}

	af, bf := asFloat(a), asFloat(b)
	switch op {
	case chunk.OP_ADD:
		vm.push(value.NewFloat(af + bf))
	case chunk.OP_SUBTRACT:
		vm.push(value.NewFloat(af - bf))
	case chunk.OP_MULTIPLY:
		vm.push(value.NewFloat(af * bf))
	case chunk.OP_MODULO:
		vm.push(value.NewFloat(math.Mod(af, bf)))
	}
	return nil
}

func (vm *VM) comparison(f *frame, op chunk.OpCode) error {
	b, a := vm.pop(), vm.pop()

	if a.Type == value.VAL_STRING && b.Type == value.VAL_STRING {
		as, bs := a.AsString(), b.AsString()
		switch op {
		case chunk.OP_GREATER:
			vm.push(value.NewBool(as > bs))
		case chunk.OP_GREATER_EQUAL:
			vm.push(value.NewBool(as >= bs))
		case chunk.OP_LESS:
			vm.push(value.NewBool(as < bs))
		case chunk.OP_LESS_EQUAL:
			vm.push(value.NewBool(as <= bs))
		}
		return nil
	}

	if !isNumeric(a) || !isNumeric(b) {
		return vm.runtimeError(f, "cannot compare %s and %s", a.TypeName(), b.TypeName())
	}
	af, bf := asFloat(a), asFloat(b)
	switch op {
	case chunk.OP_GREATER:
		vm.push(value.NewBool(af > bf))
	case chunk.OP_GREATER_EQUAL:
		vm.push(value.NewBool(af >= bf))
	case chunk.OP_LESS:
		vm.push(value.NewBool(af < bf))
	case chunk.OP_LESS_EQUAL:
		vm.push(value.NewBool(af <= bf))
	}
	return nil
}

func isNumeric(v value.Value) bool { return v.Type == value.VAL_INT || v.Type == value.VAL_FLOAT }

func asFloat(v value.Value) float64 {
	if v.Type == value.VAL_INT {
		return float64(v.AsInt)
	}
	return v.AsFloat
}

func (vm *VM) getIndex(f *frame, coll, idx value.Value) (value.Value, error) {
	switch coll.Type {
	case value.VAL_LIST:
		elems := coll.AsList().Elements
		i, err := normalizeIndex(idx, len(elems))
		if err != nil {
			return value.Value{}, vm.runtimeError(f, "%s", err)
		}
		return elems[i], nil
	case value.VAL_STRING:
		s := coll.AsString()
		i, err := normalizeIndex(idx, len(s))
		if err != nil {
			return value.Value{}, vm.runtimeError(f, "%s", err)
		}
		return value.NewString(string(s[i])), nil
	default:
		return value.Value{}, vm.runtimeError(f, "cannot index a %s", coll.TypeName())
	}
}

func (vm *VM) setIndex(f *frame, coll, idx, val value.Value) error {
	if coll.Type != value.VAL_LIST {
		return vm.runtimeError(f, "cannot assign into a %s", coll.TypeName())
	}
	list := coll.AsList()
	i, err := normalizeIndex(idx, len(list.Elements))
	if err != nil {
		return vm.runtimeError(f, "%s", err)
	}
	list.Elements[i] = val
	return nil
}

func normalizeIndex(idx value.Value, length int) (int, error) {
	if idx.Type != value.VAL_INT {
		return 0, fmt.Errorf("index must be an int, got %s", idx.TypeName())
	}
	i := int(idx.AsInt)
	if i < 0 {
		i += length
	}
	if i < 0 || i >= length {
		return 0, fmt.Errorf("index %d out of range (length %d)", idx.AsInt, length)
	}
	return i, nil
}

// call pops the callee and argc positional arguments off the stack
// (kwargs, if any, is passed in separately since OP_CALL_KW already
// popped its kwargs object before calling). Only a host-native
// function accepts kwargs; calling a user function with keyword
// arguments is a runtime error.
func (vm *VM) call(f *frame, argc int, kwargs map[string]value.Value) error {
	if len(vm.frames) >= FramesMax {
		return vm.runtimeError(f, "call stack overflow")
	}

	args := make([]value.Value, argc)
	for i := argc - 1; i >= 0; i-- {
		args[i] = vm.pop()
	}
	callee := vm.pop()

	if callee.Type != value.VAL_FUNCTION {
		return vm.runtimeError(f, "cannot call a %s", callee.TypeName())
	}
	fn := callee.AsFunction()

	if fn.Native != nil {
		if fn.Arity >= 0 && len(args) != fn.Arity {
			return vm.runtimeError(f, "function %q expects %d argument(s), got %d", fn.Name, fn.Arity, len(args))
		}
		result, err := fn.Native(args, kwargs)
		if err != nil {
			return vm.runtimeError(f, "%s", err)
		}
		vm.push(result)
		return nil
	}

	if kwargs != nil {
		return vm.runtimeError(f, "function %q does not accept keyword arguments", fn.Name)
	}
	if fn.Arity >= 0 && argc != fn.Arity {
		return vm.runtimeError(f, "function %q expects %d argument(s), got %d", fn.Name, fn.Arity, argc)
	}

	fnChunk, ok := fn.Chunk.(*chunk.Chunk)
	if !ok {
		return vm.runtimeError(f, "function %q has no compiled body", fn.Name)
	}

	nf := &frame{chunk: fnChunk}
	nf.pushScope()
	// Bind parameters highest-index first: the stack delivered them in
	// call order, so the last one popped is the first parameter.
	for i := len(fn.Params) - 1; i >= 0; i-- {
		nf.define(fn.Params[i], args[i])
	}
	vm.frames = append(vm.frames, nf)
	return nil
}
