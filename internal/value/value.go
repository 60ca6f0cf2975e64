// Package value defines the runtime Value union the VM operates on.
package value

import (
	"fmt"
	"strings"
)

type ValueType int

const (
	VAL_NONE ValueType = iota
	VAL_BOOL
	VAL_INT
	VAL_FLOAT
	VAL_STRING
	VAL_LIST
	VAL_RANGE
	VAL_ITERATOR
	VAL_FUNCTION
	VAL_KWARGS
)

// Value is a tagged union. Only the field matching Type is meaningful.
type Value struct {
	Type    ValueType
	AsBool  bool
	AsInt   int64
	AsFloat float64
	Obj     interface{} // *ObjString, *ObjList, *ObjRange, *ObjIterator, *ObjFunction, *ObjKwArgs
}

type ObjString struct {
	Value string
}

// ObjList is a mutable, ordered, heap-allocated sequence. Index and
// assign-index operate on the same backing slice.
type ObjList struct {
	Elements []Value
}

// ObjRange is the lazily-iterated a:b:c value.
type ObjRange struct {
	Start int64
	End   int64
	Step  int64
}

type iterState int

const (
	IterFresh iterState = iota
	IterYielding
	IterExhausted
)

// ObjIterator is the opaque cursor produced by ITER_NEW over a List or
// a Range. It is a reference type: identity, not structural, equality.
type ObjIterator struct {
	State   iterState
	Source  Value
	Index   int64 // next List index, or next Range value for range sources
}

// ObjFunction describes a user-defined function's entry point. Chunk is
// declared interface{} to avoid an import cycle with package chunk;
// the VM type-asserts it back to *chunk.Chunk.
type ObjFunction struct {
	Name    string
	Arity   int
	Params  []string
	StartIP int
	Chunk   interface{}
	Native  NativeFunc
}

type NativeFunc func(args []Value, kwargs map[string]Value) (Value, error)

// ObjKwArgs carries the keyword arguments collected by BUILD_KWARGS.
// Only host-native callables accept it.
type ObjKwArgs struct {
	Pairs map[string]Value
}

func None() Value                 { return Value{Type: VAL_NONE} }
func NewInt(v int64) Value        { return Value{Type: VAL_INT, AsInt: v} }
func NewFloat(v float64) Value    { return Value{Type: VAL_FLOAT, AsFloat: v} }
func NewBool(v bool) Value        { return Value{Type: VAL_BOOL, AsBool: v} }
func NewString(v string) Value    { return Value{Type: VAL_STRING, Obj: &ObjString{Value: v}} }

func NewList(elems []Value) Value {
	if elems == nil {
		elems = []Value{}
	}
	return Value{Type: VAL_LIST, Obj: &ObjList{Elements: elems}}
}

func NewRange(start, end, step int64) Value {
	return Value{Type: VAL_RANGE, Obj: &ObjRange{Start: start, End: end, Step: step}}
}

func NewIterator(source Value) Value {
	it := &ObjIterator{State: IterFresh, Source: source}
	if r, ok := source.Obj.(*ObjRange); ok {
		it.Index = r.Start
	}
	return Value{Type: VAL_ITERATOR, Obj: it}
}

func NewFunction(fn *ObjFunction) Value {
	return Value{Type: VAL_FUNCTION, Obj: fn}
}

func NewNative(name string, arity int, fn NativeFunc) Value {
	return Value{Type: VAL_FUNCTION, Obj: &ObjFunction{Name: name, Arity: arity, Native: fn}}
}

func NewKwArgs(pairs map[string]Value) Value {
	if pairs == nil {
		pairs = map[string]Value{}
	}
	return Value{Type: VAL_KWARGS, Obj: &ObjKwArgs{Pairs: pairs}}
}

func (v Value) IsNone() bool { return v.Type == VAL_NONE }

// Truthy implements the language's single source of truth for boolean
// coercion: none and false are falsy, zero int/float and "" are falsy,
// an empty list is falsy, everything else is truthy.
func (v Value) Truthy() bool {
	switch v.Type {
	case VAL_NONE:
		return false
	case VAL_BOOL:
		return v.AsBool
	case VAL_INT:
		return v.AsInt != 0
	case VAL_FLOAT:
		return v.AsFloat != 0
	case VAL_STRING:
		return v.Obj.(*ObjString).Value != ""
	case VAL_LIST:
		return len(v.Obj.(*ObjList).Elements) > 0
	default:
		return true
	}
}

func (v Value) AsString() string {
	return v.Obj.(*ObjString).Value
}

func (v Value) AsList() *ObjList {
	return v.Obj.(*ObjList)
}

func (v Value) AsRange() *ObjRange {
	return v.Obj.(*ObjRange)
}

func (v Value) AsIterator() *ObjIterator {
	return v.Obj.(*ObjIterator)
}

func (v Value) AsFunction() *ObjFunction {
	return v.Obj.(*ObjFunction)
}

func (v Value) AsKwArgs() *ObjKwArgs {
	return v.Obj.(*ObjKwArgs)
}

func (v Value) TypeName() string {
	switch v.Type {
	case VAL_NONE:
		return "none"
	case VAL_BOOL:
		return "bool"
	case VAL_INT:
		return "int"
	case VAL_FLOAT:
		return "float"
	case VAL_STRING:
		return "string"
	case VAL_LIST:
		return "list"
	case VAL_RANGE:
		return "range"
	case VAL_ITERATOR:
		return "iterator"
	case VAL_FUNCTION:
		return "function"
	case VAL_KWARGS:
		return "kwargs"
	default:
		return "unknown"
	}
}

func (v Value) String() string {
	switch v.Type {
	case VAL_NONE:
		return "none"
	case VAL_BOOL:
		return fmt.Sprintf("%t", v.AsBool)
	case VAL_INT:
		return fmt.Sprintf("%d", v.AsInt)
	case VAL_FLOAT:
		return fmt.Sprintf("%g", v.AsFloat)
	case VAL_STRING:
		return v.AsString()
	case VAL_LIST:
		elems := v.AsList().Elements
		parts := make([]string, len(elems))
		for i, e := range elems {
			parts[i] = e.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case VAL_RANGE:
		r := v.AsRange()
		return fmt.Sprintf("%d:%d:%d", r.Start, r.End, r.Step)
	case VAL_ITERATOR:
		return "<iterator>"
	case VAL_FUNCTION:
		fn := v.AsFunction()
		if fn.Native != nil {
			return fmt.Sprintf("<native fn %s>", fn.Name)
		}
		return fmt.Sprintf("<fn %s>", fn.Name)
	case VAL_KWARGS:
		return "<kwargs>"
	default:
		return "unknown"
	}
}

// Equal implements structural equality for value types, identity
// equality for functions and iterators (spec's reference semantics).
func Equal(a, b Value) bool {
	if a.Type != b.Type {
		if isNumeric(a) && isNumeric(b) {
			return numericEqual(a, b)
		}
		return false
	}
	switch a.Type {
	case VAL_NONE:
		return true
	case VAL_BOOL:
		return a.AsBool == b.AsBool
	case VAL_INT:
		return a.AsInt == b.AsInt
	case VAL_FLOAT:
		return a.AsFloat == b.AsFloat
	case VAL_STRING:
		return a.AsString() == b.AsString()
	case VAL_LIST:
		ae, be := a.AsList().Elements, b.AsList().Elements
		if len(ae) != len(be) {
			return false
		}
		for i := range ae {
			if !Equal(ae[i], be[i]) {
				return false
			}
		}
		return true
	case VAL_RANGE:
		ar, br := a.AsRange(), b.AsRange()
		return *ar == *br
	case VAL_FUNCTION:
		return a.Obj == b.Obj
	case VAL_ITERATOR:
		return a.Obj == b.Obj
	case VAL_KWARGS:
		return a.Obj == b.Obj
	default:
		return false
	}
}

func isNumeric(v Value) bool { return v.Type == VAL_INT || v.Type == VAL_FLOAT }

func numericEqual(a, b Value) bool {
	af := a.AsFloat
	if a.Type == VAL_INT {
		af = float64(a.AsInt)
	}
	bf := b.AsFloat
	if b.Type == VAL_INT {
		bf = float64(b.AsInt)
	}
	return af == bf
}
