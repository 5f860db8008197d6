// Package values implements the VM's Value representation (spec §3) and the
// heap-resident payload kinds a Ref may point to, including class/instance
// objects, containers, closures, and the generator/coroutine/context-manager
// control structures the continuation machine drives.
package values

import (
	"math"

	"github.com/parcadei/pyrt/heap"
	"github.com/parcadei/pyrt/intern"
)

// Kind discriminates the variants of the tagged Value union (spec §3).
type Kind byte

const (
	KindNone Kind = iota
	KindBool
	KindInt
	KindFloat
	KindNotImplemented
	KindEllipsis
	KindUndefined
	KindInternString
	KindInternBytes
	KindRef
	KindDefFunction
	KindBuiltin
	KindModuleFunction
	KindExtFunction
	KindProxy
)

// BuiltinCategory tags what a Builtin Value refers to.
type BuiltinCategory byte

const (
	BuiltinFunction BuiltinCategory = iota
	BuiltinType
	BuiltinExceptionType
	BuiltinTypeMethod
)

// BuiltinRef names a builtin function/type/exception-type/type-method by a
// small integer id resolved against registry tables.
type BuiltinRef struct {
	Category BuiltinCategory
	ID       uint32
}

// Value is the discriminated union described in spec §3. Immediate scalars
// (None/Bool/Int/Float/NotImplemented/Undefined) and interned identifiers
// carry their payload inline; Ref owns exactly one heap reference.
type Value struct {
	Kind    Kind
	I       int64 // Int, Bool (0/1), InternString/Bytes id, DefFunction id, ExtFunction id, Proxy id
	F       float64
	HeapID  heap.ID
	Builtin BuiltinRef
}

func NewNone() Value            { return Value{Kind: KindNone} }
func NewBool(b bool) Value      { v := Value{Kind: KindBool}; if b { v.I = 1 }; return v }
func NewInt(i int64) Value      { return Value{Kind: KindInt, I: i} }
func NewFloat(f float64) Value  { return Value{Kind: KindFloat, F: f} }
func NewNotImplemented() Value  { return Value{Kind: KindNotImplemented} }
func NewEllipsis() Value        { return Value{Kind: KindEllipsis} }
func NewUndefined() Value       { return Value{Kind: KindUndefined} }

func NewInternString(id intern.StringID) Value { return Value{Kind: KindInternString, I: int64(id)} }
func NewInternBytes(id intern.StringID) Value  { return Value{Kind: KindInternBytes, I: int64(id)} }

// NewRef wraps a heap id as an owned reference. The caller is responsible
// for having already incremented the slot's refcount (Allocate sets it to 1
// for the first owner; subsequent owners must IncRef before calling this).
func NewRef(id heap.ID) Value { return Value{Kind: KindRef, HeapID: id} }

func NewDefFunction(id uint32) Value  { return Value{Kind: KindDefFunction, I: int64(id)} }
func NewExtFunction(id uint32) Value  { return Value{Kind: KindExtFunction, I: int64(id)} }
func NewProxy(id uint32) Value        { return Value{Kind: KindProxy, I: int64(id)} }

func NewBuiltinFunction(id uint32) Value {
	return Value{Kind: KindBuiltin, Builtin: BuiltinRef{Category: BuiltinFunction, ID: id}}
}
func NewBuiltinType(id uint32) Value {
	return Value{Kind: KindBuiltin, Builtin: BuiltinRef{Category: BuiltinType, ID: id}}
}
func NewBuiltinExceptionType(id uint32) Value {
	return Value{Kind: KindBuiltin, Builtin: BuiltinRef{Category: BuiltinExceptionType, ID: id}}
}
func NewBuiltinTypeMethod(id uint32) Value {
	return Value{Kind: KindBuiltin, Builtin: BuiltinRef{Category: BuiltinTypeMethod, ID: id}}
}
func NewModuleFunction(id uint32) Value {
	return Value{Kind: KindModuleFunction, I: int64(id)}
}

func (v Value) IsNone() bool           { return v.Kind == KindNone }
func (v Value) IsBool() bool           { return v.Kind == KindBool }
func (v Value) IsInt() bool            { return v.Kind == KindInt }
func (v Value) IsFloat() bool          { return v.Kind == KindFloat }
func (v Value) IsNumeric() bool        { return v.Kind == KindInt || v.Kind == KindFloat || v.Kind == KindBool }
func (v Value) IsNotImplemented() bool { return v.Kind == KindNotImplemented }
func (v Value) IsUndefined() bool      { return v.Kind == KindUndefined }
func (v Value) IsString() bool         { return v.Kind == KindInternString }
func (v Value) IsBytesValue() bool     { return v.Kind == KindInternBytes }
func (v Value) IsRef() bool            { return v.Kind == KindRef }

func (v Value) AsBool() bool     { return v.I != 0 }
func (v Value) AsInt() int64     { return v.I }
func (v Value) AsFloat() float64 { return v.F }
func (v Value) AsStringID() intern.StringID { return intern.StringID(v.I) }

// AsNumericFloat coerces an Int/Bool/Float value to float64. Callers must
// check IsNumeric first.
func (v Value) AsNumericFloat() float64 {
	if v.Kind == KindFloat {
		return v.F
	}
	return float64(v.I)
}

// Truthy implements PEP-compatible truthiness for scalar kinds. Ref-backed
// containers and instances are resolved by the caller via the heap (see
// vm.Truthy, which also consults __bool__/__len__ for Instance).
func (v Value) Truthy() bool {
	switch v.Kind {
	case KindNone, KindUndefined:
		return false
	case KindBool:
		return v.I != 0
	case KindInt:
		return v.I != 0
	case KindFloat:
		return v.F != 0 && !math.IsNaN(v.F)
	case KindNotImplemented, KindEllipsis:
		return true
	default:
		return true
	}
}

// TypeName returns the scalar type name. It does not look at the heap: a
// Ref-backed value reports "object" here, and its payload's own name is
// available through PyTypeNamed below.
func (v Value) TypeName(interns *intern.Table) string {
	switch v.Kind {
	case KindNone:
		return "NoneType"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindNotImplemented:
		return "NotImplementedType"
	case KindEllipsis:
		return "ellipsis"
	case KindUndefined:
		return "undefined"
	case KindInternString:
		return "str"
	case KindInternBytes:
		return "bytes"
	case KindDefFunction, KindBuiltin, KindModuleFunction, KindExtFunction:
		return "function"
	case KindProxy:
		return "proxy"
	default:
		return "object"
	}
}

// PyTypeNamed is implemented by heap payloads that know their own Python
// type name (List -> "list", Instance -> its class name, ...).
type PyTypeNamed interface {
	PyTypeName() string
}
