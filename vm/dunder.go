package vm

import (
	"github.com/parcadei/pyrt/heap"
	"github.com/parcadei/pyrt/intern"
	"github.com/parcadei/pyrt/values"
)

// dunderPair names a binary operator's forward and reflected method ids.
type dunderPair struct {
	Forward  intern.StringID
	Reflected intern.StringID
	Symbol   string
}

var binaryDunders = map[string]dunderPair{
	"+":  {intern.SAdd, intern.SRadd, "+"},
	"-":  {intern.SSub, intern.SRsub, "-"},
	"*":  {intern.SMul, intern.SRmul, "*"},
	"/":  {intern.STrueDiv, intern.SRtrueDiv, "/"},
	"//": {intern.SFloorDiv, intern.SRfloorDiv, "//"},
	"%":  {intern.SMod, intern.SRmod, "%"},
	"**": {intern.SPow, intern.SRpow, "**"},
}

var inplaceDunders = map[string]intern.StringID{
	"+": intern.SIadd, "-": intern.SIsub, "*": intern.SImul, "/": intern.SItrueDiv,
}

// typeDunder looks up nameID on v's type (never on the instance itself,
// per spec §4.12: "Try type(lhs).__op__(lhs, rhs) (looked up on the type,
// never the instance)"), returning the unbound function.
func (vmachine *VirtualMachine) typeDunder(v values.Value, nameID intern.StringID) (values.Value, heap.ID, bool) {
	if v.Kind != values.KindRef {
		return values.Value{}, 0, false
	}
	payload, live := vmachine.Heap.Get(v.HeapID)
	if !live {
		return values.Value{}, 0, false
	}
	inst, ok := payload.(*values.Instance)
	if !ok {
		return values.Value{}, 0, false
	}
	cls, ok := vmachine.classOf(inst.Class)
	if !ok {
		return values.Value{}, 0, false
	}
	desc, _, found := values.ResolveAttr(cls.MRO, nameID, vmachine.classLookup())
	if !found {
		return values.Value{}, 0, false
	}
	return desc.Value, inst.Class, true
}

// BinaryOp implements spec §4.12's binary-operator protocol as a
// dispatch-loop-facing CallResult: try the forward method, fall through to
// the reflected method on NotImplemented, then the native scalar/sequence
// fallback (spec §4.2) for the built-in types that never register a
// dunder, else TypeError naming both operand types. A forward or reflected
// method that itself pushes a frame suspends via PendingBinaryDunder
// (continuation.go) instead of draining through the host Go stack (spec
// §9: "never rely on the host call stack"). Takes ownership of lhs/rhs on
// every return path.
func (vmachine *VirtualMachine) BinaryOp(op string, lhs, rhs values.Value) (CallResult, error) {
	pair, ok := binaryDunders[op]
	if !ok {
		vmachine.dropValue(lhs)
		vmachine.dropValue(rhs)
		return nil, InternalErrorf("unknown binary operator %q", op)
	}

	if fn, _, found := vmachine.typeDunder(lhs, pair.Forward); found {
		result, err := vmachine.CallFunction(fn, TwoArgs(vmachine.dupValue(lhs), vmachine.dupValue(rhs)))
		if err != nil {
			vmachine.dropValue(lhs)
			vmachine.dropValue(rhs)
			return nil, err
		}
		switch r := result.(type) {
		case ResultFramePushed:
			vmachine.currentFrame().Pending = &PendingBinaryDunder{Pair: pair, Lhs: lhs, Rhs: rhs}
			return r, nil
		case ResultValue:
			if !r.V.IsNotImplemented() {
				vmachine.dropValue(lhs)
				vmachine.dropValue(rhs)
				return ResultValue{V: r.V}, nil
			}
			vmachine.dropValue(r.V)
		}
	}

	if !vmachine.sameRuntimeType(lhs, rhs) {
		if fn, _, found := vmachine.typeDunder(rhs, pair.Reflected); found {
			result, err := vmachine.CallFunction(fn, TwoArgs(vmachine.dupValue(rhs), vmachine.dupValue(lhs)))
			if err != nil {
				vmachine.dropValue(lhs)
				vmachine.dropValue(rhs)
				return nil, err
			}
			switch r := result.(type) {
			case ResultFramePushed:
				vmachine.currentFrame().Pending = &PendingBinaryDunder{Pair: pair, Lhs: lhs, Rhs: rhs, TriedReflect: true}
				return r, nil
			case ResultValue:
				if !r.V.IsNotImplemented() {
					vmachine.dropValue(lhs)
					vmachine.dropValue(rhs)
					return ResultValue{V: r.V}, nil
				}
				vmachine.dropValue(r.V)
			}
		}
	}

	if v, handled, err := vmachine.nativeBinaryOp(op, lhs, rhs); handled {
		if err != nil {
			return nil, err
		}
		return ResultValue{V: v}, nil
	}

	vmachine.dropValue(lhs)
	vmachine.dropValue(rhs)
	return nil, TypeErrorf("unsupported operand type(s) for %s: '%s' and '%s'",
		pair.Symbol, vmachine.TypeName(lhs), vmachine.TypeName(rhs))
}

// InPlaceOp tries __iop__ first, falling back to the binary protocol
// (spec §4.12: "In-place dunder iop(lhs, rhs) tries __iop__ first, then
// falls back to the binary protocol"), suspending via PendingBinaryDunder
// the same way BinaryOp does.
func (vmachine *VirtualMachine) InPlaceOp(op string, lhs, rhs values.Value) (CallResult, error) {
	nameID, ok := inplaceDunders[op]
	if !ok {
		return vmachine.BinaryOp(op, lhs, rhs)
	}
	fn, _, found := vmachine.typeDunder(lhs, nameID)
	if !found {
		return vmachine.BinaryOp(op, lhs, rhs)
	}
	result, err := vmachine.CallFunction(fn, TwoArgs(vmachine.dupValue(lhs), vmachine.dupValue(rhs)))
	if err != nil {
		vmachine.dropValue(lhs)
		vmachine.dropValue(rhs)
		return nil, err
	}
	switch r := result.(type) {
	case ResultFramePushed:
		vmachine.currentFrame().Pending = &PendingInPlaceDunder{Op: op, Lhs: lhs, Rhs: rhs}
		return r, nil
	case ResultValue:
		if !r.V.IsNotImplemented() {
			vmachine.dropValue(lhs)
			vmachine.dropValue(rhs)
			return ResultValue{V: r.V}, nil
		}
		vmachine.dropValue(r.V)
	}
	return vmachine.BinaryOp(op, lhs, rhs)
}

// BinaryDunder is BinaryOp's synchronous form, for call sites (sum(),
// PendingCollectNext's CollectSum fold) that already commit to draining any
// frame-pushing dunder to completion via Call() rather than suspending.
// Unlike BinaryOp, it borrows lhs/rhs: it never drops them itself, on
// either the success or the error path, leaving that to the caller (which
// already owns and disposes of both operands around the call).
func (vmachine *VirtualMachine) BinaryDunder(op string, lhs, rhs values.Value) (values.Value, error) {
	pair, ok := binaryDunders[op]
	if !ok {
		return values.Value{}, InternalErrorf("unknown binary operator %q", op)
	}

	if fn, _, found := vmachine.typeDunder(lhs, pair.Forward); found {
		result, err := vmachine.Call(fn, []values.Value{vmachine.dupValue(lhs), vmachine.dupValue(rhs)}, nil)
		if err != nil {
			return values.Value{}, err
		}
		if !result.IsNotImplemented() {
			return result, nil
		}
		vmachine.dropValue(result)
	}

	if !vmachine.sameRuntimeType(lhs, rhs) {
		if fn, _, found := vmachine.typeDunder(rhs, pair.Reflected); found {
			result, err := vmachine.Call(fn, []values.Value{vmachine.dupValue(rhs), vmachine.dupValue(lhs)}, nil)
			if err != nil {
				return values.Value{}, err
			}
			if !result.IsNotImplemented() {
				return result, nil
			}
			vmachine.dropValue(result)
		}
	}

	dupLhs, dupRhs := vmachine.dupValue(lhs), vmachine.dupValue(rhs)
	if v, handled, err := vmachine.nativeBinaryOp(op, dupLhs, dupRhs); handled {
		return v, err
	}
	vmachine.dropValue(dupLhs)
	vmachine.dropValue(dupRhs)

	return values.Value{}, TypeErrorf("unsupported operand type(s) for %s: '%s' and '%s'",
		pair.Symbol, vmachine.TypeName(lhs), vmachine.TypeName(rhs))
}

// unaryDunderID resolves the unary-operator dunder name; only __bool__/
// __hash__/__repr__/__str__ have static ids pre-interned, so arithmetic
// unary dunders (__neg__/__pos__/__invert__) are interned on each call
// (Interns.Intern returns the existing id after the first) into the runtime
// subspace instead of the closed static-string catalog.
func (vmachine *VirtualMachine) unaryDunderID(op string) intern.StringID {
	switch op {
	case "-":
		return vmachine.Interns.Intern("__neg__")
	case "+":
		return vmachine.Interns.Intern("__pos__")
	case "~":
		return vmachine.Interns.Intern("__invert__")
	default:
		return vmachine.Interns.Intern("__unknown__")
	}
}

// UnaryDunder implements spec §4.12's unary protocol: "tries
// type(v).__op__(v); returns None if absent" — callers treat the bool
// return as "handled".
func (vmachine *VirtualMachine) UnaryDunder(op string, v values.Value) (values.Value, bool, error) {
	fn, _, found := vmachine.typeDunder(v, vmachine.unaryDunderID(op))
	if !found {
		return values.Value{}, false, nil
	}
	result, err := vmachine.Call(fn, []values.Value{v}, nil)
	return result, true, err
}

func (vmachine *VirtualMachine) sameRuntimeType(a, b values.Value) bool {
	ca, aok := vmachine.instanceClassID(a)
	cb, bok := vmachine.instanceClassID(b)
	if !aok || !bok {
		return a.Kind == b.Kind
	}
	return ca == cb
}

func (vmachine *VirtualMachine) instanceClassID(v values.Value) (heap.ID, bool) {
	if v.Kind != values.KindRef {
		return 0, false
	}
	payload, live := vmachine.Heap.Get(v.HeapID)
	if !live {
		return 0, false
	}
	inst, ok := payload.(*values.Instance)
	if !ok {
		return 0, false
	}
	return inst.Class, true
}

// instanceEqual/instanceCompare/instanceHash/instanceLen/instanceTruthy
// route Instance operations through dunder dispatch, per spec §4.2: "For
// Instance, equality and ordering and hash ultimately route through dunder
// dispatch."
func (vmachine *VirtualMachine) instanceEqual(a, b values.Value) (bool, error) {
	if fn, _, found := vmachine.typeDunder(a, intern.SEq); found {
		result, err := vmachine.Call(fn, []values.Value{a, b}, nil)
		if err != nil {
			return false, err
		}
		if !result.IsNotImplemented() {
			truthy, err := vmachine.Truthy(result)
			return truthy, err
		}
	}
	return a.HeapID == b.HeapID, nil
}

func (vmachine *VirtualMachine) instanceCompare(a, b values.Value) (int, bool, error) {
	for _, step := range [...]struct {
		nameID intern.StringID
		result int
	}{{intern.SLt, -1}, {intern.SGt, 1}} {
		fn, _, found := vmachine.typeDunder(a, step.nameID)
		if !found {
			continue
		}
		result, err := vmachine.Call(fn, []values.Value{a, b}, nil)
		if err != nil {
			return 0, false, err
		}
		if result.IsNotImplemented() {
			continue
		}
		truthy, err := vmachine.Truthy(result)
		if err != nil {
			return 0, false, err
		}
		if truthy {
			return step.result, true, nil
		}
	}
	eq, err := vmachine.instanceEqual(a, b)
	if err != nil {
		return 0, false, err
	}
	if eq {
		return 0, true, nil
	}
	return 0, false, nil
}

func (vmachine *VirtualMachine) instanceHash(v values.Value, inst *values.Instance) (uint64, error) {
	if cached, ok := vmachine.Heap.CachedHash(v.HeapID); ok {
		return cached, nil
	}
	cls, ok := vmachine.classOf(inst.Class)
	if !ok {
		return 0, InternalErrorf("instance has dangling class reference")
	}
	if cls.HashSuppressed {
		return 0, TypeErrorf("unhashable type: '%s'", cls.Name)
	}
	fn, _, found := vmachine.typeDunder(v, intern.SHash)
	if !found {
		// Default identity hash, matching CPython's object.__hash__.
		h := uint64(vmachine.Heap.PublicID(v.HeapID))
		vmachine.Heap.SetCachedHash(v.HeapID, h)
		return h, nil
	}
	result, err := vmachine.Call(fn, []values.Value{v}, nil)
	if err != nil {
		return 0, err
	}
	if !result.IsInt() {
		return 0, TypeErrorf("__hash__ method should return an integer")
	}
	h := uint64(result.AsInt())
	vmachine.Heap.SetCachedHash(v.HeapID, h)
	return h, nil
}

func (vmachine *VirtualMachine) instanceLen(v values.Value, inst *values.Instance) (int, error) {
	fn, _, found := vmachine.typeDunder(v, intern.SLen)
	if !found {
		return 0, TypeErrorf("object of type '%s' has no len()", vmachine.classNameOf(inst))
	}
	result, err := vmachine.Call(fn, []values.Value{v}, nil)
	if err != nil {
		return 0, err
	}
	if !result.IsInt() {
		return 0, TypeErrorf("'%s' object cannot be interpreted as an integer", vmachine.TypeName(result))
	}
	if result.AsInt() < 0 {
		return 0, ValueErrorf("__len__() should return >= 0")
	}
	return int(result.AsInt()), nil
}

func (vmachine *VirtualMachine) instanceTruthy(v values.Value, inst *values.Instance) (bool, error) {
	if fn, _, found := vmachine.typeDunder(v, intern.SBool); found {
		result, err := vmachine.Call(fn, []values.Value{v}, nil)
		if err != nil {
			return false, err
		}
		return result.Truthy(), nil
	}
	if _, found := vmachine.typeDunder(v, intern.SLen); found {
		n, err := vmachine.instanceLen(v, inst)
		if err != nil {
			return false, err
		}
		return n > 0, nil
	}
	return true, nil
}

func (vmachine *VirtualMachine) classNameOf(inst *values.Instance) string {
	if cls, ok := vmachine.classOf(inst.Class); ok {
		return cls.Name
	}
	return "object"
}
