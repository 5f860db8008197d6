package vm

import (
	"math"
	"strings"

	"github.com/parcadei/pyrt/intern"
	"github.com/parcadei/pyrt/opcodes"
	"github.com/parcadei/pyrt/values"
)

// identical implements `is`/`is not`: Ref identity for heap objects, value
// identity for immediates. None/NotImplemented/Ellipsis/Undefined are each a
// single shared immediate so any two values of that Kind are the same object.
func (vmachine *VirtualMachine) identical(lhs, rhs values.Value) bool {
	if lhs.Kind != rhs.Kind {
		return false
	}
	switch lhs.Kind {
	case values.KindRef:
		return lhs.HeapID == rhs.HeapID
	case values.KindInt, values.KindBool:
		return lhs.I == rhs.I
	case values.KindFloat:
		return lhs.F == rhs.F
	case values.KindInternString, values.KindInternBytes:
		return lhs.I == rhs.I
	default:
		return true
	}
}

// stringValueText reads the text of either an interned string or a heap Str
// payload; other kinds return "".
func (vmachine *VirtualMachine) stringValueText(v values.Value) string {
	if v.IsString() {
		return vmachine.Interns.Text(v.AsStringID())
	}
	if v.Kind == values.KindRef {
		if p, live := vmachine.Heap.Get(v.HeapID); live {
			if s, ok := p.(*values.Str); ok {
				return s.S
			}
		}
	}
	return ""
}

// Contains implements `in`/`not in` (spec's membership-test protocol):
// native containers check directly, Instance routes through __contains__
// with a fallback to iterating via __iter__/__next__.
func (vmachine *VirtualMachine) Contains(container, item values.Value) (bool, error) {
	if container.Kind != values.KindRef {
		return false, TypeErrorf("argument of type '%s' is not iterable", vmachine.TypeName(container))
	}
	payload, live := vmachine.Heap.Get(container.HeapID)
	if !live {
		return false, ReferenceErrorf("weakly-referenced object no longer exists")
	}
	switch p := payload.(type) {
	case *values.List:
		return vmachine.sequenceContains(p.Items, item)
	case *values.Tuple:
		return vmachine.sequenceContains(p.Items, item)
	case *values.Dict:
		return vmachine.dictContains(p, item)
	case *values.Set:
		return vmachine.setContains(p.Entries, item)
	case *values.FrozenSet:
		return vmachine.setContains(p.Entries, item)
	case *values.Str:
		return strings.Contains(p.S, vmachine.stringValueText(item)), nil
	case *values.Instance:
		return vmachine.instanceContains(container, item)
	default:
		return false, TypeErrorf("argument of type '%s' is not iterable", vmachine.TypeName(container))
	}
}

func (vmachine *VirtualMachine) sequenceContains(items []values.Value, item values.Value) (bool, error) {
	for _, v := range items {
		eq, err := vmachine.Equal(v, item)
		if err != nil {
			return false, err
		}
		if eq {
			return true, nil
		}
	}
	return false, nil
}

func (vmachine *VirtualMachine) dictContains(d *values.Dict, key values.Value) (bool, error) {
	h, err := vmachine.Hash(key)
	if err != nil {
		return false, err
	}
	for _, idx := range d.CandidatesForHash(h) {
		e := d.Entries[idx]
		if !e.Alive {
			continue
		}
		eq, err := vmachine.Equal(e.Key, key)
		if err != nil {
			return false, err
		}
		if eq {
			return true, nil
		}
	}
	return false, nil
}

func (vmachine *VirtualMachine) setContains(entries []values.DictEntry, key values.Value) (bool, error) {
	for _, e := range entries {
		if !e.Alive {
			continue
		}
		eq, err := vmachine.Equal(e.Key, key)
		if err != nil {
			return false, err
		}
		if eq {
			return true, nil
		}
	}
	return false, nil
}

func (vmachine *VirtualMachine) instanceContains(obj values.Value, item values.Value) (bool, error) {
	nameID := vmachine.Interns.Intern("__contains__")
	if fn, _, found := vmachine.typeDunder(obj, nameID); found {
		result, err := vmachine.Call(fn, []values.Value{obj, item}, nil)
		if err != nil {
			return false, err
		}
		return vmachine.Truthy(result)
	}
	it, err := vmachine.GetIter(obj)
	if err != nil {
		return false, err
	}
	for {
		v, ok, err := it.Next(vmachine)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
		eq, err := vmachine.Equal(v, item)
		vmachine.dropValue(v)
		if err != nil {
			return false, err
		}
		if eq {
			return true, nil
		}
	}
}

// setAdd inserts item into set (taking ownership of it), deduplicating by
// value equality. BUILD_SET pops its elements already owned, so a duplicate
// must be dropped rather than leaked.
func (vmachine *VirtualMachine) setAdd(set *values.Set, item values.Value) error {
	for _, e := range set.Entries {
		if !e.Alive {
			continue
		}
		eq, err := vmachine.Equal(e.Key, item)
		if err != nil {
			return err
		}
		if eq {
			vmachine.dropValue(item)
			return nil
		}
	}
	set.Entries = append(set.Entries, values.DictEntry{Key: item, Alive: true})
	set.InvalidateIndex()
	return nil
}

// unpackSequence implements UNPACK_SEQUENCE: exactly n owned values, in
// source order, or ValueError on a length mismatch.
func (vmachine *VirtualMachine) unpackSequence(seq values.Value, n int) ([]values.Value, error) {
	if seq.Kind == values.KindRef {
		if payload, live := vmachine.Heap.Get(seq.HeapID); live {
			switch p := payload.(type) {
			case *values.List:
				return vmachine.unpackFixed(p.Items, n, true)
			case *values.Tuple:
				return vmachine.unpackFixed(p.Items, n, true)
			}
		}
	}
	it, err := vmachine.GetIter(seq)
	if err != nil {
		return nil, err
	}
	var collected []values.Value
	for {
		v, ok, err := it.Next(vmachine)
		if err != nil {
			for _, c := range collected {
				vmachine.dropValue(c)
			}
			return nil, err
		}
		if !ok {
			break
		}
		collected = append(collected, v)
	}
	return vmachine.unpackFixed(collected, n, false)
}

// unpackFixed checks items against the expected arity n. When dup is true,
// items are borrowed from a container the caller still owns (List/Tuple) and
// must be duplicated into the result; when false, items already carry their
// own ownership (an iterator's yielded values) and are either returned as-is
// or dropped on a mismatch.
func (vmachine *VirtualMachine) unpackFixed(items []values.Value, n int, dup bool) ([]values.Value, error) {
	if len(items) != n {
		if !dup {
			for _, v := range items {
				vmachine.dropValue(v)
			}
		}
		if len(items) < n {
			return nil, ValueErrorf("not enough values to unpack (expected %d, got %d)", n, len(items))
		}
		return nil, ValueErrorf("too many values to unpack (expected %d)", n)
	}
	out := make([]values.Value, n)
	for i, v := range items {
		if dup {
			out[i] = vmachine.dupValue(v)
		} else {
			out[i] = v
		}
	}
	return out, nil
}

// loadAttrSite is LOAD_ATTR/CALL_ATTR's entry point: route through the
// per-site inline cache for Instance receivers, falling back to the general
// GetAttr for classes, super proxies, and anything else.
func (vmachine *VirtualMachine) loadAttrSite(frame *CallFrame, obj values.Value, nameID uint32) (values.Value, error) {
	if obj.Kind == values.KindRef {
		if payload, live := vmachine.Heap.Get(obj.HeapID); live {
			if inst, ok := payload.(*values.Instance); ok {
				return vmachine.getInstanceAttrCached(frame, obj, inst, nameID)
			}
		}
	}
	return vmachine.GetAttr(obj, nameID)
}

// kwNamesFromTuple reads CALL_FUNCTION_KW's trailing tuple of keyword names
// into a plain []uint32, without taking ownership of the tuple itself.
func (vmachine *VirtualMachine) kwNamesFromTuple(v values.Value) []uint32 {
	if v.Kind != values.KindRef {
		return nil
	}
	payload, live := vmachine.Heap.Get(v.HeapID)
	if !live {
		return nil
	}
	tup, ok := payload.(*values.Tuple)
	if !ok {
		return nil
	}
	names := make([]uint32, len(tup.Items))
	for i, item := range tup.Items {
		names[i] = uint32(item.AsStringID())
	}
	return names
}

// explodeArgs implements CALL_FUNCTION_EX's `*args` explosion: a List/Tuple
// is read directly, anything else iterable is drained through GetIter.
func (vmachine *VirtualMachine) explodeArgs(argsV values.Value) ([]values.Value, error) {
	if argsV.Kind != values.KindRef {
		return nil, TypeErrorf("argument after * must be an iterable")
	}
	payload, live := vmachine.Heap.Get(argsV.HeapID)
	if !live {
		return nil, ReferenceErrorf("weakly-referenced object no longer exists")
	}
	switch p := payload.(type) {
	case *values.List:
		out := make([]values.Value, len(p.Items))
		for i, v := range p.Items {
			out[i] = vmachine.dupValue(v)
		}
		return out, nil
	case *values.Tuple:
		out := make([]values.Value, len(p.Items))
		for i, v := range p.Items {
			out[i] = vmachine.dupValue(v)
		}
		return out, nil
	default:
		it, err := vmachine.GetIter(argsV)
		if err != nil {
			return nil, err
		}
		var collected []values.Value
		for {
			v, ok, err := it.Next(vmachine)
			if err != nil {
				return nil, err
			}
			if !ok {
				break
			}
			collected = append(collected, v)
		}
		return collected, nil
	}
}

// explodeKwargs implements CALL_FUNCTION_EX's `**kwargs` explosion; a zero
// Value (no ** form present at the call site) yields no entries.
func (vmachine *VirtualMachine) explodeKwargs(kwargsV values.Value) ([]KwEntry, error) {
	if kwargsV.Kind != values.KindRef {
		return nil, nil
	}
	payload, live := vmachine.Heap.Get(kwargsV.HeapID)
	if !live {
		return nil, ReferenceErrorf("weakly-referenced object no longer exists")
	}
	d, ok := payload.(*values.Dict)
	if !ok {
		return nil, TypeErrorf("argument after ** must be a mapping")
	}
	kw := make([]KwEntry, 0, len(d.Entries))
	for _, e := range d.Entries {
		if !e.Alive {
			continue
		}
		if !e.Key.IsString() {
			return nil, TypeErrorf("keywords must be strings")
		}
		kw = append(kw, KwEntry{Name: uint32(e.Key.AsStringID()), Val: vmachine.dupValue(e.Val)})
	}
	return kw, nil
}

// pyErrorFromValue materializes a raised Value (an exception instance, or a
// bare exception class raised with no constructor arguments) into a
// *PyError, for RAISE/RAISE_FROM.
func (vmachine *VirtualMachine) pyErrorFromValue(v values.Value) (*PyError, bool) {
	if v.Kind != values.KindRef {
		return nil, false
	}
	payload, live := vmachine.Heap.Get(v.HeapID)
	if !live {
		return nil, false
	}
	switch p := payload.(type) {
	case *values.Instance:
		cls, ok := vmachine.classOf(p.Class)
		if !ok || !cls.IsException {
			return nil, false
		}
		sentinel := vmachine.excClassOf[p.Class]
		if sentinel == nil {
			sentinel = ErrException
		}
		msg := ""
		if len(p.ExceptionArgs) > 0 {
			msg = vmachine.stringValueText(p.ExceptionArgs[0])
		}
		pe := NewPyError(sentinel, "%s", msg)
		pe.Instance = vmachine.dupValue(v)
		return pe, true
	case *values.ClassObject:
		if !p.IsException {
			return nil, false
		}
		inst := &values.Instance{Class: v.HeapID, Dict: make(map[intern.StringID]values.Value)}
		vmachine.Heap.IncRef(v.HeapID)
		instV := values.NewRef(vmachine.Heap.Allocate(inst))
		sentinel := vmachine.excClassOf[v.HeapID]
		if sentinel == nil {
			sentinel = ErrException
		}
		pe := NewPyError(sentinel, "")
		pe.Instance = instV
		return pe, true
	default:
		return nil, false
	}
}

// nativeUnaryOp backs OpUnaryNeg/OpUnaryPos/OpUnaryInvert when UnaryDunder
// found no Instance override: the scalar int/float/bool arithmetic CPython
// performs directly on these built-in numeric types.
func (vmachine *VirtualMachine) nativeUnaryOp(op opcodes.Opcode, v values.Value) (values.Value, error) {
	switch op {
	case opcodes.OpUnaryNeg:
		switch v.Kind {
		case values.KindInt, values.KindBool:
			return values.NewInt(-v.AsInt()), nil
		case values.KindFloat:
			return values.NewFloat(-v.AsFloat()), nil
		}
	case opcodes.OpUnaryPos:
		switch v.Kind {
		case values.KindInt, values.KindBool:
			return values.NewInt(v.AsInt()), nil
		case values.KindFloat:
			return values.NewFloat(v.AsFloat()), nil
		}
	case opcodes.OpUnaryInvert:
		switch v.Kind {
		case values.KindInt, values.KindBool:
			return values.NewInt(^v.AsInt()), nil
		}
	}
	return values.Value{}, TypeErrorf("bad operand type for unary %s: '%s'", unarySymbol(op), vmachine.TypeName(v))
}

// nativeBinaryOp backs BinaryOp when neither operand resolves the dunder
// through Instance/MRO lookup: the scalar and sequence arithmetic CPython's
// built-in int/float/bool/str/bytes/list/tuple types perform directly
// (spec §4.2/§4.12), none of which are Instances in this VM's model and so
// never reach typeDunder. ok=true means lhs/rhs were already consumed
// building the result; ok=false leaves them owned by the caller, which
// raises TypeError and drops them itself.
func (vmachine *VirtualMachine) nativeBinaryOp(op string, lhs, rhs values.Value) (values.Value, bool, error) {
	if lhs.IsNumeric() && rhs.IsNumeric() {
		v, err := vmachine.nativeNumericOp(op, lhs, rhs)
		return v, true, err
	}
	if op == "+" {
		if v, ok := vmachine.nativeConcat(lhs, rhs); ok {
			return v, true, nil
		}
	}
	if op == "*" {
		if v, ok, err := vmachine.nativeRepeat(lhs, rhs); ok {
			return v, true, err
		}
	}
	return values.Value{}, false, nil
}

func (vmachine *VirtualMachine) nativeNumericOp(op string, lhs, rhs values.Value) (values.Value, error) {
	bothInt := (lhs.Kind == values.KindInt || lhs.Kind == values.KindBool) &&
		(rhs.Kind == values.KindInt || rhs.Kind == values.KindBool)
	a, b := lhs.AsInt(), rhs.AsInt()

	switch op {
	case "+":
		if bothInt {
			sum := a + b
			if (sum > a) != (b > 0) {
				return values.Value{}, OverflowErrorf("int addition result too large")
			}
			return values.NewInt(sum), nil
		}
		return values.NewFloat(lhs.AsNumericFloat() + rhs.AsNumericFloat()), nil
	case "-":
		if bothInt {
			diff := a - b
			if (diff < a) != (b > 0) {
				return values.Value{}, OverflowErrorf("int subtraction result too large")
			}
			return values.NewInt(diff), nil
		}
		return values.NewFloat(lhs.AsNumericFloat() - rhs.AsNumericFloat()), nil
	case "*":
		if bothInt {
			if a != 0 && b != 0 {
				prod := a * b
				if prod/a != b {
					return values.Value{}, OverflowErrorf("int multiplication result too large")
				}
				return values.NewInt(prod), nil
			}
			return values.NewInt(0), nil
		}
		return values.NewFloat(lhs.AsNumericFloat() * rhs.AsNumericFloat()), nil
	case "/":
		if rhs.AsNumericFloat() == 0 {
			return values.Value{}, ZeroDivisionErrorf("division by zero")
		}
		return values.NewFloat(lhs.AsNumericFloat() / rhs.AsNumericFloat()), nil
	case "//":
		if bothInt {
			if b == 0 {
				return values.Value{}, ZeroDivisionErrorf("integer division or modulo by zero")
			}
			q := a / b
			if (a%b != 0) && ((a < 0) != (b < 0)) {
				q--
			}
			return values.NewInt(q), nil
		}
		fb := rhs.AsNumericFloat()
		if fb == 0 {
			return values.Value{}, ZeroDivisionErrorf("float floor division by zero")
		}
		return values.NewFloat(math.Floor(lhs.AsNumericFloat() / fb)), nil
	case "%":
		if bothInt {
			if b == 0 {
				return values.Value{}, ZeroDivisionErrorf("integer division or modulo by zero")
			}
			m := a % b
			if m != 0 && ((m < 0) != (b < 0)) {
				m += b
			}
			return values.NewInt(m), nil
		}
		fb := rhs.AsNumericFloat()
		if fb == 0 {
			return values.Value{}, ZeroDivisionErrorf("float modulo")
		}
		m := math.Mod(lhs.AsNumericFloat(), fb)
		if m != 0 && ((m < 0) != (fb < 0)) {
			m += fb
		}
		return values.NewFloat(m), nil
	case "**":
		if bothInt && b >= 0 {
			result := int64(1)
			base := a
			for e := b; e > 0; e-- {
				prev := result
				result *= base
				if base != 0 && result/base != prev {
					return values.Value{}, OverflowErrorf("int power result too large")
				}
			}
			return values.NewInt(result), nil
		}
		return values.NewFloat(math.Pow(lhs.AsNumericFloat(), rhs.AsNumericFloat())), nil
	default:
		return values.Value{}, InternalErrorf("unknown numeric operator %q", op)
	}
}

// nativeConcat implements `+` for str/bytes/list/tuple, mirroring CPython's
// sequence concatenation: both operands must be the same sequence kind.
func (vmachine *VirtualMachine) nativeConcat(lhs, rhs values.Value) (values.Value, bool) {
	if lhs.Kind != values.KindRef && !lhs.IsString() {
		return values.Value{}, false
	}
	lp, lok := vmachine.sequencePayload(lhs)
	rp, rok := vmachine.sequencePayload(rhs)
	if !lok || !rok {
		return values.Value{}, false
	}
	switch l := lp.(type) {
	case string:
		r, ok := rp.(string)
		if !ok {
			return values.Value{}, false
		}
		vmachine.dropValue(lhs)
		vmachine.dropValue(rhs)
		return vmachine.NewStr(l + r), true
	case []byte:
		r, ok := rp.([]byte)
		if !ok {
			return values.Value{}, false
		}
		combined := append(append([]byte(nil), l...), r...)
		vmachine.dropValue(lhs)
		vmachine.dropValue(rhs)
		return values.NewRef(vmachine.Heap.Allocate(&values.Bytes{B: combined})), true
	case listItems:
		r, ok := rp.(listItems)
		if !ok {
			return values.Value{}, false
		}
		combined := append(append([]values.Value(nil), l...), r...)
		vmachine.dropValue(lhs)
		vmachine.dropValue(rhs)
		return vmachine.NewList(combined), true
	case tupleItems:
		r, ok := rp.(tupleItems)
		if !ok {
			return values.Value{}, false
		}
		out := make([]values.Value, 0, len(l)+len(r))
		for _, it := range l {
			out = append(out, vmachine.dupValue(it))
		}
		for _, it := range r {
			out = append(out, vmachine.dupValue(it))
		}
		vmachine.dropValue(lhs)
		vmachine.dropValue(rhs)
		return values.NewRef(vmachine.Heap.Allocate(&values.Tuple{Items: out})), true
	default:
		return values.Value{}, false
	}
}

// nativeRepeat implements `*` for a str/bytes/list/tuple operand paired
// with an int (either order), CPython's sequence-repetition rule.
func (vmachine *VirtualMachine) nativeRepeat(lhs, rhs values.Value) (values.Value, bool, error) {
	seq, n, ok := vmachine.repeatOperands(lhs, rhs)
	if !ok {
		return values.Value{}, false, nil
	}
	if n < 0 {
		n = 0
	}
	switch s := seq.(type) {
	case string:
		vmachine.dropValue(lhs)
		vmachine.dropValue(rhs)
		return vmachine.NewStr(strings.Repeat(s, n)), true, nil
	case []byte:
		out := make([]byte, 0, len(s)*n)
		for i := 0; i < n; i++ {
			out = append(out, s...)
		}
		vmachine.dropValue(lhs)
		vmachine.dropValue(rhs)
		return values.NewRef(vmachine.Heap.Allocate(&values.Bytes{B: out})), true, nil
	case listItems:
		out := make([]values.Value, 0, len(s)*n)
		for i := 0; i < n; i++ {
			out = append(out, s...)
		}
		vmachine.dropValue(lhs)
		vmachine.dropValue(rhs)
		return vmachine.NewList(out), true, nil
	case tupleItems:
		out := make([]values.Value, 0, len(s)*n)
		for i := 0; i < n; i++ {
			for _, it := range s {
				out = append(out, vmachine.dupValue(it))
			}
		}
		vmachine.dropValue(lhs)
		vmachine.dropValue(rhs)
		return values.NewRef(vmachine.Heap.Allocate(&values.Tuple{Items: out})), true, nil
	default:
		return values.Value{}, false, nil
	}
}

// listItems and tupleItems distinguish List from Tuple payloads of the same
// underlying []values.Value shape in sequencePayload's type switch.
type listItems []values.Value
type tupleItems []values.Value

// sequencePayload reads the concrete sequence content out of v (interned or
// heap-backed string, or a heap List/Tuple/Bytes), for use by nativeConcat
// and nativeRepeat; v is left untouched (still owned by the caller).
func (vmachine *VirtualMachine) sequencePayload(v values.Value) (interface{}, bool) {
	if v.Kind == values.KindInternString {
		return vmachine.Interns.Text(v.AsStringID()), true
	}
	if v.Kind != values.KindRef {
		return nil, false
	}
	payload, live := vmachine.Heap.Get(v.HeapID)
	if !live {
		return nil, false
	}
	switch p := payload.(type) {
	case *values.Str:
		return p.S, true
	case *values.Bytes:
		return p.B, true
	case *values.List:
		return listItems(p.Items), true
	case *values.Tuple:
		return tupleItems(p.Items), true
	default:
		return nil, false
	}
}

// repeatOperands recognizes the two `*` shapes CPython accepts for
// repetition: (sequence, int) or (int, sequence).
func (vmachine *VirtualMachine) repeatOperands(lhs, rhs values.Value) (interface{}, int, bool) {
	if rhs.Kind == values.KindInt || rhs.Kind == values.KindBool {
		if seq, ok := vmachine.sequencePayload(lhs); ok {
			return seq, int(rhs.AsInt()), true
		}
	}
	if lhs.Kind == values.KindInt || lhs.Kind == values.KindBool {
		if seq, ok := vmachine.sequencePayload(rhs); ok {
			return seq, int(lhs.AsInt()), true
		}
	}
	return nil, 0, false
}

func compareSymbol(op opcodes.Opcode) string {
	switch op {
	case opcodes.OpCompareLt:
		return "<"
	case opcodes.OpCompareLe:
		return "<="
	case opcodes.OpCompareGt:
		return ">"
	case opcodes.OpCompareGe:
		return ">="
	default:
		return "?"
	}
}
