package vm

import (
	"github.com/parcadei/pyrt/heap"
	"github.com/parcadei/pyrt/opcodes"
	"github.com/parcadei/pyrt/values"
)

// dispatch executes exactly one instruction against frame, the heart of the
// stack machine (spec "Dispatch Loop"). It never loops internally - step()
// in vm.go calls it once per instruction - so every branch either falls
// through to an implicit IP++ at the call site or explicitly sets frame.IP
// itself (jumps, calls that push a new frame and leave this one parked on
// its current instruction until the callee returns).
func (vmachine *VirtualMachine) dispatch(frame *CallFrame, instr opcodes.Instruction) error {
	advance := true
	defer func() {
		if advance {
			frame.IP++
		}
	}()

	switch instr.Op {
	case opcodes.OpNop:
		// no-op

	case opcodes.OpLoadConst:
		vmachine.push(vmachine.dupValue(frame.Code.Constants[instr.Arg1]))
	case opcodes.OpLoadLocal:
		v := vmachine.ns.Get(frame.LocalsBase, int(instr.Arg1))
		if v.Kind == values.KindUndefined {
			return UnboundLocalErrorf("local variable referenced before assignment")
		}
		vmachine.push(vmachine.dupValue(v))
	case opcodes.OpStoreLocal:
		v := vmachine.pop()
		if old := vmachine.ns.Get(frame.LocalsBase, int(instr.Arg1)); old.Kind != values.KindUndefined {
			vmachine.dropValue(old)
		}
		vmachine.ns.Set(frame.LocalsBase, int(instr.Arg1), v)
	case opcodes.OpLoadGlobal:
		v, ok := vmachine.Globals[instr.Arg1]
		if !ok {
			return NameErrorf("name '%s' is not defined", vmachine.InternText(instr.Arg1))
		}
		vmachine.push(vmachine.dupValue(v))
	case opcodes.OpStoreGlobal:
		v := vmachine.pop()
		if old, ok := vmachine.Globals[instr.Arg1]; ok {
			vmachine.dropValue(old)
		}
		vmachine.Globals[instr.Arg1] = v
	case opcodes.OpLoadCell:
		cellID := frame.Cells[instr.Arg1]
		payload, _ := vmachine.Heap.Get(cellID)
		cell := payload.(*values.Cell)
		if cell.Value.Kind == values.KindUndefined {
			return UnboundLocalErrorf("cell variable referenced before assignment")
		}
		vmachine.push(vmachine.dupValue(cell.Value))
	case opcodes.OpStoreCell:
		v := vmachine.pop()
		cellID := frame.Cells[instr.Arg1]
		err := vmachine.Heap.WithEntryMut(cellID, func(p heap.Payload) heap.Payload {
			cell := p.(*values.Cell)
			vmachine.dropValue(cell.Value)
			cell.Value = v
			return cell
		})
		if err != nil {
			return err
		}
	case opcodes.OpLoadDeref:
		cellID := frame.Cells[instr.Arg1]
		payload, _ := vmachine.Heap.Get(cellID)
		cell := payload.(*values.Cell)
		if cell.Value.Kind == values.KindUndefined {
			return NameErrorf("free variable referenced before assignment")
		}
		vmachine.push(vmachine.dupValue(cell.Value))
	case opcodes.OpDupTop:
		vmachine.push(vmachine.dupValue(vmachine.top()))
	case opcodes.OpPop:
		vmachine.dropValue(vmachine.pop())
	case opcodes.OpRot2:
		n := len(vmachine.stack)
		vmachine.stack[n-1], vmachine.stack[n-2] = vmachine.stack[n-2], vmachine.stack[n-1]
	case opcodes.OpLoadNone:
		vmachine.push(values.NewNone())
	case opcodes.OpLoadTrue:
		vmachine.push(values.NewBool(true))
	case opcodes.OpLoadFalse:
		vmachine.push(values.NewBool(false))
	case opcodes.OpLoadNotImplemented:
		vmachine.push(values.NewNotImplemented())
	case opcodes.OpLoadEllipsis:
		vmachine.push(values.NewEllipsis())
	case opcodes.OpLoadBuildClass:
		id, ok := vmachine.Registry.BuiltinByName("__build_class__")
		if !ok {
			return InternalErrorf("__build_class__ is not registered")
		}
		vmachine.push(values.NewBuiltinFunction(id))

	// Binary arithmetic/bitwise opcodes and their in-place/reflected
	// counterparts all reduce to BinaryOp/InPlaceOp (dunder.go), which
	// suspend via PendingBinaryDunder/PendingInPlaceDunder instead of
	// draining a frame-pushing dunder through the host Go stack.
	case opcodes.OpBinaryAdd, opcodes.OpBinarySub, opcodes.OpBinaryMul, opcodes.OpBinaryTrueDiv,
		opcodes.OpBinaryFloorDiv, opcodes.OpBinaryMod, opcodes.OpBinaryPow, opcodes.OpBinaryMatMul,
		opcodes.OpBinaryLShift, opcodes.OpBinaryRShift, opcodes.OpBinaryAnd, opcodes.OpBinaryOr, opcodes.OpBinaryXor:
		rhs, lhs := vmachine.pop(), vmachine.pop()
		advance = false
		return vmachine.execBinaryOp(frame, binarySymbol(instr.Op), lhs, rhs, false)
	case opcodes.OpInplaceAdd, opcodes.OpInplaceSub, opcodes.OpInplaceMul, opcodes.OpInplaceTrueDiv,
		opcodes.OpInplaceFloorDiv, opcodes.OpInplaceMod, opcodes.OpInplacePow,
		opcodes.OpInplaceLShift, opcodes.OpInplaceRShift, opcodes.OpInplaceAnd, opcodes.OpInplaceOr, opcodes.OpInplaceXor:
		rhs, lhs := vmachine.pop(), vmachine.pop()
		advance = false
		return vmachine.execBinaryOp(frame, binarySymbol(instr.Op), lhs, rhs, true)
	case opcodes.OpCompareEq, opcodes.OpCompareNe:
		rhs, lhs := vmachine.pop(), vmachine.pop()
		eq, err := vmachine.Equal(lhs, rhs)
		vmachine.dropValue(lhs)
		vmachine.dropValue(rhs)
		if err != nil {
			return err
		}
		vmachine.push(values.NewBool(eq == (instr.Op == opcodes.OpCompareEq)))
	case opcodes.OpCompareLt, opcodes.OpCompareLe, opcodes.OpCompareGt, opcodes.OpCompareGe:
		rhs, lhs := vmachine.pop(), vmachine.pop()
		cmp, ok, err := vmachine.Compare(lhs, rhs)
		if err != nil {
			vmachine.dropValue(lhs)
			vmachine.dropValue(rhs)
			return err
		}
		if !ok {
			errOut := TypeErrorf("'%s' not supported between instances of '%s' and '%s'",
				compareSymbol(instr.Op), vmachine.TypeName(lhs), vmachine.TypeName(rhs))
			vmachine.dropValue(lhs)
			vmachine.dropValue(rhs)
			return errOut
		}
		vmachine.dropValue(lhs)
		vmachine.dropValue(rhs)
		vmachine.push(values.NewBool(compareHolds(instr.Op, cmp)))
	case opcodes.OpCompareIs:
		rhs, lhs := vmachine.pop(), vmachine.pop()
		is := vmachine.identical(lhs, rhs)
		vmachine.dropValue(lhs)
		vmachine.dropValue(rhs)
		vmachine.push(values.NewBool(is))
	case opcodes.OpCompareIsNot:
		rhs, lhs := vmachine.pop(), vmachine.pop()
		is := vmachine.identical(lhs, rhs)
		vmachine.dropValue(lhs)
		vmachine.dropValue(rhs)
		vmachine.push(values.NewBool(!is))
	case opcodes.OpCompareIn, opcodes.OpCompareNotIn:
		rhs, lhs := vmachine.pop(), vmachine.pop()
		found, err := vmachine.Contains(rhs, lhs)
		vmachine.dropValue(lhs)
		vmachine.dropValue(rhs)
		if err != nil {
			return err
		}
		vmachine.push(values.NewBool(found == (instr.Op == opcodes.OpCompareIn)))
	case opcodes.OpUnaryNeg, opcodes.OpUnaryPos, opcodes.OpUnaryInvert:
		v := vmachine.pop()
		result, found, err := vmachine.UnaryDunder(unarySymbol(instr.Op), v)
		if err != nil {
			return err
		}
		if !found {
			result, err = vmachine.nativeUnaryOp(instr.Op, v)
			if err != nil {
				return err
			}
		}
		vmachine.push(result)
	case opcodes.OpUnaryNot:
		v := vmachine.pop()
		truthy, err := vmachine.Truthy(v)
		vmachine.dropValue(v)
		if err != nil {
			return err
		}
		vmachine.push(values.NewBool(!truthy))

	case opcodes.OpJump:
		frame.IP = int(instr.Arg1)
		advance = false
	case opcodes.OpJumpIfFalse:
		v := vmachine.pop()
		truthy, err := vmachine.Truthy(v)
		vmachine.dropValue(v)
		if err != nil {
			return err
		}
		if !truthy {
			frame.IP = int(instr.Arg1)
			advance = false
		}
	case opcodes.OpJumpIfTrue:
		v := vmachine.pop()
		truthy, err := vmachine.Truthy(v)
		vmachine.dropValue(v)
		if err != nil {
			return err
		}
		if truthy {
			frame.IP = int(instr.Arg1)
			advance = false
		}
	case opcodes.OpJumpIfFalseOrPop:
		truthy, err := vmachine.Truthy(vmachine.top())
		if err != nil {
			return err
		}
		if !truthy {
			frame.IP = int(instr.Arg1)
			advance = false
		} else {
			vmachine.dropValue(vmachine.pop())
		}
	case opcodes.OpJumpIfTrueOrPop:
		truthy, err := vmachine.Truthy(vmachine.top())
		if err != nil {
			return err
		}
		if truthy {
			frame.IP = int(instr.Arg1)
			advance = false
		} else {
			vmachine.dropValue(vmachine.pop())
		}

	case opcodes.OpReturnValue:
		advance = false
		return vmachine.execReturn(frame)

	case opcodes.OpRaise:
		var cause *PyError
		if instr.Arg1 != 0 {
			causeV := vmachine.pop()
			if pe, ok := vmachine.pyErrorFromValue(causeV); ok {
				cause = pe
			}
			vmachine.dropValue(causeV)
		}
		excV := vmachine.pop()
		pe, ok := vmachine.pyErrorFromValue(excV)
		vmachine.dropValue(excV)
		if !ok {
			return TypeErrorf("exceptions must derive from BaseException")
		}
		if cause != nil {
			pe.Cause = cause
			pe.Suppress = cause.Type == nil
		}
		return pe
	case opcodes.OpReraise:
		if frame.ActiveException == nil {
			return RuntimeErrorf("no active exception to re-raise")
		}
		return frame.ActiveException
	case opcodes.OpSetupFinally:
		frame.PushBlock(BlockKind(instr.Arg2), int(instr.Arg1), len(vmachine.stack))
	case opcodes.OpPopBlock:
		frame.PopBlock()
	case opcodes.OpEnterExcept:
		if frame.ActiveException == nil {
			return InternalErrorf("ENTER_EXCEPT with no active exception")
		}
		excVal := vmachine.exceptionInstance(frame.ActiveException)
		if old := vmachine.ns.Get(frame.LocalsBase, int(instr.Arg1)); old.Kind != values.KindUndefined {
			vmachine.dropValue(old)
		}
		vmachine.ns.Set(frame.LocalsBase, int(instr.Arg1), excVal)

	case opcodes.OpBuildList:
		items := vmachine.popN(int(instr.Arg1))
		vmachine.push(values.NewRef(vmachine.Heap.Allocate(&values.List{Items: items})))
	case opcodes.OpBuildTuple:
		items := vmachine.popN(int(instr.Arg1))
		vmachine.push(values.NewRef(vmachine.Heap.Allocate(&values.Tuple{Items: items})))
	case opcodes.OpBuildSet:
		items := vmachine.popN(int(instr.Arg1))
		set := &values.Set{}
		for _, it := range items {
			if err := vmachine.setAdd(set, it); err != nil {
				return err
			}
		}
		vmachine.push(values.NewRef(vmachine.Heap.Allocate(set)))
	case opcodes.OpBuildMap:
		n := int(instr.Arg1)
		entries := make([]values.DictEntry, 0, n)
		pairs := vmachine.popN(2 * n)
		for i := 0; i < n; i++ {
			entries = append(entries, values.DictEntry{Key: pairs[2*i], Val: pairs[2*i+1], Alive: true})
		}
		d := &values.Dict{Entries: entries}
		d.ReindexWith(vmachine.hashValueUnchecked)
		vmachine.push(values.NewRef(vmachine.Heap.Allocate(d)))
	case opcodes.OpListAppend:
		v := vmachine.pop()
		depth := int(instr.Arg1)
		target := vmachine.stack[len(vmachine.stack)-1-depth]
		err := vmachine.Heap.WithEntryMut(target.HeapID, func(p heap.Payload) heap.Payload {
			l := p.(*values.List)
			l.Items = append(l.Items, v)
			return l
		})
		if err != nil {
			return err
		}
	case opcodes.OpSubscr:
		key, obj := vmachine.pop(), vmachine.pop()
		result, err := vmachine.GetItem(obj, key)
		vmachine.dropValue(obj)
		vmachine.dropValue(key)
		if err != nil {
			return err
		}
		vmachine.push(result)
	case opcodes.OpStoreSubscr:
		key, obj, val := vmachine.pop(), vmachine.pop(), vmachine.pop()
		err := vmachine.SetItem(obj, key, val)
		vmachine.dropValue(obj)
		vmachine.dropValue(key)
		vmachine.dropValue(val)
		if err != nil {
			return err
		}
	case opcodes.OpDeleteSubscr:
		key, obj := vmachine.pop(), vmachine.pop()
		err := vmachine.DelItem(obj, key)
		vmachine.dropValue(obj)
		vmachine.dropValue(key)
		if err != nil {
			return err
		}
	case opcodes.OpGetIter:
		obj := vmachine.pop()
		it, err := vmachine.GetIter(obj)
		vmachine.dropValue(obj)
		if err != nil {
			return err
		}
		vmachine.push(values.NewRef(vmachine.Heap.Allocate(&iteratorBox{it: it})))
	case opcodes.OpForIter:
		itV := vmachine.top()
		payload, _ := vmachine.Heap.Get(itV.HeapID)
		box := payload.(*iteratorBox)
		next, ok, err := box.it.Next(vmachine)
		if err != nil {
			return err
		}
		if !ok {
			vmachine.dropValue(vmachine.pop())
			frame.IP = int(instr.Arg1)
			advance = false
		} else {
			vmachine.push(next)
		}
	case opcodes.OpUnpackSequence:
		seq := vmachine.pop()
		items, err := vmachine.unpackSequence(seq, int(instr.Arg1))
		vmachine.dropValue(seq)
		if err != nil {
			return err
		}
		for i := len(items) - 1; i >= 0; i-- {
			vmachine.push(items[i])
		}
	case opcodes.OpBuildSlice:
		stop, start := vmachine.pop(), vmachine.pop()
		var step values.Value
		if instr.Arg1 != 0 {
			step = vmachine.pop()
		} else {
			step = values.NewNone()
		}
		vmachine.push(values.NewRef(vmachine.Heap.Allocate(&values.Slice{Start: start, Stop: stop, Step: step})))

	case opcodes.OpLoadAttr:
		obj := vmachine.pop()
		result, err := vmachine.loadAttrSite(frame, obj, instr.Arg1)
		vmachine.dropValue(obj)
		if err != nil {
			return err
		}
		vmachine.push(result)
	case opcodes.OpStoreAttr:
		val, obj := vmachine.pop(), vmachine.pop()
		err := vmachine.SetAttr(obj, instr.Arg1, val)
		vmachine.dropValue(obj)
		if err != nil {
			return err
		}
	case opcodes.OpDeleteAttr:
		obj := vmachine.pop()
		err := vmachine.DeleteAttr(obj, instr.Arg1)
		vmachine.dropValue(obj)
		if err != nil {
			return err
		}

	case opcodes.OpCallFunction:
		args := vmachine.popN(int(instr.Arg1))
		callee := vmachine.pop()
		advance = false
		return vmachine.execCall(frame, callee, GeneralArgs(args, nil))
	case opcodes.OpCallFunctionKw:
		kwNamesV := vmachine.pop()
		kwNames := vmachine.kwNamesFromTuple(kwNamesV)
		vmachine.dropValue(kwNamesV)
		all := vmachine.popN(int(instr.Arg1))
		npos := len(all) - len(kwNames)
		pos := all[:npos]
		kw := make([]KwEntry, len(kwNames))
		for i, name := range kwNames {
			kw[i] = KwEntry{Name: name, Val: all[npos+i]}
		}
		callee := vmachine.pop()
		advance = false
		return vmachine.execCall(frame, callee, GeneralArgs(pos, kw))
	case opcodes.OpCallFunctionExtended:
		var kwargsV values.Value
		if instr.Arg1 != 0 {
			kwargsV = vmachine.pop()
		}
		argsV := vmachine.pop()
		callee := vmachine.pop()
		pos, err := vmachine.explodeArgs(argsV)
		vmachine.dropValue(argsV)
		if err != nil {
			return err
		}
		kw, err := vmachine.explodeKwargs(kwargsV)
		if instr.Arg1 != 0 {
			vmachine.dropValue(kwargsV)
		}
		if err != nil {
			return err
		}
		advance = false
		return vmachine.execCall(frame, callee, GeneralArgs(pos, kw))
	case opcodes.OpCallAttr:
		args := vmachine.popN(int(instr.Arg1))
		obj := vmachine.pop()
		method, err := vmachine.loadAttrSite(frame, obj, instr.Arg2)
		vmachine.dropValue(obj)
		if err != nil {
			for _, a := range args {
				vmachine.dropValue(a)
			}
			return err
		}
		advance = false
		return vmachine.execCall(frame, method, GeneralArgs(args, nil))
	case opcodes.OpCallAttrKw:
		kwNamesV := vmachine.pop()
		kwNames := vmachine.kwNamesFromTuple(kwNamesV)
		vmachine.dropValue(kwNamesV)
		all := vmachine.popN(int(instr.Arg1))
		npos := len(all) - len(kwNames)
		pos := all[:npos]
		kw := make([]KwEntry, len(kwNames))
		for i, name := range kwNames {
			kw[i] = KwEntry{Name: name, Val: all[npos+i]}
		}
		obj := vmachine.pop()
		method, err := vmachine.loadAttrSite(frame, obj, instr.Arg2)
		vmachine.dropValue(obj)
		if err != nil {
			return err
		}
		advance = false
		return vmachine.execCall(frame, method, GeneralArgs(pos, kw))
	case opcodes.OpCallAttrExtended:
		var kwargsV values.Value
		if instr.Arg1 != 0 {
			kwargsV = vmachine.pop()
		}
		argsV := vmachine.pop()
		obj := vmachine.pop()
		method, err := vmachine.loadAttrSite(frame, obj, instr.Arg2)
		vmachine.dropValue(obj)
		if err != nil {
			return err
		}
		pos, err := vmachine.explodeArgs(argsV)
		vmachine.dropValue(argsV)
		if err != nil {
			return err
		}
		kw, err := vmachine.explodeKwargs(kwargsV)
		if instr.Arg1 != 0 {
			vmachine.dropValue(kwargsV)
		}
		if err != nil {
			return err
		}
		advance = false
		return vmachine.execCall(frame, method, GeneralArgs(pos, kw))
	case opcodes.OpCallBuiltinFunction:
		args := vmachine.popN(int(instr.Arg2))
		entry, ok := vmachine.Registry.BuiltinByID(instr.Arg1)
		if !ok {
			return InternalErrorf("unknown builtin function id %d", instr.Arg1)
		}
		advance = false
		return vmachine.execCall(frame, values.NewBuiltinFunction(entry.ID), GeneralArgs(args, nil))
	case opcodes.OpCallBuiltinType:
		args := vmachine.popN(int(instr.Arg2))
		entry, ok := vmachine.Registry.BuiltinTypeByID(instr.Arg1)
		if !ok {
			return InternalErrorf("unknown builtin type id %d", instr.Arg1)
		}
		advance = false
		return vmachine.execCall(frame, values.NewBuiltinType(entry.ID), GeneralArgs(args, nil))
	case opcodes.OpMakeFunction:
		fn, ok := vmachine.Registry.DefFunctionByID(instr.Arg1)
		if !ok {
			return InternalErrorf("unknown function id %d", instr.Arg1)
		}
		nCells := int(instr.Arg2)
		cells := make([]heap.ID, nCells)
		for i := nCells - 1; i >= 0; i-- {
			cv := vmachine.pop()
			cells[i] = cv.HeapID
		}
		closure := &values.Closure{FuncID: fn.ID, Cells: cells}
		if len(fn.Defaults) > 0 {
			n := vmachine.popN(len(fn.Defaults))
			closure.Defaults = n
		}
		vmachine.push(values.NewRef(vmachine.Heap.Allocate(closure)))
	case opcodes.OpLoadSuper0:
		result, err := vmachine.builtinSuper(EmptyArgs())
		if err != nil {
			return err
		}
		rv, ok := result.(ResultValue)
		if !ok {
			return InternalErrorf("super(): unexpected call result")
		}
		vmachine.push(rv.V)
	case opcodes.OpLoadSuper2:
		obj, cls := vmachine.pop(), vmachine.pop()
		result, err := vmachine.builtinSuper(TwoArgs(cls, obj))
		if err != nil {
			return err
		}
		rv, ok := result.(ResultValue)
		if !ok {
			return InternalErrorf("super(): unexpected call result")
		}
		vmachine.push(rv.V)

	case opcodes.OpYieldValue:
		v := vmachine.pop()
		advance = false
		frame.IP++ // resumed execution continues just past the yield
		return &yieldSignal{Value: v}
	case opcodes.OpYieldFrom:
		advance = false
		return vmachine.execYieldFrom(frame)
	case opcodes.OpGetAwaitable, opcodes.OpGetAiter:
		obj := vmachine.pop()
		it, err := vmachine.GetIter(obj)
		vmachine.dropValue(obj)
		if err != nil {
			return err
		}
		vmachine.push(values.NewRef(vmachine.Heap.Allocate(&iteratorBox{it: it})))
	case opcodes.OpGetAnext:
		itV := vmachine.top()
		payload, _ := vmachine.Heap.Get(itV.HeapID)
		box := payload.(*iteratorBox)
		next, ok, err := box.it.Next(vmachine)
		if err != nil {
			return err
		}
		if !ok {
			return StopAsyncIterationErr()
		}
		vmachine.push(next)
	case opcodes.OpSetupWith:
		cm := vmachine.top()
		result, err := vmachine.ContextEnter(cm)
		if err != nil {
			return err
		}
		frame.PushWithBlock(int(instr.Arg1), len(vmachine.stack)-1, vmachine.dupValue(cm))
		vmachine.push(result)
	case opcodes.OpSetupAsyncWith, opcodes.OpBeforeAsyncWith:
		cm := vmachine.top()
		result, err := vmachine.ContextEnter(cm)
		if err != nil {
			return err
		}
		vmachine.push(result)
	case opcodes.OpWithCleanup:
		block, ok := frame.PopBlock()
		var suppress bool
		if ok {
			var err error
			suppress, err = vmachine.ContextExit(block.CMValue, frame.ActiveException)
			vmachine.dropValue(block.CMValue)
			if err != nil {
				return err
			}
		}
		if suppress && frame.ActiveException != nil {
			frame.ActiveException = nil
		}

	default:
		return InternalErrorf("dispatch: unhandled opcode %s", instr.Op)
	}
	return nil
}

// execReturn implements RETURN_VALUE: pop this frame, hand its result to
// the caller - substituting InitInstance when this frame was running
// __init__ (spec §4.9), or routing through a PendingOp.Resume when the
// caller frame suspended a higher-order builtin on this call (spec §4.8).
func (vmachine *VirtualMachine) execReturn(frame *CallFrame) error {
	retVal := vmachine.pop()
	vmachine.abandonFrameStack(frame)
	vmachine.popFrame()

	if frame.HasInit {
		vmachine.dropValue(retVal)
		retVal = frame.InitInstance
	}

	caller := vmachine.currentFrame()
	if caller == nil {
		vmachine.push(retVal)
		return nil
	}
	if caller.Pending != nil {
		pending := caller.Pending
		caller.Pending = nil
		result, done, err := pending.Resume(vmachine, retVal)
		if err != nil {
			return err
		}
		if done {
			vmachine.push(result)
		}
		return nil
	}
	vmachine.push(retVal)
	return nil
}

// abandonFrameStack drops every operand-stack slot this frame owns above
// its StackBase (e.g. partially-evaluated subexpressions on a path that
// returned early), so RETURN_VALUE never leaks references from loops or
// half-finished expressions still on the shared stack.
func (vmachine *VirtualMachine) abandonFrameStack(frame *CallFrame) {
	for len(vmachine.stack) > frame.StackBase {
		vmachine.dropValue(vmachine.pop())
	}
}

// execCall drives one CALL_* opcode's dispatch through the Call Engine,
// pushing a frame for ResultFramePushed (leaving `frame` parked exactly
// where it is so the caller resumes at the next instruction once the
// callee returns) or pushing the value directly for a synchronous result.
func (vmachine *VirtualMachine) execCall(frame *CallFrame, callee values.Value, args ArgValues) error {
	result, err := vmachine.CallFunction(callee, args)
	vmachine.dropValue(callee)
	if err != nil {
		return err
	}
	frame.IP++
	switch r := result.(type) {
	case ResultValue:
		vmachine.push(r.V)
	case ResultFramePushed:
		_ = r
	default:
		return InternalErrorf("execCall: host-facing call result reached the synchronous dispatch loop")
	}
	return nil
}

// execBinaryOp drives one BINARY_*/INPLACE_* opcode through BinaryOp/
// InPlaceOp, mirroring execCall: a frame-pushing dunder leaves frame parked
// at the next instruction with nothing pushed yet, since the eventual value
// arrives through the attached PendingBinaryDunder/PendingInPlaceDunder
// once that frame returns.
func (vmachine *VirtualMachine) execBinaryOp(frame *CallFrame, op string, lhs, rhs values.Value, inPlace bool) error {
	var result CallResult
	var err error
	if inPlace {
		result, err = vmachine.InPlaceOp(op, lhs, rhs)
	} else {
		result, err = vmachine.BinaryOp(op, lhs, rhs)
	}
	if err != nil {
		return err
	}
	frame.IP++
	if r, ok := result.(ResultValue); ok {
		vmachine.push(r.V)
	}
	return nil
}

// execYieldFrom drives `yield from`/`await` (spec §4.10): forward to the
// inner iterator until it raises StopIteration, at which point its return
// value becomes this expression's result; every intermediate value is a
// real suspension of the outer generator, never host recursion.
func (vmachine *VirtualMachine) execYieldFrom(frame *CallFrame) error {
	innerV := vmachine.top()
	payload, live := vmachine.Heap.Get(innerV.HeapID)
	if !live {
		vmachine.dropValue(vmachine.pop())
		return ReferenceErrorf("yield from target no longer exists")
	}
	box, ok := payload.(*iteratorBox)
	if !ok {
		return TypeErrorf("cannot 'yield from' a non-iterator value")
	}
	next, ok, err := box.it.Next(vmachine)
	if err != nil {
		if IsStopIteration(err) {
			vmachine.dropValue(vmachine.pop())
			frame.IP++
			if pe, ok := asPyError(err); ok && pe.Instance.Kind == values.KindRef {
				vmachine.push(vmachine.dupValue(pe.Instance))
			} else {
				vmachine.push(values.NewNone())
			}
			return nil
		}
		return err
	}
	if !ok {
		vmachine.dropValue(vmachine.pop())
		frame.IP++
		vmachine.push(values.NewNone())
		return nil
	}
	frame.IP++
	return &yieldSignal{Value: next}
}

func asPyError(err error) (*PyError, bool) {
	pe, ok := err.(*PyError)
	return pe, ok
}

func binarySymbol(op opcodes.Opcode) string {
	switch op {
	case opcodes.OpBinaryAdd, opcodes.OpInplaceAdd:
		return "+"
	case opcodes.OpBinarySub, opcodes.OpInplaceSub:
		return "-"
	case opcodes.OpBinaryMul, opcodes.OpInplaceMul:
		return "*"
	case opcodes.OpBinaryTrueDiv, opcodes.OpInplaceTrueDiv:
		return "/"
	case opcodes.OpBinaryFloorDiv, opcodes.OpInplaceFloorDiv:
		return "//"
	case opcodes.OpBinaryMod, opcodes.OpInplaceMod:
		return "%"
	case opcodes.OpBinaryPow, opcodes.OpInplacePow:
		return "**"
	case opcodes.OpBinaryMatMul:
		return "@"
	case opcodes.OpBinaryLShift, opcodes.OpInplaceLShift:
		return "<<"
	case opcodes.OpBinaryRShift, opcodes.OpInplaceRShift:
		return ">>"
	case opcodes.OpBinaryAnd, opcodes.OpInplaceAnd:
		return "&"
	case opcodes.OpBinaryOr, opcodes.OpInplaceOr:
		return "|"
	case opcodes.OpBinaryXor, opcodes.OpInplaceXor:
		return "^"
	default:
		return "?"
	}
}

func unarySymbol(op opcodes.Opcode) string {
	switch op {
	case opcodes.OpUnaryNeg:
		return "-"
	case opcodes.OpUnaryPos:
		return "+"
	case opcodes.OpUnaryInvert:
		return "~"
	default:
		return "?"
	}
}

func compareHolds(op opcodes.Opcode, cmp int) bool {
	switch op {
	case opcodes.OpCompareLt:
		return cmp < 0
	case opcodes.OpCompareLe:
		return cmp <= 0
	case opcodes.OpCompareGt:
		return cmp > 0
	case opcodes.OpCompareGe:
		return cmp >= 0
	default:
		return false
	}
}
