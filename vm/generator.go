package vm

import (
	"github.com/parcadei/pyrt/heap"
	"github.com/parcadei/pyrt/registry"
	"github.com/parcadei/pyrt/values"
)

// genOp names the four resume operations a generator/coroutine accepts
// (spec "Generators & Coroutines"): next()/send(x)/throw(exc)/close().
type genOp byte

const (
	genOpNext genOp = iota
	genOpSend
	genOpThrow
	genOpClose
)

// yieldSignal is returned (never wrapped in a PyError) by the dispatch loop
// when OP_YIELD_VALUE executes, so GeneratorAdvance's driving loop can tell
// "this frame suspended" apart from "this frame raised". It is never
// allowed to escape GeneratorAdvance.
type yieldSignal struct{ Value values.Value }

func (y *yieldSignal) Error() string { return "yield (internal control signal, not a real error)" }

// Exhausted implements values.FrameState: a generator's underlying
// CallFrame is exhausted once its code has run past the last instruction
// (RETURN_VALUE already executed) rather than suspended at a yield.
func (f *CallFrame) Exhausted() bool { return f.IP >= len(f.Code.Instructions) }

// newGeneratorFrame builds (but does not run) the CallFrame backing a
// generator/coroutine call: callDefFunction routes here instead of pushing
// the frame immediately whenever fn.IsGenerator/IsCoroutine/IsAsyncGen is
// set (spec §4.5: "calling a generator function allocates a suspended
// frame instead of running it").
func (vmachine *VirtualMachine) newGeneratorFrame(fn *registry.DefFunction, cells []heap.ID, closure *values.Closure, args ArgValues) (*values.Generator, error) {
	frame := NewCallFrame(fn, vmachine.ns, -1, cells)
	if err := vmachine.bindArguments(frame, fn, closure, args); err != nil {
		vmachine.ns.Release(frame.LocalsBase)
		return nil, err
	}
	return &values.Generator{
		Frame:       frame,
		Status:      values.GenCreated,
		IsCoroutine: fn.IsCoroutine,
		IsAsyncGen:  fn.IsAsyncGen,
		Name:        fn.QualName,
	}, nil
}

// GeneratorAdvance drives a generator/coroutine through one resume step,
// splicing its suspended CallFrame onto the shared frame stack and running
// the dispatch loop until it yields again (returns the yielded value) or
// finishes (raises the *PyError wrapping StopIteration(return_value),
// matching CPython's `StopIteration.value` convention). This is the
// resumable engine itself: it never recurses through Go's call stack to
// "come back later", it re-enters the same frame object spliced at the top
// of vmachine.frames (spec "Generators & Coroutines": true suspend/resume,
// never host recursion).
func (vmachine *VirtualMachine) GeneratorAdvance(genID heap.ID, sendValue values.Value, op genOp) (values.Value, error) {
	payload, live := vmachine.Heap.Get(genID)
	if !live {
		return values.Value{}, ReferenceErrorf("generator no longer exists")
	}
	gen, ok := payload.(*values.Generator)
	if !ok {
		return values.Value{}, InternalErrorf("GeneratorAdvance: not a generator")
	}

	if gen.YieldFromTarget != 0 {
		return vmachine.advanceYieldFrom(genID, gen, sendValue, op)
	}

	switch gen.Status {
	case values.GenClosed:
		if op == genOpClose {
			return values.NewNone(), nil
		}
		return values.Value{}, StopIterationErr()
	case values.GenRunning:
		return values.Value{}, ValueErrorf("generator already executing")
	}

	frame, ok := gen.Frame.(*CallFrame)
	if !ok {
		return values.Value{}, InternalErrorf("GeneratorAdvance: frame state is not a CallFrame")
	}

	if gen.Status == values.GenCreated {
		if op == genOpSend && !sendValue.IsNone() {
			return values.Value{}, TypeErrorf("can't send non-None value to a just-started generator")
		}
		if op == genOpClose {
			gen.Status = values.GenClosed
			return values.NewNone(), nil
		}
		if op == genOpThrow {
			gen.Status = values.GenClosed
			pe, ok := vmachine.pyErrorFromValue(sendValue)
			vmachine.dropValue(sendValue)
			if !ok {
				return values.Value{}, TypeErrorf("exceptions must derive from BaseException")
			}
			return values.Value{}, pe
		}
	} else {
		// Resuming a suspended generator: push the operation's argument as
		// the value the paused `yield` expression evaluates to.
		switch op {
		case genOpThrow:
			pe, ok := vmachine.pyErrorFromValue(sendValue)
			vmachine.dropValue(sendValue)
			if !ok {
				return values.Value{}, TypeErrorf("exceptions must derive from BaseException")
			}
			if !vmachine.unwindToHandler(frame, pe) {
				gen.Status = values.GenClosed
				return values.Value{}, pe
			}
			// An enclosing except block claimed it: fall through and resume
			// the frame body at the handler, exactly like a normal send.
		case genOpClose:
			gen.Status = values.GenClosed
			return values.NewNone(), nil
		default:
			vmachine.push(sendValue)
		}
	}

	gen.Status = values.GenRunning
	vmachine.pushFrame(frame)
	depth := len(vmachine.frames) - 1

	result, yielded, err := vmachine.runGeneratorBody(depth)
	if err != nil {
		gen.Status = values.GenClosed
		vmachine.popFrame()
		return values.Value{}, err
	}
	if yielded {
		gen.Status = values.GenSuspended
		return result, nil
	}
	gen.Status = values.GenClosed
	vmachine.popFrame()
	return values.Value{}, stopIterationWithValue(result)
}

// runGeneratorBody steps the dispatch loop until either a yieldSignal
// surfaces (the generator suspended) or the frame at depth returns
// normally (frame count drops back to depth).
func (vmachine *VirtualMachine) runGeneratorBody(depth int) (values.Value, bool, error) {
	for len(vmachine.frames) > depth {
		frame := vmachine.currentFrame()
		instr := frame.Code.Instructions[frame.IP]
		vmachine.Profiler.RecordStep(frame, instr)
		err := vmachine.dispatch(frame, instr)
		if ys, ok := err.(*yieldSignal); ok {
			// The frame stays off vmachine.frames' active top (we pop it back
			// out here) but is NOT released: ownership returns to the
			// Generator's Frame field for the next resume.
			vmachine.frames = vmachine.frames[:len(vmachine.frames)-1]
			return ys.Value, true, nil
		}
		if err != nil {
			return values.Value{}, false, decorate(err, frame, instr.Op, frame.IP)
		}
	}
	if len(vmachine.stack) == 0 {
		return values.NewNone(), false, nil
	}
	return vmachine.pop(), false, nil
}

func stopIterationWithValue(v values.Value) *PyError {
	pe := StopIterationErr()
	pe.Instance = v
	return pe
}

// advanceYieldFrom forwards a resume operation to the delegated-to
// generator (spec's `yield from` / `await` semantics): the outer
// generator's own frame is never touched for this step, since real
// CPython only re-enters the outer frame once the inner iterator raises
// StopIteration.
func (vmachine *VirtualMachine) advanceYieldFrom(outerID heap.ID, outer *values.Generator, sendValue values.Value, op genOp) (values.Value, error) {
	inner := outer.YieldFromTarget
	result, err := vmachine.GeneratorAdvance(inner, sendValue, op)
	if err == nil {
		return result, nil
	}
	if IsStopIteration(err) {
		pe := err.(*PyError)
		vmachine.Heap.DecRef(inner)
		outer.YieldFromTarget = 0
		// The inner's return value is handed back to this call's caller as
		// the step's result; the outer frame is not re-entered here.
		// dispatch.go's execYieldFrom does not use YieldFromTarget (it
		// delegates through an iteratorBox), and nothing sets the field.
		return pe.Instance, nil
	}
	vmachine.Heap.DecRef(inner)
	outer.YieldFromTarget = 0
	return values.Value{}, err
}
