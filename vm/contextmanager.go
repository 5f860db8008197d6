package vm

import (
	"github.com/parcadei/pyrt/heap"
	"github.com/parcadei/pyrt/values"
)

// callGenCMFactory implements calling a @contextlib.contextmanager-decorated
// generator function: the call itself does not run any generator code, it
// just builds a GeneratorContextManager bound to the (not-yet-started)
// generator, matching CPython's `_GeneratorContextManager.__init__` which
// stores func/args/kwds without calling next() (spec "Context Managers").
func (vmachine *VirtualMachine) callGenCMFactory(f *values.GeneratorContextManagerFactory, args ArgValues) (CallResult, error) {
	result, err := vmachine.CallFunction(f.GenFunc, args)
	if err != nil {
		return nil, err
	}
	switch r := result.(type) {
	case ResultValue:
		genID, ok := refClassID(r.V)
		if !ok {
			return nil, InternalErrorf("contextmanager: decorated function did not return a generator")
		}
		cm := &values.GeneratorContextManager{Gen: genID}
		vmachine.Heap.IncRef(genID)
		vmachine.dropValue(r.V)
		return ResultValue{V: values.NewRef(vmachine.Heap.Allocate(cm))}, nil
	default:
		return nil, InternalErrorf("contextmanager: generator function call suspended unexpectedly")
	}
}

// callInstanceContextDecorator implements `@cm_instance` applied to a plain
// function: each invocation opens a fresh `with cm_instance:` block around
// the wrapped call (contextlib.ContextDecorator semantics). The enter runs
// synchronously; a wrapped call that returns a value is exited here, and one
// that pushes a frame attaches PendingContextDecorator, which runs the exit
// once that frame returns.
func (vmachine *VirtualMachine) callInstanceContextDecorator(d *values.InstanceContextDecorator, args ArgValues) (CallResult, error) {
	entered, err := vmachine.ContextEnter(d.CM)
	if err != nil {
		return nil, err
	}
	vmachine.dropValue(entered)

	result, callErr := vmachine.CallFunction(d.Func, args)
	if callErr != nil {
		var pe *PyError
		if p, ok := callErr.(*PyError); ok {
			pe = p
		} else {
			pe = wrapAsPyError(callErr)
		}
		suppress, exitErr := vmachine.ContextExit(d.CM, pe)
		if exitErr != nil {
			return nil, exitErr
		}
		if suppress {
			return ResultValue{V: values.NewNone()}, nil
		}
		return nil, callErr
	}

	switch r := result.(type) {
	case ResultValue:
		if _, err := vmachine.ContextExit(d.CM, nil); err != nil {
			return nil, err
		}
		return r, nil
	case ResultFramePushed:
		vmachine.currentFrame().Pending = &PendingContextDecorator{CM: vmachine.dupValue(d.CM)}
		return r, nil
	default:
		return nil, InternalErrorf("context decorator: unexpected call result")
	}
}

// ContextEnter/ContextExit implement the `with` statement's two protocol
// calls (spec "Context Managers"): __enter__ returns the as-value,
// __exit__(exc_type, exc_value, traceback) returns a Suppress flag.
func (vmachine *VirtualMachine) ContextEnter(cm values.Value) (values.Value, error) {
	if cm.Kind == values.KindRef {
		if payload, live := vmachine.Heap.Get(cm.HeapID); live {
			if gcm, ok := payload.(*values.GeneratorContextManager); ok {
				return vmachine.genCMEnter(cm.HeapID, gcm)
			}
			if _, ok := payload.(*values.ExitStack); ok {
				return vmachine.dupValue(cm), nil
			}
		}
	}
	nameID := vmachine.Intern("__enter__")
	fn, err := vmachine.GetAttr(cm, nameID)
	if err != nil {
		return values.Value{}, err
	}
	return vmachine.Call(fn, nil, nil)
}

func (vmachine *VirtualMachine) genCMEnter(cmID heap.ID, gcm *values.GeneratorContextManager) (values.Value, error) {
	if gcm.Entered {
		return values.Value{}, RuntimeErrorf("generator-based context manager is not reentrant")
	}
	v, err := vmachine.GeneratorAdvance(gcm.Gen, values.NewNone(), genOpNext)
	if err != nil {
		return values.Value{}, err
	}
	err = vmachine.Heap.WithEntryMut(cmID, func(p heap.Payload) heap.Payload {
		g := p.(*values.GeneratorContextManager)
		g.Entered = true
		g.EnteredValue = vmachine.dupValue(v)
		return g
	})
	return v, err
}

// ContextExit calls __exit__ with the active exception (or None-filled
// args if there is none) and returns whether the exception should be
// suppressed.
func (vmachine *VirtualMachine) ContextExit(cm values.Value, exc *PyError) (suppress bool, err error) {
	if cm.Kind == values.KindRef {
		if payload, live := vmachine.Heap.Get(cm.HeapID); live {
			if gcm, ok := payload.(*values.GeneratorContextManager); ok {
				return vmachine.genCMExit(cm.HeapID, gcm, exc)
			}
			if stack, ok := payload.(*values.ExitStack); ok {
				remaining, err := vmachine.ExitStackUnwind(stack, exc)
				if err != nil {
					return false, err
				}
				if remaining == nil {
					return true, nil
				}
				if exc != nil && sameException(remaining, exc) {
					return false, nil
				}
				return false, remaining
			}
		}
	}
	nameID := vmachine.Intern("__exit__")
	fn, err := vmachine.GetAttr(cm, nameID)
	if err != nil {
		return false, err
	}
	excType, excValue, excTb := excTriple(vmachine, exc)
	result, err := vmachine.Call(fn, []values.Value{excType, excValue, excTb}, nil)
	if err != nil {
		return false, err
	}
	truthy, err := vmachine.Truthy(result)
	vmachine.dropValue(result)
	return truthy, err
}

func (vmachine *VirtualMachine) genCMExit(cmID heap.ID, gcm *values.GeneratorContextManager, exc *PyError) (bool, error) {
	if exc == nil {
		_, err := vmachine.GeneratorAdvance(gcm.Gen, values.NewNone(), genOpNext)
		if err == nil {
			return false, RuntimeErrorf("generator didn't stop")
		}
		if IsStopIteration(err) {
			return false, nil
		}
		return false, err
	}
	_, err := vmachine.GeneratorAdvance(gcm.Gen, vmachine.exceptionInstance(exc), genOpThrow)
	if err == nil {
		return false, RuntimeErrorf("generator didn't stop after throw()")
	}
	if IsStopIteration(err) {
		return true, nil
	}
	if sameException(err, exc) {
		return false, nil
	}
	return false, err
}

func sameException(err error, exc *PyError) bool {
	pe, ok := err.(*PyError)
	if !ok {
		return false
	}
	// A thrown-in exception comes back as a new PyError over the same
	// Instance, so identity of the Instance counts as the same exception.
	return pe == exc || (pe.Instance.Kind == values.KindRef && exc.Instance.Kind == values.KindRef &&
		pe.Instance.HeapID == exc.Instance.HeapID)
}

func excTriple(vmachine *VirtualMachine, exc *PyError) (values.Value, values.Value, values.Value) {
	if exc == nil {
		return values.NewNone(), values.NewNone(), values.NewNone()
	}
	inst := vmachine.exceptionInstance(exc)
	excType := values.NewNone()
	if classID, ok := vmachine.instanceClassID(inst); ok {
		vmachine.Heap.IncRef(classID)
		excType = values.NewRef(classID)
	}
	return excType, inst, values.NewNone()
}

// ExitStackUnwind implements contextlib.ExitStack's `__exit__`: pop every
// registered entry in LIFO order, running callbacks and context-manager
// exits, honoring suppression but continuing to unwind remaining entries
// regardless (spec "Context Managers": "a suppressing __exit__ stops
// propagation but later entries still run").
func (vmachine *VirtualMachine) ExitStackUnwind(stack *values.ExitStack, exc *PyError) (*PyError, error) {
	entries := stack.PopAll()
	current := exc
	for _, entry := range entries {
		if entry.Callback.Kind != values.KindUndefined && !entry.Callback.IsNone() {
			_, err := vmachine.Call(entry.Callback, entry.CallArgs, nil)
			for _, a := range entry.CallArgs {
				vmachine.dropValue(a)
			}
			vmachine.dropValue(entry.Callback)
			if err != nil {
				current = wrapAsPyError(err)
			}
			continue
		}
		suppress, err := vmachine.ContextExit(entry.CM, current)
		vmachine.dropValue(entry.CM)
		if err != nil {
			current = wrapAsPyError(err)
			continue
		}
		if suppress {
			current = nil
		}
	}
	return current, nil
}

func wrapAsPyError(err error) *PyError {
	if pe, ok := err.(*PyError); ok {
		return pe
	}
	return NewPyError(ErrException, "%v", err)
}

// IsStopIteration reports whether err is (or wraps) StopIteration, used by
// the `for`/`yield from` machinery and generator-based context managers to
// distinguish normal exhaustion from a real error.
func IsStopIteration(err error) bool {
	pe, ok := err.(*PyError)
	return ok && pe.Is(ErrStopIteration)
}
