package vm

import (
	"github.com/parcadei/pyrt/heap"
	"github.com/parcadei/pyrt/intern"
	"github.com/parcadei/pyrt/registry"
	"github.com/parcadei/pyrt/values"
)

// Bootstrap installs the root `object`/`type` classes and the built-in
// exception hierarchy (spec §4.9, §4.11's "Error Taxonomy" mapped onto real
// ClassObjects so isinstance()/except-clause matching has something to walk).
// Idempotent: later calls are no-ops, mirroring the teacher's sync.Once-style
// lazy subsystem init without pulling in sync.Once itself since Bootstrap is
// only ever called from the single-threaded Execute entry point.
func (vmachine *VirtualMachine) Bootstrap() {
	if vmachine.bootstrapped {
		return
	}
	vmachine.bootstrapped = true

	objectCls := &values.ClassObject{Name: "object", QualName: "object", UID: newClassUUID()}
	objectID := vmachine.Heap.Allocate(objectCls)
	objectCls.MRO = []heap.ID{objectID}
	vmachine.ObjectClassID = objectID

	typeCls := &values.ClassObject{Name: "type", QualName: "type", Bases: []heap.ID{objectID}, UID: newClassUUID()}
	vmachine.Heap.IncRef(objectID)
	typeID := vmachine.Heap.Allocate(typeCls)
	typeCls.MRO = []heap.ID{typeID, objectID}
	vmachine.TypeClassID = typeID

	vmachine.excClasses = make(map[error]heap.ID)
	vmachine.excClassOf = make(map[heap.ID]error)

	// baseException has no Go sentinel of its own (ErrException represents
	// it), then the rest of the hierarchy mirrors CPython's builtins module:
	// https://docs.python.org/3/library/exceptions.html#exception-hierarchy
	baseExcID := vmachine.defineExceptionClass("BaseException", objectID, ErrException)
	excID := vmachine.defineExceptionClass("Exception", baseExcID, nil)
	vmachine.defineExceptionClass("TypeError", excID, ErrTypeError)
	vmachine.defineExceptionClass("ValueError", excID, ErrValueError)
	lookupErrID := vmachine.defineExceptionClass("LookupError", excID, nil)
	vmachine.defineExceptionClass("IndexError", lookupErrID, ErrIndexError)
	vmachine.defineExceptionClass("KeyError", lookupErrID, ErrKeyError)
	vmachine.defineExceptionClass("AttributeError", excID, ErrAttributeError)
	vmachine.defineExceptionClass("StopIteration", excID, ErrStopIteration)
	vmachine.defineExceptionClass("StopAsyncIteration", excID, ErrStopAsyncIteration)
	arithErrID := vmachine.defineExceptionClass("ArithmeticError", excID, nil)
	vmachine.defineExceptionClass("OverflowError", arithErrID, ErrOverflowError)
	vmachine.defineExceptionClass("ZeroDivisionError", arithErrID, ErrZeroDivisionError)
	runtimeErrID := vmachine.defineExceptionClass("RuntimeError", excID, ErrRuntimeError)
	vmachine.defineExceptionClass("RecursionError", runtimeErrID, ErrRecursionError)
	vmachine.defineExceptionClass("ReferenceError", excID, ErrReferenceError)
	vmachine.defineExceptionClass("NotImplementedError", excID, ErrNotImplementedErr)
	nameErrID := vmachine.defineExceptionClass("NameError", excID, ErrNameError)
	vmachine.defineExceptionClass("UnboundLocalError", nameErrID, ErrUnboundLocalError)
	osErrID := vmachine.defineExceptionClass("OSError", excID, ErrOSError)
	vmachine.defineExceptionClass("FileNotFoundError", osErrID, ErrFileNotFoundError)
	vmachine.defineExceptionClass("PermissionError", osErrID, ErrPermissionError)

	// super and __build_class__ are loaded by dedicated opcodes (LOAD_SUPER*,
	// LOAD_BUILD_CLASS) that resolve them by name through the registry; both
	// are special-cased in callBuiltinValue/dispatch rather than ever running
	// the Fn registered here, but a BuiltinEntry still has to exist for the
	// by-name/by-id lookups to succeed.
	vmachine.Registry.RegisterBuiltin("super", 0, 2, func(_ registry.BuiltinCallContext, args []values.Value, kwargs map[uint32]values.Value) (values.Value, error) {
		return values.Value{}, RuntimeErrorf("super(): unexpected direct call")
	})
	vmachine.Registry.RegisterBuiltin("__build_class__", 2, -1, func(_ registry.BuiltinCallContext, args []values.Value, kwargs map[uint32]values.Value) (values.Value, error) {
		return vmachine.buildClass(args, kwargs)
	})

	vmachine.registerCoreBuiltins()
	vmachine.registerRandomModule()
	vmachine.registerContextlibModule()
}

// defineExceptionClass allocates an exception ClassObject, wires it into the
// hierarchy under parentID, and - if sentinel is non-nil - records the
// two-way mapping between it and the Go error sentinel so Raise()-built
// PyErrors can be materialized into real instances and vice versa.
func (vmachine *VirtualMachine) defineExceptionClass(name string, parentID heap.ID, sentinel error) heap.ID {
	parent, _ := vmachine.Heap.Get(parentID)
	parentCls := parent.(*values.ClassObject)
	cls := &values.ClassObject{
		Name: name, QualName: name,
		Bases: []heap.ID{parentID}, IsException: true, UID: newClassUUID(),
	}
	vmachine.Heap.IncRef(parentID)
	classID := vmachine.Heap.Allocate(cls)
	cls.MRO = append([]heap.ID{classID}, parentCls.MRO...)
	if sentinel != nil {
		vmachine.excClasses[sentinel] = classID
		vmachine.excClassOf[classID] = sentinel
	}
	return classID
}

// classForSentinel resolves the ClassObject id registered for a Go error
// sentinel, falling back to the class registered for ErrException, which is
// BaseException (or object, before
// Bootstrap has run - which should never happen in practice) when the
// sentinel is ErrInternalError or unrecognized.
func (vmachine *VirtualMachine) classForSentinel(sentinel error) heap.ID {
	if id, ok := vmachine.excClasses[sentinel]; ok {
		return id
	}
	if id, ok := vmachine.excClasses[ErrException]; ok {
		return id
	}
	return vmachine.ObjectClassID
}

// exceptionInstance materializes pe as a heap Instance (building and caching
// one the first time it's observed), so `except E as e` has a real object to
// bind and `e.args` / str(e) have somewhere to read from.
func (vmachine *VirtualMachine) exceptionInstance(pe *PyError) values.Value {
	if pe.Instance.Kind == values.KindRef {
		return vmachine.dupValue(pe.Instance)
	}
	classID := vmachine.classForSentinel(pe.Type)
	inst := &values.Instance{Class: classID, Dict: make(map[intern.StringID]values.Value)}
	vmachine.Heap.IncRef(classID)
	if pe.Message != "" {
		inst.ExceptionArgs = []values.Value{vmachine.NewStr(pe.Message)}
	}
	v := values.NewRef(vmachine.Heap.Allocate(inst))
	pe.Instance = vmachine.dupValue(v)
	return v
}

// IsInstanceOf reports whether v's runtime class is classID or a subclass of
// it, walking the MRO the way isinstance() does (spec §4.9's "data vs
// non-data descriptor" resolution reuses the same MRO walk via
// values.ResolveAttr; this is the type-checking sibling of that machinery).
func (vmachine *VirtualMachine) IsInstanceOf(v values.Value, classID heap.ID) bool {
	return sameOrSubclass(vmachine, v, classID)
}
