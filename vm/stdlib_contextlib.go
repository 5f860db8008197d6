package vm

import (
	"github.com/parcadei/pyrt/registry"
	"github.com/parcadei/pyrt/values"
)

// registerContextlibModule installs contextlib.ExitStack: a dynamic,
// LIFO-unwound stack of context managers/callbacks (values.ExitStack,
// unwound via ExitStackUnwind). ExitStack isn't a values.StdlibObject
// wrapper like Random - it's its own heap.Payload - so its method table is
// bound through a dedicated GetAttr case (attr.go's getExitStackAttr)
// rather than the registerStdlibMethod indirection Random uses.
func (vmachine *VirtualMachine) registerContextlibModule() {
	mod := vmachine.Registry.Module("contextlib")

	exitStackTypeID := vmachine.Registry.RegisterBuiltinType("ExitStack",
		func(_ registry.BuiltinCallContext, args []values.Value, _ map[uint32]values.Value) (values.Value, error) {
			vmachine.dropAll(args)
			return values.NewRef(vmachine.Heap.Allocate(&values.ExitStack{})), nil
		})
	mod.Register("ExitStack", func(_ registry.BuiltinCallContext, args []values.Value, kwargs map[uint32]values.Value) (values.Value, error) {
		entry, _ := vmachine.Registry.BuiltinTypeByID(exitStackTypeID)
		return entry.Constructor(vmachine, args, kwargs)
	})

	vmachine.exitStackMethods = map[string]exitStackMethod{
		"enter_context": vmachine.exitStackEnterContext,
		"callback":      vmachine.exitStackCallback,
		"push":          vmachine.exitStackPush,
		"pop_all":       vmachine.exitStackPopAll,
		"close":         vmachine.exitStackClose,
	}
}

// getExitStackAttr binds one of the fixed ExitStack method names into a
// BoundMethod; unlike StdlibObject's table this dispatches directly on Go
// closures rather than through the builtin registry, since these methods
// only ever apply to this one payload type.
func (vmachine *VirtualMachine) getExitStackAttr(self values.Value, nameID uint32) (values.Value, error) {
	name := vmachine.InternText(nameID)
	if _, ok := vmachine.exitStackMethods[name]; !ok {
		return values.Value{}, AttributeErrorf("'ExitStack' object has no attribute '%s'", name)
	}
	id := vmachine.exitStackMethodBuiltinID(name)
	return vmachine.makeBoundMethod(values.NewBuiltinFunction(id), self), nil
}

type exitStackMethod func(stack *values.ExitStack, args []values.Value) (values.Value, error)

// exitStackMethodBuiltinID lazily registers name as a real BuiltinEntry (so
// it can flow through the same KindBuiltin call path as every other
// builtin) the first time it's bound, caching the id on the VM.
func (vmachine *VirtualMachine) exitStackMethodBuiltinID(name string) uint32 {
	if vmachine.exitStackBuiltinIDs == nil {
		vmachine.exitStackBuiltinIDs = map[string]uint32{}
	}
	if id, ok := vmachine.exitStackBuiltinIDs[name]; ok {
		return id
	}
	method := vmachine.exitStackMethods[name]
	id := vmachine.Registry.RegisterBuiltin("ExitStack."+name, 1, -1,
		func(_ registry.BuiltinCallContext, args []values.Value, _ map[uint32]values.Value) (values.Value, error) {
			self := args[0]
			stack, err := vmachine.asExitStack(self)
			vmachine.dropValue(self)
			if err != nil {
				vmachine.dropAll(args[1:])
				return values.Value{}, err
			}
			return method(stack, args[1:])
		})
	vmachine.exitStackBuiltinIDs[name] = id
	return id
}

func (vmachine *VirtualMachine) asExitStack(v values.Value) (*values.ExitStack, error) {
	if v.Kind == values.KindRef {
		if payload, live := vmachine.Heap.Get(v.HeapID); live {
			if stack, ok := payload.(*values.ExitStack); ok {
				return stack, nil
			}
		}
	}
	return nil, TypeErrorf("descriptor 'enter_context' requires an 'ExitStack' object")
}

// exitStackEnterContext implements ExitStack.enter_context(cm): enters cm
// immediately and registers it for exit on unwind, returning the as-value
// the way a `with cm as x` statement would.
func (vmachine *VirtualMachine) exitStackEnterContext(stack *values.ExitStack, args []values.Value) (values.Value, error) {
	if len(args) != 1 {
		vmachine.dropAll(args)
		return values.Value{}, TypeErrorf("enter_context() takes exactly 1 argument")
	}
	cm := args[0]
	entered, err := vmachine.ContextEnter(cm)
	if err != nil {
		vmachine.dropValue(cm)
		return values.Value{}, err
	}
	stack.Push(values.ExitStackEntry{CM: cm})
	return entered, nil
}

// exitStackCallback implements ExitStack.callback(fn, *args): registers fn
// to run (with args) on unwind without an __enter__/__exit__ protocol,
// returning fn unchanged so it can be used as a decorator.
func (vmachine *VirtualMachine) exitStackCallback(stack *values.ExitStack, args []values.Value) (values.Value, error) {
	if len(args) < 1 {
		vmachine.dropAll(args)
		return values.Value{}, TypeErrorf("callback() takes at least 1 argument")
	}
	fn := args[0]
	callArgs := append([]values.Value(nil), args[1:]...)
	stack.Push(values.ExitStackEntry{Callback: vmachine.dupValue(fn), CallArgs: callArgs})
	return fn, nil
}

// exitStackPush implements ExitStack.push(cm): registers cm for exit
// without calling __enter__, for a context manager already entered
// elsewhere.
func (vmachine *VirtualMachine) exitStackPush(stack *values.ExitStack, args []values.Value) (values.Value, error) {
	if len(args) != 1 {
		vmachine.dropAll(args)
		return values.Value{}, TypeErrorf("push() takes exactly 1 argument")
	}
	cm := args[0]
	stack.Push(values.ExitStackEntry{CM: vmachine.dupValue(cm)})
	return cm, nil
}

// exitStackPopAll implements ExitStack.pop_all(): transfers every
// registered entry to a fresh ExitStack, leaving this one empty, so the
// caller can hand off ownership of cleanup to a new scope without running
// it now.
func (vmachine *VirtualMachine) exitStackPopAll(stack *values.ExitStack, args []values.Value) (values.Value, error) {
	vmachine.dropAll(args)
	// Entries move in registration order, not PopAll()'s LIFO-for-unwind
	// order, so a later close()/with-exit on the new stack reverses them
	// back to the correct LIFO sequence exactly once.
	fresh := &values.ExitStack{Entries: stack.Entries}
	stack.Entries = nil
	return values.NewRef(vmachine.Heap.Allocate(fresh)), nil
}

// exitStackClose implements ExitStack.close(): unwinds immediately with no
// active exception, raising whatever the unwind itself produced.
func (vmachine *VirtualMachine) exitStackClose(stack *values.ExitStack, args []values.Value) (values.Value, error) {
	vmachine.dropAll(args)
	remaining, err := vmachine.ExitStackUnwind(stack, nil)
	if err != nil {
		return values.Value{}, err
	}
	if remaining != nil {
		return values.Value{}, remaining
	}
	return values.NewNone(), nil
}
