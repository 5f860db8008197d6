package vm

import (
	"github.com/parcadei/pyrt/heap"
	"github.com/parcadei/pyrt/intern"
	"github.com/parcadei/pyrt/values"
)

// buildClass implements __build_class__(func, name, *bases, metaclass=...),
// the runtime routine LOAD_BUILD_CLASS/CALL_FUNCTION drive for every `class`
// statement: run the class body (already compiled as an ordinary zero-arg
// function whose RETURN_VALUE yields its own local namespace as a dict, this
// VM's stand-in for CPython's frame-locals introspection), then hand the
// resulting attribute table to NewClass for C3 linearization and allocation.
func (vmachine *VirtualMachine) buildClass(args []values.Value, kwargs map[uint32]values.Value) (values.Value, error) {
	if len(args) < 2 {
		for _, a := range args {
			vmachine.dropValue(a)
		}
		return values.Value{}, TypeErrorf("__build_class__: not enough arguments")
	}
	bodyFn := args[0]
	nameV := args[1]
	baseVals := args[2:]

	name := vmachine.stringValueText(nameV)
	vmachine.dropValue(nameV)

	bases := make([]heap.ID, 0, len(baseVals))
	for _, b := range baseVals {
		id, ok := vmachine.classRefID(b)
		if !ok {
			vmachine.dropValue(bodyFn)
			for _, bv := range baseVals {
				vmachine.dropValue(bv)
			}
			return values.Value{}, TypeErrorf("__build_class__: bases must be classes")
		}
		bases = append(bases, id)
		vmachine.dropValue(b)
	}

	metaNameID := vmachine.Intern("metaclass")
	var metaclass heap.ID
	for k, v := range kwargs {
		if k != metaNameID {
			vmachine.dropValue(v)
			continue
		}
		id, ok := vmachine.classRefID(v)
		if !ok {
			vmachine.dropValue(bodyFn)
			vmachine.dropValue(v)
			return values.Value{}, TypeErrorf("metaclass must be a type")
		}
		metaclass = id
		vmachine.dropValue(v)
	}

	nsV, err := vmachine.Call(bodyFn, nil, nil)
	vmachine.dropValue(bodyFn)
	if err != nil {
		return values.Value{}, err
	}

	attrs, err := vmachine.namespaceDictToAttrs(nsV)
	vmachine.dropValue(nsV)
	if err != nil {
		return values.Value{}, err
	}

	return vmachine.NewClass(name, bases, metaclass, attrs)
}

// namespaceDictToAttrs converts a class body's returned namespace dict into
// the Descriptor map NewClass expects. Every entry becomes a plain
// (non-data, Kind: DescriptorNone) attribute; bindClassAttr's default path
// already binds a callable value as a method regardless of Descriptor.Kind,
// so staticmethod()/classmethod()/property() wrapping - which does need a
// distinct Descriptor.Kind - is left to the builtins that produce those
// wrapper objects rather than duplicated here.
func (vmachine *VirtualMachine) namespaceDictToAttrs(nsV values.Value) (map[intern.StringID]values.Descriptor, error) {
	if nsV.Kind != values.KindRef {
		return nil, TypeErrorf("__build_class__: class body did not return a namespace")
	}
	payload, live := vmachine.Heap.Get(nsV.HeapID)
	if !live {
		return nil, ReferenceErrorf("weakly-referenced object no longer exists")
	}
	d, ok := payload.(*values.Dict)
	if !ok {
		return nil, TypeErrorf("__build_class__: class body did not return a namespace dict")
	}
	attrs := make(map[intern.StringID]values.Descriptor, len(d.Entries))
	for _, e := range d.Entries {
		if !e.Alive || !e.Key.IsString() {
			continue
		}
		attrs[e.Key.AsStringID()] = values.Descriptor{Value: vmachine.dupValue(e.Val)}
	}
	return attrs, nil
}

// classRefID reports whether v is a Ref pointing at a ClassObject, returning
// its heap id.
func (vmachine *VirtualMachine) classRefID(v values.Value) (heap.ID, bool) {
	id, ok := refClassID(v)
	if !ok {
		return 0, false
	}
	if _, ok := vmachine.classOf(id); !ok {
		return 0, false
	}
	return id, true
}
