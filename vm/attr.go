package vm

import (
	"github.com/parcadei/pyrt/heap"
	"github.com/parcadei/pyrt/intern"
	"github.com/parcadei/pyrt/values"
)

func intStringID(nameID uint32) intern.StringID { return intern.StringID(nameID) }

// classOf resolves an Instance's dynamic ClassObject, or ok=false if the
// class slot is dangling (should not happen under correct refcounting).
func (vmachine *VirtualMachine) classOf(classID heap.ID) (*values.ClassObject, bool) {
	payload, live := vmachine.Heap.Get(classID)
	if !live {
		return nil, false
	}
	co, ok := payload.(*values.ClassObject)
	return co, ok
}

func (vmachine *VirtualMachine) classLookup() values.ClassLookup {
	return vmachine.classOf
}

// GetAttr implements instance/class/super attribute retrieval (spec §4.7):
// data descriptors found in the MRO shadow the instance dict; otherwise the
// instance dict wins over non-data descriptors; a plain DefFunction/Builtin
// found only on the class is bound into a BoundMethod.
func (vmachine *VirtualMachine) GetAttr(obj values.Value, nameID uint32) (values.Value, error) {
	if obj.Kind != values.KindRef {
		return values.Value{}, AttributeErrorf("'%s' object has no attribute '%s'", vmachine.TypeName(obj), vmachine.InternText(nameID))
	}
	payload, live := vmachine.Heap.Get(obj.HeapID)
	if !live {
		return values.Value{}, ReferenceErrorf("weakly-referenced object no longer exists")
	}

	switch p := payload.(type) {
	case *values.Instance:
		return vmachine.getInstanceAttr(obj, p, nameID)
	case *values.ClassObject:
		return vmachine.getClassAttr(obj.HeapID, p, nameID)
	case *values.SuperProxy:
		return vmachine.getSuperAttr(p, nameID)
	case *values.StdlibObject:
		return vmachine.getStdlibObjectAttr(obj, p, nameID)
	case *values.ExitStack:
		return vmachine.getExitStackAttr(obj, nameID)
	default:
		return values.Value{}, AttributeErrorf("'%s' object has no attribute '%s'", vmachine.TypeName(obj), vmachine.InternText(nameID))
	}
}

// getStdlibObjectAttr binds a stdlib-module native type's method table
// (registered via vmachine.registerStdlibMethod) into a BoundMethod, the
// same shape attribute lookup produces for ordinary Python methods.
func (vmachine *VirtualMachine) getStdlibObjectAttr(self values.Value, obj *values.StdlibObject, nameID uint32) (values.Value, error) {
	name := vmachine.InternText(nameID)
	id, ok := vmachine.stdlibMethodID(obj.TypeName, name)
	if !ok {
		return values.Value{}, AttributeErrorf("'%s' object has no attribute '%s'", obj.TypeName, name)
	}
	return vmachine.makeBoundMethod(values.NewBuiltinFunction(id), self), nil
}

// getInstanceAttrCached is LOAD_ATTR's entry point: it consults the
// per-site inline cache before paying for a full MRO walk. A hit only
// covers the "found on the class" half of getInstanceAttr (data
// descriptors and the bind-to-method fallback); the instance dict is
// always checked fresh since instance attributes aren't site-stable the
// way a class's method layout is.
func (vmachine *VirtualMachine) getInstanceAttrCached(frame *CallFrame, self values.Value, inst *values.Instance, nameID uint32) (values.Value, error) {
	nid := intStringID(nameID)
	gen := vmachine.Heap.Generation(inst.Class)
	if ownerID, hit := vmachine.caches.lookup(frame.FuncID, frame.IP, inst.Class, gen); hit {
		owner, ok := vmachine.classOf(ownerID)
		if ok {
			if desc, ok := owner.Attrs[nid]; ok {
				if desc.IsDataDescriptor() {
					return vmachine.invokeDescriptorGet(desc, self, values.NewRef(inst.Class))
				}
				if v, ok := inst.Get(nid); ok {
					return vmachine.dupValue(v), nil
				}
				return vmachine.bindClassAttr(desc, self, values.NewRef(inst.Class))
			}
		}
	}

	cls, ok := vmachine.classOf(inst.Class)
	if !ok {
		return values.Value{}, InternalErrorf("instance has dangling class reference")
	}
	desc, owner, foundInClass := values.ResolveAttr(cls.MRO, nid, vmachine.classLookup())
	if foundInClass {
		vmachine.caches.store(frame.FuncID, frame.IP, inst.Class, gen, owner)
		if desc.IsDataDescriptor() {
			return vmachine.invokeDescriptorGet(desc, self, values.NewRef(inst.Class))
		}
	}
	if v, ok := inst.Get(nid); ok {
		return vmachine.dupValue(v), nil
	}
	if foundInClass {
		return vmachine.bindClassAttr(desc, self, values.NewRef(inst.Class))
	}
	return values.Value{}, AttributeErrorf("'%s' object has no attribute '%s'", cls.Name, vmachine.InternText(nameID))
}

func (vmachine *VirtualMachine) getInstanceAttr(self values.Value, inst *values.Instance, nameID uint32) (values.Value, error) {
	cls, ok := vmachine.classOf(inst.Class)
	if !ok {
		return values.Value{}, InternalErrorf("instance has dangling class reference")
	}

	nid := intStringID(nameID)
	desc, _, foundInClass := values.ResolveAttr(cls.MRO, nid, vmachine.classLookup())
	if foundInClass && desc.IsDataDescriptor() {
		return vmachine.invokeDescriptorGet(desc, self, values.NewRef(inst.Class))
	}

	if v, ok := inst.Get(nid); ok {
		return vmachine.dupValue(v), nil
	}

	if foundInClass {
		return vmachine.bindClassAttr(desc, self, values.NewRef(inst.Class))
	}

	return values.Value{}, AttributeErrorf("'%s' object has no attribute '%s'", cls.Name, vmachine.InternText(nameID))
}

func (vmachine *VirtualMachine) getClassAttr(classID heap.ID, cls *values.ClassObject, nameID uint32) (values.Value, error) {
	nid := intStringID(nameID)

	if cls.HasMetaclass() {
		if meta, ok := vmachine.classOf(cls.Metaclass); ok {
			if d, _, ok := values.ResolveAttr(meta.MRO, nid, vmachine.classLookup()); ok && d.IsDescriptor() {
				return vmachine.invokeDescriptorGet(d, values.NewRef(classID), values.NewRef(cls.Metaclass))
			}
		}
	}

	desc, _, ok := values.ResolveAttr(cls.MRO, nid, vmachine.classLookup())
	if !ok {
		return values.Value{}, AttributeErrorf("type object '%s' has no attribute '%s'", cls.Name, vmachine.InternText(nameID))
	}
	return vmachine.bindClassAttr(desc, values.Value{}, values.NewRef(classID))
}

func (vmachine *VirtualMachine) getSuperAttr(proxy *values.SuperProxy, nameID uint32) (values.Value, error) {
	rest, err := proxy.MRORemainderAfter(vmachine.classLookup())
	if err != nil {
		return values.Value{}, InternalErrorf("%v", err)
	}
	nid := intStringID(nameID)
	desc, _, ok := values.ResolveAttr(rest, nid, vmachine.classLookup())
	if !ok {
		return values.Value{}, AttributeErrorf("'super' object has no attribute '%s'", vmachine.InternText(nameID))
	}
	return vmachine.bindClassAttr(desc, proxy.Instance, values.NewRef(proxy.BoundType))
}

// bindClassAttr applies the non-data-descriptor binding rules: StaticMethod
// returns the raw function; ClassMethod binds to the class; a plain
// DefFunction/Builtin/Closure binds to the instance (or is returned
// unbound, for a class-level lookup with no instance).
func (vmachine *VirtualMachine) bindClassAttr(desc values.Descriptor, self values.Value, owner values.Value) (values.Value, error) {
	switch desc.Kind {
	case values.DescriptorStaticMethod:
		return vmachine.dupValue(desc.Value), nil
	case values.DescriptorClassMethod:
		return vmachine.makeBoundMethod(desc.Value, owner), nil
	case values.DescriptorUserProperty, values.DescriptorPropertyAccessor:
		return vmachine.invokeDescriptorGet(desc, self, owner)
	default:
		if isCallableShape(desc.Value) && self.Kind == values.KindRef {
			return vmachine.makeBoundMethod(desc.Value, self), nil
		}
		if desc.Value.Kind == values.KindRef && self.Kind == values.KindRef {
			if p, live := vmachine.Heap.Get(desc.Value.HeapID); live {
				if _, ok := p.(*values.Closure); ok {
					return vmachine.makeBoundMethod(desc.Value, self), nil
				}
			}
		}
		return vmachine.dupValue(desc.Value), nil
	}
}

func isCallableShape(v values.Value) bool {
	switch v.Kind {
	case values.KindDefFunction, values.KindBuiltin, values.KindExtFunction, values.KindModuleFunction:
		return true
	default:
		return false
	}
}

func (vmachine *VirtualMachine) makeBoundMethod(fn values.Value, self values.Value) values.Value {
	vmachine.dupValue(fn)
	vmachine.dupValue(self)
	return values.NewRef(vmachine.Heap.Allocate(&values.BoundMethod{Func: fn, Self: self}))
}

// invokeDescriptorGet dispatches a UserProperty/PropertyAccessor's fget; a
// __get__ method on the descriptor value is not consulted. PropertyAccessor
// without fget is an AttributeError per spec §4.7.
func (vmachine *VirtualMachine) invokeDescriptorGet(desc values.Descriptor, self values.Value, owner values.Value) (values.Value, error) {
	if desc.Fget.Kind == values.KindUndefined || desc.Fget.IsNone() {
		return values.Value{}, AttributeErrorf("unreadable attribute")
	}
	return vmachine.Call(desc.Fget, []values.Value{self}, nil)
}

// SetAttr implements attribute assignment (spec §4.7): data descriptors
// intercept via fset/__set__; otherwise the instance dict/slot is mutated
// directly.
func (vmachine *VirtualMachine) SetAttr(obj values.Value, nameID uint32, val values.Value) error {
	if obj.Kind != values.KindRef {
		return AttributeErrorf("'%s' object has no attribute '%s'", vmachine.TypeName(obj), vmachine.InternText(nameID))
	}
	payload, live := vmachine.Heap.Get(obj.HeapID)
	if !live {
		return ReferenceErrorf("weakly-referenced object no longer exists")
	}
	inst, ok := payload.(*values.Instance)
	if !ok {
		return AttributeErrorf("'%s' object attribute '%s' is read-only", vmachine.TypeName(obj), vmachine.InternText(nameID))
	}
	cls, ok := vmachine.classOf(inst.Class)
	if !ok {
		return InternalErrorf("instance has dangling class reference")
	}
	nid := intStringID(nameID)
	if desc, _, ok := values.ResolveAttr(cls.MRO, nid, vmachine.classLookup()); ok && desc.IsDataDescriptor() {
		if desc.Fset.Kind == values.KindUndefined || desc.Fset.IsNone() {
			return AttributeErrorf("can't set attribute")
		}
		_, err := vmachine.Call(desc.Fset, []values.Value{obj, val}, nil)
		return err
	}

	vmachine.dupValue(val)
	return vmachine.Heap.WithEntryMut(obj.HeapID, func(p heap.Payload) heap.Payload {
		instAgain := p.(*values.Instance)
		if instAgain.Slots != nil {
			if _, isSlot := instAgain.Slots[nid]; isSlot {
				if old, ok := instAgain.Slots[nid]; ok {
					vmachine.dropValue(old)
				}
				instAgain.Slots[nid] = val
				return instAgain
			}
		}
		if instAgain.Dict == nil {
			instAgain.Dict = make(map[intern.StringID]values.Value)
		}
		if old, ok := instAgain.Dict[nid]; ok {
			vmachine.dropValue(old)
		}
		instAgain.Dict[nid] = val
		if val.Kind == values.KindRef {
			vmachine.Heap.MarkPotentialCycle()
		}
		return instAgain
	})
}

// DeleteAttr implements spec's __delattr__ fallback path.
func (vmachine *VirtualMachine) DeleteAttr(obj values.Value, nameID uint32) error {
	if obj.Kind != values.KindRef {
		return AttributeErrorf("'%s' object has no attribute '%s'", vmachine.TypeName(obj), vmachine.InternText(nameID))
	}
	nid := intStringID(nameID)
	var errOut error
	err := vmachine.Heap.WithEntryMut(obj.HeapID, func(p heap.Payload) heap.Payload {
		inst, ok := p.(*values.Instance)
		if !ok {
			errOut = AttributeErrorf("can't delete attribute")
			return nil
		}
		if v, ok := inst.Dict[nid]; ok {
			vmachine.dropValue(v)
			delete(inst.Dict, nid)
			return inst
		}
		errOut = AttributeErrorf("'%s' object has no attribute to delete", vmachine.TypeName(obj))
		return nil
	})
	if err != nil {
		return err
	}
	return errOut
}
