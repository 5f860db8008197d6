package vm

import (
	"github.com/google/uuid"
	"github.com/parcadei/pyrt/heap"
	"github.com/parcadei/pyrt/intern"
	"github.com/parcadei/pyrt/values"
)

// Instantiate implements calling a ClassObject (spec §4.9): resolve
// __new__ via MRO (falling back to the default object allocator when no
// user __new__ is defined), call it with (cls, *args, **kwargs), and -
// only if it produced an instance of cls or a subclass - call __init__ on
// the result. Both steps may themselves push a frame, so the two-stage
// handoff is recorded as a PendingNewCall when __new__ suspends.
func (vmachine *VirtualMachine) Instantiate(classID heap.ID, cls *values.ClassObject, args ArgValues) (CallResult, error) {
	newFn, hasNew := vmachine.resolveNew(cls)
	initFn, hasInit := vmachine.resolveInit(cls)

	pos, kw := args.IntoParts()

	if !hasNew {
		inst, err := vmachine.defaultNew(classID, cls)
		if err != nil {
			args.dropOwned(vmachine)
			return nil, err
		}
		if !hasInit {
			for _, v := range pos {
				vmachine.dropValue(v)
			}
			for _, e := range kw {
				vmachine.dropValue(e.Val)
			}
			return ResultValue{V: inst}, nil
		}
		initArgs := append([]values.Value{vmachine.dupValue(inst)}, pos...)
		result, err := vmachine.CallFunction(initFn, GeneralArgs(initArgs, kw))
		if err != nil {
			vmachine.dropValue(inst)
			return nil, err
		}
		switch r := result.(type) {
		case ResultFramePushed:
			pushed := vmachine.currentFrame()
			pushed.HasInit = true
			pushed.InitInstance = vmachine.dupValue(inst)
			vmachine.dropValue(inst)
			return r, nil
		case ResultValue:
			vmachine.dropValue(r.V)
			return ResultValue{V: inst}, nil
		}
		return nil, InternalErrorf("Instantiate: unexpected __init__ call result")
	}

	newArgs := append([]values.Value{values.NewRef(classID)}, pos...)
	vmachine.Heap.IncRef(classID)
	result, err := vmachine.CallFunction(newFn, GeneralArgs(newArgs, kw))
	if err != nil {
		return nil, err
	}

	pending := &PendingNewCall{ClassID: classID, InitFn: initFn, HaveInit: hasInit, Args: pos, Kw: kw}
	switch r := result.(type) {
	case ResultFramePushed:
		vmachine.currentFrame().Pending = pending
		return r, nil
	case ResultValue:
		final, done, err := pending.Resume(vmachine, r.V)
		if err != nil {
			return nil, err
		}
		if !done {
			return ResultFramePushed{FrameDepth: len(vmachine.frames) - 1}, nil
		}
		return ResultValue{V: final}, nil
	}
	return nil, InternalErrorf("Instantiate: unexpected __new__ call result")
}

func (vmachine *VirtualMachine) resolveNew(cls *values.ClassObject) (values.Value, bool) {
	nameID := vmachine.Interns.Intern("__new__")
	if d, owner, found := values.ResolveAttr(cls.MRO, nameID, vmachine.classLookup()); found {
		// object.__new__ itself is represented as a builtin with no override
		// recorded above it in the MRO; treat that boundary as "no user
		// __new__", letting defaultNew run instead.
		if owner == vmachine.ObjectClassID {
			return values.Value{}, false
		}
		return d.Value, true
	}
	return values.Value{}, false
}

func (vmachine *VirtualMachine) resolveInit(cls *values.ClassObject) (values.Value, bool) {
	nameID := vmachine.Interns.Intern("__init__")
	if d, owner, found := values.ResolveAttr(cls.MRO, nameID, vmachine.classLookup()); found && owner != vmachine.ObjectClassID {
		return d.Value, true
	}
	return values.Value{}, false
}

// defaultNew allocates a fresh Instance with an empty dict (or zeroed
// slots, if cls declares __slots__), matching object.__new__.
func (vmachine *VirtualMachine) defaultNew(classID heap.ID, cls *values.ClassObject) (values.Value, error) {
	inst := &values.Instance{Class: classID}
	vmachine.Heap.IncRef(classID)
	if cls.Slots != nil {
		inst.Slots = make(map[intern.StringID]values.Value, len(cls.Slots))
		for _, s := range cls.Slots {
			inst.Slots[s] = values.NewUndefined()
		}
	} else {
		inst.Dict = make(map[intern.StringID]values.Value)
	}
	if cls.IsException {
		inst.ExceptionArgs = nil
	}
	return values.NewRef(vmachine.Heap.Allocate(inst)), nil
}

// NewClass implements the `class C(Bases...):` statement's runtime
// behavior (spec §4.9's construction path run once per class body): given
// an already-executed class body's namespace (its assigned attributes) and
// resolved bases, linearize the MRO and allocate the ClassObject.
func (vmachine *VirtualMachine) NewClass(name string, bases []heap.ID, metaclass heap.ID, attrs map[intern.StringID]values.Descriptor) (values.Value, error) {
	cls := &values.ClassObject{
		Name:      name,
		QualName:  name,
		Metaclass: metaclass,
		Bases:     bases,
		Attrs:     attrs,
		UID:       newClassUUID(),
	}
	for _, b := range bases {
		vmachine.Heap.IncRef(b)
	}
	if metaclass != 0 {
		vmachine.Heap.IncRef(metaclass)
	}
	mro, err := values.C3Linearize(0, bases, vmachine.classLookup())
	if err != nil {
		for _, b := range bases {
			vmachine.Heap.DecRef(b)
		}
		if metaclass != 0 {
			vmachine.Heap.DecRef(metaclass)
		}
		return values.Value{}, TypeErrorf("%v", err)
	}
	classID := vmachine.Heap.Allocate(cls)
	// self id (0 placeholder from C3Linearize above) must be the real
	// allocated id; recompute with the concrete id now that it's known.
	realMRO, err := values.C3Linearize(classID, bases, vmachine.classLookup())
	if err != nil {
		vmachine.Heap.DecRef(classID)
		return values.Value{}, TypeErrorf("%v", err)
	}
	cls.MRO = realMRO
	if eq, ok := cls.Attrs[intern.SEq]; ok {
		_, hasHash := cls.Attrs[intern.SHash]
		if !hasHash {
			cls.HashSuppressed = true
		}
		_ = eq
	}
	return values.NewRef(classID), nil
}

func newClassUUID() uuid.UUID { return uuid.New() }
