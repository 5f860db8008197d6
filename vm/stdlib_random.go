package vm

import (
	"github.com/parcadei/pyrt/heap"
	"github.com/parcadei/pyrt/registry"
	"github.com/parcadei/pyrt/stdlib/random"
	"github.com/parcadei/pyrt/values"
)

// registerRandomModule installs the `random` module's free functions and its
// `Random` class (spec §2's "RNG (exemplar module)", supplemented per
// SPEC_FULL.md C.1 from original_source's modules/random_mod.rs): a
// process-wide default generator backs the free functions, matching
// CPython's module-level `_inst = Random()`, while `Random()` instances get
// their own independent generator state held in a values.StdlibObject heap
// payload (the concrete vehicle for "per-instance state persistence" in a
// stdlib-style module the ambient spec only gestures at).
func (vmachine *VirtualMachine) registerRandomModule() {
	if vmachine.defaultRandom == nil {
		vmachine.defaultRandom = random.New(1)
	}
	mod := vmachine.Registry.Module("random")

	mod.Register("random", func(registry.BuiltinCallContext, []values.Value, map[uint32]values.Value) (values.Value, error) {
		return values.NewFloat(vmachine.defaultRandom.Float64()), nil
	})
	mod.Register("seed", func(_ registry.BuiltinCallContext, args []values.Value, _ map[uint32]values.Value) (values.Value, error) {
		seed := int64(0)
		if len(args) > 0 {
			seed = args[0].AsInt()
		}
		vmachine.defaultRandom.Seed(seed)
		vmachine.dropAll(args)
		return values.NewNone(), nil
	})
	mod.Register("uniform", func(_ registry.BuiltinCallContext, args []values.Value, _ map[uint32]values.Value) (values.Value, error) {
		a, b, err := vmachine.twoFloatArgs(args, "uniform")
		if err != nil {
			return values.Value{}, err
		}
		return values.NewFloat(vmachine.defaultRandom.Uniform(a, b)), nil
	})
	mod.Register("randint", func(_ registry.BuiltinCallContext, args []values.Value, _ map[uint32]values.Value) (values.Value, error) {
		a, b, err := vmachine.twoIntArgs(args, "randint")
		if err != nil {
			return values.Value{}, err
		}
		return values.NewInt(vmachine.defaultRandom.RandInt(a, b)), nil
	})
	mod.Register("choice", func(_ registry.BuiltinCallContext, args []values.Value, _ map[uint32]values.Value) (values.Value, error) {
		return vmachine.randomChoice(args)
	})
	mod.Register("shuffle", func(_ registry.BuiltinCallContext, args []values.Value, _ map[uint32]values.Value) (values.Value, error) {
		return vmachine.randomShuffle(args)
	})

	randomTypeID := vmachine.Registry.RegisterBuiltinType("Random", func(_ registry.BuiltinCallContext, args []values.Value, _ map[uint32]values.Value) (values.Value, error) {
		seed := int64(1)
		if len(args) > 0 {
			seed = args[0].AsInt()
		}
		vmachine.dropAll(args)
		obj := &values.StdlibObject{TypeName: "Random", State: random.New(seed)}
		return values.NewRef(vmachine.Heap.Allocate(obj)), nil
	})
	_ = randomTypeID

	vmachine.registerStdlibMethod("Random", "random", vmachine.Registry.RegisterBuiltin("Random.random", 1, 1,
		func(_ registry.BuiltinCallContext, args []values.Value, _ map[uint32]values.Value) (values.Value, error) {
			g, err := vmachine.selfRandomGen(args)
			if err != nil {
				return values.Value{}, err
			}
			return values.NewFloat(g.Float64()), nil
		}))
	vmachine.registerStdlibMethod("Random", "seed", vmachine.Registry.RegisterBuiltin("Random.seed", 1, 2,
		func(_ registry.BuiltinCallContext, args []values.Value, _ map[uint32]values.Value) (values.Value, error) {
			g, err := vmachine.selfRandomGen(args)
			if err != nil {
				return values.Value{}, err
			}
			seed := int64(0)
			if len(args) > 1 {
				seed = args[1].AsInt()
			}
			g.Seed(seed)
			vmachine.dropAll(args)
			return values.NewNone(), nil
		}))
	vmachine.registerStdlibMethod("Random", "uniform", vmachine.Registry.RegisterBuiltin("Random.uniform", 3, 3,
		func(_ registry.BuiltinCallContext, args []values.Value, _ map[uint32]values.Value) (values.Value, error) {
			g, err := vmachine.selfRandomGen(args)
			if err != nil {
				return values.Value{}, err
			}
			a, b, err := vmachine.twoFloatArgs(args[1:], "uniform")
			if err != nil {
				return values.Value{}, err
			}
			return values.NewFloat(g.Uniform(a, b)), nil
		}))
	vmachine.registerStdlibMethod("Random", "randint", vmachine.Registry.RegisterBuiltin("Random.randint", 3, 3,
		func(_ registry.BuiltinCallContext, args []values.Value, _ map[uint32]values.Value) (values.Value, error) {
			g, err := vmachine.selfRandomGen(args)
			if err != nil {
				return values.Value{}, err
			}
			a, b, err := vmachine.twoIntArgs(args[1:], "randint")
			if err != nil {
				return values.Value{}, err
			}
			return values.NewInt(g.RandInt(a, b)), nil
		}))
}

func (vmachine *VirtualMachine) dropAll(vs []values.Value) {
	for _, v := range vs {
		vmachine.dropValue(v)
	}
}

func (vmachine *VirtualMachine) selfRandomGen(args []values.Value) (*random.Generator, error) {
	if len(args) == 0 || args[0].Kind != values.KindRef {
		return nil, TypeErrorf("Random method called without a bound instance")
	}
	payload, live := vmachine.Heap.Get(args[0].HeapID)
	if !live {
		return nil, ReferenceErrorf("weakly-referenced object no longer exists")
	}
	obj, ok := payload.(*values.StdlibObject)
	if !ok {
		return nil, TypeErrorf("expected a Random instance")
	}
	g, ok := obj.State.(*random.Generator)
	if !ok {
		return nil, InternalErrorf("Random instance missing generator state")
	}
	vmachine.dropValue(args[0])
	return g, nil
}

func (vmachine *VirtualMachine) twoFloatArgs(args []values.Value, name string) (float64, float64, error) {
	if len(args) != 2 {
		return 0, 0, TypeErrorf("%s() takes exactly 2 arguments", name)
	}
	a, b := args[0].AsNumericFloat(), args[1].AsNumericFloat()
	vmachine.dropAll(args)
	return a, b, nil
}

func (vmachine *VirtualMachine) twoIntArgs(args []values.Value, name string) (int64, int64, error) {
	if len(args) != 2 {
		return 0, 0, TypeErrorf("%s() takes exactly 2 arguments", name)
	}
	a, b := args[0].AsInt(), args[1].AsInt()
	vmachine.dropAll(args)
	return a, b, nil
}

func (vmachine *VirtualMachine) randomChoice(args []values.Value) (values.Value, error) {
	if len(args) != 1 {
		return values.Value{}, TypeErrorf("choice() takes exactly one argument")
	}
	seq := args[0]
	items, err := vmachine.sequenceItemsReadOnly(seq)
	vmachine.dropValue(seq)
	if err != nil {
		return values.Value{}, err
	}
	if len(items) == 0 {
		return values.Value{}, IndexErrorf("Cannot choose from an empty sequence")
	}
	idx := vmachine.defaultRandom.ChoiceIndex(len(items))
	return vmachine.dupValue(items[idx]), nil
}

func (vmachine *VirtualMachine) randomShuffle(args []values.Value) (values.Value, error) {
	if len(args) != 1 {
		return values.Value{}, TypeErrorf("shuffle() takes exactly one argument")
	}
	seq := args[0]
	if seq.Kind != values.KindRef {
		vmachine.dropValue(seq)
		return values.Value{}, TypeErrorf("shuffle() argument must be a mutable sequence")
	}
	err := vmachine.Heap.WithEntryMut(seq.HeapID, func(p heap.Payload) heap.Payload {
		list, ok := p.(*values.List)
		if !ok {
			return p
		}
		vmachine.defaultRandom.ShuffleIndices(func(i, j int) {
			list.Items[i], list.Items[j] = list.Items[j], list.Items[i]
		}, len(list.Items))
		return list
	})
	vmachine.dropValue(seq)
	if err != nil {
		return values.Value{}, err
	}
	return values.NewNone(), nil
}

// sequenceItemsReadOnly returns the backing item slice of a list/tuple
// without transferring ownership (caller keeps borrowing, does not own the
// returned values individually).
func (vmachine *VirtualMachine) sequenceItemsReadOnly(seq values.Value) ([]values.Value, error) {
	if seq.Kind != values.KindRef {
		return nil, TypeErrorf("object of type '%s' is not a sequence", vmachine.TypeName(seq))
	}
	payload, live := vmachine.Heap.Get(seq.HeapID)
	if !live {
		return nil, ReferenceErrorf("weakly-referenced object no longer exists")
	}
	switch p := payload.(type) {
	case *values.List:
		return p.Items, nil
	case *values.Tuple:
		return p.Items, nil
	default:
		return nil, TypeErrorf("object of type '%s' is not a sequence", vmachine.TypeName(seq))
	}
}
