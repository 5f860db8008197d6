package vm

import "github.com/parcadei/pyrt/values"

// ArgKind discriminates ArgValues' cases. The 0/1/2-argument shapes avoid
// allocating a slice on the hot path (spec §4.6: "the 0/1/2 forms avoid
// allocation on the hot path").
type ArgKind byte

const (
	ArgEmpty ArgKind = iota
	ArgOne
	ArgTwo
	ArgKwargsOnly
	ArgGeneral // ArgsKwargs{args, kwargs}
)

// KwEntry is one keyword argument; small keyword sets are stored inline,
// large/dynamic ones spill into a Dict (spec §4.6: "Inline Vec<(StringId,
// Value)> for small sets, and a Dict for large/dynamic sets").
type KwEntry struct {
	Name uint32
	Val  values.Value
}

// ArgValues is the compact call-argument carrier the call opcodes build and
// every callable-shape handler consumes.
type ArgValues struct {
	Kind ArgKind

	One values.Value
	Two [2]values.Value

	// Args holds positionals for ArgGeneral; for ArgKwargsOnly it is empty.
	Args []values.Value

	// Kw holds keyword arguments inline; KwDict, when non-zero, names a heap
	// Dict payload for a large/dynamic keyword set (spec's "Dict for
	// large/dynamic sets" shape). Only HasKwargs and dropOwned look at
	// KwDict; IntoParts and the keyword lookups read Kw alone.
	Kw     []KwEntry
	KwDict values.Value
}

func EmptyArgs() ArgValues { return ArgValues{Kind: ArgEmpty} }

func OneArg(v values.Value) ArgValues { return ArgValues{Kind: ArgOne, One: v} }

func TwoArgs(a, b values.Value) ArgValues { return ArgValues{Kind: ArgTwo, Two: [2]values.Value{a, b}} }

func GeneralArgs(args []values.Value, kw []KwEntry) ArgValues {
	return ArgValues{Kind: ArgGeneral, Args: args, Kw: kw}
}

// Positional returns the positional arguments as a slice regardless of
// which case produced them. ArgOne allocates a one-element slice, ArgTwo
// slices its inline array, and ArgGeneral returns its own Args slice.
func (a ArgValues) Positional() []values.Value {
	switch a.Kind {
	case ArgEmpty, ArgKwargsOnly:
		return nil
	case ArgOne:
		return []values.Value{a.One}
	case ArgTwo:
		return a.Two[:]
	default:
		return a.Args
	}
}

func (a ArgValues) Len() int {
	switch a.Kind {
	case ArgEmpty, ArgKwargsOnly:
		return 0
	case ArgOne:
		return 1
	case ArgTwo:
		return 2
	default:
		return len(a.Args)
	}
}

func (a ArgValues) HasKwargs() bool {
	return len(a.Kw) > 0 || a.KwDict.Kind == values.KindRef
}

// dropOwned releases every owned Value this ArgValues carries. Parse
// helpers call this on the error path, matching spec §4.6: "which all drop
// excess owned values on error."
func (a ArgValues) dropOwned(vm *VirtualMachine) {
	for _, v := range a.Positional() {
		vm.dropValue(v)
	}
	for _, kw := range a.Kw {
		vm.dropValue(kw.Val)
	}
	vm.dropValue(a.KwDict)
}

// GetOneArg implements spec's get_one_arg(name): exactly one positional,
// no keywords.
func (vmachine *VirtualMachine) GetOneArg(a ArgValues, name string) (values.Value, error) {
	if a.HasKwargs() || a.Len() != 1 {
		a.dropOwned(vmachine)
		return values.Value{}, TypeErrorf("%s() takes exactly 1 argument (%d given)", name, a.Len())
	}
	return a.Positional()[0], nil
}

// GetTwoArgs implements get_two_args(name): exactly two positionals.
func (vmachine *VirtualMachine) GetTwoArgs(a ArgValues, name string) (values.Value, values.Value, error) {
	if a.HasKwargs() || a.Len() != 2 {
		a.dropOwned(vmachine)
		return values.Value{}, values.Value{}, TypeErrorf("%s() takes exactly 2 arguments (%d given)", name, a.Len())
	}
	pos := a.Positional()
	return pos[0], pos[1], nil
}

// GetOneOrTwoArgs implements get_one_two_args(name).
func (vmachine *VirtualMachine) GetOneOrTwoArgs(a ArgValues, name string) (values.Value, values.Value, bool, error) {
	if a.HasKwargs() || (a.Len() != 1 && a.Len() != 2) {
		a.dropOwned(vmachine)
		return values.Value{}, values.Value{}, false, TypeErrorf("%s() takes 1 or 2 arguments (%d given)", name, a.Len())
	}
	pos := a.Positional()
	if len(pos) == 1 {
		return pos[0], values.Value{}, false, nil
	}
	return pos[0], pos[1], true, nil
}

// GetZeroOrOneArg implements get_zero_one_arg(name).
func (vmachine *VirtualMachine) GetZeroOrOneArg(a ArgValues, name string) (values.Value, bool, error) {
	if a.HasKwargs() || (a.Len() != 0 && a.Len() != 1) {
		a.dropOwned(vmachine)
		return values.Value{}, false, TypeErrorf("%s() takes 0 or 1 arguments (%d given)", name, a.Len())
	}
	pos := a.Positional()
	if len(pos) == 0 {
		return values.Value{}, false, nil
	}
	return pos[0], true, nil
}

// CheckZeroArgs implements check_zero_args(name).
func (vmachine *VirtualMachine) CheckZeroArgs(a ArgValues, name string) error {
	if a.HasKwargs() || a.Len() != 0 {
		a.dropOwned(vmachine)
		return TypeErrorf("%s() takes no arguments (%d given)", name, a.Len())
	}
	return nil
}

// ExtractTwoKwargsOnly implements extract_two_kwargs_only(name, k1, k2):
// exactly two specific keyword arguments, no positionals.
func (vmachine *VirtualMachine) ExtractTwoKwargsOnly(a ArgValues, name string, k1, k2 uint32) (values.Value, values.Value, error) {
	if a.Len() != 0 {
		a.dropOwned(vmachine)
		return values.Value{}, values.Value{}, TypeErrorf("%s() takes no positional arguments", name)
	}
	var v1, v2 values.Value
	var found1, found2 bool
	for _, kw := range a.Kw {
		switch kw.Name {
		case k1:
			v1, found1 = kw.Val, true
		case k2:
			v2, found2 = kw.Val, true
		default:
			a.dropOwned(vmachine)
			return values.Value{}, values.Value{}, TypeErrorf("%s() got an unexpected keyword argument", name)
		}
	}
	if !found1 || !found2 {
		a.dropOwned(vmachine)
		return values.Value{}, values.Value{}, TypeErrorf("%s() missing required keyword arguments", name)
	}
	return v1, v2, nil
}

// IntoParts splits ArgValues into a positional slice and the keyword
// entries, the general-purpose escape hatch (spec's into_parts()) used by
// the full argument binder for DefFunction calls.
func (a ArgValues) IntoParts() ([]values.Value, []KwEntry) {
	return a.Positional(), a.Kw
}
