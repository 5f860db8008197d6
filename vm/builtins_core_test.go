package vm

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/parcadei/pyrt/heap"
	"github.com/parcadei/pyrt/values"
)

// dup hands out another owned reference to a heap-resident Value, for
// reusing the same class/instance across several consuming calls in a test
// (every builtin call here takes ownership of its arguments, same as the
// real dispatch loop does).
func dup(vmachine *VirtualMachine, v values.Value) values.Value {
	if v.Kind == values.KindRef {
		vmachine.Heap.IncRef(v.HeapID)
	}
	return v
}

func callBuiltin(t *testing.T, vmachine *VirtualMachine, name string, args ...values.Value) values.Value {
	t.Helper()
	id, ok := vmachine.Registry.BuiltinByName(name)
	require.True(t, ok, "builtin %q not registered", name)
	result, err := vmachine.Call(values.NewBuiltinFunction(id), args, nil)
	require.NoError(t, err)
	return result
}

func intsOf(t *testing.T, vmachine *VirtualMachine, v values.Value) []int64 {
	t.Helper()
	payload, live := vmachine.Heap.Get(v.HeapID)
	require.True(t, live)
	list, ok := payload.(*values.List)
	require.True(t, ok, "expected *values.List, got %T", payload)
	out := make([]int64, len(list.Items))
	for i, it := range list.Items {
		out[i] = it.I
	}
	return out
}

func newIntList(vmachine *VirtualMachine, xs ...int64) values.Value {
	items := make([]values.Value, len(xs))
	for i, x := range xs {
		items[i] = values.NewInt(x)
	}
	return vmachine.NewList(items)
}

func TestBuiltinSum(t *testing.T) {
	vmachine := New()
	vmachine.Bootstrap()

	got := callBuiltin(t, vmachine, "sum", newIntList(vmachine, 1, 2, 3, 4))
	require.Equal(t, int64(10), got.I)
}

func TestBuiltinAnyAll(t *testing.T) {
	vmachine := New()
	vmachine.Bootstrap()

	require.True(t, callBuiltin(t, vmachine, "any", newIntList(vmachine, 0, 0, 1)).Truthy())
	require.False(t, callBuiltin(t, vmachine, "any", newIntList(vmachine, 0, 0, 0)).Truthy())
	require.True(t, callBuiltin(t, vmachine, "all", newIntList(vmachine, 1, 1, 1)).Truthy())
	require.False(t, callBuiltin(t, vmachine, "all", newIntList(vmachine, 1, 0, 1)).Truthy())
}

func TestBuiltinEnumerateZip(t *testing.T) {
	vmachine := New()
	vmachine.Bootstrap()

	zipped := callBuiltin(t, vmachine, "zip", newIntList(vmachine, 1, 2), newIntList(vmachine, 10, 20, 30))
	payload, live := vmachine.Heap.Get(zipped.HeapID)
	require.True(t, live)
	list := payload.(*values.List)
	require.Len(t, list.Items, 2, "zip stops at the shorter iterable")

	first, live := vmachine.Heap.Get(list.Items[0].HeapID)
	require.True(t, live)
	pair := first.(*values.Tuple)
	if diff := cmp.Diff([]int64{1, 10}, []int64{pair.Items[0].I, pair.Items[1].I}); diff != "" {
		t.Fatalf("zip pair mismatch (-want +got):\n%s", diff)
	}
}

func TestBuiltinIDStable(t *testing.T) {
	vmachine := New()
	vmachine.Bootstrap()

	v := values.NewInt(7)
	first := callBuiltin(t, vmachine, "id", v)
	second := callBuiltin(t, vmachine, "id", v)
	require.Equal(t, first.I, second.I, "id() must be stable across calls on the same value")

	other := callBuiltin(t, vmachine, "id", values.NewFloat(7))
	require.NotEqual(t, first.I, other.I, "int 7 and float 7.0 must not collide")
}

func TestBuiltinIsInstanceAndIsSubclass(t *testing.T) {
	vmachine := New()
	vmachine.Bootstrap()

	baseCls, err := vmachine.NewClass("Base", []heap.ID{vmachine.ObjectClassID}, vmachine.TypeClassID, nil)
	require.NoError(t, err)
	childCls, err := vmachine.NewClass("Child", []heap.ID{baseCls.HeapID}, vmachine.TypeClassID, nil)
	require.NoError(t, err)
	otherCls, err := vmachine.NewClass("Other", []heap.ID{vmachine.ObjectClassID}, vmachine.TypeClassID, nil)
	require.NoError(t, err)

	require.True(t, callBuiltin(t, vmachine, "issubclass", dup(vmachine, childCls), dup(vmachine, baseCls)).Truthy())
	require.False(t, callBuiltin(t, vmachine, "issubclass", dup(vmachine, baseCls), dup(vmachine, childCls)).Truthy())

	vmachine.Heap.IncRef(childCls.HeapID)
	inst := values.NewRef(vmachine.Heap.Allocate(&values.Instance{Class: childCls.HeapID}))
	require.True(t, callBuiltin(t, vmachine, "isinstance", dup(vmachine, inst), dup(vmachine, baseCls)).Truthy())
	require.False(t, callBuiltin(t, vmachine, "isinstance", inst, otherCls).Truthy())
}

func TestBuiltinSortedReverse(t *testing.T) {
	vmachine := New()
	vmachine.Bootstrap()

	sortedID, ok := vmachine.Registry.BuiltinByName("sorted")
	require.True(t, ok)
	reverseName := vmachine.Intern("reverse")

	list := newIntList(vmachine, 3, 1, 4, 1, 5)
	result, err := vmachine.CallFunction(values.NewBuiltinFunction(sortedID),
		GeneralArgs([]values.Value{list}, []KwEntry{{Name: reverseName, Val: values.NewBool(true)}}))
	require.NoError(t, err)

	rv, ok := result.(ResultValue)
	require.True(t, ok, "sorted() on plain ints must resolve synchronously, got %T", result)
	require.Equal(t, []int64{5, 4, 3, 1, 1}, intsOf(t, vmachine, rv.V))
}

func TestBuiltinMinMax(t *testing.T) {
	vmachine := New()
	vmachine.Bootstrap()

	minID, _ := vmachine.Registry.BuiltinByName("min")
	maxID, _ := vmachine.Registry.BuiltinByName("max")

	list := newIntList(vmachine, 3, 1, 4, 1, 5)
	minResult, err := vmachine.CallFunction(values.NewBuiltinFunction(minID), GeneralArgs([]values.Value{list}, nil))
	require.NoError(t, err)
	require.Equal(t, int64(1), minResult.(ResultValue).V.I)

	list2 := newIntList(vmachine, 3, 1, 4, 1, 5)
	maxResult, err := vmachine.CallFunction(values.NewBuiltinFunction(maxID), GeneralArgs([]values.Value{list2}, nil))
	require.NoError(t, err)
	require.Equal(t, int64(5), maxResult.(ResultValue).V.I)
}
