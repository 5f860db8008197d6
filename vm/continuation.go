package vm

import (
	"github.com/parcadei/pyrt/heap"
	"github.com/parcadei/pyrt/values"
)

// PendingOp is a suspended higher-order operation recorded on a CallFrame
// (spec §4.8): whenever a builtin needs to invoke Python-level code that
// might itself push a frame (a sort key, a map callback, a generator's
// __next__), the builtin returns control to the dispatch loop instead of
// recursing natively, and records a PendingOp describing how to pick the
// work back up once the pushed frame returns. Resume is called with the
// value the pushed frame produced; it either finishes the operation
// (returning a final value) or drives one more step (pushing another
// frame and returning ok=false to stay pending).
type PendingOp interface {
	// Resume consumes the just-returned frame value and continues the
	// suspended operation. done=true means the operation is complete and
	// result is the value to push onto the now-current frame's stack;
	// done=false means another frame was pushed (via vmachine.pushFrame)
	// and the same PendingOp should remain attached until it returns again.
	Resume(vmachine *VirtualMachine, returned values.Value) (result values.Value, done bool, err error)

	// Abort releases any owned Values this pending operation still holds,
	// called when the frame it's attached to is unwound by an exception
	// instead of completing normally.
	Abort(vmachine *VirtualMachine)
}

// PendingBinaryDunder resumes a binary-operator dispatch (spec §4.12) after
// the forward dunder call returns: if the result is NotImplemented and the
// operand types differ, it retries with the reflected method; otherwise it
// is done.
type PendingBinaryDunder struct {
	Pair         dunderPair
	Lhs, Rhs     values.Value
	TriedReflect bool
}

func (p *PendingBinaryDunder) Resume(vmachine *VirtualMachine, returned values.Value) (values.Value, bool, error) {
	if !returned.IsNotImplemented() {
		vmachine.dropValue(p.Lhs)
		vmachine.dropValue(p.Rhs)
		return returned, true, nil
	}
	if !p.TriedReflect && !vmachine.sameRuntimeType(p.Lhs, p.Rhs) {
		if fn, _, found := vmachine.typeDunder(p.Rhs, p.Pair.Reflected); found {
			p.TriedReflect = true
			result, err := vmachine.CallFunction(fn, TwoArgs(vmachine.dupValue(p.Rhs), vmachine.dupValue(p.Lhs)))
			if err != nil {
				vmachine.dropValue(p.Lhs)
				vmachine.dropValue(p.Rhs)
				return values.Value{}, false, err
			}
			if fp, ok := result.(ResultFramePushed); ok {
				vmachine.currentFrame().Pending = p
				_ = fp
				return values.Value{}, false, nil
			}
			if rv, ok := result.(ResultValue); ok {
				return p.Resume(vmachine, rv.V)
			}
		}
	}
	vmachine.dropValue(p.Lhs)
	vmachine.dropValue(p.Rhs)
	return values.Value{}, true, TypeErrorf("unsupported operand type(s) for %s: '%s' and '%s'",
		p.Pair.Symbol, vmachine.TypeName(p.Lhs), vmachine.TypeName(p.Rhs))
}

func (p *PendingBinaryDunder) Abort(vmachine *VirtualMachine) {
	vmachine.dropValue(p.Lhs)
	vmachine.dropValue(p.Rhs)
}

// PendingInPlaceDunder resumes an in-place operator dispatch (spec §4.12)
// after the __iop__ call returns: NotImplemented falls back to the full
// binary protocol (BinaryOp), which may itself suspend via a freshly
// attached PendingBinaryDunder.
type PendingInPlaceDunder struct {
	Op       string
	Lhs, Rhs values.Value
}

func (p *PendingInPlaceDunder) Resume(vmachine *VirtualMachine, returned values.Value) (values.Value, bool, error) {
	if !returned.IsNotImplemented() {
		vmachine.dropValue(p.Lhs)
		vmachine.dropValue(p.Rhs)
		return returned, true, nil
	}
	result, err := vmachine.BinaryOp(p.Op, p.Lhs, p.Rhs)
	if err != nil {
		return values.Value{}, true, err
	}
	switch r := result.(type) {
	case ResultFramePushed:
		_ = r
		return values.Value{}, false, nil
	case ResultValue:
		return r.V, true, nil
	default:
		return values.Value{}, true, InternalErrorf("PendingInPlaceDunder: unexpected call result")
	}
}

func (p *PendingInPlaceDunder) Abort(vmachine *VirtualMachine) {
	vmachine.dropValue(p.Lhs)
	vmachine.dropValue(p.Rhs)
}

// PendingCollectNext drives a generic "call a callable once per source
// item, collect results" operation: map(), filter(), and the eager
// materialization of a generator-backed list() all reduce to this same
// shape (spec §4.8: "never recurse through the host interpreter for
// callbacks"). Filter mode keeps the original item when the callback is
// truthy instead of collecting the callback's return value.
type PendingCollectNext struct {
	Callable   values.Value
	Source     []values.Value
	Index      int
	Collected  []values.Value
	FilterMode bool
	ResultKind CollectResultKind
}

// CollectResultKind selects how PendingCollectNext packages its final
// Collected slice.
type CollectResultKind byte

const (
	CollectAsList CollectResultKind = iota
	CollectAsTuple
	CollectSum
)

func (p *PendingCollectNext) Abort(vmachine *VirtualMachine) {
	for _, v := range p.Source[p.Index:] {
		vmachine.dropValue(v)
	}
	for _, v := range p.Collected {
		vmachine.dropValue(v)
	}
	vmachine.dropValue(p.Callable)
}

func (p *PendingCollectNext) Resume(vmachine *VirtualMachine, returned values.Value) (values.Value, bool, error) {
	if p.Index > 0 {
		if p.FilterMode {
			truthy, err := vmachine.Truthy(returned)
			if err != nil {
				p.Abort(vmachine)
				return values.Value{}, true, err
			}
			item := p.Source[p.Index-1]
			if truthy {
				p.Collected = append(p.Collected, item)
			} else {
				vmachine.dropValue(item)
			}
		} else {
			p.Collected = append(p.Collected, returned)
		}
	}
	return p.step(vmachine)
}

func (p *PendingCollectNext) step(vmachine *VirtualMachine) (values.Value, bool, error) {
	for p.Index < len(p.Source) {
		item := p.Source[p.Index]
		p.Index++
		result, err := vmachine.CallFunction(p.Callable, OneArg(vmachine.dupValue(item)))
		if err != nil {
			p.Abort(vmachine)
			return values.Value{}, true, err
		}
		switch r := result.(type) {
		case ResultFramePushed:
			vmachine.currentFrame().Pending = p
			return values.Value{}, false, nil
		case ResultValue:
			if p.FilterMode {
				truthy, err := vmachine.Truthy(r.V)
				if err != nil {
					p.Abort(vmachine)
					return values.Value{}, true, err
				}
				if truthy {
					p.Collected = append(p.Collected, item)
				} else {
					vmachine.dropValue(item)
				}
				vmachine.dropValue(r.V)
			} else {
				p.Collected = append(p.Collected, r.V)
			}
		}
	}
	vmachine.dropValue(p.Callable)
	return p.finish(vmachine)
}

func (p *PendingCollectNext) finish(vmachine *VirtualMachine) (values.Value, bool, error) {
	switch p.ResultKind {
	case CollectSum:
		var acc values.Value = values.NewInt(0)
		for _, v := range p.Collected {
			sum, err := vmachine.BinaryDunder("+", acc, v)
			vmachine.dropValue(v)
			if err != nil {
				return values.Value{}, true, err
			}
			acc = sum
		}
		return acc, true, nil
	case CollectAsTuple:
		return values.NewRef(vmachine.Heap.Allocate(&values.Tuple{Items: p.Collected})), true, nil
	default:
		return values.NewRef(vmachine.Heap.Allocate(&values.List{Items: p.Collected})), true, nil
	}
}

// PendingReduce drives functools.reduce's fold without host recursion.
type PendingReduce struct {
	Callable values.Value
	Source   []values.Value
	Index    int
	Acc      values.Value
	HaveAcc  bool
}

func (p *PendingReduce) Abort(vmachine *VirtualMachine) {
	if p.HaveAcc {
		vmachine.dropValue(p.Acc)
	}
	for _, v := range p.Source[p.Index:] {
		vmachine.dropValue(v)
	}
	vmachine.dropValue(p.Callable)
}

func (p *PendingReduce) Resume(vmachine *VirtualMachine, returned values.Value) (values.Value, bool, error) {
	if p.HaveAcc {
		vmachine.dropValue(p.Acc)
	}
	p.Acc, p.HaveAcc = returned, true
	return p.step(vmachine)
}

func (p *PendingReduce) step(vmachine *VirtualMachine) (values.Value, bool, error) {
	if !p.HaveAcc {
		if len(p.Source) == 0 {
			return values.Value{}, true, TypeErrorf("reduce() of empty iterable with no initial value")
		}
		p.Acc = p.Source[0]
		p.HaveAcc = true
		p.Index = 1
	}
	for p.Index < len(p.Source) {
		item := p.Source[p.Index]
		p.Index++
		result, err := vmachine.CallFunction(p.Callable, TwoArgs(vmachine.dupValue(p.Acc), item))
		if err != nil {
			p.Abort(vmachine)
			return values.Value{}, true, err
		}
		switch r := result.(type) {
		case ResultFramePushed:
			vmachine.currentFrame().Pending = p
			return values.Value{}, false, nil
		case ResultValue:
			vmachine.dropValue(p.Acc)
			p.Acc = r.V
		}
	}
	vmachine.dropValue(p.Callable)
	return p.Acc, true, nil
}

// PendingNewCall drives the __new__ half of class instantiation's
// two-stage protocol (spec §4.9): __new__ may itself push a frame, and
// once it returns, __init__ is invoked on the fresh instance only if
// __new__ produced an instance of the right type. The __init__ half, when
// it also needs to push a frame, is instead handled by that frame's own
// HasInit/InitInstance fields (see CallFrame, dispatch.go's
// OP_RETURN_VALUE handler) rather than a second PendingOp stage, since by
// that point there is nothing left to decide — __init__'s real return
// value is always discarded in favor of the instance.
type PendingNewCall struct {
	ClassID  heap.ID
	InitFn   values.Value
	HaveInit bool
	Args     []values.Value
	Kw       []KwEntry
}

func (p *PendingNewCall) Abort(vmachine *VirtualMachine) {
	for _, v := range p.Args {
		vmachine.dropValue(v)
	}
	for _, kw := range p.Kw {
		vmachine.dropValue(kw.Val)
	}
	if p.HaveInit {
		vmachine.dropValue(p.InitFn)
	}
}

func (p *PendingNewCall) Resume(vmachine *VirtualMachine, returned values.Value) (values.Value, bool, error) {
	instance := returned
	if !sameOrSubclass(vmachine, instance, p.ClassID) || !p.HaveInit {
		if p.HaveInit {
			vmachine.dropValue(p.InitFn)
		}
		return instance, true, nil
	}
	args := append([]values.Value{vmachine.dupValue(instance)}, p.Args...)
	result, err := vmachine.CallFunction(p.InitFn, GeneralArgs(args, p.Kw))
	if err != nil {
		vmachine.dropValue(instance)
		return values.Value{}, true, err
	}
	switch r := result.(type) {
	case ResultFramePushed:
		pushed := vmachine.currentFrame()
		pushed.HasInit = true
		pushed.InitInstance = vmachine.dupValue(instance)
		vmachine.dropValue(instance)
		_ = r
		return values.Value{}, false, nil
	case ResultValue:
		vmachine.dropValue(r.V)
		return instance, true, nil
	}
	return values.Value{}, true, InternalErrorf("PendingNewCall: unexpected __init__ call result")
}

// PendingListSort drives sorted()/list.sort() when a `key=` callable is
// supplied: key(item) is computed for every item (possibly suspending), then
// the collected (key, item) pairs are ordered with the VM's native Compare,
// never recursing through Python for the comparison itself.
type PendingListSort struct {
	Key      values.Value
	Source   []values.Value
	Index    int
	Keys     []values.Value
	Reverse  bool
	InPlace  heap.ID // non-zero: write back into this List instead of returning a new one
}

func (p *PendingListSort) Abort(vmachine *VirtualMachine) {
	for _, v := range p.Source[p.Index:] {
		vmachine.dropValue(v)
	}
	for _, v := range p.Keys {
		vmachine.dropValue(v)
	}
	vmachine.dropValue(p.Key)
}

func (p *PendingListSort) Resume(vmachine *VirtualMachine, returned values.Value) (values.Value, bool, error) {
	p.Keys = append(p.Keys, returned)
	return p.step(vmachine)
}

func (p *PendingListSort) step(vmachine *VirtualMachine) (values.Value, bool, error) {
	for p.Index < len(p.Source) {
		item := p.Source[p.Index]
		p.Index++
		result, err := vmachine.CallFunction(p.Key, OneArg(vmachine.dupValue(item)))
		if err != nil {
			p.Abort(vmachine)
			return values.Value{}, true, err
		}
		switch r := result.(type) {
		case ResultFramePushed:
			vmachine.currentFrame().Pending = p
			return values.Value{}, false, nil
		case ResultValue:
			p.Keys = append(p.Keys, r.V)
		}
	}
	vmachine.dropValue(p.Key)
	return p.finish(vmachine)
}

func (p *PendingListSort) finish(vmachine *VirtualMachine) (values.Value, bool, error) {
	idx := make([]int, len(p.Source))
	for i := range idx {
		idx[i] = i
	}
	var sortErr error
	stableSort(idx, func(a, b int) bool {
		if sortErr != nil {
			return false
		}
		cmp, ok, err := vmachine.Compare(p.Keys[a], p.Keys[b])
		if err != nil {
			sortErr = err
			return false
		}
		if !ok {
			sortErr = TypeErrorf("'<' not supported between instances of '%s' and '%s'",
				vmachine.TypeName(p.Keys[a]), vmachine.TypeName(p.Keys[b]))
			return false
		}
		if p.Reverse {
			return cmp > 0
		}
		return cmp < 0
	})
	for _, v := range p.Keys {
		vmachine.dropValue(v)
	}
	if sortErr != nil {
		for _, v := range p.Source {
			vmachine.dropValue(v)
		}
		return values.Value{}, true, sortErr
	}
	ordered := make([]values.Value, len(p.Source))
	for i, srcIdx := range idx {
		ordered[i] = p.Source[srcIdx]
	}
	if p.InPlace != 0 {
		err := vmachine.Heap.WithEntryMut(p.InPlace, func(pl heap.Payload) heap.Payload {
			list := pl.(*values.List)
			list.Items = ordered
			return list
		})
		return values.NewNone(), true, err
	}
	return values.NewRef(vmachine.Heap.Allocate(&values.List{Items: ordered})), true, nil
}

// stableSort is a small insertion/merge hybrid avoiding a sort.Slice
// dependency on a comparator that can itself fail (sort.Slice has no way to
// report an error mid-sort); idx is sorted in place by less.
func stableSort(idx []int, less func(a, b int) bool) {
	for i := 1; i < len(idx); i++ {
		for j := i; j > 0 && less(idx[j], idx[j-1]); j-- {
			idx[j], idx[j-1] = idx[j-1], idx[j]
		}
	}
}

// PendingMinMax drives min()/max() with a `key=` callable: key(item) is
// computed once per item, the running best is kept via native Compare, and
// only the final winning item (not its key) is returned.
type PendingMinMax struct {
	Key      values.Value
	Source   []values.Value
	Index    int
	BestItem values.Value
	BestKey  values.Value
	HaveBest bool
	WantMax  bool
}

func (p *PendingMinMax) Abort(vmachine *VirtualMachine) {
	for _, v := range p.Source[p.Index:] {
		vmachine.dropValue(v)
	}
	if p.HaveBest {
		vmachine.dropValue(p.BestItem)
		vmachine.dropValue(p.BestKey)
	}
	vmachine.dropValue(p.Key)
}

func (p *PendingMinMax) Resume(vmachine *VirtualMachine, returned values.Value) (values.Value, bool, error) {
	if err := p.consider(vmachine, p.Source[p.Index-1], returned); err != nil {
		p.Abort(vmachine)
		return values.Value{}, true, err
	}
	return p.step(vmachine)
}

func (p *PendingMinMax) consider(vmachine *VirtualMachine, item, key values.Value) error {
	if !p.HaveBest {
		p.BestItem, p.BestKey, p.HaveBest = item, key, true
		return nil
	}
	cmp, ok, err := vmachine.Compare(key, p.BestKey)
	if err != nil {
		return err
	}
	if !ok {
		return TypeErrorf("'<' not supported between instances of '%s' and '%s'",
			vmachine.TypeName(key), vmachine.TypeName(p.BestKey))
	}
	better := cmp < 0
	if p.WantMax {
		better = cmp > 0
	}
	if better {
		vmachine.dropValue(p.BestItem)
		vmachine.dropValue(p.BestKey)
		p.BestItem, p.BestKey = item, key
	} else {
		vmachine.dropValue(item)
		vmachine.dropValue(key)
	}
	return nil
}

func (p *PendingMinMax) step(vmachine *VirtualMachine) (values.Value, bool, error) {
	for p.Index < len(p.Source) {
		item := p.Source[p.Index]
		p.Index++
		result, err := vmachine.CallFunction(p.Key, OneArg(vmachine.dupValue(item)))
		if err != nil {
			p.Abort(vmachine)
			return values.Value{}, true, err
		}
		switch r := result.(type) {
		case ResultFramePushed:
			vmachine.currentFrame().Pending = p
			return values.Value{}, false, nil
		case ResultValue:
			if err := p.consider(vmachine, item, r.V); err != nil {
				p.Abort(vmachine)
				return values.Value{}, true, err
			}
		}
	}
	vmachine.dropValue(p.Key)
	if !p.HaveBest {
		return values.Value{}, true, ValueErrorf("min()/max() arg is an empty sequence")
	}
	vmachine.dropValue(p.BestKey)
	return p.BestItem, true, nil
}

// PendingGroupBy drives itertools.groupby(iterable, key=...): key(item) is
// computed per item (possibly suspending), consecutive equal keys (compared
// via Equal, matching groupby's "only adjacent" grouping contract) are
// folded into one (key, [items]) pair, eagerly materialized as a list of
// 2-tuples rather than the lazy generator CPython returns, since this
// engine's list-building already eagerly drains every other collection
// builtin the same way.
type PendingGroupBy struct {
	Key         values.Value
	Source      []values.Value
	Index       int
	Groups      []values.Value // each a *Tuple(key, *List(items))
	CurKey      values.Value
	CurItems    []values.Value
	HaveCur     bool
}

func (p *PendingGroupBy) Abort(vmachine *VirtualMachine) {
	for _, v := range p.Source[p.Index:] {
		vmachine.dropValue(v)
	}
	for _, v := range p.Groups {
		vmachine.dropValue(v)
	}
	for _, v := range p.CurItems {
		vmachine.dropValue(v)
	}
	if p.HaveCur {
		vmachine.dropValue(p.CurKey)
	}
	vmachine.dropValue(p.Key)
}

func (p *PendingGroupBy) Resume(vmachine *VirtualMachine, returned values.Value) (values.Value, bool, error) {
	if err := p.place(vmachine, p.Source[p.Index-1], returned); err != nil {
		p.Abort(vmachine)
		return values.Value{}, true, err
	}
	return p.step(vmachine)
}

func (p *PendingGroupBy) place(vmachine *VirtualMachine, item, key values.Value) error {
	if p.HaveCur {
		eq, err := vmachine.Equal(key, p.CurKey)
		if err != nil {
			return err
		}
		if eq {
			vmachine.dropValue(key)
			p.CurItems = append(p.CurItems, item)
			return nil
		}
		p.flushGroup(vmachine)
	}
	p.CurKey, p.HaveCur = key, true
	p.CurItems = append(p.CurItems, item)
	return nil
}

func (p *PendingGroupBy) flushGroup(vmachine *VirtualMachine) {
	items := vmachine.Heap.Allocate(&values.List{Items: p.CurItems})
	tup := vmachine.Heap.Allocate(&values.Tuple{Items: []values.Value{p.CurKey, values.NewRef(items)}})
	p.Groups = append(p.Groups, values.NewRef(tup))
	p.CurItems = nil
	p.HaveCur = false
}

func (p *PendingGroupBy) step(vmachine *VirtualMachine) (values.Value, bool, error) {
	for p.Index < len(p.Source) {
		item := p.Source[p.Index]
		p.Index++
		result, err := vmachine.CallFunction(p.Key, OneArg(vmachine.dupValue(item)))
		if err != nil {
			p.Abort(vmachine)
			return values.Value{}, true, err
		}
		switch r := result.(type) {
		case ResultFramePushed:
			vmachine.currentFrame().Pending = p
			return values.Value{}, false, nil
		case ResultValue:
			if err := p.place(vmachine, item, r.V); err != nil {
				p.Abort(vmachine)
				return values.Value{}, true, err
			}
		}
	}
	if p.HaveCur {
		p.flushGroup(vmachine)
	}
	vmachine.dropValue(p.Key)
	return values.NewRef(vmachine.Heap.Allocate(&values.List{Items: p.Groups})), true, nil
}

// PendingBisect drives bisect.bisect_left/right and insort_left/insort_right
// with a `key=` callable: key(item) is computed for each existing element up
// to the insertion point, suspending exactly like PendingListSort, then the
// point is located via native Compare against the already-computed key of
// the value being inserted.
type PendingBisect struct {
	Key      values.Value
	NeedleKey values.Value
	Source   []values.Value // the sorted sequence being searched
	Index    int
	Lo       int
	Right    bool // bisect_right semantics (insert after equal elements)
}

func (p *PendingBisect) Abort(vmachine *VirtualMachine) {
	for _, v := range p.Source[p.Index:] {
		vmachine.dropValue(v)
	}
	vmachine.dropValue(p.NeedleKey)
	vmachine.dropValue(p.Key)
}

func (p *PendingBisect) Resume(vmachine *VirtualMachine, returned values.Value) (values.Value, bool, error) {
	cmp, ok, err := vmachine.Compare(p.NeedleKey, returned)
	vmachine.dropValue(returned)
	if err != nil {
		p.Abort(vmachine)
		return values.Value{}, true, err
	}
	if !ok {
		p.Abort(vmachine)
		return values.Value{}, true, TypeErrorf("unorderable types in bisect")
	}
	if cmp < 0 || (!p.Right && cmp == 0) {
		vmachine.dropValue(p.NeedleKey)
		vmachine.dropValue(p.Key)
		for _, v := range p.Source[p.Index:] {
			vmachine.dropValue(v)
		}
		return values.NewInt(int64(p.Lo)), true, nil
	}
	p.Lo++
	return p.step(vmachine)
}

func (p *PendingBisect) step(vmachine *VirtualMachine) (values.Value, bool, error) {
	for p.Index < len(p.Source) {
		item := p.Source[p.Index]
		p.Index++
		result, err := vmachine.CallFunction(p.Key, OneArg(vmachine.dupValue(item)))
		if err != nil {
			p.Abort(vmachine)
			return values.Value{}, true, err
		}
		switch r := result.(type) {
		case ResultFramePushed:
			vmachine.currentFrame().Pending = p
			return values.Value{}, false, nil
		case ResultValue:
			cmp, ok, err := vmachine.Compare(p.NeedleKey, r.V)
			vmachine.dropValue(r.V)
			if err != nil {
				p.Abort(vmachine)
				return values.Value{}, true, err
			}
			if !ok {
				p.Abort(vmachine)
				return values.Value{}, true, TypeErrorf("unorderable types in bisect")
			}
			if cmp < 0 || (!p.Right && cmp == 0) {
				vmachine.dropValue(p.NeedleKey)
				vmachine.dropValue(p.Key)
				for _, v := range p.Source[p.Index:] {
					vmachine.dropValue(v)
				}
				return values.NewInt(int64(p.Lo)), true, nil
			}
			p.Lo++
		}
	}
	vmachine.dropValue(p.NeedleKey)
	vmachine.dropValue(p.Key)
	return values.NewInt(int64(p.Lo)), true, nil
}

// PendingHeapqSelect drives heapq.nsmallest/nlargest with a `key=` callable:
// key(item) is computed per item, then the N best are kept via a simple
// native partial-selection over the (key, item) pairs collected so far
// (the heap size here is expected to stay small enough that a full sort of
// the collected pairs is simpler and just as correct as maintaining a real
// binary heap incrementally).
type PendingHeapqSelect struct {
	Key     values.Value
	Source  []values.Value
	Index   int
	Keys    []values.Value
	N       int
	Largest bool
}

func (p *PendingHeapqSelect) Abort(vmachine *VirtualMachine) {
	for _, v := range p.Source[p.Index:] {
		vmachine.dropValue(v)
	}
	for _, v := range p.Keys {
		vmachine.dropValue(v)
	}
	vmachine.dropValue(p.Key)
}

func (p *PendingHeapqSelect) Resume(vmachine *VirtualMachine, returned values.Value) (values.Value, bool, error) {
	p.Keys = append(p.Keys, returned)
	return p.step(vmachine)
}

func (p *PendingHeapqSelect) step(vmachine *VirtualMachine) (values.Value, bool, error) {
	for p.Index < len(p.Source) {
		item := p.Source[p.Index]
		p.Index++
		result, err := vmachine.CallFunction(p.Key, OneArg(vmachine.dupValue(item)))
		if err != nil {
			p.Abort(vmachine)
			return values.Value{}, true, err
		}
		switch r := result.(type) {
		case ResultFramePushed:
			vmachine.currentFrame().Pending = p
			return values.Value{}, false, nil
		case ResultValue:
			p.Keys = append(p.Keys, r.V)
		}
	}
	vmachine.dropValue(p.Key)
	idx := make([]int, len(p.Source))
	for i := range idx {
		idx[i] = i
	}
	var sortErr error
	stableSort(idx, func(a, b int) bool {
		if sortErr != nil {
			return false
		}
		cmp, ok, err := vmachine.Compare(p.Keys[a], p.Keys[b])
		if err != nil {
			sortErr = err
			return false
		}
		if !ok {
			sortErr = TypeErrorf("unorderable types in heapq")
			return false
		}
		if p.Largest {
			return cmp > 0
		}
		return cmp < 0
	})
	for _, v := range p.Keys {
		vmachine.dropValue(v)
	}
	if sortErr != nil {
		for _, v := range p.Source {
			vmachine.dropValue(v)
		}
		return values.Value{}, true, sortErr
	}
	n := p.N
	if n > len(idx) {
		n = len(idx)
	}
	out := make([]values.Value, n)
	for i := 0; i < n; i++ {
		out[i] = p.Source[idx[i]]
	}
	for i := n; i < len(idx); i++ {
		vmachine.dropValue(p.Source[idx[i]])
	}
	return values.NewRef(vmachine.Heap.Allocate(&values.List{Items: out})), true, nil
}

// PendingReSub drives re.sub() when the replacement argument is a callable
// instead of a template string: the callable is invoked once per match
// (possibly suspending) with a Match-shaped argument, and its string return
// value is spliced in.
type PendingReSub struct {
	Repl     values.Value
	Pieces   []string // literal text already between matches, len(Pieces) == len(Matches)+1
	Matches  []values.Value
	Index    int
	Result   []byte
}

func (p *PendingReSub) Abort(vmachine *VirtualMachine) {
	for _, v := range p.Matches[p.Index:] {
		vmachine.dropValue(v)
	}
	vmachine.dropValue(p.Repl)
}

func (p *PendingReSub) Resume(vmachine *VirtualMachine, returned values.Value) (values.Value, bool, error) {
	s, ok := vmachine.asGoString(returned)
	vmachine.dropValue(returned)
	if !ok {
		p.Abort(vmachine)
		return values.Value{}, true, TypeErrorf("expected string from match object")
	}
	p.Result = append(p.Result, s...)
	return p.step(vmachine)
}

func (p *PendingReSub) step(vmachine *VirtualMachine) (values.Value, bool, error) {
	for p.Index < len(p.Matches) {
		p.Result = append(p.Result, p.Pieces[p.Index]...)
		match := p.Matches[p.Index]
		p.Index++
		result, err := vmachine.CallFunction(p.Repl, OneArg(match))
		if err != nil {
			p.Abort(vmachine)
			return values.Value{}, true, err
		}
		switch r := result.(type) {
		case ResultFramePushed:
			vmachine.currentFrame().Pending = p
			return values.Value{}, false, nil
		case ResultValue:
			s, ok := vmachine.asGoString(r.V)
			vmachine.dropValue(r.V)
			if !ok {
				p.Abort(vmachine)
				return values.Value{}, true, TypeErrorf("expected string from match object")
			}
			p.Result = append(p.Result, s...)
		}
	}
	p.Result = append(p.Result, p.Pieces[len(p.Pieces)-1]...)
	vmachine.dropValue(p.Repl)
	return vmachine.NewStr(string(p.Result)), true, nil
}

// PendingTextwrapIndent drives textwrap.indent(text, prefix, predicate=...):
// predicate(line) decides whether each line gets prefixed, called once per
// line (possibly suspending) rather than the default "only non-blank lines"
// rule.
type PendingTextwrapIndent struct {
	Predicate values.Value
	Prefix    string
	Lines     []string
	Index     int
	Result    []byte
}

func (p *PendingTextwrapIndent) Abort(vmachine *VirtualMachine) {
	vmachine.dropValue(p.Predicate)
}

func (p *PendingTextwrapIndent) Resume(vmachine *VirtualMachine, returned values.Value) (values.Value, bool, error) {
	truthy, err := vmachine.Truthy(returned)
	vmachine.dropValue(returned)
	if err != nil {
		p.Abort(vmachine)
		return values.Value{}, true, err
	}
	p.appendLine(p.Lines[p.Index-1], truthy)
	return p.step(vmachine)
}

func (p *PendingTextwrapIndent) appendLine(line string, prefixed bool) {
	if prefixed {
		p.Result = append(p.Result, p.Prefix...)
	}
	p.Result = append(p.Result, line...)
	p.Result = append(p.Result, '\n')
}

func (p *PendingTextwrapIndent) step(vmachine *VirtualMachine) (values.Value, bool, error) {
	for p.Index < len(p.Lines) {
		line := p.Lines[p.Index]
		p.Index++
		result, err := vmachine.CallFunction(p.Predicate, OneArg(vmachine.NewStr(line)))
		if err != nil {
			p.Abort(vmachine)
			return values.Value{}, true, err
		}
		switch r := result.(type) {
		case ResultFramePushed:
			vmachine.currentFrame().Pending = p
			return values.Value{}, false, nil
		case ResultValue:
			truthy, err := vmachine.Truthy(r.V)
			vmachine.dropValue(r.V)
			if err != nil {
				p.Abort(vmachine)
				return values.Value{}, true, err
			}
			p.appendLine(line, truthy)
		}
	}
	vmachine.dropValue(p.Predicate)
	out := string(p.Result)
	if len(out) > 0 && out[len(out)-1] == '\n' && len(p.Lines) > 0 && !hasTrailingNewline(p.Lines) {
		out = out[:len(out)-1]
	}
	return vmachine.NewStr(out), true, nil
}

func hasTrailingNewline(lines []string) bool {
	return len(lines) > 0 && lines[len(lines)-1] == ""
}

// PendingLruCache resumes functools.lru_cache's wrapped call: once the
// pushed frame returns, the result is stored under the already-computed key
// before being handed back to the caller (spec's "wrap an arbitrary
// callable with memoized results" rule, extended to cover a wrapped
// function whose body itself suspends instead of assuming it always
// returns synchronously).
type PendingLruCache struct {
	Store *lruStore
	Entry *values.LruCache
	Key   string
}

func (p *PendingLruCache) Abort(vmachine *VirtualMachine) {}

func (p *PendingLruCache) Resume(vmachine *VirtualMachine, returned values.Value) (values.Value, bool, error) {
	p.Entry.Misses++
	p.Store.Put(p.Key, vmachine.dupValue(returned))
	return returned, true, nil
}

// PendingContextDecorator resumes a @cm_instance-decorated function call
// after the wrapped body suspends and returns: __exit__ still needs to run
// on the way out, which a bare ResultFramePushed pass-through would skip
// entirely.
type PendingContextDecorator struct {
	CM values.Value
}

func (p *PendingContextDecorator) Abort(vmachine *VirtualMachine) {
	vmachine.dropValue(p.CM)
}

func (p *PendingContextDecorator) Resume(vmachine *VirtualMachine, returned values.Value) (values.Value, bool, error) {
	_, err := vmachine.ContextExit(p.CM, nil)
	vmachine.dropValue(p.CM)
	if err != nil {
		return values.Value{}, true, err
	}
	return returned, true, nil
}

func sameOrSubclass(vmachine *VirtualMachine, v values.Value, classID heap.ID) bool {
	id, ok := vmachine.instanceClassID(v)
	if !ok {
		return false
	}
	if id == classID {
		return true
	}
	cls, ok := vmachine.classOf(id)
	if !ok {
		return false
	}
	for _, mroID := range cls.MRO {
		if mroID == classID {
			return true
		}
	}
	return false
}

// abortPendingChain releases every PendingOp still attached to frames being
// unwound by an exception (spec §4.8's "abort_pending_X routines").
func abortPendingChain(vmachine *VirtualMachine, frame *CallFrame) {
	if frame.Pending != nil {
		frame.Pending.Abort(vmachine)
		frame.Pending = nil
	}
}
