package vm

import (
	"github.com/parcadei/pyrt/heap"
	"github.com/parcadei/pyrt/intern"
	"github.com/parcadei/pyrt/registry"
	"github.com/parcadei/pyrt/values"
)

// CallResult is what CallFunction produces: either a value ready to push, a
// signal that a new frame was pushed (the caller must drain it via the
// dispatch loop before the call "completes"), or a yield to the embedding
// host (spec §6).
type CallResult interface{ isCallResult() }

type ResultValue struct{ V values.Value }
type ResultFramePushed struct{ FrameDepth int } // frame depth to wait back down to
type ResultExternal struct {
	ExtID uint32
	Args  []values.Value
}
type ResultOsCall struct {
	OsFunc string
	Args   []values.Value
}
type ResultProxy struct {
	ProxyID uint32
	Method  string
	Args    []values.Value
}

func (ResultValue) isCallResult()       {}
func (ResultFramePushed) isCallResult() {}
func (ResultExternal) isCallResult()    {}
func (ResultOsCall) isCallResult()      {}
func (ResultProxy) isCallResult()       {}

// CallFunction is the central switch over every callable shape (spec
// §4.5.1): the first matching rule wins.
func (vmachine *VirtualMachine) CallFunction(callable values.Value, args ArgValues) (CallResult, error) {
	switch callable.Kind {
	case values.KindBuiltin:
		return vmachine.callBuiltinValue(callable, args)
	case values.KindDefFunction:
		return vmachine.callDefFunction(uint32(callable.I), nil, nil, args)
	case values.KindModuleFunction:
		fn, _, ok := vmachine.Registry.ModuleFunctionByID(uint32(callable.I))
		if !ok {
			args.dropOwned(vmachine)
			return nil, InternalErrorf("unknown module function id %d", callable.I)
		}
		kwargs := kwEntriesToMap(args.Kw)
		v, err := fn(vmachine, args.Positional(), kwargs)
		if err != nil {
			return nil, err
		}
		return ResultValue{V: v}, nil
	case values.KindExtFunction:
		// Positional ownership transfers to the host via Args below; keyword
		// arguments are not forwarded, so they are released here.
		for _, kw := range args.Kw {
			vmachine.dropValue(kw.Val)
		}
		vmachine.dropValue(args.KwDict)
		return ResultExternal{ExtID: uint32(callable.I), Args: args.Positional()}, nil
	case values.KindProxy:
		return ResultProxy{ProxyID: uint32(callable.I), Method: "__call__", Args: args.Positional()}, nil
	case values.KindRef:
		return vmachine.callRefValue(callable, args)
	default:
		args.dropOwned(vmachine)
		return nil, TypeErrorf("'%s' object is not callable", vmachine.TypeName(callable))
	}
}

func (vmachine *VirtualMachine) callBuiltinValue(callable values.Value, args ArgValues) (CallResult, error) {
	switch callable.Builtin.Category {
	case values.BuiltinFunction:
		entry, ok := vmachine.Registry.BuiltinByID(callable.Builtin.ID)
		if !ok {
			args.dropOwned(vmachine)
			return nil, InternalErrorf("unknown builtin function id %d", callable.Builtin.ID)
		}
		if entry.Name == "super" {
			return vmachine.builtinSuper(args)
		}
		if special, ok := suspendingBuiltins[entry.Name]; ok {
			return special(vmachine, args)
		}
		kwargs := kwEntriesToMap(args.Kw)
		v, err := entry.Fn(vmachine, args.Positional(), kwargs)
		if err != nil {
			return nil, err
		}
		return ResultValue{V: v}, nil
	case values.BuiltinType:
		entry, ok := vmachine.Registry.BuiltinTypeByID(callable.Builtin.ID)
		if !ok {
			args.dropOwned(vmachine)
			return nil, InternalErrorf("unknown builtin type id %d", callable.Builtin.ID)
		}
		kwargs := kwEntriesToMap(args.Kw)
		v, err := entry.Constructor(vmachine, args.Positional(), kwargs)
		if err != nil {
			return nil, err
		}
		return ResultValue{V: v}, nil
	default:
		args.dropOwned(vmachine)
		return nil, TypeErrorf("object is not callable")
	}
}

func kwEntriesToMap(kw []KwEntry) map[uint32]values.Value {
	if len(kw) == 0 {
		return nil
	}
	m := make(map[uint32]values.Value, len(kw))
	for _, e := range kw {
		m[e.Name] = e.Val
	}
	return m
}

// builtinSuper implements the 0-arg and 2-arg super() forms (spec's first
// two CallFunction rules).
func (vmachine *VirtualMachine) builtinSuper(args ArgValues) (CallResult, error) {
	if args.Len() == 0 {
		frame := vmachine.currentFrame()
		if frame == nil || !frame.HasClassCell {
			return nil, RuntimeErrorf("super(): no current frame or no __class__ cell")
		}
		if frame.LocalsCount == 0 {
			return nil, RuntimeErrorf("super(): no arguments")
		}
		self := vmachine.ns.Get(frame.LocalsBase, 0)
		boundType, ok := vmachine.instanceClassID(self)
		if !ok {
			return nil, TypeErrorf("super(): argument 1 must be a type")
		}
		vmachine.Heap.IncRef(frame.ClassCell)
		vmachine.dupValue(self)
		proxy := &values.SuperProxy{StartClass: frame.ClassCell, Instance: self, BoundType: boundType}
		return ResultValue{V: values.NewRef(vmachine.Heap.Allocate(proxy))}, nil
	}
	typeArg, objArg, err := vmachine.GetTwoArgs(args, "super")
	if err != nil {
		return nil, err
	}
	startClassID, ok := refClassID(typeArg)
	if !ok {
		return nil, TypeErrorf("super() argument 1 must be a type")
	}
	boundType, ok := vmachine.instanceClassID(objArg)
	if !ok {
		boundType, ok = refClassID(objArg)
		if !ok {
			return nil, TypeErrorf("super() argument 2 must be an instance or subtype")
		}
	}
	proxy := &values.SuperProxy{StartClass: startClassID, Instance: objArg, BoundType: boundType}
	return ResultValue{V: values.NewRef(vmachine.Heap.Allocate(proxy))}, nil
}

func refClassID(v values.Value) (heap.ID, bool) {
	if v.Kind != values.KindRef {
		return 0, false
	}
	return v.HeapID, true
}

func (vmachine *VirtualMachine) callRefValue(callable values.Value, args ArgValues) (CallResult, error) {
	payload, live := vmachine.Heap.Get(callable.HeapID)
	if !live {
		args.dropOwned(vmachine)
		return nil, ReferenceErrorf("weakly-referenced object no longer exists")
	}

	switch p := payload.(type) {
	case *values.Closure:
		return vmachine.callDefFunction(p.DefFunctionID, p.Cells, p, args)

	case *values.ClassObject:
		return vmachine.Instantiate(callable.HeapID, p, args)

	case *values.Instance:
		return vmachine.callInstanceDunder(callable, p, args)

	case *values.BoundMethod:
		newArgs := prependArg(args, p.Self)
		vmachine.dupValue(p.Self)
		return vmachine.CallFunction(p.Func, newArgs)

	case *values.Partial:
		merged := mergePartialArgs(p, args)
		return vmachine.CallFunction(p.Func, merged)

	case *values.SingleDispatch:
		return vmachine.callSingleDispatch(p, args)

	case *values.ItemGetter:
		return vmachine.callItemGetter(p, args)

	case *values.AttrGetter:
		return vmachine.callAttrGetter(p, args)

	case *values.MethodCaller:
		return vmachine.callMethodCaller(p, args)

	case *values.CmpToKey:
		return vmachine.callCmpToKey(p, args)

	case *values.LruCache:
		return vmachine.callLruCache(callable.HeapID, p, args)

	case *values.FunctionWrapper:
		return vmachine.CallFunction(p.Wrapper, args)

	case *values.GeneratorContextManagerFactory:
		return vmachine.callGenCMFactory(p, args)

	case *values.InstanceContextDecorator:
		return vmachine.callInstanceContextDecorator(p, args)

	default:
		args.dropOwned(vmachine)
		return nil, TypeErrorf("'%s' object is not callable", vmachine.TypeName(callable))
	}
}

func prependArg(args ArgValues, first values.Value) ArgValues {
	pos, kw := args.IntoParts()
	newPos := make([]values.Value, 0, len(pos)+1)
	newPos = append(newPos, first)
	newPos = append(newPos, pos...)
	return GeneralArgs(newPos, kw)
}

// mergePartialArgs substitutes the frozen args ahead of call-site
// positionals and merges kwargs with call-site values winning (spec
// §4.5.1's Partial rule).
func mergePartialArgs(p *values.Partial, args ArgValues) ArgValues {
	pos, kw := args.IntoParts()
	merged := make([]values.Value, 0, len(p.Args)+len(pos))
	merged = append(merged, p.Args...)
	merged = append(merged, pos...)

	kwMap := make(map[uint32]values.Value, len(p.Kwargs)+len(kw))
	for name, v := range p.Kwargs {
		kwMap[name] = v
	}
	for _, e := range kw {
		kwMap[e.Name] = e.Val
	}
	mergedKw := make([]KwEntry, 0, len(kwMap))
	for name, v := range kwMap {
		mergedKw = append(mergedKw, KwEntry{Name: name, Val: v})
	}
	return GeneralArgs(merged, mergedKw)
}

func (vmachine *VirtualMachine) callSingleDispatch(sd *values.SingleDispatch, args ArgValues) (CallResult, error) {
	pos := args.Positional()
	if len(pos) == 0 {
		args.dropOwned(vmachine)
		return nil, TypeErrorf("singledispatch requires at least 1 positional argument")
	}
	classID, ok := vmachine.instanceClassID(pos[0])
	if ok {
		if cls, ok := vmachine.classOf(classID); ok {
			for _, mroID := range cls.MRO {
				if impl, ok := sd.Registry[mroID]; ok {
					return vmachine.CallFunction(impl, args)
				}
			}
		}
	}
	return vmachine.CallFunction(sd.Default, args)
}

func (vmachine *VirtualMachine) callItemGetter(g *values.ItemGetter, args ArgValues) (CallResult, error) {
	obj, err := vmachine.GetOneArg(args, "itemgetter")
	if err != nil {
		return nil, err
	}
	if len(g.Items) == 1 {
		v, err := vmachine.GetItem(obj, g.Items[0])
		vmachine.dropValue(obj)
		if err != nil {
			return nil, err
		}
		return ResultValue{V: v}, nil
	}
	out := make([]values.Value, len(g.Items))
	for i, item := range g.Items {
		v, err := vmachine.GetItem(obj, item)
		if err != nil {
			vmachine.dropValue(obj)
			return nil, err
		}
		out[i] = v
	}
	vmachine.dropValue(obj)
	for _, v := range out {
		vmachine.dupValue(v)
	}
	return ResultValue{V: values.NewRef(vmachine.Heap.Allocate(&values.Tuple{Items: out}))}, nil
}

func (vmachine *VirtualMachine) callAttrGetter(g *values.AttrGetter, args ArgValues) (CallResult, error) {
	obj, err := vmachine.GetOneArg(args, "attrgetter")
	if err != nil {
		return nil, err
	}
	results := make([]values.Value, len(g.Names))
	for i, chain := range g.Names {
		cur := vmachine.dupValue(obj)
		for _, part := range chain {
			nameID := vmachine.Intern(part)
			next, err := vmachine.GetAttr(cur, nameID)
			vmachine.dropValue(cur)
			if err != nil {
				vmachine.dropValue(obj)
				return nil, err
			}
			cur = next
		}
		results[i] = cur
	}
	vmachine.dropValue(obj)
	if len(results) == 1 {
		return ResultValue{V: results[0]}, nil
	}
	return ResultValue{V: values.NewRef(vmachine.Heap.Allocate(&values.Tuple{Items: results}))}, nil
}

func (vmachine *VirtualMachine) callMethodCaller(m *values.MethodCaller, args ArgValues) (CallResult, error) {
	obj, err := vmachine.GetOneArg(args, "methodcaller")
	if err != nil {
		return nil, err
	}
	nameID := vmachine.Intern(m.Name)
	method, err := vmachine.GetAttr(obj, nameID)
	vmachine.dropValue(obj)
	if err != nil {
		return nil, err
	}
	kw := make([]KwEntry, 0, len(m.Kwargs))
	for name, v := range m.Kwargs {
		kw = append(kw, KwEntry{Name: name, Val: v})
	}
	return vmachine.CallFunction(method, GeneralArgs(append([]values.Value(nil), m.Args...), kw))
}

func (vmachine *VirtualMachine) callCmpToKey(c *values.CmpToKey, args ArgValues) (CallResult, error) {
	obj, err := vmachine.GetOneArg(args, "K")
	if err != nil {
		return nil, err
	}
	vmachine.dupValue(c.Cmp)
	wrapper := &values.CmpToKey{Cmp: c.Cmp, Obj: obj}
	return ResultValue{V: values.NewRef(vmachine.Heap.Allocate(wrapper))}, nil
}

// callLruCache implements spec's LruCache rule: build a key from args, hit
// increments Hits and returns the cached value, miss calls through and
// caches the result: directly when the call returns a value, or through
// PendingLruCache when the wrapped function pushes a frame, which counts
// the miss and stores the result once that frame returns.
func (vmachine *VirtualMachine) callLruCache(selfID heap.ID, c *values.LruCache, args ArgValues) (CallResult, error) {
	key, err := vmachine.encodeCacheKey(args)
	if err != nil {
		return nil, err
	}
	cache, _ := c.Store.(*lruStore)
	if cache == nil {
		cache = newLRUStore(c.MaxSize)
		c.Store = cache
	}
	if v, ok := cache.Get(key); ok {
		c.Hits++
		return ResultValue{V: vmachine.dupValue(v)}, nil
	}
	result, err := vmachine.CallFunction(c.Func, GeneralArgs(args.Positional(), args.Kw))
	if err != nil {
		c.Misses++
		return nil, err
	}
	switch r := result.(type) {
	case ResultFramePushed:
		vmachine.currentFrame().Pending = &PendingLruCache{Store: cache, Entry: c, Key: key}
		return r, nil
	case ResultValue:
		c.Misses++
		cache.Put(key, vmachine.dupValue(r.V))
		return ResultValue{V: r.V}, nil
	}
	return nil, InternalErrorf("callLruCache: unexpected call result shape %T", result)
}

func (vmachine *VirtualMachine) encodeCacheKey(args ArgValues) (string, error) {
	var sb []byte
	for _, v := range args.Positional() {
		sb = append(sb, []byte(vmachine.reprForCacheKey(v))...)
		sb = append(sb, ',')
	}
	for _, kw := range args.Kw {
		sb = append(sb, []byte(vmachine.InternText(kw.Name)+"=")...)
		sb = append(sb, []byte(vmachine.reprForCacheKey(kw.Val))...)
		sb = append(sb, ',')
	}
	return string(sb), nil
}

func (vmachine *VirtualMachine) reprForCacheKey(v values.Value) string {
	switch v.Kind {
	case values.KindInt:
		return "i:" + itoa(v.AsInt())
	case values.KindInternString:
		return "s:" + vmachine.Interns.Text(v.AsStringID())
	case values.KindFloat:
		return "f:" + string(encodeFloat(v.AsFloat()))
	case values.KindRef:
		return "r:" + itoa(int64(v.HeapID))
	default:
		return "k" + itoa(int64(v.Kind)) + ":" + itoa(v.I)
	}
}

func itoa(i int64) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

// callDefFunction builds a CallFrame for a DefFunction and pushes it,
// binding arguments positionally/by-keyword/defaults. The simple-sync fast
// path (spec §4.5: "inlines argument binding for functions with no
// closures, defaults, or async/generator flags") is just this same binder
// with zero free variables and zero defaults, so there is no separate code
// path here — only the cell/closure plumbing differs.
func (vmachine *VirtualMachine) callDefFunction(fnID uint32, cells []heap.ID, closure *values.Closure, args ArgValues) (CallResult, error) {
	fn, ok := vmachine.Registry.DefFunctionByID(fnID)
	if !ok {
		args.dropOwned(vmachine)
		return nil, InternalErrorf("unknown function id %d", fnID)
	}

	if len(vmachine.frames) >= vmachine.Config.MaxRecursionDepth {
		args.dropOwned(vmachine)
		return nil, RecursionErrorf("maximum recursion depth exceeded")
	}

	if fn.IsGenerator || fn.IsCoroutine || fn.IsAsyncGen {
		gen, err := vmachine.newGeneratorFrame(fn, cells, closure, args)
		if err != nil {
			return nil, err
		}
		return ResultValue{V: values.NewRef(vmachine.Heap.Allocate(gen))}, nil
	}

	frame := NewCallFrame(fn, vmachine.ns, len(vmachine.stack), cells)
	if err := vmachine.bindArguments(frame, fn, closure, args); err != nil {
		return nil, err
	}
	vmachine.pushFrame(frame)
	return ResultFramePushed{FrameDepth: len(vmachine.frames) - 1}, nil
}

// bindArguments implements the general PEP-570/3102-aware binder: named
// positional-or-keyword/positional-only/keyword-only parameters, *args,
// **kwargs, and defaults/kwdefaults pulled from the Closure when present.
func (vmachine *VirtualMachine) bindArguments(frame *CallFrame, fn *registry.DefFunction, closure *values.Closure, args ArgValues) error {
	pos, kw := args.IntoParts()
	kwByName := make(map[uint32]values.Value, len(kw))
	for _, e := range kw {
		kwByName[e.Name] = e.Val
	}

	posIdx := 0
	for slot, p := range fn.Parameters {
		switch p.Kind {
		case registry.ParamVarArgs:
			rest := append([]values.Value(nil), pos[posIdx:]...)
			posIdx = len(pos)
			for _, v := range rest {
				vmachine.dupValue(v)
			}
			vmachine.ns.Set(frame.LocalsBase, slot, values.NewRef(vmachine.Heap.Allocate(&values.Tuple{Items: rest})))
		case registry.ParamVarKwargs:
			entries := make([]values.DictEntry, 0, len(kwByName))
			for name, v := range kwByName {
				entries = append(entries, values.DictEntry{Key: values.NewInternString(intern.StringID(name)), Val: v, Alive: true})
				delete(kwByName, name)
			}
			vmachine.ns.Set(frame.LocalsBase, slot, vmachine.NewDict(entries))
		case registry.ParamKeywordOnly:
			if v, ok := kwByName[p.NameID]; ok {
				vmachine.ns.Set(frame.LocalsBase, slot, vmachine.dupValue(v))
				delete(kwByName, p.NameID)
			} else if p.HasDefault {
				vmachine.ns.Set(frame.LocalsBase, slot, vmachine.defaultValue(fn, closure, p))
			} else {
				return TypeErrorf("%s() missing required keyword-only argument: '%s'", fn.Name, p.Name)
			}
		default: // positional-or-keyword, positional-only
			if posIdx < len(pos) {
				vmachine.ns.Set(frame.LocalsBase, slot, vmachine.dupValue(pos[posIdx]))
				posIdx++
			} else if v, ok := kwByName[p.NameID]; ok && p.Kind != registry.ParamPositionalOnly {
				vmachine.ns.Set(frame.LocalsBase, slot, vmachine.dupValue(v))
				delete(kwByName, p.NameID)
			} else if p.HasDefault {
				vmachine.ns.Set(frame.LocalsBase, slot, vmachine.defaultValue(fn, closure, p))
			} else {
				return TypeErrorf("%s() missing required positional argument: '%s'", fn.Name, p.Name)
			}
		}
	}
	if posIdx < len(pos) {
		return TypeErrorf("%s() takes %d positional arguments but %d were given", fn.Name, posIdx, len(pos))
	}
	if len(kwByName) > 0 {
		return TypeErrorf("%s() got an unexpected keyword argument", fn.Name)
	}
	return nil
}

func (vmachine *VirtualMachine) defaultValue(fn *registry.DefFunction, closure *values.Closure, p registry.Parameter) values.Value {
	if closure != nil && p.DefaultIdx < len(closure.Defaults) {
		return vmachine.dupValue(closure.Defaults[p.DefaultIdx])
	}
	if p.DefaultIdx < len(fn.Defaults) {
		return vmachine.dupValue(fn.Defaults[p.DefaultIdx])
	}
	return values.NewNone()
}
