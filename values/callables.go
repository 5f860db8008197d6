package values

import "github.com/parcadei/pyrt/heap"

// Cell holds one closed-over variable slot, shared by reference between a
// DefFunction's Closure and any nested function that captures it.
type Cell struct {
	Val Value
	Set bool // false until first assignment; reading an empty cell is UnboundLocalError
}

func (c *Cell) Kind() string       { return "Cell" }
func (c *Cell) ChildRefs() []heap.ID {
	if c.Val.Kind == KindRef {
		return []heap.ID{c.Val.HeapID}
	}
	return nil
}

// Closure pairs a DefFunction id with the captured Cells and default-value
// tuples the call engine needs to build a CallFrame (spec §4.6 ArgValues,
// §4.4 CallFrame).
type Closure struct {
	DefFunctionID uint32
	Cells         []heap.ID // owned Cell refs, indexed by the function's free-variable slots
	Defaults      []Value   // positional defaults, in declaration order
	KwDefaults    map[uint32]Value
	Name          string
	Module        string
	Qualname      string
}

func (c *Closure) PyTypeName() string { return "function" }
func (c *Closure) Kind() string       { return "Closure" }
func (c *Closure) ChildRefs() []heap.ID {
	ids := append([]heap.ID(nil), c.Cells...)
	ids = append(ids, refChildren(c.Defaults)...)
	for _, v := range c.KwDefaults {
		if v.Kind == KindRef {
			ids = append(ids, v.HeapID)
		}
	}
	return ids
}

// BoundMethod pairs a callable (DefFunction/Builtin/Closure/Proxy) with the
// instance it was bound to, produced by the descriptor protocol when a
// plain function is looked up through an instance (spec "Attribute & MRO").
type BoundMethod struct {
	Func Value
	Self Value
}

func (b *BoundMethod) PyTypeName() string { return "method" }
func (b *BoundMethod) Kind() string       { return "BoundMethod" }
func (b *BoundMethod) ChildRefs() []heap.ID {
	return refChildren([]Value{b.Func, b.Self})
}

// Partial is functools.partial: a callable plus frozen positional/keyword
// arguments prepended to every call.
type Partial struct {
	Func     Value
	Args     []Value
	Kwargs   map[uint32]Value
}

func (p *Partial) PyTypeName() string { return "functools.partial" }
func (p *Partial) Kind() string       { return "Partial" }
func (p *Partial) ChildRefs() []heap.ID {
	ids := append([]heap.ID(nil), refChildren(append([]Value{p.Func}, p.Args...))...)
	for _, v := range p.Kwargs {
		if v.Kind == KindRef {
			ids = append(ids, v.HeapID)
		}
	}
	return ids
}

// ItemGetter implements operator.itemgetter(*items): calling it applies
// __getitem__ for each item, returning a single value or a tuple.
type ItemGetter struct {
	Items []Value
}

func (g *ItemGetter) PyTypeName() string   { return "operator.itemgetter" }
func (g *ItemGetter) Kind() string         { return "ItemGetter" }
func (g *ItemGetter) ChildRefs() []heap.ID { return refChildren(g.Items) }

// AttrGetter implements operator.attrgetter(*names); names may contain dots
// for chained attribute access ("a.b.c").
type AttrGetter struct {
	Names [][]string
}

func (g *AttrGetter) Kind() string         { return "AttrGetter" }
func (g *AttrGetter) PyTypeName() string   { return "operator.attrgetter" }
func (g *AttrGetter) ChildRefs() []heap.ID { return nil }

// MethodCaller implements operator.methodcaller(name, *args, **kwargs).
type MethodCaller struct {
	Name   string
	Args   []Value
	Kwargs map[uint32]Value
}

func (m *MethodCaller) Kind() string       { return "MethodCaller" }
func (m *MethodCaller) PyTypeName() string { return "operator.methodcaller" }
func (m *MethodCaller) ChildRefs() []heap.ID {
	ids := refChildren(m.Args)
	for _, v := range m.Kwargs {
		if v.Kind == KindRef {
			ids = append(ids, v.HeapID)
		}
	}
	return ids
}

// CmpToKey wraps functools.cmp_to_key(cmp)'s returned key-class instances;
// sorting calls back into cmp(a.obj, b.obj) for every ordering comparison.
type CmpToKey struct {
	Cmp Value
	Obj Value
}

func (c *CmpToKey) Kind() string         { return "CmpToKeyObj" }
func (c *CmpToKey) PyTypeName() string   { return "functools.K" }
func (c *CmpToKey) ChildRefs() []heap.ID { return refChildren([]Value{c.Cmp, c.Obj}) }

// FunctionWrapper is functools.wraps(wrapped)(wrapper): a decorator that
// copies __name__/__doc__/__module__/__qualname__ and attaches __wrapped__.
type FunctionWrapper struct {
	Wrapper Value
	Wrapped Value
}

func (f *FunctionWrapper) Kind() string         { return "FunctionWrapper" }
func (f *FunctionWrapper) PyTypeName() string   { return "function" }
func (f *FunctionWrapper) ChildRefs() []heap.ID { return refChildren([]Value{f.Wrapper, f.Wrapped}) }

// SingleDispatch is the callable object functools.singledispatch(func)
// returns: a registry of (type -> implementation) pairs consulted by MRO
// order of the first argument's type, falling back to Default.
type SingleDispatch struct {
	Default  Value
	Registry map[heap.ID]Value // class id -> implementation
}

func (s *SingleDispatch) Kind() string       { return "SingleDispatch" }
func (s *SingleDispatch) PyTypeName() string { return "functools._SingleDispatchCallable" }
func (s *SingleDispatch) ChildRefs() []heap.ID {
	ids := refChildren([]Value{s.Default})
	for cid, v := range s.Registry {
		ids = append(ids, cid)
		if v.Kind == KindRef {
			ids = append(ids, v.HeapID)
		}
	}
	return ids
}

// LruCache is functools.lru_cache(maxsize=...)'s wrapper state: a memoizing
// callable whose backing store is an LRU cache keyed by an encoding of the
// positional and keyword arguments (the vm package's encodeCacheKey),
// backed by golang-lru so eviction is a library concern rather
// than a hand-rolled doubly linked list.
type LruCache struct {
	Func    Value
	MaxSize int
	Hits    int64
	Misses  int64
	// Store is *lru.Cache[string, Value], typed as interface{} here to keep
	// this package free of the vm layer's cache-key-encoding policy.
	Store interface{}
}

func (l *LruCache) Kind() string         { return "LruCache" }
func (l *LruCache) PyTypeName() string   { return "functools._lru_cache_wrapper" }
func (l *LruCache) ChildRefs() []heap.ID { return refChildren([]Value{l.Func}) }
