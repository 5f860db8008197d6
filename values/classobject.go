package values

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/parcadei/pyrt/heap"
	"github.com/parcadei/pyrt/intern"
)

// DescriptorKind tags the descriptor protocol variants attached to a class
// attribute (spec "Attribute & MRO" module: data vs non-data descriptors).
type DescriptorKind byte

const (
	DescriptorNone DescriptorKind = iota
	DescriptorStaticMethod
	DescriptorClassMethod
	DescriptorUserProperty  // a plain @property: fget/fset/fdel, data descriptor
	DescriptorPropertyAccessor
	DescriptorPlainData    // any other object exposing both __get__ and __set__/__delete__
	DescriptorPlainNonData // an object exposing only __get__ (e.g. a DefFunction used as a method)
)

// Descriptor wraps a class attribute value together with the descriptor
// behavior it should receive during MRO lookup.
type Descriptor struct {
	Kind  DescriptorKind
	Value Value

	// UserProperty fields (fget/fset/fdel are callables or the zero Value).
	Fget Value
	Fset Value
	Fdel Value
}

// IsDataDescriptor reports whether this attribute must shadow instance
// __dict__ entries (spec: "a data descriptor (defines __set__ or __delete__)
// found anywhere in the MRO outranks an instance __dict__ entry").
func (d Descriptor) IsDataDescriptor() bool {
	switch d.Kind {
	case DescriptorUserProperty, DescriptorPropertyAccessor, DescriptorPlainData:
		return true
	default:
		return false
	}
}

func (d Descriptor) IsDescriptor() bool { return d.Kind != DescriptorNone }

// ClassObject is the heap-resident representation of a Python class (spec §3
// "Class/instance: ClassObject(name, metaclass, attribute dict, base list,
// computed MRO, ...)"). Classes are ordinary heap objects so subclassing,
// metaclasses, and `type(x) is SomeClass` all fall out of Ref comparison and
// attribute lookup rather than a separate registry.
type ClassObject struct {
	Name      string
	QualName  string
	Metaclass heap.ID // 0 means "type" (the default metaclass); see HasMetaclass
	Bases     []heap.ID
	MRO       []heap.ID // computed via C3Linearize, includes self first

	Attrs map[intern.StringID]Descriptor

	// UID is an opaque per-class tag assigned at creation, independent of
	// heap.ID. ClassObject keeps no subclass registry of its own. Grounded
	// on original_source's use of opaque ids for cross-referencing
	// long-lived registry entries.
	UID uuid.UUID

	// Slots, when non-nil, restricts instances of this class to exactly
	// these attribute names (no __dict__ fallback) per spec class slots.
	Slots []intern.StringID

	IsException   bool // true for classes descending from BaseException
	HashSuppressed bool // __hash__ = None was set explicitly, or __eq__ overridden without __hash__
}

func (c *ClassObject) PyTypeName() string { return c.Name }
func (c *ClassObject) Kind() string       { return "ClassObject" }
func (c *ClassObject) ChildRefs() []heap.ID {
	ids := make([]heap.ID, 0, len(c.Bases)+len(c.MRO)+1)
	if c.Metaclass != 0 {
		ids = append(ids, c.Metaclass)
	}
	ids = append(ids, c.Bases...)
	for _, d := range c.Attrs {
		if d.Value.Kind == KindRef {
			ids = append(ids, d.Value.HeapID)
		}
		for _, fn := range [3]Value{d.Fget, d.Fset, d.Fdel} {
			if fn.Kind == KindRef {
				ids = append(ids, fn.HeapID)
			}
		}
	}
	return ids
}

// HasMetaclass reports whether this class was defined with a metaclass other
// than the implicit default.
func (c *ClassObject) HasMetaclass() bool { return c.Metaclass != 0 }

// ClassLookup is the read side of attribute resolution used by C3Linearize
// and by the VM's attribute module: given a class id, return its ClassObject.
type ClassLookup func(id heap.ID) (*ClassObject, bool)

// C3Linearize computes the C3 MRO for a class given its direct bases, per
// spec "Attribute & MRO": merge(L[B1], L[B2], ..., [B1, B2, ...]) with self
// prepended, raising an error if no consistent linearization exists (e.g.
// "class C(A, B)" where A and B disagree on relative order of a common
// ancestor).
func C3Linearize(self heap.ID, bases []heap.ID, lookup ClassLookup) ([]heap.ID, error) {
	if len(bases) == 0 {
		return []heap.ID{self}, nil
	}

	sequences := make([][]heap.ID, 0, len(bases)+1)
	for _, b := range bases {
		bc, ok := lookup(b)
		if !ok {
			return nil, fmt.Errorf("mro: unknown base class")
		}
		if len(bc.MRO) == 0 {
			return nil, fmt.Errorf("mro: base class MRO not computed yet")
		}
		sequences = append(sequences, append([]heap.ID(nil), bc.MRO...))
	}
	sequences = append(sequences, append([]heap.ID(nil), bases...))

	merged := []heap.ID{self}
	for {
		sequences = pruneEmpty(sequences)
		if len(sequences) == 0 {
			return merged, nil
		}

		var head heap.ID
		found := false
		for _, seq := range sequences {
			cand := seq[0]
			if !appearsInTail(cand, sequences) {
				head = cand
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("mro: inconsistent hierarchy, cannot linearize bases %v", bases)
		}

		merged = append(merged, head)
		for i, seq := range sequences {
			sequences[i] = removeHead(seq, head)
		}
	}
}

func pruneEmpty(seqs [][]heap.ID) [][]heap.ID {
	out := seqs[:0]
	for _, s := range seqs {
		if len(s) > 0 {
			out = append(out, s)
		}
	}
	return out
}

func appearsInTail(cand heap.ID, seqs [][]heap.ID) bool {
	for _, seq := range seqs {
		for _, id := range seq[1:] {
			if id == cand {
				return true
			}
		}
	}
	return false
}

func removeHead(seq []heap.ID, head heap.ID) []heap.ID {
	if len(seq) > 0 && seq[0] == head {
		return seq[1:]
	}
	return seq
}

// ResolveAttr walks MRO in order, returning the first class that defines
// name in its own Attrs map, plus the descriptor itself. It never consults
// instance __dict__; that is the VM attribute module's job (combining this
// with Instance.Dict per the descriptor-priority rule).
func ResolveAttr(mro []heap.ID, name intern.StringID, lookup ClassLookup) (Descriptor, heap.ID, bool) {
	for _, cid := range mro {
		c, ok := lookup(cid)
		if !ok {
			continue
		}
		if d, ok := c.Attrs[name]; ok {
			return d, cid, true
		}
	}
	return Descriptor{}, 0, false
}

// Instance is the heap-resident representation of a plain object: a class
// reference plus either a free-form attribute dict or, when the class (or
// an ancestor) declares __slots__, a fixed slot array.
type Instance struct {
	Class heap.ID
	Dict  map[intern.StringID]Value // nil when the class uses __slots__ exclusively
	Slots map[intern.StringID]Value // values for declared slot names

	// ExceptionArgs mirrors BaseException.args for instances of exception
	// classes, letting str()/repr() format them without a dunder round trip.
	ExceptionArgs []Value

	WeakRefList []heap.ID // weakref.ref objects observing this instance
}

func (i *Instance) PyTypeName() string { return "object" } // overridden by VM via class lookup
func (i *Instance) Kind() string       { return "Instance" }
func (i *Instance) ChildRefs() []heap.ID {
	ids := []heap.ID{i.Class}
	for _, v := range i.Dict {
		if v.Kind == KindRef {
			ids = append(ids, v.HeapID)
		}
	}
	for _, v := range i.Slots {
		if v.Kind == KindRef {
			ids = append(ids, v.HeapID)
		}
	}
	for _, v := range i.ExceptionArgs {
		if v.Kind == KindRef {
			ids = append(ids, v.HeapID)
		}
	}
	return ids
}

// Get reads an own-instance attribute (not MRO class attributes), checking
// slots before the free dict.
func (i *Instance) Get(name intern.StringID) (Value, bool) {
	if i.Slots != nil {
		if v, ok := i.Slots[name]; ok {
			return v, true
		}
	}
	if i.Dict != nil {
		if v, ok := i.Dict[name]; ok {
			return v, true
		}
	}
	return Value{}, false
}

// SuperProxy is the object returned by `super()` (spec "Attribute & MRO"):
// attribute lookup on it starts one past StartClass in Instance's actual
// class's MRO, not StartClass's own MRO, so cooperative multiple
// inheritance keeps working.
type SuperProxy struct {
	StartClass heap.ID // the class super() was called inside (the __class__ cell)
	Instance   Value   // the Ref(instance) or, for the 2-arg unbound form, a Ref(class) for classmethod use
	BoundType  heap.ID // the dynamic type of Instance, whose MRO is actually walked
}

func (s *SuperProxy) PyTypeName() string   { return "super" }
func (s *SuperProxy) Kind() string         { return "SuperProxy" }
func (s *SuperProxy) ChildRefs() []heap.ID { return []heap.ID{s.StartClass, s.BoundType} }

// MRORemainderAfter returns the slice of BoundType's MRO strictly after
// StartClass, the search order super() attribute lookups use.
func (s *SuperProxy) MRORemainderAfter(lookup ClassLookup) ([]heap.ID, error) {
	bc, ok := lookup(s.BoundType)
	if !ok {
		return nil, fmt.Errorf("super: unknown bound type")
	}
	for idx, cid := range bc.MRO {
		if cid == s.StartClass {
			return bc.MRO[idx+1:], nil
		}
	}
	return nil, fmt.Errorf("super: __class__ not found in bound type's MRO")
}

// FormatMRO renders an MRO as CPython's TypeError messages do, for
// diagnostics when linearization fails.
func FormatMRO(mro []heap.ID, names func(heap.ID) string) string {
	parts := make([]string, len(mro))
	for i, id := range mro {
		parts[i] = names(id)
	}
	return strings.Join(parts, ", ")
}
