package vm

import "github.com/parcadei/pyrt/values"

// Namespace is a stack of fixed-size local-variable arrays shared by every
// active CallFrame (spec §4.3): "A stack of fixed-size value arrays. Each
// frame records an index into the stack." Slots are addressed by integer
// index for speed; a parallel name table maps slot -> interned name id so
// diagnostics and dir() can still recover identifiers.
type Namespace struct {
	slots []values.Value
	names []uint32 // slot -> interned name id, 0 when anonymous/temporary
}

// NewNamespace preallocates a reasonably sized backing array; it grows via
// append like any Go slice once a frame needs more room than is currently
// reserved.
func NewNamespace() *Namespace {
	return &Namespace{slots: make([]values.Value, 0, 256), names: make([]uint32, 0, 256)}
}

// Reserve grows the namespace by n slots, all initialized to Undefined
// (spec: "Undefined marks never-written slots"), and returns the base index
// a new CallFrame should record.
func (n *Namespace) Reserve(count int, slotNames []uint32) int {
	base := len(n.slots)
	for i := 0; i < count; i++ {
		n.slots = append(n.slots, values.NewUndefined())
		if slotNames != nil && i < len(slotNames) {
			n.names = append(n.names, slotNames[i])
		} else {
			n.names = append(n.names, 0)
		}
	}
	return base
}

// Release truncates the namespace back to base, for use when a frame
// returns and its locals go out of scope. Callers must have already
// DecRef'd any Ref-kind values in the released range.
func (n *Namespace) Release(base int) {
	n.slots = n.slots[:base]
	n.names = n.names[:base]
}

func (n *Namespace) Get(base int, slot int) values.Value { return n.slots[base+slot] }

func (n *Namespace) Set(base int, slot int, v values.Value) { n.slots[base+slot] = v }

// NameID returns the interned name id recorded for base+slot, or 0 if the
// slot was never named.
func (n *Namespace) NameID(base int, slot int) uint32 { return n.names[base+slot] }

// Slice returns the live value range for a frame, for dir()/iteration over
// a frame's locals in diagnostics.
func (n *Namespace) Slice(base int, count int) []values.Value {
	return n.slots[base : base+count]
}
