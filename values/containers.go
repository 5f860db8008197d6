package values

import "github.com/parcadei/pyrt/heap"

// List is a mutable ordered sequence. Appending/inserting a reference-typed
// element must IncRef it and call heap.MarkPotentialCycle (handled by the
// caller, typically the opcode handler or a builtin like list.append).
type List struct {
	Items []Value
}

func (l *List) PyTypeName() string { return "list" }
func (l *List) Kind() string       { return "list" }
func (l *List) ChildRefs() []heap.ID {
	return refChildren(l.Items)
}

// Tuple is an immutable fixed-length sequence.
type Tuple struct {
	Items []Value
}

func (t *Tuple) PyTypeName() string { return "tuple" }
func (t *Tuple) Kind() string       { return "tuple" }
func (t *Tuple) ChildRefs() []heap.ID {
	return refChildren(t.Items)
}

// DictEntry is one key/value pair, kept in insertion order (spec-compatible
// dict iteration order).
type DictEntry struct {
	Key   Value
	Val   Value
	Alive bool // tombstone flag so deletion can keep slot indices stable
}

// Dict is an insertion-ordered mapping. Lookups hash Key via the VM's hash
// protocol (Instance keys route through __hash__/__eq__); this payload only
// stores entries and leaves hashing/equality to its owner.
type Dict struct {
	Entries []DictEntry
	index   map[uint64][]int // hash -> candidate entry indices, rebuilt lazily
}

func (d *Dict) PyTypeName() string { return "dict" }
func (d *Dict) Kind() string       { return "dict" }
func (d *Dict) ChildRefs() []heap.ID {
	ids := make([]heap.ID, 0, len(d.Entries)*2)
	for _, e := range d.Entries {
		if !e.Alive {
			continue
		}
		if e.Key.Kind == KindRef {
			ids = append(ids, e.Key.HeapID)
		}
		if e.Val.Kind == KindRef {
			ids = append(ids, e.Val.HeapID)
		}
	}
	return ids
}

// CandidatesForHash returns the candidate slot indices under hash h,
// calling rebuildIndex first only when the index is empty; entries
// appended since the last build are not detected here.
func (d *Dict) CandidatesForHash(h uint64) []int {
	if d.index == nil || len(d.index) == 0 {
		d.rebuildIndex()
	}
	return d.index[h]
}

func (d *Dict) rebuildIndex() {
	// Rebuilding requires re-hashing every key, which the Dict payload
	// cannot do itself (hashing Instance keys needs dunder dispatch); the
	// VM layer populates index via ReindexWith after computing hashes.
}

// ReindexWith rebuilds the hash index using a caller-supplied hash function,
// letting the VM route Instance keys through __hash__ while primitive keys
// hash locally.
func (d *Dict) ReindexWith(hashFn func(Value) uint64) {
	d.index = make(map[uint64][]int, len(d.Entries))
	for i, e := range d.Entries {
		if !e.Alive {
			continue
		}
		h := hashFn(e.Key)
		d.index[h] = append(d.index[h], i)
	}
}

func (d *Dict) InvalidateIndex() { d.index = nil }

// Set is a mutable hash set of distinct values, backed by the same
// insertion-ordered-entries-plus-lazy-index shape as Dict.
type Set struct {
	Entries []DictEntry // Val unused; Alive tombstones deletions
	index   map[uint64][]int
}

func (s *Set) PyTypeName() string { return "set" }
func (s *Set) Kind() string       { return "set" }
func (s *Set) ChildRefs() []heap.ID {
	ids := make([]heap.ID, 0, len(s.Entries))
	for _, e := range s.Entries {
		if e.Alive && e.Key.Kind == KindRef {
			ids = append(ids, e.Key.HeapID)
		}
	}
	return ids
}

func (s *Set) CandidatesForHash(h uint64) []int {
	if s.index == nil {
		s.index = map[uint64][]int{}
	}
	return s.index[h]
}

func (s *Set) ReindexWith(hashFn func(Value) uint64) {
	s.index = make(map[uint64][]int, len(s.Entries))
	for i, e := range s.Entries {
		if !e.Alive {
			continue
		}
		h := hashFn(e.Key)
		s.index[h] = append(s.index[h], i)
	}
}

func (s *Set) InvalidateIndex() { s.index = nil }

// FrozenSet is Set's immutable counterpart; once built its Entries never
// change, so no lazy-index invalidation path is needed.
type FrozenSet struct {
	Entries []DictEntry
	index   map[uint64][]int
}

func (f *FrozenSet) PyTypeName() string { return "frozenset" }
func (f *FrozenSet) Kind() string       { return "frozenset" }
func (f *FrozenSet) ChildRefs() []heap.ID {
	ids := make([]heap.ID, 0, len(f.Entries))
	for _, e := range f.Entries {
		if e.Key.Kind == KindRef {
			ids = append(ids, e.Key.HeapID)
		}
	}
	return ids
}

func (f *FrozenSet) Build(hashFn func(Value) uint64) {
	f.index = make(map[uint64][]int, len(f.Entries))
	for i, e := range f.Entries {
		h := hashFn(e.Key)
		f.index[h] = append(f.index[h], i)
	}
}

func (f *FrozenSet) CandidatesForHash(h uint64) []int { return f.index[h] }

// Str holds a computed (non-interned) string, e.g. the result of string
// concatenation or formatting. Short/literal strings are instead represented
// as immediate KindInternString values; promoting every computed string to a
// heap Str avoids polluting the intern table with one-off content.
type Str struct {
	S string
}

func (s *Str) PyTypeName() string   { return "str" }
func (s *Str) Kind() string         { return "str" }
func (s *Str) ChildRefs() []heap.ID { return nil }

// Bytes is the mutable-free heap counterpart of Str for the bytes type.
type Bytes struct {
	B []byte
}

func (b *Bytes) PyTypeName() string   { return "bytes" }
func (b *Bytes) Kind() string         { return "bytes" }
func (b *Bytes) ChildRefs() []heap.ID { return nil }

// ByteArray is bytes' mutable sibling.
type ByteArray struct {
	B []byte
}

func (b *ByteArray) PyTypeName() string   { return "bytearray" }
func (b *ByteArray) Kind() string         { return "bytearray" }
func (b *ByteArray) ChildRefs() []heap.ID { return nil }

// Slice is the heap payload a BUILD_SLICE opcode produces for `obj[a:b:c]`
// subscripts; Start/Stop/Step hold None for an omitted bound.
type Slice struct {
	Start Value
	Stop  Value
	Step  Value
}

func (s *Slice) PyTypeName() string { return "slice" }
func (s *Slice) Kind() string       { return "slice" }
func (s *Slice) ChildRefs() []heap.ID {
	var ids []heap.ID
	for _, v := range [3]Value{s.Start, s.Stop, s.Step} {
		if v.Kind == KindRef {
			ids = append(ids, v.HeapID)
		}
	}
	return ids
}

func refChildren(items []Value) []heap.ID {
	var ids []heap.ID
	for _, v := range items {
		if v.Kind == KindRef {
			ids = append(ids, v.HeapID)
		}
	}
	return ids
}
