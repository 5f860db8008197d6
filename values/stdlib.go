package values

import "github.com/parcadei/pyrt/heap"

// StdlibObject is the generic heap payload a stdlib-module builtin type uses
// for per-instance state it doesn't want to express as a plain Instance
// (spec §2's "RNG (exemplar module)" line item: "an illustrative stdlib-style
// module using the heap and per-instance state persistence"). State is
// opaque to the rest of the VM — only the stdlib package that allocated the
// object knows how to interpret it; attribute/method lookup for these values
// is handled by a small per-TypeName method table (see vm's stdlib method
// dispatch) rather than a ClassObject/MRO walk, since these types have no
// Python-level subclassing story.
type StdlibObject struct {
	TypeName string
	State    interface{}
}

func (s *StdlibObject) PyTypeName() string   { return s.TypeName }
func (s *StdlibObject) Kind() string         { return "StdlibObject" }
func (s *StdlibObject) ChildRefs() []heap.ID { return nil }
