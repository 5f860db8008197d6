package vm

import (
	"github.com/parcadei/pyrt/heap"
	"github.com/parcadei/pyrt/registry"
	"github.com/parcadei/pyrt/values"
)

// CallFrame is one activation record (spec §4.4): code pointer, instruction
// pointer, operand-stack base, namespace index, owned cell references,
// optional function id, source position for tracebacks, and the
// init_instance slot __new__/__init__ routing needs.
type CallFrame struct {
	Code *registry.DefFunction // nil for the bootstrap/module-level frame

	IP          int
	StackBase   int // index into the VM's shared operand stack
	LocalsBase  int // index into the shared Namespace
	LocalsCount int

	Cells []heap.ID // owned Cell refs for this call's free/cell variables

	FuncID uint32 // registry.DefFunction.ID, 0 if this frame has no backing function

	// SourceLine/SourceFuncName back tracebacks; compilation is out of
	// scope so these are populated best-effort from the DefFunction record.
	SourceFuncName string

	// InitInstance holds the instance under construction when this frame is
	// running __init__: on RETURN_VALUE the dispatch loop replaces the
	// frame's None result with InitInstance instead of pushing None (spec
	// §4.4, §4.9 step 3-4).
	InitInstance values.Value
	HasInit      bool

	// ClassCell is the __class__ cell super() reads without arguments; set
	// when this frame belongs to a method defined inside a class body.
	ClassCell heap.ID
	HasClassCell bool

	// Pending holds at most one in-flight continuation-machine record (spec
	// §4.8): a non-nil value here means this frame's next ReturnValue must
	// be routed through Pending.Resume rather than pushed as a plain result.
	Pending PendingOp

	// Block stack for try/finally/with unwinding (spec §4.5 SETUP_FINALLY /
	// POP_BLOCK, §4.10 ExitStack-style cleanup attached to `with` blocks).
	Blocks []BlockEntry

	// ActiveException is the exception currently being handled inside an
	// except block in this frame (for bare `raise`/exception chaining).
	ActiveException *PyError
}

// BlockEntry marks one active finally/except/with handler region.
type BlockEntry struct {
	Kind       BlockKind
	HandlerIP  int
	StackDepth int // operand stack depth to restore to when unwinding to this handler

	// CMValue holds the context manager object for a BlockWith entry, owned
	// (dup'd) at SETUP_WITH time and released when WITH_CLEANUP runs
	// __exit__ on it.
	CMValue values.Value
}

type BlockKind byte

const (
	BlockFinally BlockKind = iota
	BlockExcept
	BlockWith
)

// NewCallFrame builds a frame for fn, reserving its locals in ns and copying
// the owned cell ids the caller already IncRef'd for this activation.
func NewCallFrame(fn *registry.DefFunction, ns *Namespace, stackBase int, cells []heap.ID) *CallFrame {
	slotNames := make([]uint32, fn.MaxLocalSlot)
	localsBase := ns.Reserve(int(fn.MaxLocalSlot), slotNames)
	return &CallFrame{
		Code:           fn,
		StackBase:      stackBase,
		LocalsBase:     localsBase,
		LocalsCount:    int(fn.MaxLocalSlot),
		Cells:          cells,
		FuncID:         fn.ID,
		SourceFuncName: fn.QualName,
	}
}

// PushBlock/PopBlock manage the finally/except/with handler stack.
func (f *CallFrame) PushBlock(kind BlockKind, handlerIP, stackDepth int) {
	f.Blocks = append(f.Blocks, BlockEntry{Kind: kind, HandlerIP: handlerIP, StackDepth: stackDepth})
}

// PushWithBlock registers a `with` block's context manager alongside its
// handler, so WITH_CLEANUP can find the object to call __exit__ on without
// a separate stack.
func (f *CallFrame) PushWithBlock(handlerIP, stackDepth int, cm values.Value) {
	f.Blocks = append(f.Blocks, BlockEntry{Kind: BlockWith, HandlerIP: handlerIP, StackDepth: stackDepth, CMValue: cm})
}

func (f *CallFrame) PopBlock() (BlockEntry, bool) {
	if len(f.Blocks) == 0 {
		return BlockEntry{}, false
	}
	last := len(f.Blocks) - 1
	b := f.Blocks[last]
	f.Blocks = f.Blocks[:last]
	return b, true
}
