// Package vm implements the stack-based bytecode interpreter: dispatch loop,
// call engine, continuation machine, attribute/MRO resolution, dunder
// dispatch, class instantiation, generators/coroutines, and context-manager
// unwinding (spec §4).
package vm

import (
	"github.com/parcadei/pyrt/heap"
	"github.com/parcadei/pyrt/intern"
	"github.com/parcadei/pyrt/registry"
	"github.com/parcadei/pyrt/stdlib/random"
	"github.com/parcadei/pyrt/values"
)

// VirtualMachine is the shared execution engine: one heap, one intern
// table, one registry, a shared namespace and operand stack, and the active
// frame stack. Built with functional options mirroring the teacher's
// NewVirtualMachineWithProfiling construction style.
type VirtualMachine struct {
	Heap     *heap.Heap
	Interns  *intern.Table
	Registry *registry.Registry

	ns    *Namespace
	stack []values.Value
	frames []*CallFrame

	Globals map[uint32]values.Value

	Config   *Config
	Profiler *Profiler
	caches   *InlineCacheTable

	// ObjectClassID is the heap id of the root `object` ClassObject,
	// installed by Bootstrap.
	ObjectClassID heap.ID
	TypeClassID   heap.ID

	// excClasses/excClassOf map between a raised exception's Go sentinel
	// (PyError.Type) and the real ClassObject Bootstrap installs for it, so
	// an internally-raised TypeErrorf() and a user `raise TypeError(...)`
	// produce instances of the same class.
	excClasses map[error]heap.ID
	excClassOf map[heap.ID]error

	bootstrapped bool

	// stdlibMethods backs native (non-Python) method dispatch for
	// values.StdlibObject instances: TypeName -> method name -> builtin id.
	stdlibMethods map[string]map[string]uint32

	// defaultRandom is the process-wide generator backing the `random`
	// module's free functions, matching CPython's module-level `_inst`.
	defaultRandom *random.Generator

	// identityBuiltinID is the builtin id of the `lambda x: x` function used
	// as sorted()/min()/max()'s default key, registered once in
	// registerCoreBuiltins so PendingListSort/PendingMinMax never need a
	// nil-key special case.
	identityBuiltinID uint32

	// exitStackMethods/exitStackBuiltinIDs back contextlib.ExitStack's method
	// dispatch (stdlib_contextlib.go): the Go closures implementing each
	// method, and their lazily-registered BuiltinEntry ids.
	exitStackMethods    map[string]exitStackMethod
	exitStackBuiltinIDs map[string]uint32
}

// registerStdlibMethod records a builtin id as the method named name on
// every StdlibObject whose TypeName is typeName (see attr.go's
// getStdlibObjectAttr).
func (vmachine *VirtualMachine) registerStdlibMethod(typeName, name string, id uint32) {
	if vmachine.stdlibMethods == nil {
		vmachine.stdlibMethods = make(map[string]map[string]uint32)
	}
	m, ok := vmachine.stdlibMethods[typeName]
	if !ok {
		m = make(map[string]uint32)
		vmachine.stdlibMethods[typeName] = m
	}
	m[name] = id
}

func (vmachine *VirtualMachine) stdlibMethodID(typeName, name string) (uint32, bool) {
	m, ok := vmachine.stdlibMethods[typeName]
	if !ok {
		return 0, false
	}
	id, ok := m[name]
	return id, ok
}

// Option configures a VirtualMachine at construction time.
type Option func(*VirtualMachine)

// WithConfig attaches a pre-loaded Config (see config.go).
func WithConfig(cfg *Config) Option { return func(v *VirtualMachine) { v.Config = cfg } }

// WithProfiling enables the hot-spot profiler and debug ring buffer.
func WithProfiling(levels DebugLevel) Option {
	return func(v *VirtualMachine) { v.Profiler = NewProfiler(levels) }
}

// New constructs a VirtualMachine with fresh heap/intern/registry instances
// and applies opts, mirroring NewVirtualMachineWithProfiling's pattern of a
// base constructor plus functional options for optional subsystems.
func New(opts ...Option) *VirtualMachine {
	v := &VirtualMachine{
		Heap:     heap.New(),
		Interns:  intern.New(),
		Registry: registry.New(),
		ns:       NewNamespace(),
		stack:    make([]values.Value, 0, 1024),
		Globals:  make(map[uint32]values.Value),
		Config:   DefaultConfig(),
	}
	for _, opt := range opts {
		opt(v)
	}
	v.caches = NewInlineCacheTable(v.Config.InlineCacheSize)
	if v.Profiler == nil {
		v.Profiler = NewProfiler(DebugOff)
	}
	return v
}

// dropValue releases v's owned heap reference, if any. Scalars are no-ops.
func (vmachine *VirtualMachine) dropValue(v values.Value) {
	if v.Kind == values.KindRef {
		vmachine.Heap.DecRef(v.HeapID)
	}
}

func (vmachine *VirtualMachine) dupValue(v values.Value) values.Value {
	if v.Kind == values.KindRef {
		vmachine.Heap.IncRef(v.HeapID)
	}
	return v
}

// pushFrame activates fn as a new top frame over the shared stack/namespace.
func (vmachine *VirtualMachine) pushFrame(frame *CallFrame) {
	vmachine.frames = append(vmachine.frames, frame)
}

// popFrame removes and returns the top frame, releasing its namespace slots.
// Callers must have already transferred or dropped every Ref-kind local.
func (vmachine *VirtualMachine) popFrame() *CallFrame {
	n := len(vmachine.frames)
	f := vmachine.frames[n-1]
	vmachine.frames = vmachine.frames[:n-1]
	vmachine.ns.Release(f.LocalsBase)
	for _, cid := range f.Cells {
		vmachine.Heap.DecRef(cid)
	}
	return f
}

func (vmachine *VirtualMachine) currentFrame() *CallFrame {
	if len(vmachine.frames) == 0 {
		return nil
	}
	return vmachine.frames[len(vmachine.frames)-1]
}

// push/pop operate on the shared operand stack used by every frame (spec
// §4.4's "operand-stack base" is an index into this shared slice).
func (vmachine *VirtualMachine) push(v values.Value) { vmachine.stack = append(vmachine.stack, v) }

func (vmachine *VirtualMachine) pop() values.Value {
	n := len(vmachine.stack)
	v := vmachine.stack[n-1]
	vmachine.stack = vmachine.stack[:n-1]
	return v
}

func (vmachine *VirtualMachine) popN(n int) []values.Value {
	if n == 0 {
		return nil
	}
	base := len(vmachine.stack) - n
	out := make([]values.Value, n)
	copy(out, vmachine.stack[base:])
	vmachine.stack = vmachine.stack[:base]
	return out
}

func (vmachine *VirtualMachine) top() values.Value { return vmachine.stack[len(vmachine.stack)-1] }

// TypeName resolves v's Python type name, consulting the heap for Ref
// variants per spec §4.2.
func (vmachine *VirtualMachine) TypeName(v values.Value) string {
	if v.Kind != values.KindRef {
		return v.TypeName(vmachine.Interns)
	}
	payload, live := vmachine.Heap.Get(v.HeapID)
	if !live {
		return "object"
	}
	if inst, ok := payload.(*values.Instance); ok {
		if cls, ok := vmachine.Heap.Get(inst.Class); ok {
			if co, ok := cls.(*values.ClassObject); ok {
				return co.Name
			}
		}
		return "object"
	}
	if named, ok := payload.(values.PyTypeNamed); ok {
		return named.PyTypeName()
	}
	return "object"
}

// Truthy implements PEP-compatible truthiness, consulting __bool__ then
// __len__ for Instance values (spec §4.2).
func (vmachine *VirtualMachine) Truthy(v values.Value) (bool, error) {
	if v.Kind != values.KindRef {
		return v.Truthy(), nil
	}
	payload, live := vmachine.Heap.Get(v.HeapID)
	if !live {
		return false, nil
	}
	switch p := payload.(type) {
	case *values.List:
		return len(p.Items) != 0, nil
	case *values.Tuple:
		return len(p.Items) != 0, nil
	case *values.Dict:
		return len(aliveDictEntries(p.Entries)) != 0, nil
	case *values.Set:
		return len(aliveDictEntries(p.Entries)) != 0, nil
	case *values.FrozenSet:
		return len(p.Entries) != 0, nil
	case *values.Str:
		return p.S != "", nil
	case *values.Bytes:
		return len(p.B) != 0, nil
	case *values.Instance:
		return vmachine.instanceTruthy(v, p)
	default:
		return true, nil
	}
}

func aliveDictEntries(entries []values.DictEntry) []values.DictEntry {
	out := entries[:0:0]
	for _, e := range entries {
		if e.Alive {
			out = append(out, e)
		}
	}
	return out
}

// Raise implements registry.BuiltinCallContext.Raise: builds a *PyError of
// the named Python exception category.
func (vmachine *VirtualMachine) Raise(errType string, format string, args ...interface{}) error {
	sentinel, ok := exceptionSentinels[errType]
	if !ok {
		sentinel = ErrException
	}
	return NewPyError(sentinel, format, args...)
}

var exceptionSentinels = map[string]error{
	"TypeError": ErrTypeError, "ValueError": ErrValueError, "AttributeError": ErrAttributeError,
	"IndexError": ErrIndexError, "KeyError": ErrKeyError, "StopIteration": ErrStopIteration,
	"OverflowError": ErrOverflowError, "ZeroDivisionError": ErrZeroDivisionError,
	"RuntimeError": ErrRuntimeError, "ReferenceError": ErrReferenceError,
	"NotImplementedError": ErrNotImplementedErr, "NameError": ErrNameError,
	"OSError": ErrOSError, "InternalError": ErrInternalError,
}

// Call implements registry.BuiltinCallContext.Call: a synchronous
// convenience wrapper over CallFunction for builtins that must invoke a
// Python callable to completion (e.g. an Instance's __eq__ invoked from
// Equal) without themselves participating in the continuation machine.
// It drains any FramePushed results by running the dispatch loop to
// completion for the pushed frame before returning, which is safe because
// it is only used from contexts already willing to block (the higher-level
// VM-driven path in §4.8 is used instead when true suspension matters).
func (vmachine *VirtualMachine) Call(callable values.Value, args []values.Value, kwargs map[uint32]values.Value) (values.Value, error) {
	kw := make([]KwEntry, 0, len(kwargs))
	for name, v := range kwargs {
		kw = append(kw, KwEntry{Name: name, Val: v})
	}
	result, err := vmachine.CallFunction(callable, GeneralArgs(args, kw))
	if err != nil {
		return values.Value{}, err
	}
	switch r := result.(type) {
	case ResultValue:
		return r.V, nil
	case ResultFramePushed:
		return vmachine.RunToFrameReturn(r.FrameDepth)
	default:
		return values.Value{}, InternalErrorf("Call: unexpected result shape %T", result)
	}
}

func (vmachine *VirtualMachine) Intern(s string) uint32   { return uint32(vmachine.Interns.Intern(s)) }
func (vmachine *VirtualMachine) InternText(id uint32) string { return vmachine.Interns.Text(intern.StringID(id)) }

func (vmachine *VirtualMachine) NewStr(s string) values.Value {
	return values.NewRef(vmachine.Heap.Allocate(&values.Str{S: s}))
}

func (vmachine *VirtualMachine) NewList(items []values.Value) values.Value {
	for _, it := range items {
		vmachine.dupValue(it)
	}
	return values.NewRef(vmachine.Heap.Allocate(&values.List{Items: items}))
}

func (vmachine *VirtualMachine) NewDict(entries []values.DictEntry) values.Value {
	for _, e := range entries {
		vmachine.dupValue(e.Key)
		vmachine.dupValue(e.Val)
	}
	d := &values.Dict{Entries: entries}
	d.ReindexWith(vmachine.hashValueUnchecked)
	return values.NewRef(vmachine.Heap.Allocate(d))
}

// RunToFrameReturn drives the dispatch loop until the frame stack shrinks
// back to frameDepth, returning the value produced by that frame's
// eventual RETURN_VALUE. Used by Call() and by the top-level Execute entry
// point (frameDepth=0 there).
func (vmachine *VirtualMachine) RunToFrameReturn(frameDepth int) (values.Value, error) {
	for len(vmachine.frames) > frameDepth {
		if err := vmachine.step(); err != nil {
			return values.Value{}, err
		}
	}
	if len(vmachine.stack) == 0 {
		return values.NewNone(), nil
	}
	return vmachine.pop(), nil
}

// Execute runs fn as the program's entry point to completion, returning its
// final result or an unhandled PyError.
func (vmachine *VirtualMachine) Execute(fn *registry.DefFunction, args []values.Value) (values.Value, error) {
	if !vmachine.bootstrapped {
		vmachine.Bootstrap()
	}
	frame := NewCallFrame(fn, vmachine.ns, len(vmachine.stack), nil)
	if err := vmachine.bindSimpleArgs(frame, fn, args); err != nil {
		return values.Value{}, err
	}
	vmachine.pushFrame(frame)
	return vmachine.RunToFrameReturn(0)
}

func (vmachine *VirtualMachine) bindSimpleArgs(frame *CallFrame, fn *registry.DefFunction, args []values.Value) error {
	for i, p := range fn.Parameters {
		if i < len(args) {
			vmachine.ns.Set(frame.LocalsBase, i, vmachine.dupValue(args[i]))
			continue
		}
		if p.HasDefault {
			vmachine.ns.Set(frame.LocalsBase, i, vmachine.dupValue(fn.Defaults[p.DefaultIdx]))
			continue
		}
		return TypeErrorf("%s() missing required positional argument: '%s'", fn.Name, p.Name)
	}
	return nil
}

// step decodes and executes exactly one instruction from the current
// frame; see dispatch.go for the opcode switch itself.
func (vmachine *VirtualMachine) step() error {
	frame := vmachine.currentFrame()
	if frame == nil {
		return InternalErrorf("step: no active frame")
	}
	if frame.IP >= len(frame.Code.Instructions) {
		return InternalErrorf("step: instruction pointer out of range")
	}
	instr := frame.Code.Instructions[frame.IP]
	vmachine.Profiler.RecordStep(frame, instr)
	if err := vmachine.dispatch(frame, instr); err != nil {
		return decorate(err, frame, instr.Op, frame.IP)
	}
	return nil
}
