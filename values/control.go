package values

import "github.com/parcadei/pyrt/heap"

// FrameState is a generator/coroutine's suspended execution state: enough to
// resume a CallFrame from exactly where it yielded (spec "Generators &
// Coroutines" — true suspend/resume, never host recursion). The vm package
// owns the concrete CallFrame type; this package stores it behind an opaque
// interface so values has no import-cycle dependency on vm.
type FrameState interface {
	// Exhausted reports whether this frame has already run off its end.
	Exhausted() bool
}

// GenStatus is a generator/coroutine's lifecycle stage.
type GenStatus byte

const (
	GenCreated GenStatus = iota
	GenSuspended
	GenRunning
	GenClosed
)

// Generator is the heap object backing a `def f(): yield ...` call result,
// and, with IsCoroutine/IsAsyncGen set, async generators and coroutines too
// (spec "Generators & Coroutines" lists these as one family distinguished by
// flags rather than separate payload kinds, since their suspend/resume
// machinery is identical).
type Generator struct {
	Frame       FrameState
	Status      GenStatus
	IsCoroutine bool
	IsAsyncGen  bool

	// YieldFromTarget, when non-zero, is another Generator this one is
	// currently delegating to via `yield from` / `await`; resume calls are
	// forwarded until it raises StopIteration.
	YieldFromTarget heap.ID

	// PendingSendValue carries a value into the resumed frame; .throw() and
	// .close() arguments are passed to GeneratorAdvance directly instead.
	PendingSendValue Value

	Name string
}

func (g *Generator) PyTypeName() string {
	switch {
	case g.IsAsyncGen:
		return "async_generator"
	case g.IsCoroutine:
		return "coroutine"
	default:
		return "generator"
	}
}
func (g *Generator) Kind() string { return "Generator" }
func (g *Generator) ChildRefs() []heap.ID {
	ids := refChildren([]Value{g.PendingSendValue})
	if g.YieldFromTarget != 0 {
		ids = append(ids, g.YieldFromTarget)
	}
	return ids
}

// GeneratorContextManagerFactory is the object `@contextlib.contextmanager`
// produces from a generator function: calling it with arguments builds a
// GeneratorContextManager bound to those arguments.
type GeneratorContextManagerFactory struct {
	GenFunc Value // the decorated generator function
}

func (f *GeneratorContextManagerFactory) Kind() string       { return "GeneratorContextManagerFactory" }
func (f *GeneratorContextManagerFactory) PyTypeName() string { return "function" }
func (f *GeneratorContextManagerFactory) ChildRefs() []heap.ID {
	return refChildren([]Value{f.GenFunc})
}

// GeneratorContextManager is the `with`-usable object returned by invoking a
// GeneratorContextManagerFactory: __enter__ advances the generator to its
// first yield, __exit__ resumes it (optionally throwing the active
// exception in) and enforces the "generator didn't stop" RuntimeError (spec
// "Context Managers").
type GeneratorContextManager struct {
	Gen          heap.ID // the underlying Generator
	EnteredValue Value   // cached result of the first yield, returned again if reused improperly
	Entered      bool
	Exited       bool

	// AlsoDecorator is set when this object is additionally used as
	// `@cm_instance` to decorate a plain function — contextlib.ContextDecorator
	// behavior (spec "Context Managers": "a @contextmanager result is usable
	// both as `with cm():` and as a decorator").
	AlsoDecorator bool
}

func (g *GeneratorContextManager) Kind() string       { return "GeneratorContextManager" }
func (g *GeneratorContextManager) PyTypeName() string { return "_GeneratorContextManager" }
func (g *GeneratorContextManager) ChildRefs() []heap.ID {
	ids := []heap.ID{g.Gen}
	return append(ids, refChildren([]Value{g.EnteredValue})...)
}

// InstanceContextDecorator wraps an arbitrary context-manager instance so it
// can also be used as `@cm_instance` on a plain function: each call to the
// decorated function opens a fresh `with cm_instance:` block around it.
type InstanceContextDecorator struct {
	CM   Value
	Func Value // the function `@cm_instance` decorated
}

func (d *InstanceContextDecorator) Kind() string       { return "InstanceContextDecorator" }
func (d *InstanceContextDecorator) PyTypeName() string { return "function" }
func (d *InstanceContextDecorator) ChildRefs() []heap.ID {
	return refChildren([]Value{d.CM, d.Func})
}

// ExitStackEntry is one registered callback/context-manager on an ExitStack,
// unwound LIFO.
type ExitStackEntry struct {
	// Exactly one of CM or Callback is set.
	CM       Value
	Callback Value
	CallArgs []Value
}

// ExitStack is contextlib.ExitStack: a dynamic stack of context managers and
// plain callbacks, all unwound in reverse registration order when the stack
// itself exits, with CPython's "a suppressing __exit__ stops propagation but
// later entries still run" semantics (spec "Context Managers").
type ExitStack struct {
	Entries []ExitStackEntry
}

func (e *ExitStack) Kind() string       { return "ExitStack" }
func (e *ExitStack) PyTypeName() string { return "contextlib.ExitStack" }
func (e *ExitStack) ChildRefs() []heap.ID {
	ids := make([]heap.ID, 0, len(e.Entries)*2)
	for _, ent := range e.Entries {
		ids = append(ids, refChildren([]Value{ent.CM, ent.Callback})...)
		ids = append(ids, refChildren(ent.CallArgs)...)
	}
	return ids
}

// Push appends a new entry, implementing ExitStack.push/callback/enter_context.
func (e *ExitStack) Push(entry ExitStackEntry) { e.Entries = append(e.Entries, entry) }

// PopAll returns entries in LIFO unwind order and clears the stack, mirroring
// ExitStack.pop_all() semantics used when transplanting cleanup to a new
// owner.
func (e *ExitStack) PopAll() []ExitStackEntry {
	out := make([]ExitStackEntry, len(e.Entries))
	for i, ent := range e.Entries {
		out[len(e.Entries)-1-i] = ent
	}
	e.Entries = nil
	return out
}

// MappingProxy is the read-only view `types.MappingProxyType`/`cls.__dict__`
// returns: it shares the underlying Dict heap object but rejects mutation.
type MappingProxy struct {
	Target heap.ID
}

func (m *MappingProxy) Kind() string         { return "MappingProxy" }
func (m *MappingProxy) PyTypeName() string   { return "mappingproxy" }
func (m *MappingProxy) ChildRefs() []heap.ID { return []heap.ID{m.Target} }
