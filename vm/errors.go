package vm

import (
	"errors"
	"fmt"

	"github.com/parcadei/pyrt/opcodes"
	"github.com/parcadei/pyrt/values"
)

// Base exception-type sentinels. PyError.Type wraps one of these so callers
// can match a caught Python exception's category with errors.Is without
// string-comparing type names.
var (
	ErrException         = errors.New("Exception")
	ErrTypeError         = errors.New("TypeError")
	ErrValueError        = errors.New("ValueError")
	ErrAttributeError    = errors.New("AttributeError")
	ErrIndexError        = errors.New("IndexError")
	ErrKeyError          = errors.New("KeyError")
	ErrStopIteration     = errors.New("StopIteration")
	ErrStopAsyncIteration = errors.New("StopAsyncIteration")
	ErrOverflowError     = errors.New("OverflowError")
	ErrZeroDivisionError = errors.New("ZeroDivisionError")
	ErrRuntimeError      = errors.New("RuntimeError")
	ErrRecursionError    = errors.New("RecursionError")
	ErrReferenceError    = errors.New("ReferenceError")
	ErrNotImplementedErr = errors.New("NotImplementedError")
	ErrNameError         = errors.New("NameError")
	ErrUnboundLocalError = errors.New("UnboundLocalError")
	ErrOSError           = errors.New("OSError")
	ErrFileNotFoundError = errors.New("FileNotFoundError")
	ErrPermissionError   = errors.New("PermissionError")

	// ErrInternalError never reaches Python-level except clauses: it marks a
	// VM invariant violation (corrupt frame, unknown opcode) rather than a
	// user-catchable condition.
	ErrInternalError = errors.New("InternalError")
)

// PyError is a raised Python exception in flight: the base exception-type
// sentinel it Is()-matches, the formatted message, the instance that
// backs it (so `except E as e: e.args` works), and enough VM context
// (frame/opcode/ip) for an unhandled-exception traceback.
type PyError struct {
	Type    error
	Message string
	Context string

	Instance values.Value // zero Value if this error was never materialized as a heap Instance
	Frame    *CallFrame
	Opcode   opcodes.Opcode
	IP       int

	Cause     *PyError // `raise X from Y`
	Suppress  bool     // `raise X from None`
	Traceback []TraceEntry
}

// TraceEntry is one frame of a Python traceback, innermost last.
type TraceEntry struct {
	FuncName string
	IP       int
}

func (e *PyError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s: %s (in %s)", e.Type.Error(), e.Message, e.Context)
	}
	return fmt.Sprintf("%s: %s", e.Type.Error(), e.Message)
}

func (e *PyError) Unwrap() error { return e.Type }

func (e *PyError) Is(target error) bool { return errors.Is(e.Type, target) }

// NewPyError builds a PyError whose Type is baseType and Message is
// formatted from format/args, with no VM context attached yet (the dispatch
// loop fills Frame/Opcode/IP in via decorate, mirroring the teacher's
// NewVMError/decorateError split between construction and context
// attachment).
func NewPyError(baseType error, format string, args ...interface{}) *PyError {
	return &PyError{Type: baseType, Message: fmt.Sprintf(format, args...)}
}

// decorate attaches current frame/opcode/ip context to err if it is a
// PyError missing that context, otherwise passes other errors through
// unchanged. Mirrors the teacher's decorateError helper in vm/vm.go.
func decorate(err error, frame *CallFrame, op opcodes.Opcode, ip int) error {
	if err == nil {
		return nil
	}
	var pe *PyError
	if errors.As(err, &pe) {
		if pe.Frame == nil {
			pe.Frame = frame
		}
		pe.Opcode = op
		pe.IP = ip
	}
	return err
}

// unwindToHandler searches frame's block stack for the nearest BlockExcept
// entry, for injecting an exception directly into a suspended frame
// (Generator.throw, spec §4.11) rather than propagating it as a Go error out
// of the frame entirely. Finally/with blocks encountered along the way are
// popped without running their cleanup: a thrown-in exception only unwinds
// to the generator's own except handler, it doesn't drive the general
// raise/unwind path (nothing in this VM does yet - see DESIGN.md).
// Operand-stack values above the handler's recorded depth are dropped since
// they never reach a POP_BLOCK/consumer now that we're jumping past them.
func (vmachine *VirtualMachine) unwindToHandler(frame *CallFrame, pe *PyError) bool {
	for {
		block, ok := frame.PopBlock()
		if !ok {
			return false
		}
		for len(vmachine.stack) > block.StackDepth {
			vmachine.dropValue(vmachine.pop())
		}
		if block.Kind == BlockWith {
			vmachine.dropValue(block.CMValue)
		}
		if block.Kind == BlockExcept {
			frame.ActiveException = pe
			frame.IP = block.HandlerIP
			return true
		}
	}
}

// TypeErrorf, ValueErrorf, etc. are the everyday constructors builtin and
// dunder-dispatch code call; kept as thin wrappers over NewPyError so
// call sites read like the exception they raise.
func TypeErrorf(format string, args ...interface{}) *PyError {
	return NewPyError(ErrTypeError, format, args...)
}
func ValueErrorf(format string, args ...interface{}) *PyError {
	return NewPyError(ErrValueError, format, args...)
}
func AttributeErrorf(format string, args ...interface{}) *PyError {
	return NewPyError(ErrAttributeError, format, args...)
}
func IndexErrorf(format string, args ...interface{}) *PyError {
	return NewPyError(ErrIndexError, format, args...)
}
func KeyErrorf(format string, args ...interface{}) *PyError {
	return NewPyError(ErrKeyError, format, args...)
}
func StopIterationErr() *PyError { return NewPyError(ErrStopIteration, "") }
func StopAsyncIterationErr() *PyError { return NewPyError(ErrStopAsyncIteration, "") }
func OverflowErrorf(format string, args ...interface{}) *PyError {
	return NewPyError(ErrOverflowError, format, args...)
}
func ZeroDivisionErrorf(format string, args ...interface{}) *PyError {
	return NewPyError(ErrZeroDivisionError, format, args...)
}
func RuntimeErrorf(format string, args ...interface{}) *PyError {
	return NewPyError(ErrRuntimeError, format, args...)
}
func RecursionErrorf(format string, args ...interface{}) *PyError {
	return NewPyError(ErrRecursionError, format, args...)
}
func ReferenceErrorf(format string, args ...interface{}) *PyError {
	return NewPyError(ErrReferenceError, format, args...)
}
func NameErrorf(format string, args ...interface{}) *PyError {
	return NewPyError(ErrNameError, format, args...)
}
func UnboundLocalErrorf(format string, args ...interface{}) *PyError {
	return NewPyError(ErrUnboundLocalError, format, args...)
}
func InternalErrorf(format string, args ...interface{}) *PyError {
	return NewPyError(ErrInternalError, format, args...)
}
