// Package opcodes defines the stack-machine instruction set the dispatch
// loop executes. Bytecode compilation/parsing is out of scope; this package
// only names the instruction shapes the VM understands and the call-family
// opcodes the Call Engine module dispatches (spec "Dispatch Loop", "Call
// Engine").
package opcodes

import "fmt"

// Opcode is one instruction tag. Operand meaning is documented per group,
// following the teacher corpus's grouped-const-block-with-inline-comment
// style rather than one giant flat list.
type Opcode byte

// Stack and constant loading (0-19)
const (
	OpNop Opcode = iota
	OpLoadConst      // push Constants[Arg1]
	OpLoadLocal      // push Locals[Arg1]
	OpStoreLocal     // Locals[Arg1] = pop()
	OpLoadGlobal     // push Globals[name_id=Arg1]
	OpStoreGlobal    // Globals[name_id=Arg1] = pop()
	OpLoadCell       // push *Cells[Arg1]
	OpStoreCell      // *Cells[Arg1] = pop()
	OpLoadDeref      // push deref of a free/cell var, resolving closures
	OpDupTop         // push top() again
	OpPop            // discard top()
	OpRot2           // swap top two
	OpLoadNone
	OpLoadTrue
	OpLoadFalse
	OpLoadNotImplemented
	OpLoadEllipsis
	OpLoadBuildClass // push the __build_class__ helper
)

// Arithmetic/comparison/bitwise binary ops (20-59): each pops rhs, lhs and
// pushes the dunder-dispatched result (spec "Dunder Dispatch").
const (
	OpBinaryAdd Opcode = iota + 20
	OpBinarySub
	OpBinaryMul
	OpBinaryTrueDiv
	OpBinaryFloorDiv
	OpBinaryMod
	OpBinaryPow
	OpBinaryMatMul
	OpBinaryLShift
	OpBinaryRShift
	OpBinaryAnd
	OpBinaryOr
	OpBinaryXor
	OpCompareEq
	OpCompareNe
	OpCompareLt
	OpCompareLe
	OpCompareGt
	OpCompareGe
	OpCompareIs
	OpCompareIsNot
	OpCompareIn
	OpCompareNotIn
	OpInplaceAdd
	OpInplaceSub
	OpInplaceMul
	OpInplaceTrueDiv
	OpInplaceFloorDiv
	OpInplaceMod
	OpInplacePow
	OpInplaceLShift
	OpInplaceRShift
	OpInplaceAnd
	OpInplaceOr
	OpInplaceXor
	OpUnaryNeg
	OpUnaryPos
	OpUnaryNot
	OpUnaryInvert
)

// Control flow (60-79)
const (
	OpJump Opcode = iota + 60
	OpJumpIfFalse
	OpJumpIfTrue
	OpJumpIfFalseOrPop // ("and" short circuit)
	OpJumpIfTrueOrPop  // ("or" short circuit)
	OpReturnValue
	OpRaise        // raise top() [from Arg1: chained cause present]
	OpReraise      // bare `raise` inside an except block
	OpSetupFinally // Arg1 = handler target offset
	OpPopBlock
	OpEnterExcept  // bind caught exception to a local, clear on block exit
)

// Containers & iteration (80-99)
const (
	OpBuildList Opcode = iota + 80
	OpBuildTuple
	OpBuildSet
	OpBuildMap
	OpListAppend   // Arg1 = depth: list at stack[-depth-1].append(pop())
	OpSubscr       // push obj[index] via __getitem__
	OpStoreSubscr  // obj[index] = value via __setitem__
	OpDeleteSubscr
	OpGetIter      // push iter(pop())
	OpForIter      // advance iterator on top, push next value or jump to Arg1 on StopIteration
	OpUnpackSequence
	OpBuildSlice
)

// Attribute access & calls (100-129) — the Call Engine / Attribute & MRO
// modules' opcode surface.
const (
	OpLoadAttr Opcode = iota + 100
	OpStoreAttr
	OpDeleteAttr
	OpCallFunction         // call TOS with Arg1 positional args below it
	OpCallFunctionKw       // call with a trailing tuple of keyword names
	OpCallFunctionExtended // call with *args/**kwargs unpacking (CALL_FUNCTION_EX)
	OpCallAttr             // LOAD_METHOD-style: resolve attr, call as bound/unbound
	OpCallAttrKw
	OpCallAttrExtended
	OpCallBuiltinFunction // call a registry builtin by id (Arg1)
	OpCallBuiltinType     // call a registry builtin type constructor by id (Arg1)
	OpMakeFunction        // build a Closure from a DefFunction id + captured cells
	OpLoadSuper0          // push the 0-arg super() proxy for the current frame
	OpLoadSuper2          // push a 2-arg super(cls, obj) proxy
)

// Generators, coroutines, context managers (130-149)
const (
	OpYieldValue Opcode = iota + 130
	OpYieldFrom
	OpGetAwaitable
	OpGetAiter
	OpGetAnext
	OpSetupWith    // __enter__ the manager on top, push its result
	OpWithCleanup  // run __exit__, honoring suppression
	OpSetupAsyncWith
	OpBeforeAsyncWith
)

// Instruction is one decoded bytecode unit. Arg1/Arg2/Result index into the
// frame's constants/locals/cells depending on Opcode, mirroring the
// teacher's fixed-width Instruction shape rather than a variable-length
// encoding, which keeps the dispatch loop's decode step branch-free.
type Instruction struct {
	Op     Opcode
	Arg1   uint32
	Arg2   uint32
	Result uint32
}

func (op Opcode) String() string {
	if name, ok := names[op]; ok {
		return name
	}
	return fmt.Sprintf("OP(%d)", byte(op))
}

var names = map[Opcode]string{
	OpNop: "NOP", OpLoadConst: "LOAD_CONST", OpLoadLocal: "LOAD_LOCAL", OpStoreLocal: "STORE_LOCAL",
	OpLoadGlobal: "LOAD_GLOBAL", OpStoreGlobal: "STORE_GLOBAL", OpLoadCell: "LOAD_CELL", OpStoreCell: "STORE_CELL",
	OpLoadDeref: "LOAD_DEREF", OpDupTop: "DUP_TOP", OpPop: "POP_TOP", OpRot2: "ROT_TWO",
	OpLoadNone: "LOAD_NONE", OpLoadTrue: "LOAD_TRUE", OpLoadFalse: "LOAD_FALSE",
	OpLoadNotImplemented: "LOAD_NOTIMPLEMENTED", OpLoadEllipsis: "LOAD_ELLIPSIS", OpLoadBuildClass: "LOAD_BUILD_CLASS",
	OpBinaryAdd: "BINARY_ADD", OpBinarySub: "BINARY_SUB", OpBinaryMul: "BINARY_MUL",
	OpBinaryTrueDiv: "BINARY_TRUE_DIVIDE", OpBinaryFloorDiv: "BINARY_FLOOR_DIVIDE", OpBinaryMod: "BINARY_MODULO",
	OpBinaryPow: "BINARY_POWER", OpBinaryMatMul: "BINARY_MATRIX_MULTIPLY",
	OpBinaryLShift: "BINARY_LSHIFT", OpBinaryRShift: "BINARY_RSHIFT",
	OpBinaryAnd: "BINARY_AND", OpBinaryOr: "BINARY_OR", OpBinaryXor: "BINARY_XOR",
	OpCompareEq: "COMPARE_EQ", OpCompareNe: "COMPARE_NE", OpCompareLt: "COMPARE_LT", OpCompareLe: "COMPARE_LE",
	OpCompareGt: "COMPARE_GT", OpCompareGe: "COMPARE_GE", OpCompareIs: "COMPARE_IS", OpCompareIsNot: "COMPARE_IS_NOT",
	OpCompareIn: "COMPARE_IN", OpCompareNotIn: "COMPARE_NOT_IN",
	OpInplaceAdd: "INPLACE_ADD", OpInplaceSub: "INPLACE_SUB", OpInplaceMul: "INPLACE_MUL",
	OpInplaceTrueDiv: "INPLACE_TRUE_DIVIDE", OpInplaceFloorDiv: "INPLACE_FLOOR_DIVIDE", OpInplaceMod: "INPLACE_MODULO",
	OpInplacePow: "INPLACE_POWER", OpInplaceLShift: "INPLACE_LSHIFT", OpInplaceRShift: "INPLACE_RSHIFT",
	OpInplaceAnd: "INPLACE_AND", OpInplaceOr: "INPLACE_OR", OpInplaceXor: "INPLACE_XOR",
	OpUnaryNeg: "UNARY_NEGATIVE", OpUnaryPos: "UNARY_POSITIVE", OpUnaryNot: "UNARY_NOT", OpUnaryInvert: "UNARY_INVERT",
	OpJump: "JUMP", OpJumpIfFalse: "JUMP_IF_FALSE", OpJumpIfTrue: "JUMP_IF_TRUE",
	OpJumpIfFalseOrPop: "JUMP_IF_FALSE_OR_POP", OpJumpIfTrueOrPop: "JUMP_IF_TRUE_OR_POP",
	OpReturnValue: "RETURN_VALUE", OpRaise: "RAISE_VARARGS", OpReraise: "RERAISE",
	OpSetupFinally: "SETUP_FINALLY", OpPopBlock: "POP_BLOCK", OpEnterExcept: "ENTER_EXCEPT",
	OpBuildList: "BUILD_LIST", OpBuildTuple: "BUILD_TUPLE", OpBuildSet: "BUILD_SET", OpBuildMap: "BUILD_MAP",
	OpListAppend: "LIST_APPEND", OpSubscr: "BINARY_SUBSCR", OpStoreSubscr: "STORE_SUBSCR", OpDeleteSubscr: "DELETE_SUBSCR",
	OpGetIter: "GET_ITER", OpForIter: "FOR_ITER", OpUnpackSequence: "UNPACK_SEQUENCE", OpBuildSlice: "BUILD_SLICE",
	OpLoadAttr: "LOAD_ATTR", OpStoreAttr: "STORE_ATTR", OpDeleteAttr: "DELETE_ATTR",
	OpCallFunction: "CALL_FUNCTION", OpCallFunctionKw: "CALL_FUNCTION_KW", OpCallFunctionExtended: "CALL_FUNCTION_EX",
	OpCallAttr: "CALL_ATTR", OpCallAttrKw: "CALL_ATTR_KW", OpCallAttrExtended: "CALL_ATTR_EX",
	OpCallBuiltinFunction: "CALL_BUILTIN_FUNCTION", OpCallBuiltinType: "CALL_BUILTIN_TYPE",
	OpMakeFunction: "MAKE_FUNCTION", OpLoadSuper0: "LOAD_SUPER_0", OpLoadSuper2: "LOAD_SUPER_2",
	OpYieldValue: "YIELD_VALUE", OpYieldFrom: "YIELD_FROM", OpGetAwaitable: "GET_AWAITABLE",
	OpGetAiter: "GET_AITER", OpGetAnext: "GET_ANEXT",
	OpSetupWith: "SETUP_WITH", OpWithCleanup: "WITH_CLEANUP", OpSetupAsyncWith: "SETUP_ASYNC_WITH",
	OpBeforeAsyncWith: "BEFORE_ASYNC_WITH",
}

// IsCallOpcode reports whether op is one of the Call Engine's dispatch
// entry points (spec "Call Engine" names this exact opcode set).
func IsCallOpcode(op Opcode) bool {
	switch op {
	case OpCallFunction, OpCallFunctionKw, OpCallFunctionExtended,
		OpCallAttr, OpCallAttrKw, OpCallAttrExtended,
		OpCallBuiltinFunction, OpCallBuiltinType:
		return true
	default:
		return false
	}
}
