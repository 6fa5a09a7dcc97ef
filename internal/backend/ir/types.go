// Package ir implements the §4.7 IR Backend: lowering a loaded
// program.Program into real LLVM IR, built with github.com/llir/llvm rather
// than a hand-rolled SSA arena, grounded on golint-fixer-exp/cmd/bin2ll's use
// of ir/ir.NewModule, ir/types, ir/constant and ir/value to construct actual
// LLVM modules/functions/blocks one instruction at a time. Machine-code
// generation and linking remain an external, non-goal step (§1): the only
// output this package produces directly is textual .ll; anything else is
// handed to an external llc/opt invocation (see emit.go).
package ir

import (
	"fmt"

	"github.com/llir/llvm/ir/types"

	"github.com/ouroboros-lang/ourovm/api"
)

// valueType returns the LLVM IR type used to represent every Ouroboros
// runtime Value on the operand stack. Rather than giving each Kind its own
// native LLVM type (which would require tagged unions at every join point
// anyway), every Value is lowered to a pointer to the boxed runtime
// representation (i8*). Arithmetic, comparison, and bitwise opcodes still
// call thin runtime accessors to cross that boundary — unbox the operand,
// check its Kind tag, box the result — but the operator itself (add, sdiv,
// fcmp, and so on) is a native LLVM instruction lower.go emits directly
// against the unboxed value, selected by a runtime branch on the operand's
// Kind rather than delegated whole to a runtime helper. The exceptions are
// the ouroboros_unop_<Op> helpers (BNot among them), Compare/SpaceshipCompare
// (ouroboros_cmp3), and equality or ordering of non-numeric operands
// (ouroboros_value_equal, ouroboros_cmp_strings). This mirrors how a
// register-poor, dynamically-typed bytecode VM is usually given an IR
// backend: box once, let LLVM's optimizer see through the boxing where it
// can per the pass manager in passopt.go.
func valueType() types.Type {
	return types.NewPointer(types.I8)
}

// nativeIntType is used only for the handful of places the lowering needs a
// genuine machine integer: the argc parameter of the ouroboros_new_<Name>
// constructors and the size parameter of ouroboros_alloc (classes.go).
func nativeIntType() types.Type { return types.I64 }

// runtimeKindName names the boxed-value runtime helper suffix for a Kind, so
// the lowering can call e.g. "ouroboros_arith_add" generically while still
// being able to special-case Kind-specific helpers if a future pass wants
// unboxed fast paths.
func runtimeKindName(k api.Kind) string {
	switch k {
	case api.KindInt32:
		return "i32"
	case api.KindInt64:
		return "i64"
	case api.KindFloat32:
		return "f32"
	case api.KindFloat64:
		return "f64"
	case api.KindBool:
		return "bool"
	case api.KindString:
		return "string"
	default:
		return fmt.Sprintf("kind%d", int(k))
	}
}
