package ir

import (
	"encoding/binary"
	"fmt"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"github.com/ouroboros-lang/ourovm/api"
	"github.com/ouroboros-lang/ourovm/internal/isa"
	"github.com/ouroboros-lang/ourovm/internal/program"
)

// stackCapacity bounds the memory-backed operand stack each lowered function
// allocates. Neither LowerProgram nor Verify (verify.go) checks a program's
// stack depth against it.
const stackCapacity = 512

// localsCapacity mirrors stackCapacity for the locals array; like the
// dispatch engine's own lazy-Null extension, it is deliberately generous.
const localsCapacity = 256

// funcCtx carries the running lowering state for one function: the blocks
// already created for jump targets, the memory-backed operand stack/locals,
// and the live stack pointer.
type funcCtx struct {
	mod    *Module
	fn     *ir.Func
	blocks map[int]*ir.Block
	stack  *ir.InstAlloca
	sp     *ir.InstAlloca
	locals *ir.InstAlloca

	// names is a compile-time shadow of the operand stack, tracking which
	// pushed values are known string constants (from a LoadConstant of a
	// constant-pool string) so Call can resolve a statically-known callee
	// name to a direct call instead of the dynamic ouroboros_call bridge.
	// It is advisory only — cleared at every block boundary (lowerFunction's
	// merge-point bridging and every branch this package introduces) so it
	// is never consulted across a point where two predecessors could
	// disagree about what produced the value on top of the real stack.
	names []string

	// blockSeq names the extra blocks arithmetic/compare lowering
	// synthesizes for their runtime-type branch (arith_f1, arith_i1, ...),
	// so two operators in the same function never collide on a block name.
	blockSeq int
}

func (fc *funcCtx) label(prefix string) string {
	fc.blockSeq++
	return fmt.Sprintf("%s%d", prefix, fc.blockSeq)
}

// newBlock allocates a fresh block on the function under lowering, named
// with label so two operators never collide.
func (fc *funcCtx) newBlock(prefix string) *ir.Block {
	return fc.fn.NewBlock(fc.label(prefix))
}

// LowerProgram translates p into a single LLVM IR module, one ir.Func per
// program.Function, in a module named "ouroboros_program".
// Lowering gives a direct native encoding to the core computational opcode
// families (stack shuffling, arithmetic/compare/bitwise, locals/globals,
// control flow, call/return); everything that inherently needs the live
// RuntimeEnvironment (host callables, type descriptors, monitors, imports,
// declarations, exceptions, generators, async) lowers to a single call into
// ouroboros_exec_opcode, the documented interpreted fallback — compiling
// those out natively would mean re-implementing the whole Environment in IR,
// which has no benefit over calling back into it.
func LowerProgram(p *program.Program) (*Module, error) {
	mod := NewModule("ouroboros_program")
	declareConstructors(mod, p)
	declareUserFuncs(mod, p)
	for _, fn := range p.FuncOrder {
		if !fn.Callable() {
			continue
		}
		if err := lowerFunction(mod, p, fn); err != nil {
			return nil, fmt.Errorf("lowering %s: %w", fn.Name, err)
		}
	}
	// Constructor stubs are declared before lowerFunction runs so New's
	// lowering can reference them by name; their bodies and each type's
	// vtable are only filled in now, once every method has an *ir.Func to
	// point at.
	if err := GenerateClasses(mod, p); err != nil {
		return nil, err
	}
	SynthesizeEntry(mod, p)
	return mod, nil
}

// declareUserFuncs pre-declares every callable function's *ir.Func signature
// before any body is lowered, so a Call whose callee resolves to a
// statically-known function name (lowerOne's Call case) can always emit a
// direct call to it — including a forward reference to a function later in
// FuncOrder or a mutually recursive pair — without waiting for that
// function's own lowerFunction pass to run.
func declareUserFuncs(mod *Module, p *program.Program) {
	i8ptr := types.NewPointer(types.I8)
	for _, fn := range p.FuncOrder {
		if !fn.Callable() {
			continue
		}
		if _, exists := mod.UserFuncs[fn.Name]; exists {
			continue
		}
		params := make([]*ir.Param, fn.ParameterCount)
		for i := range params {
			name := fmt.Sprintf("arg%d", i)
			if i < len(fn.ParameterNames) && fn.ParameterNames[i] != "" {
				name = fn.ParameterNames[i]
			}
			params[i] = ir.NewParam(name, i8ptr)
		}
		// Mangled with a prefix so a program-declared "main" never collides
		// with the synthesized C-ABI entry point SynthesizeEntry adds
		// (entry.go).
		f := mod.M.NewFunc("ouro_fn_"+sanitizeName(fn.Name), i8ptr, params...)
		mod.UserFuncs[fn.Name] = f
	}
}

func lowerFunction(mod *Module, p *program.Program, fn *program.Function) error {
	i8ptr := types.NewPointer(types.I8)
	f, ok := mod.UserFuncs[fn.Name]
	if !ok {
		return fmt.Errorf("internal: %s was not pre-declared", fn.Name)
	}
	params := f.Params

	entry := f.NewBlock("entry")
	fc := &funcCtx{mod: mod, fn: f, blocks: map[int]*ir.Block{}}
	fc.stack = entry.NewAlloca(types.NewArray(stackCapacity, i8ptr))
	fc.sp = entry.NewAlloca(types.I64)
	entry.NewStore(constant.NewInt(types.I64, 0), fc.sp)
	fc.locals = entry.NewAlloca(types.NewArray(localsCapacity, i8ptr))
	for i, p := range params {
		slot := fc.localSlot(entry, i)
		entry.NewStore(p, slot)
	}

	for _, target := range branchTargets(p.Code, fn) {
		fc.blocks[target] = f.NewBlock(fmt.Sprintf("L%d", target))
	}

	cur := entry
	pc := fn.StartOffset
	for pc < fn.EndOffset {
		if b, ok := fc.blocks[pc]; ok && b != entry && b != cur {
			if cur.Term == nil {
				cur.NewBr(b)
			}
			cur = b
			fc.names = nil // merge point: stale constant-name tags don't apply
		}
		opPC := pc
		op := isa.Opcode(p.Code[pc])
		pc++
		info, ok := isa.Lookup(op)
		if !ok {
			return fmt.Errorf("unknown opcode %d at pc=%d", op, opPC)
		}
		imms := make([]int32, len(info.Imms))
		for i := range imms {
			imms[i] = int32(binary.LittleEndian.Uint32(p.Code[pc : pc+4]))
			pc += 4
		}
		next := lowerOne(fc, cur, p, op, imms, pc, opPC)
		if next != nil {
			cur = next
			fc.names = nil // new block: shadow stack starts fresh
		}
	}
	if cur.Term == nil {
		cur.NewRet(constant.NewNull(i8ptr))
	}
	return nil
}

// localSlot returns a pointer to locals[i].
func (fc *funcCtx) localSlot(b *ir.Block, i int) value.Value {
	zero := constant.NewInt(types.I64, 0)
	idx := constant.NewInt(types.I64, int64(i))
	return b.NewGetElementPtr(fc.locals.Type().(*types.PointerType).ElemType, fc.locals, zero, idx)
}

// push stores v at the top of the memory-backed operand stack and records
// name (empty if v isn't a known constant-pool string) on the compile-time
// shadow stack in names.
func (fc *funcCtx) push(b *ir.Block, v value.Value, name string) {
	sp := b.NewLoad(types.I64, fc.sp)
	zero := constant.NewInt(types.I64, 0)
	slot := b.NewGetElementPtr(fc.stack.Type().(*types.PointerType).ElemType, fc.stack, zero, sp)
	b.NewStore(v, slot)
	b.NewStore(b.NewAdd(sp, constant.NewInt(types.I64, 1)), fc.sp)
	fc.names = append(fc.names, name)
}

// pop loads the top of the memory-backed operand stack, along with whatever
// constant name push recorded for it (empty if none or if the shadow stack
// and real stack have drifted apart, which never causes incorrect codegen —
// it only means the Call case falls back to a dynamic dispatch).
func (fc *funcCtx) pop(b *ir.Block) (value.Value, string) {
	sp := b.NewLoad(types.I64, fc.sp)
	sp1 := b.NewSub(sp, constant.NewInt(types.I64, 1))
	b.NewStore(sp1, fc.sp)
	zero := constant.NewInt(types.I64, 0)
	slot := b.NewGetElementPtr(fc.stack.Type().(*types.PointerType).ElemType, fc.stack, zero, sp1)
	v := b.NewLoad(types.NewPointer(types.I8), slot)
	name := ""
	if n := len(fc.names); n > 0 {
		name = fc.names[n-1]
		fc.names = fc.names[:n-1]
	}
	return v, name
}

// lowerOne appends the IR for one decoded instruction to b. It returns the
// block later instructions continue in when its lowering created one (the
// fall-through block of a conditional branch, or the merge block of an
// operator's runtime type branch); otherwise it returns nil, which is also
// what Jump and Return return after terminating b.
func lowerOne(fc *funcCtx, b *ir.Block, p *program.Program, op isa.Opcode, imms []int32, afterImmPC, opPC int) *ir.Block {
	i8ptr := types.NewPointer(types.I8)
	switch op {
	case isa.Nop, isa.BeginTry, isa.BeginCatch, isa.BeginFinally, isa.EndFinally,
		isa.BeginAsync, isa.EndAsync, isa.BeginParallel, isa.EndParallel,
		isa.DefineClass, isa.DefineInterface, isa.DefineStruct, isa.DefineEnum, isa.DefineFunction:
		return nil

	case isa.Pop:
		fc.pop(b)
		return nil
	case isa.Dup:
		v, name := fc.pop(b)
		fc.push(b, v, name)
		fc.push(b, v, name)
		return nil
	case isa.Swap:
		x, xn := fc.pop(b)
		y, yn := fc.pop(b)
		fc.push(b, x, xn)
		fc.push(b, y, yn)
		return nil

	case isa.LoadLocal:
		slot := fc.localSlot(b, int(imms[0]))
		fc.push(b, b.NewLoad(i8ptr, slot), "")
		return nil
	case isa.StoreLocal:
		v, _ := fc.pop(b)
		slot := fc.localSlot(b, int(imms[0]))
		b.NewStore(v, slot)
		return nil

	case isa.LoadConstant:
		v, name := fc.lowerConstant(b, p, imms[0])
		fc.push(b, v, name)
		return nil

	case isa.LoadGlobal:
		fn := fc.mod.internFunc("ouroboros_load_global", i8ptr, ir.NewParam("idx", types.I64))
		v := b.NewCall(fn, constant.NewInt(types.I64, int64(imms[0])))
		fc.push(b, v, "")
		return nil
	case isa.StoreGlobal:
		val, _ := fc.pop(b)
		fn := fc.mod.internFunc("ouroboros_store_global", types.Void, ir.NewParam("idx", types.I64), ir.NewParam("v", i8ptr))
		b.NewCall(fn, constant.NewInt(types.I64, int64(imms[0])), val)
		return nil

	case isa.LoadTrue:
		fc.push(b, boxedBool(fc, b, true), "")
		return nil
	case isa.LoadFalse:
		fc.push(b, boxedBool(fc, b, false), "")
		return nil
	case isa.LoadNull:
		fn := fc.mod.internFunc("ouroboros_null", i8ptr)
		fc.push(b, b.NewCall(fn), "")
		return nil

	case isa.New:
		argc := int(imms[1])
		args := make([]value.Value, argc)
		for i := argc - 1; i >= 0; i-- {
			args[i], _ = fc.pop(b)
		}
		argv := spillArgs(fc, b, args)
		ctorName := "ouroboros_new_" + constTypeNameOrGeneric(p, imms[0])
		ctor, known := fc.mod.funcs[ctorName]
		if !known {
			// Declared with no vtable (a value type, or a forward-only
			// declaration classes.go never saw a body for): fall through
			// to the generic object allocator instead of erroring, since
			// the interpreted engine never required a vtable either.
			ctor = fc.mod.internFunc("ouroboros_new_generic", i8ptr,
				ir.NewParam("argv", types.NewPointer(i8ptr)), ir.NewParam("argc", types.I64))
		}
		fc.push(b, b.NewCall(ctor, argv, constant.NewInt(types.I64, int64(argc))), "")
		return nil

	case isa.OpAdd, isa.OpSub, isa.OpMul, isa.OpDiv, isa.OpMod:
		right, _ := fc.pop(b)
		left, _ := fc.pop(b)
		v, end := lowerNumericArith(fc, b, op, left, right)
		fc.push(end, v, "")
		return end
	case isa.OpPow:
		right, _ := fc.pop(b)
		left, _ := fc.pop(b)
		v := lowerPow(fc, b, left, right)
		fc.push(b, v, "")
		return nil
	case isa.OpIntDiv:
		right, _ := fc.pop(b)
		left, _ := fc.pop(b)
		v, end := lowerIntDiv(fc, b, left, right)
		fc.push(end, v, "")
		return end

	case isa.Equal, isa.NotEqual:
		right, _ := fc.pop(b)
		left, _ := fc.pop(b)
		v, end := lowerEquality(fc, b, op, left, right)
		fc.push(end, v, "")
		return end
	case isa.Less, isa.Greater, isa.LessEq, isa.GreaterEq:
		right, _ := fc.pop(b)
		left, _ := fc.pop(b)
		v, end := lowerCompareBool(fc, b, op, left, right)
		fc.push(end, v, "")
		return end
	case isa.Compare, isa.SpaceshipCompare:
		right, _ := fc.pop(b)
		left, _ := fc.pop(b)
		v := lowerCompare3(fc, b, left, right)
		fc.push(b, v, "")
		return nil

	case isa.And, isa.Or:
		right, _ := fc.pop(b)
		left, _ := fc.pop(b)
		unboxBoolFn := fc.mod.internFunc("ouroboros_unbox_bool", types.I1, ir.NewParam("v", i8ptr))
		lb := b.NewCall(unboxBoolFn, left)
		rb := b.NewCall(unboxBoolFn, right)
		var rv value.Value
		if op == isa.And {
			rv = b.NewAnd(lb, rb)
		} else {
			rv = b.NewOr(lb, rb)
		}
		fc.push(b, boxedBoolVal(fc, b, rv), "")
		return nil

	case isa.BAnd, isa.BOr, isa.BXor, isa.Shl, isa.Shr:
		right, _ := fc.pop(b)
		left, _ := fc.pop(b)
		v := lowerBitwise(fc, b, op, left, right)
		fc.push(b, v, "")
		return nil

	case isa.OpNeg:
		v, _ := fc.pop(b)
		rv, end := lowerNeg(fc, b, v)
		fc.push(end, rv, "")
		return end
	case isa.Not:
		v, _ := fc.pop(b)
		unboxBoolFn := fc.mod.internFunc("ouroboros_unbox_bool", types.I1, ir.NewParam("v", i8ptr))
		bv := b.NewCall(unboxBoolFn, v)
		fc.push(b, boxedBoolVal(fc, b, b.NewXor(bv, constant.NewInt(types.I1, 1))), "")
		return nil
	case isa.BNot, isa.ToString:
		v, _ := fc.pop(b)
		name := "ouroboros_unop_" + op.String()
		fn := fc.mod.internFunc(name, i8ptr, ir.NewParam("v", i8ptr))
		fc.push(b, b.NewCall(fn, v), "")
		return nil

	case isa.Jump, isa.Break, isa.Continue:
		// Break/Continue carry their own mnemonic for the debugger and for
		// whatever compiled Break/Continue statements the source had, but
		// they are unconditional PC-relative branches exactly like Jump.
		target := fc.blocks[afterImmPC+int(imms[0])]
		b.NewBr(target)
		// Do not continue lowering into target here: whatever bytecode
		// follows linearly (afterImmPC) is usually unrelated to it (e.g. a
		// sibling else-arm), and the top-of-loop label bridging in
		// lowerFunction already reattaches cur once pc reaches a real block.
		return nil

	case isa.JumpIfTrue, isa.JumpIfFalse:
		cond, _ := fc.pop(b)
		truthy := fc.mod.internFunc("ouroboros_truthy", types.I1, ir.NewParam("v", i8ptr))
		cv := b.NewCall(truthy, cond)
		targetT := fc.blocks[afterImmPC+int(imms[0])]
		fall := fc.fallthroughBlock(afterImmPC)
		if op == isa.JumpIfTrue {
			b.NewCondBr(cv, targetT, fall)
		} else {
			b.NewCondBr(cv, fall, targetT)
		}
		return fall

	case isa.Return:
		v, _ := fc.pop(b)
		b.NewRet(v)
		return nil
	case isa.ReturnVoid, isa.Halt:
		fn := fc.mod.internFunc("ouroboros_null", i8ptr)
		b.NewRet(b.NewCall(fn))
		return nil

	case isa.Call, isa.AsyncCall:
		argc := int(imms[0])
		args := make([]value.Value, argc)
		for i := argc - 1; i >= 0; i-- {
			args[i], _ = fc.pop(b)
		}
		callee, calleeName := fc.pop(b)
		if op == isa.Call {
			if target, ok := fc.mod.UserFuncs[calleeName]; ok && calleeName != "" && len(target.Params) == argc {
				fc.push(b, b.NewCall(target, args...), "")
				return nil
			}
		}
		helper := "ouroboros_call"
		if op == isa.AsyncCall {
			helper = "ouroboros_async_call"
		}
		fn := fc.mod.internFunc(helper, i8ptr, ir.NewParam("callee", i8ptr), ir.NewParam("argv", types.NewPointer(i8ptr)), ir.NewParam("argc", types.I64))
		argv := spillArgs(fc, b, args)
		fc.push(b, b.NewCall(fn, callee, argv, constant.NewInt(types.I64, int64(argc))), "")
		return nil

	default:
		return lowerFallback(fc, b, op, imms, opPC)
	}
}

// lowerFallback handles every opcode whose semantics inherently depend on
// the live RuntimeEnvironment (object/member access, collections, casts,
// exceptions, generators, monitors, imports): it calls back into the
// interpreter's own opcode-execution helper rather than re-deriving type
// descriptors, host-callable resolution, or the unwinder in IR.
func lowerFallback(fc *funcCtx, b *ir.Block, op isa.Opcode, imms []int32, opPC int) *ir.Block {
	i8ptr := types.NewPointer(types.I8)
	fn := fc.mod.internFunc("ouroboros_exec_opcode", i8ptr,
		ir.NewParam("op", types.I8), ir.NewParam("imm0", types.I64), ir.NewParam("imm1", types.I64))
	var imm0, imm1 int64
	if len(imms) > 0 {
		imm0 = int64(imms[0])
	}
	if len(imms) > 1 {
		imm1 = int64(imms[1])
	}
	b.NewCall(fn, constant.NewInt(types.I8, int64(op)), constant.NewInt(types.I64, imm0), constant.NewInt(types.I64, imm1))
	return nil
}

func boxedBool(fc *funcCtx, b *ir.Block, v bool) value.Value {
	iv := int64(0)
	if v {
		iv = 1
	}
	return boxedBoolVal(fc, b, constant.NewInt(types.I1, iv))
}

// boxedBoolVal boxes an already-computed i1 into a Value, used by the native
// And/Or/Not lowering once the logical instruction itself has run.
func boxedBoolVal(fc *funcCtx, b *ir.Block, v value.Value) value.Value {
	fn := fc.mod.internFunc("ouroboros_box_bool", types.NewPointer(types.I8), ir.NewParam("v", types.I1))
	return b.NewCall(fn, v)
}

// lowerConstant pushes constant p.Constants[idx] as a literal IR constant
// (§4.7's "push IR constant from the constant pool") rather than a runtime
// lookup call. Numeric and bool kinds box a literal value directly; string
// constants get one shared global per distinct literal (mod.stringConstant)
// bitcast and passed through ouroboros_box_string, since the boxed string
// representation itself (length, interning, refcount) is a runtime concern
// this package doesn't reimplement. name echoes the string back onto the
// shadow stack so a LoadConstant of a callee name can resolve a later Call
// statically.
func (fc *funcCtx) lowerConstant(b *ir.Block, p *program.Program, idx int32) (value.Value, string) {
	i8ptr := types.NewPointer(types.I8)
	v, ok := p.Constant(int(idx))
	if !ok {
		fn := fc.mod.internFunc("ouroboros_null", i8ptr)
		return b.NewCall(fn), ""
	}
	switch v.Kind {
	case api.KindInt32:
		return boxI64(fc, b, constant.NewInt(types.I64, int64(v.I32)), constant.NewInt(types.I1, 0)), ""
	case api.KindInt64:
		return boxI64(fc, b, constant.NewInt(types.I64, v.I64), constant.NewInt(types.I1, 1)), ""
	case api.KindFloat32:
		return boxF64(fc, b, constant.NewFloat(types.Double, float64(v.F32))), ""
	case api.KindFloat64:
		return boxF64(fc, b, constant.NewFloat(types.Double, v.F64)), ""
	case api.KindBool:
		return boxedBool(fc, b, v.B), ""
	case api.KindNull:
		fn := fc.mod.internFunc("ouroboros_null", i8ptr)
		return b.NewCall(fn), ""
	case api.KindString:
		g := fc.mod.stringConstant(v.Str)
		cast := constant.NewBitCast(g, i8ptr)
		fn := fc.mod.internFunc("ouroboros_box_string", i8ptr, ir.NewParam("s", i8ptr))
		return b.NewCall(fn, cast), v.Str
	default:
		fn := fc.mod.internFunc("ouroboros_load_constant", i8ptr, ir.NewParam("idx", types.I64))
		return b.NewCall(fn, constant.NewInt(types.I64, int64(idx))), ""
	}
}

func unboxF64(fc *funcCtx, b *ir.Block, v value.Value) value.Value {
	fn := fc.mod.internFunc("ouroboros_unbox_f64", types.Double, ir.NewParam("v", types.NewPointer(types.I8)))
	return b.NewCall(fn, v)
}

func unboxI64(fc *funcCtx, b *ir.Block, v value.Value) value.Value {
	fn := fc.mod.internFunc("ouroboros_unbox_i64", types.I64, ir.NewParam("v", types.NewPointer(types.I8)))
	return b.NewCall(fn, v)
}

func isFloatVal(fc *funcCtx, b *ir.Block, v value.Value) value.Value {
	fn := fc.mod.internFunc("ouroboros_value_is_float", types.I1, ir.NewParam("v", types.NewPointer(types.I8)))
	return b.NewCall(fn, v)
}

func isWideVal(fc *funcCtx, b *ir.Block, v value.Value) value.Value {
	fn := fc.mod.internFunc("ouroboros_value_is_wide", types.I1, ir.NewParam("v", types.NewPointer(types.I8)))
	return b.NewCall(fn, v)
}

func boxF64(fc *funcCtx, b *ir.Block, v value.Value) value.Value {
	fn := fc.mod.internFunc("ouroboros_box_f64", types.NewPointer(types.I8), ir.NewParam("f", types.Double))
	return b.NewCall(fn, v)
}

// boxI64 boxes i as Int64 when wide is true, Int32 (truncated) otherwise —
// the same widen-vs-narrow policy api.wrapInt applies, pushed into the
// runtime helper since it is a dynamic (not compile-time-known) choice.
func boxI64(fc *funcCtx, b *ir.Block, i, wide value.Value) value.Value {
	fn := fc.mod.internFunc("ouroboros_box_i64", types.NewPointer(types.I8), ir.NewParam("i", types.I64), ir.NewParam("wide", types.I1))
	return b.NewCall(fn, i, wide)
}

// throwOnZero emits the divide-by-zero guard every integer/float Div/Mod
// path needs: LLVM's own sdiv/srem trap on a zero divisor instead of raising
// a catchable exception, so the check has to happen before the native
// instruction runs, matching api.arithNumeric's explicit DivideByZero checks.
func throwOnZero(fc *funcCtx, b *ir.Block, divisor value.Value, isFloatDivisor bool) *ir.Block {
	i8ptr := types.NewPointer(types.I8)
	var isZero value.Value
	if isFloatDivisor {
		zero := constant.NewFloat(types.Double, 0)
		isZero = b.NewFCmp(enum.FPredOEQ, divisor, zero)
	} else {
		zero := constant.NewInt(types.I64, 0)
		isZero = b.NewICmp(enum.IPredEQ, divisor, zero)
	}
	zeroBlock := fc.newBlock("divzero")
	okBlock := fc.newBlock("divok")
	b.NewCondBr(isZero, zeroBlock, okBlock)
	zeroBlock.NewCall(fc.mod.Throw, constant.NewNull(i8ptr))
	zeroBlock.NewUnreachable()
	return okBlock
}

// lowerNumericArith lowers Add/Sub/Mul/Div/Mod by branching on the runtime
// Kind of either operand (§4.7: "selected from the runtime type of the left
// operand" — both are checked since the numeric promotion rule in
// api.arithNumeric widens to float if EITHER side is floating), running a
// native fadd/fsub/fmul/fdiv/frem or add/sub/mul/sdiv/srem, and rejoining
// with a phi. Division/modulo on the integer path still check for a zero
// divisor first, since sdiv/srem on zero is undefined in LLVM rather than a
// catchable fault the way api.arithNumeric makes it.
func lowerNumericArith(fc *funcCtx, b *ir.Block, op isa.Opcode, left, right value.Value) (value.Value, *ir.Block) {
	lf := isFloatVal(fc, b, left)
	rf := isFloatVal(fc, b, right)
	anyFloat := b.NewOr(lf, rf)

	floatBlock := fc.newBlock("arith.float")
	intBlock := fc.newBlock("arith.int")
	merge := fc.newBlock("arith.merge")
	b.NewCondBr(anyFloat, floatBlock, intBlock)

	lfv := unboxF64(fc, floatBlock, left)
	rfv := unboxF64(fc, floatBlock, right)
	floatCur := floatBlock
	if op == isa.OpDiv || op == isa.OpMod {
		floatCur = throwOnZero(fc, floatCur, rfv, true)
	}
	var fres value.Value
	switch op {
	case isa.OpAdd:
		fres = floatCur.NewFAdd(lfv, rfv)
	case isa.OpSub:
		fres = floatCur.NewFSub(lfv, rfv)
	case isa.OpMul:
		fres = floatCur.NewFMul(lfv, rfv)
	case isa.OpDiv:
		fres = floatCur.NewFDiv(lfv, rfv)
	case isa.OpMod:
		fres = floatCur.NewFRem(lfv, rfv)
	}
	fboxed := boxF64(fc, floatCur, fres)
	floatCur.NewBr(merge)

	liv := unboxI64(fc, intBlock, left)
	riv := unboxI64(fc, intBlock, right)
	intCur := intBlock
	if op == isa.OpDiv || op == isa.OpMod {
		intCur = throwOnZero(fc, intCur, riv, false)
	}
	var ires value.Value
	switch op {
	case isa.OpAdd:
		ires = intCur.NewAdd(liv, riv)
	case isa.OpSub:
		ires = intCur.NewSub(liv, riv)
	case isa.OpMul:
		ires = intCur.NewMul(liv, riv)
	case isa.OpDiv:
		ires = intCur.NewSDiv(liv, riv)
	case isa.OpMod:
		ires = intCur.NewSRem(liv, riv)
	}
	wide := intCur.NewOr(isWideVal(fc, intCur, left), isWideVal(fc, intCur, right))
	iboxed := boxI64(fc, intCur, ires, wide)
	intCur.NewBr(merge)

	phi := merge.NewPhi(ir.NewIncoming(fboxed, floatCur), ir.NewIncoming(iboxed, intCur))
	return phi, merge
}

// lowerPow always promotes to float (api.arithNumeric's Pow case never
// checks isFloat first), calling the llvm.pow.f64 intrinsic directly rather
// than a bespoke runtime helper.
func lowerPow(fc *funcCtx, b *ir.Block, left, right value.Value) value.Value {
	lfv := unboxF64(fc, b, left)
	rfv := unboxF64(fc, b, right)
	pow := fc.mod.internFunc("llvm.pow.f64", types.Double, ir.NewParam("l", types.Double), ir.NewParam("r", types.Double))
	res := b.NewCall(pow, lfv, rfv)
	return boxF64(fc, b, res)
}

// lowerIntDiv lowers OpIntDiv, which api.arithNumeric requires to be integer
// on both sides. The IR backend always takes the integer path and unboxes
// both operands as i64; neither the loader nor Verify rejects a float operand
// beforehand.
func lowerIntDiv(fc *funcCtx, b *ir.Block, left, right value.Value) (value.Value, *ir.Block) {
	liv := unboxI64(fc, b, left)
	riv := unboxI64(fc, b, right)
	cur := throwOnZero(fc, b, riv, false)
	res := cur.NewSDiv(liv, riv)
	wide := cur.NewOr(isWideVal(fc, cur, left), isWideVal(fc, cur, right))
	return boxI64(fc, cur, res, wide), cur
}

// lowerEquality lowers Equal/NotEqual. The numeric fast path runs a native
// fcmp/icmp; any other Kind pair (strings, objects by identity, and so on)
// falls back to ouroboros_value_equal, which implements the exact structural
// rule from api.Equal — still only the dynamic-dispatch/tag-check part is a
// call, never the comparison the opcode exists for in the numeric case.
func lowerEquality(fc *funcCtx, b *ir.Block, op isa.Opcode, left, right value.Value) (value.Value, *ir.Block) {
	li := fc.mod.internFunc("ouroboros_value_is_numeric", types.I1, ir.NewParam("v", types.NewPointer(types.I8)))
	lnum := b.NewCall(li, left)
	rnum := b.NewCall(li, right)
	bothNumeric := b.NewAnd(lnum, rnum)

	numBlock := fc.newBlock("eq.num")
	dynBlock := fc.newBlock("eq.dyn")
	merge := fc.newBlock("eq.merge")
	b.NewCondBr(bothNumeric, numBlock, dynBlock)

	anyFloat := numBlock.NewOr(isFloatVal(fc, numBlock, left), isFloatVal(fc, numBlock, right))
	floatBlock := fc.newBlock("eq.float")
	intBlock := fc.newBlock("eq.int")
	numMerge := fc.newBlock("eq.nummerge")
	numBlock.NewCondBr(anyFloat, floatBlock, intBlock)

	fpred, ipred := comparePredicates(op)
	lfv := unboxF64(fc, floatBlock, left)
	rfv := unboxF64(fc, floatBlock, right)
	fres := floatBlock.NewFCmp(fpred, lfv, rfv)
	floatBlock.NewBr(numMerge)

	liv := unboxI64(fc, intBlock, left)
	riv := unboxI64(fc, intBlock, right)
	ires := intBlock.NewICmp(ipred, liv, riv)
	intBlock.NewBr(numMerge)

	numPhi := numMerge.NewPhi(ir.NewIncoming(fres, floatBlock), ir.NewIncoming(ires, intBlock))
	numBoxed := boxedBoolVal(fc, numMerge, numPhi)
	numMerge.NewBr(merge)

	name := "ouroboros_value_equal"
	fn := fc.mod.internFunc(name, types.I1, ir.NewParam("l", types.NewPointer(types.I8)), ir.NewParam("r", types.NewPointer(types.I8)))
	eq := dynBlock.NewCall(fn, left, right)
	if op == isa.NotEqual {
		eq = dynBlock.NewXor(eq, constant.NewInt(types.I1, 1))
	}
	dynBoxed := boxedBoolVal(fc, dynBlock, eq)
	dynBlock.NewBr(merge)

	phi := merge.NewPhi(ir.NewIncoming(numBoxed, numMerge), ir.NewIncoming(dynBoxed, dynBlock))
	return phi, merge
}

// comparePredicates maps an ordering opcode to its signed-integer and
// ordered-float LLVM predicates.
func comparePredicates(op isa.Opcode) (enum.FPred, enum.IPred) {
	switch op {
	case isa.Equal:
		return enum.FPredOEQ, enum.IPredEQ
	case isa.NotEqual:
		return enum.FPredONE, enum.IPredNE
	case isa.Less:
		return enum.FPredOLT, enum.IPredSLT
	case isa.Greater:
		return enum.FPredOGT, enum.IPredSGT
	case isa.LessEq:
		return enum.FPredOLE, enum.IPredSLE
	case isa.GreaterEq:
		return enum.FPredOGE, enum.IPredSGE
	default:
		return enum.FPredOEQ, enum.IPredEQ
	}
}

// lowerCompareBool lowers Less/Greater/LessEq/GreaterEq: a numeric fast path
// with native fcmp/icmp, and a string fallback through ouroboros_cmp_strings
// (still only string comparison's lexicographic logic is a call, not the
// branch the opcode computes).
func lowerCompareBool(fc *funcCtx, b *ir.Block, op isa.Opcode, left, right value.Value) (value.Value, *ir.Block) {
	i8ptr := types.NewPointer(types.I8)
	lnumFn := fc.mod.internFunc("ouroboros_value_is_numeric", types.I1, ir.NewParam("v", i8ptr))
	lnum := b.NewCall(lnumFn, left)
	rnum := b.NewCall(lnumFn, right)
	bothNumeric := b.NewAnd(lnum, rnum)

	numBlock := fc.newBlock("cmp.num")
	strBlock := fc.newBlock("cmp.str")
	merge := fc.newBlock("cmp.merge")
	b.NewCondBr(bothNumeric, numBlock, strBlock)

	anyFloat := numBlock.NewOr(isFloatVal(fc, numBlock, left), isFloatVal(fc, numBlock, right))
	floatBlock := fc.newBlock("cmp.float")
	intBlock := fc.newBlock("cmp.int")
	numMerge := fc.newBlock("cmp.nummerge")
	numBlock.NewCondBr(anyFloat, floatBlock, intBlock)

	fpred, ipred := comparePredicates(op)
	lfv := unboxF64(fc, floatBlock, left)
	rfv := unboxF64(fc, floatBlock, right)
	fres := floatBlock.NewFCmp(fpred, lfv, rfv)
	floatBlock.NewBr(numMerge)

	liv := unboxI64(fc, intBlock, left)
	riv := unboxI64(fc, intBlock, right)
	ires := intBlock.NewICmp(ipred, liv, riv)
	intBlock.NewBr(numMerge)

	numPhi := numMerge.NewPhi(ir.NewIncoming(fres, floatBlock), ir.NewIncoming(ires, intBlock))
	numBoxed := boxedBoolVal(fc, numMerge, numPhi)
	numMerge.NewBr(merge)

	cmpFn := fc.mod.internFunc("ouroboros_cmp_strings", types.I64, ir.NewParam("l", i8ptr), ir.NewParam("r", i8ptr))
	c := strBlock.NewCall(cmpFn, left, right)
	zero := constant.NewInt(types.I64, 0)
	var strRes value.Value
	switch op {
	case isa.Less:
		strRes = strBlock.NewICmp(enum.IPredSLT, c, zero)
	case isa.Greater:
		strRes = strBlock.NewICmp(enum.IPredSGT, c, zero)
	case isa.LessEq:
		strRes = strBlock.NewICmp(enum.IPredSLE, c, zero)
	default:
		strRes = strBlock.NewICmp(enum.IPredSGE, c, zero)
	}
	strBoxed := boxedBoolVal(fc, strBlock, strRes)
	strBlock.NewBr(merge)

	phi := merge.NewPhi(ir.NewIncoming(numBoxed, numMerge), ir.NewIncoming(strBoxed, strBlock))
	return phi, merge
}

// lowerCompare3 lowers Compare/SpaceshipCompare, the three-way -1/0/1 form
// api.Cmp returns: inherently not a single icmp/fcmp result, so it goes
// through one runtime helper that implements api.Cmp's numeric-or-string
// rule, then boxes the outcome as Int32.
func lowerCompare3(fc *funcCtx, b *ir.Block, left, right value.Value) value.Value {
	i8ptr := types.NewPointer(types.I8)
	fn := fc.mod.internFunc("ouroboros_cmp3", types.I64, ir.NewParam("l", i8ptr), ir.NewParam("r", i8ptr))
	c := b.NewCall(fn, left, right)
	return boxI64(fc, b, c, constant.NewInt(types.I1, 0))
}

// lowerBitwise lowers BAnd/BOr/BXor/Shl/Shr: always integer (api.Bitwise
// rejects non-integer operands), unboxed to i64, native and/or/xor/shl/ashr,
// shift counts masked to the operand width exactly as api.Bitwise's own
// `uint(ri) % width` does.
func lowerBitwise(fc *funcCtx, b *ir.Block, op isa.Opcode, left, right value.Value) value.Value {
	liv := unboxI64(fc, b, left)
	riv := unboxI64(fc, b, right)
	wide := b.NewOr(isWideVal(fc, b, left), isWideVal(fc, b, right))
	var res value.Value
	switch op {
	case isa.BAnd:
		res = b.NewAnd(liv, riv)
	case isa.BOr:
		res = b.NewOr(liv, riv)
	case isa.BXor:
		res = b.NewXor(liv, riv)
	case isa.Shl, isa.Shr:
		mask := b.NewSelect(wide, constant.NewInt(types.I64, 63), constant.NewInt(types.I64, 31))
		shift := b.NewAnd(riv, mask)
		if op == isa.Shl {
			res = b.NewShl(liv, shift)
		} else {
			res = b.NewAShr(liv, shift)
		}
	}
	return boxI64(fc, b, res, wide)
}

// lowerNeg lowers OpNeg by branching on runtime float-ness exactly like
// lowerNumericArith's single-operand case.
func lowerNeg(fc *funcCtx, b *ir.Block, v value.Value) (value.Value, *ir.Block) {
	isF := isFloatVal(fc, b, v)
	floatBlock := fc.newBlock("neg.float")
	intBlock := fc.newBlock("neg.int")
	merge := fc.newBlock("neg.merge")
	b.NewCondBr(isF, floatBlock, intBlock)

	fv := unboxF64(fc, floatBlock, v)
	fres := floatBlock.NewFNeg(fv)
	fboxed := boxF64(fc, floatBlock, fres)
	floatBlock.NewBr(merge)

	iv := unboxI64(fc, intBlock, v)
	ires := intBlock.NewSub(constant.NewInt(types.I64, 0), iv)
	wide := isWideVal(fc, intBlock, v)
	iboxed := boxI64(fc, intBlock, ires, wide)
	intBlock.NewBr(merge)

	phi := merge.NewPhi(ir.NewIncoming(fboxed, floatBlock), ir.NewIncoming(iboxed, intBlock))
	return phi, merge
}

func spillArgs(fc *funcCtx, b *ir.Block, args []value.Value) value.Value {
	i8ptr := types.NewPointer(types.I8)
	arr := b.NewAlloca(types.NewArray(uint64(len(args)), i8ptr))
	for i, a := range args {
		zero := constant.NewInt(types.I64, 0)
		idx := constant.NewInt(types.I64, int64(i))
		slot := b.NewGetElementPtr(arr.Type().(*types.PointerType).ElemType, arr, zero, idx)
		b.NewStore(a, slot)
	}
	zero := constant.NewInt(types.I64, 0)
	return b.NewGetElementPtr(arr.Type().(*types.PointerType).ElemType, arr, zero, zero)
}

// fallthroughBlock returns (creating if necessary) the block starting at pc,
// the natural fallthrough target of a conditional branch.
func (fc *funcCtx) fallthroughBlock(pc int) *ir.Block {
	if b, ok := fc.blocks[pc]; ok {
		return b
	}
	b := fc.fn.NewBlock(fmt.Sprintf("L%d", pc))
	fc.blocks[pc] = b
	return b
}

// branchTargets pre-scans fn's code for every byte offset a Jump/
// JumpIfTrue/JumpIfFalse can land on, so lowerFunction can allocate blocks
// before lowering references them forward.
func branchTargets(code []byte, fn *program.Function) []int {
	seen := map[int]bool{}
	var out []int
	pc := fn.StartOffset
	for pc < fn.EndOffset {
		op := isa.Opcode(code[pc])
		pc++
		info, ok := isa.Lookup(op)
		if !ok {
			break
		}
		imms := make([]int32, len(info.Imms))
		for i := range imms {
			imms[i] = int32(binary.LittleEndian.Uint32(code[pc : pc+4]))
			pc += 4
		}
		if op == isa.Jump || op == isa.JumpIfTrue || op == isa.JumpIfFalse || op == isa.Break || op == isa.Continue {
			target := pc + int(imms[0])
			if !seen[target] {
				seen[target] = true
				out = append(out, target)
			}
		}
	}
	return out
}

// constTypeNameOrGeneric resolves a New opcode's type-index immediate to the
// declared type name, the same constant-pool convention the dispatch engine
// uses for name/type indices (see internal/engine's constString). An
// unresolvable index (malformed program) names a type that will simply never
// match a declared constructor, which the New lowering already treats as the
// generic-allocation case.
func constTypeNameOrGeneric(p *program.Program, idx int32) string {
	v, ok := p.Constant(int(idx))
	if !ok || v.Kind != api.KindString {
		return ""
	}
	return v.Str
}

func sanitizeName(name string) string {
	if name == "" {
		return "anon"
	}
	return name
}
