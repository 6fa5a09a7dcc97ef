package engine

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/ouroboros-lang/ourovm/api"
	"github.com/ouroboros-lang/ourovm/internal/isa"
)

// Step executes exactly one instruction, implementing the five-part
// contract from §4.4: decode, read immediates, apply, fire the debugger
// observer, and (for branches) replace pc with pc + signed_offset measured
// from the byte immediately after the immediate.
//
// ctx may be nil; it is only consulted for cooperative cancellation when
// Step is driven from Run.
func (e *Engine) Step(ctx context.Context) (halted bool, result api.Value, err error) {
	if ctx != nil {
		select {
		case <-ctx.Done():
			e.Cancel()
		default:
		}
	}
	if e.cancelled() {
		h, err := e.throwCancelled()
		return h, api.Value{}, err
	}

	code := e.Program.Code
	if e.PC >= len(code) {
		return e.doReturn(len(e.Operands) > 0)
	}

	opcodePC := e.PC
	op := isa.Opcode(code[e.PC])
	e.PC++

	info, ok := isa.Lookup(op)
	if !ok {
		return true, api.Value{}, api.NewErrorf(api.UnknownOpcode, "unknown opcode %d at pc=%d", op, opcodePC)
	}
	imms := make([]int32, len(info.Imms))
	for i := range imms {
		if e.PC+4 > len(code) {
			return true, api.Value{}, api.NewErrorf(api.UnknownOpcode, "truncated immediate for %s at pc=%d", op, opcodePC)
		}
		imms[i] = int32(binary.LittleEndian.Uint32(code[e.PC : e.PC+4]))
		e.PC += 4
	}
	afterImmPC := e.PC

	halted, result, err = e.apply(op, imms, afterImmPC)

	if e.onInstruction != nil {
		e.onInstruction(opcodePC, op)
	}
	e.Log.Debugf("pc=%d op=%s", opcodePC, op)
	return halted, result, err
}

// apply executes one opcode's effect. afterImmPC is the pc value
// immediately following the decoded immediates, the base for
// ImmSignedOffset branches.
func (e *Engine) apply(op isa.Opcode, imms []int32, afterImmPC int) (halted bool, result api.Value, err error) {
	switch op {
	case isa.Nop, isa.BeginTry, isa.BeginCatch, isa.BeginFinally, isa.EndFinally,
		isa.BeginAsync, isa.EndAsync, isa.BeginParallel, isa.EndParallel,
		isa.DefineFunction:
		return false, api.Value{}, nil

	case isa.Halt:
		e.Running = false
		v, _ := e.peekOperand()
		return true, v, nil

	case isa.Jump:
		e.PC = afterImmPC + int(imms[0])
		return false, api.Value{}, nil

	case isa.JumpIfTrue, isa.JumpIfFalse:
		cond, err := e.popCond()
		if err != nil {
			return false, api.Value{}, err
		}
		want := op == isa.JumpIfTrue
		if cond == want {
			e.PC = afterImmPC + int(imms[0])
		}
		return false, api.Value{}, nil

	case isa.Call:
		return false, api.Value{}, e.doCall(int(imms[0]))

	case isa.Return:
		return e.doReturn(true)
	case isa.ReturnVoid:
		return e.doReturn(false)

	case isa.AsyncCall:
		return false, api.Value{}, e.doAsyncCall(int(imms[0]))

	case isa.Break, isa.Continue:
		// The compiler emits these as plain PC-relative branches (§4.2's
		// Control family: "Branches are PC-relative"), distinguishing a
		// break/continue jump from a generic Jump only for the debugger and
		// the IR backend's block-labeling; at dispatch time they behave
		// exactly like Jump.
		e.PC = afterImmPC + int(imms[0])
		return false, api.Value{}, nil

	case isa.Pop:
		_, err := e.popOperand()
		return false, api.Value{}, err

	case isa.Dup:
		v, ok := e.peekOperand()
		if !ok {
			return false, api.Value{}, api.NewError(api.StackUnderflow, "Dup on empty stack")
		}
		e.pushOperand(v)
		return false, api.Value{}, nil

	case isa.Dup2:
		if len(e.Operands) < 2 {
			return false, api.Value{}, api.NewError(api.StackUnderflow, "Dup2 needs two operands")
		}
		a, b := e.Operands[len(e.Operands)-2], e.Operands[len(e.Operands)-1]
		e.pushOperand(a)
		e.pushOperand(b)
		return false, api.Value{}, nil

	case isa.Swap:
		if len(e.Operands) < 2 {
			return false, api.Value{}, api.NewError(api.StackUnderflow, "Swap needs two operands")
		}
		n := len(e.Operands)
		e.Operands[n-1], e.Operands[n-2] = e.Operands[n-2], e.Operands[n-1]
		return false, api.Value{}, nil

	case isa.LoadConstant:
		v, ok := e.Program.Constant(int(imms[0]))
		if !ok {
			return false, api.Value{}, api.NewErrorf(api.TypeMismatch, "constant index %d out of range", imms[0])
		}
		e.pushOperand(v)
		return false, api.Value{}, nil

	case isa.LoadLocal:
		idx := e.effectiveLocal(int(imms[0]))
		e.pushOperand(e.Locals[idx])
		return false, api.Value{}, nil

	case isa.StoreLocal:
		v, err := e.popOperand()
		if err != nil {
			return false, api.Value{}, err
		}
		idx := e.effectiveLocal(int(imms[0]))
		e.Locals[idx] = v
		return false, api.Value{}, nil

	case isa.LoadGlobal:
		idx := int(imms[0])
		if idx < 0 || idx >= len(e.Env.Globals) {
			return false, api.Value{}, api.NewErrorf(api.TypeMismatch, "global index %d out of range", idx)
		}
		e.pushOperand(e.Env.Globals[idx])
		return false, api.Value{}, nil

	case isa.StoreGlobal:
		v, err := e.popOperand()
		if err != nil {
			return false, api.Value{}, err
		}
		idx := int(imms[0])
		if idx < 0 || idx >= len(e.Env.Globals) {
			return false, api.Value{}, api.NewErrorf(api.TypeMismatch, "global index %d out of range", idx)
		}
		e.Env.Globals[idx] = v
		return false, api.Value{}, nil

	case isa.LoadTrue:
		e.pushOperand(api.Bool(true))
		return false, api.Value{}, nil
	case isa.LoadFalse:
		e.pushOperand(api.Bool(false))
		return false, api.Value{}, nil
	case isa.LoadNull:
		e.pushOperand(api.Null())
		return false, api.Value{}, nil
	case isa.LoadThis:
		idx := e.effectiveLocal(0)
		e.pushOperand(e.Locals[idx])
		return false, api.Value{}, nil

	case isa.OpAdd, isa.OpSub, isa.OpMul, isa.OpDiv, isa.OpMod, isa.OpPow, isa.OpIntDiv:
		return false, api.Value{}, e.binaryArith(arithOpFor(op))
	case isa.OpNeg:
		return false, api.Value{}, e.unaryArith()

	case isa.Equal, isa.NotEqual, isa.Less, isa.Greater, isa.LessEq, isa.GreaterEq, isa.Compare, isa.SpaceshipCompare:
		return false, api.Value{}, e.compareOp(op)

	case isa.And, isa.Or:
		return false, api.Value{}, e.logicalBinary(op)
	case isa.Not:
		return false, api.Value{}, e.logicalNot()

	case isa.BAnd, isa.BOr, isa.BXor, isa.Shl, isa.Shr:
		return false, api.Value{}, e.bitwiseBinary(op)
	case isa.BNot:
		return false, api.Value{}, e.bitwiseNot()

	case isa.New:
		typeName, err := e.constString(imms[0])
		if err != nil {
			return false, api.Value{}, err
		}
		return false, api.Value{}, e.doNew(typeName, int(imms[1]))

	case isa.LoadMember, isa.LoadMemberNullSafe:
		name, err := e.constString(imms[0])
		if err != nil {
			return false, api.Value{}, err
		}
		return false, api.Value{}, e.doLoadMember(name, op == isa.LoadMemberNullSafe)

	case isa.StoreMember:
		name, err := e.constString(imms[0])
		if err != nil {
			return false, api.Value{}, err
		}
		return false, api.Value{}, e.doStoreMember(name)

	case isa.CallMethod:
		name, err := e.constString(imms[0])
		if err != nil {
			return false, api.Value{}, err
		}
		return false, api.Value{}, e.doCallMethod(name, int(imms[1]))

	case isa.MakeArray:
		return false, api.Value{}, e.doMakeArray(int(imms[0]))
	case isa.MakeVector:
		return false, api.Value{}, e.doMakeVector(int(imms[0]))
	case isa.MakeMatrix:
		return false, api.Value{}, e.doMakeMatrix(int(imms[0]), int(imms[1]))
	case isa.MakeQuaternion:
		return false, api.Value{}, e.doMakeQuaternion()
	case isa.GetIterator:
		return false, api.Value{}, e.doGetIterator()
	case isa.IteratorHasNext:
		return false, api.Value{}, e.doIteratorHasNext()
	case isa.IteratorNext:
		return false, api.Value{}, e.doIteratorNext()
	case isa.LoadElement:
		return false, api.Value{}, e.doLoadElement()
	case isa.StoreElement:
		return false, api.Value{}, e.doStoreElement()

	case isa.ToString:
		v, err := e.popOperand()
		if err != nil {
			return false, api.Value{}, err
		}
		e.pushOperand(api.String(v.String()))
		return false, api.Value{}, nil

	case isa.StringConcat:
		return false, api.Value{}, e.doStringConcat(int(imms[0]))

	case isa.TypeOf:
		name, err := e.constString(imms[0])
		if err != nil {
			return false, api.Value{}, err
		}
		e.pushOperand(api.Value{Kind: api.KindType, Str: name})
		return false, api.Value{}, nil

	case isa.SizeOf:
		name, err := e.constString(imms[0])
		if err != nil {
			return false, api.Value{}, err
		}
		e.pushOperand(api.Int32(e.sizeOf(name)))
		return false, api.Value{}, nil

	case isa.Cast:
		name, err := e.constString(imms[0])
		if err != nil {
			return false, api.Value{}, err
		}
		return false, api.Value{}, e.doCast(name)

	case isa.IsInstance:
		name, err := e.constString(imms[0])
		if err != nil {
			return false, api.Value{}, err
		}
		return false, api.Value{}, e.doIsInstance(name)

	case isa.Throw:
		exc, err := e.popOperand()
		if err != nil {
			return false, api.Value{}, err
		}
		halted, err := e.throw(exc)
		return halted, api.Value{}, err

	case isa.Rethrow:
		frame := e.currentFrame()
		if frame == nil || frame.activeException == nil {
			return false, api.Value{}, api.NewError(api.InvalidRethrow, "Rethrow outside a catch block")
		}
		halted, err := e.throw(*frame.activeException)
		return halted, api.Value{}, err

	case isa.YieldReturn:
		return false, api.Value{}, e.doYieldReturn()
	case isa.YieldBreak:
		e.Running = false
		return true, api.Null(), nil

	case isa.MonitorEnter:
		v, err := e.popOperand()
		if err != nil {
			return false, api.Value{}, err
		}
		e.Env.MonitorEnter(v.Ref, e)
		return false, api.Value{}, nil
	case isa.MonitorExit:
		v, err := e.popOperand()
		if err != nil {
			return false, api.Value{}, err
		}
		e.Env.MonitorExit(v.Ref, e)
		return false, api.Value{}, nil

	case isa.Import:
		name, err := e.constString(imms[0])
		if err != nil {
			return false, api.Value{}, err
		}
		e.Env.MarkImported(name)
		return false, api.Value{}, nil

	case isa.DefineClass, isa.DefineInterface, isa.DefineStruct, isa.DefineEnum:
		return false, api.Value{}, nil

	case isa.SetParallelism:
		e.parallelism = int(imms[0])
		return false, api.Value{}, nil

	case isa.NullCoalesce:
		return false, api.Value{}, e.doNullCoalesce()

	case isa.MakeClosure:
		return false, api.Value{}, e.doMakeClosure(int(imms[0]), int(imms[1]))

	case isa.ThrowMatchError:
		exc := api.NewError(api.TypeMismatch, "no pattern matched").ToException()
		halted, err := e.throw(exc)
		return halted, api.Value{}, err

	default:
		return true, api.Value{}, api.NewErrorf(api.UnknownOpcode, "opcode %s not implemented", op)
	}
}

// popCond pops the top of the operand stack and applies coerce_to_bool for a
// conditional branch (§4.1/§4.4). Per §4.4 an empty stack at a branch is not
// a StackUnderflow fault: it is treated as false, with an observable
// diagnostic logged instead of propagated as an error.
func (e *Engine) popCond() (bool, error) {
	v, ok := e.peekOperand()
	if !ok {
		e.Log.Warnf("pc=%d: conditional branch on empty operand stack, treating as false", e.PC)
		return false, nil
	}
	e.Operands = e.Operands[:len(e.Operands)-1]
	return v.IsTruthy(), nil
}

func (e *Engine) constString(idx int32) (string, error) {
	v, ok := e.Program.Constant(int(idx))
	if !ok || v.Kind != api.KindString {
		return "", api.NewErrorf(api.TypeMismatch, "constant %d is not a name string", idx)
	}
	return v.Str, nil
}

func arithOpFor(op isa.Opcode) api.ArithOp {
	switch op {
	case isa.OpAdd:
		return api.Add
	case isa.OpSub:
		return api.Sub
	case isa.OpMul:
		return api.Mul
	case isa.OpDiv:
		return api.Div
	case isa.OpMod:
		return api.Mod
	case isa.OpPow:
		return api.Pow
	case isa.OpIntDiv:
		return api.IntDiv
	default:
		panic(fmt.Sprintf("arithOpFor: not an arithmetic opcode %s", op))
	}
}

func (e *Engine) binaryArith(op api.ArithOp) error {
	right, err := e.popOperand()
	if err != nil {
		return err
	}
	left, err := e.popOperand()
	if err != nil {
		return err
	}
	v, err := api.Arith(op, left, right)
	if err != nil {
		return err
	}
	e.pushOperand(v)
	return nil
}

func (e *Engine) unaryArith() error {
	v, err := e.popOperand()
	if err != nil {
		return err
	}
	r, err := api.Arith(api.Neg, v, api.Value{})
	if err != nil {
		return err
	}
	e.pushOperand(r)
	return nil
}

func (e *Engine) compareOp(op isa.Opcode) error {
	right, err := e.popOperand()
	if err != nil {
		return err
	}
	left, err := e.popOperand()
	if err != nil {
		return err
	}
	if op == isa.Equal {
		e.pushOperand(api.Bool(api.Equal(left, right)))
		return nil
	}
	if op == isa.NotEqual {
		e.pushOperand(api.Bool(!api.Equal(left, right)))
		return nil
	}
	c, err := api.Cmp(left, right)
	if err != nil {
		return err
	}
	switch op {
	case isa.Less:
		e.pushOperand(api.Bool(c < 0))
	case isa.Greater:
		e.pushOperand(api.Bool(c > 0))
	case isa.LessEq:
		e.pushOperand(api.Bool(c <= 0))
	case isa.GreaterEq:
		e.pushOperand(api.Bool(c >= 0))
	case isa.Compare, isa.SpaceshipCompare:
		e.pushOperand(api.Int32(int32(c)))
	}
	return nil
}

func (e *Engine) logicalBinary(op isa.Opcode) error {
	right, err := e.popOperand()
	if err != nil {
		return err
	}
	left, err := e.popOperand()
	if err != nil {
		return err
	}
	if left.Kind != api.KindBool || right.Kind != api.KindBool {
		return api.NewError(api.TypeMismatch, "logical operator requires booleans")
	}
	var r bool
	if op == isa.And {
		r = left.B && right.B
	} else {
		r = left.B || right.B
	}
	e.pushOperand(api.Bool(r))
	return nil
}

func (e *Engine) logicalNot() error {
	v, err := e.popOperand()
	if err != nil {
		return err
	}
	r, err := api.LogicalNot(v)
	if err != nil {
		return err
	}
	e.pushOperand(r)
	return nil
}

func bitwiseOpFor(op isa.Opcode) api.BitwiseOp {
	switch op {
	case isa.BAnd:
		return api.BAnd
	case isa.BOr:
		return api.BOr
	case isa.BXor:
		return api.BXor
	case isa.Shl:
		return api.Shl
	case isa.Shr:
		return api.Shr
	default:
		panic("bitwiseOpFor: not a bitwise opcode")
	}
}

func (e *Engine) bitwiseBinary(op isa.Opcode) error {
	right, err := e.popOperand()
	if err != nil {
		return err
	}
	left, err := e.popOperand()
	if err != nil {
		return err
	}
	v, err := api.Bitwise(bitwiseOpFor(op), left, right)
	if err != nil {
		return err
	}
	e.pushOperand(v)
	return nil
}

func (e *Engine) bitwiseNot() error {
	v, err := e.popOperand()
	if err != nil {
		return err
	}
	r, err := api.Bitwise(api.BNot, v, api.Value{})
	if err != nil {
		return err
	}
	e.pushOperand(r)
	return nil
}

func (e *Engine) doMakeArray(n int) error {
	args, err := e.popArgs(n)
	if err != nil {
		return err
	}
	e.pushOperand(api.NewArray(args))
	return nil
}

func (e *Engine) doMakeVector(dim int) error {
	args, err := e.popArgs(dim)
	if err != nil {
		return err
	}
	data := make([]float64, dim)
	for i, a := range args {
		f, ok := a.AsFloat64()
		if !ok {
			return api.NewError(api.TypeMismatch, "vector components must be numeric")
		}
		data[i] = f
	}
	e.pushOperand(api.Value{Kind: api.KindVector, Ref: &api.Vector{Data: data}})
	return nil
}

func (e *Engine) doMakeMatrix(rows, cols int) error {
	args, err := e.popArgs(rows * cols)
	if err != nil {
		return err
	}
	data := make([]float64, rows*cols)
	for i, a := range args {
		f, ok := a.AsFloat64()
		if !ok {
			return api.NewError(api.TypeMismatch, "matrix components must be numeric")
		}
		data[i] = f
	}
	e.pushOperand(api.Value{Kind: api.KindMatrix, Ref: &api.Matrix{Rows: rows, Cols: cols, Data: data}})
	return nil
}

func (e *Engine) doMakeQuaternion() error {
	args, err := e.popArgs(4)
	if err != nil {
		return err
	}
	vals := make([]float64, 4)
	for i, a := range args {
		f, ok := a.AsFloat64()
		if !ok {
			return api.NewError(api.TypeMismatch, "quaternion components must be numeric")
		}
		vals[i] = f
	}
	e.pushOperand(api.Value{Kind: api.KindQuaternion, Ref: &api.Quaternion{W: vals[0], X: vals[1], Y: vals[2], Z: vals[3]}})
	return nil
}

func (e *Engine) doGetIterator() error {
	v, err := e.popOperand()
	if err != nil {
		return err
	}
	switch v.Kind {
	case api.KindArray:
		a := v.Ref.(*api.Array)
		it := &arrayIterator{elems: a.Elems}
		e.pushOperand(api.Value{Kind: api.KindIterator, Ref: it})
		return nil
	case api.KindIterator:
		e.pushOperand(v)
		return nil
	default:
		return api.NewErrorf(api.TypeMismatch, "%s is not iterable", v.Kind)
	}
}

func (e *Engine) doIteratorHasNext() error {
	v, err := e.popOperand()
	if err != nil {
		return err
	}
	it, ok := v.Ref.(api.Iterator)
	if !ok {
		return api.NewError(api.TypeMismatch, "IteratorHasNext requires an iterator")
	}
	e.pushOperand(api.Bool(it.HasNext()))
	return nil
}

func (e *Engine) doIteratorNext() error {
	v, err := e.popOperand()
	if err != nil {
		return err
	}
	it, ok := v.Ref.(api.Iterator)
	if !ok {
		return api.NewError(api.TypeMismatch, "IteratorNext requires an iterator")
	}
	nv, err := it.Next()
	if err != nil {
		return err
	}
	e.pushOperand(nv)
	return nil
}

func (e *Engine) doLoadElement() error {
	idxV, err := e.popOperand()
	if err != nil {
		return err
	}
	recv, err := e.popOperand()
	if err != nil {
		return err
	}
	idx, ok := idxV.AsInt64()
	if !ok {
		return api.NewError(api.TypeMismatch, "element index must be an integer")
	}
	switch recv.Kind {
	case api.KindArray:
		a := recv.Ref.(*api.Array)
		if idx < 0 || int(idx) >= len(a.Elems) {
			return api.NewErrorf(api.TypeMismatch, "array index %d out of range", idx)
		}
		e.pushOperand(a.Elems[idx])
		return nil
	case api.KindMap:
		m := recv.Ref.(*api.Map)
		v, ok := m.Get(idxV)
		if !ok {
			e.pushOperand(api.Null())
			return nil
		}
		e.pushOperand(v)
		return nil
	case api.KindVector:
		v := recv.Ref.(*api.Vector)
		if idx < 0 || int(idx) >= len(v.Data) {
			return api.NewErrorf(api.TypeMismatch, "vector index %d out of range", idx)
		}
		e.pushOperand(api.Float64(v.Data[idx]))
		return nil
	default:
		return api.NewErrorf(api.TypeMismatch, "%s does not support element access", recv.Kind)
	}
}

func (e *Engine) doStoreElement() error {
	val, err := e.popOperand()
	if err != nil {
		return err
	}
	idxV, err := e.popOperand()
	if err != nil {
		return err
	}
	recv, err := e.popOperand()
	if err != nil {
		return err
	}
	switch recv.Kind {
	case api.KindArray:
		idx, ok := idxV.AsInt64()
		if !ok {
			return api.NewError(api.TypeMismatch, "element index must be an integer")
		}
		a := recv.Ref.(*api.Array)
		if idx < 0 || int(idx) >= len(a.Elems) {
			return api.NewErrorf(api.TypeMismatch, "array index %d out of range", idx)
		}
		a.Elems[idx] = val
		return nil
	case api.KindMap:
		m := recv.Ref.(*api.Map)
		m.Set(idxV, val)
		return nil
	default:
		return api.NewErrorf(api.TypeMismatch, "%s does not support element assignment", recv.Kind)
	}
}

func (e *Engine) doStringConcat(n int) error {
	args, err := e.popArgs(n)
	if err != nil {
		return err
	}
	s := ""
	for _, a := range args {
		s += a.String()
	}
	e.pushOperand(api.String(s))
	return nil
}

func (e *Engine) sizeOf(typeName string) int32 {
	td, ok := e.Env.LookupType(typeName)
	if !ok {
		return 0
	}
	return int32(len(td.Fields))
}

func (e *Engine) doCast(typeName string) error {
	v, err := e.popOperand()
	if err != nil {
		return err
	}
	casted, ok := tryCast(v, typeName)
	if !ok {
		return api.NewErrorf(api.CastError, "cannot cast %s to %s", v.Kind, typeName)
	}
	e.pushOperand(casted)
	return nil
}

func tryCast(v api.Value, typeName string) (api.Value, bool) {
	switch typeName {
	case "int32":
		if f, ok := v.AsFloat64(); ok {
			return api.Int32(int32(f)), true
		}
	case "int64":
		if f, ok := v.AsFloat64(); ok {
			return api.Int64(int64(f)), true
		}
	case "float32":
		if f, ok := v.AsFloat64(); ok {
			return api.Float32(float32(f)), true
		}
	case "float64":
		if f, ok := v.AsFloat64(); ok {
			return api.Float64(f), true
		}
	case "string":
		return api.String(v.String()), true
	case "bool":
		return api.Bool(v.IsTruthy()), true
	default:
		if v.Kind == api.KindObject || v.Kind == api.KindException {
			obj := v.Ref.(*api.Object)
			if isInstanceOf(obj.TypeName, typeName) {
				return v, true
			}
		}
	}
	return api.Value{}, false
}

func isInstanceOf(typeName, target string) bool { return typeName == target }

func (e *Engine) doIsInstance(typeName string) error {
	v, err := e.popOperand()
	if err != nil {
		return err
	}
	ok := false
	if v.Kind == api.KindObject || v.Kind == api.KindException {
		ok = isInstanceOf(v.Ref.(*api.Object).TypeName, typeName)
	} else {
		ok = v.Kind.String() == typeName
	}
	e.pushOperand(api.Bool(ok))
	return nil
}

func (e *Engine) doNullCoalesce() error {
	right, err := e.popOperand()
	if err != nil {
		return err
	}
	left, err := e.popOperand()
	if err != nil {
		return err
	}
	if left.Kind == api.KindNull {
		e.pushOperand(right)
	} else {
		e.pushOperand(left)
	}
	return nil
}

func (e *Engine) doMakeClosure(funcIdx, captureN int) error {
	args, err := e.popArgs(captureN)
	if err != nil {
		return err
	}
	fn := e.Program.FunctionByIndex(funcIdx)
	if fn == nil {
		return api.NewErrorf(api.UnresolvedFunction, "function index %d out of range", funcIdx)
	}
	e.pushOperand(api.Value{Kind: api.KindFunction, Ref: &api.Closure{FuncIndex: funcIdx, FuncName: fn.Name, Captured: args}})
	return nil
}

func (e *Engine) throwCancelled() (bool, error) {
	exc := api.NewError(api.Cancelled, "engine cancellation observed").ToException()
	halted, err := e.throw(exc)
	if err != nil {
		return true, err
	}
	return halted, nil
}

