package engine

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ouroboros-lang/ourovm/api"
	"github.com/ouroboros-lang/ourovm/internal/isa"
	"github.com/ouroboros-lang/ourovm/internal/program"
	"github.com/ouroboros-lang/ourovm/internal/runtimeenv"
)

// asm is a tiny bytecode assembler used only by these tests: it writes an
// opcode byte followed by each int32 immediate, little-endian, matching
// Step's own decode loop in dispatch.go.
type asm struct{ buf []byte }

func (a *asm) op(op isa.Opcode, imms ...int32) *asm {
	a.buf = append(a.buf, byte(op))
	for _, imm := range imms {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(imm))
		a.buf = append(a.buf, b[:]...)
	}
	return a
}

func newTestEngine(t *testing.T, p *program.Program) *Engine {
	t.Helper()
	env := runtimeenv.New(p)
	return New(p, env, DefaultConfig())
}

// runEntry wires up an entry function spanning the whole code slice and
// drives Run to completion.
func runEntry(t *testing.T, p *program.Program) (api.Value, error) {
	t.Helper()
	fn := &program.Function{Name: "main", StartOffset: 0, EndOffset: len(p.Code)}
	p.Functions = map[string]*program.Function{"main": fn}
	p.FuncOrder = []*program.Function{fn}
	e := newTestEngine(t, p)
	require.NoError(t, e.CallEntry(fn, nil))
	return e.Run(context.Background())
}

func TestArithmeticAndReturn(t *testing.T) {
	code := (&asm{}).
		op(isa.LoadConstant, 0).
		op(isa.LoadConstant, 1).
		op(isa.OpAdd).
		op(isa.Return).
		buf
	p := &program.Program{Code: code, Constants: []api.Value{api.Int32(2), api.Int32(3)}}
	v, err := runEntry(t, p)
	require.NoError(t, err)
	assert.Equal(t, api.Int32(5), v)
}

func TestBranchingFactorial(t *testing.T) {
	// locals[0] = n (argument), locals[1] = accumulator, starting at 1.
	// Computes 5! via a simple counted loop using LoadLocal/StoreLocal and a
	// backward Jump, exercising JumpIfFalse's branch-target arithmetic.
	var a asm
	a.op(isa.LoadConstant, 0) // n = 5
	a.op(isa.StoreLocal, 0)
	a.op(isa.LoadConstant, 1) // acc = 1
	a.op(isa.StoreLocal, 1)

	loopStart := len(a.buf)
	a.op(isa.LoadLocal, 0)
	a.op(isa.LoadConstant, 2) // 0
	a.op(isa.Greater)
	// JumpIfFalse target computed below once we know the offset to "end".
	jumpIfFalsePos := len(a.buf)
	a.op(isa.JumpIfFalse, 0) // placeholder offset

	a.op(isa.LoadLocal, 1)
	a.op(isa.LoadLocal, 0)
	a.op(isa.OpMul)
	a.op(isa.StoreLocal, 1)

	a.op(isa.LoadLocal, 0)
	a.op(isa.LoadConstant, 3) // 1
	a.op(isa.OpSub)
	a.op(isa.StoreLocal, 0)

	jumpBackOffset := int32(loopStart - len(a.buf) - 5) // -5: opcode + 4-byte imm
	a.op(isa.Jump, jumpBackOffset)

	endPos := len(a.buf)
	a.op(isa.LoadLocal, 1)
	a.op(isa.Return)

	forwardOffset := int32(endPos - (jumpIfFalsePos + 5))
	binary.LittleEndian.PutUint32(a.buf[jumpIfFalsePos+1:jumpIfFalsePos+5], uint32(forwardOffset))

	p := &program.Program{
		Code:      a.buf,
		Constants: []api.Value{api.Int32(5), api.Int32(1), api.Int32(0), api.Int32(1)},
	}
	v, err := runEntry(t, p)
	require.NoError(t, err)
	assert.Equal(t, api.Int32(120), v)
}

func TestJumpIfFalseOnEmptyStackTreatsAsFalse(t *testing.T) {
	// §4.4: an empty operand stack at a conditional branch is not a
	// StackUnderflow fault — it is treated as false. JumpIfFalse fires on a
	// false condition, so this program must take the forward jump straight
	// to the Return without ever raising an error.
	var a asm
	a.op(isa.JumpIfFalse, 0) // placeholder offset, patched below
	jumpPos := 0

	a.op(isa.Halt) // dead code: only reached if the branch is wrongly skipped

	target := len(a.buf)
	a.op(isa.LoadConstant, 0)
	a.op(isa.Return)

	offset := int32(target - (jumpPos + 5))
	binary.LittleEndian.PutUint32(a.buf[jumpPos+1:jumpPos+5], uint32(offset))

	p := &program.Program{Code: a.buf, Constants: []api.Value{api.Int32(7)}}
	v, err := runEntry(t, p)
	require.NoError(t, err)
	assert.Equal(t, api.Int32(7), v)
}

func TestJumpIfTrueOnEmptyStackDoesNotBranch(t *testing.T) {
	// JumpIfTrue fires on a true condition; treating an empty stack as false
	// means this branch must NOT be taken, falling through to the Return
	// immediately after it instead of jumping to the dead Halt below.
	var a asm
	a.op(isa.JumpIfTrue, 0) // placeholder offset, patched below
	jumpPos := 0
	afterJump := len(a.buf)

	a.op(isa.LoadConstant, 0)
	a.op(isa.Return)

	deadHalt := len(a.buf)
	a.op(isa.Halt)

	offset := int32(deadHalt - afterJump)
	binary.LittleEndian.PutUint32(a.buf[jumpPos+1:jumpPos+5], uint32(offset))

	p := &program.Program{Code: a.buf, Constants: []api.Value{api.Int32(9)}}
	v, err := runEntry(t, p)
	require.NoError(t, err)
	assert.Equal(t, api.Int32(9), v)
}

func TestThrowCatchFinally(t *testing.T) {
	// try { throw Err } catch { push "caught" } finally { (empty) }; the catch
	// block jumps over the finally block straight to Return.
	var a asm
	tryStart := 0
	a.op(isa.LoadConstant, 0) // the thrown value
	a.op(isa.Throw)
	tryEnd := len(a.buf)

	catchStart := len(a.buf)
	a.op(isa.Pop) // discard the exception the catch block received
	a.op(isa.LoadConstant, 1)
	jumpOverFinallyPos := len(a.buf)
	a.op(isa.Jump, 0)

	finallyStart := len(a.buf)
	a.op(isa.EndFinally)

	afterCatch := len(a.buf)
	fwd := int32(afterCatch - (jumpOverFinallyPos + 5))
	binary.LittleEndian.PutUint32(a.buf[jumpOverFinallyPos+1:jumpOverFinallyPos+5], uint32(fwd))

	a.op(isa.Return)

	p := &program.Program{
		Code:      a.buf,
		Constants: []api.Value{api.String("boom"), api.String("caught")},
	}
	fn := &program.Function{
		Name: "main", StartOffset: 0, EndOffset: len(p.Code),
		Handlers: []program.HandlerRegion{
			{TryStart: tryStart, TryEnd: tryEnd, CatchStart: catchStart, FinallyStart: finallyStart, ExceptionType: ""},
		},
	}
	p.Functions = map[string]*program.Function{"main": fn}
	p.FuncOrder = []*program.Function{fn}
	e := newTestEngine(t, p)
	require.NoError(t, e.CallEntry(fn, nil))
	v, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, api.String("caught"), v)
}

func TestUnhandledExceptionPropagates(t *testing.T) {
	var a asm
	a.op(isa.LoadConstant, 0)
	a.op(isa.Throw)
	p := &program.Program{Code: a.buf, Constants: []api.Value{api.String("fatal")}}
	_, err := runEntry(t, p)
	require.Error(t, err)
}

func TestHostCallableInvocation(t *testing.T) {
	var a asm
	a.op(isa.LoadConstant, 0) // callee name
	a.op(isa.LoadConstant, 1)
	a.op(isa.Call, 1)
	a.op(isa.Return)

	p := &program.Program{
		Code:      a.buf,
		Constants: []api.Value{api.String("double"), api.Int32(21)},
	}
	fn := &program.Function{Name: "main", StartOffset: 0, EndOffset: len(p.Code)}
	p.Functions = map[string]*program.Function{"main": fn}
	p.FuncOrder = []*program.Function{fn}

	env := runtimeenv.New(p)
	env.RegisterHostCallable("double", 1, func(args []api.Value) (api.Value, error) {
		n, _ := args[0].AsInt64()
		return api.Int32(int32(n * 2)), nil
	}, runtimeenv.ReturnValue)

	e := New(p, env, DefaultConfig())
	require.NoError(t, e.CallEntry(fn, nil))
	v, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, api.Int32(42), v)
}

func TestAsyncCallAwait(t *testing.T) {
	// AsyncCall(slowAdd, 10), then CallMethod("Await", argc=0) on the
	// resulting Future, returning the resolved value.
	var a asm
	a.op(isa.LoadConstant, 0) // callee name
	a.op(isa.LoadConstant, 1) // arg
	a.op(isa.AsyncCall, 1)
	a.op(isa.CallMethod, 2, 0) // name index 2 ("Await"), argc 0
	a.op(isa.Return)

	p := &program.Program{
		Code: a.buf,
		Constants: []api.Value{
			api.String("slowAdd"),
			api.Int32(10),
			api.String("Await"),
		},
	}
	fn := &program.Function{Name: "main", StartOffset: 0, EndOffset: len(p.Code)}
	p.Functions = map[string]*program.Function{"main": fn}
	p.FuncOrder = []*program.Function{fn}

	env := runtimeenv.New(p)
	env.RegisterHostCallable("slowAdd", 1, func(args []api.Value) (api.Value, error) {
		n, _ := args[0].AsInt64()
		return api.Int32(int32(n + 5)), nil
	}, runtimeenv.ReturnValue)

	e := New(p, env, DefaultConfig())
	require.NoError(t, e.CallEntry(fn, nil))
	v, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, api.Int32(15), v)
}

func TestFutureAwaitResolves(t *testing.T) {
	f := newFuture()
	go f.resolve(api.Int32(7), nil)
	v, err := f.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, api.Int32(7), v)
}

func TestGeneratorYieldSequence(t *testing.T) {
	// A tiny generator body: yield 1, yield 2, return.
	var a asm
	a.op(isa.LoadConstant, 0)
	a.op(isa.YieldReturn)
	a.op(isa.LoadConstant, 1)
	a.op(isa.YieldReturn)
	a.op(isa.ReturnVoid)

	genFn := &program.Function{Name: "gen", StartOffset: 0, EndOffset: len(a.buf), IsGenerator: true}
	p := &program.Program{
		Code:      a.buf,
		Constants: []api.Value{api.Int32(1), api.Int32(2)},
		Functions: map[string]*program.Function{"gen": genFn},
		FuncOrder: []*program.Function{genFn},
	}
	e := newTestEngine(t, p)
	require.NoError(t, e.startGenerator(genFn, nil, nil))
	iterVal, err := e.popOperand()
	require.NoError(t, err)
	require.Equal(t, api.KindIterator, iterVal.Kind)

	it := iterVal.Ref.(*GeneratorFrame)
	require.True(t, it.HasNext())
	v, err := it.Next()
	require.NoError(t, err)
	assert.Equal(t, api.Int32(1), v)

	require.True(t, it.HasNext())
	v, err = it.Next()
	require.NoError(t, err)
	assert.Equal(t, api.Int32(2), v)

	assert.False(t, it.HasNext())
}

func TestMonitorEnterExitReentrant(t *testing.T) {
	env := runtimeenv.New(&program.Program{})
	ref := "lock-key"
	env.MonitorEnter(ref, "owner-a")
	env.MonitorEnter(ref, "owner-a") // reentrant: same owner does not deadlock
	env.MonitorExit(ref, "owner-a")
	env.MonitorExit(ref, "owner-a")

	acquired := make(chan struct{})
	go func() {
		env.MonitorEnter(ref, "owner-b")
		close(acquired)
		env.MonitorExit(ref, "owner-b")
	}()
	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("owner-b never acquired the released monitor")
	}
}
