package ourovm_test

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ouroboros-lang/ourovm"
	"github.com/ouroboros-lang/ourovm/api"
	"github.com/ouroboros-lang/ourovm/internal/isa"
	"github.com/ouroboros-lang/ourovm/internal/program"
	"github.com/ouroboros-lang/ourovm/internal/runtimeenv"
)

// asm is the same minimal bytecode assembler the engine package's own tests
// use: one opcode byte followed by each int32 immediate, little-endian.
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

// doubleProgram builds a one-function program whose "main" calls a
// host-registered "double" callable on its sole argument and returns the
// result, exercising LoadProgram/Execute without a compiler front-end.
func doubleProgram() *program.Program {
	var a asm
	a.op(isa.LoadConstant, 0) // callee name
	a.op(isa.LoadConstant, 1) // argument
	a.op(isa.Call, 1)
	a.op(isa.Return)

	fn := &program.Function{Name: "main", StartOffset: 0, EndOffset: len(a.buf)}
	return &program.Program{
		Code:      a.buf,
		Constants: []api.Value{api.String("double"), api.Int32(21)},
		Functions: map[string]*program.Function{"main": fn},
		FuncOrder: []*program.Function{fn},
		Symbols:   map[string]program.Symbol{},
	}
}

func TestEmbeddingLoadAndExecute(t *testing.T) {
	p := doubleProgram()
	env := ourovm.NewEnvironment(p)
	env.RegisterHostCallable("double", 1, func(args []api.Value) (api.Value, error) {
		n, _ := args[0].AsInt64()
		return api.Int32(int32(n * 2)), nil
	}, runtimeenv.ReturnValue)

	eng, err := ourovm.LoadProgram(p, env, api.DefaultEngineConfig())
	require.NoError(t, err)

	v, err := eng.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, api.Int32(42), v)
}

func TestEmbeddingRejectsProgramWithoutMain(t *testing.T) {
	p := &program.Program{Code: []byte{byte(isa.ReturnVoid)}, Functions: map[string]*program.Function{}}
	env := ourovm.NewEnvironment(p)
	_, err := ourovm.LoadProgram(p, env, api.DefaultEngineConfig())
	require.Error(t, err)
}

func TestEmbeddingSingleStepAndDisassemble(t *testing.T) {
	var a asm
	a.op(isa.LoadConstant, 0)
	a.op(isa.LoadConstant, 1)
	a.op(isa.OpAdd)
	a.op(isa.Return)

	fn := &program.Function{Name: "main", StartOffset: 0, EndOffset: len(a.buf)}
	p := &program.Program{
		Code:      a.buf,
		Constants: []api.Value{api.Int32(4), api.Int32(5)},
		Functions: map[string]*program.Function{"main": fn},
		FuncOrder: []*program.Function{fn},
	}

	env := ourovm.NewEnvironment(p)
	eng, err := ourovm.LoadProgram(p, env, api.DefaultEngineConfig())
	require.NoError(t, err)

	var steps int
	eng.OnInstruction(func(pc int, mnemonic string) { steps++ })

	for {
		done, err := eng.Step(context.Background())
		require.NoError(t, err)
		if done {
			break
		}
	}
	assert.Greater(t, steps, 0, "OnInstruction must fire at least once over a non-trivial program")

	line := eng.Disassemble(0)
	assert.Contains(t, line, "pc=0")
}

func TestEmbeddingCancelStopsExecution(t *testing.T) {
	// An unconditional backward jump: a runaway loop Cancel must interrupt.
	var a asm
	loopStart := len(a.buf)
	a.op(isa.Nop)
	a.op(isa.Jump, int32(loopStart-(len(a.buf)+5)))

	fn := &program.Function{Name: "main", StartOffset: 0, EndOffset: len(a.buf)}
	p := &program.Program{Code: a.buf, Functions: map[string]*program.Function{"main": fn}, FuncOrder: []*program.Function{fn}}

	env := ourovm.NewEnvironment(p)
	eng, err := ourovm.LoadProgram(p, env, api.DefaultEngineConfig())
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		eng.Execute(context.Background())
		close(done)
	}()
	eng.Cancel()
	<-done
}

func TestEmbeddingGetGlobalResolvesDeclaredSymbol(t *testing.T) {
	fn := &program.Function{Name: "main", StartOffset: 0, EndOffset: 1}
	code := []byte{byte(isa.ReturnVoid)}
	p := &program.Program{
		Code:        code,
		Functions:   map[string]*program.Function{"main": fn},
		FuncOrder:   []*program.Function{fn},
		Symbols:     map[string]program.Symbol{"counter": {IsGlobal: true, Index: 0}},
		GlobalCount: 1,
	}
	env := ourovm.NewEnvironment(p)
	eng, err := ourovm.LoadProgram(p, env, api.DefaultEngineConfig())
	require.NoError(t, err)

	v, ok := eng.GetGlobal("counter")
	require.True(t, ok)
	assert.True(t, v.IsNull())

	_, ok = eng.GetGlobal("nonexistent")
	assert.False(t, ok)
}
