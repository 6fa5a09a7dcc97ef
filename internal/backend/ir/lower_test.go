package ir

import (
	"encoding/binary"
	"strings"
	"testing"

	"github.com/llir/llvm/ir/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ouroboros-lang/ourovm/api"
	"github.com/ouroboros-lang/ourovm/internal/isa"
	"github.com/ouroboros-lang/ourovm/internal/program"
)

func asmOp(buf []byte, op isa.Opcode, imms ...int32) []byte {
	buf = append(buf, byte(op))
	for _, imm := range imms {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(imm))
		buf = append(buf, b[:]...)
	}
	return buf
}

func simpleAddProgram() *program.Program {
	var code []byte
	code = asmOp(code, isa.LoadConstant, 0)
	code = asmOp(code, isa.LoadConstant, 1)
	code = asmOp(code, isa.OpAdd)
	code = asmOp(code, isa.Return)

	fn := &program.Function{Name: "main", StartOffset: 0, EndOffset: len(code)}
	return &program.Program{
		Code:      code,
		Constants: []api.Value{api.Int32(2), api.Int32(3)},
		Functions: map[string]*program.Function{"main": fn},
		FuncOrder: []*program.Function{fn},
		Types:     map[string]*program.TypeDescriptor{},
	}
}

func TestLowerProgramProducesVerifiableModule(t *testing.T) {
	p := simpleAddProgram()
	mod, err := LowerProgram(p)
	require.NoError(t, err)
	require.NoError(t, Verify(mod))

	ir := mod.String()
	assert.Contains(t, ir, "ouro_fn_main")
	assert.Contains(t, ir, "fadd double", "Add on two Int32 constants still takes the native float/int branch-and-merge path, and the float arm must use a real fadd")
	assert.Contains(t, ir, "ouroboros_value_is_float", "arithmetic dispatches on runtime type via this accessor, never a do-everything binop call")
	assert.NotContains(t, ir, "ouroboros_binop_Add", "arithmetic must lower to native instructions, not an opaque binop call")
	assert.Contains(t, ir, `define i32 @main`, "SynthesizeEntry must add its own unmangled C-ABI main")
}

func TestLowerProgramWithBranch(t *testing.T) {
	// if (true) { push 1 } else { push 0 }; return — the two arms converge on
	// a single Return, exercising JumpIfFalse's fallthrough block and the
	// unconditional Jump that skips the else arm.
	var code []byte
	code = asmOp(code, isa.LoadTrue)
	jumpIfFalsePos := len(code)
	code = asmOp(code, isa.JumpIfFalse, 0)
	code = asmOp(code, isa.LoadConstant, 0)
	jumpPos := len(code)
	code = asmOp(code, isa.Jump, 0)
	elseStart := len(code)
	code = asmOp(code, isa.LoadConstant, 1)
	end := len(code)
	code = asmOp(code, isa.Return)

	binary.LittleEndian.PutUint32(code[jumpIfFalsePos+1:jumpIfFalsePos+5], uint32(elseStart-(jumpIfFalsePos+5)))
	binary.LittleEndian.PutUint32(code[jumpPos+1:jumpPos+5], uint32(end-(jumpPos+5)))

	fn := &program.Function{Name: "branchy", StartOffset: 0, EndOffset: len(code)}
	p := &program.Program{
		Code:      code,
		Constants: []api.Value{api.Int32(1), api.Int32(0)},
		Functions: map[string]*program.Function{"branchy": fn},
		FuncOrder: []*program.Function{fn},
		Types:     map[string]*program.TypeDescriptor{},
	}

	mod, err := LowerProgram(p)
	require.NoError(t, err)
	require.NoError(t, Verify(mod))
	assert.Contains(t, mod.String(), "ouroboros_truthy")
}

func TestLowerProgramSkipsForwardDeclarations(t *testing.T) {
	decl := &program.Function{Name: "forward", StartOffset: -1}
	code := asmOp(nil, isa.Return)
	main := &program.Function{Name: "main", StartOffset: 0, EndOffset: len(code)}
	p := &program.Program{
		Code:      code,
		Functions: map[string]*program.Function{"forward": decl, "main": main},
		FuncOrder: []*program.Function{decl, main},
		Types:     map[string]*program.TypeDescriptor{},
	}
	mod, err := LowerProgram(p)
	require.NoError(t, err)
	assert.NotContains(t, mod.String(), "ouro_fn_forward")
}

func TestLowerProgramFallsBackForUnresolvedOpcodes(t *testing.T) {
	// MonitorEnter has no native lowering: it must route through the single
	// interpreted-fallback call rather than failing to lower.
	code := asmOp(nil, isa.MonitorEnter)
	code = asmOp(code, isa.ReturnVoid)
	fn := &program.Function{Name: "locks", StartOffset: 0, EndOffset: len(code)}
	p := &program.Program{
		Code:      code,
		Functions: map[string]*program.Function{"locks": fn},
		FuncOrder: []*program.Function{fn},
		Types:     map[string]*program.TypeDescriptor{},
	}
	mod, err := LowerProgram(p)
	require.NoError(t, err)
	assert.Contains(t, mod.String(), "ouroboros_exec_opcode")
}

func TestGenerateClassesBuildsVtable(t *testing.T) {
	code := asmOp(nil, isa.ReturnVoid)
	method := &program.Function{Name: "Point.move", StartOffset: 0, EndOffset: len(code)}
	p := &program.Program{
		Code:      code,
		Functions: map[string]*program.Function{"Point.move": method},
		FuncOrder: []*program.Function{method},
		Types: map[string]*program.TypeDescriptor{
			"Point": {
				Name:   "Point",
				Fields: []string{"x", "y"},
				Members: map[string]program.Member{
					"move": {Name: "move", Kind: program.MemberMethod, FuncName: "Point.move"},
				},
			},
		},
	}
	mod, err := LowerProgram(p)
	require.NoError(t, err)
	require.NoError(t, Verify(mod))
	assert.Contains(t, mod.String(), "vtable.Point")
	assert.Contains(t, mod.String(), "ouroboros_new_Point")
}

func TestGenerateClassesSkipsValueTypes(t *testing.T) {
	p := &program.Program{
		Code:      asmOp(nil, isa.ReturnVoid),
		Functions: map[string]*program.Function{},
		FuncOrder: nil,
		Types: map[string]*program.TypeDescriptor{
			"Point3": {Name: "Point3", IsValue: true, Fields: []string{"x", "y", "z"}},
		},
	}
	mod, err := LowerProgram(p)
	require.NoError(t, err)
	assert.NotContains(t, mod.String(), "vtable.Point3")
}

func TestVerifyRejectsUnterminatedBlock(t *testing.T) {
	mod := NewModule("broken")
	f := mod.M.NewFunc("ouro_fn_bad", types.Void)
	f.NewBlock("entry") // no terminator added
	err := Verify(mod)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "terminator")
}

func TestRunPassesBasicKeepsModuleVerifiable(t *testing.T) {
	p := simpleAddProgram()
	mod, err := LowerProgram(p)
	require.NoError(t, err)
	before := strings.Count(mod.String(), "ouro_fn_main:")
	RunPasses(mod, OptBasic)
	_ = before
	require.NoError(t, Verify(mod))
}
