package ir

import (
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"github.com/ouroboros-lang/ourovm/internal/program"
)

// SynthesizeEntry emits a C-ABI `main(argc i32, argv i8**) i32` that calls
// the program's declared "main" function with one boxed-null argument per
// declared parameter and returns 0, the same entry-point convention the
// embedding API (ourovm.LoadProgram) uses when it looks up "main" directly.
// Without this, a lowered module has no symbol a linker treats as the
// process entry point — running the compiled program standalone (outside
// the dispatch engine) needs one.
func SynthesizeEntry(mod *Module, p *program.Program) {
	entryFn, ok := mod.UserFuncs["main"]
	if !ok {
		return
	}

	i8ptr := types.NewPointer(types.I8)
	f := mod.M.NewFunc("main", types.I32,
		ir.NewParam("argc", types.I32),
		ir.NewParam("argv", types.NewPointer(i8ptr)))

	block := f.NewBlock("entry")
	nullFn := mod.internFunc("ouroboros_null", i8ptr)

	args := make([]value.Value, len(entryFn.Params))
	for i := range args {
		args[i] = block.NewCall(nullFn)
	}
	block.NewCall(entryFn, args...)
	block.NewRet(constant.NewInt(types.I32, 0))
}
