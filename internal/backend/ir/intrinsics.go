package ir

import (
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"
)

// The five functions below give ouroboros_alloc/free/gc_collect/throw/print
// default bodies that delegate to the host C runtime (malloc, free, and a
// trivial printf/exit pair) declared as external functions on the same
// module, exactly the "thin external step" §1 describes for anything past
// textual IR: a real toolchain linking the emitted .ll against libc gets a
// working program without this package reimplementing allocation, a
// collector, or unwinding.

func externC(m *Module, name string, ret types.Type, variadic bool, params ...*ir.Param) *ir.Func {
	f := m.M.NewFunc(name, ret, params...)
	f.Sig.Variadic = variadic
	return f
}

func defineAllocBody(m *Module) {
	malloc := externC(m, "malloc", types.NewPointer(types.I8), false, ir.NewParam("size", types.I64))
	block := m.Alloc.NewBlock("entry")
	call := block.NewCall(malloc, m.Alloc.Params[0])
	block.NewRet(call)
}

func defineFreeBody(m *Module) {
	free := externC(m, "free", types.Void, false, ir.NewParam("ptr", types.NewPointer(types.I8)))
	block := m.Free.NewBlock("entry")
	block.NewCall(free, m.Free.Params[0])
	block.NewRet(nil)
}

func defineGCCollectBody(m *Module) {
	// No-op collector: allocation is delegated straight to malloc/free, so
	// there is nothing to trace. A real collector belongs in a future
	// revision, not a stub body here.
	block := m.GCCollect.NewBlock("entry")
	block.NewRet(nil)
}

func defineThrowBody(m *Module) {
	exit := externC(m, "exit", types.Void, false, ir.NewParam("code", types.I32))
	block := m.Throw.NewBlock("entry")
	block.NewCall(exit, constant.NewInt(types.I32, int64(1)))
	block.NewUnreachable()
}

func definePrintBody(m *Module) {
	printf := externC(m, "printf", types.I32, true, ir.NewParam("fmt", types.NewPointer(types.I8)))
	block := m.Print.NewBlock("entry")
	block.NewCall(printf, m.Print.Params[0])
	block.NewRet(nil)
}
