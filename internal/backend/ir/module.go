package ir

import (
	"fmt"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
)

// Module wraps an *ir.Module together with the runtime intrinsic
// declarations every lowered function may call, so lower.go never has to
// re-look-up a declaration by name.
type Module struct {
	M *ir.Module

	// Runtime intrinsics (§4.7's five required entry points), declared once
	// per module and given a default body that delegates to host malloc,
	// free, and printf/exit, matching how the embedding API leaves memory
	// management and I/O to the host rather than reimplementing a GC here.
	Alloc      *ir.Func
	Free       *ir.Func
	GCCollect  *ir.Func
	Throw      *ir.Func
	Print      *ir.Func

	// Thin runtime accessors (box/unbox/type-tag-check for the boxed i8*
	// Value representation) and the interpreted-fallback/host-call bridges,
	// declared lazily by internFunc as lower.go references them. Arithmetic,
	// numeric comparison, and logical opcodes call only the unbox/box/tag-check
	// members of this table around a native LLVM instruction lower.go emits
	// directly. Compare/SpaceshipCompare (ouroboros_cmp3), non-numeric
	// equality and string ordering (ouroboros_value_equal,
	// ouroboros_cmp_strings), and the ouroboros_unop_<Op> helpers call a
	// runtime helper for the whole operation.
	funcs map[string]*ir.Func

	// UserFuncs maps a program.Function's declared name to the *ir.Func
	// declareUserFuncs pre-declared for it (before any body is lowered, so a
	// forward or mutually-recursive Call can already resolve its target), and
	// lowerFunction fills in with a body in FuncOrder order. classes.go reads
	// this same table to point vtable slots at method bodies.
	UserFuncs map[string]*ir.Func

	// Vtables maps a non-value TypeDescriptor's name to the global array
	// classes.go emitted for it.
	Vtables map[string]*ir.Global

	// strConsts caches the global char-array constant lowered for each
	// distinct string constant-pool literal LoadConstant references, so two
	// LoadConstants of the same string share one global instead of emitting
	// a duplicate array per occurrence.
	strConsts map[string]*ir.Global
}

// NewModule creates an empty module named name with every runtime intrinsic
// declared (but not yet defined with a real body beyond the default
// pass-through implementations in intrinsics.go).
func NewModule(name string) *Module {
	m := ir.NewModule()
	m.SourceFilename = name

	mod := &Module{
		M:         m,
		funcs:     map[string]*ir.Func{},
		UserFuncs: map[string]*ir.Func{},
		Vtables:   map[string]*ir.Global{},
		strConsts: map[string]*ir.Global{},
	}
	mod.declareIntrinsics()
	return mod
}

func (m *Module) declareIntrinsics() {
	i8ptr := types.NewPointer(types.I8)

	m.Alloc = m.M.NewFunc("ouroboros_alloc", i8ptr, ir.NewParam("size", types.I64))
	m.Free = m.M.NewFunc("ouroboros_free", types.Void, ir.NewParam("ptr", i8ptr))
	m.GCCollect = m.M.NewFunc("ouroboros_gc_collect", types.Void)
	m.Throw = m.M.NewFunc("ouroboros_throw", types.Void, ir.NewParam("exc", i8ptr))
	m.Print = m.M.NewFunc("ouroboros_print", types.Void, ir.NewParam("msg", i8ptr))

	defineAllocBody(m)
	defineFreeBody(m)
	defineThrowBody(m)
	definePrintBody(m)
	defineGCCollectBody(m)
}

// internFunc returns the declared runtime helper named name, declaring it
// with the given signature on first use. Accessors like
// "ouroboros_unbox_f64"/"ouroboros_value_is_float" lower.go calls through
// this table to cross the boxed-value boundary; arithmetic and numeric
// comparison are native instructions emitted against the unboxed result,
// while the whole-operation helpers listed on Module.funcs are declared
// through here too.
func (m *Module) internFunc(name string, ret types.Type, params ...*ir.Param) *ir.Func {
	if f, ok := m.funcs[name]; ok {
		return f
	}
	f := m.M.NewFunc(name, ret, params...)
	f.Linkage = enum.LinkageExternal
	m.funcs[name] = f
	return f
}

// stringConstant returns the global char-array constant for s, declaring one
// (null-terminated, like a C string literal) on first use.
func (m *Module) stringConstant(s string) *ir.Global {
	if g, ok := m.strConsts[s]; ok {
		return g
	}
	data := constant.NewCharArrayFromString(s + "\x00")
	g := m.M.NewGlobalDef(fmt.Sprintf("str.%d", len(m.strConsts)), data)
	g.Immutable = true
	m.strConsts[s] = g
	return g
}

// String renders the module as textual LLVM IR (the only output format this
// package produces directly; see emit.go for delegating other targets to an
// external llc/opt).
func (m *Module) String() string { return m.M.String() }
