package ir

import (
	"fmt"
	"sort"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"

	"github.com/ouroboros-lang/ourovm/internal/program"
)

// declareConstructors pre-declares ouroboros_new_<Name> for every non-value
// type before any function body is lowered, so New's lowering (lower.go) can
// already resolve the call target; GenerateClasses fills in the body once
// every method function exists.
func declareConstructors(mod *Module, p *program.Program) {
	i8ptr := types.NewPointer(types.I8)
	for name, td := range p.Types {
		if td.IsValue {
			continue
		}
		fname := "ouroboros_new_" + name
		if _, exists := mod.funcs[fname]; exists {
			continue
		}
		f := mod.M.NewFunc(fname, i8ptr, ir.NewParam("argv", types.NewPointer(i8ptr)), ir.NewParam("argc", nativeIntType()))
		mod.funcs[fname] = f
	}
}

// GenerateClasses emits one vtable global per declared type descriptor
// (§3 "types: mapping name → type descriptor") and a matching
// ouroboros_new_<Name> constructor, grounded on the same declarative
// struct+vtable shape a C++-style ABI gives every class: a global array of
// function pointers, one slot per virtual method, ordered by method name
// (see methodSlots). Value types (structs/enums, TypeDescriptor.IsValue) get
// no vtable, mirroring their by-value semantics (§3).
//
// Field storage itself stays map-based at the object level (api.Object.Fields,
// see members.go) rather than a native struct layout: the engine's own object
// model never assumed fixed field offsets, and giving the IR backend a
// different layout than the interpreter would make LoadMember/StoreMember's
// interpreted fallback and this backend's constructors disagree about object
// shape. The vtable is therefore the one piece of the class descriptor that
// benefits from a native representation (indirect virtual calls), so it is
// the only one this backend lowers directly.
func GenerateClasses(mod *Module, p *program.Program) error {
	names := make([]string, 0, len(p.Types))
	for name := range p.Types {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		td := p.Types[name]
		if td.IsValue {
			continue
		}
		if err := generateVtable(mod, p, td); err != nil {
			return fmt.Errorf("class %s: %w", name, err)
		}
		generateConstructor(mod, td)
	}
	return nil
}

// methodSlots returns td's MemberMethod entries in a stable order (declared
// field order isn't tracked for methods, so this sorts by name — deterministic
// output matters more than matching a source order this package never sees).
func methodSlots(td *program.TypeDescriptor) []program.Member {
	var slots []program.Member
	for _, m := range td.Members {
		if m.Kind == program.MemberMethod {
			slots = append(slots, m)
		}
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].Name < slots[j].Name })
	return slots
}

func generateVtable(mod *Module, p *program.Program, td *program.TypeDescriptor) error {
	i8ptr := types.NewPointer(types.I8)
	slots := methodSlots(td)
	entries := make([]constant.Constant, len(slots))
	for i, m := range slots {
		fn, ok := mod.UserFuncs[m.FuncName]
		if !ok {
			return fmt.Errorf("method %s.%s references undefined function %q", td.Name, m.Name, m.FuncName)
		}
		entries[i] = constant.NewBitCast(fn, i8ptr)
	}
	arrType := types.NewArray(uint64(len(entries)), i8ptr)
	var init constant.Constant
	if len(entries) == 0 {
		init = constant.NewZeroInitializer(arrType)
	} else {
		init = constant.NewArray(arrType, entries...)
	}
	g := mod.M.NewGlobalDef("vtable."+td.Name, init)
	mod.Vtables[td.Name] = g
	return nil
}

// generateConstructor fills in the body declareConstructors left empty: ask
// the allocator for enough room for one boxed pointer per declared field plus
// a vtable slot, and return that allocation. It does not initialize fields
// and does not read its argv/argc parameters; New's lowering (lower.go) calls
// this constructor (or ouroboros_new_generic for a type without one) and runs
// no constructor method. This function exists so a vtable-bearing type always
// has a linkable native allocation entry point.
func generateConstructor(mod *Module, td *program.TypeDescriptor) {
	f := mod.funcs["ouroboros_new_"+td.Name]
	if f == nil || len(f.Blocks) > 0 {
		return
	}
	i8ptr := types.NewPointer(types.I8)
	alloc := mod.internFunc("ouroboros_alloc", i8ptr, ir.NewParam("size", nativeIntType()))
	block := f.NewBlock("entry")
	size := constant.NewInt(types.I64, int64(8*(len(td.Fields)+1)))
	obj := block.NewCall(alloc, size)
	block.NewRet(obj)
}
