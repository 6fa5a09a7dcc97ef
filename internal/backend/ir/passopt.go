package ir

import (
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/value"
)

// OptLevel mirrors api.EngineConfig.OptimizationLevel (§4.7): 0 disables all
// passes, 3 runs everything this package implements. There is no dependency
// on an external opt binary for these — llc/opt (emit.go) still run their
// own, far more complete pipeline on the emitted .ll if the caller asks for
// anything past textual IR; these passes exist so Module.String() alone is
// already somewhat optimized for the common case of inspecting or testing
// the generated IR directly.
type OptLevel int

const (
	OptNone OptLevel = iota
	OptBasic
	OptDefault
	OptAggressive
)

// RunPasses mutates mod in place according to level. Only unreachable-block
// removal (OptBasic and up) and folding of trivial conditional branches
// (OptDefault and up) are implemented for real; the rest of a production pass pipeline (inlining, GVN, loop
// unrolling/vectorization, LICM, loop deletion) is listed and documented
// rather than implemented, since a faithful version of any one of them is a
// project in its own right and this package's lowering already produces
// memory-backed, unoptimized code that depends on a real optimizer (llc -O2)
// downstream to be competitive — these in-package passes are a convenience,
// not a substitute.
func RunPasses(mod *Module, level OptLevel) {
	if level >= OptBasic {
		removeUnreachableBlocks(mod)
	}
	if level >= OptDefault {
		foldTrivialBranches(mod)
	}
	// OptAggressive (level 3) would additionally run:
	//   - inlining of single-call-site functions
	//   - global value numbering across basic blocks
	//   - loop-invariant code motion out of the memory-backed stack/locals
	//     accesses lower.go emits
	//   - loop unrolling/vectorization over MakeArray-driven loops
	//   - dead loop deletion for generators whose body never yields
	// None of these are implemented: they would require a real dataflow
	// framework (def-use chains, loop analysis) this package does not build.
}

// removeUnreachableBlocks drops blocks nothing branches to, other than the
// function's entry block. lower.go only ever creates a block because some
// Jump/JumpIfTrue/JumpIfFalse targets it or a conditional branch falls
// through to it, so in practice this rarely fires, but a forward jump target
// that is itself dead code (e.g. after an unconditional Jump) can still end
// up unreferenced.
func removeUnreachableBlocks(mod *Module) {
	for _, f := range mod.M.Funcs {
		if len(f.Blocks) == 0 {
			continue
		}
		referenced := map[string]bool{f.Blocks[0].Name(): true}
		for _, b := range f.Blocks {
			for _, name := range branchTargetNames(b) {
				referenced[name] = true
			}
		}
		kept := f.Blocks[:0]
		for _, b := range f.Blocks {
			if referenced[b.Name()] {
				kept = append(kept, b)
			}
		}
		f.Blocks = kept
	}
}

func branchTargetNames(b *ir.Block) []string {
	switch term := b.Term.(type) {
	case *ir.TermBr:
		return []string{term.Target.Name()}
	case *ir.TermCondBr:
		return []string{term.TargetTrue.Name(), term.TargetFalse.Name()}
	default:
		return nil
	}
}

// foldTrivialBranches rewrites a conditional branch whose condition is a
// compile-time constant bool into an unconditional one. lower.go's own
// JumpIfTrue/JumpIfFalse lowering always routes through ouroboros_truthy, so
// this only ever fires once a future constant-propagation pass (not yet
// implemented) has replaced that call with a literal i1 — it is kept here,
// inert today, as the hook that pass would plug into.
func foldTrivialBranches(mod *Module) {
	for _, f := range mod.M.Funcs {
		for _, b := range f.Blocks {
			cb, ok := b.Term.(*ir.TermCondBr)
			if !ok {
				continue
			}
			lit, ok := constBoolOf(cb.Cond)
			if !ok {
				continue
			}
			if lit {
				b.Term = ir.NewBr(cb.TargetTrue)
			} else {
				b.Term = ir.NewBr(cb.TargetFalse)
			}
		}
	}
}

func constBoolOf(v value.Value) (bool, bool) {
	ci, ok := v.(*constant.Int)
	if !ok {
		return false, false
	}
	return ci.X.Sign() != 0, true
}
