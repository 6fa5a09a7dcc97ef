package ir

import (
	"fmt"

	"github.com/llir/llvm/ir"
)

// Verify performs the structural checks LLVM's own verifier would reject a
// module for before it is ever handed to llc/opt (emit.go): every block
// terminated, and no two basic blocks in the same function sharing a name.
// It does not attempt dominance or type checking — llvm-as/llc already do
// that once the module leaves this package, and re-deriving their full
// rulebook here would just be a worse copy of work a real verifier does for
// free.
func Verify(mod *Module) error {
	for _, f := range mod.M.Funcs {
		if err := verifyFunc(f); err != nil {
			return fmt.Errorf("function %s: %w", f.Name(), err)
		}
	}
	return nil
}

func verifyFunc(f *ir.Func) error {
	if len(f.Blocks) == 0 {
		// A pure declaration (runtime intrinsic signature, forward-only
		// reference): nothing to verify.
		return nil
	}
	seen := make(map[string]bool, len(f.Blocks))
	for _, b := range f.Blocks {
		name := b.Name()
		if seen[name] {
			return fmt.Errorf("duplicate block label %q", name)
		}
		seen[name] = true
		if b.Term == nil {
			return fmt.Errorf("block %q has no terminator", name)
		}
	}
	return nil
}
