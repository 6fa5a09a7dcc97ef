package engine

import (
	"fmt"

	"github.com/ouroboros-lang/ourovm/api"
	"github.com/ouroboros-lang/ourovm/internal/isa"
)

func opcodeAt(code []byte, pc int) isa.Opcode { return isa.Opcode(code[pc]) }

// ReadMemory reads one byte from the engine's 64 KiB debug memory window
// (§6). This window is a flat scratch area the host callable table can use
// for raw byte plumbing; it is not addressed by any opcode.
func (e *Engine) ReadMemory(addr uint16) (byte, error) {
	return e.memory[addr], nil
}

// WriteMemory writes one byte into the debug memory window.
func (e *Engine) WriteMemory(addr uint16, b byte) error {
	e.memory[addr] = b
	return nil
}

// GetGlobal resolves a global by its declared symbol name (§3's symbol
// table), returning false if name is not a known global.
func (e *Engine) GetGlobal(name string) (api.Value, bool) {
	sym, ok := e.Program.Symbols[name]
	if !ok || !sym.IsGlobal {
		return api.Value{}, false
	}
	if sym.Index < 0 || sym.Index >= len(e.Env.Globals) {
		return api.Value{}, false
	}
	return e.Env.Globals[sym.Index], true
}

// GetLocals snapshots the current frame's locals, keyed by declared
// parameter name where one exists and by a positional "local<N>" fallback
// otherwise — the §6 debugger surface's locals inspector.
func (e *Engine) GetLocals() map[string]api.Value {
	out := map[string]api.Value{}
	frame := e.currentFrame()
	base := 0
	var fn *Frame
	if frame != nil {
		base = frame.LocalsBase
		fn = frame
	}
	for i := base; i < len(e.Locals); i++ {
		key := fmt.Sprintf("local%d", i-base)
		if fn != nil && fn.Function != nil {
			if j := i - base; j < len(fn.Function.ParameterNames) {
				if n := fn.Function.ParameterNames[j]; n != "" {
					key = n
				}
			}
		}
		out[key] = e.Locals[i]
	}
	return out
}

// DisassembleStep renders a single human-readable trace line for the
// instruction at pc, the OURO_DEBUG single-step printer described in §6.
func (e *Engine) DisassembleStep(pc int) string {
	if pc < 0 || pc >= len(e.Program.Code) {
		return fmt.Sprintf("pc=%d <out of range>", pc)
	}
	return fmt.Sprintf("pc=%d op=%s operands=%d locals=%d", pc,
		opcodeAt(e.Program.Code, pc), len(e.Operands), len(e.Locals))
}
