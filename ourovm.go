// Package ourovm is the public embedding surface for the Ouroboros virtual
// machine (§6): load a compiled Program, attach a RuntimeEnvironment, and
// drive it to completion or one instruction at a time. This mirrors the
// teacher's own split between its root `wazero` package (NewRuntime, Runtime,
// Module — the thing embedders import) and the `wazero/api` package
// (ValueType and friends — plain data types with no engine dependency): here
// `api` holds Value/Error and this root package holds the engine wrapper, to
// avoid a Go import cycle that a single combined package would create.
package ourovm

import (
	"context"

	"github.com/ouroboros-lang/ourovm/api"
	"github.com/ouroboros-lang/ourovm/internal/engine"
	"github.com/ouroboros-lang/ourovm/internal/isa"
	"github.com/ouroboros-lang/ourovm/internal/program"
	"github.com/ouroboros-lang/ourovm/internal/runtimeenv"
)

// Engine is one loaded, runnable instance of a Program (§6 Embedding API).
type Engine struct {
	inner *engine.Engine
}

// NewEnvironment allocates a RuntimeEnvironment for p (§4.3), ready for
// RegisterHostCallable/RegisterType calls before LoadProgram.
func NewEnvironment(p *program.Program) *runtimeenv.Environment {
	return runtimeenv.New(p)
}

// LoadProgram attaches env to p, configures a dispatch engine per cfg, and
// pushes the initial frame for p's declared "main" entry point, ready for
// Execute or a sequence of Step calls.
func LoadProgram(p *program.Program, env *runtimeenv.Environment, cfg api.EngineConfig) (*Engine, error) {
	ecfg := engine.Config{
		CallPad:            cfg.CallPad,
		DefaultParallelism: cfg.DefaultParallelism,
		Debug:              cfg.Debug,
	}
	eng := engine.New(p, env, ecfg)

	entry, ok := p.Functions["main"]
	if !ok || !entry.Callable() {
		return nil, api.NewError(api.UnresolvedFunction, `program declares no callable "main" entry point`)
	}
	if err := eng.CallEntry(entry, nil); err != nil {
		return nil, err
	}
	return &Engine{inner: eng}, nil
}

// Execute runs the dispatch loop to completion, returning the value left on
// the operand stack by the entry point's Return/Halt, or the unhandled
// exception/fault that stopped it.
func (e *Engine) Execute(ctx context.Context) (api.Value, error) {
	return e.inner.Run(ctx)
}

// Step executes exactly one instruction (§6's single-step debugger
// primitive). done is true once the program has halted or returned from its
// outermost frame.
func (e *Engine) Step(ctx context.Context) (done bool, err error) {
	halted, _, err := e.inner.Step(ctx)
	return halted, err
}

// ReadMemory and WriteMemory expose the engine's 64 KiB debug memory window
// (§6).
func (e *Engine) ReadMemory(addr uint16) (byte, error)  { return e.inner.ReadMemory(addr) }
func (e *Engine) WriteMemory(addr uint16, b byte) error { return e.inner.WriteMemory(addr, b) }

// GetGlobal resolves a global by its declared name.
func (e *Engine) GetGlobal(name string) (api.Value, bool) { return e.inner.GetGlobal(name) }

// GetLocals snapshots the currently active frame's locals.
func (e *Engine) GetLocals() map[string]api.Value { return e.inner.GetLocals() }

// Cancel sets the engine-wide cancellation flag (§5): this Engine and any
// async worker engines it has spawned observe it at their next dispatch
// step, unwinding as a Cancelled fault.
func (e *Engine) Cancel() { e.inner.Cancel() }

// OnInstruction installs the optional debugger observer fired after every
// instruction.
func (e *Engine) OnInstruction(fn func(pc int, mnemonic string)) {
	e.inner.OnInstruction(func(pc int, op isa.Opcode) { fn(pc, op.String()) })
}

// Disassemble renders a single human-readable trace line for the instruction
// at pc, for embedders building their own step debugger UI.
func (e *Engine) Disassemble(pc int) string { return e.inner.DisassembleStep(pc) }
