// Package engine implements the Frame & Stack Engine and the Dispatch Loop
// (§4.4), together with the exception unwinder (§4.5), the async/parallel
// adapter (§4.6), and the debugger surface (§6) that drives them one
// instruction at a time. The dispatch loop's shape — decode, advance pc,
// switch on opcode kind, advance again — is grounded directly on the
// teacher's callEngine.callNativeFunc in
// internal/engine/interpreter/interpreter.go, generalized from wazero's
// fixed WASM numeric-stack ISA to this tagged-Value ISA and given the
// exception/async semantics wazero's WASM target does not need.
package engine

import (
	"context"
	"sync/atomic"

	"github.com/ouroboros-lang/ourovm/api"
	"github.com/ouroboros-lang/ourovm/internal/isa"
	"github.com/ouroboros-lang/ourovm/internal/obslog"
	"github.com/ouroboros-lang/ourovm/internal/program"
	"github.com/ouroboros-lang/ourovm/internal/runtimeenv"
)

// Config mirrors the teacher's RuntimeConfig pattern: a small cloneable
// struct of engine-wide options, rather than a long constructor argument
// list.
type Config struct {
	// CallPad, when > 0, overrides a callee's declared LocalCount. Most
	// callers should leave this at 0 and let each Function's own LocalCount
	// govern the pad, per the §9 open-question resolution recorded in
	// DESIGN.md.
	CallPad int

	// DefaultParallelism is what SetParallelism(0) resets to (§4.6).
	DefaultParallelism int

	Debug bool
}

// DefaultConfig returns the zero-value-safe default configuration.
func DefaultConfig() Config {
	return Config{DefaultParallelism: 4}
}

// onInstructionFunc is the optional debugger hook fired after every
// instruction (§4.4 step 4).
type onInstructionFunc func(pc int, op isa.Opcode)

// Engine is one instance of the Frame & Stack Engine plus Dispatch Loop: the
// operand stack, locals, and call-frame stack for a single thread of
// execution over a shared Program and Environment. AsyncCall spawns
// additional *Engine values (worker engines, §4.6) that share the Program
// and Environment but own their own stacks.
type Engine struct {
	Program *program.Program
	Env     *runtimeenv.Environment
	Cfg     Config
	Log     *obslog.Logger

	PC       int
	Operands []api.Value
	Locals   []api.Value
	Frames   []*Frame
	Running  bool

	onInstruction onInstructionFunc

	// cancel is shared by pointer across a family of engines created by the
	// same root Execute call, implementing the engine-wide cancellation flag
	// from §5.
	cancel *int32

	// parallelism is the live value SetParallelism(n) installs; 0 means "use
	// Cfg.DefaultParallelism".
	parallelism int

	// memory backs the 64 KiB debug memory window from §6.
	memory [65536]byte

	// pendingYield is set by doYieldReturn and consumed by the generator
	// resume loop in startGenerator; it is nil whenever this engine is not
	// currently being driven as a generator's sub-engine.
	pendingYield *api.Value
}

// New creates a root Engine ready to execute Program's entry point once a
// frame has been pushed for it (see CallEntry in call.go).
func New(p *program.Program, env *runtimeenv.Environment, cfg Config) *Engine {
	var c int32
	return &Engine{
		Program: p,
		Env:     env,
		Cfg:     cfg,
		Log:     obslog.New(nil, cfg.Debug),
		cancel:  &c,
	}
}

// newWorker creates a worker engine sharing e's Program, Environment, and
// cancellation flag, with its own operand stack/locals/call stack (§4.6).
func (e *Engine) newWorker() *Engine {
	return &Engine{
		Program: e.Program,
		Env:     e.Env,
		Cfg:     e.Cfg,
		Log:     e.Log,
		cancel:  e.cancel,
	}
}

// OnInstruction installs the optional debugger observer (§4.4 step 4).
func (e *Engine) OnInstruction(fn func(pc int, op isa.Opcode)) { e.onInstruction = fn }

// Cancel sets the engine-wide cancellation flag (§5): this engine and every
// worker it shares a family with observes it at the next dispatch step.
func (e *Engine) Cancel() { atomic.StoreInt32(e.cancel, 1) }

func (e *Engine) cancelled() bool { return atomic.LoadInt32(e.cancel) != 0 }

// Run drives the dispatch loop to completion, termination, or an unhandled
// exception, honoring ctx cancellation as an additional source of the §5
// cancellation flag.
func (e *Engine) Run(ctx context.Context) (api.Value, error) {
	e.Running = true
	for e.Running {
		select {
		case <-ctx.Done():
			e.Cancel()
		default:
		}
		halted, result, err := e.Step(ctx)
		if err != nil {
			return api.Value{}, err
		}
		if halted {
			return result, nil
		}
	}
	return api.Null(), nil
}

func (e *Engine) pushOperand(v api.Value) { e.Operands = append(e.Operands, v) }

func (e *Engine) popOperand() (api.Value, error) {
	if len(e.Operands) == 0 {
		return api.Value{}, api.NewError(api.StackUnderflow, "pop on empty operand stack")
	}
	v := e.Operands[len(e.Operands)-1]
	e.Operands = e.Operands[:len(e.Operands)-1]
	return v, nil
}

func (e *Engine) peekOperand() (api.Value, bool) {
	if len(e.Operands) == 0 {
		return api.Value{}, false
	}
	return e.Operands[len(e.Operands)-1], true
}

// currentFrame returns the active frame, or nil at top level (no active
// call).
func (e *Engine) currentFrame() *Frame {
	if len(e.Frames) == 0 {
		return nil
	}
	return e.Frames[len(e.Frames)-1]
}

// effectiveLocal resolves a frame-relative local index to an absolute index
// into e.Locals, lazily extending with Null so reads of declared-but-never-
// written locals observe Null rather than fail (§4.4's LoadLocal rule).
func (e *Engine) effectiveLocal(i int) int {
	base := 0
	if f := e.currentFrame(); f != nil {
		base = f.LocalsBase
	}
	idx := base + i
	for idx >= len(e.Locals) {
		e.Locals = append(e.Locals, api.Null())
	}
	return idx
}
