package engine

import (
	"github.com/ouroboros-lang/ourovm/api"
	"github.com/ouroboros-lang/ourovm/internal/program"
)

// startGenerator implements calling a function declared IsGenerator: instead
// of running to completion, it allocates a dedicated sub-engine holding the
// generator's own operand stack, locals, and call-frame stack, and returns an
// Iterator Value immediately. Resuming re-enters that sub-engine's dispatch
// loop and runs it until the next YieldReturn or Return, reifying suspension
// as "stop driving this engine and remember its state" rather than a
// host-language coroutine, per the design note on generators.
func (e *Engine) startGenerator(fn *program.Function, closure *api.Closure, args []api.Value) error {
	sub := e.newWorker()
	if err := sub.invokeUserFunction(fn, closure, args); err != nil {
		return err
	}
	sub.Running = true

	gf := &GeneratorFrame{Fn: fn}
	gf.resume = func(g *GeneratorFrame) error {
		if g.Done {
			return nil
		}
		for {
			halted, _, err := sub.Step(nil)
			if err != nil {
				g.Done = true
				return err
			}
			if sub.pendingYield != nil {
				v := *sub.pendingYield
				sub.pendingYield = nil
				g.pending = &v
				return nil
			}
			if halted {
				g.Done = true
				return nil
			}
		}
	}

	e.pushOperand(api.Value{Kind: api.KindIterator, Ref: gf})
	return nil
}

// doYieldReturn implements YieldReturn: pop the yielded value and park it on
// the engine as a pending-yield signal, without halting the dispatch loop (a
// caller driving this engine directly, such as startGenerator's resume
// closure, is responsible for noticing pendingYield and stopping).
func (e *Engine) doYieldReturn() error {
	v, err := e.popOperand()
	if err != nil {
		return err
	}
	e.pendingYield = &v
	return nil
}
