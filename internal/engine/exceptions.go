package engine

import (
	"github.com/ouroboros-lang/ourovm/api"
	"github.com/ouroboros-lang/ourovm/internal/isa"
	"github.com/ouroboros-lang/ourovm/internal/program"
)

// dynamicTypeName reports the type name used to match a handler region's
// ExceptionType against a thrown Value.
func dynamicTypeName(v api.Value) string {
	switch v.Kind {
	case api.KindException, api.KindObject:
		return v.Ref.(*api.Object).TypeName
	default:
		return v.Kind.String()
	}
}

// throw implements §4.5: search the current (innermost active) frame's
// region table for a region containing the current pc whose declared
// exception type matches (or is unset); transfer to catch_start with the
// exception pushed. Otherwise pop frames outward, running each popped
// frame's finally_start before discarding it, until a match is found or the
// call stack is exhausted — at which point the exception propagates to the
// caller of Run as an error (§4.5 "the program terminates with the
// exception propagated to the embedder").
func (e *Engine) throw(exc api.Value) (halted bool, err error) {
	typeName := dynamicTypeName(exc)
	// e.PC is already past the throwing instruction (for an outer frame,
	// past its Call); pc-1 is that instruction's last byte, so a try region
	// ending right after it still contains it.
	pc := e.PC - 1

	for {
		frame := e.currentFrame()
		if frame == nil {
			// No active frame at all: unhandled at top level.
			return true, &unhandledException{Value: exc}
		}
		if region, ok := findRegion(frame.Function.Handlers, pc, typeName); ok {
			frame.activeException = &exc
			e.PC = region.CatchStart
			e.pushOperand(exc)
			return false, nil
		}
		// No region in this frame catches; run any unconditional finally
		// for regions whose try block contains pc, then pop the frame.
		for _, region := range frame.Function.Handlers {
			if region.Contains(pc) && region.FinallyStart >= 0 {
				if err := e.runFinallyInline(region.FinallyStart); err != nil {
					return true, err
				}
			}
		}
		if len(e.Frames) == 0 {
			return true, &unhandledException{Value: exc}
		}
		e.Frames = e.Frames[:len(e.Frames)-1]
		e.Locals = e.Locals[:frame.LocalsBase]
		e.PC = frame.ReturnAddress
		pc = e.PC - 1
	}
}

// findRegion returns the innermost handler region in handlers that contains
// pc and whose declared exception type matches typeName, preferring regions
// with a smaller try span when more than one contains pc (innermost-first).
func findRegion(handlers []program.HandlerRegion, pc int, typeName string) (program.HandlerRegion, bool) {
	best := -1
	bestSpan := -1
	for i, h := range handlers {
		if !h.Contains(pc) || !h.Matches(typeName) {
			continue
		}
		span := h.TryEnd - h.TryStart
		if best == -1 || span < bestSpan {
			best = i
			bestSpan = span
		}
	}
	if best == -1 {
		return program.HandlerRegion{}, false
	}
	return handlers[best], true
}

// runFinallyInline executes the dispatch loop starting at finallyStart until
// it reaches a natural fall-through point. Because finally blocks are
// ordinary bytecode emitted by the (external) compiler, running one here
// means temporarily resuming dispatch at that PC; EndFinally is the marker
// the compiler uses to signal "this finally block's last instruction", so we
// run until we decode it (or hit a terminating opcode).
func (e *Engine) runFinallyInline(pc int) error {
	saved := e.PC
	e.PC = pc
	for e.PC < len(e.Program.Code) {
		op := isa.Opcode(e.Program.Code[e.PC])
		if op == isa.EndFinally {
			e.PC++
			break
		}
		halted, _, err := e.Step(nil)
		if err != nil {
			return err
		}
		if halted {
			break
		}
	}
	e.PC = saved
	return nil
}

// unhandledException is returned from Run when an exception reaches the top
// of the call stack with no matching handler.
type unhandledException struct{ Value api.Value }

func (u *unhandledException) Error() string {
	return "unhandled exception: " + u.Value.String()
}
