package engine

import (
	"github.com/ouroboros-lang/ourovm/api"
	"github.com/ouroboros-lang/ourovm/internal/program"
)

// Frame is the call-frame record from §3: a return address, a locals base,
// and a reference to the function record. Frames form a stack; popping one
// truncates locals back to LocalsBase (§3's frame invariant).
type Frame struct {
	ReturnAddress int
	LocalsBase    int
	Function      *program.Function

	// activeException is non-nil while control is inside a catch block
	// entered for this frame, so Rethrow (§4.5) can find "the current
	// exception" without a separate global stack.
	activeException *api.Value

	// suspended is non-nil when this frame belongs to a generator that has
	// yielded and is currently parked as an Iterator Value rather than
	// live on the call stack (§4.2 Generators, §9's state-machine guidance).
	suspended *GeneratorFrame
}

// GeneratorFrame reifies a suspended generator per §9 without relying on a
// host-language coroutine runtime. The generator's pc, locals and stacks live
// in the sub-engine that the resume closure drives; the PC and Locals fields
// here are not filled in. At most one yielded value is held (pending).
type GeneratorFrame struct {
	PC     int
	Locals []api.Value
	Fn     *program.Function
	Done   bool

	// pending holds a value already produced by YieldReturn but not yet
	// consumed by IteratorNext.
	pending *api.Value

	// resume is set by the engine machinery that knows how to re-enter the
	// dispatch loop for this generator; it stores the next yielded value in
	// pending, or sets Done, and returns only an error.
	resume func(g *GeneratorFrame) error
}

func (g *GeneratorFrame) HasNext() bool {
	if g.pending != nil {
		return true
	}
	if g.Done {
		return false
	}
	if g.resume != nil {
		_ = g.resume(g)
	}
	return g.pending != nil
}

func (g *GeneratorFrame) Next() (api.Value, error) {
	if g.pending == nil && !g.Done && g.resume != nil {
		if err := g.resume(g); err != nil {
			return api.Value{}, err
		}
	}
	if g.pending == nil {
		return api.Null(), api.NewError(api.StackUnderflow, "generator exhausted")
	}
	v := *g.pending
	g.pending = nil
	return v, nil
}

// arrayIterator walks an *api.Array in order, the plain-collection case of
// GetIterator.
type arrayIterator struct {
	elems []api.Value
	pos   int
}

func (a *arrayIterator) HasNext() bool { return a.pos < len(a.elems) }

func (a *arrayIterator) Next() (api.Value, error) {
	if a.pos >= len(a.elems) {
		return api.Value{}, api.NewError(api.StackUnderflow, "array iterator exhausted")
	}
	v := a.elems[a.pos]
	a.pos++
	return v, nil
}
