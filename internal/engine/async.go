package engine

import (
	"context"
	"sync"

	"github.com/ouroboros-lang/ourovm/api"
)

// Future backs KindFuture (§4.6): the handle AsyncCall pushes immediately,
// resolved once the spawned worker engine's call completes. Await blocks the
// calling engine's goroutine until resolution; this is safe because each
// worker runs its own dispatch loop on its own goroutine, so blocking the
// caller never stalls the worker.
type Future struct {
	mu    sync.Mutex
	done  bool
	value api.Value
	err   error
	ready chan struct{}
}

func newFuture() *Future {
	return &Future{ready: make(chan struct{})}
}

func (f *Future) resolve(v api.Value, err error) {
	f.mu.Lock()
	if f.done {
		f.mu.Unlock()
		return
	}
	f.value, f.err, f.done = v, err, true
	f.mu.Unlock()
	close(f.ready)
}

// Await blocks until the future resolves or ctx is cancelled.
func (f *Future) Await(ctx context.Context) (api.Value, error) {
	select {
	case <-f.ready:
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.value, f.err
	case <-ctx.Done():
		return api.Value{}, api.NewError(api.Cancelled, "await cancelled")
	}
}

// TryJoin reports whether the future has already resolved, returning its
// result without blocking (the non-blocking half of §4.6's Join).
func (f *Future) TryJoin() (api.Value, error, bool) {
	select {
	case <-f.ready:
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.value, f.err, true
	default:
		return api.Value{}, nil, false
	}
}

// doAsyncCall implements AsyncCall(argc) (§4.6): resolve the callee exactly
// like a synchronous Call, but run it on a fresh worker engine's goroutine
// and push a Future handle immediately instead of blocking for the result.
// The worker shares Program, Env, and the cancellation flag with e, so a
// Cancel on either reaches both.
func (e *Engine) doAsyncCall(argc int) error {
	args, err := e.popArgs(argc)
	if err != nil {
		return err
	}
	callee, err := e.popOperand()
	if err != nil {
		return err
	}
	name, closure := calleeName(callee)
	if name == "" {
		return api.NewErrorf(api.UnresolvedFunction, "async call target is not callable (%s)", callee.Kind)
	}

	future := newFuture()
	worker := e.newWorker()

	fn, isUser := e.Program.Functions[name]
	if isUser && fn.Callable() {
		if err := worker.invokeUserFunction(fn, closure, args); err != nil {
			future.resolve(api.Value{}, err)
			e.pushOperand(api.Value{Kind: api.KindFuture, Ref: future})
			return nil
		}
		go func() {
			v, err := worker.Run(context.Background())
			future.resolve(v, err)
		}()
		e.pushOperand(api.Value{Kind: api.KindFuture, Ref: future})
		return nil
	}

	if hc, ok := e.Env.LookupHostCallable(name); ok {
		go func() {
			v, err := hc.Fn(args)
			if err != nil {
				err = api.WrapHostCallError(name, err)
			}
			future.resolve(v, err)
		}()
		e.pushOperand(api.Value{Kind: api.KindFuture, Ref: future})
		return nil
	}

	return api.NewErrorf(api.UnresolvedFunction, "unresolved async function %q", name)
}

// doFutureMethod implements the two method names §4.6 defines on a Future
// handle: Await (blocking) and Join (non-blocking poll, returning Null while
// still pending).
func (e *Engine) doFutureMethod(f *Future, name string) error {
	switch name {
	case "Await":
		v, err := f.Await(context.Background())
		if err != nil {
			return err
		}
		e.pushOperand(v)
		return nil
	case "Join":
		v, err, ok := f.TryJoin()
		if err != nil {
			return err
		}
		if !ok {
			e.pushOperand(api.Null())
			return nil
		}
		e.pushOperand(v)
		return nil
	default:
		return api.NewErrorf(api.UnresolvedMember, "no member %q on future", name)
	}
}
