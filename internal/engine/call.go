package engine

import (
	"fmt"

	"github.com/ouroboros-lang/ourovm/api"
	"github.com/ouroboros-lang/ourovm/internal/program"
	"github.com/ouroboros-lang/ourovm/internal/runtimeenv"
)

// calleeName extracts the callable's name from the Value popped for a Call
// or CallMethod: a bare string, a HostCallable reference, or a Closure
// (whose captured values are spliced in as a hidden locals prefix).
func calleeName(v api.Value) (name string, closure *api.Closure) {
	switch v.Kind {
	case api.KindString:
		return v.Str, nil
	case api.KindHostCallable:
		return v.Str, nil
	case api.KindFunction:
		c := v.Ref.(*api.Closure)
		return c.FuncName, c
	default:
		return "", nil
	}
}

// doCall implements the §4.4 call-resolution protocol for a plain Call: pop
// argc arguments (restoring source order), then the callee descriptor beneath
// them, then resolve user function first, host callable second, else
// UnresolvedFunction.
func (e *Engine) doCall(argc int) error {
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
		return api.NewErrorf(api.UnresolvedFunction, "call target is not callable (%s)", callee.Kind)
	}
	return e.resolveAndInvoke(name, closure, args)
}

// popArgs pops argc values and returns them in the order they were pushed.
func (e *Engine) popArgs(argc int) ([]api.Value, error) {
	if argc < 0 || argc > len(e.Operands) {
		return nil, api.NewError(api.StackUnderflow, "call argument count exceeds operand stack depth")
	}
	args := make([]api.Value, argc)
	for i := argc - 1; i >= 0; i-- {
		v, err := e.popOperand()
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	return args, nil
}

// resolveAndInvoke implements §4.4's call resolution: user function table
// first, then the host-callable bare-then-qualified lookup, else
// UnresolvedFunction. A symbol whose function record is not Callable()
// (§9's ResolveUserFunction note, StartOffset == -1) is treated the same as
// absent.
func (e *Engine) resolveAndInvoke(name string, closure *api.Closure, args []api.Value) error {
	if fn, ok := e.Program.Functions[name]; ok && fn.Callable() {
		if fn.IsGenerator {
			return e.startGenerator(fn, closure, args)
		}
		return e.invokeUserFunction(fn, closure, args)
	}
	if hc, ok := e.Env.LookupHostCallable(name); ok {
		return e.invokeHostCallable(hc.Fn, name, hc.ReturnKind, args)
	}
	return api.NewErrorf(api.UnresolvedFunction, "unresolved function %q", name)

}

// CallEntry pushes the initial frame for a program's entry-point function,
// the root-level equivalent of a Call opcode with no caller frame, passing
// args as its arguments (§6 "load and run the program's declared entry point").
func (e *Engine) CallEntry(fn *program.Function, args []api.Value) error {
	return e.invokeUserFunction(fn, nil, args)
}

// invokeUserFunction pushes a new frame for fn, extends locals with the
// closure's captured values (as a hidden prefix), then the call arguments,
// then a pad of uninitialized locals sized by fn's own declared LocalCount
// (§9's resolution of the fixed-10-pad open question — never a constant).
func (e *Engine) invokeUserFunction(fn *program.Function, closure *api.Closure, args []api.Value) error {
	locals := e.Locals
	base := len(locals)
	if closure != nil {
		locals = append(locals, closure.Captured...)
	}
	locals = append(locals, args...)
	pad := fn.LocalCount
	if e.Cfg.CallPad > 0 {
		pad = e.Cfg.CallPad
	}
	want := base + len(args)
	if closure != nil {
		want += len(closure.Captured)
	}
	want += pad
	for len(locals) < want {
		locals = append(locals, api.Null())
	}
	e.Locals = locals

	frame := &Frame{ReturnAddress: e.PC, LocalsBase: base, Function: fn}
	e.Frames = append(e.Frames, frame)
	e.PC = fn.StartOffset
	return nil
}

// invokeHostCallable runs a host callable synchronously, converting a
// reported failure into a HostCallError per §7, and pushes the result only
// when the declared return kind is non-void.
func (e *Engine) invokeHostCallable(fn runtimeenv.HostFunc, name string, kind runtimeenv.ReturnKind, args []api.Value) error {
	result, err := fn(args)
	if err != nil {
		return api.WrapHostCallError(name, err)
	}
	if kind != runtimeenv.ReturnVoid {
		e.pushOperand(result)
	}
	return nil
}

// doReturn implements Return: pop the operand (if present), pop the frame,
// truncate locals to LocalsBase, restore pc, and push the operand back. When
// the popped frame was the outermost one (or the call stack was already
// empty) it halts the loop and the value becomes the program's result.
func (e *Engine) doReturn(hasValue bool) (halted bool, result api.Value, err error) {
	var v api.Value
	if hasValue {
		v, err = e.popOperand()
		if err != nil {
			return false, api.Value{}, err
		}
	} else {
		v = api.Null()
	}
	if len(e.Frames) == 0 {
		e.Running = false
		return true, v, nil
	}
	frame := e.Frames[len(e.Frames)-1]
	e.Frames = e.Frames[:len(e.Frames)-1]
	e.Locals = e.Locals[:frame.LocalsBase]
	e.PC = frame.ReturnAddress
	if len(e.Frames) == 0 {
		// The popped frame was the outermost one (the entry point CallEntry
		// pushed): its return value is the program's result.
		e.Running = false
		return true, v, nil
	}
	e.pushOperand(v)
	return false, api.Value{}, nil
}

// doNew implements New(type, argc): allocate an Object with one Null-valued
// field per declared field, then — if the type registry provides a
// host-qualified constructor "<Type>.<Type>" — invoke it for side effects,
// mirroring the bare-then-qualified host dispatch rule used everywhere else.
func (e *Engine) doNew(typeName string, argc int) error {
	args, err := e.popArgs(argc)
	if err != nil {
		return err
	}
	td, ok := e.Env.LookupType(typeName)
	obj := &api.Object{TypeName: typeName, Fields: map[string]api.Value{}}
	if ok {
		for _, f := range td.Fields {
			obj.Fields[f] = api.Null()
		}
	}
	ctorName := fmt.Sprintf("%s.%s", typeName, typeName)
	if hc, ok := e.Env.LookupHostCallable(ctorName); ok {
		full := append([]api.Value{{Kind: api.KindObject, Ref: obj}}, args...)
		if _, err := hc.Fn(full); err != nil {
			return api.WrapHostCallError(ctorName, err)
		}
	}
	e.pushOperand(api.Value{Kind: api.KindObject, Ref: obj})
	return nil
}

// doCallMethod implements CallMethod(name, argc): pop argc args, then the
// receiver beneath them, resolve name against the receiver's type descriptor (method member)
// first, then the bare-then-qualified host table, else UnresolvedMember.
func (e *Engine) doCallMethod(name string, argc int) error {
	args, err := e.popArgs(argc)
	if err != nil {
		return err
	}
	recv, err := e.popOperand()
	if err != nil {
		return err
	}
	if recv.Kind == api.KindNull {
		return api.NewErrorf(api.NullReference, "method %q called on null", name)
	}
	if recv.Kind == api.KindFuture {
		return e.doFutureMethod(recv.Ref.(*Future), name)
	}
	if recv.Kind == api.KindObject || recv.Kind == api.KindException {
		obj := recv.Ref.(*api.Object)
		if td, ok := e.Env.LookupType(obj.TypeName); ok {
			if m, ok := td.Members[name]; ok && m.Kind == program.MemberMethod {
				if fn, ok := e.Program.Functions[m.FuncName]; ok && fn.Callable() {
					full := append([]api.Value{recv}, args...)
					return e.invokeUserFunction(fn, &api.Closure{}, full)
				}
			}
		}
		qualified := fmt.Sprintf("%s.%s", obj.TypeName, name)
		if hc, ok := e.Env.LookupHostCallable(qualified); ok {
			full := append([]api.Value{recv}, args...)
			return e.invokeHostCallable(hc.Fn, qualified, hc.ReturnKind, full)
		}
	}
	if hc, ok := e.Env.LookupHostCallable(name); ok {
		full := append([]api.Value{recv}, args...)
		return e.invokeHostCallable(hc.Fn, name, hc.ReturnKind, full)
	}
	return api.NewErrorf(api.UnresolvedMember, "no member %q on %s", name, recv.Kind)
}
