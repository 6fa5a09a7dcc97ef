package engine

import (
	"github.com/ouroboros-lang/ourovm/api"
	"github.com/ouroboros-lang/ourovm/internal/program"
)

// doLoadMember implements LoadMember/LoadMemberNullSafe: a plain field read
// on an Object/Exception, falling back to a declared property getter method.
// nullSafe turns a Null receiver into a pushed Null instead of NullReference
// (the "?." operator from the glossary).
func (e *Engine) doLoadMember(name string, nullSafe bool) error {
	recv, err := e.popOperand()
	if err != nil {
		return err
	}
	if recv.Kind == api.KindNull {
		if nullSafe {
			e.pushOperand(api.Null())
			return nil
		}
		return api.NewErrorf(api.NullReference, "member %q read on null", name)
	}
	if recv.Kind != api.KindObject && recv.Kind != api.KindException {
		return api.NewErrorf(api.TypeMismatch, "%s has no member %q", recv.Kind, name)
	}
	obj := recv.Ref.(*api.Object)
	if v, ok := obj.Fields[name]; ok {
		e.pushOperand(v)
		return nil
	}
	if td, ok := e.Env.LookupType(obj.TypeName); ok {
		if m, ok := td.Members[name]; ok && m.Kind == program.MemberPropertyGet {
			if fn, ok := e.Program.Functions[m.FuncName]; ok && fn.Callable() {
				return e.invokeUserFunction(fn, &api.Closure{}, []api.Value{recv})
			}
		}
	}
	return api.NewErrorf(api.UnresolvedMember, "no field %q on %s", name, obj.TypeName)
}

// doStoreMember implements StoreMember: a plain field write, falling back to
// a declared property setter method.
func (e *Engine) doStoreMember(name string) error {
	val, err := e.popOperand()
	if err != nil {
		return err
	}
	recv, err := e.popOperand()
	if err != nil {
		return err
	}
	if recv.Kind == api.KindNull {
		return api.NewErrorf(api.NullReference, "member %q assigned on null", name)
	}
	if recv.Kind != api.KindObject && recv.Kind != api.KindException {
		return api.NewErrorf(api.TypeMismatch, "%s has no member %q", recv.Kind, name)
	}
	obj := recv.Ref.(*api.Object)
	if td, ok := e.Env.LookupType(obj.TypeName); ok {
		if m, ok := td.Members[name]; ok && m.Kind == program.MemberPropertySet {
			if fn, ok := e.Program.Functions[m.FuncName]; ok && fn.Callable() {
				return e.invokeUserFunction(fn, &api.Closure{}, []api.Value{recv, val})
			}
		}
	}
	obj.Fields[name] = val
	return nil
}
