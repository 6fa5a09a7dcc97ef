package runtimeenv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ouroboros-lang/ourovm/api"
	"github.com/ouroboros-lang/ourovm/internal/program"
)

func TestLookupHostCallableBareThenQualified(t *testing.T) {
	env := New(&program.Program{})
	called := ""
	env.RegisterHostCallable("Point.move", 0, func(args []api.Value) (api.Value, error) {
		called = "qualified"
		return api.Null(), nil
	}, ReturnVoid)

	hc, ok := env.LookupHostCallable("move")
	require.True(t, ok)
	_, _ = hc.Fn(nil)
	assert.Equal(t, "qualified", called, "a bare name must resolve to a qualified entry ending in \".move\"")
}

func TestLookupHostCallableExactMatchWins(t *testing.T) {
	env := New(&program.Program{})
	env.RegisterHostCallable("print", 1, func(args []api.Value) (api.Value, error) { return api.String("bare"), nil }, ReturnValue)
	env.RegisterHostCallable("Console.print", 1, func(args []api.Value) (api.Value, error) { return api.String("qualified"), nil }, ReturnValue)

	hc, ok := env.LookupHostCallable("print")
	require.True(t, ok)
	v, err := hc.Fn(nil)
	require.NoError(t, err)
	assert.Equal(t, api.String("bare"), v, "an exact match must win over a qualified-suffix match")
}

func TestLookupHostCallableMissing(t *testing.T) {
	env := New(&program.Program{})
	_, ok := env.LookupHostCallable("nothing")
	assert.False(t, ok)
}

func TestTypeRegistryRegisterAndLookup(t *testing.T) {
	env := New(&program.Program{})
	td := &program.TypeDescriptor{Name: "Widget"}
	env.RegisterType("Widget", td)
	got, ok := env.LookupType("Widget")
	require.True(t, ok)
	assert.Same(t, td, got)

	_, ok = env.LookupType("Missing")
	assert.False(t, ok)
}

func TestTypeRegistrySeededFromProgram(t *testing.T) {
	p := &program.Program{Types: map[string]*program.TypeDescriptor{
		"Gadget": {Name: "Gadget"},
	}}
	env := New(p)
	_, ok := env.LookupType("Gadget")
	assert.True(t, ok)
}

func TestMarkImportedOnlyOnce(t *testing.T) {
	env := New(&program.Program{})
	assert.True(t, env.MarkImported("mod/a"))
	assert.False(t, env.MarkImported("mod/a"))
	assert.True(t, env.Imported("mod/a"))
	assert.False(t, env.Imported("mod/b"))
}

func TestMonitorEnterExitBasic(t *testing.T) {
	env := New(&program.Program{})
	env.MonitorEnter("x", "a")
	env.MonitorExit("x", "a")
	// a second, unrelated owner does not observe a held lock after release
	released := make(chan struct{})
	go func() {
		env.MonitorEnter("x", "b")
		close(released)
	}()
	<-released
	env.MonitorExit("x", "b")
}
