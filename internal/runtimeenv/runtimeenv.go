// Package runtimeenv implements the Runtime Environment (§4.3): the
// process-wide (or, for an embedded VM, program-wide) table of host
// callables, the type registry, and the import cache, shared by reference
// across an engine and every async worker engine it spawns.
package runtimeenv

import (
	"strings"
	"sync"

	mapset "github.com/deckarep/golang-set"

	"github.com/ouroboros-lang/ourovm/api"
	"github.com/ouroboros-lang/ourovm/internal/program"
)

// ReturnKind tells the call-resolution protocol whether a host callable's
// result should be pushed onto the operand stack.
type ReturnKind byte

const (
	ReturnVoid ReturnKind = iota
	ReturnValue
)

// HostFunc is a host-provided implementation, addressable from bytecode by
// name (glossary: "Host callable").
type HostFunc func(args []api.Value) (api.Value, error)

// HostCallable is one entry in the host callable table.
type HostCallable struct {
	Name       string
	Arity      int
	Fn         HostFunc
	ReturnKind ReturnKind
}

// Environment is the shared, program-wide runtime state described by §4.3.
// It is created once per loaded Program and handed by reference to the
// engine and to every worker engine AsyncCall spawns, so globals and the
// host-callable/type tables are genuinely shared, not copied.
type Environment struct {
	mu sync.RWMutex

	Globals []api.Value

	hostCallables map[string]*HostCallable
	typeRegistry  map[string]*program.TypeDescriptor
	importCache   mapset.Set

	// monitors backs MonitorEnter/MonitorExit (§5): a reentrant mutex keyed
	// by the identity of the locked Value's Ref.
	monitors   map[any]*monitor
	monitorsMu sync.Mutex
}

// New builds an Environment for a freshly loaded program.
func New(p *program.Program) *Environment {
	env := &Environment{
		Globals:       p.NewGlobals(),
		hostCallables: map[string]*HostCallable{},
		typeRegistry:  map[string]*program.TypeDescriptor{},
		importCache:   mapset.NewSet(),
		monitors:      map[any]*monitor{},
	}
	for name, td := range p.Types {
		env.typeRegistry[name] = td
	}
	return env
}

// RegisterHostCallable implements register_host_callable from §6. Callables
// may be registered under their bare name or a type-qualified form such as
// "<type>.<member>"; both are recorded verbatim, with suffix-matching
// performed at lookup time.
func (e *Environment) RegisterHostCallable(name string, arity int, fn HostFunc, kind ReturnKind) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hostCallables[name] = &HostCallable{Name: name, Arity: arity, Fn: fn, ReturnKind: kind}
}

// RegisterType implements register_type from §6.
func (e *Environment) RegisterType(name string, desc *program.TypeDescriptor) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.typeRegistry[name] = desc
}

// LookupType returns the descriptor registered for name, if any.
func (e *Environment) LookupType(name string) (*program.TypeDescriptor, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.typeRegistry[name]
	return t, ok
}

// LookupHostCallable implements the bare-then-qualified lookup rule from
// §4.3: try an exact match first, then scan for any entry whose name ends in
// ".<name>". This order is observable by programs and must not change.
func (e *Environment) LookupHostCallable(name string) (*HostCallable, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if hc, ok := e.hostCallables[name]; ok {
		return hc, true
	}
	suffix := "." + name
	for qualified, hc := range e.hostCallables {
		if strings.HasSuffix(qualified, suffix) {
			return hc, true
		}
	}
	return nil, false
}

// MarkImported records name as loaded, for Import's "set of loaded module
// names" (§4.3). Returns true if name was newly added.
func (e *Environment) MarkImported(name string) bool {
	if e.importCache.Contains(name) {
		return false
	}
	e.importCache.Add(name)
	return true
}

// Imported reports whether name has already been imported.
func (e *Environment) Imported(name string) bool { return e.importCache.Contains(name) }

// monitor is a reentrant mutex identified by the owning engine (not the Go
// goroutine), since the engine's dispatch loop is itself single-threaded per
// instance: whichever *Engine currently holds the monitor is its owner.
type monitor struct {
	mu    sync.Mutex
	owner any
	count int
	cond  *sync.Cond
}

// MonitorEnter acquires the reentrant monitor guarding ref on behalf of
// owner (the calling engine). Re-entering from the same owner increments the
// hold count instead of blocking.
func (e *Environment) MonitorEnter(ref any, owner any) {
	e.monitorsMu.Lock()
	m, ok := e.monitors[ref]
	if !ok {
		m = &monitor{}
		m.cond = sync.NewCond(&m.mu)
		e.monitors[ref] = m
	}
	e.monitorsMu.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	for m.owner != nil && m.owner != owner {
		m.cond.Wait()
	}
	m.owner = owner
	m.count++
}

// MonitorExit releases one level of ref's reentrant monitor held by owner.
func (e *Environment) MonitorExit(ref any, owner any) {
	e.monitorsMu.Lock()
	m, ok := e.monitors[ref]
	e.monitorsMu.Unlock()
	if !ok {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.owner != owner {
		return
	}
	m.count--
	if m.count <= 0 {
		m.owner = nil
		m.count = 0
		m.cond.Broadcast()
	}
}
