package api

import "os"

// EngineConfig mirrors the teacher's functional-options-over-a-cloned-struct
// RuntimeConfig: a small, copyable options bag rather than a long
// constructor argument list (see internal/engine.Config, which this is
// translated into at LoadProgram time).
type EngineConfig struct {
	// OptimizationLevel is consumed only by the IR backend (internal/backend/ir),
	// 0-3 as described in §4.7; the dispatch engine ignores it.
	OptimizationLevel int

	// Debug enables the OURO_DEBUG trace path even when the environment
	// variable is unset.
	Debug bool

	// CallPad overrides every callee's declared local count with a fixed pad
	// size when > 0. Leave at 0 in production; see DESIGN.md for why the
	// per-function LocalCount is the default.
	CallPad int

	DefaultParallelism int
}

// DefaultEngineConfig returns the zero-value-safe default, reading
// OURO_DEBUG from the process environment the way internal/obslog.FromEnv
// does.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Debug:              os.Getenv("OURO_DEBUG") == "true",
		DefaultParallelism: 4,
	}
}

func (c EngineConfig) clone() EngineConfig { return c }

// WithOptimizationLevel returns a copy of c with OptimizationLevel set.
func (c EngineConfig) WithOptimizationLevel(level int) EngineConfig {
	c = c.clone()
	c.OptimizationLevel = level
	return c
}

// WithDebug returns a copy of c with Debug set.
func (c EngineConfig) WithDebug(debug bool) EngineConfig {
	c = c.clone()
	c.Debug = debug
	return c
}
