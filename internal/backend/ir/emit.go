package ir

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Emit writes mod to dest, choosing a format from its extension. ".ll" (or
// no extension) writes the textual IR this package produces directly.
// Anything else is handed to an external tool: ".bc" to llvm-as, ".s" to
// llc, ".o" to llc -filetype=obj, and any other extension to clang. Actual machine-code generation and linking
// is an explicit non-goal (§1's "thin external step"), so this function's
// job past textual IR is locating a real toolchain on PATH and shelling out
// to it, not reimplementing a code generator.
func Emit(mod *Module, dest string) error {
	ext := strings.ToLower(filepath.Ext(dest))
	if ext == "" || ext == ".ll" {
		return os.WriteFile(dest, []byte(mod.String()), 0o644)
	}

	tmp, err := os.CreateTemp("", "ouroboros-*.ll")
	if err != nil {
		return fmt.Errorf("emit: staging temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(mod.String()); err != nil {
		tmp.Close()
		return fmt.Errorf("emit: writing staged IR: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("emit: closing staged IR: %w", err)
	}

	switch ext {
	case ".bc":
		return runTool("llvm-as", tmp.Name(), "-o", dest)
	case ".s":
		return runTool("llc", tmp.Name(), "-o", dest)
	case ".o":
		return runTool("llc", "-filetype=obj", tmp.Name(), "-o", dest)
	default:
		return runTool("clang", tmp.Name(), "-o", dest)
	}
}

func runTool(name string, args ...string) error {
	path, err := exec.LookPath(name)
	if err != nil {
		return fmt.Errorf("emit: %s not found on PATH (machine-code generation is an external step; install an LLVM toolchain to produce this output format): %w", name, err)
	}
	cmd := exec.Command(path, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
