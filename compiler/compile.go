package compiler

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/chazu/milan/vm"
)

// Options control code generation.
type Options struct {
	// LegacyAnd reproduces the historical && sequence, which pops the
	// left operand before the right operand is evaluated. The final
	// MULT then combines the right operand with whatever preceded the
	// expression on the stack. Only for byte-compatible output.
	LegacyAnd bool

	// Diagnostics receives each error as "Line N: message" when it is
	// reported. Nil collects them silently.
	Diagnostics io.Writer
}

// Key identifies the options that affect generated code.
func (o Options) Key() string {
	return fmt.Sprintf("legacy-and=%t", o.LegacyAnd)
}

// Result is the outcome of a compilation.
type Result struct {
	// Program is nil when any diagnostic was reported.
	Program *vm.Program

	// Variables lists variable names by slot, including on failure.
	Variables []string

	Diagnostics ErrorList
}

// Compile translates source into a program. On failure the returned
// error is an ErrorList and the result still carries the diagnostics and
// the variables seen before and after each error.
func Compile(source string, opts Options) (*Result, error) {
	p := NewParser(source, opts)
	prog, err := p.Parse()

	res := &Result{
		Program:     prog,
		Variables:   p.Variables().Names(),
		Diagnostics: p.Errors(),
	}
	if err != nil {
		return res, err
	}
	log.Debugf("compiled %d instructions, %d variables", prog.Len(), len(res.Variables))
	return res, nil
}

// CompileReader reads all of r and compiles it.
func CompileReader(r io.Reader, opts Options) (*Result, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("compiler: read source: %w", err)
	}
	return Compile(string(data), opts)
}

// CompileFile compiles the source file at path.
func CompileFile(path string, opts Options) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("compiler: cannot read %s: %w", path, err)
	}
	return Compile(string(data), opts)
}

// AsErrorList extracts compile diagnostics from an error returned by
// Compile. It returns nil for other errors.
func AsErrorList(err error) ErrorList {
	var list ErrorList
	if errors.As(err, &list) {
		return list
	}
	return nil
}
