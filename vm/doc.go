// Package vm implements the Milan stack machine.
//
// This package contains:
//   - The instruction set and its metadata
//   - Builder, the append-only instruction log used by the compiler,
//     with reserve/patch support for forward jumps
//   - Program listings (the textual loader format) and CBOR images
//   - Interpreter, which executes a Program over an integer stack
//
// All values are machine integers. Booleans are encoded as 0 and 1.
package vm
