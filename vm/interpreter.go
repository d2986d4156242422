package vm

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("milan.vm")

// Runtime failure causes. A RuntimeError wraps exactly one of these.
var (
	ErrStackUnderflow  = errors.New("stack underflow")
	ErrDivisionByZero  = errors.New("division by zero")
	ErrJumpOutOfRange  = errors.New("jump target out of range")
	ErrInvalidOpcode   = errors.New("invalid opcode")
	ErrStepLimit       = errors.New("step limit exceeded")
	ErrInputExhausted  = errors.New("input exhausted")
	ErrInvalidOperand  = errors.New("invalid operand")
	ErrInvalidVariable = errors.New("variable slot out of range")
)

// RuntimeError reports where execution failed.
type RuntimeError struct {
	Addr Address
	Op   Opcode
	Err  error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("vm: address %d (%s): %v", e.Addr, e.Op, e.Err)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// ---------------------------------------------------------------------------
// Interpreter
// ---------------------------------------------------------------------------

// Interpreter executes programs on an integer operand stack.
type Interpreter struct {
	// MaxSteps bounds the number of executed instructions; 0 disables
	// the limit.
	MaxSteps int

	// Trace logs every executed instruction at debug level.
	Trace bool

	in  *bufio.Reader
	out io.Writer

	stack []int
	vars  []int
	steps int
}

// NewInterpreter creates an interpreter reading INPUT values from in and
// writing PRINT values to out. Nil arguments default to stdin/stdout.
func NewInterpreter(in io.Reader, out io.Writer) *Interpreter {
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}
	return &Interpreter{
		in:    bufio.NewReader(in),
		out:   out,
		stack: make([]int, 0, 64),
	}
}

// SetIO replaces the input and output streams for subsequent runs.
func (i *Interpreter) SetIO(in io.Reader, out io.Writer) {
	i.in = bufio.NewReader(in)
	i.out = out
}

// Steps returns how many instructions the last run executed.
func (i *Interpreter) Steps() int {
	return i.steps
}

// Variables returns the variable slots as left by the last run.
func (i *Interpreter) Variables() []int {
	return i.vars
}

// Stack returns the operand stack as left by the last run, bottom first.
func (i *Interpreter) Stack() []int {
	return i.stack
}

func (i *Interpreter) push(v int) {
	i.stack = append(i.stack, v)
}

func (i *Interpreter) pop() (int, error) {
	if len(i.stack) == 0 {
		return 0, ErrStackUnderflow
	}
	v := i.stack[len(i.stack)-1]
	i.stack = i.stack[:len(i.stack)-1]
	return v, nil
}

func (i *Interpreter) pop2() (int, int, error) {
	b, err := i.pop()
	if err != nil {
		return 0, 0, err
	}
	a, err := i.pop()
	if err != nil {
		return 0, 0, err
	}
	return a, b, nil
}

// Run executes p until STOP, the end of the code, an error, or ctx is
// cancelled.
func (i *Interpreter) Run(ctx context.Context, p *Program) error {
	i.stack = i.stack[:0]
	i.vars = make([]int, p.NumSlots())
	i.steps = 0

	ip := 0
	for ip < len(p.Code) {
		if i.steps&0xFF == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if i.MaxSteps > 0 && i.steps >= i.MaxSteps {
			return &RuntimeError{Addr: Address(ip), Op: p.Code[ip].Op, Err: ErrStepLimit}
		}
		i.steps++

		in := p.Code[ip]
		if i.Trace {
			log.Debugf("%4d  %-12s stack=%v", ip, in, i.stack)
		}
		next, halt, err := i.step(p, ip, in)
		if err != nil {
			return &RuntimeError{Addr: Address(ip), Op: in.Op, Err: err}
		}
		if halt {
			return nil
		}
		ip = next
	}
	return nil
}

// step executes one instruction and returns the next address.
func (i *Interpreter) step(p *Program, ip int, in Instruction) (int, bool, error) {
	next := ip + 1

	switch in.Op {
	case OpStop:
		return next, true, nil

	// --- Stack ---
	case OpPush:
		i.push(in.Operand)

	case OpPop:
		if _, err := i.pop(); err != nil {
			return 0, false, err
		}

	case OpDup:
		if len(i.stack) == 0 {
			return 0, false, ErrStackUnderflow
		}
		i.push(i.stack[len(i.stack)-1])

	// --- Variables ---
	case OpLoad:
		if in.Operand < 0 || in.Operand >= len(i.vars) {
			return 0, false, ErrInvalidVariable
		}
		i.push(i.vars[in.Operand])

	case OpStore:
		if in.Operand < 0 || in.Operand >= len(i.vars) {
			return 0, false, ErrInvalidVariable
		}
		v, err := i.pop()
		if err != nil {
			return 0, false, err
		}
		i.vars[in.Operand] = v

	// --- Arithmetic ---
	case OpAdd, OpSub, OpMult, OpDiv:
		a, b, err := i.pop2()
		if err != nil {
			return 0, false, err
		}
		switch in.Op {
		case OpAdd:
			i.push(a + b)
		case OpSub:
			i.push(a - b)
		case OpMult:
			i.push(a * b)
		case OpDiv:
			if b == 0 {
				return 0, false, ErrDivisionByZero
			}
			i.push(a / b)
		}

	case OpInvert:
		v, err := i.pop()
		if err != nil {
			return 0, false, err
		}
		i.push(-v)

	case OpCompare:
		a, b, err := i.pop2()
		if err != nil {
			return 0, false, err
		}
		ok, err := Cmp(in.Operand).Apply(a, b)
		if err != nil {
			return 0, false, fmt.Errorf("%w: %v", ErrInvalidOperand, err)
		}
		if ok {
			i.push(1)
		} else {
			i.push(0)
		}

	// --- Control flow ---
	case OpJump:
		return i.target(p, in)

	case OpJumpNo, OpJumpYes:
		v, err := i.pop()
		if err != nil {
			return 0, false, err
		}
		if (in.Op == OpJumpNo) == (v == 0) {
			return i.target(p, in)
		}

	// --- I/O ---
	case OpInput:
		var v int
		if _, err := fmt.Fscan(i.in, &v); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return 0, false, ErrInputExhausted
			}
			return 0, false, fmt.Errorf("read input: %w", err)
		}
		i.push(v)

	case OpPrint:
		v, err := i.pop()
		if err != nil {
			return 0, false, err
		}
		if _, err := fmt.Fprintln(i.out, v); err != nil {
			return 0, false, fmt.Errorf("write output: %w", err)
		}

	default:
		return 0, false, ErrInvalidOpcode
	}

	return next, false, nil
}

func (i *Interpreter) target(p *Program, in Instruction) (int, bool, error) {
	if in.Operand < 0 || in.Operand > len(p.Code) {
		return 0, false, ErrJumpOutOfRange
	}
	return in.Operand, false, nil
}
