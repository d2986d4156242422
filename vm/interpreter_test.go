package vm

import (
	"bytes"
	"context"
	"errors"
	"math"
	"strings"
	"testing"
)

func prog(code ...Instruction) *Program {
	return &Program{Code: code}
}

func ins(op Opcode, operand ...int) Instruction {
	in := Instruction{Op: op}
	if len(operand) > 0 {
		in.Operand = operand[0]
	}
	return in
}

func run(t *testing.T, p *Program, input string) (string, *Interpreter, error) {
	t.Helper()
	var out bytes.Buffer
	interp := NewInterpreter(strings.NewReader(input), &out)
	err := interp.Run(context.Background(), p)
	return out.String(), interp, err
}

func TestInterpreterArithmetic(t *testing.T) {
	tests := []struct {
		name string
		op   Opcode
		a, b int
		want string
	}{
		{"add", OpAdd, 2, 3, "5\n"},
		{"sub", OpSub, 2, 3, "-1\n"},
		{"mult", OpMult, 4, 3, "12\n"},
		{"div", OpDiv, 7, 2, "3\n"},
		{"div negative truncates", OpDiv, -7, 2, "-3\n"},
	}
	for _, tt := range tests {
		p := prog(ins(OpPush, tt.a), ins(OpPush, tt.b), ins(tt.op), ins(OpPrint), ins(OpStop))
		out, _, err := run(t, p, "")
		if err != nil {
			t.Errorf("%s: %v", tt.name, err)
			continue
		}
		if out != tt.want {
			t.Errorf("%s: output = %q, want %q", tt.name, out, tt.want)
		}
	}
}

func TestInterpreterInvertAndCompare(t *testing.T) {
	p := prog(
		ins(OpPush, 5), ins(OpInvert), ins(OpPrint),
		ins(OpPush, 1), ins(OpPush, 2), ins(OpCompare, int(CmpLT)), ins(OpPrint),
		ins(OpPush, 1), ins(OpPush, 2), ins(OpCompare, int(CmpGE)), ins(OpPrint),
		ins(OpStop),
	)
	out, _, err := run(t, p, "")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out != "-5\n1\n0\n" {
		t.Errorf("output = %q", out)
	}
}

func TestInterpreterVariables(t *testing.T) {
	p := &Program{
		Code: []Instruction{
			ins(OpPush, 42), ins(OpStore, 1),
			ins(OpLoad, 1), ins(OpPrint),
			ins(OpStop),
		},
		Variables: []string{"a", "b"},
	}
	out, interp, err := run(t, p, "")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out != "42\n" {
		t.Errorf("output = %q", out)
	}
	if vars := interp.Variables(); len(vars) != 2 || vars[1] != 42 {
		t.Errorf("variables = %v", vars)
	}
}

func TestInterpreterJumps(t *testing.T) {
	// 0: PUSH 0; 1: JUMP_NO 4; 2: PUSH 1; 3: PRINT; 4: PUSH 1; 5: JUMP_YES 8;
	// 6: PUSH 2; 7: PRINT; 8: PUSH 3; 9: PRINT; 10: STOP
	p := prog(
		ins(OpPush, 0), ins(OpJumpNo, 4), ins(OpPush, 1), ins(OpPrint),
		ins(OpPush, 1), ins(OpJumpYes, 8), ins(OpPush, 2), ins(OpPrint),
		ins(OpPush, 3), ins(OpPrint), ins(OpStop),
	)
	out, interp, err := run(t, p, "")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out != "3\n" {
		t.Errorf("output = %q, want %q", out, "3\n")
	}
	if len(interp.Stack()) != 0 {
		t.Errorf("stack not empty: %v", interp.Stack())
	}
}

func TestInterpreterInput(t *testing.T) {
	p := prog(ins(OpInput), ins(OpInput), ins(OpAdd), ins(OpPrint), ins(OpStop))
	out, _, err := run(t, p, "3\n  4\n")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out != "7\n" {
		t.Errorf("output = %q", out)
	}

	_, _, err = run(t, p, "3\n")
	if !errors.Is(err, ErrInputExhausted) {
		t.Errorf("err = %v, want ErrInputExhausted", err)
	}
}

func TestInterpreterDupPop(t *testing.T) {
	p := prog(ins(OpPush, 9), ins(OpDup), ins(OpAdd), ins(OpPush, 1), ins(OpPop), ins(OpPrint), ins(OpStop))
	out, _, err := run(t, p, "")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out != "18\n" {
		t.Errorf("output = %q", out)
	}
}

func TestInterpreterErrors(t *testing.T) {
	tests := []struct {
		name string
		p    *Program
		want error
		addr Address
	}{
		{"pop empty", prog(ins(OpPop)), ErrStackUnderflow, 0},
		{"add one operand", prog(ins(OpPush, 1), ins(OpAdd)), ErrStackUnderflow, 1},
		{"divide by zero", prog(ins(OpPush, 1), ins(OpPush, 0), ins(OpDiv)), ErrDivisionByZero, 2},
		{"jump out of range", prog(ins(OpJump, 99)), ErrJumpOutOfRange, 0},
		{"unknown opcode", prog(Instruction{Op: Opcode(0xEE)}), ErrInvalidOpcode, 0},
		{"bad slot", prog(ins(OpLoad, -1)), ErrInvalidVariable, 0},
		{"huge slot", prog(ins(OpPush, 1), ins(OpStore, math.MaxInt)), ErrInvalidVariable, 1},
	}
	for _, tt := range tests {
		_, _, err := run(t, tt.p, "")
		if !errors.Is(err, tt.want) {
			t.Errorf("%s: err = %v, want %v", tt.name, err, tt.want)
			continue
		}
		var rerr *RuntimeError
		if !errors.As(err, &rerr) {
			t.Errorf("%s: error is not a *RuntimeError", tt.name)
			continue
		}
		if rerr.Addr != tt.addr {
			t.Errorf("%s: address = %d, want %d", tt.name, rerr.Addr, tt.addr)
		}
	}
}

func TestInterpreterStepLimit(t *testing.T) {
	p := prog(ins(OpJump, 0))
	var out bytes.Buffer
	interp := NewInterpreter(strings.NewReader(""), &out)
	interp.MaxSteps = 100
	err := interp.Run(context.Background(), p)
	if !errors.Is(err, ErrStepLimit) {
		t.Fatalf("err = %v, want ErrStepLimit", err)
	}
	if interp.Steps() != 100 {
		t.Errorf("steps = %d, want 100", interp.Steps())
	}
}

func TestInterpreterCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	interp := NewInterpreter(strings.NewReader(""), &bytes.Buffer{})
	err := interp.Run(ctx, prog(ins(OpJump, 0)))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestInterpreterRunsOffEnd(t *testing.T) {
	out, _, err := run(t, prog(ins(OpPush, 1), ins(OpPrint)), "")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out != "1\n" {
		t.Errorf("output = %q", out)
	}
}
