package vm

import (
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// Opcode metadata tests
// ---------------------------------------------------------------------------

func TestOpcodeInfo(t *testing.T) {
	tests := []struct {
		op         Opcode
		name       string
		hasOperand bool
	}{
		{OpStop, "STOP", false},
		{OpPush, "PUSH", true},
		{OpPop, "POP", false},
		{OpDup, "DUP", false},
		{OpLoad, "LOAD", true},
		{OpStore, "STORE", true},
		{OpAdd, "ADD", false},
		{OpSub, "SUB", false},
		{OpMult, "MULT", false},
		{OpDiv, "DIV", false},
		{OpInvert, "INVERT", false},
		{OpCompare, "COMPARE", true},
		{OpJump, "JUMP", true},
		{OpJumpNo, "JUMP_NO", true},
		{OpJumpYes, "JUMP_YES", true},
		{OpInput, "INPUT", false},
		{OpPrint, "PRINT", false},
	}

	for _, tt := range tests {
		info := tt.op.Info()
		if info.Name != tt.name {
			t.Errorf("%s: Name = %q, want %q", tt.op, info.Name, tt.name)
		}
		if info.HasOperand != tt.hasOperand {
			t.Errorf("%s: HasOperand = %v, want %v", tt.op, info.HasOperand, tt.hasOperand)
		}
		back, ok := LookupOpcode(tt.name)
		if !ok || back != tt.op {
			t.Errorf("LookupOpcode(%q) = %v, %v", tt.name, back, ok)
		}
	}
}

func TestOpcodeUnknown(t *testing.T) {
	op := Opcode(0xEE)
	if op.Valid() {
		t.Error("0xEE should not be valid")
	}
	if !strings.HasPrefix(op.String(), "UNKNOWN_") {
		t.Errorf("String() = %q, want UNKNOWN_ prefix", op.String())
	}
}

func TestCmpApply(t *testing.T) {
	tests := []struct {
		cmp  Cmp
		a, b int
		want bool
	}{
		{CmpEQ, 1, 1, true},
		{CmpEQ, 1, 2, false},
		{CmpNE, 1, 2, true},
		{CmpLT, 1, 2, true},
		{CmpLT, 2, 2, false},
		{CmpGT, 3, 2, true},
		{CmpLE, 2, 2, true},
		{CmpGE, 1, 2, false},
	}
	for _, tt := range tests {
		got, err := tt.cmp.Apply(tt.a, tt.b)
		if err != nil {
			t.Fatalf("%d %s %d: %v", tt.a, tt.cmp, tt.b, err)
		}
		if got != tt.want {
			t.Errorf("%d %s %d = %v, want %v", tt.a, tt.cmp, tt.b, got, tt.want)
		}
	}
	if _, err := Cmp(9).Apply(0, 0); err == nil {
		t.Error("expected error for unknown comparison kind")
	}
}

func TestCmpEncoding(t *testing.T) {
	// The operand values are part of the instruction set contract.
	want := map[Cmp]int{CmpEQ: 0, CmpNE: 1, CmpLT: 2, CmpGT: 3, CmpLE: 4, CmpGE: 5}
	for c, v := range want {
		if int(c) != v {
			t.Errorf("%s = %d, want %d", c, int(c), v)
		}
	}
}

// ---------------------------------------------------------------------------
// Builder tests
// ---------------------------------------------------------------------------

func TestBuilderEmitAddresses(t *testing.T) {
	b := NewBuilder()
	if b.Here() != 0 {
		t.Fatalf("Here() = %d, want 0", b.Here())
	}
	if a := b.EmitArg(OpPush, 7); a != 0 {
		t.Errorf("first address = %d, want 0", a)
	}
	if a := b.Emit(OpPrint); a != 1 {
		t.Errorf("second address = %d, want 1", a)
	}
	if b.Here() != 2 {
		t.Errorf("Here() = %d, want 2", b.Here())
	}
}

func TestBuilderReserveAndPatch(t *testing.T) {
	b := NewBuilder()
	b.EmitArg(OpPush, 0)
	slot := b.Reserve()
	b.EmitArg(OpPush, 1)
	b.Emit(OpPrint)
	b.PatchJump(slot, OpJumpNo, b.Here())
	b.Emit(OpStop)

	if slot.Address() != 1 {
		t.Errorf("slot address = %d, want 1", slot.Address())
	}

	p, err := b.Finalize(nil)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	got := p.Code[1]
	if got.Op != OpJumpNo || got.Operand != 4 {
		t.Errorf("patched instruction = %v, want JUMP_NO 4", got)
	}
}

func TestBuilderFinalizeRejectsUnpatchedSlot(t *testing.T) {
	b := NewBuilder()
	b.Reserve()
	b.Emit(OpStop)

	if _, err := b.Finalize(nil); err == nil {
		t.Fatal("expected error for unpatched slot")
	}
	if pending := b.Pending(); len(pending) != 1 || pending[0] != 0 {
		t.Errorf("Pending() = %v, want [0]", pending)
	}
}

func expectPanic(t *testing.T, name string, fn func()) {
	t.Helper()
	defer func() {
		if r := recover(); r == nil {
			t.Errorf("%s: expected panic", name)
		}
	}()
	fn()
}

func TestBuilderPatchTwicePanics(t *testing.T) {
	b := NewBuilder()
	slot := b.Reserve()
	b.PatchJump(slot, OpJump, 0)
	expectPanic(t, "double patch", func() { b.PatchJump(slot, OpJump, 0) })
}

func TestBuilderPatchAfterFinalizePanics(t *testing.T) {
	b := NewBuilder()
	slot := b.Reserve()
	b.PatchJump(slot, OpJump, 1)
	if _, err := b.Finalize(nil); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	expectPanic(t, "emit after finalize", func() { b.Emit(OpStop) })
	expectPanic(t, "reserve after finalize", func() { b.Reserve() })
	expectPanic(t, "patch after finalize", func() { b.Patch(slot, OpPop, 0) })
}

func TestBuilderPatchNonReservedPanics(t *testing.T) {
	b := NewBuilder()
	b.Emit(OpStop)
	expectPanic(t, "zero slot", func() { b.Patch(Slot{}, OpPop, 0) })
}

func TestBuilderOperandChecks(t *testing.T) {
	b := NewBuilder()
	expectPanic(t, "PUSH without operand", func() { b.Emit(OpPush) })
	expectPanic(t, "ADD with operand", func() { b.EmitArg(OpAdd, 1) })
	expectPanic(t, "non-jump EmitJump", func() { b.EmitJump(OpPush, 0) })
}

func TestBuilderFinalizeCopiesVariables(t *testing.T) {
	b := NewBuilder()
	b.Emit(OpStop)
	vars := []string{"x", "y"}
	p, err := b.Finalize(vars)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	vars[0] = "changed"
	if p.Variables[0] != "x" {
		t.Errorf("Variables[0] = %q, want x", p.Variables[0])
	}
	if _, err := b.Finalize(nil); err == nil {
		t.Error("second Finalize should fail")
	}
}
