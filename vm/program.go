package vm

import "fmt"

// Address is an offset into a program's instruction stream.
type Address int

// Instruction is one opcode plus its operand (zero when unused).
type Instruction struct {
	Op      Opcode `cbor:"1,keyasint"`
	Operand int    `cbor:"2,keyasint"`
}

func (in Instruction) String() string {
	if in.Op.HasOperand() {
		return fmt.Sprintf("%s %d", in.Op, in.Operand)
	}
	return in.Op.String()
}

// MaxSlots bounds the variable slots a program may address.
const MaxSlots = 1 << 16

// Program is a finalized instruction stream.
type Program struct {
	Code []Instruction

	// Variables holds variable names indexed by slot.
	Variables []string
}

// Len returns the number of instructions.
func (p *Program) Len() int {
	return len(p.Code)
}

// NumSlots returns how many variable slots the program needs: the size
// of its variable table, or more if an instruction addresses a higher
// slot (programs read back from a listing carry no names). Slots at or
// above MaxSlots are not counted; executing them fails.
func (p *Program) NumSlots() int {
	n := len(p.Variables)
	for _, in := range p.Code {
		if (in.Op == OpLoad || in.Op == OpStore) && in.Operand >= n && in.Operand < MaxSlots {
			n = in.Operand + 1
		}
	}
	return n
}

// Validate checks that every opcode is known, every jump lands inside
// the program and every variable slot is in range. A program with named
// variables may only address those; one without names is bounded by
// MaxSlots.
func (p *Program) Validate() error {
	slots := MaxSlots
	if len(p.Variables) > 0 {
		slots = len(p.Variables)
	}
	for addr, in := range p.Code {
		info, ok := opcodeTable[in.Op]
		if !ok {
			return fmt.Errorf("vm: address %d: invalid opcode 0x%02X", addr, byte(in.Op))
		}
		switch {
		case info.IsJump:
			if in.Operand < 0 || in.Operand > len(p.Code) {
				return fmt.Errorf("vm: address %d: jump target %d out of range", addr, in.Operand)
			}
		case in.Op == OpLoad || in.Op == OpStore:
			if in.Operand < 0 || in.Operand >= slots {
				return fmt.Errorf("vm: address %d: variable slot %d out of range", addr, in.Operand)
			}
		case in.Op == OpCompare:
			if in.Operand < int(CmpEQ) || in.Operand > int(CmpGE) {
				return fmt.Errorf("vm: address %d: unknown comparison kind %d", addr, in.Operand)
			}
		}
	}
	return nil
}

// Count returns how many instructions use op.
func (p *Program) Count(op Opcode) int {
	n := 0
	for _, in := range p.Code {
		if in.Op == op {
			n++
		}
	}
	return n
}
