package vm

import (
	"fmt"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode represents a single stack-machine instruction.
type Opcode byte

// Control
const (
	OpStop Opcode = 0x00 // halt
)

// Stack Operations
const (
	OpPush Opcode = 0x10 // push literal operand
	OpPop  Opcode = 0x11 // discard top of stack
	OpDup  Opcode = 0x12 // duplicate top of stack
)

// Variable Operations
const (
	OpLoad  Opcode = 0x20 // push variable slot
	OpStore Opcode = 0x21 // pop into variable slot
)

// Arithmetic
const (
	OpAdd     Opcode = 0x30 // pop 2, push sum
	OpSub     Opcode = 0x31 // pop 2, push difference
	OpMult    Opcode = 0x32 // pop 2, push product
	OpDiv     Opcode = 0x33 // pop 2, push quotient
	OpInvert  Opcode = 0x34 // pop 1, push negation
	OpCompare Opcode = 0x35 // pop 2, push 1/0 (operand: comparison kind)
)

// Control Flow
const (
	OpJump    Opcode = 0x40 // unconditional jump to absolute address
	OpJumpNo  Opcode = 0x41 // pop, jump if zero
	OpJumpYes Opcode = 0x42 // pop, jump if non-zero
)

// I/O
const (
	OpInput Opcode = 0x50 // read one integer, push it
	OpPrint Opcode = 0x51 // pop 1, write it
)

// opEmpty marks a reserved slot that has not been patched yet. It never
// appears in a finalized program.
const opEmpty Opcode = 0xFF

// ---------------------------------------------------------------------------
// Comparison kinds (operand of COMPARE)
// ---------------------------------------------------------------------------

// Cmp selects the relation tested by OpCompare.
type Cmp int

const (
	CmpEQ Cmp = iota // =
	CmpNE            // !=
	CmpLT            // <
	CmpGT            // >
	CmpLE            // <=
	CmpGE            // >=
)

var cmpSymbols = [...]string{"=", "!=", "<", ">", "<=", ">="}

func (c Cmp) String() string {
	if c < 0 || int(c) >= len(cmpSymbols) {
		return fmt.Sprintf("Cmp(%d)", int(c))
	}
	return cmpSymbols[c]
}

// Apply evaluates the relation on two integers.
func (c Cmp) Apply(a, b int) (bool, error) {
	switch c {
	case CmpEQ:
		return a == b, nil
	case CmpNE:
		return a != b, nil
	case CmpLT:
		return a < b, nil
	case CmpGT:
		return a > b, nil
	case CmpLE:
		return a <= b, nil
	case CmpGE:
		return a >= b, nil
	}
	return false, fmt.Errorf("unknown comparison kind %d", int(c))
}

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name        string // listing mnemonic
	HasOperand  bool   // takes one integer operand
	StackEffect int    // net effect on stack
	IsJump      bool   // operand is an instruction address
}

// opcodeTable maps opcodes to their metadata.
var opcodeTable = map[Opcode]OpcodeInfo{
	OpStop: {"STOP", false, 0, false},

	OpPush: {"PUSH", true, 1, false},
	OpPop:  {"POP", false, -1, false},
	OpDup:  {"DUP", false, 1, false},

	OpLoad:  {"LOAD", true, 1, false},
	OpStore: {"STORE", true, -1, false},

	OpAdd:     {"ADD", false, -1, false},
	OpSub:     {"SUB", false, -1, false},
	OpMult:    {"MULT", false, -1, false},
	OpDiv:     {"DIV", false, -1, false},
	OpInvert:  {"INVERT", false, 0, false},
	OpCompare: {"COMPARE", true, -1, false},

	OpJump:    {"JUMP", true, 0, true},
	OpJumpNo:  {"JUMP_NO", true, -1, true},
	OpJumpYes: {"JUMP_YES", true, -1, true},

	OpInput: {"INPUT", false, 1, false},
	OpPrint: {"PRINT", false, -1, false},
}

// opcodesByName is the reverse of opcodeTable, used by the listing reader.
var opcodesByName = func() map[string]Opcode {
	m := make(map[string]Opcode, len(opcodeTable))
	for op, info := range opcodeTable {
		m[info.Name] = op
	}
	return m
}()

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := opcodeTable[op]; ok {
		return info
	}
	if op == opEmpty {
		return OpcodeInfo{Name: "<reserved>"}
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%02X", byte(op))}
}

// Valid reports whether op is part of the instruction set.
func (op Opcode) Valid() bool {
	_, ok := opcodeTable[op]
	return ok
}

// Name returns the mnemonic for an opcode.
func (op Opcode) Name() string {
	return op.Info().Name
}

// HasOperand reports whether the opcode takes an operand.
func (op Opcode) HasOperand() bool {
	return op.Info().HasOperand
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Name()
}

// LookupOpcode resolves a mnemonic such as "JUMP_NO".
func LookupOpcode(name string) (Opcode, bool) {
	op, ok := opcodesByName[name]
	return op, ok
}

// ---------------------------------------------------------------------------
// Builder: append-only instruction log with reserved slots
// ---------------------------------------------------------------------------

// Slot is a handle to a reserved instruction whose content is decided
// later. The zero value is not a valid slot.
type Slot struct {
	addr Address
	ok   bool
}

// Address returns the instruction address the slot occupies.
func (s Slot) Address() Address {
	return s.addr
}

// Builder collects instructions for one program.
type Builder struct {
	code      []Instruction
	reserved  map[Address]bool // address -> still unpatched
	finalized bool
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{
		code:     make([]Instruction, 0, 64),
		reserved: make(map[Address]bool),
	}
}

// Here returns the address the next emitted instruction will occupy.
func (b *Builder) Here() Address {
	return Address(len(b.code))
}

// Len returns the number of instructions emitted or reserved so far.
func (b *Builder) Len() int {
	return len(b.code)
}

// Emit appends an instruction with no operand and returns its address.
func (b *Builder) Emit(op Opcode) Address {
	if op.HasOperand() {
		panic(fmt.Sprintf("vm: %s requires an operand", op))
	}
	return b.append(Instruction{Op: op})
}

// EmitArg appends an instruction with one operand and returns its address.
func (b *Builder) EmitArg(op Opcode, operand int) Address {
	if !op.HasOperand() {
		panic(fmt.Sprintf("vm: %s takes no operand", op))
	}
	return b.append(Instruction{Op: op, Operand: operand})
}

// EmitJump appends a jump to an already known address.
func (b *Builder) EmitJump(op Opcode, target Address) Address {
	if !op.Info().IsJump {
		panic(fmt.Sprintf("vm: %s is not a jump", op))
	}
	return b.append(Instruction{Op: op, Operand: int(target)})
}

func (b *Builder) append(in Instruction) Address {
	if b.finalized {
		panic("vm: emit after finalize")
	}
	addr := b.Here()
	b.code = append(b.code, in)
	return addr
}

// Reserve appends an empty instruction to be filled in by Patch.
func (b *Builder) Reserve() Slot {
	addr := b.append(Instruction{Op: opEmpty})
	b.reserved[addr] = true
	return Slot{addr: addr, ok: true}
}

// Patch fills a reserved slot. A slot may be patched exactly once.
func (b *Builder) Patch(s Slot, op Opcode, operand int) {
	if b.finalized {
		panic("vm: patch after finalize")
	}
	if !s.ok {
		panic("vm: patch of invalid slot")
	}
	pending, known := b.reserved[s.addr]
	if !known {
		panic(fmt.Sprintf("vm: address %d was not reserved", s.addr))
	}
	if !pending {
		panic(fmt.Sprintf("vm: slot %d already patched", s.addr))
	}
	if !op.Valid() {
		panic(fmt.Sprintf("vm: patch with invalid opcode %s", op))
	}
	if !op.HasOperand() {
		operand = 0
	}
	b.code[s.addr] = Instruction{Op: op, Operand: operand}
	b.reserved[s.addr] = false
}

// PatchJump fills a reserved slot with a jump to target.
func (b *Builder) PatchJump(s Slot, op Opcode, target Address) {
	if !op.Info().IsJump {
		panic(fmt.Sprintf("vm: %s is not a jump", op))
	}
	b.Patch(s, op, int(target))
}

// Pending returns the addresses of reserved slots not yet patched.
func (b *Builder) Pending() []Address {
	var out []Address
	for addr := Address(0); int(addr) < len(b.code); addr++ {
		if b.reserved[addr] {
			out = append(out, addr)
		}
	}
	return out
}

// Finalize seals the builder and returns the program. It fails if any
// reserved slot was never patched.
func (b *Builder) Finalize(variables []string) (*Program, error) {
	if b.finalized {
		return nil, fmt.Errorf("vm: builder already finalized")
	}
	if pending := b.Pending(); len(pending) > 0 {
		return nil, fmt.Errorf("vm: %d reserved slot(s) never patched: %v", len(pending), pending)
	}
	b.finalized = true

	code := make([]Instruction, len(b.code))
	copy(code, b.code)
	vars := make([]string, len(variables))
	copy(vars, variables)
	return &Program{Code: code, Variables: vars}, nil
}
