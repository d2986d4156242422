package compiler

// VarTable maps variable names to dense slot indexes in order of first
// occurrence. The language has no scoping, so one table serves a whole
// program; it only grows.
type VarTable struct {
	slots map[string]int
	names []string
}

// NewVarTable creates an empty table.
func NewVarTable() *VarTable {
	return &VarTable{slots: make(map[string]int)}
}

// Slot returns the slot for name, registering it on first use.
func (t *VarTable) Slot(name string) int {
	if slot, ok := t.slots[name]; ok {
		return slot
	}
	slot := len(t.names)
	t.slots[name] = slot
	t.names = append(t.names, name)
	return slot
}

// Names returns variable names indexed by slot.
func (t *VarTable) Names() []string {
	out := make([]string, len(t.names))
	copy(out, t.names)
	return out
}
