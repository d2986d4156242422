package vm

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Listing renders the program one instruction per line as
// "addr:\tOPCODE[\toperand]", the format the VM loader reads.
func (p *Program) Listing() string {
	var sb strings.Builder
	// strings.Builder never fails
	_ = p.WriteListing(&sb)
	return sb.String()
}

// WriteListing writes the listing to w.
func (p *Program) WriteListing(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for addr, in := range p.Code {
		if in.Op.HasOperand() {
			fmt.Fprintf(bw, "%d:\t%s\t%d\n", addr, in.Op, in.Operand)
		} else {
			fmt.Fprintf(bw, "%d:\t%s\n", addr, in.Op)
		}
	}
	return bw.Flush()
}

// ParseListing reads a listing produced by WriteListing. Blank lines and
// lines starting with ';' are ignored. Addresses must be dense and in
// order.
func ParseListing(r io.Reader) (*Program, error) {
	p := &Program{}
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, ";") {
			continue
		}

		fields := strings.Fields(line)
		addrText := strings.TrimSuffix(fields[0], ":")
		if addrText == fields[0] {
			return nil, fmt.Errorf("vm: listing line %d: missing address", lineNo)
		}
		addr, err := strconv.Atoi(addrText)
		if err != nil {
			return nil, fmt.Errorf("vm: listing line %d: bad address %q: %w", lineNo, addrText, err)
		}
		if addr != len(p.Code) {
			return nil, fmt.Errorf("vm: listing line %d: address %d out of sequence, want %d", lineNo, addr, len(p.Code))
		}
		if len(fields) < 2 {
			return nil, fmt.Errorf("vm: listing line %d: missing opcode", lineNo)
		}

		op, ok := LookupOpcode(strings.ToUpper(fields[1]))
		if !ok {
			return nil, fmt.Errorf("vm: listing line %d: unknown opcode %q", lineNo, fields[1])
		}
		in := Instruction{Op: op}
		switch {
		case op.HasOperand() && len(fields) != 3:
			return nil, fmt.Errorf("vm: listing line %d: %s needs one operand", lineNo, op)
		case !op.HasOperand() && len(fields) != 2:
			return nil, fmt.Errorf("vm: listing line %d: %s takes no operand", lineNo, op)
		case op.HasOperand():
			v, err := strconv.Atoi(fields[2])
			if err != nil {
				return nil, fmt.Errorf("vm: listing line %d: bad operand %q: %w", lineNo, fields[2], err)
			}
			in.Operand = v
		}
		p.Code = append(p.Code, in)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("vm: read listing: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}
