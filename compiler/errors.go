package compiler

import (
	"fmt"
	"strings"
)

// Kind classifies a diagnostic.
type Kind int

const (
	// KindLexical: an illegal character reached the parser.
	KindLexical Kind = iota
	// KindSyntax: expected-token mismatch or an unparseable construct.
	KindSyntax
	// KindSemantic: a well-formed construct in the wrong place, such as
	// break outside a loop.
	KindSemantic
)

func (k Kind) String() string {
	switch k {
	case KindLexical:
		return "lexical"
	case KindSyntax:
		return "syntax"
	case KindSemantic:
		return "semantic"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Diagnostic is one positioned compile error.
type Diagnostic struct {
	Line    int
	Kind    Kind
	Message string
}

func (d Diagnostic) Error() string {
	return fmt.Sprintf("Line %d: %s", d.Line, d.Message)
}

// ErrorList collects every diagnostic of one compilation, in source order.
type ErrorList []Diagnostic

func (l ErrorList) Error() string {
	switch len(l) {
	case 0:
		return "no errors"
	case 1:
		return l[0].Error()
	}
	lines := make([]string, len(l))
	for i, d := range l {
		lines[i] = d.Error()
	}
	return fmt.Sprintf("%d errors:\n%s", len(l), strings.Join(lines, "\n"))
}

// Count returns how many diagnostics have the given kind.
func (l ErrorList) Count(kind Kind) int {
	n := 0
	for _, d := range l {
		if d.Kind == kind {
			n++
		}
	}
	return n
}
