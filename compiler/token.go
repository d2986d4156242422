package compiler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/chazu/milan/vm"
)

// ---------------------------------------------------------------------------
// Token types for the Milan lexer
// ---------------------------------------------------------------------------

// TokenType represents the type of a token.
type TokenType int

const (
	// Special tokens
	TokenEOF TokenType = iota
	TokenIllegal

	// Literals
	TokenIdentifier // x, total_1
	TokenNumber     // 42

	// Keywords
	TokenBegin
	TokenEnd
	TokenIf
	TokenThen
	TokenElse
	TokenFi
	TokenWhile
	TokenDo
	TokenOd
	TokenWrite
	TokenRead
	TokenBreak
	TokenContinue
	TokenTrue
	TokenFalse

	// Operators and delimiters
	TokenAssign    // :=
	TokenAddOp     // + -
	TokenMulOp     // * /
	TokenCmp       // = != < > <= >=
	TokenLParen    // (
	TokenRParen    // )
	TokenSemicolon // ;
	TokenBitAnd    // &
	TokenBitOr     // |
	TokenAnd       // &&
	TokenOr        // ||
	TokenNot       // !
)

// Names as they appear in diagnostics ("... found while ... expected.").
var tokenNames = map[TokenType]string{
	TokenEOF:        "end of file",
	TokenIllegal:    "illegal token",
	TokenIdentifier: "identifier",
	TokenNumber:     "number",
	TokenBegin:      "'BEGIN'",
	TokenEnd:        "'END'",
	TokenIf:         "'IF'",
	TokenThen:       "'THEN'",
	TokenElse:       "'ELSE'",
	TokenFi:         "'FI'",
	TokenWhile:      "'WHILE'",
	TokenDo:         "'DO'",
	TokenOd:         "'OD'",
	TokenWrite:      "'WRITE'",
	TokenRead:       "'READ'",
	TokenBreak:      "'BREAK'",
	TokenContinue:   "'CONTINUE'",
	TokenTrue:       "'TRUE'",
	TokenFalse:      "'FALSE'",
	TokenAssign:     "':='",
	TokenAddOp:      "'+' or '-'",
	TokenMulOp:      "'*' or '/'",
	TokenCmp:        "comparison operator",
	TokenLParen:     "'('",
	TokenRParen:     "')'",
	TokenSemicolon:  "';'",
	TokenBitAnd:     "'&'",
	TokenBitOr:      "'|'",
	TokenAnd:        "'&&'",
	TokenOr:         "'||'",
	TokenNot:        "'!'",
}

func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Token(%d)", t)
}

// Arith distinguishes the two operators sharing an add-op or mul-op token.
type Arith int

const (
	ArithPlus Arith = iota
	ArithMinus
	ArithMultiply
	ArithDivide
)

func (a Arith) String() string {
	switch a {
	case ArithPlus:
		return "+"
	case ArithMinus:
		return "-"
	case ArithMultiply:
		return "*"
	case ArithDivide:
		return "/"
	}
	return fmt.Sprintf("Arith(%d)", int(a))
}

// Token represents a lexical token. Only the attribute matching Type is
// meaningful.
type Token struct {
	Type  TokenType
	Line  int    // 1-based source line
	Value int    // TokenNumber
	Text  string // TokenIdentifier, TokenIllegal
	Cmp   vm.Cmp // TokenCmp
	Arith Arith  // TokenAddOp, TokenMulOp
}

func (t Token) String() string {
	switch t.Type {
	case TokenIdentifier:
		return fmt.Sprintf("identifier(%s)", t.Text)
	case TokenNumber:
		return fmt.Sprintf("number(%d)", t.Value)
	case TokenCmp:
		return fmt.Sprintf("cmp(%s)", t.Cmp)
	case TokenAddOp, TokenMulOp:
		return fmt.Sprintf("op(%s)", t.Arith)
	case TokenIllegal:
		return fmt.Sprintf("illegal(%q)", t.Text)
	}
	return t.Type.String()
}

// Keywords are matched case-insensitively; the map holds lower-case forms.
var keywords = map[string]TokenType{
	"begin":    TokenBegin,
	"end":      TokenEnd,
	"if":       TokenIf,
	"then":     TokenThen,
	"else":     TokenElse,
	"fi":       TokenFi,
	"while":    TokenWhile,
	"do":       TokenDo,
	"od":       TokenOd,
	"write":    TokenWrite,
	"read":     TokenRead,
	"break":    TokenBreak,
	"continue": TokenContinue,
	"true":     TokenTrue,
	"false":    TokenFalse,
}

// Keywords returns the language keywords in lower case, sorted.
func Keywords() []string {
	out := make([]string, 0, len(keywords))
	for kw := range keywords {
		out = append(out, kw)
	}
	sort.Strings(out)
	return out
}

// IsKeyword reports whether word is a keyword, ignoring case.
func IsKeyword(word string) bool {
	_, ok := keywords[strings.ToLower(word)]
	return ok
}
