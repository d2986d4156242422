package compiler

import (
	"math"
	"strings"

	"github.com/chazu/milan/vm"
)

// ---------------------------------------------------------------------------
// Lexer: pull-based token source for Milan
// ---------------------------------------------------------------------------

// eof is the sentinel character past the end of input.
const eof = -1

// Lexer tokenizes Milan source code.
type Lexer struct {
	input   string
	readPos int // position of the next unread byte
	ch      int // current character, or eof
	line    int // current line (1-based)
}

// NewLexer creates a new lexer for the given input.
func NewLexer(input string) *Lexer {
	l := &Lexer{
		input: input,
		line:  1,
	}
	l.readChar()
	return l
}

// Line returns the line the lexer is currently on.
func (l *Lexer) Line() int {
	return l.line
}

// readChar advances to the next byte. Source is treated as bytes: any
// non-ASCII byte becomes an illegal token.
func (l *Lexer) readChar() {
	if l.readPos >= len(l.input) {
		l.ch = eof
		return
	}
	l.ch = int(l.input[l.readPos])
	l.readPos++
}

// skipSpace skips whitespace, counting newlines.
func (l *Lexer) skipSpace() {
	for isSpace(l.ch) {
		if l.ch == '\n' {
			l.line++
		}
		l.readChar()
	}
}

// NextToken returns the next token.
func (l *Lexer) NextToken() Token {
	l.skipSpace()

	// Comments start with '/', which is otherwise the division operator.
	for l.ch == '/' {
		line := l.line
		l.readChar()
		switch l.ch {
		case '*':
			if !l.skipBlockComment() {
				return Token{Type: TokenEOF, Line: l.line}
			}
		case '/':
			for l.ch != '\n' && l.ch != eof {
				l.readChar()
			}
		default:
			return Token{Type: TokenMulOp, Arith: ArithDivide, Line: line}
		}
		l.skipSpace()
	}

	tok := Token{Line: l.line}

	switch {
	case l.ch == eof:
		tok.Type = TokenEOF

	case isDigit(l.ch):
		l.readNumber(&tok)

	case isIdentStart(l.ch):
		l.readIdentifier(&tok)

	default:
		l.readOperator(&tok)
	}
	return tok
}

// skipBlockComment consumes a /* ... */ comment; l.ch is the opening '*'.
// Returns false if input ends inside the comment.
func (l *Lexer) skipBlockComment() bool {
	l.readChar()
	for {
		for l.ch != '*' && l.ch != eof {
			if l.ch == '\n' {
				l.line++
			}
			l.readChar()
		}
		if l.ch == eof {
			return false
		}
		l.readChar()
		if l.ch == '/' {
			l.readChar()
			return true
		}
	}
}

func (l *Lexer) readNumber(tok *Token) {
	tok.Type = TokenNumber
	start := l.readPos - 1
	value := 0
	overflow := false
	for isDigit(l.ch) {
		d := l.ch - '0'
		if value > (math.MaxInt32-d)/10 {
			overflow = true
		} else {
			value = value*10 + d
		}
		l.readChar()
	}
	if overflow {
		tok.Type = TokenIllegal
		tok.Text = l.input[start : l.readPos-1]
		if l.ch == eof {
			tok.Text = l.input[start:]
		}
		return
	}
	tok.Value = value
}

func (l *Lexer) readIdentifier(tok *Token) {
	var sb strings.Builder
	for isIdentBody(l.ch) {
		sb.WriteByte(byte(l.ch))
		l.readChar()
	}
	word := sb.String()
	if kw, ok := keywords[strings.ToLower(word)]; ok {
		tok.Type = kw
		return
	}
	tok.Type = TokenIdentifier
	tok.Text = word
}

// readOperator handles punctuation. Two-character operators other than
// ":=" fall back to their one-character sibling.
func (l *Lexer) readOperator(tok *Token) {
	ch := l.ch
	l.readChar()

	switch ch {
	case '(':
		tok.Type = TokenLParen
	case ')':
		tok.Type = TokenRParen
	case ';':
		tok.Type = TokenSemicolon
	case ':':
		if l.ch == '=' {
			l.readChar()
			tok.Type = TokenAssign
		} else {
			tok.Type = TokenIllegal
			tok.Text = ":"
		}
	case '<':
		tok.Type = TokenCmp
		tok.Cmp = l.withEquals(vm.CmpLE, vm.CmpLT)
	case '>':
		tok.Type = TokenCmp
		tok.Cmp = l.withEquals(vm.CmpGE, vm.CmpGT)
	case '=':
		tok.Type = TokenCmp
		tok.Cmp = vm.CmpEQ
	case '!':
		if l.ch == '=' {
			l.readChar()
			tok.Type = TokenCmp
			tok.Cmp = vm.CmpNE
		} else {
			tok.Type = TokenNot
		}
	case '&':
		tok.Type = l.doubled('&', TokenAnd, TokenBitAnd)
	case '|':
		tok.Type = l.doubled('|', TokenOr, TokenBitOr)
	case '+':
		tok.Type = TokenAddOp
		tok.Arith = ArithPlus
	case '-':
		tok.Type = TokenAddOp
		tok.Arith = ArithMinus
	case '*':
		tok.Type = TokenMulOp
		tok.Arith = ArithMultiply
	default:
		tok.Type = TokenIllegal
		tok.Text = string(rune(byte(ch)))
	}
}

func (l *Lexer) withEquals(with, without vm.Cmp) vm.Cmp {
	if l.ch == '=' {
		l.readChar()
		return with
	}
	return without
}

func (l *Lexer) doubled(c int, double, single TokenType) TokenType {
	if l.ch == c {
		l.readChar()
		return double
	}
	return single
}

// Tokenize returns every token up to and including end of file.
func Tokenize(input string) []Token {
	l := NewLexer(input)
	var tokens []Token
	for {
		tok := l.NextToken()
		tokens = append(tokens, tok)
		if tok.Type == TokenEOF {
			return tokens
		}
	}
}

// ---------------------------------------------------------------------------
// Character classes
// ---------------------------------------------------------------------------

func isSpace(ch int) bool {
	return ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r' || ch == '\v' || ch == '\f'
}

func isDigit(ch int) bool {
	return ch >= '0' && ch <= '9'
}

func isLetter(ch int) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isIdentStart(ch int) bool {
	return isLetter(ch) || ch == '_'
}

func isIdentBody(ch int) bool {
	return isIdentStart(ch) || isDigit(ch)
}
