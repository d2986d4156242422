package compiler

import (
	"fmt"
	"io"

	"github.com/tliron/commonlog"

	"github.com/chazu/milan/vm"
)

var log = commonlog.GetLogger("milan.compiler")

// ---------------------------------------------------------------------------
// Parser: single-pass recursive descent with direct code emission
// ---------------------------------------------------------------------------

// Parser is one compilation session. It validates syntax and emits
// bytecode in the same pass: operands known at the time a rule is
// recognized are emitted immediately, forward jump targets are reserved
// and patched once the target address is reached.
type Parser struct {
	lexer *Lexer
	cur   Token

	code  *vm.Builder
	vars  *VarTable
	loops loopStack

	opts  Options
	diags ErrorList
	sink  io.Writer
}

// NewParser creates a session over source and reads the first token.
func NewParser(source string, opts Options) *Parser {
	p := &Parser{
		lexer: NewLexer(source),
		code:  vm.NewBuilder(),
		vars:  NewVarTable(),
		opts:  opts,
		sink:  opts.Diagnostics,
	}
	p.next()
	return p
}

// Errors returns the diagnostics reported so far.
func (p *Parser) Errors() ErrorList {
	return p.diags
}

// Variables returns the variable table built so far.
func (p *Parser) Variables() *VarTable {
	return p.vars
}

// Parse compiles a whole program. The instruction stream is finalized
// only if no diagnostic was reported.
func (p *Parser) Parse() (*vm.Program, error) {
	p.program()
	if len(p.diags) > 0 {
		return nil, p.diags
	}
	prog, err := p.code.Finalize(p.vars.Names())
	if err != nil {
		return nil, fmt.Errorf("compiler: %w", err)
	}
	return prog, nil
}

// ---------------------------------------------------------------------------
// Token cursor
// ---------------------------------------------------------------------------

func (p *Parser) next() {
	p.cur = p.lexer.NextToken()
}

// see compares the current token without consuming it.
func (p *Parser) see(t TokenType) bool {
	return p.cur.Type == t
}

// match consumes the current token if it has type t.
func (p *Parser) match(t TokenType) bool {
	if p.cur.Type == t {
		p.next()
		return true
	}
	return false
}

// mustBe consumes a token of type t. On mismatch it reports the error and
// skips ahead to the next t (consumed) or end of file.
func (p *Parser) mustBe(t TokenType) {
	if p.match(t) {
		return
	}
	kind := KindSyntax
	if p.see(TokenIllegal) {
		kind = KindLexical
	}
	p.report(kind, "%s found while %s expected.", p.cur.Type, t)
	p.recover(t)
}

func (p *Parser) recover(t TokenType) {
	for !p.see(t) && !p.see(TokenEOF) {
		p.next()
	}
	p.match(t)
}

func (p *Parser) report(kind Kind, format string, args ...interface{}) {
	d := Diagnostic{
		Line:    p.cur.Line,
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	}
	p.diags = append(p.diags, d)
	log.Debugf("%s error: %s", kind, d)
	if p.sink != nil {
		fmt.Fprintln(p.sink, d.Error())
	}
}

// ---------------------------------------------------------------------------
// Program structure and statements
// ---------------------------------------------------------------------------

// program := 'begin' stmtList 'end'
func (p *Parser) program() {
	p.mustBe(TokenBegin)
	p.statementList()
	p.mustBe(TokenEnd)
	p.code.Emit(vm.OpStop)
}

// stmtList := [ statement (';' statement)* ]
func (p *Parser) statementList() {
	if p.see(TokenEnd) || p.see(TokenOd) || p.see(TokenElse) || p.see(TokenFi) {
		return
	}
	for more := true; more; more = p.match(TokenSemicolon) {
		p.statement()
	}
}

func (p *Parser) statement() {
	switch {
	case p.see(TokenIdentifier):
		p.assignment()

	case p.match(TokenIf):
		p.ifStatement()

	case p.match(TokenWhile):
		p.whileStatement()

	case p.match(TokenWrite):
		p.mustBe(TokenLParen)
		p.value()
		p.mustBe(TokenRParen)
		p.code.Emit(vm.OpPrint)

	case p.match(TokenRead):
		p.code.Emit(vm.OpInput)

	case p.see(TokenBreak):
		p.breakStatement()

	case p.see(TokenContinue):
		p.continueStatement()

	default:
		kind := KindSyntax
		if p.see(TokenIllegal) {
			kind = KindLexical
		}
		p.report(kind, "statement expected.")
	}
}

// identifier ':=' (boolExpr | expr)
func (p *Parser) assignment() {
	slot := p.vars.Slot(p.cur.Text)
	p.next()
	p.mustBe(TokenAssign)
	p.value()
	p.code.EmitArg(vm.OpStore, slot)
}

// value parses an assignment right-hand side or a write argument.
func (p *Parser) value() {
	if p.startsBoolean() {
		p.boolExpression()
	} else {
		p.expression()
	}
}

// startsBoolean reports whether the current token can open a boolean
// expression. Numbers are excluded: a leading number is parsed as
// arithmetic.
func (p *Parser) startsBoolean() bool {
	switch p.cur.Type {
	case TokenTrue, TokenFalse, TokenNot, TokenLParen, TokenIdentifier:
		return true
	}
	return false
}

// 'if' boolExpr 'then' stmtList ['else' stmtList] 'fi'
func (p *Parser) ifStatement() {
	p.boolExpression()
	skipThen := p.code.Reserve()

	p.mustBe(TokenThen)
	p.statementList()

	if p.match(TokenElse) {
		skipElse := p.code.Reserve()
		p.code.PatchJump(skipThen, vm.OpJumpNo, p.code.Here())
		p.statementList()
		p.code.PatchJump(skipElse, vm.OpJump, p.code.Here())
	} else {
		p.code.PatchJump(skipThen, vm.OpJumpNo, p.code.Here())
	}

	p.mustBe(TokenFi)
}

// 'while' relation 'do' stmtList 'od'
func (p *Parser) whileStatement() {
	head := p.code.Here()
	p.relation()
	exit := p.code.Reserve()

	p.loops.push(&loopFrame{head: head, exit: exit})

	p.mustBe(TokenDo)
	p.statementList()
	p.mustBe(TokenOd)

	p.code.EmitJump(vm.OpJump, head)
	p.loops.close(p.code, p.code.Here())
}

// The keyword is still current so a diagnostic carries its line.
func (p *Parser) breakStatement() {
	loop := p.loops.top()
	if loop == nil {
		p.report(KindSemantic, "'break' statement outside of loop")
		p.next()
		return
	}
	p.next()
	loop.breaks = append(loop.breaks, p.code.Reserve())
}

func (p *Parser) continueStatement() {
	loop := p.loops.top()
	if loop == nil {
		p.report(KindSemantic, "'continue' statement outside of loop")
		p.next()
		return
	}
	p.next()
	p.code.EmitJump(vm.OpJump, loop.head)
}

// ---------------------------------------------------------------------------
// Boolean expressions (0 = false, 1 = true)
// ---------------------------------------------------------------------------

// boolExpr := boolTerm ( ('||'|'|') boolTerm )*
func (p *Parser) boolExpression() {
	p.boolTerm()
	for p.see(TokenOr) || p.see(TokenBitOr) {
		short := p.see(TokenOr)
		p.next()

		if short {
			// A non-zero left operand is the result; otherwise drop it
			// and the right operand is the result.
			p.code.Emit(vm.OpDup)
			skip := p.code.Reserve()
			p.code.Emit(vm.OpPop)
			p.boolTerm()
			p.code.PatchJump(skip, vm.OpJumpYes, p.code.Here())
		} else {
			p.boolTerm()
			p.code.Emit(vm.OpAdd)
			p.code.EmitArg(vm.OpPush, 0)
			p.code.EmitArg(vm.OpCompare, int(vm.CmpGT))
		}
	}
}

// boolTerm := boolFactor ( ('&&'|'&') boolFactor )*
func (p *Parser) boolTerm() {
	p.boolFactor()
	for p.see(TokenAnd) || p.see(TokenBitAnd) {
		short := p.see(TokenAnd)
		p.next()

		if short {
			// A zero left operand is the result. On fall-through the left
			// operand is 1 and the multiply yields the right operand.
			p.code.Emit(vm.OpDup)
			skip := p.code.Reserve()
			if p.opts.LegacyAnd {
				p.code.Emit(vm.OpPop)
			}
			p.boolFactor()
			p.code.Emit(vm.OpMult)
			p.code.PatchJump(skip, vm.OpJumpNo, p.code.Here())
		} else {
			p.boolFactor()
			p.code.Emit(vm.OpMult)
		}
	}
}

// boolFactor := '!' boolFactor | 'true' | 'false' | '(' boolExpr ')'
//             | identifier | number | expr [comparisonOp expr]
func (p *Parser) boolFactor() {
	switch {
	case p.match(TokenNot):
		p.boolFactor()
		p.code.EmitArg(vm.OpPush, 0)
		p.code.EmitArg(vm.OpCompare, int(vm.CmpEQ))

	case p.match(TokenTrue):
		p.code.EmitArg(vm.OpPush, 1)

	case p.match(TokenFalse):
		p.code.EmitArg(vm.OpPush, 0)

	case p.match(TokenLParen):
		p.boolExpression()
		p.mustBe(TokenRParen)
		// A parenthesized operand may continue arithmetically, as in
		// (a + 1) * 2 or (a) < b.
		p.termTail()
		p.expressionTail()
		p.comparison()

	case p.see(TokenIdentifier) || p.see(TokenNumber):
		p.expression()
		p.comparison()

	default:
		p.expression()
		if !p.comparison() {
			p.report(KindSyntax, "boolean expression expected")
		}
	}
}

// comparison parses an optional "comparisonOp expr" applied to the value
// already on the stack.
func (p *Parser) comparison() bool {
	if !p.see(TokenCmp) {
		return false
	}
	cmp := p.cur.Cmp
	p.next()
	p.expression()
	p.code.EmitArg(vm.OpCompare, int(cmp))
	return true
}

// relation := 'true' | 'false' | expr comparisonOp expr
func (p *Parser) relation() {
	if p.match(TokenTrue) {
		p.code.EmitArg(vm.OpPush, 1)
		return
	}
	if p.match(TokenFalse) {
		p.code.EmitArg(vm.OpPush, 0)
		return
	}
	p.expression()
	if !p.comparison() {
		p.report(KindSyntax, "comparison operator expected.")
	}
}

// ---------------------------------------------------------------------------
// Arithmetic expressions
// ---------------------------------------------------------------------------

// expr := term ( ('+'|'-') term )*
func (p *Parser) expression() {
	p.term()
	p.expressionTail()
}

func (p *Parser) expressionTail() {
	for p.see(TokenAddOp) {
		op := p.cur.Arith
		p.next()
		p.term()
		if op == ArithPlus {
			p.code.Emit(vm.OpAdd)
		} else {
			p.code.Emit(vm.OpSub)
		}
	}
}

// term := factor ( ('*'|'/') factor )*
func (p *Parser) term() {
	p.factor()
	p.termTail()
}

func (p *Parser) termTail() {
	for p.see(TokenMulOp) {
		op := p.cur.Arith
		p.next()
		p.factor()
		if op == ArithMultiply {
			p.code.Emit(vm.OpMult)
		} else {
			p.code.Emit(vm.OpDiv)
		}
	}
}

// factor := number | identifier | '-' factor | '(' expr ')' | 'read'
func (p *Parser) factor() {
	switch {
	case p.see(TokenNumber):
		p.code.EmitArg(vm.OpPush, p.cur.Value)
		p.next()

	case p.see(TokenIdentifier):
		p.code.EmitArg(vm.OpLoad, p.vars.Slot(p.cur.Text))
		p.next()

	case p.see(TokenAddOp) && p.cur.Arith == ArithMinus:
		p.next()
		p.factor()
		p.code.Emit(vm.OpInvert)

	case p.match(TokenLParen):
		p.expression()
		p.mustBe(TokenRParen)

	case p.match(TokenRead):
		p.code.Emit(vm.OpInput)

	default:
		kind := KindSyntax
		if p.see(TokenIllegal) {
			kind = KindLexical
		}
		p.report(kind, "expression expected.")
	}
}
