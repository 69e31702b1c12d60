package compiler

import (
	"github.com/chazu/vavoomc/vm"
)

// ---------------------------------------------------------------------------
// Expressions, lowest priority number binds tightest
// ---------------------------------------------------------------------------

// ParseExpression parses a single expression, for tests and tools.
func (p *Parser) ParseExpression() Expression {
	return p.parseExpression()
}

// parseExpression parses a full expression including assignment.
func (p *Parser) parseExpression() Expression {
	return p.parseExpressionPriority14()
}

var castTokens = map[TokenType]vm.TypeKind{
	TokenIntKw:    vm.TypeInt,
	TokenFloatKw:  vm.TypeFloat,
	TokenBool:     vm.TypeBool,
	TokenByte:     vm.TypeByte,
	TokenNameKw:   vm.TypeName,
	TokenStringKw: vm.TypeString,
}

// parseExpressionPriority0 parses literals, names, casts and parentheses.
func (p *Parser) parseExpressionPriority0() Expression {
	tok := p.curToken
	loc := tok.Loc

	switch tok.Type {
	case TokenInt:
		p.nextToken()
		return NewIntLiteral(tok.Int, loc)
	case TokenFloat:
		p.nextToken()
		return NewFloatLiteral(tok.Float, loc)
	case TokenName:
		p.nextToken()
		return NewNameLiteral(tok.Literal, loc)
	case TokenString:
		p.nextToken()
		return NewStringLiteral(tok.Literal, loc)
	case TokenTrue, TokenFalse:
		p.nextToken()
		return NewBoolLiteral(tok.Type == TokenTrue, loc)
	case TokenNone:
		p.nextToken()
		return NewNoneLiteral(loc)
	case TokenNullptr:
		p.nextToken()
		return NewNullLiteral(loc)
	case TokenSelf:
		p.nextToken()
		return NewSelfExpr(loc)

	case TokenVector:
		p.nextToken()
		if !p.expect(TokenLParen) {
			return nil
		}
		x := p.parseExpressionPriority13()
		p.expect(TokenComma)
		y := p.parseExpressionPriority13()
		var z Expression
		if p.check(TokenComma) {
			z = p.parseExpressionPriority13()
		}
		p.expect(TokenRParen)
		return NewVectorLiteral(x, y, z, loc)

	case TokenLParen:
		p.nextToken()
		e := p.parseExpressionPriority13()
		p.expect(TokenRParen)
		return e

	case TokenIdentifier:
		p.nextToken()
		if p.check(TokenDColon) {
			name, _ := p.expectIdent()
			return &DoubleName{exprBase{loc: loc}, tok.Literal, name}
		}
		return NewSingleName(tok.Literal, loc)

	case TokenSuper:
		p.nextToken()
		if !p.expect(TokenDot) {
			return nil
		}
		name, _ := p.expectIdent()
		return &SuperMember{exprBase{loc: loc}, name}

	case TokenClass:
		// class!Name(expr)
		p.nextToken()
		if !p.expect(TokenNot) {
			return nil
		}
		name, _ := p.expectIdent()
		if !p.expect(TokenLParen) {
			return nil
		}
		op := p.parseExpressionPriority13()
		p.expect(TokenRParen)
		return &ClassCastExpr{exprBase{loc: loc}, name, op}
	}

	if kind, ok := castTokens[tok.Type]; ok && p.peekTokenIs(TokenLParen) {
		p.nextToken()
		p.nextToken()
		op := p.parseExpressionPriority13()
		p.expect(TokenRParen)
		return &CastExpr{exprBase{loc: loc}, kind, op}
	}

	p.errorf("Expression expected, found %s", tok.Type)
	return nil
}

// parseExpressionPriority1 parses member access, indexing and calls.
func (p *Parser) parseExpressionPriority1() Expression {
	e := p.parseExpressionPriority0()
	if e == nil {
		return nil
	}
	for {
		loc := p.curToken.Loc
		switch {
		case p.check(TokenDot):
			tok := p.curToken
			if tok.Type != TokenIdentifier && !tok.Type.IsKeyword() {
				p.errorf("Field name expected, found %s", tok.Type)
				return nil
			}
			p.nextToken()
			e = &MemberAccess{exprBase{loc: tok.Loc}, e, tok.Literal}

		case p.check(TokenLBracket):
			ae := &ArrayElement{exprBase: exprBase{loc: loc}, Base: e, Index: p.parseExpressionPriority13()}
			if p.check(TokenComma) {
				ae.Index2 = p.parseExpressionPriority13()
			}
			p.expect(TokenRBracket)
			e = ae

		case p.check(TokenLParen):
			e = &CallExpr{exprBase{loc: loc}, e, p.parseArgs()}

		default:
			return e
		}
	}
}

// parseArgs parses call arguments after `(`. An empty slot, as in
// `f(a, , c)`, omits an optional argument and yields nil.
func (p *Parser) parseArgs() []Expression {
	var args []Expression
	if p.check(TokenRParen) {
		return nil
	}
	for {
		if p.curTokenIs(TokenComma) || p.curTokenIs(TokenRParen) {
			args = append(args, nil)
		} else {
			args = append(args, p.parseExpressionPriority13())
		}
		if !p.check(TokenComma) {
			break
		}
	}
	p.expect(TokenRParen)
	return args
}

// parseExpressionPriority2 parses unary operators and increments.
func (p *Parser) parseExpressionPriority2() Expression {
	tok := p.curToken
	loc := tok.Loc
	switch tok.Type {
	case TokenPlus, TokenMinus, TokenNot, TokenTilde:
		p.nextToken()
		return &UnaryOp{exprBase: exprBase{loc: loc}, Op: tok.Type, Operand: p.parseExpressionPriority2()}
	case TokenAnd:
		p.nextToken()
		return &AddressOf{exprBase: exprBase{loc: loc}, Operand: p.parseExpressionPriority1()}
	case TokenStar:
		p.nextToken()
		return &Deref{exprBase{loc: loc}, p.parseExpressionPriority2()}
	case TokenInc, TokenDec:
		p.nextToken()
		return &IncDec{exprBase: exprBase{loc: loc}, Op: tok.Type, Prefix: true, Operand: p.parseExpressionPriority2()}
	}

	e := p.parseExpressionPriority1()
	if e == nil {
		return nil
	}
	if tok := p.curToken; tok.Type == TokenInc || tok.Type == TokenDec {
		p.nextToken()
		return &IncDec{exprBase: exprBase{loc: tok.Loc}, Op: tok.Type, Operand: e}
	}
	return e
}

// binaryTiers lists the left-associative binary operators of priorities
// 3 through 12.
var binaryTiers = [...][]TokenType{
	3:  {TokenStar, TokenSlash, TokenPercent},
	4:  {TokenPlus, TokenMinus, TokenTilde},
	5:  {TokenLShift, TokenRShift},
	6:  {TokenLess, TokenLessEq, TokenGreater, TokenGreaterEq},
	7:  {TokenEq, TokenNotEq},
	8:  {TokenAnd},
	9:  {TokenXor},
	10: {TokenOr},
	11: {TokenAndAnd},
	12: {TokenOrOr},
}

// parseBinary parses one left-associative tier, with next parsing the
// operands.
func (p *Parser) parseBinary(tier int, next func() Expression) Expression {
	e := next()
	for e != nil {
		tok := p.curToken
		found := false
		for _, op := range binaryTiers[tier] {
			if tok.Type == op {
				found = true
				break
			}
		}
		if !found {
			return e
		}
		p.nextToken()
		r := next()
		switch tok.Type {
		case TokenAndAnd, TokenOrOr:
			e = &LogicalOp{exprBase{loc: tok.Loc}, tok.Type == TokenAndAnd, e, r}
		default:
			e = &BinaryOp{exprBase: exprBase{loc: tok.Loc}, Op: tok.Type, Left: e, Right: r}
		}
	}
	return e
}

func (p *Parser) parseExpressionPriority3() Expression {
	return p.parseBinary(3, p.parseExpressionPriority2)
}

func (p *Parser) parseExpressionPriority4() Expression {
	return p.parseBinary(4, p.parseExpressionPriority3)
}

func (p *Parser) parseExpressionPriority5() Expression {
	return p.parseBinary(5, p.parseExpressionPriority4)
}

func (p *Parser) parseExpressionPriority6() Expression {
	return p.parseBinary(6, p.parseExpressionPriority5)
}

func (p *Parser) parseExpressionPriority7() Expression {
	return p.parseBinary(7, p.parseExpressionPriority6)
}

func (p *Parser) parseExpressionPriority8() Expression {
	return p.parseBinary(8, p.parseExpressionPriority7)
}

func (p *Parser) parseExpressionPriority9() Expression {
	return p.parseBinary(9, p.parseExpressionPriority8)
}

func (p *Parser) parseExpressionPriority10() Expression {
	return p.parseBinary(10, p.parseExpressionPriority9)
}

func (p *Parser) parseExpressionPriority11() Expression {
	return p.parseBinary(11, p.parseExpressionPriority10)
}

func (p *Parser) parseExpressionPriority12() Expression {
	return p.parseBinary(12, p.parseExpressionPriority11)
}

// parseExpressionPriority13 parses `cond ? a : b`, right associative.
func (p *Parser) parseExpressionPriority13() Expression {
	cond := p.parseExpressionPriority12()
	if cond == nil || !p.curTokenIs(TokenQuest) {
		return cond
	}
	loc := p.curToken.Loc
	p.nextToken()
	then := p.parseExpressionPriority13()
	p.expect(TokenColon)
	els := p.parseExpressionPriority13()
	return &Conditional{exprBase{loc: loc}, cond, then, els}
}

var assignTokens = map[TokenType]bool{
	TokenAssign:       true,
	TokenAddAssign:    true,
	TokenSubAssign:    true,
	TokenMulAssign:    true,
	TokenDivAssign:    true,
	TokenModAssign:    true,
	TokenAndAssign:    true,
	TokenOrAssign:     true,
	TokenXorAssign:    true,
	TokenCatAssign:    true,
	TokenLShiftAssign: true,
	TokenRShiftAssign: true,
}

// parseExpressionPriority14 parses assignment. The right side cannot
// itself be an assignment.
func (p *Parser) parseExpressionPriority14() Expression {
	l := p.parseExpressionPriority13()
	tok := p.curToken
	if l == nil || !assignTokens[tok.Type] {
		return l
	}
	p.nextToken()
	return &Assignment{exprBase: exprBase{loc: tok.Loc}, Op: tok.Type, Left: l, Right: p.parseExpressionPriority13()}
}
