package compiler

import (
	"strings"

	"github.com/chazu/vavoomc/vm"
)

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

// parseCompound parses `{ statements }`.
func (p *Parser) parseCompound() *Compound {
	c := &Compound{stmtBase: stmtBase{p.curToken.Loc}}
	if !p.expect(TokenLBrace) {
		return c
	}
	for !p.curTokenIs(TokenRBrace) && !p.curTokenIs(TokenEOF) {
		start := p.mark()
		if st := p.parseStatement(); st != nil {
			c.Stmts = append(c.Stmts, st)
		}
		if p.mark() == start {
			p.nextToken()
		}
	}
	p.expect(TokenRBrace)
	return c
}

// ParseStatement parses a single statement, for tests and tools.
func (p *Parser) ParseStatement() Statement {
	return p.parseStatement()
}

// parseStatement parses one statement. It returns nil after reporting an
// error, having skipped to a likely statement boundary.
func (p *Parser) parseStatement() Statement {
	tok := p.curToken
	loc := tok.Loc
	base := stmtBase{loc}

	switch tok.Type {
	case TokenLBrace:
		return p.parseCompound()
	case TokenSemicolon:
		p.nextToken()
		return &EmptyStmt{base}
	case TokenIf:
		return p.parseIf()
	case TokenWhile:
		p.nextToken()
		cond := p.parseCondition()
		return &While{base, cond, p.parseStatement()}
	case TokenDo:
		p.nextToken()
		body := p.parseStatement()
		if !p.expect(TokenWhile) {
			p.skipTo()
			return nil
		}
		cond := p.parseCondition()
		p.expect(TokenSemicolon)
		return &DoWhile{base, body, cond}
	case TokenFor:
		return p.parseFor()
	case TokenForeach:
		return p.parseForeach()
	case TokenSwitch:
		return p.parseSwitch()
	case TokenReturn:
		p.nextToken()
		s := &Return{stmtBase: base}
		if !p.curTokenIs(TokenSemicolon) {
			s.Value = p.parseExpression()
		}
		return p.finishStatement(s)
	case TokenBreak:
		p.nextToken()
		return p.finishStatement(&Break{base})
	case TokenContinue:
		p.nextToken()
		return p.finishStatement(&Continue{base})
	case TokenScope:
		return p.parseScopeExit()
	case TokenCase, TokenDefault:
		p.errorf("Misplaced %s", tok.Type)
		p.skipTo()
		return nil
	}

	if decl := p.tryLocalDecl(); decl != nil {
		return p.finishStatement(decl)
	}
	return p.finishStatement(&ExprStmt{base, p.parseExpression()})
}

// finishStatement expects the closing `;` of s. After an error inside s
// it resynchronizes and drops the statement.
func (p *Parser) finishStatement(s Statement) Statement {
	if p.expect(TokenSemicolon) && !p.hadErrorSince(s.Loc()) {
		return s
	}
	p.skipTo()
	return nil
}

// hadErrorSince reports whether a diagnostic was recorded at or after loc
// in this file.
func (p *Parser) hadErrorSince(loc vm.Location) bool {
	list := p.diags.List()
	for i := len(list) - 1; i >= 0; i-- {
		d := list[i]
		if d.Severity != SeverityError || d.Loc.File != p.file {
			continue
		}
		return d.Loc.Line > loc.Line || (d.Loc.Line == loc.Line && d.Loc.Column >= loc.Column)
	}
	return false
}

// parseCondition parses a parenthesized condition.
func (p *Parser) parseCondition() Expression {
	p.expect(TokenLParen)
	cond := p.parseExpression()
	p.expect(TokenRParen)
	return cond
}

func (p *Parser) parseIf() Statement {
	s := &If{stmtBase: stmtBase{p.curToken.Loc}}
	p.nextToken()
	s.Cond = p.parseCondition()
	s.Then = p.parseStatement()
	if p.check(TokenElse) {
		s.Else = p.parseStatement()
	}
	if s.Cond == nil || s.Then == nil {
		return nil
	}
	return s
}

// parseScopeExit parses `scope(exit) stmt`.
func (p *Parser) parseScopeExit() Statement {
	loc := p.curToken.Loc
	p.nextToken()
	p.expect(TokenLParen)
	kind, kloc := p.expectIdent()
	if kind != "" && kind != "exit" {
		p.diags.Errorf(kloc, "Only `scope(exit)` is supported")
	}
	p.expect(TokenRParen)
	body := p.parseStatement()
	if body == nil {
		return nil
	}
	return &ScopeExit{stmtBase{loc}, body}
}

// ---------------------------------------------------------------------------
// Local declarations
// ---------------------------------------------------------------------------

// tryLocalDecl parses a local declaration when the statement starts with
// a type followed by a name, as in `int x`, `Actor a` or `Actor *p`.
// Otherwise it consumes nothing and returns nil.
func (p *Parser) tryLocalDecl() *LocalDecl {
	start := p.mark()
	te := p.parseType()
	if te == nil || !p.curTokenIs(TokenIdentifier) {
		p.reset(start)
		return nil
	}
	return p.parseLocalVars(te)
}

// parseLocalVars parses `a [N] = x, *b` after the type. The `;` is left
// to the caller.
func (p *Parser) parseLocalVars(te *TypeExpr) *LocalDecl {
	decl := &LocalDecl{stmtBase: stmtBase{te.Loc}}
	stars := 0
	for {
		name, loc := p.expectIdent()
		if name == "" {
			return decl
		}
		v := &VarDecl{Name: name, Type: withStars(te, stars), Loc: loc}
		v.Dims = p.parseDims()
		if p.check(TokenAssign) {
			v.Init = p.parseExpressionPriority13()
		}
		decl.Vars = append(decl.Vars, v)
		if !p.check(TokenComma) {
			return decl
		}
		stars = p.parseStars()
	}
}

// ---------------------------------------------------------------------------
// Loops and switch
// ---------------------------------------------------------------------------

// parseFor parses `for (init; cond; post) body`. Init is either one
// declaration or a comma separated list of expressions.
func (p *Parser) parseFor() Statement {
	s := &For{stmtBase: stmtBase{p.curToken.Loc}}
	p.nextToken()
	if !p.expect(TokenLParen) {
		p.skipTo()
		return nil
	}

	if !p.curTokenIs(TokenSemicolon) {
		if decl := p.tryLocalDecl(); decl != nil {
			s.Init = append(s.Init, decl)
		} else {
			for {
				e := p.parseExpression()
				s.Init = append(s.Init, &ExprStmt{stmtBase{p.curToken.Loc}, e})
				if !p.check(TokenComma) {
					break
				}
			}
		}
	}
	p.expect(TokenSemicolon)
	if !p.curTokenIs(TokenSemicolon) {
		s.Cond = p.parseExpression()
	}
	p.expect(TokenSemicolon)
	if !p.curTokenIs(TokenRParen) {
		for {
			s.Post = append(s.Post, p.parseExpression())
			if !p.check(TokenComma) {
				break
			}
		}
	}
	p.expect(TokenRParen)
	s.Body = p.parseStatement()
	if s.Body == nil || p.hadErrorSince(s.loc) {
		return nil
	}
	return s
}

// foreachVar is one declared variable of a foreach header.
type foreachVar struct {
	decl  *VarDecl
	byRef bool
}

// parseForeachVar parses `[ref] [Type] name`. A bare name declares a
// variable whose type is inferred.
func (p *Parser) parseForeachVar() *foreachVar {
	fv := &foreachVar{byRef: p.check(TokenRef)}
	loc := p.curToken.Loc
	var te *TypeExpr
	if p.curTokenIs(TokenIdentifier) && (p.peekTokenIs(TokenComma) || p.peekTokenIs(TokenSemicolon)) {
		te = &TypeExpr{Loc: loc, Auto: true}
	} else if te = p.parseType(); te == nil {
		p.errorf("Loop variable expected, found %s", p.curToken.Type)
		return nil
	}
	name, nloc := p.expectIdent()
	if name == "" {
		return nil
	}
	fv.decl = &VarDecl{Name: name, Type: te, Loc: nloc}
	return fv
}

// parseForeach parses the range form `foreach (i; lo .. hi)` and the
// array form `foreach ([i,] [ref] v; arr)`, each with an optional
// trailing `; reversed` option.
func (p *Parser) parseForeach() Statement {
	loc := p.curToken.Loc
	p.nextToken()
	if !p.expect(TokenLParen) {
		p.skipTo()
		return nil
	}

	var vars []*foreachVar
	for {
		fv := p.parseForeachVar()
		if fv == nil {
			p.skipTo()
			return nil
		}
		vars = append(vars, fv)
		if !p.check(TokenComma) {
			break
		}
	}
	p.expect(TokenSemicolon)
	lo := p.parseExpressionPriority13()
	var hi Expression
	isRange := p.check(TokenDotDot)
	if isRange {
		hi = p.parseExpressionPriority13()
	}

	reversed := false
	if p.check(TokenSemicolon) {
		opt, oloc := p.expectIdent()
		switch strings.ToLower(opt) {
		case "reverse", "reversed", "backward":
			reversed = true
		case "forward":
		case "":
		default:
			p.diags.Errorf(oloc, "Unknown foreach option `%s`", opt)
		}
	}
	p.expect(TokenRParen)
	body := p.parseStatement()
	if body == nil || p.hadErrorSince(loc) {
		return nil
	}

	if isRange {
		if len(vars) != 1 || vars[0].byRef {
			p.diags.Errorf(loc, "Range foreach takes a single loop variable")
			return nil
		}
		return &ForeachRange{stmtBase: stmtBase{loc}, Var: vars[0].decl, Lo: lo, Hi: hi, Reversed: reversed, Body: body}
	}
	s := &ForeachArray{stmtBase: stmtBase{loc}, Array: lo, Reversed: reversed, Body: body}
	switch len(vars) {
	case 1:
		s.Value, s.ByRef = vars[0].decl, vars[0].byRef
	case 2:
		if vars[0].byRef {
			p.diags.Errorf(vars[0].decl.Loc, "Index variable cannot be `ref`")
			return nil
		}
		s.Index = vars[0].decl
		s.Value, s.ByRef = vars[1].decl, vars[1].byRef
	default:
		p.diags.Errorf(loc, "Array foreach takes one or two loop variables")
		return nil
	}
	return s
}

// parseSwitch parses `switch (expr) { case N: ... default: ... }`.
func (p *Parser) parseSwitch() Statement {
	s := &Switch{stmtBase: stmtBase{p.curToken.Loc}}
	p.nextToken()
	s.Expr = p.parseCondition()
	if !p.expect(TokenLBrace) {
		p.skipTo()
		return nil
	}
	for !p.curTokenIs(TokenRBrace) && !p.curTokenIs(TokenEOF) {
		tok := p.curToken
		switch tok.Type {
		case TokenCase:
			p.nextToken()
			v := p.parseExpressionPriority13()
			p.expect(TokenColon)
			s.Body = append(s.Body, &CaseStmt{stmtBase: stmtBase{tok.Loc}, Value: v})
		case TokenDefault:
			p.nextToken()
			p.expect(TokenColon)
			s.Body = append(s.Body, &DefaultStmt{stmtBase: stmtBase{tok.Loc}})
		default:
			start := p.mark()
			if st := p.parseStatement(); st != nil {
				s.Body = append(s.Body, st)
			}
			if p.mark() == start {
				p.nextToken()
			}
		}
	}
	p.expect(TokenRBrace)
	if p.hadErrorSince(s.loc) {
		return nil
	}
	return s
}
