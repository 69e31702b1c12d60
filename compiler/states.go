package compiler

import (
	"fmt"
	"strings"

	"github.com/chazu/vavoomc/vm"
)

// ---------------------------------------------------------------------------
// States: parsing of `states { ... }` and goto label fix-up
// ---------------------------------------------------------------------------

// TicRate is the number of tics per second; frame durations are written
// in tics and stored in seconds.
const TicRate = 35

// maxGotoDepth bounds the walk that validates a `Goto Label+N` target.
const maxGotoDepth = 1024

// stateBlock is the parse state of one states block.
type stateBlock struct {
	cd        *ClassDecl
	pending   []vm.StateLabel // labels waiting for the next state
	prev      *vm.State       // last state created
	loopStart *vm.State       // first state after the latest label
	open      bool            // prev still falls through to the next state
}

// parseStates parses a states block. Each frame line is
//
//	SPRT FRAMES tics [bright] [Action | Action(args) | { code }]
//
// and produces one state per frame letter. Lines starting with `Label:`
// name the next state; `Loop`, `Stop`, `Wait` and `Goto Label[+N]` end a
// sequence.
func (p *Parser) parseStates(cd *ClassDecl) {
	p.nextToken()
	if !p.expect(TokenLBrace) {
		p.skipTo()
		return
	}
	sb := &stateBlock{cd: cd}
	for !p.curTokenIs(TokenRBrace) && !p.curTokenIs(TokenEOF) {
		tok := p.curToken
		if tok.Type == TokenIdentifier && p.peekTokenIs(TokenColon) {
			p.nextToken()
			p.nextToken()
			sb.pending = append(sb.pending, vm.StateLabel{Name: tok.Literal})
			continue
		}
		if tok.Type == TokenIdentifier && p.parseStateJump(sb) {
			continue
		}
		start := p.mark()
		p.parseFrameLine(sb)
		if p.mark() == start {
			p.nextToken()
		}
	}
	if len(sb.pending) > 0 {
		p.errorf("State label at the end of state block")
	}
	p.expect(TokenRBrace)
}

// parseStateJump handles the sequence terminators. It reports false when
// the current identifier is not one of them.
func (p *Parser) parseStateJump(sb *stateBlock) bool {
	tok := p.curToken
	switch strings.ToLower(tok.Literal) {
	case "loop":
		p.nextToken()
		if sb.prev == nil || sb.loopStart == nil {
			p.diags.Errorf(tok.Loc, "Loop before first state")
			return true
		}
		sb.prev.NextState = sb.loopStart
	case "stop":
		p.nextToken()
		if len(sb.pending) > 0 {
			// A label followed directly by Stop names the null state.
			p.addLabels(sb, nil)
			return true
		}
		if sb.prev == nil {
			p.diags.Errorf(tok.Loc, "Stop before first state")
			return true
		}
		sb.prev.NextState = nil
	case "wait":
		p.nextToken()
		if sb.prev == nil {
			p.diags.Errorf(tok.Loc, "Wait before first state")
			return true
		}
		sb.prev.NextState = sb.prev
	case "goto":
		p.nextToken()
		label, ok := p.parseGotoLabel()
		if !ok {
			return true
		}
		offset := 0
		if p.check(TokenPlus) {
			if !p.curTokenIs(TokenInt) {
				p.errorf("Goto offset expected, found %s", p.curToken.Type)
				return true
			}
			offset = int(p.curToken.Int)
			p.nextToken()
		}
		if sb.prev == nil {
			p.diags.Errorf(tok.Loc, "Goto before first state")
			return true
		}
		if len(sb.pending) > 0 {
			p.diags.Errorf(tok.Loc, "State label `%s` has no state before Goto", sb.pending[0].Name)
			sb.pending = nil
		}
		sb.prev.NextState = nil
		sb.prev.GotoLabel = label
		sb.prev.GotoOffset = offset
	default:
		return false
	}
	sb.open = false
	return true
}

// parseGotoLabel parses `Label` or `Scope::Label`.
func (p *Parser) parseGotoLabel() (string, bool) {
	if p.curTokenIs(TokenSuper) {
		p.nextToken()
		if !p.expect(TokenDColon) {
			return "", false
		}
		name, _ := p.expectIdent()
		return "super::" + name, name != ""
	}
	name, _ := p.expectIdent()
	if name == "" {
		return "", false
	}
	if p.check(TokenDColon) {
		label, _ := p.expectIdent()
		return name + "::" + label, label != ""
	}
	return name, true
}

func (p *Parser) addLabels(sb *stateBlock, st *vm.State) {
	cls := sb.cd.Class
	for _, l := range sb.pending {
		for _, have := range cls.Labels {
			if strings.EqualFold(have.Name, l.Name) {
				p.errorf("Duplicate state label `%s`", l.Name)
			}
		}
		l.State = st
		cls.Labels = append(cls.Labels, l)
	}
	sb.pending = nil
}

// parseFrameLine parses one frame definition. The line ends at the first
// token that starts a new source line.
func (p *Parser) parseFrameLine(sb *stateBlock) {
	cls := sb.cd.Class
	tok := p.curToken
	if tok.Type != TokenIdentifier && tok.Type != TokenString {
		p.errorf("Sprite name expected, found %s", tok.Type)
		return
	}
	sprite := tok.Literal
	if len(sprite) != 4 {
		p.diags.Errorf(tok.Loc, "Invalid sprite name `%s`", sprite)
	}
	p.nextToken()

	ftok := p.curToken
	if ftok.NewLine || (ftok.Type != TokenIdentifier && ftok.Type != TokenString) {
		p.errorf("Frame letters expected, found %s", ftok.Type)
		return
	}
	var frames []int
	for _, r := range strings.ToUpper(ftok.Literal) {
		if r < 'A' || r > 'Z' {
			p.diags.Errorf(ftok.Loc, "Invalid frame letter `%c`", r)
			continue
		}
		frames = append(frames, int(r-'A'))
	}
	p.nextToken()

	neg := p.check(TokenMinus)
	var tics float32
	switch p.curToken.Type {
	case TokenInt:
		tics = float32(p.curToken.Int)
	case TokenFloat:
		tics = p.curToken.Float
	default:
		p.errorf("State duration expected, found %s", p.curToken.Type)
		return
	}
	p.nextToken()
	time := tics / TicRate
	if neg {
		time = -1
	}

	if p.onLine() && p.curTokenIs(TokenIdentifier) && strings.EqualFold(p.curToken.Literal, "bright") {
		p.nextToken()
	}

	var (
		funcName string
		inline   *MethodDecl
	)
	if p.onLine() {
		switch {
		case p.curTokenIs(TokenLBrace):
			inline = p.stateMethod(sb.cd, p.curToken.Loc, p.parseCompound())
		case p.curTokenIs(TokenIdentifier) && p.peekTokenIs(TokenLParen):
			loc := p.curToken.Loc
			call := p.parseExpression()
			p.check(TokenSemicolon)
			body := &Compound{stmtBase{loc}, []Statement{&ExprStmt{stmtBase{loc}, call}}}
			inline = p.stateMethod(sb.cd, loc, body)
		case p.curTokenIs(TokenIdentifier):
			funcName = p.curToken.Literal
			p.nextToken()
		}
	}
	if p.onLine() {
		p.errorf("Unexpected %s after frame definition", p.curToken.Type)
		for p.onLine() {
			p.nextToken()
		}
	}

	for i, frame := range frames {
		st := &vm.State{
			MemberBase:   vm.MemberBase{Name: fmt.Sprintf("S_%d", len(cls.States)), Outer: cls, Location: tok.Loc},
			SpriteName:   sprite,
			Frame:        frame,
			Time:         time,
			FuncName:     funcName,
			InClassIndex: len(cls.States),
		}
		sd := &StateDecl{State: st, Loc: tok.Loc}
		if inline != nil {
			st.Function = inline.Method
			if i == 0 {
				sd.Inline = inline
			}
		}
		if sb.prev != nil {
			sb.prev.Next = st
			if sb.open {
				sb.prev.NextState = st
			}
		}
		if len(sb.pending) > 0 {
			p.addLabels(sb, st)
			sb.loopStart = st
		} else if sb.loopStart == nil {
			sb.loopStart = st
		}
		p.pkg.AddMember(st)
		sb.cd.States = append(sb.cd.States, sd)
		sb.prev = st
		sb.open = true
	}
}

// onLine reports whether the current token continues the line being parsed.
func (p *Parser) onLine() bool {
	return !p.curToken.NewLine && !p.curTokenIs(TokenEOF) && !p.curTokenIs(TokenRBrace)
}

// stateMethod wraps the code attached to a frame in a method of the class.
func (p *Parser) stateMethod(cd *ClassDecl, loc vm.Location, body *Compound) *MethodDecl {
	cls := cd.Class
	m := vm.NewMethod(fmt.Sprintf("S_%d_Action", len(cls.States)), cls, loc)
	m.Flags = vm.MethodFinal
	md := &MethodDecl{Method: m, Owner: cls, Return: &TypeExpr{Loc: loc, Kind: vm.TypeVoid}, Body: body}
	p.pkg.AddMember(m)
	cd.Methods = append(cd.Methods, md)
	return md
}

// ---------------------------------------------------------------------------
// Fix-up
// ---------------------------------------------------------------------------

// resolveStates binds state actions to methods and turns pending goto
// labels into NextState links. Labels are looked up through the parent
// chain, so a class may jump to labels it inherits.
func (c *Compiler) resolveStates(cd *ClassDecl) {
	cls := cd.Class
	for _, sd := range cd.States {
		st := sd.State
		if st.FuncName != "" {
			m := cls.FindMethod(st.FuncName)
			switch {
			case m == nil:
				c.diags.Errorf(sd.Loc, "State method `%s` not found", st.FuncName)
			case m.IsStatic() || len(m.Params) > 0 || m.IsVarArgs():
				c.diags.Errorf(sd.Loc, "State method `%s` must be a non-static method without parameters", st.FuncName)
			default:
				st.Function = m
			}
		}
		if st.GotoLabel == "" {
			continue
		}
		target, ok := c.gotoTarget(cls, st, sd.Loc)
		if ok {
			st.NextState = target
			st.GotoLabel = ""
			st.GotoOffset = 0
		}
	}
}

// gotoTarget finds the state `Goto Label+N` leads to. A goto to a label
// bound to Stop yields nil.
func (c *Compiler) gotoTarget(cls *vm.Class, st *vm.State, loc vm.Location) (*vm.State, bool) {
	scope, label := cls, st.GotoLabel
	if i := strings.Index(label, "::"); i >= 0 {
		switch name := label[:i]; {
		case strings.EqualFold(name, "super"):
			scope = cls.Parent
		default:
			scope = c.findClass(name)
			if scope != nil && !cls.IsChildOf(scope) {
				c.diags.Errorf(loc, "Class `%s` is not an ancestor of `%s`", name, cls.Name)
				return nil, false
			}
		}
		label = label[i+2:]
		if scope == nil {
			c.diags.Errorf(loc, "No class for state label `%s`", st.GotoLabel)
			return nil, false
		}
	}
	lbl, ok := scope.FindStateLabel(label)
	if !ok {
		c.diags.Errorf(loc, "No such state label `%s`", st.GotoLabel)
		return nil, false
	}
	if lbl.State == nil {
		if st.GotoOffset != 0 {
			c.diags.Errorf(loc, "Goto offset on stop label `%s`", st.GotoLabel)
			return nil, false
		}
		return nil, true
	}
	target := lbl.State.Advance(st.GotoOffset)
	if target == nil || !target.IsInRange(lbl.State, nil, maxGotoDepth) || !target.IsInSequence(lbl.State) {
		c.diags.Errorf(loc, "Goto offset %d is outside the states of label `%s`", st.GotoOffset, st.GotoLabel)
		return nil, false
	}
	return target, true
}
