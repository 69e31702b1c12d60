package compiler

import (
	"strings"

	"github.com/chazu/vavoomc/vm"
)

// ---------------------------------------------------------------------------
// Parser: recursive descent parser for VavoomC source
// ---------------------------------------------------------------------------

// MaxParams bounds the parameters of one method.
const MaxParams = 16

// Parser turns one source file into declarations. Classes, structs,
// constants, fields and methods are created as package members as soon
// as they are parsed; types and bodies are resolved by later passes.
type Parser struct {
	file      string
	tokens    []Token
	pos       int
	curToken  Token
	peekToken Token

	pkg   *vm.Package
	diags *Diagnostics
	unit  *Unit
}

// NewParser creates a parser for input that declares its members in pkg
// and reports problems to diags.
func NewParser(file, input string, pkg *vm.Package, diags *Diagnostics) *Parser {
	p := &Parser{
		file:  file,
		pkg:   pkg,
		diags: diags,
		unit:  &Unit{File: file},
	}
	for _, tok := range NewLexer(file, input).Tokenize() {
		if tok.Type == TokenError {
			diags.Errorf(tok.Loc, "%s", tok.Literal)
			continue
		}
		p.tokens = append(p.tokens, tok)
	}
	p.pos = -1
	p.nextToken()
	return p
}

// nextToken advances to the next token. The final EOF token repeats.
func (p *Parser) nextToken() {
	if p.pos < len(p.tokens)-1 {
		p.pos++
	}
	p.curToken = p.tokens[p.pos]
	p.peekToken = p.peekAt(1)
}

// peekAt returns the token n positions after the current one.
func (p *Parser) peekAt(n int) Token {
	i := min(p.pos+n, len(p.tokens)-1)
	return p.tokens[i]
}

// mark and reset support speculative parsing.
func (p *Parser) mark() int { return p.pos }

func (p *Parser) reset(pos int) {
	p.pos = pos - 1
	p.nextToken()
}

// curTokenIs checks if the current token is of the given type.
func (p *Parser) curTokenIs(t TokenType) bool {
	return p.curToken.Type == t
}

// peekTokenIs checks if the peek token is of the given type.
func (p *Parser) peekTokenIs(t TokenType) bool {
	return p.peekToken.Type == t
}

// check consumes the current token if it has type t.
func (p *Parser) check(t TokenType) bool {
	if p.curTokenIs(t) {
		p.nextToken()
		return true
	}
	return false
}

// expect consumes a token of type t or records an error.
func (p *Parser) expect(t TokenType) bool {
	if p.check(t) {
		return true
	}
	p.errorf("%s expected, found %s", t, p.curToken.Type)
	return false
}

// expectIdent consumes an identifier and returns its text.
func (p *Parser) expectIdent() (string, vm.Location) {
	tok := p.curToken
	if tok.Type != TokenIdentifier {
		p.errorf("Identifier expected, found %s", tok.Type)
		return "", tok.Loc
	}
	p.nextToken()
	return tok.Literal, tok.Loc
}

// errorf records a parse error at the current token.
func (p *Parser) errorf(format string, args ...any) {
	p.diags.Errorf(p.curToken.Loc, format, args...)
}

// skipTo discards tokens up to and including the next `;`, or up to the
// next `}` or EOF.
func (p *Parser) skipTo() {
	for !p.curTokenIs(TokenEOF) && !p.curTokenIs(TokenRBrace) {
		if p.check(TokenSemicolon) {
			return
		}
		p.nextToken()
	}
}

// ---------------------------------------------------------------------------
// Top-level parsing
// ---------------------------------------------------------------------------

// Parse parses the whole file.
func (p *Parser) Parse() *Unit {
	for !p.curTokenIs(TokenEOF) {
		switch p.curToken.Type {
		case TokenImport:
			p.parseImport()
		case TokenEnum:
			p.unit.Consts = append(p.unit.Consts, p.parseEnum(nil)...)
		case TokenConst:
			p.unit.Consts = append(p.unit.Consts, p.parseConst(nil)...)
		case TokenStruct, TokenVector:
			if sd := p.parseStruct(nil); sd != nil {
				p.unit.Structs = append(p.unit.Structs, sd)
			}
		case TokenClass:
			p.parseClass()
		case TokenSemicolon:
			p.nextToken()
		default:
			p.errorf("Class declaration expected, found %s", p.curToken.Type)
			p.skipDeclaration()
		}
	}
	return p.unit
}

// skipDeclaration discards tokens up to and including the next `;` or
// the `}` closing a brace block, whichever ends the declaration first.
func (p *Parser) skipDeclaration() {
	depth := 0
	for !p.curTokenIs(TokenEOF) {
		switch p.curToken.Type {
		case TokenLBrace:
			depth++
		case TokenRBrace:
			depth--
			if depth <= 0 {
				p.nextToken()
				return
			}
		case TokenSemicolon:
			if depth == 0 {
				p.nextToken()
				return
			}
		}
		p.nextToken()
	}
}

// parseImport parses `import 'Name';`.
func (p *Parser) parseImport() {
	p.nextToken()
	tok := p.curToken
	if tok.Type != TokenName && tok.Type != TokenIdentifier {
		p.errorf("Package name expected, found %s", tok.Type)
		p.skipTo()
		return
	}
	p.nextToken()
	p.unit.Imports = append(p.unit.Imports, ImportDecl{Name: tok.Literal, Loc: tok.Loc})
	p.expect(TokenSemicolon)
}

// ---------------------------------------------------------------------------
// Modifiers
// ---------------------------------------------------------------------------

type modifiers uint16

const (
	modNative modifiers = 1 << iota
	modStatic
	modFinal
	modAbstract
	modPrivate
	modProtected
	modReadOnly
	modTransient
	modOverride
	modOptional
	modOut
	modRef
)

var modifierTokens = map[TokenType]modifiers{
	TokenNative:    modNative,
	TokenStatic:    modStatic,
	TokenFinal:     modFinal,
	TokenAbstract:  modAbstract,
	TokenPrivate:   modPrivate,
	TokenProtected: modProtected,
	TokenReadonly:  modReadOnly,
	TokenTransient: modTransient,
	TokenOverride:  modOverride,
	TokenOptional:  modOptional,
	TokenOut:       modOut,
	TokenRef:       modRef,
}

// parseModifiers consumes any run of modifier keywords.
func (p *Parser) parseModifiers() modifiers {
	var mods modifiers
	for {
		m, ok := modifierTokens[p.curToken.Type]
		if !ok {
			return mods
		}
		if mods&m != 0 {
			p.errorf("Duplicate modifier %s", p.curToken.Type)
		}
		mods |= m
		p.nextToken()
	}
}

var modifierNames = func() map[modifiers]TokenType {
	m := make(map[modifiers]TokenType, len(modifierTokens))
	for tok, mod := range modifierTokens {
		m[mod] = tok
	}
	return m
}()

// checkModifiers reports modifiers outside allowed and drops them.
func (p *Parser) checkModifiers(mods, allowed modifiers, what string, loc vm.Location) modifiers {
	bad := mods &^ allowed
	for m := modifiers(1); m != 0 && m <= bad; m <<= 1 {
		if bad&m != 0 {
			p.diags.Errorf(loc, "Modifier %s is not allowed for %s", modifierNames[m], what)
		}
	}
	return mods & allowed
}

// ---------------------------------------------------------------------------
// Types
// ---------------------------------------------------------------------------

var builtinTypeTokens = map[TokenType]vm.TypeKind{
	TokenVoid:     vm.TypeVoid,
	TokenIntKw:    vm.TypeInt,
	TokenByte:     vm.TypeByte,
	TokenBool:     vm.TypeBool,
	TokenFloatKw:  vm.TypeFloat,
	TokenNameKw:   vm.TypeName,
	TokenStringKw: vm.TypeString,
	TokenVector:   vm.TypeVector,
	TokenState:    vm.TypeState,
}

// parseType parses a type, or returns nil without consuming anything
// when the current token cannot start one. It reports nothing, so it can
// be used speculatively.
func (p *Parser) parseType() *TypeExpr {
	start := p.mark()
	te := &TypeExpr{Loc: p.curToken.Loc}
	switch tok := p.curToken; tok.Type {
	case TokenAuto:
		p.nextToken()
		te.Auto = true
		return te
	case TokenIdentifier:
		p.nextToken()
		te.Name = tok.Literal
	case TokenClass:
		p.nextToken()
		te.Kind = vm.TypeClass
		if p.check(TokenNot) {
			if !p.curTokenIs(TokenIdentifier) {
				p.reset(start)
				return nil
			}
			te.Name = p.curToken.Literal
			p.nextToken()
		}
	case TokenArray:
		p.nextToken()
		if !p.check(TokenNot) {
			p.reset(start)
			return nil
		}
		paren := p.check(TokenLParen)
		elem := p.parseType()
		if elem == nil || elem.Auto || (paren && !p.check(TokenRParen)) {
			p.reset(start)
			return nil
		}
		te.Dynamic, te.Elem = true, elem
	default:
		kind, ok := builtinTypeTokens[tok.Type]
		if !ok {
			return nil
		}
		p.nextToken()
		te.Kind = kind
	}

	for {
		switch {
		case p.curTokenIs(TokenStar):
			p.nextToken()
			te.PtrLevel++
		case p.curTokenIs(TokenLBracket) && p.peekTokenIs(TokenRBracket):
			p.nextToken()
			p.nextToken()
			te = &TypeExpr{Loc: te.Loc, Slice: true, Elem: te}
		default:
			return te
		}
	}
}

// withStars returns te with extra pointer levels, copying when needed.
func withStars(te *TypeExpr, n int) *TypeExpr {
	if n == 0 {
		return te
	}
	cp := *te
	cp.PtrLevel += n
	return &cp
}

// parseStars consumes leading `*`s of a declarator after a comma.
func (p *Parser) parseStars() int {
	n := 0
	for p.check(TokenStar) {
		n++
	}
	return n
}

// parseDims parses an optional `[N]` or `[N, M]` declarator suffix.
func (p *Parser) parseDims() []Expression {
	if !p.check(TokenLBracket) {
		return nil
	}
	dims := []Expression{p.parseExpressionPriority13()}
	if p.check(TokenComma) {
		dims = append(dims, p.parseExpressionPriority13())
	}
	p.expect(TokenRBracket)
	return dims
}

// ---------------------------------------------------------------------------
// Constants and enums
// ---------------------------------------------------------------------------

func (p *Parser) constOuter(owner *ClassDecl) vm.Member {
	if owner != nil {
		return owner.Class
	}
	return p.pkg
}

func ownerClass(owner *ClassDecl) *vm.Class {
	if owner != nil {
		return owner.Class
	}
	return nil
}

// parseEnum parses `enum [Name] { A, B = 5, C }` or `enum X = value;`.
func (p *Parser) parseEnum(owner *ClassDecl) []*ConstDecl {
	p.nextToken()
	outer := p.constOuter(owner)

	if p.curTokenIs(TokenIdentifier) && p.peekTokenIs(TokenAssign) {
		name, loc := p.expectIdent()
		p.nextToken()
		c := &vm.Constant{MemberBase: vm.MemberBase{Name: name, Outer: outer, Location: loc}}
		cd := &ConstDecl{Const: c, Kind: vm.TypeInt, Value: p.parseExpressionPriority13(), Owner: ownerClass(owner)}
		p.pkg.AddMember(c)
		p.expect(TokenSemicolon)
		return []*ConstDecl{cd}
	}

	var enumName string
	if p.curTokenIs(TokenIdentifier) {
		enumName = p.curToken.Literal
		p.nextToken()
	}
	if !p.expect(TokenLBrace) {
		p.skipTo()
		return nil
	}
	var (
		out  []*ConstDecl
		prev *ConstDecl
	)
	for !p.curTokenIs(TokenRBrace) && !p.curTokenIs(TokenEOF) {
		name, loc := p.expectIdent()
		if name == "" {
			p.skipTo()
			break
		}
		c := &vm.Constant{
			MemberBase: vm.MemberBase{Name: name, Outer: outer, Location: loc},
			EnumName:   enumName,
		}
		cd := &ConstDecl{Const: c, Kind: vm.TypeInt, Owner: ownerClass(owner), Prev: prev}
		if prev != nil {
			c.PrevEnumValue = prev.Const
		}
		if p.check(TokenAssign) {
			cd.Value = p.parseExpressionPriority13()
		}
		p.pkg.AddMember(c)
		out = append(out, cd)
		prev = cd
		if !p.check(TokenComma) {
			break
		}
	}
	p.expect(TokenRBrace)
	p.check(TokenSemicolon)
	return out
}

var constTypeTokens = map[TokenType]vm.TypeKind{
	TokenIntKw:    vm.TypeInt,
	TokenByte:     vm.TypeInt,
	TokenBool:     vm.TypeInt,
	TokenFloatKw:  vm.TypeFloat,
	TokenNameKw:   vm.TypeName,
	TokenStringKw: vm.TypeString,
}

// parseConst parses `const Type A = x, B = y;`.
func (p *Parser) parseConst(owner *ClassDecl) []*ConstDecl {
	p.nextToken()
	kind, ok := constTypeTokens[p.curToken.Type]
	if !ok {
		p.errorf("Constant type expected, found %s", p.curToken.Type)
		p.skipTo()
		return nil
	}
	p.nextToken()
	outer := p.constOuter(owner)
	var out []*ConstDecl
	for {
		name, loc := p.expectIdent()
		if name == "" {
			p.skipTo()
			return out
		}
		c := &vm.Constant{MemberBase: vm.MemberBase{Name: name, Outer: outer, Location: loc}}
		if !p.expect(TokenAssign) {
			p.skipTo()
			return out
		}
		out = append(out, &ConstDecl{Const: c, Kind: kind, Value: p.parseExpressionPriority13(), Owner: ownerClass(owner)})
		p.pkg.AddMember(c)
		if !p.check(TokenComma) {
			break
		}
	}
	p.expect(TokenSemicolon)
	return out
}

// ---------------------------------------------------------------------------
// Structs
// ---------------------------------------------------------------------------

// parseStruct parses `struct Name [: Parent] { fields }`, or the same
// with `vector` for a three-float struct that behaves as a vector.
func (p *Parser) parseStruct(owner *ClassDecl) *StructDecl {
	isVector := p.curTokenIs(TokenVector)
	p.nextToken()
	name, loc := p.expectIdent()
	if name == "" {
		p.skipTo()
		return nil
	}
	var outer vm.Member = p.pkg
	if owner != nil {
		outer = owner.Class
	}
	s := vm.NewStruct(name, outer, loc)
	s.IsVector = isVector
	if p.check(TokenColon) {
		s.ParentName, _ = p.expectIdent()
	}
	p.pkg.AddMember(s)
	sd := &StructDecl{Struct: s, Owner: ownerClass(owner), Loc: loc}

	if !p.expect(TokenLBrace) {
		p.skipTo()
		return sd
	}
	for !p.curTokenIs(TokenRBrace) && !p.curTokenIs(TokenEOF) {
		if p.curTokenIs(TokenAlias) {
			p.parseAliases(&s.Aliases)
			continue
		}
		start := p.mark()
		sd.Fields = p.parseFieldList(s, sd.Fields)
		if p.mark() == start {
			p.nextToken()
		}
	}
	p.expect(TokenRBrace)
	p.check(TokenSemicolon)
	return sd
}

const fieldModifiers = modNative | modPrivate | modProtected | modReadOnly | modTransient

func fieldFlags(mods modifiers) vm.FieldFlags {
	var f vm.FieldFlags
	if mods&modNative != 0 {
		f |= vm.FieldNative
	}
	if mods&modPrivate != 0 {
		f |= vm.FieldPrivate
	}
	if mods&modProtected != 0 {
		f |= vm.FieldProtected
	}
	if mods&modReadOnly != 0 {
		f |= vm.FieldReadOnly
	}
	if mods&modTransient != 0 {
		f |= vm.FieldTransient
	}
	return f
}

// parseFieldList parses `[mods] Type a [N], *b;` inside a struct and
// appends the fields to out.
func (p *Parser) parseFieldList(s *vm.Struct, out []*FieldDecl) []*FieldDecl {
	loc := p.curToken.Loc
	mods := p.checkModifiers(p.parseModifiers(), fieldModifiers, "struct fields", loc)
	te := p.parseType()
	if te == nil || te.Auto {
		p.errorf("Field type expected, found %s", p.curToken.Type)
		p.skipTo()
		return out
	}
	first := true
	for {
		stars := 0
		if !first {
			stars = p.parseStars()
		}
		first = false
		name, nloc := p.expectIdent()
		if name == "" {
			p.skipTo()
			return out
		}
		f := &vm.Field{MemberBase: vm.MemberBase{Name: name, Outer: s, Location: nloc}, Flags: fieldFlags(mods)}
		out = append(out, &FieldDecl{Field: f, Type: withStars(te, stars), Dims: p.parseDims()})
		p.pkg.AddMember(f)
		if !p.check(TokenComma) {
			break
		}
	}
	p.expect(TokenSemicolon)
	return out
}

// parseAliases parses `alias a = b, c = d;` into table.
func (p *Parser) parseAliases(table *vm.AliasTable) {
	p.nextToken()
	for {
		name, loc := p.expectIdent()
		if name == "" || !p.expect(TokenAssign) {
			p.skipTo()
			return
		}
		target, _ := p.expectIdent()
		if target == "" {
			p.skipTo()
			return
		}
		if !table.Add(name, target, loc) {
			p.diags.Errorf(loc, "Alias `%s` redefined", name)
		}
		if !p.check(TokenComma) {
			break
		}
	}
	p.expect(TokenSemicolon)
}

// ---------------------------------------------------------------------------
// Classes
// ---------------------------------------------------------------------------

// parseClass parses `class Name : Parent [native] [abstract] [transient];`
// and the members that follow, up to the next class, EOF, or the class's
// defaultproperties block.
func (p *Parser) parseClass() {
	p.nextToken()
	name, loc := p.expectIdent()
	if name == "" {
		p.skipTo()
		return
	}
	for _, other := range p.pkg.Classes {
		if strings.EqualFold(other.Name, name) {
			p.diags.Errorf(loc, "Class `%s` already defined at %s", name, other.Location)
		}
	}
	cls := vm.NewClass(name, p.pkg, loc)
	if p.check(TokenColon) {
		cls.ParentName, _ = p.expectIdent()
	}
	mods := p.checkModifiers(p.parseModifiers(), modNative|modAbstract|modTransient, "classes", loc)
	if mods&modNative != 0 {
		cls.Flags |= vm.ClassNative
	}
	if mods&modAbstract != 0 {
		cls.Flags |= vm.ClassAbstract
	}
	if mods&modTransient != 0 {
		cls.Flags |= vm.ClassTransient
	}
	p.expect(TokenSemicolon)
	p.pkg.AddMember(cls)

	cd := &ClassDecl{Class: cls, Loc: loc}
	p.unit.Classes = append(p.unit.Classes, cd)

	for {
		switch p.curToken.Type {
		case TokenEOF:
			return
		case TokenClass:
			if p.peekTokenIs(TokenIdentifier) {
				return
			}
			p.parseMember(cd)
		case TokenDefaultProperties:
			p.nextToken()
			cd.Defaults = p.parseCompound()
			return
		case TokenStates:
			p.parseStates(cd)
		case TokenEnum:
			cd.Consts = append(cd.Consts, p.parseEnum(cd)...)
		case TokenConst:
			cd.Consts = append(cd.Consts, p.parseConst(cd)...)
		case TokenStruct:
			if sd := p.parseStruct(cd); sd != nil {
				cd.Structs = append(cd.Structs, sd)
			}
		case TokenVector:
			// `vector Name {` or `vector Name :` declares a struct; otherwise
			// vector is a field or return type.
			if p.peekTokenIs(TokenIdentifier) && (p.peekAt(2).Type == TokenLBrace || p.peekAt(2).Type == TokenColon) {
				if sd := p.parseStruct(cd); sd != nil {
					cd.Structs = append(cd.Structs, sd)
				}
				continue
			}
			p.parseMember(cd)
		case TokenDelegate:
			p.parseDelegate(cd)
		case TokenReplication:
			p.parseReplication(cd)
		case TokenAlias:
			p.parseAliases(&cls.Aliases)
		case TokenSemicolon:
			p.nextToken()
		default:
			start := p.mark()
			p.parseMember(cd)
			if p.mark() == start {
				p.nextToken()
			}
		}
	}
}

const methodModifiers = modNative | modStatic | modFinal | modPrivate | modOverride

// parseMember parses a field list, a method or a property. All three
// begin with modifiers, a type and a name.
func (p *Parser) parseMember(cd *ClassDecl) {
	loc := p.curToken.Loc
	mods := p.parseModifiers()
	te := p.parseType()
	if te == nil || te.Auto {
		p.errorf("Type expected, found %s", p.curToken.Type)
		p.skipTo()
		return
	}
	name, nloc := p.expectIdent()
	if name == "" {
		p.skipTo()
		return
	}

	switch {
	case p.curTokenIs(TokenLParen):
		mods = p.checkModifiers(mods, methodModifiers, "methods", loc)
		p.parseMethod(cd, mods, te, name, nloc)
	case p.curTokenIs(TokenLBrace):
		mods = p.checkModifiers(mods, modFinal|modPrivate, "properties", loc)
		p.parseProperty(cd, mods, te, name, nloc)
	default:
		mods = p.checkModifiers(mods, fieldModifiers, "fields", loc)
		p.parseClassFields(cd, mods, te, name, nloc)
	}
}

// parseClassFields parses the declarators of a field list. A field may
// carry an initializer, which becomes an assignment run before the
// defaultproperties block.
func (p *Parser) parseClassFields(cd *ClassDecl, mods modifiers, te *TypeExpr, name string, loc vm.Location) {
	stars := 0
	for {
		f := &vm.Field{MemberBase: vm.MemberBase{Name: name, Outer: cd.Class, Location: loc}, Flags: fieldFlags(mods)}
		cd.Fields = append(cd.Fields, &FieldDecl{Field: f, Type: withStars(te, stars), Dims: p.parseDims()})
		p.pkg.AddMember(f)
		if p.curTokenIs(TokenAssign) {
			aloc := p.curToken.Loc
			p.nextToken()
			init := &Assignment{
				exprBase: exprBase{loc: aloc},
				Op:       TokenAssign,
				Left:     NewSingleName(name, loc),
				Right:    p.parseExpressionPriority13(),
			}
			cd.Inits = append(cd.Inits, &ExprStmt{stmtBase{aloc}, init})
		}
		if !p.check(TokenComma) {
			break
		}
		stars = p.parseStars()
		if name, loc = p.expectIdent(); name == "" {
			p.skipTo()
			return
		}
	}
	p.expect(TokenSemicolon)
}

func methodFlags(mods modifiers) vm.MethodFlags {
	var f vm.MethodFlags
	if mods&modNative != 0 {
		f |= vm.MethodNative
	}
	if mods&modStatic != 0 {
		f |= vm.MethodStatic
	}
	if mods&modFinal != 0 {
		f |= vm.MethodFinal
	}
	if mods&modPrivate != 0 {
		f |= vm.MethodPrivate
	}
	if mods&modOverride != 0 {
		f |= vm.MethodOverride
	}
	return f
}

// parseMethod parses the parameter list and body of a method whose
// modifiers, return type and name have been read.
func (p *Parser) parseMethod(cd *ClassDecl, mods modifiers, ret *TypeExpr, name string, loc vm.Location) {
	m := vm.NewMethod(name, cd.Class, loc)
	m.Flags = methodFlags(mods)
	md := &MethodDecl{Method: m, Owner: cd.Class, Return: ret}
	md.Params = p.parseParams(m)

	switch {
	case p.curTokenIs(TokenLBrace):
		if m.IsNative() {
			p.errorf("Native method `%s` cannot have a body", name)
		}
		md.Body = p.parseCompound()
	case p.check(TokenSemicolon):
		if !m.IsNative() {
			p.diags.Errorf(loc, "Method `%s` needs a body", name)
		}
	default:
		p.errorf("Method body expected, found %s", p.curToken.Type)
		p.skipTo()
	}
	p.pkg.AddMember(m)
	cd.Methods = append(cd.Methods, md)
}

const paramModifiers = modOptional | modOut | modRef

// parseParams parses `(params)`. A trailing `...` makes m varargs.
func (p *Parser) parseParams(m *vm.Method) []*ParamDecl {
	if !p.expect(TokenLParen) {
		return nil
	}
	if p.curTokenIs(TokenVoid) && p.peekTokenIs(TokenRParen) {
		p.nextToken()
	}
	var params []*ParamDecl
	for !p.curTokenIs(TokenRParen) && !p.curTokenIs(TokenEOF) {
		if p.check(TokenVarArgs) {
			m.Flags |= vm.MethodVarArgs
			break
		}
		loc := p.curToken.Loc
		mods := p.checkModifiers(p.parseModifiers(), paramModifiers, "parameters", loc)
		te := p.parseType()
		if te == nil || te.Auto {
			p.errorf("Parameter type expected, found %s", p.curToken.Type)
			break
		}
		name, nloc := p.expectIdent()
		if name == "" {
			break
		}
		pd := &ParamDecl{Name: name, Type: te, Loc: nloc}
		if mods&modOptional != 0 {
			pd.Flags |= vm.ParamOptional
		}
		if mods&modOut != 0 {
			pd.Flags |= vm.ParamOut
		}
		if mods&modRef != 0 {
			pd.Flags |= vm.ParamRef
		}
		if len(params) == MaxParams {
			p.diags.Errorf(nloc, "Method parameters overflow")
		}
		params = append(params, pd)
		if !p.check(TokenComma) {
			break
		}
	}
	if !p.expect(TokenRParen) {
		p.skipTo()
	}
	return params
}

// parseProperty parses the accessor block of `Type Name { ... }`:
//
//	get Field; set Field; default Field;
//	get { body } set [(name)] { body }
func (p *Parser) parseProperty(cd *ClassDecl, mods modifiers, te *TypeExpr, name string, loc vm.Location) {
	p.nextToken()
	prop := &vm.Property{MemberBase: vm.MemberBase{Name: name, Outer: cd.Class, Location: loc}}
	pd := &PropertyDecl{Prop: prop, Type: te, Loc: loc}
	flags := methodFlags(mods)

	for !p.curTokenIs(TokenRBrace) && !p.curTokenIs(TokenEOF) {
		tok := p.curToken
		switch {
		case tok.Type == TokenDefault:
			p.nextToken()
			field, _ := p.expectIdent()
			pd.GetField, pd.SetField = field, field
			p.expect(TokenSemicolon)

		case tok.Type == TokenIdentifier && tok.Literal == "get":
			p.nextToken()
			if pd.GetField != "" || pd.Getter != nil {
				p.diags.Errorf(tok.Loc, "Property `%s` already has a getter", name)
			}
			if p.curTokenIs(TokenIdentifier) {
				pd.GetField, _ = p.expectIdent()
				p.expect(TokenSemicolon)
				continue
			}
			m := vm.NewMethod("get_"+name, cd.Class, tok.Loc)
			m.Flags = flags
			pd.Getter = &MethodDecl{Method: m, Owner: cd.Class, Return: te, Body: p.parseCompound()}

		case tok.Type == TokenIdentifier && tok.Literal == "set":
			p.nextToken()
			if pd.SetField != "" || pd.Setter != nil {
				p.diags.Errorf(tok.Loc, "Property `%s` already has a setter", name)
			}
			if p.curTokenIs(TokenIdentifier) {
				pd.SetField, _ = p.expectIdent()
				p.expect(TokenSemicolon)
				continue
			}
			param, ploc := "value", tok.Loc
			if p.check(TokenLParen) {
				param, ploc = p.expectIdent()
				p.expect(TokenRParen)
			}
			m := vm.NewMethod("set_"+name, cd.Class, tok.Loc)
			m.Flags = flags
			pd.Setter = &MethodDecl{
				Method: m,
				Owner:  cd.Class,
				Return: &TypeExpr{Loc: tok.Loc, Kind: vm.TypeVoid},
				Params: []*ParamDecl{{Name: param, Type: te, Loc: ploc}},
				Body:   p.parseCompound(),
			}

		default:
			p.errorf("`get`, `set` or `default` expected, found %s", tok.Type)
			p.skipTo()
		}
	}
	p.expect(TokenRBrace)

	for _, md := range []*MethodDecl{pd.Getter, pd.Setter} {
		if md != nil {
			p.pkg.AddMember(md.Method)
			cd.Methods = append(cd.Methods, md)
		}
	}
	p.pkg.AddMember(prop)
	cd.Props = append(cd.Props, pd)
}

// parseDelegate parses `delegate Ret Name(params);`, declaring both the
// signature and a field that holds a delegate of it.
func (p *Parser) parseDelegate(cd *ClassDecl) {
	p.nextToken()
	ret := p.parseType()
	if ret == nil || ret.Auto {
		p.errorf("Type expected, found %s", p.curToken.Type)
		p.skipTo()
		return
	}
	name, loc := p.expectIdent()
	if name == "" {
		p.skipTo()
		return
	}
	sig := vm.NewMethod(name, cd.Class, loc)
	sig.Flags = vm.MethodDelegate
	md := &MethodDecl{Method: sig, Owner: cd.Class, Return: ret}
	md.Params = p.parseParams(sig)
	if sig.IsVarArgs() {
		p.diags.Errorf(loc, "Delegate `%s` cannot take variable arguments", name)
	}
	p.expect(TokenSemicolon)

	f := &vm.Field{MemberBase: vm.MemberBase{Name: name, Outer: cd.Class, Location: loc}}
	p.pkg.AddMember(sig)
	p.pkg.AddMember(f)
	cd.Delegates = append(cd.Delegates, &DelegateDecl{Sig: md, Field: f})
}

// parseReplication parses
//
//	replication { reliable if (cond) a, b; unreliable if (cond) c; }
func (p *Parser) parseReplication(cd *ClassDecl) {
	p.nextToken()
	if !p.expect(TokenLBrace) {
		p.skipTo()
		return
	}
	for !p.curTokenIs(TokenRBrace) && !p.curTokenIs(TokenEOF) {
		rd := &RepDecl{Loc: p.curToken.Loc}
		switch kw := p.curToken.Literal; {
		case p.curTokenIs(TokenIdentifier) && kw == "reliable":
			rd.Reliable = true
		case p.curTokenIs(TokenIdentifier) && kw == "unreliable":
		default:
			p.errorf("`reliable` or `unreliable` expected, found %s", p.curToken.Type)
			p.skipTo()
			continue
		}
		p.nextToken()
		if !p.expect(TokenIf) || !p.expect(TokenLParen) {
			p.skipTo()
			continue
		}
		rd.Cond = p.parseExpression()
		p.expect(TokenRParen)
		for {
			name, loc := p.expectIdent()
			if name == "" {
				break
			}
			rd.Names = append(rd.Names, RepName{Name: name, Loc: loc})
			if !p.check(TokenComma) {
				break
			}
		}
		if !p.expect(TokenSemicolon) {
			p.skipTo()
		}
		cd.Repl = append(cd.Repl, rd)
	}
	p.expect(TokenRBrace)
}
