package compiler

import (
	"math"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/chazu/vavoomc/vm"
)

// ---------------------------------------------------------------------------
// Lexer: tokenizer for VavoomC source
// ---------------------------------------------------------------------------

// Lexer tokenizes VavoomC source code.
type Lexer struct {
	file    string
	input   string
	pos     int  // offset of ch
	readPos int  // offset after ch
	ch      rune // current character, 0 at end of input
	line    int  // line of ch (1-based)
	col     int  // column of ch (1-based)

	newLine bool // no token has been produced on the current line yet
}

// NewLexer creates a lexer for input; file names the source in locations.
func NewLexer(file, input string) *Lexer {
	l := &Lexer{file: file, input: input, line: 1, newLine: true}
	l.readChar()
	l.col = 1
	return l
}

// readChar advances to the next character.
func (l *Lexer) readChar() {
	if l.ch == '\n' {
		l.line++
		l.col = 0
		l.newLine = true
	}
	if l.readPos >= len(l.input) {
		l.ch = 0
		l.pos = len(l.input)
		l.col++
		return
	}
	r, size := utf8.DecodeRuneInString(l.input[l.readPos:])
	l.ch = r
	l.pos = l.readPos
	l.readPos += size
	l.col++
}

// peekChar returns the character after ch without consuming it.
func (l *Lexer) peekChar() rune {
	if l.readPos >= len(l.input) {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(l.input[l.readPos:])
	return r
}

func (l *Lexer) location() vm.Location {
	return vm.Location{File: l.file, Line: l.line, Column: l.col}
}

// Tokenize returns every token up to and including EOF.
func (l *Lexer) Tokenize() []Token {
	var toks []Token
	for {
		tok := l.NextToken()
		toks = append(toks, tok)
		if tok.Type == TokenEOF {
			return toks
		}
	}
}

// NextToken returns the next token.
func (l *Lexer) NextToken() Token {
	if msg := l.skipWhitespaceAndComments(); msg != "" {
		return Token{Type: TokenError, Literal: msg, Loc: l.location()}
	}

	tok := l.scan()
	tok.NewLine = l.newLine
	l.newLine = false
	return tok
}

func (l *Lexer) scan() Token {
	loc := l.location()
	switch {
	case l.ch == 0:
		return Token{Type: TokenEOF, Loc: loc}
	case isLetter(l.ch):
		return l.readIdentifier(loc)
	case isDigit(l.ch):
		return l.readNumber(loc)
	case l.ch == '"':
		return l.readString(loc)
	case l.ch == '\'':
		return l.readName(loc)
	}
	return l.readPunct(loc)
}

// skipWhitespaceAndComments skips blanks, // and /* */ comments and the
// nestable /+ +/ comments. It returns a message for an unterminated comment.
func (l *Lexer) skipWhitespaceAndComments() string {
	for {
		switch {
		case unicode.IsSpace(l.ch):
			l.readChar()
		case l.ch == '/' && l.peekChar() == '/':
			for l.ch != '\n' && l.ch != 0 {
				l.readChar()
			}
		case l.ch == '/' && l.peekChar() == '*':
			l.readChar()
			l.readChar()
			for !(l.ch == '*' && l.peekChar() == '/') {
				if l.ch == 0 {
					return "unterminated comment"
				}
				l.readChar()
			}
			l.readChar()
			l.readChar()
		case l.ch == '/' && l.peekChar() == '+':
			l.readChar()
			l.readChar()
			depth := 1
			for depth > 0 {
				switch {
				case l.ch == 0:
					return "unterminated comment"
				case l.ch == '/' && l.peekChar() == '+':
					depth++
					l.readChar()
				case l.ch == '+' && l.peekChar() == '/':
					depth--
					l.readChar()
				}
				l.readChar()
			}
		default:
			return ""
		}
	}
}

func (l *Lexer) readIdentifier(loc vm.Location) Token {
	start := l.pos
	for isLetter(l.ch) || isDigit(l.ch) {
		l.readChar()
	}
	lit := l.input[start:l.pos]
	if t, ok := keywords[lit]; ok {
		return Token{Type: t, Literal: lit, Loc: loc}
	}
	return Token{Type: TokenIdentifier, Literal: lit, Loc: loc}
}

// readNumber reads decimal, 0x hex and 0b binary integers and decimal
// floats with an optional exponent and `f` suffix. A `..` after digits is
// a range operator, not a decimal point.
func (l *Lexer) readNumber(loc vm.Location) Token {
	start := l.pos
	if l.ch == '0' && (l.peekChar() == 'x' || l.peekChar() == 'X' || l.peekChar() == 'b' || l.peekChar() == 'B') {
		base := 16
		if l.peekChar() == 'b' || l.peekChar() == 'B' {
			base = 2
		}
		l.readChar()
		l.readChar()
		digits := l.pos
		for isHexDigit(l.ch) || l.ch == '_' {
			l.readChar()
		}
		text := strings.ReplaceAll(l.input[digits:l.pos], "_", "")
		return l.intToken(loc, l.input[start:l.pos], text, base)
	}

	isFloat := false
	for isDigit(l.ch) || l.ch == '_' {
		l.readChar()
	}
	if l.ch == '.' && l.peekChar() != '.' {
		isFloat = true
		l.readChar()
		for isDigit(l.ch) {
			l.readChar()
		}
	}
	if l.ch == 'e' || l.ch == 'E' {
		next := l.peekChar()
		if isDigit(next) || next == '+' || next == '-' {
			isFloat = true
			l.readChar()
			if l.ch == '+' || l.ch == '-' {
				l.readChar()
			}
			for isDigit(l.ch) {
				l.readChar()
			}
		}
	}
	text := strings.ReplaceAll(l.input[start:l.pos], "_", "")
	if l.ch == 'f' || l.ch == 'F' {
		isFloat = true
		l.readChar()
	}
	lit := l.input[start:l.pos]
	if !isFloat {
		return l.intToken(loc, lit, text, 10)
	}
	f, err := strconv.ParseFloat(text, 32)
	if err != nil {
		return Token{Type: TokenError, Literal: "invalid float literal " + lit, Loc: loc}
	}
	return Token{Type: TokenFloat, Literal: lit, Float: float32(f), Loc: loc}
}

// intToken converts digits in base. Values up to 0xffffffff are accepted
// and wrap to int32, so hex masks can be written naturally.
func (l *Lexer) intToken(loc vm.Location, lit, digits string, base int) Token {
	if digits == "" {
		return Token{Type: TokenError, Literal: "malformed number " + lit, Loc: loc}
	}
	v, err := strconv.ParseUint(digits, base, 64)
	if err != nil || v > math.MaxUint32 {
		return Token{Type: TokenError, Literal: "integer literal out of range " + lit, Loc: loc}
	}
	return Token{Type: TokenInt, Literal: lit, Int: int32(uint32(v)), Loc: loc}
}

// readEscape decodes the escape sequence after a backslash.
func (l *Lexer) readEscape(sb *strings.Builder) bool {
	switch l.ch {
	case 'n':
		sb.WriteByte('\n')
	case 't':
		sb.WriteByte('\t')
	case 'r':
		sb.WriteByte('\r')
	case '0':
		sb.WriteByte(0)
	case '\\', '"', '\'':
		sb.WriteRune(l.ch)
	case 'x':
		l.readChar()
		hi := l.ch
		l.readChar()
		lo := l.ch
		if !isHexDigit(hi) || !isHexDigit(lo) {
			return false
		}
		v, _ := strconv.ParseUint(string([]rune{hi, lo}), 16, 8)
		sb.WriteByte(byte(v))
	default:
		return false
	}
	l.readChar()
	return true
}

func (l *Lexer) readQuoted(loc vm.Location, quote rune, typ TokenType) Token {
	l.readChar()
	var sb strings.Builder
	for l.ch != quote {
		switch l.ch {
		case 0, '\n':
			return Token{Type: TokenError, Literal: "unterminated " + typ.String(), Loc: loc}
		case '\\':
			l.readChar()
			if !l.readEscape(&sb) {
				return Token{Type: TokenError, Literal: "invalid escape sequence", Loc: l.location()}
			}
		default:
			sb.WriteRune(l.ch)
			l.readChar()
		}
	}
	l.readChar()
	return Token{Type: typ, Literal: sb.String(), Loc: loc}
}

func (l *Lexer) readString(loc vm.Location) Token {
	return l.readQuoted(loc, '"', TokenString)
}

func (l *Lexer) readName(loc vm.Location) Token {
	return l.readQuoted(loc, '\'', TokenName)
}

// punctuators lists operators longest first so that the greedy match wins.
var punctuators = []struct {
	text string
	typ  TokenType
}{
	{"...", TokenVarArgs},
	{"<<=", TokenLShiftAssign},
	{">>=", TokenRShiftAssign},
	{"++", TokenInc},
	{"--", TokenDec},
	{"+=", TokenAddAssign},
	{"-=", TokenSubAssign},
	{"*=", TokenMulAssign},
	{"/=", TokenDivAssign},
	{"%=", TokenModAssign},
	{"&=", TokenAndAssign},
	{"|=", TokenOrAssign},
	{"^=", TokenXorAssign},
	{"~=", TokenCatAssign},
	{"<<", TokenLShift},
	{">>", TokenRShift},
	{"<=", TokenLessEq},
	{">=", TokenGreaterEq},
	{"==", TokenEq},
	{"!=", TokenNotEq},
	{"&&", TokenAndAnd},
	{"||", TokenOrOr},
	{"..", TokenDotDot},
	{"::", TokenDColon},
	{"+", TokenPlus},
	{"-", TokenMinus},
	{"*", TokenStar},
	{"/", TokenSlash},
	{"%", TokenPercent},
	{"&", TokenAnd},
	{"|", TokenOr},
	{"^", TokenXor},
	{"~", TokenTilde},
	{"!", TokenNot},
	{"=", TokenAssign},
	{"<", TokenLess},
	{">", TokenGreater},
	{"?", TokenQuest},
	{":", TokenColon},
	{";", TokenSemicolon},
	{",", TokenComma},
	{".", TokenDot},
	{"(", TokenLParen},
	{")", TokenRParen},
	{"[", TokenLBracket},
	{"]", TokenRBracket},
	{"{", TokenLBrace},
	{"}", TokenRBrace},
}

func (l *Lexer) readPunct(loc vm.Location) Token {
	rest := l.input[l.pos:]
	for _, p := range punctuators {
		if strings.HasPrefix(rest, p.text) {
			for range p.text {
				l.readChar()
			}
			return Token{Type: p.typ, Literal: p.text, Loc: loc}
		}
	}
	ch := l.ch
	l.readChar()
	return Token{Type: TokenError, Literal: "unexpected character " + strconv.QuoteRune(ch), Loc: loc}
}

func isLetter(r rune) bool {
	return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

func isHexDigit(r rune) bool {
	return isDigit(r) || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}
