package compiler

import (
	"fmt"

	"github.com/chazu/vavoomc/vm"
)

// ---------------------------------------------------------------------------
// Token types for the VavoomC lexer
// ---------------------------------------------------------------------------

// TokenType represents the type of a token.
type TokenType int

const (
	// Special tokens
	TokenEOF TokenType = iota
	TokenError

	// Literals
	TokenIdentifier
	TokenInt    // 42, 0x2A, 0b101010
	TokenFloat  // 1.5, 1e3, 2.0f
	TokenString // "hello"
	TokenName   // 'Imp'

	// Keywords
	keywordsStart
	TokenAbstract
	TokenAlias
	TokenArray
	TokenAuto
	TokenBool
	TokenBreak
	TokenByte
	TokenCase
	TokenClass
	TokenConst
	TokenContinue
	TokenDefault
	TokenDefaultProperties
	TokenDelegate
	TokenDo
	TokenElse
	TokenEnum
	TokenFalse
	TokenFinal
	TokenFloatKw
	TokenFor
	TokenForeach
	TokenIf
	TokenImport
	TokenIntKw
	TokenNameKw
	TokenNative
	TokenNone
	TokenNullptr
	TokenOptional
	TokenOut
	TokenOverride
	TokenPrivate
	TokenProtected
	TokenReadonly
	TokenRef
	TokenReplication
	TokenReturn
	TokenScope
	TokenSelf
	TokenState
	TokenStates
	TokenStatic
	TokenStringKw
	TokenStruct
	TokenSuper
	TokenSwitch
	TokenTransient
	TokenTrue
	TokenVector
	TokenVoid
	TokenWhile
	keywordsEnd

	// Punctuation
	TokenPlus         // +
	TokenMinus        // -
	TokenStar         // *
	TokenSlash        // /
	TokenPercent      // %
	TokenAnd          // &
	TokenOr           // |
	TokenXor          // ^
	TokenTilde        // ~
	TokenNot          // !
	TokenAssign       // =
	TokenLess         // <
	TokenGreater      // >
	TokenQuest        // ?
	TokenColon        // :
	TokenSemicolon    // ;
	TokenComma        // ,
	TokenDot          // .
	TokenLParen       // (
	TokenRParen       // )
	TokenLBracket     // [
	TokenRBracket     // ]
	TokenLBrace       // {
	TokenRBrace       // }
	TokenInc          // ++
	TokenDec          // --
	TokenAddAssign    // +=
	TokenSubAssign    // -=
	TokenMulAssign    // *=
	TokenDivAssign    // /=
	TokenModAssign    // %=
	TokenAndAssign    // &=
	TokenOrAssign     // |=
	TokenXorAssign    // ^=
	TokenCatAssign    // ~=
	TokenLShiftAssign // <<=
	TokenRShiftAssign // >>=
	TokenLShift       // <<
	TokenRShift       // >>
	TokenLessEq       // <=
	TokenGreaterEq    // >=
	TokenEq           // ==
	TokenNotEq        // !=
	TokenAndAnd       // &&
	TokenOrOr         // ||
	TokenDotDot       // ..
	TokenVarArgs      // ...
	TokenDColon       // ::
)

var keywords = map[string]TokenType{
	"abstract":          TokenAbstract,
	"alias":             TokenAlias,
	"array":             TokenArray,
	"auto":              TokenAuto,
	"bool":              TokenBool,
	"break":             TokenBreak,
	"byte":              TokenByte,
	"case":              TokenCase,
	"class":             TokenClass,
	"const":             TokenConst,
	"continue":          TokenContinue,
	"default":           TokenDefault,
	"defaultproperties": TokenDefaultProperties,
	"delegate":          TokenDelegate,
	"do":                TokenDo,
	"else":              TokenElse,
	"enum":              TokenEnum,
	"false":             TokenFalse,
	"final":             TokenFinal,
	"float":             TokenFloatKw,
	"for":               TokenFor,
	"foreach":           TokenForeach,
	"if":                TokenIf,
	"import":            TokenImport,
	"int":               TokenIntKw,
	"name":              TokenNameKw,
	"native":            TokenNative,
	"none":              TokenNone,
	"nullptr":           TokenNullptr,
	"optional":          TokenOptional,
	"out":               TokenOut,
	"override":          TokenOverride,
	"private":           TokenPrivate,
	"protected":         TokenProtected,
	"readonly":          TokenReadonly,
	"ref":               TokenRef,
	"replication":       TokenReplication,
	"return":            TokenReturn,
	"scope":             TokenScope,
	"self":              TokenSelf,
	"state":             TokenState,
	"states":            TokenStates,
	"static":            TokenStatic,
	"string":            TokenStringKw,
	"struct":            TokenStruct,
	"super":             TokenSuper,
	"switch":            TokenSwitch,
	"transient":         TokenTransient,
	"true":              TokenTrue,
	"vector":            TokenVector,
	"void":              TokenVoid,
	"while":             TokenWhile,
}

var punctNames = map[TokenType]string{
	TokenPlus:         "+",
	TokenMinus:        "-",
	TokenStar:         "*",
	TokenSlash:        "/",
	TokenPercent:      "%",
	TokenAnd:          "&",
	TokenOr:           "|",
	TokenXor:          "^",
	TokenTilde:        "~",
	TokenNot:          "!",
	TokenAssign:       "=",
	TokenLess:         "<",
	TokenGreater:      ">",
	TokenQuest:        "?",
	TokenColon:        ":",
	TokenSemicolon:    ";",
	TokenComma:        ",",
	TokenDot:          ".",
	TokenLParen:       "(",
	TokenRParen:       ")",
	TokenLBracket:     "[",
	TokenRBracket:     "]",
	TokenLBrace:       "{",
	TokenRBrace:       "}",
	TokenInc:          "++",
	TokenDec:          "--",
	TokenAddAssign:    "+=",
	TokenSubAssign:    "-=",
	TokenMulAssign:    "*=",
	TokenDivAssign:    "/=",
	TokenModAssign:    "%=",
	TokenAndAssign:    "&=",
	TokenOrAssign:     "|=",
	TokenXorAssign:    "^=",
	TokenCatAssign:    "~=",
	TokenLShiftAssign: "<<=",
	TokenRShiftAssign: ">>=",
	TokenLShift:       "<<",
	TokenRShift:       ">>",
	TokenLessEq:       "<=",
	TokenGreaterEq:    ">=",
	TokenEq:           "==",
	TokenNotEq:        "!=",
	TokenAndAnd:       "&&",
	TokenOrOr:         "||",
	TokenDotDot:       "..",
	TokenVarArgs:      "...",
	TokenDColon:       "::",
}

var keywordNames = func() map[TokenType]string {
	m := make(map[TokenType]string, len(keywords))
	for s, t := range keywords {
		m[t] = s
	}
	return m
}()

func (t TokenType) String() string {
	switch t {
	case TokenEOF:
		return "end of file"
	case TokenError:
		return "error"
	case TokenIdentifier:
		return "identifier"
	case TokenInt:
		return "integer literal"
	case TokenFloat:
		return "float literal"
	case TokenString:
		return "string literal"
	case TokenName:
		return "name literal"
	}
	if s, ok := keywordNames[t]; ok {
		return "`" + s + "`"
	}
	if s, ok := punctNames[t]; ok {
		return "`" + s + "`"
	}
	return fmt.Sprintf("Token(%d)", int(t))
}

// IsKeyword reports whether t is a reserved word.
func (t TokenType) IsKeyword() bool {
	return t > keywordsStart && t < keywordsEnd
}

// Token represents a lexical token.
type Token struct {
	Type    TokenType
	Literal string // source text; decoded contents for strings and names
	Int     int32
	Float   float32
	Loc     vm.Location

	// NewLine is set on the first token of a source line. State blocks
	// are line oriented and use it to find where a frame definition ends.
	NewLine bool
}

func (t Token) String() string {
	switch t.Type {
	case TokenEOF:
		return "EOF"
	case TokenError:
		return fmt.Sprintf("ERROR(%s)", t.Literal)
	case TokenString:
		return fmt.Sprintf("%s(%q)", t.Type, t.Literal)
	}
	if len(t.Literal) > 20 {
		return fmt.Sprintf("%s(%q...)", t.Type, t.Literal[:20])
	}
	return fmt.Sprintf("%s(%q)", t.Type, t.Literal)
}
