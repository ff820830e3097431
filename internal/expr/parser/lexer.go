package parser

import (
	"fmt"
	"unicode/utf8"
)

type TokenType int

const (
	// Special tokens
	ILLEGAL TokenType = iota
	EOF

	// Prefix:Name value reference
	VALUE

	// Relational operators
	EQ     // ==
	NOT_EQ // !=
	LT     // <
	GT     // >
	LTE    // <=
	GTE    // >=

	// Boolean operators
	AND // &
	OR  // |
	XOR // ^
	NOT // !

	LPAREN // (
	RPAREN // )
)

var tokenNames = map[TokenType]string{
	ILLEGAL: "ILLEGAL",
	EOF:     "EOF",
	VALUE:   "VALUE",
	EQ:      "==",
	NOT_EQ:  "!=",
	LT:      "<",
	GT:      ">",
	LTE:     "<=",
	GTE:     ">=",
	AND:     "&",
	OR:      "|",
	XOR:     "^",
	NOT:     "!",
	LPAREN:  "(",
	RPAREN:  ")",
}

func (t TokenType) String() string {
	if s, ok := tokenNames[t]; ok {
		return s
	}
	return fmt.Sprintf("TokenType(%d)", int(t))
}

type Token struct {
	Type     TokenType
	Literal  string
	Position int
	Column   int
}

var operators = map[string]TokenType{
	"==": EQ,
	"!=": NOT_EQ,
	"<":  LT,
	">":  GT,
	"<=": LTE,
	">=": GTE,
	"&":  AND,
	"|":  OR,
	"^":  XOR,
}

type Lexer struct {
	input        string
	position     int  // current position in input (points to current char)
	readPosition int  // current reading position in input (after current char)
	ch           byte // current char under examination
}

func NewLexer(input string) *Lexer {
	l := &Lexer{input: input}
	l.readChar()
	return l
}

func (l *Lexer) readChar() {
	if l.readPosition >= len(l.input) {
		l.ch = 0
	} else {
		l.ch = l.input[l.readPosition]
	}
	l.position = l.readPosition
	l.readPosition++
}

func (l *Lexer) peekChar() byte {
	if l.readPosition >= len(l.input) {
		return 0
	}
	return l.input[l.readPosition]
}

// NextToken returns the next token of the condition. Operator characters are
// read as a maximal run so that "&&" or "=<" surface as one ILLEGAL token
// rather than two valid ones.
func (l *Lexer) NextToken() Token {
	l.skipWhitespace()

	tok := Token{Position: l.position, Column: l.position + 1}

	switch {
	case l.ch == 0:
		tok.Type = EOF
		return tok
	case l.ch == '(':
		tok.Type, tok.Literal = LPAREN, "("
	case l.ch == ')':
		tok.Type, tok.Literal = RPAREN, ")"
	case l.ch == '!' && l.peekChar() != '=':
		tok.Type, tok.Literal = NOT, "!"
	case isOperatorChar(l.ch) || l.ch == '!':
		tok.Literal = l.readOperator()
		tok.Type = ILLEGAL
		if t, ok := operators[tok.Literal]; ok {
			tok.Type = t
		}
		return tok
	case isValueChar(l.ch):
		tok.Type = VALUE
		tok.Literal = l.readValue()
		return tok
	default:
		tok.Type, tok.Literal = ILLEGAL, string(l.ch)
	}

	l.readChar()
	return tok
}

func (l *Lexer) skipWhitespace() {
	for l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r' {
		l.readChar()
	}
}

func (l *Lexer) readOperator() string {
	start := l.position
	l.readChar()
	for isOperatorChar(l.ch) {
		l.readChar()
	}
	return l.input[start:l.position]
}

func (l *Lexer) readValue() string {
	start := l.position
	for isValueChar(l.ch) {
		l.readChar()
	}
	return l.input[start:l.position]
}

func isOperatorChar(ch byte) bool {
	switch ch {
	case '=', '<', '>', '&', '|', '^':
		return true
	}
	return false
}

// isValueChar also accepts every byte of a multi-byte rune, so a name with
// non-ASCII letters stays one token and is rejected or accepted as a whole.
func isValueChar(ch byte) bool {
	return 'a' <= ch && ch <= 'z' || 'A' <= ch && ch <= 'Z' || '0' <= ch && ch <= '9' ||
		ch == '_' || ch == '-' || ch == '.' || ch == '/' || ch == ':' || ch >= utf8.RuneSelf
}
