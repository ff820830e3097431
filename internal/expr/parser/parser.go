// Package parser turns alarm condition strings such as
//
//	Check:taskA == Quality:Good & Check:taskB != Quality:Bad
//
// into an expr.Expression tree.
package parser

import (
	"errors"
	"fmt"
	"strings"

	"qcflow/internal/expr"
)

const (
	_ int = iota
	LOWEST
	DISJUNCTION // |
	EXCLUSIVE   // ^
	CONJUNCTION // &
	PREFIX      // !X
)

var precedences = map[TokenType]int{
	OR:  DISJUNCTION,
	XOR: EXCLUSIVE,
	AND: CONJUNCTION,
}

var relational = map[TokenType]bool{
	EQ:     true,
	NOT_EQ: true,
	LT:     true,
	GT:     true,
	LTE:    true,
	GTE:    true,
}

var (
	ErrSyntax       = errors.New("condition syntax error")
	ErrNoExpression = errors.New("condition produced no expression")
)

type (
	prefixParseFn func() *expr.Expression
	infixParseFn  func(*expr.Expression) *expr.Expression
)

type Parser struct {
	l *Lexer

	curToken  Token
	peekToken Token

	errors []string

	prefixParseFns map[TokenType]prefixParseFn
	infixParseFns  map[TokenType]infixParseFn
}

func New(l *Lexer) *Parser {
	p := &Parser{
		l:      l,
		errors: []string{},
	}

	p.prefixParseFns = make(map[TokenType]prefixParseFn)
	p.registerPrefix(VALUE, p.parseComparison)
	p.registerPrefix(NOT, p.parseNot)
	p.registerPrefix(LPAREN, p.parseGroupedExpression)

	p.infixParseFns = make(map[TokenType]infixParseFn)
	p.registerInfix(AND, p.parseBoolean)
	p.registerInfix(OR, p.parseBoolean)
	p.registerInfix(XOR, p.parseBoolean)

	// Read two tokens, so curToken and peekToken are both set
	p.nextToken()
	p.nextToken()

	return p
}

// Parse parses a full condition and returns its root together with the value
// leaves in left-to-right order.
func Parse(condition string) (*expr.Expression, []expr.Value, error) {
	p := New(NewLexer(condition))
	root := p.ParseCondition()
	if errs := p.Errors(); len(errs) > 0 {
		return nil, nil, fmt.Errorf("%w in %q: %s", ErrSyntax, condition, strings.Join(errs, "; "))
	}
	if root == nil {
		return nil, nil, fmt.Errorf("%w: %q", ErrNoExpression, condition)
	}
	return root, root.Values(), nil
}

// ParseCondition parses the whole input as a single expression.
func (p *Parser) ParseCondition() *expr.Expression {
	root := p.parseExpression(LOWEST)
	if root == nil {
		return nil
	}

	if !p.peekTokenIs(EOF) {
		p.trailingError()
		return nil
	}
	return root
}

func (p *Parser) nextToken() {
	p.curToken = p.peekToken
	p.peekToken = p.l.NextToken()
}

func (p *Parser) parseExpression(precedence int) *expr.Expression {
	prefix := p.prefixParseFns[p.curToken.Type]
	if prefix == nil {
		p.noPrefixParseFnError(p.curToken)
		return nil
	}
	leftExp := prefix()

	for leftExp != nil && precedence < p.peekPrecedence() {
		infix := p.infixParseFns[p.peekToken.Type]
		if infix == nil {
			return leftExp
		}

		p.nextToken()

		leftExp = infix(leftExp)
	}

	return leftExp
}

// parseComparison reads VALUE relop VALUE.
func (p *Parser) parseComparison() *expr.Expression {
	left := p.parseValue()

	if !relational[p.peekToken.Type] {
		p.relationalError()
		return nil
	}
	p.nextToken()
	op, err := expr.ParseCompareOp(p.curToken.Literal)
	if err != nil {
		p.addError(p.curToken, err.Error())
		return nil
	}

	if !p.expectPeek(VALUE) {
		return nil
	}
	right := p.parseValue()
	if left == nil || right == nil {
		return nil
	}

	e, err := expr.NewComparison(op, left, right)
	if err != nil {
		p.addError(p.curToken, err.Error())
		return nil
	}
	return e
}

func (p *Parser) parseValue() expr.Value {
	v, err := expr.ParseValue(p.curToken.Literal)
	if err != nil {
		p.addError(p.curToken, err.Error())
		return nil
	}
	return v
}

func (p *Parser) parseNot() *expr.Expression {
	p.nextToken()

	child := p.parseExpression(PREFIX)
	if child == nil {
		return nil
	}

	e, err := expr.NewNot(child)
	if err != nil {
		p.addError(p.curToken, err.Error())
		return nil
	}
	return e
}

func (p *Parser) parseBoolean(left *expr.Expression) *expr.Expression {
	tok := p.curToken
	op, err := expr.ParseBoolOp(tok.Literal)
	if err != nil {
		p.addError(tok, err.Error())
		return nil
	}

	precedence := p.curPrecedence()
	p.nextToken()
	right := p.parseExpression(precedence)
	if right == nil {
		return nil
	}

	e, err := expr.NewBoolean(op, left, right)
	if err != nil {
		p.addError(tok, err.Error())
		return nil
	}
	return e
}

func (p *Parser) parseGroupedExpression() *expr.Expression {
	p.nextToken()

	exp := p.parseExpression(LOWEST)
	if exp == nil {
		return nil
	}

	if !p.expectPeek(RPAREN) {
		return nil
	}

	return exp
}

func (p *Parser) peekTokenIs(t TokenType) bool {
	return p.peekToken.Type == t
}

func (p *Parser) expectPeek(t TokenType) bool {
	if p.peekTokenIs(t) {
		p.nextToken()
		return true
	}
	p.peekError(t)
	return false
}

func (p *Parser) Errors() []string {
	return p.errors
}

func (p *Parser) addError(tok Token, msg string) {
	p.errors = append(p.errors, fmt.Sprintf("column %d: %s", tok.Column, msg))
}

func (p *Parser) peekError(t TokenType) {
	p.addError(p.peekToken, fmt.Sprintf("expected next token to be %s, got %s instead",
		t, describe(p.peekToken)))
}

func (p *Parser) relationalError() {
	tok := p.peekToken
	if tok.Type == ILLEGAL {
		_, err := expr.ParseCompareOp(tok.Literal)
		p.addError(tok, err.Error())
		return
	}
	p.addError(tok, fmt.Sprintf("expected relational operator after '%s', got %s instead",
		p.curToken.Literal, describe(tok)))
}

func (p *Parser) trailingError() {
	tok := p.peekToken
	if tok.Type == ILLEGAL && isOperatorChar(tok.Literal[0]) {
		_, err := expr.ParseBoolOp(tok.Literal)
		p.addError(tok, err.Error())
		return
	}
	p.addError(tok, fmt.Sprintf("unexpected %s", describe(tok)))
}

func (p *Parser) noPrefixParseFnError(tok Token) {
	if tok.Type == EOF {
		p.addError(tok, "unexpected end of condition")
		return
	}
	p.addError(tok, fmt.Sprintf("unexpected %s", describe(tok)))
}

func (p *Parser) peekPrecedence() int {
	if p, ok := precedences[p.peekToken.Type]; ok {
		return p
	}

	return LOWEST
}

func (p *Parser) curPrecedence() int {
	if p, ok := precedences[p.curToken.Type]; ok {
		return p
	}

	return LOWEST
}

func (p *Parser) registerPrefix(tokenType TokenType, fn prefixParseFn) {
	p.prefixParseFns[tokenType] = fn
}

func (p *Parser) registerInfix(tokenType TokenType, fn infixParseFn) {
	p.infixParseFns[tokenType] = fn
}

func describe(tok Token) string {
	switch tok.Type {
	case EOF:
		return "end of condition"
	case VALUE:
		return fmt.Sprintf("value '%s'", tok.Literal)
	case ILLEGAL:
		return fmt.Sprintf("illegal token '%s'", tok.Literal)
	default:
		return fmt.Sprintf("'%s'", tok.Literal)
	}
}
