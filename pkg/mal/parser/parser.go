package parser

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	_ int = iota
	LOWEST
	LOGICAL     // && ||
	EQUALS      // ==
	LESSGREATER // > or <
	SUM         // + -
	PRODUCT     // * /
	PREFIX      // -X or !X
	INDEX       // tags['k']
	DOTPREC     // obj.property, obj.method()
)

var precedences = map[TokenType]int{
	EQ:       EQUALS,
	NOT_EQ:   EQUALS,
	LT:       LESSGREATER,
	GT:       LESSGREATER,
	LTE:      LESSGREATER,
	GTE:      LESSGREATER,
	AND:      LOGICAL,
	OR:       LOGICAL,
	PLUS:     SUM,
	MINUS:    SUM,
	ASTERISK: PRODUCT,
	SLASH:    PRODUCT,
	LBRACKET: INDEX,
	DOT:      DOTPREC,
}

type (
	prefixParseFn func() Expression
	infixParseFn  func(Expression) Expression
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
	p.registerPrefix(IDENT, p.parseIdentifier)
	p.registerPrefix(INT, p.parseNumberLiteral)
	p.registerPrefix(FLOAT, p.parseNumberLiteral)
	p.registerPrefix(STRING, p.parseStringLiteral)
	p.registerPrefix(TRUE, p.parseBooleanLiteral)
	p.registerPrefix(FALSE, p.parseBooleanLiteral)
	p.registerPrefix(NOT, p.parsePrefixExpression)
	p.registerPrefix(MINUS, p.parsePrefixExpression)
	p.registerPrefix(LPAREN, p.parseGroupedExpression)
	p.registerPrefix(LBRACKET, p.parseListLiteral)
	p.registerPrefix(LBRACE, p.parseClosureLiteral)

	p.infixParseFns = make(map[TokenType]infixParseFn)
	for _, t := range []TokenType{PLUS, MINUS, ASTERISK, SLASH, EQ, NOT_EQ, LT, GT, LTE, GTE, AND, OR} {
		p.registerInfix(t, p.parseInfixExpression)
	}
	p.registerInfix(DOT, p.parseDotExpression)
	p.registerInfix(LBRACKET, p.parseIndexExpression)

	// Read two tokens, so curToken and peekToken are both set
	p.nextToken()
	p.nextToken()

	return p
}

// Parse parses src as a single MAL expression.
func Parse(src string) (Expression, error) {
	p := New(NewLexer(src))
	exp := p.ParseExpression()
	if len(p.Errors()) > 0 {
		return nil, &ParseError{Source: src, Messages: p.Errors()}
	}
	return exp, nil
}

// ParseError collects every message reported while parsing one source.
type ParseError struct {
	Source   string
	Messages []string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse errors in %q: %s", e.Source, strings.Join(e.Messages, "; "))
}

func (p *Parser) nextToken() {
	p.curToken = p.peekToken
	p.peekToken = p.l.NextToken()
}

// ParseExpression parses the whole input as one expression. Trailing tokens
// are reported as an error.
func (p *Parser) ParseExpression() Expression {
	if p.curTokenIs(EOF) {
		p.errors = append(p.errors, "empty expression")
		return nil
	}
	exp := p.parseExpression(LOWEST)
	if !p.peekTokenIs(EOF) && len(p.errors) == 0 {
		p.errors = append(p.errors, fmt.Sprintf("unexpected %s %q at line %d, column %d",
			p.peekToken.Type, p.peekToken.Literal, p.peekToken.Line, p.peekToken.Column))
	}
	return exp
}

func (p *Parser) parseStatement() Statement {
	switch p.curToken.Type {
	case IF:
		return p.parseIfStatement()
	default:
		return p.parseExpressionStatement()
	}
}

func (p *Parser) parseIfStatement() Statement {
	stmt := &IfStatement{Token: p.curToken}

	if !p.expectPeek(LPAREN) {
		return nil
	}
	p.nextToken()
	stmt.Condition = p.parseExpression(LOWEST)
	if !p.expectPeek(RPAREN) {
		return nil
	}
	if !p.expectPeek(LBRACE) {
		return nil
	}
	stmt.Consequence = p.parseBlockStatement()

	if p.peekTokenIs(ELSE) {
		p.nextToken()
		if p.peekTokenIs(IF) {
			p.nextToken()
			tok := p.curToken
			nested := p.parseIfStatement()
			if nested == nil {
				return nil
			}
			stmt.Alternative = &BlockStatement{Token: tok, Statements: []Statement{nested}}
			return stmt
		}
		if !p.expectPeek(LBRACE) {
			return nil
		}
		stmt.Alternative = p.parseBlockStatement()
	}

	return stmt
}

// parseBlockStatement reads statements up to the closing brace. curToken is
// the token that opened the block ('{' or '->').
func (p *Parser) parseBlockStatement() *BlockStatement {
	block := &BlockStatement{Token: p.curToken}
	block.Statements = []Statement{}

	p.nextToken()

	for !p.curTokenIs(RBRACE) && !p.curTokenIs(EOF) {
		if p.curTokenIs(SEMICOLON) {
			p.nextToken()
			continue
		}
		stmt := p.parseStatement()
		if stmt != nil {
			block.Statements = append(block.Statements, stmt)
		}
		p.nextToken()
	}
	if p.curTokenIs(EOF) {
		p.errors = append(p.errors, "unterminated block, expected }")
	}

	return block
}

func (p *Parser) parseExpressionStatement() Statement {
	stmt := &ExpressionStatement{Token: p.curToken}
	stmt.Expression = p.parseExpression(LOWEST)

	if p.peekTokenIs(ASSIGN) {
		p.nextToken()
		assign := &AssignStatement{Token: p.curToken, Target: stmt.Expression}
		p.nextToken()
		assign.Value = p.parseExpression(LOWEST)
		if p.peekTokenIs(SEMICOLON) {
			p.nextToken()
		}
		return assign
	}

	if p.peekTokenIs(SEMICOLON) {
		p.nextToken()
	}

	return stmt
}

func (p *Parser) parseExpression(precedence int) Expression {
	prefix := p.prefixParseFns[p.curToken.Type]
	if prefix == nil {
		p.noPrefixParseFnError(p.curToken)
		return nil
	}
	leftExp := prefix()

	for !p.peekTokenIs(SEMICOLON) && precedence < p.peekPrecedence() {
		infix := p.infixParseFns[p.peekToken.Type]
		if infix == nil {
			return leftExp
		}

		p.nextToken()

		leftExp = infix(leftExp)
	}

	return leftExp
}

func (p *Parser) parseIdentifier() Expression {
	return &Identifier{Token: p.curToken, Value: p.curToken.Literal}
}

func (p *Parser) parseNumberLiteral() Expression {
	lit := &NumberLiteral{Token: p.curToken, Integer: p.curTokenIs(INT)}

	value, err := strconv.ParseFloat(p.curToken.Literal, 64)
	if err != nil {
		msg := fmt.Sprintf("could not parse %q as number", p.curToken.Literal)
		p.errors = append(p.errors, msg)
		return nil
	}

	lit.Value = value
	return lit
}

func (p *Parser) parseStringLiteral() Expression {
	return &StringLiteral{Token: p.curToken, Value: p.curToken.Literal}
}

func (p *Parser) parseBooleanLiteral() Expression {
	return &BooleanLiteral{Token: p.curToken, Value: p.curTokenIs(TRUE)}
}

func (p *Parser) parsePrefixExpression() Expression {
	expression := &PrefixExpression{
		Token:    p.curToken,
		Operator: p.curToken.Literal,
	}

	p.nextToken()

	expression.Right = p.parseExpression(PREFIX)

	return expression
}

func (p *Parser) parseInfixExpression(left Expression) Expression {
	expression := &InfixExpression{
		Token:    p.curToken,
		Left:     left,
		Operator: p.curToken.Literal,
	}

	precedence := p.curPrecedence()
	p.nextToken()
	expression.Right = p.parseExpression(precedence)

	return expression
}

func (p *Parser) parseGroupedExpression() Expression {
	group := &GroupedExpression{Token: p.curToken}
	p.nextToken()

	group.Inner = p.parseExpression(LOWEST)

	if !p.expectPeek(RPAREN) {
		return nil
	}

	return group
}

func (p *Parser) parseListLiteral() Expression {
	list := &ListLiteral{Token: p.curToken}
	list.Elements = p.parseExpressionList(RBRACKET)
	return list
}

func (p *Parser) parseIndexExpression(left Expression) Expression {
	exp := &IndexExpression{Token: p.curToken, Left: left}

	p.nextToken()
	exp.Index = p.parseExpression(LOWEST)

	if !p.expectPeek(RBRACKET) {
		return nil
	}
	return exp
}

// parseDotExpression handles both property access and method calls; the
// token after '.' is always the member name.
func (p *Parser) parseDotExpression(left Expression) Expression {
	tok := p.curToken
	if !p.expectPeek(IDENT) {
		return nil
	}
	name := &Identifier{Token: p.curToken, Value: p.curToken.Literal}

	if !p.peekTokenIs(LPAREN) {
		return &DotExpression{Token: tok, Left: left, Name: name}
	}

	p.nextToken()
	call := &MethodCallExpression{Token: tok, Receiver: left, Method: name}
	call.Arguments = p.parseExpressionList(RPAREN)
	return call
}

type parserState struct {
	lexer     Lexer
	curToken  Token
	peekToken Token
	errors    int
}

func (p *Parser) save() parserState {
	return parserState{lexer: *p.l, curToken: p.curToken, peekToken: p.peekToken, errors: len(p.errors)}
}

func (p *Parser) restore(s parserState) {
	*p.l = s.lexer
	p.curToken = s.curToken
	p.peekToken = s.peekToken
	p.errors = p.errors[:s.errors]
}

func (p *Parser) parseClosureLiteral() Expression {
	closure := &ClosureLiteral{Token: p.curToken}

	state := p.save()
	if params, ok := p.parseClosureParams(); ok {
		closure.Params = params
	} else {
		p.restore(state)
	}

	closure.Body = p.parseBlockStatement()
	if !p.curTokenIs(RBRACE) {
		return nil
	}
	return closure
}

// parseClosureParams consumes `a, b ->`. It reports false when the tokens
// after '{' are not a parameter list, leaving recovery to the caller.
func (p *Parser) parseClosureParams() ([]*Identifier, bool) {
	var params []*Identifier
	if p.peekTokenIs(ARROW) {
		p.nextToken()
		return params, true
	}
	for {
		if !p.peekTokenIs(IDENT) {
			return nil, false
		}
		p.nextToken()
		params = append(params, &Identifier{Token: p.curToken, Value: p.curToken.Literal})

		switch {
		case p.peekTokenIs(COMMA):
			p.nextToken()
		case p.peekTokenIs(ARROW):
			p.nextToken()
			return params, true
		default:
			return nil, false
		}
	}
}

func (p *Parser) parseExpressionList(end TokenType) []Expression {
	args := []Expression{}

	if p.peekTokenIs(end) {
		p.nextToken()
		return args
	}

	p.nextToken()
	args = append(args, p.parseExpression(LOWEST))

	for p.peekTokenIs(COMMA) {
		p.nextToken()
		p.nextToken()
		args = append(args, p.parseExpression(LOWEST))
	}

	if !p.expectPeek(end) {
		return nil
	}

	return args
}

func (p *Parser) curTokenIs(t TokenType) bool {
	return p.curToken.Type == t
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

func (p *Parser) peekError(t TokenType) {
	msg := fmt.Sprintf("expected next token to be %s, got %s instead (line %d, column %d)",
		t, p.peekToken.Type, p.peekToken.Line, p.peekToken.Column)
	p.errors = append(p.errors, msg)
}

func (p *Parser) noPrefixParseFnError(tok Token) {
	msg := fmt.Sprintf("no prefix parse function for %s found (line %d, column %d)", tok.Type, tok.Line, tok.Column)
	p.errors = append(p.errors, msg)
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
