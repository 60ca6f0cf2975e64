// Package parser is a Pratt parser producing the ast.Node set the
// compiler accepts. It is a syntax-layer concern only: the compiler is
// agnostic to everything in this package.
package parser

import (
	"fmt"
	"strconv"

	"lumen/internal/ast"
	"lumen/internal/lexer"
	"lumen/internal/token"
)

const (
	_ int = iota
	LOWEST
	OR             // or
	AND            // and
	EQUALITY       // == !=
	COMPARISON     // > >= < <=
	ADDITIVE       // + -
	MULTIPLICATIVE // * / %
	UNARY          // -x, not x
	CALL           // f(...), a[i], a.b
)

var precedences = map[token.TokenType]int{
	token.OR:       OR,
	token.AND:      AND,
	token.EQ:       EQUALITY,
	token.NEQ:      EQUALITY,
	token.LT:       COMPARISON,
	token.GT:       COMPARISON,
	token.LTE:      COMPARISON,
	token.GTE:      COMPARISON,
	token.PLUS:     ADDITIVE,
	token.MINUS:    ADDITIVE,
	token.STAR:     MULTIPLICATIVE,
	token.SLASH:    MULTIPLICATIVE,
	token.PERCENT:  MULTIPLICATIVE,
	token.LPAREN:   CALL,
	token.LBRACKET: CALL,
	token.DOT:      CALL,
}

type (
	prefixParseFn func() ast.Expression
	infixParseFn  func(ast.Expression) ast.Expression
)

type Parser struct {
	l *lexer.Lexer

	curToken  token.Token
	peekToken token.Token

	prefixParseFns map[token.TokenType]prefixParseFn
	infixParseFns  map[token.TokenType]infixParseFn

	errors []string
}

func New(l *lexer.Lexer) *Parser {
	p := &Parser{l: l, errors: []string{}}

	p.nextToken()
	p.nextToken()

	p.prefixParseFns = make(map[token.TokenType]prefixParseFn)
	p.registerPrefix(token.IDENTIFIER, p.parseIdentifier)
	p.registerPrefix(token.INT, p.parseNumber)
	p.registerPrefix(token.FLOAT, p.parseNumber)
	p.registerPrefix(token.STRING, p.parseString)
	p.registerPrefix(token.TRUE, p.parseBoolean)
	p.registerPrefix(token.FALSE, p.parseBoolean)
	p.registerPrefix(token.NONE, p.parseNone)
	p.registerPrefix(token.NOT, p.parseUnary)
	p.registerPrefix(token.MINUS, p.parseUnary)
	p.registerPrefix(token.LPAREN, p.parseGroupedExpression)
	p.registerPrefix(token.LBRACKET, p.parseArrayLiteral)
	p.registerPrefix(token.FN, p.parseFunctionExpr)

	p.infixParseFns = make(map[token.TokenType]infixParseFn)
	p.registerInfix(token.PLUS, p.parseBinaryOp)
	p.registerInfix(token.MINUS, p.parseBinaryOp)
	p.registerInfix(token.STAR, p.parseBinaryOp)
	p.registerInfix(token.SLASH, p.parseBinaryOp)
	p.registerInfix(token.PERCENT, p.parseBinaryOp)
	p.registerInfix(token.EQ, p.parseComparisonOp)
	p.registerInfix(token.NEQ, p.parseComparisonOp)
	p.registerInfix(token.LT, p.parseComparisonOp)
	p.registerInfix(token.GT, p.parseComparisonOp)
	p.registerInfix(token.LTE, p.parseComparisonOp)
	p.registerInfix(token.GTE, p.parseComparisonOp)
	p.registerInfix(token.AND, p.parseLogicalOp)
	p.registerInfix(token.OR, p.parseLogicalOp)
	p.registerInfix(token.LPAREN, p.parseCallExpr)
	p.registerInfix(token.LBRACKET, p.parseIndexExpr)
	p.registerInfix(token.DOT, p.parseDotExpr)

	return p
}

func (p *Parser) registerPrefix(t token.TokenType, fn prefixParseFn) { p.prefixParseFns[t] = fn }
func (p *Parser) registerInfix(t token.TokenType, fn infixParseFn)   { p.infixParseFns[t] = fn }

func (p *Parser) Errors() []string { return p.errors }

func (p *Parser) nextToken() {
	p.curToken = p.peekToken
	p.peekToken = p.l.NextToken()
}

func (p *Parser) curTokenIs(t token.TokenType) bool  { return p.curToken.Type == t }
func (p *Parser) peekTokenIs(t token.TokenType) bool { return p.peekToken.Type == t }

func (p *Parser) expectPeek(t token.TokenType) bool {
	if p.peekTokenIs(t) {
		p.nextToken()
		return true
	}
	p.peekError(t)
	return false
}

func (p *Parser) peekError(t token.TokenType) {
	msg := fmt.Sprintf("[%d:%d] SyntaxError: expected %s, found %s",
		p.peekToken.Line, p.peekToken.Column, t.Display(), p.peekToken.Type.Display())
	p.errors = append(p.errors, msg)
}

func (p *Parser) noPrefixParseFnError(t token.TokenType) {
	msg := fmt.Sprintf("[%d:%d] SyntaxError: unexpected %s", p.curToken.Line, p.curToken.Column, t.Display())
	p.errors = append(p.errors, msg)
}

func (p *Parser) peekPrecedence() int {
	if pr, ok := precedences[p.peekToken.Type]; ok {
		return pr
	}
	return LOWEST
}

func (p *Parser) curPrecedence() int {
	if pr, ok := precedences[p.curToken.Type]; ok {
		return pr
	}
	return LOWEST
}

// ParseProgram parses the full token stream into a root Block with no
// scope-opening Token (it is compiled inline at the toplevel).
func (p *Parser) ParseProgram() *ast.Block {
	root := &ast.Block{HasToken: false}

	for !p.curTokenIs(token.EOF) {
		stmt := p.parseStatement()
		if stmt != nil {
			root.Statements = append(root.Statements, stmt)
		}
		p.nextToken()
	}
	return root
}

func (p *Parser) parseStatement() ast.Statement {
	switch p.curToken.Type {
	case token.LET:
		return p.parseVarDeclare(false)
	case token.CONST:
		return p.parseVarDeclare(true)
	case token.IF:
		return p.parseIfStmt()
	case token.WHILE:
		return p.parseWhileStmt()
	case token.FOR:
		return p.parseForInStmt()
	case token.BREAK:
		return p.parseBreakStmt()
	case token.CONTINUE:
		return p.parseContinueStmt()
	case token.RETURN:
		return p.parseReturnStmt()
	case token.FN:
		if p.peekTokenIs(token.IDENTIFIER) {
			return p.parseFunctionDefStmt()
		}
		return p.parseExpressionOrAssignStmt()
	case token.LBRACE:
		return p.parseBlock()
	default:
		return p.parseExpressionOrAssignStmt()
	}
}

func (p *Parser) skipSemi() {
	if p.peekTokenIs(token.SEMI) {
		p.nextToken()
	}
}

func (p *Parser) parseVarDeclare(isConst bool) ast.Statement {
	tok := p.curToken
	if !p.expectPeek(token.IDENTIFIER) {
		return nil
	}
	name := p.curToken.Literal

	var value ast.Expression
	if p.peekTokenIs(token.ASSIGN) {
		p.nextToken()
		p.nextToken()
		value = p.parseExpression(LOWEST)
	}
	p.skipSemi()
	return &ast.VarDeclareStmt{Token: tok, Name: name, Value: value, IsConst: isConst}
}

// parseExpressionOrAssignStmt disambiguates `name = value;`,
// `collection[index] = value;`, and a bare expression statement.
func (p *Parser) parseExpressionOrAssignStmt() ast.Statement {
	tok := p.curToken
	expr := p.parseExpression(LOWEST)

	if p.peekTokenIs(token.ASSIGN) {
		p.nextToken() // consume '='
		p.nextToken()
		value := p.parseExpression(LOWEST)
		p.skipSemi()

		switch target := expr.(type) {
		case *ast.VariableExpr:
			return &ast.AssignStmt{Token: tok, Name: target.Name, Value: value}
		case *ast.IndexExpr:
			return &ast.AssignIndexStmt{Token: tok, Collection: target.Collection, Index: target.Index, Value: value}
		default:
			p.errors = append(p.errors, fmt.Sprintf("[%d:%d] SyntaxError: invalid assignment target", tok.Line, tok.Column))
			return nil
		}
	}

	p.skipSemi()
	return &ast.ExpressionStmt{Token: tok, Expression: expr}
}

func (p *Parser) parseBlock() *ast.Block {
	block := &ast.Block{Token: p.curToken, HasToken: true}
	p.nextToken()

	for !p.curTokenIs(token.RBRACE) && !p.curTokenIs(token.EOF) {
		stmt := p.parseStatement()
		if stmt != nil {
			block.Statements = append(block.Statements, stmt)
		}
		p.nextToken()
	}
	return block
}

func (p *Parser) parseIfStmt() ast.Statement {
	tok := p.curToken
	p.nextToken()
	condition := p.parseExpression(LOWEST)

	if !p.expectPeek(token.LBRACE) {
		return nil
	}
	consequence := p.parseBlock()

	var alternative *ast.Block
	if p.peekTokenIs(token.ELSE) {
		p.nextToken()
		if p.peekTokenIs(token.IF) {
			p.nextToken()
			nested := p.parseIfStmt()
			alternative = &ast.Block{HasToken: false, Statements: []ast.Statement{nested}}
		} else {
			if !p.expectPeek(token.LBRACE) {
				return nil
			}
			alternative = p.parseBlock()
		}
	}

	return &ast.IfStmt{Token: tok, Condition: condition, Consequence: consequence, Alternative: alternative}
}

func (p *Parser) parseWhileStmt() ast.Statement {
	tok := p.curToken
	p.nextToken()
	condition := p.parseExpression(LOWEST)

	if !p.expectPeek(token.LBRACE) {
		return nil
	}
	body := p.parseBlock()
	return &ast.WhileStmt{Token: tok, Condition: condition, Body: body}
}

func (p *Parser) parseForInStmt() ast.Statement {
	tok := p.curToken
	if !p.expectPeek(token.IDENTIFIER) {
		return nil
	}
	varName := p.curToken.Literal

	if !p.expectPeek(token.IN) {
		return nil
	}
	p.nextToken()
	iterable := p.parseExpression(LOWEST)

	if !p.expectPeek(token.LBRACE) {
		return nil
	}
	body := p.parseBlock()

	return &ast.ForInStmt{Token: tok, VarName: varName, Iterable: iterable, Body: body}
}

func (p *Parser) parseBreakStmt() ast.Statement {
	tok := p.curToken
	p.skipSemi()
	return &ast.BreakStmt{Token: tok}
}

func (p *Parser) parseContinueStmt() ast.Statement {
	tok := p.curToken
	p.skipSemi()
	return &ast.ContinueStmt{Token: tok}
}

func (p *Parser) parseReturnStmt() ast.Statement {
	tok := p.curToken
	stmt := &ast.ReturnStmt{Token: tok}
	if !p.peekTokenIs(token.SEMI) && !p.peekTokenIs(token.RBRACE) {
		p.nextToken()
		stmt.ReturnValue = p.parseExpression(LOWEST)
	}
	p.skipSemi()
	return stmt
}

func (p *Parser) parseParamList() []*ast.Parameter {
	params := []*ast.Parameter{}
	if p.peekTokenIs(token.RPAREN) {
		p.nextToken()
		return params
	}
	p.nextToken()
	params = append(params, &ast.Parameter{Name: p.curToken.Literal})
	for p.peekTokenIs(token.COMMA) {
		p.nextToken()
		p.nextToken()
		params = append(params, &ast.Parameter{Name: p.curToken.Literal})
	}
	if !p.expectPeek(token.RPAREN) {
		return nil
	}
	return params
}

func (p *Parser) parseFunctionDefStmt() ast.Statement {
	tok := p.curToken
	p.nextToken() // now at IDENTIFIER
	name := p.curToken.Literal

	if !p.expectPeek(token.LPAREN) {
		return nil
	}
	params := p.parseParamList()

	if !p.expectPeek(token.LBRACE) {
		return nil
	}
	body := p.parseBlock()

	return &ast.FunctionDefStmt{Token: tok, Name: name, Params: params, Body: body}
}

func (p *Parser) parseFunctionExpr() ast.Expression {
	tok := p.curToken
	if !p.expectPeek(token.LPAREN) {
		return nil
	}
	params := p.parseParamList()

	if !p.expectPeek(token.LBRACE) {
		return nil
	}
	body := p.parseBlock()

	return &ast.FunctionExpr{Token: tok, Params: params, Body: body}
}

func (p *Parser) parseExpression(precedence int) ast.Expression {
	prefix := p.prefixParseFns[p.curToken.Type]
	if prefix == nil {
		p.noPrefixParseFnError(p.curToken.Type)
		return nil
	}
	left := prefix()

	for !p.peekTokenIs(token.SEMI) && precedence < p.peekPrecedence() {
		infix := p.infixParseFns[p.peekToken.Type]
		if infix == nil {
			return left
		}
		p.nextToken()
		left = infix(left)
	}

	// Range suffix: a:b[:c]. Parsed after the ordinary expression so
	// ':' never competes with the Pratt precedence table above.
	if precedence < ADDITIVE && p.peekTokenIs(token.COLON) {
		left = p.parseRangeSuffix(left)
	}

	return left
}

func (p *Parser) parseRangeSuffix(start ast.Expression) ast.Expression {
	tok := p.peekToken
	p.nextToken() // consume ':'
	p.nextToken()
	end := p.parseExpression(ADDITIVE)

	var step ast.Expression
	if p.peekTokenIs(token.COLON) {
		p.nextToken()
		p.nextToken()
		step = p.parseExpression(ADDITIVE)
	}

	return &ast.RangeSpecifier{Token: tok, Start: start, End: end, Step: step}
}

func (p *Parser) parseIdentifier() ast.Expression {
	return &ast.VariableExpr{Token: p.curToken, Name: p.curToken.Literal}
}

func (p *Parser) parseNumber() ast.Expression {
	tok := p.curToken
	if tok.Type == token.FLOAT {
		v, err := strconv.ParseFloat(tok.Literal, 64)
		if err != nil {
			p.errors = append(p.errors, fmt.Sprintf("[%d:%d] SyntaxError: invalid float %q", tok.Line, tok.Column, tok.Literal))
			return nil
		}
		return &ast.Number{Token: tok, FltVal: v, IsFloat: true}
	}
	v, err := strconv.ParseInt(tok.Literal, 10, 64)
	if err != nil {
		p.errors = append(p.errors, fmt.Sprintf("[%d:%d] SyntaxError: invalid integer %q", tok.Line, tok.Column, tok.Literal))
		return nil
	}
	return &ast.Number{Token: tok, IntVal: v}
}

func (p *Parser) parseString() ast.Expression {
	return &ast.String{Token: p.curToken, Value: p.curToken.Literal}
}

func (p *Parser) parseBoolean() ast.Expression {
	return &ast.Boolean{Token: p.curToken, Value: p.curTokenIs(token.TRUE)}
}

func (p *Parser) parseNone() ast.Expression {
	return &ast.NoneLiteral{Token: p.curToken}
}

func (p *Parser) parseUnary() ast.Expression {
	tok := p.curToken
	op := "-"
	if tok.Type == token.NOT {
		op = "not"
	}
	p.nextToken()
	right := p.parseExpression(UNARY)
	return &ast.UnaryOp{Token: tok, Operator: op, Right: right}
}

func (p *Parser) parseGroupedExpression() ast.Expression {
	p.nextToken()
	exp := p.parseExpression(LOWEST)
	if !p.expectPeek(token.RPAREN) {
		return nil
	}
	return exp
}

func (p *Parser) parseArrayLiteral() ast.Expression {
	tok := p.curToken
	elements := p.parseExpressionList(token.RBRACKET)
	return &ast.ArrayLiteral{Token: tok, Elements: elements}
}

func (p *Parser) parseExpressionList(end token.TokenType) []ast.Expression {
	list := []ast.Expression{}
	if p.peekTokenIs(end) {
		p.nextToken()
		return list
	}
	p.nextToken()
	list = append(list, p.parseExpression(LOWEST))
	for p.peekTokenIs(token.COMMA) {
		p.nextToken()
		p.nextToken()
		list = append(list, p.parseExpression(LOWEST))
	}
	if !p.expectPeek(end) {
		return nil
	}
	return list
}

func (p *Parser) parseBinaryOp(left ast.Expression) ast.Expression {
	tok := p.curToken
	op := tok.Literal
	precedence := p.curPrecedence()
	p.nextToken()
	right := p.parseExpression(precedence)
	return &ast.BinaryOp{Token: tok, Left: left, Operator: op, Right: right}
}

func (p *Parser) parseComparisonOp(left ast.Expression) ast.Expression {
	tok := p.curToken
	op := tok.Literal
	precedence := p.curPrecedence()
	p.nextToken()
	right := p.parseExpression(precedence)
	return &ast.ComparisonOp{Token: tok, Left: left, Operator: op, Right: right}
}

func (p *Parser) parseLogicalOp(left ast.Expression) ast.Expression {
	tok := p.curToken
	op := tok.Literal
	precedence := p.curPrecedence()
	p.nextToken()
	right := p.parseExpression(precedence)
	return &ast.LogicalOp{Token: tok, Left: left, Operator: op, Right: right}
}

func (p *Parser) parseIndexExpr(left ast.Expression) ast.Expression {
	tok := p.curToken
	p.nextToken()
	index := p.parseExpression(LOWEST)
	if !p.expectPeek(token.RBRACKET) {
		return nil
	}
	return &ast.IndexExpr{Token: tok, Collection: left, Index: index}
}

func (p *Parser) parseDotExpr(left ast.Expression) ast.Expression {
	tok := p.curToken
	if !p.expectPeek(token.IDENTIFIER) {
		return nil
	}
	return &ast.DotExpr{Token: tok, Object: left, Name: p.curToken.Literal}
}

func (p *Parser) parseCallExpr(callee ast.Expression) ast.Expression {
	tok := p.curToken
	args, kwargs := p.parseCallArguments()
	return &ast.CallExpr{Token: tok, Callee: callee, Args: args, KeywordArgs: kwargs}
}

func (p *Parser) parseCallArguments() ([]ast.Expression, []ast.KeywordArg) {
	args := []ast.Expression{}
	kwargs := []ast.KeywordArg{}

	if p.peekTokenIs(token.RPAREN) {
		p.nextToken()
		return args, kwargs
	}

	p.nextToken()
	p.collectCallArgument(&args, &kwargs)

	for p.peekTokenIs(token.COMMA) {
		p.nextToken()
		p.nextToken()
		p.collectCallArgument(&args, &kwargs)
	}

	if !p.expectPeek(token.RPAREN) {
		return nil, nil
	}
	return args, kwargs
}

func (p *Parser) collectCallArgument(args *[]ast.Expression, kwargs *[]ast.KeywordArg) {
	name, val, isKw := p.parseCallArgument()
	if isKw {
		*kwargs = append(*kwargs, ast.KeywordArg{Name: name, Value: val})
	} else {
		*args = append(*args, val)
	}
}

// parseCallArgument recognizes `name = expr` as a keyword argument when
// the current token is an identifier directly followed by '='.
func (p *Parser) parseCallArgument() (string, ast.Expression, bool) {
	if p.curTokenIs(token.IDENTIFIER) && p.peekTokenIs(token.ASSIGN) {
		name := p.curToken.Literal
		p.nextToken() // '='
		p.nextToken()
		return name, p.parseExpression(LOWEST), true
	}
	return "", p.parseExpression(LOWEST), false
}
