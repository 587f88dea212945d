package filterql

import (
	"strconv"
	"strings"
)

// hardMaxParseDepth bounds recursion even when no ParseOption is given.
const hardMaxParseDepth = 256

var comparisonOperators = map[string]Operator{
	// keyword dialect
	"eq": OpEq,
	"ne": OpNe,
	"lt": OpLt,
	"le": OpLe,
	"gt": OpGt,
	"ge": OpGe,
	// FIQL dialect
	"==":   OpEq,
	"!=":   OpNe,
	"=lt=": OpLt,
	"<":    OpLt,
	"=le=": OpLe,
	"<=":   OpLe,
	"=gt=": OpGt,
	">":    OpGt,
	"=ge=": OpGe,
	">=":   OpGe,
}

// ParseOption tunes the parser.
type ParseOption func(*parser)

// WithMaxDepth rejects inputs whose parenthesis/not nesting exceeds n with a
// too-complex error.
func WithMaxDepth(n int) ParseOption {
	return func(p *parser) {
		if n > 0 && n < p.maxDepth {
			p.maxDepth = n
		}
	}
}

type parser struct {
	tokens   []Token
	pos      int
	dialect  Dialect
	depth    int
	maxDepth int
}

// ParseString tokenizes and parses input in one step.
func ParseString(input string, d Dialect, opts ...ParseOption) (Node, error) {
	return Parse(Tokenize(input, d), d, opts...)
}

// Parse builds the AST for a token stream produced by Tokenize. It performs
// no field or type checks.
func Parse(tokens []Token, d Dialect, opts ...ParseOption) (Node, error) {
	if len(tokens) == 0 || tokens[len(tokens)-1].Kind != TokenEOF {
		end := 0
		if len(tokens) > 0 {
			last := tokens[len(tokens)-1]
			end = last.Pos + len(last.Text)
		}
		tokens = append(tokens, Token{Kind: TokenEOF, Pos: end})
	}
	p := &parser{tokens: tokens, dialect: d, maxDepth: hardMaxParseDepth}
	for _, opt := range opts {
		opt(p)
	}

	if p.peek().Kind == TokenEOF {
		return nil, parseError(ReasonEmptyFilter, p.peek().Pos, "filter is empty")
	}
	n, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.Kind != TokenEOF {
		switch t.Kind {
		case TokenRParen:
			return nil, parseError(ReasonUnmatchedParen, t.Pos, "closing parenthesis has no matching opening one")
		case TokenUnknown:
			return nil, p.unknown(t)
		}
		return nil, p.unexpected(t, "expected a boolean connector or end of input")
	}
	return n, nil
}

func (p *parser) peek() Token {
	return p.tokens[p.pos]
}

func (p *parser) advance() Token {
	t := p.tokens[p.pos]
	if t.Kind != TokenEOF {
		p.pos++
	}
	return t
}

func (p *parser) isOr(t Token) bool {
	if p.dialect == DialectFIQL {
		return t.Kind == TokenComma
	}
	return t.Kind == TokenOperator && t.Text == "or"
}

func (p *parser) isAnd(t Token) bool {
	if p.dialect == DialectFIQL {
		return t.Kind == TokenOperator && t.Text == ";"
	}
	return t.Kind == TokenOperator && t.Text == "and"
}

func (p *parser) parseOr() (Node, error) {
	first, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	operands := []Node{first}
	for p.isOr(p.peek()) {
		p.advance()
		next, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		operands = append(operands, next)
	}
	if len(operands) == 1 {
		return first, nil
	}
	return &Logical{Op: LogicalOr, Operands: operands, Pos: nodePos(first)}, nil
}

func (p *parser) parseAnd() (Node, error) {
	first, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	operands := []Node{first}
	for p.isAnd(p.peek()) {
		p.advance()
		next, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		operands = append(operands, next)
	}
	if len(operands) == 1 {
		return first, nil
	}
	return &Logical{Op: LogicalAnd, Operands: operands, Pos: nodePos(first)}, nil
}

func (p *parser) parseUnary() (Node, error) {
	t := p.peek()
	if t.Kind == TokenOperator && t.Text == "not" {
		p.advance()
		if err := p.enter(t); err != nil {
			return nil, err
		}
		operand, err := p.parseUnary()
		p.depth--
		if err != nil {
			return nil, err
		}
		return &Logical{Op: LogicalNot, Operands: []Node{operand}, Pos: t.Pos}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Node, error) {
	t := p.peek()
	switch t.Kind {
	case TokenLParen:
		p.advance()
		if err := p.enter(t); err != nil {
			return nil, err
		}
		n, err := p.parseOr()
		p.depth--
		if err != nil {
			return nil, err
		}
		closing := p.peek()
		if closing.Kind != TokenRParen {
			switch closing.Kind {
			case TokenEOF:
				return nil, parseError(ReasonUnmatchedParen, t.Pos, "opening parenthesis is never closed")
			case TokenUnknown:
				return nil, p.unknown(closing)
			}
			return nil, p.unexpected(closing, "expected ')'")
		}
		p.advance()
		return n, nil
	case TokenOperator:
		if Operator(t.Text).IsFunction() {
			return p.parseFunction()
		}
		return nil, p.unexpected(t, "expected a field, function or '('")
	case TokenIdentifier:
		return p.parseFieldExpr()
	case TokenUnknown:
		return nil, p.unknown(t)
	case TokenEOF:
		return nil, parseError(ReasonUnexpectedEOF, t.Pos, "expected an expression")
	default:
		return nil, p.unexpected(t, "expected a field, function or '('")
	}
}

func (p *parser) enter(t Token) error {
	p.depth++
	if p.depth > p.maxDepth {
		return &Error{Kind: KindTooComplex, Position: t.Pos, Detail: "filter nesting exceeds " + strconv.Itoa(p.maxDepth) + " levels"}
	}
	return nil
}

func (p *parser) parseFunction() (Node, error) {
	name := p.advance()
	if err := p.expect(TokenLParen, "expected '(' after "+name.Text); err != nil {
		return nil, err
	}
	field := p.peek()
	if field.Kind != TokenIdentifier {
		return nil, p.unexpected(field, "expected a field name")
	}
	p.advance()
	if err := p.expect(TokenComma, "expected ',' after field name"); err != nil {
		return nil, err
	}
	arg, err := p.parseLiteral()
	if err != nil {
		return nil, err
	}
	if err := p.expect(TokenRParen, "expected ')' to close "+name.Text); err != nil {
		return nil, err
	}
	return &FunctionCall{Name: Operator(name.Text), Field: field.Text, Arg: arg, Pos: name.Pos}, nil
}

func (p *parser) parseFieldExpr() (Node, error) {
	field := p.advance()
	t := p.peek()
	switch {
	case t.Kind == TokenEOF:
		return nil, parseError(ReasonUnexpectedEOF, t.Pos, "field %q must be followed by an operator", field.Text)
	case t.Kind == TokenOperator && (t.Text == "in" || t.Text == "=in=" || t.Text == "=out="):
		p.advance()
		values, err := p.parseList()
		if err != nil {
			return nil, err
		}
		in := &InList{Field: field.Text, Values: values, Pos: field.Pos}
		if t.Text == "=out=" {
			return &Logical{Op: LogicalNot, Operands: []Node{in}, Pos: field.Pos}, nil
		}
		return in, nil
	case t.Kind == TokenOperator:
		op, ok := comparisonOperators[t.Text]
		if !ok {
			return nil, p.unexpected(t, "expected a comparison operator")
		}
		p.advance()
		value, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		return expandWildcard(&Comparison{Field: field.Text, Op: op, Value: value, Pos: field.Pos}), nil
	case t.Kind == TokenUnknown:
		return nil, p.unknown(t)
	default:
		return nil, p.unexpected(t, "expected a comparison operator")
	}
}

// expandWildcard turns FIQL `name==foo*` style arguments into string functions.
// Quoted arguments and arguments made only of asterisks keep their asterisks.
func expandWildcard(c *Comparison) Node {
	if !c.Value.Bare || c.Value.Kind != LiteralString || (c.Op != OpEq && c.Op != OpNe) {
		return c
	}
	s := c.Value.Str
	if strings.Trim(s, "*") == "" {
		return c
	}
	prefix, suffix := strings.HasPrefix(s, "*"), strings.HasSuffix(s, "*")
	var fn Operator
	switch {
	case prefix && suffix:
		fn, s = OpContains, s[1:len(s)-1]
	case prefix:
		fn, s = OpEndsWith, s[1:]
	case suffix:
		fn, s = OpStartsWith, s[:len(s)-1]
	default:
		return c
	}
	arg := c.Value
	arg.Str = s
	call := &FunctionCall{Name: fn, Field: c.Field, Arg: arg, Pos: c.Pos}
	if c.Op == OpNe {
		return &Logical{Op: LogicalNot, Operands: []Node{call}, Pos: c.Pos}
	}
	return call
}

func (p *parser) parseList() ([]Literal, error) {
	open := p.peek()
	if err := p.expect(TokenLParen, "expected '(' to start a value list"); err != nil {
		return nil, err
	}
	if t := p.peek(); t.Kind == TokenRParen {
		return nil, parseError(ReasonEmptyList, t.Pos, "value list must not be empty")
	}
	var values []Literal
	for {
		v, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		values = append(values, v)
		t := p.peek()
		switch t.Kind {
		case TokenComma:
			p.advance()
		case TokenRParen:
			p.advance()
			return values, nil
		case TokenEOF:
			return nil, parseError(ReasonUnmatchedParen, open.Pos, "value list is never closed")
		case TokenUnknown:
			return nil, p.unknown(t)
		default:
			return nil, p.unexpected(t, "expected ',' or ')' in value list")
		}
	}
}

func (p *parser) parseLiteral() (Literal, error) {
	t := p.peek()
	switch t.Kind {
	case TokenString:
		p.advance()
		return Literal{Kind: LiteralString, Str: t.Text, Bare: t.Bare, Pos: t.Pos}, nil
	case TokenNumber:
		n, err := strconv.ParseFloat(t.Text, 64)
		if err != nil {
			return Literal{}, parseError(ReasonUnexpectedToken, t.Pos, "invalid number %q", t.Text)
		}
		p.advance()
		return Literal{Kind: LiteralNumber, Num: n, Raw: t.Text, Bare: t.Bare, Pos: t.Pos}, nil
	case TokenBoolean:
		p.advance()
		return Literal{Kind: LiteralBool, Bool: t.Text == "true", Raw: t.Text, Bare: t.Bare, Pos: t.Pos}, nil
	case TokenNull:
		p.advance()
		return Literal{Kind: LiteralNull, Raw: t.Text, Bare: t.Bare, Pos: t.Pos}, nil
	case TokenUnknown:
		return Literal{}, p.unknown(t)
	case TokenEOF:
		return Literal{}, parseError(ReasonUnexpectedEOF, t.Pos, "expected a value")
	default:
		return Literal{}, p.unexpected(t, "expected a value")
	}
}

func (p *parser) expect(kind TokenKind, msg string) error {
	t := p.peek()
	if t.Kind == kind {
		p.advance()
		return nil
	}
	if t.Kind == TokenUnknown {
		return p.unknown(t)
	}
	if t.Kind == TokenEOF {
		return parseError(ReasonUnexpectedEOF, t.Pos, "%s", msg)
	}
	return p.unexpected(t, msg)
}

func (p *parser) unexpected(t Token, msg string) *Error {
	if t.Kind == TokenEOF {
		return parseError(ReasonUnexpectedEOF, t.Pos, "%s", msg)
	}
	return parseError(ReasonUnexpectedToken, t.Pos, "unexpected %s, %s", t, msg)
}

func (p *parser) unknown(t Token) *Error {
	if strings.HasPrefix(t.Text, "'") || strings.HasPrefix(t.Text, "\"") {
		return parseError(ReasonUnterminated, t.Pos, "string literal is never closed")
	}
	return parseError(ReasonUnknownToken, t.Pos, "unrecognized input %q", t.Text)
}

func nodePos(n Node) int {
	switch x := n.(type) {
	case *Comparison:
		return x.Pos
	case *FunctionCall:
		return x.Pos
	case *InList:
		return x.Pos
	case *Logical:
		return x.Pos
	default:
		return -1
	}
}
