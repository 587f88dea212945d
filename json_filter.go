package filterql

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strconv"
	"strings"
)

// ParseJSON builds an AST from the object form of a filter:
//
//	{"name": "x"}                   name eq 'x'
//	{"id": [1, 2]}                  id in (1, 2)
//	{"age": {"gt": 1, "le": 9}}     age gt 1 and age le 9
//	{"$or": [{...}, {...}]}         explicit disjunction
//	{"$not": {...}}                 negation
//
// Top-level keys are AND-ed. Keys are read in document order and repeated
// keys are kept as separate clauses. Positions are byte offsets into data.
func ParseJSON(data []byte) (Node, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	jp := &jsonParser{dec: dec}

	if err := jp.open('{'); err != nil {
		return nil, err
	}
	clauses, err := jp.object()
	if err != nil {
		return nil, err
	}
	if len(clauses) == 0 {
		return nil, parseError(ReasonEmptyFilter, 0, "filter object is empty")
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, parseError(ReasonInvalidJSON, jp.offset(), "unexpected data after filter object")
	}
	return joinClauses(LogicalAnd, clauses), nil
}

type jsonParser struct {
	dec *json.Decoder
}

func (jp *jsonParser) offset() int {
	return int(jp.dec.InputOffset())
}

func (jp *jsonParser) token() (json.Token, int, error) {
	pos := jp.offset()
	tok, err := jp.dec.Token()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, pos, parseError(ReasonUnexpectedEOF, pos, "filter object ends early")
		}
		return nil, pos, parseError(ReasonInvalidJSON, pos, "%v", err)
	}
	return tok, pos, nil
}

func (jp *jsonParser) open(want json.Delim) error {
	tok, pos, err := jp.token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return parseError(ReasonUnexpectedToken, pos, "expected %q", string(want))
	}
	return nil
}

// object reads the members of an object whose '{' was already consumed.
func (jp *jsonParser) object() ([]Node, error) {
	var clauses []Node
	for jp.dec.More() {
		tok, pos, err := jp.token()
		if err != nil {
			return nil, err
		}
		key, _ := tok.(string)
		var n Node
		switch strings.ToLower(key) {
		case "$and":
			n, err = jp.group(LogicalAnd, pos)
		case "$or":
			n, err = jp.group(LogicalOr, pos)
		case "$not":
			n, err = jp.not(pos)
		default:
			if strings.HasPrefix(key, "$") {
				return nil, parseError(ReasonUnexpectedToken, pos, "unknown logical key %q", key)
			}
			n, err = jp.field(key, pos)
		}
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, n)
	}
	if _, _, err := jp.token(); err != nil {
		return nil, err
	}
	return clauses, nil
}

func (jp *jsonParser) group(op LogicalOp, pos int) (Node, error) {
	if err := jp.open('['); err != nil {
		return nil, err
	}
	var operands []Node
	for jp.dec.More() {
		if err := jp.open('{'); err != nil {
			return nil, err
		}
		clauses, err := jp.object()
		if err != nil {
			return nil, err
		}
		if len(clauses) == 0 {
			return nil, parseError(ReasonEmptyFilter, pos, "empty object inside %s", op)
		}
		operands = append(operands, joinClauses(LogicalAnd, clauses))
	}
	if _, _, err := jp.token(); err != nil {
		return nil, err
	}
	if len(operands) == 0 {
		return nil, parseError(ReasonEmptyList, pos, "%s needs at least one operand", op)
	}
	n := joinClauses(op, operands)
	if l, ok := n.(*Logical); ok {
		l.Pos = pos
	}
	return n, nil
}

func (jp *jsonParser) not(pos int) (Node, error) {
	if err := jp.open('{'); err != nil {
		return nil, err
	}
	clauses, err := jp.object()
	if err != nil {
		return nil, err
	}
	if len(clauses) == 0 {
		return nil, parseError(ReasonEmptyFilter, pos, "empty object inside not")
	}
	return &Logical{Op: LogicalNot, Operands: []Node{joinClauses(LogicalAnd, clauses)}, Pos: pos}, nil
}

func (jp *jsonParser) field(name string, pos int) (Node, error) {
	tok, vpos, err := jp.token()
	if err != nil {
		return nil, err
	}
	switch tok {
	case json.Delim('['):
		values, err := jp.list(vpos)
		if err != nil {
			return nil, err
		}
		return &InList{Field: name, Values: values, Pos: pos}, nil
	case json.Delim('{'):
		return jp.operators(name, pos)
	}
	lit, err := jsonLiteral(tok, vpos)
	if err != nil {
		return nil, err
	}
	return &Comparison{Field: name, Op: OpEq, Value: lit, Pos: pos}, nil
}

// operators reads {"op": value, ...} for one field.
func (jp *jsonParser) operators(name string, pos int) (Node, error) {
	var clauses []Node
	for jp.dec.More() {
		tok, opPos, err := jp.token()
		if err != nil {
			return nil, err
		}
		key, _ := tok.(string)
		op := Operator(strings.ToLower(strings.TrimPrefix(key, "$")))
		switch {
		case op == OpIn:
			if err := jp.open('['); err != nil {
				return nil, err
			}
			values, err := jp.list(opPos)
			if err != nil {
				return nil, err
			}
			clauses = append(clauses, &InList{Field: name, Values: values, Pos: pos})
		case op.IsFunction():
			lit, err := jp.scalar()
			if err != nil {
				return nil, err
			}
			clauses = append(clauses, &FunctionCall{Name: op, Field: name, Arg: lit, Pos: pos})
		default:
			if _, ok := comparisonOperators[string(op)]; !ok {
				return nil, parseError(ReasonUnexpectedToken, opPos, "unknown operator %q for %q", key, name)
			}
			lit, err := jp.scalar()
			if err != nil {
				return nil, err
			}
			clauses = append(clauses, &Comparison{Field: name, Op: op, Value: lit, Pos: pos})
		}
	}
	if _, _, err := jp.token(); err != nil {
		return nil, err
	}
	if len(clauses) == 0 {
		return nil, parseError(ReasonEmptyFilter, pos, "no operators given for %q", name)
	}
	return joinClauses(LogicalAnd, clauses), nil
}

// list reads literals up to ']' once '[' was consumed.
func (jp *jsonParser) list(pos int) ([]Literal, error) {
	var values []Literal
	for jp.dec.More() {
		lit, err := jp.scalar()
		if err != nil {
			return nil, err
		}
		values = append(values, lit)
	}
	if _, _, err := jp.token(); err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, parseError(ReasonEmptyList, pos, "value list must not be empty")
	}
	return values, nil
}

func (jp *jsonParser) scalar() (Literal, error) {
	tok, pos, err := jp.token()
	if err != nil {
		return Literal{}, err
	}
	return jsonLiteral(tok, pos)
}

func jsonLiteral(tok json.Token, pos int) (Literal, error) {
	switch v := tok.(type) {
	case string:
		return Literal{Kind: LiteralString, Str: v, Pos: pos}, nil
	case json.Number:
		f, err := strconv.ParseFloat(v.String(), 64)
		if err != nil {
			return Literal{}, parseError(ReasonUnexpectedToken, pos, "invalid number %s", v)
		}
		return Literal{Kind: LiteralNumber, Num: f, Raw: v.String(), Pos: pos}, nil
	case bool:
		return Literal{Kind: LiteralBool, Bool: v, Pos: pos}, nil
	case nil:
		return Literal{Kind: LiteralNull, Pos: pos}, nil
	default:
		return Literal{}, parseError(ReasonUnexpectedToken, pos, "expected a scalar value")
	}
}

func joinClauses(op LogicalOp, clauses []Node) Node {
	if len(clauses) == 1 {
		return clauses[0]
	}
	return &Logical{Op: op, Operands: clauses, Pos: nodePos(clauses[0])}
}
