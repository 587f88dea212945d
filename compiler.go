package filterql

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jinzhu/now"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// StringMode selects case-sensitive or case-insensitive string matching.
type StringMode int

// StringInsensitiveASCII folds only A-Z, which is what SQLite's LOWER does.
// Use it for SQLite stores so both sides of a comparison fold alike.
const (
	StringSensitive StringMode = iota
	StringInsensitive
	StringInsensitiveASCII
)

func (m StringMode) String() string {
	switch m {
	case StringInsensitive:
		return "insensitive"
	case StringInsensitiveASCII:
		return "insensitive-ascii"
	}
	return "sensitive"
}

// ParseStringMode maps a configuration string to a StringMode.
func ParseStringMode(s string) (StringMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sensitive", "":
		return StringSensitive, nil
	case "insensitive":
		return StringInsensitive, nil
	case "insensitive-ascii":
		return StringInsensitiveASCII, nil
	default:
		return 0, fmt.Errorf("unknown string mode %q", s)
	}
}

const (
	DefaultMaxDepth = 10
	DefaultMaxNodes = 200
)

// CompileOptions bounds and tunes compilation. Zero values select the
// defaults; MaxNodes can only lower DefaultMaxNodes.
type CompileOptions struct {
	StringMode StringMode
	MaxDepth   int
	MaxNodes   int
}

var foldedOps = map[Operator]bool{
	OpEq:         true,
	OpNe:         true,
	OpIn:         true,
	OpContains:   true,
	OpStartsWith: true,
	OpEndsWith:   true,
}

type compiler struct {
	reg   *Registry
	opts  CompileOptions
	lower cases.Caser
}

// Compile validates n against reg and produces the store predicate. It is all
// or nothing: the first invalid leaf fails the whole filter. A nil node
// compiles to a nil predicate, meaning no restriction.
func Compile(n Node, reg *Registry, opts CompileOptions) (Predicate, error) {
	if n == nil {
		return nil, nil
	}
	if reg == nil {
		return nil, errors.New("filterql: compile without registry")
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	if opts.MaxNodes <= 0 || opts.MaxNodes > DefaultMaxNodes {
		opts.MaxNodes = DefaultMaxNodes
	}
	if err := checkComplexity(n, opts); err != nil {
		return nil, err
	}
	c := &compiler{reg: reg, opts: opts, lower: cases.Lower(language.Und)}
	return c.compile(n)
}

func checkComplexity(n Node, opts CompileOptions) error {
	var err error
	count := 0
	Walk(n, func(node Node, depth int) bool {
		if err != nil {
			return false
		}
		count++
		if in, ok := node.(*InList); ok {
			count += len(in.Values)
		}
		switch {
		case depth > opts.MaxDepth:
			err = &Error{Kind: KindTooComplex, Position: nodePos(node), Detail: fmt.Sprintf("filter nesting exceeds %d levels", opts.MaxDepth)}
		case count > opts.MaxNodes:
			err = &Error{Kind: KindTooComplex, Position: nodePos(node), Detail: fmt.Sprintf("filter has more than %d terms", opts.MaxNodes)}
		}
		return err == nil
	})
	return err
}

func (c *compiler) compile(n Node) (Predicate, error) {
	switch x := n.(type) {
	case *Logical:
		return c.logical(x)
	case *Comparison:
		return c.comparison(x)
	case *FunctionCall:
		return c.function(x)
	case *InList:
		return c.inList(x)
	default:
		return nil, newError(KindParse, "unsupported node %T", n)
	}
}

func (c *compiler) logical(x *Logical) (Predicate, error) {
	if x.Op == LogicalNot {
		if len(x.Operands) != 1 {
			return nil, &Error{Kind: KindParse, Position: x.Pos, Detail: "not takes exactly one operand"}
		}
		operand, err := c.compile(x.Operands[0])
		if err != nil {
			return nil, err
		}
		return NotExpr{Operand: operand}, nil
	}
	if len(x.Operands) < 2 {
		return nil, &Error{Kind: KindParse, Position: x.Pos, Detail: fmt.Sprintf("%s needs at least two operands", x.Op)}
	}
	operands := make([]Predicate, 0, len(x.Operands))
	for _, op := range x.Operands {
		p, err := c.compile(op)
		if err != nil {
			return nil, err
		}
		operands = append(operands, p)
	}
	switch x.Op {
	case LogicalAnd:
		return AndExpr{Operands: operands}, nil
	case LogicalOr:
		return OrExpr{Operands: operands}, nil
	default:
		return nil, &Error{Kind: KindParse, Position: x.Pos, Detail: fmt.Sprintf("unknown connective %q", x.Op)}
	}
}

func (c *compiler) resolve(name string, pos int) (FieldRef, error) {
	ref, ok := c.reg.Resolve(name)
	if !ok {
		return FieldRef{}, fieldError(KindUnknownField, name, pos, "field %q is not filterable", name)
	}
	return ref, nil
}

func (c *compiler) checkOp(ref FieldRef, op Operator, pos int) error {
	if !ref.Spec.Allows(op) {
		return fieldError(KindOperatorNotAllowed, ref.Path(), pos, "operator %q is not allowed on %q", op, ref.Path())
	}
	return nil
}

func (c *compiler) comparison(x *Comparison) (Predicate, error) {
	ref, err := c.resolve(x.Field, x.Pos)
	if err != nil {
		return nil, err
	}
	if err := c.checkOp(ref, x.Op, x.Pos); err != nil {
		return nil, err
	}
	if x.Value.IsNull() {
		var op Operator
		switch x.Op {
		case OpEq:
			op = OpIsNull
		case OpNe:
			op = OpNotNull
		default:
			return nil, fieldError(KindTypeMismatch, ref.Path(), x.Value.Pos, "null can only be compared with eq or ne")
		}
		return wrapRelation(ref, CompareExpr{Field: ref.Spec, Op: op}), nil
	}
	v, err := c.coerce(ref, x.Value, x.Op)
	if err != nil {
		return nil, err
	}
	fold := c.folds(ref.Spec, x.Op)
	if fold {
		v = c.fold(v.(string))
	}
	return wrapRelation(ref, CompareExpr{Field: ref.Spec, Op: x.Op, Values: []any{v}, FoldCase: fold}), nil
}

func (c *compiler) function(x *FunctionCall) (Predicate, error) {
	ref, err := c.resolve(x.Field, x.Pos)
	if err != nil {
		return nil, err
	}
	if err := c.checkOp(ref, x.Name, x.Pos); err != nil {
		return nil, err
	}
	if ref.Spec.Type != TypeString {
		return nil, fieldError(KindOperatorNotAllowed, ref.Path(), x.Pos, "%s applies to string fields only", x.Name)
	}
	if x.Arg.IsNull() {
		return nil, fieldError(KindTypeMismatch, ref.Path(), x.Arg.Pos, "%s needs a string argument", x.Name)
	}
	v, err := c.coerce(ref, x.Arg, x.Name)
	if err != nil {
		return nil, err
	}
	fold := c.folds(ref.Spec, x.Name)
	if fold {
		v = c.fold(v.(string))
	}
	return wrapRelation(ref, CompareExpr{Field: ref.Spec, Op: x.Name, Values: []any{v}, FoldCase: fold}), nil
}

func (c *compiler) inList(x *InList) (Predicate, error) {
	ref, err := c.resolve(x.Field, x.Pos)
	if err != nil {
		return nil, err
	}
	if err := c.checkOp(ref, OpIn, x.Pos); err != nil {
		return nil, err
	}
	if len(x.Values) == 0 {
		return nil, &Error{Kind: KindParse, Reason: ReasonEmptyList, Position: x.Pos, Detail: "value list must not be empty"}
	}
	fold := c.folds(ref.Spec, OpIn)
	values := make([]any, 0, len(x.Values))
	for _, lit := range x.Values {
		if lit.IsNull() {
			return nil, fieldError(KindTypeMismatch, ref.Path(), lit.Pos, "null is not allowed in a value list")
		}
		v, err := c.coerce(ref, lit, OpIn)
		if err != nil {
			return nil, err
		}
		if fold {
			v = c.fold(v.(string))
		}
		values = append(values, v)
	}
	return wrapRelation(ref, CompareExpr{Field: ref.Spec, Op: OpIn, Values: values, FoldCase: fold}), nil
}

func (c *compiler) folds(spec *FieldSpec, op Operator) bool {
	return c.opts.StringMode != StringSensitive && spec.Type == TypeString && len(spec.Enum) == 0 && foldedOps[op]
}

func (c *compiler) fold(s string) string {
	if c.opts.StringMode != StringInsensitiveASCII {
		return c.lower.String(s)
	}
	return strings.Map(func(r rune) rune {
		if 'A' <= r && r <= 'Z' {
			return r + ('a' - 'A')
		}
		return r
	}, s)
}

func (c *compiler) coerce(ref FieldRef, lit Literal, op Operator) (any, error) {
	spec := ref.Spec
	mismatch := func(want string) error {
		return fieldError(KindTypeMismatch, ref.Path(), lit.Pos, "%q expects %s, got %s", ref.Path(), want, lit.Kind)
	}
	switch spec.Type {
	case TypeString:
		var s string
		switch {
		case lit.Kind == LiteralString:
			s = lit.Str
		case lit.Bare:
			s = lit.text()
		default:
			return nil, mismatch("a string")
		}
		if len(spec.Enum) == 0 || op.IsFunction() {
			return s, nil
		}
		for _, allowed := range spec.Enum {
			if allowed == s || (c.opts.StringMode != StringSensitive && strings.EqualFold(allowed, s)) {
				return allowed, nil
			}
		}
		return nil, fieldError(KindTypeMismatch, ref.Path(), lit.Pos, "value %q is not one of [%s]", s, strings.Join(spec.Enum, ", "))
	case TypeNumber:
		if lit.Kind != LiteralNumber {
			return nil, mismatch("a number")
		}
		return lit.Num, nil
	case TypeBoolean:
		if lit.Kind != LiteralBool {
			return nil, mismatch("a boolean")
		}
		return lit.Bool, nil
	case TypeDate:
		if lit.Kind != LiteralString {
			return nil, mismatch("a date string")
		}
		t, err := parseDate(lit.Str)
		if err != nil {
			return nil, fieldError(KindTypeMismatch, ref.Path(), lit.Pos, "%q is not a valid date", lit.Str)
		}
		return t, nil
	default:
		return nil, mismatch(spec.Type.String())
	}
}

func wrapRelation(ref FieldRef, leaf CompareExpr) Predicate {
	if ref.Via == nil {
		return leaf
	}
	return SomeExpr{Relation: ref.Via, Predicate: leaf}
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	t, err := now.ParseInLocation(time.UTC, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
