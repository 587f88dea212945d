package filterql

import "strconv"

// Operator names a comparison, list or string function. The same tags are
// used for allow-lists in FieldSpec and for leaves in the compiled Predicate.
type Operator string

const (
	OpEq         Operator = "eq"
	OpNe         Operator = "ne"
	OpLt         Operator = "lt"
	OpLe         Operator = "le"
	OpGt         Operator = "gt"
	OpGe         Operator = "ge"
	OpIn         Operator = "in"
	OpContains   Operator = "contains"
	OpStartsWith Operator = "startswith"
	OpEndsWith   Operator = "endswith"

	// Only produced by the compiler for comparisons against null.
	OpIsNull  Operator = "isnull"
	OpNotNull Operator = "notnull"
)

// IsFunction reports whether op is one of the string functions.
func (op Operator) IsFunction() bool {
	return op == OpContains || op == OpStartsWith || op == OpEndsWith
}

// LogicalOp is the connective of a Logical node.
type LogicalOp string

const (
	LogicalAnd LogicalOp = "and"
	LogicalOr  LogicalOp = "or"
	LogicalNot LogicalOp = "not"
)

// Node is a parsed filter expression. Implementations: *Comparison,
// *FunctionCall, *InList, *Logical.
type Node interface {
	node()
}

// Comparison is `field op value`.
type Comparison struct {
	Field string
	Op    Operator
	Value Literal
	Pos   int
}

// FunctionCall is `name(field, arg)`.
type FunctionCall struct {
	Name  Operator
	Field string
	Arg   Literal
	Pos   int
}

// InList is `field in (v1, v2, ...)`; Values keeps source order.
type InList struct {
	Field  string
	Values []Literal
	Pos    int
}

// Logical joins operands. Not has exactly one operand, And/Or at least two.
type Logical struct {
	Op       LogicalOp
	Operands []Node
	Pos      int
}

func (*Comparison) node()   {}
func (*FunctionCall) node() {}
func (*InList) node()       {}
func (*Logical) node()      {}

// LiteralKind tags the Literal union.
type LiteralKind int

const (
	LiteralNull LiteralKind = iota
	LiteralString
	LiteralNumber
	LiteralBool
)

func (k LiteralKind) String() string {
	switch k {
	case LiteralString:
		return "string"
	case LiteralNumber:
		return "number"
	case LiteralBool:
		return "boolean"
	default:
		return "null"
	}
}

// Literal is Str | Num | Bool | Null. Raw keeps the source text of numerals.
type Literal struct {
	Kind LiteralKind
	Str  string
	Num  float64
	Bool bool
	Raw  string
	Bare bool
	Pos  int
}

// Str, Num, Bool and Null build literals.
func Str(s string) Literal { return Literal{Kind: LiteralString, Str: s} }

func Num(n float64) Literal {
	return Literal{Kind: LiteralNumber, Num: n, Raw: strconv.FormatFloat(n, 'f', -1, 64)}
}

func Bool(b bool) Literal { return Literal{Kind: LiteralBool, Bool: b} }

func Null() Literal { return Literal{Kind: LiteralNull} }

// IsNull reports whether l is the null literal.
func (l Literal) IsNull() bool { return l.Kind == LiteralNull }

// Value returns the literal as a plain Go value (string, float64, bool or nil).
func (l Literal) Value() any {
	switch l.Kind {
	case LiteralString:
		return l.Str
	case LiteralNumber:
		return l.Num
	case LiteralBool:
		return l.Bool
	default:
		return nil
	}
}

// text is the literal as written, used when a bare FIQL argument lands on a
// string field.
func (l Literal) text() string {
	switch l.Kind {
	case LiteralString:
		return l.Str
	case LiteralNumber:
		if l.Raw != "" {
			return l.Raw
		}
		return strconv.FormatFloat(l.Num, 'f', -1, 64)
	case LiteralBool:
		return strconv.FormatBool(l.Bool)
	default:
		return "null"
	}
}

// Equal reports whether two trees have the same shape and values, ignoring
// source positions and lexical details.
func Equal(a, b Node) bool {
	switch x := a.(type) {
	case *Comparison:
		y, ok := b.(*Comparison)
		return ok && x.Field == y.Field && x.Op == y.Op && literalEqual(x.Value, y.Value)
	case *FunctionCall:
		y, ok := b.(*FunctionCall)
		return ok && x.Name == y.Name && x.Field == y.Field && literalEqual(x.Arg, y.Arg)
	case *InList:
		y, ok := b.(*InList)
		if !ok || x.Field != y.Field || len(x.Values) != len(y.Values) {
			return false
		}
		for i := range x.Values {
			if !literalEqual(x.Values[i], y.Values[i]) {
				return false
			}
		}
		return true
	case *Logical:
		y, ok := b.(*Logical)
		if !ok || x.Op != y.Op || len(x.Operands) != len(y.Operands) {
			return false
		}
		for i := range x.Operands {
			if !Equal(x.Operands[i], y.Operands[i]) {
				return false
			}
		}
		return true
	case nil:
		return b == nil
	default:
		return false
	}
}

func literalEqual(a, b Literal) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case LiteralString:
		return a.Str == b.Str
	case LiteralNumber:
		return a.Num == b.Num
	case LiteralBool:
		return a.Bool == b.Bool
	default:
		return true
	}
}

// Walk visits n and its descendants depth-first; fn returning false prunes
// the subtree.
func Walk(n Node, fn func(Node, int) bool) {
	walk(n, 1, fn)
}

func walk(n Node, depth int, fn func(Node, int) bool) {
	if n == nil || !fn(n, depth) {
		return
	}
	if l, ok := n.(*Logical); ok {
		for _, op := range l.Operands {
			walk(op, depth+1, fn)
		}
	}
}
