package filterql

import (
	"fmt"
	"strings"
	"time"
)

// Predicate is the compiled, store-agnostic filter handed to executors.
// Implementations: CompareExpr, AndExpr, OrExpr, NotExpr, SomeExpr.
type Predicate interface {
	isPredicate()
}

// CompareExpr is a leaf comparison on a validated field. Values holds one
// coerced value for comparisons and functions, every list entry for OpIn and
// nothing for OpIsNull/OpNotNull. FoldCase asks the store to compare
// case-insensitively; the values are already lower-cased.
type CompareExpr struct {
	Field    *FieldSpec
	Op       Operator
	Values   []any
	FoldCase bool
}

// Value returns the single operand of a non-list comparison.
func (c CompareExpr) Value() any {
	if len(c.Values) == 0 {
		return nil
	}
	return c.Values[0]
}

// Column is the storage column of the compared field.
func (c CompareExpr) Column() string {
	return c.Field.Column
}

type AndExpr struct {
	Operands []Predicate
}

type OrExpr struct {
	Operands []Predicate
}

// NotExpr negates its operand. Stores without a native NOT must apply De
// Morgan themselves.
type NotExpr struct {
	Operand Predicate
}

// SomeExpr holds when at least one record of the to-many Relation satisfies
// Predicate. Leaves inside refer to fields of the related records.
type SomeExpr struct {
	Relation  *FieldSpec
	Predicate Predicate
}

func (CompareExpr) isPredicate() {}
func (AndExpr) isPredicate()     {}
func (OrExpr) isPredicate()      {}
func (NotExpr) isPredicate()     {}
func (SomeExpr) isPredicate()    {}

// DescribePredicate renders p in a compact prefix notation, mainly for logs
// and the CLI, e.g. and(gt(age,30),some(courses,eq~(title,"go"))).
func DescribePredicate(p Predicate) string {
	var b strings.Builder
	describe(&b, p)
	return b.String()
}

func describe(b *strings.Builder, p Predicate) {
	switch x := p.(type) {
	case CompareExpr:
		b.WriteString(string(x.Op))
		if x.FoldCase {
			b.WriteByte('~')
		}
		b.WriteByte('(')
		b.WriteString(x.Field.Name)
		for _, v := range x.Values {
			b.WriteByte(',')
			b.WriteString(describeValue(v))
		}
		b.WriteByte(')')
	case AndExpr:
		describeGroup(b, "and", x.Operands)
	case OrExpr:
		describeGroup(b, "or", x.Operands)
	case NotExpr:
		b.WriteString("not(")
		describe(b, x.Operand)
		b.WriteByte(')')
	case SomeExpr:
		b.WriteString("some(")
		b.WriteString(x.Relation.Name)
		b.WriteByte(',')
		describe(b, x.Predicate)
		b.WriteByte(')')
	case nil:
		b.WriteString("true")
	}
}

func describeGroup(b *strings.Builder, name string, operands []Predicate) {
	b.WriteString(name)
	b.WriteByte('(')
	for i, op := range operands {
		if i > 0 {
			b.WriteByte(',')
		}
		describe(b, op)
	}
	b.WriteByte(')')
}

func describeValue(v any) string {
	switch x := v.(type) {
	case string:
		return fmt.Sprintf("%q", x)
	case time.Time:
		return x.Format(time.RFC3339Nano)
	case nil:
		return "null"
	default:
		return fmt.Sprint(x)
	}
}
