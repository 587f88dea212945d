package filterql

import (
	"strconv"
	"strings"
)

var fiqlOperatorSymbols = map[Operator]string{
	OpEq: "==",
	OpNe: "!=",
	OpLt: "=lt=",
	OpLe: "=le=",
	OpGt: "=gt=",
	OpGe: "=ge=",
}

// Format renders n in the given dialect. The output parses back to a tree
// Equal to n. Nested and/or groups are always parenthesised.
func Format(n Node, d Dialect) string {
	var b strings.Builder
	format(&b, n, d)
	return b.String()
}

func format(b *strings.Builder, n Node, d Dialect) {
	switch x := n.(type) {
	case *Comparison:
		b.WriteString(x.Field)
		if d == DialectFIQL {
			b.WriteString(fiqlOperatorSymbols[x.Op])
		} else {
			b.WriteByte(' ')
			b.WriteString(string(x.Op))
			b.WriteByte(' ')
		}
		formatLiteral(b, x.Value)
	case *FunctionCall:
		b.WriteString(string(x.Name))
		b.WriteByte('(')
		b.WriteString(x.Field)
		b.WriteString(", ")
		formatLiteral(b, x.Arg)
		b.WriteByte(')')
	case *InList:
		b.WriteString(x.Field)
		b.WriteString(" in (")
		for i, v := range x.Values {
			if i > 0 {
				b.WriteString(", ")
			}
			formatLiteral(b, v)
		}
		b.WriteByte(')')
	case *Logical:
		if x.Op == LogicalNot {
			b.WriteString("not (")
			format(b, x.Operands[0], d)
			b.WriteByte(')')
			return
		}
		sep := " and "
		if x.Op == LogicalOr {
			sep = " or "
		}
		if d == DialectFIQL {
			sep = ";"
			if x.Op == LogicalOr {
				sep = ","
			}
		}
		for i, op := range x.Operands {
			if i > 0 {
				b.WriteString(sep)
			}
			if l, ok := op.(*Logical); ok && l.Op != LogicalNot {
				b.WriteByte('(')
				format(b, op, d)
				b.WriteByte(')')
				continue
			}
			format(b, op, d)
		}
	}
}

func formatLiteral(b *strings.Builder, l Literal) {
	switch l.Kind {
	case LiteralString:
		b.WriteByte('\'')
		b.WriteString(strings.ReplaceAll(l.Str, "'", `\'`))
		b.WriteByte('\'')
	case LiteralNumber:
		b.WriteString(strconv.FormatFloat(l.Num, 'f', -1, 64))
	case LiteralBool:
		b.WriteString(strconv.FormatBool(l.Bool))
	default:
		b.WriteString("null")
	}
}
