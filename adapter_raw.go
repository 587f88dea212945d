package filterql

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// BuildRawWhere renders p as a SQL condition (without the WHERE keyword) and
// its args. Identifiers are quoted with backticks and placeholders use '?'.
// table is the outer table that relation sub-selects correlate with. When it
// is empty, relations render as `local_key IN (SELECT foreign_key ...)`.
func BuildRawWhere(p Predicate, table string) (string, []any) {
	w := &rawWriter{outer: table}
	return w.expr(p, "")
}

// BuildRawSelect builds the full keyset SELECT for q against table. The LIMIT
// is one more than the page size so callers can tell whether a next page
// exists.
func BuildRawSelect(q *CompiledQuery, table string, columns ...string) (string, []any) {
	cols := "*"
	if len(columns) > 0 {
		quoted := make([]string, 0, len(columns))
		for _, c := range columns {
			quoted = append(quoted, quoteIdent(c))
		}
		cols = strings.Join(quoted, ", ")
	}

	where, args := BuildRawWhere(PagePredicate(q), table)
	query := fmt.Sprintf("SELECT %s FROM %s", cols, quoteIdent(table))
	if where != "" {
		query += " WHERE " + where
	}
	query += " " + buildOrderBy(q)
	query += fmt.Sprintf(" LIMIT %d", q.GetLimit()+1)
	return query, args
}

// ExplainRawSQL inlines args into sql for logging and debugging. The result
// must never be executed.
func ExplainRawSQL(sql string, args []any) string {
	return expandPlaceholders(sql, args)
}

// -- internals --

type rawWriter struct {
	outer string
}

func (w *rawWriter) column(name, qualifier string) string {
	if qualifier == "" {
		return quoteIdent(name)
	}
	return quoteIdent(qualifier) + "." + quoteIdent(name)
}

func (w *rawWriter) expr(p Predicate, qualifier string) (string, []any) {
	switch x := p.(type) {
	case CompareExpr:
		return w.compare(x, qualifier)
	case AndExpr:
		return w.group("AND", x.Operands, qualifier)
	case OrExpr:
		return w.group("OR", x.Operands, qualifier)
	case NotExpr:
		inner, args := w.expr(x.Operand, qualifier)
		if inner == "" {
			return "", nil
		}
		return fmt.Sprintf("NOT (%s)", inner), args
	case SomeExpr:
		rel := x.Relation.Relation
		inner, args := w.expr(x.Predicate, rel.Target)
		fk := w.column(rel.ForeignKey, rel.Target)
		if w.outer == "" {
			// nothing to correlate with, so the local key stays outside the sub-select
			cond := fk + " IS NOT NULL"
			if inner != "" {
				cond += " AND " + inner
			}
			return fmt.Sprintf("%s IN (SELECT %s FROM %s WHERE %s)", w.column(rel.LocalKey, ""), fk, quoteIdent(rel.Target), cond), args
		}
		link := fmt.Sprintf("%s = %s", fk, w.column(rel.LocalKey, w.outer))
		if inner != "" {
			link += " AND " + inner
		}
		return fmt.Sprintf("EXISTS (SELECT 1 FROM %s WHERE %s)", quoteIdent(rel.Target), link), args
	default:
		return "", nil
	}
}

func (w *rawWriter) compare(x CompareExpr, qualifier string) (string, []any) {
	col := w.column(x.Column(), qualifier)
	if x.FoldCase {
		col = "LOWER(" + col + ")"
	}
	switch x.Op {
	case OpEq:
		return col + " = ?", []any{x.Value()}
	case OpNe:
		return col + " != ?", []any{x.Value()}
	case OpLt:
		return col + " < ?", []any{x.Value()}
	case OpLe:
		return col + " <= ?", []any{x.Value()}
	case OpGt:
		return col + " > ?", []any{x.Value()}
	case OpGe:
		return col + " >= ?", []any{x.Value()}
	case OpIn:
		placeholders := strings.Repeat("?,", len(x.Values))
		placeholders = placeholders[:len(placeholders)-1]
		return fmt.Sprintf("%s IN (%s)", col, placeholders), append([]any{}, x.Values...)
	case OpContains, OpStartsWith, OpEndsWith:
		return col + ` LIKE ? ESCAPE '\'`, []any{likePattern(x.Op, x.Value())}
	case OpIsNull:
		return col + " IS NULL", nil
	case OpNotNull:
		return col + " IS NOT NULL", nil
	default:
		return "", nil
	}
}

func (w *rawWriter) group(op string, operands []Predicate, qualifier string) (string, []any) {
	parts := make([]string, 0, len(operands))
	args := make([]any, 0)
	for _, e := range operands {
		p, a := w.expr(e, qualifier)
		if p != "" {
			parts = append(parts, p)
			args = append(args, a...)
		}
	}
	if len(parts) == 0 {
		return "", nil
	}
	if len(parts) == 1 {
		return parts[0], args
	}
	return "(" + strings.Join(parts, " "+op+" ") + ")", args
}

func buildOrderBy(q *CompiledQuery) string {
	dir := "ASC"
	if q.GetDirection() == Desc {
		dir = "DESC"
	}
	cols := OrderColumns(q)
	parts := make([]string, 0, len(cols))
	for _, c := range cols {
		parts = append(parts, fmt.Sprintf("%s %s", quoteIdent(c), dir))
	}
	return "ORDER BY " + strings.Join(parts, ", ")
}

// likePattern wraps v for a LIKE match, escaping LIKE metacharacters with '\'.
func likePattern(op Operator, v any) string {
	s, _ := v.(string)
	s = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
	switch op {
	case OpStartsWith:
		return s + "%"
	case OpEndsWith:
		return "%" + s
	default:
		return "%" + s + "%"
	}
}

func quoteIdent(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}

// expandPlaceholders replaces '?' with SQL literals derived from args in order.
func expandPlaceholders(sql string, args []any) string {
	if len(args) == 0 {
		return sql
	}
	var b strings.Builder
	b.Grow(len(sql) + len(args)*4)

	idx := 0
	inSingle := false
	inDouble := false
	for i := 0; i < len(sql); i++ {
		ch := sql[i]
		if ch == '\'' && !inDouble {
			inSingle = !inSingle
			b.WriteByte(ch)
			continue
		}
		if ch == '"' && !inSingle {
			inDouble = !inDouble
			b.WriteByte(ch)
			continue
		}
		if ch == '?' && !inSingle && !inDouble && idx < len(args) {
			b.WriteString(toSQLLiteral(args[idx]))
			idx++
			continue
		}
		b.WriteByte(ch)
	}
	return b.String()
}

func toSQLLiteral(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case bool:
		if x {
			return "TRUE"
		}
		return "FALSE"
	case time.Time:
		return "'" + x.UTC().Format("2006-01-02 15:04:05.999999999") + "'"
	case string:
		return "'" + strings.ReplaceAll(x, "'", "''") + "'"
	default:
		return "'" + strings.ReplaceAll(fmt.Sprint(x), "'", "''") + "'"
	}
}
