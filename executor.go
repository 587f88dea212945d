package filterql

import (
	"context"
	"fmt"
)

// Page is one keyset page of rows.
type Page struct {
	Rows []map[string]any
	// NextCursor is empty on the last page.
	NextCursor string
}

// Executor runs a CompiledQuery against a concrete store.
type Executor interface {
	Execute(ctx context.Context, q *CompiledQuery) (*Page, error)
}

// KeysetPredicate expresses the cursor as a predicate on the sort and id
// columns: (sort, id) after (lastValue, lastID) in the query direction. It is
// nil on the first page. A nil last sort value falls back to the id alone.
func KeysetPredicate(q *CompiledQuery) Predicate {
	cur, ok := q.GetCursor()
	if !ok {
		return nil
	}
	op := OpGt
	if q.GetDirection() == Desc {
		op = OpLt
	}
	id := &FieldSpec{Name: q.GetIDField(), Column: q.GetIDColumn()}
	afterID := CompareExpr{Field: id, Op: op, Values: []any{cur.LastID}}
	if q.GetSortKey() == q.GetIDField() || cur.LastValue == nil {
		return afterID
	}
	sort := &FieldSpec{Name: q.GetSortKey(), Column: q.GetSortColumn()}
	return OrExpr{Operands: []Predicate{
		CompareExpr{Field: sort, Op: op, Values: []any{cur.LastValue}},
		AndExpr{Operands: []Predicate{
			CompareExpr{Field: sort, Op: OpEq, Values: []any{cur.LastValue}},
			afterID,
		}},
	}}
}

// PagePredicate combines the filter with the keyset condition.
func PagePredicate(q *CompiledQuery) Predicate {
	filter, keyset := q.GetPredicate(), KeysetPredicate(q)
	switch {
	case filter == nil:
		return keyset
	case keyset == nil:
		return filter
	default:
		return AndExpr{Operands: []Predicate{filter, keyset}}
	}
}

// OrderColumns lists the columns a page is ordered by, sort column first.
func OrderColumns(q *CompiledQuery) []string {
	if q.GetSortColumn() == q.GetIDColumn() {
		return []string{q.GetIDColumn()}
	}
	return []string{q.GetSortColumn(), q.GetIDColumn()}
}

// finishPage trims the look-ahead row fetched with limit+1 and mints the next
// cursor from the last row kept.
func finishPage(q *CompiledQuery, rows []map[string]any) (*Page, error) {
	page := &Page{Rows: rows}
	if len(rows) <= q.GetLimit() {
		return page, nil
	}
	page.Rows = rows[:q.GetLimit()]
	last := page.Rows[len(page.Rows)-1]
	id, ok := last[q.GetIDColumn()]
	if !ok {
		return nil, fmt.Errorf("row has no %q column for the cursor", q.GetIDColumn())
	}
	cursor, err := q.EncodeCursor(last[q.GetSortColumn()], id)
	if err != nil {
		return nil, err
	}
	page.NextCursor = cursor
	return page, nil
}
