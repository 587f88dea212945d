package filterql

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// GormClause converts a predicate into a gorm clause.Expression. Columns of
// the outer table are qualified with clause.CurrentTable so relation
// sub-selects can never capture them.
func GormClause(p Predicate) clause.Expression {
	return toGormClause(p, clause.CurrentTable)
}

func toGormClause(p Predicate, table string) clause.Expression {
	switch x := p.(type) {
	case CompareExpr:
		return gormCompare(x, table)
	case AndExpr:
		return clause.And(gormOperands(x.Operands, table)...)
	case OrExpr:
		return clause.Or(gormOperands(x.Operands, table)...)
	case NotExpr:
		return clause.Expr{SQL: "NOT (?)", Vars: []any{toGormClause(x.Operand, table)}}
	case SomeExpr:
		rel := x.Relation.Relation
		return clause.Expr{
			SQL: "EXISTS (SELECT 1 FROM ? WHERE ? = ? AND ?)",
			Vars: []any{
				clause.Table{Name: rel.Target},
				clause.Column{Table: rel.Target, Name: rel.ForeignKey},
				clause.Column{Table: table, Name: rel.LocalKey},
				toGormClause(x.Predicate, rel.Target),
			},
		}
	default:
		return nil
	}
}

func gormOperands(operands []Predicate, table string) []clause.Expression {
	parts := make([]clause.Expression, 0, len(operands))
	for _, op := range operands {
		if c := toGormClause(op, table); c != nil {
			parts = append(parts, c)
		}
	}
	return parts
}

func gormCompare(x CompareExpr, table string) clause.Expression {
	var col any = clause.Column{Table: table, Name: x.Column()}
	if x.FoldCase {
		col = clause.Expr{SQL: "LOWER(?)", Vars: []any{col}}
	}
	switch x.Op {
	case OpEq:
		return clause.Expr{SQL: "? = ?", Vars: []any{col, x.Value()}}
	case OpNe:
		return clause.Expr{SQL: "? <> ?", Vars: []any{col, x.Value()}}
	case OpLt:
		return clause.Expr{SQL: "? < ?", Vars: []any{col, x.Value()}}
	case OpLe:
		return clause.Expr{SQL: "? <= ?", Vars: []any{col, x.Value()}}
	case OpGt:
		return clause.Expr{SQL: "? > ?", Vars: []any{col, x.Value()}}
	case OpGe:
		return clause.Expr{SQL: "? >= ?", Vars: []any{col, x.Value()}}
	case OpIn:
		return clause.Expr{SQL: "? IN (?)", Vars: []any{col, x.Values}}
	case OpContains, OpStartsWith, OpEndsWith:
		return clause.Expr{SQL: `? LIKE ? ESCAPE '\'`, Vars: []any{col, likePattern(x.Op, x.Value())}}
	case OpIsNull:
		return clause.Expr{SQL: "? IS NULL", Vars: []any{col}}
	case OpNotNull:
		return clause.Expr{SQL: "? IS NOT NULL", Vars: []any{col}}
	default:
		return nil
	}
}

// ApplyGorm applies the filter, keyset condition, ordering and look-ahead
// limit of q to a GORM DB instance.
func ApplyGorm(q *CompiledQuery, trx *gorm.DB) *gorm.DB {
	if where := GormClause(PagePredicate(q)); where != nil {
		trx = trx.Clauses(where)
	}
	cols := OrderColumns(q)
	order := clause.OrderBy{Columns: make([]clause.OrderByColumn, 0, len(cols))}
	for _, c := range cols {
		order.Columns = append(order.Columns, clause.OrderByColumn{
			Column: clause.Column{Table: clause.CurrentTable, Name: c},
			Desc:   q.GetDirection() == Desc,
		})
	}
	return trx.Clauses(order).Limit(q.GetLimit() + 1)
}

// ExplainGorm renders the SELECT that GormExecutor would run for q, with the
// vars inlined by the dialector. Nothing is executed.
func ExplainGorm(db *gorm.DB, table string, q *CompiledQuery) string {
	tr := db.Session(&gorm.Session{DryRun: true, NewDB: true, Logger: logger.Default.LogMode(logger.Silent)})
	var rows []map[string]any
	stmt := ApplyGorm(q, tr.Table(table)).Find(&rows).Statement
	return tr.Dialector.Explain(stmt.SQL.String(), stmt.Vars...)
}

// GormExecutor runs compiled queries through gorm against one table.
type GormExecutor struct {
	db     *gorm.DB
	table  string
	logger *zap.Logger
}

// NewGormExecutor returns an executor reading rows from table. A nil logger
// disables logging.
func NewGormExecutor(db *gorm.DB, table string, log *zap.Logger) *GormExecutor {
	if log == nil {
		log = zap.NewNop()
	}
	return &GormExecutor{db: db, table: table, logger: log.Named("gorm").With(zap.String("table", table))}
}

func (e *GormExecutor) Execute(ctx context.Context, q *CompiledQuery) (*Page, error) {
	var rows []map[string]any
	trx := ApplyGorm(q, e.db.WithContext(ctx).Table(e.table))
	if err := trx.Find(&rows).Error; err != nil {
		e.logger.Error("query failed", zap.Stringer("query", q), zap.Error(err))
		return nil, fmt.Errorf("gorm: query %s: %w", e.table, err)
	}
	page, err := finishPage(q, rows)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("page fetched",
		zap.Stringer("query", q),
		zap.Int("rows", len(page.Rows)),
		zap.Bool("has_next", page.NextCursor != ""),
	)
	return page, nil
}
