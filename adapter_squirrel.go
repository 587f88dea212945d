package filterql

import (
	"context"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// SquirrelWhere converts a predicate into a squirrel condition for
// PostgreSQL. Identifiers are quoted with pgx.Identifier; table is the outer
// table used to qualify columns and correlate relation sub-selects.
func SquirrelWhere(p Predicate, table string) sq.Sqlizer {
	if p == nil {
		return nil
	}
	return toSquirrel(p, table)
}

// BuildSquirrelSelect builds the keyset SELECT for q with $n placeholders and
// a look-ahead LIMIT of page size + 1.
func BuildSquirrelSelect(q *CompiledQuery, table string, columns ...string) sq.SelectBuilder {
	cols := []string{"*"}
	if len(columns) > 0 {
		cols = cols[:0]
		for _, c := range columns {
			cols = append(cols, pgx.Identifier{c}.Sanitize())
		}
	}
	b := sq.StatementBuilder.PlaceholderFormat(sq.Dollar).
		Select(cols...).
		From(pgx.Identifier{table}.Sanitize())
	if where := SquirrelWhere(PagePredicate(q), table); where != nil {
		b = b.Where(where)
	}
	dir := "ASC"
	if q.GetDirection() == Desc {
		dir = "DESC"
	}
	for _, c := range OrderColumns(q) {
		b = b.OrderBy(pgx.Identifier{table, c}.Sanitize() + " " + dir)
	}
	return b.Limit(uint64(q.GetLimit() + 1))
}

func toSquirrel(p Predicate, table string) sq.Sqlizer {
	switch x := p.(type) {
	case CompareExpr:
		return squirrelCompare(x, table)
	case AndExpr:
		and := make(sq.And, 0, len(x.Operands))
		for _, op := range x.Operands {
			and = append(and, toSquirrel(op, table))
		}
		return and
	case OrExpr:
		or := make(sq.Or, 0, len(x.Operands))
		for _, op := range x.Operands {
			or = append(or, toSquirrel(op, table))
		}
		return or
	case NotExpr:
		return sq.Expr("NOT (?)", toSquirrel(x.Operand, table))
	case SomeExpr:
		rel := x.Relation.Relation
		link := pgx.Identifier{rel.Target, rel.ForeignKey}.Sanitize() + " = " + pgx.Identifier{table, rel.LocalKey}.Sanitize()
		sub := sq.Select("1").
			From(pgx.Identifier{rel.Target}.Sanitize()).
			Where(link).
			Where(toSquirrel(x.Predicate, rel.Target))
		return sq.Expr("EXISTS (?)", sub)
	default:
		return sq.Expr("1=1")
	}
}

func squirrelCompare(x CompareExpr, table string) sq.Sqlizer {
	col := pgx.Identifier{table, x.Column()}.Sanitize()
	if x.FoldCase {
		col = "LOWER(" + col + ")"
	}
	switch x.Op {
	case OpEq:
		return sq.Eq{col: x.Value()}
	case OpNe:
		return sq.NotEq{col: x.Value()}
	case OpLt:
		return sq.Lt{col: x.Value()}
	case OpLe:
		return sq.LtOrEq{col: x.Value()}
	case OpGt:
		return sq.Gt{col: x.Value()}
	case OpGe:
		return sq.GtOrEq{col: x.Value()}
	case OpIn:
		return sq.Eq{col: x.Values}
	case OpContains, OpStartsWith, OpEndsWith:
		// PostgreSQL escapes LIKE patterns with a backslash by default.
		return sq.Like{col: likePattern(x.Op, x.Value())}
	case OpIsNull:
		return sq.Eq{col: nil}
	case OpNotNull:
		return sq.NotEq{col: nil}
	default:
		return sq.Expr("1=1")
	}
}

// PgxQuerier is satisfied by *pgx.Conn, pgx.Tx and *pgxpool.Pool.
type PgxQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PgxExecutor runs compiled queries against a PostgreSQL table.
type PgxExecutor struct {
	db     PgxQuerier
	table  string
	logger *zap.Logger
}

// NewPgxExecutor returns an executor for table. A nil logger disables logging.
func NewPgxExecutor(db PgxQuerier, table string, log *zap.Logger) *PgxExecutor {
	if log == nil {
		log = zap.NewNop()
	}
	return &PgxExecutor{db: db, table: table, logger: log.Named("pgx").With(zap.String("table", table))}
}

func (e *PgxExecutor) Execute(ctx context.Context, q *CompiledQuery) (*Page, error) {
	query, args, err := BuildSquirrelSelect(q, e.table).ToSql()
	if err != nil {
		return nil, fmt.Errorf("pgx: build %s: %w", e.table, err)
	}
	rows, err := e.db.Query(ctx, query, args...)
	if err != nil {
		e.logger.Error("query failed", zap.String("sql", query), zap.Error(err))
		return nil, fmt.Errorf("pgx: query %s: %w", e.table, err)
	}
	maps, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, fmt.Errorf("pgx: read %s: %w", e.table, err)
	}
	page, err := finishPage(q, maps)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("page fetched", zap.String("sql", query), zap.Int("rows", len(page.Rows)))
	return page, nil
}

// Explain runs EXPLAIN ANALYZE for the page query and returns the plan text.
func (e *PgxExecutor) Explain(ctx context.Context, q *CompiledQuery) (string, error) {
	query, args, err := BuildSquirrelSelect(q, e.table).ToSql()
	if err != nil {
		return "", err
	}
	rows, err := e.db.Query(ctx, "EXPLAIN (ANALYZE, BUFFERS, FORMAT TEXT) "+query, args...)
	if err != nil {
		return "", fmt.Errorf("pgx: explain %s: %w", e.table, err)
	}
	lines, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return "", err
	}
	return strings.Join(lines, "\n"), nil
}
