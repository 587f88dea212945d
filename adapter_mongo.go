package filterql

import (
	"context"
	"fmt"
	"regexp"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// BuildMongoFilter converts a predicate into a MongoDB filter. Relations are
// arrays of sub-documents stored under the relation's column and matched with
// $elemMatch. A nil predicate yields an empty filter.
func BuildMongoFilter(p Predicate) bson.M {
	if p == nil {
		return bson.M{}
	}
	return mongoExpr(p)
}

// BuildMongoFindOptions produces the sort and look-ahead limit of q.
func BuildMongoFindOptions(q *CompiledQuery) *options.FindOptions {
	return options.Find().SetSort(mongoSort(q)).SetLimit(int64(q.GetLimit() + 1))
}

// BuildMongoPipeline is the aggregation form of a page for relations kept in
// their own collections: every relation the predicate references is joined
// with $lookup under its column name before matching, and removed again
// before the rows are returned.
func BuildMongoPipeline(q *CompiledQuery) mongo.Pipeline {
	pipeline := mongo.Pipeline{}
	rels := referencedRelations(q.GetPredicate())
	for _, rel := range rels {
		pipeline = append(pipeline, bson.D{{Key: "$lookup", Value: bson.D{
			{Key: "from", Value: rel.Relation.Target},
			{Key: "localField", Value: rel.Relation.LocalKey},
			{Key: "foreignField", Value: rel.Relation.ForeignKey},
			{Key: "as", Value: rel.Column},
		}}})
	}
	if match := BuildMongoFilter(PagePredicate(q)); len(match) > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$match", Value: match}})
	}
	pipeline = append(pipeline,
		bson.D{{Key: "$sort", Value: mongoSort(q)}},
		bson.D{{Key: "$limit", Value: int64(q.GetLimit() + 1)}},
	)
	if len(rels) > 0 {
		hide := bson.D{}
		for _, rel := range rels {
			hide = append(hide, bson.E{Key: rel.Column, Value: 0})
		}
		pipeline = append(pipeline, bson.D{{Key: "$project", Value: hide}})
	}
	return pipeline
}

func mongoSort(q *CompiledQuery) bson.D {
	order := 1
	if q.GetDirection() == Desc {
		order = -1
	}
	var sd bson.D
	for _, c := range OrderColumns(q) {
		sd = append(sd, bson.E{Key: c, Value: order})
	}
	return sd
}

func referencedRelations(p Predicate) []*FieldSpec {
	var out []*FieldSpec
	seen := map[*FieldSpec]bool{}
	var visit func(Predicate)
	visit = func(p Predicate) {
		switch x := p.(type) {
		case AndExpr:
			for _, op := range x.Operands {
				visit(op)
			}
		case OrExpr:
			for _, op := range x.Operands {
				visit(op)
			}
		case NotExpr:
			visit(x.Operand)
		case SomeExpr:
			if !seen[x.Relation] {
				seen[x.Relation] = true
				out = append(out, x.Relation)
			}
		}
	}
	visit(p)
	return out
}

func mongoExpr(p Predicate) bson.M {
	switch x := p.(type) {
	case CompareExpr:
		return bson.M{x.Column(): mongoCondition(x)}
	case AndExpr:
		return bson.M{"$and": mongoOperands(x.Operands)}
	case OrExpr:
		return bson.M{"$or": mongoOperands(x.Operands)}
	case NotExpr:
		return bson.M{"$nor": []bson.M{mongoExpr(x.Operand)}}
	case SomeExpr:
		return bson.M{x.Relation.Column: bson.M{"$elemMatch": mongoExpr(x.Predicate)}}
	default:
		return bson.M{}
	}
}

func mongoOperands(operands []Predicate) []bson.M {
	parts := make([]bson.M, 0, len(operands))
	for _, op := range operands {
		if m := mongoExpr(op); len(m) > 0 {
			parts = append(parts, m)
		}
	}
	return parts
}

// mongoCondition is the value half of {column: condition}.
func mongoCondition(x CompareExpr) any {
	switch x.Op {
	case OpEq:
		if x.FoldCase {
			return foldRegex(x.Value())
		}
		return bson.M{"$eq": x.Value()}
	case OpNe:
		if x.FoldCase {
			return bson.M{"$not": foldRegex(x.Value())}
		}
		return bson.M{"$ne": x.Value()}
	case OpLt:
		return bson.M{"$lt": x.Value()}
	case OpLe:
		return bson.M{"$lte": x.Value()}
	case OpGt:
		return bson.M{"$gt": x.Value()}
	case OpGe:
		return bson.M{"$gte": x.Value()}
	case OpIn:
		if !x.FoldCase {
			return bson.M{"$in": x.Values}
		}
		regs := make([]any, 0, len(x.Values))
		for _, v := range x.Values {
			regs = append(regs, foldRegex(v))
		}
		return bson.M{"$in": regs}
	case OpContains, OpStartsWith, OpEndsWith:
		s, _ := x.Value().(string)
		pattern := regexp.QuoteMeta(s)
		switch x.Op {
		case OpStartsWith:
			pattern = "^" + pattern
		case OpEndsWith:
			pattern += "$"
		}
		return bson.M{"$regex": primitive.Regex{Pattern: pattern, Options: regexOptions(x.FoldCase)}}
	case OpIsNull:
		return bson.M{"$eq": nil}
	case OpNotNull:
		return bson.M{"$ne": nil}
	default:
		return bson.M{}
	}
}

// foldRegex matches the whole value case-insensitively.
func foldRegex(v any) primitive.Regex {
	s, _ := v.(string)
	return primitive.Regex{Pattern: "^" + regexp.QuoteMeta(s) + "$", Options: "i"}
}

func regexOptions(fold bool) string {
	if fold {
		return "i"
	}
	return ""
}

// MongoOption configures a MongoExecutor.
type MongoOption func(*MongoExecutor)

// WithMongoLookups makes the executor join relations from their own
// collections with $lookup instead of expecting embedded arrays.
func WithMongoLookups() MongoOption {
	return func(e *MongoExecutor) {
		e.lookups = true
	}
}

// WithMongoLogger sets the executor's logger.
func WithMongoLogger(log *zap.Logger) MongoOption {
	return func(e *MongoExecutor) {
		if log != nil {
			e.logger = log.Named("mongo")
		}
	}
}

// MongoExecutor runs compiled queries against one collection. Cursor values
// must be strings, numbers, booleans or times, so ObjectID keys should be
// exposed through a scalar id field.
type MongoExecutor struct {
	coll    *mongo.Collection
	lookups bool
	logger  *zap.Logger
}

func NewMongoExecutor(coll *mongo.Collection, opts ...MongoOption) *MongoExecutor {
	e := &MongoExecutor{coll: coll, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *MongoExecutor) Execute(ctx context.Context, q *CompiledQuery) (*Page, error) {
	var (
		cur *mongo.Cursor
		err error
	)
	if e.lookups {
		cur, err = e.coll.Aggregate(ctx, BuildMongoPipeline(q))
	} else {
		cur, err = e.coll.Find(ctx, BuildMongoFilter(PagePredicate(q)), BuildMongoFindOptions(q))
	}
	if err != nil {
		e.logger.Error("query failed", zap.String("collection", e.coll.Name()), zap.Stringer("query", q), zap.Error(err))
		return nil, fmt.Errorf("mongo: query %s: %w", e.coll.Name(), err)
	}
	var docs []bson.M
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongo: read %s: %w", e.coll.Name(), err)
	}
	rows := make([]map[string]any, 0, len(docs))
	for _, d := range docs {
		rows = append(rows, map[string]any(d))
	}
	page, err := finishPage(q, rows)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("page fetched",
		zap.String("collection", e.coll.Name()),
		zap.Stringer("query", q),
		zap.Int("rows", len(page.Rows)),
	)
	return page, nil
}
