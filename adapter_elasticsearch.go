package filterql

import (
	"encoding/json"
	"strings"
)

// ElasticsearchQuery represents the body of an Elasticsearch search request
type ElasticsearchQuery struct {
	Query       map[string]interface{}   `json:"query"`
	Sort        []map[string]interface{} `json:"sort,omitempty"`
	Size        int                      `json:"size,omitempty"`
	SearchAfter []interface{}            `json:"search_after,omitempty"`
	Source      []string                 `json:"_source,omitempty"`
}

// JSON renders the request body.
func (q ElasticsearchQuery) JSON() (string, error) {
	b, err := json.Marshal(q)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// BuildElasticsearchQuery converts q into a search request. Paging uses
// search_after with the cursor's (sort, id) pair instead of a range filter,
// and size is page size + 1 for look-ahead.
func BuildElasticsearchQuery(q *CompiledQuery, source ...string) ElasticsearchQuery {
	query := ElasticsearchQuery{
		Query:  matchAll(),
		Size:   q.GetLimit() + 1,
		Source: source,
	}
	if p := q.GetPredicate(); p != nil {
		query.Query = esExpr(p, "")
	}

	order := "asc"
	if q.GetDirection() == Desc {
		order = "desc"
	}
	for _, c := range OrderColumns(q) {
		query.Sort = append(query.Sort, map[string]interface{}{
			c: map[string]interface{}{"order": order},
		})
	}

	if cur, ok := q.GetCursor(); ok {
		if q.GetSortColumn() == q.GetIDColumn() {
			query.SearchAfter = []interface{}{cur.LastID}
		} else {
			query.SearchAfter = []interface{}{cur.LastValue, cur.LastID}
		}
	}
	return query
}

func matchAll() map[string]interface{} {
	return map[string]interface{}{
		"match_all": map[string]interface{}{},
	}
}

func esBool(kind string, clauses []map[string]interface{}) map[string]interface{} {
	body := map[string]interface{}{kind: clauses}
	if kind == "should" {
		body["minimum_should_match"] = 1
	}
	return map[string]interface{}{"bool": body}
}

// esExpr converts a predicate; prefix is the nested path of relation fields.
func esExpr(p Predicate, prefix string) map[string]interface{} {
	switch x := p.(type) {
	case CompareExpr:
		return esCompare(x, prefix+x.Column())
	case AndExpr:
		return esBool("must", esOperands(x.Operands, prefix))
	case OrExpr:
		return esBool("should", esOperands(x.Operands, prefix))
	case NotExpr:
		return esBool("must_not", []map[string]interface{}{esExpr(x.Operand, prefix)})
	case SomeExpr:
		path := x.Relation.Column
		return map[string]interface{}{
			"nested": map[string]interface{}{
				"path":  path,
				"query": esExpr(x.Predicate, path+"."),
			},
		}
	default:
		return matchAll()
	}
}

func esOperands(operands []Predicate, prefix string) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(operands))
	for _, op := range operands {
		out = append(out, esExpr(op, prefix))
	}
	return out
}

func esTerm(field string, v interface{}, fold bool) map[string]interface{} {
	if fold {
		return map[string]interface{}{
			"term": map[string]interface{}{
				field: map[string]interface{}{"value": v, "case_insensitive": true},
			},
		}
	}
	return map[string]interface{}{
		"term": map[string]interface{}{field: v},
	}
}

func esRange(field, op string, v interface{}) map[string]interface{} {
	return map[string]interface{}{
		"range": map[string]interface{}{
			field: map[string]interface{}{op: v},
		},
	}
}

func esCompare(x CompareExpr, field string) map[string]interface{} {
	switch x.Op {
	case OpEq:
		return esTerm(field, x.Value(), x.FoldCase)
	case OpNe:
		return esBool("must_not", []map[string]interface{}{esTerm(field, x.Value(), x.FoldCase)})
	case OpLt:
		return esRange(field, "lt", x.Value())
	case OpLe:
		return esRange(field, "lte", x.Value())
	case OpGt:
		return esRange(field, "gt", x.Value())
	case OpGe:
		return esRange(field, "gte", x.Value())
	case OpIn:
		if !x.FoldCase {
			return map[string]interface{}{
				"terms": map[string]interface{}{field: x.Values},
			}
		}
		// terms has no case_insensitive flag
		should := make([]map[string]interface{}, 0, len(x.Values))
		for _, v := range x.Values {
			should = append(should, esTerm(field, v, true))
		}
		return esBool("should", should)
	case OpContains, OpStartsWith, OpEndsWith:
		s, _ := x.Value().(string)
		s = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`).Replace(s)
		switch x.Op {
		case OpStartsWith:
			s += "*"
		case OpEndsWith:
			s = "*" + s
		default:
			s = "*" + s + "*"
		}
		wildcard := map[string]interface{}{"value": s}
		if x.FoldCase {
			wildcard["case_insensitive"] = true
		}
		return map[string]interface{}{
			"wildcard": map[string]interface{}{field: wildcard},
		}
	case OpIsNull:
		return esBool("must_not", []map[string]interface{}{
			{"exists": map[string]interface{}{"field": field}},
		})
	case OpNotNull:
		return map[string]interface{}{
			"exists": map[string]interface{}{"field": field},
		}
	default:
		return matchAll()
	}
}
