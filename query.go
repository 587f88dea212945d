package filterql

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// LimitPolicy decides what happens to a limit outside [MinLimit, MaxLimit].
type LimitPolicy int

const (
	LimitReject LimitPolicy = iota
	LimitClamp
)

// ParseLimitPolicy maps a configuration string to a LimitPolicy.
func ParseLimitPolicy(s string) (LimitPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "reject", "":
		return LimitReject, nil
	case "clamp":
		return LimitClamp, nil
	default:
		return 0, fmt.Errorf("unknown limit policy %q", s)
	}
}

const (
	DefaultMinLimit     = 10
	DefaultMaxLimit     = 100
	DefaultPageSize     = 20
	DefaultIDField      = "id"
	maxFilterLength     = 8192
	maxSortParamLength  = 128
	maxCursorParamBytes = maxCursorLength
)

// Config is the per-resource query configuration.
type Config struct {
	Dialect    Dialect
	StringMode StringMode
	// MaxDepth bounds nesting in both the parser and the compiler.
	MaxDepth int
	MaxNodes int
	// SortKeys enumerates the permitted sort fields. The ID field is always
	// permitted.
	SortKeys []string
	// DefaultSort is used when the request has none, e.g. "-created_at".
	DefaultSort  string
	IDField      string
	MinLimit     int
	MaxLimit     int
	DefaultLimit int
	LimitPolicy  LimitPolicy
	// Cursor signs and verifies page tokens; nil means unsigned.
	Cursor *CursorCodec
}

func (c Config) withDefaults() Config {
	if c.IDField == "" {
		c.IDField = DefaultIDField
	}
	if c.MinLimit <= 0 {
		c.MinLimit = DefaultMinLimit
	}
	if c.MaxLimit <= 0 {
		c.MaxLimit = DefaultMaxLimit
	}
	if c.MaxLimit < c.MinLimit {
		c.MaxLimit = c.MinLimit
	}
	if c.DefaultLimit <= 0 {
		c.DefaultLimit = DefaultPageSize
	}
	c.DefaultLimit = min(max(c.DefaultLimit, c.MinLimit), c.MaxLimit)
	if c.MaxDepth <= 0 {
		c.MaxDepth = DefaultMaxDepth
	}
	return c
}

// Request carries the raw query-string inputs. Empty strings and a nil Limit
// mean "not supplied".
type Request struct {
	Filter string
	Sort   string
	After  string
	Limit  *int
}

// RequestFromValues reads filter, sort, after and limit from a query string.
func RequestFromValues(v url.Values) (Request, error) {
	req := Request{
		Filter: v.Get("filter"),
		Sort:   v.Get("sort"),
		After:  v.Get("after"),
	}
	if raw := strings.TrimSpace(v.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return Request{}, newError(KindInvalidLimit, "limit %q is not an integer", raw)
		}
		req.Limit = &n
	}
	return req, nil
}

// CompiledQuery is the immutable result of Assemble handed to a store
// executor.
type CompiledQuery struct {
	predicate  Predicate
	sortKey    string
	sortColumn string
	direction  Direction
	limit      int
	cursor     *CursorState
	idField    string
	idColumn   string
	codec      *CursorCodec
}

// GetPredicate returns the compiled filter; nil means no restriction.
func (q *CompiledQuery) GetPredicate() Predicate { return q.predicate }

func (q *CompiledQuery) GetSortKey() string { return q.sortKey }

func (q *CompiledQuery) GetSortColumn() string { return q.sortColumn }

func (q *CompiledQuery) GetDirection() Direction { return q.direction }

func (q *CompiledQuery) GetLimit() int { return q.limit }

func (q *CompiledQuery) GetIDField() string { return q.idField }

func (q *CompiledQuery) GetIDColumn() string { return q.idColumn }

// GetCursor returns the decoded resume point; false means first page.
func (q *CompiledQuery) GetCursor() (CursorState, bool) {
	if q.cursor == nil {
		return CursorState{}, false
	}
	return *q.cursor, true
}

// EncodeCursor mints the token for the page ending at (lastValue, lastID).
func (q *CompiledQuery) EncodeCursor(lastValue, lastID any) (string, error) {
	return q.codec.Encode(q.sortKey, lastValue, lastID, q.direction)
}

func (q *CompiledQuery) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "where=%s sort=%s %s limit=%d", DescribePredicate(q.predicate), q.sortKey, q.direction, q.limit)
	if q.cursor != nil {
		fmt.Fprintf(&b, " after=(%v,%v)", q.cursor.LastValue, q.cursor.LastID)
	}
	return b.String()
}

// Assemble validates every request input and compiles them into one
// CompiledQuery. It performs no I/O and is safe for concurrent use with a
// shared Registry and Config.
func Assemble(req Request, reg *Registry, cfg Config) (*CompiledQuery, error) {
	if reg == nil {
		return nil, errors.New("filterql: assemble without registry")
	}
	cfg = cfg.withDefaults()

	pred, err := compileFilter(req.Filter, reg, cfg)
	if err != nil {
		return nil, err
	}
	sortKey, dir, err := resolveSort(req.Sort, cfg)
	if err != nil {
		return nil, err
	}
	limit, err := resolveLimit(req.Limit, cfg)
	if err != nil {
		return nil, err
	}

	q := &CompiledQuery{
		predicate:  pred,
		sortKey:    sortKey,
		sortColumn: columnFor(reg, sortKey),
		direction:  dir,
		limit:      limit,
		idField:    cfg.IDField,
		idColumn:   columnFor(reg, cfg.IDField),
		codec:      cfg.Cursor,
	}

	if after := strings.TrimSpace(req.After); after != "" {
		if len(after) > maxCursorParamBytes {
			return nil, invalidCursor("cursor is too long")
		}
		state, err := cfg.Cursor.Decode(after, sortKey)
		if err != nil {
			return nil, err
		}
		if state.Direction != dir {
			return nil, invalidCursor(fmt.Sprintf("cursor was issued for %s order, not %s", state.Direction, dir))
		}
		q.cursor = &state
	}
	return q, nil
}

func compileFilter(raw string, reg *Registry, cfg Config) (Predicate, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	if len(raw) > maxFilterLength {
		return nil, &Error{Kind: KindTooComplex, Position: -1, Detail: fmt.Sprintf("filter is longer than %d bytes", maxFilterLength)}
	}
	var (
		node Node
		err  error
	)
	if strings.HasPrefix(strings.TrimSpace(raw), "{") {
		node, err = ParseJSON([]byte(raw))
	} else {
		node, err = ParseString(raw, cfg.Dialect, WithMaxDepth(cfg.MaxDepth))
	}
	if err != nil {
		return nil, err
	}
	return Compile(node, reg, CompileOptions{StringMode: cfg.StringMode, MaxDepth: cfg.MaxDepth, MaxNodes: cfg.MaxNodes})
}

func resolveSort(raw string, cfg Config) (string, Direction, error) {
	spec := strings.TrimSpace(raw)
	if spec == "" {
		spec = cfg.DefaultSort
	}
	if spec == "" {
		return cfg.IDField, Asc, nil
	}
	if len(spec) > maxSortParamLength {
		return "", Asc, newError(KindInvalidSort, "sort is too long")
	}
	dir := Asc
	switch {
	case strings.HasPrefix(spec, "-"):
		dir, spec = Desc, spec[1:]
	case strings.HasPrefix(spec, "+"):
		spec = spec[1:]
	}
	if strings.EqualFold(spec, cfg.IDField) {
		return cfg.IDField, dir, nil
	}
	for _, key := range cfg.SortKeys {
		if key == spec {
			return key, dir, nil
		}
	}
	for _, key := range cfg.SortKeys {
		if strings.EqualFold(key, spec) {
			return key, dir, nil
		}
	}
	return "", Asc, &Error{Kind: KindInvalidSort, Field: spec, Position: -1, Detail: fmt.Sprintf("cannot sort by %q", spec)}
}

func resolveLimit(raw *int, cfg Config) (int, error) {
	if raw == nil {
		return cfg.DefaultLimit, nil
	}
	n := *raw
	if n >= cfg.MinLimit && n <= cfg.MaxLimit {
		return n, nil
	}
	if cfg.LimitPolicy == LimitClamp {
		return min(max(n, cfg.MinLimit), cfg.MaxLimit), nil
	}
	return 0, newError(KindInvalidLimit, "limit %d is outside [%d, %d]", n, cfg.MinLimit, cfg.MaxLimit)
}

// columnFor maps a sort or id field to its storage column, falling back to
// the field name for fields that are sortable but not filterable.
func columnFor(reg *Registry, field string) string {
	if spec, ok := reg.Field(field); ok {
		return spec.Column
	}
	return field
}
