package filterql

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/gobeam/stringy"
)

// FieldType is the semantic type literals are coerced to.
type FieldType int

const (
	TypeString FieldType = iota
	TypeNumber
	TypeBoolean
	TypeDate
)

func (t FieldType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeNumber:
		return "number"
	case TypeBoolean:
		return "boolean"
	case TypeDate:
		return "date"
	default:
		return fmt.Sprintf("type(%d)", int(t))
	}
}

// ParseFieldType maps a configuration string to a FieldType.
func ParseFieldType(s string) (FieldType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "string", "text", "enum":
		return TypeString, nil
	case "number", "int", "integer", "float":
		return TypeNumber, nil
	case "boolean", "bool":
		return TypeBoolean, nil
	case "date", "datetime", "time":
		return TypeDate, nil
	default:
		return 0, fmt.Errorf("unknown field type %q", s)
	}
}

type NamingStrategy string

const NAMING_STRATEGY_NO_CHANGE NamingStrategy = "no_change"
const NAMING_STRATEGY_SNAKE_CASE NamingStrategy = "snake_case"

// RelationKind describes the cardinality of a relation.
type RelationKind string

const RelationHasMany RelationKind = "hasMany"

// Relation makes a FieldSpec a to-many relation whose Fields can be filtered
// with a dotted name such as `courses.title`.
type Relation struct {
	Kind RelationKind
	// Target is the table or collection holding the related records.
	Target string
	// ForeignKey is the column on Target that references the parent.
	ForeignKey string
	// LocalKey is the parent column referenced by ForeignKey; "id" by default.
	LocalKey string
	// Key names the nested field compared when the relation itself is used,
	// e.g. `courses in (1,2)`. Empty disables that form.
	Key    string
	Fields []FieldSpec
}

// FieldSpec whitelists one filterable field.
type FieldSpec struct {
	Name string
	Type FieldType
	// Ops lists the permitted operators; empty means the defaults for Type,
	// or eq, ne and in for enum fields.
	Ops []Operator
	// Column is the storage name; derived from Name by the naming strategy
	// when empty.
	Column string
	// Enum restricts a string field to the listed values.
	Enum     []string
	Relation *Relation
}

var defaultOps = map[FieldType][]Operator{
	TypeString:  {OpEq, OpNe, OpIn, OpContains, OpStartsWith, OpEndsWith},
	TypeNumber:  {OpEq, OpNe, OpLt, OpLe, OpGt, OpGe, OpIn},
	TypeDate:    {OpEq, OpNe, OpLt, OpLe, OpGt, OpGe, OpIn},
	TypeBoolean: {OpEq, OpNe},
}

var legalOps = map[FieldType]map[Operator]bool{
	TypeString:  {OpEq: true, OpNe: true, OpLt: true, OpLe: true, OpGt: true, OpGe: true, OpIn: true, OpContains: true, OpStartsWith: true, OpEndsWith: true},
	TypeNumber:  {OpEq: true, OpNe: true, OpLt: true, OpLe: true, OpGt: true, OpGe: true, OpIn: true},
	TypeDate:    {OpEq: true, OpNe: true, OpLt: true, OpLe: true, OpGt: true, OpGe: true, OpIn: true},
	TypeBoolean: {OpEq: true, OpNe: true, OpIn: true},
}

// Allows reports whether op may be applied to the field.
func (f *FieldSpec) Allows(op Operator) bool {
	for _, o := range f.Ops {
		if o == op {
			return true
		}
	}
	return false
}

// IsRelation reports whether the field is a to-many relation.
func (f *FieldSpec) IsRelation() bool {
	return f.Relation != nil
}

// FieldRef is the result of resolving a (possibly dotted) field name.
type FieldRef struct {
	Spec *FieldSpec
	// Via is the relation the field was reached through, nil for own fields.
	Via *FieldSpec
}

// Path is the canonical dotted name of the field.
func (r FieldRef) Path() string {
	if r.Via != nil {
		return r.Via.Name + "." + r.Spec.Name
	}
	return r.Spec.Name
}

type fieldIndex struct {
	exact  map[string]*FieldSpec
	folded map[string]*FieldSpec
	order  []*FieldSpec
}

func (ix *fieldIndex) lookup(name string) (*FieldSpec, bool) {
	if f, ok := ix.exact[name]; ok {
		return f, true
	}
	f, ok := ix.folded[strings.ToLower(name)]
	return f, ok
}

// Registry is the immutable per-resource whitelist of fields and operators.
// It is safe for concurrent use.
type Registry struct {
	root      *fieldIndex
	relations map[*FieldSpec]*fieldIndex
	naming    NamingStrategy
}

// RegistryOption configures NewRegistry.
type RegistryOption func(*Registry)

// WithNamingStrategy selects how storage column names are derived.
func WithNamingStrategy(s NamingStrategy) RegistryOption {
	return func(r *Registry) {
		r.naming = s
	}
}

var fieldNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// NewRegistry validates and freezes the field specs. The specs are copied, so
// later changes to the argument do not affect the registry.
func NewRegistry(fields []FieldSpec, opts ...RegistryOption) (*Registry, error) {
	r := &Registry{relations: make(map[*FieldSpec]*fieldIndex), naming: NAMING_STRATEGY_SNAKE_CASE}
	for _, opt := range opts {
		opt(r)
	}
	root, err := r.index(fields, true)
	if err != nil {
		return nil, err
	}
	r.root = root
	return r, nil
}

// MustRegistry is NewRegistry that panics on error; meant for static setup.
func MustRegistry(fields []FieldSpec, opts ...RegistryOption) *Registry {
	r, err := NewRegistry(fields, opts...)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Registry) index(fields []FieldSpec, allowRelations bool) (*fieldIndex, error) {
	ix := &fieldIndex{exact: make(map[string]*FieldSpec), folded: make(map[string]*FieldSpec)}
	for i := range fields {
		spec, err := r.normalize(fields[i])
		if err != nil {
			return nil, err
		}
		lower := strings.ToLower(spec.Name)
		if _, dup := ix.folded[lower]; dup {
			return nil, fmt.Errorf("field %q declared twice", spec.Name)
		}
		ix.exact[spec.Name] = spec
		ix.folded[lower] = spec
		ix.order = append(ix.order, spec)

		if spec.Relation == nil {
			continue
		}
		if !allowRelations {
			return nil, fmt.Errorf("relation %q: nested relations are not supported", spec.Name)
		}
		nested, err := r.index(spec.Relation.Fields, false)
		if err != nil {
			return nil, fmt.Errorf("relation %q: %w", spec.Name, err)
		}
		if spec.Relation.Key != "" {
			if _, ok := nested.lookup(spec.Relation.Key); !ok {
				return nil, fmt.Errorf("relation %q: key field %q is not declared", spec.Name, spec.Relation.Key)
			}
		}
		r.relations[spec] = nested
	}
	return ix, nil
}

func (r *Registry) normalize(in FieldSpec) (*FieldSpec, error) {
	if !fieldNamePattern.MatchString(in.Name) {
		return nil, fmt.Errorf("invalid field name %q", in.Name)
	}
	legal, ok := legalOps[in.Type]
	if !ok {
		return nil, fmt.Errorf("field %q: unknown type %s", in.Name, in.Type)
	}

	spec := in
	switch {
	case len(in.Ops) == 0 && len(in.Enum) > 0:
		spec.Ops = []Operator{OpEq, OpNe, OpIn}
	case len(in.Ops) == 0:
		spec.Ops = append([]Operator(nil), defaultOps[in.Type]...)
	default:
		spec.Ops = append([]Operator(nil), in.Ops...)
	}
	for _, op := range spec.Ops {
		if !legal[op] {
			return nil, fmt.Errorf("field %q: operator %q is not applicable to %s fields", in.Name, op, in.Type)
		}
	}
	if len(in.Enum) > 0 {
		if in.Type != TypeString {
			return nil, fmt.Errorf("field %q: enum values require a string field", in.Name)
		}
		spec.Enum = append([]string(nil), in.Enum...)
	}
	if spec.Column == "" {
		spec.Column = r.columnName(in.Name)
	}

	if in.Relation != nil {
		rel := *in.Relation
		if rel.Kind == "" {
			rel.Kind = RelationHasMany
		}
		if rel.Kind != RelationHasMany {
			return nil, fmt.Errorf("relation %q: unsupported kind %q", in.Name, rel.Kind)
		}
		if rel.ForeignKey == "" {
			return nil, fmt.Errorf("relation %q: foreign key is required", in.Name)
		}
		if rel.Target == "" {
			rel.Target = r.columnName(in.Name)
		}
		if rel.LocalKey == "" {
			rel.LocalKey = "id"
		}
		rel.Fields = append([]FieldSpec(nil), in.Relation.Fields...)
		spec.Relation = &rel
	}
	return &spec, nil
}

func (r *Registry) columnName(name string) string {
	if r.naming == NAMING_STRATEGY_NO_CHANGE {
		return name
	}
	return stringy.New(name).SnakeCase("?", "").ToLower()
}

// Resolve looks up a field name, following one level of relation for dotted
// names. Names match exactly first, then case-insensitively.
func (r *Registry) Resolve(name string) (FieldRef, bool) {
	head, tail, dotted := strings.Cut(name, ".")
	spec, ok := r.root.lookup(head)
	if !ok {
		return FieldRef{}, false
	}
	if !dotted {
		if spec.Relation == nil {
			return FieldRef{Spec: spec}, true
		}
		if spec.Relation.Key == "" {
			return FieldRef{}, false
		}
		key, _ := r.relations[spec].lookup(spec.Relation.Key)
		return FieldRef{Spec: key, Via: spec}, true
	}
	if spec.Relation == nil || strings.Contains(tail, ".") {
		return FieldRef{}, false
	}
	nested, ok := r.relations[spec].lookup(tail)
	if !ok {
		return FieldRef{}, false
	}
	return FieldRef{Spec: nested, Via: spec}, true
}

// Field returns a top-level, non-relation field.
func (r *Registry) Field(name string) (*FieldSpec, bool) {
	spec, ok := r.root.lookup(name)
	if !ok || spec.Relation != nil {
		return nil, false
	}
	return spec, true
}

// Fields returns copies of the top-level specs in declaration order.
func (r *Registry) Fields() []FieldSpec {
	out := make([]FieldSpec, 0, len(r.root.order))
	for _, f := range r.root.order {
		out = append(out, *f)
	}
	return out
}
