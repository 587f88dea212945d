package filterql

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func studentFields() []FieldSpec {
	return []FieldSpec{
		{Name: "id", Type: TypeNumber},
		{Name: "name", Type: TypeString},
		{Name: "email", Type: TypeString, Ops: []Operator{OpEq, OpEndsWith}},
		{Name: "age", Type: TypeNumber},
		{Name: "score", Type: TypeNumber},
		{Name: "active", Type: TypeBoolean},
		{Name: "status", Type: TypeString, Enum: []string{"active", "inactive", "Pending"}},
		{Name: "nickname", Type: TypeString},
		{Name: "createdAt", Type: TypeDate},
		{Name: "courses", Type: TypeString, Relation: &Relation{
			ForeignKey: "student_id",
			Key:        "id",
			Fields: []FieldSpec{
				{Name: "id", Type: TypeNumber},
				{Name: "title", Type: TypeString},
				{Name: "level", Type: TypeNumber},
			},
		}},
	}
}

func studentRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := NewRegistry(studentFields())
	require.NoError(t, err)
	return reg
}

func TestNewRegistry(t *testing.T) {
	reg := studentRegistry(t)

	t.Run("DefaultOps", func(t *testing.T) {
		name, ok := reg.Field("name")
		require.True(t, ok)
		assert.Equal(t, []Operator{OpEq, OpNe, OpIn, OpContains, OpStartsWith, OpEndsWith}, name.Ops)

		active, _ := reg.Field("active")
		assert.Equal(t, []Operator{OpEq, OpNe}, active.Ops)

		status, _ := reg.Field("status")
		assert.Equal(t, []Operator{OpEq, OpNe, OpIn}, status.Ops)

		email, _ := reg.Field("email")
		assert.True(t, email.Allows(OpEndsWith))
		assert.False(t, email.Allows(OpContains))
	})

	t.Run("ColumnNaming", func(t *testing.T) {
		created, ok := reg.Field("createdAt")
		require.True(t, ok)
		assert.Equal(t, "created_at", created.Column)

		plain := MustRegistry(studentFields(), WithNamingStrategy(NAMING_STRATEGY_NO_CHANGE))
		created, _ = plain.Field("createdAt")
		assert.Equal(t, "createdAt", created.Column)

		custom := MustRegistry([]FieldSpec{{Name: "age", Type: TypeNumber, Column: "age_years"}})
		age, _ := custom.Field("age")
		assert.Equal(t, "age_years", age.Column)
	})

	t.Run("RelationDefaults", func(t *testing.T) {
		ref, ok := reg.Resolve("courses.title")
		require.True(t, ok)
		rel := ref.Via.Relation
		assert.Equal(t, RelationHasMany, rel.Kind)
		assert.Equal(t, "courses", rel.Target)
		assert.Equal(t, "id", rel.LocalKey)
		assert.Equal(t, "student_id", rel.ForeignKey)
	})

	t.Run("FieldsInOrder", func(t *testing.T) {
		fields := reg.Fields()
		require.Len(t, fields, 10)
		assert.Equal(t, "id", fields[0].Name)
		assert.Equal(t, "courses", fields[9].Name)
	})

	t.Run("InputIsCopied", func(t *testing.T) {
		fields := studentFields()
		r := MustRegistry(fields)
		fields[1].Name = "changed"
		fields[2].Ops[0] = OpIn
		_, ok := r.Field("name")
		assert.True(t, ok)
		email, _ := r.Field("email")
		assert.Equal(t, OpEq, email.Ops[0])
	})
}

func TestNewRegistryErrors(t *testing.T) {
	tests := []struct {
		name   string
		fields []FieldSpec
	}{
		{"InvalidName", []FieldSpec{{Name: "bad-name", Type: TypeString}}},
		{"InjectionName", []FieldSpec{{Name: "id; DROP TABLE users", Type: TypeNumber}}},
		{"Duplicate", []FieldSpec{{Name: "name", Type: TypeString}, {Name: "Name", Type: TypeString}}},
		{"IllegalOperator", []FieldSpec{{Name: "age", Type: TypeNumber, Ops: []Operator{OpContains}}}},
		{"UnknownOperator", []FieldSpec{{Name: "age", Type: TypeNumber, Ops: []Operator{"regex"}}}},
		{"UnknownType", []FieldSpec{{Name: "age", Type: FieldType(42)}}},
		{"EnumOnNumber", []FieldSpec{{Name: "age", Type: TypeNumber, Enum: []string{"1"}}}},
		{"RelationWithoutForeignKey", []FieldSpec{{Name: "courses", Relation: &Relation{}}}},
		{"NestedRelation", []FieldSpec{{Name: "courses", Relation: &Relation{
			ForeignKey: "student_id",
			Fields:     []FieldSpec{{Name: "tags", Relation: &Relation{ForeignKey: "course_id"}}},
		}}}},
		{"UndeclaredKey", []FieldSpec{{Name: "courses", Relation: &Relation{
			ForeignKey: "student_id",
			Key:        "id",
			Fields:     []FieldSpec{{Name: "title", Type: TypeString}},
		}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(tt.fields)
			assert.Error(t, err)
		})
	}

	assert.Panics(t, func() {
		MustRegistry([]FieldSpec{{Name: "", Type: TypeString}})
	})
}

func TestRegistryResolve(t *testing.T) {
	reg := studentRegistry(t)

	tests := []struct {
		name string
		path string
		ok   bool
	}{
		{"Exact", "name", true},
		{"CaseInsensitive", "NAME", true},
		{"Nested", "courses.title", true},
		{"NestedCaseInsensitive", "Courses.Title", true},
		{"RelationKey", "courses", true},
		{"Unknown", "password", false},
		{"UnknownNested", "courses.grade", false},
		{"DottedScalar", "name.first", false},
		{"TooDeep", "courses.title.x", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := reg.Resolve(tt.path)
			assert.Equal(t, tt.ok, ok)
		})
	}

	t.Run("Paths", func(t *testing.T) {
		ref, _ := reg.Resolve("Courses.Title")
		assert.Equal(t, "courses.title", ref.Path())
		assert.Equal(t, "title", ref.Spec.Name)

		ref, _ = reg.Resolve("courses")
		assert.Equal(t, "courses.id", ref.Path())

		ref, _ = reg.Resolve("NAME")
		assert.Equal(t, "name", ref.Path())
		assert.Nil(t, ref.Via)
	})

	t.Run("RelationIsNotAField", func(t *testing.T) {
		_, ok := reg.Field("courses")
		assert.False(t, ok)
	})

	t.Run("ExactBeforeFolded", func(t *testing.T) {
		r := MustRegistry([]FieldSpec{{Name: "Code", Type: TypeString}})
		ref, ok := r.Resolve("code")
		require.True(t, ok)
		assert.Equal(t, "Code", ref.Spec.Name)
	})
}

func TestRegistryCache(t *testing.T) {
	cache := NewRegistryCache()

	builds := 0
	var mu sync.Mutex
	build := func() (*Registry, error) {
		mu.Lock()
		builds++
		mu.Unlock()
		return NewRegistry(studentFields())
	}

	t.Run("Concurrent", func(t *testing.T) {
		var wg sync.WaitGroup
		results := make([]*Registry, 32)
		for i := range results {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				r, err := cache.Get("students", build)
				assert.NoError(t, err)
				results[i] = r
			}(i)
		}
		wg.Wait()
		for _, r := range results {
			assert.Same(t, results[0], r)
		}
		assert.Equal(t, 1, cache.Len())
		mu.Lock()
		assert.GreaterOrEqual(t, builds, 1)
		mu.Unlock()
	})

	t.Run("Lookup", func(t *testing.T) {
		r, ok := cache.Lookup("students")
		assert.True(t, ok)
		assert.NotNil(t, r)
		_, ok = cache.Lookup("courses")
		assert.False(t, ok)
	})

	t.Run("FailedBuildIsNotCached", func(t *testing.T) {
		_, err := cache.Get("broken", func() (*Registry, error) {
			return nil, fmt.Errorf("no fields")
		})
		assert.Error(t, err)
		_, ok := cache.Lookup("broken")
		assert.False(t, ok)
		assert.Equal(t, 1, cache.Len())
	})
}
