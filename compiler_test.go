package filterql

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compileString(t *testing.T, reg *Registry, input string, opts CompileOptions) (Predicate, error) {
	t.Helper()
	n, err := ParseString(input, DialectKeyword)
	require.NoError(t, err)
	return Compile(n, reg, opts)
}

func TestCompile(t *testing.T) {
	reg := studentRegistry(t)

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"Number", `age gt 30`, `gt(age,30)`},
		{"String", `name eq 'Ann'`, `eq(name,"Ann")`},
		{"Boolean", `active eq true`, `eq(active,true)`},
		{"IsNull", `nickname eq null`, `isnull(nickname)`},
		{"NotNull", `nickname ne null`, `notnull(nickname)`},
		{"InKeepsOrder", `age in (3, 1, 2)`, `in(age,3,1,2)`},
		{"Function", `endswith(email, '.org')`, `endswith(email,".org")`},
		{"Logical", `age gt 1 and (name eq 'a' or not active eq true)`, `and(gt(age,1),or(eq(name,"a"),not(eq(active,true))))`},
		{"Relation", `courses.title eq 'go'`, `some(courses,eq(title,"go"))`},
		{"RelationKey", `courses in (1, 2)`, `some(courses,in(id,1,2))`},
		{"CaseInsensitiveName", `NAME eq 'Ann'`, `eq(name,"Ann")`},
		{"Enum", `status eq 'inactive'`, `eq(status,"inactive")`},
		{"Date", `createdAt ge '2024-03-01T10:00:00+02:00'`, `ge(createdAt,2024-03-01T08:00:00Z)`},
		{"LooseDate", `createdAt lt '2024-03-01'`, `lt(createdAt,2024-03-01T00:00:00Z)`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := compileString(t, reg, tt.input, CompileOptions{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, DescribePredicate(p))
		})
	}

	t.Run("Nil", func(t *testing.T) {
		p, err := Compile(nil, reg, CompileOptions{})
		assert.NoError(t, err)
		assert.Nil(t, p)
		assert.Equal(t, "true", DescribePredicate(p))
	})

	t.Run("NoRegistry", func(t *testing.T) {
		_, err := Compile(cmp("a", OpEq, Num(1)), nil, CompileOptions{})
		assert.Error(t, err)
	})

	t.Run("TypedValues", func(t *testing.T) {
		p, err := compileString(t, reg, `createdAt eq '2024-01-02T03:04:05Z'`, CompileOptions{})
		require.NoError(t, err)
		leaf := p.(CompareExpr)
		assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), leaf.Value())
		assert.Equal(t, "created_at", leaf.Column())

		p, err = compileString(t, reg, `age eq 30`, CompileOptions{})
		require.NoError(t, err)
		assert.Equal(t, float64(30), p.(CompareExpr).Value())
	})

	t.Run("FIQLBareNumberOnString", func(t *testing.T) {
		n, err := ParseString(`name==007`, DialectFIQL)
		require.NoError(t, err)
		p, err := Compile(n, reg, CompileOptions{})
		require.NoError(t, err)
		assert.Equal(t, `eq(name,"007")`, DescribePredicate(p))
	})
}

func TestCompileErrors(t *testing.T) {
	reg := studentRegistry(t)

	tests := []struct {
		name  string
		input string
		kind  ErrorKind
		field string
		pos   int
	}{
		{"UnknownField", `password eq 'x'`, KindUnknownField, "password", 0},
		{"UnknownNested", `age eq 1 and courses.grade eq 1`, KindUnknownField, "courses.grade", 13},
		{"OperatorNotAllowed", `contains(email, 'x')`, KindOperatorNotAllowed, "email", 0},
		{"RangeOnBoolean", `active gt true`, KindOperatorNotAllowed, "active", 0},
		{"FunctionOnNumber", `contains(age, '3')`, KindOperatorNotAllowed, "age", 0},
		{"StringForNumber", `age gt 'old'`, KindTypeMismatch, "age", 7},
		{"NumberForString", `name eq 1`, KindTypeMismatch, "name", 8},
		{"NumberForBoolean", `active eq 1`, KindTypeMismatch, "active", 10},
		{"BadDate", `createdAt gt 'yesterday'`, KindTypeMismatch, "createdAt", 13},
		{"NumberForDate", `createdAt gt 5`, KindTypeMismatch, "createdAt", 13},
		{"NullRange", `age gt null`, KindTypeMismatch, "age", 7},
		{"NullInList", `age in (1, null)`, KindTypeMismatch, "age", 11},
		{"NullFunctionArg", `startswith(name, null)`, KindTypeMismatch, "name", 17},
		{"EnumValue", `status eq 'deleted'`, KindTypeMismatch, "status", 10},
		{"EnumCase", `status eq 'Active'`, KindTypeMismatch, "status", 10},
		{"NestedMismatch", `courses.level eq 'x'`, KindTypeMismatch, "courses.level", 17},
		{"RelationWithoutKey", `tags eq 1`, KindUnknownField, "tags", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := compileString(t, reg, tt.input, CompileOptions{})
			fe := requireFilterError(t, err, tt.kind)
			assert.Equal(t, tt.field, fe.Field)
			assert.Equal(t, tt.pos, fe.Position)
		})
	}

	t.Run("FirstErrorWins", func(t *testing.T) {
		_, err := compileString(t, reg, `age gt 'x' and password eq 1`, CompileOptions{})
		requireFilterError(t, err, KindTypeMismatch)
	})

	t.Run("UnknownFieldBeforeOperator", func(t *testing.T) {
		_, err := compileString(t, reg, `contains(secret, 'x')`, CompileOptions{})
		requireFilterError(t, err, KindUnknownField)
	})

	t.Run("InjectionAttempts", func(t *testing.T) {
		for _, input := range []string{
			`password eq 'x' or id eq 1`,
			`id_or_1 eq 1`,
			`users.password eq 'x'`,
		} {
			_, err := compileString(t, reg, input, CompileOptions{})
			requireFilterError(t, err, KindUnknownField)
		}
	})

	t.Run("MalformedLogical", func(t *testing.T) {
		_, err := Compile(&Logical{Op: LogicalAnd, Operands: []Node{cmp("age", OpEq, Num(1))}}, reg, CompileOptions{})
		requireFilterError(t, err, KindParse)

		_, err = Compile(&Logical{Op: LogicalNot}, reg, CompileOptions{})
		requireFilterError(t, err, KindParse)
	})

	t.Run("EmptyList", func(t *testing.T) {
		_, err := Compile(&InList{Field: "age"}, reg, CompileOptions{})
		fe := requireFilterError(t, err, KindParse)
		assert.Equal(t, ReasonEmptyList, fe.Reason)
	})
}

func TestCompileComplexity(t *testing.T) {
	reg := studentRegistry(t)

	t.Run("Depth", func(t *testing.T) {
		n := Node(cmp("age", OpEq, Num(1)))
		for i := 0; i < 4; i++ {
			n = not(n)
		}
		_, err := Compile(n, reg, CompileOptions{MaxDepth: 4})
		requireFilterError(t, err, KindTooComplex)

		_, err = Compile(n, reg, CompileOptions{MaxDepth: 5})
		assert.NoError(t, err)
	})

	t.Run("Nodes", func(t *testing.T) {
		terms := make([]string, 0, 120)
		for i := 0; i < 120; i++ {
			terms = append(terms, "age eq 1")
		}
		input := strings.Join(terms, " or ")
		_, err := compileString(t, reg, input, CompileOptions{MaxNodes: 50})
		requireFilterError(t, err, KindTooComplex)

		_, err = compileString(t, reg, input, CompileOptions{})
		assert.NoError(t, err)
	})

	t.Run("ListValuesCount", func(t *testing.T) {
		values := make([]string, 0, 250)
		for i := 0; i < 250; i++ {
			values = append(values, "1")
		}
		_, err := compileString(t, reg, `age in (`+strings.Join(values, ",")+`)`, CompileOptions{})
		requireFilterError(t, err, KindTooComplex)
	})

	t.Run("CannotRaiseNodeLimit", func(t *testing.T) {
		values := make([]string, 0, 250)
		for i := 0; i < 250; i++ {
			values = append(values, "1")
		}
		_, err := compileString(t, reg, `age in (`+strings.Join(values, ",")+`)`, CompileOptions{MaxNodes: 1000})
		requireFilterError(t, err, KindTooComplex)
	})
}

func TestCompileCaseFolding(t *testing.T) {
	reg := studentRegistry(t)
	insensitive := CompileOptions{StringMode: StringInsensitive}

	t.Run("Equivalent", func(t *testing.T) {
		a, err := compileString(t, reg, `Name eq 'ÄNN'`, insensitive)
		require.NoError(t, err)
		b, err := compileString(t, reg, `name eq 'änn'`, insensitive)
		require.NoError(t, err)
		assert.Equal(t, a, b)
		assert.Equal(t, `eq~(name,"änn")`, DescribePredicate(a))
	})

	t.Run("FoldedOperators", func(t *testing.T) {
		p, err := compileString(t, reg, `name in ('A', 'b') and contains(name, 'X')`, insensitive)
		require.NoError(t, err)
		assert.Equal(t, `and(in~(name,"a","b"),contains~(name,"x"))`, DescribePredicate(p))
	})

	t.Run("NotForOtherTypes", func(t *testing.T) {
		p, err := compileString(t, reg, `age gt 3`, insensitive)
		require.NoError(t, err)
		assert.False(t, p.(CompareExpr).FoldCase)
	})

	t.Run("EnumCanonicalised", func(t *testing.T) {
		p, err := compileString(t, reg, `status eq 'PENDING'`, insensitive)
		require.NoError(t, err)
		leaf := p.(CompareExpr)
		assert.False(t, leaf.FoldCase)
		assert.Equal(t, "Pending", leaf.Value())
	})

	t.Run("ASCIIOnly", func(t *testing.T) {
		p, err := compileString(t, reg, `name in ('ÉLAN', 'Ärger') or contains(name, 'ÖX')`, CompileOptions{StringMode: StringInsensitiveASCII})
		require.NoError(t, err)
		assert.Equal(t, `or(in~(name,"Élan","Ärger"),contains~(name,"Öx"))`, DescribePredicate(p))

		p, err = compileString(t, reg, `status eq 'PENDING'`, CompileOptions{StringMode: StringInsensitiveASCII})
		require.NoError(t, err)
		assert.Equal(t, "Pending", p.(CompareExpr).Value())
	})

	t.Run("SensitiveKeepsCase", func(t *testing.T) {
		p, err := compileString(t, reg, `name eq 'Ann'`, CompileOptions{})
		require.NoError(t, err)
		assert.Equal(t, `eq(name,"Ann")`, DescribePredicate(p))
	})
}

func TestParseStringMode(t *testing.T) {
	m, err := ParseStringMode("Insensitive")
	require.NoError(t, err)
	assert.Equal(t, StringInsensitive, m)
	assert.Equal(t, "insensitive", m.String())

	m, err = ParseStringMode("")
	require.NoError(t, err)
	assert.Equal(t, StringSensitive, m)

	m, err = ParseStringMode("insensitive-ascii")
	require.NoError(t, err)
	assert.Equal(t, StringInsensitiveASCII, m)
	assert.Equal(t, "insensitive-ascii", m.String())

	_, err = ParseStringMode("fuzzy")
	assert.Error(t, err)
}
