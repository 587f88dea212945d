package filterql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormat(t *testing.T) {
	n, err := ParseString(`a eq 1 and (b eq 'x' or c ne null) and not d eq true`, DialectKeyword)
	require.NoError(t, err)

	assert.Equal(t, `a eq 1 and (b eq 'x' or c ne null) and not (d eq true)`, Format(n, DialectKeyword))
	assert.Equal(t, `a==1;(b=='x',c!=null);not (d==true)`, Format(n, DialectFIQL))
}

func TestFormatLiterals(t *testing.T) {
	tests := []struct {
		node Node
		want string
	}{
		{cmp("n", OpGe, Num(2.5)), `n ge 2.5`},
		{cmp("n", OpLt, Num(-3)), `n lt -3`},
		{cmp("s", OpEq, Str("it's")), `s eq 'it\'s'`},
		{&InList{Field: "id", Values: []Literal{Num(1), Str("b")}}, `id in (1, 'b')`},
		{&FunctionCall{Name: OpEndsWith, Field: "email", Arg: Str(".org")}, `endswith(email, '.org')`},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, Format(tt.node, DialectKeyword))
		})
	}
}

func TestEqual(t *testing.T) {
	a, err := ParseString(`name == 'x' ; age =gt= 3`, DialectFIQL)
	require.NoError(t, err)
	b, err := ParseString(`name eq 'x' and age gt 3.0`, DialectKeyword)
	require.NoError(t, err)
	assert.True(t, Equal(a, b))

	c, err := ParseString(`name eq 'x' and age gt 4`, DialectKeyword)
	require.NoError(t, err)
	assert.False(t, Equal(a, c))

	assert.False(t, Equal(cmp("a", OpEq, Num(1)), cmp("a", OpEq, Str("1"))))
	assert.False(t, Equal(and(cmp("a", OpEq, Num(1)), cmp("b", OpEq, Num(1))), or(cmp("a", OpEq, Num(1)), cmp("b", OpEq, Num(1)))))
	assert.True(t, Equal(nil, nil))
}

func TestWalk(t *testing.T) {
	n, err := ParseString(`a eq 1 and (b eq 2 or not c eq 3)`, DialectKeyword)
	require.NoError(t, err)

	var depths []int
	Walk(n, func(_ Node, depth int) bool {
		depths = append(depths, depth)
		return true
	})
	assert.Equal(t, []int{1, 2, 2, 3, 3, 4}, depths)

	count := 0
	Walk(n, func(node Node, _ int) bool {
		count++
		_, isOr := node.(*Logical)
		return !isOr || node.(*Logical).Op != LogicalOr
	})
	assert.Equal(t, 3, count)
}
