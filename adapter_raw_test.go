package filterql

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildRawWhere(t *testing.T) {
	reg := studentRegistry(t)

	tests := []struct {
		name     string
		input    string
		opts     CompileOptions
		wantSQL  string
		wantArgs []any
	}{
		{
			name:     "Comparison",
			input:    `age ge 18`,
			wantSQL:  "`age` >= ?",
			wantArgs: []any{float64(18)},
		},
		{
			name:     "Relation",
			input:    `age gt 30 and courses.title eq 'go'`,
			wantSQL:  "(`age` > ? AND EXISTS (SELECT 1 FROM `courses` WHERE `courses`.`student_id` = `students`.`id` AND `courses`.`title` = ?))",
			wantArgs: []any{float64(30), "go"},
		},
		{
			name:     "OrNot",
			input:    `name eq 'a' or not active eq true`,
			wantSQL:  "(`name` = ? OR NOT (`active` = ?))",
			wantArgs: []any{"a", true},
		},
		{
			name:     "In",
			input:    `age in (1, 2, 3)`,
			wantSQL:  "`age` IN (?,?,?)",
			wantArgs: []any{float64(1), float64(2), float64(3)},
		},
		{
			name:    "Null",
			input:   `nickname eq null and nickname ne null`,
			wantSQL: "(`nickname` IS NULL AND `nickname` IS NOT NULL)",
		},
		{
			name:     "LikeEscaping",
			input:    `contains(name, '50%_a\b')`,
			wantSQL:  "`name` LIKE ? ESCAPE '\\'",
			wantArgs: []any{`%50\%\_a\\b%`},
		},
		{
			name:     "StartsWithInsensitive",
			input:    `startswith(name, 'Jo')`,
			opts:     CompileOptions{StringMode: StringInsensitive},
			wantSQL:  "LOWER(`name`) LIKE ? ESCAPE '\\'",
			wantArgs: []any{"jo%"},
		},
		{
			name:     "Column",
			input:    `createdAt lt '2024-01-01'`,
			wantSQL:  "`created_at` < ?",
			wantArgs: []any{time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := compileString(t, reg, tt.input, tt.opts)
			require.NoError(t, err)
			sql, args := BuildRawWhere(p, "students")
			assert.Equal(t, tt.wantSQL, sql)
			if tt.wantArgs == nil {
				assert.Empty(t, args)
			} else {
				assert.Equal(t, tt.wantArgs, args)
			}
		})
	}

	t.Run("RelationWithoutTable", func(t *testing.T) {
		p, err := compileString(t, reg, `not courses.title eq 'go'`, CompileOptions{})
		require.NoError(t, err)
		sql, args := BuildRawWhere(p, "")
		assert.Equal(t, "NOT (`id` IN (SELECT `courses`.`student_id` FROM `courses` WHERE `courses`.`student_id` IS NOT NULL AND `courses`.`title` = ?))", sql)
		assert.Equal(t, []any{"go"}, args)

		db := setupDB(t)
		var ids []int64
		require.NoError(t, db.Table("students").Where(sql, args...).Order("id").Pluck("id", &ids).Error)
		assert.Len(t, ids, 19)
		assert.NotContains(t, ids, int64(4))

		sql, args = BuildRawWhere(p.(NotExpr).Operand, "")
		var takingGo []int64
		require.NoError(t, db.Table("students").Where(sql, args...).Order("id").Pluck("id", &takingGo).Error)
		assert.Equal(t, []int64{4, 8, 12, 16, 20, 24}, takingGo)
	})

	t.Run("Nil", func(t *testing.T) {
		sql, args := BuildRawWhere(nil, "students")
		assert.Empty(t, sql)
		assert.Empty(t, args)
	})
}

func TestBuildRawSelect(t *testing.T) {
	t.Run("FirstPage", func(t *testing.T) {
		q := assemble(t, Request{Limit: intPtr(10)})
		sql, args := BuildRawSelect(q, "students")
		assert.Equal(t, "SELECT * FROM `students` ORDER BY `id` ASC LIMIT 11", sql)
		assert.Empty(t, args)
	})

	t.Run("Columns", func(t *testing.T) {
		q := assemble(t, Request{Filter: `active eq true`, Sort: "name"})
		sql, args := BuildRawSelect(q, "students", "id", "name")
		assert.Equal(t, "SELECT `id`, `name` FROM `students` WHERE `active` = ? ORDER BY `name` ASC, `id` ASC LIMIT 21", sql)
		assert.Equal(t, []any{true}, args)
	})

	t.Run("Cursor", func(t *testing.T) {
		q := resumeAt(t, Request{Filter: `age gt 18`, Sort: "-age", Limit: intPtr(10)}, 42, 1001)
		sql, args := BuildRawSelect(q, "students")
		assert.Equal(t, "SELECT * FROM `students` WHERE (`age` > ? AND (`age` < ? OR (`age` = ? AND `id` < ?))) ORDER BY `age` DESC, `id` DESC LIMIT 11", sql)
		assert.Equal(t, []any{float64(18), int64(42), int64(42), int64(1001)}, args)
	})
}

func TestExplainRawSQL(t *testing.T) {
	stamp := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	got := ExplainRawSQL(
		"SELECT * FROM `t` WHERE `a` = ? AND `b` LIKE ? ESCAPE '\\' AND `c` IN (?,?) AND `d` = ? AND `e` = ? AND `f` = '?'",
		[]any{"O'Brien", "%x%", 1, 2.5, true, stamp},
	)
	assert.Equal(t,
		"SELECT * FROM `t` WHERE `a` = 'O''Brien' AND `b` LIKE '%x%' ESCAPE '\\' AND `c` IN (1,2.5) AND `d` = TRUE AND `e` = '2024-01-02 03:04:05' AND `f` = '?'",
		got)

	assert.Equal(t, "SELECT 1", ExplainRawSQL("SELECT 1", nil))
	assert.Equal(t, "`a` = NULL", ExplainRawSQL("`a` = ?", []any{nil}))
}
