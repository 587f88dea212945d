package filterql

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func TestBuildMongoFilter(t *testing.T) {
	reg := studentRegistry(t)

	tests := []struct {
		name  string
		input string
		opts  CompileOptions
		want  bson.M
	}{
		{
			name:  "Comparison",
			input: `age gt 30`,
			want:  bson.M{"age": bson.M{"$gt": float64(30)}},
		},
		{
			name:  "AndOr",
			input: `age ge 18 and (name eq 'a' or active ne true)`,
			want: bson.M{"$and": []bson.M{
				{"age": bson.M{"$gte": float64(18)}},
				{"$or": []bson.M{
					{"name": bson.M{"$eq": "a"}},
					{"active": bson.M{"$ne": true}},
				}},
			}},
		},
		{
			name:  "Not",
			input: `not age lt 3`,
			want:  bson.M{"$nor": []bson.M{{"age": bson.M{"$lt": float64(3)}}}},
		},
		{
			name:  "In",
			input: `status in ('active', 'Pending')`,
			want:  bson.M{"status": bson.M{"$in": []any{"active", "Pending"}}},
		},
		{
			name:  "Null",
			input: `nickname eq null`,
			want:  bson.M{"nickname": bson.M{"$eq": nil}},
		},
		{
			name:  "Relation",
			input: `courses.level le 2`,
			want:  bson.M{"courses": bson.M{"$elemMatch": bson.M{"level": bson.M{"$lte": float64(2)}}}},
		},
		{
			name:  "StartsWithQuoted",
			input: `startswith(name, 'a.b')`,
			want:  bson.M{"name": bson.M{"$regex": primitive.Regex{Pattern: `^a\.b`}}},
		},
		{
			name:  "EndsWithInsensitive",
			input: `endswith(email, '.ORG')`,
			opts:  CompileOptions{StringMode: StringInsensitive},
			want:  bson.M{"email": bson.M{"$regex": primitive.Regex{Pattern: `\.org$`, Options: "i"}}},
		},
		{
			name:  "EqInsensitive",
			input: `name eq 'Ann'`,
			opts:  CompileOptions{StringMode: StringInsensitive},
			want:  bson.M{"name": primitive.Regex{Pattern: "^ann$", Options: "i"}},
		},
		{
			name:  "NeInsensitive",
			input: `name ne 'Ann'`,
			opts:  CompileOptions{StringMode: StringInsensitive},
			want:  bson.M{"name": bson.M{"$not": primitive.Regex{Pattern: "^ann$", Options: "i"}}},
		},
		{
			name:  "Date",
			input: `createdAt lt '2024-01-01'`,
			want:  bson.M{"created_at": bson.M{"$lt": time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := compileString(t, reg, tt.input, tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.want, BuildMongoFilter(p))
		})
	}

	t.Run("Nil", func(t *testing.T) {
		assert.Equal(t, bson.M{}, BuildMongoFilter(nil))
	})
}

func TestBuildMongoFindOptions(t *testing.T) {
	opts := BuildMongoFindOptions(assemble(t, Request{Sort: "-age", Limit: intPtr(10)}))
	assert.Equal(t, bson.D{{Key: "age", Value: -1}, {Key: "id", Value: -1}}, opts.Sort)
	require.NotNil(t, opts.Limit)
	assert.Equal(t, int64(11), *opts.Limit)

	opts = BuildMongoFindOptions(assemble(t, Request{}))
	assert.Equal(t, bson.D{{Key: "id", Value: 1}}, opts.Sort)
}

func TestBuildMongoPipeline(t *testing.T) {
	t.Run("Lookup", func(t *testing.T) {
		q := resumeAt(t, Request{Filter: `courses.title eq 'go'`, Limit: intPtr(10)}, 5, 5)
		want := mongo.Pipeline{
			{{Key: "$lookup", Value: bson.D{
				{Key: "from", Value: "courses"},
				{Key: "localField", Value: "id"},
				{Key: "foreignField", Value: "student_id"},
				{Key: "as", Value: "courses"},
			}}},
			{{Key: "$match", Value: bson.M{"$and": []bson.M{
				{"courses": bson.M{"$elemMatch": bson.M{"title": bson.M{"$eq": "go"}}}},
				{"id": bson.M{"$gt": int64(5)}},
			}}}},
			{{Key: "$sort", Value: bson.D{{Key: "id", Value: 1}}}},
			{{Key: "$limit", Value: int64(11)}},
			{{Key: "$project", Value: bson.D{{Key: "courses", Value: 0}}}},
		}
		assert.Equal(t, want, BuildMongoPipeline(q))
	})

	t.Run("NoFilter", func(t *testing.T) {
		q := assemble(t, Request{Sort: "name"})
		want := mongo.Pipeline{
			{{Key: "$sort", Value: bson.D{{Key: "name", Value: 1}, {Key: "id", Value: 1}}}},
			{{Key: "$limit", Value: int64(21)}},
		}
		assert.Equal(t, want, BuildMongoPipeline(q))
	})

	t.Run("RelationJoinedOnce", func(t *testing.T) {
		q := assemble(t, Request{Filter: `courses.title eq 'go' or not courses.level gt 1`})
		lookups := 0
		for _, stage := range BuildMongoPipeline(q) {
			if stage[0].Key == "$lookup" {
				lookups++
			}
		}
		assert.Equal(t, 1, lookups)
	})
}

// TestMongoExecutor runs against a live server when MONGO_URI is set.
func TestMongoExecutor(t *testing.T) {
	uri := os.Getenv("MONGO_URI")
	if uri == "" {
		t.Skip("MONGO_URI not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })

	coll := client.Database("filterql_test").Collection("students")
	require.NoError(t, coll.Drop(ctx))
	docs := make([]any, 0, 12)
	for i := 1; i <= 12; i++ {
		courses := bson.A{bson.M{"id": i, "title": "math", "level": 1}}
		if i%3 == 0 {
			courses = append(courses, bson.M{"id": 100 + i, "title": "go", "level": 2})
		}
		docs = append(docs, bson.M{"id": int64(i), "age": int64(20 + i%4), "courses": courses})
	}
	_, err = coll.InsertMany(ctx, docs)
	require.NoError(t, err)

	exec := NewMongoExecutor(coll)
	req := Request{Filter: `courses.title eq 'go'`, Sort: "-age", Limit: intPtr(2)}
	var ids []int64
	for {
		q, err := Assemble(req, studentRegistry(t), smallPageConfig())
		require.NoError(t, err)
		page, err := exec.Execute(ctx, q)
		require.NoError(t, err)
		for _, row := range page.Rows {
			ids = append(ids, row["id"].(int64))
		}
		if page.NextCursor == "" {
			break
		}
		req.After = page.NextCursor
	}
	assert.Equal(t, []int64{3, 6, 9, 12}, ids)
}
