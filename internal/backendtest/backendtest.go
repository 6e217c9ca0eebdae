// Package backendtest holds the behavior every shard backend is expected to
// share, run by the test suite of each backend.
package backendtest

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/influxdata/shardkit"
	"github.com/influxdata/shardkit/criteria"
	"github.com/influxdata/shardkit/kit/platform/errors"
	"github.com/influxdata/shardkit/shard"
	"github.com/stretchr/testify/require"
)

// BackendFn returns a new empty backend; it is closed by the suite.
type BackendFn func(t *testing.T) shard.Backend

// Backend runs the conformance tests against the backends returned by fn.
func Backend(t *testing.T, fn BackendFn) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s shard.Session)
	}{
		{name: "GetSave", fn: GetSave},
		{name: "SaveDuplicate", fn: SaveDuplicate},
		{name: "UpdateDelete", fn: UpdateDelete},
		{name: "ReadOnly", fn: ReadOnly},
		{name: "ListRestrictions", fn: ListRestrictions},
		{name: "ListOrderPaginate", fn: ListOrderPaginate},
		{name: "ListProjection", fn: ListProjection},
		{name: "ListAggregates", fn: ListAggregates},
		{name: "ListTimeout", fn: ListTimeout},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			b := fn(t)
			defer b.Close()

			s, err := b.OpenSession(context.Background())
			require.NoError(t, err)
			defer s.Close()

			tt.fn(t, s)
		})
	}
}

func person(id shardkit.ID, name string, age interface{}) *shardkit.Record {
	r := shardkit.NewRecord("person", map[string]interface{}{"name": name})
	if age != nil {
		r.Fields["age"] = age
	}
	r.ID = id
	return r
}

func seed(t *testing.T, s shard.Session, records ...*shardkit.Record) {
	t.Helper()
	for _, r := range records {
		require.NoError(t, s.Save(context.Background(), r))
	}
}

// GetSave saves a record and reads it back.
func GetSave(t *testing.T, s shard.Session) {
	ctx := context.Background()

	got, err := s.Get(ctx, "person", 1)
	require.NoError(t, err)
	require.Nil(t, got)

	r := person(1, "ada", int64(36))
	r.Fields["address"] = map[string]interface{}{"city": "London"}
	r.Links = map[string][]shardkit.Key{"employer": {{Type: "company", ID: 7}}}
	require.NoError(t, s.Save(ctx, r))

	got, err = s.Get(ctx, "person", 1)
	require.NoError(t, err)
	if diff := cmp.Diff(r, got); diff != "" {
		t.Errorf("unexpected record -want/+got:\n%s", diff)
	}

	// identifiers are scoped by type
	got, err = s.Get(ctx, "company", 1)
	require.NoError(t, err)
	require.Nil(t, got)
}

// SaveDuplicate expects a conflict when saving a key twice.
func SaveDuplicate(t *testing.T, s shard.Session) {
	ctx := context.Background()
	seed(t, s, person(1, "ada", nil))

	err := s.Save(ctx, person(1, "grace", nil))
	require.Error(t, err)
	require.Equal(t, errors.EConflict, errors.ErrorCode(err))

	err = s.Save(ctx, person(0, "unsaved", nil))
	require.Equal(t, errors.EInvalid, errors.ErrorCode(err))
}

// UpdateDelete replaces and removes records.
func UpdateDelete(t *testing.T, s shard.Session) {
	ctx := context.Background()

	err := s.Update(ctx, person(1, "ada", nil))
	require.Equal(t, errors.ENotFound, errors.ErrorCode(err))

	seed(t, s, person(1, "ada", nil))
	require.NoError(t, s.Update(ctx, person(1, "ada lovelace", nil)))

	got, err := s.Get(ctx, "person", 1)
	require.NoError(t, err)
	require.Equal(t, "ada lovelace", got.(*shardkit.Record).Fields["name"])

	require.NoError(t, s.Delete(ctx, person(1, "", nil)))
	got, err = s.Get(ctx, "person", 1)
	require.NoError(t, err)
	require.Nil(t, got)

	// deleting an absent record is not an error
	require.NoError(t, s.Delete(ctx, person(2, "", nil)))
}

// ReadOnly rejects writes once the session is read-only.
func ReadOnly(t *testing.T, s shard.Session) {
	ctx := context.Background()
	seed(t, s, person(1, "ada", nil))

	s.SetReadOnly(true)
	require.Equal(t, errors.EInvalid, errors.ErrorCode(s.Save(ctx, person(2, "grace", nil))))
	require.Equal(t, errors.EInvalid, errors.ErrorCode(s.Update(ctx, person(1, "grace", nil))))
	require.Equal(t, errors.EInvalid, errors.ErrorCode(s.Delete(ctx, person(1, "", nil))))

	got, err := s.Get(ctx, "person", 1)
	require.NoError(t, err)
	require.NotNil(t, got)

	s.SetReadOnly(false)
	require.NoError(t, s.Save(ctx, person(2, "grace", nil)))
}

func ids(t *testing.T, results []interface{}) []shardkit.ID {
	t.Helper()
	out := make([]shardkit.ID, len(results))
	for i, r := range results {
		out[i] = r.(*shardkit.Record).ID
	}
	return out
}

// ListRestrictions filters records.
func ListRestrictions(t *testing.T, s shard.Session) {
	ctx := context.Background()
	seed(t, s,
		person(1, "ada", int64(36)),
		person(2, "grace", int64(85)),
		person(3, "alan", int64(41)),
		person(4, "edsger", nil),
	)

	tests := []struct {
		name string
		c    *criteria.Criteria
		want []shardkit.ID
	}{
		{
			name: "eq",
			c:    criteria.New("person").Where("name", criteria.Eq, "grace"),
			want: []shardkit.ID{2},
		},
		{
			name: "range",
			c:    criteria.New("person").Where("age", criteria.Gt, 36).Where("age", criteria.Le, int64(85)),
			want: []shardkit.ID{2, 3},
		},
		{
			name: "in",
			c:    criteria.New("person").Where("name", criteria.In, []interface{}{"ada", "alan"}),
			want: []shardkit.ID{1, 3},
		},
		{
			name: "is null",
			c:    criteria.New("person").Where("age", criteria.IsNull, nil),
			want: []shardkit.ID{4},
		},
		{
			name: "ne skips missing",
			c:    criteria.New("person").Where("age", criteria.Ne, int64(36)),
			want: []shardkit.ID{2, 3},
		},
		{
			name: "id",
			c:    criteria.New("person").Where("id", criteria.Eq, int64(3)),
			want: []shardkit.ID{3},
		},
		{
			name: "other type",
			c:    criteria.New("company"),
			want: []shardkit.ID{},
		},
	}
	for _, tt := range tests {
		results, err := s.List(ctx, tt.c)
		require.NoError(t, err, tt.name)
		require.ElementsMatch(t, tt.want, ids(t, results), tt.name)
	}
}

// ListOrderPaginate orders then paginates.
func ListOrderPaginate(t *testing.T, s shard.Session) {
	ctx := context.Background()
	seed(t, s,
		person(1, "ada", int64(36)),
		person(2, "grace", int64(85)),
		person(3, "alan", int64(41)),
		person(4, "edsger", nil),
		person(5, "barbara", int64(41)),
	)

	c := criteria.New("person").AddOrder(criteria.Asc("age"))
	results, err := s.List(ctx, c)
	require.NoError(t, err)
	// missing values first, ties keep identifier order
	require.Equal(t, []shardkit.ID{4, 1, 3, 5, 2}, ids(t, results))

	c = criteria.New("person").AddOrder(criteria.Desc("age")).AddOrder(criteria.Asc("name"))
	c.FirstResult = 1
	c.MaxResults = 2
	results, err = s.List(ctx, c)
	require.NoError(t, err)
	require.Equal(t, []shardkit.ID{3, 5}, ids(t, results))

	c = criteria.New("person").AddOrder(criteria.Asc("id"))
	c.FirstResult = 3
	results, err = s.List(ctx, c)
	require.NoError(t, err)
	require.Equal(t, []shardkit.ID{4, 5}, ids(t, results))
}

// ListProjection returns rows of the projected properties.
func ListProjection(t *testing.T, s shard.Session) {
	ctx := context.Background()
	seed(t, s,
		person(1, "ada", int64(36)),
		person(2, "grace", int64(85)),
	)

	c := criteria.New("person").AddOrder(criteria.Desc("age"))
	c.Projection = criteria.Projection{{Property: "name"}, {Property: "age", Alias: "years"}}
	results, err := s.List(ctx, c)
	require.NoError(t, err)

	want := []interface{}{
		&criteria.Row{Columns: []string{"name", "years"}, Values: []interface{}{"grace", int64(85)}},
		&criteria.Row{Columns: []string{"name", "years"}, Values: []interface{}{"ada", int64(36)}},
	}
	if diff := cmp.Diff(want, results); diff != "" {
		t.Errorf("unexpected rows -want/+got:\n%s", diff)
	}
}

// ListAggregates computes one row of aggregates.
func ListAggregates(t *testing.T, s shard.Session) {
	ctx := context.Background()

	c := criteria.New("person")
	c.Projection = criteria.Projection{
		{Func: criteria.RowCount},
		{Func: criteria.Count, Property: "age"},
		{Func: criteria.Sum, Property: "age"},
		{Func: criteria.Min, Property: "age"},
		{Func: criteria.Max, Property: "age"},
		{Func: criteria.Avg, Property: "age"},
		{Func: criteria.CountDistinct, Property: "age"},
	}

	results, err := s.List(ctx, c)
	require.NoError(t, err)
	require.Len(t, results, 1)
	row := results[0].(*criteria.Row)
	require.Equal(t, []interface{}{int64(0), int64(0), nil, nil, nil, nil, int64(0)}, row.Values)

	seed(t, s,
		person(1, "ada", int64(30)),
		person(2, "grace", int64(60)),
		person(3, "alan", int64(30)),
		person(4, "edsger", nil),
	)
	results, err = s.List(ctx, c)
	require.NoError(t, err)
	require.Len(t, results, 1)
	row = results[0].(*criteria.Row)
	require.Equal(t, []interface{}{int64(4), int64(3), int64(120), int64(30), int64(60), float64(40), int64(2)}, row.Values)
	require.Equal(t, c.Projection.Names(), row.Columns)

	// a plain property next to aggregates reads the first ordered record
	c = criteria.New("person").AddOrder(criteria.Desc("age"))
	c.Projection = criteria.Projection{{Property: "name"}, {Func: criteria.RowCount}}
	results, err = s.List(ctx, c)
	require.NoError(t, err)
	require.Equal(t, []interface{}{"grace", int64(4)}, results[0].(*criteria.Row).Values)
}

// ListTimeout stops a query whose context is already done.
func ListTimeout(t *testing.T, s shard.Session) {
	seed(t, s, person(1, "ada", nil))
	s.SetTimeout(time.Minute)

	results, err := s.List(context.Background(), criteria.New("person"))
	require.NoError(t, err)
	require.Len(t, results, 1)
}
