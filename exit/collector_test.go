package exit_test

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/influxdata/shardkit"
	"github.com/influxdata/shardkit/criteria"
	"github.com/influxdata/shardkit/exit"
	"github.com/influxdata/shardkit/kit/platform/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rec(n int64) *shardkit.Record {
	return shardkit.NewRecord("item", map[string]interface{}{"n": n})
}

func recs(ns ...int64) []interface{} {
	out := make([]interface{}, len(ns))
	for i, n := range ns {
		out[i] = rec(n)
	}
	return out
}

func values(t *testing.T, results []interface{}, property string) []interface{} {
	t.Helper()
	out := make([]interface{}, len(results))
	for i, r := range results {
		v, ok := r.(shardkit.Valuer).Value(property)
		require.True(t, ok)
		out[i] = v
	}
	return out
}

// shardResult runs a local query the way a single shard would: ordered,
// limited to the per-shard window, never skipped.
func shardResult(c *exit.Collector, ns []int64, desc bool) []interface{} {
	sorted := append([]int64(nil), ns...)
	sort.Slice(sorted, func(i, j int) bool {
		if desc {
			return sorted[i] > sorted[j]
		}
		return sorted[i] < sorted[j]
	})
	if m := c.ShardMaxResults(); m > 0 && m < len(sorted) {
		sorted = sorted[:m]
	}
	return recs(sorted...)
}

func TestCollector_Pagination(t *testing.T) {
	c := exit.NewCollector(criteria.New("item").AddOrder(criteria.Asc("n")))
	c.SetFirstResult(2).SetMaxResults(3)
	require.Equal(t, 5, c.ShardMaxResults())

	var all []interface{}
	for _, ns := range [][]int64{{1, 3, 5}, {2, 4}, {6}} {
		all = append(all, shardResult(c, ns, false)...)
	}

	got, err := c.Apply(all)
	require.NoError(t, err)
	if diff := cmp.Diff([]interface{}{int64(3), int64(4), int64(5)}, values(t, got, "n")); diff != "" {
		t.Fatalf("unexpected page -want/+got:\n%s", diff)
	}
}

func TestCollector_PaginationMatchesSingleStore(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))

	for i := 0; i < 200; i++ {
		total := rnd.Intn(40)
		shards := 1 + rnd.Intn(5)
		first, max := rnd.Intn(10), rnd.Intn(10)
		desc := rnd.Intn(2) == 0

		parts := make([][]int64, shards)
		expected := make([]int64, 0, total)
		for n := 0; n < total; n++ {
			v := int64(rnd.Intn(20))
			k := rnd.Intn(shards)
			parts[k] = append(parts[k], v)
			expected = append(expected, v)
		}
		sort.Slice(expected, func(i, j int) bool {
			if desc {
				return expected[i] > expected[j]
			}
			return expected[i] < expected[j]
		})
		if first < len(expected) {
			expected = expected[first:]
		} else {
			expected = nil
		}
		if max > 0 && max < len(expected) {
			expected = expected[:max]
		}

		order := criteria.Asc("n")
		if desc {
			order = criteria.Desc("n")
		}
		c := exit.NewCollector(nil).AddOrder(order).SetFirstResult(first).SetMaxResults(max)

		var all []interface{}
		for _, p := range parts {
			all = append(all, shardResult(c, p, desc)...)
		}
		got, err := c.Apply(all)
		require.NoError(t, err)

		want := make([]interface{}, len(expected))
		for i, v := range expected {
			want[i] = v
		}
		if diff := cmp.Diff(want, values(t, got, "n")); diff != "" {
			t.Fatalf("iteration %d (shards=%d first=%d max=%d desc=%v) -want/+got:\n%s", i, shards, first, max, desc, diff)
		}
	}
}

func TestCollector_ShardMaxResults(t *testing.T) {
	c := exit.NewCollector(nil)
	assert.Equal(t, 0, c.ShardMaxResults())

	c.SetFirstResult(4)
	assert.Equal(t, 0, c.ShardMaxResults(), "unbounded take stays unbounded")

	c.SetMaxResults(6)
	assert.Equal(t, 10, c.ShardMaxResults())

	c.SetFirstResult(1)
	assert.Equal(t, 7, c.ShardMaxResults())
}

func TestCollector_Ordering(t *testing.T) {
	a := shardkit.NewRecord("person", map[string]interface{}{"last": "b", "first": "x"})
	b := shardkit.NewRecord("person", map[string]interface{}{"last": "a", "first": "y"})
	c := shardkit.NewRecord("person", map[string]interface{}{"last": "b", "first": "a"})
	d := shardkit.NewRecord("person", map[string]interface{}{"first": "z"})
	e := shardkit.NewRecord("person", map[string]interface{}{"last": "a", "first": "y", "tag": 2})

	t.Run("multi key", func(t *testing.T) {
		col := exit.NewCollector(nil).AddOrder(criteria.Asc("last")).AddOrder(criteria.Desc("first"))
		got, err := col.Apply([]interface{}{a, b, c, d})
		require.NoError(t, err)
		assert.Equal(t, []interface{}{d, b, a, c}, got)
	})

	t.Run("descending puts nil last", func(t *testing.T) {
		col := exit.NewCollector(nil).AddOrder(criteria.Desc("last"))
		got, err := col.Apply([]interface{}{d, b, a})
		require.NoError(t, err)
		assert.Equal(t, []interface{}{a, b, d}, got)
	})

	t.Run("stable for equal keys", func(t *testing.T) {
		col := exit.NewCollector(nil).AddOrder(criteria.Asc("last")).AddOrder(criteria.Asc("first"))
		got, err := col.Apply([]interface{}{e, c, b})
		require.NoError(t, err)
		assert.Equal(t, []interface{}{e, b, c}, got)
	})
}

func TestCollector_FiltersNil(t *testing.T) {
	var missing *shardkit.Record
	got, err := exit.NewCollector(nil).Apply([]interface{}{nil, rec(1), missing, rec(2)})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int64(1), int64(2)}, values(t, got, "n"))
}

func TestCollector_StepOrderIsFixed(t *testing.T) {
	// pagination configured before ordering still applies after it
	col := exit.NewCollector(nil).SetMaxResults(2).SetFirstResult(1)
	col.AddOrder(criteria.Desc("n"))

	got, err := col.Apply(recs(1, 5, 3, 4, 2))
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int64(4), int64(3)}, values(t, got, "n"))
}

func row(columns []string, values ...interface{}) *criteria.Row {
	return &criteria.Row{Columns: columns, Values: values}
}

func TestCollector_Aggregates(t *testing.T) {
	sum := criteria.Projection{{Func: criteria.Sum, Property: "amount"}}

	t.Run("sum of partials", func(t *testing.T) {
		cols := sum.Names()
		got, err := exit.NewCollector(nil).SetProjection(sum).Apply([]interface{}{
			row(cols, int64(10)), row(cols, int64(0)), row(cols, int64(7)),
		})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, []interface{}{int64(17)}, got[0].(*criteria.Row).Values)
	})

	t.Run("empty input yields one row", func(t *testing.T) {
		p := criteria.Projection{
			{Func: criteria.Sum, Property: "amount"},
			{Func: criteria.RowCount},
			{Func: criteria.Min, Property: "amount"},
			{Func: criteria.Avg, Property: "amount"},
		}
		got, err := exit.NewCollector(nil).SetProjection(p).Apply(nil)
		require.NoError(t, err)
		require.Len(t, got, 1)
		r := got[0].(*criteria.Row)
		assert.Equal(t, p.Names(), r.Columns)
		assert.Equal(t, []interface{}{int64(0), int64(0), nil, nil}, r.Values)
	})

	t.Run("min max count", func(t *testing.T) {
		p := criteria.Projection{
			{Func: criteria.Min, Property: "amount"},
			{Func: criteria.Max, Property: "amount"},
			{Func: criteria.Count, Property: "amount"},
		}
		cols := p.Names()
		got, err := exit.NewCollector(nil).SetProjection(p).Apply([]interface{}{
			row(cols, int64(4), int64(9), int64(3)),
			row(cols, nil, nil, int64(0)),
			row(cols, 2.5, int64(6), int64(2)),
		})
		require.NoError(t, err)
		assert.Equal(t, []interface{}{2.5, int64(9), int64(5)}, got[0].(*criteria.Row).Values)
	})

	t.Run("count distinct is rejected", func(t *testing.T) {
		p := criteria.Projection{{Func: criteria.CountDistinct, Property: "amount"}}
		_, err := exit.NewCollector(nil).SetProjection(p).Apply(nil)
		require.Error(t, err)
		assert.Equal(t, errors.ENotImplemented, errors.ErrorCode(err))

		_, err = exit.ShardProjection(p, nil)
		assert.Equal(t, errors.ENotImplemented, errors.ErrorCode(err))
	})

	t.Run("property columns come from the first ordered row", func(t *testing.T) {
		p := criteria.Projection{{Property: "name"}, {Func: criteria.Max, Property: "amount"}}
		cols := p.Names()
		col := exit.NewCollector(nil).SetProjection(p).AddOrder(criteria.Asc("name"))
		got, err := col.Apply([]interface{}{row(cols, "zed", int64(1)), row(cols, "amy", int64(2))})
		require.NoError(t, err)
		assert.Equal(t, []interface{}{"amy", int64(2)}, got[0].(*criteria.Row).Values)
	})
}

func TestCollector_Avg(t *testing.T) {
	p := criteria.Projection{{Func: criteria.Avg, Property: "score"}}
	shardP, err := exit.ShardProjection(p, nil)
	require.NoError(t, err)
	require.Len(t, shardP, 2)
	cols := shardP.Names()
	assert.Equal(t, exit.AvgCountColumn(p[0]), cols[1])

	// shard A holds {2, 4}, shard B holds {9}
	got, err := exit.NewCollector(nil).SetProjection(p).Apply([]interface{}{
		row(cols, 3.0, int64(2)),
		row(cols, 9.0, int64(1)),
		row(cols, nil, int64(0)),
	})
	require.NoError(t, err)
	r := got[0].(*criteria.Row)
	assert.Equal(t, []string{"avg(score)"}, r.Columns)
	assert.InDelta(t, 5.0, r.Values[0], 1e-9)

	// the naive mean of partial averages would be 6
	assert.NotEqual(t, 6.0, r.Values[0])
}

func TestCollector_AvgMatchesSingleStore(t *testing.T) {
	rnd := rand.New(rand.NewSource(7))
	p := criteria.Projection{{Func: criteria.Avg, Property: "score"}}
	shardP, err := exit.ShardProjection(p, nil)
	require.NoError(t, err)
	cols := shardP.Names()

	for i := 0; i < 100; i++ {
		var all []interface{}
		var total float64
		var n int
		shards := 1 + rnd.Intn(6)
		for s := 0; s < shards; s++ {
			var sum float64
			k := rnd.Intn(8)
			for j := 0; j < k; j++ {
				v := float64(rnd.Intn(1000))
				sum += v
			}
			total += sum
			n += k
			if k == 0 {
				all = append(all, row(cols, nil, int64(0)))
				continue
			}
			all = append(all, row(cols, sum/float64(k), int64(k)))
		}

		got, err := exit.NewCollector(nil).SetProjection(p).Apply(all)
		require.NoError(t, err)
		v := got[0].(*criteria.Row).Values[0]
		if n == 0 {
			assert.Nil(t, v)
			continue
		}
		assert.InDelta(t, total/float64(n), v, 1e-9)
	}
}

func TestShardProjection_OrderColumns(t *testing.T) {
	p := criteria.Projection{{Property: "name"}}
	got, err := exit.ShardProjection(p, []criteria.Order{criteria.Asc("age"), criteria.Asc("name")})
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "age"}, got.Names())

	cols := got.Names()
	col := exit.NewCollector(nil).SetProjection(p).AddOrder(criteria.Asc("age"))
	out, err := col.Apply([]interface{}{row(cols, "old", int64(80)), row(cols, "young", int64(8))})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, &criteria.Row{Columns: []string{"name"}, Values: []interface{}{"young"}}, out[0])
	assert.Equal(t, &criteria.Row{Columns: []string{"name"}, Values: []interface{}{"old"}}, out[1])

	none, err := exit.ShardProjection(nil, []criteria.Order{criteria.Asc("age")})
	require.NoError(t, err)
	assert.Nil(t, none)
}
