package exit

import (
	"fmt"

	"github.com/influxdata/shardkit/criteria"
	"github.com/influxdata/shardkit/kit/platform/errors"
)

// avgCountPrefix names the hidden per-shard count column that weights an
// average when partials are combined.
const avgCountPrefix = "_avg_count:"

// AvgCountColumn returns the name of the hidden count column paired with an
// avg projection item.
func AvgCountColumn(item criteria.ProjectionItem) string {
	return avgCountPrefix + item.Name()
}

// ShardProjection returns the projection each shard must compute so that
// its partial rows can be merged. Every avg item gets a count of the same
// property appended. Plain projections get the order properties they lack,
// so merged rows can still be ordered; the collector drops them again.
func ShardProjection(p criteria.Projection, orders []criteria.Order) (criteria.Projection, error) {
	if len(p) == 0 {
		return nil, nil
	}
	out := append(criteria.Projection(nil), p...)
	for _, item := range p {
		switch item.Func {
		case criteria.CountDistinct:
			return nil, errUnsupportedAggregate(item.Func)
		case criteria.Avg:
			out = append(out, criteria.ProjectionItem{
				Func:     criteria.Count,
				Property: item.Property,
				Alias:    AvgCountColumn(item),
			})
		}
	}
	if p.HasAggregates() {
		return out, nil
	}

	names := make(map[string]bool, len(out))
	for _, name := range out.Names() {
		names[name] = true
	}
	for _, o := range orders {
		if !names[o.Property] {
			out = append(out, criteria.ProjectionItem{Property: o.Property})
			names[o.Property] = true
		}
	}
	return out, nil
}

type aggregateOperation struct {
	projection criteria.Projection
}

// Apply folds the partial rows of every shard into exactly one row.
func (op *aggregateOperation) Apply(results []interface{}) ([]interface{}, error) {
	rows := make([]*criteria.Row, 0, len(results))
	for _, r := range results {
		row, ok := r.(*criteria.Row)
		if !ok {
			return nil, &errors.Error{
				Code: errors.EInternal,
				Op:   "exit/Aggregate",
				Msg:  fmt.Sprintf("cannot aggregate result of type %T", r),
			}
		}
		rows = append(rows, row)
	}

	out := &criteria.Row{
		Columns: op.projection.Names(),
		Values:  make([]interface{}, len(op.projection)),
	}
	for i, item := range op.projection {
		v, err := combine(item, rows)
		if err != nil {
			return nil, err
		}
		out.Values[i] = v
	}
	return []interface{}{out}, nil
}

func combine(item criteria.ProjectionItem, rows []*criteria.Row) (interface{}, error) {
	name := item.Name()
	switch item.Func {
	case criteria.Property:
		if len(rows) == 0 {
			return nil, nil
		}
		v, _ := rows[0].Value(name)
		return v, nil

	case criteria.Count, criteria.RowCount:
		var n int64
		for _, row := range rows {
			v, _ := row.Value(name)
			n += criteria.ToInt64(v)
		}
		return n, nil

	case criteria.Sum:
		var sum interface{} = int64(0)
		for _, row := range rows {
			v, _ := row.Value(name)
			sum = criteria.AddValues(sum, criteria.Normalize(v))
		}
		return sum, nil

	case criteria.Min, criteria.Max:
		var best interface{}
		for _, row := range rows {
			v, _ := row.Value(name)
			v = criteria.Normalize(v)
			if v == nil {
				continue
			}
			if best == nil {
				best = v
				continue
			}
			cmp := criteria.Compare(v, best)
			if (item.Func == criteria.Min && cmp < 0) || (item.Func == criteria.Max && cmp > 0) {
				best = v
			}
		}
		return best, nil

	case criteria.Avg:
		var weighted float64
		var total int64
		for _, row := range rows {
			cnt, ok := row.Value(AvgCountColumn(item))
			if !ok {
				return nil, &errors.Error{
					Code: errors.EInternal,
					Op:   "exit/Aggregate",
					Msg:  fmt.Sprintf("partial row lacks the count for %s", name),
				}
			}
			n := criteria.ToInt64(cnt)
			if n == 0 {
				continue
			}
			v, _ := row.Value(name)
			avg, ok := criteria.ToFloat64(v)
			if !ok {
				continue
			}
			weighted += avg * float64(n)
			total += n
		}
		if total == 0 {
			return nil, nil
		}
		return weighted / float64(total), nil

	default:
		return nil, errUnsupportedAggregate(item.Func)
	}
}
