// Package localexec evaluates criteria against records held in memory. It is
// the query engine of the backends that have none of their own.
package localexec

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/influxdata/shardkit"
	"github.com/influxdata/shardkit/criteria"
	"github.com/influxdata/shardkit/kit/platform/errors"
)

// Execute filters, orders, projects and paginates records as one shard
// would. Records are returned as is unless c has a projection, in which case
// *criteria.Row values are returned. An aggregate projection always yields
// exactly one row.
func Execute(ctx context.Context, records []*shardkit.Record, c *criteria.Criteria) ([]interface{}, error) {
	matched := make([]*shardkit.Record, 0, len(records))
	for i, r := range records {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if criteria.Match(r, c.Restrictions) {
			matched = append(matched, r)
		}
	}

	if len(c.Orders) > 0 {
		sort.SliceStable(matched, func(i, j int) bool {
			return compare(matched[i], matched[j], c.Orders) < 0
		})
	}

	if c.Projection.HasAggregates() {
		row, err := aggregate(matched, c.Projection)
		if err != nil {
			return nil, err
		}
		return []interface{}{row}, nil
	}

	matched = paginate(matched, c.FirstResult, c.MaxResults)
	out := make([]interface{}, len(matched))
	for i, r := range matched {
		if len(c.Projection) == 0 {
			out[i] = r
			continue
		}
		out[i] = project(r, c.Projection)
	}
	return out, nil
}

func compare(a, b *shardkit.Record, orders []criteria.Order) int {
	for _, o := range orders {
		x, _ := a.Value(o.Property)
		y, _ := b.Value(o.Property)
		cmp := criteria.Compare(x, y)
		if o.Descending {
			cmp = -cmp
		}
		if cmp != 0 {
			return cmp
		}
	}
	return 0
}

func paginate(records []*shardkit.Record, first, max int) []*shardkit.Record {
	if first >= len(records) {
		return nil
	}
	records = records[first:]
	if max > 0 && max < len(records) {
		records = records[:max]
	}
	return records
}

func project(r *shardkit.Record, p criteria.Projection) *criteria.Row {
	row := &criteria.Row{Columns: p.Names(), Values: make([]interface{}, len(p))}
	for i, item := range p {
		row.Values[i], _ = r.Value(item.Property)
	}
	return row
}

func aggregate(records []*shardkit.Record, p criteria.Projection) (*criteria.Row, error) {
	row := &criteria.Row{Columns: p.Names(), Values: make([]interface{}, len(p))}
	for i, item := range p {
		v, err := aggregateOne(records, item)
		if err != nil {
			return nil, err
		}
		row.Values[i] = v
	}
	return row, nil
}

func aggregateOne(records []*shardkit.Record, item criteria.ProjectionItem) (interface{}, error) {
	values := func() []interface{} {
		out := make([]interface{}, 0, len(records))
		for _, r := range records {
			if v, ok := r.Value(item.Property); ok && v != nil {
				out = append(out, criteria.Normalize(v))
			}
		}
		return out
	}

	switch item.Func {
	case criteria.Property:
		if len(records) == 0 {
			return nil, nil
		}
		v, _ := records[0].Value(item.Property)
		return v, nil
	case criteria.RowCount:
		return int64(len(records)), nil
	case criteria.Count:
		return int64(len(values())), nil
	case criteria.CountDistinct:
		vs := values()
		distinct := 0
		for i, v := range vs {
			seen := false
			for _, w := range vs[:i] {
				if criteria.Equal(v, w) {
					seen = true
					break
				}
			}
			if !seen {
				distinct++
			}
		}
		return int64(distinct), nil
	case criteria.Sum:
		var sum interface{}
		for _, v := range values() {
			if !criteria.IsNumeric(v) {
				return nil, errNotNumeric(item, v)
			}
			sum = criteria.AddValues(sum, v)
		}
		return sum, nil
	case criteria.Avg:
		vs := values()
		if len(vs) == 0 {
			return nil, nil
		}
		var total float64
		for _, v := range vs {
			f, ok := criteria.ToFloat64(v)
			if !ok {
				return nil, errNotNumeric(item, v)
			}
			total += f
		}
		return total / float64(len(vs)), nil
	case criteria.Min, criteria.Max:
		var best interface{}
		for _, v := range values() {
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
	default:
		return nil, &errors.Error{
			Code: errors.EInvalid,
			Op:   "localexec/Execute",
			Msg:  fmt.Sprintf("unknown aggregate %q", item.Func),
		}
	}
}

func errNotNumeric(item criteria.ProjectionItem, v interface{}) error {
	return &errors.Error{
		Code: errors.EInvalid,
		Op:   "localexec/Execute",
		Msg:  fmt.Sprintf("%s: value %v of type %T is not numeric", item.Name(), v, v),
	}
}

// RecordOf returns e as a record. The bundled backends only persist records.
func RecordOf(op string, e shardkit.Entity) (*shardkit.Record, error) {
	r, ok := e.(*shardkit.Record)
	if !ok || r == nil {
		return nil, &errors.Error{
			Code: errors.EInvalid,
			Op:   op,
			Msg:  fmt.Sprintf("cannot persist entity of type %T", e),
		}
	}
	if !r.ID.Valid() {
		return nil, &errors.Error{Code: errors.EInvalid, Op: op, Msg: "record has no identifier"}
	}
	return r, nil
}

// ErrReadOnly is returned when writing through a read-only local session.
func ErrReadOnly(op string) error {
	return &errors.Error{Code: errors.EInvalid, Op: op, Msg: "local session is read-only"}
}

// ErrExists is returned when saving a record whose key is taken.
func ErrExists(op string, k shardkit.Key) error {
	return &errors.Error{Code: errors.EConflict, Op: op, Msg: fmt.Sprintf("%s already exists", k)}
}

// ErrNotFound is returned when updating a record that does not exist.
func ErrNotFound(op string, k shardkit.Key) error {
	return &errors.Error{Code: errors.ENotFound, Op: op, Msg: fmt.Sprintf("%s not found", k)}
}

// WithTimeout bounds ctx by d when d is positive.
func WithTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
