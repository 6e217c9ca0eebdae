// Package exit reconciles per-shard partial results into the answer a single
// unpartitioned store would have produced.
package exit

import (
	"reflect"
	"sort"

	"github.com/influxdata/shardkit"
	"github.com/influxdata/shardkit/criteria"
	"github.com/influxdata/shardkit/kit/platform/errors"
)

// Operation is one step of the exit pipeline.
type Operation interface {
	Apply(results []interface{}) ([]interface{}, error)
}

// OperationFunc adapts a function to Operation.
type OperationFunc func(results []interface{}) ([]interface{}, error)

// Apply calls f(results).
func (f OperationFunc) Apply(results []interface{}) ([]interface{}, error) { return f(results) }

// Collector holds the global ordering, aggregation and pagination of one
// criteria invocation. Steps always run in the order null filter, order,
// aggregate, paginate, whatever order they were configured in.
type Collector struct {
	firstResult int
	maxResults  int
	orders      []criteria.Order
	projection  criteria.Projection
}

// NewCollector returns a collector configured from c.
func NewCollector(c *criteria.Criteria) *Collector {
	col := &Collector{}
	if c == nil {
		return col
	}
	col.SetFirstResult(c.FirstResult)
	col.SetMaxResults(c.MaxResults)
	for _, o := range c.Orders {
		col.AddOrder(o)
	}
	col.SetProjection(c.Projection)
	return col
}

// SetFirstResult sets the number of results skipped globally.
func (c *Collector) SetFirstResult(n int) *Collector {
	c.firstResult = n
	return c
}

// SetMaxResults bounds the number of results returned globally. Zero means
// unbounded.
func (c *Collector) SetMaxResults(m int) *Collector {
	c.maxResults = m
	return c
}

// AddOrder appends an ordering key.
func (c *Collector) AddOrder(o criteria.Order) *Collector {
	c.orders = append(c.orders, o)
	return c
}

// SetProjection sets the output columns.
func (c *Collector) SetProjection(p criteria.Projection) *Collector {
	c.projection = p
	return c
}

// FirstResult returns the global skip.
func (c *Collector) FirstResult() int { return c.firstResult }

// MaxResults returns the global take.
func (c *Collector) MaxResults() int { return c.maxResults }

// ShardMaxResults is the number of results each shard must return so that
// the global window can be computed after merging. Each shard skips nothing.
func (c *Collector) ShardMaxResults() int {
	if c.maxResults == 0 {
		return 0
	}
	return c.firstResult + c.maxResults
}

// Apply runs the pipeline over the concatenated per-shard results.
func (c *Collector) Apply(results []interface{}) ([]interface{}, error) {
	ops := []Operation{
		OperationFunc(filterNil),
	}
	if len(c.orders) > 0 {
		ops = append(ops, &orderOperation{orders: c.orders})
	}
	if c.projection.HasAggregates() {
		ops = append(ops, &aggregateOperation{projection: c.projection})
	}
	if c.firstResult > 0 || c.maxResults > 0 {
		ops = append(ops, &paginateOperation{first: c.firstResult, max: c.maxResults})
	}
	if len(c.projection) > 0 && !c.projection.HasAggregates() {
		ops = append(ops, &trimOperation{columns: c.projection.Names()})
	}

	var err error
	for _, op := range ops {
		if results, err = op.Apply(results); err != nil {
			return nil, err
		}
	}
	return results, nil
}

func filterNil(results []interface{}) ([]interface{}, error) {
	out := results[:0:0]
	for _, r := range results {
		if !isNil(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

func isNil(v interface{}) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

type orderOperation struct {
	orders []criteria.Order
}

func (op *orderOperation) Apply(results []interface{}) ([]interface{}, error) {
	sorted := append([]interface{}(nil), results...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return op.compare(sorted[i], sorted[j]) < 0
	})
	return sorted, nil
}

// compare chains the order keys. Results equal on every key compare equal so
// the stable sort keeps shard order.
func (op *orderOperation) compare(a, b interface{}) int {
	for _, o := range op.orders {
		cmp := criteria.Compare(valueOf(a, o.Property), valueOf(b, o.Property))
		if o.Descending {
			cmp = -cmp
		}
		if cmp != 0 {
			return cmp
		}
	}
	return 0
}

func valueOf(v interface{}, property string) interface{} {
	vr, ok := v.(shardkit.Valuer)
	if !ok {
		return nil
	}
	val, _ := vr.Value(property)
	return val
}

type paginateOperation struct {
	first, max int
}

func (op *paginateOperation) Apply(results []interface{}) ([]interface{}, error) {
	if op.first >= len(results) {
		return results[:0:0], nil
	}
	results = results[op.first:]
	if op.max > 0 && op.max < len(results) {
		results = results[:op.max]
	}
	return results, nil
}

// trimOperation drops the columns a shard only returned for ordering.
type trimOperation struct {
	columns []string
}

func (op *trimOperation) Apply(results []interface{}) ([]interface{}, error) {
	out := make([]interface{}, len(results))
	for i, r := range results {
		row, ok := r.(*criteria.Row)
		if !ok || len(row.Columns) == len(op.columns) {
			out[i] = r
			continue
		}
		trimmed := &criteria.Row{Columns: op.columns, Values: make([]interface{}, len(op.columns))}
		for j, name := range op.columns {
			trimmed.Values[j], _ = row.Value(name)
		}
		out[i] = trimmed
	}
	return out, nil
}

func errUnsupportedAggregate(fn criteria.AggregateFunc) error {
	return &errors.Error{
		Code: errors.ENotImplemented,
		Op:   "exit/Aggregate",
		Msg:  string(fn) + " is not supported across shards",
	}
}
