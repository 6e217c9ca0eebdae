package sqlite

import (
	"fmt"
	"regexp"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/influxdata/shardkit/criteria"
	"github.com/influxdata/shardkit/kit/platform/errors"
)

const recordsTable = "records"

var propertyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

// column returns the SQL expression reading property from a stored record.
func column(property string) (string, error) {
	if property == "id" {
		return "id", nil
	}
	if !propertyPattern.MatchString(property) {
		return "", &errors.Error{
			Code: errors.EInvalid,
			Op:   "sqlite/List",
			Msg:  fmt.Sprintf("property %q cannot be queried", property),
		}
	}
	return fmt.Sprintf("json_extract(body, '$.fields.%s')", property), nil
}

func where(c *criteria.Criteria) (sq.And, error) {
	preds := sq.And{sq.Eq{"type": c.EntityType}}
	for _, r := range c.Restrictions {
		col, err := column(r.Property)
		if err != nil {
			return nil, err
		}
		switch r.Op {
		case criteria.IsNull:
			preds = append(preds, sq.Eq{col: nil})
			continue
		case criteria.NotNull:
			preds = append(preds, sq.NotEq{col: nil})
			continue
		case criteria.In:
			list, _ := r.Value.([]interface{})
			preds = append(preds, sq.Eq{col: bindAll(list)})
			continue
		}

		if r.Value == nil {
			preds = append(preds, sq.Expr("1=0"))
			continue
		}
		v := bind(r.Value)
		switch r.Op {
		case criteria.Eq:
			preds = append(preds, sq.Eq{col: v})
		case criteria.Ne:
			preds = append(preds, sq.NotEq{col: v})
		case criteria.Lt:
			preds = append(preds, sq.Lt{col: v})
		case criteria.Le:
			preds = append(preds, sq.LtOrEq{col: v})
		case criteria.Gt:
			preds = append(preds, sq.Gt{col: v})
		case criteria.Ge:
			preds = append(preds, sq.GtOrEq{col: v})
		default:
			return nil, &errors.Error{
				Code: errors.EInvalid,
				Op:   "sqlite/List",
				Msg:  fmt.Sprintf("unknown operator %q", r.Op),
			}
		}
	}
	return preds, nil
}

// bind converts a restriction value to what json_extract yields for it.
func bind(v interface{}) interface{} {
	switch v := criteria.Normalize(v).(type) {
	case bool:
		if v {
			return int64(1)
		}
		return int64(0)
	default:
		return v
	}
}

func bindAll(list []interface{}) []interface{} {
	out := make([]interface{}, len(list))
	for i, v := range list {
		out[i] = bind(v)
	}
	return out
}

func orderBy(c *criteria.Criteria) ([]string, error) {
	clauses := make([]string, 0, len(c.Orders)+1)
	for _, o := range c.Orders {
		col, err := column(o.Property)
		if err != nil {
			return nil, err
		}
		if o.Descending {
			col += " DESC"
		}
		clauses = append(clauses, col)
	}
	// ties are broken by id so that results are stable across sessions
	return append(clauses, "id"), nil
}

// selectRecords builds the query for the bodies of the records matching c,
// ordered and paginated.
func selectRecords(c *criteria.Criteria, paginate bool) (sq.SelectBuilder, error) {
	preds, err := where(c)
	if err != nil {
		return sq.SelectBuilder{}, err
	}
	orders, err := orderBy(c)
	if err != nil {
		return sq.SelectBuilder{}, err
	}
	b := sq.Select("body").From(recordsTable).Where(preds).OrderBy(orders...)
	if paginate {
		if c.MaxResults > 0 {
			b = b.Limit(uint64(c.MaxResults))
		}
		if c.FirstResult > 0 {
			if c.MaxResults == 0 {
				// sqlite only accepts OFFSET after a LIMIT
				b = b.Limit(1<<63 - 1)
			}
			b = b.Offset(uint64(c.FirstResult))
		}
	}
	return b, nil
}

// selectAggregates builds the single row query computing every item of p,
// which must hold aggregates only.
func selectAggregates(c *criteria.Criteria) (sq.SelectBuilder, error) {
	preds, err := where(c)
	if err != nil {
		return sq.SelectBuilder{}, err
	}
	cols := make([]string, len(c.Projection))
	for i, item := range c.Projection {
		if item.Func == criteria.RowCount {
			cols[i] = "COUNT(*)"
			continue
		}
		col, err := column(item.Property)
		if err != nil {
			return sq.SelectBuilder{}, err
		}
		switch item.Func {
		case criteria.CountDistinct:
			cols[i] = "COUNT(DISTINCT " + col + ")"
		case criteria.Count, criteria.Sum, criteria.Min, criteria.Max, criteria.Avg:
			cols[i] = strings.ToUpper(string(item.Func)) + "(" + col + ")"
		default:
			return sq.SelectBuilder{}, &errors.Error{
				Code: errors.EInvalid,
				Op:   "sqlite/List",
				Msg:  fmt.Sprintf("unknown aggregate %q", item.Func),
			}
		}
	}
	return sq.Select(cols...).From(recordsTable).Where(preds), nil
}

// pushdownAggregates reports whether every item of p can be computed by
// sqlite. Plain properties next to aggregates are evaluated locally.
func pushdownAggregates(p criteria.Projection) bool {
	for _, item := range p {
		if !item.IsAggregate() {
			return false
		}
	}
	return true
}
