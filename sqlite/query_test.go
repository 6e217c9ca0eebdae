package sqlite

import (
	"testing"

	"github.com/influxdata/shardkit/criteria"
	"github.com/influxdata/shardkit/kit/platform/errors"
	"github.com/stretchr/testify/require"
)

func TestSelectRecords(t *testing.T) {
	c := criteria.New("person").
		Where("age", criteria.Ge, 18).
		Where("address.city", criteria.In, []interface{}{"Oslo", "Bergen"}).
		Where("active", criteria.Eq, true).
		Where("nickname", criteria.IsNull, nil).
		AddOrder(criteria.Desc("age"))
	c.FirstResult = 2
	c.MaxResults = 3

	b, err := selectRecords(c, true)
	require.NoError(t, err)
	query, args, err := b.ToSql()
	require.NoError(t, err)

	require.Equal(t, "SELECT body FROM records WHERE (type = ? AND json_extract(body, '$.fields.age') >= ? "+
		"AND json_extract(body, '$.fields.address.city') IN (?,?) AND json_extract(body, '$.fields.active') = ? "+
		"AND json_extract(body, '$.fields.nickname') IS NULL) "+
		"ORDER BY json_extract(body, '$.fields.age') DESC, id LIMIT 3 OFFSET 2", query)
	require.Equal(t, []interface{}{"person", 18, "Oslo", "Bergen", int64(1)}, args)
}

func TestSelectRecords_OffsetWithoutLimit(t *testing.T) {
	c := criteria.New("person")
	c.FirstResult = 4

	b, err := selectRecords(c, true)
	require.NoError(t, err)
	query, _, err := b.ToSql()
	require.NoError(t, err)
	require.Contains(t, query, "LIMIT 9223372036854775807 OFFSET 4")
}

func TestSelectRecords_NilComparisonNeverMatches(t *testing.T) {
	c := criteria.New("person").Where("age", criteria.Lt, nil)

	b, err := selectRecords(c, true)
	require.NoError(t, err)
	query, _, err := b.ToSql()
	require.NoError(t, err)
	require.Contains(t, query, "1=0")
}

func TestColumn_RejectsInjection(t *testing.T) {
	_, err := column("age') OR 1=1 --")
	require.Error(t, err)
	require.Equal(t, errors.EInvalid, errors.ErrorCode(err))

	col, err := column("id")
	require.NoError(t, err)
	require.Equal(t, "id", col)
}

func TestSelectAggregates(t *testing.T) {
	c := criteria.New("order")
	c.Projection = criteria.Projection{
		{Func: criteria.RowCount},
		{Func: criteria.Sum, Property: "total"},
		{Func: criteria.Avg, Property: "total"},
		{Func: criteria.CountDistinct, Property: "customer"},
	}

	b, err := selectAggregates(c)
	require.NoError(t, err)
	query, _, err := b.ToSql()
	require.NoError(t, err)
	require.Equal(t, "SELECT COUNT(*), SUM(json_extract(body, '$.fields.total')), "+
		"AVG(json_extract(body, '$.fields.total')), COUNT(DISTINCT json_extract(body, '$.fields.customer')) "+
		"FROM records WHERE (type = ?)", query)

	require.True(t, pushdownAggregates(c.Projection))
	c.Projection = append(c.Projection, criteria.ProjectionItem{Property: "customer"})
	require.False(t, pushdownAggregates(c.Projection))
}
