package criteria_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/influxdata/shardkit/criteria"
	"github.com/stretchr/testify/assert"
)

func TestCompare(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name string
		a, b interface{}
		want int
	}{
		{"nil nil", nil, nil, 0},
		{"nil first", nil, 1, -1},
		{"nil last", "a", nil, 1},
		{"ints", int64(3), 5, -1},
		{"int float", 2, 1.5, 1},
		{"float int equal", 2.0, int32(2), 0},
		{"uint", uint64(7), int64(7), 0},
		{"json number", json.Number("10"), 9, 1},
		{"strings", "apple", "banana", -1},
		{"bools", false, true, -1},
		{"times", now, now.Add(time.Second), -1},
		{"mixed kinds", true, "x", -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, criteria.Compare(tt.a, tt.b))
		})
	}
}

func TestMatch(t *testing.T) {
	row := &criteria.Row{
		Columns: []string{"name", "age", "email"},
		Values:  []interface{}{"ada", int64(36), nil},
	}

	tests := []struct {
		name string
		r    criteria.Restriction
		want bool
	}{
		{"eq", criteria.Restriction{Property: "name", Op: criteria.Eq, Value: "ada"}, true},
		{"ne", criteria.Restriction{Property: "name", Op: criteria.Ne, Value: "ada"}, false},
		{"gt", criteria.Restriction{Property: "age", Op: criteria.Gt, Value: 30}, true},
		{"le", criteria.Restriction{Property: "age", Op: criteria.Le, Value: 35.5}, false},
		{"in", criteria.Restriction{Property: "age", Op: criteria.In, Value: []interface{}{1, 36}}, true},
		{"is null", criteria.Restriction{Property: "email", Op: criteria.IsNull}, true},
		{"missing is null", criteria.Restriction{Property: "phone", Op: criteria.IsNull}, true},
		{"not null", criteria.Restriction{Property: "email", Op: criteria.NotNull}, false},
		{"eq against null", criteria.Restriction{Property: "email", Op: criteria.Eq, Value: "x"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, criteria.Match(row, []criteria.Restriction{tt.r}))
		})
	}
}

func TestAddValues(t *testing.T) {
	assert.Equal(t, int64(17), criteria.AddValues(int64(10), 7))
	assert.Equal(t, 3.5, criteria.AddValues(1.5, 2))
	assert.Equal(t, int64(4), criteria.AddValues(nil, int64(4)))
	assert.Nil(t, criteria.AddValues(nil, nil))
}

func TestCriteria_Validate(t *testing.T) {
	c := criteria.New("user").Where("age", criteria.In, 3)
	assert.Error(t, c.Validate())

	c = criteria.New("user").Where("age", criteria.Op("~"), 3)
	assert.Error(t, c.Validate())

	c = criteria.New("user").Where("age", criteria.Gt, 3)
	c.MaxResults = 10
	assert.NoError(t, c.Validate())

	assert.Error(t, criteria.New("").Validate())
}

func TestProjectionItem_Name(t *testing.T) {
	assert.Equal(t, "sum(total)", criteria.ProjectionItem{Func: criteria.Sum, Property: "total"}.Name())
	assert.Equal(t, "count(*)", criteria.ProjectionItem{Func: criteria.RowCount}.Name())
	assert.Equal(t, "n", criteria.ProjectionItem{Func: criteria.Count, Property: "x", Alias: "n"}.Name())
	assert.Equal(t, "city", criteria.ProjectionItem{Property: "city"}.Name())
}
