package exit_test

import (
	"testing"

	"github.com/influxdata/shardkit/criteria"
	"github.com/influxdata/shardkit/exit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcatenateListsExitStrategy(t *testing.T) {
	s := &exit.ConcatenateListsExitStrategy{}
	assert.False(t, s.AddResult(recs(5, 1), nil))
	assert.False(t, s.AddResult(nil, nil))
	assert.False(t, s.AddResult(recs(3), nil))

	got, err := s.CompileResults(exit.NewCollector(criteria.New("item").AddOrder(criteria.Asc("n"))))
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int64(1), int64(3), int64(5)}, values(t, got.([]interface{}), "n"))
}

func TestFirstNonNullExitStrategy(t *testing.T) {
	s := &exit.FirstNonNullExitStrategy{}
	assert.False(t, s.AddResult(nil, nil))

	first, second := rec(1), rec(2)
	assert.True(t, s.AddResult(first, nil))
	assert.True(t, s.AddResult(second, nil))

	got, err := s.CompileResults(nil)
	require.NoError(t, err)
	assert.Same(t, first, got)
}

func TestFirstNonNullExitStrategy_AllNil(t *testing.T) {
	s := &exit.FirstNonNullExitStrategy{}
	s.AddResult(nil, nil)
	got, err := s.CompileResults(nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}
