package sqlite

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// NewTestStore returns a store backed by a database file in a temporary
// directory, closed when the test ends.
func NewTestStore(t *testing.T) *SqlStore {
	t.Helper()

	path := fmt.Sprintf("%s/%s", t.TempDir(), DefaultFilename)
	store, err := NewSqlStore(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestFlush(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewTestStore(t)

	err := store.execTrans(ctx, `CREATE TABLE test_table_1 (id TEXT NOT NULL PRIMARY KEY)`)
	require.NoError(t, err)

	err = store.execTrans(ctx, `INSERT INTO test_table_1 (id) VALUES ("one"), ("two"), ("three")`)
	require.NoError(t, err)

	vals, err := store.queryToStrings(`SELECT * FROM test_table_1`)
	require.NoError(t, err)
	require.Equal(t, 3, len(vals))

	store.Flush(context.Background())

	vals, err = store.queryToStrings(`SELECT * FROM test_table_1`)
	require.NoError(t, err)
	require.Equal(t, 0, len(vals))
}

func TestInmemStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, err := NewSqlStore(InmemPath, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.execTrans(ctx, `CREATE TABLE test_table_1 (id TEXT NOT NULL PRIMARY KEY)`))
	require.NoError(t, store.execTrans(ctx, `INSERT INTO test_table_1 (id) VALUES ("one")`))

	// a single connection keeps the in-memory database alive between statements
	vals, err := store.queryToStrings(`SELECT * FROM test_table_1`)
	require.NoError(t, err)
	require.Equal(t, []string{"one"}, vals)
}

func TestExecTrans_RollsBack(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewTestStore(t)

	require.NoError(t, store.execTrans(ctx, `CREATE TABLE test_table_1 (id TEXT NOT NULL PRIMARY KEY)`))
	err := store.execTrans(ctx, `INSERT INTO test_table_1 (id) VALUES ("one"); INSERT INTO missing (id) VALUES ("two")`)
	require.Error(t, err)

	vals, err := store.queryToStrings(`SELECT * FROM test_table_1`)
	require.NoError(t, err)
	require.Empty(t, vals)
}
