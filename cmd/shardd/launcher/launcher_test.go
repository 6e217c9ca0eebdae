package launcher

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/influxdata/shardkit"
	"github.com/influxdata/shardkit/criteria"
	"github.com/influxdata/shardkit/http"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func newTestLauncher(t *testing.T, cfg Config) *Launcher {
	t.Helper()
	l := NewLauncher()
	l.Stdout = new(bytes.Buffer)
	require.NoError(t, l.Run(context.Background(), cfg))
	t.Cleanup(func() {
		if l.Running() {
			require.NoError(t, l.Shutdown(context.Background()))
		}
	})
	return l
}

func testConfig(t *testing.T) Config {
	dir := t.TempDir()
	cfg := NewConfig()
	cfg.HTTPBindAddress = "127.0.0.1:0"
	cfg.Logging.Level = zapcore.DebugLevel
	cfg.Shards = []ShardConfig{
		{ID: 0, Type: MemoryBackend},
		{ID: 1, Type: BoltBackend, Path: filepath.Join(dir, "shard1.bolt")},
		{ID: 2, Type: SqliteBackend, Path: filepath.Join(dir, "shard2.sqlite"), VirtualShards: []int{2, 3}},
	}
	return cfg
}

func TestLauncher_Run(t *testing.T) {
	ctx := context.Background()
	l := newTestLauncher(t, testConfig(t))
	require.True(t, l.Running())

	c, err := http.NewClientService(l.URL(), false)
	require.NoError(t, err)

	shards, err := c.Shards(ctx)
	require.NoError(t, err)
	require.Len(t, shards, 3)
	require.Equal(t, shardkit.VirtualShardIDs{2, 3}, shards[2].VirtualShardIDs)

	// round robin over four virtual shards touches every backend
	var ids []shardkit.ID
	for i := 0; i < 4; i++ {
		r := shardkit.NewRecord("item", map[string]interface{}{"n": int64(i)})
		require.NoError(t, c.Save(ctx, r))
		ids = append(ids, r.ID)
	}
	for i, id := range ids {
		r, err := c.Get(ctx, "item", id)
		require.NoError(t, err)
		require.Equal(t, int64(i), r.Fields["n"])
	}

	q := criteria.New("item")
	q.Projection = criteria.Projection{{Func: criteria.RowCount, Alias: "n"}}
	results, err := c.Query(ctx, q)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, json.Number("4"), results[0]["n"])
}

func TestLauncher_Run_InvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Session.Access = "random"

	l := NewLauncher()
	l.Stdout = new(bytes.Buffer)
	require.Error(t, l.Run(context.Background(), cfg))
	require.False(t, l.Running())
}

func TestLauncher_Run_DuplicateVirtualShard(t *testing.T) {
	cfg := testConfig(t)
	cfg.Shards[0].VirtualShards = []int{3}

	l := NewLauncher()
	l.Stdout = new(bytes.Buffer)
	require.Error(t, l.Run(context.Background(), cfg))
	require.False(t, l.Running())
}
