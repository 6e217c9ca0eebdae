package bolt_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/influxdata/shardkit"
	"github.com/influxdata/shardkit/bolt"
	"github.com/influxdata/shardkit/internal/backendtest"
	"github.com/influxdata/shardkit/kit/prom"
	"github.com/influxdata/shardkit/kit/prom/promtest"
	"github.com/influxdata/shardkit/shard"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func NewTestClient(t *testing.T) *bolt.Client {
	t.Helper()

	c := bolt.NewClient(zaptest.NewLogger(t))
	c.Path = filepath.Join(t.TempDir(), "shard.bolt")
	require.NoError(t, c.Open(context.Background()))
	return c
}

func TestClient(t *testing.T) {
	backendtest.Backend(t, func(t *testing.T) shard.Backend {
		return NewTestClient(t)
	})
}

func TestClient_Reopen(t *testing.T) {
	ctx := context.Background()
	c := NewTestClient(t)

	s, err := c.OpenSession(ctx)
	require.NoError(t, err)
	r := shardkit.NewRecord("person", map[string]interface{}{"name": "ada"})
	r.ID = 42
	require.NoError(t, s.Save(ctx, r))
	require.NoError(t, c.Close())

	reopened := bolt.NewClient(zaptest.NewLogger(t))
	reopened.Path = c.Path
	require.NoError(t, reopened.Open(ctx))
	defer reopened.Close()

	s, err = reopened.OpenSession(ctx)
	require.NoError(t, err)
	got, err := s.Get(ctx, "person", 42)
	require.NoError(t, err)
	require.Equal(t, "ada", got.(*shardkit.Record).Fields["name"])
}

func TestInitialMetrics(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client := NewTestClient(t)
	defer client.Close()

	s, err := client.OpenSession(ctx)
	require.NoError(t, err)
	for id := shardkit.ID(1); id <= 3; id++ {
		r := shardkit.NewRecord("person", nil)
		r.ID = id
		require.NoError(t, s.Save(ctx, r))
	}

	reg := prom.NewRegistry(zaptest.NewLogger(t))
	reg.MustRegisterCollectors(client)

	mfs, err := reg.Gather()
	require.NoError(t, err)

	m := promtest.MustFindMetric(t, mfs, "shardkit_bolt_records_total", map[string]string{"type": "person"})
	require.Equal(t, float64(3), m.GetGauge().GetValue())
	promtest.MustFindMetric(t, mfs, "boltdb_reads_total", nil)
	promtest.MustFindMetric(t, mfs, "boltdb_writes_total", nil)
}
