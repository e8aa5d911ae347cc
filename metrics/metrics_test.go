package metrics_test

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/ice-blockchain/go-multidb"
	"github.com/ice-blockchain/go-multidb/metrics"
	"github.com/ice-blockchain/go-multidb/test_helpers"
)

func TestCollectorCountsQueries(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := metrics.NewCollector(reg)
	require.NoError(t, err)

	primary := test_helpers.NewFakeHandle("primary")
	replica := test_helpers.NewFakeHandle("replica")
	d, err := multidb.NewDispatcher(primary, test_helpers.Handles(replica), multidb.Opts{
		Stats:  c,
		Logger: &test_helpers.RecordingLogger{},
	})
	require.NoError(t, err)

	ctx := d.WithScope(context.Background())
	for i := 0; i < 3; i++ {
		_, err = d.Execute(ctx, multidb.Operation{Name: multidb.OpSelectAll, Statement: "SELECT 1"})
		require.NoError(t, err)
	}
	_, err = d.Execute(ctx, multidb.Operation{Name: multidb.OpInsert, Statement: "INSERT INTO t VALUES (1)"})
	require.NoError(t, err)

	expected := `
# HELP multidb_queries_total The number of dispatched operations by target connection.
# TYPE multidb_queries_total counter
multidb_queries_total{operation="insert",target="primary"} 1
multidb_queries_total{operation="select_all",target="replica"} 3
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected), "multidb_queries_total"))
}

func TestCollectorLag(t *testing.T) {
	c, err := metrics.NewCollector(nil)
	require.NoError(t, err)

	c.Lag("replica", 7)
	c.Lag("replica", multidb.NotReplicating)

	require.Equal(t, 2, testutil.CollectAndCount(c, "multidb_replication_lag_seconds", "multidb_replica_not_replicating"))
}

func TestCollectorDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := metrics.NewCollector(reg)
	require.NoError(t, err)
	_, err = metrics.NewCollector(reg)
	require.Error(t, err)
}
