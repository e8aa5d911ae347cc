package multidb_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/require"

	"github.com/ice-blockchain/go-multidb"
	"github.com/ice-blockchain/go-multidb/test_helpers"
)

func TestStickyDuration(t *testing.T) {
	threshold := 10 * time.Second
	cases := []struct {
		lag      multidb.Lag
		expected time.Duration
	}{
		{0, 3 * time.Second},
		{1, 5 * time.Second},
		{2, 6 * time.Second},
		{3, 7 * time.Second},
		{multidb.NotReplicating, 63 * time.Second},
	}

	for _, tc := range cases {
		t.Run(tc.lag.String(), func(t *testing.T) {
			require.Equal(t, tc.expected, multidb.StickyDuration(tc.lag, threshold))
		})
	}
}

func fixedLag(lag multidb.Lag) multidb.LagProber {
	return multidb.LagProberFunc(func(context.Context, multidb.Handle) (multidb.Lag, error) {
		return lag, nil
	})
}

func TestReplicationLagTooHigh(t *testing.T) {
	cases := []struct {
		lag      multidb.Lag
		expected bool
	}{
		{0, false},
		{10, false},
		{11, true},
		{multidb.NotReplicating, true},
	}

	replica := test_helpers.NewFakeHandle("replica")
	for _, tc := range cases {
		t.Run(tc.lag.String(), func(t *testing.T) {
			m, err := multidb.NewLagMonitor(multidb.LagMonitorOpts{Prober: fixedLag(tc.lag)})
			require.NoError(t, err)
			require.Equal(t, tc.expected, m.ReplicationLagTooHigh(context.Background(), replica))
		})
	}
}

func TestLagMonitorWithoutProber(t *testing.T) {
	m, err := multidb.NewLagMonitor(multidb.LagMonitorOpts{})
	require.NoError(t, err)

	replica := test_helpers.NewFakeHandle("replica")
	require.Equal(t, multidb.Lag(0), m.ReplicaLag(context.Background(), replica))
	require.Equal(t, 3*time.Second, m.StickyPrimaryDuration(context.Background(), replica))
}

func TestLagMonitorCachesSamples(t *testing.T) {
	clk := testclock.NewClock(time.Unix(1000, 0))
	var probes atomic.Int32
	var lag atomic.Int64
	prober := multidb.LagProberFunc(func(context.Context, multidb.Handle) (multidb.Lag, error) {
		probes.Add(1)
		return multidb.Lag(lag.Load()), nil
	})

	m, err := multidb.NewLagMonitor(multidb.LagMonitorOpts{
		Prober:   prober,
		CacheTTL: 5 * time.Second,
		Clock:    clk,
	})
	require.NoError(t, err)

	ctx := context.Background()
	replica := test_helpers.NewFakeHandle("replica")

	lag.Store(2)
	require.Equal(t, multidb.Lag(2), m.ReplicaLag(ctx, replica))

	lag.Store(20)
	clk.Advance(4 * time.Second)
	require.Equal(t, multidb.Lag(2), m.ReplicaLag(ctx, replica))
	require.Equal(t, int32(1), probes.Load())

	clk.Advance(time.Second)
	require.Equal(t, multidb.Lag(20), m.ReplicaLag(ctx, replica))
	require.Equal(t, int32(2), probes.Load())
}

func TestLagMonitorProbeFailure(t *testing.T) {
	logger := &test_helpers.RecordingLogger{}
	prober := multidb.LagProberFunc(func(context.Context, multidb.Handle) (multidb.Lag, error) {
		return 0, errors.New("access denied")
	})

	m, err := multidb.NewLagMonitor(multidb.LagMonitorOpts{Prober: prober, Logger: logger})
	require.NoError(t, err)

	replica := test_helpers.NewFakeHandle("replica")
	require.Equal(t, multidb.NotReplicating, m.ReplicaLag(context.Background(), replica))
	require.True(t, m.ReplicationLagTooHigh(context.Background(), replica))
	require.Equal(t, 1, logger.Count("lag_probe_failed"))
}

func TestLagMonitorCancelledCallerDoesNotPoisonCache(t *testing.T) {
	logger := &test_helpers.RecordingLogger{}
	prober := multidb.LagProberFunc(func(ctx context.Context, _ multidb.Handle) (multidb.Lag, error) {
		return 0, ctx.Err()
	})
	m, err := multidb.NewLagMonitor(multidb.LagMonitorOpts{Prober: prober, Logger: logger})
	require.NoError(t, err)

	replica := test_helpers.NewFakeHandle("replica")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.False(t, m.ReplicationLagTooHigh(ctx, replica))
	require.Equal(t, multidb.Lag(0), m.ReplicaLag(context.Background(), replica))
	require.False(t, m.ReplicationLagTooHigh(context.Background(), replica))
	require.Zero(t, logger.Count("lag_probe_failed"))
}

func TestLagMonitorInterruptedProbeIsNotCached(t *testing.T) {
	var probes atomic.Int32
	prober := multidb.LagProberFunc(func(context.Context, multidb.Handle) (multidb.Lag, error) {
		probes.Add(1)
		return 0, context.DeadlineExceeded
	})
	m, err := multidb.NewLagMonitor(multidb.LagMonitorOpts{Prober: prober})
	require.NoError(t, err)

	replica := test_helpers.NewFakeHandle("replica")
	require.False(t, m.ReplicationLagTooHigh(context.Background(), replica))
	require.False(t, m.ReplicationLagTooHigh(context.Background(), replica))
	require.Equal(t, int32(2), probes.Load())
}

func TestLagMonitorProbeTimeout(t *testing.T) {
	prober := multidb.LagProberFunc(func(ctx context.Context, _ multidb.Handle) (multidb.Lag, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	m, err := multidb.NewLagMonitor(multidb.LagMonitorOpts{Prober: prober, ProbeTimeout: 10 * time.Millisecond})
	require.NoError(t, err)

	require.False(t, m.ReplicationLagTooHigh(context.Background(), test_helpers.NewFakeHandle("replica")))
}

type lagRecorder struct {
	lags map[string]multidb.Lag
}

func (r *lagRecorder) Query(string, string) {}

func (r *lagRecorder) Lag(replica string, lag multidb.Lag) {
	r.lags[replica] = lag
}

func TestLagMonitorReportsStats(t *testing.T) {
	stats := &lagRecorder{lags: map[string]multidb.Lag{}}
	m, err := multidb.NewLagMonitor(multidb.LagMonitorOpts{Prober: fixedLag(7), Stats: stats})
	require.NoError(t, err)

	m.ReplicaLag(context.Background(), test_helpers.NewFakeHandle("replica"))
	require.Equal(t, map[string]multidb.Lag{"replica": 7}, stats.lags)
}

func TestNewLagMonitorErrors(t *testing.T) {
	_, err := multidb.NewLagMonitor(multidb.LagMonitorOpts{CacheTTL: -time.Second})
	require.ErrorIs(t, err, multidb.ErrWrongLagCacheTTL)

	_, err = multidb.NewLagMonitor(multidb.LagMonitorOpts{MaxLag: -time.Second})
	require.ErrorIs(t, err, multidb.ErrWrongMaxReplicationLag)

	_, err = multidb.NewLagMonitor(multidb.LagMonitorOpts{ProbeTimeout: -time.Second})
	require.ErrorIs(t, err, multidb.ErrWrongLagProbeTimeout)
}
