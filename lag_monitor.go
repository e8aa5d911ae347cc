package multidb

import (
	"context"
	"strconv"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/juju/clock"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultLagCacheTTL is how long a lag sample is reused.
	DefaultLagCacheTTL = 5 * time.Second
	// DefaultMaxReplicationLag is the lag above which a replica is too stale
	// to read from.
	DefaultMaxReplicationLag = 10 * time.Second
	// DefaultLagProbeTimeout bounds a single lag probe.
	DefaultLagProbeTimeout = 5 * time.Second

	lagCacheSize = 256
)

// Lag is a replication delay in whole seconds, or NotReplicating.
type Lag int64

// NotReplicating is reported for replicas whose replication is stopped or
// not configured.
const NotReplicating Lag = -1

func (l Lag) String() string {
	if l == NotReplicating {
		return "not replicating"
	}
	return strconv.FormatInt(int64(l), 10) + "s"
}

// Duration converts a lag to a time.Duration. NotReplicating has no duration
// and converts to -1s.
func (l Lag) Duration() time.Duration {
	return time.Duration(l) * time.Second
}

// LagProber measures the replication lag of a replica.
type LagProber interface {
	ReplicationLag(ctx context.Context, h Handle) (Lag, error)
}

// LagProberFunc is an adapter to use ordinary functions as a LagProber.
type LagProberFunc func(ctx context.Context, h Handle) (Lag, error)

func (f LagProberFunc) ReplicationLag(ctx context.Context, h Handle) (Lag, error) {
	return f(ctx, h)
}

// LagMonitorOpts configures a LagMonitor. Zero values mean defaults.
type LagMonitorOpts struct {
	// Prober measures lag. Without a prober every replica reports zero lag.
	Prober LagProber
	// CacheTTL is how long a sample is reused. Defaults to DefaultLagCacheTTL.
	CacheTTL time.Duration
	// MaxLag is the threshold of ReplicationLagTooHigh. Defaults to
	// DefaultMaxReplicationLag.
	MaxLag time.Duration
	// ProbeTimeout bounds a single probe. Defaults to
	// DefaultLagProbeTimeout.
	ProbeTimeout time.Duration
	Clock        clock.Clock
	Stats        Stats
	Logger       Logger
}

type lagSample struct {
	lag         Lag
	cachedUntil time.Time
}

// LagMonitor samples and caches replica replication lag. The cache is shared
// by every call context.
type LagMonitor struct {
	prober    LagProber
	cache     *lru.Cache[string, lagSample]
	group     singleflight.Group
	ttl       time.Duration
	threshold time.Duration
	timeout   time.Duration
	clock     clock.Clock
	stats     Stats
	logger    Logger
}

func NewLagMonitor(opts LagMonitorOpts) (*LagMonitor, error) {
	if opts.CacheTTL < 0 {
		return nil, ErrWrongLagCacheTTL
	}
	if opts.MaxLag < 0 {
		return nil, ErrWrongMaxReplicationLag
	}
	if opts.ProbeTimeout < 0 {
		return nil, ErrWrongLagProbeTimeout
	}
	if opts.ProbeTimeout == 0 {
		opts.ProbeTimeout = DefaultLagProbeTimeout
	}
	if opts.CacheTTL == 0 {
		opts.CacheTTL = DefaultLagCacheTTL
	}
	if opts.MaxLag == 0 {
		opts.MaxLag = DefaultMaxReplicationLag
	}
	if opts.Clock == nil {
		opts.Clock = clock.WallClock
	}
	if opts.Stats == nil {
		opts.Stats = nopStats{}
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger{}
	}

	cache, err := lru.New[string, lagSample](lagCacheSize)
	if err != nil {
		return nil, err
	}
	return &LagMonitor{
		prober:    opts.Prober,
		cache:     cache,
		ttl:       opts.CacheTTL,
		threshold: opts.MaxLag,
		timeout:   opts.ProbeTimeout,
		clock:     opts.Clock,
		stats:     safeStats{stats: opts.Stats},
		logger:    opts.Logger,
	}, nil
}

// Threshold returns the maximum acceptable lag.
func (m *LagMonitor) Threshold() time.Duration {
	return m.threshold
}

// ReplicaLag returns the cached lag of the replica, probing it on a cache
// miss. A failed probe is reported as NotReplicating and cached like any
// other sample.
//
// Probes are shared by concurrent callers and do not end with the ctx of
// the caller that started them. When ctx ends first, or the probe itself is
// cancelled or times out, nothing is cached and the lag is unknown:
// ReplicaLag returns NotReplicating and ReplicationLagTooHigh returns false.
func (m *LagMonitor) ReplicaLag(ctx context.Context, h Handle) Lag {
	lag, _ := m.replicaLag(ctx, h)
	return lag
}

func (m *LagMonitor) replicaLag(ctx context.Context, h Handle) (Lag, bool) {
	name := h.Name()
	if sample, ok := m.cache.Get(name); ok && m.clock.Now().Before(sample.cachedUntil) {
		return sample.lag, true
	}
	if ctx.Err() != nil {
		return NotReplicating, false
	}

	probeCtx := context.WithoutCancel(ctx)
	ch := m.group.DoChan(name, func() (interface{}, error) {
		lag, err := m.probe(probeCtx, h)
		if err != nil {
			return NotReplicating, err
		}
		m.cache.Add(name, lagSample{lag: lag, cachedUntil: m.clock.Now().Add(m.ttl)})
		m.stats.Lag(name, lag)
		return lag, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return NotReplicating, false
		}
		return res.Val.(Lag), true
	case <-ctx.Done():
		return NotReplicating, false
	}
}

// probe returns an error only when the probe was interrupted. Other probe
// failures count as NotReplicating.
func (m *LagMonitor) probe(ctx context.Context, h Handle) (Lag, error) {
	if m.prober == nil {
		return 0, nil
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	lag, err := m.prober.ReplicationLag(ctx, h)
	if err != nil {
		m.logger.Report(LagProbeFailedEvent{baseEvent: newBaseEvent(h.Name()), Error: err})
		if isContextError(err) {
			return NotReplicating, err
		}
		return NotReplicating, nil
	}
	if lag < 0 {
		return NotReplicating, nil
	}
	return lag, nil
}

// ReplicationLagTooHigh reports whether the replica is not replicating or
// lags more than the threshold. A replica whose lag is unknown is not too
// stale.
func (m *LagMonitor) ReplicationLagTooHigh(ctx context.Context, h Handle) bool {
	lag, ok := m.replicaLag(ctx, h)
	if !ok {
		return false
	}
	return lag == NotReplicating || lag.Duration() > m.threshold
}

// StickyPrimaryDuration is how long reads of just written tables stay on
// the primary, given the current lag of the replica.
func (m *LagMonitor) StickyPrimaryDuration(ctx context.Context, h Handle) time.Duration {
	return StickyDuration(m.ReplicaLag(ctx, h), m.threshold)
}

var (
	stickyFactor  = decimal.RequireFromString("1.2")
	stickyPadding = decimal.NewFromInt(3)
)

// StickyDuration returns ceil(lag*1.2 + 3) seconds. A replica that is not
// replicating counts as lagging five times the threshold.
func StickyDuration(lag Lag, threshold time.Duration) time.Duration {
	seconds := decimal.NewFromInt(int64(lag))
	if lag == NotReplicating {
		seconds = decimal.NewFromFloat(threshold.Seconds()).Mul(decimal.NewFromInt(5))
	}
	total := seconds.Mul(stickyFactor).Add(stickyPadding).Ceil()
	return time.Duration(total.IntPart()) * time.Second
}
