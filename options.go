package multidb

import (
	"time"

	"github.com/juju/clock"
)

// DefaultReconnectTimeout bounds the reconnect attempts made on the primary
// after it failed.
const DefaultReconnectTimeout = 5 * time.Second

// Opts provides additional options (configurable via NewDispatcher). Zero
// values mean defaults.
type Opts struct {
	// BlacklistTimeout is how long a failed or stale replica is skipped.
	// Defaults to DefaultBlacklistTimeout.
	BlacklistTimeout time.Duration
	// LagProber measures replica lag. Without one, replicas never lag.
	LagProber LagProber
	// LagCacheTTL is how long a lag sample is reused. Defaults to
	// DefaultLagCacheTTL.
	LagCacheTTL time.Duration
	// MaxReplicationLag is the lag above which a replica is skipped for
	// reads. Defaults to DefaultMaxReplicationLag.
	MaxReplicationLag time.Duration
	// LagProbeTimeout bounds a single lag probe. Defaults to
	// DefaultLagProbeTimeout.
	LagProbeTimeout time.Duration
	// ReconnectTimeout bounds the backoff used to reconnect the primary
	// after a failure. Defaults to DefaultReconnectTimeout.
	ReconnectTimeout time.Duration
	// IsTransient classifies connection errors. Transient errors fail over
	// to another replica, everything else is returned to the caller as is.
	// Defaults to IsTransient.
	IsTransient TransientFunc
	// DefaultToPrimary makes new scopes start on the primary instead of a
	// replica.
	DefaultToPrimary bool
	// RotateProbability is the chance of moving a scope to the next replica
	// before a safe operation, spreading long lived scopes over replicas.
	RotateProbability float64
	// SafeOperations extends the set of operation names a replica may serve.
	SafeOperations []string
	// IgnorableOperations extends the set of operation names that are not
	// counted in statistics.
	IgnorableOperations []string
	Logger              Logger
	Stats               Stats
	Clock               clock.Clock
}

func (o Opts) withDefaults() (Opts, error) {
	if o.BlacklistTimeout < 0 {
		return o, ErrWrongBlacklistTimeout
	}
	if o.LagCacheTTL < 0 {
		return o, ErrWrongLagCacheTTL
	}
	if o.MaxReplicationLag < 0 {
		return o, ErrWrongMaxReplicationLag
	}
	if o.LagProbeTimeout < 0 {
		return o, ErrWrongLagProbeTimeout
	}
	if o.RotateProbability < 0 || o.RotateProbability > 1 {
		return o, ErrWrongRotateProbability
	}

	if o.BlacklistTimeout == 0 {
		o.BlacklistTimeout = DefaultBlacklistTimeout
	}
	if o.ReconnectTimeout <= 0 {
		o.ReconnectTimeout = DefaultReconnectTimeout
	}
	if o.IsTransient == nil {
		o.IsTransient = IsTransient
	}
	if o.Logger == nil {
		o.Logger = NewSlogLogger(nil)
	}
	if o.Stats == nil {
		o.Stats = nopStats{}
	}
	if o.Clock == nil {
		o.Clock = clock.WallClock
	}
	return o, nil
}
