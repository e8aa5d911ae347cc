package multidb

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-multierror"
)

// Dispatcher routes operations between the primary and the replicas. It is
// safe for concurrent use: all per-request state lives in the Scope carried
// by the context passed to each call.
type Dispatcher struct {
	primary   Handle
	scheduler *Scheduler
	lag       *LagMonitor
	analyzer  *QueryAnalyzer
	table     dispatchTable
	stats     Stats
	opts      Opts
	state     state
}

// NewDispatcher creates a Dispatcher over a primary and an ordered, non-empty
// replica list.
func NewDispatcher(primary Handle, replicas []Handle, opts Opts) (*Dispatcher, error) {
	if primary == nil {
		return nil, ErrNilPrimary
	}
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}

	scheduler, err := NewScheduler(replicas, opts.BlacklistTimeout, opts.Clock)
	if err != nil {
		return nil, err
	}
	lag, err := NewLagMonitor(LagMonitorOpts{
		Prober:       opts.LagProber,
		CacheTTL:     opts.LagCacheTTL,
		MaxLag:       opts.MaxReplicationLag,
		ProbeTimeout: opts.LagProbeTimeout,
		Clock:        opts.Clock,
		Stats:        opts.Stats,
		Logger:       opts.Logger,
	})
	if err != nil {
		return nil, err
	}

	return &Dispatcher{
		primary:   primary,
		scheduler: scheduler,
		lag:       lag,
		analyzer:  NewQueryAnalyzer(opts.Clock),
		table:     newDispatchTable(opts.SafeOperations, opts.IgnorableOperations),
		stats:     safeStats{stats: opts.Stats},
		opts:      opts,
	}, nil
}

func (d *Dispatcher) Primary() Handle {
	return d.primary
}

func (d *Dispatcher) Scheduler() *Scheduler {
	return d.scheduler
}

func (d *Dispatcher) LagMonitor() *LagMonitor {
	return d.lag
}

func (d *Dispatcher) QueryAnalyzer() *QueryAnalyzer {
	return d.analyzer
}

// NewScope creates the routing state of a new call context. Unless
// Opts.DefaultToPrimary is set, the scope starts on a replica.
func (d *Dispatcher) NewScope(opts ...ScopeOption) *Scope {
	s := &Scope{
		stack:   NewConnectionStack(d.primary, d.scheduler, d.lag, d.opts.Logger),
		session: NewStickySession(),
	}
	if !d.opts.DefaultToPrimary {
		s.stack.PushReplica()
		if d.scheduler.IsBlacklisted(s.stack.Current()) {
			s.stack.NextReader()
		}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithScope returns ctx unchanged if it already carries a scope, otherwise a
// copy of ctx carrying a new one.
func (d *Dispatcher) WithScope(ctx context.Context, opts ...ScopeOption) context.Context {
	if ScopeFromContext(ctx) != nil {
		return ctx
	}
	return NewContext(ctx, d.NewScope(opts...))
}

// scope returns the scope of ctx, creating one for this call only when ctx
// carries none.
func (d *Dispatcher) scope(ctx context.Context) (context.Context, *Scope) {
	if s := ScopeFromContext(ctx); s != nil {
		return ctx, s
	}
	s := d.NewScope()
	return NewContext(ctx, s), s
}

// WithPrimary runs fn with every operation of the scope forced to the
// primary.
func (d *Dispatcher) WithPrimary(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, s := d.scope(ctx)
	s.push(true)
	defer s.pop()
	return fn(ctx)
}

// WithReplica runs fn with safe operations of the scope sent to a replica.
// Unsafe operations still go to the primary.
func (d *Dispatcher) WithReplica(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, s := d.scope(ctx)
	s.push(false)
	defer s.pop()
	return fn(ctx)
}

// Transaction runs fn inside a primary transaction. The transaction is
// committed when fn returns nil and rolled back otherwise, also when fn
// panics.
func (d *Dispatcher) Transaction(ctx context.Context, fn func(ctx context.Context, tx any) error) error {
	return d.WithPrimary(ctx, func(ctx context.Context) error {
		tx, err := d.Execute(ctx, Operation{Name: OpBegin})
		if err != nil {
			return err
		}

		done := false
		defer func() {
			if !done {
				if p := recover(); p != nil {
					_, _ = d.Execute(ctx, Operation{Name: OpRollback, Tx: tx})
					panic(p)
				}
			}
		}()

		if err = fn(ctx, tx); err != nil {
			done = true
			if _, rerr := d.Execute(ctx, Operation{Name: OpRollback, Tx: tx}); rerr != nil {
				return multierror.Append(err, rerr)
			}
			return err
		}
		done = true
		_, err = d.Execute(ctx, Operation{Name: OpCommit, Tx: tx})
		return err
	})
}

// Execute routes a single operation and runs it.
//
// Unsafe operations mark the tables of their statement sticky and run on the
// primary. Safe operations run on the current replica of the scope unless
// the statement reads a sticky table. A replica failing with a transient
// error is blacklisted and the operation is retried on the next replica,
// down to the primary. Errors of the primary are returned unchanged and
// schedule a reconnect before its next use.
func (d *Dispatcher) Execute(ctx context.Context, op Operation) (any, error) {
	ctx, s := d.scope(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()

	info := d.table.lookup(op.Name)
	if !info.safe {
		return d.sendToPrimary(ctx, s, op, info, true)
	}
	return d.sendToCurrent(ctx, s, op, info)
}

func (d *Dispatcher) sendToPrimary(ctx context.Context, s *Scope, op Operation, info opInfo,
	stickify bool) (any, error) {
	if stickify && !info.nonCommunicating && op.Statement != "" {
		duration := d.lag.StickyPrimaryDuration(ctx, s.stack.Replica())
		s.session = d.analyzer.MarkSticky(s.session, op.Statement, duration)
	}

	d.record(op.Name, info, d.primary.Name())
	if err := d.reconnectPrimary(ctx); err != nil {
		return nil, err
	}

	var res any
	err := s.stack.WithPrimary(func() (err error) {
		res, err = d.do(ctx, d.primary, op)
		return err
	})

	switch op.Name {
	case OpBegin:
		if err == nil {
			s.stack.PushPrimary()
		}
	case OpCommit, OpRollback:
		s.stack.Pop()
	}

	if err != nil && d.opts.IsTransient(err) {
		d.primaryFailed(op, err)
	}
	return res, err
}

func (d *Dispatcher) sendToCurrent(ctx context.Context, s *Scope, op Operation, info opInfo) (any, error) {
	if d.analyzer.RequiresSticky(s.session, op.Statement) {
		return d.sendToPrimary(ctx, s, op, info, false)
	}

	stack := s.stack
	if stack.IsFallback() || d.rotate() {
		stack.NextReader()
	}

	for {
		stack.FindUpToDateReader(ctx)
		target := stack.Current()
		onPrimary := stack.IsPrimary()

		d.record(op.Name, info, target.Name())
		if onPrimary {
			if err := d.reconnectPrimary(ctx); err != nil {
				return nil, err
			}
		}

		res, err := d.do(ctx, target, op)
		if err == nil || !d.opts.IsTransient(err) {
			return res, err
		}
		if onPrimary {
			d.primaryFailed(op, err)
			return res, err
		}

		d.opts.Logger.Report(ReplicaFailedEvent{
			baseEvent: newBaseEvent(target.Name()),
			Operation: op.Name,
			Error:     err,
		})
		stack.BlacklistCurrent()
		d.opts.Logger.Report(ReplicaBlacklistedEvent{
			baseEvent: newBaseEvent(target.Name()),
			Timeout:   d.scheduler.Timeout(),
		})
	}
}

func (d *Dispatcher) do(ctx context.Context, h Handle, op Operation) (any, error) {
	conn, err := h.RetrieveConnection(ctx)
	if err != nil {
		return nil, err
	}
	if conn == nil {
		return nil, ErrConnectionNotEstablished
	}
	return conn.Do(ctx, op)
}

func (d *Dispatcher) record(name string, info opInfo, target string) {
	if info.ignorable {
		return
	}
	d.stats.Query(name, target)
}

func (d *Dispatcher) rotate() bool {
	p := d.opts.RotateProbability
	return p > 0 && rand.Float64() < p
}

func (d *Dispatcher) primaryFailed(op Operation, err error) {
	d.state.set(reconnectState)
	d.opts.Logger.Report(PrimaryFailedEvent{
		baseEvent: newBaseEvent(d.primary.Name()),
		Operation: op.Name,
		Error:     err,
	})
}

// reconnectPrimary re-establishes the primary connection if a previous
// operation failed on it. Connections that can not reconnect are assumed to
// recover by themselves.
func (d *Dispatcher) reconnectPrimary(ctx context.Context) error {
	if d.state.get() != reconnectState {
		return nil
	}

	conn, err := d.primary.RetrieveConnection(ctx)
	if err == nil && conn != nil {
		if r, ok := conn.(Reconnector); ok {
			ctx, cancel := context.WithTimeout(ctx, d.opts.ReconnectTimeout)
			defer cancel()
			err = backoff.Retry(func() error {
				if ctx.Err() != nil {
					return backoff.Permanent(ctx.Err())
				}
				return r.Reconnect(ctx)
			}, d.backoff(ctx))
		}
	}
	if err != nil {
		d.opts.Logger.Report(PrimaryReconnectFailedEvent{
			baseEvent: newBaseEvent(d.primary.Name()),
			Error:     err,
		})
		return err
	}

	if d.state.cas(reconnectState, connectedState) {
		d.opts.Logger.Report(PrimaryReconnectedEvent{baseEvent: newBaseEvent(d.primary.Name())})
	}
	return nil
}

func (d *Dispatcher) backoff(ctx context.Context) backoff.BackOffContext {
	return backoff.WithContext(&backoff.ExponentialBackOff{
		InitialInterval:     time.Millisecond,
		RandomizationFactor: 0.5,
		Multiplier:          5,
		MaxInterval:         time.Second,
		MaxElapsedTime:      d.opts.ReconnectTimeout,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}, ctx)
}
