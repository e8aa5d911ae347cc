package multidb

import (
	"context"
)

// ReplicaScheduler is the part of a Scheduler a ConnectionStack uses.
type ReplicaScheduler interface {
	Current(c *Cursor) Handle
	Next(c *Cursor) (Handle, error)
	Blacklist(h Handle)
}

// LagChecker is the part of a LagMonitor a ConnectionStack uses.
type LagChecker interface {
	ReplicationLagTooHigh(ctx context.Context, h Handle) bool
}

type frame struct {
	handle  Handle
	primary bool
	// reader frames follow the scheduler and may be replaced by NextReader
	reader bool
}

// ConnectionStack tracks which database the current logical operation talks
// to. The bottom of the stack is always the primary; nested WithPrimary and
// WithReplica calls and open transactions push frames on top of it.
//
// A ConnectionStack belongs to one call context and is not safe for
// concurrent use.
type ConnectionStack struct {
	primary   Handle
	scheduler ReplicaScheduler
	lag       LagChecker
	logger    Logger
	cursor    Cursor
	frames    []frame
}

// NewConnectionStack creates a stack that starts on the primary. A nil lag
// checker treats every replica as up to date.
func NewConnectionStack(primary Handle, scheduler ReplicaScheduler, lag LagChecker,
	logger Logger) *ConnectionStack {
	if logger == nil {
		logger = nopLogger{}
	}
	return &ConnectionStack{
		primary:   primary,
		scheduler: scheduler,
		lag:       lag,
		logger:    logger,
	}
}

func (s *ConnectionStack) top() frame {
	if len(s.frames) == 0 {
		return frame{handle: s.primary, primary: true}
	}
	return s.frames[len(s.frames)-1]
}

// Current returns the handle operations are sent to.
func (s *ConnectionStack) Current() Handle {
	return s.top().handle
}

// IsPrimary reports whether the current handle is the primary.
func (s *ConnectionStack) IsPrimary() bool {
	return s.top().primary
}

// IsFallback reports whether the current frame is a reader frame that fell
// back to the primary because every replica was blacklisted.
func (s *ConnectionStack) IsFallback() bool {
	f := s.top()
	return f.primary && f.reader
}

// Depth returns the number of pushed frames, not counting the implicit
// primary at the bottom.
func (s *ConnectionStack) Depth() int {
	return len(s.frames)
}

// Replica returns the replica the scheduler cursor of this stack points at.
func (s *ConnectionStack) Replica() Handle {
	return s.scheduler.Current(&s.cursor)
}

func (s *ConnectionStack) PushPrimary() {
	s.frames = append(s.frames, frame{handle: s.primary, primary: true})
}

func (s *ConnectionStack) PushReplica() {
	s.frames = append(s.frames, frame{handle: s.Replica(), reader: true})
}

// Pop removes the top frame. Popping an empty stack leaves it on the primary.
func (s *ConnectionStack) Pop() {
	if len(s.frames) > 0 {
		s.frames = s.frames[:len(s.frames)-1]
	}
}

// WithPrimary runs fn on the primary and restores the stack afterwards, also
// when fn panics.
func (s *ConnectionStack) WithPrimary(fn func() error) error {
	s.PushPrimary()
	defer s.Pop()
	return fn()
}

// WithReplica runs fn on the current replica and restores the stack
// afterwards, also when fn panics.
func (s *ConnectionStack) WithReplica(fn func() error) error {
	s.PushReplica()
	defer s.Pop()
	return fn()
}

// WithReplicaUnlessInTransaction behaves as WithReplica when the primary has
// no open transaction. Otherwise fn runs wherever the stack already is.
func (s *ConnectionStack) WithReplicaUnlessInTransaction(ctx context.Context, fn func() error) error {
	conn, err := s.primary.RetrieveConnection(ctx)
	if err != nil {
		return err
	}
	if conn.OpenTransactions() == 0 {
		return s.WithReplica(fn)
	}
	return fn()
}

// NextReader replaces the current replica with the next eligible one, or
// with the primary if every replica is blacklisted, which is reported once
// per fallback. It does nothing while the
// primary is forced: a transaction or an explicit WithPrimary is never
// downgraded. A reader frame that fell back to the primary tries the
// replicas again.
func (s *ConnectionStack) NextReader() {
	if !s.top().reader {
		return
	}
	next, err := s.scheduler.Next(&s.cursor)
	if err != nil {
		if !s.IsFallback() {
			s.logger.Report(AllReplicasBlacklistedEvent{baseEvent: newBaseEvent(s.primary.Name())})
		}
		s.frames[len(s.frames)-1] = frame{handle: s.primary, primary: true, reader: true}
		return
	}
	s.frames[len(s.frames)-1] = frame{handle: next, reader: true}
}

// BlacklistCurrent blacklists the current replica and moves on to the next
// reader. It does nothing on the primary.
func (s *ConnectionStack) BlacklistCurrent() {
	if s.IsPrimary() {
		return
	}
	s.scheduler.Blacklist(s.Current())
	s.NextReader()
}

// FindUpToDateReader blacklists replicas until the current one lags less
// than the threshold. It ends on the primary at worst, which never lags.
func (s *ConnectionStack) FindUpToDateReader(ctx context.Context) {
	if s.lag == nil {
		return
	}
	for !s.IsPrimary() && s.lag.ReplicationLagTooHigh(ctx, s.Current()) {
		s.logger.Report(ReplicaLagTooHighEvent{baseEvent: newBaseEvent(s.Current().Name())})
		s.BlacklistCurrent()
	}
}
