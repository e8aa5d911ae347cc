package multidb

import (
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/juju/clock"
)

// DefaultBlacklistTimeout is how long a failed replica is skipped.
const DefaultBlacklistTimeout = 30 * time.Second

// Cursor is a position in a Scheduler's replica list. Each call context owns
// its own Cursor, so concurrent requests rotate independently. The zero value
// starts at a random replica on first use.
//
// A Cursor is not safe for concurrent use.
type Cursor struct {
	index int
	set   bool
}

// Scheduler hands out replicas in round robin order and skips the ones that
// failed recently. The blacklist is shared by every call context.
type Scheduler struct {
	items       []Handle
	indexByName map[string]int
	// unix nanoseconds of the last blacklisting, zero if never
	blacklist []atomic.Int64
	timeout   time.Duration
	clock     clock.Clock
}

// NewScheduler creates a scheduler over a fixed, ordered replica list.
// A nil clock means the wall clock.
func NewScheduler(items []Handle, timeout time.Duration, clk clock.Clock) (*Scheduler, error) {
	if len(items) == 0 {
		return nil, ErrNoReplicas
	}
	if timeout < 0 {
		return nil, ErrWrongBlacklistTimeout
	}
	if clk == nil {
		clk = clock.WallClock
	}

	s := &Scheduler{
		items:       make([]Handle, len(items)),
		indexByName: make(map[string]int, len(items)),
		blacklist:   make([]atomic.Int64, len(items)),
		timeout:     timeout,
		clock:       clk,
	}
	for i, item := range items {
		if item == nil {
			return nil, ConfigError{Msg: "nil replica handle"}
		}
		if _, ok := s.indexByName[item.Name()]; ok {
			return nil, ConfigError{Replica: item.Name(), Msg: "duplicate replica name"}
		}
		s.items[i] = item
		s.indexByName[item.Name()] = i
	}
	return s, nil
}

// Len returns the number of replicas.
func (s *Scheduler) Len() int {
	return len(s.items)
}

// Items returns a copy of the replica list.
func (s *Scheduler) Items() []Handle {
	ret := make([]Handle, len(s.items))
	copy(ret, s.items)
	return ret
}

// Timeout returns the blacklist timeout.
func (s *Scheduler) Timeout() time.Duration {
	return s.timeout
}

// Current returns the replica the cursor points at.
func (s *Scheduler) Current(c *Cursor) Handle {
	return s.items[s.currentIndex(c)]
}

// Next advances the cursor to the next replica that is not blacklisted and
// returns it. If a whole cycle finds nothing eligible the cursor is left where
// it was and ErrExhausted is returned.
func (s *Scheduler) Next(c *Cursor) (Handle, error) {
	previous := s.currentIndex(c)
	threshold := s.clock.Now().Add(-s.timeout).UnixNano()

	index := previous
	for {
		index = (index + 1) % len(s.items)
		if s.blacklist[index].Load() <= threshold {
			c.index = index
			return s.items[index], nil
		}
		if index == previous {
			return nil, ErrExhausted
		}
	}
}

// Blacklist excludes the replica from Next until the timeout elapses.
// Unknown handles are ignored.
func (s *Scheduler) Blacklist(h Handle) {
	if index, ok := s.index(h); ok {
		s.blacklist[index].Store(s.clock.Now().UnixNano())
	}
}

// IsBlacklisted reports whether Next would currently skip the replica.
func (s *Scheduler) IsBlacklisted(h Handle) bool {
	index, ok := s.index(h)
	if !ok {
		return false
	}
	threshold := s.clock.Now().Add(-s.timeout).UnixNano()
	return s.blacklist[index].Load() > threshold
}

// ResetBlacklist makes every replica eligible again.
func (s *Scheduler) ResetBlacklist() {
	for i := range s.blacklist {
		s.blacklist[i].Store(0)
	}
}

func (s *Scheduler) index(h Handle) (int, bool) {
	if h == nil {
		return 0, false
	}
	index, ok := s.indexByName[h.Name()]
	return index, ok
}

func (s *Scheduler) currentIndex(c *Cursor) int {
	if !c.set {
		c.index = rand.IntN(len(s.items))
		c.set = true
	}
	return c.index
}
