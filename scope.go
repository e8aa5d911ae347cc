package multidb

import (
	"context"
	"sync"
)

// Scope is the routing state of one call context, typically a request or a
// goroutine: its connection stack, its replica cursor and its sticky
// session. Two scopes never observe each other's state.
//
// A Scope may be shared by goroutines through their context. Operations
// dispatched on one Scope run one at a time.
type Scope struct {
	mu      sync.Mutex
	stack   *ConnectionStack
	session *StickySession
}

type ScopeOption func(*Scope)

// WithStickySession makes the scope record and consult the given session,
// usually one loaded from a session store.
func WithStickySession(sess *StickySession) ScopeOption {
	return func(s *Scope) {
		if sess != nil {
			s.session = sess
		}
	}
}

// Stack returns the connection stack of the scope. Calls made on it
// directly are not synchronized with the Dispatcher.
func (s *Scope) Stack() *ConnectionStack {
	return s.stack
}

// Session returns the sticky session of the scope.
func (s *Scope) Session() *StickySession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

func (s *Scope) push(primary bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if primary {
		s.stack.PushPrimary()
	} else {
		s.stack.PushReplica()
	}
}

func (s *Scope) pop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stack.Pop()
}

type scopeKey struct{}

// NewContext returns a copy of ctx carrying the scope.
func NewContext(ctx context.Context, s *Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

// ScopeFromContext returns the scope carried by ctx, or nil.
func ScopeFromContext(ctx context.Context) *Scope {
	s, _ := ctx.Value(scopeKey{}).(*Scope)
	return s
}
