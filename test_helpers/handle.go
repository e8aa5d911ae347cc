package test_helpers

import (
	"context"
	"sync"

	"github.com/ice-blockchain/go-multidb"
)

// FakeHandle is a scripted multidb.Handle. It is its own connection: every
// operation is recorded and answered by the responder.
type FakeHandle struct {
	name   string
	weight int

	mu           sync.Mutex
	calls        []multidb.Operation
	respond      func(op multidb.Operation) (any, error)
	retrieveErr  error
	openTx       int
	reconnects   int
	reconnectErr error
}

// NewFakeHandle creates a handle answering every operation with its own
// name.
func NewFakeHandle(name string) *FakeHandle {
	h := &FakeHandle{name: name, weight: 1}
	h.respond = func(multidb.Operation) (any, error) {
		return name, nil
	}
	return h
}

// NewFakeHandles creates one handle per name.
func NewFakeHandles(names ...string) []*FakeHandle {
	ret := make([]*FakeHandle, len(names))
	for i, name := range names {
		ret[i] = NewFakeHandle(name)
	}
	return ret
}

// Handles converts fakes to the interface slice a Dispatcher takes.
func Handles(fakes ...*FakeHandle) []multidb.Handle {
	ret := make([]multidb.Handle, len(fakes))
	for i, f := range fakes {
		ret[i] = f
	}
	return ret
}

func (h *FakeHandle) Name() string {
	return h.name
}

func (h *FakeHandle) Weight() int {
	return h.weight
}

func (h *FakeHandle) RetrieveConnection(context.Context) (multidb.Conn, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.retrieveErr != nil {
		return nil, h.retrieveErr
	}
	return h, nil
}

func (h *FakeHandle) OpenTransactions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.openTx
}

func (h *FakeHandle) Do(_ context.Context, op multidb.Operation) (any, error) {
	h.mu.Lock()
	h.calls = append(h.calls, op)
	respond := h.respond
	h.mu.Unlock()
	return respond(op)
}

func (h *FakeHandle) Reconnect(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reconnects++
	return h.reconnectErr
}

// Respond replaces the responder.
func (h *FakeHandle) Respond(fn func(op multidb.Operation) (any, error)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.respond = fn
}

// FailWith makes every operation fail with err.
func (h *FakeHandle) FailWith(err error) {
	h.Respond(func(multidb.Operation) (any, error) {
		return nil, err
	})
}

// FailRetrieveWith makes RetrieveConnection fail with err. A nil err
// restores it.
func (h *FakeHandle) FailRetrieveWith(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.retrieveErr = err
}

func (h *FakeHandle) SetOpenTransactions(n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.openTx = n
}

func (h *FakeHandle) SetReconnectError(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reconnectErr = err
}

func (h *FakeHandle) SetWeight(weight int) {
	h.weight = weight
}

// Calls returns the operations received so far.
func (h *FakeHandle) Calls() []multidb.Operation {
	h.mu.Lock()
	defer h.mu.Unlock()
	ret := make([]multidb.Operation, len(h.calls))
	copy(ret, h.calls)
	return ret
}

// CallNames returns the names of the operations received so far.
func (h *FakeHandle) CallNames() []string {
	calls := h.Calls()
	names := make([]string, len(calls))
	for i, op := range calls {
		names[i] = op.Name
	}
	return names
}

func (h *FakeHandle) Reconnects() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reconnects
}

// Reset forgets the recorded calls.
func (h *FakeHandle) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = nil
}
