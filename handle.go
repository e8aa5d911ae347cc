package multidb

import "context"

// Handle is a database the router can send operations to: the primary or
// one of the replicas. Handles are identified by name and must stay valid for
// the lifetime of the Dispatcher.
type Handle interface {
	// Name identifies the handle in logs, statistics and the blacklist.
	Name() string
	// Weight is informational. Round robin order does not use it.
	Weight() int
	// RetrieveConnection returns the driver connection of the handle.
	RetrieveConnection(ctx context.Context) (Conn, error)
}

// Conn is a driver connection behind a Handle.
type Conn interface {
	// OpenTransactions returns the number of transactions currently open on
	// the connection.
	OpenTransactions() int
	// Do forwards a named operation to the driver.
	Do(ctx context.Context, op Operation) (any, error)
}

// Reconnector is implemented by connections able to re-establish themselves
// after a connectivity failure.
type Reconnector interface {
	Reconnect(ctx context.Context) error
}
