package multidb

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrExhausted                = errors.New("all replicas are blacklisted")
	ErrNoReplicas               = errors.New("replicas should not be empty")
	ErrNilPrimary               = errors.New("primary should not be nil")
	ErrConnectionNotEstablished = errors.New("connection not established")
	ErrUnsupportedOperation     = errors.New("unsupported operation")
	ErrWrongBlacklistTimeout    = errors.New("wrong blacklist timeout, must not be negative")
	ErrWrongLagCacheTTL         = errors.New("wrong lag cache ttl, must not be negative")
	ErrWrongMaxReplicationLag   = errors.New("wrong max replication lag, must not be negative")
	ErrWrongRotateProbability   = errors.New("wrong rotate probability, must be in [0, 1]")
	ErrWrongLagProbeTimeout     = errors.New("wrong lag probe timeout, must not be negative")
)

// ConfigError is a setup error: a replica list or a replica definition that
// can not be used to build a Dispatcher.
type ConfigError struct {
	Replica string
	Msg     string
}

// Error converts a ConfigError to a string.
func (e ConfigError) Error() string {
	if e.Replica == "" {
		return "multidb: " + e.Msg
	}
	return fmt.Sprintf("multidb: replica %q: %s", e.Replica, e.Msg)
}

// UnsupportedOperationError is returned by connections for operation names
// they do not implement. It wraps ErrUnsupportedOperation.
type UnsupportedOperationError struct {
	Name string
}

func (e UnsupportedOperationError) Error() string {
	return fmt.Sprintf("%s: %q", ErrUnsupportedOperation, e.Name)
}

func (e UnsupportedOperationError) Unwrap() error {
	return ErrUnsupportedOperation
}

// TransientFunc reports whether an error returned by a connection is a
// connectivity problem worth failing over, rather than a statement error.
type TransientFunc func(err error) bool

// Messages of statement errors that are in fact connectivity failures.
var transientMessages = []string{
	"server has gone away",
	"can't connect",
}

// IsTransient is the default TransientFunc.
//
// Errors that are (or wrap) context.Canceled or context.DeadlineExceeded
// are never transient. Otherwise it returns true when:
//
// - err is (or wraps) ErrConnectionNotEstablished or driver.ErrBadConn
//
// - err has a Temporary() method returning true
//
// - the error message mentions "server has gone away" or "can't connect"
func IsTransient(err error) bool {
	if err == nil || isContextError(err) {
		return false
	}
	if errors.Is(err, ErrConnectionNotEstablished) || errors.Is(err, driver.ErrBadConn) {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, m := range transientMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// AnyTransient combines classifiers: an error is transient if any of them
// says so.
func AnyTransient(fns ...TransientFunc) TransientFunc {
	return func(err error) bool {
		for _, fn := range fns {
			if fn != nil && fn(err) {
				return true
			}
		}
		return false
	}
}
