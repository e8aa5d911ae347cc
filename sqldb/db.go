package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"

	"github.com/ice-blockchain/go-multidb"
	"github.com/ice-blockchain/go-multidb/balancer"
)

// DB routes database/sql calls between a primary and its replicas.
//
// Calls are routed with the multidb.Scope of their context. Bind a scope to
// each request with WithScope, or every call gets a throwaway scope and
// stickiness does not carry over between calls.
type DB struct {
	dispatcher *multidb.Dispatcher
	primary    *Handle
	replicas   []*Handle
}

// Open creates a DB over already opened pools.
func Open(primary *Handle, replicas []*Handle, opts multidb.Opts) (*DB, error) {
	if primary == nil {
		return nil, multidb.ErrNilPrimary
	}
	handles := make([]multidb.Handle, len(replicas))
	for i, r := range replicas {
		handles[i] = r
	}
	d, err := multidb.NewDispatcher(primary, handles, opts)
	if err != nil {
		return nil, err
	}
	return &DB{dispatcher: d, primary: primary, replicas: replicas}, nil
}

func (db *DB) Dispatcher() *multidb.Dispatcher {
	return db.dispatcher
}

func (db *DB) Primary() *Handle {
	return db.primary
}

// WithScope binds a new routing scope to ctx unless it already carries one.
func (db *DB) WithScope(ctx context.Context, opts ...multidb.ScopeOption) context.Context {
	return db.dispatcher.WithScope(ctx, opts...)
}

// QueryContext runs a query on a replica, or on the primary when the
// statement writes, locks rows or reads a table written recently.
func (db *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return db.query(ctx, nil, query, args)
}

// ExecContext runs a statement on the primary and marks the tables it
// touches sticky.
func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return db.exec(ctx, nil, query, args)
}

// BeginTx starts a transaction on the primary. Every call made through the
// returned Tx, and every read made with the same context until the
// transaction ends, goes to the primary.
func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*Tx, error) {
	ctx = db.dispatcher.WithScope(ctx)
	res, err := db.dispatcher.Execute(ctx, multidb.Operation{
		Name: multidb.OpBegin,
		Args: []any{opts},
	})
	if err != nil {
		return nil, err
	}
	tx, ok := res.(*sql.Tx)
	if !ok {
		return nil, fmt.Errorf("sqldb: unexpected begin result %T", res)
	}
	return &Tx{db: db, ctx: ctx, tx: tx}, nil
}

// PingContext pings the primary and every replica.
func (db *DB) PingContext(ctx context.Context) error {
	var errs *multierror.Error
	for _, h := range db.handles() {
		if err := h.DB().PingContext(ctx); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", h.Name(), err))
		}
	}
	return errs.ErrorOrNil()
}

// Close closes the primary and every replica.
func (db *DB) Close() error {
	var errs *multierror.Error
	for _, h := range db.handles() {
		if err := h.Close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", h.Name(), err))
		}
	}
	return errs.ErrorOrNil()
}

func (db *DB) handles() []*Handle {
	return append([]*Handle{db.primary}, db.replicas...)
}

func (db *DB) query(ctx context.Context, tx *sql.Tx, query string, args []any) (*sql.Rows, error) {
	stmt, write := balancer.CheckIfRequiresWrite(query, false)
	op := multidb.Operation{Name: multidb.OpSelectAll, Statement: stmt, Args: args}
	if write {
		op.Name = OpQuery
	}
	if tx != nil {
		op.Tx = tx
	}

	res, err := db.dispatcher.Execute(ctx, op)
	if err != nil {
		return nil, err
	}
	return res.(*sql.Rows), nil
}

func (db *DB) exec(ctx context.Context, tx *sql.Tx, query string, args []any) (sql.Result, error) {
	stmt, _ := balancer.CheckIfRequiresWrite(query, true)
	op := multidb.Operation{Name: execOperation(stmt), Statement: stmt, Args: args}
	if tx != nil {
		op.Tx = tx
	}

	res, err := db.dispatcher.Execute(ctx, op)
	if err != nil {
		return nil, err
	}
	return res.(sql.Result), nil
}

func execOperation(stmt string) string {
	switch balancer.Verb(stmt) {
	case "insert", "replace":
		return multidb.OpInsert
	case "update":
		return multidb.OpUpdate
	case "delete":
		return multidb.OpDelete
	}
	return multidb.OpExecute
}

// Tx is a primary transaction started by DB.BeginTx.
type Tx struct {
	db   *DB
	ctx  context.Context
	tx   *sql.Tx
	done atomic.Bool
}

func (tx *Tx) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return tx.db.query(tx.scoped(ctx), tx.tx, query, args)
}

func (tx *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return tx.db.exec(tx.scoped(ctx), tx.tx, query, args)
}

// Commit commits the transaction. Only the first Commit or Rollback ends
// it; later calls return sql.ErrTxDone.
func (tx *Tx) Commit() error {
	return tx.end(multidb.OpCommit)
}

// Rollback aborts the transaction. Calling it after Commit returns
// sql.ErrTxDone, so it can be deferred.
func (tx *Tx) Rollback() error {
	return tx.end(multidb.OpRollback)
}

func (tx *Tx) end(name string) error {
	if !tx.done.CompareAndSwap(false, true) {
		return sql.ErrTxDone
	}
	_, err := tx.db.dispatcher.Execute(tx.ctx, multidb.Operation{Name: name, Tx: tx.tx})
	return err
}

// scoped makes calls through the transaction use the scope it was begun
// with, whatever ctx carries.
func (tx *Tx) scoped(ctx context.Context) context.Context {
	return multidb.NewContext(ctx, multidb.ScopeFromContext(tx.ctx))
}
