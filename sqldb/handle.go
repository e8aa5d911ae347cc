// Package sqldb plugs database/sql pools into a multidb.Dispatcher.
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"sync/atomic"

	"github.com/ice-blockchain/go-multidb"
)

// OpQuery runs a statement returning rows on the primary, e.g. a locking
// read or an INSERT ... RETURNING. It is not a safe operation.
const OpQuery = "query"

var (
	ErrNotTransaction = errors.New("operation does not carry a *sql.Tx")
	ErrNoPool         = errors.New("handle is not backed by a *sql.DB")
)

// Handle is a *sql.DB acting as the primary or as one replica. It is its
// own multidb.Conn: the pool behind *sql.DB already manages connections.
type Handle struct {
	name   string
	weight int
	db     *sql.DB
	openTx atomic.Int32
}

var (
	_ multidb.Handle      = (*Handle)(nil)
	_ multidb.Conn        = (*Handle)(nil)
	_ multidb.Reconnector = (*Handle)(nil)
)

// NewHandle wraps db. A weight below one counts as one.
func NewHandle(name string, weight int, db *sql.DB) *Handle {
	if weight < 1 {
		weight = 1
	}
	return &Handle{name: name, weight: weight, db: db}
}

func (h *Handle) Name() string {
	return h.name
}

func (h *Handle) Weight() int {
	return h.weight
}

// DB returns the underlying pool.
func (h *Handle) DB() *sql.DB {
	return h.db
}

// DBOf returns the pool behind a handle created by this package, or any
// other handle with a DB() *sql.DB method.
func DBOf(h multidb.Handle) (*sql.DB, error) {
	p, ok := h.(interface{ DB() *sql.DB })
	if !ok || p.DB() == nil {
		return nil, ErrNoPool
	}
	return p.DB(), nil
}

func (h *Handle) RetrieveConnection(context.Context) (multidb.Conn, error) {
	if h.db == nil {
		return nil, multidb.ErrConnectionNotEstablished
	}
	return h, nil
}

// OpenTransactions returns the number of transactions begun through Do and
// not finished yet.
func (h *Handle) OpenTransactions() int {
	return int(h.openTx.Load())
}

// Reconnect checks that the pool can reach the database again. database/sql
// replaces broken connections by itself.
func (h *Handle) Reconnect(ctx context.Context) error {
	return h.db.PingContext(ctx)
}

func (h *Handle) Close() error {
	return h.db.Close()
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (h *Handle) queryer(op multidb.Operation) queryer {
	if tx, ok := op.Tx.(*sql.Tx); ok && tx != nil {
		return tx
	}
	return h.db
}

// Do runs a multidb operation against the pool, or against op.Tx when it
// is a *sql.Tx. Row returning operations yield *sql.Rows, except
// select_value which yields the scanned value and select_values which
// yields the first column of every row.
func (h *Handle) Do(ctx context.Context, op multidb.Operation) (any, error) {
	q := h.queryer(op)
	switch op.Name {
	case multidb.OpSelectAll, multidb.OpSelect, multidb.OpSelectRows, multidb.OpSelectOne, OpQuery:
		return q.QueryContext(ctx, op.Statement, op.Args...)
	case multidb.OpSelectValue:
		var value any
		if err := q.QueryRowContext(ctx, op.Statement, op.Args...).Scan(&value); err != nil {
			return nil, err
		}
		return value, nil
	case multidb.OpSelectValues:
		return selectValues(ctx, q, op)
	case multidb.OpInsert, multidb.OpUpdate, multidb.OpDelete, multidb.OpExecute:
		return q.ExecContext(ctx, op.Statement, op.Args...)
	case multidb.OpBegin:
		return h.begin(ctx, op)
	case multidb.OpCommit:
		return nil, h.finish(op, (*sql.Tx).Commit)
	case multidb.OpRollback:
		return nil, h.finish(op, (*sql.Tx).Rollback)
	case multidb.OpActive, multidb.OpVerify:
		return nil, h.db.PingContext(ctx)
	case multidb.OpReconnect:
		return nil, h.Reconnect(ctx)
	case multidb.OpDisconnect:
		return nil, h.db.Close()
	case multidb.OpRawConnection:
		return h.db, nil
	case multidb.OpOpenTransactions:
		return h.OpenTransactions(), nil
	}
	return nil, multidb.UnsupportedOperationError{Name: op.Name}
}

func (h *Handle) begin(ctx context.Context, op multidb.Operation) (any, error) {
	var opts *sql.TxOptions
	if len(op.Args) > 0 {
		opts, _ = op.Args[0].(*sql.TxOptions)
	}
	tx, err := h.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	h.openTx.Add(1)
	return tx, nil
}

func (h *Handle) finish(op multidb.Operation, fn func(*sql.Tx) error) error {
	tx, ok := op.Tx.(*sql.Tx)
	if !ok || tx == nil {
		return ErrNotTransaction
	}
	err := fn(tx)
	if !errors.Is(err, sql.ErrTxDone) {
		h.openTx.Add(-1)
	}
	return err
}

func selectValues(ctx context.Context, q queryer, op multidb.Operation) ([]any, error) {
	rows, err := q.QueryContext(ctx, op.Statement, op.Args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil || len(columns) == 0 {
		return nil, err
	}
	row := make([]any, len(columns))
	dest := make([]any, len(columns))
	for i := range row {
		dest[i] = &row[i]
	}

	var values []any
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		values = append(values, row[0])
	}
	return values, rows.Err()
}
