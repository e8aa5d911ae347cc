// Package pgsql provides the PostgreSQL specific parts of a multidb setup on
// top of pgx.
package pgsql

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/ice-blockchain/go-multidb"
	"github.com/ice-blockchain/go-multidb/sqldb"
)

// Open creates a handle over a new pgx backed pool for the connection
// string.
func Open(name string, weight int, connString string) (*sqldb.Handle, error) {
	cfg, err := pgx.ParseConfig(connString)
	if err != nil {
		return nil, err
	}
	return sqldb.NewHandle(name, weight, stdlib.OpenDB(*cfg)), nil
}

// An up to date standby has replayed everything it received, however old
// the last replayed transaction is. Outside of recovery the result is NULL.
const DefaultLagQuery = `SELECT CASE
	WHEN pg_last_wal_receive_lsn() = pg_last_wal_replay_lsn() THEN 0
	ELSE EXTRACT(EPOCH FROM now() - pg_last_xact_replay_timestamp())::bigint
END`

// LagProber reads the replay delay of a standby. A server that is not in
// recovery is not replicating.
type LagProber struct {
	Query string
}

func (p LagProber) ReplicationLag(ctx context.Context, h multidb.Handle) (multidb.Lag, error) {
	db, err := sqldb.DBOf(h)
	if err != nil {
		return multidb.NotReplicating, err
	}
	query := p.Query
	if query == "" {
		query = DefaultLagQuery
	}

	var seconds sql.NullInt64
	if err := db.QueryRowContext(ctx, query).Scan(&seconds); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return multidb.NotReplicating, nil
		}
		return multidb.NotReplicating, err
	}
	if !seconds.Valid {
		return multidb.NotReplicating, nil
	}
	if seconds.Int64 < 0 {
		return 0, nil
	}
	return multidb.Lag(seconds.Int64), nil
}

// IsTransient classifies pgx errors and falls back to multidb.IsTransient.
//
// It returns true when:
//
// - the error is a connection exception (SQLSTATE class 08)
//
// - the server is shutting down or restarting (57P01, 57P02, 57P03)
//
// - the server turned read-only under a write (25006)
//
// - pgx never sent the statement, so running it elsewhere is safe
//
// A cancelled or expired context is never transient.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "08"):
			return true
		case pgErr.Code == "57P01", pgErr.Code == "57P02", pgErr.Code == "57P03":
			return true
		case pgErr.Code == "25006": // read_only_sql_transaction
			return true
		}
		return false
	}
	if pgconn.SafeToRetry(err) {
		return true
	}
	return multidb.IsTransient(err)
}
