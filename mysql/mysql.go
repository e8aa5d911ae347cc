// Package mysql provides the MySQL specific parts of a multidb setup: opening
// handles with go-sql-driver/mysql, probing replication lag and classifying
// connectivity errors.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/go-sql-driver/mysql"

	"github.com/ice-blockchain/go-multidb"
	"github.com/ice-blockchain/go-multidb/sqldb"
)

// Open creates a handle over a new connection pool for the DSN.
func Open(name string, weight int, dsn string) (*sqldb.Handle, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, err
	}
	return sqldb.NewHandle(name, weight, sql.OpenDB(connector)), nil
}

const DefaultStatusQuery = "SHOW SLAVE STATUS"

var lagColumns = []string{"Seconds_Behind_Master", "Seconds_Behind_Source"}

// LagProber reads the replication lag from the replica status. A replica
// without a status row, or with a NULL lag, is not replicating.
type LagProber struct {
	// Query defaults to DefaultStatusQuery. Use "SHOW REPLICA STATUS" on
	// servers that dropped the old syntax.
	Query string
}

func (p LagProber) ReplicationLag(ctx context.Context, h multidb.Handle) (multidb.Lag, error) {
	db, err := sqldb.DBOf(h)
	if err != nil {
		return multidb.NotReplicating, err
	}
	query := p.Query
	if query == "" {
		query = DefaultStatusQuery
	}

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return multidb.NotReplicating, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return multidb.NotReplicating, err
	}
	lagIndex := -1
	for i, column := range columns {
		for _, name := range lagColumns {
			if column == name {
				lagIndex = i
			}
		}
	}

	if !rows.Next() {
		return multidb.NotReplicating, rows.Err()
	}
	if lagIndex < 0 {
		return multidb.NotReplicating, fmt.Errorf("mysql: %q returned no lag column", query)
	}

	values := make([]sql.RawBytes, len(columns))
	dest := make([]any, len(columns))
	for i := range values {
		dest[i] = &values[i]
	}
	if err := rows.Scan(dest...); err != nil {
		return multidb.NotReplicating, err
	}
	if values[lagIndex] == nil {
		return multidb.NotReplicating, nil
	}

	seconds, err := strconv.ParseInt(string(values[lagIndex]), 10, 64)
	if err != nil {
		return multidb.NotReplicating, err
	}
	return multidb.Lag(seconds), nil
}

// Server error numbers that mean the connection, not the statement, failed.
var transientErrors = map[uint16]bool{
	1040: true, // ER_CON_COUNT_ERROR
	1042: true, // ER_BAD_HOST_ERROR
	1043: true, // ER_HANDSHAKE_ERROR
	1053: true, // ER_SERVER_SHUTDOWN
	1152: true, // ER_ABORTING_CONNECTION
	1159: true, // ER_NET_READ_INTERRUPTED
	1161: true, // ER_NET_WRITE_INTERRUPTED
	1290: true, // ER_OPTION_PREVENTS_STATEMENT, e.g. --read-only after a switchover
	1836: true, // ER_READ_ONLY_MODE
	1927: true, // ER_CONNECTION_KILLED
	2002: true, // CR_CONNECTION_ERROR
	2003: true, // CR_CONN_HOST_ERROR
	2006: true, // CR_SERVER_GONE_ERROR
	2013: true, // CR_SERVER_LOST
}

// IsTransient classifies go-sql-driver/mysql errors and falls back to
// multidb.IsTransient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return transientErrors[myErr.Number]
	}
	return multidb.IsTransient(err)
}
