package sqldb_test

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ice-blockchain/go-multidb"
	"github.com/ice-blockchain/go-multidb/sqldb"
	"github.com/ice-blockchain/go-multidb/test_helpers"
)

type fixture struct {
	primary *test_helpers.FakeDB
	replica *test_helpers.FakeDB
	db      *sqldb.DB
}

func answerWith(value string) func(string, []driver.NamedValue) test_helpers.SQLResult {
	return func(string, []driver.NamedValue) test_helpers.SQLResult {
		return test_helpers.SQLResult{
			Columns:      []string{"source"},
			Rows:         [][]driver.Value{{value}},
			RowsAffected: 1,
		}
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		primary: test_helpers.NewFakeDB(),
		replica: test_helpers.NewFakeDB(),
	}
	f.primary.Respond(answerWith("primary"))
	f.replica.Respond(answerWith("replica"))

	db, err := sqldb.Open(
		sqldb.NewHandle("primary", 1, f.primary.Open()),
		[]*sqldb.Handle{sqldb.NewHandle("replica", 1, f.replica.Open())},
		multidb.Opts{Logger: &test_helpers.RecordingLogger{}},
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})
	f.db = db
	return f
}

func readSource(t *testing.T, ctx context.Context, f *fixture, query string) string {
	t.Helper()

	rows, err := f.db.QueryContext(ctx, query)
	require.NoError(t, err)
	defer rows.Close()

	require.True(t, rows.Next())
	var source string
	require.NoError(t, rows.Scan(&source))
	return source
}

func TestQueryGoesToReplica(t *testing.T) {
	f := newFixture(t)

	require.Equal(t, "replica", readSource(t, context.Background(), f, "SELECT * FROM products"))
	require.Empty(t, f.primary.Queries())
}

func TestLockingQueryGoesToPrimary(t *testing.T) {
	f := newFixture(t)

	require.Equal(t, "primary", readSource(t, context.Background(), f,
		"SELECT * FROM products WHERE id = 1 FOR UPDATE"))
	require.Equal(t, "primary", readSource(t, context.Background(), f,
		"{{writable}}SELECT * FROM images"))
	require.Equal(t, []string{
		"SELECT * FROM products WHERE id = 1 FOR UPDATE",
		"SELECT * FROM images",
	}, f.primary.Queries())
}

func TestQueryFailsOverToPrimary(t *testing.T) {
	f := newFixture(t)
	f.replica.FailWith(errors.New("MySQL server has gone away"))

	require.Equal(t, "primary", readSource(t, context.Background(), f, "SELECT * FROM products"))
	require.True(t, f.db.Dispatcher().Scheduler().IsBlacklisted(f.db.Dispatcher().Scheduler().Items()[0]))
}

func TestExecMarksTablesSticky(t *testing.T) {
	f := newFixture(t)
	ctx := f.db.WithScope(context.Background())

	res, err := f.db.ExecContext(ctx, "UPDATE products SET price = 10 WHERE id = ?", 1)
	require.NoError(t, err)
	affected, err := res.RowsAffected()
	require.NoError(t, err)
	require.Equal(t, int64(1), affected)

	require.Equal(t, "primary", readSource(t, ctx, f, "SELECT * FROM products"))
	require.Equal(t, "replica", readSource(t, ctx, f, "SELECT * FROM images"))
	require.Contains(t, multidb.ScopeFromContext(ctx).Session().Tables, "products")
}

func TestExecWithoutScopeIsNotSticky(t *testing.T) {
	f := newFixture(t)

	_, err := f.db.ExecContext(context.Background(), "DELETE FROM products")
	require.NoError(t, err)
	require.Equal(t, "replica", readSource(t, context.Background(), f, "SELECT * FROM products"))
}

func TestTransaction(t *testing.T) {
	f := newFixture(t)
	ctx := f.db.WithScope(context.Background())

	tx, err := f.db.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, 1, f.db.Primary().OpenTransactions())

	_, err = tx.ExecContext(context.Background(), "INSERT INTO orders (id) VALUES (1)")
	require.NoError(t, err)

	rows, err := tx.QueryContext(context.Background(), "SELECT * FROM images")
	require.NoError(t, err)
	require.NoError(t, rows.Close())

	require.Equal(t, "primary", readSource(t, ctx, f, "SELECT * FROM images"))

	require.NoError(t, tx.Commit())
	require.Equal(t, 0, f.db.Primary().OpenTransactions())
	require.Equal(t, 1, f.primary.Begins())
	require.Equal(t, 1, f.primary.Commits())

	require.Equal(t, "replica", readSource(t, ctx, f, "SELECT * FROM images"))
	assert.Equal(t, []string{"SELECT * FROM images"}, f.replica.Queries())
}

func TestTransactionRollback(t *testing.T) {
	f := newFixture(t)
	ctx := f.db.WithScope(context.Background())

	tx, err := f.db.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())
	require.Equal(t, 1, f.primary.Rollbacks())
	require.Equal(t, 0, f.db.Primary().OpenTransactions())
	require.Equal(t, 1, multidb.ScopeFromContext(ctx).Stack().Depth())
}

func TestTransactionDeferredRollback(t *testing.T) {
	f := newFixture(t)
	ctx := f.db.WithScope(context.Background())
	stack := multidb.ScopeFromContext(ctx).Stack()
	require.Equal(t, 1, stack.Depth())

	err := func() error {
		tx, err := f.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() {
			require.ErrorIs(t, tx.Rollback(), sql.ErrTxDone)
		}()

		if _, err := tx.ExecContext(ctx, "INSERT INTO orders (id) VALUES (1)"); err != nil {
			return err
		}
		return tx.Commit()
	}()
	require.NoError(t, err)

	require.Equal(t, 1, stack.Depth())
	require.Equal(t, 1, f.primary.Commits())
	require.Zero(t, f.primary.Rollbacks())
	require.Equal(t, "replica", readSource(t, ctx, f, "SELECT * FROM images"))
}

func TestPingAggregatesErrors(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.db.PingContext(context.Background()))

	f.replica.FailWith(errors.New("connection refused"))
	err := f.db.PingContext(context.Background())
	require.ErrorContains(t, err, "replica: connection refused")
}
