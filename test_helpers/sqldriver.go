package test_helpers

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"sync"
)

// SQLResult is the scripted answer of a FakeDB to one statement.
type SQLResult struct {
	Columns      []string
	Rows         [][]driver.Value
	RowsAffected int64
	Err          error
}

// FakeDB is an in-memory database/sql driver answering statements with
// scripted results. It records every statement it receives.
type FakeDB struct {
	mu        sync.Mutex
	queries   []string
	respond   func(query string, args []driver.NamedValue) SQLResult
	failure   error
	begins    int
	commits   int
	rollbacks int
	closed    int
}

// NewFakeDB creates a database answering every statement with an empty
// result.
func NewFakeDB() *FakeDB {
	return &FakeDB{
		respond: func(string, []driver.NamedValue) SQLResult {
			return SQLResult{}
		},
	}
}

// Open returns a *sql.DB backed by the fake.
func (f *FakeDB) Open() *sql.DB {
	return sql.OpenDB(fakeConnector{db: f})
}

// Respond replaces the responder.
func (f *FakeDB) Respond(fn func(query string, args []driver.NamedValue) SQLResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.respond = fn
}

// FailWith makes every statement, ping and begin fail with err. A nil err
// heals the database.
func (f *FakeDB) FailWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failure = err
}

// Queries returns the statements received so far.
func (f *FakeDB) Queries() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ret := make([]string, len(f.queries))
	copy(ret, f.queries)
	return ret
}

func (f *FakeDB) Begins() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.begins
}

func (f *FakeDB) Commits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.commits
}

func (f *FakeDB) Rollbacks() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rollbacks
}

func (f *FakeDB) answer(query string, args []driver.NamedValue) SQLResult {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	failure, respond := f.failure, f.respond
	f.mu.Unlock()
	if failure != nil {
		return SQLResult{Err: failure}
	}
	return respond(query, args)
}

func (f *FakeDB) err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failure
}

type fakeConnector struct {
	db *FakeDB
}

func (c fakeConnector) Connect(context.Context) (driver.Conn, error) {
	return &fakeConn{db: c.db}, nil
}

func (c fakeConnector) Driver() driver.Driver {
	return fakeDriver{db: c.db}
}

type fakeDriver struct {
	db *FakeDB
}

func (d fakeDriver) Open(string) (driver.Conn, error) {
	return &fakeConn{db: d.db}, nil
}

type fakeConn struct {
	db *FakeDB
}

var errNoPrepare = errors.New("test_helpers: prepared statements are not supported")

func (c *fakeConn) Prepare(string) (driver.Stmt, error) {
	return nil, errNoPrepare
}

func (c *fakeConn) Close() error {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	c.db.closed++
	return nil
}

func (c *fakeConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *fakeConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	if err := c.db.err(); err != nil {
		return nil, err
	}
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	c.db.begins++
	return fakeTx{db: c.db}, nil
}

func (c *fakeConn) Ping(context.Context) error {
	return c.db.err()
}

func (c *fakeConn) QueryContext(_ context.Context, query string,
	args []driver.NamedValue) (driver.Rows, error) {
	res := c.db.answer(query, args)
	if res.Err != nil {
		return nil, res.Err
	}
	return &fakeRows{columns: res.Columns, rows: res.Rows}, nil
}

func (c *fakeConn) ExecContext(_ context.Context, query string,
	args []driver.NamedValue) (driver.Result, error) {
	res := c.db.answer(query, args)
	if res.Err != nil {
		return nil, res.Err
	}
	return driver.RowsAffected(res.RowsAffected), nil
}

type fakeTx struct {
	db *FakeDB
}

func (t fakeTx) Commit() error {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	t.db.commits++
	return nil
}

func (t fakeTx) Rollback() error {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	t.db.rollbacks++
	return nil
}

type fakeRows struct {
	columns []string
	rows    [][]driver.Value
	next    int
}

func (r *fakeRows) Columns() []string {
	return r.columns
}

func (r *fakeRows) Close() error {
	return nil
}

func (r *fakeRows) Next(dest []driver.Value) error {
	if r.next >= len(r.rows) {
		return io.EOF
	}
	copy(dest, r.rows[r.next])
	r.next++
	return nil
}
