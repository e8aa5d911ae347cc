package multidb

// Operation is a single database call routed by a Dispatcher.
type Operation struct {
	// Name selects the routing class and the driver call, see the Op*
	// constants.
	Name string
	// Statement is the SQL text the operation carries, empty if none. Table
	// stickiness is derived from it.
	Statement string
	// Args are forwarded to the driver as is.
	Args []any
	// Tx is the opaque driver transaction the operation belongs to, nil
	// outside of a transaction.
	Tx any
}

// Operation names known to the router.
//
// Safe operations may be served by a replica. Every other name, including
// unknown ones, is unsafe and always goes to the primary.
const (
	OpSelectAll                     = "select_all"
	OpSelectOne                     = "select_one"
	OpSelectValue                   = "select_value"
	OpSelectValues                  = "select_values"
	OpSelectRows                    = "select_rows"
	OpSelect                        = "select"
	OpVerify                        = "verify"
	OpRawConnection                 = "raw_connection"
	OpActive                        = "active"
	OpReconnect                     = "reconnect"
	OpDisconnect                    = "disconnect"
	OpResetRuntime                  = "reset_runtime"
	OpLog                           = "log"
	OpLogInfo                       = "log_info"
	OpTableExists                   = "table_exists"
	OpSanitizeLimit                 = "sanitize_limit"
	OpQuoteTableName                = "quote_table_name"
	OpIDsInListLimit                = "ids_in_list_limit"
	OpQuote                         = "quote"
	OpQuoteColumnName               = "quote_column_name"
	OpPrefetchPrimaryKey            = "prefetch_primary_key"
	OpCaseSensitiveEqualityOperator = "case_sensitive_equality_operator"
	OpTableAliasFor                 = "table_alias_for"
	OpColumns                       = "columns"
	OpIndexes                       = "indexes"

	OpInsert   = "insert"
	OpUpdate   = "update"
	OpDelete   = "delete"
	OpExecute  = "execute"
	OpBegin    = "begin_db_transaction"
	OpCommit   = "commit_db_transaction"
	OpRollback = "rollback_db_transaction"

	OpOpenTransactions     = "open_transactions"
	OpAddTransactionRecord = "add_transaction_record"
)

var defaultSafeOperations = []string{
	OpSelectAll, OpSelectOne, OpSelectValue, OpSelectValues, OpSelectRows,
	OpSelect, OpVerify, OpRawConnection, OpActive, OpReconnect, OpDisconnect,
	OpResetRuntime, OpLog, OpLogInfo, OpTableExists, OpSanitizeLimit,
	OpQuoteTableName, OpIDsInListLimit, OpQuote, OpQuoteColumnName,
	OpPrefetchPrimaryKey, OpCaseSensitiveEqualityOperator, OpTableAliasFor,
	OpColumns, OpIndexes,
}

// Local operations that never reach the server, so they are not counted.
var defaultIgnorableOperations = []string{
	OpLog, OpLogInfo, OpSanitizeLimit, OpQuoteTableName, OpQuote,
	OpQuoteColumnName, OpPrefetchPrimaryKey, OpCaseSensitiveEqualityOperator,
	OpTableAliasFor,
}

// Primary bookkeeping that must not mark tables sticky.
var nonCommunicatingOperations = []string{
	OpOpenTransactions, OpAddTransactionRecord,
}

type opInfo struct {
	safe             bool
	ignorable        bool
	nonCommunicating bool
}

// dispatchTable maps operation names to their routing class. It is built once
// by NewDispatcher and only read afterwards.
type dispatchTable map[string]opInfo

func newDispatchTable(extraSafe, extraIgnorable []string) dispatchTable {
	t := make(dispatchTable)
	mark := func(names []string, f func(*opInfo)) {
		for _, name := range names {
			info := t[name]
			f(&info)
			t[name] = info
		}
	}
	mark(defaultSafeOperations, func(i *opInfo) { i.safe = true })
	mark(extraSafe, func(i *opInfo) { i.safe = true })
	mark(defaultIgnorableOperations, func(i *opInfo) { i.ignorable = true })
	mark(extraIgnorable, func(i *opInfo) { i.ignorable = true })
	mark(nonCommunicatingOperations, func(i *opInfo) { i.nonCommunicating = true })
	return t
}

func (t dispatchTable) lookup(name string) opInfo {
	return t[name]
}

// IsSafe reports whether the operation name may be served by a replica with
// the default dispatch table.
func IsSafe(name string) bool {
	return defaultTable.lookup(name).safe
}

var defaultTable = newDispatchTable(nil, nil)
