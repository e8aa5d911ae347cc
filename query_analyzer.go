package multidb

import (
	"regexp"
	"strings"
	"time"

	"github.com/juju/clock"
)

// A keyword followed by a table name and, optionally, more comma separated
// table names, e.g. "FROM `a`, b ,c".
var tableMatch = regexp.MustCompile(
	"(?i)\\b(?:JOIN|FROM|INTO|UPDATE)\\s+`?(\\w+)`?((?:\\s*,\\s*`?(?:\\w+)`?)*)")

var tableSeparator = regexp.MustCompile(`\s*,\s*`)

// Tables returns the distinct tables a statement refers to after JOIN, FROM,
// INTO or UPDATE, in order of first appearance.
func Tables(sql string) []string {
	var tables []string
	seen := make(map[string]struct{})
	add := func(table string) {
		if table == "" {
			return
		}
		if _, ok := seen[table]; ok {
			return
		}
		seen[table] = struct{}{}
		tables = append(tables, table)
	}

	for _, m := range tableMatch.FindAllStringSubmatch(sql, -1) {
		add(m[1])
		if m[2] == "" {
			continue
		}
		// The list starts with a separator, so the first part is empty.
		for _, table := range tableSeparator.Split(m[2], -1)[1:] {
			add(strings.Trim(table, "`"))
		}
	}
	return tables
}

// QueryAnalyzer decides which statements must be forced to the primary
// because they read tables written shortly before in the same session.
type QueryAnalyzer struct {
	clock clock.Clock
}

// NewQueryAnalyzer creates an analyzer. A nil clock means the wall clock.
func NewQueryAnalyzer(clk clock.Clock) *QueryAnalyzer {
	if clk == nil {
		clk = clock.WallClock
	}
	return &QueryAnalyzer{clock: clk}
}

// MarkSticky makes every table of the statement sticky for the duration and
// extends the session-wide expiry accordingly. Expired table entries are
// dropped. A nil session is allocated.
func (a *QueryAnalyzer) MarkSticky(sess *StickySession, sql string, d time.Duration) *StickySession {
	if sess == nil {
		sess = NewStickySession()
	}
	if sess.Tables == nil {
		sess.Tables = make(map[string]int64)
	}

	now := a.clock.Now().Unix()
	expiry := now + int64(d/time.Second)
	if sess.Until < expiry {
		sess.Until = expiry
	}

	for _, table := range Tables(sql) {
		sess.Tables[table] = expiry
	}

	for table, exp := range sess.Tables {
		if exp < now {
			delete(sess.Tables, table)
		}
	}
	return sess
}

// RequiresSticky reports whether the statement reads a table that is still
// sticky. A session whose own expiry has passed is never sticky, whatever its
// table entries say.
func (a *QueryAnalyzer) RequiresSticky(sess *StickySession, sql string) bool {
	if sess == nil {
		return false
	}
	now := a.clock.Now().Unix()
	if sess.Until == 0 || sess.Until <= now {
		return false
	}

	for _, table := range Tables(sql) {
		if exp, ok := sess.Tables[table]; ok && exp >= now {
			return true
		}
	}
	return false
}
