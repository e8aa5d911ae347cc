package balancer

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

type clusterMemberType string

const (
	Writable    = clusterMemberType("writable")
	NonWritable = clusterMemberType("non-writable")
)

var (
	writableTemplate    = fmt.Sprintf("{{%s}}", Writable)
	nonWritableTemplate = fmt.Sprintf("{{%s}}", NonWritable)
)

var writeVerbs = map[string]bool{
	"insert":    true,
	"update":    true,
	"delete":    true,
	"replace":   true,
	"merge":     true,
	"upsert":    true,
	"create":    true,
	"alter":     true,
	"drop":      true,
	"truncate":  true,
	"rename":    true,
	"grant":     true,
	"revoke":    true,
	"lock":      true,
	"call":      true,
	"begin":     true,
	"start":     true,
	"commit":    true,
	"rollback":  true,
	"savepoint": true,
}

var readVerbs = map[string]bool{
	"select":   true,
	"with":     true,
	"values":   true,
	"show":     true,
	"explain":  true,
	"describe": true,
	"desc":     true,
	"table":    true,
}

// Reads that take row locks have to run where the rows can be written.
var lockingRead = regexp.MustCompile(
	`(?i)\bfor\s+(?:update|share|no\s+key\s+update|key\s+share)\b|\block\s+in\s+share\s+mode\b`)

func trimLeft(expr string) string {
	return strings.TrimLeftFunc(expr, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsControl(r)
	})
}

// Verb returns the lower-cased leading keyword of a statement, ignoring a
// routing hint.
func Verb(expr string) string {
	trimmed := trimLeft(expr)
	lower := strings.ToLower(trimmed)
	for _, hint := range []string{writableTemplate, nonWritableTemplate} {
		if strings.HasPrefix(lower, hint) {
			trimmed = trimLeft(trimmed[len(hint):])
			break
		}
	}
	end := strings.IndexFunc(trimmed, func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	if end < 0 {
		end = len(trimmed)
	}
	return strings.ToLower(trimmed[:end])
}

// CheckIfRequiresWrite reports whether a statement has to run on a writable
// member. A leading {{writable}} or {{non-writable}} hint decides on its own
// and is stripped from the returned statement. Statements that are neither
// known reads nor known writes get _default.
func CheckIfRequiresWrite(expr string, _default bool) (string, bool) {
	trimmedS := strings.ToLower(trimLeft(expr))
	if isNonWritable := strings.HasPrefix(trimmedS, nonWritableTemplate); isNonWritable {
		return removeHint(expr, nonWritableTemplate), false
	}
	if isWritable := strings.HasPrefix(trimmedS, writableTemplate); isWritable {
		return removeHint(expr, writableTemplate), true
	}

	verb := Verb(expr)
	if writeVerbs[verb] {
		return expr, true
	}
	if readVerbs[verb] {
		if lockingRead.MatchString(expr) {
			return expr, true
		}
		return expr, false
	}
	return expr, _default
}

func removeHint(expr, hint string) string {
	i := strings.Index(strings.ToLower(expr), hint)
	if i < 0 {
		return expr
	}
	return expr[:i] + expr[i+len(hint):]
}
