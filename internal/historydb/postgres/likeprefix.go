package postgres

import "strings"

// likeEscape doubles backslashes and escapes LIKE wildcards so an encrypted
// path can be used as a literal prefix in a LIKE pattern.
func likeEscape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// descendantPattern builds the LIKE pattern matching every path strictly
// under p (not p itself). Root is special-cased: every non-root path is
// "under" root.
func descendantPattern(p string) string {
	if p == "/" {
		return "/%"
	}
	return likeEscape(p) + "/%"
}

// Callers needing "p itself or anything under it" combine descendantPattern
// with an explicit path = p check, e.g.:
//
//	WHERE path = $1 OR path LIKE $2 ESCAPE '\'
