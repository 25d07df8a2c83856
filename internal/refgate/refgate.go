// Package refgate implements the referer allow-list gate: requests whose
// Referer header does not match a configured pattern are redirected back to
// the upstream URL itself rather than served. Grounded on the teacher's
// config-driven middleware pattern (server/middleware/middleware.go) but the
// policy itself is new — the teacher has no referer gate.
package refgate

import "regexp"

// Decision is the outcome of a referer check.
type Decision int

const (
	Allow Decision = iota
	Redirect
)

// Gate holds a compiled allow-list of referer patterns.
type Gate struct {
	patterns []*regexp.Regexp
}

// New compiles patterns into a Gate. Invalid patterns are skipped rather
// than failing startup, the same forgiving posture the teacher's config
// loader takes toward a single bad middleware entry.
func New(patterns []string) *Gate {
	g := &Gate{patterns: make([]*regexp.Regexp, 0, len(patterns))}
	for _, p := range patterns {
		if re, err := regexp.Compile(p); err == nil {
			g.patterns = append(g.patterns, re)
		}
	}
	return g
}

// Check decides whether referer is allowed through. An empty allow-list or
// an empty referer always allows.
func (g *Gate) Check(referer string) Decision {
	if len(g.patterns) == 0 || referer == "" {
		return Allow
	}
	for _, re := range g.patterns {
		if re.MatchString(referer) {
			return Allow
		}
	}
	return Redirect
}
