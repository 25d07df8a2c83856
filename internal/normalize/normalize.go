// Package normalize turns a request path into an upstream URL plus transform
// options, per the deterministic segment-parsing algorithm the dispatcher
// relies on. Grounded on the teacher's path-driven request handling in
// server/middleware/caching/caching.go (which derives an object.ID straight
// off the request path) but the parsing algorithm itself has no teacher
// analogue — it is built directly from spec.md §4.1.
package normalize

import (
	"regexp"
	"strconv"
	"strings"
)

// Options is the transform-option record carried alongside a fingerprint.
// Zero Width and Height mean "not specified".
type Options struct {
	Still  bool
	Width  int
	Height int
}

// Empty reports whether o describes a pass-through fetch with no transform.
func (o Options) Empty() bool {
	return !o.Still && o.Width == 0 && o.Height == 0
}

// Suffix returns a deterministic, order-stable string encoding o, suitable
// for folding into a fingerprint key.
func (o Options) Suffix() string {
	if o.Empty() {
		return ""
	}
	var b strings.Builder
	if o.Still {
		b.WriteString("s")
	}
	b.WriteString(strconv.Itoa(o.Width))
	b.WriteByte('x')
	b.WriteString(strconv.Itoa(o.Height))
	return b.String()
}

var schemeRe = regexp.MustCompile(`(?i)^[a-z][a-z0-9+.-]*://`)
var brokenSchemeRe = regexp.MustCompile(`(?i)^([a-z][a-z0-9+.-]*):/([^/])`)

// Result is the normalized outcome of a request path.
type Result struct {
	URL     string
	Options Options
	Reject  bool
}

// Parse implements spec.md §4.1's algorithm, step by step.
func Parse(path string) Result {
	p := strings.TrimLeft(path, "/")
	if p == "" {
		return Result{Reject: true}
	}

	segments := make([]string, 0, 8)
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			segments = append(segments, s)
		}
	}
	if len(segments) == 0 {
		return Result{Reject: true}
	}

	var opt Options

	if segments[0] == "still" {
		opt.Still = true
		segments = segments[1:]
	}

	widthConsumed := false
	heightConsumed := false

	if len(segments) > 0 && isAllDigits(segments[0]) {
		opt.Width, _ = strconv.Atoi(segments[0])
		widthConsumed = true
		segments = segments[1:]
	}
	if len(segments) > 0 && isAllDigits(segments[0]) {
		opt.Height, _ = strconv.Atoi(segments[0])
		heightConsumed = true
		segments = segments[1:]
	}
	if widthConsumed && heightConsumed && opt.Width == 0 && opt.Height == 0 {
		opt.Width, opt.Height = 0, 0
	}

	rest := strings.Join(segments, "/")
	rest = strings.ReplaceAll(rest, "&amp;", "&")
	rest = strings.ReplaceAll(rest, " ", "%20")
	rest = brokenSchemeRe.ReplaceAllString(rest, "$1://$2")
	if !schemeRe.MatchString(rest) {
		rest = "http://" + rest
	}

	if rest == "" || rest == "http://" {
		return Result{Reject: true}
	}

	return Result{URL: rest, Options: opt}
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
