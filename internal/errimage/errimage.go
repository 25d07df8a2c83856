// Package errimage implements the Static Error Responses spec.md §4.8
// describes: a small fixed set of pre-measured image/gif assets, loaded once
// at startup and replayed verbatim for every request that ends in one of
// the sticky or transient error outcomes. Grounded on the teacher's
// pattern of loading fixed resources once and holding them in memory for the
// process lifetime (conf-driven startup, fail fast on missing files) rather
// than re-reading disk per request.
package errimage

import (
	"fmt"
	"net/http"
	"os"

	"github.com/omalloc/imgproxy/contrib/log"
	"github.com/omalloc/imgproxy/internal/constants"
)

// Tag names the three static assets the dispatcher can serve.
type Tag string

const (
	TooLarge   Tag = constants.ErrTagTooLarge
	BadFormat  Tag = constants.ErrTagBadFormat
	CannotRead Tag = constants.ErrTagCannotRead
)

// asset is a loaded, ready-to-serve payload with its Content-Length fixed at
// load time.
type asset struct {
	body   []byte
	length string
}

// Set holds the loaded assets for the process lifetime.
type Set struct {
	assets map[Tag]*asset
}

// Paths configures the on-disk location of each asset.
type Paths struct {
	TooLarge   string
	BadFormat  string
	CannotRead string
}

// Load reads all three assets from disk and returns a ready Set. It fails
// fast: a missing or unreadable asset is a startup error, matching the
// teacher's posture of refusing to serve until its fixed resources are in
// place.
func Load(paths Paths) (*Set, error) {
	s := &Set{assets: make(map[Tag]*asset, 3)}

	for tag, path := range map[Tag]string{
		TooLarge:   paths.TooLarge,
		BadFormat:  paths.BadFormat,
		CannotRead: paths.CannotRead,
	} {
		body, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("errimage: load %s from %s: %w", tag, path, err)
		}
		s.assets[tag] = &asset{body: body, length: fmt.Sprintf("%d", len(body))}
		log.Infof("errimage: loaded %s asset from %s (%d bytes)", tag, path, len(body))
	}

	return s, nil
}

// Serve writes the asset for tag to w with status 200, Content-Type
// image/gif, and the asset's pre-measured Content-Length. Per spec.md §4.8
// and §7, every static error asset is always a 200 OK response; only the
// dispatcher's own failure (e.g. referer denial, bad request) produces a
// non-200 status, and those paths never call Serve.
func (s *Set) Serve(w http.ResponseWriter, tag Tag) {
	a, ok := s.assets[tag]
	if !ok {
		log.Errorf("errimage: unknown tag %s", tag)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	h := w.Header()
	h.Set("Content-Type", "image/gif")
	h.Set("Content-Length", a.length)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(a.body)
}
