// Package cachestore is the on-disk content-addressed Cache Store: payload
// files plus CBOR-encoded metadata sidecars, written through a process-
// private temp directory and promoted atomically by rename. Grounded on
// storage/bucket/disk/disk.go's lazy directory creation, write-then-rename
// discipline, and ropen-style read-only file handles, trimmed from the
// teacher's chunked/bitmap/LRU machinery down to the whole-file,
// TTL-expiring store spec.md §4.3 describes.
package cachestore

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/paulbellamy/ratecounter"

	"github.com/omalloc/imgproxy/contrib/log"
	"github.com/omalloc/imgproxy/internal/constants"
	"github.com/omalloc/imgproxy/internal/fingerprint"
	"github.com/omalloc/imgproxy/metrics"
)

// ErrAbsent is returned by Lookup when no usable entry exists: no metadata,
// no payload, or the entry has expired past its TTL.
var ErrAbsent = errors.New("cachestore: absent")

// Metadata is the sidecar record stored alongside a cache payload.
type Metadata struct {
	ContentType   string
	ContentLength int64
	CacheControl  string
	LastModified  string
	ETag          string

	// OriginalLength is set only when a transform changed ContentLength;
	// it records the pre-transform payload size.
	OriginalLength int64

	CreatedAt int64 // unix seconds

	// StickyError, when non-empty, short-circuits future lookups without
	// touching the payload file. Per spec.md §4.5/§7, only "toolarge" is
	// ever written here.
	StickyError string
}

// Headers rebuilds the response headers this entry should replay.
func (m *Metadata) Headers() http.Header {
	h := make(http.Header, 6)
	h.Set("Content-Type", m.ContentType)
	h.Set("Content-Length", fmt.Sprintf("%d", m.ContentLength))
	if m.CacheControl != "" {
		h.Set("Cache-Control", m.CacheControl)
	}
	if m.LastModified != "" {
		h.Set("Last-Modified", m.LastModified)
	}
	if m.ETag != "" {
		h.Set("ETag", m.ETag)
	}
	if m.OriginalLength > 0 {
		h.Set(constants.InternalOriginalLengthKey, fmt.Sprintf("%d", m.OriginalLength))
	}
	return h
}

// Store is the on-disk cache store rooted at a single directory.
type Store struct {
	root string
	temp string
	ttl  time.Duration

	// byteRate tracks a rolling one-second rate of bytes promoted into the
	// store, mirroring storage/bucket/disk/disk.go's loadLRU rate counters.
	byteRate *ratecounter.RateCounter
}

// Option configures a Store.
type Option func(*Store)

// WithTTL overrides the default ~1 month TTL spec.md §3 specifies.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// DefaultTTL is spec.md §3's "approximately one month".
const DefaultTTL = 30 * 24 * time.Hour

// Root returns the store's root directory, for callers that need to derive
// a fingerprint path themselves (e.g. the fetcher reporting a promoted
// payload's location).
func (s *Store) Root() string {
	return s.root
}

// New creates a Store rooted at root, with a process-private temp
// subdirectory for spill files. Both directories are created here, in New;
// a failure to create either is logged and New carries on, mirroring
// diskBucket.initWorkdir's forgiving posture rather than failing startup.
func New(root string, opts ...Option) *Store {
	s := &Store{
		root:     root,
		temp:     filepath.Join(root, ".tmp"),
		ttl:      DefaultTTL,
		byteRate: ratecounter.NewRateCounter(time.Second),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := os.MkdirAll(s.root, 0o755); err != nil && !errors.Is(err, os.ErrExist) {
		log.Errorf("cachestore: failed to create root %s: %v", s.root, err)
	}
	if err := os.MkdirAll(s.temp, 0o755); err != nil && !errors.Is(err, os.ErrExist) {
		log.Errorf("cachestore: failed to create temp dir %s: %v", s.temp, err)
	}
	return s
}

// TempFile opens a new, exclusively-named spill file inside the store's
// process-private temp directory. The caller owns writing to and
// eventually promoting or discarding it.
func (s *Store) TempFile(id fingerprint.ID) (*os.File, string, error) {
	name := filepath.Join(s.temp, id.TempName(uuid.NewString()))
	f, err := os.OpenFile(name, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
	if err != nil {
		return nil, "", err
	}
	return f, name, nil
}

// Lookup returns the metadata record for id. ErrAbsent is returned when
// there is no metadata, the entry has aged past its TTL, or the metadata
// has no sticky error yet its payload file is missing (a broken promote).
func (s *Store) Lookup(id fingerprint.ID) (*Metadata, error) {
	metaPath := id.MetaPath(s.root)

	buf, err := os.ReadFile(metaPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrAbsent
		}
		return nil, err
	}

	var md Metadata
	if err := cbor.Unmarshal(buf, &md); err != nil {
		return nil, fmt.Errorf("cachestore: decode metadata: %w", err)
	}

	if s.expired(&md) {
		return nil, ErrAbsent
	}

	if md.StickyError != "" {
		return &md, nil
	}

	if _, err := os.Stat(id.WPath(s.root)); err != nil {
		return nil, ErrAbsent
	}

	return &md, nil
}

func (s *Store) expired(md *Metadata) bool {
	if md.CreatedAt == 0 {
		return false
	}
	return time.Since(time.Unix(md.CreatedAt, 0)) > s.ttl
}

// Open returns a fresh, read-only file descriptor positioned at zero for
// id's payload, matching the teacher's ropen discipline: every reader gets
// its own handle, never a shared one.
func (s *Store) Open(id fingerprint.ID) (*os.File, error) {
	return openReadOnly(id.WPath(s.root))
}

// Store promotes tempPath into id's payload path and writes the metadata
// sidecar, both via rename-into-place so a reader either sees the complete
// old entry or the complete new one, never a partial file.
func (s *Store) Store(id fingerprint.ID, tempPath string, md *Metadata) error {
	if md.CreatedAt == 0 {
		md.CreatedAt = time.Now().Unix()
	}

	dest := id.WPath(s.root)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("cachestore: mkdir: %w", err)
	}
	if err := os.Rename(tempPath, dest); err != nil {
		return fmt.Errorf("cachestore: promote payload: %w", err)
	}

	if err := s.writeMetadata(id, md); err != nil {
		// Best effort: leave the payload in place; a metadata-less payload
		// is treated as absent by Lookup on the next request, so this
		// self-heals on re-fetch rather than serving stale bytes.
		return err
	}
	metrics.CacheEntriesTotal.WithLabelValues("stored").Inc()

	s.byteRate.Incr(md.ContentLength)
	metrics.CacheStoreByteRate.Set(float64(s.byteRate.Rate()))
	return nil
}

// MarkError writes a metadata-only record with a sticky error tag, per
// spec.md §4.3's mark_error contract. Any existing payload is removed so a
// half-written file never lingers behind a sticky error.
func (s *Store) MarkError(id fingerprint.ID, tag string) error {
	_ = os.Remove(id.WPath(s.root))

	md := &Metadata{
		StickyError: tag,
		CreatedAt:   time.Now().Unix(),
	}
	if err := s.writeMetadata(id, md); err != nil {
		return err
	}
	metrics.CacheEntriesTotal.WithLabelValues("sticky_error").Inc()
	return nil
}

func (s *Store) writeMetadata(id fingerprint.ID, md *Metadata) error {
	buf, err := cbor.Marshal(md)
	if err != nil {
		return fmt.Errorf("cachestore: encode metadata: %w", err)
	}

	metaPath := id.MetaPath(s.root)
	if err := os.MkdirAll(filepath.Dir(metaPath), 0o755); err != nil {
		return fmt.Errorf("cachestore: mkdir: %w", err)
	}

	tmp := metaPath + "." + uuid.NewString() + ".tmp"
	if err := os.WriteFile(tmp, buf, 0o644); err != nil {
		return fmt.Errorf("cachestore: write metadata: %w", err)
	}
	if err := os.Rename(tmp, metaPath); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("cachestore: promote metadata: %w", err)
	}
	return nil
}

// CopyPayload streams id's payload into w, for callers that need the bytes
// without a raw *os.File (e.g. a response writer wrapper under test).
func (s *Store) CopyPayload(id fingerprint.ID, w io.Writer) (int64, error) {
	f, err := s.Open(id)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return io.Copy(w, f)
}
