package cachestore

import (
	"io"
	"os"
	"testing"
	"time"

	"github.com/omalloc/imgproxy/internal/fingerprint"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	return New(dir)
}

func TestLookupAbsentWhenNoEntry(t *testing.T) {
	s := newTestStore(t)
	id := fingerprint.New("http://example.com/a.png", "")

	_, err := s.Lookup(id)
	if err != ErrAbsent {
		t.Fatalf("got %v, want ErrAbsent", err)
	}
}

func TestStoreThenLookupAndOpen(t *testing.T) {
	s := newTestStore(t)
	id := fingerprint.New("http://example.com/a.png", "")

	f, tmp, err := s.TempFile(id)
	if err != nil {
		t.Fatalf("TempFile: %v", err)
	}
	if _, err := f.Write([]byte("payload-bytes")); err != nil {
		t.Fatalf("write: %v", err)
	}
	f.Close()

	md := &Metadata{
		ContentType:   "image/png",
		ContentLength: int64(len("payload-bytes")),
		CacheControl:  "public, max-age=86400",
		ETag:          "abc123",
	}
	if err := s.Store(id, tmp, md); err != nil {
		t.Fatalf("Store: %v", err)
	}

	got, err := s.Lookup(id)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got.ContentType != "image/png" || got.ETag != "abc123" {
		t.Fatalf("unexpected metadata: %+v", got)
	}

	rf, err := s.Open(id)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rf.Close()
	buf, err := io.ReadAll(rf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(buf) != "payload-bytes" {
		t.Fatalf("got %q, want payload-bytes", buf)
	}
}

func TestMarkErrorThenLookupReturnsSticky(t *testing.T) {
	s := newTestStore(t)
	id := fingerprint.New("http://example.com/huge.jpg", "")

	if err := s.MarkError(id, "toolarge"); err != nil {
		t.Fatalf("MarkError: %v", err)
	}

	md, err := s.Lookup(id)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if md.StickyError != "toolarge" {
		t.Fatalf("got sticky error %q, want toolarge", md.StickyError)
	}
}

func TestLookupExpiredIsAbsent(t *testing.T) {
	s := newTestStore(t)
	s.ttl = time.Millisecond
	id := fingerprint.New("http://example.com/a.png", "")

	f, tmp, err := s.TempFile(id)
	if err != nil {
		t.Fatalf("TempFile: %v", err)
	}
	f.Close()

	if err := s.Store(id, tmp, &Metadata{ContentType: "image/png", ContentLength: 0}); err != nil {
		t.Fatalf("Store: %v", err)
	}

	time.Sleep(5 * time.Millisecond)

	if _, err := s.Lookup(id); err != ErrAbsent {
		t.Fatalf("got %v, want ErrAbsent for expired entry", err)
	}
}

func TestLookupMissingPayloadIsAbsent(t *testing.T) {
	s := newTestStore(t)
	id := fingerprint.New("http://example.com/a.png", "")

	f, tmp, err := s.TempFile(id)
	if err != nil {
		t.Fatalf("TempFile: %v", err)
	}
	f.Close()
	if err := s.Store(id, tmp, &Metadata{ContentType: "image/png"}); err != nil {
		t.Fatalf("Store: %v", err)
	}

	if err := os.Remove(id.WPath(s.root)); err != nil {
		t.Fatalf("remove payload: %v", err)
	}

	if _, err := s.Lookup(id); err != ErrAbsent {
		t.Fatalf("got %v, want ErrAbsent when payload missing", err)
	}
}
