package fetch

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/omalloc/imgproxy/internal/cachestore"
	"github.com/omalloc/imgproxy/internal/fingerprint"
	"github.com/omalloc/imgproxy/internal/normalize"
)

func pngBytes(size int) []byte {
	b := make([]byte, size)
	copy(b, []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A})
	for i := 8; i < size; i++ {
		b[i] = byte(i)
	}
	return b
}

func TestFetchSuccess(t *testing.T) {
	payload := pngBytes(2048)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain") // must be ignored
		w.WriteHeader(http.StatusOK)
		w.Write(payload)
	}))
	defer srv.Close()

	dir := t.TempDir()
	store := cachestore.New(dir)
	f := New(Config{MaxSize: 1 << 20, Store: store})

	id := fingerprint.New(srv.URL, "")
	res := f.Fetch(context.Background(), id, srv.URL, normalize.Options{})

	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.Headers.Get("Content-Type") != "image/png" {
		t.Fatalf("Content-Type = %q, want image/png (sniffed, not upstream text/plain)", res.Headers.Get("Content-Type"))
	}

	rf, err := store.Open(id)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rf.Close()
	var buf bytes.Buffer
	buf.ReadFrom(rf)
	if !bytes.Equal(buf.Bytes(), payload) {
		t.Fatalf("stored payload does not match upstream bytes")
	}
}

func TestFetchTooLargeFromHeader(t *testing.T) {
	payload := pngBytes(100)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "999999999")
		w.WriteHeader(http.StatusOK)
		w.Write(payload)
	}))
	defer srv.Close()

	dir := t.TempDir()
	store := cachestore.New(dir)
	f := New(Config{MaxSize: 1024, Store: store})

	id := fingerprint.New(srv.URL, "")
	res := f.Fetch(context.Background(), id, srv.URL, normalize.Options{})

	if res.Err == nil || res.Err.Kind != "too_large" {
		t.Fatalf("expected too_large error, got %+v", res)
	}

	md, err := store.Lookup(id)
	if err != nil {
		t.Fatalf("expected sticky toolarge entry, got error: %v", err)
	}
	if md.StickyError != "toolarge" {
		t.Fatalf("expected sticky error toolarge, got %q", md.StickyError)
	}
}

func TestFetchTooLargeMidStreamNotSticky(t *testing.T) {
	payload := pngBytes(4096)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// No Content-Length header advertised; exceed cap mid-stream.
		w.WriteHeader(http.StatusOK)
		flusher, _ := w.(http.Flusher)
		for i := 0; i < len(payload); i += 512 {
			end := min(i+512, len(payload))
			w.Write(payload[i:end])
			if flusher != nil {
				flusher.Flush()
			}
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	store := cachestore.New(dir)
	f := New(Config{MaxSize: 1024, Store: store})

	id := fingerprint.New(srv.URL, "")
	res := f.Fetch(context.Background(), id, srv.URL, normalize.Options{})

	if res.Err == nil || res.Err.Kind != "too_large" {
		t.Fatalf("expected too_large error, got %+v", res)
	}

	if _, err := store.Lookup(id); err != cachestore.ErrAbsent {
		t.Fatalf("mid-stream size cap must not be sticky, got %v", err)
	}
}

func TestFetchBadFormat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("<html><body>not an image</body></html>"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	store := cachestore.New(dir)
	f := New(Config{MaxSize: 1 << 20, Store: store})

	id := fingerprint.New(srv.URL, "")
	res := f.Fetch(context.Background(), id, srv.URL, normalize.Options{})

	if res.Err == nil || res.Err.Kind != "bad_format" {
		t.Fatalf("expected bad_format error, got %+v", res)
	}
	if _, err := store.Lookup(id); err != cachestore.ErrAbsent {
		t.Fatalf("bad_format must not be sticky, got %v", err)
	}
}

func TestFetchUpstreamStatusNotOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	dir := t.TempDir()
	store := cachestore.New(dir)
	f := New(Config{MaxSize: 1 << 20, Store: store})

	id := fingerprint.New(srv.URL, "")
	res := f.Fetch(context.Background(), id, srv.URL, normalize.Options{})

	if res.Err == nil || res.Err.Kind != "upstream_status" {
		t.Fatalf("expected cannotread (upstream_status) error, got %+v", res)
	}
}
