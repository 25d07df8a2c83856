package dispatch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/omalloc/imgproxy/internal/cachestore"
	"github.com/omalloc/imgproxy/internal/errimage"
	"github.com/omalloc/imgproxy/internal/fetch"
	"github.com/omalloc/imgproxy/internal/flight"
	"github.com/omalloc/imgproxy/internal/refgate"
)

func writeAsset(t *testing.T, dir, name string, body []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	dir := t.TempDir()
	store := cachestore.New(filepath.Join(dir, "cache"))
	f := fetch.New(fetch.Config{MaxSize: 1 << 20, Store: store})

	assetDir := filepath.Join(dir, "assets")
	_ = os.MkdirAll(assetDir, 0o755)
	errs, err := errimage.Load(errimage.Paths{
		TooLarge:   writeAsset(t, assetDir, "toolarge.gif", []byte("too-large")),
		BadFormat:  writeAsset(t, assetDir, "badformat.gif", []byte("bad-format")),
		CannotRead: writeAsset(t, assetDir, "cannotread.gif", []byte("cannot-read")),
	})
	if err != nil {
		t.Fatalf("errimage.Load: %v", err)
	}

	return &Handler{
		Gate:    refgate.New(nil),
		Store:   store,
		Fetcher: f,
		Flight:  flight.New[fetch.Result](nil),
		Errors:  errs,
	}
}

func TestFaviconShortCircuits404(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/favicon.ico", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestEmptyPathRejects404(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestRefererDeniedRedirects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A})
	}))
	defer srv.Close()

	h := newTestHandler(t)
	h.Gate = refgate.New([]string{`^https://allowed\.example\.com`})

	req := httptest.NewRequest(http.MethodGet, "/"+srv.URL[len("http://"):], nil)
	req.Header.Set("Referer", "https://denied.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusMovedPermanently {
		t.Fatalf("status = %d, want 301", rec.Code)
	}
}

func TestFetchAndCacheHitRoundTrip(t *testing.T) {
	payload := []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 1, 2, 3, 4}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		w.Write(payload)
	}))
	defer srv.Close()

	h := newTestHandler(t)
	path := "/" + srv.URL[len("http://"):]

	req1 := httptest.NewRequest(http.MethodGet, path, nil)
	rec1 := httptest.NewRecorder()
	h.ServeHTTP(rec1, req1)
	if rec1.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", rec1.Code)
	}
	if rec1.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("Content-Type = %q, want sniffed image/png", rec1.Header().Get("Content-Type"))
	}

	req2 := httptest.NewRequest(http.MethodGet, path, nil)
	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusOK {
		t.Fatalf("second request status = %d, want 200 (cache hit)", rec2.Code)
	}
	if rec2.Body.String() != rec1.Body.String() {
		t.Fatalf("cache hit body mismatch")
	}
}

func TestUncacheQueryBypassesCache(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
		w.Write([]byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 1, 2})
	}))
	defer srv.Close()

	h := newTestHandler(t)
	path := "/" + srv.URL[len("http://"):] + "?uncache=1"

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i, rec.Code)
		}
	}
	if calls != 2 {
		t.Fatalf("upstream called %d times, want 2 (bypass disables cache)", calls)
	}
}

func TestUpstreamFailureServesCannotReadAsset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	h := newTestHandler(t)
	path := "/" + srv.URL[len("http://"):]

	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (static error asset)", rec.Code)
	}
	if rec.Body.String() != "cannot-read" {
		t.Fatalf("body = %q, want cannotread asset", rec.Body.String())
	}
}

// TestLeaderDisconnectDoesNotAbortSharedFetch pins spec.md §4.4/§5/§8's
// invariant that a coalesced fetch runs to completion even if the waiter
// that happened to start it (the leader) goes away first.
func TestLeaderDisconnectDoesNotAbortSharedFetch(t *testing.T) {
	release := make(chan struct{})
	payload := []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 1, 2, 3, 4}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
		w.Write(payload)
	}))
	defer srv.Close()

	h := newTestHandler(t)
	path := "/" + srv.URL[len("http://"):]

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderReq := httptest.NewRequest(http.MethodGet, path, nil).WithContext(leaderCtx)
	leaderRec := httptest.NewRecorder()

	leaderDone := make(chan struct{})
	go func() {
		h.ServeHTTP(leaderRec, leaderReq)
		close(leaderDone)
	}()

	// Give the leader time to join the flight registry and launch the
	// fetch before it disconnects.
	time.Sleep(50 * time.Millisecond)
	cancelLeader()
	<-leaderDone

	followerReq := httptest.NewRequest(http.MethodGet, path, nil)
	followerRec := httptest.NewRecorder()
	followerDone := make(chan struct{})
	go func() {
		h.ServeHTTP(followerRec, followerReq)
		close(followerDone)
	}()

	// Only now let the upstream respond, confirming the fetch the leader
	// started is still running for the follower to join.
	close(release)

	select {
	case <-followerDone:
	case <-time.After(5 * time.Second):
		t.Fatal("follower never completed; shared fetch was aborted by leader disconnect")
	}

	if followerRec.Code != http.StatusOK {
		t.Fatalf("follower status = %d, want 200", followerRec.Code)
	}
	if followerRec.Body.Len() == 0 {
		t.Fatalf("follower got an empty body; shared fetch was aborted by leader disconnect")
	}
}
