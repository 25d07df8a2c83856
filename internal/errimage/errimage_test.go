package errimage

import (
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func writeAsset(t *testing.T, dir, name string, body []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadAndServe(t *testing.T) {
	dir := t.TempDir()
	paths := Paths{
		TooLarge:   writeAsset(t, dir, "toolarge.gif", []byte("GIF89a-too-large")),
		BadFormat:  writeAsset(t, dir, "badformat.gif", []byte("GIF89a-bad")),
		CannotRead: writeAsset(t, dir, "cannotread.gif", []byte("GIF89a-cannot-read")),
	}

	set, err := Load(paths)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	rec := httptest.NewRecorder()
	set.Serve(rec, TooLarge)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Header().Get("Content-Type") != "image/gif" {
		t.Fatalf("Content-Type = %q", rec.Header().Get("Content-Type"))
	}
	if rec.Body.String() != "GIF89a-too-large" {
		t.Fatalf("body = %q", rec.Body.String())
	}
	if rec.Header().Get("Content-Length") != "16" {
		t.Fatalf("Content-Length = %q, want 16", rec.Header().Get("Content-Length"))
	}
}

func TestLoadMissingAssetFails(t *testing.T) {
	dir := t.TempDir()
	paths := Paths{
		TooLarge:   writeAsset(t, dir, "toolarge.gif", []byte("x")),
		BadFormat:  filepath.Join(dir, "missing.gif"),
		CannotRead: writeAsset(t, dir, "cannotread.gif", []byte("x")),
	}

	if _, err := Load(paths); err == nil {
		t.Fatalf("expected error for missing asset")
	}
}
