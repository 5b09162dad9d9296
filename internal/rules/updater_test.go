package rules

import (
	"archive/tar"
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
)

func rulesTarball(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		if err := tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(content)), Typeflag: tar.TypeReg}); err != nil {
			t.Fatalf("tar header: %v", err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatalf("tar write: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("tar close: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

func TestUpdateExtractsRuleFiles(t *testing.T) {
	tarball := rulesTarball(t, map[string]string{
		"rules/emerging-malware.rules": "alert tcp any any -> any any (msg:\"test\"; sid:1;)\n",
		"rules/emerging-dns.rules":     "alert dns any any -> any any (msg:\"dns\"; sid:2;)\n",
		"rules/LICENSE":                "not a rule file\n",
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(tarball)
	}))
	defer srv.Close()

	dir := t.TempDir()
	u := NewUpdater(srv.URL, dir, slog.New(slog.NewTextHandler(io.Discard, nil)))
	u.Update(context.Background())

	for _, name := range []string{"emerging-malware.rules", "emerging-dns.rules"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("missing extracted rule file %s: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "LICENSE")); err == nil {
		t.Fatal("non-.rules member should not be extracted")
	}
	content, err := os.ReadFile(filepath.Join(dir, "emerging-dns.rules"))
	if err != nil || !bytes.Contains(content, []byte("sid:2")) {
		t.Fatalf("rule content wrong: %q err=%v", content, err)
	}
}

func TestUpdateBadStatusLeavesDirUntouched(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	dir := t.TempDir()
	existing := filepath.Join(dir, "emerging-malware.rules")
	if err := os.WriteFile(existing, []byte("old\n"), 0o644); err != nil {
		t.Fatalf("seed rule file: %v", err)
	}

	u := NewUpdater(srv.URL, dir, slog.New(slog.NewTextHandler(io.Discard, nil)))
	u.http.RetryMax = 0
	u.Update(context.Background())

	content, err := os.ReadFile(existing)
	if err != nil || string(content) != "old\n" {
		t.Fatalf("existing ruleset should be untouched, got %q err=%v", content, err)
	}
}

func TestUpdateGarbagePayloadFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("this is not gzip"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	u := NewUpdater(srv.URL, dir, slog.New(slog.NewTextHandler(io.Discard, nil)))
	u.http.RetryMax = 0
	u.Update(context.Background())

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("garbage payload should install nothing, found %d entries", len(entries))
	}
}
