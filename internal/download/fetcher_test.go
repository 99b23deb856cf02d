package download

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"crypto/md5"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func zipBytes(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := w.Create(name)
		if err != nil {
			t.Fatalf("create entry: %v", err)
		}
		if _, err := f.Write([]byte(content)); err != nil {
			t.Fatalf("write entry: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

func TestFetchFallsBackToNextMirror(t *testing.T) {
	archive := zipBytes(t, map[string]string{
		"efficientad_pretrained_weights/pretrained_teacher_small.json": `{"a": 1}`,
	})
	mux := http.NewServeMux()
	mux.HandleFunc("/broken.zip", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	})
	mux.HandleFunc("/weights.zip", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(archive)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	dir := t.TempDir()
	f := NewFetcher([]string{srv.URL + "/broken.zip", srv.URL + "/weights.zip"}, nil)
	if err := f.Fetch(dir); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	b, err := os.ReadFile(filepath.Join(dir, "efficientad_pretrained_weights", "pretrained_teacher_small.json"))
	if err != nil {
		t.Fatalf("read extracted file: %v", err)
	}
	if string(b) != `{"a": 1}` {
		t.Fatalf("unexpected content %q", b)
	}
	if _, err := os.Stat(filepath.Join(dir, WeightsArchive)); !os.IsNotExist(err) {
		t.Fatalf("archive was not removed")
	}
}

func TestFetchAllMirrorsFail(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	dir := filepath.Join(t.TempDir(), "weights")
	if err := NewFetcher([]string{srv.URL + "/a.zip"}, nil).Fetch(dir); err == nil {
		t.Fatalf("expected download error")
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("failed fetch left %s behind", dir)
	}
	if err := NewFetcher(nil, nil).Fetch(t.TempDir()); err == nil {
		t.Fatalf("expected error without sources")
	}
}

func TestExtractZipRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "evil.zip")
	if err := os.WriteFile(path, zipBytes(t, map[string]string{"../escape.txt": "x"}), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := extractZip(path, filepath.Join(dir, "out")); err == nil {
		t.Fatalf("expected traversal error")
	}
}

func tarGzBytes(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	if err := tw.WriteHeader(&tar.Header{Name: "./", Typeflag: tar.TypeDir, Mode: 0o755}); err != nil {
		t.Fatalf("write dir header: %v", err)
	}
	for name, content := range files {
		hdr := &tar.Header{Name: name, Typeflag: tar.TypeReg, Mode: 0o644, Size: int64(len(content))}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("write header: %v", err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatalf("write entry: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("close gzip: %v", err)
	}
	return buf.Bytes()
}

func serve(t *testing.T, body []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchExtractsTarGz(t *testing.T) {
	archive := tarGzBytes(t, map[string]string{
		"imagenette2/train/n01440764/a.JPEG": "jpeg",
		"imagenette2/val/n01440764/b.JPEG":   "jpeg2",
	})
	sum := md5.Sum(archive)
	srv := serve(t, archive)

	dir := filepath.Join(t.TempDir(), "imagenette")
	f := NewFetcher([]string{srv.URL}, nil).WithArchive("imagenette2.tgz").WithChecksum(hex.EncodeToString(sum[:]))
	if err := f.Fetch(dir); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	b, err := os.ReadFile(filepath.Join(dir, "imagenette2", "val", "n01440764", "b.JPEG"))
	if err != nil {
		t.Fatalf("read extracted file: %v", err)
	}
	if string(b) != "jpeg2" {
		t.Fatalf("unexpected content %q", b)
	}
	if _, err := os.Stat(filepath.Join(dir, "imagenette2.tgz")); !os.IsNotExist(err) {
		t.Fatalf("archive was not removed")
	}
}

func TestFetchRejectsChecksumMismatch(t *testing.T) {
	srv := serve(t, zipBytes(t, map[string]string{"a.json": "{}"}))
	dir := t.TempDir()
	err := NewFetcher([]string{srv.URL}, nil).WithChecksum("00000000000000000000000000000000").Fetch(dir)
	if err == nil {
		t.Fatalf("expected checksum error")
	}
	if _, err := os.Stat(filepath.Join(dir, "a.json")); !os.IsNotExist(err) {
		t.Fatalf("archive with a bad checksum was extracted")
	}
}

func TestFetchRejectsUnknownArchiveType(t *testing.T) {
	if err := NewFetcher([]string{"http://127.0.0.1:0/x"}, nil).WithArchive("weights.rar").Fetch(t.TempDir()); err == nil {
		t.Fatalf("expected unsupported archive error")
	}
}

func TestExtractTarGzRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "evil.tgz")
	if err := os.WriteFile(path, tarGzBytes(t, map[string]string{"../escape.txt": "x"}), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := extractTarGz(path, filepath.Join(dir, "out")); err == nil {
		t.Fatalf("expected traversal error")
	}
	if _, err := os.Stat(filepath.Join(dir, "escape.txt")); !os.IsNotExist(err) {
		t.Fatalf("entry escaped the target directory")
	}
}
