// Package download fetches and unpacks dataset and weights archives.
package download

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// WeightsArchive is the archive name used for pretrained teacher weights.
const WeightsArchive = "efficientad_pretrained_weights.zip"

// Fetcher downloads an archive from the first reachable mirror and extracts
// it into the target directory. Archives ending in .zip, .tgz or .tar.gz are
// supported. A target directory created by a failed Fetch is removed again.
type Fetcher struct {
	urls     []string
	archive  string
	checksum string
	client   *http.Client
	log      *logrus.Entry
}

func NewFetcher(urls []string, log *logrus.Entry) *Fetcher {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Fetcher{
		urls:    urls,
		archive: WeightsArchive,
		client:  &http.Client{Timeout: 5 * time.Minute},
		log:     log.WithField("component", "download"),
	}
}

// WithArchive sets the file name the download is stored under. Its suffix
// selects the extractor.
func (f *Fetcher) WithArchive(name string) *Fetcher {
	f.archive = name
	return f
}

// WithChecksum makes Fetch reject downloads whose MD5 digest differs from
// the given hex string. An empty string disables the check.
func (f *Fetcher) WithChecksum(md5Hex string) *Fetcher {
	f.checksum = strings.ToLower(md5Hex)
	return f
}

// WithTimeout replaces the per-request timeout.
func (f *Fetcher) WithTimeout(d time.Duration) *Fetcher {
	f.client.Timeout = d
	return f
}

func (f *Fetcher) Fetch(dir string) error {
	if len(f.urls) == 0 {
		return pkgerrors.New("no download sources configured")
	}
	extract, err := extractorFor(f.archive)
	if err != nil {
		return err
	}
	_, statErr := os.Stat(dir)
	created := os.IsNotExist(statErr)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return pkgerrors.Wrapf(err, "failed to create %s", dir)
	}
	if err := f.fetchInto(dir, extract); err != nil {
		if created {
			os.RemoveAll(dir)
		}
		return err
	}
	return nil
}

func (f *Fetcher) fetchInto(dir string, extract func(archive, dir string) error) error {
	archive := filepath.Join(dir, f.archive)
	var lastErr error
	for _, url := range f.urls {
		f.log.WithField("url", url).Info("downloading")
		if err := f.downloadFile(url, archive); err != nil {
			f.log.WithError(err).WithField("url", url).Warn("download failed")
			lastErr = err
			continue
		}
		lastErr = nil
		break
	}
	if lastErr != nil {
		return pkgerrors.Wrapf(lastErr, "failed to download %s", f.archive)
	}
	defer os.Remove(archive)
	f.log.WithField("archive", f.archive).Info("extracting")
	return extract(archive, dir)
}

func (f *Fetcher) downloadFile(url, path string) error {
	resp, err := f.client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	if f.checksum == "" {
		return writeAtomically(path, resp.Body)
	}
	digest := md5.New()
	if err := writeAtomically(path, io.TeeReader(resp.Body, digest)); err != nil {
		return err
	}
	if got := hex.EncodeToString(digest.Sum(nil)); got != f.checksum {
		os.Remove(path)
		return fmt.Errorf("checksum mismatch: got %s, want %s", got, f.checksum)
	}
	return nil
}

// writeAtomically copies r into a temporary file and renames it over path.
func writeAtomically(path string, r io.Reader) error {
	tmpPath := path + ".tmp"
	tmpFile, err := os.Create(tmpPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmpFile, r); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

func extractorFor(name string) (func(archive, dir string) error, error) {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".zip"):
		return extractZip, nil
	case strings.HasSuffix(lower, ".tgz"), strings.HasSuffix(lower, ".tar.gz"):
		return extractTarGz, nil
	}
	return nil, pkgerrors.Errorf("unsupported archive type %q", name)
}

// entryPath resolves an archive entry under dir and rejects entries that
// would land outside it.
func entryPath(dir, name string) (string, error) {
	root := filepath.Clean(dir)
	target := filepath.Join(dir, name)
	if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
		return "", pkgerrors.Errorf("archive entry %q escapes the target directory", name)
	}
	return target, nil
}

func extractZip(archive, dir string) error {
	r, err := zip.OpenReader(archive)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to open archive %s", archive)
	}
	defer r.Close()
	for _, file := range r.File {
		target, err := entryPath(dir, file.Name)
		if err != nil {
			return err
		}
		if file.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := extractZipFile(file, target); err != nil {
			return pkgerrors.Wrapf(err, "failed to extract %s", file.Name)
		}
	}
	return nil
}

func extractZipFile(file *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	rc, err := file.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	return writeAtomically(target, rc)
}

// extractTarGz unpacks regular files and directories. Links and other entry
// types are skipped.
func extractTarGz(archive, dir string) error {
	file, err := os.Open(archive)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to open archive %s", archive)
	}
	defer file.Close()
	gz, err := gzip.NewReader(file)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to read gzip stream of %s", archive)
	}
	defer gz.Close()
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return pkgerrors.Wrapf(err, "failed to read %s", archive)
		}
		target, err := entryPath(dir, hdr.Name)
		if err != nil {
			return err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := writeAtomically(target, tr); err != nil {
				return pkgerrors.Wrapf(err, "failed to extract %s", hdr.Name)
			}
		}
	}
}
