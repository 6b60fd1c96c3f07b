package templates

import (
	"archive/tar"
	"context"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
)

const builtinScheme = "builtin:"

//go:embed all:builtin
var builtinFS embed.FS

// maxArchiveEntry bounds a single extracted file.
const maxArchiveEntry = 256 << 20

// Fetcher turns a descriptor's source into a local directory.
type Fetcher struct {
	client *retryablehttp.Client
	logger *zap.Logger
}

// NewFetcher creates a Fetcher. Remote sources are downloaded with retries.
func NewFetcher(logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 10 * time.Second
	client.HTTPClient.Timeout = 2 * time.Minute
	client.Logger = nil
	return &Fetcher{client: client, logger: logger}
}

func isLocal(src string) bool {
	return !strings.HasPrefix(src, builtinScheme) &&
		!strings.HasPrefix(src, "http://") && !strings.HasPrefix(src, "https://")
}

type archiveKind int

const (
	notArchive archiveKind = iota
	tarGzip
	tarZstd
)

func kindOf(name string) archiveKind {
	switch {
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		return tarGzip
	case strings.HasSuffix(name, ".tar.zst"), strings.HasSuffix(name, ".tzst"):
		return tarZstd
	}
	return notArchive
}

// Materialize returns a directory holding the template tree. cleanup removes
// anything Materialize created and is never nil.
func (f *Fetcher) Materialize(ctx context.Context, d Descriptor) (dir string, cleanup func(), err error) {
	cleanup = func() {}
	src := d.Source

	switch {
	case strings.HasPrefix(src, builtinScheme):
		return f.builtin(strings.TrimPrefix(src, builtinScheme))

	case !isLocal(src):
		return f.download(ctx, src)

	case kindOf(src) != notArchive:
		file, err := os.Open(src)
		if err != nil {
			return "", cleanup, fmt.Errorf("failed to open template archive: %w", err)
		}
		defer file.Close()
		return f.extractTemp(ctx, file, kindOf(src))
	}

	info, err := os.Stat(src)
	if err != nil {
		return "", cleanup, fmt.Errorf("failed to read template source: %w", err)
	}
	if !info.IsDir() {
		return "", cleanup, fmt.Errorf("template source %s is neither a directory nor a known archive", src)
	}
	return src, cleanup, nil
}

func (f *Fetcher) builtin(name string) (string, func(), error) {
	sub, err := fs.Sub(builtinFS, path.Join("builtin", name))
	if err != nil {
		return "", func() {}, fmt.Errorf("failed to open built-in template %s: %w", name, err)
	}
	if _, err := fs.Stat(sub, "."); err != nil {
		return "", func() {}, fmt.Errorf("no built-in template %s", name)
	}

	dir, err := os.MkdirTemp("", "cx-template-")
	if err != nil {
		return "", func() {}, fmt.Errorf("failed to create temp dir: %w", err)
	}
	cleanup := func() { os.RemoveAll(dir) }
	if err := os.CopyFS(dir, sub); err != nil {
		cleanup()
		return "", func() {}, fmt.Errorf("failed to unpack built-in template %s: %w", name, err)
	}
	return dir, cleanup, nil
}

func (f *Fetcher) download(ctx context.Context, url string) (string, func(), error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", func() {}, fmt.Errorf("failed to build request for %s: %w", url, err)
	}
	f.logger.Info("downloading template", zap.String("url", url))

	resp, err := f.client.Do(req)
	if err != nil {
		return "", func() {}, fmt.Errorf("failed to download template: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", func() {}, fmt.Errorf("failed to download template: %s returned %s", url, resp.Status)
	}

	kind := kindOf(strings.SplitN(url, "?", 2)[0])
	if kind == notArchive {
		switch resp.Header.Get("Content-Type") {
		case "application/zstd":
			kind = tarZstd
		default:
			kind = tarGzip
		}
	}
	return f.extractTemp(ctx, resp.Body, kind)
}

// extractTemp unpacks a tar stream into a new temp dir. When the archive
// holds a single top-level directory, that directory is the template root.
func (f *Fetcher) extractTemp(ctx context.Context, r io.Reader, kind archiveKind) (string, func(), error) {
	dir, err := os.MkdirTemp("", "cx-template-")
	if err != nil {
		return "", func() {}, fmt.Errorf("failed to create temp dir: %w", err)
	}
	cleanup := func() { os.RemoveAll(dir) }

	if err := extract(ctx, r, kind, dir, f.logger); err != nil {
		cleanup()
		return "", func() {}, err
	}

	root := dir
	entries, err := os.ReadDir(dir)
	if err == nil && len(entries) == 1 && entries[0].IsDir() {
		root = filepath.Join(dir, entries[0].Name())
	}
	return root, cleanup, nil
}

func extract(ctx context.Context, r io.Reader, kind archiveKind, dest string, logger *zap.Logger) error {
	var stream io.Reader
	switch kind {
	case tarGzip:
		gz, err := gzip.NewReader(r)
		if err != nil {
			return fmt.Errorf("failed to read gzip stream: %w", err)
		}
		defer gz.Close()
		stream = gz
	case tarZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return fmt.Errorf("failed to read zstd stream: %w", err)
		}
		defer zr.Close()
		stream = zr
	default:
		stream = r
	}

	tr := tar.NewReader(stream)
	root := filepath.Clean(dest) + string(os.PathSeparator)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read template archive: %w", err)
		}

		target := filepath.Join(dest, hdr.Name)
		if !strings.HasPrefix(target+string(os.PathSeparator), root) {
			return fmt.Errorf("archive entry %q escapes the template root", hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("failed to create %s: %w", hdr.Name, err)
			}
		case tar.TypeReg:
			if err := writeEntry(tr, target, hdr); err != nil {
				return err
			}
		default:
			logger.Debug("skipping archive entry", zap.String("name", hdr.Name), zap.Uint8("type", hdr.Typeflag))
		}
	}
}

func writeEntry(tr *tar.Reader, target string, hdr *tar.Header) error {
	if hdr.Size > maxArchiveEntry {
		return fmt.Errorf("archive entry %s is too large (%d bytes)", hdr.Name, hdr.Size)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(hdr.Name), err)
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, hdr.FileInfo().Mode().Perm())
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", hdr.Name, err)
	}
	if _, err := io.Copy(out, io.LimitReader(tr, maxArchiveEntry)); err != nil {
		out.Close()
		return fmt.Errorf("failed to extract %s: %w", hdr.Name, err)
	}
	return out.Close()
}
