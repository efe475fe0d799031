package archiver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/klauspost/compress/zip"

	"assistant-dispatch-service/pkg/fsutil"
)

var (
	ErrInvalidRunID = errors.New("invalid run id for archive")
	ErrNotFound     = errors.New("archive not found")
)

// Mirror copies a finished bundle somewhere off-host.
type Mirror interface {
	Upload(ctx context.Context, runID, bundlePath string) error
}

// Archiver bundles a run's output files into <root>/<run_id>.zip.
type Archiver struct {
	root   string
	mirror Mirror
}

type Option func(*Archiver)

// WithMirror uploads every bundle after it is written locally.
func WithMirror(m Mirror) Option {
	return func(a *Archiver) { a.mirror = m }
}

func New(root string, opts ...Option) *Archiver {
	a := &Archiver{root: root}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Archiver) Root() string {
	return a.root
}

func (a *Archiver) path(runID string) string {
	return filepath.Join(a.root, runID+".zip")
}

// Archive writes one bundle holding flat copies of every path that exists.
// Missing paths are skipped. An empty path list creates nothing and returns
// an empty location. An existing bundle for runID is replaced.
func (a *Archiver) Archive(ctx context.Context, runID string, paths []string) (string, error) {
	if err := checkRunID(runID); err != nil {
		return "", err
	}
	if len(paths) == 0 {
		return "", nil
	}

	dest := a.path(runID)
	var added int
	err := fsutil.WriteFileAtomic(dest, 0o644, func(w io.Writer) error {
		zw := zip.NewWriter(w)
		used := map[string]int{}
		for _, p := range paths {
			ok, err := addFile(zw, p, entryName(used, p))
			if err != nil {
				_ = zw.Close()
				return err
			}
			if ok {
				added++
			} else {
				hlog.CtxDebugf(ctx, "Archiver: run %s skipping missing output %s", runID, p)
			}
		}
		return zw.Close()
	})
	if err != nil {
		return "", fmt.Errorf("failed to write archive for run %s: %w", runID, err)
	}
	hlog.CtxInfof(ctx, "Archiver: run %s archived %d of %d output(s) to %s", runID, added, len(paths), dest)

	if a.mirror != nil {
		if err := a.mirror.Upload(ctx, runID, dest); err != nil {
			hlog.CtxWarnf(ctx, "Archiver: run %s mirror upload failed: %v", runID, err)
		}
	}
	return dest, nil
}

// Location returns the bundle path for runID if one exists.
func (a *Archiver) Location(runID string) (string, bool) {
	if checkRunID(runID) != nil {
		return "", false
	}
	p := a.path(runID)
	return p, fsutil.Exists(p)
}

// List returns the entry names of runID's bundle.
func (a *Archiver) List(runID string) ([]string, error) {
	if err := checkRunID(runID); err != nil {
		return nil, err
	}
	zr, err := zip.OpenReader(a.path(runID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open archive for run %s: %w", runID, err)
	}
	defer zr.Close()

	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	return names, nil
}

// addFile reports false when src is missing or not a regular file.
func addFile(zw *zip.Writer, src, name string) (bool, error) {
	f, err := os.Open(src)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return false, fmt.Errorf("failed to stat %s: %w", src, err)
	}
	if !info.Mode().IsRegular() {
		return false, nil
	}

	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return false, err
	}
	hdr.Name = name
	hdr.Method = zip.Deflate
	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return false, fmt.Errorf("failed to add %s: %w", name, err)
	}
	if _, err := io.Copy(w, f); err != nil {
		return false, fmt.Errorf("failed to copy %s: %w", src, err)
	}
	return true, nil
}

// entryName flattens p to its base name, prefixing repeats with a counter.
func entryName(used map[string]int, p string) string {
	base := filepath.Base(p)
	n := used[base]
	used[base] = n + 1
	if n == 0 {
		return base
	}
	return fmt.Sprintf("%d_%s", n, base)
}

func checkRunID(runID string) error {
	switch {
	case strings.TrimSpace(runID) == "",
		runID == ".", runID == "..",
		strings.ContainsAny(runID, `/\`):
		return fmt.Errorf("%w: %q", ErrInvalidRunID, runID)
	}
	return nil
}
