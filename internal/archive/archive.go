package archive

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"autocopy/internal/logging"
	"autocopy/internal/rundir"
)

// Extension is appended to the run name to form the tarball name.
const Extension = ".tar.gz"

var (
	// ErrNotRunDir reports a path without the run directory layout.
	ErrNotRunDir = errors.New("not a run directory")
	// ErrVerify reports a tarball that does not match its source tree.
	ErrVerify = errors.New("tarball verification failed")
)

// Options controls how tarballs are built.
type Options struct {
	// DestDir receives the tarball; empty means the run directory's parent.
	DestDir string
	// DeleteAfter removes the run directory once the tarball is written
	// (and verified, unless SkipFileCheck is set).
	DeleteAfter   bool
	SkipFileCheck bool
	// IncludeCIF keeps intensity .cif files in the tarball.
	IncludeCIF bool
}

// Result describes one archived run directory.
type Result struct {
	RunDir  string
	Tarball string
	Files   int
	Deleted bool
	Err     error
}

// Archiver creates run directory tarballs.
type Archiver struct {
	opts   Options
	logger *slog.Logger
	reader *rundir.Reader
}

// New returns an Archiver.
func New(opts Options, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Archiver{
		opts:   opts,
		logger: logging.NewComponentLogger(logger, "archive"),
		reader: rundir.NewReader(),
	}
}

// ArchiveAll archives every directory in dirs and returns the per-directory
// results together with the number that failed.
func (a *Archiver) ArchiveAll(ctx context.Context, dirs []string) ([]Result, int) {
	results := make([]Result, 0, len(dirs))
	failed := 0
	for _, dir := range dirs {
		res := a.Archive(ctx, dir)
		if res.Err != nil {
			failed++
			logging.ErrorWithContext(a.logger, "run directory archive failed", "archive_failed",
				logging.String(logging.FieldRun, filepath.Base(res.RunDir)),
				logging.Error(res.Err),
			)
		}
		results = append(results, res)
	}
	return results, failed
}

// Archive builds the tarball for one run directory.
func (a *Archiver) Archive(ctx context.Context, dir string) Result {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return Result{RunDir: dir, Err: err}
	}
	abs = filepath.Clean(abs)
	res := Result{RunDir: abs}
	if !a.reader.IsRunDir(abs) {
		res.Err = fmt.Errorf("%s: %w", abs, ErrNotRunDir)
		return res
	}

	name := filepath.Base(abs)
	destDir := a.opts.DestDir
	if destDir == "" {
		destDir = filepath.Dir(abs)
	}
	res.Tarball = filepath.Join(destDir, name+Extension)
	logger := a.logger.With(logging.String(logging.FieldRun, name))

	logger.Info("creating tarball", logging.String("tarball", res.Tarball))
	files, err := a.write(ctx, abs, res.Tarball)
	if err != nil {
		res.Err = err
		return res
	}
	res.Files = files

	if !a.opts.SkipFileCheck {
		if err := a.verify(abs, res.Tarball); err != nil {
			res.Err = err
			return res
		}
		logger.Info("tarball verified", logging.Int("files", files))
	}

	if a.opts.DeleteAfter {
		if err := os.RemoveAll(abs); err != nil {
			res.Err = fmt.Errorf("remove run directory: %w", err)
			return res
		}
		res.Deleted = true
		logger.Info("run directory removed")
	}
	return res
}

func (a *Archiver) write(ctx context.Context, dir, tarball string) (files int, err error) {
	if err := os.MkdirAll(filepath.Dir(tarball), 0o755); err != nil {
		return 0, fmt.Errorf("create destination: %w", err)
	}
	partial := tarball + ".partial"
	f, err := os.Create(partial)
	if err != nil {
		return 0, fmt.Errorf("create tarball: %w", err)
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(partial)
		}
	}()

	gz, err := gzip.NewWriterLevel(f, gzip.DefaultCompression)
	if err != nil {
		return 0, fmt.Errorf("create gzip writer: %w", err)
	}
	tw := tar.NewWriter(gz)
	parent := filepath.Dir(dir)

	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !a.include(d) {
			return nil
		}
		n, err := addEntry(tw, parent, path, d)
		files += n
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("write tarball %s: %w", tarball, err)
	}
	if err := tw.Close(); err != nil {
		return 0, fmt.Errorf("finalize tar stream: %w", err)
	}
	if err := gz.Close(); err != nil {
		return 0, fmt.Errorf("finalize gzip stream: %w", err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("close tarball: %w", err)
	}
	if err := os.Rename(partial, tarball); err != nil {
		return 0, fmt.Errorf("rename tarball: %w", err)
	}
	return files, nil
}

func (a *Archiver) include(d fs.DirEntry) bool {
	if a.opts.IncludeCIF || d.IsDir() {
		return true
	}
	return !strings.EqualFold(filepath.Ext(d.Name()), ".cif")
}

// addEntry writes one header (and body for regular files) and returns 1 when
// a regular file was stored.
func addEntry(tw *tar.Writer, parent, path string, d fs.DirEntry) (int, error) {
	info, err := d.Info()
	if err != nil {
		return 0, err
	}
	var link string
	if info.Mode()&fs.ModeSymlink != 0 {
		if link, err = os.Readlink(path); err != nil {
			return 0, err
		}
	}
	hdr, err := tar.FileInfoHeader(info, link)
	if err != nil {
		return 0, err
	}
	rel, err := filepath.Rel(parent, path)
	if err != nil {
		return 0, err
	}
	hdr.Name = filepath.ToSlash(rel)
	if info.IsDir() {
		hdr.Name += "/"
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return 0, err
	}
	if !info.Mode().IsRegular() {
		return 0, nil
	}
	src, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer src.Close()
	if _, err := io.Copy(tw, src); err != nil {
		return 0, err
	}
	return 1, nil
}

// verify checks that every archived-eligible regular file of dir appears in
// the tarball with the same size.
func (a *Archiver) verify(dir, tarball string) error {
	sizes, err := listTarball(tarball)
	if err != nil {
		return err
	}
	parent := filepath.Dir(dir)
	var missing []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !d.Type().IsRegular() || !a.include(d) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(parent, path)
		if err != nil {
			return err
		}
		size, ok := sizes[filepath.ToSlash(rel)]
		if !ok || size != info.Size() {
			missing = append(missing, rel)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("walk %s: %w", dir, err)
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %d files missing or truncated (first: %s)", ErrVerify, len(missing), missing[0])
	}
	return nil
}

// listTarball maps regular file names in a .tar.gz to their sizes.
func listTarball(path string) (map[string]int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open tarball: %w", err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("read gzip stream: %w", err)
	}
	defer gz.Close()

	sizes := make(map[string]int64)
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return sizes, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read tar stream: %w", err)
		}
		if hdr.Typeflag == tar.TypeReg {
			sizes[hdr.Name] = hdr.Size
		}
	}
}
