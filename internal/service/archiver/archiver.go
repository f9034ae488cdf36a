package archiver

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/docker/go-units"
	"github.com/klauspost/compress/flate"
	"github.com/spf13/afero"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/oshokin/kernl-deploy/internal/logger"
)

const (
	// queueSize bounds how far discovery may run ahead of the writer.
	queueSize = 64

	// archiveFileMode is the permission of the produced archive.
	archiveFileMode os.FileMode = 0o644
	// outputDirMode is the permission of a missing output directory.
	outputDirMode os.FileMode = 0o755
)

var (
	// errSlugRequired is returned when no top-level folder name is given.
	errSlugRequired = errors.New("archive base folder name must be provided")
	// errOutputRequired is returned when no output path is given.
	errOutputRequired = errors.New("archive output path must be provided")
)

// Options describe a single archive build.
type Options struct {
	// SourceDir is the tree to archive.
	SourceDir string
	// OutputPath is where the zip file is written.
	OutputPath string
	// BaseFolder is the top-level folder every entry is stored under, usually the plugin slug.
	BaseFolder string
	// IgnorePatterns are doublestar globs matched against slash-separated relative paths.
	IgnorePatterns []string
	// IncludeHidden keeps dot-files and dot-directories.
	IncludeHidden bool
}

// Result describes a finished archive.
type Result struct {
	// Path is the archive location, as given in Options.OutputPath.
	Path string
	// Entries are the archive entry names in the order they were written.
	Entries []string
	// Size is the archive size in bytes.
	Size int64
}

// Archiver builds zip archives on an afero filesystem.
type Archiver struct {
	// fs holds both the source tree and the produced archive.
	fs afero.Fs
}

// entry is a file queued for the archive.
type entry struct {
	// path is the file location on fs.
	path string
	// name is the entry name inside the archive.
	name string
	// info is the file metadata captured during discovery.
	info fs.FileInfo
}

// New creates an Archiver working on fs.
func New(fsys afero.Fs) *Archiver {
	return &Archiver{fs: fsys}
}

// Build writes the archive and returns once it is fully flushed to disk.
// On failure the partial archive is removed.
func (a *Archiver) Build(ctx context.Context, opts *Options) (result *Result, err error) {
	if opts.BaseFolder == "" {
		return nil, errSlugRequired
	}

	if opts.OutputPath == "" {
		return nil, errOutputRequired
	}

	if err = a.fs.MkdirAll(filepath.Dir(opts.OutputPath), outputDirMode); err != nil {
		return nil, fmt.Errorf("create archive directory: %w", err)
	}

	out, err := a.fs.OpenFile(opts.OutputPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, archiveFileMode)
	if err != nil {
		return nil, fmt.Errorf("create archive: %w", err)
	}

	closed := false

	defer func() {
		if err == nil {
			return
		}

		if !closed {
			_ = out.Close()
		}

		// Best-effort cleanup.
		_ = a.fs.Remove(opts.OutputPath)
	}()

	writer := zip.NewWriter(out)
	writer.RegisterCompressor(zip.Deflate, newCompressor)

	// Stage one: every discovered file is queued and written.
	entries, err := a.writeEntries(ctx, writer, opts)
	if err != nil {
		return nil, err
	}

	// Stage two: central directory, then the file itself.
	closed = true

	if err = multierr.Combine(writer.Close(), out.Sync(), out.Close()); err != nil {
		return nil, fmt.Errorf("finalize archive: %w", err)
	}

	info, err := a.fs.Stat(opts.OutputPath)
	if err != nil {
		return nil, fmt.Errorf("stat archive: %w", err)
	}

	logger.InfoKV(ctx, "Archive created",
		"path", opts.OutputPath,
		"files", len(entries),
		"size", units.HumanSize(float64(info.Size())))

	return &Result{
		Path:    opts.OutputPath,
		Entries: entries,
		Size:    info.Size(),
	}, nil
}

// writeEntries runs discovery and writing concurrently and returns
// only after the queue has been closed by discovery and fully drained.
func (a *Archiver) writeEntries(ctx context.Context, writer *zip.Writer, opts *Options) ([]string, error) {
	queue := make(chan entry, queueSize)
	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		defer close(queue)

		return a.discover(groupCtx, opts, queue)
	})

	var names []string

	group.Go(func() error {
		for e := range queue {
			if err := groupCtx.Err(); err != nil {
				return err
			}

			if err := a.appendFile(writer, e); err != nil {
				return err
			}

			names = append(names, e.name)
		}

		return nil
	})

	if err := group.Wait(); err != nil {
		return nil, err
	}

	return names, nil
}

// discover walks the source tree and queues every file that is not excluded.
func (a *Archiver) discover(ctx context.Context, opts *Options, queue chan<- entry) error {
	root := filepath.Clean(opts.SourceDir)

	// Compare absolute paths: the source and the output may be given one relative, one absolute.
	output, err := filepath.Abs(opts.OutputPath)
	if err != nil {
		return fmt.Errorf("resolve archive path: %w", err)
	}

	match := &matcher{
		patterns:      opts.IgnorePatterns,
		includeHidden: opts.IncludeHidden,
	}

	return afero.Walk(a.fs, root, func(filename string, info fs.FileInfo, err error) error {
		if err != nil {
			return fmt.Errorf("walk %s: %w", filename, err)
		}

		if filename == root {
			return nil
		}

		rel, err := filepath.Rel(root, filename)
		if err != nil {
			return err
		}

		rel = filepath.ToSlash(rel)

		if info.IsDir() {
			if match.pruned(rel) {
				logger.DebugKV(ctx, "Ignoring directory", "path", rel)
				return filepath.SkipDir
			}

			return nil
		}

		abs, err := filepath.Abs(filename)
		if err != nil {
			return err
		}

		if abs == output {
			return nil
		}

		if match.excluded(rel) {
			logger.DebugKV(ctx, "Ignoring path", "path", rel)
			return nil
		}

		if !info.Mode().IsRegular() {
			logger.DebugKV(ctx, "Skipping non-regular file", "path", rel, "mode", info.Mode().String())
			return nil
		}

		e := entry{
			path: filename,
			name: path.Join(opts.BaseFolder, rel),
			info: info,
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case queue <- e:
			return nil
		}
	})
}

// appendFile copies a single file into the archive.
func (a *Archiver) appendFile(writer *zip.Writer, e entry) error {
	header, err := zip.FileInfoHeader(e.info)
	if err != nil {
		return fmt.Errorf("header for %s: %w", e.path, err)
	}

	header.Name = e.name
	header.Method = zip.Deflate

	dst, err := writer.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("add %s: %w", e.name, err)
	}

	src, err := a.fs.Open(e.path)
	if err != nil {
		return fmt.Errorf("open %s: %w", e.path, err)
	}

	defer func() {
		_ = src.Close()
	}()

	if _, err = io.Copy(dst, src); err != nil {
		return fmt.Errorf("compress %s: %w", e.path, err)
	}

	return nil
}

// newCompressor deflates at the maximum level.
func newCompressor(w io.Writer) (io.WriteCloser, error) {
	fw, err := flate.NewWriter(w, flate.BestCompression)
	if err != nil {
		return nil, err
	}

	return fw, nil
}
