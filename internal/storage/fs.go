package storage

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/google/uuid"

	"github.com/NamanBalaji/tfm/internal/errors"
	"github.com/NamanBalaji/tfm/internal/logger"
)

const stagingPrefix = ".tfm-"

// FS is a Store backed by a billy filesystem. Parts are staged as numbered
// files in a hidden directory next to the destination and concatenated into a
// temp file that is renamed over the destination on completion.
type FS struct {
	fs   billy.Filesystem
	name string
}

// NewOS returns a store rooted at root on the local disk.
func NewOS(root string) *FS {
	return &FS{
		fs:   osfs.New(root),
		name: root,
	}
}

// NewFS wraps an existing billy filesystem.
func NewFS(fs billy.Filesystem, name string) *FS {
	return &FS{fs: fs, name: name}
}

func (s *FS) String() string {
	return "fs:" + s.name
}

func (s *FS) Join(elem ...string) string {
	return s.fs.Join(elem...)
}

func (s *FS) Stat(ctx context.Context, p string) (FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return FileInfo{}, err
	}

	fi, err := s.fs.Stat(p)
	if err != nil {
		return FileInfo{}, s.wrap(err, p)
	}

	return FileInfo{
		Path:    p,
		Size:    fi.Size(),
		ModTime: fi.ModTime(),
		IsDir:   fi.IsDir(),
	}, nil
}

func (s *FS) List(ctx context.Context, root string) ([]FileInfo, error) {
	info, err := s.Stat(ctx, root)
	if err != nil {
		return nil, err
	}

	if !info.IsDir {
		return []FileInfo{info}, nil
	}

	var files []FileInfo

	err = s.walk(ctx, root, &files)
	if err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Path < files[j].Path
	})

	return files, nil
}

func (s *FS) walk(ctx context.Context, dir string, files *[]FileInfo) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	entries, err := s.fs.ReadDir(dir)
	if err != nil {
		return s.wrap(err, dir)
	}

	for _, e := range entries {
		if strings.HasPrefix(e.Name(), stagingPrefix) {
			continue
		}

		p := s.fs.Join(dir, e.Name())

		if e.IsDir() {
			if err := s.walk(ctx, p, files); err != nil {
				return err
			}

			continue
		}

		if !e.Mode().IsRegular() {
			logger.Debugf("Skipping non-regular file %s", p)
			continue
		}

		*files = append(*files, FileInfo{
			Path:    p,
			Size:    e.Size(),
			ModTime: e.ModTime(),
		})
	}

	return nil
}

// ReadRange returns a reader over [offset, offset+length). The reader also
// implements io.Seeker so object stores can sign or retry the body.
func (s *FS) ReadRange(ctx context.Context, p string, offset, length int64) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := s.fs.Open(p)
	if err != nil {
		return nil, s.wrap(err, p)
	}

	return &sectionReadCloser{
		SectionReader: io.NewSectionReader(f, offset, length),
		closer:        f,
	}, nil
}

func (s *FS) BeginUpload(ctx context.Context, p string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	id := uuid.NewString()

	err := s.fs.MkdirAll(s.stagingDir(p, id), 0o755)
	if err != nil {
		return "", s.wrap(err, p)
	}

	logger.Debugf("Opened staging session %s for %s", id, p)

	return id, nil
}

func (s *FS) WritePart(ctx context.Context, p, uploadID string, part Part, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	dir := s.stagingDir(p, uploadID)
	if _, err := s.fs.Stat(dir); err != nil {
		return "", s.wrap(err, dir)
	}

	partPath := s.partPath(dir, part.Number)

	f, err := s.fs.OpenFile(partPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", s.wrap(err, partPath)
	}

	n, err := io.Copy(f, r)
	if err == nil && n != part.Size {
		err = fmt.Errorf("%w: wrote %d of %d bytes", io.ErrUnexpectedEOF, n, part.Size)
	}

	if err == nil {
		err = syncFile(f)
	}

	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = closeErr
	}

	if err != nil {
		return "", errors.NewIOError(err, partPath)
	}

	return "", nil
}

func (s *FS) CompleteUpload(ctx context.Context, p, uploadID string, parts []Part) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dir := s.stagingDir(p, uploadID)
	if _, err := s.fs.Stat(dir); err != nil {
		return s.wrap(err, dir)
	}

	sorted := make([]Part, len(parts))
	copy(sorted, parts)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Number < sorted[j].Number
	})

	tmpPath := s.tempPath(p, uploadID)

	err := s.assemble(dir, tmpPath, sorted)
	if err != nil {
		_ = s.fs.Remove(tmpPath)
		return err
	}

	err = s.fs.Rename(tmpPath, p)
	if err != nil {
		if _, statErr := s.fs.Stat(p); statErr != nil {
			return s.wrap(err, p)
		}

		if err := s.fs.Remove(p); err != nil {
			return s.wrap(err, p)
		}

		if err := s.fs.Rename(tmpPath, p); err != nil {
			return s.wrap(err, p)
		}
	}

	if err := util.RemoveAll(s.fs, dir); err != nil {
		logger.Warnf("Failed to remove staging directory %s: %v", dir, err)
	}

	logger.Debugf("Committed %d parts to %s", len(parts), p)

	return nil
}

func (s *FS) assemble(dir, tmpPath string, parts []Part) error {
	outFile, err := s.fs.Create(tmpPath)
	if err != nil {
		return s.wrap(err, tmpPath)
	}

	defer func() {
		if err := outFile.Close(); err != nil {
			logger.Errorf("Failed to close output file %s: %v", tmpPath, err)
		}
	}()

	bufWriter := bufio.NewWriterSize(outFile, 4*1024*1024)

	var expected int64

	for _, part := range parts {
		if part.Offset != expected {
			return errors.NewIOError(fmt.Errorf("part %d starts at %d, expected %d", part.Number, part.Offset, expected), tmpPath)
		}

		partPath := s.partPath(dir, part.Number)

		partFile, err := s.fs.Open(partPath)
		if err != nil {
			return s.wrap(err, partPath)
		}

		copied, err := io.Copy(bufWriter, partFile)
		if closeErr := partFile.Close(); closeErr != nil {
			logger.Errorf("Failed to close part %s: %v", partPath, closeErr)
		}

		if err != nil {
			return errors.NewIOError(err, partPath)
		}

		if copied != part.Size {
			return errors.NewIOError(fmt.Errorf("%w: part %d has %d of %d bytes", io.ErrUnexpectedEOF, part.Number, copied, part.Size), partPath)
		}

		expected += copied
	}

	if err := bufWriter.Flush(); err != nil {
		return errors.NewIOError(err, tmpPath)
	}

	if err := syncFile(outFile); err != nil {
		return errors.NewIOError(err, tmpPath)
	}

	return nil
}

func (s *FS) AbortUpload(ctx context.Context, p, uploadID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := util.RemoveAll(s.fs, s.stagingDir(p, uploadID)); err != nil && !os.IsNotExist(err) {
		return s.wrap(err, p)
	}

	if err := s.fs.Remove(s.tempPath(p, uploadID)); err != nil && !os.IsNotExist(err) {
		return s.wrap(err, p)
	}

	return nil
}

func (s *FS) stagingDir(p, uploadID string) string {
	return s.fs.Join(filepath.Dir(p), stagingPrefix+uploadID)
}

func (s *FS) tempPath(p, uploadID string) string {
	return s.fs.Join(filepath.Dir(p), stagingPrefix+uploadID+".tmp")
}

func (s *FS) partPath(dir string, number int) string {
	return s.fs.Join(dir, fmt.Sprintf("%08d", number))
}

func (s *FS) wrap(err error, p string) error {
	if os.IsNotExist(err) {
		return &errors.TransferError{
			Err:       fmt.Errorf("%w: %w", errors.ErrNotFound, err),
			Category:  errors.CategoryResource,
			Backend:   errors.BackendFS,
			Timestamp: time.Now(),
			Resource:  p,
		}
	}

	return &errors.TransferError{
		Err:       err,
		Category:  errors.CategoryIO,
		Backend:   errors.BackendFS,
		Retryable: true,
		Timestamp: time.Now(),
		Resource:  p,
	}
}

type sectionReadCloser struct {
	*io.SectionReader
	closer io.Closer
}

func (r *sectionReadCloser) Close() error {
	return r.closer.Close()
}

func syncFile(f billy.File) error {
	if s, ok := f.(interface{ Sync() error }); ok {
		return s.Sync()
	}

	return nil
}
