package transfer

import (
	"context"
	"path"
	"path/filepath"
	"strings"

	"github.com/NamanBalaji/tfm/internal/chunk"
	"github.com/NamanBalaji/tfm/internal/errors"
	"github.com/NamanBalaji/tfm/internal/logger"
	"github.com/NamanBalaji/tfm/internal/status"
	"github.com/NamanBalaji/tfm/internal/storage"
)

// Plan enumerates srcPath on src and maps each regular file to a destination
// path on dst, split into chunks.
//
// A single file goes to dstPath, or to dstPath/<base> when dstPath is an
// existing directory or ends with a slash. A directory maps each file to
// dstPath/<relative path>. An existing destination is skipped with an
// AlreadyExists error unless overwrite is set. Planning fails when the
// source is missing, every entry was skipped, or a file would need more or
// smaller parts than a storage.Limited destination accepts.
func Plan(ctx context.Context, src, dst storage.Store, srcPath, dstPath string, chunkSize int64, overwrite bool) ([]*FileEntry, error) {
	if chunkSize <= 0 {
		return nil, errors.NewInvalidArgumentError("chunk size must be positive, got %d", chunkSize)
	}

	info, err := src.Stat(ctx, srcPath)
	if err != nil {
		return nil, err
	}

	var sources []storage.FileInfo

	targets := make(map[string]string)

	if info.IsDir {
		sources, err = src.List(ctx, srcPath)
		if err != nil {
			return nil, err
		}

		for _, f := range sources {
			rel := relativePath(srcPath, f.Path)
			targets[f.Path] = dst.Join(append([]string{dstPath}, strings.Split(rel, "/")...)...)
		}
	} else {
		dest, err := singleFileDest(ctx, dst, srcPath, dstPath)
		if err != nil {
			return nil, err
		}

		sources = []storage.FileInfo{info}
		targets[info.Path] = dest
	}

	var (
		entries  []*FileEntry
		firstErr error
		planned  int
	)

	for _, f := range sources {
		entry, err := planFile(ctx, dst, f, targets[f.Path], chunkSize, overwrite)
		if err != nil {
			return nil, err
		}

		if entry.Skipped {
			logger.Warnf("Skipping %s: %s", entry.Source, entry.Err)

			if firstErr == nil {
				firstErr = errors.NewAlreadyExistsError(entry.Dest)
			}
		} else {
			planned++
		}

		entries = append(entries, entry)
	}

	if len(entries) > 0 && planned == 0 {
		return nil, firstErr
	}

	logger.Debugf("Planned %d file(s) from %s to %s", planned, srcPath, dstPath)

	return entries, nil
}

func planFile(ctx context.Context, dst storage.Store, f storage.FileInfo, dest string, chunkSize int64, overwrite bool) (*FileEntry, error) {
	entry := &FileEntry{
		Source:  f.Path,
		Dest:    dest,
		Size:    f.Size,
		ModTime: f.ModTime,
		Status:  status.Pending,
	}

	existing, err := dst.Stat(ctx, dest)

	switch {
	case err == nil && (existing.IsDir || !overwrite):
		entry.Skipped = true
		entry.Status = status.Failed
		entry.Err = errors.NewAlreadyExistsError(dest).Error()

		return entry, nil
	case err != nil && !errors.Is(err, errors.ErrNotFound):
		return nil, err
	}

	chunks, err := chunk.Split(f.Path, f.Size, chunkSize)
	if err != nil {
		return nil, err
	}

	if err := checkPartLimits(dst, dest, len(chunks), chunkSize); err != nil {
		return nil, err
	}

	entry.Chunks = chunks

	return entry, nil
}

func checkPartLimits(dst storage.Store, dest string, parts int, chunkSize int64) error {
	limited, ok := dst.(storage.Limited)
	if !ok {
		return nil
	}

	limits := limited.PartLimits()

	if limits.MaxParts > 0 && parts > limits.MaxParts {
		return errors.NewInvalidArgumentError("%s needs %d chunks of %d bytes, %s accepts at most %d parts", dest, parts, chunkSize, dst, limits.MaxParts)
	}

	if parts > 1 && chunkSize < limits.MinPartSize {
		return errors.NewInvalidArgumentError("chunk size %d is below the %d byte minimum part size of %s", chunkSize, limits.MinPartSize, dst)
	}

	return nil
}

func singleFileDest(ctx context.Context, dst storage.Store, srcPath, dstPath string) (string, error) {
	base := path.Base(filepath.ToSlash(srcPath))

	if dstPath == "" {
		return base, nil
	}

	if strings.HasSuffix(dstPath, "/") || strings.HasSuffix(dstPath, string(filepath.Separator)) {
		return dst.Join(dstPath, base), nil
	}

	info, err := dst.Stat(ctx, dstPath)
	if err == nil && info.IsDir {
		return dst.Join(dstPath, base), nil
	}

	if err != nil && !errors.Is(err, errors.ErrNotFound) {
		return "", err
	}

	return dstPath, nil
}

// relativePath returns p relative to root using forward slashes.
func relativePath(root, p string) string {
	root = path.Clean(filepath.ToSlash(root))
	p = path.Clean(filepath.ToSlash(p))

	if !strings.HasPrefix(p, "/") {
		root = strings.TrimPrefix(root, "/")
	}

	switch root {
	case "", ".":
		return p
	case "/":
		return strings.TrimPrefix(p, "/")
	}

	return strings.TrimPrefix(p, root+"/")
}
