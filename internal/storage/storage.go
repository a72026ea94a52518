// Package storage defines the byte-range read and staged-write contract both
// ends of a transfer speak, and a filesystem implementation over go-billy.
package storage

import (
	"context"
	"io"
	"time"
)

// FileInfo describes one file or directory in a store.
type FileInfo struct {
	Path    string
	Size    int64
	ModTime time.Time
	IsDir   bool
}

// Part is one staged byte range of a destination file. Number starts at 1.
type Part struct {
	Number int
	Offset int64
	Size   int64
	Token  string
}

// Store is a source or destination of a transfer.
//
// Writes are staged: BeginUpload opens a session, WritePart stores parts in
// any order, and CompleteUpload makes the whole file visible at its path at
// once. A session ID stays valid across process restarts until it is
// completed or aborted.
type Store interface {
	// Stat returns an error matching errors.ErrNotFound when p is absent.
	Stat(ctx context.Context, p string) (FileInfo, error)
	// List returns every regular file under root, sorted by path. A file
	// root lists itself.
	List(ctx context.Context, root string) ([]FileInfo, error)
	ReadRange(ctx context.Context, p string, offset, length int64) (io.ReadCloser, error)
	BeginUpload(ctx context.Context, p string) (string, error)
	// WritePart returns the token CompleteUpload needs for the part.
	WritePart(ctx context.Context, p, uploadID string, part Part, r io.Reader) (string, error)
	CompleteUpload(ctx context.Context, p, uploadID string, parts []Part) error
	// AbortUpload discards a session. Aborting an unknown session is a no-op.
	AbortUpload(ctx context.Context, p, uploadID string) error
	// Join builds a path in the store's own separator convention.
	Join(elem ...string) string
	String() string
}

// PartLimits are the quotas a store puts on one staged write.
type PartLimits struct {
	MaxParts int
	// MinPartSize applies to every part except the last.
	MinPartSize int64
}

// Limited is implemented by stores whose staged writes have part quotas.
// Stores that do not implement it accept any number of parts of any size.
type Limited interface {
	PartLimits() PartLimits
}

// MultipartLimits are the Amazon S3 multipart quotas, which MinIO enforces too.
var MultipartLimits = PartLimits{MaxParts: 10000, MinPartSize: 5 * 1024 * 1024}
