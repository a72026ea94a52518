// Package transfer runs one upload or download job: it plans files into
// chunks, dispatches them to a worker pool, persists every chunk outcome and
// commits each file once all of its chunks are done.
package transfer

import (
	"time"

	"github.com/NamanBalaji/tfm/internal/chunk"
	"github.com/NamanBalaji/tfm/internal/errors"
	"github.com/NamanBalaji/tfm/internal/repository"
	"github.com/NamanBalaji/tfm/internal/status"
)

type Direction string

const (
	Upload   Direction = "upload"
	Download Direction = "download"
)

func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case Upload, Download:
		return Direction(s), nil
	default:
		return "", errors.NewInvalidArgumentError("unknown direction %q", s)
	}
}

// Options are fixed when a job is created and persisted with it.
type Options struct {
	ChunkSize  int64
	Workers    int
	Overwrite  bool
	MaxRetries int
	RetryDelay time.Duration
}

const (
	DefaultChunkSize  = 256 * 1024 * 1024
	DefaultMaxRetries = 3
	DefaultRetryDelay = 2 * time.Second
)

func DefaultOptions() Options {
	return Options{
		ChunkSize:  DefaultChunkSize,
		MaxRetries: DefaultMaxRetries,
		RetryDelay: DefaultRetryDelay,
	}
}

// FileEntry is one file of a job. Skipped entries were refused at planning
// time and carry no chunks.
type FileEntry struct {
	Source   string
	Dest     string
	Size     int64
	ModTime  time.Time
	UploadID string
	Status   status.Status
	Skipped  bool
	Err      string
	Chunks   []*chunk.Chunk
}

func (f *FileEntry) allDone() bool {
	for _, c := range f.Chunks {
		if c.Status() != status.Completed {
			return false
		}
	}

	return true
}

func (f *FileEntry) finished() bool {
	return f.Skipped || f.Status == status.Completed
}

// FileError is a per-file problem reported by a job.
type FileError struct {
	Source string
	Dest   string
	Err    string
}

// Saver persists job records.
type Saver interface {
	Save(rec *repository.JobRecord) error
}
