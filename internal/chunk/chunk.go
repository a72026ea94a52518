package chunk

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/NamanBalaji/tfm/internal/errors"
	"github.com/NamanBalaji/tfm/internal/status"
)

// Chunk is a contiguous byte range [Offset, Offset+Length) of one file, the
// unit of transfer and retry. The range never changes after planning.
type Chunk struct {
	Index  int
	Offset int64
	Length int64
	Path   string

	status   atomic.Int32
	attempts atomic.Int32

	mu      sync.RWMutex
	token   string
	lastErr string
}

// New creates a Pending chunk.
func New(index int, offset, length int64, path string) *Chunk {
	return &Chunk{
		Index:  index,
		Offset: offset,
		Length: length,
		Path:   path,
	}
}

// Restore rebuilds a chunk from persisted state. A chunk that was in flight
// when its process died is Pending again.
func Restore(index int, offset, length int64, path string, s status.Status, attempts int, token, lastErr string) *Chunk {
	c := New(index, offset, length, path)

	if s == status.Active || s == status.Paused {
		s = status.Pending
	}

	c.status.Store(int32(s))
	c.attempts.Store(int32(attempts))
	c.token = token
	c.lastErr = lastErr

	return c
}

// End returns the offset one past the last byte of the chunk.
func (c *Chunk) End() int64 {
	return c.Offset + c.Length
}

func (c *Chunk) Status() status.Status {
	return status.Status(c.status.Load())
}

func (c *Chunk) SetStatus(s status.Status) {
	c.status.Store(int32(s))
}

// Claim moves a Pending chunk to Active. Only one caller can win the claim,
// so a chunk is never transferred by two workers at once.
func (c *Chunk) Claim() bool {
	return c.status.CompareAndSwap(int32(status.Pending), int32(status.Active))
}

// Complete moves an Active chunk to Completed and reports whether this call
// made the transition.
func (c *Chunk) Complete() bool {
	return c.status.CompareAndSwap(int32(status.Active), int32(status.Completed))
}

func (c *Chunk) Attempts() int {
	return int(c.attempts.Load())
}

// AddAttempt records one more transfer attempt and returns the new total.
func (c *Chunk) AddAttempt() int {
	return int(c.attempts.Add(1))
}

func (c *Chunk) ResetAttempts() {
	c.attempts.Store(0)
}

// Token is the destination's receipt for the chunk, such as an S3 part ETag.
func (c *Chunk) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.token
}

func (c *Chunk) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.token = token
}

// LastError is the text of the most recent failed attempt.
func (c *Chunk) LastError() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.lastErr
}

func (c *Chunk) SetError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err == nil {
		c.lastErr = ""
		return
	}

	c.lastErr = err.Error()
}

func (c *Chunk) String() string {
	return fmt.Sprintf("%s[%d:%d-%d]", c.Path, c.Index, c.Offset, c.End())
}

// Split divides a file of the given size into ceil(size/chunkSize) chunks.
// The last chunk may be shorter; a zero-byte file has no chunks.
func Split(path string, size, chunkSize int64) ([]*Chunk, error) {
	if chunkSize <= 0 {
		return nil, errors.NewInvalidArgumentError("chunk size must be positive, got %d", chunkSize)
	}

	if size < 0 {
		return nil, errors.NewInvalidArgumentError("file size must not be negative, got %d", size)
	}

	count := size / chunkSize
	if size%chunkSize != 0 {
		count++
	}

	chunks := make([]*Chunk, 0, count)

	var offset int64
	for i := 0; offset < size; i++ {
		length := min(chunkSize, size-offset)
		chunks = append(chunks, New(i, offset, length, path))
		offset += length
	}

	return chunks, nil
}

// Verify checks that chunks cover [0, size) in order with no gap or overlap.
func Verify(chunks []*Chunk, size int64) error {
	var next int64

	for i, c := range chunks {
		if c.Index != i {
			return fmt.Errorf("chunk %d has index %d", i, c.Index)
		}

		if c.Length <= 0 {
			return fmt.Errorf("chunk %d has non-positive length %d", i, c.Length)
		}

		if c.Offset != next {
			return fmt.Errorf("chunk %d starts at %d, expected %d", i, c.Offset, next)
		}

		next = c.End()
	}

	if next != size {
		return fmt.Errorf("chunks cover %d bytes, file has %d", next, size)
	}

	return nil
}
