package chunk_test

import (
	stdErrors "errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NamanBalaji/tfm/internal/chunk"
	"github.com/NamanBalaji/tfm/internal/errors"
	"github.com/NamanBalaji/tfm/internal/status"
)

const mib = 1024 * 1024

func TestSplit(t *testing.T) {
	tests := []struct {
		name      string
		size      int64
		chunkSize int64
		want      []int64
	}{
		{"empty file", 0, 4, nil},
		{"smaller than chunk", 3, 4, []int64{3}},
		{"exact multiple", 8, 4, []int64{4, 4}},
		{"short tail", 10 * mib, 4 * mib, []int64{4 * mib, 4 * mib, 2 * mib}},
		{"one byte chunks", 3, 1, []int64{1, 1, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks, err := chunk.Split("f", tt.size, tt.chunkSize)
			require.NoError(t, err)

			var lengths []int64
			for _, c := range chunks {
				lengths = append(lengths, c.Length)
				assert.Equal(t, status.Pending, c.Status())
				assert.Equal(t, "f", c.Path)
			}

			assert.Equal(t, tt.want, lengths)
			assert.NoError(t, chunk.Verify(chunks, tt.size))
		})
	}
}

func TestSplitCoverageProperty(t *testing.T) {
	for size := int64(0); size <= 64; size++ {
		for chunkSize := int64(1); chunkSize <= 17; chunkSize++ {
			chunks, err := chunk.Split("f", size, chunkSize)
			require.NoError(t, err)

			wantCount := (size + chunkSize - 1) / chunkSize
			require.Len(t, chunks, int(wantCount), "size=%d chunkSize=%d", size, chunkSize)

			covered := make([]int, size)
			for _, c := range chunks {
				for b := c.Offset; b < c.End(); b++ {
					covered[b]++
				}
			}

			for b, n := range covered {
				require.Equal(t, 1, n, "byte %d covered %d times (size=%d chunkSize=%d)", b, n, size, chunkSize)
			}
		}
	}
}

func TestSplitInvalid(t *testing.T) {
	_, err := chunk.Split("f", 10, 0)
	assert.ErrorIs(t, err, errors.ErrInvalidArgument)

	_, err = chunk.Split("f", -1, 4)
	assert.ErrorIs(t, err, errors.ErrInvalidArgument)
}

func TestVerify(t *testing.T) {
	gap := []*chunk.Chunk{chunk.New(0, 0, 4, "f"), chunk.New(1, 5, 4, "f")}
	assert.Error(t, chunk.Verify(gap, 9))

	overlap := []*chunk.Chunk{chunk.New(0, 0, 4, "f"), chunk.New(1, 3, 4, "f")}
	assert.Error(t, chunk.Verify(overlap, 7))

	short := []*chunk.Chunk{chunk.New(0, 0, 4, "f")}
	assert.Error(t, chunk.Verify(short, 8))

	badIndex := []*chunk.Chunk{chunk.New(1, 0, 4, "f")}
	assert.Error(t, chunk.Verify(badIndex, 4))

	assert.NoError(t, chunk.Verify(nil, 0))
}

func TestClaimIsExclusive(t *testing.T) {
	c := chunk.New(0, 0, 10, "f")

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.Claim() {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, status.Active, c.Status())

	assert.True(t, c.Complete())
	assert.False(t, c.Complete(), "second completion must not be reported")
	assert.False(t, c.Claim(), "completed chunk cannot be claimed")
}

func TestRestore(t *testing.T) {
	inFlight := chunk.Restore(2, 8, 4, "f", status.Active, 1, "", "boom")
	assert.Equal(t, status.Pending, inFlight.Status())
	assert.Equal(t, 1, inFlight.Attempts())
	assert.Equal(t, "boom", inFlight.LastError())

	done := chunk.Restore(0, 0, 4, "f", status.Completed, 1, "etag-1", "")
	assert.Equal(t, status.Completed, done.Status())
	assert.Equal(t, "etag-1", done.Token())
}

func TestAttemptsAndErrors(t *testing.T) {
	c := chunk.New(0, 0, 1, "f")
	assert.Equal(t, 1, c.AddAttempt())
	assert.Equal(t, 2, c.AddAttempt())
	c.ResetAttempts()
	assert.Equal(t, 0, c.Attempts())

	c.SetError(stdErrors.New("short read"))
	assert.Equal(t, "short read", c.LastError())
	c.SetError(nil)
	assert.Empty(t, c.LastError())

	c.SetToken("t")
	assert.Equal(t, "t", c.Token())
	assert.Equal(t, "f[0:0-1]", c.String())
}
