package transfer_test

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NamanBalaji/tfm/internal/errors"
	"github.com/NamanBalaji/tfm/internal/repository"
	"github.com/NamanBalaji/tfm/internal/status"
	"github.com/NamanBalaji/tfm/internal/storage"
	"github.com/NamanBalaji/tfm/internal/transfer"
)

const mib = 1024 * 1024

type env struct {
	localRoot  string
	remoteRoot string
	local      *storage.FS
	remote     *storage.FS
	repo       *repository.BboltRepository
}

func newEnv(t *testing.T) *env {
	t.Helper()

	e := &env{
		localRoot:  t.TempDir(),
		remoteRoot: t.TempDir(),
	}
	e.local = storage.NewOS(e.localRoot)
	e.remote = storage.NewOS(e.remoteRoot)

	repo, err := repository.NewBboltRepository(filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	e.repo = repo

	return e
}

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}

	return b
}

func write(t *testing.T, root, rel string, data []byte) {
	t.Helper()

	p := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, data, 0o644))
}

func read(t *testing.T, root, rel string) []byte {
	t.Helper()

	data, err := os.ReadFile(filepath.Join(root, rel))
	require.NoError(t, err)

	return data
}

// hookStore intercepts part writes on the destination.
type hookStore struct {
	storage.Store

	mu     sync.Mutex
	writes int
	before func(part storage.Part) error
	after  func(n int)
}

func (h *hookStore) WritePart(ctx context.Context, p, uploadID string, part storage.Part, r io.Reader) (string, error) {
	if h.before != nil {
		if err := h.before(part); err != nil {
			return "", err
		}
	}

	token, err := h.Store.WritePart(ctx, p, uploadID, part, r)
	if err != nil {
		return "", err
	}

	h.mu.Lock()
	h.writes++
	n := h.writes
	h.mu.Unlock()

	if h.after != nil {
		h.after(n)
	}

	return token, nil
}

func (h *hookStore) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.writes
}

func opts(chunkSize int64) transfer.Options {
	return transfer.Options{
		ChunkSize:  chunkSize,
		Workers:    1,
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
	}
}

func (e *env) uploadJob(t *testing.T, name, src, dst string, o transfer.Options, remote storage.Store) *transfer.Job {
	t.Helper()

	files, err := transfer.Plan(context.Background(), e.local, remote, src, dst, o.ChunkSize, o.Overwrite)
	require.NoError(t, err)

	return transfer.New(transfer.Params{
		Name:       name,
		Direction:  transfer.Upload,
		LocalPath:  src,
		RemotePath: dst,
		Options:    o,
		Source:     e.local,
		Dest:       remote,
		Saver:      e.repo,
	}, files)
}

func (e *env) restore(t *testing.T, name string, src, dst storage.Store) *transfer.Job {
	t.Helper()

	rec, err := e.repo.Find(name)
	require.NoError(t, err)

	j, err := transfer.Restore(transfer.Params{Source: src, Dest: dst, Saver: e.repo}, rec)
	require.NoError(t, err)

	return j
}

func TestJob_UploadSingleFile(t *testing.T) {
	e := newEnv(t)
	data := pattern(10 * mib)
	write(t, e.localRoot, "big.bin", data)

	j := e.uploadJob(t, "job", "big.bin", "backups/big.bin", opts(4*mib), e.remote)
	assert.Equal(t, status.Pending, j.Status())

	require.NoError(t, j.Run(context.Background()))

	assert.Equal(t, status.Completed, j.Status())
	assert.Equal(t, data, read(t, e.remoteRoot, "backups/big.bin"))

	p := j.Progress()
	assert.Equal(t, 3, p.ChunksDone)
	assert.Equal(t, 3, p.ChunksTotal)
	assert.Equal(t, int64(10*mib), p.BytesDone)

	rec, err := e.repo.Find("job")
	require.NoError(t, err)
	assert.Equal(t, status.Completed, rec.Status)
	assert.Equal(t, status.Completed, rec.Files[0].Status)
	assert.Empty(t, rec.Files[0].UploadID)
}

func TestJob_DownloadDirectory(t *testing.T) {
	e := newEnv(t)
	write(t, e.remoteRoot, "photos/a.jpg", pattern(5000))
	write(t, e.remoteRoot, "photos/2024/b.jpg", pattern(123))
	write(t, e.remoteRoot, "photos/empty.txt", nil)

	o := opts(1024)
	o.Workers = 4

	files, err := transfer.Plan(context.Background(), e.remote, e.local, "photos", "restore", o.ChunkSize, false)
	require.NoError(t, err)
	require.Len(t, files, 3)

	j := transfer.New(transfer.Params{
		Name:      "dl",
		Direction: transfer.Download,
		Options:   o,
		Source:    e.remote,
		Dest:      e.local,
		Saver:     e.repo,
	}, files)

	require.NoError(t, j.Run(context.Background()))

	assert.Equal(t, pattern(5000), read(t, e.localRoot, "restore/a.jpg"))
	assert.Equal(t, pattern(123), read(t, e.localRoot, "restore/2024/b.jpg"))
	assert.Empty(t, read(t, e.localRoot, "restore/empty.txt"))
}

func TestJob_DestinationInvisibleUntilCommitted(t *testing.T) {
	e := newEnv(t)
	write(t, e.localRoot, "f.bin", pattern(3000))

	var seen []bool

	hook := &hookStore{Store: e.remote}
	hook.after = func(int) {
		_, err := os.Stat(filepath.Join(e.remoteRoot, "f.bin"))
		seen = append(seen, err == nil)
	}

	j := e.uploadJob(t, "job", "f.bin", "f.bin", opts(1000), hook)
	require.NoError(t, j.Run(context.Background()))

	assert.Equal(t, []bool{false, false, false}, seen)
	assert.Equal(t, pattern(3000), read(t, e.remoteRoot, "f.bin"))
}

func TestJob_PauseAndResumeTransfersOnlyRemainingChunks(t *testing.T) {
	e := newEnv(t)
	data := pattern(10 * mib)
	write(t, e.localRoot, "big.bin", data)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hook := &hookStore{Store: e.remote}
	hook.after = func(n int) {
		if n == 2 {
			cancel()
		}
	}

	j := e.uploadJob(t, "job", "big.bin", "big.bin", opts(4*mib), hook)

	err := j.Run(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrJobPaused))
	assert.Equal(t, status.Paused, j.Status())

	rec, err := e.repo.Find("job")
	require.NoError(t, err)
	assert.Equal(t, status.Paused, rec.Status)

	done, total := rec.ChunkCounts()
	assert.Equal(t, 2, done)
	assert.Equal(t, 3, total)

	_, err = os.Stat(filepath.Join(e.remoteRoot, "big.bin"))
	assert.True(t, os.IsNotExist(err))

	counter := &hookStore{Store: e.remote}
	resumed := e.restore(t, "job", e.local, counter)
	assert.Equal(t, 2, resumed.Progress().ChunksDone)

	require.NoError(t, resumed.Run(context.Background()))

	assert.Equal(t, 1, counter.count(), "only the unfinished chunk is transferred again")
	assert.Equal(t, data, read(t, e.remoteRoot, "big.bin"))
	assert.Equal(t, status.Completed, resumed.Status())
}

func TestJob_FailureKeepsCompletedChunks(t *testing.T) {
	e := newEnv(t)
	data := pattern(10 * mib)
	write(t, e.localRoot, "big.bin", data)

	hook := &hookStore{Store: e.remote}
	hook.before = func(part storage.Part) error {
		if part.Number == 3 {
			return errors.NewIOError(fmt.Errorf("disk hiccup"), "big.bin")
		}
		return nil
	}

	j := e.uploadJob(t, "job", "big.bin", "big.bin", opts(4*mib), hook)

	err := j.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrChunkTransfer))
	assert.Equal(t, status.Failed, j.Status())
	assert.Contains(t, j.LastError(), "disk hiccup")

	rec, err := e.repo.Find("job")
	require.NoError(t, err)
	assert.Equal(t, status.Failed, rec.Status)

	done, _ := rec.ChunkCounts()
	assert.Equal(t, 2, done)
	assert.Equal(t, status.Failed, rec.Files[0].Chunks[2].Status)
	assert.Equal(t, 2, rec.Files[0].Chunks[2].Attempts)
	require.Len(t, j.FileErrors(), 1)

	counter := &hookStore{Store: e.remote}
	resumed := e.restore(t, "job", e.local, counter)
	require.NoError(t, resumed.Run(context.Background()))

	assert.Equal(t, 1, counter.count())
	assert.Equal(t, data, read(t, e.remoteRoot, "big.bin"))
	assert.Empty(t, resumed.FileErrors())
}

func TestJob_ResumeDetectsStaleSource(t *testing.T) {
	e := newEnv(t)
	write(t, e.localRoot, "f.bin", pattern(3000))

	ctx, cancel := context.WithCancel(context.Background())
	hook := &hookStore{Store: e.remote, after: func(int) { cancel() }}

	j := e.uploadJob(t, "job", "f.bin", "f.bin", opts(1000), hook)
	require.ErrorIs(t, j.Run(ctx), errors.ErrJobPaused)

	write(t, e.localRoot, "f.bin", pattern(4000))

	resumed := e.restore(t, "job", e.local, e.remote)
	err := resumed.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrStaleJob))

	var stale *errors.StaleJobError
	require.True(t, errors.As(err, &stale))
	assert.Equal(t, int64(3000), stale.Planned)
	assert.Equal(t, int64(4000), stale.Current)
	assert.Equal(t, status.Failed, resumed.Status())
}

func TestJob_ResumeDetectsMissingSource(t *testing.T) {
	e := newEnv(t)
	write(t, e.localRoot, "f.bin", pattern(3000))

	ctx, cancel := context.WithCancel(context.Background())
	hook := &hookStore{Store: e.remote, after: func(int) { cancel() }}

	j := e.uploadJob(t, "job", "f.bin", "f.bin", opts(1000), hook)
	require.ErrorIs(t, j.Run(ctx), errors.ErrJobPaused)

	require.NoError(t, os.Remove(filepath.Join(e.localRoot, "f.bin")))

	resumed := e.restore(t, "job", e.local, e.remote)
	err := resumed.Run(context.Background())
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestJob_RunWhileRunningIsBusy(t *testing.T) {
	e := newEnv(t)
	write(t, e.localRoot, "f.bin", pattern(100))

	started := make(chan struct{})
	release := make(chan struct{})

	var once sync.Once

	hook := &hookStore{Store: e.remote}
	hook.before = func(storage.Part) error {
		once.Do(func() { close(started) })
		<-release
		return nil
	}

	j := e.uploadJob(t, "job", "f.bin", "f.bin", opts(50), hook)

	errCh := make(chan error, 1)
	go func() { errCh <- j.Run(context.Background()) }()

	<-started

	err := j.Run(context.Background())
	assert.True(t, errors.Is(err, errors.ErrJobBusy))

	close(release)
	require.NoError(t, <-errCh)
}

func TestJob_RunCompletedIsNoop(t *testing.T) {
	e := newEnv(t)
	write(t, e.localRoot, "f.bin", pattern(100))

	counter := &hookStore{Store: e.remote}
	j := e.uploadJob(t, "job", "f.bin", "f.bin", opts(50), counter)

	require.NoError(t, j.Run(context.Background()))
	require.NoError(t, j.Run(context.Background()))
	assert.Equal(t, 2, counter.count())
}

func TestJob_AbortRemovesStagingSession(t *testing.T) {
	e := newEnv(t)
	write(t, e.localRoot, "f.bin", pattern(3000))

	ctx, cancel := context.WithCancel(context.Background())
	hook := &hookStore{Store: e.remote, after: func(int) { cancel() }}

	j := e.uploadJob(t, "job", "f.bin", "out/f.bin", opts(1000), hook)
	require.ErrorIs(t, j.Run(ctx), errors.ErrJobPaused)

	entries, err := os.ReadDir(filepath.Join(e.remoteRoot, "out"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "staging directory exists while paused")

	require.NoError(t, j.Abort(context.Background()))

	entries, err = os.ReadDir(filepath.Join(e.remoteRoot, "out"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRestore_ActiveRecordBecomesPaused(t *testing.T) {
	e := newEnv(t)
	write(t, e.localRoot, "f.bin", pattern(100))

	j := e.uploadJob(t, "job", "f.bin", "f.bin", opts(50), e.remote)
	rec := j.Record()
	rec.Status = status.Active
	rec.Files[0].Chunks[0].Status = status.Active
	require.NoError(t, e.repo.Save(rec))

	restored := e.restore(t, "job", e.local, e.remote)
	assert.Equal(t, status.Paused, restored.Status())
	assert.Equal(t, status.Pending, restored.Record().Files[0].Chunks[0].Status)
}

func TestRestore_RejectsCorruptChunkLayout(t *testing.T) {
	rec := &repository.JobRecord{
		Name: "bad",
		Files: []repository.FileRecord{{
			Source: "f",
			Size:   100,
			Chunks: []repository.ChunkRecord{{Index: 0, Offset: 0, Length: 40}},
		}},
	}

	_, err := transfer.Restore(transfer.Params{}, rec)
	assert.Error(t, err)
}

func TestParseDirection(t *testing.T) {
	d, err := transfer.ParseDirection("upload")
	require.NoError(t, err)
	assert.Equal(t, transfer.Upload, d)

	_, err = transfer.ParseDirection("sideways")
	assert.True(t, errors.Is(err, errors.ErrInvalidArgument))
}
