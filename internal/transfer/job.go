package transfer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/NamanBalaji/tfm/internal/chunk"
	"github.com/NamanBalaji/tfm/internal/errors"
	"github.com/NamanBalaji/tfm/internal/logger"
	"github.com/NamanBalaji/tfm/internal/progress"
	"github.com/NamanBalaji/tfm/internal/repository"
	"github.com/NamanBalaji/tfm/internal/status"
	"github.com/NamanBalaji/tfm/internal/storage"
	"github.com/NamanBalaji/tfm/internal/worker"
)

// Params wires a job to its stores. Source is read from and Dest is
// written to, whatever the direction.
type Params struct {
	Name       string
	Direction  Direction
	LocalPath  string
	RemotePath string
	Options    Options
	Source     storage.Store
	Dest       storage.Store
	Saver      Saver
	Limiter    *semaphore.Weighted
}

// Job is one named transfer. Its state machine is
// Pending -> Active -> {Completed, Failed, Paused}, with Paused and Failed
// jobs able to run again.
type Job struct {
	Name       string
	Direction  Direction
	LocalPath  string
	RemotePath string
	Options    Options
	CreatedAt  time.Time

	src     storage.Store
	dst     storage.Store
	saver   Saver
	limiter *semaphore.Weighted

	mu          sync.RWMutex
	status      status.Status
	lastErr     string
	updatedAt   time.Time
	files       []*FileEntry
	owners      map[*chunk.Chunk]*FileEntry
	chunksDone  int
	chunksTotal int
	bytesDone   int64
	bytesTotal  int64

	meter  *progress.Meter
	saveMu sync.Mutex
}

// New creates a Pending job over planned files.
func New(p Params, files []*FileEntry) *Job {
	now := time.Now().UTC()

	j := newJob(p, files)
	j.status = status.Pending
	j.CreatedAt = now
	j.updatedAt = now

	return j
}

// Restore rebuilds a job from its record. A record left Active by a process
// that died is restored as Paused.
func Restore(p Params, rec *repository.JobRecord) (*Job, error) {
	files, err := filesFromRecord(rec)
	if err != nil {
		return nil, err
	}

	p.Name = rec.Name
	p.Direction = Direction(rec.Direction)
	p.LocalPath = rec.LocalPath
	p.RemotePath = rec.RemotePath
	p.Options = Options{
		ChunkSize:  rec.Options.ChunkSize,
		Workers:    rec.Options.Workers,
		Overwrite:  rec.Options.Overwrite,
		MaxRetries: rec.Options.MaxRetries,
		RetryDelay: rec.Options.RetryDelay,
	}

	j := newJob(p, files)
	j.status = rec.Status
	j.lastErr = rec.LastError
	j.CreatedAt = rec.CreatedAt
	j.updatedAt = rec.UpdatedAt

	if j.status == status.Active {
		j.status = status.Paused
	}

	return j, nil
}

func newJob(p Params, files []*FileEntry) *Job {
	j := &Job{
		Name:       p.Name,
		Direction:  p.Direction,
		LocalPath:  p.LocalPath,
		RemotePath: p.RemotePath,
		Options:    p.Options,
		src:        p.Source,
		dst:        p.Dest,
		saver:      p.Saver,
		limiter:    p.Limiter,
		files:      files,
		owners:     make(map[*chunk.Chunk]*FileEntry),
		meter:      progress.NewMeter(5 * time.Second),
	}

	for _, f := range files {
		for _, c := range f.Chunks {
			j.owners[c] = f
		}
	}

	j.recount()

	return j
}

func (j *Job) Status() status.Status {
	j.mu.RLock()
	defer j.mu.RUnlock()

	return j.status
}

func (j *Job) LastError() string {
	j.mu.RLock()
	defer j.mu.RUnlock()

	return j.lastErr
}

func (j *Job) UpdatedAt() time.Time {
	j.mu.RLock()
	defer j.mu.RUnlock()

	return j.updatedAt
}

// Progress returns completed chunk and byte counts with a speed estimate.
func (j *Job) Progress() progress.Snapshot {
	j.mu.RLock()
	snap := progress.Snapshot{
		ChunksDone:  j.chunksDone,
		ChunksTotal: j.chunksTotal,
		BytesDone:   j.bytesDone,
		BytesTotal:  j.bytesTotal,
	}
	running := j.status == status.Active
	j.mu.RUnlock()

	if !running {
		return snap
	}

	return j.meter.Estimate(snap)
}

// FileErrors lists the files that were skipped or failed.
func (j *Job) FileErrors() []FileError {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var out []FileError

	for _, f := range j.files {
		if f.Err != "" {
			out = append(out, FileError{Source: f.Source, Dest: f.Dest, Err: f.Err})
		}
	}

	return out
}

// Save persists the current state of the job.
func (j *Job) Save() error {
	j.saveMu.Lock()
	defer j.saveMu.Unlock()

	return j.saver.Save(j.Record())
}

func (j *Job) persist() {
	if err := j.Save(); err != nil {
		logger.Errorf("Failed to persist job %s: %v", j.Name, err)
	}
}

// Run transfers every chunk that is not yet done and commits finished files.
// It returns nil once the job is Completed, an error wrapping
// errors.ErrJobPaused when ctx was canceled, and the failure cause when the
// job Failed. Running a Completed job is a no-op.
func (j *Job) Run(ctx context.Context) error {
	started, err := j.start()
	if err != nil || !started {
		return err
	}

	logger.Infof("Starting %s job %s", j.Direction, j.Name)
	j.persist()

	err = j.prepare(ctx)
	if err == nil {
		err = j.transfer(ctx)
	}

	if err == nil {
		err = j.finalize(ctx)
	}

	return j.finish(err)
}

func (j *Job) start() (bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	switch j.status {
	case status.Active:
		return false, errors.NewJobBusyError(j.Name)
	case status.Completed:
		return false, nil
	}

	for _, f := range j.files {
		if f.finished() {
			continue
		}

		f.Status = status.Active
		f.Err = ""

		for _, c := range f.Chunks {
			if c.Status() != status.Completed {
				c.SetStatus(status.Pending)
				c.ResetAttempts()
				c.SetError(nil)
			}
		}
	}

	j.status = status.Active
	j.lastErr = ""
	j.updatedAt = time.Now().UTC()
	j.recountLocked()
	j.meter.Reset()
	j.meter.Observe(time.Now(), j.bytesDone)

	return true, nil
}

// prepare checks that unfinished sources are unchanged and opens a staging
// session for every unfinished file that lacks one.
func (j *Job) prepare(ctx context.Context) error {
	for _, f := range j.files {
		if f.finished() {
			continue
		}

		if !f.allDone() || len(f.Chunks) == 0 {
			if err := j.validateSource(ctx, f); err != nil {
				j.setFileError(f, err)
				return err
			}
		}

		j.mu.RLock()
		uploadID := f.UploadID
		j.mu.RUnlock()

		if uploadID != "" {
			continue
		}

		id, err := j.dst.BeginUpload(ctx, f.Dest)
		if err != nil {
			j.setFileError(f, err)
			return err
		}

		j.mu.Lock()
		f.UploadID = id
		j.mu.Unlock()
	}

	j.persist()

	return nil
}

func (j *Job) validateSource(ctx context.Context, f *FileEntry) error {
	info, err := j.src.Stat(ctx, f.Source)
	if err != nil {
		return err
	}

	if info.IsDir || info.Size != f.Size {
		return &errors.StaleJobError{Path: f.Source, Planned: f.Size, Current: info.Size}
	}

	return nil
}

func (j *Job) transfer(ctx context.Context) error {
	var chunks []*chunk.Chunk

	for _, f := range j.files {
		if f.finished() {
			continue
		}

		for _, c := range f.Chunks {
			if c.Status() == status.Pending {
				chunks = append(chunks, c)
			}
		}
	}

	pool := worker.New(worker.Config{
		Workers:    j.Options.Workers,
		MaxRetries: j.Options.MaxRetries,
		RetryDelay: j.Options.RetryDelay,
		Limiter:    j.limiter,
	})

	logger.Debugf("Job %s dispatching %d chunk(s) on %d worker(s)", j.Name, len(chunks), pool.Workers())

	return pool.Run(ctx, chunks, j.transferChunk, worker.Observer{
		ChunkDone:   j.chunkDone,
		ChunkRetry:  j.chunkRetry,
		ChunkFailed: j.chunkFailed,
	})
}

func (j *Job) transferChunk(ctx context.Context, c *chunk.Chunk) error {
	f := j.owners[c]

	j.mu.RLock()
	uploadID := f.UploadID
	j.mu.RUnlock()

	r, err := j.src.ReadRange(ctx, f.Source, c.Offset, c.Length)
	if err != nil {
		return errors.Classify(err, f.Source)
	}
	defer r.Close()

	token, err := j.dst.WritePart(ctx, f.Dest, uploadID, storage.Part{
		Number: c.Index + 1,
		Offset: c.Offset,
		Size:   c.Length,
	}, r)
	if err != nil {
		return errors.Classify(err, f.Dest)
	}

	c.SetToken(token)

	return nil
}

func (j *Job) chunkDone(c *chunk.Chunk) {
	j.persist()

	j.mu.Lock()
	j.chunksDone++
	j.bytesDone += c.Length
	j.updatedAt = time.Now().UTC()
	done := j.bytesDone
	j.mu.Unlock()

	j.meter.Observe(time.Now(), done)
}

func (j *Job) chunkRetry(c *chunk.Chunk, err error) {
	logger.Warnf("Chunk %s of job %s failed, retrying: %v", c, j.Name, err)
	j.persist()
}

func (j *Job) chunkFailed(c *chunk.Chunk, err error) {
	f := j.owners[c]

	j.mu.Lock()
	f.Status = status.Failed
	f.Err = err.Error()
	j.mu.Unlock()

	j.persist()
}

// finalize commits every unfinished file whose chunks are all done.
func (j *Job) finalize(ctx context.Context) error {
	for _, f := range j.files {
		if f.finished() || !f.allDone() {
			continue
		}

		err := j.commit(ctx, f)
		if err != nil {
			j.setFileError(f, err)
			return err
		}

		j.mu.Lock()
		f.Status = status.Completed
		f.UploadID = ""
		j.mu.Unlock()

		logger.Debugf("Committed %s", f.Dest)
		j.persist()
	}

	return nil
}

func (j *Job) commit(ctx context.Context, f *FileEntry) error {
	parts := make([]storage.Part, 0, len(f.Chunks))
	for _, c := range f.Chunks {
		parts = append(parts, storage.Part{
			Number: c.Index + 1,
			Offset: c.Offset,
			Size:   c.Length,
			Token:  c.Token(),
		})
	}

	j.mu.RLock()
	uploadID := f.UploadID
	j.mu.RUnlock()

	err := j.dst.CompleteUpload(ctx, f.Dest, uploadID, parts)
	if err == nil {
		return nil
	}

	// A commit that succeeded before the process died leaves no session
	// behind but a complete destination.
	if errors.Is(err, errors.ErrNotFound) {
		info, statErr := j.dst.Stat(ctx, f.Dest)
		if statErr == nil && !info.IsDir && info.Size == f.Size {
			return nil
		}
	}

	return err
}

func (j *Job) finish(err error) error {
	j.mu.Lock()

	switch {
	case err == nil:
		j.status = status.Completed
		j.lastErr = ""
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		j.status = status.Paused
		err = fmt.Errorf("%w: %s", errors.ErrJobPaused, j.Name)

		for _, f := range j.files {
			if f.Status == status.Active {
				f.Status = status.Paused
			}
		}
	default:
		j.status = status.Failed
		j.lastErr = err.Error()
	}

	j.updatedAt = time.Now().UTC()
	final := j.status
	j.mu.Unlock()

	j.persist()

	switch final {
	case status.Completed:
		logger.Infof("Job %s completed", j.Name)
	case status.Paused:
		logger.Infof("Job %s paused", j.Name)
	default:
		logger.Errorf("Job %s failed: %v", j.Name, err)
	}

	return err
}

func (j *Job) setFileError(f *FileEntry, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}

	j.mu.Lock()
	f.Status = status.Failed
	f.Err = err.Error()
	j.mu.Unlock()
}

// Abort discards the staging sessions of every unfinished file.
func (j *Job) Abort(ctx context.Context) error {
	var errs []error

	for _, f := range j.files {
		j.mu.RLock()
		uploadID := f.UploadID
		done := f.Status == status.Completed
		j.mu.RUnlock()

		if uploadID == "" || done {
			continue
		}

		if err := j.dst.AbortUpload(ctx, f.Dest, uploadID); err != nil {
			logger.Warnf("Failed to abort staging session for %s: %v", f.Dest, err)
			errs = append(errs, err)

			continue
		}

		j.mu.Lock()
		f.UploadID = ""
		j.mu.Unlock()
	}

	return errors.Join(errs...)
}

func (j *Job) recount() {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.recountLocked()
}

func (j *Job) recountLocked() {
	j.chunksDone, j.chunksTotal = 0, 0
	j.bytesDone, j.bytesTotal = 0, 0

	for _, f := range j.files {
		if f.Skipped {
			continue
		}

		j.bytesTotal += f.Size

		for _, c := range f.Chunks {
			j.chunksTotal++

			if c.Status() == status.Completed {
				j.chunksDone++
				j.bytesDone += c.Length
			}
		}
	}
}
