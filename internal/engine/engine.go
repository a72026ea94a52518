package engine

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/NamanBalaji/tfm/internal/errors"
	"github.com/NamanBalaji/tfm/internal/logger"
	"github.com/NamanBalaji/tfm/internal/progress"
	"github.com/NamanBalaji/tfm/internal/repository"
	"github.com/NamanBalaji/tfm/internal/status"
	"github.com/NamanBalaji/tfm/internal/storage"
	"github.com/NamanBalaji/tfm/internal/transfer"
)

// runningJob tracks a job that is executing in this process.
type runningJob struct {
	job    *transfer.Job
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Engine maps job names to jobs and runs them against a local and a remote
// store. Every job it knows about is persisted in the repository.
type Engine struct {
	mu sync.RWMutex

	jobs       map[string]*runningJob
	clearing   map[string]struct{}
	repository *repository.BboltRepository
	local      storage.Store
	remote     storage.Store
	limiter    *semaphore.Weighted
	config     *Config

	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup

	now func() time.Time
}

// runTask runs a function in a goroutine tracked by the WaitGroup
func (e *Engine) runTask(task func()) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		task()
	}()
}

// New opens the job database and recovers jobs left running by a process
// that exited without pausing them. Local paths are resolved against local,
// which is normally a store rooted at "/".
func New(config *Config, local, remote storage.Store) (*Engine, error) {
	if config == nil {
		config = DefaultConfig()
	}

	if dir := filepath.Dir(config.DBPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
	}

	repo, err := repository.NewBboltRepository(config.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create repository: %w", err)
	}

	ctx, cancelFunc := context.WithCancel(context.Background())

	e := &Engine{
		jobs:       make(map[string]*runningJob),
		clearing:   make(map[string]struct{}),
		repository: repo,
		local:      local,
		remote:     remote,
		config:     config,
		ctx:        ctx,
		cancelFunc: cancelFunc,
		now:        time.Now,
	}

	if config.MaxConcurrentChunks > 0 {
		e.limiter = semaphore.NewWeighted(int64(config.MaxConcurrentChunks))
	}

	if err := e.recover(); err != nil {
		cancelFunc()
		repo.Close()

		return nil, err
	}

	return e, nil
}

// recover moves records left Active by a dead process to Paused.
func (e *Engine) recover() error {
	records, err := e.repository.FindAll()
	if err != nil {
		return fmt.Errorf("failed to load jobs: %w", err)
	}

	var recovered int

	for _, rec := range records {
		if rec.Status != status.Active {
			continue
		}

		job, err := e.restore(rec)
		if err != nil {
			logger.Warnf("Skipping job %s that cannot be restored: %v", rec.Name, err)
			continue
		}

		if err := job.Save(); err != nil {
			return fmt.Errorf("failed to recover job %s: %w", rec.Name, err)
		}

		recovered++
	}

	logger.Infof("Loaded %d job(s), recovered %d interrupted job(s)", len(records), recovered)

	return nil
}

func (e *Engine) params(dir transfer.Direction) transfer.Params {
	p := transfer.Params{
		Direction: dir,
		Saver:     e.repository,
		Limiter:   e.limiter,
		Source:    e.local,
		Dest:      e.remote,
	}

	if dir == transfer.Download {
		p.Source, p.Dest = e.remote, e.local
	}

	return p
}

func (e *Engine) restore(rec *repository.JobRecord) (*transfer.Job, error) {
	dir, err := transfer.ParseDirection(rec.Direction)
	if err != nil {
		return nil, err
	}

	return transfer.Restore(e.params(dir), rec)
}

// Defaults returns the options applied to unset fields of submitted jobs.
func (e *Engine) Defaults() transfer.Options {
	return e.config.Defaults
}

func (e *Engine) withDefaults(opts transfer.Options) (transfer.Options, error) {
	if opts.ChunkSize < 0 {
		return opts, errors.NewInvalidArgumentError("chunk size must be positive, got %d", opts.ChunkSize)
	}

	if opts.Workers < 0 {
		return opts, errors.NewInvalidArgumentError("worker count must not be negative, got %d", opts.Workers)
	}

	if opts.MaxRetries < 0 {
		return opts, errors.NewInvalidArgumentError("retry count must not be negative, got %d", opts.MaxRetries)
	}

	def := e.config.Defaults

	if opts.ChunkSize == 0 {
		opts.ChunkSize = def.ChunkSize
	}

	if opts.Workers == 0 {
		opts.Workers = def.Workers
	}

	if opts.MaxRetries == 0 {
		opts.MaxRetries = def.MaxRetries
	}

	if opts.RetryDelay <= 0 {
		opts.RetryDelay = def.RetryDelay
	}

	return opts, nil
}

// SubmitUpload plans an upload of localPath to remotePath, persists it and
// starts it in the background. Planning errors are returned directly.
func (e *Engine) SubmitUpload(ctx context.Context, localPath, remotePath string, opts transfer.Options) (string, error) {
	return e.submit(ctx, transfer.Upload, localPath, remotePath, opts)
}

// SubmitDownload plans a download of remotePath to localPath, persists it
// and starts it in the background.
func (e *Engine) SubmitDownload(ctx context.Context, remotePath, localPath string, opts transfer.Options) (string, error) {
	return e.submit(ctx, transfer.Download, localPath, remotePath, opts)
}

func (e *Engine) submit(ctx context.Context, dir transfer.Direction, localPath, remotePath string, opts transfer.Options) (string, error) {
	if e.ctx.Err() != nil {
		return "", errors.NewInvalidArgumentError("engine is shut down")
	}

	opts, err := e.withDefaults(opts)
	if err != nil {
		return "", err
	}

	localPath, err = absLocal(localPath)
	if err != nil {
		return "", err
	}

	p := e.params(dir)

	srcPath, dstPath := localPath, remotePath
	if dir == transfer.Download {
		srcPath, dstPath = remotePath, localPath
	}

	files, err := transfer.Plan(ctx, p.Source, p.Dest, srcPath, dstPath, opts.ChunkSize, opts.Overwrite)
	if err != nil {
		return "", err
	}

	p.LocalPath = localPath
	p.RemotePath = remotePath
	p.Options = opts

	e.mu.Lock()
	defer e.mu.Unlock()

	p.Name = e.uniqueName(dir, remotePath)

	job := transfer.New(p, files)
	if err := job.Save(); err != nil {
		return "", fmt.Errorf("failed to persist job %s: %w", p.Name, err)
	}

	jobCtx, cancel := context.WithCancel(e.ctx)
	rj := &runningJob{job: job, cancel: cancel, done: make(chan struct{})}
	e.jobs[p.Name] = rj

	e.runTask(func() {
		defer cancel()

		rj.err = job.Run(jobCtx)
		e.finished(p.Name, rj)
	})

	logger.Infof("Submitted %s job %s with %d file(s)", dir, p.Name, len(files))

	return p.Name, nil
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// uniqueName builds <direction>-<base>-<timestamp>, adding -2, -3... when a
// job of that name exists. Callers hold e.mu.
func (e *Engine) uniqueName(dir transfer.Direction, remotePath string) string {
	base := path.Base(strings.TrimRight(filepath.ToSlash(remotePath), "/"))
	if base == "." || base == "/" || base == "" {
		base = "root"
	}

	base = unsafeName.ReplaceAllString(base, "_")

	name := fmt.Sprintf("%s-%s-%s", dir, base, e.now().UTC().Format("20060102T150405Z"))
	candidate := name

	for i := 2; e.nameTaken(candidate); i++ {
		candidate = fmt.Sprintf("%s-%d", name, i)
	}

	return candidate
}

func (e *Engine) nameTaken(name string) bool {
	if e.busy(name) {
		return true
	}

	_, err := e.repository.Find(name)

	return err == nil
}

// busy reports whether name is running or being cleared. Callers hold e.mu.
func (e *Engine) busy(name string) bool {
	if _, ok := e.jobs[name]; ok {
		return true
	}

	_, ok := e.clearing[name]

	return ok
}

func (e *Engine) finished(name string, rj *runningJob) {
	e.mu.Lock()
	if e.jobs[name] == rj {
		delete(e.jobs, name)
	}
	e.mu.Unlock()

	if e.config.AutoClean && rj.job.Status() == status.Completed {
		if err := e.repository.Delete(name); err != nil {
			logger.Warnf("Failed to auto-clean job %s: %v", name, err)
		}
	}

	close(rj.done)
}

// Wait blocks until a job started by this engine stops and returns its
// result. For a job that is not running it reports the persisted outcome.
func (e *Engine) Wait(ctx context.Context, name string) error {
	e.mu.RLock()
	rj, ok := e.jobs[name]
	e.mu.RUnlock()

	if ok {
		select {
		case <-rj.done:
			return rj.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	rec, err := e.repository.Find(name)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) && e.config.AutoClean {
			return nil
		}

		return err
	}

	switch rec.Status {
	case status.Completed:
		return nil
	case status.Paused:
		return fmt.Errorf("%w: %s", errors.ErrJobPaused, name)
	case status.Failed:
		return fmt.Errorf("job %s failed: %s", name, rec.LastError)
	default:
		return nil
	}
}

// Pause stops dispatch for a running job. It returns at once; Wait reports
// when in-flight chunks have finished and the job is Paused.
func (e *Engine) Pause(name string) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rj, ok := e.jobs[name]
	if !ok {
		if _, err := e.repository.Find(name); err != nil {
			return err
		}

		return nil
	}

	rj.cancel()

	return nil
}

// ResumeJob runs a persisted job until it completes, fails or is paused by
// ctx. Only chunks that are not done are transferred.
func (e *Engine) ResumeJob(ctx context.Context, name string) error {
	e.mu.Lock()

	if e.ctx.Err() != nil {
		e.mu.Unlock()
		return errors.NewInvalidArgumentError("engine is shut down")
	}

	if e.busy(name) {
		e.mu.Unlock()
		return errors.NewJobBusyError(name)
	}

	rec, err := e.repository.Find(name)
	if err != nil {
		e.mu.Unlock()
		return err
	}

	job, err := e.restore(rec)
	if err != nil {
		e.mu.Unlock()
		return err
	}

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	rj := &runningJob{job: job, cancel: cancel, done: make(chan struct{})}
	e.jobs[name] = rj
	e.wg.Add(1)
	e.mu.Unlock()

	defer e.wg.Done()

	rj.err = job.Run(jobCtx)
	e.finished(name, rj)

	return rj.err
}

// ListJobs returns every persisted job matching filter, ordered by name.
// Running jobs report live progress.
func (e *Engine) ListJobs(filter Filter) ([]Summary, error) {
	records, err := e.repository.FindAll()
	if err != nil {
		return nil, err
	}

	summaries := make([]Summary, 0, len(records))

	for _, rec := range records {
		if filter.Direction != "" && rec.Direction != string(filter.Direction) {
			continue
		}

		summaries = append(summaries, e.summarize(rec))
	}

	return summaries, nil
}

func (e *Engine) summarize(rec *repository.JobRecord) Summary {
	e.mu.RLock()
	rj, running := e.jobs[rec.Name]
	e.mu.RUnlock()

	if running {
		return liveSummary(rj.job)
	}

	done, total := rec.ChunkCounts()

	snap := progress.Snapshot{ChunksDone: done, ChunksTotal: total}

	for _, f := range rec.Files {
		if f.Skipped {
			continue
		}

		snap.BytesTotal += f.Size

		for _, c := range f.Chunks {
			if c.Status == status.Completed {
				snap.BytesDone += c.Length
			}
		}
	}

	return Summary{
		Name:       rec.Name,
		Direction:  transfer.Direction(rec.Direction),
		LocalPath:  rec.LocalPath,
		RemotePath: rec.RemotePath,
		Status:     rec.Status,
		Progress:   snap,
		LastError:  rec.LastError,
		CreatedAt:  rec.CreatedAt,
		UpdatedAt:  rec.UpdatedAt,
	}
}

func liveSummary(job *transfer.Job) Summary {
	return Summary{
		Name:       job.Name,
		Direction:  job.Direction,
		LocalPath:  job.LocalPath,
		RemotePath: job.RemotePath,
		Status:     job.Status(),
		Progress:   job.Progress(),
		LastError:  job.LastError(),
		CreatedAt:  job.CreatedAt,
		UpdatedAt:  job.UpdatedAt(),
	}
}

// GetStatus returns the detailed state of one job.
func (e *Engine) GetStatus(name string) (*JobStatus, error) {
	e.mu.RLock()
	rj, running := e.jobs[name]
	e.mu.RUnlock()

	if running {
		rec := rj.job.Record()

		return &JobStatus{
			Summary:    liveSummary(rj.job),
			Files:      len(rec.Files),
			FileErrors: rj.job.FileErrors(),
		}, nil
	}

	rec, err := e.repository.Find(name)
	if err != nil {
		return nil, err
	}

	st := &JobStatus{
		Summary: e.summarize(rec),
		Files:   len(rec.Files),
	}

	for _, f := range rec.Files {
		if f.Error != "" {
			st.FileErrors = append(st.FileErrors, transfer.FileError{Source: f.Source, Dest: f.Dest, Err: f.Error})
		}
	}

	return st, nil
}

// ClearJobs removes the named job, aborting the staging sessions of its
// unfinished files. An empty name clears every job that is not running. A
// record that cannot be decoded is removed without aborting anything.
func (e *Engine) ClearJobs(ctx context.Context, name string) error {
	if name == "" {
		return e.clearMatching(ctx, func(*repository.JobRecord) bool { return true })
	}

	e.mu.Lock()

	if e.busy(name) {
		e.mu.Unlock()
		return errors.NewJobBusyError(name)
	}

	rec, err := e.repository.Find(name)
	if err != nil {
		defer e.mu.Unlock()

		if !errors.Is(err, errors.ErrUnreadableJob) {
			return err
		}

		logger.Warnf("Removing unreadable job %s: %v", name, err)

		return e.repository.Delete(name)
	}

	e.clearing[name] = struct{}{}
	e.mu.Unlock()

	return e.clearRecords(ctx, []*repository.JobRecord{rec})
}

// ClearDirection removes every upload or every download that is not running.
func (e *Engine) ClearDirection(ctx context.Context, dir transfer.Direction) error {
	return e.clearMatching(ctx, func(rec *repository.JobRecord) bool {
		return rec.Direction == string(dir)
	})
}

func (e *Engine) clearMatching(ctx context.Context, match func(*repository.JobRecord) bool) error {
	records, err := e.repository.FindAll()
	if err != nil {
		return err
	}

	var claimed []*repository.JobRecord

	e.mu.Lock()
	for _, rec := range records {
		if !match(rec) {
			continue
		}

		if e.busy(rec.Name) {
			logger.Infof("Not clearing running job %s", rec.Name)
			continue
		}

		e.clearing[rec.Name] = struct{}{}
		claimed = append(claimed, rec)
	}
	e.mu.Unlock()

	return e.clearRecords(ctx, claimed)
}

// clearRecords clears records the caller marked as clearing. Staging
// sessions are aborted without holding e.mu, since aborts may go over the
// network.
func (e *Engine) clearRecords(ctx context.Context, records []*repository.JobRecord) error {
	defer func() {
		e.mu.Lock()
		for _, rec := range records {
			delete(e.clearing, rec.Name)
		}
		e.mu.Unlock()
	}()

	var errs []error

	for _, rec := range records {
		if err := e.clearRecord(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (e *Engine) clearRecord(ctx context.Context, rec *repository.JobRecord) error {
	job, err := e.restore(rec)
	if err != nil {
		logger.Warnf("Clearing unreadable job %s without aborting its staging sessions: %v", rec.Name, err)
	} else if err := job.Abort(ctx); err != nil {
		logger.Warnf("Some staging sessions of job %s could not be aborted: %v", rec.Name, err)
	}

	if err := e.repository.Delete(rec.Name); err != nil {
		return err
	}

	logger.Infof("Cleared job %s", rec.Name)

	return nil
}

// Shutdown pauses every running job, waits for in-flight chunks and closes
// the database.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.cancelFunc()

	for _, rj := range e.jobs {
		rj.cancel()
	}
	e.mu.Unlock()

	waitChan := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(waitChan)
	}()

	select {
	case <-waitChan:
		logger.Debugf("All jobs stopped")
	case <-ctx.Done():
		logger.Warnf("Shutdown timed out, some jobs may not have stopped")
		return ctx.Err()
	}

	return e.repository.Close()
}

// absLocal makes a local path absolute and keeps a trailing separator,
// which marks a directory destination.
func absLocal(p string) (string, error) {
	if p == "" {
		p = "."
	}

	trailing := strings.HasSuffix(p, "/") || strings.HasSuffix(p, string(filepath.Separator))

	abs, err := filepath.Abs(p)
	if err != nil {
		return "", errors.NewInvalidArgumentError("bad local path %q: %v", p, err)
	}

	if trailing && !strings.HasSuffix(abs, string(filepath.Separator)) {
		abs += string(filepath.Separator)
	}

	return abs, nil
}
