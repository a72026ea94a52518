package engine

import (
	"time"

	"github.com/NamanBalaji/tfm/internal/progress"
	"github.com/NamanBalaji/tfm/internal/status"
	"github.com/NamanBalaji/tfm/internal/transfer"
)

// Config contains transfer manager configuration
type Config struct {
	DBPath              string
	MaxConcurrentChunks int  // Cap on chunk operations across all jobs, 0 for none
	AutoClean           bool // Delete records of jobs as soon as they complete
	Defaults            transfer.Options
}

// DefaultConfig returns the default engine configuration
func DefaultConfig() *Config {
	return &Config{
		DBPath:   "jobs.db",
		Defaults: transfer.DefaultOptions(),
	}
}

// Filter narrows ListJobs. An empty Direction matches every job.
type Filter struct {
	Direction transfer.Direction
}

// Summary is one row of a job listing.
type Summary struct {
	Name       string
	Direction  transfer.Direction
	LocalPath  string
	RemotePath string
	Status     status.Status
	Progress   progress.Snapshot
	LastError  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// JobStatus is the detailed view of one job.
type JobStatus struct {
	Summary
	Files      int
	FileErrors []transfer.FileError
}
