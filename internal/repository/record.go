package repository

import (
	"time"

	"github.com/NamanBalaji/tfm/internal/status"
)

// RecordVersion is written into every saved record.
const RecordVersion = 1

// JobRecord is the persisted form of a transfer job.
type JobRecord struct {
	Version    int           `json:"version"`
	Name       string        `json:"name"`
	Direction  string        `json:"direction"`
	LocalPath  string        `json:"localPath"`
	RemotePath string        `json:"remotePath"`
	Options    OptionsRecord `json:"options"`
	Status     status.Status `json:"status"`
	LastError  string        `json:"lastError,omitempty"`
	CreatedAt  time.Time     `json:"createdAt"`
	UpdatedAt  time.Time     `json:"updatedAt"`
	Files      []FileRecord  `json:"files"`
}

type OptionsRecord struct {
	ChunkSize  int64         `json:"chunkSize"`
	Workers    int           `json:"workers"`
	Overwrite  bool          `json:"overwrite"`
	MaxRetries int           `json:"maxRetries"`
	RetryDelay time.Duration `json:"retryDelay"`
}

type FileRecord struct {
	Source   string        `json:"source"`
	Dest     string        `json:"dest"`
	Size     int64         `json:"size"`
	ModTime  time.Time     `json:"modTime"`
	UploadID string        `json:"uploadId,omitempty"`
	Status   status.Status `json:"status"`
	Skipped  bool          `json:"skipped,omitempty"`
	Error    string        `json:"error,omitempty"`
	Chunks   []ChunkRecord `json:"chunks"`
}

type ChunkRecord struct {
	Index     int           `json:"index"`
	Offset    int64         `json:"offset"`
	Length    int64         `json:"length"`
	Status    status.Status `json:"status"`
	Attempts  int           `json:"attempts,omitempty"`
	Token     string        `json:"token,omitempty"`
	LastError string        `json:"lastError,omitempty"`
}

// ChunkCounts returns the number of completed chunks and the total.
func (r *JobRecord) ChunkCounts() (done, total int) {
	for _, f := range r.Files {
		for _, c := range f.Chunks {
			total++
			if c.Status == status.Completed {
				done++
			}
		}
	}

	return done, total
}
