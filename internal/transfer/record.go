package transfer

import (
	"fmt"

	"github.com/NamanBalaji/tfm/internal/chunk"
	"github.com/NamanBalaji/tfm/internal/repository"
	"github.com/NamanBalaji/tfm/internal/status"
)

// Record snapshots the job for persistence.
func (j *Job) Record() *repository.JobRecord {
	j.mu.RLock()
	defer j.mu.RUnlock()

	rec := &repository.JobRecord{
		Version:    repository.RecordVersion,
		Name:       j.Name,
		Direction:  string(j.Direction),
		LocalPath:  j.LocalPath,
		RemotePath: j.RemotePath,
		Options: repository.OptionsRecord{
			ChunkSize:  j.Options.ChunkSize,
			Workers:    j.Options.Workers,
			Overwrite:  j.Options.Overwrite,
			MaxRetries: j.Options.MaxRetries,
			RetryDelay: j.Options.RetryDelay,
		},
		Status:    j.status,
		LastError: j.lastErr,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.updatedAt,
		Files:     make([]repository.FileRecord, 0, len(j.files)),
	}

	for _, f := range j.files {
		fr := repository.FileRecord{
			Source:   f.Source,
			Dest:     f.Dest,
			Size:     f.Size,
			ModTime:  f.ModTime,
			UploadID: f.UploadID,
			Status:   f.Status,
			Skipped:  f.Skipped,
			Error:    f.Err,
			Chunks:   make([]repository.ChunkRecord, 0, len(f.Chunks)),
		}

		for _, c := range f.Chunks {
			fr.Chunks = append(fr.Chunks, repository.ChunkRecord{
				Index:     c.Index,
				Offset:    c.Offset,
				Length:    c.Length,
				Status:    c.Status(),
				Attempts:  c.Attempts(),
				Token:     c.Token(),
				LastError: c.LastError(),
			})
		}

		rec.Files = append(rec.Files, fr)
	}

	return rec
}

func filesFromRecord(rec *repository.JobRecord) ([]*FileEntry, error) {
	files := make([]*FileEntry, 0, len(rec.Files))

	for _, fr := range rec.Files {
		entry := &FileEntry{
			Source:   fr.Source,
			Dest:     fr.Dest,
			Size:     fr.Size,
			ModTime:  fr.ModTime,
			UploadID: fr.UploadID,
			Status:   fr.Status,
			Skipped:  fr.Skipped,
			Err:      fr.Error,
		}

		for _, cr := range fr.Chunks {
			entry.Chunks = append(entry.Chunks, chunk.Restore(cr.Index, cr.Offset, cr.Length, fr.Source, cr.Status, cr.Attempts, cr.Token, cr.LastError))
		}

		if !entry.Skipped {
			if err := chunk.Verify(entry.Chunks, entry.Size); err != nil {
				return nil, fmt.Errorf("job %s: corrupt record for %s: %w", rec.Name, fr.Source, err)
			}
		}

		if entry.Status == status.Active {
			entry.Status = status.Paused
		}

		files = append(files, entry)
	}

	return files, nil
}
