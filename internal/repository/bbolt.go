package repository

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"github.com/NamanBalaji/tfm/internal/errors"
	"github.com/NamanBalaji/tfm/internal/logger"
)

const (
	jobsBucket     = "jobs"
	metadataBucket = "metadata"
	schemaVersion  = 1
)

// BboltRepository stores job records as JSON in a bbolt database.
type BboltRepository struct {
	db *bbolt.DB

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewBboltRepository opens (or creates) the database at dbPath. Only one
// process can hold the database open; a second open fails after a second.
func NewBboltRepository(dbPath string) (*BboltRepository, error) {
	options := &bbolt.Options{
		Timeout: 1 * time.Second,
	}

	db, err := bbolt.Open(dbPath, 0o600, options)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	repo := &BboltRepository{
		db:    db,
		locks: make(map[string]*sync.Mutex),
	}

	if err := repo.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return repo, nil
}

// initialize sets up buckets and schema
func (r *BboltRepository) initialize() error {
	return r.db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(jobsBucket))
		if err != nil {
			return fmt.Errorf("failed to create jobs bucket: %w", err)
		}

		metadataBucket, err := tx.CreateBucketIfNotExists([]byte(metadataBucket))
		if err != nil {
			return fmt.Errorf("failed to create metadata bucket: %w", err)
		}

		versionBytes := []byte(fmt.Sprintf("%d", schemaVersion))
		err = metadataBucket.Put([]byte("schema_version"), versionBytes)
		if err != nil {
			return fmt.Errorf("failed to store schema version: %w", err)
		}

		return nil
	})
}

func (r *BboltRepository) lockFor(name string) *sync.Mutex {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()

	l, ok := r.locks[name]
	if !ok {
		l = &sync.Mutex{}
		r.locks[name] = l
	}

	return l
}

// Save upserts a record. It returns after the write is committed to disk.
// Saves for one name apply in call order; saves for different names are
// batched into shared transactions.
func (r *BboltRepository) Save(rec *JobRecord) error {
	if rec == nil {
		return errors.NewInvalidArgumentError("cannot save nil job record")
	}

	if rec.Name == "" {
		return errors.NewInvalidArgumentError("job record has no name")
	}

	l := r.lockFor(rec.Name)
	l.Lock()
	defer l.Unlock()

	rec.Version = RecordVersion

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal job %s: %w", rec.Name, err)
	}

	return r.db.Batch(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(jobsBucket))
		if bucket == nil {
			return fmt.Errorf("bucket not found: %s", jobsBucket)
		}

		err := bucket.Put([]byte(rec.Name), data)
		if err != nil {
			return fmt.Errorf("failed to save job %s: %w", rec.Name, err)
		}

		return nil
	})
}

// Find retrieves a record by job name.
func (r *BboltRepository) Find(name string) (*JobRecord, error) {
	if name == "" {
		return nil, errors.NewInvalidArgumentError("job name cannot be empty")
	}

	var data []byte

	err := r.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(jobsBucket))
		if bucket == nil {
			return fmt.Errorf("bucket not found: %s", jobsBucket)
		}

		v := bucket.Get([]byte(name))
		if v == nil {
			return errors.NewNotFoundError("job " + name)
		}

		// bbolt values are only valid inside the transaction.
		data = append([]byte(nil), v...)

		return nil
	})
	if err != nil {
		return nil, err
	}

	return decode(name, data)
}

// FindAll retrieves every readable record, ordered by name. Records that
// cannot be decoded are logged and left out; Find reports them with an
// error matching errors.ErrUnreadableJob.
func (r *BboltRepository) FindAll() ([]*JobRecord, error) {
	var records []*JobRecord

	err := r.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(jobsBucket))
		if bucket == nil {
			return fmt.Errorf("bucket not found: %s", jobsBucket)
		}

		return bucket.ForEach(func(k, v []byte) error {
			rec, err := decode(string(k), v)
			if err != nil {
				logger.Warnf("Skipping job record: %v", err)
				return nil
			}

			records = append(records, rec)

			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return records, nil
}

// Delete removes a record. Deleting a missing name is not an error.
func (r *BboltRepository) Delete(name string) error {
	if name == "" {
		return errors.NewInvalidArgumentError("job name cannot be empty")
	}

	l := r.lockFor(name)
	l.Lock()
	defer l.Unlock()

	err := r.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(jobsBucket))
		if bucket == nil {
			return fmt.Errorf("bucket not found: %s", jobsBucket)
		}

		return bucket.Delete([]byte(name))
	})
	if err != nil {
		return fmt.Errorf("failed to delete job %s: %w", name, err)
	}

	return nil
}

// Close closes the database
func (r *BboltRepository) Close() error {
	return r.db.Close()
}

func decode(name string, data []byte) (*JobRecord, error) {
	rec := &JobRecord{}

	if err := json.Unmarshal(data, rec); err != nil {
		return nil, fmt.Errorf("%w %s: %w", errors.ErrUnreadableJob, name, err)
	}

	if rec.Version > RecordVersion {
		return nil, fmt.Errorf("%w %s: version %d is newer than supported version %d", errors.ErrUnreadableJob, name, rec.Version, RecordVersion)
	}

	return rec, nil
}
