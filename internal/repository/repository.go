package repository

// Repository persists job records keyed by job name.
type Repository interface {
	Save(rec *JobRecord) error
	Find(name string) (*JobRecord, error)
	FindAll() ([]*JobRecord, error)
	Delete(name string) error
}
