package errors

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"
)

var (
	Is     = errors.Is
	As     = errors.As
	New    = errors.New
	Unwrap = errors.Unwrap
	Join   = errors.Join
)

type ErrorCategory string

const (
	CategoryNetwork  ErrorCategory = "NETWORK"  // Connection issues
	CategoryIO       ErrorCategory = "IO"       // File system or object store I/O
	CategoryResource ErrorCategory = "RESOURCE" // Missing or conflicting paths
	CategoryState    ErrorCategory = "STATE"    // Job lifecycle violations
	CategoryArgument ErrorCategory = "ARGUMENT" // Bad caller input
	CategoryContext  ErrorCategory = "CONTEXT"  // Context cancellation
	CategoryUnknown  ErrorCategory = "UNKNOWN"  // Unclassified errors
)

// Backend identifies which store produced an error.
type Backend string

const (
	BackendFS      Backend = "FS"
	BackendS3      Backend = "S3"
	BackendMinio   Backend = "MINIO"
	BackendGeneric Backend = "GENERIC"
)

// Sentinel errors. Every typed error in this package matches one of them
// through errors.Is.
var (
	ErrAlreadyExists   = New("already exists")
	ErrNotFound        = New("not found")
	ErrStaleJob        = New("stale job")
	ErrJobBusy         = New("job is running")
	ErrChunkTransfer   = New("chunk transfer failed")
	ErrInvalidArgument = New("invalid argument")
	ErrJobPaused       = New("job paused")
	ErrUnreadableJob   = New("unreadable job record")
)

// TransferError represents an error that occurred during a transfer operation.
type TransferError struct {
	Err        error         // Original error
	Category   ErrorCategory // General category
	Backend    Backend       // Which store generated this error
	Retryable  bool          // Whether retry is recommended
	Timestamp  time.Time     // When the error occurred
	Resource   string        // What path or job was being accessed
	StatusCode int           // HTTP status code for object stores
	Details    map[string]interface{}
}

// Error implements the error interface
func (e *TransferError) Error() string {
	if e.Backend == BackendGeneric || e.Backend == "" {
		if e.Resource == "" {
			return fmt.Sprintf("[%s] %v", e.Category, e.Err)
		}

		return fmt.Sprintf("[%s] %s: %v", e.Category, e.Resource, e.Err)
	}

	if e.StatusCode == 0 {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Backend, e.Category, e.Resource, e.Err)
	}

	return fmt.Sprintf("[%s:%s] %s (status: %d): %v", e.Backend, e.Category, e.Resource, e.StatusCode, e.Err)
}

// Unwrap provides the underlying cause for error unwrapping (compatible with errors.As)
func (e *TransferError) Unwrap() error {
	return e.Err
}

// ChunkTransferError is the cause of a Failed job: one chunk ran out of attempts
// or hit a non-retryable error.
type ChunkTransferError struct {
	Path     string
	Index    int
	Attempts int
	Err      error
}

func (e *ChunkTransferError) Error() string {
	return fmt.Sprintf("%v: %s chunk %d after %d attempt(s): %v", ErrChunkTransfer, e.Path, e.Index, e.Attempts, e.Err)
}

func (e *ChunkTransferError) Unwrap() error {
	return e.Err
}

func (e *ChunkTransferError) Is(target error) bool {
	return target == ErrChunkTransfer
}

// StaleJobError reports a source file whose size changed after planning.
type StaleJobError struct {
	Path    string
	Planned int64
	Current int64
}

func (e *StaleJobError) Error() string {
	return fmt.Sprintf("%v: %s size changed from %d to %d bytes", ErrStaleJob, e.Path, e.Planned, e.Current)
}

func (e *StaleJobError) Is(target error) bool {
	return target == ErrStaleJob
}

// NewNetworkError creates a network-related error
func NewNetworkError(err error, resource string, retryable bool) *TransferError {
	return &TransferError{
		Err:       err,
		Category:  CategoryNetwork,
		Backend:   BackendGeneric,
		Retryable: retryable,
		Timestamp: time.Now(),
		Resource:  resource,
	}
}

// NewIOError creates an I/O related error. Chunk I/O is retried by the worker
// pool, so these are retryable.
func NewIOError(err error, resource string) *TransferError {
	return &TransferError{
		Err:       err,
		Category:  CategoryIO,
		Backend:   BackendGeneric,
		Retryable: true,
		Timestamp: time.Now(),
		Resource:  resource,
	}
}

// NewContextError creates a context cancellation error
func NewContextError(err error, resource string) *TransferError {
	return &TransferError{
		Err:       err,
		Category:  CategoryContext,
		Backend:   BackendGeneric,
		Retryable: false,
		Timestamp: time.Now(),
		Resource:  resource,
	}
}

// NewNotFoundError reports a missing job or source path.
func NewNotFoundError(resource string) *TransferError {
	return &TransferError{
		Err:       ErrNotFound,
		Category:  CategoryResource,
		Backend:   BackendGeneric,
		Timestamp: time.Now(),
		Resource:  resource,
	}
}

// NewAlreadyExistsError reports a destination that exists while overwrite is off.
func NewAlreadyExistsError(resource string) *TransferError {
	return &TransferError{
		Err:       ErrAlreadyExists,
		Category:  CategoryResource,
		Backend:   BackendGeneric,
		Timestamp: time.Now(),
		Resource:  resource,
	}
}

// NewJobBusyError reports an operation refused because the job is running.
func NewJobBusyError(name string) *TransferError {
	return &TransferError{
		Err:       ErrJobBusy,
		Category:  CategoryState,
		Backend:   BackendGeneric,
		Timestamp: time.Now(),
		Resource:  name,
	}
}

// NewInvalidArgumentError reports bad caller input, such as an unparsable flag.
func NewInvalidArgumentError(format string, args ...interface{}) *TransferError {
	return &TransferError{
		Err:       fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...)),
		Category:  CategoryArgument,
		Backend:   BackendGeneric,
		Timestamp: time.Now(),
	}
}

// NewBackendError creates an object-store error from an HTTP status code.
func NewBackendError(err error, backend Backend, resource string, statusCode int) *TransferError {
	retryable := false
	category := CategoryNetwork

	switch {
	case statusCode == 404:
		category = CategoryResource
		err = fmt.Errorf("%w: %w", ErrNotFound, err)
	case statusCode >= 500 && statusCode != 501:
		retryable = true
	case statusCode == 429 || statusCode == 408:
		retryable = true
	case statusCode >= 400:
		category = CategoryResource
	default:
		retryable = true
	}

	return &TransferError{
		Err:        err,
		Category:   category,
		Backend:    backend,
		Retryable:  retryable,
		Timestamp:  time.Now(),
		Resource:   resource,
		StatusCode: statusCode,
	}
}

// Classify wraps an unclassified error from a chunk operation so the worker
// pool can decide whether to retry it.
func Classify(err error, resource string) error {
	if err == nil {
		return nil
	}

	var transferErr *TransferError
	if As(err, &transferErr) {
		return err
	}

	if Is(err, context.Canceled) || Is(err, context.DeadlineExceeded) {
		return NewContextError(err, resource)
	}

	if Is(err, fs.ErrNotExist) || Is(err, ErrNotFound) {
		return &TransferError{
			Err:       fmt.Errorf("%w: %w", ErrNotFound, err),
			Category:  CategoryResource,
			Backend:   BackendGeneric,
			Timestamp: time.Now(),
			Resource:  resource,
		}
	}

	return NewIOError(err, resource)
}

// IsRetryable determines if an error should be retried
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var transferErr *TransferError
	if As(err, &transferErr) {
		return transferErr.Retryable
	}

	return false
}

// IsNetworkError determines if the error is network-related
func IsNetworkError(err error) bool {
	var transferErr *TransferError
	return As(err, &transferErr) && transferErr.Category == CategoryNetwork
}

// IsIOError determines if the error is I/O related
func IsIOError(err error) bool {
	var transferErr *TransferError
	return As(err, &transferErr) && transferErr.Category == CategoryIO
}

// GetStatusCode extracts the status code from an error if available
func GetStatusCode(err error) (int, bool) {
	var transferErr *TransferError
	if As(err, &transferErr) {
		return transferErr.StatusCode, true
	}
	return 0, false
}

// WithDetails adds additional context to a TransferError
func WithDetails(err error, details map[string]interface{}) error {
	var transferErr *TransferError
	if !As(err, &transferErr) {
		return err
	}

	if transferErr.Details == nil {
		transferErr.Details = make(map[string]interface{})
	}

	for k, v := range details {
		transferErr.Details[k] = v
	}

	return transferErr
}
