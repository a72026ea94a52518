// Package miniostore implements storage.Store on MinIO using its low-level
// multipart API.
package miniostore

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"path"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/NamanBalaji/tfm/internal/errors"
	"github.com/NamanBalaji/tfm/internal/logger"
	"github.com/NamanBalaji/tfm/internal/storage"
)

// API is the subset of MinIO calls the store makes.
type API interface {
	StatObject(ctx context.Context, bucket, object string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	ListObjects(ctx context.Context, bucket string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
	GetObject(ctx context.Context, bucket, object string, opts minio.GetObjectOptions) (io.ReadCloser, error)
	PutObject(ctx context.Context, bucket, object string, r io.Reader, size int64, opts minio.PutObjectOptions) error
	NewMultipartUpload(ctx context.Context, bucket, object string, opts minio.PutObjectOptions) (string, error)
	PutObjectPart(ctx context.Context, bucket, object, uploadID string, partID int, r io.Reader, size int64, opts minio.PutObjectPartOptions) (minio.ObjectPart, error)
	CompleteMultipartUpload(ctx context.Context, bucket, object, uploadID string, parts []minio.CompletePart, opts minio.PutObjectOptions) error
	AbortMultipartUpload(ctx context.Context, bucket, object, uploadID string) error
}

type coreAPI struct {
	core *minio.Core
}

func (c coreAPI) StatObject(ctx context.Context, bucket, object string, opts minio.StatObjectOptions) (minio.ObjectInfo, error) {
	return c.core.Client.StatObject(ctx, bucket, object, opts)
}

func (c coreAPI) ListObjects(ctx context.Context, bucket string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo {
	return c.core.Client.ListObjects(ctx, bucket, opts)
}

func (c coreAPI) GetObject(ctx context.Context, bucket, object string, opts minio.GetObjectOptions) (io.ReadCloser, error) {
	body, _, _, err := c.core.GetObject(ctx, bucket, object, opts)
	return body, err
}

func (c coreAPI) PutObject(ctx context.Context, bucket, object string, r io.Reader, size int64, opts minio.PutObjectOptions) error {
	_, err := c.core.Client.PutObject(ctx, bucket, object, r, size, opts)
	return err
}

func (c coreAPI) NewMultipartUpload(ctx context.Context, bucket, object string, opts minio.PutObjectOptions) (string, error) {
	return c.core.NewMultipartUpload(ctx, bucket, object, opts)
}

func (c coreAPI) PutObjectPart(ctx context.Context, bucket, object, uploadID string, partID int, r io.Reader, size int64, opts minio.PutObjectPartOptions) (minio.ObjectPart, error) {
	return c.core.PutObjectPart(ctx, bucket, object, uploadID, partID, r, size, opts)
}

func (c coreAPI) CompleteMultipartUpload(ctx context.Context, bucket, object, uploadID string, parts []minio.CompletePart, opts minio.PutObjectOptions) error {
	_, err := c.core.CompleteMultipartUpload(ctx, bucket, object, uploadID, parts, opts)
	return err
}

func (c coreAPI) AbortMultipartUpload(ctx context.Context, bucket, object, uploadID string) error {
	return c.core.AbortMultipartUpload(ctx, bucket, object, uploadID)
}

// Options configures a store created with New.
type Options struct {
	Endpoint string
	Bucket   string
	Prefix   string
	Region   string
	Insecure bool
}

type Store struct {
	client API
	bucket string
	prefix string
}

var (
	_ storage.Store   = (*Store)(nil)
	_ storage.Limited = (*Store)(nil)
)

// New connects to a MinIO endpoint. Credentials come from the MINIO_* or
// AWS_* environment variables, then the shared AWS credentials file.
func New(opts Options) (*Store, error) {
	creds := credentials.NewChainCredentials([]credentials.Provider{
		&credentials.EnvMinio{},
		&credentials.EnvAWS{},
		&credentials.FileAWSCredentials{},
	})

	core, err := minio.NewCore(opts.Endpoint, &minio.Options{
		Creds:  creds,
		Secure: !opts.Insecure,
		Region: opts.Region,
	})
	if err != nil {
		return nil, errors.NewInvalidArgumentError("minio endpoint %q: %v", opts.Endpoint, err)
	}

	return NewWithClient(coreAPI{core: core}, opts.Bucket, opts.Prefix), nil
}

// NewWithClient returns a store over an existing client.
func NewWithClient(client API, bucket, prefix string) *Store {
	return &Store{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}
}

func (s *Store) String() string {
	if s.prefix == "" {
		return "minio://" + s.bucket
	}

	return "minio://" + s.bucket + "/" + s.prefix
}

// PartLimits reports the multipart quotas parts written to the store obey.
func (s *Store) PartLimits() storage.PartLimits {
	return storage.MultipartLimits
}

func (s *Store) Join(elem ...string) string {
	return path.Join(elem...)
}

func (s *Store) key(p string) string {
	p = strings.Trim(path.Clean("/"+p), "/")

	switch {
	case s.prefix == "":
		return p
	case p == "":
		return s.prefix
	default:
		return s.prefix + "/" + p
	}
}

func (s *Store) relative(key string) string {
	if s.prefix == "" {
		return key
	}

	return strings.TrimPrefix(key, s.prefix+"/")
}

func (s *Store) Stat(ctx context.Context, p string) (storage.FileInfo, error) {
	key := s.key(p)
	if key == "" {
		return storage.FileInfo{Path: p, IsDir: true}, nil
	}

	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return storage.FileInfo{
			Path:    p,
			Size:    info.Size,
			ModTime: info.LastModified,
		}, nil
	}

	convErr := convertError(err, key)
	if !errors.Is(convErr, errors.ErrNotFound) {
		return storage.FileInfo{}, convErr
	}

	listCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for obj := range s.client.ListObjects(listCtx, s.bucket, minio.ListObjectsOptions{
		Prefix:    key + "/",
		Recursive: true,
		MaxKeys:   1,
	}) {
		if obj.Err != nil {
			return storage.FileInfo{}, convertError(obj.Err, key)
		}

		return storage.FileInfo{Path: p, IsDir: true}, nil
	}

	return storage.FileInfo{}, convErr
}

func (s *Store) List(ctx context.Context, root string) ([]storage.FileInfo, error) {
	info, err := s.Stat(ctx, root)
	if err != nil {
		return nil, err
	}

	if !info.IsDir {
		return []storage.FileInfo{info}, nil
	}

	prefix := s.key(root)
	if prefix != "" {
		prefix += "/"
	}

	listCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var files []storage.FileInfo

	for obj := range s.client.ListObjects(listCtx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, convertError(obj.Err, prefix)
		}

		if strings.HasSuffix(obj.Key, "/") {
			continue
		}

		files = append(files, storage.FileInfo{
			Path:    s.relative(obj.Key),
			Size:    obj.Size,
			ModTime: obj.LastModified,
		})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Path < files[j].Path
	})

	return files, nil
}

func (s *Store) ReadRange(ctx context.Context, p string, offset, length int64) (io.ReadCloser, error) {
	key := s.key(p)

	opts := minio.GetObjectOptions{}
	if err := opts.SetRange(offset, offset+length-1); err != nil {
		return nil, errors.NewInvalidArgumentError("range %d+%d: %v", offset, length, err)
	}

	body, err := s.client.GetObject(ctx, s.bucket, key, opts)
	if err != nil {
		return nil, convertError(err, key)
	}

	return body, nil
}

func (s *Store) BeginUpload(ctx context.Context, p string) (string, error) {
	key := s.key(p)

	id, err := s.client.NewMultipartUpload(ctx, s.bucket, key, minio.PutObjectOptions{})
	if err != nil {
		return "", convertError(err, key)
	}

	logger.Debugf("Created multipart upload %s for %s/%s", id, s.bucket, key)

	return id, nil
}

func (s *Store) WritePart(ctx context.Context, p, uploadID string, part storage.Part, r io.Reader) (string, error) {
	key := s.key(p)

	objPart, err := s.client.PutObjectPart(ctx, s.bucket, key, uploadID, part.Number, r, part.Size, minio.PutObjectPartOptions{})
	if err != nil {
		return "", convertError(err, key)
	}

	return objPart.ETag, nil
}

func (s *Store) CompleteUpload(ctx context.Context, p, uploadID string, parts []storage.Part) error {
	key := s.key(p)

	if len(parts) == 0 {
		if err := s.AbortUpload(ctx, p, uploadID); err != nil {
			return err
		}

		err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(nil), 0, minio.PutObjectOptions{})
		if err != nil {
			return convertError(err, key)
		}

		return nil
	}

	completed := make([]minio.CompletePart, 0, len(parts))
	for _, part := range parts {
		completed = append(completed, minio.CompletePart{
			PartNumber: part.Number,
			ETag:       part.Token,
		})
	}

	sort.Slice(completed, func(i, j int) bool {
		return completed[i].PartNumber < completed[j].PartNumber
	})

	err := s.client.CompleteMultipartUpload(ctx, s.bucket, key, uploadID, completed, minio.PutObjectOptions{})
	if err != nil {
		return convertError(err, key)
	}

	return nil
}

func (s *Store) AbortUpload(ctx context.Context, p, uploadID string) error {
	key := s.key(p)

	err := s.client.AbortMultipartUpload(ctx, s.bucket, key, uploadID)
	if err != nil {
		convErr := convertError(err, key)
		if errors.Is(convErr, errors.ErrNotFound) {
			return nil
		}

		return convErr
	}

	return nil
}

func convertError(err error, key string) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return errors.NewContextError(err, key)
	}

	resp := minio.ToErrorResponse(err)

	switch resp.Code {
	case "NoSuchKey", "NoSuchUpload", "NoSuchBucket":
		return errors.NewBackendError(err, errors.BackendMinio, key, http.StatusNotFound)
	}

	return errors.NewBackendError(err, errors.BackendMinio, key, resp.StatusCode)
}
