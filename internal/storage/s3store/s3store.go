// Package s3store implements storage.Store on Amazon S3 and S3-compatible
// services using multipart uploads as staging sessions.
package s3store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/NamanBalaji/tfm/internal/errors"
	"github.com/NamanBalaji/tfm/internal/logger"
	"github.com/NamanBalaji/tfm/internal/storage"
)

// API is the subset of the S3 client the store calls.
type API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

var _ API = (*s3.Client)(nil)

// Options configures a store created with New.
type Options struct {
	Bucket         string
	Prefix         string
	Region         string
	Profile        string
	Endpoint       string
	ForcePathStyle bool
}

// Store maps store paths to object keys under an optional prefix.
type Store struct {
	client API
	bucket string
	prefix string
}

var (
	_ storage.Store   = (*Store)(nil)
	_ storage.Limited = (*Store)(nil)
)

// New loads the default AWS credential chain and returns a store.
func New(ctx context.Context, opts Options) (*Store, error) {
	var loadOpts []func(*config.LoadOptions) error

	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}

	if opts.Profile != "" {
		loadOpts = append(loadOpts, config.WithSharedConfigProfile(opts.Profile))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}

		o.UsePathStyle = opts.ForcePathStyle
	})

	return NewWithClient(client, opts.Bucket, opts.Prefix), nil
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
		return "s3://" + s.bucket
	}

	return "s3://" + s.bucket + "/" + s.prefix
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

	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return storage.FileInfo{
			Path:    p,
			Size:    aws.ToInt64(out.ContentLength),
			ModTime: aws.ToTime(out.LastModified),
		}, nil
	}

	convErr := convertError(err, key)
	if !errors.Is(convErr, errors.ErrNotFound) {
		return storage.FileInfo{}, convErr
	}

	list, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(key + "/"),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return storage.FileInfo{}, convertError(err, key)
	}

	if len(list.Contents) == 0 {
		return storage.FileInfo{}, convErr
	}

	return storage.FileInfo{Path: p, IsDir: true}, nil
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

	var files []storage.FileInfo

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, convertError(err, prefix)
		}

		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if strings.HasSuffix(key, "/") {
				continue
			}

			files = append(files, storage.FileInfo{
				Path:    s.relative(key),
				Size:    aws.ToInt64(obj.Size),
				ModTime: aws.ToTime(obj.LastModified),
			})
		}
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Path < files[j].Path
	})

	return files, nil
}

func (s *Store) ReadRange(ctx context.Context, p string, offset, length int64) (io.ReadCloser, error) {
	key := s.key(p)

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)),
	})
	if err != nil {
		return nil, convertError(err, key)
	}

	return out.Body, nil
}

func (s *Store) BeginUpload(ctx context.Context, p string) (string, error) {
	key := s.key(p)

	out, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", convertError(err, key)
	}

	logger.Debugf("Created multipart upload %s for s3://%s/%s", aws.ToString(out.UploadId), s.bucket, key)

	return aws.ToString(out.UploadId), nil
}

func (s *Store) WritePart(ctx context.Context, p, uploadID string, part storage.Part, r io.Reader) (string, error) {
	key := s.key(p)

	out, err := s.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		UploadId:      aws.String(uploadID),
		PartNumber:    aws.Int32(int32(part.Number)),
		ContentLength: aws.Int64(part.Size),
		Body:          r,
	})
	if err != nil {
		return "", convertError(err, key)
	}

	return aws.ToString(out.ETag), nil
}

func (s *Store) CompleteUpload(ctx context.Context, p, uploadID string, parts []storage.Part) error {
	key := s.key(p)

	if len(parts) == 0 {
		// Multipart uploads need at least one part.
		if err := s.AbortUpload(ctx, p, uploadID); err != nil {
			return err
		}

		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(s.bucket),
			Key:           aws.String(key),
			Body:          bytes.NewReader(nil),
			ContentLength: aws.Int64(0),
		})
		if err != nil {
			return convertError(err, key)
		}

		return nil
	}

	completed := make([]types.CompletedPart, 0, len(parts))
	for _, part := range parts {
		completed = append(completed, types.CompletedPart{
			ETag:       aws.String(part.Token),
			PartNumber: aws.Int32(int32(part.Number)),
		})
	}

	sort.Slice(completed, func(i, j int) bool {
		return aws.ToInt32(completed[i].PartNumber) < aws.ToInt32(completed[j].PartNumber)
	})

	_, err := s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(s.bucket),
		Key:             aws.String(key),
		UploadId:        aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
	})
	if err != nil {
		return convertError(err, key)
	}

	return nil
}

func (s *Store) AbortUpload(ctx context.Context, p, uploadID string) error {
	key := s.key(p)

	_, err := s.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})
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

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchUpload", "NoSuchBucket":
			return errors.NewBackendError(err, errors.BackendS3, key, http.StatusNotFound)
		}
	}

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		return errors.NewBackendError(err, errors.BackendS3, key, respErr.HTTPStatusCode())
	}

	return errors.NewBackendError(err, errors.BackendS3, key, 0)
}
