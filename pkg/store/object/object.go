// Package object implements the S3-compatible object store client used by
// the transfer engine.
//
// Single-shot objects use PutObject/GetObject; large objects use the S3
// multipart API. Encryption envelope fields travel as object metadata
// headers (see envelope.go).
package object

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ErrObjectNotFound is returned when the requested object does not exist.
var ErrObjectNotFound = errors.New("object not found")

// API is the subset of the S3 client consumed by this package. The concrete
// *s3.Client satisfies it; tests substitute a fake.
type API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
	ListMultipartUploads(ctx context.Context, params *s3.ListMultipartUploadsInput, optFns ...func(*s3.Options)) (*s3.ListMultipartUploadsOutput, error)
}

// Ref identifies a stored object.
type Ref struct {
	Bucket string
	Key    string
	ETag   string
	Size   int64
}

// Client wraps the S3 API with envelope-aware operations.
//
// Thread Safety: Safe for concurrent use; the underlying SDK client is
// concurrency-safe and Client holds no mutable state.
type Client struct {
	api     API
	metrics Metrics
}

// NewClient creates a client over the given S3 API. metrics may be nil.
func NewClient(api API, metrics Metrics) (*Client, error) {
	if api == nil {
		return nil, fmt.Errorf("S3 API is required")
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Client{api: api, metrics: metrics}, nil
}

// Put uploads data as a single object. env carries the encryption envelope
// recorded as object metadata; nil means an unencrypted object with no
// envelope headers.
func (c *Client) Put(ctx context.Context, bucket, key string, data []byte, env *Envelope) (*Ref, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	}
	if env != nil {
		input.Metadata = env.ToMetadata()
		if env.OriginalContentType != "" {
			input.ContentType = aws.String(env.OriginalContentType)
		}
	}

	out, err := c.observe(ctx, "PutObject", func(ctx context.Context) (any, error) {
		return c.api.PutObject(ctx, input)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to put object %s/%s: %w", bucket, key, err)
	}
	c.metrics.RecordBytes("PutObject", int64(len(data)))

	ref := &Ref{Bucket: bucket, Key: key, Size: int64(len(data))}
	if etag := out.(*s3.PutObjectOutput).ETag; etag != nil {
		ref.ETag = *etag
	}
	return ref, nil
}

// Get downloads a whole object together with its decoded envelope.
func (c *Client) Get(ctx context.Context, bucket, key string) ([]byte, *Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	out, err := c.observe(ctx, "GetObject", func(ctx context.Context) (any, error) {
		return c.api.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
	})
	if err != nil {
		return nil, nil, wrapNotFound(err, bucket, key)
	}

	result := out.(*s3.GetObjectOutput)
	defer func() { _ = result.Body.Close() }()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read object body: %w", err)
	}
	c.metrics.RecordBytes("GetObject", int64(len(data)))

	return data, EnvelopeFromMetadata(result.Metadata), nil
}

// GetRange downloads length bytes starting at offset.
func (c *Client) GetRange(ctx context.Context, bucket, key string, offset, length int64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rangeStr := fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)
	out, err := c.observe(ctx, "GetObject", func(ctx context.Context) (any, error) {
		return c.api.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
			Range:  aws.String(rangeStr),
		})
	})
	if err != nil {
		return nil, wrapNotFound(err, bucket, key)
	}

	result := out.(*s3.GetObjectOutput)
	defer func() { _ = result.Body.Close() }()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object range: %w", err)
	}
	c.metrics.RecordBytes("GetObject", int64(len(data)))

	return data, nil
}

// Head returns an object's size and envelope without downloading the body.
func (c *Client) Head(ctx context.Context, bucket, key string) (int64, *Envelope, error) {
	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}

	out, err := c.observe(ctx, "HeadObject", func(ctx context.Context) (any, error) {
		return c.api.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
	})
	if err != nil {
		return 0, nil, wrapNotFound(err, bucket, key)
	}

	result := out.(*s3.HeadObjectOutput)
	size := int64(0)
	if result.ContentLength != nil {
		size = *result.ContentLength
	}

	return size, EnvelopeFromMetadata(result.Metadata), nil
}

// wrapNotFound translates S3 NoSuchKey/NotFound responses into
// ErrObjectNotFound; other errors pass through wrapped.
func wrapNotFound(err error, bucket, key string) error {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return fmt.Errorf("%s/%s: %w", bucket, key, ErrObjectNotFound)
	}
	return fmt.Errorf("object store request for %s/%s failed: %w", bucket, key, err)
}
