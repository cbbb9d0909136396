package object

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// CompletedPart records the ETag returned for one uploaded part. Part
// numbers start at 1 per the S3 API.
type CompletedPart struct {
	PartNumber int32
	ETag       string
}

// IncompleteUpload describes a multipart upload that was started but never
// completed or aborted.
type IncompleteUpload struct {
	Key       string
	UploadID  string
	Initiated time.Time
}

// CreateMultipart starts a multipart upload and returns its upload ID.
// The envelope is recorded on the upload and applies to the final object.
func (c *Client) CreateMultipart(ctx context.Context, bucket, key string, env *Envelope) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	input := &s3.CreateMultipartUploadInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}
	if env != nil {
		input.Metadata = env.ToMetadata()
		if env.OriginalContentType != "" {
			input.ContentType = aws.String(env.OriginalContentType)
		}
	}

	out, err := c.observe(ctx, "CreateMultipartUpload", func(ctx context.Context) (any, error) {
		return c.api.CreateMultipartUpload(ctx, input)
	})
	if err != nil {
		return "", fmt.Errorf("failed to create multipart upload for %s/%s: %w", bucket, key, err)
	}

	result := out.(*s3.CreateMultipartUploadOutput)
	if result.UploadId == nil {
		return "", fmt.Errorf("multipart upload for %s/%s returned no upload ID", bucket, key)
	}
	return *result.UploadId, nil
}

// UploadPart uploads one part and returns its ETag. Parts may be uploaded
// concurrently and in any order.
func (c *Client) UploadPart(ctx context.Context, bucket, key, uploadID string, partNumber int32, data []byte) (CompletedPart, error) {
	if err := ctx.Err(); err != nil {
		return CompletedPart{}, err
	}

	out, err := c.observe(ctx, "UploadPart", func(ctx context.Context) (any, error) {
		return c.api.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:     aws.String(bucket),
			Key:        aws.String(key),
			UploadId:   aws.String(uploadID),
			PartNumber: aws.Int32(partNumber),
			Body:       bytes.NewReader(data),
		})
	})
	if err != nil {
		return CompletedPart{}, fmt.Errorf("failed to upload part %d for %s/%s: %w", partNumber, bucket, key, err)
	}
	c.metrics.RecordBytes("UploadPart", int64(len(data)))

	part := CompletedPart{PartNumber: partNumber}
	if etag := out.(*s3.UploadPartOutput).ETag; etag != nil {
		part.ETag = *etag
	}
	return part, nil
}

// CompleteMultipart finishes a multipart upload. parts must list every
// uploaded part in ascending part number order.
func (c *Client) CompleteMultipart(ctx context.Context, bucket, key, uploadID string, parts []CompletedPart) (*Ref, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("cannot complete multipart upload for %s/%s with no parts", bucket, key)
	}

	completed := make([]types.CompletedPart, len(parts))
	for i, p := range parts {
		completed[i] = types.CompletedPart{
			PartNumber: aws.Int32(p.PartNumber),
			ETag:       aws.String(p.ETag),
		}
	}

	out, err := c.observe(ctx, "CompleteMultipartUpload", func(ctx context.Context) (any, error) {
		return c.api.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
			Bucket:          aws.String(bucket),
			Key:             aws.String(key),
			UploadId:        aws.String(uploadID),
			MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to complete multipart upload for %s/%s: %w", bucket, key, err)
	}

	ref := &Ref{Bucket: bucket, Key: key}
	if etag := out.(*s3.CompleteMultipartUploadOutput).ETag; etag != nil {
		ref.ETag = *etag
	}
	return ref, nil
}

// AbortMultipart abandons a multipart upload and frees its stored parts.
// Aborting an upload that no longer exists is not an error.
func (c *Client) AbortMultipart(ctx context.Context, bucket, key, uploadID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := c.observe(ctx, "AbortMultipartUpload", func(ctx context.Context) (any, error) {
		return c.api.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
			Bucket:   aws.String(bucket),
			Key:      aws.String(key),
			UploadId: aws.String(uploadID),
		})
	})
	if err != nil {
		var noSuchUpload *types.NoSuchUpload
		if errors.As(err, &noSuchUpload) {
			return nil
		}
		return fmt.Errorf("failed to abort multipart upload for %s/%s: %w", bucket, key, err)
	}
	return nil
}

// ListIncompleteUploads returns all in-progress multipart uploads in the
// bucket, following pagination markers until the listing is exhausted.
func (c *Client) ListIncompleteUploads(ctx context.Context, bucket string) ([]IncompleteUpload, error) {
	var uploads []IncompleteUpload
	var keyMarker, uploadIDMarker *string

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		out, err := c.observe(ctx, "ListMultipartUploads", func(ctx context.Context) (any, error) {
			return c.api.ListMultipartUploads(ctx, &s3.ListMultipartUploadsInput{
				Bucket:         aws.String(bucket),
				KeyMarker:      keyMarker,
				UploadIdMarker: uploadIDMarker,
			})
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list multipart uploads in %s: %w", bucket, err)
		}

		result := out.(*s3.ListMultipartUploadsOutput)
		for _, u := range result.Uploads {
			upload := IncompleteUpload{}
			if u.Key != nil {
				upload.Key = *u.Key
			}
			if u.UploadId != nil {
				upload.UploadID = *u.UploadId
			}
			if u.Initiated != nil {
				upload.Initiated = *u.Initiated
			}
			uploads = append(uploads, upload)
		}

		if result.IsTruncated == nil || !*result.IsTruncated {
			return uploads, nil
		}
		keyMarker = result.NextKeyMarker
		uploadIDMarker = result.NextUploadIdMarker
	}
}
