package object

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 implements the API interface with in-memory buckets. It is not
// concurrency safe; tests using it are single goroutine.
type fakeS3 struct {
	objects   map[string]fakeObject
	uploads   map[string]*fakeUpload
	nextID    int
	pageSize  int
	failPut   error
	failGet   error
	callCount map[string]int
}

type fakeObject struct {
	data        []byte
	metadata    map[string]string
	contentType string
}

type fakeUpload struct {
	bucket    string
	key       string
	metadata  map[string]string
	parts     map[int32][]byte
	initiated time.Time
}

func newFakeS3() *fakeS3 {
	return &fakeS3{
		objects:   make(map[string]fakeObject),
		uploads:   make(map[string]*fakeUpload),
		callCount: make(map[string]int),
	}
}

func objKey(bucket, key string) string { return bucket + "/" + key }

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.callCount["PutObject"]++
	if f.failPut != nil {
		return nil, f.failPut
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	obj := fakeObject{data: data, metadata: in.Metadata}
	if in.ContentType != nil {
		obj.contentType = *in.ContentType
	}
	f.objects[objKey(*in.Bucket, *in.Key)] = obj
	return &s3.PutObjectOutput{ETag: aws.String(`"etag-put"`)}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.callCount["GetObject"]++
	if f.failGet != nil {
		return nil, f.failGet
	}
	obj, ok := f.objects[objKey(*in.Bucket, *in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	data := obj.data
	if in.Range != nil {
		var start, end int64
		if _, err := fmt.Sscanf(*in.Range, "bytes=%d-%d", &start, &end); err != nil {
			return nil, err
		}
		if end >= int64(len(data)) {
			end = int64(len(data)) - 1
		}
		data = data[start : end+1]
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		Metadata:      obj.metadata,
		ContentLength: aws.Int64(int64(len(data))),
	}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.callCount["HeadObject"]++
	obj, ok := f.objects[objKey(*in.Bucket, *in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(obj.data))),
		Metadata:      obj.metadata,
	}, nil
}

func (f *fakeS3) CreateMultipartUpload(_ context.Context, in *s3.CreateMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	f.callCount["CreateMultipartUpload"]++
	f.nextID++
	id := "upload-" + strconv.Itoa(f.nextID)
	f.uploads[id] = &fakeUpload{
		bucket:    *in.Bucket,
		key:       *in.Key,
		metadata:  in.Metadata,
		parts:     make(map[int32][]byte),
		initiated: time.Now(),
	}
	return &s3.CreateMultipartUploadOutput{UploadId: aws.String(id)}, nil
}

func (f *fakeS3) UploadPart(_ context.Context, in *s3.UploadPartInput, _ ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	f.callCount["UploadPart"]++
	up, ok := f.uploads[*in.UploadId]
	if !ok {
		return nil, &types.NoSuchUpload{}
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	up.parts[*in.PartNumber] = data
	return &s3.UploadPartOutput{
		ETag: aws.String(fmt.Sprintf(`"part-%d"`, *in.PartNumber)),
	}, nil
}

func (f *fakeS3) CompleteMultipartUpload(_ context.Context, in *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	f.callCount["CompleteMultipartUpload"]++
	up, ok := f.uploads[*in.UploadId]
	if !ok {
		return nil, &types.NoSuchUpload{}
	}
	var body []byte
	for _, p := range in.MultipartUpload.Parts {
		data, ok := up.parts[*p.PartNumber]
		if !ok {
			return nil, fmt.Errorf("part %d was never uploaded", *p.PartNumber)
		}
		body = append(body, data...)
	}
	f.objects[objKey(up.bucket, up.key)] = fakeObject{data: body, metadata: up.metadata}
	delete(f.uploads, *in.UploadId)
	return &s3.CompleteMultipartUploadOutput{ETag: aws.String(`"etag-multipart"`)}, nil
}

func (f *fakeS3) AbortMultipartUpload(_ context.Context, in *s3.AbortMultipartUploadInput, _ ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	f.callCount["AbortMultipartUpload"]++
	if _, ok := f.uploads[*in.UploadId]; !ok {
		return nil, &types.NoSuchUpload{}
	}
	delete(f.uploads, *in.UploadId)
	return &s3.AbortMultipartUploadOutput{}, nil
}

func (f *fakeS3) ListMultipartUploads(_ context.Context, in *s3.ListMultipartUploadsInput, _ ...func(*s3.Options)) (*s3.ListMultipartUploadsOutput, error) {
	f.callCount["ListMultipartUploads"]++
	var ids []string
	for id, up := range f.uploads {
		if up.bucket == *in.Bucket {
			ids = append(ids, id)
		}
	}
	// Deterministic order for pagination.
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			if ids[j] < ids[i] {
				ids[i], ids[j] = ids[j], ids[i]
			}
		}
	}
	start := 0
	if in.UploadIdMarker != nil {
		for i, id := range ids {
			if id == *in.UploadIdMarker {
				start = i
				break
			}
		}
	}
	end := len(ids)
	truncated := false
	if f.pageSize > 0 && start+f.pageSize < len(ids) {
		end = start + f.pageSize
		truncated = true
	}
	out := &s3.ListMultipartUploadsOutput{IsTruncated: aws.Bool(truncated)}
	for _, id := range ids[start:end] {
		up := f.uploads[id]
		out.Uploads = append(out.Uploads, types.MultipartUpload{
			Key:       aws.String(up.key),
			UploadId:  aws.String(id),
			Initiated: aws.Time(up.initiated),
		})
	}
	if truncated {
		out.NextKeyMarker = out.Uploads[len(out.Uploads)-1].Key
		out.NextUploadIdMarker = out.Uploads[len(out.Uploads)-1].UploadId
	}
	return out, nil
}

func newTestClient(t *testing.T) (*Client, *fakeS3) {
	t.Helper()
	fake := newFakeS3()
	client, err := NewClient(fake, nil)
	require.NoError(t, err)
	return client, fake
}

func TestNewClientRequiresAPI(t *testing.T) {
	_, err := NewClient(nil, nil)
	assert.Error(t, err)
}

func TestPutGetRoundTrip(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	env := &Envelope{
		Encrypted:           true,
		Nonce:               []byte("123456789012"),
		OriginalFilename:    "report.pdf",
		OriginalContentType: "application/pdf",
	}

	ref, err := client.Put(ctx, "bucket", "docs/report.pdf.enc", []byte("ciphertext"), env)
	require.NoError(t, err)
	assert.Equal(t, int64(len("ciphertext")), ref.Size)
	assert.NotEmpty(t, ref.ETag)

	data, got, err := client.Get(ctx, "bucket", "docs/report.pdf.enc")
	require.NoError(t, err)
	assert.Equal(t, []byte("ciphertext"), data)
	require.NotNil(t, got)
	assert.True(t, got.Encrypted)
	assert.Equal(t, env.Nonce, got.Nonce)
	assert.Equal(t, "report.pdf", got.OriginalFilename)
	assert.Equal(t, "application/pdf", got.OriginalContentType)
}

func TestGetMissingObject(t *testing.T) {
	client, _ := newTestClient(t)

	_, _, err := client.Get(context.Background(), "bucket", "nope")
	assert.ErrorIs(t, err, ErrObjectNotFound)

	_, _, err = client.Head(context.Background(), "bucket", "nope")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestGetRange(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	_, err := client.Put(ctx, "bucket", "blob", []byte("0123456789"), nil)
	require.NoError(t, err)

	data, err := client.GetRange(ctx, "bucket", "blob", 2, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte("2345"), data)
}

func TestHeadReturnsSizeAndEnvelope(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	env := &Envelope{Encrypted: true, OriginalFilename: "a.txt"}
	_, err := client.Put(ctx, "bucket", "a.txt.enc", []byte("abc"), env)
	require.NoError(t, err)

	size, got, err := client.Head(ctx, "bucket", "a.txt.enc")
	require.NoError(t, err)
	assert.Equal(t, int64(3), size)
	require.NotNil(t, got)
	assert.True(t, got.Encrypted)
}

func TestMultipartUploadFlow(t *testing.T) {
	client, fake := newTestClient(t)
	ctx := context.Background()

	env := &Envelope{Encrypted: true, OriginalFilename: "big.bin"}
	uploadID, err := client.CreateMultipart(ctx, "bucket", "big.bin.enc", env)
	require.NoError(t, err)
	require.NotEmpty(t, uploadID)

	var parts []CompletedPart
	for i, chunk := range [][]byte{[]byte("part-one-"), []byte("part-two-"), []byte("part-three")} {
		part, err := client.UploadPart(ctx, "bucket", "big.bin.enc", uploadID, int32(i+1), chunk)
		require.NoError(t, err)
		parts = append(parts, part)
	}

	ref, err := client.CompleteMultipart(ctx, "bucket", "big.bin.enc", uploadID, parts)
	require.NoError(t, err)
	assert.NotEmpty(t, ref.ETag)

	data, got, err := client.Get(ctx, "bucket", "big.bin.enc")
	require.NoError(t, err)
	assert.Equal(t, []byte("part-one-part-two-part-three"), data)
	require.NotNil(t, got)
	assert.Equal(t, "big.bin", got.OriginalFilename)
	assert.Empty(t, fake.uploads)
}

func TestCompleteMultipartRequiresParts(t *testing.T) {
	client, _ := newTestClient(t)

	uploadID, err := client.CreateMultipart(context.Background(), "bucket", "k", nil)
	require.NoError(t, err)

	_, err = client.CompleteMultipart(context.Background(), "bucket", "k", uploadID, nil)
	assert.Error(t, err)
}

func TestAbortMultipartIdempotent(t *testing.T) {
	client, fake := newTestClient(t)
	ctx := context.Background()

	uploadID, err := client.CreateMultipart(ctx, "bucket", "k", nil)
	require.NoError(t, err)

	require.NoError(t, client.AbortMultipart(ctx, "bucket", "k", uploadID))
	assert.Empty(t, fake.uploads)

	// Second abort hits NoSuchUpload and is swallowed.
	require.NoError(t, client.AbortMultipart(ctx, "bucket", "k", uploadID))
}

func TestListIncompleteUploadsPaginates(t *testing.T) {
	client, fake := newTestClient(t)
	fake.pageSize = 2
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := client.CreateMultipart(ctx, "bucket", fmt.Sprintf("key-%d", i), nil)
		require.NoError(t, err)
	}
	_, err := client.CreateMultipart(ctx, "other-bucket", "elsewhere", nil)
	require.NoError(t, err)

	uploads, err := client.ListIncompleteUploads(ctx, "bucket")
	require.NoError(t, err)
	assert.Len(t, uploads, 5)
	for _, u := range uploads {
		assert.NotEmpty(t, u.UploadID)
		assert.Contains(t, u.Key, "key-")
	}
}

func TestPutErrorIsWrapped(t *testing.T) {
	client, fake := newTestClient(t)
	fake.failPut = fmt.Errorf("connection reset")

	_, err := client.Put(context.Background(), "bucket", "k", []byte("x"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket/k")
}

func TestCanceledContext(t *testing.T) {
	client, _ := newTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Put(ctx, "bucket", "k", []byte("x"), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsQuotaExceeded(t *testing.T) {
	quota := &smithy.GenericAPIError{Code: "QuotaExceeded", Message: "over quota"}
	assert.True(t, IsQuotaExceeded(quota))
	assert.True(t, IsQuotaExceeded(fmt.Errorf("wrapped: %w", quota)))

	other := &smithy.GenericAPIError{Code: "AccessDenied"}
	assert.False(t, IsQuotaExceeded(other))
	assert.False(t, IsQuotaExceeded(fmt.Errorf("plain error")))
}
