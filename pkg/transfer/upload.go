package transfer

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/functionland/fulasync/internal/logger"
	"github.com/functionland/fulasync/pkg/crypto/content"
	"github.com/functionland/fulasync/pkg/store/object"
	"github.com/functionland/fulasync/pkg/store/state"
)

// Upload transfers the task's local file to the object store. For
// encrypted tasks dek must be the object's content key; small payloads are
// sealed in one shot, large ones chunk-by-chunk aligned to multipart parts.
func (e *Engine) Upload(ctx context.Context, task *state.Task, dek []byte) (result *Result, err error) {
	if task.Direction != state.DirectionUpload {
		return nil, fmt.Errorf("task %s is not an upload", task.ID)
	}
	if task.Encrypt && len(dek) != content.KeySize {
		return nil, fmt.Errorf("upload of %s requires a %d-byte content key", task.LocalPath, content.KeySize)
	}

	info, err := os.Stat(task.LocalPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", task.LocalPath, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", task.LocalPath)
	}

	start := time.Now()
	defer func() {
		var bytes int64
		if result != nil {
			bytes = result.BytesTransferred
		}
		e.metrics.ObserveTransfer(state.DirectionUpload, bytes, time.Since(start), err)
	}()

	if info.Size() < e.cfg.MultipartThreshold {
		result, err = e.uploadSingle(ctx, task, dek)
	} else {
		result, err = e.uploadMultipart(ctx, task, dek, info.Size())
	}
	if err != nil {
		return nil, err
	}

	logTransfer(state.DirectionUpload, task.Bucket, task.Key, result.BytesTransferred, time.Since(start))
	return result, nil
}

func (e *Engine) uploadSingle(ctx context.Context, task *state.Task, dek []byte) (*Result, error) {
	data, err := os.ReadFile(task.LocalPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", task.LocalPath, err)
	}

	env := &object.Envelope{
		OriginalFilename:    filepath.Base(task.LocalPath),
		OriginalContentType: contentTypeFor(task.LocalPath),
	}

	body := data
	if task.Encrypt {
		ciphertext, nonce, err := content.Encrypt(data, dek)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt %s: %w", task.LocalPath, err)
		}
		env.Encrypted = true
		env.Nonce = nonce
		body = ciphertext
	}

	tracker := e.newTracker(task.ID, int64(len(body)))
	if err := e.bandwidth.WaitN(ctx, len(body)); err != nil {
		return nil, err
	}
	reqCtx, cancel := e.requestCtx(ctx)
	ref, err := e.objects.Put(reqCtx, task.Bucket, task.Key, body, env)
	cancel()
	if err != nil {
		return nil, err
	}
	tracker.add(int64(len(body)))

	return &Result{
		BytesTransferred: int64(len(body)),
		Encrypted:        task.Encrypt,
		ETag:             ref.ETag,
	}, nil
}

// partJob is one multipart part ready for upload. For encrypted transfers
// data is the sealed chunk, already framed with its nonce and tag.
type partJob struct {
	number int32
	data   []byte
}

func (e *Engine) uploadMultipart(ctx context.Context, task *state.Task, dek []byte, size int64) (*Result, error) {
	env := &object.Envelope{
		OriginalFilename:    filepath.Base(task.LocalPath),
		OriginalContentType: contentTypeFor(task.LocalPath),
	}

	totalWire := size
	var sealer *content.ChunkSealer
	if task.Encrypt {
		var err error
		sealer, err = content.NewChunkSealer(dek)
		if err != nil {
			return nil, err
		}
		env.Encrypted = true
		env.ChunkSize = e.cfg.PartSize
		totalWire = content.SealedSize(size, e.cfg.PartSize)
	}

	file, err := os.Open(task.LocalPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", task.LocalPath, err)
	}
	defer func() { _ = file.Close() }()

	createCtx, cancel := e.requestCtx(ctx)
	uploadID, err := e.objects.CreateMultipart(createCtx, task.Bucket, task.Key, env)
	cancel()
	if err != nil {
		return nil, err
	}

	session := &state.MultipartSession{
		UploadID:  uploadID,
		Bucket:    task.Bucket,
		Key:       task.Key,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.sessions.SaveMultipartSession(ctx, session); err != nil {
		e.abortUpload(task.Bucket, task.Key, uploadID)
		return nil, fmt.Errorf("failed to record multipart session: %w", err)
	}

	etag, err := e.uploadParts(ctx, task, uploadID, file, size, sealer)
	if err != nil {
		if e.abortUpload(task.Bucket, task.Key, uploadID) {
			if delErr := e.sessions.DeleteMultipartSession(context.WithoutCancel(ctx), uploadID); delErr != nil {
				logger.Warn("failed to drop multipart session %s: %v", uploadID, delErr)
			}
		}
		return nil, err
	}

	if err := e.sessions.DeleteMultipartSession(ctx, uploadID); err != nil {
		logger.Warn("failed to drop multipart session %s: %v", uploadID, err)
	}

	return &Result{
		BytesTransferred: totalWire,
		Encrypted:        task.Encrypt,
		ETag:             etag,
	}, nil
}

// uploadParts reads the file sequentially, sealing each part when
// encryption is on, and uploads parts through a bounded worker pool.
// Sealing is order-dependent, so only the network side runs concurrently.
func (e *Engine) uploadParts(ctx context.Context, task *state.Task, uploadID string, file io.Reader, size int64, sealer *content.ChunkSealer) (string, error) {
	numParts := (size + e.cfg.PartSize - 1) / e.cfg.PartSize
	tracker := e.newTracker(task.ID, totalWireSize(size, e.cfg.PartSize, sealer != nil))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
		cancel()
	}

	jobs := make(chan partJob, e.cfg.PartConcurrency)
	parts := make([]object.CompletedPart, numParts)

	for w := 0; w < e.cfg.PartConcurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				part, err := e.uploadPartWithRetry(ctx, task.Bucket, task.Key, uploadID, job)
				if err != nil {
					fail(err)
					return
				}
				parts[job.number-1] = part
				tracker.add(int64(len(job.data)))
			}
		}()
	}

	remaining := size
	for i := int64(0); i < numParts; i++ {
		readLen := e.cfg.PartSize
		if remaining < readLen {
			readLen = remaining
		}
		buf := make([]byte, readLen)
		if _, err := io.ReadFull(file, buf); err != nil {
			fail(fmt.Errorf("failed to read part %d of %s: %w", i+1, task.LocalPath, err))
			break
		}
		remaining -= readLen

		data := buf
		if sealer != nil {
			sealed, err := sealer.Seal(buf, i == numParts-1)
			if err != nil {
				fail(fmt.Errorf("failed to seal part %d: %w", i+1, err))
				break
			}
			data = sealed
		}

		select {
		case jobs <- partJob{number: int32(i + 1), data: data}:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}
	close(jobs)
	wg.Wait()

	if firstErr != nil {
		return "", firstErr
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	completeCtx, completeCancel := e.requestCtx(ctx)
	defer completeCancel()
	ref, err := e.objects.CompleteMultipart(completeCtx, task.Bucket, task.Key, uploadID, parts)
	if err != nil {
		return "", err
	}
	return ref.ETag, nil
}

func (e *Engine) uploadPartWithRetry(ctx context.Context, bucket, key, uploadID string, job partJob) (object.CompletedPart, error) {
	var lastErr error
	for attempt := 0; attempt <= e.cfg.PartRetries; attempt++ {
		if attempt > 0 {
			e.metrics.IncPartRetry()
			select {
			case <-time.After(e.cfg.PartRetryDelay):
			case <-ctx.Done():
				return object.CompletedPart{}, ctx.Err()
			}
		}

		if err := e.bandwidth.WaitN(ctx, len(job.data)); err != nil {
			return object.CompletedPart{}, err
		}
		reqCtx, cancel := e.requestCtx(ctx)
		part, err := e.objects.UploadPart(reqCtx, bucket, key, uploadID, job.number, job.data)
		cancel()
		if err == nil {
			return part, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return object.CompletedPart{}, ctx.Err()
		}
		logger.Debug("part %d of %s/%s failed (attempt %d/%d): %v",
			job.number, bucket, key, attempt+1, e.cfg.PartRetries+1, err)
	}
	return object.CompletedPart{}, fmt.Errorf("part %d failed after %d attempts: %w", job.number, e.cfg.PartRetries+1, lastErr)
}

// abortUpload aborts a multipart upload on a detached context so a
// canceled transfer still releases its stored parts. Returns false when
// the abort itself failed; the session record then stays behind for the
// startup cleanup pass.
func (e *Engine) abortUpload(bucket, key, uploadID string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.objects.AbortMultipart(ctx, bucket, key, uploadID); err != nil {
		logger.Warn("failed to abort multipart upload %s for %s/%s: %v", uploadID, bucket, key, err)
		return false
	}
	return true
}

func totalWireSize(size, partSize int64, encrypted bool) int64 {
	if encrypted {
		return content.SealedSize(size, partSize)
	}
	return size
}
