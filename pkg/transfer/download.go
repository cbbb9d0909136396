package transfer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/functionland/fulasync/internal/logger"
	"github.com/functionland/fulasync/pkg/crypto/content"
	"github.com/functionland/fulasync/pkg/store/object"
	"github.com/functionland/fulasync/pkg/store/state"
)

// Download transfers an object to the task's local path. The payload is
// fully authenticated before the destination file appears: bytes land in a
// temp file in the destination directory, which is renamed into place only
// after decryption succeeds end to end.
func (e *Engine) Download(ctx context.Context, task *state.Task, dek []byte) (result *Result, err error) {
	if task.Direction != state.DirectionDownload {
		return nil, fmt.Errorf("task %s is not a download", task.ID)
	}

	start := time.Now()
	defer func() {
		var bytes int64
		if result != nil {
			bytes = result.BytesTransferred
		}
		e.metrics.ObserveTransfer(state.DirectionDownload, bytes, time.Since(start), err)
	}()

	headCtx, cancel := e.requestCtx(ctx)
	size, env, err := e.objects.Head(headCtx, task.Bucket, task.Key)
	cancel()
	if err != nil {
		return nil, err
	}

	encrypted := env != nil && env.Encrypted
	if encrypted && len(dek) != content.KeySize {
		return nil, fmt.Errorf("download of %s/%s requires a %d-byte content key", task.Bucket, task.Key, content.KeySize)
	}
	if task.Encrypt && !encrypted {
		logger.Warn("task %s expected an encrypted object but %s/%s is stored in clear", task.ID, task.Bucket, task.Key)
	}

	dir := filepath.Dir(task.LocalPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".fulasync-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	tracker := e.newTracker(task.ID, size)

	switch {
	case !encrypted:
		err = e.downloadPlain(ctx, task, size, tmp, tracker)
	case len(env.Nonce) > 0:
		err = e.downloadSingleEncrypted(ctx, task, env, dek, tmp, tracker)
	case env.ChunkSize > 0:
		err = e.downloadChunked(ctx, task, size, env.ChunkSize, dek, tmp, tracker)
	default:
		err = fmt.Errorf("object %s/%s is encrypted but carries neither a nonce nor a chunk size", task.Bucket, task.Key)
	}
	if err != nil {
		return nil, err
	}

	if err = tmp.Sync(); err != nil {
		return nil, fmt.Errorf("failed to sync %s: %w", tmpPath, err)
	}
	if err = tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to close %s: %w", tmpPath, err)
	}
	if err = os.Chmod(tmpPath, 0o644); err != nil {
		return nil, err
	}
	if err = os.Rename(tmpPath, task.LocalPath); err != nil {
		return nil, fmt.Errorf("failed to move download into place: %w", err)
	}

	result = &Result{BytesTransferred: size, Encrypted: encrypted}
	logTransfer(state.DirectionDownload, task.Bucket, task.Key, size, time.Since(start))
	return result, nil
}

func (e *Engine) downloadPlain(ctx context.Context, task *state.Task, size int64, dst *os.File, tracker *progressTracker) error {
	if size < e.cfg.MultipartThreshold {
		if err := e.bandwidth.WaitN(ctx, int(size)); err != nil {
			return err
		}
		reqCtx, cancel := e.requestCtx(ctx)
		data, _, err := e.objects.Get(reqCtx, task.Bucket, task.Key)
		cancel()
		if err != nil {
			return err
		}
		if _, err := dst.Write(data); err != nil {
			return fmt.Errorf("failed to write download: %w", err)
		}
		tracker.add(int64(len(data)))
		return nil
	}

	for offset := int64(0); offset < size; offset += e.cfg.PartSize {
		length := e.cfg.PartSize
		if size-offset < length {
			length = size - offset
		}
		if err := e.bandwidth.WaitN(ctx, int(length)); err != nil {
			return err
		}
		reqCtx, cancel := e.requestCtx(ctx)
		data, err := e.objects.GetRange(reqCtx, task.Bucket, task.Key, offset, length)
		cancel()
		if err != nil {
			return err
		}
		if _, err := dst.Write(data); err != nil {
			return fmt.Errorf("failed to write download: %w", err)
		}
		tracker.add(int64(len(data)))
	}
	return nil
}

func (e *Engine) downloadSingleEncrypted(ctx context.Context, task *state.Task, env *object.Envelope, dek []byte, dst *os.File, tracker *progressTracker) error {
	if err := e.bandwidth.WaitN(ctx, int(tracker.total)); err != nil {
		return err
	}
	reqCtx, cancel := e.requestCtx(ctx)
	data, _, err := e.objects.Get(reqCtx, task.Bucket, task.Key)
	cancel()
	if err != nil {
		return err
	}
	tracker.add(int64(len(data)))

	plaintext, err := content.Decrypt(data, env.Nonce, dek)
	if err != nil {
		return fmt.Errorf("failed to decrypt %s/%s: %w", task.Bucket, task.Key, err)
	}
	if _, err := dst.Write(plaintext); err != nil {
		return fmt.Errorf("failed to write download: %w", err)
	}
	return nil
}

// downloadChunked fetches a chunk-sealed object range by range, opening
// each chunk in stream order. The chunk AAD carries position and final
// markers, so reordered or truncated downloads fail authentication.
func (e *Engine) downloadChunked(ctx context.Context, task *state.Task, size, chunkSize int64, dek []byte, dst *os.File, tracker *progressTracker) error {
	opener, err := content.NewChunkOpener(dek)
	if err != nil {
		return err
	}

	sealedChunk := chunkSize + content.ChunkOverhead
	numChunks := (size + sealedChunk - 1) / sealedChunk

	for i := int64(0); i < numChunks; i++ {
		offset := i * sealedChunk
		length := sealedChunk
		if size-offset < length {
			length = size - offset
		}

		if err := e.bandwidth.WaitN(ctx, int(length)); err != nil {
			return err
		}
		reqCtx, cancel := e.requestCtx(ctx)
		data, err := e.objects.GetRange(reqCtx, task.Bucket, task.Key, offset, length)
		cancel()
		if err != nil {
			return err
		}
		tracker.add(int64(len(data)))

		plaintext, err := opener.Open(data, i == numChunks-1)
		if err != nil {
			return fmt.Errorf("failed to decrypt chunk %d of %s/%s: %w", i, task.Bucket, task.Key, err)
		}
		if _, err := dst.Write(plaintext); err != nil {
			return fmt.Errorf("failed to write download: %w", err)
		}
	}

	if !opener.Finalized() {
		return fmt.Errorf("download of %s/%s ended before the final chunk: %w", task.Bucket, task.Key, content.ErrAuthenticationFailed)
	}
	return nil
}
