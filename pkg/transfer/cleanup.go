package transfer

import (
	"context"
	"time"

	"github.com/functionland/fulasync/internal/logger"
)

// abandonedUploadAge is how old a remote multipart upload must be before
// the cleanup pass aborts it without a matching local session record.
// Younger uploads may belong to another live client.
const abandonedUploadAge = 24 * time.Hour

// CleanupAbandoned aborts multipart uploads left behind by earlier runs.
//
// Two sources are reconciled: locally recorded sessions, which are always
// aborted, and the bucket's own listing of in-progress uploads, where only
// uploads older than a day are touched. Returns the number of uploads
// aborted.
func (e *Engine) CleanupAbandoned(ctx context.Context, bucket string) (int, error) {
	aborted := 0

	sessions, err := e.sessions.ListMultipartSessions(ctx)
	if err != nil {
		return 0, err
	}
	for _, s := range sessions {
		if err := ctx.Err(); err != nil {
			return aborted, err
		}
		reqCtx, cancel := e.requestCtx(ctx)
		err := e.objects.AbortMultipart(reqCtx, s.Bucket, s.Key, s.UploadID)
		cancel()
		if err != nil {
			logger.Warn("failed to abort recorded multipart upload %s for %s/%s: %v", s.UploadID, s.Bucket, s.Key, err)
			continue
		}
		if err := e.sessions.DeleteMultipartSession(ctx, s.UploadID); err != nil {
			logger.Warn("failed to drop multipart session %s: %v", s.UploadID, err)
		}
		aborted++
		logger.Info("aborted abandoned multipart upload %s for %s/%s", s.UploadID, s.Bucket, s.Key)
	}

	listCtx, cancel := e.requestCtx(ctx)
	uploads, err := e.objects.ListIncompleteUploads(listCtx, bucket)
	cancel()
	if err != nil {
		return aborted, err
	}
	cutoff := time.Now().Add(-abandonedUploadAge)
	for _, u := range uploads {
		if err := ctx.Err(); err != nil {
			return aborted, err
		}
		if u.Initiated.After(cutoff) {
			continue
		}
		reqCtx, cancel := e.requestCtx(ctx)
		err := e.objects.AbortMultipart(reqCtx, bucket, u.Key, u.UploadID)
		cancel()
		if err != nil {
			logger.Warn("failed to abort stale multipart upload %s for %s/%s: %v", u.UploadID, bucket, u.Key, err)
			continue
		}
		aborted++
		logger.Info("aborted stale multipart upload %s for %s/%s", u.UploadID, bucket, u.Key)
	}

	return aborted, nil
}
