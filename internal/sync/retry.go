package sync

import (
	"context"

	"github.com/sethvargo/go-retry"

	"github.com/personalizedrefrigerator/notesync/internal/common"
	"github.com/personalizedrefrigerator/notesync/internal/remote"
)

// withRetry runs op with capped exponential backoff, bounded attempts and a
// per-operation timeout. Only transient errors retry; conflicts, crypto
// deferrals and fatal causes return immediately.
func (e *Engine) withRetry(ctx context.Context, op func(ctx context.Context) error) error {
	backoff := retry.NewExponential(e.opts.RetryBase)
	backoff = retry.WithCappedDuration(e.opts.RetryCap, backoff)
	backoff = retry.WithMaxRetries(uint64(e.opts.MaxAttempts-1), backoff)

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		opCtx := ctx
		if e.opts.OpTimeout > 0 {
			var cancel context.CancelFunc
			opCtx, cancel = context.WithTimeout(ctx, e.opts.OpTimeout)
			defer cancel()
		}

		err := op(opCtx)
		if err != nil && common.ClassifyError(err) == common.KindTransient {
			return retry.RetryableError(err)
		}
		return err
	})
}

func (e *Engine) withRetryList(ctx context.Context, cursor string) (*remote.Page, error) {
	var page *remote.Page
	err := e.withRetry(ctx, func(ctx context.Context) error {
		var err error
		page, err = e.store.List(ctx, cursor)
		return err
	})
	return page, err
}
