package pgdoc

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hcengineering/platform-sub001/internal/metrics"
)

const (
	maxTxRetries = 5
	retryBackoff = 25 * time.Millisecond
)

// withRetryTx runs fn inside an explicit transaction, retrying on
// serialization conflicts with linear backoff. The transaction is rolled
// back before every retry; the conflict error surfaces once retries are
// exhausted.
func (a *Adapter) withRetryTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt < maxTxRetries; attempt++ {
		if attempt > 0 {
			metrics.TxRetriesTotal.Inc()
			select {
			case <-time.After(time.Duration(attempt) * retryBackoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := a.runTx(ctx, fn)
		if err == nil {
			return nil
		}
		lastErr = err
		if !isRetryable(err) {
			return err
		}
		a.log.Warn("retrying transaction after conflict",
			"attempt", attempt+1, "error", err)
	}
	return fmt.Errorf("transaction failed after %d attempts: %w", maxTxRetries, lastErr)
}

func (a *Adapter) runTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}
