package pgdoc

import (
	"context"
	"errors"
	"io"
	"net"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrUnknownTx is returned for a transaction kind outside the closed
	// variant set.
	ErrUnknownTx = errors.New("unknown transaction kind")

	// ErrClosed is returned when operating on a closed adapter or
	// iterator.
	ErrClosed = errors.New("adapter is closed")
)

// Retryable serialization conflict and connection errors; multi-statement
// work retries on these with backoff.
var retryableCodes = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"55P03": true, // lock_not_available
	"08000": true, // connection_exception
	"08003": true, // connection_does_not_exist
	"08006": true, // connection_failure
	"57P03": true, // cannot_connect_now
}

// isRetryable classifies an error as a transient conflict worth retrying.
// Context cancellation is never retryable.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return retryableCodes[pgErr.Code]
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF)
}
