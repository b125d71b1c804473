package pgdoc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsRetryable_PgCodes(t *testing.T) {
	retryable := []string{"40001", "40P01", "55P03", "08000", "08003", "08006", "57P03"}
	for _, code := range retryable {
		err := fmt.Errorf("query failed: %w", &pgconn.PgError{Code: code})
		if !isRetryable(err) {
			t.Errorf("code %s should be retryable", code)
		}
	}

	fatal := []string{"23505", "42601", "42P01", "22P02"}
	for _, code := range fatal {
		err := fmt.Errorf("query failed: %w", &pgconn.PgError{Code: code})
		if isRetryable(err) {
			t.Errorf("code %s should not be retryable", code)
		}
	}
}

func TestIsRetryable_NetErrors(t *testing.T) {
	var netErr net.Error = &net.OpError{Op: "read", Err: errors.New("connection reset by peer")}
	if !isRetryable(fmt.Errorf("wrapped: %w", netErr)) {
		t.Error("net errors should be retryable")
	}
	if !isRetryable(io.ErrUnexpectedEOF) {
		t.Error("unexpected EOF should be retryable")
	}
}

func TestIsRetryable_NeverOnCancellation(t *testing.T) {
	if isRetryable(context.Canceled) {
		t.Error("cancellation must not be retried")
	}
	if isRetryable(fmt.Errorf("tx failed: %w", context.DeadlineExceeded)) {
		t.Error("deadline exceeded must not be retried")
	}
	if isRetryable(nil) {
		t.Error("nil is not an error")
	}
}

func TestIsRetryable_PlainErrors(t *testing.T) {
	if isRetryable(errors.New("document malformed")) {
		t.Error("plain errors should not be retried")
	}
	if isRetryable(ErrUnknownTx) {
		t.Error("ErrUnknownTx should not be retried")
	}
}
