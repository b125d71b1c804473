package database

import (
	"context"
	"os"
	"testing"
)

func TestAcquire_BadDSN(t *testing.T) {
	m := NewManager()
	defer m.Shutdown()

	if _, err := m.Acquire(context.Background(), Config{DSN: "not a dsn"}); err == nil {
		t.Fatal("expected error for malformed DSN")
	}
}

func TestShutdown_EmptyManager(t *testing.T) {
	m := NewManager()
	m.Shutdown()
	m.Shutdown()
}

func TestManager_SharesPoolPerDSN(t *testing.T) {
	dsn := os.Getenv("PGDOC_TEST_DSN")
	if dsn == "" {
		t.Skip("PGDOC_TEST_DSN not set")
	}
	m := NewManager()
	defer m.Shutdown()
	ctx := context.Background()

	h1, err := m.Acquire(ctx, Config{DSN: dsn})
	if err != nil {
		t.Fatalf("failed to acquire: %v", err)
	}
	h2, err := m.Acquire(ctx, Config{DSN: dsn})
	if err != nil {
		t.Fatalf("failed to acquire second handle: %v", err)
	}
	if h1.Pool() != h2.Pool() {
		t.Fatal("same DSN must share one pool")
	}

	// Closing one reference keeps the pool alive for the other.
	h1.Close()
	h1.Close() // idempotent
	if err := h2.Pool().Ping(ctx); err != nil {
		t.Fatalf("pool closed while a reference remained: %v", err)
	}

	h2.Close()
	if len(m.pools) != 0 {
		t.Fatal("last close must drop the pool from the registry")
	}
}
