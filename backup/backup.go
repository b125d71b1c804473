// Package backup snapshots per-domain document digests to object storage.
// A snapshot streams the sync iterator of each domain into a JSONL manifest
// and uploads it; a later incremental pass compares manifests to find
// changed documents.
package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/panjf2000/ants/v2"
	"golang.org/x/time/rate"

	pgdoc "github.com/hcengineering/platform-sub001"
	"github.com/hcengineering/platform-sub001/internal/logger"
	"github.com/hcengineering/platform-sub001/types"
)

// Config configures the snapshot service.
type Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	// Workers bounds concurrent domain snapshots. Defaults to 4.
	Workers int `mapstructure:"workers"`
	// UploadsPerSecond rate-limits manifest uploads. Defaults to 10.
	UploadsPerSecond float64 `mapstructure:"uploads_per_second"`
}

// Service uploads digest manifests to a bucket.
type Service struct {
	client  *minio.Client
	bucket  string
	pool    *ants.Pool
	limiter *rate.Limiter
	log     *slog.Logger
}

// manifestEntry is one JSONL line of a domain manifest.
type manifestEntry struct {
	ID   types.Ref `json:"id"`
	Hash string    `json:"hash"`
	Size int64     `json:"size"`
}

// New connects to object storage and ensures the bucket exists.
func New(ctx context.Context, cfg Config) (*Service, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to object storage: %w", err)
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %q: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %q: %w", cfg.Bucket, err)
		}
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}
	limit := cfg.UploadsPerSecond
	if limit <= 0 {
		limit = 10
	}
	return &Service{
		client:  client,
		bucket:  cfg.Bucket,
		pool:    pool,
		limiter: rate.NewLimiter(rate.Limit(limit), 1),
		log:     logger.Get().With("component", "backup"),
	}, nil
}

// Close releases the worker pool.
func (s *Service) Close() {
	s.pool.Release()
}

// Snapshot uploads one manifest per domain, snapshotting domains
// concurrently on the worker pool. The first error aborts the remaining
// uploads.
func (s *Service) Snapshot(ctx context.Context, adapter *pgdoc.Adapter, domains []types.Domain) error {
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
			cancel()
		}
		mu.Unlock()
	}

	for _, domain := range domains {
		domain := domain
		wg.Add(1)
		if err := s.pool.Submit(func() {
			defer wg.Done()
			if err := s.snapshotDomain(ctx, adapter, domain); err != nil {
				fail(err)
			}
		}); err != nil {
			wg.Done()
			fail(fmt.Errorf("failed to schedule snapshot of %q: %w", domain, err))
		}
	}
	wg.Wait()
	return firstErr
}

func (s *Service) snapshotDomain(ctx context.Context, adapter *pgdoc.Adapter, domain types.Domain) error {
	start := time.Now()
	it, err := adapter.Sync(ctx, domain, false)
	if err != nil {
		return err
	}
	defer it.Close(context.WithoutCancel(ctx))

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	count := 0
	for it.Next(ctx) {
		info := it.Value()
		if err := enc.Encode(manifestEntry{ID: info.ID, Hash: info.Hash, Size: info.Size}); err != nil {
			return fmt.Errorf("failed to encode manifest entry: %w", err)
		}
		count++
	}
	if err := it.Err(); err != nil {
		return err
	}
	if err := it.Close(ctx); err != nil {
		return err
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	key := fmt.Sprintf("%s/%s.jsonl", adapter.Workspace(), domain)
	_, err = s.client.PutObject(ctx, s.bucket, key, &buf, int64(buf.Len()), minio.PutObjectOptions{
		ContentType: "application/x-ndjson",
	})
	if err != nil {
		return fmt.Errorf("failed to upload manifest %q: %w", key, err)
	}
	s.log.Info("uploaded manifest",
		"workspace", string(adapter.Workspace()), "domain", string(domain),
		"docs", count, "bytes", buf.Len(), "elapsed", time.Since(start))
	return nil
}
