package pgdoc

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/blake2b"

	"github.com/hcengineering/platform-sub001/internal/metrics"
	"github.com/hcengineering/platform-sub001/query"
	"github.com/hcengineering/platform-sub001/schema"
	"github.com/hcengineering/platform-sub001/types"
)

const (
	// syncBatchSize is the keyset page size.
	syncBatchSize = 50
	// syncFlushThreshold bounds the buffered hash write-backs.
	syncFlushThreshold = 1000
)

// SyncInfo is the per-document digest streamed by the sync iterator.
type SyncInfo struct {
	ID   types.Ref `json:"id"`
	Hash string    `json:"hash"`
	Size int64     `json:"size"`
}

// SyncIterator streams the content digest of every document in one domain.
// Documents with a stored hash stream it straight from the marker columns;
// the rest are fetched, hashed and the recomputed markers written back in
// batches. Pages advance by id keyset, so flushed write-backs are never
// revisited. Not safe for concurrent use.
type SyncIterator struct {
	ws  string
	sch schema.DomainSchema

	conn *pgxpool.Conn
	tx   pgx.Tx

	phase   int // 0 stored markers, 1 recompute, 2 done
	lastID  string
	buf     []SyncInfo
	pending []SyncInfo
	cur     SyncInfo
	err     error
	closed  bool
}

// Sync opens a digest stream over one domain. With recheck set, all stored
// markers are discarded first and every document is re-hashed. The iterator
// holds a dedicated connection until Close.
func (a *Adapter) Sync(ctx context.Context, domain types.Domain, recheck bool) (it *SyncIterator, err error) {
	defer observe("sync", time.Now(), &err)
	if a.isClosed() {
		return nil, ErrClosed
	}
	sch := a.schema.For(domain)

	conn, err := a.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	tx, err := conn.Begin(ctx)
	if err != nil {
		conn.Release()
		return nil, fmt.Errorf("failed to begin: %w", err)
	}
	it = &SyncIterator{ws: string(a.ws), sch: sch, conn: conn, tx: tx}

	if recheck {
		reset := "UPDATE " + schema.Quote(sch.Table) + " SET " +
			schema.Quote(schema.ColHash) + " = NULL, " + schema.Quote(schema.ColSize) + " = NULL" +
			" WHERE " + schema.Quote(schema.ColWorkspace) + " = $1"
		if _, err := tx.Exec(ctx, reset, it.ws); err != nil {
			it.abort(ctx)
			return nil, fmt.Errorf("failed to reset sync markers: %w", err)
		}
		it.phase = 1
	}
	return it, nil
}

// Next advances the iterator. It returns false at end of stream or on error;
// check Err after the loop.
func (it *SyncIterator) Next(ctx context.Context) bool {
	if it.closed || it.err != nil || it.phase > 1 {
		return false
	}
	for len(it.buf) == 0 {
		n, err := it.fetch(ctx)
		if err != nil {
			it.err = err
			return false
		}
		if n == 0 {
			// Page drained: move from stored markers to recompute.
			it.phase++
			it.lastID = ""
			if it.phase > 1 {
				return false
			}
		}
	}
	it.cur = it.buf[0]
	it.buf = it.buf[1:]
	return true
}

// Value returns the digest at the current position.
func (it *SyncIterator) Value() SyncInfo {
	return it.cur
}

// Err returns the first error the iterator hit.
func (it *SyncIterator) Err() error {
	return it.err
}

// fetch loads the next keyset page into the buffer and returns its size.
func (it *SyncIterator) fetch(ctx context.Context) (int, error) {
	var sql string
	if it.phase == 0 {
		sql = "SELECT " + schema.Quote("id") + ", " + schema.Quote(schema.ColHash) + ", " + schema.Quote(schema.ColSize) +
			" FROM " + schema.Quote(it.sch.Table) +
			" WHERE " + schema.Quote(schema.ColWorkspace) + " = $1 AND " + schema.Quote(schema.ColHash) + " IS NOT NULL" +
			" AND " + schema.Quote("id") + " > $2 ORDER BY " + schema.Quote("id") +
			" LIMIT " + strconv.Itoa(syncBatchSize)
	} else {
		sql = "SELECT " + it.sch.SelectList("t") + " FROM " + schema.Quote(it.sch.Table) + " AS t" +
			" WHERE t." + schema.Quote(schema.ColWorkspace) + " = $1 AND t." + schema.Quote(schema.ColHash) + " IS NULL" +
			" AND t." + schema.Quote("id") + " > $2 ORDER BY t." + schema.Quote("id") +
			" LIMIT " + strconv.Itoa(syncBatchSize)
	}

	rows, err := it.tx.Query(ctx, sql, it.ws, it.lastID)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch batch: %w", err)
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		n++
		if it.phase == 0 {
			var id, hash string
			var size *int64
			if err := rows.Scan(&id, &hash, &size); err != nil {
				return 0, fmt.Errorf("failed to read marker row: %w", err)
			}
			it.lastID = id
			info := SyncInfo{ID: types.Ref(id), Hash: hash}
			if size != nil {
				info.Size = *size
			}
			it.buf = append(it.buf, info)
			continue
		}

		values, err := rows.Values()
		if err != nil {
			return 0, fmt.Errorf("failed to read row: %w", err)
		}
		doc, err := query.DecodeColumns(it.sch, values)
		if err != nil {
			return 0, err
		}
		if doc == nil {
			continue
		}
		it.lastID = string(doc.ID)
		info, err := digest(doc)
		if err != nil {
			return 0, err
		}
		it.buf = append(it.buf, info)
		it.pending = append(it.pending, info)
		metrics.SyncDocsHashed.Inc()
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("failed to fetch batch: %w", err)
	}
	if len(it.pending) >= syncFlushThreshold {
		if err := it.flush(ctx); err != nil {
			return 0, err
		}
	}
	return n, nil
}

// flush writes the recomputed markers back in a single statement.
func (it *SyncIterator) flush(ctx context.Context) error {
	if len(it.pending) == 0 {
		return nil
	}
	args := make([]any, 0, 1+len(it.pending)*3)
	args = append(args, it.ws)
	rows := make([]string, len(it.pending))
	for i, info := range it.pending {
		args = append(args, string(info.ID), info.Hash, info.Size)
		n := 1 + i*3
		rows[i] = "($" + strconv.Itoa(n+1) + "::text, $" + strconv.Itoa(n+2) + "::text, $" + strconv.Itoa(n+3) + "::bigint)"
	}
	sql := "UPDATE " + schema.Quote(it.sch.Table) + " AS t SET " +
		schema.Quote(schema.ColHash) + " = v.hash, " + schema.Quote(schema.ColSize) + " = v.size" +
		" FROM (VALUES " + strings.Join(rows, ", ") + ") AS v(id, hash, size)" +
		" WHERE t." + schema.Quote(schema.ColWorkspace) + " = $1 AND t." + schema.Quote("id") + " = v.id"
	if _, err := it.tx.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("failed to flush sync markers: %w", err)
	}
	it.pending = it.pending[:0]
	metrics.SyncFlushesTotal.Inc()
	return nil
}

// Close flushes pending markers, commits and releases the connection.
// Idempotent.
func (it *SyncIterator) Close(ctx context.Context) error {
	if it.closed {
		return nil
	}
	it.closed = true

	if err := it.flush(ctx); err != nil {
		_ = it.tx.Rollback(ctx)
		it.conn.Release()
		return err
	}
	err := it.tx.Commit(ctx)
	it.conn.Release()
	if err != nil {
		return fmt.Errorf("failed to commit sync: %w", err)
	}
	return nil
}

func (it *SyncIterator) abort(ctx context.Context) {
	_ = it.tx.Rollback(ctx)
	it.conn.Release()
	it.closed = true
}

// digest computes the content hash and size of a document. The encoding is
// canonical: struct fields in declaration order, map keys sorted, so equal
// content always hashes equal.
func digest(doc *types.Doc) (SyncInfo, error) {
	doc.Lookup = nil
	encoded, err := json.Marshal(doc)
	if err != nil {
		return SyncInfo{}, fmt.Errorf("failed to encode %q: %w", doc.ID, err)
	}
	sum := blake2b.Sum256(encoded)
	return SyncInfo{
		ID:   doc.ID,
		Hash: hex.EncodeToString(sum[:]),
		Size: int64(len(encoded)),
	}, nil
}
