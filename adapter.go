// Package pgdoc is the persistence adapter of a multi-tenant document
// platform: it stores class-hierarchy-aware documents in PostgreSQL and
// presents callers a MongoDB-style query and update DSL.
//
// The adapter consumes a connection pool plus a class hierarchy and schema
// registry; it exposes findAll, tx, update, insert, load, clean, groupBy and
// a streaming content-hash sync iterator. Every operation is scoped to the
// single workspace the adapter was opened for; the workspace always comes
// from the adapter, never from document content.
package pgdoc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xeipuuv/gojsonschema"

	"github.com/hcengineering/platform-sub001/auth"
	"github.com/hcengineering/platform-sub001/hierarchy"
	"github.com/hcengineering/platform-sub001/internal/database"
	"github.com/hcengineering/platform-sub001/internal/logger"
	"github.com/hcengineering/platform-sub001/internal/metrics"
	"github.com/hcengineering/platform-sub001/model"
	"github.com/hcengineering/platform-sub001/query"
	"github.com/hcengineering/platform-sub001/schema"
	"github.com/hcengineering/platform-sub001/types"
)

// Options configures an adapter.
type Options struct {
	// DSN is the Postgres connection string. Ignored when Pool is set.
	DSN string
	// MigrationsPath optionally points at bootstrap migrations applied on
	// first connect (DDL for the document domains is owned elsewhere).
	MigrationsPath string
	// Pool injects an existing pool instead of acquiring one through the
	// manager; the adapter will not close it.
	Pool *pgxpool.Pool
	// Manager shares reference-counted pools between adapters. A private
	// manager is created when nil.
	Manager *database.Manager

	Workspace types.WorkspaceID
	Hierarchy *hierarchy.Hierarchy
	// Schema lists custom domain layouts; defaults apply when nil.
	Schema *schema.Registry
	// Model holds the in-process model documents (accounts, spaces
	// metadata) used for security filtering and model-domain lookups.
	Model *model.Db

	Logger *slog.Logger
}

// Adapter is the document persistence adapter for one workspace. Safe for
// concurrent use; each operation acquires a connection from the shared pool
// and releases it on completion.
type Adapter struct {
	pool   *pgxpool.Pool
	handle *database.Handle
	owned  *database.Manager

	ws      types.WorkspaceID
	h       *hierarchy.Hierarchy
	schema  *schema.Registry
	model   *model.Db
	builder *query.Builder
	log     *slog.Logger

	mu         sync.RWMutex
	validators map[types.ClassID]*gojsonschema.Schema
	closed     bool
}

// Open creates an adapter for one workspace.
func Open(ctx context.Context, opts Options) (*Adapter, error) {
	if opts.Hierarchy == nil {
		return nil, fmt.Errorf("hierarchy is required")
	}
	if opts.Workspace == "" {
		return nil, fmt.Errorf("workspace is required")
	}
	reg := opts.Schema
	if reg == nil {
		reg = schema.NewRegistry()
	}
	mdb := opts.Model
	if mdb == nil {
		mdb = model.New(nil)
	}
	log := opts.Logger
	if log == nil {
		log = logger.Get().With("workspace", string(opts.Workspace))
	}

	a := &Adapter{
		ws:         opts.Workspace,
		h:          opts.Hierarchy,
		schema:     reg,
		model:      mdb,
		log:        log,
		validators: make(map[types.ClassID]*gojsonschema.Schema),
	}
	a.builder = &query.Builder{H: a.h, Schema: a.schema, Model: a.model}

	if opts.Pool != nil {
		a.pool = opts.Pool
		return a, nil
	}

	mgr := opts.Manager
	if mgr == nil {
		mgr = database.NewManager()
		a.owned = mgr
	}
	handle, err := mgr.Acquire(ctx, database.Config{
		DSN:            opts.DSN,
		MigrationsPath: opts.MigrationsPath,
	})
	if err != nil {
		return nil, err
	}
	a.handle = handle
	a.pool = handle.Pool()
	return a, nil
}

// Close releases the adapter's pool reference. Idempotent.
func (a *Adapter) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	a.mu.Unlock()

	if a.handle != nil {
		a.handle.Close()
	}
	if a.owned != nil {
		a.owned.Shutdown()
	}
}

// Workspace returns the tenant this adapter is scoped to.
func (a *Adapter) Workspace() types.WorkspaceID {
	return a.ws
}

// Hierarchy returns the class graph the adapter was opened with.
func (a *Adapter) Hierarchy() *hierarchy.Hierarchy {
	return a.h
}

// RegisterSchema attaches a JSON schema validated against document
// attributes on create.
func (a *Adapter) RegisterSchema(class types.ClassID, schemaJSON string) error {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
	if err != nil {
		return fmt.Errorf("failed to compile schema for %q: %w", class, err)
	}
	a.mu.Lock()
	a.validators[class] = compiled
	a.mu.Unlock()
	return nil
}

func (a *Adapter) validator(class types.ClassID) *gojsonschema.Schema {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.validators[class]
}

func (a *Adapter) isClosed() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.closed
}

func observe(op string, start time.Time, err *error) {
	status := "ok"
	if *err != nil {
		status = "error"
	}
	metrics.OperationsTotal.WithLabelValues(op, status).Inc()
	metrics.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// FindAll compiles and executes one DSL query. Results include resolved
// lookups per the options; the caller principal (when present on the
// context) restricts visible spaces.
func (a *Adapter) FindAll(ctx context.Context, class types.ClassID, filter types.Filter, opts types.FindOptions) (res *types.FindResult, err error) {
	defer observe("findAll", time.Now(), &err)
	if a.isClosed() {
		return nil, ErrClosed
	}

	q, err := a.builder.BuildFind(a.ws, class, filter, opts, auth.PrincipalFromContext(ctx))
	if err != nil {
		return nil, err
	}

	rows, err := a.pool.Query(ctx, q.SQL, q.Args...)
	if err != nil {
		a.log.Error("query failed", "class", string(class), "sql", q.SQL, "error", err)
		return nil, fmt.Errorf("failed to query %q: %w", class, err)
	}
	defer rows.Close()

	asm := query.NewAssembler(q, a.model)
	result := &types.FindResult{Total: -1}
	seen := make(map[types.Ref]bool)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("failed to read row: %w", err)
		}
		doc, total, err := asm.Assemble(values)
		if err != nil {
			return nil, err
		}
		if seen[doc.ID] {
			continue
		}
		seen[doc.ID] = true
		result.Docs = append(result.Docs, doc)
		if total >= 0 {
			result.Total = int(total)
		}
	}
	if err := rows.Err(); err != nil {
		a.log.Error("query failed", "class", string(class), "sql", q.SQL, "error", err)
		return nil, fmt.Errorf("failed to query %q: %w", class, err)
	}
	return result, nil
}

// Load fetches documents by id from one domain. Missing ids are skipped.
func (a *Adapter) Load(ctx context.Context, domain types.Domain, ids []types.Ref) (docs []*types.Doc, err error) {
	defer observe("load", time.Now(), &err)
	if a.isClosed() {
		return nil, ErrClosed
	}
	if len(ids) == 0 {
		return nil, nil
	}
	sch := a.schema.For(domain)
	strIDs := make([]string, len(ids))
	for i, id := range ids {
		strIDs[i] = string(id)
	}
	sql := "SELECT " + sch.SelectList("t") + " FROM " + schema.Quote(sch.Table) +
		" AS t WHERE t." + schema.Quote(schema.ColWorkspace) + " = $1 AND t." + schema.Quote("id") + " = ANY($2)"
	rows, err := a.pool.Query(ctx, sql, string(a.ws), strIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load from %q: %w", domain, err)
	}
	defer rows.Close()

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("failed to read row: %w", err)
		}
		doc, err := query.DecodeColumns(sch, values)
		if err != nil {
			return nil, err
		}
		if doc != nil {
			docs = append(docs, doc)
		}
	}
	return docs, rows.Err()
}

// Insert bulk-inserts documents into a domain, chunked inside one retried
// transaction.
func (a *Adapter) Insert(ctx context.Context, domain types.Domain, docs []*types.Doc) (err error) {
	defer observe("insert", time.Now(), &err)
	if a.isClosed() {
		return ErrClosed
	}
	if len(docs) == 0 {
		return nil
	}
	for _, d := range docs {
		if err := a.validate(d.Class, d.Attributes); err != nil {
			return err
		}
	}
	sch := a.schema.For(domain)
	return a.withRetryTx(ctx, func(tx pgx.Tx) error {
		return insertChunked(ctx, tx, sch, string(a.ws), docs)
	})
}

// Update applies raw partial updates (field -> value maps, update operators
// allowed) to documents of one domain, batched over a single connection.
// Missing documents are skipped silently.
func (a *Adapter) Update(ctx context.Context, domain types.Domain, operations map[types.Ref]map[string]any) (err error) {
	defer observe("update", time.Now(), &err)
	if a.isClosed() {
		return ErrClosed
	}
	if len(operations) == 0 {
		return nil
	}
	sch := a.schema.For(domain)
	now := types.Timestamp(time.Now().UnixMilli())

	return a.withRetryTx(ctx, func(tx pgx.Tx) error {
		for id, ops := range operations {
			if needsLock(ops) {
				_, err := a.lockedApply(ctx, tx, sch, id, "", now, func(doc *types.Doc) error {
					return applyUpdateOps(doc, ops)
				})
				if err != nil {
					return err
				}
				continue
			}
			if _, err := a.mergeUpdate(ctx, tx, sch, id, ops, "", now, false); err != nil {
				return err
			}
		}
		return nil
	})
}

// Clean deletes documents by id from a domain. Deleting an absent id is a
// no-op.
func (a *Adapter) Clean(ctx context.Context, domain types.Domain, ids []types.Ref) (err error) {
	defer observe("clean", time.Now(), &err)
	if a.isClosed() {
		return ErrClosed
	}
	if len(ids) == 0 {
		return nil
	}
	sch := a.schema.For(domain)
	strIDs := make([]string, len(ids))
	for i, id := range ids {
		strIDs[i] = string(id)
	}
	sql := "DELETE FROM " + schema.Quote(sch.Table) +
		" WHERE " + schema.Quote(schema.ColWorkspace) + " = $1 AND " + schema.Quote("id") + " = ANY($2)"
	if _, err := a.pool.Exec(ctx, sql, string(a.ws), strIDs); err != nil {
		return fmt.Errorf("failed to clean %q: %w", domain, err)
	}
	return nil
}

// GroupBy returns the distinct values of one field across a domain.
func (a *Adapter) GroupBy(ctx context.Context, domain types.Domain, field string) (values []any, err error) {
	defer observe("groupBy", time.Now(), &err)
	if a.isClosed() {
		return nil, ErrClosed
	}
	sch := a.schema.For(domain)

	var expr string
	if col, ok := sch.ColumnFor(field); ok {
		expr = "t." + schema.Quote(col.Name)
	} else {
		if !validFieldName(field) {
			return nil, fmt.Errorf("invalid field %q", field)
		}
		expr = "t." + schema.Quote(schema.ColData) + "->>'" + field + "'"
	}
	sql := "SELECT DISTINCT " + expr + " FROM " + schema.Quote(sch.Table) +
		" AS t WHERE t." + schema.Quote(schema.ColWorkspace) + " = $1"
	rows, err := a.pool.Query(ctx, sql, string(a.ws))
	if err != nil {
		return nil, fmt.Errorf("failed to group %q by %q: %w", domain, field, err)
	}
	defer rows.Close()

	for rows.Next() {
		var v any
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		if v != nil {
			values = append(values, v)
		}
	}
	return values, rows.Err()
}

func (a *Adapter) validate(class types.ClassID, attrs map[string]any) error {
	v := a.validator(class)
	if v == nil {
		return nil
	}
	res, err := v.Validate(gojsonschema.NewGoLoader(attrs))
	if err != nil {
		return fmt.Errorf("failed to validate %q: %w", class, err)
	}
	if !res.Valid() {
		return fmt.Errorf("document does not match schema for %q: %v", class, res.Errors())
	}
	return nil
}

func validFieldName(f string) bool {
	if f == "" {
		return false
	}
	for _, r := range f {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '_', r == '-', r == ':', r == '.':
		default:
			return false
		}
	}
	return true
}

func encodeAttributes(attrs map[string]any) ([]byte, error) {
	if attrs == nil {
		attrs = map[string]any{}
	}
	b, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode attributes: %w", err)
	}
	return b, nil
}
