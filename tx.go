package pgdoc

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hcengineering/platform-sub001/query"
	"github.com/hcengineering/platform-sub001/schema"
	"github.com/hcengineering/platform-sub001/types"
)

// insertChunkSize bounds the parameter count of one multi-row INSERT.
const insertChunkSize = 200

// Tx atomically applies a batch of document mutations. All mutations commit
// or none do; the returned results align one to one with the input. Updates
// and mixins against missing documents are no-ops with a nil result doc.
func (a *Adapter) Tx(ctx context.Context, txes ...types.Tx) (results []types.TxResult, err error) {
	defer observe("tx", time.Now(), &err)
	if a.isClosed() {
		return nil, ErrClosed
	}
	if len(txes) == 0 {
		return nil, nil
	}

	results = make([]types.TxResult, len(txes))
	err = a.withRetryTx(ctx, func(tx pgx.Tx) error {
		for i := range results {
			results[i] = types.TxResult{}
		}
		i := 0
		for i < len(txes) {
			create, ok := txes[i].(*types.TxCreateDoc)
			if !ok {
				if err := a.applyTx(ctx, tx, txes[i], &results[i]); err != nil {
					return err
				}
				i++
				continue
			}

			// Consecutive creates into the same domain flush as one
			// multi-row insert.
			domain, err := a.h.DomainOf(create.Class)
			if err != nil {
				return err
			}
			start := i
			var docs []*types.Doc
			for i < len(txes) {
				c, ok := txes[i].(*types.TxCreateDoc)
				if !ok {
					break
				}
				d, err := a.h.DomainOf(c.Class)
				if err != nil {
					return err
				}
				if d != domain {
					break
				}
				doc, err := a.docFromCreate(c)
				if err != nil {
					return err
				}
				docs = append(docs, doc)
				i++
			}
			if err := insertChunked(ctx, tx, a.schema.For(domain), string(a.ws), docs); err != nil {
				return err
			}
			for j, doc := range docs {
				results[start+j] = types.TxResult{Doc: doc}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (a *Adapter) applyTx(ctx context.Context, tx pgx.Tx, t types.Tx, res *types.TxResult) error {
	switch t := t.(type) {
	case *types.TxUpdateDoc:
		return a.applyUpdate(ctx, tx, t, res)
	case *types.TxMixin:
		return a.applyMixinTx(ctx, tx, t, res)
	case *types.TxRemoveDoc:
		return a.applyRemove(ctx, tx, t)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownTx, t)
	}
}

func (a *Adapter) docFromCreate(t *types.TxCreateDoc) (*types.Doc, error) {
	if err := a.validate(t.Class, t.Attributes); err != nil {
		return nil, err
	}
	id := t.ID
	if id == "" {
		id = types.GenerateID()
	}
	now := t.ModifiedOn
	if now == 0 {
		now = types.Timestamp(time.Now().UnixMilli())
	}
	attrs := t.Attributes
	if attrs == nil {
		attrs = map[string]any{}
	}
	return &types.Doc{
		ID:         id,
		Class:      t.Class,
		Space:      t.Space,
		AttachedTo: t.AttachedTo,
		CreatedBy:  t.ModifiedBy,
		ModifiedBy: t.ModifiedBy,
		CreatedOn:  now,
		ModifiedOn: now,
		Attributes: attrs,
	}, nil
}

// schemaOf resolves the table layout storing a class.
func (a *Adapter) schemaOf(class types.ClassID) (schema.DomainSchema, error) {
	domain, err := a.h.DomainOf(class)
	if err != nil {
		return schema.DomainSchema{}, err
	}
	return a.schema.For(domain), nil
}

func (a *Adapter) applyUpdate(ctx context.Context, tx pgx.Tx, t *types.TxUpdateDoc, res *types.TxResult) error {
	sch, err := a.schemaOf(t.Class)
	if err != nil {
		return err
	}
	now := t.ModifiedOn
	if now == 0 {
		now = types.Timestamp(time.Now().UnixMilli())
	}

	if needsLock(t.Operations) {
		doc, err := a.lockedApply(ctx, tx, sch, t.ID, t.ModifiedBy, now, func(doc *types.Doc) error {
			return applyUpdateOps(doc, t.Operations)
		})
		if err != nil {
			return err
		}
		if t.Retrieve {
			res.Doc = doc
		}
		return nil
	}

	doc, err := a.mergeUpdate(ctx, tx, sch, t.ID, t.Operations, t.ModifiedBy, now, t.Retrieve)
	if err != nil {
		return err
	}
	if t.Retrieve {
		res.Doc = doc
	}
	return nil
}

func (a *Adapter) applyMixinTx(ctx context.Context, tx pgx.Tx, t *types.TxMixin, res *types.TxResult) error {
	if !a.h.IsMixin(t.Mixin) {
		return fmt.Errorf("class %q is not a mixin", t.Mixin)
	}
	sch, err := a.schemaOf(t.Class)
	if err != nil {
		return err
	}
	now := t.ModifiedOn
	if now == 0 {
		now = types.Timestamp(time.Now().UnixMilli())
	}
	doc, err := a.lockedApply(ctx, tx, sch, t.ID, t.ModifiedBy, now, func(doc *types.Doc) error {
		applyMixin(doc.Attributes, t.Mixin, t.Attributes)
		return nil
	})
	if err != nil {
		return err
	}
	res.Doc = doc
	return nil
}

func (a *Adapter) applyRemove(ctx context.Context, tx pgx.Tx, t *types.TxRemoveDoc) error {
	sch, err := a.schemaOf(t.Class)
	if err != nil {
		return err
	}
	sql := "DELETE FROM " + schema.Quote(sch.Table) +
		" WHERE " + schema.Quote(schema.ColWorkspace) + " = $1 AND " + schema.Quote("id") + " = $2"
	if _, err := tx.Exec(ctx, sql, string(a.ws), string(t.ID)); err != nil {
		return fmt.Errorf("failed to remove %q: %w", t.ID, err)
	}
	return nil
}

// lockedApply locks one row, runs apply against the decoded document and
// writes the full row back in a single UPDATE, so fixed-column changes made
// by apply (space, attachedTo) land in their columns, not just the blob.
// Every write resets the sync markers. A missing document is a no-op
// returning nil.
func (a *Adapter) lockedApply(ctx context.Context, tx pgx.Tx, sch schema.DomainSchema, id types.Ref, modifiedBy types.Ref, now types.Timestamp, apply func(doc *types.Doc) error) (*types.Doc, error) {
	sql := "SELECT " + sch.SelectList("t") + " FROM " + schema.Quote(sch.Table) +
		" AS t WHERE t." + schema.Quote(schema.ColWorkspace) + " = $1 AND t." + schema.Quote("id") + " = $2 FOR UPDATE"
	rows, err := tx.Query(ctx, sql, string(a.ws), string(id))
	if err != nil {
		return nil, fmt.Errorf("failed to lock %q: %w", id, err)
	}
	var doc *types.Doc
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to read row: %w", err)
		}
		doc, err = query.DecodeColumns(sch, values)
		if err != nil {
			rows.Close()
			return nil, err
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to lock %q: %w", id, err)
	}
	if doc == nil {
		return nil, nil
	}

	if doc.Attributes == nil {
		doc.Attributes = map[string]any{}
	}
	// Stamps go first so a caller-supplied audit field in apply wins.
	doc.ModifiedOn = now
	if modifiedBy != "" {
		doc.ModifiedBy = modifiedBy
	}
	if err := apply(doc); err != nil {
		return nil, err
	}

	upd, args, err := lockedUpdateSQL(sch, string(a.ws), id, doc)
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, upd, args...); err != nil {
		return nil, fmt.Errorf("failed to update %q: %w", id, err)
	}
	return doc, nil
}

// lockedUpdateSQL renders the write-back statement of a locked
// read-modify-write: every column except tenant and id is rewritten from the
// document, with the sync markers reset to NULL.
func lockedUpdateSQL(sch schema.DomainSchema, ws string, id types.Ref, doc *types.Doc) (string, []any, error) {
	args := []any{ws, string(id)}
	sets := make([]string, 0, len(sch.Columns))
	for _, c := range sch.Columns {
		if c.Name == schema.ColWorkspace || c.Field == schema.FieldID {
			continue
		}
		v, cast, err := insertValue(sch, c, ws, doc)
		if err != nil {
			return "", nil, err
		}
		args = append(args, v)
		sets = append(sets, schema.Quote(c.Name)+" = $"+strconv.Itoa(len(args))+cast)
	}
	sql := "UPDATE " + schema.Quote(sch.Table) + " SET " + strings.Join(sets, ", ") +
		" WHERE " + schema.Quote(schema.ColWorkspace) + " = $1 AND " + schema.Quote("id") + " = $2"
	return sql, args, nil
}

// mergeUpdate applies bare top-level field sets in one statement: promoted
// fields update their columns, the rest merges into the attribute blob.
func (a *Adapter) mergeUpdate(ctx context.Context, tx pgx.Tx, sch schema.DomainSchema, id types.Ref, bare map[string]any, modifiedBy types.Ref, now types.Timestamp, retrieve bool) (*types.Doc, error) {
	sql, args, err := mergeUpdateSQL(sch, string(a.ws), id, bare, modifiedBy, now, retrieve)
	if err != nil {
		return nil, err
	}
	if !retrieve {
		if _, err := tx.Exec(ctx, sql, args...); err != nil {
			return nil, fmt.Errorf("failed to update %q: %w", id, err)
		}
		return nil, nil
	}

	rows, err := tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update %q: %w", id, err)
	}
	defer rows.Close()
	var doc *types.Doc
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("failed to read row: %w", err)
		}
		doc, err = query.DecodeColumns(sch, values)
		if err != nil {
			return nil, err
		}
	}
	return doc, rows.Err()
}

// mergeUpdateSQL renders a single-statement partial update. Each column is
// assigned at most once; a caller-supplied value for an audit field wins over
// the implicit stamp.
func mergeUpdateSQL(sch schema.DomainSchema, ws string, id types.Ref, bare map[string]any, modifiedBy types.Ref, now types.Timestamp, retrieve bool) (string, []any, error) {
	args := []any{ws, string(id)}
	sets := []string{
		schema.Quote(schema.ColHash) + " = NULL",
		schema.Quote(schema.ColSize) + " = NULL",
	}
	assigned := make(map[string]bool)

	blob := make(map[string]any)
	for _, field := range sortedKeys(bare) {
		v := bare[field]
		if col, ok := sch.ColumnFor(field); ok {
			args = append(args, columnValue(col, v))
			sets = append(sets, schema.Quote(col.Name)+" = $"+strconv.Itoa(len(args)))
			assigned[col.Name] = true
			continue
		}
		blob[field] = v
	}
	if col, ok := sch.ColumnFor(schema.FieldModifiedOn); ok && !assigned[col.Name] {
		args = append(args, int64(now))
		sets = append(sets, schema.Quote(col.Name)+" = $"+strconv.Itoa(len(args)))
	}
	if col, ok := sch.ColumnFor(schema.FieldModifiedBy); ok && modifiedBy != "" && !assigned[col.Name] {
		args = append(args, string(modifiedBy))
		sets = append(sets, schema.Quote(col.Name)+" = $"+strconv.Itoa(len(args)))
	}
	if len(blob) > 0 {
		encoded, err := encodeAttributes(blob)
		if err != nil {
			return "", nil, err
		}
		args = append(args, encoded)
		sets = append(sets, schema.Quote(schema.ColData)+" = "+
			schema.Quote(schema.ColData)+" || $"+strconv.Itoa(len(args))+"::jsonb")
	}

	sql := "UPDATE " + schema.Quote(sch.Table) + " SET " + strings.Join(sets, ", ") +
		" WHERE " + schema.Quote(schema.ColWorkspace) + " = $1 AND " + schema.Quote("id") + " = $2"
	if retrieve {
		sql += " RETURNING " + sch.SelectList(schema.Quote(sch.Table))
	}
	return sql, args, nil
}

// insertChunked writes docs with a multi-row VALUES insert, chunked to keep
// the parameter count bounded.
func insertChunked(ctx context.Context, tx pgx.Tx, sch schema.DomainSchema, ws string, docs []*types.Doc) error {
	cols := make([]string, len(sch.Columns))
	for i, c := range sch.Columns {
		cols[i] = schema.Quote(c.Name)
	}
	header := "INSERT INTO " + schema.Quote(sch.Table) + " (" + strings.Join(cols, ", ") + ") VALUES "

	for start := 0; start < len(docs); start += insertChunkSize {
		end := start + insertChunkSize
		if end > len(docs) {
			end = len(docs)
		}
		chunk := docs[start:end]

		var sb strings.Builder
		sb.WriteString(header)
		args := make([]any, 0, len(chunk)*len(sch.Columns))
		for i, doc := range chunk {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("(")
			for j, c := range sch.Columns {
				if j > 0 {
					sb.WriteString(", ")
				}
				v, cast, err := insertValue(sch, c, ws, doc)
				if err != nil {
					return err
				}
				args = append(args, v)
				sb.WriteString("$" + strconv.Itoa(len(args)) + cast)
			}
			sb.WriteString(")")
		}
		if _, err := tx.Exec(ctx, sb.String(), args...); err != nil {
			return fmt.Errorf("failed to insert into %q: %w", sch.Table, err)
		}
	}
	return nil
}

// insertValue maps one physical column to its bound value for a document.
// The sync markers always start NULL.
func insertValue(sch schema.DomainSchema, c schema.Column, ws string, doc *types.Doc) (any, string, error) {
	switch c.Name {
	case schema.ColWorkspace:
		return ws, "", nil
	case schema.ColHash, schema.ColSize:
		return nil, "", nil
	case schema.ColData:
		encoded, err := encodeAttributes(doc.Attributes)
		if err != nil {
			return nil, "", err
		}
		return encoded, "::jsonb", nil
	}
	switch c.Field {
	case schema.FieldID:
		return string(doc.ID), "", nil
	case schema.FieldClass:
		return string(doc.Class), "", nil
	case schema.FieldSpace:
		return string(doc.Space), "", nil
	case schema.FieldAttachedTo:
		return nullableRef(doc.AttachedTo), "", nil
	case schema.FieldCreatedBy:
		return string(doc.CreatedBy), "", nil
	case schema.FieldModifiedBy:
		return string(doc.ModifiedBy), "", nil
	case schema.FieldCreatedOn:
		return int64(doc.CreatedOn), "", nil
	case schema.FieldModifiedOn:
		return int64(doc.ModifiedOn), "", nil
	}
	// Custom promoted column: taken from the attribute map by field name.
	v, _ := doc.Attr(c.Field)
	return v, "", nil
}

func nullableRef(r types.Ref) any {
	if r == "" {
		return nil
	}
	return string(r)
}

// columnValue converts a DSL value for storage in a fixed column.
func columnValue(col schema.Column, v any) any {
	if v == nil {
		return nil
	}
	switch col.Type {
	case "bigint":
		switch n := v.(type) {
		case float64:
			return int64(n)
		case int:
			return int64(n)
		default:
			return v
		}
	default:
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprintf("%v", v)
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
