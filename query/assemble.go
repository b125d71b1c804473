package query

import (
	"fmt"
	"strings"

	"github.com/hcengineering/platform-sub001/model"
	"github.com/hcengineering/platform-sub001/schema"
	"github.com/hcengineering/platform-sub001/types"
)

// Assembler reconstructs nested documents from flat result rows. Columns are
// consumed positionally: the root table's columns first, then each join
// descriptor's columns in planning order, then the optional total column.
// Forward joins that matched no row arrive with a NULL id column and are
// skipped without moving the cursor out of step.
type Assembler struct {
	q     *FindQuery
	model *model.Db
}

// NewAssembler builds an assembler for one compiled query.
func NewAssembler(q *FindQuery, mdb *model.Db) *Assembler {
	return &Assembler{q: q, model: mdb}
}

// Assemble decodes one flat row. The second result is the window total
// (-1 when the query did not request one).
func (a *Assembler) Assemble(values []any) (*types.Doc, int64, error) {
	rootCols := a.q.Root.ColumnCount()
	want := rootCols
	for _, j := range a.q.Joins {
		want += j.Columns
	}
	if a.q.Total {
		want++
	}
	if len(values) != want {
		return nil, -1, fmt.Errorf("row has %d columns, statement shape needs %d", len(values), want)
	}

	doc, err := DecodeColumns(a.q.Root, values[:rootCols])
	if err != nil {
		return nil, -1, err
	}
	if doc == nil {
		return nil, -1, fmt.Errorf("root row has NULL id")
	}
	cursor := rootCols

	for i := range a.q.Joins {
		j := &a.q.Joins[i]
		switch {
		case j.InMemory:
			a.resolveInMemory(doc, j)
		case j.Reverse:
			children, err := docsFromAggregate(j.Schema, values[cursor])
			if err != nil {
				return nil, -1, fmt.Errorf("reverse lookup %q: %w", j.Path, err)
			}
			attachLookup(doc, j.Path, children)
			cursor++
		default:
			sub := values[cursor : cursor+j.Columns]
			cursor += j.Columns
			child, err := DecodeColumns(j.Schema, sub)
			if err != nil {
				return nil, -1, fmt.Errorf("lookup %q: %w", j.Path, err)
			}
			if child != nil {
				attachLookup(doc, j.Path, child)
			}
		}
	}

	total := int64(-1)
	if a.q.Total {
		total = asInt64(values[cursor])
	}

	applyProjection(doc, a.q.Projection)
	return doc, total, nil
}

// DecodeColumns decodes one table's column slice in layout order. A NULL id
// yields (nil, nil): the row carries an unmatched LEFT JOIN.
func DecodeColumns(sch schema.DomainSchema, values []any) (*types.Doc, error) {
	if len(values) != len(sch.Columns) {
		return nil, fmt.Errorf("expected %d columns, got %d", len(sch.Columns), len(values))
	}
	doc := &types.Doc{}
	for i, col := range sch.Columns {
		v := values[i]
		if col.Name == schema.ColData {
			if v == nil {
				continue
			}
			m, ok := v.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("attribute column decoded to %T", v)
			}
			doc.Attributes = m
			continue
		}
		if col.Field == "" || v == nil {
			continue
		}
		switch col.Field {
		case schema.FieldID:
			doc.ID = types.Ref(asString(v))
		case schema.FieldClass:
			doc.Class = types.ClassID(asString(v))
		case schema.FieldSpace:
			doc.Space = types.Ref(asString(v))
		case schema.FieldAttachedTo:
			doc.AttachedTo = types.Ref(asString(v))
		case schema.FieldCreatedBy:
			doc.CreatedBy = types.Ref(asString(v))
		case schema.FieldModifiedBy:
			doc.ModifiedBy = types.Ref(asString(v))
		case schema.FieldCreatedOn:
			doc.CreatedOn = types.Timestamp(asInt64(v))
		case schema.FieldModifiedOn:
			doc.ModifiedOn = types.Timestamp(asInt64(v))
		}
	}
	if doc.ID == "" {
		return nil, nil
	}
	return doc, nil
}

// docsFromAggregate decodes a jsonb_agg column: an array of row objects
// keyed by column name.
func docsFromAggregate(sch schema.DomainSchema, v any) ([]*types.Doc, error) {
	if v == nil {
		return nil, nil
	}
	arr, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("aggregate column decoded to %T", v)
	}
	docs := make([]*types.Doc, 0, len(arr))
	for _, e := range arr {
		m, ok := e.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("aggregate element decoded to %T", e)
		}
		values := make([]any, len(sch.Columns))
		for i, col := range sch.Columns {
			values[i] = m[col.Name]
		}
		d, err := DecodeColumns(sch, values)
		if err != nil {
			return nil, err
		}
		if d != nil {
			docs = append(docs, d)
		}
	}
	return docs, nil
}

// resolveInMemory attaches a model-domain lookup from the in-process model,
// keyed by the already-decoded parent field.
func (a *Assembler) resolveInMemory(root *types.Doc, j *JoinDescriptor) {
	if a.model == nil {
		return
	}
	parent := docAtPath(root, parentPath(j.Path))
	if parent == nil {
		return
	}
	ref := fieldRef(parent, j.Field)
	if ref == "" {
		return
	}
	if target, ok := a.model.FindByID(ref); ok {
		attachLookup(root, j.Path, target)
	}
}

// attachLookup places a resolved value at its dotted path under $lookup
// sub-trees.
func attachLookup(root *types.Doc, path string, value any) {
	parent := docAtPath(root, parentPath(path))
	if parent == nil {
		return
	}
	segs := strings.Split(path, ".")
	key := segs[len(segs)-1]
	if parent.Lookup == nil {
		parent.Lookup = make(map[string]any)
	}
	parent.Lookup[key] = value
}

func parentPath(path string) string {
	if i := strings.LastIndex(path, "."); i >= 0 {
		return path[:i]
	}
	return ""
}

// docAtPath walks $lookup sub-trees to the document at the dotted path
// ("" is the root).
func docAtPath(root *types.Doc, path string) *types.Doc {
	if path == "" {
		return root
	}
	cur := root
	for _, seg := range strings.Split(path, ".") {
		if cur.Lookup == nil {
			return nil
		}
		next, _ := cur.Lookup[seg].(*types.Doc)
		if next == nil {
			return nil
		}
		cur = next
	}
	return cur
}

// fieldRef reads a reference-valued field from fixed attributes or the blob.
func fieldRef(doc *types.Doc, field string) types.Ref {
	switch field {
	case schema.FieldID:
		return doc.ID
	case schema.FieldSpace:
		return doc.Space
	case schema.FieldAttachedTo:
		return doc.AttachedTo
	case schema.FieldCreatedBy:
		return doc.CreatedBy
	case schema.FieldModifiedBy:
		return doc.ModifiedBy
	}
	if v, ok := doc.Attr(field); ok {
		if s, ok := v.(string); ok {
			return types.Ref(s)
		}
	}
	return ""
}

// applyProjection drops non-listed attribute-blob keys from the root
// document. Fixed attributes are never filtered.
func applyProjection(doc *types.Doc, proj types.Projection) {
	if len(proj) == 0 || doc.Attributes == nil {
		return
	}
	kept := make(map[string]any, len(proj))
	for k, include := range proj {
		if include == 0 {
			continue
		}
		if v, ok := doc.Attributes[k]; ok {
			kept[k] = v
		}
	}
	doc.Attributes = kept
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}
