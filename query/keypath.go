// Package query compiles the document DSL (filters, sorts, lookups,
// projections) into parameterized PostgreSQL statements and reassembles flat
// result rows into nested documents.
package query

import (
	"fmt"
	"strings"

	"github.com/hcengineering/platform-sub001/hierarchy"
	"github.com/hcengineering/platform-sub001/schema"
	"github.com/hcengineering/platform-sub001/types"
)

// resolvedKey is the physical reference a document field path compiles to.
type resolvedKey struct {
	// column is true when the field maps to a fixed physical column.
	column bool
	// expr references the raw column (fixed columns only).
	expr string
	// jsonExpr yields the field as jsonb (blob fields only).
	jsonExpr string
	// textExpr yields the field as text.
	textExpr string
	// array marks array-typed attributes; containment semantics apply.
	array bool
}

// value returns the expression used for typed comparison: the raw column for
// fixed attributes, the jsonb projection for blob attributes.
func (k resolvedKey) value() string {
	if k.column {
		return k.expr
	}
	return k.jsonExpr
}

func validSegment(seg string) bool {
	if seg == "" {
		return false
	}
	return !strings.ContainsAny(seg, `'"\{}`)
}

// resolveKey converts a field path on the given class to a physical
// reference qualified by alias. Paths may be dotted (nested blob objects) and
// may be namespaced under a mixin when the queried class is a mixin declaring
// the attribute. Field names are validated against the hierarchy; arbitrary
// request strings never reach the SQL text.
func resolveKey(h *hierarchy.Hierarchy, sch schema.DomainSchema, class types.ClassID, alias, field string) (resolvedKey, error) {
	segs := strings.Split(field, ".")
	for _, s := range segs {
		if !validSegment(s) {
			return resolvedKey{}, fmt.Errorf("%w: bad path segment in %q", ErrBadField, field)
		}
	}

	head := segs[0]
	if col, ok := sch.ColumnFor(head); ok {
		if len(segs) > 1 {
			return resolvedKey{}, fmt.Errorf("%w: fixed attribute %q has no sub-fields", ErrBadField, head)
		}
		expr := alias + "." + schema.Quote(col.Name)
		return resolvedKey{column: true, expr: expr, textExpr: expr}, nil
	}

	attr, owner, ok := h.AttrOf(class, head)
	if !ok {
		// A registered mixin id is addressable as a namespace prefix.
		if !h.IsMixin(types.ClassID(head)) {
			return resolvedKey{}, fmt.Errorf("%w: field %q is not declared on class %q", ErrBadField, head, class)
		}
	}
	// Attributes declared by a mixin are stored under the mixin's class id.
	if ok && h.IsMixin(owner) {
		segs = append([]string{string(owner)}, segs...)
	}

	path := "{" + strings.Join(segs, ",") + "}"
	data := alias + "." + schema.Quote(schema.ColData)
	return resolvedKey{
		jsonExpr: data + "#>'" + path + "'",
		textExpr: data + "#>>'" + path + "'",
		array:    attr.Array,
	}, nil
}
