// Package schema is the registry mapping logical storage domains to their
// physical table layout. A domain either registers a custom fixed-column
// layout or falls back to the default one: extracted indexed columns plus an
// opaque jsonb attribute column. Pure lookup, no state.
package schema

import (
	"strings"

	"github.com/hcengineering/platform-sub001/types"
)

// Well-known document field names used in the DSL.
const (
	FieldID         = "_id"
	FieldClass      = "_class"
	FieldSpace      = "space"
	FieldAttachedTo = "attachedTo"
	FieldCreatedBy  = "createdBy"
	FieldModifiedBy = "modifiedBy"
	FieldCreatedOn  = "createdOn"
	FieldModifiedOn = "modifiedOn"
)

// Reserved physical columns.
const (
	ColWorkspace = "workspaceId"
	ColHash      = "hash"
	ColSize      = "size"
	ColData      = "data"
)

// Column is one fixed physical column.
type Column struct {
	// Name is the SQL column name.
	Name string
	// Field is the document field the column stores ("" for columns with
	// no DSL-visible field, e.g. workspaceId, hash, size).
	Field string
	// Type is the SQL type, informational (DDL is owned elsewhere).
	Type string
}

// Quote returns the double-quoted column name, safe for camelCase columns.
func Quote(name string) string {
	return `"` + name + `"`
}

// DomainSchema is the physical layout of one domain table. Columns lists the
// fixed columns in SELECT order; the jsonb attribute column (data) is always
// last.
type DomainSchema struct {
	Domain  types.Domain
	Table   string
	Columns []Column
}

// defaultColumns is the default layout shared by all domains that do not
// register a custom one.
func defaultColumns() []Column {
	return []Column{
		{Name: ColWorkspace, Type: "text"},
		{Name: "id", Field: FieldID, Type: "text"},
		{Name: "class", Field: FieldClass, Type: "text"},
		{Name: "space", Field: FieldSpace, Type: "text"},
		{Name: "attachedTo", Field: FieldAttachedTo, Type: "text"},
		{Name: "createdBy", Field: FieldCreatedBy, Type: "text"},
		{Name: "modifiedBy", Field: FieldModifiedBy, Type: "text"},
		{Name: "createdOn", Field: FieldCreatedOn, Type: "bigint"},
		{Name: "modifiedOn", Field: FieldModifiedOn, Type: "bigint"},
		{Name: ColHash, Type: "text"},
		{Name: ColSize, Type: "bigint"},
		{Name: ColData, Type: "jsonb"},
	}
}

// Default returns the default layout bound to a domain. The table name is
// the domain name.
func Default(domain types.Domain) DomainSchema {
	return DomainSchema{Domain: domain, Table: string(domain), Columns: defaultColumns()}
}

// ColumnFor maps a DSL field name to its fixed column, if the field is
// promoted out of the attribute blob.
func (s DomainSchema) ColumnFor(field string) (Column, bool) {
	for _, c := range s.Columns {
		if c.Field != "" && c.Field == field {
			return c, true
		}
	}
	return Column{}, false
}

// ColumnCount is the number of physical columns the table contributes to a
// SELECT list, used by the row re-assembler to keep its positional cursor in
// step with join descriptors.
func (s DomainSchema) ColumnCount() int {
	return len(s.Columns)
}

// SelectList returns the alias-qualified, quoted column list in layout order.
func (s DomainSchema) SelectList(alias string) string {
	parts := make([]string, 0, len(s.Columns))
	for _, c := range s.Columns {
		parts = append(parts, alias+"."+Quote(c.Name))
	}
	return strings.Join(parts, ", ")
}

// Registry resolves domains to layouts.
type Registry struct {
	byDomain map[types.Domain]DomainSchema
}

// NewRegistry builds a registry from custom layouts. Unregistered domains
// resolve to the default layout.
func NewRegistry(custom ...DomainSchema) *Registry {
	r := &Registry{byDomain: make(map[types.Domain]DomainSchema, len(custom))}
	for _, s := range custom {
		if s.Table == "" {
			s.Table = string(s.Domain)
		}
		if len(s.Columns) == 0 {
			s.Columns = defaultColumns()
		}
		r.byDomain[s.Domain] = s
	}
	return r
}

// For returns the layout of a domain.
func (r *Registry) For(domain types.Domain) DomainSchema {
	if s, ok := r.byDomain[domain]; ok {
		return s
	}
	return Default(domain)
}
