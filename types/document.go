// Package types defines the document model and the query/update DSL shared by
// the pgdoc adapter and its callers.
//
// A Doc is a polymorphic document: a small set of fixed attributes (identity,
// class, owning space, audit fields) plus an open attribute map whose shape is
// determined by the document's concrete class. Mixin attributes live inside
// the attribute map under the mixin's class id as key.
package types

import (
	"github.com/google/uuid"
)

// Ref is an opaque document identifier, unique within a (workspace, domain)
// pair.
type Ref string

// ClassID identifies a class or mixin in the hierarchy.
type ClassID string

// Domain is a logical grouping of documents mapped to one physical table.
type Domain string

// WorkspaceID identifies a tenant. Every statement the adapter emits is
// scoped to exactly one workspace.
type WorkspaceID string

// Timestamp is epoch milliseconds.
type Timestamp int64

// Well-known domains and refs.
const (
	// DomainDoc is the default storage domain for classes that declare none.
	DomainDoc Domain = "doc"
	// DomainSpace holds the owning-collection documents used by the
	// security filter.
	DomainSpace Domain = "space"
	// DomainModel marks static in-process reference data. Model documents
	// are never stored in SQL and lookups against them are resolved from
	// memory after row decoding.
	DomainModel Domain = "model"
)

// SystemAccount is the built-in account exempt from space-level filtering.
const SystemAccount Ref = "account:System"

// Doc is a decoded document.
type Doc struct {
	ID         Ref            `json:"_id"`
	Class      ClassID        `json:"_class"`
	Space      Ref            `json:"space"`
	AttachedTo Ref            `json:"attachedTo,omitempty"`
	CreatedBy  Ref            `json:"createdBy"`
	ModifiedBy Ref            `json:"modifiedBy"`
	CreatedOn  Timestamp      `json:"createdOn"`
	ModifiedOn Timestamp      `json:"modifiedOn"`
	Attributes map[string]any `json:"attributes"`

	// Lookup holds resolved lookup results keyed by the requested field
	// (or reverse alias), mirroring the shape of the lookup spec that
	// produced them. Values are *Doc or []*Doc.
	Lookup map[string]any `json:"$lookup,omitempty"`
}

// Attr returns an attribute value from the open attribute map.
func (d *Doc) Attr(name string) (any, bool) {
	if d.Attributes == nil {
		return nil, false
	}
	v, ok := d.Attributes[name]
	return v, ok
}

// MixinAttrs returns the namespaced attribute bundle for the given mixin, or
// nil if the mixin has never been applied to this document.
func (d *Doc) MixinAttrs(mixin ClassID) map[string]any {
	v, ok := d.Attr(string(mixin))
	if !ok {
		return nil
	}
	m, _ := v.(map[string]any)
	return m
}

// GenerateID returns a fresh document identifier.
func GenerateID() Ref {
	return Ref(uuid.New().String())
}
