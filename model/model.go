// Package model holds static in-process reference documents (accounts,
// well-known spaces, other model-domain classes). Lookups against the model
// domain are resolved here instead of through SQL joins.
package model

import (
	"sync"

	"github.com/hcengineering/platform-sub001/hierarchy"
	"github.com/hcengineering/platform-sub001/types"
)

// Attribute names on model account documents consulted by the security
// filter.
const (
	AttrRole          = "role"
	AttrPersonalSpace = "personalSpace"

	// RoleOwner marks owner-equivalent accounts; no space filtering is
	// applied to them.
	RoleOwner = "OWNER"
)

// Db is the set of model documents, indexed by id and class. Populated at
// adapter startup (New plus Add), read-only afterwards.
type Db struct {
	mu      sync.RWMutex
	byID    map[types.Ref]*types.Doc
	byClass map[types.ClassID][]*types.Doc
}

// New builds a model db from documents.
func New(docs []*types.Doc) *Db {
	db := &Db{
		byID:    make(map[types.Ref]*types.Doc, len(docs)),
		byClass: make(map[types.ClassID][]*types.Doc),
	}
	for _, d := range docs {
		db.byID[d.ID] = d
		db.byClass[d.Class] = append(db.byClass[d.Class], d)
	}
	return db
}

// FindByID returns a model document by id.
func (db *Db) FindByID(id types.Ref) (*types.Doc, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	d, ok := db.byID[id]
	return d, ok
}

// FindAll returns the model documents whose class descends from the given
// class.
func (db *Db) FindAll(h *hierarchy.Hierarchy, class types.ClassID) []*types.Doc {
	db.mu.RLock()
	defer db.mu.RUnlock()
	var out []*types.Doc
	for c, docs := range db.byClass {
		if h.IsDerived(c, class) {
			out = append(out, docs...)
		}
	}
	return out
}

// Add registers additional model documents (used at adapter startup only).
func (db *Db) Add(docs ...*types.Doc) {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, d := range docs {
		db.byID[d.ID] = d
		db.byClass[d.Class] = append(db.byClass[d.Class], d)
	}
}

// IsOwner reports whether the account has the owner-equivalent role.
func IsOwner(account *types.Doc) bool {
	if account == nil {
		return false
	}
	role, _ := account.Attr(AttrRole)
	s, _ := role.(string)
	return s == RoleOwner
}

// PersonalSpace returns the account's default space, if declared.
func PersonalSpace(account *types.Doc) (types.Ref, bool) {
	if account == nil {
		return "", false
	}
	v, ok := account.Attr(AttrPersonalSpace)
	if !ok {
		return "", false
	}
	switch s := v.(type) {
	case string:
		return types.Ref(s), s != ""
	case types.Ref:
		return s, s != ""
	}
	return "", false
}
