package model

import (
	"testing"

	"github.com/hcengineering/platform-sub001/hierarchy"
	"github.com/hcengineering/platform-sub001/types"
)

func TestDb_FindByID(t *testing.T) {
	db := New([]*types.Doc{
		{ID: "account:alice", Class: "core:Account"},
	})
	if _, ok := db.FindByID("account:alice"); !ok {
		t.Error("expected account:alice")
	}
	if _, ok := db.FindByID("account:bob"); ok {
		t.Error("unexpected account:bob")
	}
}

func TestDb_FindAllByClass(t *testing.T) {
	h, err := hierarchy.New([]hierarchy.ClassDef{
		{ID: "core:Doc", Abstract: true},
		{ID: "core:Account", Super: "core:Doc", Domain: types.DomainModel},
		{ID: "core:Employee", Super: "core:Account"},
	})
	if err != nil {
		t.Fatalf("failed to build hierarchy: %v", err)
	}
	db := New([]*types.Doc{
		{ID: "account:a", Class: "core:Account"},
	})
	db.Add(&types.Doc{ID: "account:b", Class: "core:Employee"})

	if got := db.FindAll(h, "core:Account"); len(got) != 2 {
		t.Errorf("expected both accounts via the subclass, got %d", len(got))
	}
	if got := db.FindAll(h, "core:Employee"); len(got) != 1 {
		t.Errorf("expected only the employee, got %d", len(got))
	}
	if _, ok := db.FindByID("account:b"); !ok {
		t.Error("added document not indexed by id")
	}
}

func TestIsOwner(t *testing.T) {
	owner := &types.Doc{Attributes: map[string]any{AttrRole: RoleOwner}}
	member := &types.Doc{Attributes: map[string]any{AttrRole: "USER"}}
	if !IsOwner(owner) {
		t.Error("expected owner")
	}
	if IsOwner(member) || IsOwner(nil) {
		t.Error("non-owners misclassified")
	}
}

func TestPersonalSpace(t *testing.T) {
	acc := &types.Doc{Attributes: map[string]any{AttrPersonalSpace: "space:home"}}
	space, ok := PersonalSpace(acc)
	if !ok || space != "space:home" {
		t.Errorf("expected space:home, got %q ok=%v", space, ok)
	}
	if _, ok := PersonalSpace(nil); ok {
		t.Error("nil account has no personal space")
	}
	if _, ok := PersonalSpace(&types.Doc{}); ok {
		t.Error("account without the attribute has no personal space")
	}
}
