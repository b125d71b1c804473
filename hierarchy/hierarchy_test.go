package hierarchy

import (
	"testing"

	"github.com/hcengineering/platform-sub001/types"
)

func testDefs() []ClassDef {
	return []ClassDef{
		{ID: "core:Doc", Abstract: true},
		{ID: "core:Space", Super: "core:Doc", Domain: types.DomainSpace},
		{ID: "task:Task", Super: "core:Doc", Domain: types.DomainDoc, Attrs: []AttrDef{
			{Name: "title"},
			{Name: "labels", Array: true},
		}},
		{ID: "task:Issue", Super: "task:Task", Attrs: []AttrDef{
			{Name: "priority"},
		}},
		{ID: "task:Bug", Super: "task:Issue"},
		{ID: "task:Epic", Super: "task:Task"},
		{ID: "mixin:Assignable", Super: "task:Task", Mixin: true, Attrs: []AttrDef{
			{Name: "assignee"},
		}},
	}
}

func newTestHierarchy(t *testing.T) *Hierarchy {
	t.Helper()
	h, err := New(testDefs())
	if err != nil {
		t.Fatalf("failed to build hierarchy: %v", err)
	}
	return h
}

func TestNew_RejectsDuplicates(t *testing.T) {
	_, err := New([]ClassDef{{ID: "a"}, {ID: "a"}})
	if err == nil {
		t.Fatal("expected error for duplicate class")
	}
}

func TestNew_RejectsUnknownSuper(t *testing.T) {
	_, err := New([]ClassDef{{ID: "a", Super: "missing"}})
	if err == nil {
		t.Fatal("expected error for unknown superclass")
	}
}

func TestNew_RejectsCycle(t *testing.T) {
	_, err := New([]ClassDef{
		{ID: "a", Super: "b"},
		{ID: "b", Super: "a"},
	})
	if err == nil {
		t.Fatal("expected error for superclass cycle")
	}
}

func TestDomainOf_InheritsFromSuper(t *testing.T) {
	h := newTestHierarchy(t)

	d, err := h.DomainOf("task:Bug")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d != types.DomainDoc {
		t.Errorf("expected domain %q, got %q", types.DomainDoc, d)
	}

	d, err = h.DomainOf("core:Space")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d != types.DomainSpace {
		t.Errorf("expected domain %q, got %q", types.DomainSpace, d)
	}

	if _, err := h.DomainOf("missing"); err == nil {
		t.Error("expected error for unknown class")
	}
}

func TestDomainOf_DefaultsToDoc(t *testing.T) {
	h, err := New([]ClassDef{{ID: "bare"}})
	if err != nil {
		t.Fatalf("failed to build hierarchy: %v", err)
	}
	d, err := h.DomainOf("bare")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d != types.DomainDoc {
		t.Errorf("expected default domain %q, got %q", types.DomainDoc, d)
	}
}

func TestIsDerived(t *testing.T) {
	h := newTestHierarchy(t)

	cases := []struct {
		c, parent types.ClassID
		want      bool
	}{
		{"task:Bug", "task:Task", true},
		{"task:Bug", "task:Bug", true},
		{"task:Task", "task:Bug", false},
		{"task:Epic", "task:Issue", false},
		{"missing", "task:Task", false},
	}
	for _, tc := range cases {
		if got := h.IsDerived(tc.c, tc.parent); got != tc.want {
			t.Errorf("IsDerived(%q, %q) = %v, want %v", tc.c, tc.parent, got, tc.want)
		}
	}
}

func TestConcreteDescendants_ExcludesAbstractAndMixins(t *testing.T) {
	h := newTestHierarchy(t)

	got := h.ConcreteDescendants("task:Task")
	want := map[types.ClassID]bool{
		"task:Task": true, "task:Issue": true, "task:Bug": true, "task:Epic": true,
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d classes, got %v", len(want), got)
	}
	for _, c := range got {
		if !want[c] {
			t.Errorf("unexpected class %q in concrete descendants", c)
		}
	}
}

func TestDescendants_StableOrder(t *testing.T) {
	h := newTestHierarchy(t)
	first := h.Descendants("task:Task")
	second := h.Descendants("task:Task")
	if len(first) != len(second) {
		t.Fatalf("descendant set changed size: %v vs %v", first, second)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("descendant order unstable at %d: %q vs %q", i, first[i], second[i])
		}
	}
}

func TestAttrOf_WalksSuperChain(t *testing.T) {
	h := newTestHierarchy(t)

	attr, owner, ok := h.AttrOf("task:Bug", "title")
	if !ok {
		t.Fatal("expected title to resolve on task:Bug")
	}
	if owner != "task:Task" {
		t.Errorf("expected owner task:Task, got %q", owner)
	}
	if attr.Array {
		t.Error("title should not be an array attribute")
	}

	attr, _, ok = h.AttrOf("task:Issue", "labels")
	if !ok || !attr.Array {
		t.Errorf("expected labels to resolve as array, got %+v ok=%v", attr, ok)
	}

	if _, _, ok := h.AttrOf("task:Task", "priority"); ok {
		t.Error("priority should not resolve on the superclass")
	}
}

func TestMixinBase(t *testing.T) {
	h := newTestHierarchy(t)
	base, err := h.MixinBase("mixin:Assignable")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if base != "task:Task" {
		t.Errorf("expected base task:Task, got %q", base)
	}
	if _, err := h.MixinBase("missing"); err == nil {
		t.Error("expected error for unknown class")
	}
}

func TestIsMixin(t *testing.T) {
	h := newTestHierarchy(t)
	if !h.IsMixin("mixin:Assignable") {
		t.Error("expected mixin:Assignable to be a mixin")
	}
	if h.IsMixin("task:Task") {
		t.Error("task:Task is not a mixin")
	}
}
