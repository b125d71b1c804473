package pgdoc

import (
	"reflect"
	"testing"

	"github.com/hcengineering/platform-sub001/types"
)

func TestNeedsLock(t *testing.T) {
	cases := []struct {
		name string
		ops  map[string]any
		want bool
	}{
		{"bare sets", map[string]any{"title": "x"}, false},
		{"operator", map[string]any{"$inc": map[string]any{"rank": 1}}, true},
		{"dotted path", map[string]any{"meta.color": "red"}, true},
		{"mixed", map[string]any{"title": "x", "$unset": map[string]any{"rank": true}}, true},
	}
	for _, tc := range cases {
		if got := needsLock(tc.ops); got != tc.want {
			t.Errorf("%s: needsLock = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestSplitOperations(t *testing.T) {
	bare, operators := splitOperations(map[string]any{
		"title": "x",
		"$inc":  map[string]any{"rank": 2},
	})
	if len(bare) != 1 || bare["title"] != "x" {
		t.Errorf("unexpected bare sets: %v", bare)
	}
	if len(operators) != 1 || operators["$inc"]["rank"] != 2 {
		t.Errorf("unexpected operators: %v", operators)
	}
}

func TestApplyBare_DottedPathCreatesObjects(t *testing.T) {
	attrs := map[string]any{}
	applyBare(attrs, map[string]any{"meta.ui.color": "red", "title": "x"})
	meta, _ := attrs["meta"].(map[string]any)
	ui, _ := meta["ui"].(map[string]any)
	if ui["color"] != "red" {
		t.Errorf("dotted set failed: %v", attrs)
	}
	if attrs["title"] != "x" {
		t.Errorf("top-level set failed: %v", attrs)
	}
}

func TestApplyOperators_Inc(t *testing.T) {
	attrs := map[string]any{"rank": float64(3)}
	if err := applyOperators(attrs, map[string]map[string]any{
		"$inc": {"rank": float64(2), "views": float64(1)},
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attrs["rank"] != int64(5) {
		t.Errorf("expected rank 5, got %v (%T)", attrs["rank"], attrs["rank"])
	}
	// Absent field counts as zero.
	if attrs["views"] != int64(1) {
		t.Errorf("expected views 1, got %v", attrs["views"])
	}
}

func TestApplyOperators_IncNonNumeric(t *testing.T) {
	attrs := map[string]any{"rank": "high"}
	err := applyOperators(attrs, map[string]map[string]any{"$inc": {"rank": float64(1)}})
	if err == nil {
		t.Fatal("expected error for $inc on a string")
	}
}

func TestApplyOperators_PushPull(t *testing.T) {
	attrs := map[string]any{"labels": []any{"a", "b"}}
	if err := applyOperators(attrs, map[string]map[string]any{"$push": {"labels": "c"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(attrs["labels"], []any{"a", "b", "c"}) {
		t.Errorf("push failed: %v", attrs["labels"])
	}

	if err := applyOperators(attrs, map[string]map[string]any{"$pull": {"labels": "b"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(attrs["labels"], []any{"a", "c"}) {
		t.Errorf("pull failed: %v", attrs["labels"])
	}

	// Push onto an absent field creates the array.
	if err := applyOperators(attrs, map[string]map[string]any{"$push": {"tags": "new"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(attrs["tags"], []any{"new"}) {
		t.Errorf("push on absent field failed: %v", attrs["tags"])
	}
}

func TestApplyOperators_PullNumbersCompareByValue(t *testing.T) {
	// Decoded JSON carries float64, callers often pass int.
	attrs := map[string]any{"nums": []any{float64(1), float64(2), float64(3)}}
	if err := applyOperators(attrs, map[string]map[string]any{"$pull": {"nums": 2}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(attrs["nums"], []any{float64(1), float64(3)}) {
		t.Errorf("pull by numeric value failed: %v", attrs["nums"])
	}
}

func TestApplyOperators_Unset(t *testing.T) {
	attrs := map[string]any{"title": "x", "meta": map[string]any{"a": 1, "b": 2}}
	if err := applyOperators(attrs, map[string]map[string]any{
		"$unset": {"title": true, "meta.a": true},
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := attrs["title"]; ok {
		t.Error("title should be removed")
	}
	meta := attrs["meta"].(map[string]any)
	if _, ok := meta["a"]; ok {
		t.Error("meta.a should be removed")
	}
	if meta["b"] != 2 {
		t.Error("meta.b should survive")
	}
}

func TestApplyOperators_Unknown(t *testing.T) {
	if err := applyOperators(map[string]any{}, map[string]map[string]any{"$rename": {"a": "b"}}); err == nil {
		t.Fatal("expected error for unknown operator")
	}
}

func TestApplyMixin(t *testing.T) {
	attrs := map[string]any{"title": "x"}
	applyMixin(attrs, "mixin:Assignable", map[string]any{"assignee": "account:1"})
	bundle, _ := attrs["mixin:Assignable"].(map[string]any)
	if bundle["assignee"] != "account:1" {
		t.Fatalf("mixin bundle not created: %v", attrs)
	}

	// A second apply merges into the existing bundle.
	applyMixin(attrs, "mixin:Assignable", map[string]any{"dueDate": int64(99)})
	bundle = attrs["mixin:Assignable"].(map[string]any)
	if bundle["assignee"] != "account:1" || bundle["dueDate"] != int64(99) {
		t.Errorf("mixin merge lost fields: %v", bundle)
	}
}

func TestDocMixinAttrs(t *testing.T) {
	doc := &types.Doc{Attributes: map[string]any{
		"mixin:Assignable": map[string]any{"assignee": "account:1"},
	}}
	if m := doc.MixinAttrs("mixin:Assignable"); m["assignee"] != "account:1" {
		t.Errorf("unexpected bundle: %v", m)
	}
	if m := doc.MixinAttrs("mixin:Other"); m != nil {
		t.Errorf("expected nil for absent mixin, got %v", m)
	}
}
