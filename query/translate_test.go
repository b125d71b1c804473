package query

import (
	"errors"
	"strings"
	"testing"

	"github.com/hcengineering/platform-sub001/hierarchy"
	"github.com/hcengineering/platform-sub001/model"
	"github.com/hcengineering/platform-sub001/schema"
	"github.com/hcengineering/platform-sub001/types"
)

func testHierarchy(t *testing.T) *hierarchy.Hierarchy {
	t.Helper()
	h, err := hierarchy.New([]hierarchy.ClassDef{
		{ID: "core:Doc", Abstract: true},
		{ID: "core:Space", Super: "core:Doc", Domain: types.DomainSpace, Attrs: []hierarchy.AttrDef{
			{Name: "name"},
			{Name: "private"},
			{Name: "members", Array: true},
		}},
		{ID: "core:Account", Super: "core:Doc", Domain: types.DomainModel, Attrs: []hierarchy.AttrDef{
			{Name: "email"},
		}},
		{ID: "task:Task", Super: "core:Doc", Domain: types.DomainDoc, Attrs: []hierarchy.AttrDef{
			{Name: "title"},
			{Name: "rank"},
			{Name: "labels", Array: true},
			{Name: "project"},
		}},
		{ID: "task:Issue", Super: "task:Task", Attrs: []hierarchy.AttrDef{
			{Name: "priority"},
		}},
		{ID: "task:Bug", Super: "task:Issue"},
		{ID: "task:Comment", Super: "core:Doc", Attrs: []hierarchy.AttrDef{
			{Name: "message"},
		}},
		{ID: "task:Project", Super: "core:Doc", Attrs: []hierarchy.AttrDef{
			{Name: "name"},
			{Name: "owner"},
		}},
		{ID: "mixin:Assignable", Super: "task:Task", Mixin: true, Attrs: []hierarchy.AttrDef{
			{Name: "assignee"},
		}},
	})
	if err != nil {
		t.Fatalf("failed to build hierarchy: %v", err)
	}
	return h
}

func testBuilder(t *testing.T) *Builder {
	t.Helper()
	return &Builder{H: testHierarchy(t), Schema: schema.NewRegistry(), Model: model.New(nil)}
}

func build(t *testing.T, filter types.Filter, opts types.FindOptions) *FindQuery {
	t.Helper()
	q, err := testBuilder(t).BuildFind("ws1", "task:Task", filter, opts, nil)
	if err != nil {
		t.Fatalf("failed to build query: %v", err)
	}
	return q
}

func TestBuildFind_WorkspaceIsFirstParam(t *testing.T) {
	q := build(t, nil, types.FindOptions{})
	if len(q.Args) == 0 || q.Args[0] != "ws1" {
		t.Fatalf("expected workspace as first arg, got %v", q.Args)
	}
	if !strings.Contains(q.SQL, `t."workspaceId" = $1`) {
		t.Errorf("missing workspace predicate in %q", q.SQL)
	}
}

func TestBuildFind_ClassNarrowing(t *testing.T) {
	t.Run("subtree expands to IN list", func(t *testing.T) {
		q := build(t, nil, types.FindOptions{})
		if !strings.Contains(q.SQL, `t."class" IN (`) {
			t.Errorf("expected class IN list in %q", q.SQL)
		}
		found := 0
		for _, a := range q.Args {
			switch a {
			case "task:Task", "task:Issue", "task:Bug":
				found++
			}
		}
		if found != 3 {
			t.Errorf("expected 3 concrete classes bound, got %d in %v", found, q.Args)
		}
	})

	t.Run("single class compiles to equality", func(t *testing.T) {
		q, err := testBuilder(t).BuildFind("ws1", "task:Bug", nil, types.FindOptions{}, nil)
		if err != nil {
			t.Fatalf("failed to build query: %v", err)
		}
		if !strings.Contains(q.SQL, `t."class" = $2`) {
			t.Errorf("expected class equality in %q", q.SQL)
		}
	})

	t.Run("caller $in intersects the subtree", func(t *testing.T) {
		q := build(t, types.Filter{"_class": map[string]any{"$in": []any{"task:Bug", "core:Space"}}}, types.FindOptions{})
		if !strings.Contains(q.SQL, `t."class" = $2`) {
			t.Errorf("expected single-class equality after intersection in %q", q.SQL)
		}
		if q.Args[1] != "task:Bug" {
			t.Errorf("expected task:Bug bound, got %v", q.Args[1])
		}
	})

	t.Run("disjoint narrowing compiles to FALSE", func(t *testing.T) {
		q := build(t, types.Filter{"_class": "core:Space"}, types.FindOptions{})
		if !strings.Contains(q.SQL, "FALSE") {
			t.Errorf("expected FALSE predicate in %q", q.SQL)
		}
	})

	t.Run("$nin subtracts from the subtree", func(t *testing.T) {
		q := build(t, types.Filter{"_class": map[string]any{"$nin": []any{"task:Issue", "task:Bug"}}}, types.FindOptions{})
		if !strings.Contains(q.SQL, `t."class" = $2`) || q.Args[1] != "task:Task" {
			t.Errorf("expected narrowing to task:Task, got %q %v", q.SQL, q.Args)
		}
	})
}

func TestBuildFind_Operators(t *testing.T) {
	t.Run("empty $in matches nothing", func(t *testing.T) {
		q := build(t, types.Filter{"title": map[string]any{"$in": []any{}}}, types.FindOptions{})
		if !strings.Contains(q.SQL, "FALSE") {
			t.Errorf("expected FALSE for empty $in in %q", q.SQL)
		}
	})

	t.Run("$ne nil becomes IS NOT NULL", func(t *testing.T) {
		q := build(t, types.Filter{"title": map[string]any{"$ne": nil}}, types.FindOptions{})
		if !strings.Contains(q.SQL, "IS NOT NULL") {
			t.Errorf("expected IS NOT NULL in %q", q.SQL)
		}
	})

	t.Run("nil literal becomes IS NULL", func(t *testing.T) {
		q := build(t, types.Filter{"title": nil}, types.FindOptions{})
		if !strings.Contains(q.SQL, "IS NULL") {
			t.Errorf("expected IS NULL in %q", q.SQL)
		}
	})

	t.Run("$like compiles to ILIKE", func(t *testing.T) {
		q := build(t, types.Filter{"title": map[string]any{"$like": "%crash%"}}, types.FindOptions{})
		if !strings.Contains(q.SQL, "ILIKE") {
			t.Errorf("expected ILIKE in %q", q.SQL)
		}
		if q.Args[len(q.Args)-1] != "%crash%" {
			t.Errorf("pattern should be bound, got %v", q.Args)
		}
	})

	t.Run("$regex honors case-insensitive option", func(t *testing.T) {
		q := build(t, types.Filter{"title": map[string]any{"$regex": "^bug", "$options": "i"}}, types.FindOptions{})
		if !strings.Contains(q.SQL, " ~* ") {
			t.Errorf("expected ~* in %q", q.SQL)
		}

		q = build(t, types.Filter{"title": map[string]any{"$regex": "^bug"}}, types.FindOptions{})
		if !strings.Contains(q.SQL, " ~ ") || strings.Contains(q.SQL, " ~* ") {
			t.Errorf("expected case-sensitive ~ in %q", q.SQL)
		}
	})

	t.Run("range on blob field compares jsonb", func(t *testing.T) {
		q := build(t, types.Filter{"rank": map[string]any{"$gt": 10}}, types.FindOptions{})
		if !strings.Contains(q.SQL, `"data"#>'{rank}' >`) {
			t.Errorf("expected jsonb comparison in %q", q.SQL)
		}
		if !strings.Contains(q.SQL, "::jsonb") {
			t.Errorf("expected jsonb-cast parameter in %q", q.SQL)
		}
	})

	t.Run("range on fixed column compares the raw column", func(t *testing.T) {
		q := build(t, types.Filter{"modifiedOn": map[string]any{"$gte": 1000}}, types.FindOptions{})
		if !strings.Contains(q.SQL, `t."modifiedOn" >= $`) {
			t.Errorf("expected raw column comparison in %q", q.SQL)
		}
	})

	t.Run("array literal uses containment", func(t *testing.T) {
		q := build(t, types.Filter{"labels": "urgent"}, types.FindOptions{})
		if !strings.Contains(q.SQL, `"data"#>'{labels}' @>`) {
			t.Errorf("expected containment in %q", q.SQL)
		}
		if q.Args[len(q.Args)-1] != `["urgent"]` {
			t.Errorf("expected element wrapped in array, got %v", q.Args)
		}
	})

	t.Run("$all uses containment of the whole list", func(t *testing.T) {
		q := build(t, types.Filter{"labels": map[string]any{"$all": []any{"a", "b"}}}, types.FindOptions{})
		if q.Args[len(q.Args)-1] != `["a","b"]` {
			t.Errorf("expected full list bound, got %v", q.Args)
		}
	})

	t.Run("unknown operator map falls back to containment", func(t *testing.T) {
		q := build(t, types.Filter{"rank": map[string]any{"$near": 5}}, types.FindOptions{})
		if !strings.Contains(q.SQL, "@>") {
			t.Errorf("expected containment fallback in %q", q.SQL)
		}
		if q.Args[len(q.Args)-1] != `{"$near":5}` {
			t.Errorf("expected operator map bound as json, got %v", q.Args)
		}
	})
}

func TestBuildFind_MixinFieldIsNamespaced(t *testing.T) {
	q, err := testBuilder(t).BuildFind("ws1", "mixin:Assignable", types.Filter{"assignee": "account:1"}, types.FindOptions{}, nil)
	if err != nil {
		t.Fatalf("failed to build query: %v", err)
	}
	if !strings.Contains(q.SQL, `#>'{mixin:Assignable,assignee}'`) {
		t.Errorf("expected mixin-namespaced path in %q", q.SQL)
	}
}

func TestBuildFind_MixinQueryMatchesBaseWithBundle(t *testing.T) {
	q, err := testBuilder(t).BuildFind("ws1", "mixin:Assignable", nil, types.FindOptions{}, nil)
	if err != nil {
		t.Fatalf("failed to build query: %v", err)
	}
	if !strings.Contains(q.SQL, `t."class" IN (`) {
		t.Errorf("expected base-class narrowing in %q", q.SQL)
	}
	if !strings.Contains(q.SQL, `"data"#>'{mixin:Assignable}' IS NOT NULL`) {
		t.Errorf("expected mixin presence predicate in %q", q.SQL)
	}
}

func TestBuildFind_RejectsUndeclaredField(t *testing.T) {
	_, err := testBuilder(t).BuildFind("ws1", "task:Task", types.Filter{"nope": 1}, types.FindOptions{}, nil)
	if !errors.Is(err, ErrBadField) {
		t.Fatalf("expected ErrBadField, got %v", err)
	}
}

func TestBuildFind_RejectsHostilePathSegments(t *testing.T) {
	for _, field := range []string{`title'--`, `a"b`, "x{y}", `back\slash`} {
		if _, err := testBuilder(t).BuildFind("ws1", "task:Task", types.Filter{field: 1}, types.FindOptions{}, nil); !errors.Is(err, ErrBadField) {
			t.Errorf("field %q: expected ErrBadField, got %v", field, err)
		}
	}
}

func TestBuildFind_NoLiteralInSQL(t *testing.T) {
	q := build(t, types.Filter{"title": "alpha'; DROP TABLE \"doc\"; --"}, types.FindOptions{})
	if strings.Contains(q.SQL, "DROP TABLE") {
		t.Fatalf("literal leaked into SQL: %q", q.SQL)
	}
}

func TestBuildFind_SortAndLimit(t *testing.T) {
	q := build(t, nil, types.FindOptions{
		Sort:  types.SortOptions{"rank": types.Descending, "modifiedOn": types.Ascending},
		Limit: 25,
	})
	if !strings.Contains(q.SQL, "ORDER BY") {
		t.Fatalf("missing ORDER BY in %q", q.SQL)
	}
	if !strings.Contains(q.SQL, `t."modifiedOn" ASC`) || !strings.Contains(q.SQL, `"data"#>'{rank}' DESC`) {
		t.Errorf("unexpected sort keys in %q", q.SQL)
	}
	if !strings.Contains(q.SQL, `t."id" ASC`) {
		t.Errorf("missing id tiebreak in %q", q.SQL)
	}
	if !strings.HasSuffix(q.SQL, "LIMIT 25") {
		t.Errorf("missing limit in %q", q.SQL)
	}
}

func TestBuildFind_TotalAddsWindowCount(t *testing.T) {
	q := build(t, nil, types.FindOptions{Total: true})
	if !strings.Contains(q.SQL, `count(*) OVER() AS "_total"`) {
		t.Errorf("missing window count in %q", q.SQL)
	}
	if !q.Total {
		t.Error("Total flag not set on compiled query")
	}
}

func TestBuildFind_Deterministic(t *testing.T) {
	filter := types.Filter{
		"title":  "x",
		"rank":   map[string]any{"$gt": 1, "$lt": 9},
		"labels": map[string]any{"$in": []any{"a", "b"}},
	}
	first := build(t, filter, types.FindOptions{})
	for i := 0; i < 10; i++ {
		next := build(t, filter, types.FindOptions{})
		if next.SQL != first.SQL {
			t.Fatalf("SQL not deterministic:\n%s\n%s", first.SQL, next.SQL)
		}
	}
}

func TestBuildFind_UnsupportedClassOperatorRejected(t *testing.T) {
	for _, filter := range []types.Filter{
		{"_class": map[string]any{"$like": "task:%"}},
		{"_class": map[string]any{"$in": []any{"task:Issue"}, "$exists": true}},
	} {
		_, err := testBuilder(t).BuildFind("ws1", "task:Task", filter, types.FindOptions{}, nil)
		if err == nil {
			t.Errorf("filter %v on _class should be rejected", filter)
		}
	}
}
