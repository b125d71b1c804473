package schema

import (
	"strings"
	"testing"

	"github.com/hcengineering/platform-sub001/types"
)

func TestDefault_Layout(t *testing.T) {
	s := Default(types.DomainDoc)
	if s.Table != "doc" {
		t.Errorf("table name should be the domain, got %q", s.Table)
	}
	if s.Columns[0].Name != ColWorkspace {
		t.Errorf("workspace must be the first column, got %q", s.Columns[0].Name)
	}
	if s.Columns[len(s.Columns)-1].Name != ColData {
		t.Errorf("attribute blob must be the last column, got %q", s.Columns[len(s.Columns)-1].Name)
	}
}

func TestColumnFor(t *testing.T) {
	s := Default(types.DomainDoc)
	col, ok := s.ColumnFor(FieldID)
	if !ok || col.Name != "id" {
		t.Errorf("_id should map to the id column, got %+v ok=%v", col, ok)
	}
	if _, ok := s.ColumnFor("title"); ok {
		t.Error("blob attributes have no fixed column")
	}
	if _, ok := s.ColumnFor(""); ok {
		t.Error("empty field must not match internal columns")
	}
}

func TestSelectList_QuotedAndQualified(t *testing.T) {
	s := Default(types.DomainDoc)
	list := s.SelectList("t")
	if !strings.HasPrefix(list, `t."workspaceId"`) {
		t.Errorf("unexpected select list: %q", list)
	}
	if strings.Count(list, ", ")+1 != s.ColumnCount() {
		t.Errorf("select list length disagrees with ColumnCount: %q", list)
	}
}

func TestRegistry_CustomAndFallback(t *testing.T) {
	custom := DomainSchema{Domain: "tx", Table: "tx_log"}
	r := NewRegistry(custom)

	got := r.For("tx")
	if got.Table != "tx_log" {
		t.Errorf("custom table lost: %q", got.Table)
	}
	if got.ColumnCount() == 0 {
		t.Error("custom layout without columns must inherit the default set")
	}

	fallback := r.For("doc")
	if fallback.Table != "doc" {
		t.Errorf("unregistered domain should fall back to default, got %q", fallback.Table)
	}
}
