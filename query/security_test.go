package query

import (
	"strings"
	"testing"

	"github.com/hcengineering/platform-sub001/model"
	"github.com/hcengineering/platform-sub001/schema"
	"github.com/hcengineering/platform-sub001/types"
)

func securityModel() *model.Db {
	return model.New([]*types.Doc{
		{ID: "account:owner", Class: "core:Account", Attributes: map[string]any{
			model.AttrRole: model.RoleOwner,
		}},
		{ID: "account:member", Class: "core:Account", Attributes: map[string]any{
			model.AttrPersonalSpace: "space:member-home",
		}},
	})
}

func securityFor(t *testing.T, principal *types.Principal, filter types.Filter) string {
	t.Helper()
	args := &argList{}
	args.add("ws1")
	return securityJoin(principal, securityModel(), filter, "t", schema.Default(types.DomainSpace), "$1", args)
}

func TestSecurityJoin_Skipped(t *testing.T) {
	cases := []struct {
		name      string
		principal *types.Principal
		filter    types.Filter
	}{
		{"no principal", nil, nil},
		{"admin", &types.Principal{Account: "account:member", Admin: true}, nil},
		{"system account", &types.Principal{Account: types.SystemAccount}, nil},
		{"owner role", &types.Principal{Account: "account:owner"}, nil},
		{"own personal space", &types.Principal{Account: "account:member"},
			types.Filter{"space": "space:member-home"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if join := securityFor(t, tc.principal, tc.filter); join != "" {
				t.Errorf("expected no security join, got %q", join)
			}
		})
	}
}

func TestSecurityJoin_RestrictsRegularAccounts(t *testing.T) {
	join := securityFor(t, &types.Principal{Account: "account:member"}, nil)
	if join == "" {
		t.Fatal("expected a security join for a regular account")
	}
	if !strings.Contains(join, `JOIN "space" AS sec`) {
		t.Errorf("expected join against the space table, got %q", join)
	}
	if !strings.Contains(join, `sec."workspaceId" = $1`) {
		t.Errorf("join must be workspace-pinned, got %q", join)
	}
	if !strings.Contains(join, "IS DISTINCT FROM 'true'") {
		t.Errorf("public spaces must stay visible, got %q", join)
	}
	if !strings.Contains(join, "@>") {
		t.Errorf("membership must use containment, got %q", join)
	}
}

func TestSecurityJoin_ForeignSpaceStillRestricted(t *testing.T) {
	join := securityFor(t, &types.Principal{Account: "account:member"},
		types.Filter{"space": "space:other"})
	if join == "" {
		t.Fatal("pinning to a foreign space must not bypass the filter")
	}
}

func TestBuildFind_SecurityJoinWired(t *testing.T) {
	b := testBuilder(t)
	b.Model = securityModel()
	q, err := b.BuildFind("ws1", "task:Task", nil, types.FindOptions{},
		&types.Principal{Account: "account:member", Workspace: "ws1"})
	if err != nil {
		t.Fatalf("failed to build query: %v", err)
	}
	if !strings.Contains(q.SQL, `JOIN "space" AS sec`) {
		t.Errorf("expected security join in %q", q.SQL)
	}
	member := false
	for _, a := range q.Args {
		if a == `["account:member"]` {
			member = true
		}
	}
	if !member {
		t.Errorf("membership parameter not bound: %v", q.Args)
	}
}
