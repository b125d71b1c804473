package query

import (
	"encoding/json"

	"github.com/hcengineering/platform-sub001/model"
	"github.com/hcengineering/platform-sub001/schema"
	"github.com/hcengineering/platform-sub001/types"
)

// Space document attributes consulted by the security join.
const (
	spaceAttrPrivate = "private"
	spaceAttrMembers = "members"
	spaceAttrSystem  = "system"
)

// securityJoin appends a join restricting visible rows to spaces the
// principal can see: spaces they are a member of, plus public and system
// spaces. It returns "" when no restriction applies: unauthenticated or
// administrative sessions, the system account, owner-equivalent accounts,
// and queries already equality-pinned to the caller's own personal space.
func securityJoin(principal *types.Principal, mdb *model.Db, filter types.Filter, rootAlias string, spaceSchema schema.DomainSchema, wsParam string, args *argList) string {
	if principal == nil || principal.Admin || principal.IsSystem() {
		return ""
	}
	var account *types.Doc
	if mdb != nil {
		account, _ = mdb.FindByID(principal.Account)
	}
	if model.IsOwner(account) {
		return ""
	}
	if personal, ok := model.PersonalSpace(account); ok {
		if space, ok := filter[schema.FieldSpace]; ok {
			if ref, ok := asRef(space); ok && ref == personal {
				// Already scoped to the caller's own space; the
				// predicate would be trivially satisfied.
				return ""
			}
		}
	}

	member, _ := json.Marshal([]string{string(principal.Account)})
	data := "sec." + schema.Quote(schema.ColData)
	return " JOIN " + schema.Quote(spaceSchema.Table) + " AS sec ON sec." + schema.Quote(schema.ColWorkspace) + " = " + wsParam +
		" AND sec." + schema.Quote("id") + " = " + rootAlias + "." + schema.Quote("space") +
		" AND (" + data + "->>'" + spaceAttrPrivate + "' IS DISTINCT FROM 'true'" +
		" OR " + data + "->'" + spaceAttrMembers + "' @> " + args.addJSON(string(member)) +
		" OR " + data + "->>'" + spaceAttrSystem + "' = 'true')"
}

func asRef(v any) (types.Ref, bool) {
	switch s := v.(type) {
	case string:
		return types.Ref(s), true
	case types.Ref:
		return s, true
	}
	return "", false
}
