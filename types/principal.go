package types

// Principal is the authenticated caller context used by the security filter.
// The workspace is always taken from here, never from document content.
type Principal struct {
	Account   Ref
	Workspace WorkspaceID
	// Admin marks administrative sessions; space-level filtering is not
	// applied for them.
	Admin bool
}

// IsSystem reports whether the principal is the built-in system account.
func (p *Principal) IsSystem() bool {
	return p != nil && p.Account == SystemAccount
}
