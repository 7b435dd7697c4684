package services

import "permit-management-api/models"

// AuthContext is the authenticated caller identity passed into every
// role-gated operation. Role policy lives in predicates here, not in
// handlers.
type AuthContext struct {
	UserID int
	Email  string
	Role   string
}

// IsApprover reports whether the caller may approve or reject permits.
func (a AuthContext) IsApprover() bool {
	return a.Role == models.RoleAdmin || a.Role == models.RoleManager
}

// CanClose reports whether the caller may close the given permit:
// admin/manager, or the permit holder.
func (a AuthContext) CanClose(p *models.Permit) bool {
	return a.IsApprover() || a.UserID == p.HolderID
}
