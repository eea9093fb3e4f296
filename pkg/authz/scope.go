package authz

import (
	"github.com/google/uuid"
)

// Subject is a user together with the memberships scope evaluation needs
type Subject struct {
	User           *User       `json:"user"`
	RoleIDs        []uuid.UUID `json:"role_ids"`
	ProjectIDs     []uuid.UUID `json:"project_ids"`
	EffectiveLevel int         `json:"effective_level"`
}

// InProject reports whether the subject is an active member of projectID
func (s *Subject) InProject(projectID uuid.UUID) bool {
	for _, id := range s.ProjectIDs {
		if id == projectID {
			return true
		}
	}
	return false
}

// HasRole reports whether roleID is among the subject's effective roles
func (s *Subject) HasRole(roleID uuid.UUID) bool {
	for _, id := range s.RoleIDs {
		if id == roleID {
			return true
		}
	}
	return false
}

// ScopeEvaluator decides whether a scope reaches a resource instance
type ScopeEvaluator struct{}

// Covers reports whether scope covers res for subject
func (ScopeEvaluator) Covers(scope Scope, subject *Subject, res *ResourceMeta) bool {
	_, ok := ScopeEvaluator{}.CoveringScope(scope, subject, res)
	return ok
}

// CoveringScope walks from the narrowest scope up to the granted one and
// returns the first level that holds for res.
func (ScopeEvaluator) CoveringScope(scope Scope, subject *Subject, res *ResourceMeta) (Scope, bool) {
	if subject == nil || subject.User == nil || res == nil || !scope.Valid() {
		return ScopeOwn, false
	}
	for level := ScopeOwn; level <= scope; level++ {
		if levelHolds(level, subject, res) {
			return level, true
		}
	}
	return ScopeOwn, false
}

func levelHolds(level Scope, subject *Subject, res *ResourceMeta) bool {
	user := subject.User
	switch level {
	case ScopeOwn:
		return res.OwnerID != uuid.Nil && res.OwnerID == user.ID
	case ScopeSession:
		return res.SessionID.Valid && res.SessionOwnerID.Valid && res.SessionOwnerID.UUID == user.ID
	case ScopeProject:
		return res.ProjectID.Valid && subject.InProject(res.ProjectID.UUID)
	case ScopeDepartment:
		return res.DepartmentID.Valid && user.DepartmentID.Valid && res.DepartmentID.UUID == user.DepartmentID.UUID
	case ScopeOrganization:
		return true
	}
	return false
}
