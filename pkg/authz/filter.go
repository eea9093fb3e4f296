package authz

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// AccessFilter is a predicate for list queries over one resource type. It is
// derived from the broadest unconditional grant the user holds and ignores
// ACL overrides, so callers re-check individual records with CheckAccess
// when an ACL may apply.
type AccessFilter struct {
	Denied       bool  `json:"denied"`
	Unrestricted bool  `json:"unrestricted"`
	Scope        Scope `json:"scope"`

	// A record matches when any populated level up to Scope holds
	OwnerID        uuid.UUID     `json:"owner_id"`
	SessionOwnerID uuid.UUID     `json:"session_owner_id"`
	ProjectIDs     []uuid.UUID   `json:"project_ids,omitempty"`
	DepartmentID   uuid.NullUUID `json:"department_id"`

	MaxClassification Classification `json:"max_classification"`
}

// Matches reports whether res passes the filter
func (f *AccessFilter) Matches(res *ResourceMeta) bool {
	if f.Denied || res == nil {
		return false
	}
	if !f.MaxClassification.Dominates(res.Classification) {
		return false
	}
	if f.Unrestricted {
		return true
	}
	subject := &Subject{
		User:       &User{ID: f.OwnerID, DepartmentID: f.DepartmentID},
		ProjectIDs: f.ProjectIDs,
	}
	return ScopeEvaluator{}.Covers(f.Scope, subject, res)
}

func deniedFilter() *AccessFilter {
	return &AccessFilter{Denied: true}
}

// AccessFilter builds the list-query filter for userID over resourceType
func (e *Engine) AccessFilter(ctx context.Context, userID uuid.UUID, resourceType ResourceType, action Action, now time.Time) (*AccessFilter, error) {
	ctx, span := tracer.Start(ctx, "authz.AccessFilter")
	defer span.End()

	user, err := e.src.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return deniedFilter(), nil
		}
		return deniedFilter(), unavailable("get user", err)
	}
	if user.Locked(now) {
		return deniedFilter(), nil
	}

	agg, err := e.aggregator.Aggregate(ctx, user, now)
	if err != nil {
		return deniedFilter(), err
	}

	found := false
	var broadest Scope
	for _, g := range agg.Matching(resourceType, action) {
		if g.Conditional() {
			continue
		}
		if !found || g.Permission.Scope.Broader(broadest) {
			broadest = g.Permission.Scope
			found = true
		}
	}
	if !found {
		return deniedFilter(), nil
	}

	f := &AccessFilter{
		Scope:             broadest,
		MaxClassification: user.Clearance,
		OwnerID:           user.ID,
		SessionOwnerID:    user.ID,
	}
	switch {
	case broadest == ScopeOrganization:
		f.Unrestricted = true
	case broadest >= ScopeProject:
		projects, err := e.src.GetActiveProjectIDs(ctx, userID)
		if err != nil {
			return deniedFilter(), unavailable("get project memberships", err)
		}
		f.ProjectIDs = projects
		if broadest == ScopeDepartment {
			f.DepartmentID = user.DepartmentID
		}
	}
	return f, nil
}
