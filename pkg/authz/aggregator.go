package authz

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
)

// DefaultHierarchyLevel is the effective level of a user holding no roles
const DefaultHierarchyLevel = 5

// Grant is one permission reachable from a user's role set
type Grant struct {
	Permission Permission  `json:"permission"`
	RoleID     uuid.UUID   `json:"role_id"`     // role the permission is attached to
	ViaRoleID  uuid.UUID   `json:"via_role_id"` // assigned role whose expansion reached RoleID
	Conditions []Condition `json:"conditions,omitempty"`
}

// Matches reports whether the grant is for resourceType and action
func (g Grant) Matches(resourceType ResourceType, action Action) bool {
	return g.Permission.ResourceType == resourceType && g.Permission.Action == action
}

// Conditional reports whether the grant carries conditions
func (g Grant) Conditional() bool {
	return len(g.Conditions) > 0
}

// Aggregation is the derived permission state of a user as of a point in time
type Aggregation struct {
	Grants         []Grant    `json:"grants"`
	Roles          []Role     `json:"roles"`
	EffectiveLevel int        `json:"effective_level"`
	ValidUntil     *time.Time `json:"valid_until,omitempty"`
}

// ValidAt reports whether a cached aggregation may still be used at now
func (a *Aggregation) ValidAt(now time.Time) bool {
	return a.ValidUntil == nil || a.ValidUntil.After(now)
}

// RoleIDs returns the IDs of the user's effective roles
func (a *Aggregation) RoleIDs() []uuid.UUID {
	return roleIDs(a.Roles)
}

// Matching returns the grants for resourceType and action
func (a *Aggregation) Matching(resourceType ResourceType, action Action) []Grant {
	var out []Grant
	for _, g := range a.Grants {
		if g.Matches(resourceType, action) {
			out = append(out, g)
		}
	}
	return out
}

func emptyAggregation() *Aggregation {
	return &Aggregation{EffectiveLevel: DefaultHierarchyLevel}
}

// Aggregator collects the permissions reachable from a user's active roles
type Aggregator struct {
	src       DataSource
	hierarchy *HierarchyResolver
	cache     Cache
}

// NewAggregator creates an aggregator. A nil cache disables caching.
func NewAggregator(src DataSource, hierarchy *HierarchyResolver, cache Cache) *Aggregator {
	if cache == nil {
		cache = NoopCache{}
	}
	return &Aggregator{src: src, hierarchy: hierarchy, cache: cache}
}

// Aggregate returns the deduplicated grants of user as of now. A locked or
// inactive user aggregates to an empty set without touching the data source.
// Grants for the same permission code and condition set collapse to the one
// with the broadest scope.
func (a *Aggregator) Aggregate(ctx context.Context, user *User, now time.Time) (*Aggregation, error) {
	if user.Locked(now) {
		return emptyAggregation(), nil
	}
	if agg, ok := a.cache.GetAggregation(ctx, user.ID, now); ok && agg.ValidAt(now) {
		return agg, nil
	}
	ver, verErr := a.cache.Version(ctx, user.ID)

	assignments, err := a.src.GetActiveRoleAssignments(ctx, user.ID, now)
	if err != nil {
		return nil, unavailable("get role assignments", err)
	}
	sort.SliceStable(assignments, func(i, j int) bool {
		if !assignments[i].AssignedAt.Equal(assignments[j].AssignedAt) {
			return assignments[i].AssignedAt.Before(assignments[j].AssignedAt)
		}
		return assignments[i].ID.String() < assignments[j].ID.String()
	})

	agg := emptyAggregation()
	seenRoles := make(map[uuid.UUID]struct{})
	best := make(map[string]int)

	for _, asg := range assignments {
		// stores filter too, but the cache must never see an expired grant
		if asg.UserID != user.ID || !asg.Effective(now) {
			continue
		}
		if asg.ExpiresAt != nil && (agg.ValidUntil == nil || asg.ExpiresAt.Before(*agg.ValidUntil)) {
			exp := *asg.ExpiresAt
			agg.ValidUntil = &exp
		}

		roles, err := a.hierarchy.ExpandRoles(ctx, asg.RoleID)
		if err != nil {
			return nil, err
		}

		for _, role := range roles {
			if !role.IsActive {
				continue
			}
			if _, seen := seenRoles[role.ID]; seen {
				continue
			}
			seenRoles[role.ID] = struct{}{}
			agg.Roles = append(agg.Roles, role)
			if len(agg.Roles) == 1 || role.HierarchyLevel < agg.EffectiveLevel {
				agg.EffectiveLevel = role.HierarchyLevel
			}

			perms, err := a.src.GetActiveRolePermissions(ctx, role.ID)
			if err != nil {
				return nil, unavailable("get role permissions", err)
			}
			for _, rp := range perms {
				if !rp.Permission.IsActive {
					continue
				}
				if err := ValidateConditions(role.ID, rp.Conditions); err != nil {
					return nil, err
				}

				g := Grant{
					Permission: rp.Permission,
					RoleID:     role.ID,
					ViaRoleID:  asg.RoleID,
					Conditions: rp.Conditions,
				}
				key := g.Permission.Code() + "|" + ConditionKey(g.Conditions)
				if idx, ok := best[key]; ok {
					if g.Permission.Scope.Broader(agg.Grants[idx].Permission.Scope) {
						agg.Grants[idx] = g
					}
					continue
				}
				best[key] = len(agg.Grants)
				agg.Grants = append(agg.Grants, g)
			}
		}
	}

	sort.SliceStable(agg.Grants, func(i, j int) bool {
		ci, cj := agg.Grants[i].Permission.Code(), agg.Grants[j].Permission.Code()
		if ci != cj {
			return ci < cj
		}
		return ConditionKey(agg.Grants[i].Conditions) < ConditionKey(agg.Grants[j].Conditions)
	})

	if verErr == nil {
		_ = a.cache.SetAggregation(ctx, ver, user.ID, agg)
	}
	return agg, nil
}
