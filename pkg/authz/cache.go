package authz

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// CacheVersion identifies the invalidation state a load started from.
// Global moves on every invalidation visible to all entries and User on
// invalidations of one user.
type CacheVersion struct {
	Global int64
	User   int64
}

// Cache stores role expansions and per-user aggregations between requests.
// Lookups that fail for any reason behave as misses. Implementations must be
// safe for concurrent use.
//
// Callers take a Version before reading the data source and pass it to the
// matching Set call. A Set whose version predates an invalidation must never
// become visible to later lookups.
type Cache interface {
	Version(ctx context.Context, userID uuid.UUID) (CacheVersion, error)

	GetExpansion(ctx context.Context, dir InheritanceDirection, roleID uuid.UUID) ([]Role, bool)
	SetExpansion(ctx context.Context, ver CacheVersion, dir InheritanceDirection, roleID uuid.UUID, roles []Role) error

	GetAggregation(ctx context.Context, userID uuid.UUID, now time.Time) (*Aggregation, bool)
	SetAggregation(ctx context.Context, ver CacheVersion, userID uuid.UUID, agg *Aggregation) error

	InvalidateUser(ctx context.Context, userID uuid.UUID) error
	InvalidateAll(ctx context.Context) error
}

// NoopCache caches nothing
type NoopCache struct{}

func (NoopCache) Version(context.Context, uuid.UUID) (CacheVersion, error) {
	return CacheVersion{}, nil
}

func (NoopCache) GetExpansion(context.Context, InheritanceDirection, uuid.UUID) ([]Role, bool) {
	return nil, false
}

func (NoopCache) SetExpansion(context.Context, CacheVersion, InheritanceDirection, uuid.UUID, []Role) error {
	return nil
}

func (NoopCache) GetAggregation(context.Context, uuid.UUID, time.Time) (*Aggregation, bool) {
	return nil, false
}

func (NoopCache) SetAggregation(context.Context, CacheVersion, uuid.UUID, *Aggregation) error {
	return nil
}

func (NoopCache) InvalidateUser(context.Context, uuid.UUID) error { return nil }

func (NoopCache) InvalidateAll(context.Context) error { return nil }

// InvalidateFor applies the invalidation rule for a graph change to c:
// role and role-permission changes drop everything, assignment changes drop
// only the affected user. Other changes do not touch cached state.
func InvalidateFor(ctx context.Context, c Cache, change Change) error {
	switch change.Kind {
	case ChangeRole, ChangeRolePermission, ChangeSnapshot:
		return c.InvalidateAll(ctx)
	case ChangeAssignment:
		if change.UserID == uuid.Nil {
			return c.InvalidateAll(ctx)
		}
		return c.InvalidateUser(ctx, change.UserID)
	}
	return nil
}

// CacheInvalidator adapts a Cache to the Invalidator interface
type CacheInvalidator struct {
	Cache Cache
}

// Invalidate implements Invalidator
func (ci CacheInvalidator) Invalidate(ctx context.Context, change Change) error {
	return InvalidateFor(ctx, ci.Cache, change)
}
