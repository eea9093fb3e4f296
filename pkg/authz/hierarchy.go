package authz

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// MaxHierarchyDepth bounds every role walk
const MaxHierarchyDepth = 10

// InheritanceDirection selects which way permissions flow along parent links
type InheritanceDirection string

const (
	// InheritUpward expands a role to itself plus its parent chain
	InheritUpward InheritanceDirection = "upward"
	// InheritDownward expands a role to itself plus all of its descendants
	InheritDownward InheritanceDirection = "downward"
)

// ParseInheritanceDirection parses "upward" or "downward"
func ParseInheritanceDirection(s string) (InheritanceDirection, error) {
	switch InheritanceDirection(s) {
	case InheritUpward, "":
		return InheritUpward, nil
	case InheritDownward:
		return InheritDownward, nil
	}
	return "", fmt.Errorf("unknown inheritance direction: %q", s)
}

// HierarchyResolver expands roles into their inheritance closure
type HierarchyResolver struct {
	src       DataSource
	cache     Cache
	direction InheritanceDirection
}

// HierarchyOption configures a HierarchyResolver
type HierarchyOption func(*HierarchyResolver)

// WithDirection sets the inheritance direction
func WithDirection(d InheritanceDirection) HierarchyOption {
	return func(h *HierarchyResolver) {
		h.direction = d
	}
}

// WithExpansionCache caches expansions keyed by role ID
func WithExpansionCache(c Cache) HierarchyOption {
	return func(h *HierarchyResolver) {
		if c != nil {
			h.cache = c
		}
	}
}

// NewHierarchyResolver creates a resolver reading roles from src
func NewHierarchyResolver(src DataSource, opts ...HierarchyOption) *HierarchyResolver {
	h := &HierarchyResolver{
		src:       src,
		cache:     NoopCache{},
		direction: InheritUpward,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Direction returns the configured inheritance direction
func (h *HierarchyResolver) Direction() InheritanceDirection {
	return h.direction
}

// Expand returns roleID followed by every role it inherits from, in walk order.
// The result always starts with roleID. A cycle or a chain deeper than
// MaxHierarchyDepth is a ConfigurationError and no partial result is returned.
func (h *HierarchyResolver) Expand(ctx context.Context, roleID uuid.UUID) ([]uuid.UUID, error) {
	roles, err := h.ExpandRoles(ctx, roleID)
	if err != nil {
		return nil, err
	}
	return roleIDs(roles), nil
}

// ExpandRoles is Expand returning the role records. Inactive roles are
// included where they were reached but are never traversed past.
func (h *HierarchyResolver) ExpandRoles(ctx context.Context, roleID uuid.UUID) ([]Role, error) {
	if roles, ok := h.cache.GetExpansion(ctx, h.direction, roleID); ok {
		return roles, nil
	}
	ver, verErr := h.cache.Version(ctx, uuid.Nil)

	var (
		roles []Role
		err   error
	)
	if h.direction == InheritDownward {
		roles, err = h.expandDown(ctx, roleID)
	} else {
		roles, err = h.expandUp(ctx, roleID)
	}
	if err != nil {
		return nil, err
	}

	if verErr == nil {
		_ = h.cache.SetExpansion(ctx, ver, h.direction, roleID, roles)
	}
	return roles, nil
}

func (h *HierarchyResolver) expandUp(ctx context.Context, roleID uuid.UUID) ([]Role, error) {
	visited := make(map[uuid.UUID]struct{}, MaxHierarchyDepth)
	chain := make([]Role, 0, 4)

	current := roleID
	for {
		if _, seen := visited[current]; seen {
			return nil, &ConfigurationError{
				Kind:   CycleDetected,
				ID:     current,
				Path:   append(roleIDs(chain), current),
				Detail: fmt.Sprintf("role %s reappears in parent chain of %s", current, roleID),
			}
		}
		if len(chain) >= MaxHierarchyDepth {
			return nil, &ConfigurationError{
				Kind:   CycleDetected,
				ID:     roleID,
				Path:   roleIDs(chain),
				Detail: fmt.Sprintf("parent chain exceeds %d levels", MaxHierarchyDepth),
			}
		}

		role, err := h.src.GetRole(ctx, current)
		if err != nil {
			if errors.Is(err, ErrNotFound) && len(chain) > 0 {
				err = fmt.Errorf("parent %s of role %s: %w", current, chain[len(chain)-1].ID, err)
			}
			return nil, unavailable("get role", err)
		}

		visited[current] = struct{}{}
		chain = append(chain, *role)
		if !role.IsActive || role.ParentRoleID == nil {
			break
		}
		current = *role.ParentRoleID
	}

	return chain, nil
}

func (h *HierarchyResolver) expandDown(ctx context.Context, roleID uuid.UUID) ([]Role, error) {
	root, err := h.src.GetRole(ctx, roleID)
	if err != nil {
		return nil, unavailable("get role", err)
	}

	type frame struct {
		role  Role
		depth int
	}

	visited := map[uuid.UUID]struct{}{roleID: {}}
	result := []Role{*root}
	queue := []frame{{role: *root, depth: 1}}

	for len(queue) > 0 {
		f := queue[0]
		queue = queue[1:]
		if !f.role.IsActive {
			continue
		}

		children, err := h.src.GetChildRoles(ctx, f.role.ID)
		if err != nil {
			return nil, unavailable("get child roles", err)
		}
		for _, child := range children {
			if _, seen := visited[child.ID]; seen {
				return nil, &ConfigurationError{
					Kind:   CycleDetected,
					ID:     child.ID,
					Path:   roleIDs(result),
					Detail: fmt.Sprintf("role %s reached twice below %s", child.ID, roleID),
				}
			}
			if f.depth >= MaxHierarchyDepth {
				return nil, &ConfigurationError{
					Kind:   CycleDetected,
					ID:     roleID,
					Detail: fmt.Sprintf("descendant tree exceeds %d levels", MaxHierarchyDepth),
				}
			}
			visited[child.ID] = struct{}{}
			result = append(result, child)
			queue = append(queue, frame{role: child, depth: f.depth + 1})
		}
	}

	return result, nil
}

func roleIDs(roles []Role) []uuid.UUID {
	ids := make([]uuid.UUID, len(roles))
	for i, r := range roles {
		ids[i] = r.ID
	}
	return ids
}
