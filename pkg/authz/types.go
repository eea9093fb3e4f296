package authz

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Classification is the sensitivity tier of a resource and the clearance of a user.
// Values are ordered: public < internal < confidential < secret.
type Classification int8

const (
	ClassificationPublic Classification = iota
	ClassificationInternal
	ClassificationConfidential
	ClassificationSecret
)

var classificationNames = [...]string{"public", "internal", "confidential", "secret"}

// ParseClassification parses a classification name
func ParseClassification(s string) (Classification, error) {
	for i, name := range classificationNames {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return Classification(i), nil
		}
	}
	return ClassificationPublic, fmt.Errorf("unknown classification: %q", s)
}

func (c Classification) String() string {
	if c < 0 || int(c) >= len(classificationNames) {
		return fmt.Sprintf("classification(%d)", int8(c))
	}
	return classificationNames[c]
}

// Valid reports whether c is one of the declared levels
func (c Classification) Valid() bool {
	return c >= ClassificationPublic && c <= ClassificationSecret
}

// Dominates reports whether c is at least as high as other
func (c Classification) Dominates(other Classification) bool {
	return c >= other
}

// MarshalText implements encoding.TextMarshaler
func (c Classification) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("invalid classification: %d", int8(c))
	}
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (c *Classification) UnmarshalText(text []byte) error {
	parsed, err := ParseClassification(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Value implements driver.Valuer
func (c Classification) Value() (driver.Value, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("invalid classification: %d", int8(c))
	}
	return c.String(), nil
}

// Scan implements sql.Scanner
func (c *Classification) Scan(src interface{}) error {
	return scanEnum(src, c.UnmarshalText)
}

// Scope is the breadth of a permission grant, ordered narrow to broad.
type Scope int8

const (
	ScopeOwn Scope = iota
	ScopeSession
	ScopeProject
	ScopeDepartment
	ScopeOrganization
)

var scopeNames = [...]string{"own", "session", "project", "department", "organization"}

// AllScopes lists every scope from narrowest to broadest
func AllScopes() []Scope {
	return []Scope{ScopeOwn, ScopeSession, ScopeProject, ScopeDepartment, ScopeOrganization}
}

// ParseScope parses a scope name
func ParseScope(s string) (Scope, error) {
	for i, name := range scopeNames {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return Scope(i), nil
		}
	}
	return ScopeOwn, fmt.Errorf("unknown scope: %q", s)
}

func (s Scope) String() string {
	if s < 0 || int(s) >= len(scopeNames) {
		return fmt.Sprintf("scope(%d)", int8(s))
	}
	return scopeNames[s]
}

// Valid reports whether s is one of the declared scopes
func (s Scope) Valid() bool {
	return s >= ScopeOwn && s <= ScopeOrganization
}

// Broader reports whether s is strictly broader than other
func (s Scope) Broader(other Scope) bool {
	return s > other
}

// MarshalText implements encoding.TextMarshaler
func (s Scope) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid scope: %d", int8(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *Scope) UnmarshalText(text []byte) error {
	parsed, err := ParseScope(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Value implements driver.Valuer
func (s Scope) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid scope: %d", int8(s))
	}
	return s.String(), nil
}

// Scan implements sql.Scanner
func (s *Scope) Scan(src interface{}) error {
	return scanEnum(src, s.UnmarshalText)
}

func scanEnum(src interface{}, unmarshal func([]byte) error) error {
	switch v := src.(type) {
	case string:
		return unmarshal([]byte(v))
	case []byte:
		return unmarshal(v)
	case nil:
		return fmt.Errorf("cannot scan NULL into enum")
	default:
		return fmt.Errorf("cannot scan %T into enum", src)
	}
}

// ResourceType represents a type of resource under access control
type ResourceType string

const (
	ResourceShortTermMemory ResourceType = "memory.short_term"
	ResourceMidTermMemory   ResourceType = "memory.mid_term"
	ResourceLongTermMemory  ResourceType = "memory.long_term"
	ResourceProject         ResourceType = "project"
	ResourceDepartment      ResourceType = "department"
	ResourceRole            ResourceType = "role"
)

// MemoryTiers returns the three memory record types, shortest-lived first
func MemoryTiers() []ResourceType {
	return []ResourceType{ResourceShortTermMemory, ResourceMidTermMemory, ResourceLongTermMemory}
}

// IsMemory reports whether the resource type is a memory record
func (r ResourceType) IsMemory() bool {
	return strings.HasPrefix(string(r), "memory.")
}

// Action represents an operation on a resource
type Action string

const (
	ActionRead   Action = "read"
	ActionWrite  Action = "write"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionShare  Action = "share"
	ActionAdmin  Action = "admin"
)

// User is the subject of an access check
type User struct {
	ID                 uuid.UUID      `json:"id"`
	Username           string         `json:"username"`
	DepartmentID       uuid.NullUUID  `json:"department_id"`
	Clearance          Classification `json:"clearance"`
	IsActive           bool           `json:"is_active"`
	AccountLockedUntil *time.Time     `json:"account_locked_until,omitempty"`
}

// Locked reports whether the account is unusable at now: deactivated, or locked past now.
func (u *User) Locked(now time.Time) bool {
	if !u.IsActive {
		return true
	}
	return u.AccountLockedUntil != nil && u.AccountLockedUntil.After(now)
}

// Role is a named node in the single-parent role tree
type Role struct {
	ID             uuid.UUID  `json:"id"`
	Name           string     `json:"name"`
	HierarchyLevel int        `json:"hierarchy_level"` // 1..10, lower is more senior
	ParentRoleID   *uuid.UUID `json:"parent_role_id,omitempty"`
	IsActive       bool       `json:"is_active"`
}

// Permission is a (resource type, action, scope) triple
type Permission struct {
	ID           uuid.UUID    `json:"id"`
	ResourceType ResourceType `json:"resource_type"`
	Action       Action       `json:"action"`
	Scope        Scope        `json:"scope"`
	IsActive     bool         `json:"is_active"`
}

// Code returns the scope-independent permission code, e.g. "memory.long_term:read"
func (p Permission) Code() string {
	return PermissionCode(p.ResourceType, p.Action)
}

// PermissionCode builds a permission code from its parts
func PermissionCode(resourceType ResourceType, action Action) string {
	return string(resourceType) + ":" + string(action)
}

// UserRoleAssignment links a user to a role
type UserRoleAssignment struct {
	ID         uuid.UUID  `json:"id"`
	UserID     uuid.UUID  `json:"user_id"`
	RoleID     uuid.UUID  `json:"role_id"`
	AssignedBy *uuid.UUID `json:"assigned_by,omitempty"`
	AssignedAt time.Time  `json:"assigned_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	IsActive   bool       `json:"is_active"`
}

// Effective reports whether the assignment is active and unexpired at now
func (a UserRoleAssignment) Effective(now time.Time) bool {
	return a.IsActive && (a.ExpiresAt == nil || a.ExpiresAt.After(now))
}

// RolePermission links a role to a permission with optional conditions
type RolePermission struct {
	RoleID     uuid.UUID   `json:"role_id"`
	Permission Permission  `json:"permission"`
	Conditions []Condition `json:"conditions,omitempty"`
}

// ResourceRef identifies a resource instance
type ResourceRef struct {
	ID   uuid.UUID    `json:"id"`
	Type ResourceType `json:"type"`
}

func (r ResourceRef) String() string {
	return string(r.Type) + "/" + r.ID.String()
}

// ResourceMeta is the access-relevant metadata of a resource
type ResourceMeta struct {
	Ref            ResourceRef       `json:"ref"`
	OwnerID        uuid.UUID         `json:"owner_id"`
	ProjectID      uuid.NullUUID     `json:"project_id"`
	DepartmentID   uuid.NullUUID     `json:"department_id"`
	SessionID      uuid.NullUUID     `json:"session_id"`
	SessionOwnerID uuid.NullUUID     `json:"session_owner_id"`
	Classification Classification    `json:"classification"`
	Tags           map[string]string `json:"tags,omitempty"`
}

// Effect is the outcome an access control entry asserts
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// AnyPermission matches every action when used as an ACE permission type
const AnyPermission = "*"

// AccessControlEntry is an explicit per-resource grant or denial for exactly one principal
type AccessControlEntry struct {
	ID             uuid.UUID     `json:"id"`
	Resource       ResourceRef   `json:"resource"`
	UserID         uuid.NullUUID `json:"user_id"`
	RoleID         uuid.NullUUID `json:"role_id"`
	DepartmentID   uuid.NullUUID `json:"department_id"`
	ProjectID      uuid.NullUUID `json:"project_id"`
	PermissionType string        `json:"permission_type"`
	Effect         Effect        `json:"effect"`
	Conditions     []Condition   `json:"conditions,omitempty"`
	ExpiresAt      *time.Time    `json:"expires_at,omitempty"`
	IsActive       bool          `json:"is_active"`
}

// Principal returns the single axis the entry names and its ID
func (e AccessControlEntry) Principal() (PrincipalAxis, uuid.UUID) {
	switch {
	case e.UserID.Valid:
		return AxisUser, e.UserID.UUID
	case e.RoleID.Valid:
		return AxisRole, e.RoleID.UUID
	case e.DepartmentID.Valid:
		return AxisDepartment, e.DepartmentID.UUID
	case e.ProjectID.Valid:
		return AxisProject, e.ProjectID.UUID
	}
	return "", uuid.Nil
}

// Validate enforces that exactly one principal axis is set and the effect is known
func (e AccessControlEntry) Validate() error {
	set := 0
	for _, v := range []bool{e.UserID.Valid, e.RoleID.Valid, e.DepartmentID.Valid, e.ProjectID.Valid} {
		if v {
			set++
		}
	}
	if set != 1 {
		return &ConfigurationError{
			Kind:   MalformedACE,
			ID:     e.ID,
			Detail: fmt.Sprintf("expected exactly one principal axis, got %d", set),
		}
	}
	if e.Effect != EffectAllow && e.Effect != EffectDeny {
		return &ConfigurationError{Kind: MalformedACE, ID: e.ID, Detail: fmt.Sprintf("unknown effect %q", e.Effect)}
	}
	if strings.TrimSpace(e.PermissionType) == "" {
		return &ConfigurationError{Kind: MalformedACE, ID: e.ID, Detail: "empty permission type"}
	}
	return ValidateConditions(e.ID, e.Conditions)
}

// Covers reports whether the entry's permission type applies to action
func (e AccessControlEntry) Covers(action Action) bool {
	return e.PermissionType == AnyPermission || strings.EqualFold(e.PermissionType, string(action))
}

// Effective reports whether the entry is active and unexpired at now
func (e AccessControlEntry) Effective(now time.Time) bool {
	return e.IsActive && (e.ExpiresAt == nil || e.ExpiresAt.After(now))
}

// PrincipalAxis names the kind of principal an ACE targets
type PrincipalAxis string

const (
	AxisUser       PrincipalAxis = "user"
	AxisRole       PrincipalAxis = "role"
	AxisDepartment PrincipalAxis = "department"
	AxisProject    PrincipalAxis = "project"
)
