package authz

import (
	"time"

	"github.com/google/uuid"
)

// Reason explains a verdict
type Reason string

const (
	ReasonScopeCovered            Reason = "ScopeCovered"
	ReasonACLGranted              Reason = "ACLGranted"
	ReasonAccountLocked           Reason = "AccountLocked"
	ReasonClassificationViolation Reason = "ClassificationViolation"
	ReasonNoPermission            Reason = "NoPermission"
	ReasonScopeViolation          Reason = "ScopeViolation"
	ReasonACLDenied               Reason = "ACLDenied"
	ReasonExpired                 Reason = "Expired"
	ReasonNotFound                Reason = "NotFound"
	ReasonDataUnavailable         Reason = "DataUnavailable"
	ReasonConfigurationError      Reason = "ConfigurationError"
)

// EntryKind labels a trace entry
type EntryKind string

const (
	EntryUser           EntryKind = "user"
	EntryClassification EntryKind = "classification"
	EntryGrant          EntryKind = "grant"
	EntryACE            EntryKind = "ace"
	EntryError          EntryKind = "error"
)

// ContributingEntry is one fact that shaped a verdict
type ContributingEntry struct {
	Kind      EntryKind `json:"kind"`
	ID        uuid.UUID `json:"id,omitempty"`
	RoleID    uuid.UUID `json:"role_id,omitempty"`
	ViaRoleID uuid.UUID `json:"via_role_id,omitempty"`
	Code      string    `json:"code,omitempty"`
	Scope     string    `json:"scope,omitempty"`
	Effect    Effect    `json:"effect,omitempty"`
	Matched   bool      `json:"matched"`
	Detail    string    `json:"detail,omitempty"`
}

// Verdict is the outcome of an access check
type Verdict struct {
	Allowed   bool                `json:"allowed"`
	Reason    Reason              `json:"reason"`
	UserID    uuid.UUID           `json:"user_id"`
	Action    Action              `json:"action"`
	Resource  ResourceRef         `json:"resource"`
	Trace     []ContributingEntry `json:"trace"`
	CheckedAt time.Time           `json:"checked_at"`
}

func (v *Verdict) allow(reason Reason) {
	v.Allowed = true
	v.Reason = reason
}

func (v *Verdict) deny(reason Reason) {
	v.Allowed = false
	v.Reason = reason
}

func (v *Verdict) record(e ContributingEntry) {
	v.Trace = append(v.Trace, e)
}

func grantEntry(g Grant, matched bool, detail string) ContributingEntry {
	return ContributingEntry{
		Kind:      EntryGrant,
		ID:        g.Permission.ID,
		RoleID:    g.RoleID,
		ViaRoleID: g.ViaRoleID,
		Code:      g.Permission.Code(),
		Scope:     g.Permission.Scope.String(),
		Matched:   matched,
		Detail:    detail,
	}
}

func aceEntry(e AccessControlEntry, matched bool, detail string) ContributingEntry {
	axis, id := e.Principal()
	return ContributingEntry{
		Kind:    EntryACE,
		ID:      e.ID,
		RoleID:  roleOrNil(e),
		Code:    e.PermissionType,
		Effect:  e.Effect,
		Matched: matched,
		Detail:  detail + " (" + string(axis) + " " + id.String() + ")",
	}
}

func roleOrNil(e AccessControlEntry) uuid.UUID {
	if e.RoleID.Valid {
		return e.RoleID.UUID
	}
	return uuid.Nil
}
