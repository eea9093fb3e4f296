package audit

import (
	"encoding/json"
	"time"
)

// EventType represents the category of audit event
type EventType string

const (
	// Authorization events
	EventTypeAuthzDecision     EventType = "authz.decision"
	EventTypeAuthzRoleExpand   EventType = "authz.role_expand"
	EventTypeAuthzAccessFilter EventType = "authz.access_filter"

	// Administrative graph mutations
	EventTypeAdminUserCreate       EventType = "admin.user_create"
	EventTypeAdminUserDeactivate   EventType = "admin.user_deactivate"
	EventTypeAdminAccountLock      EventType = "admin.account_lock"
	EventTypeAdminRoleCreate       EventType = "admin.role_create"
	EventTypeAdminPermissionCreate EventType = "admin.permission_create"
	EventTypeAdminRoleGrant        EventType = "admin.role_permission_grant"
	EventTypeAdminRoleAssign       EventType = "admin.role_assign"
	EventTypeAdminRoleRevoke       EventType = "admin.role_revoke"
	EventTypeAdminACEGrant         EventType = "admin.ace_grant"
	EventTypeAdminACERevoke        EventType = "admin.ace_revoke"
	EventTypeAdminResourcePut      EventType = "admin.resource_put"
	EventTypeAdminProjectPut       EventType = "admin.project_put"
	EventTypeAdminProjectMember    EventType = "admin.project_member"

	// Configuration events
	EventTypeConfigPolicyReload EventType = "config.policy_reload"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// AuditEvent represents a single audit log entry
type AuditEvent struct {
	// Core fields
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// Actor information
	UserID   string `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`

	// Resource information
	ResourceType string `json:"resource_type,omitempty"`
	ResourceID   string `json:"resource_id,omitempty"`
	Action       string `json:"action,omitempty"`

	// Decision outcome
	Reason string `json:"reason,omitempty"`

	RequestID string `json:"request_id,omitempty"`

	// Additional details
	Message      string                 `json:"message,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// ToJSON converts the audit event to JSON
func (e *AuditEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON parses an audit event from JSON
func FromJSON(data []byte) (*AuditEvent, error) {
	var event AuditEvent
	err := json.Unmarshal(data, &event)
	return &event, err
}

// StatusFor maps a decision outcome to an event status
func StatusFor(allowed bool, err error) EventStatus {
	switch {
	case err != nil:
		return EventStatusFailure
	case allowed:
		return EventStatusSuccess
	default:
		return EventStatusDenied
	}
}
