package authz

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned by data sources when a record does not exist
	ErrNotFound = errors.New("not found")

	// ErrDataUnavailable wraps any failure to read from the data source
	ErrDataUnavailable = errors.New("data unavailable")

	// ErrCycleDetected marks a role hierarchy that loops or exceeds the depth bound
	ErrCycleDetected = errors.New("role hierarchy cycle detected")

	// ErrMalformedACE marks an access control entry violating its invariants
	ErrMalformedACE = errors.New("malformed access control entry")

	// ErrInvalidCondition marks a condition that cannot be evaluated
	ErrInvalidCondition = errors.New("invalid condition")
)

// ConfigurationErrorKind classifies a configuration error
type ConfigurationErrorKind string

const (
	CycleDetected    ConfigurationErrorKind = "cycle_detected"
	MalformedACE     ConfigurationErrorKind = "malformed_ace"
	InvalidCondition ConfigurationErrorKind = "invalid_condition"
)

// ConfigurationError reports a broken role graph, ACE or condition.
// It is never resolved silently.
type ConfigurationError struct {
	Kind   ConfigurationErrorKind
	ID     uuid.UUID // offending role, ACE or role permission owner
	Path   []uuid.UUID
	Detail string
}

func (e *ConfigurationError) Error() string {
	msg := fmt.Sprintf("configuration error (%s) at %s", e.Kind, e.ID)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Unwrap maps the kind onto its sentinel so errors.Is works
func (e *ConfigurationError) Unwrap() error {
	switch e.Kind {
	case CycleDetected:
		return ErrCycleDetected
	case MalformedACE:
		return ErrMalformedACE
	case InvalidCondition:
		return ErrInvalidCondition
	}
	return nil
}

// dataError wraps a data source failure so it matches ErrDataUnavailable
// while keeping the underlying cause reachable.
type dataError struct {
	op  string
	err error
}

func (e *dataError) Error() string {
	return fmt.Sprintf("failed to %s: %s: %v", e.op, ErrDataUnavailable, e.err)
}

func (e *dataError) Unwrap() []error {
	return []error{ErrDataUnavailable, e.err}
}

func unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	var de *dataError
	if errors.As(err, &de) {
		return err
	}
	return &dataError{op: op, err: err}
}

// IsConfigurationError reports whether err is a ConfigurationError
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
