package storage

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/platinummonkey/memauthz/pkg/authz"
)

// ErrInvalid marks rejected administrative writes
var ErrInvalid = errors.New("invalid record")

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterValidation("classification", func(fl validator.FieldLevel) bool {
		return authz.Classification(fl.Field().Int()).Valid()
	})
	v.RegisterValidation("scope", func(fl validator.FieldLevel) bool {
		return authz.Scope(fl.Field().Int()).Valid()
	})
	v.RegisterValidation("hierarchylevel", func(fl validator.FieldLevel) bool {
		level := fl.Field().Int()
		return level >= 1 && level <= authz.MaxHierarchyDepth
	})
	v.RegisterStructValidation(func(sl validator.StructLevel) {
		r := sl.Current().Interface().(roleRecord)
		if r.ParentRoleID != nil && *r.ParentRoleID == r.ID {
			sl.ReportError(r.ParentRoleID, "ParentRoleID", "ParentRoleID", "notself", "")
		}
	}, roleRecord{})
	return v
}

type userRecord struct {
	Username  string               `validate:"required"`
	Clearance authz.Classification `validate:"classification"`
}

type roleRecord struct {
	ID             uuid.UUID
	Name           string `validate:"required"`
	HierarchyLevel int    `validate:"hierarchylevel"`
	ParentRoleID   *uuid.UUID
}

type permissionRecord struct {
	ResourceType authz.ResourceType `validate:"required"`
	Action       authz.Action       `validate:"required"`
	Scope        authz.Scope        `validate:"scope"`
}

type assignmentRecord struct {
	AssignedAt time.Time
	ExpiresAt  *time.Time `validate:"omitempty,gtfield=AssignedAt"`
}

type resourceRecord struct {
	Type           authz.ResourceType   `validate:"required"`
	Classification authz.Classification `validate:"classification"`
}

// check validates record and reports every failing field of the named record
func check(kind string, id fmt.Stringer, record interface{}) error {
	err := validate.Struct(record)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %s %s: %v", ErrInvalid, kind, id, err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return fmt.Errorf("%w: %s %s: %s", ErrInvalid, kind, id, strings.Join(msgs, "; "))
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "classification", "scope":
		return fmt.Sprintf("%s has unknown %s %v", fe.Field(), fe.Tag(), fe.Value())
	case "hierarchylevel":
		return fmt.Sprintf("%s %v outside 1..%d", fe.Field(), fe.Value(), authz.MaxHierarchyDepth)
	case "notself":
		return "role is its own parent"
	case "gtfield":
		return fmt.Sprintf("%s must be after %s", fe.Field(), fe.Param())
	}
	return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
}

// ValidateUser checks a user before it is stored
func ValidateUser(u *authz.User) error {
	return check("user", u.ID, userRecord{Username: u.Username, Clearance: u.Clearance})
}

// ValidateRole checks a role before it is stored
func ValidateRole(r *authz.Role) error {
	return check("role", r.ID, roleRecord{
		ID:             r.ID,
		Name:           r.Name,
		HierarchyLevel: r.HierarchyLevel,
		ParentRoleID:   r.ParentRoleID,
	})
}

// ValidatePermission checks a permission before it is stored
func ValidatePermission(p *authz.Permission) error {
	return check("permission", p.ID, permissionRecord{ResourceType: p.ResourceType, Action: p.Action, Scope: p.Scope})
}

// ValidateAssignment checks a role assignment before it is stored
func ValidateAssignment(a *authz.UserRoleAssignment) error {
	return check("assignment", a.ID, assignmentRecord{AssignedAt: a.AssignedAt, ExpiresAt: a.ExpiresAt})
}

// ValidateResource checks resource metadata before it is stored
func ValidateResource(m *authz.ResourceMeta) error {
	return check("resource", m.Ref, resourceRecord{Type: m.Ref.Type, Classification: m.Classification})
}
