package memory

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/memauthz/pkg/authz"
	"github.com/platinummonkey/memauthz/pkg/storage"
)

// policyNamespace derives IDs for records a policy file names but does not number
var policyNamespace = uuid.MustParse("9d3c2f71-6b0e-4c8a-8f5e-2a4b1c7d9e30")

// NameID returns the ID a policy file assigns to a named record of kind
func NameID(kind, name string) uuid.UUID {
	return uuid.NewSHA1(policyNamespace, []byte(kind+":"+name))
}

// Policy is the YAML document a memory store is loaded from
type Policy struct {
	BuiltInRoles bool             `yaml:"builtin_roles"`
	Roles        []PolicyRole     `yaml:"roles"`
	Projects     []PolicyProject  `yaml:"projects"`
	Users        []PolicyUser     `yaml:"users"`
	Resources    []PolicyResource `yaml:"resources"`
	ACL          []PolicyACE      `yaml:"acl"`
}

// PolicyRole declares a role and the permissions attached to it
type PolicyRole struct {
	Name        string             `yaml:"name"`
	Level       int                `yaml:"level"`
	Parent      string             `yaml:"parent"`
	Active      *bool              `yaml:"active"`
	Permissions []PolicyPermission `yaml:"permissions"`
}

// PolicyPermission is a resource type, action and scope triple
type PolicyPermission struct {
	Resource   authz.ResourceType `yaml:"resource"`
	Action     authz.Action       `yaml:"action"`
	Scope      authz.Scope        `yaml:"scope"`
	Conditions []authz.Condition  `yaml:"conditions"`
}

// PolicyProject declares a project
type PolicyProject struct {
	Name       string `yaml:"name"`
	Department string `yaml:"department"`
	Active     *bool  `yaml:"active"`
}

// PolicyUser declares a user, their role assignments and project memberships
type PolicyUser struct {
	ID          uuid.UUID            `yaml:"id"`
	Username    string               `yaml:"username"`
	Department  string               `yaml:"department"`
	Clearance   authz.Classification `yaml:"clearance"`
	Active      *bool                `yaml:"active"`
	LockedUntil *time.Time           `yaml:"locked_until"`
	Roles       []PolicyAssignment   `yaml:"roles"`
	Projects    []string             `yaml:"projects"`
}

// PolicyAssignment assigns a role by name
type PolicyAssignment struct {
	Role      string     `yaml:"role"`
	ExpiresAt *time.Time `yaml:"expires_at"`
}

// PolicyResource declares resource metadata. Either ID or Name identifies it.
type PolicyResource struct {
	ID             uuid.UUID            `yaml:"id"`
	Name           string               `yaml:"name"`
	Type           authz.ResourceType   `yaml:"type"`
	Owner          string               `yaml:"owner"`
	Project        string               `yaml:"project"`
	Department     string               `yaml:"department"`
	Session        uuid.UUID            `yaml:"session"`
	SessionOwner   string               `yaml:"session_owner"`
	Classification authz.Classification `yaml:"classification"`
	Tags           map[string]string    `yaml:"tags"`
}

// PolicyACE declares an access control entry against exactly one principal
type PolicyACE struct {
	Resource   string            `yaml:"resource"` // name or ID of a declared resource
	User       string            `yaml:"user"`
	Role       string            `yaml:"role"`
	Department string            `yaml:"department"`
	Project    string            `yaml:"project"`
	Permission string            `yaml:"permission"`
	Effect     authz.Effect      `yaml:"effect"`
	Conditions []authz.Condition `yaml:"conditions"`
	ExpiresAt  *time.Time        `yaml:"expires_at"`
	Active     *bool             `yaml:"active"`
}

// ParsePolicy decodes a policy document. Unknown fields are rejected.
func ParsePolicy(r io.Reader) (*Policy, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var p Policy
	if err := dec.Decode(&p); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to decode policy: %w", err)
	}
	return &p, nil
}

// LoadPolicyFile reads and compiles the policy at path
func LoadPolicyFile(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	p, err := ParsePolicy(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return p.Compile()
}

// LoadFile compiles the policy at path and swaps it in. The current
// snapshot is kept when the file is invalid.
func (s *Store) LoadFile(path string) (authz.Change, error) {
	snap, err := LoadPolicyFile(path)
	if err != nil {
		return authz.Change{}, err
	}
	return s.Replace(snap), nil
}

type compiler struct {
	snap      *Snapshot
	roles     map[string]uuid.UUID
	users     map[string]uuid.UUID
	projects  map[string]uuid.UUID
	resources map[string]authz.ResourceRef
}

func optional(b *bool) bool {
	return b == nil || *b
}

func departmentID(name string) uuid.NullUUID {
	if name == "" {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: NameID("department", name), Valid: true}
}

// Compile resolves every name reference and builds a snapshot
func (p *Policy) Compile() (*Snapshot, error) {
	c := &compiler{
		snap:      NewSnapshot(),
		roles:     make(map[string]uuid.UUID),
		users:     make(map[string]uuid.UUID),
		projects:  make(map[string]uuid.UUID),
		resources: make(map[string]authz.ResourceRef),
	}
	if p.BuiltInRoles {
		c.snap.seedBuiltInRoles()
		for _, b := range authz.BuiltInRoles() {
			c.roles[b.Role.Name] = b.Role.ID
		}
	}

	steps := []func(*Policy) error{c.compileRoles, c.compileProjects, c.compileUsers, c.compileResources, c.compileACL}
	for _, step := range steps {
		if err := step(p); err != nil {
			return nil, err
		}
	}
	return c.snap, nil
}

func (c *compiler) compileRoles(p *Policy) error {
	for _, r := range p.Roles {
		if _, dup := c.roles[r.Name]; dup {
			return fmt.Errorf("%w: role %q declared twice", storage.ErrInvalid, r.Name)
		}
		c.roles[r.Name] = NameID("role", r.Name)
	}
	for _, r := range p.Roles {
		role := authz.Role{
			ID:             c.roles[r.Name],
			Name:           r.Name,
			HierarchyLevel: r.Level,
			IsActive:       optional(r.Active),
		}
		if r.Parent != "" {
			parent, ok := c.roles[r.Parent]
			if !ok {
				return fmt.Errorf("%w: role %q has unknown parent %q", storage.ErrInvalid, r.Name, r.Parent)
			}
			role.ParentRoleID = &parent
		}
		if err := storage.ValidateRole(&role); err != nil {
			return err
		}
		c.snap.putRole(role)

		for _, pp := range r.Permissions {
			perm := authz.PermissionFor(pp.Resource, pp.Action, pp.Scope)
			if err := storage.ValidatePermission(&perm); err != nil {
				return fmt.Errorf("role %q: %w", r.Name, err)
			}
			if err := authz.ValidateConditions(role.ID, pp.Conditions); err != nil {
				return fmt.Errorf("role %q: %w", r.Name, err)
			}
			c.snap.permissions[perm.ID] = perm
			c.snap.grant(role.ID, perm.ID, pp.Conditions)
		}
	}
	return nil
}

func (c *compiler) compileProjects(p *Policy) error {
	for _, pr := range p.Projects {
		if pr.Name == "" {
			return fmt.Errorf("%w: project without a name", storage.ErrInvalid)
		}
		id := NameID("project", pr.Name)
		c.projects[pr.Name] = id
		c.snap.projects[id] = storage.Project{
			ID:           id,
			Name:         pr.Name,
			DepartmentID: departmentID(pr.Department),
			IsActive:     optional(pr.Active),
		}
	}
	return nil
}

func (c *compiler) compileUsers(p *Policy) error {
	for _, pu := range p.Users {
		id := pu.ID
		if id == uuid.Nil {
			id = NameID("user", pu.Username)
		}
		if _, dup := c.users[pu.Username]; dup {
			return fmt.Errorf("%w: user %q declared twice", storage.ErrInvalid, pu.Username)
		}
		c.users[pu.Username] = id
		user := authz.User{
			ID:                 id,
			Username:           pu.Username,
			DepartmentID:       departmentID(pu.Department),
			Clearance:          pu.Clearance,
			IsActive:           optional(pu.Active),
			AccountLockedUntil: pu.LockedUntil,
		}
		if err := storage.ValidateUser(&user); err != nil {
			return err
		}
		c.snap.users[id] = user

		for i, pa := range pu.Roles {
			roleID, ok := c.roles[pa.Role]
			if !ok {
				return fmt.Errorf("%w: user %q assigned unknown role %q", storage.ErrInvalid, pu.Username, pa.Role)
			}
			c.snap.assignments[id] = append(c.snap.assignments[id], authz.UserRoleAssignment{
				ID:        NameID("assignment", fmt.Sprintf("%s/%d/%s", pu.Username, i, pa.Role)),
				UserID:    id,
				RoleID:    roleID,
				ExpiresAt: pa.ExpiresAt,
				IsActive:  true,
			})
		}
		for _, name := range pu.Projects {
			projectID, ok := c.projects[name]
			if !ok {
				return fmt.Errorf("%w: user %q member of unknown project %q", storage.ErrInvalid, pu.Username, name)
			}
			c.snap.setMember(projectID, id, true)
		}
	}
	return nil
}

func (c *compiler) userID(field, name string) (uuid.UUID, error) {
	id, ok := c.users[name]
	if !ok {
		return uuid.Nil, fmt.Errorf("%w: unknown user %q in %s", storage.ErrInvalid, name, field)
	}
	return id, nil
}

func (c *compiler) compileResources(p *Policy) error {
	for _, pr := range p.Resources {
		id := pr.ID
		if id == uuid.Nil {
			if pr.Name == "" {
				return fmt.Errorf("%w: resource needs an id or a name", storage.ErrInvalid)
			}
			id = NameID("resource", pr.Name)
		}
		meta := authz.ResourceMeta{
			Ref:            authz.ResourceRef{ID: id, Type: pr.Type},
			DepartmentID:   departmentID(pr.Department),
			Classification: pr.Classification,
			Tags:           pr.Tags,
		}
		if pr.Owner != "" {
			owner, err := c.userID("owner", pr.Owner)
			if err != nil {
				return err
			}
			meta.OwnerID = owner
		}
		if pr.Project != "" {
			projectID, ok := c.projects[pr.Project]
			if !ok {
				return fmt.Errorf("%w: resource %s in unknown project %q", storage.ErrInvalid, id, pr.Project)
			}
			meta.ProjectID = uuid.NullUUID{UUID: projectID, Valid: true}
		}
		if pr.Session != uuid.Nil {
			meta.SessionID = uuid.NullUUID{UUID: pr.Session, Valid: true}
		}
		if pr.SessionOwner != "" {
			owner, err := c.userID("session_owner", pr.SessionOwner)
			if err != nil {
				return err
			}
			meta.SessionOwnerID = uuid.NullUUID{UUID: owner, Valid: true}
		}
		if err := storage.ValidateResource(&meta); err != nil {
			return err
		}
		c.snap.resources[meta.Ref] = meta
		c.resources[id.String()] = meta.Ref
		if pr.Name != "" {
			c.resources[pr.Name] = meta.Ref
		}
	}
	return nil
}

func (c *compiler) compileACL(p *Policy) error {
	for i, pa := range p.ACL {
		ref, ok := c.resources[pa.Resource]
		if !ok {
			return fmt.Errorf("%w: acl entry %d targets unknown resource %q", storage.ErrInvalid, i, pa.Resource)
		}
		ace := authz.AccessControlEntry{
			ID:             NameID("ace", fmt.Sprintf("%d/%s", i, pa.Resource)),
			Resource:       ref,
			PermissionType: pa.Permission,
			Effect:         pa.Effect,
			Conditions:     pa.Conditions,
			ExpiresAt:      pa.ExpiresAt,
			IsActive:       optional(pa.Active),
		}
		if pa.User != "" {
			id, err := c.userID("acl", pa.User)
			if err != nil {
				return err
			}
			ace.UserID = uuid.NullUUID{UUID: id, Valid: true}
		}
		if pa.Role != "" {
			id, ok := c.roles[pa.Role]
			if !ok {
				return fmt.Errorf("%w: acl entry %d names unknown role %q", storage.ErrInvalid, i, pa.Role)
			}
			ace.RoleID = uuid.NullUUID{UUID: id, Valid: true}
		}
		if pa.Department != "" {
			ace.DepartmentID = departmentID(pa.Department)
		}
		if pa.Project != "" {
			id, ok := c.projects[pa.Project]
			if !ok {
				return fmt.Errorf("%w: acl entry %d names unknown project %q", storage.ErrInvalid, i, pa.Project)
			}
			ace.ProjectID = uuid.NullUUID{UUID: id, Valid: true}
		}
		if err := ace.Validate(); err != nil {
			return fmt.Errorf("acl entry %d: %w", i, err)
		}
		c.snap.putACE(ace)
	}
	return nil
}
