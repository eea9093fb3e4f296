package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/memauthz/pkg/audit"
	"github.com/platinummonkey/memauthz/pkg/authz"
	"github.com/platinummonkey/memauthz/pkg/cache"
	"github.com/platinummonkey/memauthz/pkg/config"
	"github.com/platinummonkey/memauthz/pkg/observability"
	"github.com/platinummonkey/memauthz/pkg/service"
	"github.com/platinummonkey/memauthz/pkg/storage/memory"
)

// storeFlags override the environment's store and engine settings
type storeFlags struct {
	store       *string
	policy      *string
	sqlitePath  *string
	inheritance *string
}

func addStoreFlags(flags *flag.FlagSet) *storeFlags {
	return &storeFlags{
		store:       flags.String("store", "", "Store type (memory, postgres, sqlite); overrides MEMAUTHZ_STORE_TYPE"),
		policy:      flags.String("policy", "", "Policy file for the memory store; overrides MEMAUTHZ_POLICY_FILE"),
		sqlitePath:  flags.String("sqlite", "", "SQLite database path; overrides MEMAUTHZ_SQLITE_PATH"),
		inheritance: flags.String("inheritance", "", "Role inheritance direction (upward, downward)"),
	}
}

// load builds the configuration from the environment and the flags
func (f *storeFlags) load() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	if *f.store != "" {
		cfg.Storage.Type = *f.store
	}
	if *f.policy != "" {
		cfg.Storage.PolicyFile = *f.policy
	}
	if *f.sqlitePath != "" {
		cfg.Storage.SQLitePath = *f.sqlitePath
	}
	if *f.inheritance != "" {
		dir, err := authz.ParseInheritanceDirection(*f.inheritance)
		if err != nil {
			return nil, err
		}
		cfg.Engine.Inheritance = dir
	}
	// one-shot commands never share cached state
	cfg.Cache.Backend = cache.BackendNone
	cfg.Reload.RefreshSchedule = ""
	cfg.Reload.PurgeSchedule = ""
	return cfg, cfg.Validate()
}

// open builds a service for a one-shot command. Decision events are kept in
// the returned recorder.
func (f *storeFlags) open(ctx context.Context) (*service.Service, *audit.Recorder, error) {
	cfg, err := f.load()
	if err != nil {
		return nil, nil, err
	}
	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stderr)
	rec := audit.NewRecorder(0)
	svc, err := service.New(ctx, cfg, service.WithLogger(logger), service.WithAuditLogger(rec))
	if err != nil {
		return nil, nil, err
	}
	return svc, rec, nil
}

// resolveID accepts a UUID or a name declared in a policy file
func resolveID(kind, value string) (uuid.UUID, error) {
	if value == "" {
		return uuid.Nil, fmt.Errorf("%s is required", kind)
	}
	if id, err := uuid.Parse(value); err == nil {
		return id, nil
	}
	return memory.NameID(kind, value), nil
}

// resolveRoleID also accepts the built-in role names
func resolveRoleID(value string) (uuid.UUID, error) {
	for _, b := range authz.BuiltInRoles() {
		if b.Role.Name == value {
			return b.Role.ID, nil
		}
	}
	return resolveID("role", value)
}

var knownActions = []authz.Action{
	authz.ActionRead, authz.ActionWrite, authz.ActionUpdate,
	authz.ActionDelete, authz.ActionShare, authz.ActionAdmin,
}

func parseAction(s string) (authz.Action, error) {
	for _, a := range knownActions {
		if string(a) == s {
			return a, nil
		}
	}
	return "", fmt.Errorf("unknown action: %q", s)
}

var knownResourceTypes = []authz.ResourceType{
	authz.ResourceShortTermMemory, authz.ResourceMidTermMemory, authz.ResourceLongTermMemory,
	authz.ResourceProject, authz.ResourceDepartment, authz.ResourceRole,
}

func parseResourceType(s string) (authz.ResourceType, error) {
	for _, rt := range knownResourceTypes {
		if string(rt) == s {
			return rt, nil
		}
	}
	return "", fmt.Errorf("unknown resource type: %q", s)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Now().UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --at time: %w", err)
	}
	return t, nil
}

func writeJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
