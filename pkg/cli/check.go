package cli

import (
	"context"
	"errors"
	"flag"
	"io"

	"github.com/platinummonkey/memauthz/pkg/audit"
	"github.com/platinummonkey/memauthz/pkg/authz"
)

// ErrDenied is returned by check --fail-on-deny when access is denied
var ErrDenied = errors.New("access denied")

func newCheckCommand(out io.Writer) *Command {
	cmd := &Command{
		Name:        "check",
		Description: "Decide one access request and print the verdict with its trace",
		Flags:       flag.NewFlagSet("check", flag.ContinueOnError),
		Out:         out,
	}
	opts := &checkFlags{
		store:        addStoreFlags(cmd.Flags),
		user:         cmd.Flags.String("user", "", "User ID or policy user name"),
		action:       cmd.Flags.String("action", string(authz.ActionRead), "Action to check"),
		resourceType: cmd.Flags.String("type", string(authz.ResourceLongTermMemory), "Resource type"),
		resource:     cmd.Flags.String("resource", "", "Resource ID or policy resource name"),
		at:           cmd.Flags.String("at", "", "Evaluation time (RFC3339), defaults to now"),
		events:       cmd.Flags.Bool("events", false, "Include emitted audit events"),
		failOnDeny:   cmd.Flags.Bool("fail-on-deny", false, "Exit with an error when access is denied"),
	}
	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		return runCheck(cmd, opts)
	}
	return cmd
}

type checkFlags struct {
	store        *storeFlags
	user         *string
	action       *string
	resourceType *string
	resource     *string
	at           *string
	events       *bool
	failOnDeny   *bool
}

type checkOutput struct {
	Verdict *authz.Verdict      `json:"verdict"`
	Error   string              `json:"error,omitempty"`
	Events  []*audit.AuditEvent `json:"events,omitempty"`
}

func runCheck(cmd *Command, opts *checkFlags) error {
	userID, err := resolveID("user", *opts.user)
	if err != nil {
		return err
	}
	act, err := parseAction(*opts.action)
	if err != nil {
		return err
	}
	rt, err := parseResourceType(*opts.resourceType)
	if err != nil {
		return err
	}
	resID, err := resolveID("resource", *opts.resource)
	if err != nil {
		return err
	}
	now, err := parseTime(*opts.at)
	if err != nil {
		return err
	}

	ctx := context.Background()
	svc, rec, err := opts.store.open(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	verdict, checkErr := svc.Engine().CheckAccess(ctx, userID, act, authz.ResourceRef{ID: resID, Type: rt}, now)
	result := checkOutput{Verdict: verdict}
	if checkErr != nil {
		result.Error = checkErr.Error()
	}
	if *opts.events {
		result.Events = rec.Events()
	}
	if err := writeJSON(cmd.Out, result); err != nil {
		return err
	}

	if checkErr != nil {
		return checkErr
	}
	if *opts.failOnDeny && !verdict.Allowed {
		return ErrDenied
	}
	return nil
}
