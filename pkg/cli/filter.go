package cli

import (
	"context"
	"flag"
	"io"

	"github.com/platinummonkey/memauthz/pkg/authz"
)

func newFilterCommand(out io.Writer) *Command {
	cmd := &Command{
		Name:        "filter",
		Description: "Print the list-query filter for a user and resource type",
		Flags:       flag.NewFlagSet("filter", flag.ContinueOnError),
		Out:         out,
	}
	opts := &filterFlags{
		store:        addStoreFlags(cmd.Flags),
		user:         cmd.Flags.String("user", "", "User ID or policy user name"),
		action:       cmd.Flags.String("action", string(authz.ActionRead), "Action to filter for"),
		resourceType: cmd.Flags.String("type", string(authz.ResourceLongTermMemory), "Resource type"),
		at:           cmd.Flags.String("at", "", "Evaluation time (RFC3339), defaults to now"),
		list:         cmd.Flags.Bool("list", false, "Also list the stored resources the filter matches"),
	}
	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		return runFilter(cmd, opts)
	}
	return cmd
}

type filterFlags struct {
	store        *storeFlags
	user         *string
	action       *string
	resourceType *string
	at           *string
	list         *bool
}

type filterOutput struct {
	Filter  *authz.AccessFilter  `json:"filter"`
	Matches []authz.ResourceMeta `json:"matches,omitempty"`
}

func runFilter(cmd *Command, opts *filterFlags) error {
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
	now, err := parseTime(*opts.at)
	if err != nil {
		return err
	}

	ctx := context.Background()
	svc, _, err := opts.store.open(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	f, err := svc.Engine().AccessFilter(ctx, userID, rt, act, now)
	if err != nil {
		return err
	}
	result := filterOutput{Filter: f}

	if *opts.list {
		resources, err := svc.Store().ListResources(ctx, rt)
		if err != nil {
			return err
		}
		for i := range resources {
			if f.Matches(&resources[i]) {
				result.Matches = append(result.Matches, resources[i])
			}
		}
	}
	return writeJSON(cmd.Out, result)
}
