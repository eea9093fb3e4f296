package cli

import (
	"context"
	"flag"
	"io"

	"github.com/google/uuid"
)

func newExpandCommand(out io.Writer) *Command {
	cmd := &Command{
		Name:        "expand",
		Description: "Print the inheritance closure of a role",
		Flags:       flag.NewFlagSet("expand", flag.ContinueOnError),
		Out:         out,
	}
	sf := addStoreFlags(cmd.Flags)
	role := cmd.Flags.String("role", "", "Role ID, built-in role name or policy role name")
	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		return runExpand(cmd, sf, *role)
	}
	return cmd
}

type expandedRole struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	Level    int       `json:"level"`
	IsActive bool      `json:"is_active"`
}

type expandOutput struct {
	Direction string         `json:"direction"`
	Roles     []expandedRole `json:"roles"`
}

func runExpand(cmd *Command, sf *storeFlags, role string) error {
	roleID, err := resolveRoleID(role)
	if err != nil {
		return err
	}

	ctx := context.Background()
	svc, _, err := sf.open(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	ids, err := svc.Engine().ExpandRole(ctx, roleID)
	if err != nil {
		return err
	}

	result := expandOutput{Direction: string(svc.Engine().Direction())}
	for _, id := range ids {
		r, err := svc.Store().GetRole(ctx, id)
		if err != nil {
			return err
		}
		result.Roles = append(result.Roles, expandedRole{
			ID:       r.ID,
			Name:     r.Name,
			Level:    r.HierarchyLevel,
			IsActive: r.IsActive,
		})
	}
	return writeJSON(cmd.Out, result)
}
