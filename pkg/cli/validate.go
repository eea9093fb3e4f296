package cli

import (
	"flag"
	"fmt"
	"io"

	"github.com/platinummonkey/memauthz/pkg/storage/memory"
)

func newValidateCommand(out io.Writer) *Command {
	cmd := &Command{
		Name:        "validate",
		Description: "Validate policy files without loading them",
		Flags:       flag.NewFlagSet("validate", flag.ContinueOnError),
		Out:         out,
	}
	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		return runValidate(cmd, cmd.Flags.Args())
	}
	return cmd
}

type validateOutput struct {
	Path        string `json:"path"`
	Valid       bool   `json:"valid"`
	Error       string `json:"error,omitempty"`
	Users       int    `json:"users"`
	Roles       int    `json:"roles"`
	Resources   int    `json:"resources"`
	ACEs        int    `json:"aces"`
	Assignments int    `json:"assignments"`
}

func runValidate(cmd *Command, paths []string) error {
	if len(paths) == 0 {
		return fmt.Errorf("at least one policy file is required")
	}

	results := make([]validateOutput, 0, len(paths))
	invalid := 0
	for _, path := range paths {
		result := validateOutput{Path: path}
		snap, err := memory.LoadPolicyFile(path)
		if err != nil {
			result.Error = err.Error()
			invalid++
		} else {
			result.Valid = true
			stats := snap.Stats()
			result.Users = stats.Users
			result.Roles = stats.Roles
			result.Resources = stats.Resources
			result.ACEs = stats.ACEs
			result.Assignments = stats.Assignments
		}
		results = append(results, result)
	}

	if err := writeJSON(cmd.Out, results); err != nil {
		return err
	}
	if invalid > 0 {
		return fmt.Errorf("%d of %d policy files invalid", invalid, len(results))
	}
	return nil
}
