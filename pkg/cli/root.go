package cli

import (
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
)

// Command represents a CLI command
type Command struct {
	Name        string
	Description string
	Run         func(args []string) error
	Subcommands map[string]*Command
	Flags       *flag.FlagSet
	Out         io.Writer
}

// NewRootCommand creates the root command writing results to stdout
func NewRootCommand() *Command {
	return newRootCommand(os.Stdout)
}

func newRootCommand(out io.Writer) *Command {
	root := &Command{
		Name:        "memauthz",
		Description: "memauthz - memory store authorization engine",
		Subcommands: make(map[string]*Command),
		Flags:       flag.NewFlagSet("memauthz", flag.ExitOnError),
		Out:         out,
	}

	// Add subcommands
	root.Subcommands["check"] = newCheckCommand(out)
	root.Subcommands["expand"] = newExpandCommand(out)
	root.Subcommands["filter"] = newFilterCommand(out)
	root.Subcommands["validate"] = newValidateCommand(out)
	root.Subcommands["serve"] = newServeCommand()

	return root
}

// Execute runs the command with the process arguments
func (c *Command) Execute() error {
	return c.ExecuteArgs(os.Args[1:])
}

// ExecuteArgs runs the command with args
func (c *Command) ExecuteArgs(args []string) error {
	if len(args) == 0 {
		return c.usage()
	}

	// Check for help flag
	if args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		return c.usage()
	}

	// Check for subcommand
	if subcmd, ok := c.Subcommands[args[0]]; ok {
		return subcmd.Run(args[1:])
	}

	return fmt.Errorf("unknown command: %s", args[0])
}

// usage prints the command usage
func (c *Command) usage() error {
	fmt.Fprintf(c.Out, "Usage: %s <command> [args]\n\n", c.Name)
	fmt.Fprintf(c.Out, "Commands:\n")

	names := make([]string, 0, len(c.Subcommands))
	for name := range c.Subcommands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(c.Out, "  %-15s %s\n", name, c.Subcommands[name].Description)
	}
	fmt.Fprintf(c.Out, "\nConfiguration is read from MEMAUTHZ_* environment variables.\n")
	return nil
}
