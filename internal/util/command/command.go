package command

import (
	"github.com/spf13/cobra"
)

// NewSubcommandGroup returns a bare command that only dispatches to its subcommands.
func NewSubcommandGroup(name string, subcommands ...*cobra.Command) *cobra.Command {
	cmd := &cobra.Command{
		Use: name,
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
		},
	}

	cmd.AddCommand(subcommands...)

	return cmd
}
