package main

import (
	"github.com/spf13/cobra"

	"gitea.xscloud.ru/xscloud/staffsync/pkg/infrastructure/config"
)

// NewRootCommand builds the staffsync command tree. Every command reads its
// configuration from the environment.
func NewRootCommand() *cobra.Command {
	var cfg *config.Config

	cmd := &cobra.Command{
		Use:   "staffsync",
		Short: "Keeps employee records in sync with person updates",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg = config.Load()
		},
		SilenceUsage: true,
	}

	load := func() *config.Config { return cfg }

	cmd.AddCommand(newPublishCommand(load))
	cmd.AddCommand(newConsumeCommand(load))
	cmd.AddCommand(newMigrateCommand(load))
	cmd.AddCommand(newPersonCommand(load))
	cmd.AddCommand(newOutboxCommand(load))
	cmd.AddCommand(newDeadLetterCommand(load))

	return cmd
}
