package commands

import (
	"fmt"

	"github.com/n6x/watchdog/internal/config"
	"github.com/spf13/cobra"
)

func ID() *cobra.Command {
	return &cobra.Command{
		Use:   "id",
		Short: "Print the peer id this machine announces",
		Long:  "The id command prints the peer id, generating and saving one if none is configured yet.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromViper()
			if err != nil {
				return err
			}
			id, err := ensureID(cfg)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
}
