package main

import (
	"fmt"
	"os"

	"github.com/n6x/watchdog/cmd/watchdog/commands"
	"github.com/n6x/watchdog/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is set at build time with -ldflags "-X main.version=vX.Y.Z".
var version = "v0.0.0"

// rootCmd is the top level `watchdog` command on which the other subcommands are attached to.
var rootCmd = &cobra.Command{
	Use:   "watchdog",
	Short: "Watchdog exchanges short messages with peers on the local network.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := viper.BindPFlag("verbose", cmd.Flags().Lookup("verbose")); err != nil {
			return fmt.Errorf("binding verbose flag: %w", err)
		}
		return nil
	},
}

// Entry point of the application.
func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log debug information to `.watchdog.log` in the current directory")
	rootCmd.AddCommand(commands.Run(version))
	rootCmd.AddCommand(commands.Config())
	rootCmd.AddCommand(commands.Version(version))
	rootCmd.AddCommand(commands.ID())
}

func initConfig() {
	if err := config.Init(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
