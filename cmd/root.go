// Package cmd assembles the claimflow command tree.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/claimflow/claimflow/cmd/monitor"
	"github.com/claimflow/claimflow/cmd/predict"
	"github.com/claimflow/claimflow/cmd/worker"
	"github.com/claimflow/claimflow/internal/conf"
)

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "claimflow",
		Short: "Claim processing pipeline over an AMQP broker",
	}

	setupFlags(rootCmd, settings)

	subcommands := []*cobra.Command{
		worker.Command(settings),
		predict.Command(settings),
		monitor.Command(settings),
	}
	rootCmd.AddCommand(subcommands...)

	return rootCmd
}

// setupFlags configures the global flags shared by every subcommand.
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")
	rootCmd.PersistentFlags().StringVar(&settings.Broker.URL, "broker", viper.GetString("broker.url"), "AMQP broker URL")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		fmt.Printf("error binding flags: %v\n", err)
	}
}
