// Package monitor runs the monitoring event aggregator.
package monitor

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/claimflow/claimflow/internal/conf"
	"github.com/claimflow/claimflow/internal/workflow"
)

// Command creates the monitor subcommand.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Aggregate monitoring events into metric records",
		Long:  "Consume pipeline monitoring events from the topic exchange and persist per-module metric records.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return workflow.RunMonitor(cmd.Context(), settings)
		},
	}

	if err := setupFlags(cmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

func setupFlags(cmd *cobra.Command, settings *conf.Settings) error {
	cmd.Flags().StringVar(&settings.Monitoring.Queue, "queue", viper.GetString("monitoring.queue"), "Aggregator queue name")
	cmd.Flags().StringSliceVar(&settings.Monitoring.BindingKeys, "bind", viper.GetStringSlice("monitoring.bindingkeys"), "Binding key patterns")

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("error binding flags: %v", err)
	}
	return nil
}
