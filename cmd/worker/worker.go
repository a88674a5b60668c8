// Package worker runs the claim pipeline RPC worker.
package worker

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/claimflow/claimflow/internal/conf"
	"github.com/claimflow/claimflow/internal/workflow"
)

// Command creates the worker subcommand.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Serve the claim pipeline request queue",
		Long:  "Consume claim detection and annotation requests, persist results and reply to callers.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return workflow.RunClaimWorker(cmd.Context(), settings)
		},
	}

	if err := setupFlags(cmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

func setupFlags(cmd *cobra.Command, settings *conf.Settings) error {
	cmd.Flags().StringVar(&settings.RPC.ClaimQueue, "queue", viper.GetString("rpc.claimqueue"), "Request queue name")
	cmd.Flags().IntVar(&settings.Broker.Prefetch, "prefetch", viper.GetInt("broker.prefetch"), "Unacknowledged message limit")
	cmd.Flags().DurationVar(&settings.RPC.Timeout, "timeout", viper.GetDuration("rpc.timeout"), "Model RPC reply timeout")

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("error binding flags: %v", err)
	}
	return nil
}
