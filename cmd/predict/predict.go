// Package predict runs the model inference RPC worker.
package predict

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/claimflow/claimflow/internal/conf"
	"github.com/claimflow/claimflow/internal/workflow"
)

// Command creates the predict subcommand.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Serve the claim prediction queue",
		Long:  "Classify claim batches arriving on the model RPC queue and reply with labels in input order.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return workflow.RunPredictionWorker(cmd.Context(), settings)
		},
	}

	if err := setupFlags(cmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

func setupFlags(cmd *cobra.Command, settings *conf.Settings) error {
	cmd.Flags().StringVar(&settings.RPC.PredictionQueue, "queue", viper.GetString("rpc.predictionqueue"), "Model request queue name")
	cmd.Flags().StringVar(&settings.Prediction.MetadataPath, "metadata", viper.GetString("prediction.metadatapath"), "Path to the model metadata descriptor")
	cmd.Flags().IntVar(&settings.Broker.Prefetch, "prefetch", viper.GetInt("broker.prefetch"), "Unacknowledged message limit")

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("error binding flags: %v", err)
	}
	return nil
}
