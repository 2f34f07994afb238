package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/born-ml/born-vae/vae"
)

// TrainHandler trains on <image_dir> and writes checkpoints to <output_dir>.
func TrainHandler(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	resume, _ := cmd.Flags().GetBool("resume")
	noHistory, _ := cmd.Flags().GetBool("no-history")

	slog.Debug("resolved config", "config", cfg)
	res, err := vae.Train(cmd.Context(), cfg, vae.TrainOptions{
		DataDir:   args[0],
		OutputDir: args[1],
		Resume:    resume,
		NoHistory: noHistory,
	})
	if err != nil {
		return err
	}

	cmd.Printf("run %s: %d steps, final loss %.4f\n", res.RunID, res.Steps, res.FinalLoss)
	if n := len(res.Checkpoints); n > 0 {
		cmd.Printf("latest checkpoint: %s\n", res.Checkpoints[n-1])
	}
	return nil
}

func newTrainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "train <image_dir> <output_dir>",
		Short: "Train the model on a directory of images",
		Args:  cobra.ExactArgs(2),
		RunE:  TrainHandler,
	}

	modelFlags(cmd)
	cmd.Flags().Int("batch-size", 0, "Images per training step")
	cmd.Flags().Float64("lr", 0, "Adam learning rate")
	cmd.Flags().Float64("beta", 0, "Weight of the KL term")
	cmd.Flags().String("reconstruction", "", "Reconstruction loss: mse or bce")
	cmd.Flags().Int("epochs", 0, "Number of epochs")
	cmd.Flags().Int("checkpoint-interval", 0, "Steps between checkpoints (0 = end of every epoch)")
	cmd.Flags().Uint64("seed", 0, "Seed for initialization and shuffling")
	cmd.Flags().Int("log-every", 0, "Steps between progress log lines")
	cmd.Flags().Int("workers", 0, "Image decode goroutines")
	cmd.Flags().Bool("resume", false, "Continue from the latest checkpoint in <output_dir>")
	cmd.Flags().Bool("no-history", false, "Do not record the run in <output_dir>/runs.db")
	return cmd
}
