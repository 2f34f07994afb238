package main

import (
	"github.com/spf13/cobra"

	"github.com/born-ml/born-vae/vae"
)

// GenerateHandler writes sample images decoded from the prior.
func GenerateHandler(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	checkpoint, _ := cmd.Flags().GetString("checkpoint")

	paths, err := vae.Generate(cmd.Context(), cfg, vae.GenerateOptions{
		OutputDir:  args[0],
		Checkpoint: checkpoint,
	})
	if err != nil {
		return err
	}
	cmd.Printf("wrote %d samples to %s\n", len(paths), args[0])
	return nil
}

func newGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate <output_dir>",
		Short: "Generate images from a trained model",
		Args:  cobra.ExactArgs(1),
		RunE:  GenerateHandler,
	}

	cmd.Flags().Int("samples", 0, "Number of images to write")
	cmd.Flags().String("checkpoint", "", "Model file (default: latest checkpoint in <output_dir>)")
	cmd.Flags().Uint64("seed", 0, "Seed for latent sampling")
	cmd.Flags().Float64("temperature", 0, "Scale of the prior's standard deviation")
	return cmd
}
