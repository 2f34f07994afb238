package main

import (
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"runtime"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/born-ml/born-vae/internal/config"
	"github.com/born-ml/born-vae/vae"
)

func appendEnvDocs(cmd *cobra.Command, keys []string) {
	if len(keys) == 0 {
		return
	}
	docs := config.EnvVars()
	envUsage := `
Environment Variables:
`
	for _, k := range keys {
		envUsage += fmt.Sprintf("      %-24s   %s\n", k, docs[k])
	}
	cmd.SetUsageTemplate(cmd.UsageTemplate() + envUsage)
}

// NewCLI builds the root command with all subcommands.
func NewCLI() *cobra.Command {
	cobra.EnableCommandSorting = false

	rootCmd := &cobra.Command{
		Use:           "vae",
		Short:         "Train a variational autoencoder on images and generate new ones",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			initLogging(cmd.ErrOrStderr())
		},
		Run: func(cmd *cobra.Command, args []string) {
			if version, _ := cmd.Flags().GetBool("version"); version {
				versionHandler(cmd, args)
				return
			}
			cmd.Print(cmd.UsageString())
		},
	}
	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
	rootCmd.PersistentFlags().String("config", "", "YAML configuration file")

	trainCmd := newTrainCmd()
	generateCmd := newGenerateCmd()
	summaryCmd := newSummaryCmd()

	allEnv := slices.Sorted(maps.Keys(config.EnvVars()))
	for _, cmd := range []*cobra.Command{trainCmd, generateCmd, summaryCmd} {
		appendEnvDocs(cmd, allEnv)
	}

	rootCmd.AddCommand(
		trainCmd,
		generateCmd,
		summaryCmd,
		newHistoryCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

// initLogging installs a text handler for terminals and a JSON handler
// otherwise. VAE_DEBUG lowers the level to debug.
func initLogging(w io.Writer) {
	level := slog.LevelInfo
	if config.Debug() {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level, AddSource: level == slog.LevelDebug}

	var handler slog.Handler
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// modelFlags registers the architecture flags shared by train and summary.
func modelFlags(cmd *cobra.Command) {
	cmd.Flags().Int("image-size", 0, "Square image size in pixels")
	cmd.Flags().Int("channels", 0, "Image channels (1 or 3)")
	cmd.Flags().Int("latent-dim", 0, "Latent space dimension")
	cmd.Flags().Int("base-filters", 0, "Filters of the first encoder level")
	cmd.Flags().String("channel-multipliers", "", "Comma-separated filter multipliers per level")
	cmd.Flags().Int("res-blocks", 0, "Residual blocks per level")
	cmd.Flags().Int("norm-groups", 0, "Group normalization groups")
}

// resolveConfig loads defaults, the --config file and the environment, then
// applies every flag the user set explicitly.
func resolveConfig(cmd *cobra.Command) (vae.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := vae.LoadConfig(path)
	if err != nil {
		return cfg, err
	}
	if err := applyFlags(cmd, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyFlags(cmd *cobra.Command, cfg *vae.Config) error {
	flags := cmd.Flags()
	var err error
	setInt := func(name string, dst *int) {
		if err == nil && flags.Changed(name) {
			*dst, err = flags.GetInt(name)
		}
	}
	setFloat := func(name string, dst *float64) {
		if err == nil && flags.Changed(name) {
			*dst, err = flags.GetFloat64(name)
		}
	}

	setInt("image-size", &cfg.ImageSize)
	setInt("channels", &cfg.Channels)
	setInt("latent-dim", &cfg.LatentDim)
	setInt("base-filters", &cfg.BaseFilters)
	setInt("res-blocks", &cfg.ResBlocks)
	setInt("norm-groups", &cfg.NormGroups)
	setInt("batch-size", &cfg.BatchSize)
	setInt("epochs", &cfg.Epochs)
	setInt("checkpoint-interval", &cfg.CheckpointInterval)
	setInt("samples", &cfg.SampleCount)
	setInt("log-every", &cfg.LogEvery)
	setInt("workers", &cfg.Workers)
	setFloat("lr", &cfg.LearningRate)
	setFloat("beta", &cfg.Beta)
	setFloat("temperature", &cfg.Temperature)
	if err != nil {
		return err
	}

	if flags.Changed("seed") {
		if cfg.Seed, err = flags.GetUint64("seed"); err != nil {
			return err
		}
	}
	if flags.Changed("reconstruction") {
		s, _ := flags.GetString("reconstruction")
		cfg.Reconstruction = strings.ToLower(s)
	}
	if flags.Changed("channel-multipliers") {
		s, _ := flags.GetString("channel-multipliers")
		mults, err := parseInts(s)
		if err != nil {
			return fmt.Errorf("--channel-multipliers: %w", err)
		}
		cfg.ChannelMultipliers = mults
	}
	return nil
}

func parseInts(s string) ([]int, error) {
	var out []int
	for field := range strings.SplitSeq(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(field))
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func versionHandler(cmd *cobra.Command, _ []string) {
	cmd.Printf("vae version %s (%s, %s/%s)\n", vae.Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run:   versionHandler,
	}
}
