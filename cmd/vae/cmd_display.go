package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/born-ml/born-vae/internal/runlog"
	"github.com/born-ml/born-vae/vae"
)

func newTable(cmd *cobra.Command, header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.SetHeader(header)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoFormatHeaders(false)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	return table
}

// SummaryHandler prints the parameter table of the configured network, or of
// the model stored in --checkpoint.
func SummaryHandler(cmd *cobra.Command, _ []string) error {
	var (
		cfg    vae.Config
		layers []vae.LayerInfo
		err    error
	)
	if path, _ := cmd.Flags().GetString("checkpoint"); path != "" {
		cfg, layers, err = vae.SummaryOf(path)
	} else {
		if cfg, err = resolveConfig(cmd); err != nil {
			return err
		}
		layers, err = vae.Summary(cfg)
	}
	if err != nil {
		return err
	}

	cmd.Printf("input %dx%dx%d, latent %d, filters %d x %v, %d res blocks per level\n\n",
		cfg.Channels, cfg.ImageSize, cfg.ImageSize, cfg.LatentDim,
		cfg.BaseFilters, cfg.ChannelMultipliers, cfg.ResBlocks)

	var total int
	data := make([][]string, 0, len(layers)+1)
	for _, l := range layers {
		total += l.Parameters
		data = append(data, []string{l.Name, shapeString(l.Shape), strconv.Itoa(l.Parameters)})
	}
	data = append(data, []string{"TOTAL", "", strconv.Itoa(total)})

	table := newTable(cmd, []string{"PARAMETER", "SHAPE", "COUNT"})
	table.AppendBulk(data)
	table.Render()
	return nil
}

func newSummaryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Show the layers and parameter counts of the network",
		Args:  cobra.NoArgs,
		RunE:  SummaryHandler,
	}
	modelFlags(cmd)
	cmd.Flags().String("checkpoint", "", "Describe the model stored in this file instead")
	return cmd
}

// HistoryHandler lists the runs recorded in <output_dir>, or the recent
// steps of one run with --run.
func HistoryHandler(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(filepath.Join(args[0], runlog.FileName)); errors.Is(err, fs.ErrNotExist) {
		cmd.Println("no runs recorded")
		return nil
	}

	store, err := runlog.OpenDir(args[0])
	if err != nil {
		return err
	}
	defer store.Close()

	limit, _ := cmd.Flags().GetInt("limit")
	if runID, _ := cmd.Flags().GetString("run"); runID != "" {
		return showRun(cmd, store, runID, limit)
	}

	runs, err := store.Runs(cmd.Context(), limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		cmd.Println("no runs recorded")
		return nil
	}

	data := make([][]string, 0, len(runs))
	for _, r := range runs {
		finished := "-"
		if r.FinishedAt.Valid {
			finished = r.FinishedAt.Time.Local().Format(time.DateTime)
		}
		resumed := ""
		if r.Resumed {
			resumed = "yes"
		}
		data = append(data, []string{
			shortID(r.ID),
			r.State,
			strconv.FormatInt(r.LastStep, 10),
			resumed,
			r.StartedAt.Local().Format(time.DateTime),
			finished,
			r.DataDir,
		})
	}

	table := newTable(cmd, []string{"RUN", "STATE", "STEPS", "RESUMED", "STARTED", "FINISHED", "DATA"})
	table.AppendBulk(data)
	table.Render()
	return nil
}

func showRun(cmd *cobra.Command, store *runlog.Store, runID string, limit int) error {
	ctx := cmd.Context()
	run, err := store.Run(ctx, runID)
	if err != nil {
		return err
	}
	cmd.Printf("run %s (%s)\n", run.ID, run.State)
	if run.Error != "" {
		cmd.Printf("error: %s\n", run.Error)
	}

	epochs, err := store.Epochs(ctx, run.ID)
	if err != nil {
		return err
	}
	if len(epochs) > 0 {
		cmd.Println()
		table := newTable(cmd, []string{"EPOCH", "STEPS", "MEAN LOSS", "STD", "MIN", "MAX"})
		for _, e := range epochs {
			table.Append([]string{
				strconv.Itoa(e.Epoch), strconv.Itoa(e.Steps),
				formatLoss(e.MeanLoss), formatLoss(e.StdLoss), formatLoss(e.MinLoss), formatLoss(e.MaxLoss),
			})
		}
		table.Render()
	}

	steps, err := store.Steps(ctx, run.ID, limit)
	if err != nil {
		return err
	}
	if len(steps) > 0 {
		cmd.Println()
		table := newTable(cmd, []string{"EPOCH", "STEP", "LOSS", "RECON", "KL", "TIME"})
		for _, s := range steps {
			table.Append([]string{
				strconv.Itoa(s.Epoch), strconv.FormatInt(s.Step, 10),
				formatLoss(s.Loss), formatLoss(s.Reconstruction), formatLoss(s.KL),
				s.Duration.Round(time.Millisecond).String(),
			})
		}
		table.Render()
	}

	ckpts, err := store.Checkpoints(ctx, run.ID)
	if err != nil {
		return err
	}
	if len(ckpts) > 0 {
		cmd.Println()
		table := newTable(cmd, []string{"STEP", "CHECKPOINT"})
		for _, c := range ckpts {
			table.Append([]string{strconv.FormatInt(c.Step, 10), c.Path})
		}
		table.Render()
	}
	return nil
}

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <output_dir>",
		Short: "List recorded training runs",
		Args:  cobra.ExactArgs(1),
		RunE:  HistoryHandler,
	}
	cmd.Flags().Int("limit", 20, "Maximum number of runs or steps to show")
	cmd.Flags().String("run", "", "Show epochs, recent steps and checkpoints of one run (ID or prefix)")
	return cmd
}

func shapeString(shape []int) string {
	parts := make([]string, len(shape))
	for i, d := range shape {
		parts[i] = strconv.Itoa(d)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatLoss(v float64) string {
	return fmt.Sprintf("%.4f", v)
}
