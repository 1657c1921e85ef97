package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/sugarme/gotch"
	"github.com/sugarme/gotch/nn"

	"github.com/sugarme/ddpm/config"
	"github.com/sugarme/ddpm/ddpm"
)

// NewCLI builds the ddpm command tree.
func NewCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ddpm",
		Short: "Build and evaluate DDPM score U-Nets",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Disable usage printing on errors
			cmd.SilenceUsage = true

			level := slog.LevelInfo
			if v, _ := cmd.Flags().GetBool("verbose"); v {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "YAML model config (defaults apply when empty)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")

	cobra.EnableCommandSorting = false

	summaryCmd := &cobra.Command{
		Use:   "summary",
		Short: "Print the module list of a configuration",
		Args:  cobra.NoArgs,
		RunE:  SummaryHandler,
	}
	summaryCmd.Flags().String("csv", "", "Also write the module list as CSV to this file")
	summaryCmd.Flags().Bool("params", false, "Build the model and count its parameters")

	sigmasCmd := &cobra.Command{
		Use:   "sigmas",
		Short: "Print the noise schedule",
		Args:  cobra.NoArgs,
		RunE:  SigmasHandler,
	}
	sigmasCmd.Flags().Int("step", 100, "Print every n-th noise level")
	sigmasCmd.Flags().String("plot", "", "Plot the schedule to this PNG file")

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Run forward passes on random input",
		Args:  cobra.NoArgs,
		RunE:  CheckHandler,
	}
	checkCmd.Flags().Int64P("batch", "b", 4, "Batch size")
	checkCmd.Flags().IntP("iters", "n", 10, "Number of forward passes")
	checkCmd.Flags().Bool("cuda", false, "Run on CUDA when available")

	predictCmd := &cobra.Command{
		Use:   "predict IMAGE [IMAGE...]",
		Short: "Predict noise maps for image files",
		Args:  cobra.MinimumNArgs(1),
		RunE:  PredictHandler,
	}
	predictCmd.Flags().Int64P("label", "l", 0, "Noise level index shared by every image")
	predictCmd.Flags().StringP("weights", "w", "", "Checkpoint to load into the model")
	predictCmd.Flags().StringP("out", "o", ".", "Output directory")
	predictCmd.Flags().Bool("cuda", false, "Run on CUDA when available")

	rootCmd.AddCommand(
		summaryCmd,
		sigmasCmd,
		checkCmd,
		predictCmd,
	)

	return rootCmd
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return config.Config{}, err
	}
	if path == "" {
		return config.Default(), nil
	}

	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	slog.Debug("loaded config", "path", path)

	return cfg, nil
}

func device(cmd *cobra.Command) gotch.Device {
	if cuda, _ := cmd.Flags().GetBool("cuda"); cuda {
		return gotch.CudaIfAvailable()
	}
	return gotch.CPU
}

// buildModel creates a fresh VarStore on dev and builds the model in it.
func buildModel(cfg config.Config, dev gotch.Device) (*nn.VarStore, *ddpm.Model, error) {
	vs := nn.NewVarStore(dev)
	m, err := ddpm.New(vs.Root(), cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("build model: %w", err)
	}
	return vs, m, nil
}

// countParams sums the element counts of every variable in vs.
func countParams(vs *nn.VarStore) int64 {
	var n int64
	for _, v := range vs.Variables() {
		numel := int64(1)
		for _, d := range v.MustSize() {
			numel *= d
		}
		n += numel
	}
	return n
}
