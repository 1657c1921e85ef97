package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/sugarme/gotch/ts"

	"github.com/sugarme/ddpm/ddpm"
	"github.com/sugarme/ddpm/imageio"
)

func PredictHandler(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	label, _ := cmd.Flags().GetInt64("label")
	if label < 0 || label >= int64(cfg.Model.NumScales) {
		return fmt.Errorf("label %d outside [0, %d)", label, cfg.Model.NumScales)
	}

	dev := device(cmd)
	vs, net, err := buildModel(cfg, dev)
	if err != nil {
		return err
	}

	if weights, _ := cmd.Flags().GetString("weights"); weights != "" {
		if err := vs.Load(weights); err != nil {
			return fmt.Errorf("load weights %s: %w", weights, err)
		}
		slog.Info("loaded weights", "path", weights)
	} else {
		slog.Warn("no weights given, predicting with an untrained model")
	}

	x, err := imageio.LoadBatch(cmd.Context(), args, int(cfg.Data.ImageSize), int(cfg.InChannels()))
	if err != nil {
		return err
	}
	x = x.MustTo(dev, true)
	if cfg.Data.Centered {
		c := ddpm.Center(x)
		x.MustDrop()
		x = c
	}
	defer x.MustDrop()

	vals := make([]int64, len(args))
	for i := range vals {
		vals[i] = label
	}
	labels := ts.MustOfSlice(vals).MustTo(dev, true)
	defer labels.MustDrop()

	var score *ts.Tensor
	ts.NoGrad(func() {
		score, err = net.Forward(x, labels, false)
	})
	if err != nil {
		return err
	}
	defer score.MustDrop()

	outDir, _ := cmd.Flags().GetString("out")
	written, err := imageio.SaveBatch(score, outDir, args, fmt.Sprintf("_score%d", label))
	if err != nil {
		return err
	}
	for _, p := range written {
		fmt.Fprintln(cmd.OutOrStdout(), p)
	}

	return nil
}
